// Package rpc serves the gateway over newline-delimited JSON on a byte
// stream, normally stdin/stdout. Requests are dispatched concurrently;
// responses are serialized through one writer lock so concurrent results
// never interleave mid-line.
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/kwarren/mailgate/internal/apperr"
	"github.com/kwarren/mailgate/internal/gateway"
	"github.com/kwarren/mailgate/internal/mutate"
	"github.com/kwarren/mailgate/internal/search"
)

// maxLineBytes bounds one request or response line. Raw message reads are
// capped at 1 MB before encoding, so this leaves generous headroom.
const maxLineBytes = 8 * 1024 * 1024

// Backend is the operation surface the server dispatches onto.
type Backend interface {
	ListAccounts(ctx context.Context, p gateway.ListAccountsParams) (*gateway.AccountListing, error)
	VerifyAccount(ctx context.Context, p gateway.AccountParams) (*gateway.VerifyResult, error)
	ListMailboxes(ctx context.Context, p gateway.AccountParams) (*gateway.MailboxList, error)
	SearchMessages(ctx context.Context, p gateway.SearchParams) (*search.Result, error)
	GetMessage(ctx context.Context, p gateway.GetMessageParams) (*gateway.MessageDetail, error)
	GetMessageRaw(ctx context.Context, p gateway.GetRawParams) (*gateway.RawMessage, error)
	UpdateFlags(ctx context.Context, p gateway.UpdateFlagsParams) (*mutate.FlagsResult, error)
	CopyMessage(ctx context.Context, p gateway.CopyParams) (*mutate.CopyResult, error)
	MoveMessage(ctx context.Context, p gateway.MoveParams) (*mutate.MoveResult, error)
	DeleteMessage(ctx context.Context, p gateway.DeleteParams) (*mutate.DeleteResult, error)
}

// Request is one line on the input stream. ID is opaque and echoed back.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one line on the output stream; exactly one of Result and
// Error is set.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the wire form of a failed request.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Server dispatches requests onto a backend.
type Server struct {
	backend Backend
	logger  log.Logger

	writeMu sync.Mutex
}

func NewServer(backend Backend, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{backend: backend, logger: logger}
}

// Serve reads requests until EOF. Each request runs in its own goroutine;
// Serve returns after every in-flight request has been answered. A line
// over maxLineBytes is answered with an error and the stream keeps going,
// so one oversized request cannot take down every other caller.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReaderSize(r, 64*1024)

	var wg sync.WaitGroup
	for {
		line, tooLong, err := readLine(br)
		if tooLong {
			s.write(w, errorResponse(nil, apperr.Newf(apperr.KindInvalidInput,
				"request line exceeds %d bytes", maxLineBytes)))
		} else if len(line) > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.write(w, s.handle(ctx, line))
			}()
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return nil
}

// readLine reads one newline-terminated line, trimmed of its terminator.
// Lines longer than maxLineBytes are consumed to their newline and reported
// as tooLong without being buffered in full.
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > maxLineBytes {
				tooLong = true
				line = nil
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return bytes.TrimRight(line, "\r\n"), tooLong, err
		}
		return bytes.TrimRight(line, "\r\n"), tooLong, nil
	}
}

func (s *Server) handle(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, apperr.New(apperr.KindInvalidInput, "request is not valid JSON"))
	}
	if req.Op == "" {
		return errorResponse(req.ID, apperr.New(apperr.KindInvalidInput, "op is required"))
	}

	result, err := s.dispatch(ctx, req.Op, req.Params)
	if err != nil {
		level.Debug(s.logger).Log("msg", "request failed", "op", req.Op, "kind", apperr.KindOf(err))
		return errorResponse(req.ID, err)
	}
	return Response{ID: req.ID, Result: result}
}

func (s *Server) dispatch(ctx context.Context, op string, raw json.RawMessage) (any, error) {
	switch op {
	case "list_accounts":
		return call(ctx, raw, s.backend.ListAccounts)
	case "verify_account":
		return call(ctx, raw, s.backend.VerifyAccount)
	case "list_mailboxes":
		return call(ctx, raw, s.backend.ListMailboxes)
	case "search_messages":
		return call(ctx, raw, s.backend.SearchMessages)
	case "get_message":
		return call(ctx, raw, s.backend.GetMessage)
	case "get_message_raw":
		return call(ctx, raw, s.backend.GetMessageRaw)
	case "update_flags":
		return call(ctx, raw, s.backend.UpdateFlags)
	case "copy_message":
		return call(ctx, raw, s.backend.CopyMessage)
	case "move_message":
		return call(ctx, raw, s.backend.MoveMessage)
	case "delete_message":
		return call(ctx, raw, s.backend.DeleteMessage)
	default:
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown op %q", op)
	}
}

// call decodes params and invokes one backend method.
func call[P any, R any](ctx context.Context, raw json.RawMessage, fn func(context.Context, P) (R, error)) (any, error) {
	var params P
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidInput, err, "params do not match the op's schema")
		}
	}
	res, err := fn(ctx, params)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Server) write(w io.Writer, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		level.Error(s.logger).Log("msg", "response marshal failed", "err", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = w.Write(append(payload, '\n'))
}

func errorResponse(id json.RawMessage, err error) Response {
	return Response{ID: id, Error: &Error{
		Code:      string(apperr.KindOf(err)),
		Message:   apperr.Message(err),
		Retryable: apperr.Retryable(err),
	}}
}
