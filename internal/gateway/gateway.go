// Package gateway is the dispatch layer: it validates every request
// before the network is touched, opens one session per operation, runs
// the read or mutation engines, and tears the session down afterwards.
// Mutations sit behind a single server-wide switch and are rejected here
// when that switch is off.
package gateway

import (
	"context"
	"encoding/base64"
	"sort"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/kwarren/mailgate/internal/apperr"
	"github.com/kwarren/mailgate/internal/config"
	"github.com/kwarren/mailgate/internal/content"
	"github.com/kwarren/mailgate/internal/cursor"
	"github.com/kwarren/mailgate/internal/directory"
	"github.com/kwarren/mailgate/internal/metrics"
	"github.com/kwarren/mailgate/internal/msgid"
	"github.com/kwarren/mailgate/internal/mutate"
	"github.com/kwarren/mailgate/internal/search"
	"github.com/kwarren/mailgate/internal/session"
)

// Conn is everything an operation needs from a dialed session.
type Conn interface {
	search.Conn
	mutate.Conn
	ListMailboxes() ([]session.MailboxInfo, error)
	Noop() error
	Append(mailbox string, raw []byte, flags []string) (uint32, uint32, error)
	Close() error
}

// DialFunc opens an authenticated session for one account.
type DialFunc func(ctx context.Context, acct config.Account) (Conn, error)

// Gateway exposes the operation surface. One instance serves all accounts.
type Gateway struct {
	cfg     *config.Config
	dir     *directory.Directory
	cursors *cursor.Store
	engine  *search.Engine
	orch    *mutate.Orchestrator
	logger  log.Logger
	metrics *metrics.Set
	dial    DialFunc
	now     func() time.Time
}

// New builds a gateway over the configured accounts.
func New(cfg *config.Config, logger log.Logger, met *metrics.Set) *Gateway {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if met == nil {
		met = metrics.NewDiscard()
	}
	cursors := cursor.NewStore(cfg.CursorTTL, cfg.CursorMax)
	g := &Gateway{
		cfg:     cfg,
		dir:     directory.New(cfg),
		cursors: cursors,
		engine:  search.NewEngine(cursors, search.DefaultMaxResults, logger),
		orch:    mutate.NewOrchestrator(logger),
		logger:  logger,
		metrics: met,
		now:     time.Now,
	}
	g.dial = func(ctx context.Context, acct config.Account) (Conn, error) {
		s, err := session.Dial(ctx, acct, session.Options{
			ConnectTimeout:  cfg.ConnectTimeout,
			GreetingTimeout: cfg.GreetingTimeout,
			SocketTimeout:   cfg.SocketTimeout,
			Logger:          logger,
		})
		if err != nil {
			met.Sessions.With("account", acct.ID, "result", "error").Add(1)
			return nil, err
		}
		met.Sessions.With("account", acct.ID, "result", "ok").Add(1)
		return s, nil
	}
	return g
}

func (g *Gateway) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = string(apperr.KindOf(err))
	}
	g.metrics.Operations.With("op", op, "status", status).Add(1)
	g.metrics.Duration.With("op", op).Observe(time.Since(start).Seconds())
	if err != nil {
		level.Debug(g.logger).Log("msg", "operation failed", "op", op, "kind", status)
	}
}

func (g *Gateway) connect(ctx context.Context, accountID string) (Conn, error) {
	acct, err := g.dir.Lookup(accountID)
	if err != nil {
		return nil, err
	}
	return g.dial(ctx, acct)
}

func (g *Gateway) requireWrites() error {
	if !g.cfg.WriteEnabled {
		return apperr.New(apperr.KindInvalidInput,
			"write operations are disabled; set MAILGATE_WRITE_ENABLED=true to enable them")
	}
	return nil
}

// ListAccounts enumerates the configured accounts so a caller can discover
// valid account ids. No network use; secrets never leave the config.
func (g *Gateway) ListAccounts(ctx context.Context, p ListAccountsParams) (res *AccountListing, err error) {
	defer func(start time.Time) { g.observe("list_accounts", start, err) }(time.Now())

	ids := g.dir.Accounts()
	sort.Strings(ids)

	accounts := make([]AccountInfo, 0, len(ids))
	for _, id := range ids {
		acct, lookupErr := g.dir.Lookup(id)
		if lookupErr != nil {
			continue
		}
		accounts = append(accounts, AccountInfo{
			AccountID: acct.ID,
			Host:      acct.Host,
			Port:      acct.Port,
			Secure:    acct.Secure,
			User:      acct.User,
		})
	}
	return &AccountListing{Accounts: accounts, Total: len(accounts)}, nil
}

// VerifyAccount dials, authenticates, and round-trips a NOOP.
func (g *Gateway) VerifyAccount(ctx context.Context, p AccountParams) (res *VerifyResult, err error) {
	defer func(start time.Time) { g.observe("verify_account", start, err) }(time.Now())

	if err = validateAccountID(p.AccountID); err != nil {
		return nil, err
	}
	acct, err := g.dir.Lookup(p.AccountID)
	if err != nil {
		return nil, err
	}
	conn, err := g.dial(ctx, acct)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err = conn.Noop(); err != nil {
		return nil, err
	}
	return &VerifyResult{Status: "ok", AccountID: acct.ID, Host: acct.Host, Port: acct.Port}, nil
}

// ListMailboxes lists the account's mailboxes, capped to keep the
// response bounded on servers with enormous hierarchies.
func (g *Gateway) ListMailboxes(ctx context.Context, p AccountParams) (res *MailboxList, err error) {
	defer func(start time.Time) { g.observe("list_mailboxes", start, err) }(time.Now())

	if err = validateAccountID(p.AccountID); err != nil {
		return nil, err
	}
	conn, err := g.connect(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	boxes, err := conn.ListMailboxes()
	if err != nil {
		return nil, err
	}
	out := &MailboxList{AccountID: p.AccountID, Total: len(boxes), Mailboxes: boxes}
	if len(boxes) > mailboxListCap {
		out.Mailboxes = boxes[:mailboxListCap]
		out.Truncated = true
	}
	return out, nil
}

// SearchMessages runs a fresh search or resumes a cursor.
func (g *Gateway) SearchMessages(ctx context.Context, p SearchParams) (res *search.Result, err error) {
	defer func(start time.Time) { g.observe("search_messages", start, err) }(time.Now())

	req, err := buildSearchRequest(p, g.now())
	if err != nil {
		return nil, err
	}
	conn, err := g.connect(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res, err = g.engine.Search(conn, req)
	g.metrics.CursorsLive.Set(float64(g.cursors.Len()))
	return res, err
}

// GetMessage fetches one message and returns its bounded structured form.
func (g *Gateway) GetMessage(ctx context.Context, p GetMessageParams) (res *MessageDetail, err error) {
	defer func(start time.Time) { g.observe("get_message", start, err) }(time.Now())

	id, opts, maxBytes, err := validateGetMessage(p)
	if err != nil {
		return nil, err
	}
	conn, err := g.connect(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	raw, err := g.fetchRawChecked(conn, id, maxBytes)
	if err != nil {
		return nil, err
	}
	// Flags are best-effort decoration on a read.
	flags, flagsErr := conn.FetchFlags(id.UID)
	if flagsErr != nil {
		flags = nil
	}

	parsed := content.Parse(raw, opts)
	return &MessageDetail{
		MessageID:         p.MessageID,
		UID:               id.UID,
		Mailbox:           id.Mailbox,
		Size:              len(raw),
		Flags:             flags,
		Headers:           parsed.Headers,
		Body:              parsed.Body,
		BodyTruncated:     parsed.BodyTruncated,
		BodyHTML:          parsed.BodyHTML,
		BodyHTMLTruncated: parsed.BodyHTMLTruncated,
		BodyIncomplete:    parsed.BodyIncomplete,
		Attachments:       parsed.Attachments,
		ParseFallback:     parsed.ParseFallback,
	}, nil
}

// GetMessageRaw fetches one message's complete source, base64-encoded.
func (g *Gateway) GetMessageRaw(ctx context.Context, p GetRawParams) (res *RawMessage, err error) {
	defer func(start time.Time) { g.observe("get_message_raw", start, err) }(time.Now())

	if err = validateAccountID(p.AccountID); err != nil {
		return nil, err
	}
	id, err := msgid.Decode(p.MessageID, p.AccountID)
	if err != nil {
		return nil, err
	}
	maxBytes, err := boundedInt(p.MaxBytes, maxBytesDefault, maxBytesMin, maxBytesMax, "max_bytes")
	if err != nil {
		return nil, err
	}
	conn, err := g.connect(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	raw, err := g.fetchRawChecked(conn, id, maxBytes)
	if err != nil {
		return nil, err
	}
	return &RawMessage{
		MessageID: p.MessageID,
		Size:      len(raw),
		Raw:       base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// fetchRawChecked selects the identifier's mailbox read-only, verifies the
// snapshot, and enforces the size cap.
func (g *Gateway) fetchRawChecked(conn Conn, id msgid.ID, maxBytes int) ([]byte, error) {
	generation, err := conn.SelectReadOnly(id.Mailbox)
	if err != nil {
		return nil, err
	}
	if generation != id.Generation {
		return nil, apperr.New(apperr.KindConflict,
			"mailbox generation changed; message identifier is stale, rerun search")
	}
	raw, err := conn.FetchRaw(id.UID)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxBytes {
		return nil, apperr.Newf(apperr.KindInvalidInput,
			"message is %d bytes and exceeds max_bytes=%d; increase max_bytes", len(raw), maxBytes)
	}
	return raw, nil
}

// UpdateFlags adds and removes flags on one message.
func (g *Gateway) UpdateFlags(ctx context.Context, p UpdateFlagsParams) (res *mutate.FlagsResult, err error) {
	defer func(start time.Time) { g.observe("update_flags", start, err) }(time.Now())

	if err = validateAccountID(p.AccountID); err != nil {
		return nil, err
	}
	if len(p.AddFlags) == 0 && len(p.RemoveFlags) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput,
			"at least one of add_flags or remove_flags is required")
	}
	if err = validateFlagList(p.AddFlags); err != nil {
		return nil, err
	}
	if err = validateFlagList(p.RemoveFlags); err != nil {
		return nil, err
	}
	id, err := msgid.Decode(p.MessageID, p.AccountID)
	if err != nil {
		return nil, err
	}
	if err = g.requireWrites(); err != nil {
		return nil, err
	}
	conn, err := g.connect(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return g.orch.UpdateFlags(conn, id, p.AddFlags, p.RemoveFlags)
}

// CopyMessage copies one message to another mailbox, on the same account
// or onto a different configured account.
func (g *Gateway) CopyMessage(ctx context.Context, p CopyParams) (res *mutate.CopyResult, err error) {
	defer func(start time.Time) { g.observe("copy_message", start, err) }(time.Now())

	if err = validateAccountID(p.AccountID); err != nil {
		return nil, err
	}
	if err = validateMailbox(p.DestMailbox, "dest_mailbox"); err != nil {
		return nil, err
	}
	id, err := msgid.Decode(p.MessageID, p.AccountID)
	if err != nil {
		return nil, err
	}
	if err = g.requireWrites(); err != nil {
		return nil, err
	}

	if p.DestAccountID == "" || p.DestAccountID == p.AccountID {
		conn, err := g.connect(ctx, p.AccountID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		return g.orch.Copy(conn, id, p.DestMailbox)
	}

	if err = validateAccountID(p.DestAccountID); err != nil {
		return nil, err
	}
	src, err := g.connect(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst, err := g.connect(ctx, p.DestAccountID)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	return g.orch.CopyAcross(src, dst, id, p.DestAccountID, p.DestMailbox)
}

// MoveMessage relocates one message within its account.
func (g *Gateway) MoveMessage(ctx context.Context, p MoveParams) (res *mutate.MoveResult, err error) {
	defer func(start time.Time) { g.observe("move_message", start, err) }(time.Now())

	if err = validateAccountID(p.AccountID); err != nil {
		return nil, err
	}
	if err = validateMailbox(p.DestMailbox, "dest_mailbox"); err != nil {
		return nil, err
	}
	id, err := msgid.Decode(p.MessageID, p.AccountID)
	if err != nil {
		return nil, err
	}
	if err = g.requireWrites(); err != nil {
		return nil, err
	}
	conn, err := g.connect(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return g.orch.Move(conn, id, p.DestMailbox)
}

// DeleteMessage permanently deletes one message. The write switch and the
// per-call confirmation are independent guards; both must pass.
func (g *Gateway) DeleteMessage(ctx context.Context, p DeleteParams) (res *mutate.DeleteResult, err error) {
	defer func(start time.Time) { g.observe("delete_message", start, err) }(time.Now())

	if err = validateAccountID(p.AccountID); err != nil {
		return nil, err
	}
	id, err := msgid.Decode(p.MessageID, p.AccountID)
	if err != nil {
		return nil, err
	}
	if err = g.requireWrites(); err != nil {
		return nil, err
	}
	if !p.Confirm {
		return nil, apperr.New(apperr.KindInvalidInput, "delete requires confirm=true")
	}
	conn, err := g.connect(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return g.orch.Delete(conn, id)
}
