// Package session manages one authenticated IMAP connection. Every network
// step is bounded: the TCP dial, the greeting, and each command carry their
// own deadline, and a canceled context tears the connection down rather than
// leaving a command stranded.
package session

import (
	"context"
	"crypto/tls"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/kwarren/mailgate/internal/apperr"
	"github.com/kwarren/mailgate/internal/config"
)

// State tracks the connection lifecycle. Transitions only move forward;
// a failed or closed session is never reused.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateGreeted
	StateAuthenticated
	StateSelected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateGreeted:
		return "greeted"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "mailbox_selected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options bounds the session's network steps.
type Options struct {
	ConnectTimeout  time.Duration
	GreetingTimeout time.Duration
	SocketTimeout   time.Duration
	Logger          log.Logger
}

func (o *Options) fill() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.GreetingTimeout <= 0 {
		o.GreetingTimeout = 15 * time.Second
	}
	if o.SocketTimeout <= 0 {
		o.SocketTimeout = 300 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
}

// Session is a single-use authenticated connection to one account's server.
// It is not safe for concurrent use; callers own one session per operation.
type Session struct {
	account config.Account
	opts    Options

	conn   net.Conn
	client *imapclient.Client
	stop   func() bool

	state       State
	failedStage string
	mailbox     string
	generation  uint32
}

// Dial connects, waits for the greeting, and authenticates. Accounts
// configured without TLS are rejected before any packet is sent; the
// gateway never opens cleartext connections.
func Dial(ctx context.Context, account config.Account, opts Options) (*Session, error) {
	opts.fill()
	if !account.Secure {
		return nil, apperr.Newf(apperr.KindInvalidInput,
			"account %q is configured without TLS; cleartext IMAP is not supported (set MAILGATE_IMAP_%s_SECURE=true)",
			account.ID, strings.ToUpper(account.ID))
	}

	s := &Session{account: account, opts: opts, state: StateConnecting}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", account.Addr(), &tls.Config{
		ServerName: account.Host,
	})
	if err != nil {
		return nil, s.fail("connect", classify("connecting to "+account.Addr(), err))
	}
	s.conn = conn
	// Context cancellation closes the socket, which unblocks whatever
	// command is in flight.
	s.stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
	s.client = imapclient.New(conn, &imapclient.Options{})

	_ = conn.SetDeadline(time.Now().Add(opts.GreetingTimeout))
	if err := s.client.WaitGreeting(); err != nil {
		s.closeNetwork()
		return nil, s.fail("greeting", classify("waiting for server greeting", err))
	}
	s.state = StateGreeted

	s.arm()
	if err := s.client.Login(account.User, account.Pass.Reveal()).Wait(); err != nil {
		s.closeNetwork()
		return nil, s.fail("login", classifyLogin(err))
	}
	s.state = StateAuthenticated
	level.Debug(opts.Logger).Log("msg", "session authenticated", "account", account.ID)
	return s, nil
}

// AccountID returns the account this session is bound to.
func (s *Session) AccountID() string { return s.account.ID }

// Mailbox returns the currently selected mailbox, if any.
func (s *Session) Mailbox() string { return s.mailbox }

// Generation returns the UIDVALIDITY of the selected mailbox.
func (s *Session) Generation() uint32 { return s.generation }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// SelectReadOnly selects a mailbox with EXAMINE semantics and returns its
// generation. Read paths use this so \Seen is never set as a side effect.
func (s *Session) SelectReadOnly(mailbox string) (uint32, error) {
	return s.selectMailbox(mailbox, true)
}

// Select selects a mailbox for writing and returns its generation.
func (s *Session) Select(mailbox string) (uint32, error) {
	return s.selectMailbox(mailbox, false)
}

func (s *Session) selectMailbox(mailbox string, readOnly bool) (uint32, error) {
	if err := s.requireAuth(); err != nil {
		return 0, err
	}
	s.arm()
	data, err := s.client.Select(mailbox, &imap.SelectOptions{ReadOnly: readOnly}).Wait()
	if err != nil {
		return 0, classifyMailboxTarget("SELECT", mailbox, err)
	}
	s.mailbox = mailbox
	s.generation = data.UIDValidity
	s.state = StateSelected
	return data.UIDValidity, nil
}

// ListMailboxes lists every mailbox visible to the account, sorted by name.
func (s *Session) ListMailboxes() ([]MailboxInfo, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	s.arm()
	boxes, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, classify("listing mailboxes", err)
	}
	out := make([]MailboxInfo, 0, len(boxes))
	for _, mb := range boxes {
		info := MailboxInfo{Name: mb.Mailbox}
		if mb.Delim != 0 {
			info.Delimiter = string(mb.Delim)
		}
		for _, attr := range mb.Attrs {
			info.Attributes = append(info.Attributes, string(attr))
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Noop issues a NOOP, proving the credentials and connection work.
func (s *Session) Noop() error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	s.arm()
	return classify("NOOP", s.client.Noop().Wait())
}

// SupportsMove reports whether the server advertises MOVE.
func (s *Session) SupportsMove() bool {
	return s.client.Caps().Has(imap.CapMove)
}

// SupportsUIDPlus reports whether the server advertises UIDPLUS.
func (s *Session) SupportsUIDPlus() bool {
	return s.client.Caps().Has(imap.CapUIDPlus)
}

// SearchUIDs runs a UID SEARCH and returns matches in ascending UID order.
func (s *Session) SearchUIDs(criteria *imap.SearchCriteria) ([]uint32, error) {
	if err := s.requireSelected(); err != nil {
		return nil, err
	}
	s.arm()
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, classify("UID SEARCH", err)
	}
	uids := data.AllUIDs()
	out := make([]uint32, len(uids))
	for i, uid := range uids {
		out[i] = uint32(uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FetchSummaries fetches envelope and flag data for the given UIDs. UIDs
// the server no longer knows are simply absent from the result; the caller
// diffs against its request to report them.
func (s *Session) FetchSummaries(uids []uint32) ([]Summary, error) {
	if err := s.requireSelected(); err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}
	s.arm()
	cmd := s.client.Fetch(uidSet(uids), &imap.FetchOptions{
		UID:      true,
		Flags:    true,
		Envelope: true,
	})
	defer cmd.Close()

	var out []Summary
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		out = append(out, summaryFromBuffer(buf))
	}
	if err := cmd.Close(); err != nil {
		return out, classify("UID FETCH", err)
	}
	return out, nil
}

// FetchRaw fetches the complete RFC 5322 source of one message without
// setting \Seen.
func (s *Session) FetchRaw(uid uint32) ([]byte, error) {
	if err := s.requireSelected(); err != nil {
		return nil, err
	}
	s.arm()
	section := &imap.FetchItemBodySection{Peek: true}
	cmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		_ = cmd.Close()
		return nil, apperr.Newf(apperr.KindNotFound, "message uid %d not found in %q", uid, s.mailbox)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, classify("collecting message", err)
	}
	if err := cmd.Close(); err != nil {
		return nil, classify("UID FETCH", err)
	}
	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "message uid %d not found in %q", uid, s.mailbox)
	}
	return raw, nil
}

// FetchFlags returns the current flags of one message.
func (s *Session) FetchFlags(uid uint32) ([]string, error) {
	if err := s.requireSelected(); err != nil {
		return nil, err
	}
	s.arm()
	cmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:   true,
		Flags: true,
	})
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		_ = cmd.Close()
		return nil, apperr.Newf(apperr.KindNotFound, "message uid %d not found in %q", uid, s.mailbox)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, classify("collecting flags", err)
	}
	if err := cmd.Close(); err != nil {
		return nil, classify("UID FETCH", err)
	}
	flags := make([]string, 0, len(buf.Flags))
	for _, f := range buf.Flags {
		flags = append(flags, string(f))
	}
	sort.Strings(flags)
	return flags, nil
}

// AddFlags adds flags to the given messages.
func (s *Session) AddFlags(uids []uint32, flags []string) error {
	return s.storeFlags(uids, flags, imap.StoreFlagsAdd)
}

// RemoveFlags removes flags from the given messages.
func (s *Session) RemoveFlags(uids []uint32, flags []string) error {
	return s.storeFlags(uids, flags, imap.StoreFlagsDel)
}

func (s *Session) storeFlags(uids []uint32, flags []string, op imap.StoreFlagsOp) error {
	if err := s.requireSelected(); err != nil {
		return err
	}
	if len(uids) == 0 || len(flags) == 0 {
		return nil
	}
	s.arm()
	cmd := s.client.Store(uidSet(uids), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  toFlags(flags),
	}, nil)
	if err := cmd.Close(); err != nil {
		return classify("UID STORE", err)
	}
	return nil
}

// Copy copies messages to another mailbox on the same server. The returned
// CopyInfo is nil when the server does not report COPYUID.
func (s *Session) Copy(uids []uint32, dest string) (*CopyInfo, error) {
	if err := s.requireSelected(); err != nil {
		return nil, err
	}
	s.arm()
	data, err := s.client.Copy(uidSet(uids), dest).Wait()
	if err != nil {
		return nil, classifyMailboxTarget("UID COPY", dest, err)
	}
	return copyInfoFrom(data), nil
}

// MoveNative issues a UID MOVE. Callers must check SupportsMove first.
func (s *Session) MoveNative(uids []uint32, dest string) (*CopyInfo, error) {
	if err := s.requireSelected(); err != nil {
		return nil, err
	}
	s.arm()
	data, err := s.client.Move(uidSet(uids), dest).Wait()
	if err != nil {
		return nil, classifyMailboxTarget("UID MOVE", dest, err)
	}
	if data == nil || data.UIDValidity == 0 {
		return nil, nil
	}
	return &CopyInfo{
		UIDValidity: data.UIDValidity,
		SourceUIDs:  uidSliceFromSet(data.SourceUIDs.(imap.UIDSet)),
		DestUIDs:    uidSliceFromSet(data.DestUIDs.(imap.UIDSet)),
	}, nil
}

// ExpungeUIDs permanently removes \Deleted messages. With UIDPLUS only the
// given UIDs are expunged; otherwise the whole mailbox's deleted set goes,
// which is the best a plain EXPUNGE can do.
func (s *Session) ExpungeUIDs(uids []uint32) error {
	if err := s.requireSelected(); err != nil {
		return err
	}
	s.arm()
	if s.SupportsUIDPlus() {
		if err := s.client.UIDExpunge(uidSet(uids)).Close(); err != nil {
			return classify("UID EXPUNGE", err)
		}
		return nil
	}
	if err := s.client.Expunge().Close(); err != nil {
		return classify("EXPUNGE", err)
	}
	return nil
}

// Append uploads a raw message to a mailbox, returning the new UID and the
// mailbox generation when the server reports APPENDUID (zero otherwise).
func (s *Session) Append(mailbox string, raw []byte, flags []string) (uint32, uint32, error) {
	if err := s.requireAuth(); err != nil {
		return 0, 0, err
	}
	s.arm()
	var opts *imap.AppendOptions
	if len(flags) > 0 {
		opts = &imap.AppendOptions{Flags: toFlags(flags)}
	}
	cmd := s.client.Append(mailbox, int64(len(raw)), opts)
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return 0, 0, classify("APPEND", err)
	}
	if err := cmd.Close(); err != nil {
		return 0, 0, classify("APPEND", err)
	}
	data, err := cmd.Wait()
	if err != nil {
		return 0, 0, classifyMailboxTarget("APPEND", mailbox, err)
	}
	if data == nil {
		return 0, 0, nil
	}
	return uint32(data.UID), data.UIDValidity, nil
}

// Close logs out politely when possible and always releases the socket.
func (s *Session) Close() error {
	if s.stop != nil {
		s.stop()
	}
	if s.client == nil {
		return nil
	}
	if s.state != StateClosed && s.state != StateFailed {
		s.arm()
		_ = s.client.Logout().Wait()
	}
	err := s.client.Close()
	s.state = StateClosed
	return err
}

func (s *Session) requireAuth() error {
	switch s.state {
	case StateAuthenticated, StateSelected:
		return nil
	default:
		return apperr.Newf(apperr.KindInternal, "session is %s, want authenticated", s.state)
	}
}

func (s *Session) requireSelected() error {
	if s.state != StateSelected {
		return apperr.Newf(apperr.KindInternal, "session is %s, want mailbox_selected", s.state)
	}
	return nil
}

// arm pushes the socket deadline forward for the next command.
func (s *Session) arm() {
	if s.conn != nil {
		_ = s.conn.SetDeadline(time.Now().Add(s.opts.SocketTimeout))
	}
}

func (s *Session) fail(stage string, err error) error {
	s.state = StateFailed
	s.failedStage = stage
	level.Debug(s.opts.Logger).Log("msg", "session failed", "account", s.account.ID, "stage", stage)
	return err
}

func (s *Session) closeNetwork() {
	if s.stop != nil {
		s.stop()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func uidSet(uids []uint32) imap.UIDSet {
	set := make([]imap.UID, len(uids))
	for i, uid := range uids {
		set[i] = imap.UID(uid)
	}
	return imap.UIDSetNum(set...)
}

func copyInfoFrom(data *imap.CopyData) *CopyInfo {
	if data == nil || data.UIDValidity == 0 {
		return nil
	}
	return &CopyInfo{
		UIDValidity: data.UIDValidity,
		SourceUIDs:  uidSliceFromSet(data.SourceUIDs),
		DestUIDs:    uidSliceFromSet(data.DestUIDs),
	}
}

func uidSliceFromSet(set imap.UIDSet) []uint32 {
	var out []uint32
	for _, r := range set {
		for uid := r.Start; ; uid++ {
			out = append(out, uint32(uid))
			if uid >= r.Stop {
				break
			}
		}
	}
	return out
}

func toFlags(flags []string) []imap.Flag {
	out := make([]imap.Flag, len(flags))
	for i, f := range flags {
		out[i] = imap.Flag(f)
	}
	return out
}

func summaryFromBuffer(buf *imapclient.FetchMessageBuffer) Summary {
	sum := Summary{UID: uint32(buf.UID)}
	for _, f := range buf.Flags {
		sum.Flags = append(sum.Flags, string(f))
	}
	sort.Strings(sum.Flags)
	if env := buf.Envelope; env != nil {
		sum.Subject = env.Subject
		sum.Date = env.Date
		if len(env.From) > 0 {
			addr := env.From[0]
			sum.FromAddr = addr.Addr()
			if addr.Name != "" {
				sum.From = addr.Name
			} else {
				sum.From = addr.Addr()
			}
		}
	}
	return sum
}
