// Package mutate orchestrates write operations against a selected mailbox.
// Multi-step sequences report per-step results instead of failing
// atomically, and destructive steps never run after a failed precursor: a
// copy that did not land is never followed by a delete.
package mutate

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/kwarren/mailgate/internal/apperr"
	"github.com/kwarren/mailgate/internal/msgid"
	"github.com/kwarren/mailgate/internal/outcome"
	"github.com/kwarren/mailgate/internal/session"
)

// Conn is the writable slice of a session the orchestrator drives.
type Conn interface {
	Select(mailbox string) (uint32, error)
	SupportsMove() bool
	FetchFlags(uid uint32) ([]string, error)
	FetchRaw(uid uint32) ([]byte, error)
	AddFlags(uids []uint32, flags []string) error
	RemoveFlags(uids []uint32, flags []string) error
	Copy(uids []uint32, dest string) (*session.CopyInfo, error)
	MoveNative(uids []uint32, dest string) (*session.CopyInfo, error)
	ExpungeUIDs(uids []uint32) error
}

// Appender receives messages on a destination account during cross-account
// copies.
type Appender interface {
	Append(mailbox string, raw []byte, flags []string) (uint32, uint32, error)
}

// FlagsResult reports a flag update and the message's post-update flags.
type FlagsResult struct {
	Status    outcome.Status  `json:"status"`
	MessageID string          `json:"message_id"`
	UID       uint32          `json:"uid"`
	Flags     []string        `json:"flags,omitempty"`
	Issues    []outcome.Issue `json:"issues,omitempty"`
	outcome.Steps
}

// CopyResult reports a copy. NewID is populated only when the server
// reported the copied message's new identity.
type CopyResult struct {
	Status      outcome.Status  `json:"status"`
	SourceID    string          `json:"source_id"`
	NewID       string          `json:"new_id,omitempty"`
	DestMailbox string          `json:"dest_mailbox"`
	Issues      []outcome.Issue `json:"issues,omitempty"`
	outcome.Steps
}

// MoveResult reports a move. Mode records whether the server's MOVE was
// used or the copy-then-delete fallback ran.
type MoveResult struct {
	Status      outcome.Status  `json:"status"`
	SourceID    string          `json:"source_id"`
	NewID       string          `json:"new_id,omitempty"`
	DestMailbox string          `json:"dest_mailbox"`
	Mode        string          `json:"mode"`
	Issues      []outcome.Issue `json:"issues,omitempty"`
	outcome.Steps
}

// DeleteResult reports a delete. Expunged distinguishes "marked and gone"
// from "marked but still present".
type DeleteResult struct {
	Status    outcome.Status  `json:"status"`
	MessageID string          `json:"message_id"`
	Expunged  bool            `json:"expunged"`
	Issues    []outcome.Issue `json:"issues,omitempty"`
	outcome.Steps
}

const (
	ModeMove       = "move"
	ModeCopyDelete = "copy_delete"
)

// Orchestrator runs mutation sequences over caller-supplied connections.
type Orchestrator struct {
	logger log.Logger
}

func NewOrchestrator(logger log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Orchestrator{logger: logger}
}

// selectGeneration selects the identifier's mailbox for writing and
// verifies the snapshot the identifier was minted against still holds.
func (o *Orchestrator) selectGeneration(conn Conn, id msgid.ID) error {
	generation, err := conn.Select(id.Mailbox)
	if err != nil {
		return err
	}
	if generation != id.Generation {
		return apperr.New(apperr.KindConflict,
			"mailbox generation changed; message identifier is stale, rerun search")
	}
	return nil
}

// UpdateFlags applies flag additions and removals, then reports the
// message's resulting flags.
func (o *Orchestrator) UpdateFlags(conn Conn, id msgid.ID, add, remove []string) (*FlagsResult, error) {
	if err := o.selectGeneration(conn, id); err != nil {
		return nil, err
	}
	res := &FlagsResult{MessageID: id.Encode(), UID: id.UID}

	if len(add) > 0 {
		err := conn.AddFlags([]uint32{id.UID}, add)
		res.Ran(err == nil)
		if err != nil {
			res.Issues = append(res.Issues, outcome.IssueFrom("add_flags", err).WithUID(id.UID))
		}
	}
	if len(remove) > 0 {
		err := conn.RemoveFlags([]uint32{id.UID}, remove)
		res.Ran(err == nil)
		if err != nil {
			res.Issues = append(res.Issues, outcome.IssueFrom("remove_flags", err).WithUID(id.UID))
		}
	}

	// Read back the post-state; a failed read degrades the result but the
	// stores above already happened.
	flags, err := conn.FetchFlags(id.UID)
	if err != nil {
		res.Issues = append(res.Issues, outcome.IssueFrom("fetch_flags", err).WithUID(id.UID))
	} else {
		res.Flags = flags
	}

	res.Status = res.Steps.Status(res.Issues)
	return res, nil
}

// Copy copies one message to another mailbox on the same account.
func (o *Orchestrator) Copy(conn Conn, id msgid.ID, destMailbox string) (*CopyResult, error) {
	if err := o.selectGeneration(conn, id); err != nil {
		return nil, err
	}
	res := &CopyResult{SourceID: id.Encode(), DestMailbox: destMailbox}

	info, err := conn.Copy([]uint32{id.UID}, destMailbox)
	res.Ran(err == nil)
	if err != nil {
		res.Issues = append(res.Issues, outcome.IssueFrom("copy", err).WithUID(id.UID))
		res.Status = res.Steps.Status(res.Issues)
		return res, nil
	}
	res.NewID = newIdentity(id.AccountID, destMailbox, info)
	res.Status = res.Steps.Status(res.Issues)
	return res, nil
}

// CopyAcross copies one message to a mailbox on a different account by
// fetching the source bytes and appending them at the destination.
func (o *Orchestrator) CopyAcross(src Conn, dst Appender, id msgid.ID, destAccountID, destMailbox string) (*CopyResult, error) {
	if err := o.selectGeneration(src, id); err != nil {
		return nil, err
	}
	res := &CopyResult{SourceID: id.Encode(), DestMailbox: destMailbox}

	raw, err := src.FetchRaw(id.UID)
	res.Ran(err == nil)
	if err != nil {
		res.Issues = append(res.Issues, outcome.IssueFrom("fetch_source", err).WithUID(id.UID))
		res.Status = res.Steps.Status(res.Issues)
		return res, nil
	}

	// Carry the flags over when they can be read; losing them is not
	// worth failing the copy.
	flags, err := src.FetchFlags(id.UID)
	if err != nil {
		flags = nil
	}
	flags = dropRecent(flags)

	uid, generation, err := dst.Append(destMailbox, raw, flags)
	res.Ran(err == nil)
	if err != nil {
		res.Issues = append(res.Issues, outcome.IssueFrom("append", err).WithUID(id.UID))
		res.Status = res.Steps.Status(res.Issues)
		return res, nil
	}
	if uid != 0 {
		res.NewID = msgid.ID{AccountID: destAccountID, Mailbox: destMailbox, Generation: generation, UID: uid}.Encode()
	}
	res.Status = res.Steps.Status(res.Issues)
	return res, nil
}

// Move relocates one message, preferring the server's native MOVE. Without
// it the fallback is copy, mark deleted, expunge; the source is only ever
// touched after the copy landed.
func (o *Orchestrator) Move(conn Conn, id msgid.ID, destMailbox string) (*MoveResult, error) {
	if err := o.selectGeneration(conn, id); err != nil {
		return nil, err
	}
	res := &MoveResult{SourceID: id.Encode(), DestMailbox: destMailbox}

	if conn.SupportsMove() {
		res.Mode = ModeMove
		info, err := conn.MoveNative([]uint32{id.UID}, destMailbox)
		res.Ran(err == nil)
		if err != nil {
			res.Issues = append(res.Issues, outcome.IssueFrom("move", err).WithUID(id.UID))
		} else {
			res.NewID = newIdentity(id.AccountID, destMailbox, info)
		}
		res.Status = res.Steps.Status(res.Issues)
		return res, nil
	}

	res.Mode = ModeCopyDelete
	info, err := conn.Copy([]uint32{id.UID}, destMailbox)
	res.Ran(err == nil)
	if err != nil {
		res.Issues = append(res.Issues, outcome.IssueFrom("copy", err).WithUID(id.UID))
		res.Status = res.Steps.Status(res.Issues)
		return res, nil
	}
	res.NewID = newIdentity(id.AccountID, destMailbox, info)

	err = conn.AddFlags([]uint32{id.UID}, []string{"\\Deleted"})
	res.Ran(err == nil)
	if err != nil {
		res.Issues = append(res.Issues, outcome.IssueFrom("mark_deleted", err).WithUID(id.UID))
		res.Status = res.Steps.Status(res.Issues)
		level.Warn(o.logger).Log("msg", "move left a duplicate in the source mailbox",
			"account", id.AccountID, "mailbox", id.Mailbox, "uid", id.UID)
		return res, nil
	}

	err = conn.ExpungeUIDs([]uint32{id.UID})
	res.Ran(err == nil)
	if err != nil {
		res.Issues = append(res.Issues, outcome.IssueFrom("expunge", err).WithUID(id.UID))
	}
	res.Status = res.Steps.Status(res.Issues)
	return res, nil
}

// Delete marks one message \Deleted and expunges it.
func (o *Orchestrator) Delete(conn Conn, id msgid.ID) (*DeleteResult, error) {
	if err := o.selectGeneration(conn, id); err != nil {
		return nil, err
	}
	res := &DeleteResult{MessageID: id.Encode()}

	err := conn.AddFlags([]uint32{id.UID}, []string{"\\Deleted"})
	res.Ran(err == nil)
	if err != nil {
		res.Issues = append(res.Issues, outcome.IssueFrom("mark_deleted", err).WithUID(id.UID))
		res.Status = res.Steps.Status(res.Issues)
		return res, nil
	}

	err = conn.ExpungeUIDs([]uint32{id.UID})
	res.Ran(err == nil)
	if err != nil {
		res.Issues = append(res.Issues, outcome.IssueFrom("expunge", err).WithUID(id.UID))
	} else {
		res.Expunged = true
	}
	res.Status = res.Steps.Status(res.Issues)
	return res, nil
}

// newIdentity builds the destination identifier from a COPYUID report.
// Empty when the server did not provide one.
func newIdentity(accountID, destMailbox string, info *session.CopyInfo) string {
	if info == nil || len(info.DestUIDs) != 1 {
		return ""
	}
	return msgid.ID{
		AccountID:  accountID,
		Mailbox:    destMailbox,
		Generation: info.UIDValidity,
		UID:        info.DestUIDs[0],
	}.Encode()
}

func dropRecent(flags []string) []string {
	out := flags[:0]
	for _, f := range flags {
		if f != "\\Recent" {
			out = append(out, f)
		}
	}
	return out
}
