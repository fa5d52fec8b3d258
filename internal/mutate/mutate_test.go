package mutate

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kwarren/mailgate/internal/apperr"
	"github.com/kwarren/mailgate/internal/msgid"
	"github.com/kwarren/mailgate/internal/outcome"
	"github.com/kwarren/mailgate/internal/session"
)

type fakeConn struct {
	generation uint32
	moveCap    bool
	flags      []string

	copyInfo *session.CopyInfo
	moveInfo *session.CopyInfo
	raw      []byte

	selectErr  error
	addErr     error
	removeErr  error
	copyErr    error
	moveErr    error
	expungeErr error
	fetchErr   error

	calls []string
}

func (f *fakeConn) Select(mailbox string) (uint32, error) {
	f.calls = append(f.calls, "select")
	if f.selectErr != nil {
		return 0, f.selectErr
	}
	return f.generation, nil
}

func (f *fakeConn) SupportsMove() bool { return f.moveCap }

func (f *fakeConn) FetchFlags(uid uint32) ([]string, error) {
	f.calls = append(f.calls, "fetch_flags")
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.flags, nil
}

func (f *fakeConn) FetchRaw(uid uint32) ([]byte, error) {
	f.calls = append(f.calls, "fetch_raw")
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.raw, nil
}

func (f *fakeConn) AddFlags(uids []uint32, flags []string) error {
	f.calls = append(f.calls, "add:"+strings.Join(flags, ","))
	return f.addErr
}

func (f *fakeConn) RemoveFlags(uids []uint32, flags []string) error {
	f.calls = append(f.calls, "remove:"+strings.Join(flags, ","))
	return f.removeErr
}

func (f *fakeConn) Copy(uids []uint32, dest string) (*session.CopyInfo, error) {
	f.calls = append(f.calls, "copy:"+dest)
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	return f.copyInfo, nil
}

func (f *fakeConn) MoveNative(uids []uint32, dest string) (*session.CopyInfo, error) {
	f.calls = append(f.calls, "move:"+dest)
	if f.moveErr != nil {
		return nil, f.moveErr
	}
	return f.moveInfo, nil
}

func (f *fakeConn) ExpungeUIDs(uids []uint32) error {
	f.calls = append(f.calls, "expunge")
	return f.expungeErr
}

type fakeAppender struct {
	uid        uint32
	generation uint32
	err        error

	gotMailbox string
	gotRaw     []byte
	gotFlags   []string
}

func (f *fakeAppender) Append(mailbox string, raw []byte, flags []string) (uint32, uint32, error) {
	f.gotMailbox = mailbox
	f.gotRaw = raw
	f.gotFlags = flags
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.uid, f.generation, nil
}

func testID() msgid.ID {
	return msgid.ID{AccountID: "default", Mailbox: "INBOX", Generation: 7, UID: 42}
}

func TestUpdateFlags(t *testing.T) {
	conn := &fakeConn{generation: 7, flags: []string{"\\Flagged", "\\Seen"}}
	o := NewOrchestrator(nil)

	res, err := o.UpdateFlags(conn, testID(), []string{"\\Flagged"}, []string{"\\Answered"})
	if err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}

	if res.Status != outcome.StatusOK {
		t.Errorf("Status = %q", res.Status)
	}
	if res.Attempted != 2 || res.Succeeded != 2 {
		t.Errorf("steps = %d/%d", res.Succeeded, res.Attempted)
	}
	if diff := cmp.Diff([]string{"\\Flagged", "\\Seen"}, res.Flags); diff != "" {
		t.Errorf("post-state flags mismatch (-want +got):\n%s", diff)
	}
	want := []string{"select", "add:\\Flagged", "remove:\\Answered", "fetch_flags"}
	if diff := cmp.Diff(want, conn.calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateFlagsPartial(t *testing.T) {
	conn := &fakeConn{
		generation: 7,
		flags:      []string{"\\Seen"},
		removeErr:  apperr.New(apperr.KindTimeout, "UID STORE timed out"),
	}
	o := NewOrchestrator(nil)

	res, err := o.UpdateFlags(conn, testID(), []string{"\\Seen"}, []string{"\\Flagged"})
	if err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}
	if res.Status != outcome.StatusPartial {
		t.Errorf("Status = %q, want partial", res.Status)
	}
	if res.Attempted != 2 || res.Succeeded != 1 {
		t.Errorf("steps = %d/%d", res.Succeeded, res.Attempted)
	}
	if len(res.Issues) != 1 || res.Issues[0].Stage != "remove_flags" {
		t.Errorf("issues = %+v", res.Issues)
	}
}

func TestGenerationMismatchIsConflict(t *testing.T) {
	conn := &fakeConn{generation: 8}
	o := NewOrchestrator(nil)

	_, err := o.UpdateFlags(conn, testID(), []string{"\\Seen"}, nil)
	if err == nil {
		t.Fatal("stale identifier accepted")
	}
	if kind := apperr.KindOf(err); kind != apperr.KindConflict {
		t.Errorf("kind = %q, want conflict", kind)
	}
}

func TestCopyReportsNewIdentity(t *testing.T) {
	conn := &fakeConn{
		generation: 7,
		copyInfo:   &session.CopyInfo{UIDValidity: 99, SourceUIDs: []uint32{42}, DestUIDs: []uint32{7}},
	}
	o := NewOrchestrator(nil)

	res, err := o.Copy(conn, testID(), "Archive")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if res.Status != outcome.StatusOK {
		t.Errorf("Status = %q", res.Status)
	}
	if res.NewID != "imap:default:Archive:99:7" {
		t.Errorf("NewID = %q", res.NewID)
	}
}

func TestCopyWithoutCopyUID(t *testing.T) {
	conn := &fakeConn{generation: 7}
	o := NewOrchestrator(nil)

	res, err := o.Copy(conn, testID(), "Archive")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if res.Status != outcome.StatusOK || res.NewID != "" {
		t.Errorf("res = %+v", res)
	}
}

func TestMoveNative(t *testing.T) {
	conn := &fakeConn{
		generation: 7,
		moveCap:    true,
		moveInfo:   &session.CopyInfo{UIDValidity: 12, DestUIDs: []uint32{3}},
	}
	o := NewOrchestrator(nil)

	res, err := o.Move(conn, testID(), "Archive")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if res.Mode != ModeMove || res.Status != outcome.StatusOK {
		t.Errorf("res = %+v", res)
	}
	if res.NewID != "imap:default:Archive:12:3" {
		t.Errorf("NewID = %q", res.NewID)
	}
	for _, call := range conn.calls {
		if strings.HasPrefix(call, "copy:") {
			t.Error("native move fell back to copy")
		}
	}
}

func TestMoveFallback(t *testing.T) {
	conn := &fakeConn{generation: 7}
	o := NewOrchestrator(nil)

	res, err := o.Move(conn, testID(), "Archive")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if res.Mode != ModeCopyDelete || res.Status != outcome.StatusOK {
		t.Errorf("res = %+v", res)
	}
	if res.Attempted != 3 || res.Succeeded != 3 {
		t.Errorf("steps = %d/%d", res.Succeeded, res.Attempted)
	}
	want := []string{"select", "copy:Archive", "add:\\Deleted", "expunge"}
	if diff := cmp.Diff(want, conn.calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestMoveFallbackFailedCopyNeverDeletes(t *testing.T) {
	conn := &fakeConn{
		generation: 7,
		copyErr:    apperr.New(apperr.KindNotFound, "mailbox \"Archive\" does not exist"),
	}
	o := NewOrchestrator(nil)

	res, err := o.Move(conn, testID(), "Archive")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if res.Status != outcome.StatusFailed {
		t.Errorf("Status = %q, want failed", res.Status)
	}
	if res.Attempted != 1 || res.Succeeded != 0 {
		t.Errorf("steps = %d/%d", res.Succeeded, res.Attempted)
	}
	for _, call := range conn.calls {
		if strings.HasPrefix(call, "add:") || call == "expunge" {
			t.Fatalf("destructive step %q ran after failed copy", call)
		}
	}
}

func TestMoveFallbackExpungeFailureIsPartial(t *testing.T) {
	conn := &fakeConn{
		generation: 7,
		expungeErr: apperr.New(apperr.KindTimeout, "EXPUNGE timed out"),
	}
	o := NewOrchestrator(nil)

	res, err := o.Move(conn, testID(), "Archive")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if res.Status != outcome.StatusPartial {
		t.Errorf("Status = %q, want partial", res.Status)
	}
	if res.Attempted != 3 || res.Succeeded != 2 {
		t.Errorf("steps = %d/%d", res.Succeeded, res.Attempted)
	}
	if len(res.Issues) != 1 || res.Issues[0].Stage != "expunge" {
		t.Errorf("issues = %+v", res.Issues)
	}
}

func TestDelete(t *testing.T) {
	conn := &fakeConn{generation: 7}
	o := NewOrchestrator(nil)

	res, err := o.Delete(conn, testID())
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Status != outcome.StatusOK || !res.Expunged {
		t.Errorf("res = %+v", res)
	}
	if res.Attempted != 2 || res.Succeeded != 2 {
		t.Errorf("steps = %d/%d", res.Succeeded, res.Attempted)
	}
}

func TestDeleteMarkFailureStopsSequence(t *testing.T) {
	conn := &fakeConn{
		generation: 7,
		addErr:     apperr.New(apperr.KindInternal, "connection reset"),
	}
	o := NewOrchestrator(nil)

	res, err := o.Delete(conn, testID())
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Status != outcome.StatusFailed || res.Expunged {
		t.Errorf("res = %+v", res)
	}
	for _, call := range conn.calls {
		if call == "expunge" {
			t.Fatal("expunge ran after failed mark")
		}
	}
}

func TestCopyAcross(t *testing.T) {
	src := &fakeConn{
		generation: 7,
		raw:        []byte("From: a@example.com\r\n\r\nhello"),
		flags:      []string{"\\Seen", "\\Recent"},
	}
	dst := &fakeAppender{uid: 5, generation: 31}
	o := NewOrchestrator(nil)

	res, err := o.CopyAcross(src, dst, testID(), "work", "Imported")
	if err != nil {
		t.Fatalf("CopyAcross: %v", err)
	}
	if res.Status != outcome.StatusOK {
		t.Errorf("Status = %q", res.Status)
	}
	if res.NewID != "imap:work:Imported:31:5" {
		t.Errorf("NewID = %q", res.NewID)
	}
	if dst.gotMailbox != "Imported" || string(dst.gotRaw) != string(src.raw) {
		t.Errorf("append got mailbox %q, raw %q", dst.gotMailbox, dst.gotRaw)
	}
	if diff := cmp.Diff([]string{"\\Seen"}, dst.gotFlags); diff != "" {
		t.Errorf("\\Recent not stripped (-want +got):\n%s", diff)
	}
}

func TestCopyAcrossAppendFailure(t *testing.T) {
	src := &fakeConn{generation: 7, raw: []byte("raw")}
	dst := &fakeAppender{err: apperr.New(apperr.KindNotFound, "mailbox \"Imported\" does not exist")}
	o := NewOrchestrator(nil)

	res, err := o.CopyAcross(src, dst, testID(), "work", "Imported")
	if err != nil {
		t.Fatalf("CopyAcross: %v", err)
	}
	if res.Status != outcome.StatusPartial {
		t.Errorf("Status = %q, want partial (the fetch succeeded)", res.Status)
	}
	if res.Attempted != 2 || res.Succeeded != 1 {
		t.Errorf("steps = %d/%d", res.Succeeded, res.Attempted)
	}
}
