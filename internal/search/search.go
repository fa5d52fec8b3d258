// Package search runs bounded mailbox searches and pages through their
// results. A search captures a UID snapshot once; subsequent pages walk
// that snapshot through a cursor instead of re-running the query, so a
// consumer never sees duplicated or skipped rows within one snapshot.
package search

import (
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/kwarren/mailgate/internal/apperr"
	"github.com/kwarren/mailgate/internal/content"
	"github.com/kwarren/mailgate/internal/cursor"
	"github.com/kwarren/mailgate/internal/msgid"
	"github.com/kwarren/mailgate/internal/outcome"
	"github.com/kwarren/mailgate/internal/session"
)

// DefaultMaxResults is the snapshot ceiling: a query matching more than
// this fails fast before any row is fetched.
const DefaultMaxResults = 20000

// Conn is the slice of a session the engine needs. Search paths select
// read-only so they never flip \Seen.
type Conn interface {
	SelectReadOnly(mailbox string) (uint32, error)
	SearchUIDs(criteria *imap.SearchCriteria) ([]uint32, error)
	FetchSummaries(uids []uint32) ([]session.Summary, error)
	FetchRaw(uid uint32) ([]byte, error)
}

// Criteria is the caller-facing query shape. Zero times mean unset;
// Before is an exclusive end bound.
type Criteria struct {
	Text       string
	From       string
	To         string
	Subject    string
	UnseenOnly bool
	Since      time.Time
	Before     time.Time
}

// Request is one search or resume call. Cursor and Criteria are mutually
// exclusive; the dispatch layer enforces that before the engine runs.
type Request struct {
	AccountID       string
	Mailbox         string
	Criteria        Criteria
	Limit           int
	IncludeSnippet  bool
	SnippetMaxChars int
	Cursor          string
}

// Row is one result line. MessageID is stable across pages of a snapshot.
type Row struct {
	MessageID string    `json:"message_id"`
	UID       uint32    `json:"uid"`
	From      string    `json:"from,omitempty"`
	FromAddr  string    `json:"from_addr,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Date      time.Time `json:"date,omitempty"`
	Flags     []string  `json:"flags,omitempty"`
	Snippet   string    `json:"snippet,omitempty"`
}

// Result is one page plus its accounting.
type Result struct {
	Status     outcome.Status  `json:"status"`
	Total      int             `json:"total"`
	Attempted  int             `json:"attempted"`
	Returned   int             `json:"returned"`
	Messages   []Row           `json:"messages"`
	Issues     []outcome.Issue `json:"issues,omitempty"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

// Engine pages search snapshots through a cursor store.
type Engine struct {
	cursors    *cursor.Store
	maxResults int
	logger     log.Logger
}

// NewEngine wires an engine to its cursor store. maxResults <= 0 selects
// the default ceiling.
func NewEngine(cursors *cursor.Store, maxResults int, logger log.Logger) *Engine {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{cursors: cursors, maxResults: maxResults, logger: logger}
}

// Search runs a fresh query or resumes a cursor, depending on the request.
func (e *Engine) Search(conn Conn, req Request) (*Result, error) {
	if req.Cursor != "" {
		return e.resume(conn, req)
	}
	return e.fresh(conn, req)
}

func (e *Engine) fresh(conn Conn, req Request) (*Result, error) {
	generation, err := conn.SelectReadOnly(req.Mailbox)
	if err != nil {
		return nil, err
	}

	uids, err := conn.SearchUIDs(buildCriteria(req.Criteria))
	if err != nil {
		return nil, err
	}
	if len(uids) > e.maxResults {
		return nil, apperr.Newf(apperr.KindInvalidInput,
			"search matched %d messages, more than the %d result ceiling; narrow the query with from, subject, or date filters",
			len(uids), e.maxResults)
	}

	page := uids
	if len(page) > req.Limit {
		page = page[:req.Limit]
	}

	rows, issues := e.buildRows(conn, req.AccountID, req.Mailbox, generation, page, req.IncludeSnippet, req.SnippetMaxChars)

	res := &Result{
		Total:     len(uids),
		Attempted: len(page),
		Returned:  len(rows),
		Messages:  rows,
		Issues:    issues,
		HasMore:   len(uids) > req.Limit,
	}
	if res.HasMore {
		res.NextCursor = e.cursors.Create(cursor.Entry{
			AccountID:       req.AccountID,
			Mailbox:         req.Mailbox,
			Generation:      generation,
			UIDs:            uids,
			Offset:          req.Limit,
			IncludeSnippet:  req.IncludeSnippet,
			SnippetMaxChars: req.SnippetMaxChars,
		})
	}
	res.Status = outcome.Derive(issues, len(rows) > 0 || len(page) == 0)
	level.Debug(e.logger).Log("msg", "search page served",
		"account", req.AccountID, "mailbox", req.Mailbox,
		"total", res.Total, "returned", res.Returned, "has_more", res.HasMore)
	return res, nil
}

func (e *Engine) resume(conn Conn, req Request) (*Result, error) {
	entry, ok := e.cursors.Lookup(req.Cursor)
	if !ok {
		return nil, apperr.New(apperr.KindInvalidInput, "cursor is invalid or expired")
	}
	if entry.AccountID != req.AccountID || (req.Mailbox != "" && entry.Mailbox != req.Mailbox) {
		return nil, apperr.New(apperr.KindInvalidInput, "cursor does not match account/mailbox")
	}

	generation, err := conn.SelectReadOnly(entry.Mailbox)
	if err != nil {
		return nil, err
	}
	if generation != entry.Generation {
		e.cursors.Delete(entry.Token)
		return nil, apperr.New(apperr.KindConflict, "mailbox snapshot changed; rerun search")
	}

	end := entry.Offset + req.Limit
	if end > len(entry.UIDs) {
		end = len(entry.UIDs)
	}
	page := entry.UIDs[entry.Offset:end]

	rows, issues := e.buildRows(conn, entry.AccountID, entry.Mailbox, generation, page, entry.IncludeSnippet, entry.SnippetMaxChars)

	res := &Result{
		Total:     len(entry.UIDs),
		Attempted: len(page),
		Returned:  len(rows),
		Messages:  rows,
		Issues:    issues,
		HasMore:   end < len(entry.UIDs),
	}
	if !res.HasMore {
		if !e.cursors.Finish(entry.Token, entry.Offset) {
			// A concurrent resume of the same token won; this caller's
			// page would duplicate rows, so it loses.
			return nil, apperr.New(apperr.KindInvalidInput, "cursor is invalid or expired")
		}
	} else {
		if !e.cursors.Advance(entry.Token, entry.Offset, end) {
			return nil, apperr.New(apperr.KindInvalidInput, "cursor is invalid or expired")
		}
		res.NextCursor = entry.Token
	}
	res.Status = outcome.Derive(issues, len(rows) > 0 || len(page) == 0)
	return res, nil
}

// buildRows fetches summaries for a page and reports every UID the server
// no longer returns as a per-row issue instead of failing the page.
func (e *Engine) buildRows(conn Conn, accountID, mailbox string, generation uint32, page []uint32, includeSnippet bool, snippetMax int) ([]Row, []outcome.Issue) {
	if len(page) == 0 {
		return nil, nil
	}

	var issues []outcome.Issue
	summaries, err := conn.FetchSummaries(page)
	if err != nil {
		for _, uid := range page {
			issues = append(issues, outcome.IssueFrom("fetch_summary", err).WithUID(uid))
		}
		return nil, issues
	}

	byUID := make(map[uint32]session.Summary, len(summaries))
	for _, sum := range summaries {
		byUID[sum.UID] = sum
	}

	var rows []Row
	for _, uid := range page {
		sum, ok := byUID[uid]
		if !ok {
			issues = append(issues, outcome.IssueFrom("fetch_summary",
				apperr.Newf(apperr.KindNotFound, "uid %d vanished from mailbox", uid)).WithUID(uid))
			continue
		}
		row := Row{
			MessageID: msgid.ID{AccountID: accountID, Mailbox: mailbox, Generation: generation, UID: uid}.Encode(),
			UID:       uid,
			From:      sum.From,
			FromAddr:  sum.FromAddr,
			Subject:   sum.Subject,
			Date:      sum.Date,
			Flags:     sum.Flags,
		}
		if includeSnippet {
			raw, err := conn.FetchRaw(uid)
			if err != nil {
				// A missing snippet degrades the row, it does not drop it.
				issues = append(issues, outcome.IssueFrom("fetch_snippet", err).WithUID(uid))
			} else {
				row.Snippet = content.Snippet(raw, snippetMax)
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UID < rows[j].UID })
	return rows, issues
}

func buildCriteria(c Criteria) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	if c.Text != "" {
		criteria.Text = []string{c.Text}
	}
	if c.From != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: c.From})
	}
	if c.To != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "To", Value: c.To})
	}
	if c.Subject != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: c.Subject})
	}
	if c.UnseenOnly {
		criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
	}
	if !c.Since.IsZero() {
		criteria.Since = c.Since
	}
	if !c.Before.IsZero() {
		criteria.Before = c.Before
	}
	return criteria
}
