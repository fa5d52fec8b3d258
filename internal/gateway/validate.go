package gateway

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/kwarren/mailgate/internal/apperr"
	"github.com/kwarren/mailgate/internal/content"
	"github.com/kwarren/mailgate/internal/msgid"
	"github.com/kwarren/mailgate/internal/search"
)

// Bounds applied before any network traffic. Defaults fill omitted
// parameters; out-of-range values are rejected rather than clamped so the
// caller learns its request was wrong.
const (
	limitDefault = 10
	limitMax     = 50

	bodyMaxDefault = 2000
	bodyMaxMin     = 100
	bodyMaxMax     = 20000

	attachTextDefault = 10000
	attachTextMin     = 100
	attachTextMax     = 50000

	maxBytesDefault = 200000
	maxBytesMin     = 1024
	maxBytesMax     = 1000000

	snippetDefault = 200
	snippetMin     = 50
	snippetMax     = 500

	lastDaysMax = 365

	mailboxMaxLen = 256
	textMaxLen    = 256
	flagMaxLen    = 64

	mailboxListCap = 200
)

var accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validateAccountID(id string) error {
	if !accountIDPattern.MatchString(id) {
		return apperr.New(apperr.KindInvalidInput,
			"account_id must be 1-64 characters of letters, digits, underscore, or hyphen")
	}
	return nil
}

func validateMailbox(name, field string) error {
	if name == "" || len(name) > mailboxMaxLen {
		return apperr.Newf(apperr.KindInvalidInput, "%s must be 1-%d characters", field, mailboxMaxLen)
	}
	if hasControl(name) {
		return apperr.Newf(apperr.KindInvalidInput, "%s must not contain control characters", field)
	}
	return nil
}

func validateText(s, field string) error {
	if s == "" {
		return nil
	}
	if len(s) > textMaxLen {
		return apperr.Newf(apperr.KindInvalidInput, "%s must be at most %d characters", field, textMaxLen)
	}
	if hasControl(s) {
		return apperr.Newf(apperr.KindInvalidInput, "%s must not contain control characters", field)
	}
	return nil
}

// validateFlag rejects anything that could smuggle syntax into a STORE
// command: whitespace, control characters, quoting, and list delimiters.
// One leading backslash marks a system flag.
func validateFlag(flag string) error {
	atom := flag
	if strings.HasPrefix(atom, "\\") {
		atom = atom[1:]
	}
	if atom == "" || len(flag) > flagMaxLen {
		return apperr.Newf(apperr.KindInvalidInput, "flag %q must be 1-%d characters", flag, flagMaxLen)
	}
	for _, r := range atom {
		if r <= ' ' || r == 0x7f || strings.ContainsRune(`"\()[]{}%*`, r) {
			return apperr.Newf(apperr.KindInvalidInput, "flag %q contains a character not allowed in a flag atom", flag)
		}
	}
	return nil
}

func validateFlagList(flags []string) error {
	for _, f := range flags {
		if err := validateFlag(f); err != nil {
			return err
		}
	}
	return nil
}

// boundedInt applies a default for 0 and rejects out-of-range values.
func boundedInt(v, def, min, max int, name string) (int, error) {
	if v == 0 {
		return def, nil
	}
	if v < min || v > max {
		return 0, apperr.Newf(apperr.KindInvalidInput, "%s must be between %d and %d", name, min, max)
	}
	return v, nil
}

func parseDate(s, field string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.KindInvalidInput, "%s must be a YYYY-MM-DD date", field)
	}
	return t, nil
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// buildSearchRequest validates a search call and normalizes it into the
// engine's request shape. now is injected for date arithmetic.
func buildSearchRequest(p SearchParams, now time.Time) (search.Request, error) {
	var req search.Request

	if err := validateAccountID(p.AccountID); err != nil {
		return req, err
	}
	limit, err := boundedInt(p.Limit, limitDefault, 1, limitMax, "limit")
	if err != nil {
		return req, err
	}
	if p.SnippetMaxChars != 0 && !p.IncludeSnippet {
		return req, apperr.New(apperr.KindInvalidInput, "snippet_max_chars requires include_snippet=true")
	}
	snippetChars := 0
	if p.IncludeSnippet {
		snippetChars, err = boundedInt(p.SnippetMaxChars, snippetDefault, snippetMin, snippetMax, "snippet_max_chars")
		if err != nil {
			return req, err
		}
	}

	req = search.Request{
		AccountID:       p.AccountID,
		Limit:           limit,
		IncludeSnippet:  p.IncludeSnippet,
		SnippetMaxChars: snippetChars,
	}

	if p.Cursor != "" {
		if hasCriteria(p) {
			return req, apperr.New(apperr.KindInvalidInput,
				"cursor cannot be combined with search criteria; pass either a cursor or a query")
		}
		req.Cursor = p.Cursor
		return req, nil
	}

	mailbox := p.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if err := validateMailbox(mailbox, "mailbox"); err != nil {
		return req, err
	}
	req.Mailbox = mailbox

	for _, f := range []struct{ value, name string }{
		{p.Query, "query"},
		{p.From, "from"},
		{p.To, "to"},
		{p.Subject, "subject"},
	} {
		if err := validateText(f.value, f.name); err != nil {
			return req, err
		}
	}

	crit := search.Criteria{
		Text:       p.Query,
		From:       p.From,
		To:         p.To,
		Subject:    p.Subject,
		UnseenOnly: p.UnseenOnly,
	}

	if p.LastDays != 0 {
		if p.StartDate != "" || p.EndDate != "" {
			return req, apperr.New(apperr.KindInvalidInput,
				"last_days cannot be combined with start_date or end_date")
		}
		days, err := boundedInt(p.LastDays, 0, 1, lastDaysMax, "last_days")
		if err != nil {
			return req, err
		}
		crit.Since = now.AddDate(0, 0, -days)
	}
	if p.StartDate != "" {
		start, err := parseDate(p.StartDate, "start_date")
		if err != nil {
			return req, err
		}
		crit.Since = start
	}
	if p.EndDate != "" {
		end, err := parseDate(p.EndDate, "end_date")
		if err != nil {
			return req, err
		}
		// The end date is inclusive for the caller; BEFORE is exclusive,
		// so bump one day.
		crit.Before = end.AddDate(0, 0, 1)
	}
	if !crit.Since.IsZero() && !crit.Before.IsZero() && crit.Before.Before(crit.Since) {
		return req, apperr.New(apperr.KindInvalidInput, "start_date must not be after end_date")
	}

	req.Criteria = crit
	return req, nil
}

// validateGetMessage resolves the identifier and fills the content bounds.
func validateGetMessage(p GetMessageParams) (msgid.ID, content.Options, int, error) {
	var opts content.Options

	if err := validateAccountID(p.AccountID); err != nil {
		return msgid.ID{}, opts, 0, err
	}
	id, err := msgid.Decode(p.MessageID, p.AccountID)
	if err != nil {
		return msgid.ID{}, opts, 0, err
	}
	bodyMax, err := boundedInt(p.BodyMaxChars, bodyMaxDefault, bodyMaxMin, bodyMaxMax, "body_max_chars")
	if err != nil {
		return msgid.ID{}, opts, 0, err
	}
	maxBytes, err := boundedInt(p.MaxBytes, maxBytesDefault, maxBytesMin, maxBytesMax, "max_bytes")
	if err != nil {
		return msgid.ID{}, opts, 0, err
	}
	if p.AttachmentTextMaxChars != 0 && !p.ExtractAttachmentText {
		return msgid.ID{}, opts, 0, apperr.New(apperr.KindInvalidInput,
			"attachment_text_max_chars requires extract_attachment_text=true")
	}
	attachMax := 0
	if p.ExtractAttachmentText {
		attachMax, err = boundedInt(p.AttachmentTextMaxChars, attachTextDefault, attachTextMin, attachTextMax, "attachment_text_max_chars")
		if err != nil {
			return msgid.ID{}, opts, 0, err
		}
	}

	opts = content.Options{
		BodyMaxChars:           bodyMax,
		IncludeAllHeaders:      p.IncludeAllHeaders,
		IncludeHTML:            p.IncludeHTML,
		ExtractAttachmentText:  p.ExtractAttachmentText,
		AttachmentTextMaxChars: attachMax,
	}
	return id, opts, maxBytes, nil
}

func hasCriteria(p SearchParams) bool {
	return p.Query != "" || p.From != "" || p.To != "" || p.Subject != "" ||
		p.UnseenOnly || p.StartDate != "" || p.EndDate != "" || p.LastDays != 0 ||
		p.Mailbox != ""
}
