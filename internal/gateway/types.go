package gateway

import (
	"github.com/kwarren/mailgate/internal/content"
	"github.com/kwarren/mailgate/internal/session"
)

// AccountParams addresses an operation at one configured account.
type AccountParams struct {
	AccountID string `json:"account_id"`
}

// ListAccountsParams is empty; the listing always covers every configured
// account.
type ListAccountsParams struct{}

// AccountInfo is one configured account. The password never appears here.
type AccountInfo struct {
	AccountID string `json:"account_id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Secure    bool   `json:"secure"`
	User      string `json:"user"`
}

// AccountListing enumerates the account ids callers may address.
type AccountListing struct {
	Accounts []AccountInfo `json:"accounts"`
	Total    int           `json:"total"`
}

// VerifyResult reports a successful credential and connectivity check.
type VerifyResult struct {
	Status    string `json:"status"`
	AccountID string `json:"account_id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
}

// MailboxList is the bounded mailbox listing for one account.
type MailboxList struct {
	AccountID string                `json:"account_id"`
	Mailboxes []session.MailboxInfo `json:"mailboxes"`
	Total     int                   `json:"total"`
	Truncated bool                  `json:"truncated,omitempty"`
}

// SearchParams is the wire shape of a search or cursor-resume call.
// Cursor excludes every criteria field.
type SearchParams struct {
	AccountID       string `json:"account_id"`
	Mailbox         string `json:"mailbox,omitempty"`
	Query           string `json:"query,omitempty"`
	From            string `json:"from,omitempty"`
	To              string `json:"to,omitempty"`
	Subject         string `json:"subject,omitempty"`
	UnseenOnly      bool   `json:"unseen_only,omitempty"`
	StartDate       string `json:"start_date,omitempty"`
	EndDate         string `json:"end_date,omitempty"`
	LastDays        int    `json:"last_days,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	IncludeSnippet  bool   `json:"include_snippet,omitempty"`
	SnippetMaxChars int    `json:"snippet_max_chars,omitempty"`
	Cursor          string `json:"cursor,omitempty"`
}

// GetMessageParams bounds a structured message read. The HTML body is
// opt-in via include_html.
type GetMessageParams struct {
	AccountID              string `json:"account_id"`
	MessageID              string `json:"message_id"`
	BodyMaxChars           int    `json:"body_max_chars,omitempty"`
	IncludeAllHeaders      bool   `json:"include_all_headers,omitempty"`
	IncludeHTML            bool   `json:"include_html,omitempty"`
	ExtractAttachmentText  bool   `json:"extract_attachment_text,omitempty"`
	AttachmentTextMaxChars int    `json:"attachment_text_max_chars,omitempty"`
	MaxBytes               int    `json:"max_bytes,omitempty"`
}

// MessageDetail is the structured view of one message.
type MessageDetail struct {
	MessageID         string               `json:"message_id"`
	UID               uint32               `json:"uid"`
	Mailbox           string               `json:"mailbox"`
	Size              int                  `json:"size"`
	Flags             []string             `json:"flags,omitempty"`
	Headers           []content.Header     `json:"headers"`
	Body              string               `json:"body"`
	BodyTruncated     bool                 `json:"body_truncated"`
	BodyHTML          string               `json:"body_html,omitempty"`
	BodyHTMLTruncated bool                 `json:"body_html_truncated,omitempty"`
	BodyIncomplete    bool                 `json:"body_incomplete,omitempty"`
	Attachments       []content.Attachment `json:"attachments,omitempty"`
	ParseFallback     bool                 `json:"parse_fallback,omitempty"`
}

// GetRawParams bounds a raw message read.
type GetRawParams struct {
	AccountID string `json:"account_id"`
	MessageID string `json:"message_id"`
	MaxBytes  int    `json:"max_bytes,omitempty"`
}

// RawMessage carries the complete message source, base64-encoded.
type RawMessage struct {
	MessageID string `json:"message_id"`
	Size      int    `json:"size"`
	Raw       string `json:"raw_base64"`
}

// UpdateFlagsParams names the flags to add and remove on one message.
type UpdateFlagsParams struct {
	AccountID   string   `json:"account_id"`
	MessageID   string   `json:"message_id"`
	AddFlags    []string `json:"add_flags,omitempty"`
	RemoveFlags []string `json:"remove_flags,omitempty"`
}

// CopyParams copies one message, optionally onto a different account.
type CopyParams struct {
	AccountID     string `json:"account_id"`
	MessageID     string `json:"message_id"`
	DestAccountID string `json:"dest_account_id,omitempty"`
	DestMailbox   string `json:"dest_mailbox"`
}

// MoveParams relocates one message within its account.
type MoveParams struct {
	AccountID   string `json:"account_id"`
	MessageID   string `json:"message_id"`
	DestMailbox string `json:"dest_mailbox"`
}

// DeleteParams deletes one message. Confirm must be true.
type DeleteParams struct {
	AccountID string `json:"account_id"`
	MessageID string `json:"message_id"`
	Confirm   bool   `json:"confirm,omitempty"`
}
