package session

import "time"

type MailboxInfo struct {
	Name       string   `json:"name"`
	Delimiter  string   `json:"delimiter,omitempty"`
	Attributes []string `json:"attributes,omitempty"`
}

// Summary is the envelope-level view of a message, enough for a result
// row without fetching the body.
type Summary struct {
	UID      uint32
	From     string
	FromAddr string
	Subject  string
	Date     time.Time
	Flags    []string
}

// CopyInfo carries the server's COPYUID report. Servers without UIDPLUS
// return none; callers treat a nil CopyInfo as "copied, new UIDs unknown".
type CopyInfo struct {
	UIDValidity uint32
	SourceUIDs  []uint32
	DestUIDs    []uint32
}
