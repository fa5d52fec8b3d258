package msgid

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kwarren/mailgate/internal/apperr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   ID
	}{
		{"plain inbox", ID{AccountID: "default", Mailbox: "INBOX", Generation: 123, UID: 42}},
		{"mailbox with colons", ID{AccountID: "acct", Mailbox: "Projects:2026:Q1", Generation: 999, UID: 7}},
		{"mailbox with slash", ID{AccountID: "work", Mailbox: "Archive/2025", Generation: 1, UID: 1}},
		{"zero fields", ID{AccountID: "a", Mailbox: "b", Generation: 0, UID: 0}},
		{"max uint32", ID{AccountID: "a", Mailbox: "b", Generation: 4294967295, UID: 4294967295}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := Decode(tt.id.Encode(), tt.id.AccountID)
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", tt.id.Encode(), err)
			}
			if diff := cmp.Diff(tt.id, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeFormat(t *testing.T) {
	id := ID{AccountID: "default", Mailbox: "INBOX", Generation: 123, UID: 42}
	if got := id.Encode(); got != "imap:default:INBOX:123:42" {
		t.Errorf("Encode() = %q, want %q", got, "imap:default:INBOX:123:42")
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		account string
	}{
		{"wrong prefix", "smtp:default:INBOX:123:1", "default"},
		{"too few segments", "imap:default:INBOX:1", "default"},
		{"non-numeric uid", "imap:default:INBOX:123:abc", "default"},
		{"non-numeric generation", "imap:default:INBOX:abc:42", "default"},
		{"negative uid", "imap:default:INBOX:123:-1", "default"},
		{"uid overflow", "imap:default:INBOX:123:4294967296", "default"},
		{"empty mailbox", "imap:default::123:42", "default"},
		{"account mismatch", "imap:other:INBOX:123:42", "default"},
		{"empty input", "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw, tt.account)
			if err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", tt.raw)
			}
			if kind := apperr.KindOf(err); kind != apperr.KindInvalidInput {
				t.Errorf("Decode(%q) kind = %q, want invalid_input", tt.raw, kind)
			}
		})
	}
}

func TestDecodeMailboxWithColonsKeepsTrailingNumericAnchor(t *testing.T) {
	// A naive left-to-right split would read "2026" as the generation.
	id, err := Decode("imap:acct:Projects:2026:Q1:999:7", "acct")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if id.Mailbox != "Projects:2026:Q1" {
		t.Errorf("Mailbox = %q, want %q", id.Mailbox, "Projects:2026:Q1")
	}
	if id.Generation != 999 || id.UID != 7 {
		t.Errorf("Generation/UID = %d/%d, want 999/7", id.Generation, id.UID)
	}

	// Even a numeric-looking mailbox tail stays part of the mailbox.
	id, err = Decode("imap:acct:Reports:2024:11:22", "acct")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if id.Mailbox != "Reports:2024" || id.Generation != 11 || id.UID != 22 {
		t.Errorf("got %+v, want mailbox Reports:2024 generation 11 uid 22", id)
	}
}
