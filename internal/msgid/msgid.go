// Package msgid encodes and decodes the stable message identifier handed to
// callers. The identifier survives across calls as long as the mailbox
// generation (IMAP UIDVALIDITY) does not change.
package msgid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kwarren/mailgate/internal/apperr"
)

// Prefix is the fixed leading segment of every encoded identifier.
const Prefix = "imap"

// ID identifies one message within one mailbox generation.
//
// The encoded form is "imap:{account}:{mailbox}:{generation}:{uid}".
// Mailbox names may themselves contain ':' (e.g. "Projects:2026:Q1"), so
// decoding anchors on the two rightmost numeric fields instead of splitting
// left to right.
type ID struct {
	AccountID  string
	Mailbox    string
	Generation uint32
	UID        uint32
}

// Encode returns the canonical string form. The codec is a faithful
// carrier: mailbox casing and delimiters are preserved as-is.
func (id ID) Encode() string {
	return fmt.Sprintf("%s:%s:%s:%d:%d", Prefix, id.AccountID, id.Mailbox, id.Generation, id.UID)
}

// Decode parses an encoded identifier and verifies it belongs to
// expectedAccount. A mismatched account is a caller error, never silently
// corrected.
func Decode(raw, expectedAccount string) (ID, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 5 {
		return ID{}, apperr.Invalidf("message_id must have at least 5 segments")
	}
	if parts[0] != Prefix {
		return ID{}, apperr.Invalidf("message_id must start with %q", Prefix)
	}

	uid, err := parseUint32(parts[len(parts)-1])
	if err != nil {
		return ID{}, apperr.Invalidf("invalid uid in message_id")
	}
	generation, err := parseUint32(parts[len(parts)-2])
	if err != nil {
		return ID{}, apperr.Invalidf("invalid generation in message_id")
	}

	accountID := parts[1]
	mailbox := strings.Join(parts[2:len(parts)-2], ":")
	if mailbox == "" {
		return ID{}, apperr.Invalidf("message_id mailbox cannot be empty")
	}
	if accountID != expectedAccount {
		return ID{}, apperr.Invalidf("message_id account does not match account_id")
	}

	return ID{
		AccountID:  accountID,
		Mailbox:    mailbox,
		Generation: generation,
		UID:        uid,
	}, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
