package session

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/emersion/go-imap/v2"

	"github.com/kwarren/mailgate/internal/apperr"
)

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// classify maps a transport-level error onto the gateway taxonomy.
// Errors that already carry a kind pass through untouched.
func classify(stage string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if isTimeout(err) {
		return apperr.Wrap(apperr.KindTimeout, err, stage+" timed out")
	}
	return apperr.Wrap(apperr.KindInternal, err, stage+" failed")
}

// classifyLogin never wraps the server's rejection text into the returned
// error: a fixed message keeps credentials and server banter out of
// anything the caller might log or display.
func classifyLogin(err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return apperr.Wrap(apperr.KindTimeout, err, "login timed out")
	}
	var respErr *imap.Error
	if errors.As(err, &respErr) {
		return apperr.New(apperr.KindAuthFailed, "server rejected credentials")
	}
	return apperr.Wrap(apperr.KindInternal, err, "login failed")
}

// classifyMailboxTarget turns a NO response on a mailbox-addressed command
// into not_found: an unknown or unselectable mailbox is caller-fixable,
// not a gateway fault.
func classifyMailboxTarget(stage, mailbox string, err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return apperr.Wrap(apperr.KindTimeout, err, stage+" timed out")
	}
	var respErr *imap.Error
	if errors.As(err, &respErr) && respErr.Type == imap.StatusResponseTypeNo {
		if respErr.Code == imap.ResponseCodeTryCreate {
			return apperr.Newf(apperr.KindNotFound, "mailbox %q does not exist", mailbox)
		}
		return apperr.Wrap(apperr.KindNotFound, err, fmt.Sprintf("%s rejected for mailbox %q", stage, mailbox))
	}
	return apperr.Wrap(apperr.KindInternal, err, stage+" failed")
}
