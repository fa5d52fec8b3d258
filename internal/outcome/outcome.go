// Package outcome models partial-failure results. Multi-step operations
// return an accumulated status instead of failing atomically, so an
// automated caller can act on whatever succeeded.
package outcome

import "github.com/kwarren/mailgate/internal/apperr"

// Status summarizes a multi-step operation.
type Status string

const (
	// StatusOK means every step succeeded.
	StatusOK Status = "ok"
	// StatusPartial means some steps failed but usable results remain.
	StatusPartial Status = "partial"
	// StatusFailed means nothing succeeded.
	StatusFailed Status = "failed"
)

// Issue records one failed step inside an otherwise-returned envelope.
type Issue struct {
	Code      string `json:"code"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	UID       uint32 `json:"uid,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// IssueFrom converts an error into an issue tagged with the stage that
// produced it. Credentials never reach error messages, so issues are safe
// to return verbatim.
func IssueFrom(stage string, err error) Issue {
	return Issue{
		Code:      string(apperr.KindOf(err)),
		Stage:     stage,
		Message:   apperr.Message(err),
		Retryable: apperr.Retryable(err),
	}
}

// WithUID tags the issue with the offending message UID.
func (i Issue) WithUID(uid uint32) Issue {
	i.UID = uid
	return i
}

// WithMessageID tags the issue with the encoded message identifier.
func (i Issue) WithMessageID(id string) Issue {
	i.MessageID = id
	return i
}

// Derive computes the overall status: ok with no issues, partial when
// something still succeeded, failed otherwise.
func Derive(issues []Issue, hasData bool) Status {
	switch {
	case len(issues) == 0:
		return StatusOK
	case hasData:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Steps tracks attempted/succeeded counts for mutation sequences.
type Steps struct {
	Attempted int `json:"steps_attempted"`
	Succeeded int `json:"steps_succeeded"`
}

// Ran records an attempted step and whether it succeeded.
func (s *Steps) Ran(ok bool) {
	s.Attempted++
	if ok {
		s.Succeeded++
	}
}

// Status derives the mutation status from the step counts.
func (s Steps) Status(issues []Issue) Status {
	return Derive(issues, s.Succeeded > 0)
}
