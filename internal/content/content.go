// Package content turns raw RFC 5322 message source into bounded, structured
// text: a character-capped body, curated or complete headers, attachment
// metadata, and optional attachment text extraction. Nothing here touches
// the network; callers hand in bytes they already fetched.
package content

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"unicode/utf8"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/ledongthuc/pdf"
	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxAttachments caps how many attachments are cataloged per message.
	MaxAttachments = 50
	// MaxPDFBytes caps the size of a PDF handed to the text extractor.
	MaxPDFBytes = 5 * 1024 * 1024
)

// curatedHeaders is the default header allow-list when the caller does not
// ask for everything.
var curatedHeaders = []string{"date", "from", "to", "cc", "subject", "message-id"}

// htmlPolicy strips all markup for text conversion; bodyHTMLPolicy keeps
// benign formatting tags for callers that want rendered HTML.
var (
	htmlPolicy     = bluemonday.StrictPolicy()
	bodyHTMLPolicy = bluemonday.UGCPolicy()
)

// Options controls how much of the message is materialized. BodyHTML is
// opt-in: without IncludeHTML only the plain-text body is returned.
type Options struct {
	BodyMaxChars           int
	IncludeAllHeaders      bool
	IncludeHTML            bool
	ExtractAttachmentText  bool
	AttachmentTextMaxChars int
}

// Header is one message header in original order.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attachment describes one attachment. Text is only populated when
// extraction was requested and the part was a supported type.
type Attachment struct {
	Index         int    `json:"index"`
	Filename      string `json:"filename,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	Size          int64  `json:"size"`
	Text          string `json:"text,omitempty"`
	TextTruncated bool   `json:"text_truncated,omitempty"`
	TextError     string `json:"text_error,omitempty"`
}

// Parsed is the structured view of one message.
type Parsed struct {
	Headers           []Header     `json:"headers"`
	Body              string       `json:"body"`
	BodyTruncated     bool         `json:"body_truncated"`
	BodyHTML          string       `json:"body_html,omitempty"`
	BodyHTMLTruncated bool         `json:"body_html_truncated,omitempty"`
	BodyIncomplete    bool         `json:"body_incomplete,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	ParseFallback     bool         `json:"parse_fallback,omitempty"`
}

// Parse never fails: when the MIME structure is unreadable the raw bytes
// are returned as a plain-text body so the caller still gets something.
func Parse(raw []byte, opts Options) Parsed {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		body, truncated := truncateChars(string(raw), opts.BodyMaxChars)
		return Parsed{Body: body, BodyTruncated: truncated, ParseFallback: true}
	}
	defer mr.Close()

	out := Parsed{Headers: headerList(&mr.Header, opts.IncludeAllHeaders)}

	var textBody, htmlBody strings.Builder
	attachIndex := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF || err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				// A part that cannot be decoded leaves a hole in the body;
				// tell the caller rather than pretending the message is whole.
				out.BodyIncomplete = true
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody.Write(data)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody.Write(data)
			}

		case *mail.AttachmentHeader:
			if attachIndex >= MaxAttachments {
				continue
			}
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			att := Attachment{
				Index:       attachIndex,
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(data)),
			}
			if opts.ExtractAttachmentText {
				fillAttachmentText(&att, data, contentType, opts.AttachmentTextMaxChars)
			}
			out.Attachments = append(out.Attachments, att)
			attachIndex++
		}
	}

	body := textBody.String()
	if strings.TrimSpace(body) == "" && htmlBody.Len() > 0 {
		body = HTMLToText(htmlBody.String())
	}
	out.Body, out.BodyTruncated = truncateChars(body, opts.BodyMaxChars)
	if opts.IncludeHTML && htmlBody.Len() > 0 {
		out.BodyHTML, out.BodyHTMLTruncated = truncateChars(bodyHTMLPolicy.Sanitize(htmlBody.String()), opts.BodyMaxChars)
	}
	return out
}

// Snippet produces a whitespace-collapsed preview of the message body.
func Snippet(raw []byte, maxChars int) string {
	parsed := Parse(raw, Options{BodyMaxChars: maxChars * 4})
	collapsed := strings.Join(strings.Fields(parsed.Body), " ")
	s, _ := truncateChars(collapsed, maxChars)
	return s
}

// HTMLToText strips markup and collapses the remaining text. Scripts,
// styles, and attributes never survive the strict policy.
func HTMLToText(s string) string {
	stripped := htmlPolicy.Sanitize(s)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}

func headerList(h *mail.Header, all bool) []Header {
	if !all {
		out := make([]Header, 0, len(curatedHeaders))
		for _, name := range curatedHeaders {
			if v, err := h.Text(name); err == nil && v != "" {
				out = append(out, Header{Name: name, Value: v})
			}
		}
		return out
	}
	var out []Header
	fields := h.Fields()
	for fields.Next() {
		v, err := fields.Text()
		if err != nil {
			// Undecodable value, keep the raw form.
			v = fields.Value()
		}
		out = append(out, Header{Name: strings.ToLower(fields.Key()), Value: v})
	}
	return out
}

func fillAttachmentText(att *Attachment, data []byte, contentType string, maxChars int) {
	switch {
	case strings.HasPrefix(contentType, "text/"):
		att.Text, att.TextTruncated = truncateChars(string(data), maxChars)
	case contentType == "application/pdf":
		if int64(len(data)) > MaxPDFBytes {
			att.TextError = fmt.Sprintf("pdf exceeds %d bytes, text not extracted", MaxPDFBytes)
			return
		}
		text, err := extractPDFText(data)
		if err != nil {
			att.TextError = "pdf text extraction failed"
			return
		}
		att.Text, att.TextTruncated = truncateChars(text, maxChars)
	}
}

// extractPDFText recovers from parser panics: a corrupt attachment must not
// take the whole request down.
func extractPDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	r, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, r); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// truncateChars cuts s to max characters on a rune boundary. max <= 0
// means unlimited.
func truncateChars(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]), true
}
