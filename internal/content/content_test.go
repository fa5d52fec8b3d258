package content

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const plainMsg = "From: Dana Ortiz <dana@example.com>\r\n" +
	"To: team@example.com\r\n" +
	"Subject: Standup notes\r\n" +
	"Date: Mon, 02 Mar 2026 09:00:00 +0000\r\n" +
	"Message-Id: <abc123@example.com>\r\n" +
	"X-Tracker: issue-42\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"First line.\r\nSecond line.\r\n"

const altMsg = "From: a@example.com\r\n" +
	"To: b@example.com\r\n" +
	"Subject: Alt\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=BOUND42\r\n" +
	"\r\n" +
	"--BOUND42\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain wins\r\n" +
	"--BOUND42\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>html body</p>\r\n" +
	"--BOUND42--\r\n"

const mixedMsg = "From: a@example.com\r\n" +
	"To: b@example.com\r\n" +
	"Subject: Files\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=MB\r\n" +
	"\r\n" +
	"--MB\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>See <b>attached</b>.</p><script>alert(1)</script>\r\n" +
	"--MB\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"\r\n" +
	"alpha beta gamma delta\r\n" +
	"--MB--\r\n"

func TestParsePlainText(t *testing.T) {
	got := Parse([]byte(plainMsg), Options{BodyMaxChars: 2000})

	if strings.TrimSpace(got.Body) != "First line.\r\nSecond line." {
		t.Errorf("Body = %q", got.Body)
	}
	if got.BodyTruncated || got.ParseFallback {
		t.Errorf("unexpected flags: %+v", got)
	}

	names := make([]string, len(got.Headers))
	for i, h := range got.Headers {
		names[i] = h.Name
	}
	want := []string{"date", "from", "to", "subject", "message-id"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("curated header names mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAllHeadersIncludesCustom(t *testing.T) {
	got := Parse([]byte(plainMsg), Options{BodyMaxChars: 2000, IncludeAllHeaders: true})

	found := false
	for _, h := range got.Headers {
		if h.Name == "x-tracker" && h.Value == "issue-42" {
			found = true
		}
	}
	if !found {
		t.Errorf("x-tracker missing from full header list: %+v", got.Headers)
	}
}

func TestParsePrefersPlainOverHTML(t *testing.T) {
	got := Parse([]byte(altMsg), Options{BodyMaxChars: 2000})
	if strings.TrimSpace(got.Body) != "plain wins" {
		t.Errorf("Body = %q, want the text/plain part", got.Body)
	}
}

func TestParseBodyHTMLSanitized(t *testing.T) {
	got := Parse([]byte(mixedMsg), Options{BodyMaxChars: 2000, IncludeHTML: true})

	if !strings.Contains(got.BodyHTML, "<b>attached</b>") {
		t.Errorf("BodyHTML lost benign formatting: %q", got.BodyHTML)
	}
	if strings.Contains(got.BodyHTML, "script") || strings.Contains(got.BodyHTML, "alert") {
		t.Errorf("BodyHTML kept script content: %q", got.BodyHTML)
	}
}

func TestParseBodyHTMLOnlyWhenRequested(t *testing.T) {
	got := Parse([]byte(altMsg), Options{BodyMaxChars: 2000})
	if got.BodyHTML != "" {
		t.Errorf("BodyHTML = %q without IncludeHTML", got.BodyHTML)
	}

	got = Parse([]byte(altMsg), Options{BodyMaxChars: 2000, IncludeHTML: true})
	if got.BodyHTML == "" {
		t.Error("BodyHTML empty with IncludeHTML set")
	}
}

func TestParsePlainHasNoBodyHTML(t *testing.T) {
	got := Parse([]byte(plainMsg), Options{BodyMaxChars: 2000, IncludeHTML: true})
	if got.BodyHTML != "" {
		t.Errorf("BodyHTML = %q, want empty for text-only message", got.BodyHTML)
	}
}

func TestParseUnreadablePartMarksBodyIncomplete(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: Broken\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=MB\r\n" +
		"\r\n" +
		"--MB\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"!!!not base64 at all!!!\r\n" +
		"--MB\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"still readable\r\n" +
		"--MB--\r\n"
	got := Parse([]byte(raw), Options{BodyMaxChars: 2000})

	if !got.BodyIncomplete {
		t.Error("BodyIncomplete not set after an undecodable part")
	}
	if !strings.Contains(got.Body, "still readable") {
		t.Errorf("readable part lost: %q", got.Body)
	}
}

func TestParseHTMLFallbackStripsMarkup(t *testing.T) {
	got := Parse([]byte(mixedMsg), Options{BodyMaxChars: 2000})

	if got.Body != "See attached." {
		t.Errorf("Body = %q", got.Body)
	}
	if strings.Contains(got.Body, "alert") {
		t.Errorf("script content survived sanitization: %q", got.Body)
	}
}

func TestParseAttachmentMetadata(t *testing.T) {
	got := Parse([]byte(mixedMsg), Options{BodyMaxChars: 2000})

	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(got.Attachments))
	}
	att := got.Attachments[0]
	if att.Filename != "notes.txt" {
		t.Errorf("Filename = %q", att.Filename)
	}
	if att.ContentType != "text/plain" {
		t.Errorf("ContentType = %q", att.ContentType)
	}
	if att.Size != 22 {
		t.Errorf("Size = %d, want 22", att.Size)
	}
	if att.Text != "" {
		t.Errorf("Text populated without extraction flag: %q", att.Text)
	}
}

func TestParseAttachmentTextExtraction(t *testing.T) {
	got := Parse([]byte(mixedMsg), Options{
		BodyMaxChars:           2000,
		ExtractAttachmentText:  true,
		AttachmentTextMaxChars: 10,
	})

	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(got.Attachments))
	}
	att := got.Attachments[0]
	if att.Text != "alpha beta" {
		t.Errorf("Text = %q", att.Text)
	}
	if !att.TextTruncated {
		t.Error("TextTruncated not set")
	}
}

func TestParseFallbackOnUnparseableInput(t *testing.T) {
	raw := "this line has no colon\r\nneither does this\r\n\r\nbody text"
	got := Parse([]byte(raw), Options{BodyMaxChars: 2000})

	if !got.ParseFallback {
		t.Fatal("ParseFallback not set for unparseable input")
	}
	if !strings.Contains(got.Body, "no colon") {
		t.Errorf("fallback body lost the raw content: %q", got.Body)
	}
}

func TestBodyTruncationIsRuneSafe(t *testing.T) {
	raw := "Subject: t\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n日本語のテキストです"
	got := Parse([]byte(raw), Options{BodyMaxChars: 4})

	if got.Body != "日本語の" {
		t.Errorf("Body = %q, want a 4-rune cut", got.Body)
	}
	if !got.BodyTruncated {
		t.Error("BodyTruncated not set")
	}
}

func TestSnippetCollapsesWhitespace(t *testing.T) {
	if got := Snippet([]byte(plainMsg), 200); got != "First line. Second line." {
		t.Errorf("Snippet = %q", got)
	}
}

func TestSnippetTruncates(t *testing.T) {
	got := Snippet([]byte(plainMsg), 10)
	if got != "First line" {
		t.Errorf("Snippet = %q", got)
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tags stripped", "<p>Hello <b>world</b></p>", "Hello world"},
		{"script dropped", "<script>alert(1)</script>ok", "ok"},
		{"entities decoded", "a &amp; b", "a & b"},
		{"whitespace collapsed", "a\n\n   b", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.in); got != tt.want {
				t.Errorf("HTMLToText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncateChars(t *testing.T) {
	tests := []struct {
		s       string
		max     int
		want    string
		wantCut bool
	}{
		{"hello", 10, "hello", false},
		{"hello", 5, "hello", false},
		{"hello", 3, "hel", true},
		{"héllo", 2, "hé", true},
		{"anything", 0, "anything", false},
	}
	for _, tt := range tests {
		got, cut := truncateChars(tt.s, tt.max)
		if got != tt.want || cut != tt.wantCut {
			t.Errorf("truncateChars(%q, %d) = (%q, %v), want (%q, %v)",
				tt.s, tt.max, got, cut, tt.want, tt.wantCut)
		}
	}
}
