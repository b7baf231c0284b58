package parser

import (
	"strings"
	"testing"

	"github.com/shineum/smtp-conformance/internal/cases"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "sender@example.com")
	}
	if len(msg.To) != 1 || msg.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, "<test123@example.com>")
	}
	if msg.TextBody != "Hello, this is a plain text email." {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Hello, this is a plain text email.")
	}
	if msg.HTMLBody != "" {
		t.Errorf("HTMLBody: got %q, want empty", msg.HTMLBody)
	}
	if string(msg.Raw) != string(raw) {
		t.Error("Raw should hold the original bytes")
	}
}

func TestParseMissingContentType(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: No Content Type",
		"",
		"Body without content type header",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentType != "text/plain" {
		t.Errorf("ContentType: got %q, want text/plain", msg.ContentType)
	}
	if msg.TextBody != "Body without content type header" {
		t.Errorf("TextBody: got %q", msg.TextBody)
	}
}

func TestParseMalformedHeader(t *testing.T) {
	t.Parallel()

	raw := []byte("no colon on this line\r\n\r\nbody\r\n")
	if _, err := Parse(raw); err == nil {
		t.Error("expected error for malformed header block, got nil")
	}
}

func TestParseEmptyAddressFields(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: No To",
		"Content-Type: text/plain",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.To != nil {
		t.Errorf("To: got %v, want nil", msg.To)
	}
	if msg.Cc != nil {
		t.Errorf("Cc: got %v, want nil", msg.Cc)
	}
}

func TestParseRawHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"X-Custom-Header: custom-value",
		"Subject: Headers Test",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := msg.RawHeaders["X-Custom-Header"]; len(got) != 1 || got[0] != "custom-value" {
		t.Errorf("X-Custom-Header: got %v, want [custom-value]", got)
	}
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		`Content-Type: multipart/alternative; boundary="inner"`,
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"plain",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>html</p>",
		"--inner--",
		"--outer",
		`Content-Type: application/octet-stream`,
		`Content-Disposition: attachment; filename="data.bin"`,
		"Content-Transfer-Encoding: base64",
		"",
		"AAEC",
		"--outer--",
		"",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TextBody != "plain" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "plain")
	}
	if msg.HTMLBody != "<p>html</p>" {
		t.Errorf("HTMLBody: got %q, want %q", msg.HTMLBody, "<p>html</p>")
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "data.bin" {
		t.Errorf("Filename: got %q, want data.bin", att.Filename)
	}
	if string(att.Content) != "\x00\x01\x02" {
		t.Errorf("Content: got %q, want %q", att.Content, "\x00\x01\x02")
	}
}

// Every catalogue message must decode to the content it was built from.
func TestParseCatalogue(t *testing.T) {
	t.Parallel()

	const (
		sender    = "sender@example.com"
		recipient = "recipient@example.com"
	)

	for _, tc := range cases.Catalogue() {
		t.Run(tc.Label, func(t *testing.T) {
			t.Parallel()

			msg, err := Parse(tc.Build(sender, recipient))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.From != sender {
				t.Errorf("From: got %q, want %q", msg.From, sender)
			}
			if len(msg.To) != 1 || msg.To[0] != recipient {
				t.Errorf("To: got %v, want [%s]", msg.To, recipient)
			}
			if msg.Subject == "" {
				t.Error("Subject should not be empty")
			}

			switch tc.Number {
			case 2:
				if !strings.Contains(msg.HTMLBody, "<strong>HTML</strong>") {
					t.Errorf("HTMLBody: got %q", msg.HTMLBody)
				}
			case 3:
				if msg.Subject != cases.EncodedSubjectText {
					t.Errorf("Subject: got %q, want %q", msg.Subject, cases.EncodedSubjectText)
				}
				if msg.TextBody != cases.EncodedBodyText {
					t.Errorf("TextBody: got %q, want %q", msg.TextBody, cases.EncodedBodyText)
				}
			case 4:
				if !strings.Contains(msg.TextBody, "PLAIN TEXT version") {
					t.Errorf("TextBody: got %q", msg.TextBody)
				}
				if !strings.Contains(msg.HTMLBody, "HTML version") {
					t.Errorf("HTMLBody: got %q", msg.HTMLBody)
				}
			case 5:
				if len(msg.Attachments) != 1 {
					t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
				}
				if msg.Attachments[0].Filename != cases.AttachmentName {
					t.Errorf("Filename: got %q", msg.Attachments[0].Filename)
				}
				if string(msg.Attachments[0].Content) != cases.AttachmentContent {
					t.Errorf("Content: got %q", msg.Attachments[0].Content)
				}
			case 6:
				if !strings.Contains(msg.TextBody, "Special chars: \xc3\xa9\xc3\xa8\xc3\xaa") {
					t.Errorf("TextBody: got %q", msg.TextBody)
				}
				if !strings.Contains(msg.TextBody, "end of the line") {
					t.Errorf("soft line break not removed: %q", msg.TextBody)
				}
			case 7:
				if len(msg.Cc) != 1 || msg.Cc[0] != recipient {
					t.Errorf("Cc: got %v, want [%s]", msg.Cc, recipient)
				}
			case 8:
				if msg.ContentType != "text/plain" {
					t.Errorf("ContentType: got %q, want text/plain", msg.ContentType)
				}
			case 10:
				if msg.TextBody != "" {
					t.Errorf("TextBody: got %q, want empty", msg.TextBody)
				}
			}
		})
	}
}
