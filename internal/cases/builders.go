package cases

import (
	"bytes"
	"encoding/base64"
	"strings"
)

const crlf = "\r\n"

// Fixed boundaries for the multipart cases. Neither string occurs in any part body.
const (
	AlternativeBoundary = "----=_Part_TEST4_BOUNDARY"
	MixedBoundary       = "----=_Part_TEST5_BOUNDARY"
)

// Source texts whose encoded forms are asserted by the relay checks.
const (
	EncodedSubjectText = "Test 3 - Unicode subject test"
	EncodedBodyText    = "Body with UTF-8 content encoded in base64."
	AttachmentName     = "test_file.txt"
	AttachmentContent  = "This is the content of the attached file.\nLine 2.\nLine 3."
)

// builder accumulates a message. Writes to a bytes.Buffer cannot fail.
type builder struct {
	buf bytes.Buffer
}

// newMessage starts a message with the From and To fields every case carries.
func newMessage(sender, recipient string) *builder {
	b := &builder{}
	b.header("From", sender)
	b.header("To", recipient)
	return b
}

func (b *builder) header(key, value string) *builder {
	b.buf.WriteString(key + ": " + value + crlf)
	return b
}

// body ends the header block with the single empty line and appends each
// line CRLF-terminated. No lines yields a zero-length body.
func (b *builder) body(lines ...string) *builder {
	b.buf.WriteString(crlf)
	for _, line := range lines {
		b.buf.WriteString(line + crlf)
	}
	return b
}

// raw ends the header block and appends content verbatim.
func (b *builder) raw(content string) *builder {
	b.buf.WriteString(crlf)
	b.buf.WriteString(content)
	return b
}

func (b *builder) bytes() []byte {
	return b.buf.Bytes()
}

type field struct {
	key, value string
}

type part struct {
	fields  []field
	content string
}

// multipart ends the header block and writes parts framed by boundary.
// Part header fields keep their given order. Each delimiter after the first
// is preceded by CRLF, and the body ends with "--boundary--" CRLF.
func (b *builder) multipart(boundary string, parts ...part) *builder {
	b.buf.WriteString(crlf)
	for i, p := range parts {
		if i > 0 {
			b.buf.WriteString(crlf)
		}
		b.buf.WriteString("--" + boundary + crlf)
		for _, f := range p.fields {
			b.buf.WriteString(f.key + ": " + f.value + crlf)
		}
		b.buf.WriteString(crlf)
		b.buf.WriteString(p.content)
	}
	b.buf.WriteString(crlf + "--" + boundary + "--" + crlf)
	return b
}

// EncodeWord renders s as an RFC 2047 encoded-word using the UTF-8 charset
// and the B encoding. Unlike mime.BEncoding it always encodes, ASCII included.
func EncodeWord(s string) string {
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(s)) + "?="
}

// PlainText is the minimal valid message with no Content-Type header.
func PlainText(sender, recipient string) []byte {
	return newMessage(sender, recipient).
		header("Subject", "[Test 1] Plain text email").
		body(
			"This is a simple plain text test email from smtp-conformance.",
			"If you received this, basic email sending works correctly.",
		).
		bytes()
}

// HTML sends a text/html body with nested tags and entities.
func HTML(sender, recipient string) []byte {
	html := "<html><body>" +
		"<h2 style='color: #2e6da4;'>smtp-conformance Test</h2>" +
		"<p>This is an <strong>HTML</strong> email with:</p>" +
		"<ul>" +
		"<li>Bold text</li>" +
		"<li>A list</li>" +
		"<li>Special chars: &amp; &lt; &gt; &quot;</li>" +
		"</ul>" +
		"<p style='color: green;'>If you see this formatted, HTML rendering works.</p>" +
		"</body></html>"

	return newMessage(sender, recipient).
		header("Subject", "[Test 2] HTML email").
		header("Content-Type", "text/html; charset=utf-8").
		body(html).
		bytes()
}

// EncodedSubject uses an RFC 2047 subject and a base64 transfer-encoded body.
func EncodedSubject(sender, recipient string) []byte {
	return newMessage(sender, recipient).
		header("Subject", EncodeWord(EncodedSubjectText)).
		header("Content-Type", "text/plain; charset=utf-8").
		header("Content-Transfer-Encoding", "base64").
		body(base64.StdEncoding.EncodeToString([]byte(EncodedBodyText))).
		bytes()
}

// MultipartAlternative carries a text/plain and a text/html rendition.
func MultipartAlternative(sender, recipient string) []byte {
	return newMessage(sender, recipient).
		header("Subject", "[Test 4] Multipart alternative").
		header("MIME-Version", "1.0").
		header("Content-Type", `multipart/alternative; boundary="`+AlternativeBoundary+`"`).
		multipart(AlternativeBoundary,
			part{
				fields: []field{
					{"Content-Type", "text/plain; charset=utf-8"},
					{"Content-Transfer-Encoding", "7bit"},
				},
				content: "This is the PLAIN TEXT version." + crlf +
					"You should NOT see this if your client supports HTML." + crlf,
			},
			part{
				fields: []field{
					{"Content-Type", "text/html; charset=utf-8"},
					{"Content-Transfer-Encoding", "7bit"},
				},
				content: "<html><body><h3>Multipart Alternative Test</h3>" +
					"<p>This is the <em>HTML version</em>. The relay should prefer this over plain text.</p>" +
					"</body></html>" + crlf,
			},
		).
		bytes()
}

// Attachment is multipart/mixed with a text part and a named base64 attachment.
func Attachment(sender, recipient string) []byte {
	return newMessage(sender, recipient).
		header("Subject", "[Test 5] Email with attachment").
		header("MIME-Version", "1.0").
		header("Content-Type", `multipart/mixed; boundary="`+MixedBoundary+`"`).
		multipart(MixedBoundary,
			part{
				fields: []field{
					{"Content-Type", "text/plain; charset=utf-8"},
					{"Content-Transfer-Encoding", "7bit"},
				},
				content: "This email has a text file attachment (" + AttachmentName + ")." + crlf,
			},
			part{
				fields: []field{
					{"Content-Type", `text/plain; name="` + AttachmentName + `"`},
					{"Content-Disposition", `attachment; filename="` + AttachmentName + `"`},
					{"Content-Transfer-Encoding", "base64"},
				},
				content: base64.StdEncoding.EncodeToString([]byte(AttachmentContent)) + crlf,
			},
		).
		bytes()
}

// QuotedPrintable escapes CR, LF and the UTF-8 bytes of "éèê" as =XX
// sequences and splits one logical line with a soft line break.
func QuotedPrintable(sender, recipient string) []byte {
	qp := "This email uses quoted-printable encoding.=0D=0A" +
		"Special chars: =C3=A9=C3=A8=C3=AA (accented e variants)=0D=0A" +
		"Long line that should be soft-wrapped with an equals sign at the end of =" + crlf +
		"the line to test proper QP decoding." + crlf

	return newMessage(sender, recipient).
		header("Subject", "[Test 6] Quoted-printable encoding").
		header("Content-Type", "text/plain; charset=utf-8").
		header("Content-Transfer-Encoding", "quoted-printable").
		raw(qp).
		bytes()
}

// CcHeader repeats the To address in Cc to probe recipient deduplication.
func CcHeader(sender, recipient string) []byte {
	return newMessage(sender, recipient).
		header("Cc", recipient).
		header("Subject", "[Test 7] CC header test").
		body(
			"This email has a CC header set to the same recipient.",
			"Tests that CC addresses are parsed and deduplicated from To recipients.",
		).
		bytes()
}

// MissingContentType omits Content-Type; relays must fall back to text/plain.
func MissingContentType(sender, recipient string) []byte {
	return newMessage(sender, recipient).
		header("Subject", "[Test 8] No Content-Type header").
		body(
			"This email has no Content-Type header at all.",
			"The relay should handle this gracefully and treat it as plain text.",
		).
		bytes()
}

// LongSubject carries a single unfolded Subject line of roughly 270 octets.
func LongSubject(sender, recipient string) []byte {
	words := strings.TrimSpace(strings.Repeat("word ", 50))

	return newMessage(sender, recipient).
		header("Subject", "[Test 9] Long subject: "+words).
		body("This email has a very long subject line to test handling of oversized headers.").
		bytes()
}

// EmptyBody is a header block followed by the separator and nothing else.
func EmptyBody(sender, recipient string) []byte {
	return newMessage(sender, recipient).
		header("Subject", "[Test 10] Empty body").
		body().
		bytes()
}
