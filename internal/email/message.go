// Package email defines the message model handed from the stub relay to providers.
package email

// Email is a message accepted by the stub relay, with its envelope and the
// decoded MIME content.
type Email struct {
	// Envelope, as given in MAIL FROM and RCPT TO.
	MailFrom string
	RcptTo   []string

	// QueueID is assigned when the message is accepted.
	QueueID string

	From        string
	To          []string
	Cc          []string
	Subject     string
	ContentType string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string

	// Raw holds the DATA payload after dot-unstuffing.
	Raw []byte
}

// Attachment is a MIME part with attachment disposition or a file name.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// HasAttachments reports whether any attachment was decoded.
func (e *Email) HasAttachments() bool {
	return len(e.Attachments) > 0
}
