// Package parser decodes messages accepted by the stub relay into email.Email,
// handling RFC 2047 headers, transfer encodings and nested multipart bodies.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/smtp-conformance/internal/email"
)

// Parse decodes a raw RFC 5322 message. A message without Content-Type is
// treated as text/plain. Parts that cannot be decoded are logged and skipped.
func Parse(raw []byte) (*email.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err != nil {
		slog.Warn("unknown charset in message header", "error", err)
	}
	defer mr.Close()

	result := &email.Email{
		RawHeaders: make(map[string][]string),
		Raw:        raw,
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		key := fields.Key()
		result.RawHeaders[key] = append(result.RawHeaders[key], fields.Value())
	}

	result.From = firstAddress(mr.Header, "From")
	result.To = addressList(mr.Header, "To")
	result.Cc = addressList(mr.Header, "Cc")

	if subject, err := mr.Header.Subject(); err == nil {
		result.Subject = subject
	} else {
		slog.Warn("failed to decode subject, keeping raw value", "error", err)
		result.Subject = mr.Header.Get("Subject")
	}

	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		result.MessageID = "<" + id + ">"
	}

	result.ContentType = "text/plain"
	if ct := mr.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			result.ContentType = mediaType
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				slog.Warn("skipping undecodable part", "error", err)
				continue
			}
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		if err := collectPart(part, result); err != nil {
			slog.Warn("failed to read part content", "error", err)
		}
	}

	return result, nil
}

// collectPart files one leaf part as a text body, HTML body or attachment.
func collectPart(part *mail.Part, result *email.Email) error {
	content, err := io.ReadAll(part.Body)
	if err != nil {
		return err
	}

	switch h := part.Header.(type) {
	case *mail.AttachmentHeader:
		mediaType := partMediaType(h.Get("Content-Type"))
		filename, _ := h.Filename()
		result.Attachments = append(result.Attachments, email.Attachment{
			Filename:    fallbackFilename(filename, mediaType),
			ContentType: mediaType,
			Content:     content,
		})

	case *mail.InlineHeader:
		mediaType := partMediaType(h.Get("Content-Type"))
		switch mediaType {
		case "text/plain":
			if result.TextBody == "" {
				result.TextBody = string(content)
			}
		case "text/html":
			if result.HTMLBody == "" {
				result.HTMLBody = string(content)
			}
		default:
			_, params, _ := h.ContentType()
			if name := params["name"]; name != "" {
				result.Attachments = append(result.Attachments, email.Attachment{
					Filename:    name,
					ContentType: mediaType,
					Content:     content,
				})
				return nil
			}
			slog.Warn("unrecognized MIME part, skipping", "content_type", mediaType)
		}
	}
	return nil
}

// partMediaType returns the lower-cased media type, defaulting to text/plain.
func partMediaType(contentType string) string {
	if contentType == "" {
		return "text/plain"
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "text/plain"
	}
	return mediaType
}

func fallbackFilename(filename, mediaType string) string {
	if filename != "" {
		return filename
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok {
		return "attachment." + sub
	}
	return "attachment"
}

func firstAddress(h mail.Header, key string) string {
	list := addressList(h, key)
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

// addressList returns the bare addresses of a header field, falling back to
// a comma split when the field is not a valid RFC 5322 address list.
func addressList(h mail.Header, key string) []string {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}

	addrs, err := h.AddressList(key)
	if err != nil {
		var result []string
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, addr.Address)
	}
	return result
}
