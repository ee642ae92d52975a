package mailstore

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
)

// messageFromEnvelope extracts envelope data from a fetch buffer.
func messageFromEnvelope(buf *imapclient.FetchMessageBuffer) *Message {
	msg := &Message{}

	if buf.Envelope != nil {
		msg.ID = buf.Envelope.MessageID
		msg.Subject = buf.Envelope.Subject
		msg.ReceivedAt = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			msg.From = from.Addr()
			msg.FromName = from.Name
		}

		for _, to := range buf.Envelope.To {
			msg.To = append(msg.To, to.Addr())
		}
	}

	return msg
}

// parseMIMEBody parses a raw RFC 2822 message body using go-message
// and extracts the text/plain body, text/html body, and whether any
// attachments are present.
func parseMIMEBody(raw []byte) (textBody, htmlBody string, hasAttachment bool) {
	reader := bytes.NewReader(raw)

	mr, err := mail.CreateReader(reader)
	if err != nil {
		// If parsing fails, try treating the whole thing as plain text.
		return string(raw), "", false
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			hasAttachment = true
		}
	}

	return textBody, htmlBody, hasAttachment
}

// previewOf builds a short plain-text preview from a message body. The
// cut lands on a rune boundary so the preview stays valid UTF-8.
func previewOf(text, html string) string {
	src := text
	if src == "" {
		src = html
	}
	src = strings.Join(strings.Fields(src), " ")
	if utf8.RuneCountInString(src) > 200 {
		src = string([]rune(src)[:200])
	}
	return src
}

// buildMIME renders an outgoing message as a multipart/alternative MIME
// document with plain-text and HTML parts.
func buildMIME(from string, msg OutgoingMessage) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})

	toList := make([]*mail.Address, 0, len(msg.To))
	for _, to := range msg.To {
		toList = append(toList, &mail.Address{Address: to})
	}
	h.SetAddressList("To", toList)
	h.SetSubject(msg.Subject)

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating MIME writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline part: %w", err)
	}

	var textHeader mail.InlineHeader
	textHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := iw.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("creating text part: %w", err)
	}
	if _, err := io.WriteString(tw, msg.TextBody); err != nil {
		return nil, fmt.Errorf("writing text part: %w", err)
	}
	tw.Close()

	if msg.HTMLBody != "" {
		var htmlHeader mail.InlineHeader
		htmlHeader.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		hw, err := iw.CreatePart(htmlHeader)
		if err != nil {
			return nil, fmt.Errorf("creating html part: %w", err)
		}
		if _, err := io.WriteString(hw, msg.HTMLBody); err != nil {
			return nil, fmt.Errorf("writing html part: %w", err)
		}
		hw.Close()
	}

	iw.Close()
	mw.Close()

	return buf.Bytes(), nil
}
