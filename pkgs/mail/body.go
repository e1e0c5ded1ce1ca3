package mail

import (
	"bytes"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
)

// parseRawMessage parses RFC 5322 source bytes into the Message's body and
// attachment fields. Used by both the IMAP and POP3 backends so the
// materialization logic lives in one place.
func parseRawMessage(msg *Message, raw []byte) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		// Unparseable content: keep the raw bytes as plain text.
		msg.TextBody = string(raw)
		return
	}
	parseEntityBody(msg, entity)
}

func parseEntityBody(msg *Message, entity *gomessage.Entity) {
	if mr := entity.MultipartReader(); mr != nil {
		parseMultipart(msg, mr)
	} else {
		parseSinglePart(msg, entity)
	}
}

// parseMultipart iterates over parts of a multipart message, filling the
// first text/plain and text/html parts and collecting the rest as
// attachments. Nested multiparts are walked recursively.
func parseMultipart(msg *Message, mr gomessage.MultipartReader) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		ct, _, _ := part.Header.ContentType()

		switch {
		case strings.HasPrefix(ct, "text/plain") && msg.TextBody == "":
			if body, err := io.ReadAll(part.Body); err == nil {
				msg.TextBody = string(body)
			}

		case strings.HasPrefix(ct, "text/html") && msg.HTMLBody == "":
			if body, err := io.ReadAll(part.Body); err == nil {
				msg.HTMLBody = string(body)
			}

		case strings.HasPrefix(ct, "multipart/"):
			if nested := part.MultipartReader(); nested != nil {
				parseMultipart(msg, nested)
			}

		default:
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			h := gomail.AttachmentHeader{Header: part.Header}
			filename, _ := h.Filename()
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: ct,
				Size:        int64(len(body)),
				Data:        body,
			})
		}
	}
}

func parseSinglePart(msg *Message, entity *gomessage.Entity) {
	ct, _, _ := entity.Header.ContentType()
	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return
	}
	if strings.HasPrefix(ct, "text/html") {
		msg.HTMLBody = string(body)
	} else {
		msg.TextBody = string(body)
	}
}
