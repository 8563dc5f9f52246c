package imapfetch

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
)

// parseMessage converts one fetched IMAP message into a RawMessage,
// preferring the envelope for structured fields and go-message/mail for
// the MIME body, grounded on nam-hle-task-management's parseMIMEBody.
func parseMessage(buf *imapclient.FetchMessageBuffer, host string) (model.RawMessage, error) {
	raw := model.RawMessage{
		UID:        uint32(buf.UID),
		SizeBytes:  buf.RFC822Size,
		ReceivedAt: buf.InternalDate,
	}

	if buf.Envelope != nil {
		env := buf.Envelope
		raw.Subject = env.Subject
		raw.MessageID = cleanMessageID(env.MessageID)
		if len(env.InReplyTo) > 0 {
			raw.InReplyTo = cleanMessageID(env.InReplyTo[0])
		}
		if len(env.From) > 0 {
			raw.From = addressFromEnvelope(env.From[0])
		}
		raw.To = addressesFromEnvelope(env.To)
		raw.CC = addressesFromEnvelope(env.Cc)
		raw.BCC = addressesFromEnvelope(env.Bcc)
		if !env.Date.IsZero() {
			raw.ReceivedAt = env.Date
		}
	}

	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now()
	}

	var rawSource []byte
	for _, v := range buf.BodySection {
		rawSource = v.Bytes
		break
	}

	headers, body, htmlBody, hasAttach := parseMIME(rawSource)
	raw.Headers = headers
	raw.Body = body
	raw.HTMLBody = htmlBody
	raw.HasAttach = hasAttach

	if raw.MessageID == "" {
		raw.MessageID = fmt.Sprintf("%d@%s", raw.UID, host)
	}
	if raw.InReplyTo == "" {
		if v, ok := raw.Header("In-Reply-To"); ok {
			raw.InReplyTo = cleanMessageID(v)
		}
	}
	if refs, ok := raw.Header("References"); ok {
		raw.References = parseReferences(refs)
	}

	return raw, nil
}

func addressFromEnvelope(a imap.Address) model.Address {
	return model.Address{Name: a.Name, Addr: a.Addr()}
}

func addressesFromEnvelope(list []imap.Address) []model.Address {
	out := make([]model.Address, 0, len(list))
	for _, a := range list {
		addr := a.Addr()
		if addr == "" {
			continue
		}
		out = append(out, model.Address{Name: a.Name, Addr: addr})
	}
	return out
}

// parseMIME reads the raw RFC 5322 source with go-message/mail,
// returning the header map, the preferred text body (plain over HTML),
// the HTML body if present, and whether any attachment part was found.
func parseMIME(raw []byte) (headers map[string][]string, textBody, htmlBody string, hasAttach bool) {
	headers = map[string][]string{}
	if len(raw) == 0 {
		return headers, "", "", false
	}

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return headers, string(raw), "", false
	}
	defer mr.Close()

	for k := mr.Header.Fields(); k.Next(); {
		headers[k.Key()] = append(headers[k.Key()], k.Value())
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}
		case *gomail.AttachmentHeader:
			hasAttach = true
			io.Copy(io.Discard, part.Body)
		}
	}

	return headers, textBody, htmlBody, hasAttach
}

func cleanMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}

// parseReferences implements the tolerant References-header split:
// whitespace-separated tokens, angle brackets stripped, empties dropped.
func parseReferences(header string) []string {
	fields := strings.Fields(header)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = cleanMessageID(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
