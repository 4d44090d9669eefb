package listener

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

// maxBodyBytes bounds how much of a single text part is read.
const maxBodyBytes = 1 << 20

// Parsed is the structured content of a raw message.
type Parsed struct {
	MessageID string
	From      string
	To        string
	Subject   string
	Body      string
	Date      time.Time
}

// Parse decodes an RFC 5322 message. The plain text part is preferred; an
// HTML-only message is reduced to its text.
func Parse(data []byte) (Parsed, error) {
	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil && !recoverable(err) || mr == nil {
		return Parsed{}, fmt.Errorf("read header: %w", err)
	}

	var p Parsed
	h := mr.Header
	p.Subject, _ = h.Subject()
	p.From = formatAddresses(h, "From")
	p.To = formatAddresses(h, "To")
	p.MessageID, _ = h.MessageID()
	if date, err := h.Date(); err == nil {
		p.Date = date
	}

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if recoverable(err) {
				continue
			}
			return Parsed{}, fmt.Errorf("read part: %w", err)
		}

		ih, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := ih.ContentType()
		switch {
		case plain == "" && (ct == "text/plain" || ct == ""):
			b, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if err != nil {
				return Parsed{}, fmt.Errorf("read text part: %w", err)
			}
			plain = string(b)
		case htmlBody == "" && ct == "text/html":
			b, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if err != nil {
				return Parsed{}, fmt.Errorf("read html part: %w", err)
			}
			htmlBody = HTMLText(string(b))
		}
	}

	p.Body = strings.TrimSpace(plain)
	if p.Body == "" {
		p.Body = htmlBody
	}
	return p, nil
}

// recoverable reports decode errors that still leave the content readable.
func recoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func formatAddresses(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(h.Get(key))
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name == "" {
			out = append(out, a.Address)
			continue
		}
		out = append(out, a.Name+" <"+a.Address+">")
	}
	return strings.Join(out, ", ")
}

// HTMLText extracts visible text from an HTML document, collapsing whitespace.
func HTMLText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				skip++
			case "br", "p", "div", "li", "tr":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}
