package outbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/zwy923/onebox/pkg/config"
)

var ErrNotConfigured = errors.New("smtp relay not configured")

// Mail is an outgoing plain-text message.
type Mail struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Sent describes a delivered message.
type Sent struct {
	MessageID string
	Date      time.Time
	Raw       []byte
}

type Sender interface {
	Send(ctx context.Context, m Mail) (*Sent, error)
}

type sendFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// SMTPSender delivers through a relay, upgrading with STARTTLS when offered.
type SMTPSender struct {
	addr string
	from string
	auth sasl.Client
	send sendFunc
	now  func() time.Time
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	s := &SMTPSender{
		addr: cfg.Addr,
		from: cfg.From,
		send: smtp.SendMail,
		now:  time.Now,
	}
	if cfg.User != "" {
		s.auth = sasl.NewPlainClient("", cfg.User, cfg.Password)
	}
	return s
}

func (s *SMTPSender) Send(ctx context.Context, m Mail) (*Sent, error) {
	if s.addr == "" {
		return nil, ErrNotConfigured
	}
	if m.From == "" {
		m.From = s.from
	}
	if m.From == "" || len(m.To) == 0 {
		return nil, errors.New("from and at least one recipient are required")
	}

	sent, err := Compose(m, s.now())
	if err != nil {
		return nil, err
	}

	fromAddr, err := mail.ParseAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	rcpts := make([]string, 0, len(m.To))
	for _, to := range m.To {
		a, err := mail.ParseAddress(to)
		if err != nil {
			return nil, fmt.Errorf("to %q: %w", to, err)
		}
		rcpts = append(rcpts, a.Address)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, fromAddr.Address, rcpts, bytes.NewReader(sent.Raw))
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("smtp send: %w", err)
		}
	}
	return sent, nil
}

// Compose renders m as a single-part UTF-8 text message.
func Compose(m Mail, now time.Time) (*Sent, error) {
	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := mail.ParseAddressList(joinAddrs(m.To))
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(m.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	id, _ := h.MessageID()

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, m.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &Sent{MessageID: id, Date: now, Raw: buf.Bytes()}, nil
}

func joinAddrs(addrs []string) string {
	var b bytes.Buffer
	for i, a := range addrs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a)
	}
	return b.String()
}
