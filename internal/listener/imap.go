package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/zwy923/onebox/pkg/config"
	"github.com/zwy923/onebox/pkg/util"
)

// IMAPDialer connects with go-imap and selects the account's mailbox read-write.
type IMAPDialer struct {
	// IdlePoll is the NOOP poll interval used when the server lacks IDLE.
	IdlePoll time.Duration
	Logger   *zap.Logger
}

func (d *IMAPDialer) Dial(ctx context.Context, acct config.AccountConfig) (Session, error) {
	type result struct {
		c   *client.Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		var (
			c   *client.Client
			err error
		)
		if acct.TLS {
			c, err = client.DialTLS(acct.Addr(), &tls.Config{ServerName: acct.Host})
		} else {
			c, err = client.Dial(acct.Addr())
		}
		done <- result{c, err}
	}()

	var c *client.Client
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.c != nil {
				_ = r.c.Terminate()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("dial %s: %w", acct.Addr(), r.err)
		}
		c = r.c
	}

	if err := c.Login(acct.User, acct.Password); err != nil {
		_ = c.Logout()
		if retryable, _ := util.IsRetryableError(err); retryable {
			return nil, fmt.Errorf("login %s: %w", acct.User, err)
		}
		return nil, util.Permanent(fmt.Errorf("login %s: %w", acct.User, err))
	}

	status, err := c.Select(acct.MailboxName(), false)
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select %s: %w", acct.MailboxName(), err)
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &imapSession{
		c:        c,
		idlePoll: d.IdlePoll,
		logger:   logger.With(zap.String("account", acct.ID())),
		info: MailboxInfo{
			Name:        status.Name,
			UIDValidity: status.UidValidity,
			UIDNext:     status.UidNext,
		},
		fetchReq: make(chan fetchRequest),
		stopped:  make(chan struct{}),
	}, nil
}

type fetchRequest struct {
	since uint32
	reply chan fetchResult
}

type fetchResult struct {
	msgs []RawMessage
	err  error
}

// imapSession serialises all commands through the Listen loop: IDLE is
// paused while a fetch runs and resumed afterwards.
type imapSession struct {
	c        *client.Client
	info     MailboxInfo
	idlePoll time.Duration
	logger   *zap.Logger

	fetchReq chan fetchRequest
	stopped  chan struct{}
}

func (s *imapSession) Mailbox() MailboxInfo { return s.info }

func (s *imapSession) Listen(ctx context.Context, signals chan<- Signal) error {
	defer close(s.stopped)

	updates := make(chan client.Update, 64)
	s.c.Updates = updates

	for {
		stop := make(chan struct{})
		idleDone := make(chan error, 1)
		go func() {
			idleDone <- s.c.Idle(stop, &client.IdleOptions{PollInterval: s.idlePoll})
		}()

		var req *fetchRequest
	idle:
		for {
			select {
			case <-ctx.Done():
				close(stop)
				<-idleDone
				return ctx.Err()
			case err := <-idleDone:
				if err == nil {
					err = errors.New("idle ended unexpectedly")
				}
				return fmt.Errorf("idle: %w", err)
			case u := <-updates:
				s.signal(u, signals)
			case r := <-s.fetchReq:
				req = &r
				close(stop)
				break idle
			}
		}

		if err := s.waitIdle(idleDone, updates, signals); err != nil {
			req.reply <- fetchResult{err: err}
			return fmt.Errorf("stop idle: %w", err)
		}

		msgs, err := s.uidFetch(req.since, updates, signals)
		req.reply <- fetchResult{msgs: msgs, err: err}
		if err != nil && s.c.State() == imap.LogoutState {
			return fmt.Errorf("fetch: %w", err)
		}
	}
}

// waitIdle drains updates until IDLE has been terminated.
func (s *imapSession) waitIdle(idleDone <-chan error, updates <-chan client.Update, signals chan<- Signal) error {
	for {
		select {
		case err := <-idleDone:
			return err
		case u := <-updates:
			s.signal(u, signals)
		}
	}
}

func (s *imapSession) signal(u client.Update, signals chan<- Signal) {
	mu, ok := u.(*client.MailboxUpdate)
	if !ok || mu.Mailbox == nil {
		return
	}
	select {
	case signals <- Signal{Messages: mu.Mailbox.Messages}:
	default:
		// a signal is already pending; the next fetch will see these messages too
	}
}

func (s *imapSession) uidFetch(since uint32, updates <-chan client.Update, signals chan<- Signal) ([]RawMessage, error) {
	if since == 0 {
		since = 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(since, 0)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, messages)
	}()

	var out []RawMessage
	for messages != nil {
		select {
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			// "n:*" always matches the highest UID, even when it is below n.
			if msg.Uid < since {
				continue
			}
			body := msg.GetBody(section)
			if body == nil {
				s.logger.Warn("Fetched message without body", zap.Uint32("uid", msg.Uid))
				continue
			}
			data, err := io.ReadAll(body)
			if err != nil {
				s.logger.Warn("Failed to read message body", zap.Uint32("uid", msg.Uid), zap.Error(err))
				continue
			}
			out = append(out, RawMessage{UID: msg.Uid, InternalDate: msg.InternalDate, Data: data})
		case u := <-updates:
			s.signal(u, signals)
		}
	}
	if err := <-done; err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (s *imapSession) Fetch(ctx context.Context, sinceUID uint32) ([]RawMessage, error) {
	reply := make(chan fetchResult, 1)
	select {
	case s.fetchReq <- fetchRequest{since: sinceUID, reply: reply}:
	case <-s.stopped:
		return nil, errors.New("session is not listening")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.msgs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *imapSession) Close() error {
	return s.c.Logout()
}
