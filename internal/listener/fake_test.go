package listener

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zwy923/onebox/internal/model"
	"github.com/zwy923/onebox/pkg/config"
)

type fakeMailbox struct {
	mu       sync.Mutex
	validity uint32
	msgs     []RawMessage
}

func newFakeMailbox(validity uint32, uids ...uint32) *fakeMailbox {
	m := &fakeMailbox{validity: validity}
	m.add(uids...)
	return m
}

func (m *fakeMailbox) add(uids ...uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range uids {
		m.msgs = append(m.msgs, RawMessage{UID: uid, Data: []byte("raw")})
	}
}

func (m *fakeMailbox) info() MailboxInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next uint32 = 1
	for _, msg := range m.msgs {
		if msg.UID >= next {
			next = msg.UID + 1
		}
	}
	return MailboxInfo{Name: "INBOX", UIDValidity: m.validity, UIDNext: next}
}

type fakeSession struct {
	mbox    *fakeMailbox
	info    MailboxInfo
	trigger chan struct{}
	fail    chan error
	fetches int32
}

func (s *fakeSession) Mailbox() MailboxInfo { return s.info }

func (s *fakeSession) Listen(ctx context.Context, signals chan<- Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
			select {
			case signals <- Signal{}:
			default:
			}
		case err := <-s.fail:
			return err
		}
	}
}

func (s *fakeSession) Fetch(_ context.Context, since uint32) ([]RawMessage, error) {
	atomic.AddInt32(&s.fetches, 1)
	s.mbox.mu.Lock()
	defer s.mbox.mu.Unlock()
	var out []RawMessage
	for _, m := range s.mbox.msgs {
		if m.UID >= since {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeDialer struct {
	mu       sync.Mutex
	mbox     *fakeMailbox
	errs     []error
	always   error
	dials    int32
	sessions chan *fakeSession
}

func newFakeDialer(mbox *fakeMailbox) *fakeDialer {
	return &fakeDialer{mbox: mbox, sessions: make(chan *fakeSession, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ config.AccountConfig) (Session, error) {
	atomic.AddInt32(&d.dials, 1)
	d.mu.Lock()
	if d.always != nil {
		d.mu.Unlock()
		return nil, d.always
	}
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		if err != nil {
			return nil, err
		}
	} else {
		d.mu.Unlock()
	}

	s := &fakeSession{
		mbox:    d.mbox,
		info:    d.mbox.info(),
		trigger: make(chan struct{}, 1),
		fail:    make(chan error, 1),
	}
	d.sessions <- s
	return s, nil
}

// next waits for the session created by the next successful Dial.
func (d *fakeDialer) next() *fakeSession {
	select {
	case s := <-d.sessions:
		return s
	case <-time.After(2 * time.Second):
		panic("no session dialed")
	}
}

type fakeProcessor struct {
	mu     sync.Mutex
	uids   []uint32
	failOn map[uint32]bool
	states []State
}

func (p *fakeProcessor) Process(_ context.Context, account string, raw RawMessage, report func(State)) (*model.Message, error) {
	report(StateParsing)
	report(StateClassifying)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uids = append(p.uids, raw.UID)
	p.states = append(p.states, StateParsing)
	if p.failOn[raw.UID] {
		return nil, errors.New("parse failure")
	}
	return &model.Message{Account: account, UID: raw.UID}, nil
}

func (p *fakeProcessor) seen() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.uids...)
}

func noSleep(delays *[]time.Duration, mu *sync.Mutex) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
}
