package listener

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zwy923/onebox/pkg/config"
	"github.com/zwy923/onebox/pkg/util"
)

var testAccount = config.AccountConfig{Name: "sales", User: "sales@example.com", Host: "imap.example.com"}

func startWorker(t *testing.T, d Dialer, p Processor, cfg WorkerConfig) (*Worker, context.CancelFunc, <-chan error, *[]time.Duration) {
	t.Helper()
	w := NewWorker(testAccount, d, p, cfg, zap.NewNop())
	var (
		delays []time.Duration
		mu     sync.Mutex
	)
	w.sleep = noSleep(&delays, &mu)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(cancel)
	return w, cancel, done, &delays
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerProcessesNewMessagesInUIDOrder(t *testing.T) {
	mbox := newFakeMailbox(7, 1, 2)
	dialer := newFakeDialer(mbox)
	proc := &fakeProcessor{failOn: map[uint32]bool{4: true}}

	w, cancel, done, _ := startWorker(t, dialer, proc, WorkerConfig{MaxAttempts: 3})
	sess := dialer.next()
	waitFor(t, func() bool { return w.Status().State == StateReady })
	assert.EqualValues(t, 2, w.Status().LastUID, "existing mail is the baseline")

	mbox.add(3, 4, 5)
	sess.trigger <- struct{}{}

	waitFor(t, func() bool { return len(proc.seen()) == 3 })
	assert.Equal(t, []uint32{3, 4, 5}, proc.seen())
	waitFor(t, func() bool { return w.Status().State == StateReady })

	st := w.Status()
	assert.EqualValues(t, 5, st.LastUID)
	assert.Equal(t, 2, st.Processed)
	assert.Equal(t, 1, st.Skipped, "a failing message is skipped, not retried")

	// Nothing new: a signal fetches but processes nothing again.
	sess.trigger <- struct{}{}
	waitFor(t, func() bool { return atomic.LoadInt32(&sess.fetches) == 2 })
	assert.Len(t, proc.seen(), 3)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, StateStopped, w.Status().State)
}

func TestWorkerReconnectsAndCatchesUp(t *testing.T) {
	mbox := newFakeMailbox(7, 1)
	dialer := newFakeDialer(mbox)
	proc := &fakeProcessor{}

	w, cancel, done, delays := startWorker(t, dialer, proc, WorkerConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		MaxAttempts:    3,
	})
	first := dialer.next()
	waitFor(t, func() bool { return w.Status().State == StateReady })

	// Mail arrives without a signal, then the connection drops.
	mbox.add(2, 3)
	first.fail <- errors.New("connection reset")

	dialer.next()
	waitFor(t, func() bool { return len(proc.seen()) == 2 })
	assert.Equal(t, []uint32{2, 3}, proc.seen())

	st := w.Status()
	assert.Equal(t, 1, st.Reconnects)
	assert.Equal(t, "connection reset", st.LastError)
	assert.Equal(t, []time.Duration{time.Second}, *delays)

	cancel()
	assert.NoError(t, <-done)
}

func TestWorkerResetsBaselineOnUIDValidityChange(t *testing.T) {
	mbox := newFakeMailbox(7, 1, 2)
	dialer := newFakeDialer(mbox)
	proc := &fakeProcessor{}

	w, cancel, done, _ := startWorker(t, dialer, proc, WorkerConfig{MaxAttempts: 3})
	first := dialer.next()
	waitFor(t, func() bool { return w.Status().State == StateReady })

	mbox.mu.Lock()
	mbox.validity = 8
	mbox.mu.Unlock()
	mbox.add(3)
	first.fail <- errors.New("bye")

	second := dialer.next()
	waitFor(t, func() bool { return w.Status().LastUID == 3 && w.Status().State == StateReady })
	assert.Empty(t, proc.seen(), "a new UIDVALIDITY starts from the current mailbox head")
	assert.Zero(t, atomic.LoadInt32(&second.fetches))

	cancel()
	assert.NoError(t, <-done)
}

func TestWorkerAuthFailureIsTerminal(t *testing.T) {
	dialer := newFakeDialer(newFakeMailbox(1))
	dialer.always = util.Permanent(errors.New("login: invalid credentials"))

	w, _, done, delays := startWorker(t, dialer, &fakeProcessor{}, WorkerConfig{MaxAttempts: 5})

	err := <-done
	assert.True(t, util.IsPermanent(err))
	assert.Equal(t, StateFailed, w.Status().State)
	assert.EqualValues(t, 1, atomic.LoadInt32(&dialer.dials))
	assert.Empty(t, *delays)
}

func TestWorkerGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := newFakeDialer(newFakeMailbox(1))
	dialer.always = errors.New("dial tcp: connection refused")

	w, _, done, delays := startWorker(t, dialer, &fakeProcessor{}, WorkerConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
		MaxAttempts:    4,
	})

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 4 attempts")
	assert.Equal(t, StateFailed, w.Status().State)
	assert.EqualValues(t, 4, atomic.LoadInt32(&dialer.dials))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *delays)
}

func TestBackoffIsBounded(t *testing.T) {
	w := NewWorker(testAccount, nil, nil, WorkerConfig{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second}, zap.NewNop())
	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 4*time.Second, w.backoff(3))
	assert.Equal(t, 10*time.Second, w.backoff(10))
	assert.Equal(t, 10*time.Second, w.backoff(100))
}

func TestManagerIsolatesAccounts(t *testing.T) {
	good := newFakeDialer(newFakeMailbox(1, 1))
	bad := config.AccountConfig{Name: "broken", Host: "imap.broken.example"}

	dialer := &routingDialer{
		byAccount: map[string]Dialer{testAccount.ID(): good},
		fallback:  &fakeDialer{always: util.Permanent(errors.New("auth failed"))},
	}
	m := NewManager([]config.AccountConfig{testAccount, bad}, dialer, &fakeProcessor{}, WorkerConfig{MaxAttempts: 2}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	good.next()
	waitFor(t, func() bool {
		st := m.Statuses()
		return st[0].State == StateReady && st[1].State == StateFailed
	})

	cancel()
	err := <-done
	assert.True(t, util.IsPermanent(err))
	assert.Equal(t, StateStopped, m.Statuses()[0].State)
}

type routingDialer struct {
	byAccount map[string]Dialer
	fallback  Dialer
}

func (r *routingDialer) Dial(ctx context.Context, acct config.AccountConfig) (Session, error) {
	if d, ok := r.byAccount[acct.ID()]; ok {
		return d.Dial(ctx, acct)
	}
	return r.fallback.Dial(ctx, acct)
}
