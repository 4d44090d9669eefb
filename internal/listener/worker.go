package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zwy923/onebox/internal/model"
	"github.com/zwy923/onebox/pkg/config"
	"github.com/zwy923/onebox/pkg/metrics"
	"github.com/zwy923/onebox/pkg/util"
)

// Processor runs the ingest pipeline for one fetched message, reporting the
// stage it is in through report.
type Processor interface {
	Process(ctx context.Context, account string, raw RawMessage, report func(State)) (*model.Message, error)
}

type WorkerConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts consecutive failed connections put the worker in StateFailed.
	MaxAttempts  int
	FetchTimeout time.Duration
}

// WorkerConfigFrom converts the listener section of the config file.
func WorkerConfigFrom(c config.ListenerConfig) WorkerConfig {
	return WorkerConfig{
		InitialBackoff: time.Duration(c.ReconnectInitialSeconds) * time.Second,
		MaxBackoff:     time.Duration(c.ReconnectMaxSeconds) * time.Second,
		MaxAttempts:    c.MaxAttempts,
		FetchTimeout:   time.Duration(c.FetchTimeoutSecs) * time.Second,
	}
}

// Worker drives one account: connect, wait for signals, fetch new messages
// and hand them to the Processor strictly in UID order.
type Worker struct {
	acct   config.AccountConfig
	dialer Dialer
	proc   Processor
	cfg    WorkerConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	// owned by the Run goroutine
	started     bool
	uidValidity uint32

	mu     sync.Mutex
	status Status
}

func NewWorker(acct config.AccountConfig, dialer Dialer, proc Processor, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Worker{
		acct:   acct,
		dialer: dialer,
		proc:   proc,
		cfg:    cfg,
		logger: logger.With(zap.String("account", acct.ID())),
		sleep:  sleepCtx,
		status: Status{Account: acct.ID(), State: StateDisconnected, Since: time.Now()},
	}
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.status.State = s
	w.status.Since = time.Now()
	w.mu.Unlock()
	w.logger.Debug("Listener state", zap.String("state", string(s)))
}

func (w *Worker) update(fn func(*Status)) {
	w.mu.Lock()
	fn(&w.status)
	w.mu.Unlock()
}

// Run blocks until ctx ends (nil) or the worker gives up (the last error).
func (w *Worker) Run(ctx context.Context) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			w.setState(StateStopped)
			return nil
		}

		w.setState(StateConnecting)
		sess, err := w.dialer.Dial(ctx, w.acct)
		if err == nil {
			attempts = 0
			err = w.serve(ctx, sess)
			if cerr := sess.Close(); cerr != nil {
				w.logger.Debug("Close session", zap.Error(cerr))
			}
		}
		if ctx.Err() != nil {
			w.setState(StateStopped)
			return nil
		}

		w.update(func(s *Status) { s.LastError = err.Error() })
		if util.IsPermanent(err) {
			w.logger.Error("Listener failed permanently", zap.Error(err))
			w.setState(StateFailed)
			return err
		}

		attempts++
		if attempts >= w.cfg.MaxAttempts {
			w.logger.Error("Listener giving up after repeated failures",
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			w.setState(StateFailed)
			return fmt.Errorf("%s: giving up after %d attempts: %w", w.acct.ID(), attempts, err)
		}

		delay := w.backoff(attempts)
		w.logger.Warn("Listener disconnected, reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		w.update(func(s *Status) { s.Reconnects++ })
		metrics.IncrementReconnect(w.acct.ID())
		w.setState(StateBackoff)
		if err := w.sleep(ctx, delay); err != nil {
			w.setState(StateStopped)
			return nil
		}
	}
}

// backoff doubles from InitialBackoff per attempt, capped at MaxBackoff.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.InitialBackoff
	for i := 1; i < attempt && d < w.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > w.cfg.MaxBackoff {
		d = w.cfg.MaxBackoff
	}
	return d
}

func (w *Worker) serve(ctx context.Context, sess Session) error {
	info := sess.Mailbox()
	catchUp := w.baseline(info)

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan Signal, 1)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- sess.Listen(listenCtx, signals)
	}()

	w.setState(StateReady)
	metrics.SetListenerUp(w.acct.ID(), true)
	defer metrics.SetListenerUp(w.acct.ID(), false)
	w.logger.Info("Listener ready",
		zap.String("mailbox", info.Name),
		zap.Uint32("uid_validity", info.UIDValidity),
		zap.Uint32("last_uid", w.Status().LastUID),
	)

	if catchUp {
		signals <- Signal{}
	}

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-listenErr
			return ctx.Err()
		case err := <-listenErr:
			if err == nil {
				err = errors.New("listener stopped")
			}
			return err
		case <-signals:
			if err := w.drain(ctx, sess); err != nil {
				cancel()
				<-listenErr
				return err
			}
			w.setState(StateReady)
		}
	}
}

// baseline sets the UID watermark for a new session and reports whether
// messages that arrived while disconnected must be fetched.
func (w *Worker) baseline(info MailboxInfo) bool {
	if w.started && w.uidValidity == info.UIDValidity {
		return true
	}
	if w.started {
		w.logger.Warn("UIDVALIDITY changed, resetting baseline",
			zap.Uint32("old", w.uidValidity),
			zap.Uint32("new", info.UIDValidity),
		)
	}
	w.started = true
	w.uidValidity = info.UIDValidity

	var last uint32
	if info.UIDNext > 0 {
		last = info.UIDNext - 1
	} else {
		w.logger.Warn("Server did not report UIDNEXT, existing messages will be processed")
	}
	w.update(func(s *Status) { s.LastUID = last })
	return false
}

// drain fetches everything above the watermark and processes it in UID order.
// A failure on one message skips it; only a fetch failure is returned.
func (w *Worker) drain(ctx context.Context, sess Session) error {
	w.setState(StateFetching)
	last := w.Status().LastUID

	fctx := ctx
	if w.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, w.cfg.FetchTimeout)
		defer cancel()
	}
	msgs, err := sess.Fetch(fctx, last+1)
	if err != nil {
		return fmt.Errorf("fetch since %d: %w", last+1, err)
	}

	for _, raw := range msgs {
		if raw.UID <= last {
			continue
		}
		msg, err := w.proc.Process(ctx, w.acct.ID(), raw, w.setState)
		if err != nil {
			w.logger.Warn("Skipping message", zap.Uint32("uid", raw.UID), zap.Error(err))
		}
		last = raw.UID
		w.update(func(s *Status) {
			s.LastUID = raw.UID
			if err != nil {
				s.Skipped++
			}
			if msg != nil {
				s.Processed++
			}
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
