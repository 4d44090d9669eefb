package notifier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	mqcontracts "github.com/zwy923/onebox/contracts/mq"
	"github.com/zwy923/onebox/pkg/trace"
)

// Dispatcher hands an Event off for delivery without blocking the caller.
//
// Delivery is best-effort and at-most-once: Notify never reports failure,
// never retries, and a dropped notification has no effect on the message it
// describes.
type Dispatcher interface {
	Notify(ctx context.Context, e Event)
}

// Async runs Notifier.Dispatch on its own goroutine per event.
type Async struct {
	notifier *Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewAsync bounds each dispatch by timeout when positive.
func NewAsync(n *Notifier, timeout time.Duration) *Async {
	return &Async{notifier: n, timeout: timeout}
}

func (a *Async) Notify(ctx context.Context, e Event) {
	// Detached from the caller so cancelling ingestion does not cancel delivery.
	dctx := trace.WithContext(context.Background(), trace.FromContext(ctx))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if a.timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(dctx, a.timeout)
			defer cancel()
		}
		a.notifier.Dispatch(dctx, e)
	}()
}

// Wait blocks until in-flight dispatches finish.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Publisher is the subset of mq.Publisher used by Queue.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Queue publishes events for cmd/worker to deliver.
type Queue struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewQueue(p Publisher, logger *zap.Logger) *Queue {
	return &Queue{publisher: p, logger: logger}
}

func (q *Queue) Notify(ctx context.Context, e Event) {
	if err := q.publisher.Publish(ctx, mqcontracts.RoutingKeyLeadInterested, ToPayload(e)); err != nil {
		q.logger.Error("Failed to publish lead notification, dropping event",
			zap.String("account", e.Account),
			zap.String("message_id", e.MessageID),
			zap.Error(err),
		)
	}
}

func ToPayload(e Event) mqcontracts.LeadInterestedPayload {
	return mqcontracts.LeadInterestedPayload{
		Account:     e.Account,
		MessageID:   e.MessageID,
		Category:    string(e.Category),
		From:        e.From,
		Subject:     e.Subject,
		BodyPreview: e.BodyPreview,
		ReceivedAt:  e.ReceivedAt,
	}
}

// Guard remembers which messages were already notified.
type Guard interface {
	AcquireOnce(ctx context.Context, scope, key string) bool
}

// Guarded drops events for messages that were notified before, so a message
// produces at most one notification however often it becomes Interested.
type Guarded struct {
	next   Dispatcher
	guard  Guard
	logger *zap.Logger
}

func NewGuarded(next Dispatcher, guard Guard, logger *zap.Logger) *Guarded {
	return &Guarded{next: next, guard: guard, logger: logger}
}

func (g *Guarded) Notify(ctx context.Context, e Event) {
	if !g.guard.AcquireOnce(ctx, "notify", e.Account+":"+e.MessageID) {
		g.logger.Info("Message already notified, skipping",
			zap.String("account", e.Account),
			zap.String("message_id", e.MessageID),
		)
		return
	}
	g.next.Notify(ctx, e)
}

// MemoryGuard is a process-local Guard for deployments without redis.
type MemoryGuard struct {
	seen sync.Map
}

func (m *MemoryGuard) AcquireOnce(_ context.Context, scope, key string) bool {
	_, loaded := m.seen.LoadOrStore(scope+":"+key, struct{}{})
	return !loaded
}
