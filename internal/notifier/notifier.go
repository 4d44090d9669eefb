package notifier

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zwy923/onebox/pkg/circuitbreaker"
	"github.com/zwy923/onebox/pkg/metrics"
	"github.com/zwy923/onebox/pkg/otel"
)

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped" // breaker open, no attempt made
)

type Result struct {
	Sink   string
	Status Status
	Err    error
}

// Outcome holds one Result per sink, in sink order.
type Outcome struct {
	Results []Result
}

// Delivered reports whether at least one sink accepted the event.
func (o Outcome) Delivered() bool {
	for _, r := range o.Results {
		if r.Status == StatusSent {
			return true
		}
	}
	return false
}

type guardedSink struct {
	sink    Sink
	breaker *circuitbreaker.CircuitBreaker // nil when breakers are off
}

// Notifier fans an Event out to every sink. Each sink gets at most one
// attempt per event and failures are never retried: delivery is best-effort
// and at-most-once.
type Notifier struct {
	sinks  []guardedSink
	logger *zap.Logger
}

// New builds a Notifier. A breaker is placed in front of each sink only when
// breaker.FailureThreshold is positive; otherwise every event is attempted on
// every sink.
func New(logger *zap.Logger, breaker circuitbreaker.Config, sinks ...Sink) *Notifier {
	n := &Notifier{logger: logger}
	for _, s := range sinks {
		gs := guardedSink{sink: s}
		if breaker.FailureThreshold > 0 {
			gs.breaker = circuitbreaker.NewCircuitBreaker(breaker)
		}
		n.sinks = append(n.sinks, gs)
	}
	return n
}

// Sinks returns the configured sink names.
func (n *Notifier) Sinks() []string {
	names := make([]string, 0, len(n.sinks))
	for _, s := range n.sinks {
		names = append(names, s.sink.Name())
	}
	return names
}

// Dispatch attempts all sinks concurrently and waits for them. A failing sink
// does not affect the others.
func (n *Notifier) Dispatch(ctx context.Context, e Event) Outcome {
	out := Outcome{Results: make([]Result, len(n.sinks))}

	var g errgroup.Group
	for i, s := range n.sinks {
		g.Go(func() error {
			out.Results[i] = n.send(ctx, s, e)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (n *Notifier) send(ctx context.Context, s guardedSink, e Event) Result {
	name := s.sink.Name()
	start := time.Now()
	ctx, end := otel.StartSpan(ctx, "notify."+name,
		attribute.String("account", e.Account),
		attribute.String("message_id", e.MessageID),
	)
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(func() error {
			return s.sink.Send(ctx, e)
		})
	} else {
		err = s.sink.Send(ctx, e)
	}
	end(err)

	res := Result{Sink: name, Status: StatusSent}
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		res.Status = StatusSkipped
		res.Err = err
		n.logger.Warn("Notification skipped, sink breaker open",
			zap.String("sink", name),
			zap.String("account", e.Account),
			zap.String("message_id", e.MessageID),
		)
	case err != nil:
		res.Status = StatusFailed
		res.Err = err
		n.logger.Error("Notification failed, dropping event",
			zap.String("sink", name),
			zap.String("account", e.Account),
			zap.String("message_id", e.MessageID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	default:
		n.logger.Info("Notification sent",
			zap.String("sink", name),
			zap.String("account", e.Account),
			zap.String("message_id", e.MessageID),
		)
	}
	metrics.IncrementNotification(name, string(res.Status))
	return res
}
