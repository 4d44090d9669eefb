package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zwy923/onebox/pkg/trace"
)

type fakeAcker struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcker) Ack(uint64, bool) error { f.acks++; return nil }
func (f *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeue = f.requeue || requeue
	return nil
}
func (f *fakeAcker) Reject(_ uint64, requeue bool) error {
	f.nacks++
	f.requeue = f.requeue || requeue
	return nil
}

type fakeParker struct {
	bodies  [][]byte
	reasons []string
}

func (f *fakeParker) Park(_ context.Context, _ string, body []byte, reason string) error {
	f.bodies = append(f.bodies, body)
	f.reasons = append(f.reasons, reason)
	return nil
}

func newTestConsumer(h MessageHandler) (*Consumer, *fakeParker) {
	parker := &fakeParker{}
	c := &Consumer{routingKey: "lead.interested", logger: zap.NewNop()}
	c.SetHandler(h)
	c.SetParker(parker)
	return c, parker
}

func TestConsumerAcksOnSuccess(t *testing.T) {
	var gotTrace string
	c, parker := newTestConsumer(func(ctx context.Context, data json.RawMessage) error {
		gotTrace = trace.FromContext(ctx)
		return nil
	})
	acker := &fakeAcker{}

	c.handle(context.Background(), amqp091.Delivery{
		Acknowledger: acker,
		Body:         []byte(`{}`),
		Headers:      amqp091.Table{trace.HeaderName: "abc"},
	})

	assert.Equal(t, 1, acker.acks)
	assert.Zero(t, acker.nacks)
	assert.Empty(t, parker.bodies)
	assert.Equal(t, "abc", gotTrace)
}

func TestConsumerParksFailuresWithoutRequeue(t *testing.T) {
	c, parker := newTestConsumer(func(context.Context, json.RawMessage) error {
		return errors.New("sink down")
	})
	acker := &fakeAcker{}

	c.handle(context.Background(), amqp091.Delivery{Acknowledger: acker, Body: []byte(`{"a":1}`)})

	assert.Zero(t, acker.acks)
	assert.Equal(t, 1, acker.nacks)
	assert.False(t, acker.requeue)
	require.Len(t, parker.bodies, 1)
	assert.JSONEq(t, `{"a":1}`, string(parker.bodies[0]))
	assert.Equal(t, "sink down", parker.reasons[0])
}

func TestConsumerRecoversPanics(t *testing.T) {
	c, parker := newTestConsumer(func(context.Context, json.RawMessage) error {
		panic("bad payload")
	})
	acker := &fakeAcker{}

	assert.NotPanics(t, func() {
		c.handle(context.Background(), amqp091.Delivery{Acknowledger: acker, Body: []byte(`{}`)})
	})
	assert.Equal(t, 1, acker.nacks)
	assert.False(t, acker.requeue)
	require.Len(t, parker.reasons, 1)
	assert.Contains(t, parker.reasons[0], "bad payload")
}

func TestPublisherPingWithoutConnection(t *testing.T) {
	p := &Publisher{}
	assert.False(t, p.IsConnected())
	assert.ErrorIs(t, p.Ping(context.Background()), ErrNotConnected)
}
