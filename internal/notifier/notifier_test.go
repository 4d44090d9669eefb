package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "github.com/zwy923/onebox/contracts/mq"
	"github.com/zwy923/onebox/internal/model"
	"github.com/zwy923/onebox/pkg/circuitbreaker"
	"github.com/zwy923/onebox/pkg/util"
)

type recorder struct {
	mu     sync.Mutex
	hits   int32
	bodies [][]byte
	status int
}

func (r *recorder) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&r.hits, 1)
		b, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, b)
		r.mu.Unlock()
		w.WriteHeader(r.status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testEvent() Event {
	return NewEvent(&model.Message{
		ID:         "m-1",
		Account:    "sales",
		From:       "lead@example.com",
		Subject:    "Next steps",
		Body:       strings.Repeat("a", 300),
		Category:   model.CategoryInterested,
		ReceivedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	})
}

func TestDispatchAttemptsEverySinkOnce(t *testing.T) {
	webhook := &recorder{status: http.StatusInternalServerError}
	slack := &recorder{status: http.StatusOK}
	wsrv, ssrv := webhook.server(t), slack.server(t)

	n := New(zap.NewNop(), circuitbreaker.Config{},
		NewWebhookSink(wsrv.URL, time.Second),
		NewSlackSink(ssrv.URL, time.Second),
	)

	out := n.Dispatch(context.Background(), testEvent())

	require.Len(t, out.Results, 2)
	assert.Equal(t, "webhook", out.Results[0].Sink)
	assert.Equal(t, StatusFailed, out.Results[0].Status)
	assert.Error(t, out.Results[0].Err)
	assert.Equal(t, "slack", out.Results[1].Sink)
	assert.Equal(t, StatusSent, out.Results[1].Status)
	assert.True(t, out.Delivered())

	assert.EqualValues(t, 1, atomic.LoadInt32(&webhook.hits), "failed sink must not be retried")
	assert.EqualValues(t, 1, atomic.LoadInt32(&slack.hits))
}

func TestWebhookPayload(t *testing.T) {
	rec := &recorder{status: http.StatusNoContent}
	srv := rec.server(t)

	require.NoError(t, NewWebhookSink(srv.URL, time.Second).Send(context.Background(), testEvent()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.bodies[0], &got))
	assert.Equal(t, "interested_lead", got["type"])
	email := got["email"].(map[string]any)
	assert.Equal(t, "lead@example.com", email["from"])
	assert.Equal(t, "Next steps", email["subject"])
	assert.Equal(t, "Interested", email["category"])
	assert.Equal(t, "2024-06-01T12:00:00Z", email["date"])
	assert.Len(t, email["preview"], 200)
}

func TestSlackPayload(t *testing.T) {
	msg := slackMessage(testEvent())

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Equal(t, "🎯 New Interested Lead!", msg.Blocks[0].Text.Text)
	assert.Equal(t, "*From:*\nlead@example.com", msg.Blocks[1].Fields[0].Text)
	assert.Equal(t, "*Subject:*\nNext steps", msg.Blocks[1].Fields[1].Text)
	assert.Equal(t, "*Preview:*\n"+strings.Repeat("a", 150)+"...", msg.Blocks[2].Text.Text)
}

func TestSlackPreviewNotTruncatedWhenShort(t *testing.T) {
	assert.Equal(t, "short body", slackPreview("short body"))
	exact := strings.Repeat("é", 150)
	assert.Equal(t, exact, slackPreview(exact))
	assert.Equal(t, exact+"...", slackPreview(exact+"é"))
}

type failingSink struct{ calls int32 }

func (f *failingSink) Name() string { return "flaky" }
func (f *failingSink) Send(context.Context, Event) error {
	atomic.AddInt32(&f.calls, 1)
	return errors.New("down")
}

func TestFailingSinkAttemptedForEveryEventWithoutBreaker(t *testing.T) {
	sink := &failingSink{}
	n := New(zap.NewNop(), circuitbreaker.Config{}, sink)

	for i := 0; i < 8; i++ {
		out := n.Dispatch(context.Background(), testEvent())
		assert.Equal(t, StatusFailed, out.Results[0].Status)
	}
	assert.EqualValues(t, 8, atomic.LoadInt32(&sink.calls))
}

func TestOpenBreakerSkipsSink(t *testing.T) {
	sink := &failingSink{}
	n := New(zap.NewNop(), circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour}, sink)

	assert.Equal(t, StatusFailed, n.Dispatch(context.Background(), testEvent()).Results[0].Status)
	assert.Equal(t, StatusFailed, n.Dispatch(context.Background(), testEvent()).Results[0].Status)

	out := n.Dispatch(context.Background(), testEvent())
	assert.Equal(t, StatusSkipped, out.Results[0].Status)
	assert.False(t, out.Delivered())
	assert.EqualValues(t, 2, atomic.LoadInt32(&sink.calls))
}

func TestAsyncDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	a := NewAsync(New(zap.NewNop(), circuitbreaker.DefaultConfig(), NewWebhookSink(srv.URL, 5*time.Second)), 5*time.Second)

	done := make(chan struct{})
	go func() {
		a.Notify(context.Background(), testEvent())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on delivery")
	}

	close(release)
	a.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

type fakePublisher struct {
	keys     []string
	payloads []any
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, key string, payload any) error {
	f.keys = append(f.keys, key)
	f.payloads = append(f.payloads, payload)
	return f.err
}

func TestQueuePublishesLeadPayload(t *testing.T) {
	pub := &fakePublisher{}
	NewQueue(pub, zap.NewNop()).Notify(context.Background(), testEvent())

	require.Len(t, pub.keys, 1)
	assert.Equal(t, mqcontracts.RoutingKeyLeadInterested, pub.keys[0])
	payload := pub.payloads[0].(mqcontracts.LeadInterestedPayload)
	assert.Equal(t, "m-1", payload.MessageID)
	assert.Equal(t, "Interested", payload.Category)

	failing := &fakePublisher{err: errors.New("broker down")}
	assert.NotPanics(t, func() {
		NewQueue(failing, zap.NewNop()).Notify(context.Background(), testEvent())
	})
}

type countingDispatcher struct{ events []Event }

func (c *countingDispatcher) Notify(_ context.Context, e Event) {
	c.events = append(c.events, e)
}

func TestGuardedNotifiesOncePerMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	next := &countingDispatcher{}
	g := NewGuarded(next, util.NewDeduper(rdb, time.Hour, zap.NewNop()), zap.NewNop())

	e := testEvent()
	g.Notify(context.Background(), e)
	g.Notify(context.Background(), e)

	other := e
	other.MessageID = "m-2"
	g.Notify(context.Background(), other)

	require.Len(t, next.events, 2)
	assert.Equal(t, "m-1", next.events[0].MessageID)
	assert.Equal(t, "m-2", next.events[1].MessageID)
	assert.True(t, mr.Exists("dedup:notify:sales:m-1"))
}

func TestMemoryGuard(t *testing.T) {
	var g MemoryGuard
	assert.True(t, g.AcquireOnce(context.Background(), "notify", "a:1"))
	assert.False(t, g.AcquireOnce(context.Background(), "notify", "a:1"))
	assert.True(t, g.AcquireOnce(context.Background(), "notify", "a:2"))
}
