package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zwy923/onebox/internal/classifier"
	"github.com/zwy923/onebox/internal/handler"
	"github.com/zwy923/onebox/internal/listener"
	"github.com/zwy923/onebox/internal/model"
	"github.com/zwy923/onebox/internal/notifier"
	"github.com/zwy923/onebox/internal/outbound"
	"github.com/zwy923/onebox/internal/service/email"
	"github.com/zwy923/onebox/internal/store"
	"github.com/zwy923/onebox/internal/suggest"
	"github.com/zwy923/onebox/pkg/config"
	"github.com/zwy923/onebox/pkg/trace"
	"github.com/zwy923/onebox/pkg/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopDispatcher struct{ n int }

func (d *nopDispatcher) Notify(context.Context, notifier.Event) { d.n++ }

type brokenStore struct{ store.Store }

func (brokenStore) Search(context.Context, store.Query) ([]model.Message, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }

type staticStatuses []listener.Status

func (s staticStatuses) Statuses() []listener.Status { return s }

func newTestRouter(t *testing.T, st store.Store, secret string, checks ...ReadyCheck) (*gin.Engine, *nopDispatcher) {
	t.Helper()
	d := &nopDispatcher{}
	svc := email.NewService(st,
		classifier.MustNew(classifier.DefaultTable()),
		suggest.NewEngine(suggest.DefaultTemplates()),
		d,
		outbound.NewSMTPSender(config.SMTPConfig{}),
		zap.NewNop(),
	)
	r := NewRouter(
		handler.NewEmailHandler(svc, zap.NewNop()),
		handler.NewAccountHandler(staticStatuses{{Account: "sales", State: listener.StateReady}}),
		secret,
		st,
		zap.NewNop(),
		checks...,
	)
	return r.Engine, d
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, m := range []model.Message{
		{ID: "1", Account: "A", Subject: "Invoice", Body: "pay", Folder: model.FolderInbox, Category: model.CategorySpam},
		{ID: "2", Account: "B", Subject: "hello", Body: "an INVOICE inside", Folder: model.FolderInbox, Category: model.CategoryInterested},
		{ID: "3", Account: "A", Subject: "lunch", Body: "interview next week?", Folder: model.FolderArchive, Category: model.CategoryNotInterested},
	} {
		m.ReceivedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, st.Index(context.Background(), &m))
	}
	return st
}

func do(r http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeIDs(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var msgs []model.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestSearchEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, seededStore(t), "")

	w := do(r, http.MethodGet, "/api/emails", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"3", "2", "1"}, decodeIDs(t, w))

	w = do(r, http.MethodGet, "/api/emails?account=A", "")
	assert.Equal(t, []string{"3", "1"}, decodeIDs(t, w))

	w = do(r, http.MethodGet, "/api/emails?searchTerm=invoice", "")
	assert.Equal(t, []string{"2", "1"}, decodeIDs(t, w))

	w = do(r, http.MethodGet, "/api/emails?account=A&folder=Archive", "")
	assert.Equal(t, []string{"3"}, decodeIDs(t, w))

	w = do(r, http.MethodGet, "/api/emails?category=MeetingBooked", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	w = do(r, http.MethodGet, "/api/emails?category=Important", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/emails?limit=1", "")
	assert.Equal(t, []string{"3"}, decodeIDs(t, w))
}

func TestSearchStoreFailureIsExplicit(t *testing.T) {
	r, _ := newTestRouter(t, brokenStore{}, "")

	w := do(r, http.MethodGet, "/api/emails?searchTerm=x", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "connection refused")

	w = do(r, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyzIncludesExtraChecks(t *testing.T) {
	down := pingFunc(func(context.Context) error { return errors.New("broker connection closed") })
	r, _ := newTestRouter(t, store.NewMemoryStore(), "", ReadyCheck{Name: "broker", Check: down})

	w := do(r, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "broker_not_ready", body["status"])
	assert.Equal(t, "broker connection closed", body["error"])

	up := pingFunc(func(context.Context) error { return nil })
	r, _ = newTestRouter(t, store.NewMemoryStore(), "", ReadyCheck{Name: "broker", Check: up})
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz", "").Code)
}

func TestGetMarksReadWithSuggestion(t *testing.T) {
	r, _ := newTestRouter(t, seededStore(t), "")

	w := do(r, http.MethodGet, "/api/emails/A/3", "")
	require.Equal(t, http.StatusOK, w.Code)
	var msg model.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.True(t, msg.Read)
	assert.Contains(t, msg.SuggestedReply, "technical interview")

	w = do(r, http.MethodGet, "/api/emails/B/3", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetCategoryEndpoint(t *testing.T) {
	r, d := newTestRouter(t, seededStore(t), "")

	w := do(r, http.MethodPatch, "/api/emails/A/3/category", `{"category":"Interested"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"Interested"`)
	assert.Equal(t, 1, d.n)

	w = do(r, http.MethodPatch, "/api/emails/A/3/category", `{"category":"Important"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, "/api/emails/A/3/category", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClassifyEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, store.NewMemoryStore(), "")

	w := do(r, http.MethodPost, "/api/classify", `{"subject":"Out of Office: Vacation","body":"interested in learning more"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Out of Office", got["category"])
	assert.Equal(t, "override", got["step"])
}

func TestSendWithoutRelayIsUnavailable(t *testing.T) {
	r, _ := newTestRouter(t, store.NewMemoryStore(), "")

	w := do(r, http.MethodPost, "/api/emails/send", `{"account":"A","to":["lead@example.com"],"subject":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAccountsAndHealth(t *testing.T) {
	r, _ := newTestRouter(t, store.NewMemoryStore(), "")

	w := do(r, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"ready"`)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/metrics", "").Code)
}

func TestTraceHeader(t *testing.T) {
	r, _ := newTestRouter(t, store.NewMemoryStore(), "")

	w := do(r, http.MethodGet, "/healthz", "", trace.HeaderName, "trace-123")
	assert.Equal(t, "trace-123", w.Header().Get(trace.HeaderName))

	w = do(r, http.MethodGet, "/healthz", "")
	assert.Len(t, w.Header().Get(trace.HeaderName), 32)
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	r, _ := newTestRouter(t, seededStore(t), "s3cret")

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/emails", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/emails", "", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)

	token, err := util.GenerateJWT("ops", "s3cret", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/emails", "", "Authorization", "Bearer "+token).Code)
}
