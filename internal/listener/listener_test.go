package listener

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pbaity/hubscript/internal/dispatch"
	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/internal/queue"
	"github.com/pbaity/hubscript/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testInitLogger initializes the logger for test execution, discarding output.
func testInitLogger(t *testing.T) {
	t.Helper()
	settings := models.ApplicationSettings{LogLevel: "error", LogFormat: "text"}
	err := logger.Init(settings, io.Discard)
	require.NoError(t, err, "Failed to initialize logger for test")
}

// --- Mock Queue ---
type mockQueue struct {
	EnqueueFunc func(event models.Event) error
	mu          sync.Mutex
	callCount   int
	lastEvent   models.Event
}

func (m *mockQueue) TryEnqueue(event models.Event) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.lastEvent = event
	m.mu.Unlock()
	if m.EnqueueFunc != nil {
		if err := m.EnqueueFunc(event); err != nil {
			return "", err
		}
	}
	return event.ID, nil
}

func (m *mockQueue) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// --- Mock Dispatcher ---
type mockDispatcher struct {
	ValidateFunc func(ev models.Event) error
	Outcome      models.Outcome
	mu           sync.Mutex
	dispatched   []models.Event
}

func (m *mockDispatcher) Validate(ev models.Event) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ev)
	}
	return nil
}

func (m *mockDispatcher) Dispatch(ctx context.Context, ev models.Event) dispatch.Decision {
	m.mu.Lock()
	m.dispatched = append(m.dispatched, ev)
	m.mu.Unlock()
	return dispatch.Decision{EventID: ev.ID, Kind: ev.Kind, Outcome: m.Outcome}
}

func (m *mockDispatcher) Dispatched() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Event(nil), m.dispatched...)
}

const (
	processingBody   = `{"kind":"asset_processing","asset":{"id":1},"file":{"id":2},"metadata":{"Width":1920}}`
	modificationBody = `{"kind":"entity_modification","triggering_user_id":100,"target":{"id":1,"definition":"M.Asset"}}`
)

func startService(t *testing.T, listeners []models.ListenerConfig, q *mockQueue, d *mockDispatcher) (*Service, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	service := NewService(&models.Config{Listeners: listeners}, q, d, mux)
	require.NoError(t, service.Start())
	return service, mux
}

func post(mux *http.ServeMux, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

// --- Tests ---

func TestNewService(t *testing.T) {
	testInitLogger(t)
	cfg := &models.Config{}
	q := &mockQueue{}
	d := &mockDispatcher{}
	mux := http.NewServeMux()

	service := NewService(cfg, q, d, mux)

	require.NotNil(t, service)
	assert.Equal(t, cfg, service.config)
	assert.Equal(t, q, service.eventQueue)
	assert.Equal(t, d, service.dispatcher)
	assert.Equal(t, mux, service.mux)
	assert.NotNil(t, service.rateLimiters)
}

func TestService_Start_RegistersRoutes(t *testing.T) {
	testInitLogger(t)
	rateLimit := 5.0
	burst := 10
	q := &mockQueue{}
	service, mux := startService(t, []models.ListenerConfig{
		{ID: "l1", Path: "/events/one", AuthToken: "secret1"},
		{ID: "l2", Path: "/events/two", RateLimit: &rateLimit, Burst: &burst},
		{ID: "l3", Path: "/events/three"},
	}, q, &mockDispatcher{})

	assert.Contains(t, service.rateLimiters, "l2")
	assert.NotContains(t, service.rateLimiters, "l1")
	assert.NotContains(t, service.rateLimiters, "l3")

	server := httptest.NewServer(mux)
	defer server.Close()

	req1, _ := http.NewRequest(http.MethodPost, server.URL+"/events/one", strings.NewReader(processingBody))
	resp1, err := http.DefaultClient.Do(req1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp1.StatusCode)
	resp1.Body.Close()

	req1Auth, _ := http.NewRequest(http.MethodPost, server.URL+"/events/one", strings.NewReader(processingBody))
	req1Auth.Header.Set("Authorization", "Bearer secret1")
	resp1Auth, err := http.DefaultClient.Do(req1Auth)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp1Auth.StatusCode)
	resp1Auth.Body.Close()

	for _, path := range []string{"/events/two", "/events/three"} {
		resp, err := http.Post(server.URL+path, "application/json", strings.NewReader(processingBody))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, path)
		resp.Body.Close()
	}

	assert.Equal(t, 3, q.GetCallCount())
	assert.Equal(t, "l3", q.lastEvent.SourceID)
}

func TestService_Start_InvalidPaths(t *testing.T) {
	testInitLogger(t)
	tests := []struct {
		name      string
		listeners []models.ListenerConfig
		errSubstr string
	}{
		{"empty path", []models.ListenerConfig{{ID: "a"}}, "path must start with '/'"},
		{"relative path", []models.ListenerConfig{{ID: "a", Path: "hook"}}, "path must start with '/'"},
		{"duplicate path", []models.ListenerConfig{{ID: "a", Path: "/h"}, {ID: "b", Path: "/h"}}, "already used by listener 'a'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(&models.Config{Listeners: tt.listeners}, &mockQueue{}, &mockDispatcher{}, http.NewServeMux())
			err := s.Start()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestService_HandleWebhook_Enqueue(t *testing.T) {
	testInitLogger(t)
	q := &mockQueue{}
	d := &mockDispatcher{}
	_, mux := startService(t, []models.ListenerConfig{{ID: "l1", Path: "/hook"}}, q, d)

	rr := post(mux, "/hook", processingBody)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, q.GetCallCount())
	assert.Empty(t, d.Dispatched(), "processing events are not dispatched inline")
	assert.Equal(t, "l1", q.lastEvent.SourceID)
	assert.Equal(t, models.EventKindProcessing, q.lastEvent.Kind)
	assert.NotEmpty(t, q.lastEvent.ID)
	assert.WithinDuration(t, time.Now(), q.lastEvent.Timestamp, 5*time.Second)
	assert.Equal(t, []string{"Width"}, q.lastEvent.Metadata.Keys())

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, q.lastEvent.ID, body["event_id"])
	assert.Equal(t, "queued", body["status"])
}

func TestService_HandleWebhook_QueueErrors(t *testing.T) {
	testInitLogger(t)
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"full", queue.ErrQueueFull, http.StatusServiceUnavailable},
		{"stopped", queue.ErrQueueStopped, http.StatusServiceUnavailable},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{EnqueueFunc: func(models.Event) error { return tt.err }}
			_, mux := startService(t, []models.ListenerConfig{{ID: "l1", Path: "/hook"}}, q, &mockDispatcher{})
			rr := post(mux, "/hook", processingBody)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, 1, q.GetCallCount())
		})
	}
}

func TestService_HandleWebhook_SyncDispatch(t *testing.T) {
	testInitLogger(t)
	tests := []struct {
		name    string
		outcome models.Outcome
		status  int
	}{
		{"allow", models.Allow(), http.StatusOK},
		{"mutate", models.Mutate(models.Mutation{Kind: models.MutationSetParent, EntityID: 1, Member: "AssetTypeToAsset", Parent: 500}), http.StatusOK},
		{"forbidden", models.Forbidden("no"), http.StatusForbidden},
		{"invalid", models.Invalid("bad", models.ValidationFailure{Message: "m", Value: "doc.pdf"}), http.StatusUnprocessableEntity},
		{"fatal", models.Fatal(models.ErrConfiguration), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{}
			d := &mockDispatcher{Outcome: tt.outcome}
			_, mux := startService(t, []models.ListenerConfig{{ID: "l1", Path: "/hook"}}, q, d)

			rr := post(mux, "/hook", modificationBody)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, 0, q.GetCallCount())
			require.Len(t, d.Dispatched(), 1)
			assert.Equal(t, "l1", d.Dispatched()[0].SourceID)

			var dec dispatch.Decision
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dec))
			assert.Equal(t, tt.outcome.Kind, dec.Outcome.Kind)
			assert.Equal(t, tt.outcome.Reason, dec.Outcome.Reason)
		})
	}
}

func TestService_HandleWebhook_BadRequest(t *testing.T) {
	testInitLogger(t)
	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, `{"kind":`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "", http.StatusBadRequest},
		{"rejected by validation", http.MethodPost, `{"kind":"entity_deletion"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{}
			d := &mockDispatcher{ValidateFunc: func(ev models.Event) error {
				if !ev.Kind.Valid() {
					return dispatch.ErrInvalidEvent
				}
				return nil
			}}
			_, mux := startService(t, []models.ListenerConfig{{ID: "l1", Path: "/hook"}}, q, d)

			req := httptest.NewRequest(tt.method, "/hook", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, 0, q.GetCallCount())
			assert.Empty(t, d.Dispatched())
		})
	}
}

func TestService_HandleWebhook_AuthFail(t *testing.T) {
	testInitLogger(t)
	q := &mockQueue{}
	_, mux := startService(t, []models.ListenerConfig{{ID: "l1", Path: "/hook", AuthToken: "secret"}}, q, &mockDispatcher{})

	assert.Equal(t, http.StatusUnauthorized, post(mux, "/hook", processingBody).Code)
	assert.Equal(t, http.StatusUnauthorized, post(mux, "/hook", processingBody, "Authorization", "Bearer wrongsecret").Code)
	assert.Equal(t, http.StatusUnauthorized, post(mux, "/hook", processingBody, "Authorization", "secret").Code)
	assert.Equal(t, 0, q.GetCallCount())

	assert.Equal(t, http.StatusAccepted, post(mux, "/hook", processingBody, "Authorization", "Bearer secret").Code)
}

func TestService_HandleWebhook_RateLimit(t *testing.T) {
	testInitLogger(t)
	rateLimit := 1.0
	burst := 1
	q := &mockQueue{}
	_, mux := startService(t, []models.ListenerConfig{{ID: "l1", Path: "/hook", RateLimit: &rateLimit, Burst: &burst}}, q, &mockDispatcher{})

	assert.Equal(t, http.StatusAccepted, post(mux, "/hook", processingBody).Code)
	assert.Equal(t, 1, q.GetCallCount())

	assert.Equal(t, http.StatusTooManyRequests, post(mux, "/hook", processingBody).Code)
	assert.Equal(t, 1, q.GetCallCount())

	time.Sleep(time.Second * 11 / 10)

	assert.Equal(t, http.StatusAccepted, post(mux, "/hook", processingBody).Code)
	assert.Equal(t, 2, q.GetCallCount())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(dispatch.Decision{Outcome: models.Allow()}))
	assert.Equal(t, http.StatusForbidden, StatusFor(dispatch.Decision{Outcome: models.Forbidden("x")}))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(dispatch.Decision{Outcome: models.Invalid("x")}))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(dispatch.Decision{Outcome: models.Fatal(errors.New("x"))}))
}
