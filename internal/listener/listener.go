// Package listener exposes the configured webhook endpoints the host
// platform delivers lifecycle events to.
package listener

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pbaity/hubscript/internal/dispatch"
	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/internal/queue"
	"github.com/pbaity/hubscript/pkg/models"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// EventQueue accepts asynchronous events without blocking the request.
type EventQueue interface {
	TryEnqueue(event models.Event) (string, error)
}

// Dispatcher answers synchronous events.
type Dispatcher interface {
	Validate(ev models.Event) error
	Dispatch(ctx context.Context, ev models.Event) dispatch.Decision
}

// Service registers one webhook route per configured listener.
type Service struct {
	config       *models.Config
	eventQueue   EventQueue
	dispatcher   Dispatcher
	mux          *http.ServeMux
	rateLimiters map[string]*rate.Limiter
}

// NewService creates a listener service that registers its routes on mux.
func NewService(cfg *models.Config, q EventQueue, d Dispatcher, mux *http.ServeMux) *Service {
	return &Service{
		config:       cfg,
		eventQueue:   q,
		dispatcher:   d,
		mux:          mux,
		rateLimiters: make(map[string]*rate.Limiter),
	}
}

// Start registers the webhook handlers.
func (s *Service) Start() error {
	seen := make(map[string]string)
	for _, lc := range s.config.Listeners {
		if lc.Path == "" || !strings.HasPrefix(lc.Path, "/") {
			return fmt.Errorf("listener '%s': path must start with '/'", lc.ID)
		}
		if other, dup := seen[lc.Path]; dup {
			return fmt.Errorf("listener '%s': path %s already used by listener '%s'", lc.ID, lc.Path, other)
		}
		seen[lc.Path] = lc.ID
	}

	for _, lc := range s.config.Listeners {
		l := logger.L().With("listener_id", lc.ID, "path", lc.Path)
		if lc.RateLimit != nil && *lc.RateLimit > 0 {
			burst := 1
			if lc.Burst != nil && *lc.Burst > 0 {
				burst = *lc.Burst
			}
			s.rateLimiters[lc.ID] = rate.NewLimiter(rate.Limit(*lc.RateLimit), burst)
			l.Info("Rate limiting enabled", "rate", *lc.RateLimit, "burst", burst)
		}
		s.mux.HandleFunc(lc.Path, s.webhookHandler(lc))
		l.Info("Registered webhook listener")
	}
	return nil
}

func (s *Service) webhookHandler(lc models.ListenerConfig) http.HandlerFunc {
	limiter := s.rateLimiters[lc.ID]
	return func(w http.ResponseWriter, r *http.Request) {
		l := logger.L().With("listener_id", lc.ID, "remote_addr", r.RemoteAddr)
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		if lc.AuthToken != "" && !authorized(r, lc.AuthToken) {
			l.Warn("Unauthorized webhook request")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if limiter != nil && !limiter.Allow() {
			l.Warn("Webhook request rate limited")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		ev, err := DecodeEvent(w, r)
		if err != nil {
			l.Warn("Failed to decode webhook body", "error", err)
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
		ev.SourceID = lc.ID
		HandleEvent(w, r, ev, s.eventQueue, s.dispatcher)
	}
}

func authorized(r *http.Request, token string) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// DecodeEvent reads a JSON event from the request body, filling in the id
// and timestamp when the sender left them out.
func DecodeEvent(w http.ResponseWriter, r *http.Request) (models.Event, error) {
	var ev models.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&ev); err != nil {
		return models.Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev, nil
}

// HandleEvent validates ev, then queues asynchronous kinds or dispatches the
// rest inline and writes the decision.
func HandleEvent(w http.ResponseWriter, r *http.Request, ev models.Event, q EventQueue, d Dispatcher) {
	l := logger.L().With("event_id", ev.ID, "kind", ev.Kind, "source", ev.SourceID)
	if err := d.Validate(ev); err != nil {
		l.Warn("Rejected malformed event", "error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if ev.Kind.Async() {
		id, err := q.TryEnqueue(ev)
		if err != nil {
			if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueStopped) {
				l.Warn("Event queue unavailable", "error", err)
				http.Error(w, "Service Unavailable: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
			l.Error("Failed to enqueue event", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		l.Debug("Event queued")
		writeJSON(w, http.StatusAccepted, map[string]string{"event_id": id, "status": "queued"})
		return
	}

	decision := d.Dispatch(r.Context(), ev)
	writeJSON(w, StatusFor(decision), decision)
}

// StatusFor maps a decision to the HTTP status the host acts on.
func StatusFor(dec dispatch.Decision) int {
	switch dec.Outcome.Kind {
	case models.OutcomeReject:
		if dec.Outcome.RejectKind == models.RejectForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnprocessableEntity
	case models.OutcomeFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Error("Failed to write response", "error", err)
	}
}
