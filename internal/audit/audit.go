// Package audit records dispatch decisions in an append-only log.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pbaity/hubscript/pkg/models"
)

// Entry is one recorded decision.
type Entry struct {
	EventID    string                     `json:"event_id"`
	Kind       models.EventKind           `json:"kind"`
	SourceID   string                     `json:"source_id,omitempty"`
	EntityID   int64                      `json:"entity_id,omitempty"`
	TriggerIDs []string                   `json:"trigger_ids,omitempty"`
	ActionID   string                     `json:"action_id,omitempty"` // Action that decided the outcome, if any
	Outcome    models.OutcomeKind         `json:"outcome"`
	RejectKind models.RejectKind          `json:"reject_kind,omitempty"`
	Reason     string                     `json:"reason,omitempty"`
	Failures   []models.ValidationFailure `json:"failures,omitempty"`
	Mutations  int                        `json:"mutations"`
	Retries    int                        `json:"retries,omitempty"`
	Duration   string                     `json:"duration"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Store is append-only; entries can be read back by event id.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	QueryByEventID(ctx context.Context, eventID string) ([]*Entry, error)
	Close() error
}

// NopStore discards entries.
type NopStore struct{}

func (NopStore) Append(context.Context, *Entry) error { return nil }

func (NopStore) QueryByEventID(context.Context, string) ([]*Entry, error) { return nil, nil }

func (NopStore) Close() error { return nil }

// Open returns a JSONL store at path, or a NopStore when path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		return NopStore{}, nil
	}
	return NewJSONLStore(path)
}

// JSONLStore appends one JSON object per line and answers queries by scanning the file.
type JSONLStore struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewJSONLStore creates or opens the file at path, creating its directory.
func NewJSONLStore(path string) (*JSONLStore, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONLStore{path: path, f: f}, nil
}

// Append writes e as one line.
func (s *JSONLStore) Append(ctx context.Context, e *Entry) error {
	if e == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	_, err = s.f.Write(data)
	return err
}

// QueryByEventID returns every entry recorded for eventID in write order.
// Lines that do not decode are skipped.
func (s *JSONLStore) QueryByEventID(ctx context.Context, eventID string) ([]*Entry, error) {
	s.mu.Lock()
	if s.f != nil {
		_ = s.f.Sync()
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Entry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.EventID == eventID {
			out = append(out, &e)
		}
	}
	return out, nil
}

// Close closes the underlying file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
