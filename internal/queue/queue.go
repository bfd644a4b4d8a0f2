package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/internal/metrics"
	"github.com/pbaity/hubscript/pkg/models"
)

const defaultQueueCapacity = 1000

var (
	// ErrQueueStopped is returned once Stop has been called.
	ErrQueueStopped = errors.New("event queue stopped")
	// ErrQueueFull is returned by TryEnqueue when no slot is free.
	ErrQueueFull = errors.New("event queue full")
)

// EventQueue is the FIFO of processing events waiting for a worker.
type EventQueue struct {
	queue       chan models.Event
	capacity    int
	persistPath string
	mu          sync.Mutex // Serialises Stop and persistence
	stopChan    chan struct{}
}

// NewEventQueue creates and initializes a new event queue.
func NewEventQueue(capacity int, persistPath string) *EventQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &EventQueue{
		queue:       make(chan models.Event, capacity),
		capacity:    capacity,
		persistPath: persistPath,
		stopChan:    make(chan struct{}),
	}
}

// Enqueue adds an event, blocking while the queue is full. It gives up when
// ctx is done or the queue stops. Events without an ID get one.
func (eq *EventQueue) Enqueue(ctx context.Context, event models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if eq.stopped() {
		return fmt.Errorf("cannot enqueue event %s: %w", event.ID, ErrQueueStopped)
	}
	select {
	case eq.queue <- event:
		eq.enqueued(event)
		return nil
	case <-eq.stopChan:
		return fmt.Errorf("cannot enqueue event %s: %w", event.ID, ErrQueueStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue adds an event without blocking.
func (eq *EventQueue) TryEnqueue(event models.Event) (string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if eq.stopped() {
		return event.ID, fmt.Errorf("cannot enqueue event %s: %w", event.ID, ErrQueueStopped)
	}
	select {
	case eq.queue <- event:
		eq.enqueued(event)
		return event.ID, nil
	default:
		return event.ID, fmt.Errorf("cannot enqueue event %s: %w", event.ID, ErrQueueFull)
	}
}

func (eq *EventQueue) enqueued(event models.Event) {
	metrics.SetQueueDepth(len(eq.queue))
	logger.L().Debug("Event enqueued", "event_id", event.ID, "kind", event.Kind, "source_id", event.SourceID)
}

func (eq *EventQueue) stopped() bool {
	select {
	case <-eq.stopChan:
		return true
	default:
		return false
	}
}

// Len returns the number of waiting events.
func (eq *EventQueue) Len() int {
	return len(eq.queue)
}

// Dequeue retrieves the next event from the queue.
// It blocks until an event is available, the context is cancelled or the
// queue stops.
func (eq *EventQueue) Dequeue(ctx context.Context) (models.Event, error) {
	if eq.stopped() {
		return models.Event{}, ErrQueueStopped
	}
	select {
	case event := <-eq.queue:
		metrics.SetQueueDepth(len(eq.queue))
		logger.L().Debug("Event dequeued", "event_id", event.ID)
		return event, nil
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	case <-eq.stopChan:
		return models.Event{}, ErrQueueStopped
	}
}

// Start loads persisted events, if any.
func (eq *EventQueue) Start() error {
	if err := eq.loadState(); err != nil {
		logger.L().Error("Failed to load queue state, starting empty.", "error", err)
	} else {
		logger.L().Info("Event queue started", "capacity", eq.capacity, "persistence_path", eq.persistPath, "pending", eq.Len())
	}
	metrics.SetQueueDepth(eq.Len())
	return nil
}

// Stop stops accepting events and persists whatever is still waiting.
// Events left in the queue are not handed to workers after Stop.
func (eq *EventQueue) Stop() error {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if eq.stopped() {
		return nil
	}

	logger.L().Info("Stopping event queue...")
	close(eq.stopChan)

	// The channel itself stays open so a racing Enqueue cannot panic.
	err := eq.saveState()

	if err != nil {
		logger.L().Error("Failed to save queue state during stop.", "error", err)
		return fmt.Errorf("failed to save queue state: %w", err)
	}

	logger.L().Info("Event queue stopped successfully.")
	return nil
}

// --- Persistence Logic ---

func (eq *EventQueue) loadState() error {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if eq.persistPath == "" {
		logger.L().Debug("Queue persistence path not set, skipping load.")
		return nil
	}

	data, err := os.ReadFile(eq.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.L().Info("Queue persistence file not found, starting fresh.", "path", eq.persistPath)
			return nil
		}
		return fmt.Errorf("failed to read queue state file '%s': %w", eq.persistPath, err)
	}

	if len(data) == 0 {
		logger.L().Info("Queue persistence file is empty, starting fresh.", "path", eq.persistPath)
		return nil
	}

	var events []models.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("failed to unmarshal queue state from '%s': %w", eq.persistPath, err)
	}

	count := 0
	for _, event := range events {
		select {
		case eq.queue <- event:
			count++
		default:
			return fmt.Errorf("failed to load event %s: %w", event.ID, ErrQueueFull)
		}
	}

	logger.L().Info("Loaded events from persistence.", "count", count, "path", eq.persistPath)
	return nil
}

// saveState drains the queue to disk. Callers hold eq.mu with stopChan closed.
func (eq *EventQueue) saveState() error {
	if eq.persistPath == "" {
		logger.L().Debug("Queue persistence path not set, skipping save.")
		return nil
	}

	events := make([]models.Event, 0, len(eq.queue))
DRAIN_LOOP:
	for {
		select {
		case event := <-eq.queue:
			events = append(events, event)
		default:
			break DRAIN_LOOP
		}
	}

	logger.L().Info("Persisting events to disk.", "count", len(events), "path", eq.persistPath)

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	// Write to a temp file, then rename.
	tempFile := eq.persistPath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary queue state file '%s': %w", tempFile, err)
	}
	if err := os.Rename(tempFile, eq.persistPath); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary queue state file to '%s': %w", eq.persistPath, err)
	}

	logger.L().Info("Successfully persisted queue state.", "count", len(events))
	return nil
}
