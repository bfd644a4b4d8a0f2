package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/internal/logger"
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

func ptr[T any](v T) *T {
	return &v
}

func TestMergePolicies(t *testing.T) {
	defaultPolicy := &models.RetryPolicy{
		MaxRetries:    ptr(5),
		Delay:         ptr(1.0),
		BackoffFactor: ptr(2.0),
	}

	tests := []struct {
		name            string
		specific        *models.RetryPolicy
		defaultP        *models.RetryPolicy
		expectedRetries int
		expectedDelay   float64
		expectedFactor  float64
	}{
		{"specific overrides default", &models.RetryPolicy{MaxRetries: ptr(3), Delay: ptr(0.5)}, defaultPolicy, 3, 0.5, 2.0},
		{"nil specific", nil, defaultPolicy, 5, 1.0, 2.0},
		{"empty specific", &models.RetryPolicy{}, defaultPolicy, 5, 1.0, 2.0},
		{"only factor", &models.RetryPolicy{BackoffFactor: ptr(1.5)}, defaultPolicy, 5, 1.0, 1.5},
		{"both nil", nil, nil, DefaultMaxRetries, DefaultDelaySeconds, DefaultBackoffFactor},
		{"empty default", nil, &models.RetryPolicy{}, DefaultMaxRetries, DefaultDelaySeconds, DefaultBackoffFactor},
		{"explicit zero values win", &models.RetryPolicy{MaxRetries: ptr(0), Delay: ptr(0.0), BackoffFactor: ptr(1.0)}, defaultPolicy, 0, 0.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := MergePolicies(tt.specific, tt.defaultP)
			require.NotNil(t, merged.MaxRetries)
			require.NotNil(t, merged.Delay)
			require.NotNil(t, merged.BackoffFactor)
			assert.Equal(t, tt.expectedRetries, *merged.MaxRetries)
			assert.Equal(t, tt.expectedDelay, *merged.Delay)
			assert.Equal(t, tt.expectedFactor, *merged.BackoffFactor)
		})
	}
}

func TestMergePolicies_DoesNotAlias(t *testing.T) {
	specific := &models.RetryPolicy{MaxRetries: ptr(2)}
	merged := MergePolicies(specific, nil)
	*merged.MaxRetries = 9
	assert.Equal(t, 2, *specific.MaxRetries)
	assert.Equal(t, DefaultMaxRetries, *DefaultRetryPolicy.MaxRetries)
}

// mockOperation fails until it has been called attemptsNeeded times.
type mockOperation struct {
	attemptsNeeded int
	callCount      int
	failForever    bool
	permanent      bool
	lastContext    context.Context
}

func (m *mockOperation) execute(ctx context.Context) error {
	m.callCount++
	m.lastContext = ctx
	if m.permanent {
		return Permanent(fmt.Errorf("rejected (call %d)", m.callCount))
	}
	if m.failForever {
		return fmt.Errorf("host unavailable (call %d): %w", m.callCount, host.ErrUnavailable)
	}
	if m.callCount >= m.attemptsNeeded {
		return nil
	}
	return fmt.Errorf("failed temporarily (call %d)", m.callCount)
}

func TestDo_SuccessFirstTry(t *testing.T) {
	testInitLogger(t)
	op := &mockOperation{attemptsNeeded: 1}
	err := Do(context.Background(), "first", &models.RetryPolicy{MaxRetries: ptr(3), Delay: ptr(0.01)}, op.execute)
	assert.NoError(t, err)
	assert.Equal(t, 1, op.callCount)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	testInitLogger(t)
	op := &mockOperation{attemptsNeeded: 3}
	policy := &models.RetryPolicy{MaxRetries: ptr(5), Delay: ptr(0.01), BackoffFactor: ptr(1.0)}
	err := Do(context.Background(), "retry", policy, op.execute)
	assert.NoError(t, err)
	assert.Equal(t, 3, op.callCount)
}

func TestDo_FailureAfterMaxRetries(t *testing.T) {
	testInitLogger(t)
	op := &mockOperation{failForever: true}
	policy := &models.RetryPolicy{MaxRetries: ptr(2), Delay: ptr(0.01), BackoffFactor: ptr(1.0)}

	startTime := time.Now()
	err := Do(context.Background(), "exhaust", policy, op.execute)
	duration := time.Since(startTime)

	require.Error(t, err)
	assert.ErrorIs(t, err, host.ErrUnavailable)
	assert.Contains(t, err.Error(), "(call 3)")
	assert.Equal(t, 3, op.callCount)
	assert.GreaterOrEqual(t, duration, 20*time.Millisecond)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	testInitLogger(t)
	op := &mockOperation{permanent: true}
	err := Do(context.Background(), "permanent", &models.RetryPolicy{MaxRetries: ptr(5), Delay: ptr(1.0)}, op.execute)

	require.Error(t, err)
	assert.Equal(t, 1, op.callCount)
	assert.Equal(t, "rejected (call 1)", err.Error())
	assert.False(t, IsPermanent(err), "the marker is stripped on return")
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	base := errors.New("bad")
	wrapped := fmt.Errorf("outer: %w", Permanent(base))
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsPermanent(base))
}

func TestDo_ZeroRetries(t *testing.T) {
	testInitLogger(t)
	op := &mockOperation{failForever: true}
	err := Do(context.Background(), "zero", &models.RetryPolicy{MaxRetries: ptr(0), Delay: ptr(0.01)}, op.execute)
	assert.Error(t, err)
	assert.Equal(t, 1, op.callCount)
}

func TestDo_ContextCancellationDuringWait(t *testing.T) {
	testInitLogger(t)
	op := &mockOperation{failForever: true}
	policy := &models.RetryPolicy{MaxRetries: ptr(3), Delay: ptr(1.0)}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, "cancel_wait", policy, op.execute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, op.callCount)
	assert.ErrorIs(t, op.lastContext.Err(), context.Canceled)
}

func TestDo_ContextCancellationBeforeFirstTry(t *testing.T) {
	testInitLogger(t)
	op := &mockOperation{failForever: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, "cancel_before", &models.RetryPolicy{MaxRetries: ptr(3), Delay: ptr(0.01)}, op.execute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, op.callCount)
}

func TestDo_NilPolicy(t *testing.T) {
	testInitLogger(t)
	op := &mockOperation{attemptsNeeded: 2}
	err := Do(context.Background(), "nil_policy", nil, op.execute)
	assert.NoError(t, err)
	assert.Equal(t, 2, op.callCount)
}

func TestDo_BackoffFactor(t *testing.T) {
	testInitLogger(t)
	op := &mockOperation{failForever: true}
	policy := &models.RetryPolicy{MaxRetries: ptr(2), Delay: ptr(0.1), BackoffFactor: ptr(2.0)}

	startTime := time.Now()
	err := Do(context.Background(), "backoff", policy, op.execute)
	duration := time.Since(startTime)

	assert.Error(t, err)
	assert.Equal(t, 3, op.callCount)
	assert.GreaterOrEqual(t, duration, 300*time.Millisecond)
	assert.LessOrEqual(t, duration, 400*time.Millisecond)
}

func TestNextDelay_Capped(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextDelay(time.Second, 2.0))
	assert.Equal(t, MaxDelay, nextDelay(4*time.Minute, 2.0))
	assert.Equal(t, MaxDelay, nextDelay(MaxDelay, 1e12))
}
