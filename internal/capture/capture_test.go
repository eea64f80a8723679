package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSucceedsWithoutInjectedFailures(t *testing.T) {
	s := NewTickerSource(30, 640, 480)
	ch, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ch)
	assert.NoError(t, s.Close())
}

func TestStartRetriesThroughTransientFailuresThenSucceeds(t *testing.T) {
	s := NewTickerSource(30, 640, 480)
	s.FailInit = 3

	start := time.Now()
	ch, err := s.Start(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.NotNil(t, ch)
	// attempts 1-3 fail, waiting 100ms+200ms+400ms before attempt 4 succeeds.
	assert.GreaterOrEqual(t, elapsed, 700*time.Millisecond)
	assert.NoError(t, s.Close())
}

func TestStartExhaustsRetryBudgetAndWaitsTheFullSchedule(t *testing.T) {
	s := NewTickerSource(30, 640, 480)
	s.FailInit = 5

	start := time.Now()
	_, err := s.Start(context.Background())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrCaptureInitFailed)
	// five failed attempts wait 100+200+400+800+1600 = 3100ms, reaching the
	// documented 1.6s ceiling before the retry budget is exhausted.
	assert.GreaterOrEqual(t, elapsed, 3100*time.Millisecond)
}

func TestStartAbortsOnContextCancellationDuringBackoff(t *testing.T) {
	s := NewTickerSource(30, 640, 480)
	s.FailInit = 5

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
