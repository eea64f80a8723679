// Package capture provides the video capture source abstraction. The real
// desktop-duplication backend is an external collaborator out of scope for
// this module; TickerSource stands in for it with a deterministic,
// paced frame generator that exercises the same interface and retry policy.
package capture

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"broadcaster/pkg/models"
)

// ErrCaptureInitFailed is returned by Start when the capture backend cannot
// be brought up after exhausting its retry budget.
var ErrCaptureInitFailed = fmt.Errorf("capture: init failed after retries")

// VideoSource is the capability set the orchestrator drives video capture
// through. A real implementation would wrap a desktop-duplication API;
// TickerSource below is the only implementation in this module.
type VideoSource interface {
	Start(ctx context.Context) (<-chan models.VideoFrame, error)
	Dimensions() (width, height int)
	Close() error
}

// EnumerateSources lists the capture-source collaborator's available
// monitors/windows. A real backend would query the OS; this reports a
// single synthetic monitor so the Command API's enumerate path has
// something concrete to return.
func EnumerateSources() []models.CaptureSource {
	return []models.CaptureSource{
		{ID: "monitor-0", Name: "Primary Display", Type: models.CaptureSourceMonitor, Width: 1920, Height: 1080},
	}
}

// TickerSource synthesizes frames at a fixed rate, standing in for the
// desktop-capture collaborator named in the Non-goals list.
type TickerSource struct {
	fps           float32
	width, height int
	limiter       *rate.Limiter
	cancel        context.CancelFunc

	// FailInit, when set, makes the first N Start attempts fail, to drive
	// the retry/backoff path deterministically in tests.
	FailInit int
}

// NewTickerSource builds a capture source targeting the given frame rate.
func NewTickerSource(fps float32, width, height int) *TickerSource {
	return &TickerSource{
		fps:     fps,
		width:   width,
		height:  height,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
	}
}

// Start brings the capture source up, retrying with exponential backoff
// (100ms to 5s cap, 5 attempts) before giving up.
func (s *TickerSource) Start(ctx context.Context) (<-chan models.VideoFrame, error) {
	const maxAttempts = 5
	backoff := 100 * time.Millisecond
	const backoffCap = 5 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.FailInit < attempt {
			break
		}
		log.Printf("capture: transient init failure on attempt %d/%d", attempt, maxAttempts)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
		if attempt == maxAttempts {
			return nil, ErrCaptureInitFailed
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	out := make(chan models.VideoFrame, 1)
	start := time.Now()

	go func() {
		defer close(out)
		for {
			if err := s.limiter.Wait(runCtx); err != nil {
				return
			}
			frame := models.VideoFrame{
				PTS:    time.Since(start),
				Width:  s.width,
				Height: s.height,
				Stride: s.width * 4,
				Pixels: make([]byte, s.width*s.height*4),
			}
			select {
			case out <- frame:
			case <-runCtx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Dimensions reports the capture source's fixed frame size.
func (s *TickerSource) Dimensions() (int, int) { return s.width, s.height }

// Close tears down the capture source.
func (s *TickerSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
