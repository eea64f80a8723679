package audiomix

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"broadcaster/pkg/models"
)

const tickerRate = 100 // ticks/sec, matching the mixer's 10ms tickInterval

// TickerSource synthesizes silent 48kHz stereo PCM at the mixer's own tick
// rate, standing in for the microphone/loopback capture collaborator named
// out of scope in the Non-goals list.
type TickerSource struct {
	limiter *rate.Limiter
	cancel  context.CancelFunc
}

// NewTickerSource builds a synthetic audio capture source.
func NewTickerSource() *TickerSource {
	return &TickerSource{limiter: rate.NewLimiter(rate.Limit(tickerRate), 1)}
}

// Start begins producing silent frames, one per tick, until ctx is done.
func (s *TickerSource) Start(ctx context.Context) (<-chan models.AudioFrame, error) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	out := make(chan models.AudioFrame, 1)
	start := time.Now()

	go func() {
		defer close(out)
		for {
			if err := s.limiter.Wait(runCtx); err != nil {
				return
			}
			frame := models.AudioFrame{
				PTS:        time.Since(start),
				Samples:    make([]float32, samplesPerTick),
				SampleRate: sampleRate,
				Channels:   channels,
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

// Close tears down the capture source.
func (s *TickerSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// EnumerateDevices lists the audio capture collaborator's available
// microphone and loopback devices. A real backend would query the OS;
// this reports one synthetic device of each type.
func EnumerateDevices() []models.AudioDevice {
	return []models.AudioDevice{
		{ID: "mic-default", Name: "Default Microphone", Type: models.AudioDeviceMic, IsDefault: true},
		{ID: "system-loopback", Name: "System Audio", Type: models.AudioDeviceLoopback, IsDefault: true},
	}
}
