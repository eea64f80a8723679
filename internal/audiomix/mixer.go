// Package audiomix implements the mic + system-audio mixer: a 10ms tick
// loop that dequeues or substitutes silence per source, applies gain and
// mute, resamples to 48kHz stereo, and sums with a soft clip.
package audiomix

import (
	"context"
	"log"
	"math"
	"sync/atomic"
	"time"

	"broadcaster/pkg/models"
)

const (
	tickInterval   = 10 * time.Millisecond
	sampleRate     = 48000
	channels       = 2
	samplesPerTick = sampleRate / 100 * channels // 10ms of 48kHz stereo

	driftRealignThreshold = 40 * time.Millisecond
)

// Source is the capability set an audio capture backend (microphone or
// loopback) exposes to the mixer.
type Source interface {
	Start(ctx context.Context) (<-chan models.AudioFrame, error)
	Close() error
}

// gain is a lock-free float32, stored bit-cast in an atomic.Uint32 so the
// mixer thread and the command handler thread can read/write concurrently
// without a mutex.
type gain struct {
	bits atomic.Uint32
}

func newGain(initial float32) *gain {
	g := &gain{}
	g.Store(initial)
	return g
}

func (g *gain) Store(v float32) { g.bits.Store(math.Float32bits(clamp01(v))) }
func (g *gain) Load() float32   { return math.Float32frombits(g.bits.Load()) }

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type input struct {
	ch    <-chan models.AudioFrame
	gain  *gain
	muted atomic.Bool
}

// Mixer combines a mic input and a system-loopback input into one 48kHz
// stereo stream, ticking every 10ms.
type Mixer struct {
	mic    *input
	system *input

	sessionStart time.Time
	sequence     uint64
	realigned    bool
	expectedPTS  time.Duration

	cancel context.CancelFunc
}

// New builds a mixer with both inputs initially at full gain and unmuted.
func New() *Mixer {
	return &Mixer{
		mic:    &input{gain: newGain(1.0)},
		system: &input{gain: newGain(1.0)},
	}
}

// SetMicGain sets the microphone gain in [0,1], read lock-free by the mix tick.
func (m *Mixer) SetMicGain(v float32) { m.mic.gain.Store(v) }

// SetSystemGain sets the system-audio gain in [0,1].
func (m *Mixer) SetSystemGain(v float32) { m.system.gain.Store(v) }

// SetMicMuted mutes or unmutes the microphone input.
func (m *Mixer) SetMicMuted(v bool) { m.mic.muted.Store(v) }

// SetSystemMuted mutes or unmutes the system-audio input.
func (m *Mixer) SetSystemMuted(v bool) { m.system.muted.Store(v) }

// Start begins the mix loop over the given sources and returns the mixed
// output channel. A nil source is treated as permanently silent.
func (m *Mixer) Start(ctx context.Context, mic, system Source) (<-chan models.AudioFrame, error) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.sessionStart = time.Now()

	if mic != nil {
		ch, err := mic.Start(runCtx)
		if err != nil {
			cancel()
			return nil, err
		}
		m.mic.ch = ch
	}
	if system != nil {
		ch, err := system.Start(runCtx)
		if err != nil {
			cancel()
			return nil, err
		}
		m.system.ch = ch
	}

	out := make(chan models.AudioFrame, 8)
	go m.run(runCtx, out)
	return out, nil
}

// Close tears down the mix loop.
func (m *Mixer) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

func (m *Mixer) run(ctx context.Context, out chan<- models.AudioFrame) {
	defer close(out)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := m.mixOneTick()
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			default:
				// mixer output is best-effort: the mixed frame is
				// discarded when the output channel is full.
			}
		}
	}
}

func (m *Mixer) mixOneTick() models.AudioFrame {
	mixBuf := make([]float32, samplesPerTick)

	addSource := func(src *input) {
		if src.ch == nil || src.muted.Load() {
			return
		}
		select {
		case frame := <-src.ch:
			g := src.gain.Load()
			samples := resampleToStereo48k(frame)
			for i := 0; i < len(samples) && i < len(mixBuf); i++ {
				mixBuf[i] += samples[i] * g
			}
		default:
			// no chunk ready this tick: silence substitute
		}
	}

	addSource(m.mic)
	addSource(m.system)

	for i, s := range mixBuf {
		mixBuf[i] = softClip(s)
	}

	wallPTS := time.Since(m.sessionStart)
	m.sequence++

	// pts normally follows the expected tick cadence rather than the raw
	// wall clock, smoothing over scheduler jitter between ticks. If the
	// wall clock has drifted from that cadence past the threshold, snap
	// pts back to the wall clock once per session and resume ticking the
	// cadence forward from there.
	pts := m.expectedPTS
	if m.expectedPTS == 0 {
		pts = wallPTS
	}

	if !m.realigned {
		drift := wallPTS - pts
		if drift > driftRealignThreshold || drift < -driftRealignThreshold {
			log.Printf("audiomix: PTS drift %v exceeds threshold, realigning once", drift)
			pts = wallPTS
			m.realigned = true
		}
	}
	m.expectedPTS = pts + tickInterval

	return models.AudioFrame{
		PTS:        pts,
		Samples:    mixBuf,
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// resampleToStereo48k linearly resamples a frame to 48kHz stereo if it
// differs from the mixer's working format; most synthetic sources already
// produce 48kHz stereo so this is frequently a no-op.
func resampleToStereo48k(frame models.AudioFrame) []float32 {
	if frame.SampleRate == sampleRate && frame.Channels == channels {
		return frame.Samples
	}
	if frame.SampleRate == 0 || frame.Channels == 0 {
		return frame.Samples
	}

	srcFrames := len(frame.Samples) / frame.Channels
	dstFrames := samplesPerTick / channels
	out := make([]float32, dstFrames*channels)

	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * float64(srcFrames) / float64(dstFrames)
		idx := int(srcPos)
		if idx >= srcFrames-1 {
			idx = srcFrames - 2
			if idx < 0 {
				idx = 0
			}
		}
		frac := srcPos - float64(idx)

		for c := 0; c < channels; c++ {
			srcChan := c % frame.Channels
			a := sampleAt(frame.Samples, idx, srcChan, frame.Channels)
			b := sampleAt(frame.Samples, idx+1, srcChan, frame.Channels)
			out[i*channels+c] = float32(float64(a) + (float64(b)-float64(a))*frac)
		}
	}
	return out
}

func sampleAt(samples []float32, frameIdx, channel, channelCount int) float32 {
	i := frameIdx*channelCount + channel
	if i < 0 || i >= len(samples) {
		return 0
	}
	return samples[i]
}

// softClip applies an exponential soft knee past +-1.0 rather than a hard
// saturating clamp, matching the behavior of a real analog-style limiter.
func softClip(sample float32) float32 {
	switch {
	case sample > 1.0:
		return 1.0 - float32(math.Exp(float64(-sample+1.0)))*0.5
	case sample < -1.0:
		return -1.0 + float32(math.Exp(float64(sample+1.0)))*0.5
	default:
		return sample
	}
}
