package audiomix

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"broadcaster/pkg/models"
)

func TestSoftClipPassesThroughInRange(t *testing.T) {
	assert.Equal(t, float32(0.5), softClip(0.5))
	assert.Equal(t, float32(-0.5), softClip(-0.5))
}

func TestSoftClipBoundsBeyondUnity(t *testing.T) {
	assert.Less(t, softClip(2.0), float32(1.0))
	assert.Greater(t, softClip(-2.0), float32(-1.0))
}

func TestGainClampsToUnitRange(t *testing.T) {
	g := newGain(0.5)
	g.Store(5.0)
	assert.Equal(t, float32(1.0), g.Load())
	g.Store(-5.0)
	assert.Equal(t, float32(0.0), g.Load())
}

func TestMuteTogglesIndependently(t *testing.T) {
	m := New()
	assert.False(t, m.mic.muted.Load())
	m.SetMicMuted(true)
	assert.True(t, m.mic.muted.Load())
	assert.False(t, m.system.muted.Load())
}

func TestMutedSourceProducesSilentTicks(t *testing.T) {
	m := New()

	loud := make(chan models.AudioFrame, 1)
	loud <- models.AudioFrame{
		Samples:    []float32{1, 1, 1, 1},
		SampleRate: sampleRate,
		Channels:   channels,
	}
	m.mic.ch = loud
	m.SetMicMuted(true)

	for i := 0; i < 20; i++ {
		frame := m.mixOneTick()
		for _, s := range frame.Samples {
			assert.Equal(t, float32(0), s, "tick %d: muted source leaked non-silent samples", i)
		}
	}
}
