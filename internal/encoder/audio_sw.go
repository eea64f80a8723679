package encoder

import (
	"fmt"

	"broadcaster/pkg/models"
)

const aacSamplesPerFrame = 1024

// swAACEncoder is the software AAC encoder. Like swEncoder, it does not
// run a real codec; it emits fixed-size frames tagged with a constant
// AudioSpecificConfig so the AAC sequence-header-once framing rule is
// exercisable without a real encoder dependency.
type swAACEncoder struct {
	cfg     AudioEncoderConfig
	pending []float32
}

// NewSoftwareAudioEncoder constructs the AAC encoder.
func NewSoftwareAudioEncoder() AudioEncoder {
	return &swAACEncoder{}
}

func (e *swAACEncoder) Init(cfg AudioEncoderConfig) error {
	e.cfg = cfg
	e.pending = nil
	return nil
}

// ConfigBlob returns a fixed AudioSpecificConfig for AAC-LC, 48kHz stereo:
// objectType=2 (AAC-LC), samplingFrequencyIndex=3 (48kHz), channels=2.
func (e *swAACEncoder) ConfigBlob() []byte {
	const (
		objectType   = 2
		freqIndex    = 3
		channelCount = 2
	)
	freqIndexB := byte(freqIndex)
	b0 := byte(objectType<<3) | byte(freqIndex>>1)
	b1 := (freqIndexB << 7) | byte(channelCount<<3)
	return []byte{b0, b1}
}

func (e *swAACEncoder) Encode(frame models.AudioFrame) ([]models.EncodedPacket, error) {
	if e.cfg.SampleRate == 0 {
		return nil, fmt.Errorf("encoder: swAACEncoder used before Init")
	}

	e.pending = append(e.pending, frame.Samples...)

	var packets []models.EncodedPacket
	frameSamples := aacSamplesPerFrame * e.cfg.Channels
	for len(e.pending) >= frameSamples {
		e.pending = e.pending[frameSamples:]

		data := make([]byte, frameSamples/4+1)
		data[0] = 0xFF // opaque placeholder payload, sized like a real AAC frame

		packets = append(packets, models.EncodedPacket{
			Kind:     models.MediaAudio,
			PTS:      frame.PTS,
			DTS:      frame.PTS,
			Data:     data,
			Priority: models.PriorityAudio,
		})
	}
	return packets, nil
}

func (e *swAACEncoder) Close() error { return nil }
