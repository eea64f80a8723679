package encoder

import (
	"fmt"

	"broadcaster/pkg/models"
)

// hwEncoder stands in for a hardware-SDK-backed video encoder (an external
// collaborator out of scope for this module). It delegates its actual
// encoding to an embedded software encoder but exposes independent
// FailInit/FailFirstEncode knobs so the orchestrator's HW->SW fallback
// path can be driven deterministically.
type hwEncoder struct {
	inner         *swEncoder
	FailInit      bool
	FailFirstEncode bool
	encodeCount   int
}

// NewHardwareVideoEncoder constructs the primary video encoder selection.
func NewHardwareVideoEncoder() VideoEncoder {
	return &hwEncoder{inner: &swEncoder{}}
}

func (e *hwEncoder) Init(cfg VideoEncoderConfig) error {
	if e.FailInit {
		return fmt.Errorf("encoder: hardware encoder init failed")
	}
	return e.inner.Init(cfg)
}

func (e *hwEncoder) RequestKeyframe() { e.inner.RequestKeyframe() }

func (e *hwEncoder) ConfigBlob() []byte { return e.inner.ConfigBlob() }

func (e *hwEncoder) Encode(frame models.VideoFrame) ([]models.EncodedPacket, error) {
	e.encodeCount++
	if e.FailFirstEncode && e.encodeCount == 1 {
		return nil, fmt.Errorf("encoder: hardware encoder runtime failure on first encode")
	}
	return e.inner.Encode(frame)
}

func (e *hwEncoder) Close() error { return e.inner.Close() }
