package encoder

import (
	"fmt"

	"broadcaster/internal/muxer"
	"broadcaster/pkg/models"
)

// swEncoder is the software H.264-shaped video encoder. It does not run a
// real codec; it emits AVCC length-prefixed IDR/P-frame NAL units (SPS/PPS
// appear only in ConfigBlob's AVCDecoderConfigurationRecord) sized to
// exercise the AVCC/FLV framing and the GOP/keyframe-interval logic a real
// x264-backed encoder would drive.
type swEncoder struct {
	cfg          VideoEncoderConfig
	sps, pps     []byte
	frameCount   int
	forceKeyframe bool
}

// NewSoftwareVideoEncoder constructs the fallback video encoder.
func NewSoftwareVideoEncoder() VideoEncoder {
	return &swEncoder{}
}

func (e *swEncoder) Init(cfg VideoEncoderConfig) error {
	e.cfg = cfg
	// Synthetic but structurally valid SPS/PPS: profile_idc=0x42 (baseline),
	// constraint flags=0x00, level_idc=0x1E (3.0).
	e.sps = []byte{0x67, 0x42, 0x00, 0x1E, byte(cfg.Width >> 8), byte(cfg.Width), byte(cfg.Height >> 8), byte(cfg.Height)}
	e.pps = []byte{0x68, 0xCE, 0x3C, 0x80}
	e.frameCount = 0
	return nil
}

func (e *swEncoder) RequestKeyframe() { e.forceKeyframe = true }

func (e *swEncoder) ConfigBlob() []byte {
	blob, err := muxer.BuildAVCDecoderConfigurationRecord(e.sps, e.pps)
	if err != nil {
		return nil
	}
	return blob
}

func (e *swEncoder) Encode(frame models.VideoFrame) ([]models.EncodedPacket, error) {
	if e.cfg.Width == 0 {
		return nil, fmt.Errorf("encoder: swEncoder used before Init")
	}

	isKeyframe := e.forceKeyframe || (e.cfg.KeyframeEvery > 0 && e.frameCount%e.cfg.KeyframeEvery == 0)
	e.forceKeyframe = false
	e.frameCount++

	var nals []muxer.NALUnit
	if isKeyframe {
		idr := make([]byte, 0, 16)
		idr = append(idr, 0x65) // NAL header: ref_idc=3, type=5 (IDR)
		idr = append(idr, byte(e.frameCount), byte(e.frameCount>>8))
		nals = append(nals, muxer.NALUnit{Type: muxer.NALUnitTypeIDR, Data: idr})
	} else {
		pFrame := make([]byte, 0, 16)
		pFrame = append(pFrame, 0x41) // NAL header: type=1 (non-IDR)
		pFrame = append(pFrame, byte(e.frameCount), byte(e.frameCount>>8))
		nals = append(nals, muxer.NALUnit{Type: muxer.NALUnitTypeNonIDR, Data: pFrame})
	}

	priority := models.PriorityPFrame
	if isKeyframe {
		priority = models.PriorityKeyframe
	}

	packet := models.EncodedPacket{
		Kind:       models.MediaVideo,
		PTS:        frame.PTS,
		DTS:        frame.PTS,
		Data:       muxer.NALsToAVCC(nals),
		IsKeyframe: isKeyframe,
		Priority:   priority,
	}
	return []models.EncodedPacket{packet}, nil
}

func (e *swEncoder) Close() error { return nil }
