// Package encoder defines the capability-set interfaces the orchestrator
// drives video and audio encoding through, plus the software fallback
// implementations. Hardware-SDK backed encoding is an external
// collaborator out of scope for this module; hwEncoder simulates its
// failure modes so the HW->SW fallback path is exercisable.
package encoder

import "broadcaster/pkg/models"

// VideoEncoderConfig parameterizes a video encoder's output.
type VideoEncoderConfig struct {
	Width, Height int
	TargetFPS     float32
	BitrateKbps   int
	KeyframeEvery int // frames between forced keyframes
}

// VideoEncoder is the capability set both the hardware and software video
// encoder implementations satisfy. There is no shared base type; each
// implementation is a distinct tagged variant selected at Engine.Start.
type VideoEncoder interface {
	Init(cfg VideoEncoderConfig) error
	Encode(frame models.VideoFrame) ([]models.EncodedPacket, error)
	RequestKeyframe()
	ConfigBlob() []byte
	Close() error
}

// AudioEncoderConfig parameterizes the audio encoder's output.
type AudioEncoderConfig struct {
	SampleRate, Channels int
	BitrateKbps          int
}

// AudioEncoder is the capability set the AAC encoder implementation satisfies.
type AudioEncoder interface {
	Init(cfg AudioEncoderConfig) error
	Encode(frame models.AudioFrame) ([]models.EncodedPacket, error)
	ConfigBlob() []byte
	Close() error
}
