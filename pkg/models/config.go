package models

import "time"

// CaptureSourceType identifies what a CaptureSource names.
type CaptureSourceType string

const (
	CaptureSourceMonitor CaptureSourceType = "monitor"
	CaptureSourceWindow  CaptureSourceType = "window"
)

// CaptureSource describes one enumerable video capture origin.
type CaptureSource struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Type   CaptureSourceType `json:"type"`
	Width  int               `json:"width"`
	Height int               `json:"height"`
}

// AudioDeviceType distinguishes microphone input from loopback output capture.
type AudioDeviceType string

const (
	AudioDeviceMic      AudioDeviceType = "mic"
	AudioDeviceLoopback AudioDeviceType = "loopback"
)

// AudioDevice describes one enumerable audio source.
type AudioDevice struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      AudioDeviceType `json:"type"`
	IsDefault bool            `json:"is_default"`
}

// StreamConfig is the immutable parameter set a Start command carries.
type StreamConfig struct {
	SessionID      string        `json:"session_id"`
	RTMPURL        string        `json:"rtmp_url"`
	StreamKey      string        `json:"stream_key"`
	CaptureSource  string        `json:"capture_source"`
	MicDeviceID    string        `json:"mic_device_id,omitempty"`
	SystemDeviceID string        `json:"system_device_id,omitempty"`
	TargetFPS      float32       `json:"target_fps"`
	TargetBitrate  int           `json:"target_bitrate_kbps"`
	KeyframeEvery  time.Duration `json:"keyframe_interval"`
}
