package models

// WarningType is a tagged variant over the performance-warning surface.
type WarningType interface {
	Name() string
}

type EncoderOverloadWarning struct{ LoadPercent float32 }

func (EncoderOverloadWarning) Name() string { return "encoder_overload" }

type SlowEncoderWarning struct{ MeasuredFPS, TargetFPS float32 }

func (SlowEncoderWarning) Name() string { return "slow_encoder" }

type NetworkCongestionWarning struct{ BufferPercent float32 }

func (NetworkCongestionWarning) Name() string { return "network_congestion" }

type CaptureDropsWarning struct{ DropsPerSecond float32 }

func (CaptureDropsWarning) Name() string { return "capture_drops" }

// HighCPUWarning stands in for a real CPU-load sensor (out of scope, no OS
// collaborator): a sustained rise in live goroutine count is the cheapest
// available proxy for "the process is doing more work than it should be".
type HighCPUWarning struct{ GoroutineCount int }

func (HighCPUWarning) Name() string { return "high_cpu" }

// LowMemoryWarning stands in for a real available-memory sensor: heap
// growth past a fixed ceiling is the cheapest available proxy, sampled via
// runtime.MemStats rather than an OS memory API.
type LowMemoryWarning struct{ HeapAllocMB uint64 }

func (LowMemoryWarning) Name() string { return "low_memory" }

// Metrics is a point-in-time snapshot of the pipeline's health, built from
// the EMA FPS tracker and the per-stage drop counters.
type Metrics struct {
	FPS                   float32
	TargetFPS             float32
	BitrateKbps           int
	TargetBitrateKbps     int
	CaptureDrops          uint64
	EncodeDrops           uint64
	NetworkDrops          uint64
	DroppedFrames         uint64
	EncoderName           string
	EncoderLoadPercent    float32
	BufferFullnessPercent float32
	UptimeSeconds         uint64
	QueueDepths           map[string]int
}
