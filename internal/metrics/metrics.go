// Package metrics tracks the pipeline's live health: an EMA-smoothed FPS
// tracker, per-stage drop counters, and the Prometheus exposition gin's
// /metrics endpoint serves.
package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"broadcaster/pkg/models"
)

const fpsEMAAlpha = 0.3

// goroutineWarnThreshold and heapWarnThresholdMB are the cheap
// runtime.NumGoroutine/runtime.MemStats stand-ins for the real CPU-load and
// available-memory sensors named out of scope (no OS collaborator).
const (
	goroutineWarnThreshold = 500
	heapWarnThresholdMB    = 512
)

// Prom holds the Prometheus metrics exposed at /metrics.
type Prom struct {
	FramesEncoded   *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	BytesSent       prometheus.Counter
	Reconnects      prometheus.Counter
	ActiveEncoder   *prometheus.GaugeVec
	EngineStateInfo *prometheus.GaugeVec
}

// NewProm creates and registers the Prometheus metric set against reg.
// Callers pass their own *prometheus.Registry (main.go builds one at
// startup) rather than relying on the package-global DefaultRegisterer, so
// that tests constructing multiple Collectors in one process don't collide
// on duplicate metric names.
func NewProm(reg *prometheus.Registry) *Prom {
	factory := promauto.With(reg)
	return &Prom{
		FramesEncoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcaster_frames_encoded_total",
			Help: "Total frames successfully encoded",
		}, []string{"kind"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcaster_frames_dropped_total",
			Help: "Total frames dropped, by pipeline stage",
		}, []string{"stage"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broadcaster_queue_depth",
			Help: "Current depth of each bounded queue",
		}, []string{"queue"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "broadcaster_rtmp_bytes_sent_total",
			Help: "Total bytes sent over the RTMP connection",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "broadcaster_rtmp_reconnects_total",
			Help: "Total RTMP reconnect attempts",
		}),
		ActiveEncoder: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broadcaster_active_encoder",
			Help: "1 if the named encoder backend is currently active",
		}, []string{"backend"}),
		EngineStateInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broadcaster_engine_state",
			Help: "1 if the named engine state is currently active",
		}, []string{"state"}),
	}
}

// Collector accumulates drop/byte counters and derives the EMA-smoothed FPS
// and performance-warning hysteresis the orchestrator's metrics loop reports.
type Collector struct {
	prom *Prom

	startTime      time.Time
	startTimeMu    sync.RWMutex
	lastReportTime time.Time
	reportMu       sync.RWMutex

	frameCount     atomic.Uint64
	lastFrameCount atomic.Uint64
	captureDrops   atomic.Uint64
	encodeDrops    atomic.Uint64
	networkDrops   atomic.Uint64
	bytesSent      atomic.Uint64

	emaFPS      float32
	emaMu       sync.Mutex
	targetFPS   float32
	targetKbps  int

	encoderLoad      float32
	bufferFullness   float32
	gaugeMu          sync.RWMutex

	encoderName   atomic.Value // string
	queueDepthsMu sync.Mutex
	queueDepths   map[string]int

	lowFPSStreak     int
	highBufferStreak int
}

// NewCollector builds a collector targeting the given FPS and bitrate.
func NewCollector(prom *Prom, targetFPS float32, targetBitrateKbps int) *Collector {
	return &Collector{
		prom:       prom,
		targetFPS:  targetFPS,
		targetKbps: targetBitrateKbps,
	}
}

// Start marks the beginning of the measurement window.
func (c *Collector) Start() {
	now := time.Now()
	c.startTimeMu.Lock()
	c.startTime = now
	c.startTimeMu.Unlock()
	c.reportMu.Lock()
	c.lastReportTime = now
	c.reportMu.Unlock()
}

func (c *Collector) RecordFrame(kind models.MediaKind) {
	c.frameCount.Add(1)
	c.prom.FramesEncoded.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) RecordCaptureDrop() {
	c.captureDrops.Add(1)
	c.prom.FramesDropped.WithLabelValues("capture").Inc()
}

func (c *Collector) RecordEncodeDrop() {
	c.encodeDrops.Add(1)
	c.prom.FramesDropped.WithLabelValues("encode").Inc()
}

func (c *Collector) RecordNetworkDrop() {
	c.networkDrops.Add(1)
	c.prom.FramesDropped.WithLabelValues("network").Inc()
}

func (c *Collector) RecordBytesSent(n uint64) {
	c.bytesSent.Add(n)
	c.prom.BytesSent.Add(float64(n))
}

// RecordReconnect counts one RTMP reconnect attempt, successful or not.
func (c *Collector) RecordReconnect() {
	c.prom.Reconnects.Inc()
}

func (c *Collector) SetQueueDepth(queue string, depth int) {
	c.prom.QueueDepth.WithLabelValues(queue).Set(float64(depth))

	c.queueDepthsMu.Lock()
	if c.queueDepths == nil {
		c.queueDepths = make(map[string]int)
	}
	c.queueDepths[queue] = depth
	c.queueDepthsMu.Unlock()
}

func (c *Collector) SetActiveEncoder(backend string) {
	c.prom.ActiveEncoder.Reset()
	c.prom.ActiveEncoder.WithLabelValues(backend).Set(1)
	c.encoderName.Store(backend)
}

func (c *Collector) SetEngineState(state string) {
	c.prom.EngineStateInfo.Reset()
	c.prom.EngineStateInfo.WithLabelValues(state).Set(1)
}

func (c *Collector) UpdateEncoderLoad(percent float32) {
	c.gaugeMu.Lock()
	defer c.gaugeMu.Unlock()
	c.encoderLoad = clampPercent(percent)
}

func (c *Collector) UpdateBufferFullness(percent float32) {
	c.gaugeMu.Lock()
	defer c.gaugeMu.Unlock()
	c.bufferFullness = clampPercent(percent)
}

func clampPercent(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Snapshot computes the current metrics, updating the EMA FPS tracker.
// It is intended to be called roughly once per second by the orchestrator's
// metrics ticker; the consecutive-seconds warning hysteresis assumes that cadence.
func (c *Collector) Snapshot() models.Metrics {
	now := time.Now()

	c.reportMu.RLock()
	lastReport := c.lastReportTime
	c.reportMu.RUnlock()

	elapsed := now.Sub(lastReport).Seconds()
	current := c.frameCount.Load()
	last := c.lastFrameCount.Load()

	instantFPS := float32(0)
	if elapsed > 0 {
		instantFPS = float32(float64(current-last) / elapsed)
	}

	c.emaMu.Lock()
	c.emaFPS = fpsEMAAlpha*instantFPS + (1-fpsEMAAlpha)*c.emaFPS
	ema := c.emaFPS
	c.emaMu.Unlock()

	c.startTimeMu.RLock()
	start := c.startTime
	c.startTimeMu.RUnlock()

	bytes := c.bytesSent.Load()
	totalElapsed := now.Sub(start).Seconds()
	bitrateKbps := 0
	if totalElapsed > 0 {
		bitrateKbps = int(float64(bytes*8) / totalElapsed / 1000)
	}

	uptime := uint64(0)
	if !start.IsZero() {
		uptime = uint64(totalElapsed)
	}

	captureDrops := c.captureDrops.Load()
	encodeDrops := c.encodeDrops.Load()
	networkDrops := c.networkDrops.Load()

	c.gaugeMu.RLock()
	load := c.encoderLoad
	buffer := c.bufferFullness
	c.gaugeMu.RUnlock()

	encoderName, _ := c.encoderName.Load().(string)

	c.queueDepthsMu.Lock()
	depths := make(map[string]int, len(c.queueDepths))
	for k, v := range c.queueDepths {
		depths[k] = v
	}
	c.queueDepthsMu.Unlock()

	if ema < 0.8*c.targetFPS {
		c.lowFPSStreak++
	} else {
		c.lowFPSStreak = 0
	}
	if buffer > 80 {
		c.highBufferStreak++
	} else {
		c.highBufferStreak = 0
	}

	return models.Metrics{
		FPS:                   ema,
		TargetFPS:             c.targetFPS,
		BitrateKbps:           bitrateKbps,
		TargetBitrateKbps:     c.targetKbps,
		CaptureDrops:          captureDrops,
		EncodeDrops:           encodeDrops,
		NetworkDrops:          networkDrops,
		DroppedFrames:         captureDrops + encodeDrops + networkDrops,
		EncoderName:           encoderName,
		EncoderLoadPercent:    load,
		BufferFullnessPercent: buffer,
		UptimeSeconds:         uptime,
		QueueDepths:           depths,
	}
}

// MarkReported resets the FPS measurement window; call after Snapshot once
// the caller has consumed the result.
func (c *Collector) MarkReported() {
	c.reportMu.Lock()
	c.lastReportTime = time.Now()
	c.reportMu.Unlock()
	c.lastFrameCount.Store(c.frameCount.Load())
}

// CheckWarnings reports the performance warnings currently in effect,
// based on the hysteresis state Snapshot maintains.
func (c *Collector) CheckWarnings() []models.WarningType {
	var warnings []models.WarningType

	c.gaugeMu.RLock()
	load := c.encoderLoad
	buffer := c.bufferFullness
	c.gaugeMu.RUnlock()

	if load > 90 {
		warnings = append(warnings, models.EncoderOverloadWarning{LoadPercent: load})
	}
	if c.lowFPSStreak >= 3 {
		c.emaMu.Lock()
		ema := c.emaFPS
		c.emaMu.Unlock()
		warnings = append(warnings, models.SlowEncoderWarning{MeasuredFPS: ema, TargetFPS: c.targetFPS})
	}
	if c.highBufferStreak >= 3 {
		warnings = append(warnings, models.NetworkCongestionWarning{BufferPercent: buffer})
	}

	if n := runtime.NumGoroutine(); n > goroutineWarnThreshold {
		warnings = append(warnings, models.HighCPUWarning{GoroutineCount: n})
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	if heapMB := memStats.HeapAlloc / (1024 * 1024); heapMB > heapWarnThresholdMB {
		warnings = append(warnings, models.LowMemoryWarning{HeapAllocMB: heapMB})
	}

	return warnings
}
