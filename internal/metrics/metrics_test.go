package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"broadcaster/pkg/models"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(NewProm(prometheus.NewRegistry()), 30, 3000)
}

func TestDroppedFramesIsSumOfStages(t *testing.T) {
	c := newTestCollector(t)
	c.Start()
	c.RecordCaptureDrop()
	c.RecordEncodeDrop()
	c.RecordEncodeDrop()
	c.RecordNetworkDrop()

	snap := c.Snapshot()
	assert.Equal(t, uint64(4), snap.DroppedFrames)
	assert.Equal(t, uint64(1), snap.CaptureDrops)
	assert.Equal(t, uint64(2), snap.EncodeDrops)
	assert.Equal(t, uint64(1), snap.NetworkDrops)
}

func TestDroppedFramesMonotonicAcrossSnapshots(t *testing.T) {
	c := newTestCollector(t)
	c.Start()

	var last uint64
	for i := 0; i < 5; i++ {
		c.RecordNetworkDrop()
		snap := c.Snapshot()
		assert.GreaterOrEqual(t, snap.DroppedFrames, last)
		last = snap.DroppedFrames
		c.MarkReported()
	}
}

func TestEncoderOverloadWarningFiresAbove90Percent(t *testing.T) {
	c := newTestCollector(t)
	c.Start()
	c.UpdateEncoderLoad(95)

	warnings := c.CheckWarnings()
	assert.NotEmpty(t, warningsOfType[models.EncoderOverloadWarning](warnings))
}

func TestNetworkCongestionRequiresThreeConsecutiveSeconds(t *testing.T) {
	c := newTestCollector(t)
	c.Start()
	c.UpdateBufferFullness(90)

	c.Snapshot()
	assert.Empty(t, warningsOfType[models.NetworkCongestionWarning](c.CheckWarnings()))
	c.MarkReported()

	c.Snapshot()
	assert.Empty(t, warningsOfType[models.NetworkCongestionWarning](c.CheckWarnings()))
	c.MarkReported()

	c.Snapshot()
	assert.NotEmpty(t, warningsOfType[models.NetworkCongestionWarning](c.CheckWarnings()))
}

func warningsOfType[T models.WarningType](warnings []models.WarningType) []T {
	var out []T
	for _, w := range warnings {
		if t, ok := w.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func TestBitrateReflectsBytesSentOverElapsedTime(t *testing.T) {
	c := newTestCollector(t)
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.RecordBytesSent(125000) // 1,000,000 bits

	snap := c.Snapshot()
	assert.Greater(t, snap.BitrateKbps, 0)
}

func TestRecordReconnectIncrementsCounter(t *testing.T) {
	c := newTestCollector(t)
	c.Start()

	c.RecordReconnect()
	c.RecordReconnect()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.prom.Reconnects))
}

func TestCheckWarningsOmitsCPUAndMemoryUnderNormalLoad(t *testing.T) {
	c := newTestCollector(t)
	c.Start()

	warnings := c.CheckWarnings()
	assert.Empty(t, warningsOfType[models.HighCPUWarning](warnings))
	assert.Empty(t, warningsOfType[models.LowMemoryWarning](warnings))
}
