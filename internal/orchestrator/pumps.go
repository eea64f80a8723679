package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"broadcaster/internal/encoder"
	"broadcaster/internal/rtmp"
	"broadcaster/pkg/models"
)

// selectVideoEncoder tries the hardware-backed encoder first, falling back
// to software if its Init fails, per §4.4's HW->SW selection order.
func selectVideoEncoder(cfg encoder.VideoEncoderConfig, collector interface {
	SetActiveEncoder(string)
}) (encoder.VideoEncoder, error) {
	hw := encoder.NewHardwareVideoEncoder()
	if err := hw.Init(cfg); err != nil {
		log.Printf("orchestrator: hardware video encoder init failed, falling back to software: %v", err)
		sw := encoder.NewSoftwareVideoEncoder()
		if err := sw.Init(cfg); err != nil {
			return nil, fmt.Errorf("software video encoder init: %w", err)
		}
		collector.SetActiveEncoder("software")
		return sw, nil
	}
	collector.SetActiveEncoder("hardware")
	return hw, nil
}

// requestKeyframe is handed to the rtmp.Client as its keyframe-request
// callback, invoked when Q_net's drop-by-priority policy evicts a keyframe.
func (e *Engine) requestKeyframe() {
	e.videoEncMu.Lock()
	enc := e.videoEncoder
	e.videoEncMu.Unlock()
	if enc != nil {
		enc.RequestKeyframe()
	}
}

// runVideoCapturePump forwards captured frames into Q_v, recording a
// capture drop whenever the DropNewest policy discards one.
func (e *Engine) runVideoCapturePump(videoCh <-chan models.VideoFrame) {
	defer e.wg.Done()
	for frame := range videoCh {
		if !e.qVideo.Push(frame) {
			e.collector.RecordCaptureDrop()
		}
	}
	e.qVideo.Close()
}

// runVideoEncodePump drains Q_v, encodes each frame, and enqueues the
// result onto the RTMP client's Q_net. A runtime encode failure inside the
// hardware-encoder fallback window triggers a one-shot switch to the
// software encoder (§4.4); a failure after that window, or a failed
// fallback itself, is fatal for the session.
func (e *Engine) runVideoEncodePump() {
	defer e.wg.Done()

	encStart := time.Now()
	fellBack := false

	for {
		frame, ok := e.qVideo.Pop()
		if !ok {
			return
		}

		e.videoEncMu.Lock()
		enc := e.videoEncoder
		e.videoEncMu.Unlock()

		packets, err := enc.Encode(frame)
		if err != nil {
			if !fellBack && time.Since(encStart) < hwEncodeFailureWindow {
				log.Printf("orchestrator: video encoder failed inside the fallback window, switching to software: %v", err)
				sw := encoder.NewSoftwareVideoEncoder()
				initErr := sw.Init(e.videoEncoderConfig)
				if initErr == nil {
					enc.Close()
					e.videoEncMu.Lock()
					e.videoEncoder = sw
					e.videoEncMu.Unlock()
					e.collector.SetActiveEncoder("software")
					fellBack = true
					e.rtmpClient.Send(models.EncodedPacket{
						Kind: models.MediaVideo, Data: sw.ConfigBlob(),
						IsKeyframe: true, IsSequenceHeader: true, Priority: models.PriorityKeyframe,
					})
					continue
				}
				log.Printf("orchestrator: software fallback init also failed: %v", initErr)
			}
			log.Printf("orchestrator: video encode failed fatally, stopping session: %v", err)
			e.failLive(fmt.Sprintf("video encode: %v", err))
			return
		}

		for _, pkt := range packets {
			e.rtmpClient.Send(pkt)
		}
	}
}

// runRTMPSendLoop drives the client's Q_net send loop, attempting exactly
// one reconnect within the client's own 2s window on a mid-session
// ErrNetworkError per §4.5 item 6, before giving up and failing the
// session. A successful reconnect resumes the send loop in place, picking
// up wherever Q_net's contents (and its own backpressure policy) leave it.
func (e *Engine) runRTMPSendLoop(ctx context.Context, client *rtmp.Client) {
	for {
		err := client.Run(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, rtmp.ErrNetworkError) {
			log.Printf("orchestrator: rtmp send loop ended: %v", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Printf("orchestrator: rtmp network error, attempting one reconnect: %v", err)
		e.collector.RecordReconnect()
		if rerr := client.Reconnect(ctx); rerr != nil {
			log.Printf("orchestrator: rtmp reconnect failed, session is fatal: %v", rerr)
			e.failLive(fmt.Sprintf("network error: %v", rerr))
			return
		}
		log.Printf("orchestrator: rtmp reconnected, resuming send loop")
	}
}

// runAudioPump drains the mixer's output and feeds it to the audio
// encoder, forwarding encoded packets to Q_net. The audio path has no
// hardware encoder to fall back to (only swAACEncoder), so per §7's
// EncoderRuntimeFailure row every runtime encode error here is fatal for
// the session, mirroring the fatal branch of the video pump's fallback
// window once it's exhausted.
func (e *Engine) runAudioPump(mixedCh <-chan models.AudioFrame) {
	defer e.wg.Done()
	for frame := range mixedCh {
		packets, err := e.audioEncoder.Encode(frame)
		if err != nil {
			e.collector.RecordEncodeDrop()
			log.Printf("orchestrator: audio encode failed fatally, stopping session: %v", err)
			e.failLive(fmt.Sprintf("audio encode: %v", err))
			return
		}
		for _, pkt := range packets {
			e.rtmpClient.Send(pkt)
		}
	}
}

// runMetricsLoop samples queue depths once per second, snapshots the
// collector, and publishes MetricsEvent/PerformanceWarningEvent to the bus,
// matching the cadence the EMA FPS and consecutive-seconds hysteresis assume.
func (e *Engine) runMetricsLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sampleQueueDepths()

			snap := e.collector.Snapshot()
			e.bus.Push(models.MetricsEvent{Metrics: snap})
			for _, w := range e.collector.CheckWarnings() {
				e.bus.Push(models.PerformanceWarningEvent{Warning: w})
			}
			e.collector.MarkReported()
		}
	}
}

func (e *Engine) sampleQueueDepths() {
	e.mu.Lock()
	qVideo := e.qVideo
	client := e.rtmpClient
	mic, _ := e.micSource.(*queueSource)
	system, _ := e.systemSource.(*queueSource)
	e.mu.Unlock()

	if qVideo != nil {
		e.collector.SetQueueDepth("video", qVideo.Len())
		// No hardware encoder-load sensor is in scope (§1); Q_v fullness is
		// the closest available proxy for "the encoder can't keep up".
		e.collector.UpdateEncoderLoad(qVideo.Fullness() * 100)
	}
	if client != nil {
		netQueue := client.Queue()
		e.collector.SetQueueDepth("network", netQueue.Len())
		e.collector.UpdateBufferFullness(netQueue.Fullness() * 100)
	}
	if mic != nil {
		e.collector.SetQueueDepth("audio_mic", mic.depth())
	}
	if system != nil {
		e.collector.SetQueueDepth("audio_system", system.depth())
	}
}
