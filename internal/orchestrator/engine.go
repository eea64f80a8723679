// Package orchestrator drives the capture -> mix -> encode -> publish
// pipeline through its lifecycle FSM. It follows the teacher's
// streammanager.Manager idiom: a mutex-guarded struct exposing direct
// methods rather than a single-threaded command-channel actor, since the
// FSM's own mutex already serializes the transitions that matter.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"broadcaster/internal/audiomix"
	"broadcaster/internal/capture"
	"broadcaster/internal/encoder"
	"broadcaster/internal/eventbus"
	"broadcaster/internal/metrics"
	"broadcaster/internal/pipeline"
	"broadcaster/internal/rtmp"
	"broadcaster/pkg/models"
)

// ErrAlreadyRunning is returned by Start when the engine is already
// Starting or Live.
var ErrAlreadyRunning = errors.New("orchestrator: engine already running")

// ErrInvalidState is returned by Start when the engine is Stopping or in
// Error and cannot accept a new session without an explicit Stop first.
var ErrInvalidState = errors.New("orchestrator: invalid state for requested transition")

// newRTMPClient builds the transport for a session; overridable in tests
// so they can substitute an in-memory net.Pipe transport for a real socket.
var newRTMPClient = rtmp.New

const (
	videoQueueCapacity    = 3
	audioQueueCapacity    = 8
	audioQueueGrace       = 5 * time.Millisecond
	metricsInterval       = 1 * time.Second
	shutdownTimeout       = 2 * time.Second
	hwEncodeFailureWindow = 2 * time.Second
)

// Engine owns the pipeline's resources and lifecycle state. One Engine
// serves one session at a time; Start is idempotent and rejects a second
// session while one is already Starting or Live.
type Engine struct {
	mu    sync.Mutex
	state models.EngineState

	// lifecycleMu serializes Start/Stop/failLive end to end, so a session's
	// phased bring-up can never interleave with a concurrent teardown. mu
	// stays the fine-grained lock guarding state/resource field reads (State,
	// activeMixer, the pump goroutines) so those stay responsive while a
	// Start or Stop is in flight.
	lifecycleMu sync.Mutex

	bus       *eventbus.Bus
	collector *metrics.Collector

	cancel context.CancelFunc
	wg     sync.WaitGroup

	videoSource  capture.VideoSource
	micSource    audiomix.Source
	systemSource audiomix.Source
	mixer        *audiomix.Mixer

	videoEncMu         sync.Mutex
	videoEncoder       encoder.VideoEncoder
	videoEncoderConfig encoder.VideoEncoderConfig

	audioEncoder encoder.AudioEncoder
	rtmpClient   *rtmp.Client

	qVideo *pipeline.Queue[models.VideoFrame]
}

// New builds an idle Engine publishing lifecycle/metrics events to bus and
// recording pipeline health through collector.
func New(bus *eventbus.Bus, collector *metrics.Collector) *Engine {
	return &Engine{
		state:     models.IdleState{},
		bus:       bus,
		collector: collector,
	}
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() models.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// setState applies an FSM transition, logging (but not rejecting) any edge
// CanTransitionTo disallows; Start/Stop guard the edges that matter before
// calling this, so reaching an illegal edge here indicates a bug rather
// than a caller race to be recovered from.
func (e *Engine) setState(to models.EngineState) models.EngineState {
	e.mu.Lock()
	prev := e.state
	if !models.CanTransitionTo(prev, to) {
		log.Printf("orchestrator: illegal state transition %s -> %s", prev.Name(), to.Name())
	}
	e.state = to
	e.mu.Unlock()

	e.bus.Push(models.StateChangedEvent{Previous: prev, Current: to})
	e.collector.SetEngineState(to.Name())
	return prev
}

// Run blocks until ctx is cancelled, then stops any live session. Command
// dispatch itself happens through direct method calls (Start, Stop, the
// Set* gain/mute setters) guarded by Engine's own mutex; Run exists so a
// caller (main.go) has one blocking call that tears the pipeline down on
// shutdown instead of leaking it.
func (e *Engine) Run(ctx context.Context) {
	<-ctx.Done()
	if _, ok := e.State().(models.IdleState); !ok {
		if err := e.Stop(); err != nil {
			log.Printf("orchestrator: shutdown stop reported: %v", err)
		}
	}
}

// Start brings every pipeline stage up in the §4.1 phase order, rolling
// back whatever already started if a later phase fails. It returns once
// the RTMP publish ack lands and the session is Live.
func (e *Engine) Start(cfg models.StreamConfig) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	switch e.state.(type) {
	case models.IdleState:
		// proceed
	case models.StartingState, models.LiveState:
		e.mu.Unlock()
		return ErrAlreadyRunning
	default:
		e.mu.Unlock()
		return ErrInvalidState
	}
	e.mu.Unlock()

	log.Printf("orchestrator: starting session %s -> %s (capture=%s mic=%s system=%s)",
		cfg.SessionID, cfg.RTMPURL, cfg.CaptureSource, cfg.MicDeviceID, cfg.SystemDeviceID)

	e.setState(models.StartingState{Phase: models.PhaseInitCapture})

	ctx, cancel := context.WithCancel(context.Background())

	width, height := 1920, 1080
	for _, src := range capture.EnumerateSources() {
		if src.ID == cfg.CaptureSource {
			width, height = src.Width, src.Height
			break
		}
	}

	videoSource := capture.NewTickerSource(cfg.TargetFPS, width, height)
	videoCh, err := videoSource.Start(ctx)
	if err != nil {
		cancel()
		return e.failStart(models.PhaseInitCapture, err)
	}

	e.setState(models.StartingState{Phase: models.PhaseInitAudio})

	mic := newQueueSource(audiomix.NewTickerSource())
	system := newQueueSource(audiomix.NewTickerSource())
	mixer := audiomix.New()
	mixedCh, err := mixer.Start(ctx, mic, system)
	if err != nil {
		videoSource.Close()
		cancel()
		return e.failStart(models.PhaseInitAudio, err)
	}

	e.setState(models.StartingState{Phase: models.PhaseInitEncoder})

	keyframeEvery := int(cfg.TargetFPS * float32(cfg.KeyframeEvery.Seconds()))
	if keyframeEvery <= 0 {
		keyframeEvery = int(cfg.TargetFPS) * 2
	}
	videoEncCfg := encoder.VideoEncoderConfig{
		Width:         width,
		Height:        height,
		TargetFPS:     cfg.TargetFPS,
		BitrateKbps:   cfg.TargetBitrate,
		KeyframeEvery: keyframeEvery,
	}
	videoEnc, err := selectVideoEncoder(videoEncCfg, e.collector)
	if err != nil {
		mixer.Close()
		videoSource.Close()
		cancel()
		return e.failStart(models.PhaseInitEncoder, err)
	}

	audioEnc := encoder.NewSoftwareAudioEncoder()
	if err := audioEnc.Init(encoder.AudioEncoderConfig{SampleRate: 48000, Channels: 2, BitrateKbps: 128}); err != nil {
		videoEnc.Close()
		mixer.Close()
		videoSource.Close()
		cancel()
		return e.failStart(models.PhaseInitEncoder, err)
	}

	e.setState(models.StartingState{Phase: models.PhaseConnectRTMP})

	client := newRTMPClient(cfg.RTMPURL, cfg.StreamKey, e.requestKeyframe, e.collector)
	if err := client.Connect(ctx); err != nil {
		audioEnc.Close()
		videoEnc.Close()
		mixer.Close()
		videoSource.Close()
		cancel()
		return e.failStart(models.PhaseConnectRTMP, err)
	}

	e.setState(models.StartingState{Phase: models.PhaseStartTransmission})

	e.videoEncMu.Lock()
	e.videoEncoder = videoEnc
	e.videoEncoderConfig = videoEncCfg
	e.videoEncMu.Unlock()

	e.mu.Lock()
	e.cancel = cancel
	e.videoSource = videoSource
	e.micSource = mic
	e.systemSource = system
	e.mixer = mixer
	e.audioEncoder = audioEnc
	e.rtmpClient = client
	e.qVideo = pipeline.New[models.VideoFrame](videoQueueCapacity, pipeline.DropNewest, 0, nil)
	e.mu.Unlock()

	e.collector.Start()

	client.Send(models.EncodedPacket{
		Kind: models.MediaVideo, Data: videoEnc.ConfigBlob(),
		IsKeyframe: true, IsSequenceHeader: true, Priority: models.PriorityKeyframe,
	})
	client.Send(models.EncodedPacket{
		Kind: models.MediaAudio, Data: audioEnc.ConfigBlob(),
		IsSequenceHeader: true, Priority: models.PriorityKeyframe,
	})

	e.wg.Add(5)
	go func() {
		defer e.wg.Done()
		e.runRTMPSendLoop(ctx, client)
	}()
	go e.runVideoCapturePump(videoCh)
	go e.runVideoEncodePump()
	go e.runAudioPump(mixedCh)
	go e.runMetricsLoop(ctx)

	e.setState(models.LiveState{Config: cfg})
	e.bus.Push(models.ReadyEvent{})

	return nil
}

// failStart lands the engine in Error after a startup-phase failure.
// Every startup error kind (CaptureInitFailed, EncoderInitFailed,
// HandshakeFailed, PublishRejected) is fatal-at-start per §7, so
// Recoverable is always false here: the caller must issue a fresh Start
// with a corrected config rather than resume the one that failed.
func (e *Engine) failStart(phase models.StartupPhase, err error) error {
	e.setState(models.ErrorState{Message: err.Error(), Phase: phase.String(), Recoverable: false})
	e.bus.Push(models.ErrorEvent{Message: err.Error(), Recoverable: false})
	return fmt.Errorf("orchestrator: start failed at %s: %w", phase, err)
}

// failLive tears a Live session down after a fatal mid-stream error,
// landing in Error rather than Idle; a subsequent Stop() call completes
// the Error -> Idle edge CanTransitionTo allows. Every mid-stream error
// kind that reaches here (EncoderRuntimeFailure after fallback exhaustion,
// NetworkError after the one reconnect attempt fails) is fatal per §7, so
// Recoverable is always false.
func (e *Engine) failLive(message string) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	if _, ok := e.state.(models.LiveState); !ok {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.setState(models.ErrorState{Message: message, Phase: "live", Recoverable: false})
	e.bus.Push(models.ErrorEvent{Message: message, Recoverable: false})
	e.shutdownResources()
}

// Stop tears the current session down, if any, and returns to Idle. It is
// idempotent: a no-op from Idle, and a bare state transition (no teardown
// work, since failLive already did it) from Error.
func (e *Engine) Stop() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	switch e.state.(type) {
	case models.IdleState:
		e.mu.Unlock()
		return nil
	case models.ErrorState:
		e.mu.Unlock()
		e.setState(models.IdleState{})
		return nil
	}
	e.mu.Unlock()

	e.setState(models.StoppingState{Phase: models.PhaseStopTransmission, Reason: models.StopReasonUserRequested})

	errs := e.shutdownResources()

	e.setState(models.IdleState{})
	e.bus.Push(models.ShutdownEvent{})

	if errs != nil {
		return errs.ErrorOrNil()
	}
	return nil
}

// shutdownResources signals every worker to exit, joins them with a 2s
// timeout, closes resources in the §4.1 shutdown-phase order, and clears
// the engine's session state so a later Start begins clean.
func (e *Engine) shutdownResources() *multierror.Error {
	e.mu.Lock()
	cancel := e.cancel
	qVideo := e.qVideo
	client := e.rtmpClient
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if qVideo != nil {
		qVideo.Close()
	}
	if client != nil {
		client.Queue().Close()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Printf("orchestrator: shutdown timed out after %s, forcing teardown", shutdownTimeout)
	}

	var errs *multierror.Error

	// Shutdown phases are reported only on the Stop path; a failLive
	// teardown keeps the engine in its ErrorState throughout.
	setPhase := func(phase models.ShutdownPhase) {
		if _, failed := e.State().(models.ErrorState); failed {
			return
		}
		e.setState(models.StoppingState{Phase: phase, Reason: models.StopReasonUserRequested})
	}

	setPhase(models.PhaseDisconnectRTMP)
	if client != nil {
		if err := client.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("rtmp close: %w", err))
		}
	}

	setPhase(models.PhaseShutdownEncoder)
	e.videoEncMu.Lock()
	videoEnc := e.videoEncoder
	e.videoEncMu.Unlock()
	if videoEnc != nil {
		if err := videoEnc.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("video encoder close: %w", err))
		}
	}
	e.mu.Lock()
	audioEnc := e.audioEncoder
	e.mu.Unlock()
	if audioEnc != nil {
		if err := audioEnc.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("audio encoder close: %w", err))
		}
	}

	setPhase(models.PhaseShutdownAudio)
	e.mu.Lock()
	mixer := e.mixer
	mic := e.micSource
	system := e.systemSource
	e.mu.Unlock()
	if mixer != nil {
		if err := mixer.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("mixer close: %w", err))
		}
	}
	if mic != nil {
		if err := mic.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("mic source close: %w", err))
		}
	}
	if system != nil {
		if err := system.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("system source close: %w", err))
		}
	}

	setPhase(models.PhaseShutdownCapture)
	e.mu.Lock()
	videoSource := e.videoSource
	e.mu.Unlock()
	if videoSource != nil {
		if err := videoSource.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("capture close: %w", err))
		}
	}

	e.mu.Lock()
	e.cancel = nil
	e.qVideo = nil
	e.rtmpClient = nil
	e.mixer = nil
	e.micSource = nil
	e.systemSource = nil
	e.videoSource = nil
	e.audioEncoder = nil
	e.mu.Unlock()
	e.videoEncMu.Lock()
	e.videoEncoder = nil
	e.videoEncMu.Unlock()

	return errs
}

// SetMicGain sets the microphone gain in [0,1] on the live mixer, if any.
func (e *Engine) SetMicGain(v float32) {
	if m := e.activeMixer(); m != nil {
		m.SetMicGain(v)
	}
}

// SetSystemGain sets the system-audio gain in [0,1] on the live mixer, if any.
func (e *Engine) SetSystemGain(v float32) {
	if m := e.activeMixer(); m != nil {
		m.SetSystemGain(v)
	}
}

// SetMicMuted mutes or unmutes the microphone input on the live mixer, if any.
func (e *Engine) SetMicMuted(v bool) {
	if m := e.activeMixer(); m != nil {
		m.SetMicMuted(v)
	}
}

// SetSystemMuted mutes or unmutes the system-audio input on the live mixer, if any.
func (e *Engine) SetSystemMuted(v bool) {
	if m := e.activeMixer(); m != nil {
		m.SetSystemMuted(v)
	}
}

func (e *Engine) activeMixer() *audiomix.Mixer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mixer
}

// PollEvents drains every event queued on the bus since the last poll.
func (e *Engine) PollEvents() []models.Event {
	return e.bus.Drain()
}

// EnumerateCaptureSources asynchronously reports the available capture
// sources via a CaptureSourcesEvent.
func (e *Engine) EnumerateCaptureSources() {
	go func() {
		e.bus.Push(models.CaptureSourcesEvent{Sources: capture.EnumerateSources()})
	}()
}

// EnumerateAudioDevices asynchronously reports the available audio
// devices via an AudioDevicesEvent.
func (e *Engine) EnumerateAudioDevices() {
	go func() {
		e.bus.Push(models.AudioDevicesEvent{Devices: audiomix.EnumerateDevices()})
	}()
}
