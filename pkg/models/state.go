package models

// StartupPhase tracks progress through Engine.Start's resource bring-up sequence.
type StartupPhase int

const (
	PhaseInitCapture StartupPhase = iota
	PhaseInitAudio
	PhaseInitEncoder
	PhaseConnectRTMP
	PhaseStartTransmission
)

func (p StartupPhase) String() string {
	switch p {
	case PhaseInitCapture:
		return "init_capture"
	case PhaseInitAudio:
		return "init_audio"
	case PhaseInitEncoder:
		return "init_encoder"
	case PhaseConnectRTMP:
		return "connect_rtmp"
	case PhaseStartTransmission:
		return "start_transmission"
	default:
		return "unknown"
	}
}

// ShutdownPhase tracks progress through Engine.Stop's teardown sequence.
type ShutdownPhase int

const (
	PhaseStopTransmission ShutdownPhase = iota
	PhaseDisconnectRTMP
	PhaseShutdownEncoder
	PhaseShutdownAudio
	PhaseShutdownCapture
)

func (p ShutdownPhase) String() string {
	switch p {
	case PhaseStopTransmission:
		return "stop_transmission"
	case PhaseDisconnectRTMP:
		return "disconnect_rtmp"
	case PhaseShutdownEncoder:
		return "shutdown_encoder"
	case PhaseShutdownAudio:
		return "shutdown_audio"
	case PhaseShutdownCapture:
		return "shutdown_capture"
	default:
		return "unknown"
	}
}

// StopReason records why the engine left the Live state.
type StopReason int

const (
	StopReasonUserRequested StopReason = iota
	StopReasonFatalError
	StopReasonShutdown
)

func (r StopReason) String() string {
	switch r {
	case StopReasonUserRequested:
		return "user_requested"
	case StopReasonFatalError:
		return "fatal_error"
	case StopReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// EngineState is a tagged variant over the lifecycle FSM's five states.
// Only one concrete type is ever live at a time; callers switch on the
// concrete type (or use Name) rather than inspecting shared fields.
type EngineState interface {
	Name() string
}

type IdleState struct{}

func (IdleState) Name() string { return "idle" }

type StartingState struct {
	Phase StartupPhase
}

func (StartingState) Name() string { return "starting" }

type LiveState struct {
	Config StreamConfig
}

func (LiveState) Name() string { return "live" }

type StoppingState struct {
	Phase  ShutdownPhase
	Reason StopReason
}

func (StoppingState) Name() string { return "stopping" }

type ErrorState struct {
	Message     string
	Phase       string // the startup/shutdown phase name active when the error occurred, if any
	Recoverable bool   // true if a subsequent Start can be retried without restarting the process
}

func (ErrorState) Name() string { return "error" }

// CanTransitionTo reports whether moving from `from` to `to` is a legal
// FSM edge. Stop is always legal from any non-Idle state; Start is only
// legal from Idle. Starting and Stopping may also step to themselves, which
// is how Start and Stop report progress through their sub-phases.
func CanTransitionTo(from, to EngineState) bool {
	switch from.(type) {
	case IdleState:
		switch to.(type) {
		case StartingState:
			return true
		}
		return false
	case StartingState:
		switch to.(type) {
		case StartingState, LiveState, StoppingState, ErrorState:
			return true
		}
		return false
	case LiveState:
		switch to.(type) {
		case StoppingState, ErrorState:
			return true
		}
		return false
	case StoppingState:
		switch to.(type) {
		case StoppingState, IdleState, ErrorState:
			return true
		}
		return false
	case ErrorState:
		switch to.(type) {
		case IdleState:
			return true
		}
		return false
	}
	return false
}
