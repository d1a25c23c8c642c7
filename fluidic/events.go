package fluidic

import "devicecode-go/errcode"

// eventKind tags the single event struct used to dispatch into the
// state sequencer. A single struct with optional fields (rather than
// an interface hierarchy) mirrors devicecode-go/services/hal/internal/core.Event,
// which carries an address, a payload and an error field in one shape.
type eventKind uint8

const (
	evCmdMove eventKind = iota
	evCmdLiftBladders
	evCmdMix
	evCmdWaitForFluidAt
	evCmdStop
	evCmdClearError
	evCmdSetParams
	evCmdMonitorBreach

	evTick
	evPiezoStopped
	evPiezoMoveComplete
	evPiezoMoveFail
	evEchemStatusChanged
	evEchemError
	evBladderDown
	evBladderUp
	evDoorOpened
	evGlobalHalt
	evMixContinue
)

// event is the tagged-variant payload dispatched to the current leaf
// state, and (if unconsumed) to the default handler.
type event struct {
	kind eventKind

	// Move/LiftBladders/WaitForFluidAt payload.
	target              Position
	ramp                float32
	timeoutMs           uint32
	overshoot           OvershootMode
	overshootProportion float32

	// Mix payload.
	freqHz       float32
	cycles       uint32
	mixType      MixType
	openLoopComp float32
	downstroke   float32

	// SetParams / MonitorBreach payload.
	params *FluidicParams
	enable bool

	// Driver-event payload (piezo/echem/bladder), channel-filtered
	// before dispatch.
	channel int
	voltage float32
	code    errcode.Code
	reading EchemReading
}

// Published event payloads (§6 "Published by the FCC"). Stored in
// Core's outbox as `any`; callers type-switch on Take().
type MoveComplete struct {
	Channel      int
	RestPosition Position
	ElapsedMs    uint32
	PiezoVoltage float32
}

type MoveFail struct {
	Channel        int
	TargetPosition Position
}

type CommandFailed struct {
	Channel int
	Error   errcode.Code
}

type MixComplete struct {
	Channel      int
	RestPosition Position
}

type MixStageComplete struct {
	Channel int
}

type BreachDetected struct {
	Channel int
}

type FluidError struct {
	Channel int
	Code    errcode.Code
}

type StartBladderDetect struct{ Channel int }
type StopBladderDetect struct{ Channel int }
