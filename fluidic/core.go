package fluidic

import "devicecode-go/errcode"

// leafState is one of the FCC's leaf states. Unhandled events fall
// through to Core.defaultHandler, mirroring the hierarchical-state-
// machine default-handler pattern described in spec.md §9.
type leafState interface {
	name() string
	onEntry(c *Core)
	onEvent(c *Core, ev event) (handled bool)
}

// State name identifiers (§4.2 table).
const (
	stateInit                  = "init"
	stateIdle                  = "idle"
	stateCheckForStrip         = "check_for_strip"
	stateMoveContact           = "move_contact"
	stateMoveOther             = "move_other"
	stateLiftUpBladder         = "lift_up_bladder"
	stateWaitForContact        = "wait_for_contact"
	stateWaitForPiezoStop      = "wait_for_piezo_stop"
	stateMixContactControlled  = "mix_contact_controlled"
	stateMixPiezoControlled    = "mix_piezo_controlled"
	stateMixWaitContinue       = "mix_wait_continue"
	stateMonitorFluidBreach    = "monitor_fluid_breach"
	stateErr                   = "err"
)

// Core is the Fluidic Channel Controller's synchronous state-machine
// object. It has no goroutines and no bus dependency of its own: a
// caller (or the async FluidController wrapper in controller.go) feeds
// it commands and driver events one at a time and drains Take() for
// outgoing publications, exactly the "coroutine-style wait" shape
// spec.md §9 describes — state residency plus a tick, never a
// blocking call.
type Core struct {
	channel int
	params  *FluidicParams
	piezo   PiezoDriver
	echem   EchemDriver

	state leafState

	lastKnownPos Position
	targetPos    Position
	direction    Direction

	cmdTimeoutTicks uint32
	cmdTimeoutLimit uint32
	mixTimeoutTicks uint32
	mixTimeoutLimit uint32

	targetReached bool // chTargetPosReached latch (§4.4)

	status Status

	publishCompletion bool // one-shot flag cleared by door-open homing (§5, §9)
	failCount         int
	transitioningErr  bool // guards re-entrant critical errors during Err entry
	pendingErrCode    errcode.Code // the code that forced entry into Err

	// In-flight move parameters.
	moveRamp                float32
	moveOvershoot           OvershootMode
	moveOvershootProportion float32
	overshootSecondary      bool // awaiting the PiezoVolts secondary-move stop

	// In-flight mix parameters.
	mixFreq           float32
	mixCycles         uint32
	mixType           MixType
	mixOpenLoopComp   float32
	mixDownstroke     float32
	mixCurrent        Position
	mixOther          Position
	mixOutbound       bool // true while on the outbound (away-from-rest) stroke
	mixStageStartV    float32
	mixStageEndV      float32
	mixStageByEchem   bool // true = contact-controlled stage, false = piezo-controlled stage
	mixFinishing      bool // the in-flight move is mix's return-to-rest, not a plain Move

	// Bladder-end move bookkeeping (§4.4).
	bladderDetectTicks  uint32
	bladderDetectArmed  bool

	outbox []any
}

// NewCore constructs a Core for one physical strip channel, wired to
// its (non-owned) piezo and echem drivers. params is kept by pointer,
// not copied, and is mutated in place for the Core's lifetime.
func NewCore(channel int, params *FluidicParams, piezo PiezoDriver, echem EchemDriver) *Core {
	c := &Core{
		channel:      channel,
		params:       params,
		piezo:        piezo,
		echem:        echem,
		lastKnownPos:      PosUnknown,
		targetPos:         PosNone,
		direction:         DirForward,
		publishCompletion: true,
	}
	c.enter(initState{})
	return c
}

// Take drains and returns everything published since the last call.
func (c *Core) Take() []any {
	out := c.outbox
	c.outbox = nil
	return out
}

func (c *Core) publish(ev any) { c.outbox = append(c.outbox, ev) }

func (c *Core) enter(s leafState) {
	c.state = s
	c.state.onEntry(c)
}

// StateName reports the current leaf state's identifier (for tests
// and diagnostics).
func (c *Core) StateName() string { return c.state.name() }

func (c *Core) dispatch(ev event) {
	if !c.state.onEvent(c, ev) {
		c.defaultHandler(ev)
	}
}

// Tick advances the 20ms timer (FLUIDIC_TIMER_COUNT_MS).
func (c *Core) Tick() { c.dispatch(event{kind: evTick}) }

// ---- Driver event entry points (§6), channel-filtered per §5 ----

func (c *Core) OnPiezoStopped(channel int, voltage float32) {
	if channel != c.channel {
		return
	}
	c.dispatch(event{kind: evPiezoStopped, channel: channel, voltage: voltage})
}

func (c *Core) OnPiezoMoveComplete(channel int, voltage float32) {
	if channel != c.channel {
		return
	}
	c.dispatch(event{kind: evPiezoMoveComplete, channel: channel, voltage: voltage})
}

func (c *Core) OnPiezoMoveFail(channel int, code errcode.Code) {
	if channel != c.channel {
		return
	}
	c.dispatch(event{kind: evPiezoMoveFail, channel: channel, code: code})
}

func (c *Core) OnEchemStatusChanged(channel int, reading EchemReading) {
	if channel != c.channel {
		return
	}
	c.dispatch(event{kind: evEchemStatusChanged, channel: channel, reading: reading})
}

func (c *Core) OnEchemError(channel int, code errcode.Code) {
	if channel != c.channel {
		return
	}
	c.dispatch(event{kind: evEchemError, channel: channel, code: code})
}

func (c *Core) OnBladderDown(channel int) {
	if channel != c.channel {
		return
	}
	c.dispatch(event{kind: evBladderDown, channel: channel})
}

func (c *Core) OnBladderUp(channel int) {
	if channel != c.channel {
		return
	}
	c.dispatch(event{kind: evBladderUp, channel: channel})
}

func (c *Core) OnDoorOpened()  { c.dispatch(event{kind: evDoorOpened}) }
func (c *Core) OnGlobalHalt()  { c.dispatch(event{kind: evGlobalHalt}) }
func (c *Core) OnMixContinue() { c.dispatch(event{kind: evMixContinue}) }

// ---- Command gate (§4.1) ----

func (c *Core) Move(target Position, ramp float32, timeoutMs uint32, overshoot OvershootMode, overshootProportion float32) Verdict {
	if target == PosHome {
		// Move(Home) internally forces fixed safe-recovery parameters
		// regardless of caller input, but it is only the recovery
		// action from a live state — Err still requires ClearError
		// first (§8 scenario 5: "further move commands ignored except
		// Move(Home) after ClearError").
		if c.state.name() == stateErr {
			return NotReady
		}
		ramp = SpeedHighDefault()
		timeoutMs = 1000
		overshoot = OvershootNone
		overshootProportion = 0
	}
	v := validateMove(c, target, ramp, overshoot, overshootProportion)
	if v != Accepted {
		return v
	}
	c.dispatch(event{
		kind:                evCmdMove,
		target:              target,
		ramp:                ramp,
		timeoutMs:           timeoutMs,
		overshoot:           overshoot,
		overshootProportion: overshootProportion,
	})
	return Accepted
}

func (c *Core) LiftBladders(ramp float32, timeoutMs uint32) Verdict {
	v := validateLiftBladders(c, ramp)
	if v != Accepted {
		return v
	}
	c.dispatch(event{kind: evCmdLiftBladders, ramp: ramp, timeoutMs: timeoutMs})
	return Accepted
}

func (c *Core) Mix(target Position, freqHz float32, timeoutMs uint32, cycles uint32, mixType MixType, openLoopComp, downstroke float32) Verdict {
	v := validateMix(c, target, freqHz, timeoutMs, mixType, downstroke)
	if v != Accepted {
		return v
	}
	c.dispatch(event{
		kind:         evCmdMix,
		target:       target,
		freqHz:       freqHz,
		timeoutMs:    timeoutMs,
		cycles:       cycles,
		mixType:      mixType,
		openLoopComp: openLoopComp,
		downstroke:   downstroke,
	})
	return Accepted
}

func (c *Core) WaitForFluidAt(target Position, timeoutMs uint32) Verdict {
	v := validateWaitForFluidAt(c, target)
	if v != Accepted {
		return v
	}
	c.dispatch(event{kind: evCmdWaitForFluidAt, target: target, timeoutMs: timeoutMs})
	return Accepted
}

func (c *Core) Stop() Verdict {
	c.dispatch(event{kind: evCmdStop})
	return Accepted
}

func (c *Core) ClearError() Verdict {
	c.dispatch(event{kind: evCmdClearError})
	return Accepted
}

// SetParams validates V(A) < V(B) < V(C) before accepting (§6
// "Persisted state: none. All parameters are runtime-mutable via a
// SetParams command that validates...").
func (c *Core) SetParams(p *FluidicParams) Verdict {
	if !(p.Volts(PosA) < p.Volts(PosB) && p.Volts(PosB) < p.Volts(PosC)) {
		return BadArgs
	}
	c.dispatch(event{kind: evCmdSetParams, params: p})
	return Accepted
}

func (c *Core) EnableBreachMonitoring(enable bool) Verdict {
	c.dispatch(event{kind: evCmdMonitorBreach, enable: enable})
	return Accepted
}

// SpeedHighDefault is the ramp used internally by Move(Home): the
// maximum legal ramp speed.
func SpeedHighDefault() float32 { return PiezoRampMax }

// ---- Shared timer/entry helpers used by leaf states ----

func (c *Core) startCmdTimer(timeoutMs uint32) {
	c.cmdTimeoutTicks = 0
	c.cmdTimeoutLimit = ticksFor(timeoutMs)
}

func (c *Core) cmdTimerExpired() bool {
	c.cmdTimeoutTicks++
	return c.cmdTimeoutLimit > 0 && c.cmdTimeoutTicks >= c.cmdTimeoutLimit
}

func (c *Core) startMixTimer(timeoutMs uint32) {
	c.mixTimeoutTicks = 0
	c.mixTimeoutLimit = ticksFor(timeoutMs)
}

func (c *Core) mixTimerExpired() bool {
	c.mixTimeoutTicks++
	return c.mixTimeoutLimit > 0 && c.mixTimeoutTicks >= c.mixTimeoutLimit
}

func ticksFor(ms uint32) uint32 {
	tick := uint32(TimerTick.Milliseconds())
	if tick == 0 {
		return ms
	}
	return (ms + tick - 1) / tick
}

// stopTimers clears the command and mix timeouts. Only the Idle and
// Err entry handlers call it; other transitions leave a running
// timeout armed, so a command's timeout spans all of its states.
func (c *Core) stopTimers() {
	c.cmdTimeoutLimit = 0
	c.mixTimeoutLimit = 0
}
