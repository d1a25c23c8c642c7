package fluidic

// Verdict is the command gate's response to an incoming command (§4.1).
type Verdict uint8

const (
	Accepted Verdict = iota
	NotReady
	BadArgs
	InvalidMove
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case NotReady:
		return "not_ready"
	case BadArgs:
		return "bad_args"
	case InvalidMove:
		return "invalid_move"
	default:
		return "unknown"
	}
}

// moveLegal implements the move legality matrix (§4.1): given the
// last-known position, which targets may legally be moved to.
func moveLegal(from, to Position) bool {
	switch from {
	case PosHome:
		return to == PosHome || to == PosDown
	case PosDown, PosA, PosB, PosC:
		return to.nonSentinel()
	case PosUnknown, PosNone:
		return to == PosHome
	default:
		return false
	}
}

// canAcceptCommand reports whether the current leaf state allows a
// fresh command (other than Move(Home), which is accepted from every
// state except Err).
func canAcceptCommand(s leafState) bool {
	switch s.name() {
	case stateIdle, stateMonitorFluidBreach:
		return true
	default:
		return false
	}
}

// validateMove runs the pure, side-effect-free checks from §4.1 for
// Move. Move(Home) passes these checks regardless of arguments (the
// caller, Core.Move, rejects it only in Err); Core.Move substitutes
// the fixed Home parameters.
func validateMove(c *Core, target Position, ramp float32, overshoot OvershootMode, overshootProportion float32) Verdict {
	if target == PosHome {
		return Accepted
	}
	if !canAcceptCommand(c.state) {
		return NotReady
	}
	if !moveLegal(c.lastKnownPos, target) {
		return InvalidMove
	}
	if !(ramp > 0 && ramp <= PiezoRampMax) {
		return BadArgs
	}
	switch overshoot {
	case OvershootNone, OvershootPiezoVolts, OvershootBreakRemake:
	default:
		return BadArgs
	}
	if overshootProportion > 1.0 {
		return BadArgs
	}
	return Accepted
}

func validateLiftBladders(c *Core, ramp float32) Verdict {
	if !canAcceptCommand(c.state) {
		return NotReady
	}
	if !(ramp > 0 && ramp <= PiezoRampMax) {
		return BadArgs
	}
	return Accepted
}

// validateMix runs the pure checks from §4.1 for Mix.
func validateMix(c *Core, target Position, freqHz float32, timeoutMs uint32, mixType MixType, downstroke float32) Verdict {
	if !canAcceptCommand(c.state) {
		return NotReady
	}
	if target == PosHome || target == PosUnknown || target == PosNone {
		return InvalidMove
	}
	if !(target < c.lastKnownPos) {
		return InvalidMove
	}
	if freqHz == 0 {
		return BadArgs
	}
	restV := c.params.Volts(c.params.MixRestPosition)
	targV := c.params.Volts(target)
	impliedRamp := absF(restV-targV) * freqHz
	if impliedRamp > PiezoRampMax {
		return BadArgs
	}
	if !(timeoutMs > 0 && timeoutMs <= c.params.MixTimeoutMaxMs) {
		return BadArgs
	}
	if mixType != MixDualPointClosedLoop && !(downstroke > 0.0) {
		return BadArgs
	}
	return Accepted
}

func validateWaitForFluidAt(c *Core, target Position) Verdict {
	if !canAcceptCommand(c.state) {
		return NotReady
	}
	if !moveLegal(c.lastKnownPos, target) {
		return InvalidMove
	}
	return Accepted
}

func absF(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
