package fluidic

import "devicecode-go/errcode"

// dispatchCommand is the command-acceptance logic shared by Idle and
// MonitorFluidBreach (the two states canAcceptCommand allows fresh
// commands from). Gate validation already ran in Core's public API
// before the event was ever dispatched, so this only has to route.
func dispatchCommand(c *Core, ev event) bool {
	switch ev.kind {
	case evCmdMove:
		c.targetPos = ev.target
		c.moveRamp = ev.ramp
		c.moveOvershoot = ev.overshoot
		c.moveOvershootProportion = ev.overshootProportion
		c.overshootSecondary = false
		c.direction = directionToward(c.lastKnownPos, ev.target)
		c.status.MoveDirection = c.direction
		c.startCmdTimer(ev.timeoutMs)
		if ev.target == PosHome || ev.target == PosDown {
			c.enter(&moveOtherState{})
		} else {
			c.enter(&checkForStripState{})
		}
		return true

	case evCmdLiftBladders:
		c.moveRamp = ev.ramp
		c.direction = DirReverse
		c.status.MoveDirection = c.direction
		c.startCmdTimer(ev.timeoutMs)
		c.enter(&liftUpBladderState{})
		return true

	case evCmdMix:
		c.mixFreq = ev.freqHz
		c.mixCycles = ev.cycles
		c.mixType = ev.mixType
		c.mixOpenLoopComp = ev.openLoopComp
		c.mixDownstroke = ev.downstroke
		c.mixCurrent = c.lastKnownPos
		c.mixOther = ev.target
		c.mixOutbound = true
		c.status.MixComplete = false
		c.status.MixingStagesComplete = 0
		c.startMixTimer(ev.timeoutMs)
		c.startMixStage()
		if c.mixStageByEchem {
			c.enter(&mixContactControlledState{})
		} else {
			c.enter(&mixPiezoControlledState{})
		}
		return true

	case evCmdWaitForFluidAt:
		c.targetPos = ev.target
		c.startCmdTimer(ev.timeoutMs)
		c.enter(&waitForContactState{})
		return true

	case evCmdSetParams:
		*c.params = *ev.params
		return true

	case evCmdMonitorBreach:
		c.params.MonitorBreachAfterMove = ev.enable
		return true
	}
	return false
}

// directionToward reports the travel direction implied by moving from
// from to to, using the voltage-ordered Position enum. A sentinel
// origin (Unknown/None, only legal when to is Home) is always a lift.
func directionToward(from, to Position) Direction {
	if !from.nonSentinel() {
		return DirForward
	}
	if to > from {
		return DirForward
	}
	return DirReverse
}

// ---- Init ----

type initState struct{}

func (initState) name() string { return stateInit }
func (initState) onEntry(c *Core) {
	c.enter(&idleState{})
}
func (initState) onEvent(c *Core, ev event) bool { return false }

// ---- Idle ----

type idleState struct{}

func (idleState) name() string { return stateIdle }
func (idleState) onEntry(c *Core) {
	c.echem.Disable(c.channel)
	c.piezo.Stop()
	c.stopTimers()
	c.direction = DirForward
	c.targetPos = PosNone
}
func (idleState) onEvent(c *Core, ev event) bool { return dispatchCommand(c, ev) }

// ---- CheckForStrip ----

type checkForStripState struct{}

func (checkForStripState) name() string { return stateCheckForStrip }
func (checkForStripState) onEntry(c *Core) {
	c.echem.SetModeFillDetect(c.channel, EchemPositionA)
}
func (checkForStripState) onEvent(c *Core, ev event) bool {
	if ev.kind != evTick {
		return false
	}
	reading := c.echem.FluidPosition(c.channel)
	switch reading {
	case EchemInvalid:
		// not yet settled
	case EchemNoStrip:
		c.fail(errcode.NoStrip)
		return true
	default:
		c.enter(&moveContactState{})
		return true
	}
	if c.cmdTimerExpired() {
		c.fail(errcode.CommandTimeout)
	}
	return true
}

// ---- MoveContact ----

type moveContactState struct{}

func (moveContactState) name() string { return stateMoveContact }
func (moveContactState) onEntry(c *Core) {
	required := requiredEchemReading(c.params, c.targetPos, c.direction, true)
	c.echem.SetModeFillDetect(c.channel, required)
	v := approachVoltage(c.params, c.targetPos, c.direction)
	c.piezo.SetVoltage(v, c.moveRamp, true)
}
func (s moveContactState) onEvent(c *Core, ev event) bool {
	switch ev.kind {
	case evTick, evEchemStatusChanged:
		required := requiredEchemReading(c.params, c.targetPos, c.direction, true)
		reading := c.echem.FluidPosition(c.channel)
		if reading.AtLeast(required) {
			c.piezo.Stop()
			c.enter(&waitForPiezoStopState{})
			return true
		}
		if ev.kind == evTick && c.cmdTimerExpired() {
			c.fail(errcode.MoveTimeout)
		}
		return true
	case evPiezoMoveFail:
		c.fail(ev.code)
		return true
	}
	return false
}

// ---- MoveOther (Down or Home, driven by bladder contact) ----

type moveOtherState struct{}

func (moveOtherState) name() string { return stateMoveOther }
func (moveOtherState) onEntry(c *Core) {
	c.bladderDetectTicks = 0
	c.bladderDetectArmed = false
	c.targetReached = false
	if c.targetPos == PosHome {
		c.piezo.Home()
		return
	}
	c.echem.Disable(c.channel)
	c.piezo.SetVoltage(bladderEndVoltage(PosDown), c.moveRamp, true)
}
func (moveOtherState) onEvent(c *Core, ev event) bool {
	switch ev.kind {
	case evTick:
		if c.targetPos == PosDown && !c.bladderDetectArmed {
			c.bladderDetectTicks++
			if c.bladderDetectTicks*uint32(TimerTick.Milliseconds()) >= uint32(BladderDetectDelay.Milliseconds()) {
				c.bladderDetectArmed = true
				c.publish(StartBladderDetect{Channel: c.channel})
			}
		}
		if c.cmdTimerExpired() {
			c.fail(errcode.MoveTimeout)
		}
		return true
	case evBladderDown:
		if c.targetPos != PosDown {
			return false
		}
		c.targetReached = true
		c.piezo.Stop()
		return true
	case evPiezoStopped:
		if !c.targetReached {
			return false
		}
		c.publish(StopBladderDetect{Channel: c.channel})
		c.targetPos = PosDown
		c.succeedMove(ev.voltage)
		return true
	case evPiezoMoveComplete:
		if c.targetPos != PosHome {
			return false
		}
		c.targetPos = PosHome
		c.succeedMove(ev.voltage)
		return true
	case evPiezoMoveFail:
		c.fail(ev.code)
		return true
	}
	return false
}

// ---- LiftUpBladder ----

type liftUpBladderState struct{}

func (liftUpBladderState) name() string { return stateLiftUpBladder }
func (liftUpBladderState) onEntry(c *Core) {
	c.bladderDetectTicks = 0
	c.bladderDetectArmed = false
	c.targetReached = false
	c.piezo.SetVoltage(bladderEndVoltage(PosHome), c.moveRamp, true)
}
func (liftUpBladderState) onEvent(c *Core, ev event) bool {
	switch ev.kind {
	case evTick:
		if !c.bladderDetectArmed {
			c.bladderDetectTicks++
			if c.bladderDetectTicks*uint32(TimerTick.Milliseconds()) >= uint32(BladderDetectDelay.Milliseconds()) {
				c.bladderDetectArmed = true
				c.publish(StartBladderDetect{Channel: c.channel})
			}
		}
		if c.cmdTimerExpired() {
			c.fail(errcode.MoveTimeout)
		}
		return true
	case evBladderUp:
		c.targetReached = true
		c.piezo.Stop()
		return true
	case evPiezoStopped:
		if !c.targetReached {
			return false
		}
		c.publish(StopBladderDetect{Channel: c.channel})
		// A lift ends with the bladder compressed against its down
		// stop, not lifted off it: the next forward move is legal
		// from there (§4.4).
		c.lastKnownPos = PosDown
		c.failCount = 0
		c.status.PiezoVoltage = ev.voltage
		c.publish(MoveComplete{
			Channel:      c.channel,
			RestPosition: PosDown,
			ElapsedMs:    c.elapsedMs(),
			PiezoVoltage: ev.voltage,
		})
		c.enter(&idleState{})
		return true
	case evPiezoMoveFail:
		c.fail(ev.code)
		return true
	}
	return false
}

// ---- WaitForContact ----

type waitForContactState struct{}

func (waitForContactState) name() string { return stateWaitForContact }
func (waitForContactState) onEntry(c *Core) {
	c.echem.SetModeFillDetect(c.channel, EchemPositionA)
}
func (waitForContactState) onEvent(c *Core, ev event) bool {
	switch ev.kind {
	case evTick, evEchemStatusChanged:
		required := requiredEchemReading(c.params, c.targetPos, DirForward, false)
		reading := c.echem.FluidPosition(c.channel)
		if reading.AtLeast(required) {
			c.status.FluidFrontPosition = reading
			c.targetPos = PosNone
			c.enter(&idleState{})
			return true
		}
		if ev.kind == evTick && c.cmdTimerExpired() {
			c.fail(errcode.MoveTimeout)
		}
		return true
	case evPiezoStopped, evPiezoMoveComplete:
		// This state never commands the piezo; any such report is
		// unexpected (§9 open question, resolved: error, not success).
		c.fail(errcode.UnexpectedPiezoMsg)
		return true
	}
	return false
}

// ---- WaitForPiezoStop ----

type waitForPiezoStopState struct{}

func (waitForPiezoStopState) name() string { return stateWaitForPiezoStop }
func (waitForPiezoStopState) onEntry(c *Core) {}
func (waitForPiezoStopState) onEvent(c *Core, ev event) bool {
	if ev.kind != evPiezoStopped {
		return false
	}
	if c.applyOvershoot(ev.voltage) {
		return true
	}
	c.params.Limits(c.targetPos).TargetVolts = ev.voltage
	c.succeedMove(ev.voltage)
	return true
}

// ---- Mix (contact-controlled stage) ----

type mixContactControlledState struct{}

func (mixContactControlledState) name() string { return stateMixContactControlled }
func (mixContactControlledState) onEntry(c *Core) {
	required := requiredEchemReading(c.params, c.mixOther, c.direction, true)
	c.echem.SetModeFillDetect(c.channel, required)
}
func (mixContactControlledState) onEvent(c *Core, ev event) bool {
	switch ev.kind {
	case evTick, evEchemStatusChanged:
		required := requiredEchemReading(c.params, c.mixOther, c.direction, true)
		if c.echem.FluidPosition(c.channel).AtLeast(required) {
			c.piezo.Stop()
			c.completeMixStage(true)
			return true
		}
		if ev.kind == evTick && c.mixTimerExpired() {
			c.abortMix(errcode.MixTimeout)
		}
		return true
	case evPiezoMoveComplete, evPiezoStopped:
		// Piezo reached its end-of-travel limit before echem
		// confirmed the contact: complete the stage anyway and
		// loosen that endpoint's hysteresis.
		c.completeMixStage(false)
		return true
	case evPiezoMoveFail:
		c.abortMix(ev.code)
		return true
	}
	return false
}

// ---- Mix (piezo-controlled stage) ----

type mixPiezoControlledState struct{}

func (mixPiezoControlledState) name() string { return stateMixPiezoControlled }
func (mixPiezoControlledState) onEntry(c *Core) {}
func (mixPiezoControlledState) onEvent(c *Core, ev event) bool {
	switch ev.kind {
	case evPiezoMoveComplete, evPiezoStopped:
		c.completeMixStage(false)
		return true
	case evPiezoMoveFail:
		c.abortMix(ev.code)
		return true
	case evTick:
		if c.mixTimerExpired() {
			c.abortMix(errcode.MixTimeout)
		}
		return true
	}
	return false
}

// abortMix cancels an in-progress mix and returns to the configured
// rest position, mirroring finishMix's plumbing but without counting
// the aborted stage as complete.
func (c *Core) abortMix(code errcode.Code) {
	c.publish(CommandFailed{Channel: c.channel, Error: code})
	c.finishMix()
}

// ---- MixWaitContinue ----

type mixWaitContinueState struct{}

func (mixWaitContinueState) name() string { return stateMixWaitContinue }
func (mixWaitContinueState) onEntry(c *Core) {}
func (mixWaitContinueState) onEvent(c *Core, ev event) bool {
	if ev.kind != evMixContinue {
		return false
	}
	c.startMixStage()
	if c.mixStageByEchem {
		c.enter(&mixContactControlledState{})
	} else {
		c.enter(&mixPiezoControlledState{})
	}
	return true
}

// ---- MonitorFluidBreach ----

type monitorFluidBreachState struct{}

func (monitorFluidBreachState) name() string { return stateMonitorFluidBreach }
func (monitorFluidBreachState) onEntry(c *Core) {
	required := requiredEchemReading(c.params, c.lastKnownPos, DirForward, false)
	c.echem.SetModeFillDetect(c.channel, required)
}
func (monitorFluidBreachState) onEvent(c *Core, ev event) bool {
	if ev.kind == evEchemStatusChanged {
		c.checkBreach(ev.reading)
		return true
	}
	return dispatchCommand(c, ev)
}

// ---- Err ----

type errState struct{}

func (errState) name() string { return stateErr }
func (c errState) onEntry(co *Core) {
	co.echem.Disable(co.channel)
	co.piezo.Stop()
	co.stopTimers()
	co.status.FluidFrontPosition = EchemInvalid
	co.lastKnownPos = PosUnknown
	co.publish(FluidError{Channel: co.channel, Code: co.pendingErrCode})
}
func (errState) onEvent(c *Core, ev event) bool {
	if ev.kind != evCmdClearError {
		return false
	}
	c.failCount = 0
	c.enter(&idleState{})
	return true
}
