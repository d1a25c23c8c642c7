package fluidic

// defaultHandler runs for any event a leaf state's onEvent did not
// consume, mirroring the hierarchical-state-machine default-handler
// pattern: a small set of events (Stop, a global halt, the door
// opening, and the two commands every state must accept) behave the
// same no matter which leaf state is active.
func (c *Core) defaultHandler(ev event) {
	switch ev.kind {
	case evCmdStop, evGlobalHalt:
		c.abortToIdle()
	case evDoorOpened:
		c.forceHomeRecovery()
	case evCmdSetParams:
		*c.params = *ev.params
	case evCmdMonitorBreach:
		c.params.MonitorBreachAfterMove = ev.enable
	}
}

// abortToIdle is Stop's effect: whatever was in flight is cancelled
// without being treated as a failure, and the channel returns to Idle.
func (c *Core) abortToIdle() {
	switch c.state.name() {
	case stateIdle, stateErr:
		return
	}
	c.piezo.Stop()
	c.echem.Disable(c.channel)
	c.targetPos = PosNone
	c.enter(&idleState{})
}

// forceHomeRecovery is the door-open safety action (§5, §9): drive to
// Home exactly as Move(Home) would, but suppress the next
// MoveComplete publication, since this was not an operator-requested
// move. Already in Err, it is a no-op — clearing the fault requires
// an explicit ClearError first.
func (c *Core) forceHomeRecovery() {
	if c.state.name() == stateErr {
		return
	}
	c.targetPos = PosHome
	c.moveRamp = SpeedHighDefault()
	c.moveOvershoot = OvershootNone
	c.direction = DirForward
	c.status.MoveDirection = c.direction
	c.publishCompletion = false
	c.startCmdTimer(1000)
	c.enter(&moveOtherState{})
}
