package fluidic

import "devicecode-go/errcode"

// fail is the move-local error path (§4.8): publish MoveFail and
// CommandFailed, count the failure, and return to Idle — unless the
// code is critical or the channel has now failed MaxFailCount times in
// a row, in which case escalate instead.
func (c *Core) fail(code errcode.Code) {
	if errcode.Critical(code) {
		c.raiseCritical(code)
		return
	}
	c.publish(MoveFail{Channel: c.channel, TargetPosition: c.targetPos})
	c.publish(CommandFailed{Channel: c.channel, Error: code})
	c.failCount++
	if c.failCount > MaxFailCount {
		c.raiseCritical(errcode.ErrorCountExceeded)
		return
	}
	c.targetPos = PosNone
	c.enter(&idleState{})
}

// raiseCritical forces the machine into Err. transitioningErr guards
// against a critical error raised while Err is being entered
// re-entering itself.
func (c *Core) raiseCritical(code errcode.Code) {
	if c.transitioningErr {
		return
	}
	c.transitioningErr = true
	c.pendingErrCode = code
	c.targetPos = PosNone
	c.enter(&errState{})
	c.transitioningErr = false
}
