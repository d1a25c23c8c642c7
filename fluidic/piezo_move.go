package fluidic

import "devicecode-go/x/mathx"

// approachVoltage is the piezo target voltage for a move toward
// target travelling in dir: the calibrated V(target) biased by that
// position's hysteresis so the detector reliably sees the transition
// rather than chattering at the exact threshold (§4.3), then clamped
// to the driver's electrical envelope.
func approachVoltage(params *FluidicParams, target Position, dir Direction) float32 {
	v := params.Volts(target)
	h := params.Limits(target).Hysteresis
	if dir == DirForward {
		v += h
	} else {
		v -= h
	}
	return mathx.Clamp(v, PiezoMinVoltage, PiezoVoltMax)
}

// bladderEndVoltage is the target voltage for a move to a bladder end
// (Down or Home, driven by contact detection rather than echem): the
// extreme of the electrical envelope, clamped, so the piezo keeps
// pushing until the bladder-contact switch actually trips.
func bladderEndVoltage(target Position) float32 {
	if target == PosHome {
		return PiezoVoltMax
	}
	return PiezoMinVoltage
}

// elapsedMs converts the command timer's tick count back to
// milliseconds for publication.
func (c *Core) elapsedMs() uint32 {
	return c.cmdTimeoutTicks * uint32(TimerTick.Milliseconds())
}

// succeedMove commits a successful arrival at c.targetPos, publishes
// MoveComplete (subject to the one-shot publishCompletion flag), and
// routes onward to breach monitoring or back to Idle.
func (c *Core) succeedMove(voltage float32) {
	c.lastKnownPos = c.targetPos
	c.targetPos = PosNone
	c.failCount = 0
	c.status.PiezoVoltage = voltage
	c.status.FluidFrontPosition = c.echem.FluidPosition(c.channel)

	if c.mixFinishing {
		c.mixFinishing = false
		c.publish(MixComplete{Channel: c.channel, RestPosition: c.lastKnownPos})
		c.enter(&idleState{})
		return
	}

	if c.publishCompletion {
		c.publish(MoveComplete{
			Channel:      c.channel,
			RestPosition: c.lastKnownPos,
			ElapsedMs:    c.elapsedMs(),
			PiezoVoltage: voltage,
		})
	}
	c.publishCompletion = true

	if c.params.MonitorBreachAfterMove {
		c.enter(&monitorFluidBreachState{})
	} else {
		c.enter(&idleState{})
	}
}

// applyOvershoot runs the §4.3 post-contact corrective behaviour once
// the piezo has stopped on a forward contact-seeking move. It returns
// true if it fully handled the stop (either by completing the move or
// by kicking off a secondary/return move), false if the caller should
// fall through to the plain-success path.
func (c *Core) applyOvershoot(voltage float32) bool {
	if c.overshootSecondary {
		// The PiezoVolts secondary (retreat) move has now stopped;
		// the compensated voltage was already recorded when it was
		// commanded, so this stop simply completes the original move.
		c.overshootSecondary = false
		c.succeedMove(c.params.Volts(c.targetPos))
		return true
	}

	if c.direction != DirForward {
		return false
	}

	switch c.moveOvershoot {
	case OvershootNone:
		return false

	case OvershootPiezoVolts:
		// Retreat partway back down by compensationProportion of the
		// hysteresis just added on approach, and record that as the
		// new calibrated V(target): the contact tripped a bit late,
		// so the true threshold sits below where we stopped.
		limits := c.params.Limits(c.targetPos)
		delta := limits.Hysteresis * c.moveOvershootProportion
		corrected := mathx.Max(voltage-delta, PiezoMinVoltage)
		limits.TargetVolts = corrected
		c.overshootSecondary = true
		c.piezo.SetVoltage(corrected, PiezoRampMax, false)
		return true

	case OvershootBreakRemake:
		// Re-seek contact in the inverted direction; the next stop
		// completes the move. No return swing follows.
		c.direction = c.direction.Invert()
		c.status.MoveDirection = c.direction
		c.enter(&moveContactState{})
		return true

	default:
		return false
	}
}
