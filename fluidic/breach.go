package fluidic

import "devicecode-go/errcode"

// checkBreach compares the current fluid-front reading against what
// is required while resting at lastKnownPos. A mismatch means fluid
// has receded (or advanced) past the held contact with no commanded
// move in progress — a fluid front breach — which is a critical fault
// (§4.7, §9).
func (c *Core) checkBreach(reading EchemReading) {
	required := requiredEchemReading(c.params, c.lastKnownPos, DirForward, false)
	c.status.FluidFrontPosition = reading
	if reading == required {
		return
	}
	c.publish(BreachDetected{Channel: c.channel})
	c.fail(errcode.FluidFrontBreach)
}
