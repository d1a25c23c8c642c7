package fluidic

// PiezoDriver is the external collaborator that actually moves the
// piezoelectric bender (§6). The core only ever calls these methods;
// it never owns the driver, and the driver's own completion/failure
// notifications are delivered back into the Core via
// OnPiezoMoveComplete / OnPiezoStopped / OnPiezoMoveFail.
type PiezoDriver interface {
	// SetVoltage starts a ramp toward target at rampSpeed (V/s).
	// publishCompletion selects whether the driver itself should later
	// report PiezoMoveComplete (used for secondary overshoot-compensation
	// moves, which must not re-trigger the primary move's completion path).
	SetVoltage(target, rampSpeed float32, publishCompletion bool) error
	// Stop halts the ramp in place; the driver is expected to report
	// PiezoStopped with the voltage it actually stopped at.
	Stop()
	// Home rapidly returns to PIEZO_VOLT_MAX (full lift).
	Home()
	// CurrentVoltage is the last known voltage (read-only, best-effort).
	CurrentVoltage() float32
}

// EchemDriver is the external collaborator that reports fluid-front
// position and bladder contact (§6).
type EchemDriver interface {
	// SetModeFillDetect enables detection of fluid reaching at least
	// minContact on channel.
	SetModeFillDetect(channel int, minContact EchemReading) error
	// Disable turns off fill detection for channel. Core ignores its
	// result: a non-OK return is neither logged nor escalated.
	Disable(channel int) error
	// FluidPosition is the last known fluid-front reading for channel.
	FluidPosition(channel int) EchemReading
}
