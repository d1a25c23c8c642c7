package fluidic

import (
	"testing"

	"devicecode-go/errcode"
)

func TestNewCoreStartsIdle(t *testing.T) {
	c, _, _ := newTestCore()
	if c.StateName() != stateIdle {
		t.Fatalf("got state %q, want %q", c.StateName(), stateIdle)
	}
	if c.lastKnownPos != PosUnknown {
		t.Fatalf("got lastKnownPos %v, want Unknown", c.lastKnownPos)
	}
}

func TestMoveRejectedWhenPositionUnknown(t *testing.T) {
	c, _, _ := newTestCore()
	if v := c.Move(PosC, 5, 5000, OvershootNone, 0); v != InvalidMove {
		t.Fatalf("got verdict %v, want InvalidMove", v)
	}
	// Home is always legal, even from Unknown.
	if v := c.Move(PosHome, 5, 5000, OvershootNone, 0); v != Accepted {
		t.Fatalf("got verdict %v, want Accepted for Move(Home)", v)
	}
}

func TestMoveRejectsBadRamp(t *testing.T) {
	c, _, echem := newTestCore()
	echem.reading = EchemFluid
	reachA(t, c, echem)
	if v := c.Move(PosB, 0, 5000, OvershootNone, 0); v != BadArgs {
		t.Fatalf("got verdict %v, want BadArgs for zero ramp", v)
	}
	if v := c.Move(PosB, PiezoRampMax+1, 5000, OvershootNone, 0); v != BadArgs {
		t.Fatalf("got verdict %v, want BadArgs for over-max ramp", v)
	}
}

// reachDown drives a freshly booted Core (lastKnownPos = Unknown) to
// resting at Down, the only path spec.md's move-legality matrix allows
// out of Unknown: Unknown/None -> Home only, Home -> {Home, Down},
// Down -> any non-sentinel. Every test that wants to command a
// contact move from a fresh Core needs this first.
func reachDown(t *testing.T, c *Core) {
	t.Helper()
	if v := c.Move(PosHome, SpeedHighDefault(), 1000, OvershootNone, 0); v != Accepted {
		t.Fatalf("Move(Home) verdict = %v, want Accepted", v)
	}
	c.Take()
	c.OnPiezoMoveComplete(1, PiezoVoltMax)
	c.Take()

	if v := c.Move(PosDown, 5, 1000, OvershootNone, 0); v != Accepted {
		t.Fatalf("Move(Down) verdict = %v, want Accepted", v)
	}
	c.Take()
	c.OnBladderDown(1)
	c.OnPiezoStopped(1, 0)
	c.Take()
	if c.lastKnownPos != PosDown {
		t.Fatalf("lastKnownPos after boot sequence = %v, want Down", c.lastKnownPos)
	}
}

// reachA drives c from boot straight to resting at PosA, asserting
// nothing unexpected happens along the way. It is the common setup
// most of the later scenarios build on.
func reachA(t *testing.T, c *Core, echem *fakeEchem) {
	t.Helper()
	reachDown(t, c)
	echem.reading = EchemFluid
	if v := c.Move(PosA, 5, 5000, OvershootNone, 0); v != Accepted {
		t.Fatalf("Move(A) verdict = %v, want Accepted", v)
	}
	c.Take()
	c.Tick() // CheckForStrip sees a valid reading -> MoveContact
	if c.StateName() != stateMoveContact {
		t.Fatalf("state = %q, want %q", c.StateName(), stateMoveContact)
	}
	echem.reading = EchemPositionA
	c.Tick() // MoveContact sees the requirement satisfied -> stop -> WaitForPiezoStop
	if c.StateName() != stateWaitForPiezoStop {
		t.Fatalf("state = %q, want %q", c.StateName(), stateWaitForPiezoStop)
	}
	c.OnPiezoStopped(1, 31.0)
	events := c.Take()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %#v", len(events), events)
	}
	mc, ok := events[0].(MoveComplete)
	if !ok {
		t.Fatalf("got %T, want MoveComplete", events[0])
	}
	if mc.RestPosition != PosA || mc.PiezoVoltage != 31.0 {
		t.Fatalf("got %+v, want RestPosition=A PiezoVoltage=31.0", mc)
	}
	if c.lastKnownPos != PosA {
		t.Fatalf("lastKnownPos = %v, want A", c.lastKnownPos)
	}
}

func TestMoveToContactSucceeds(t *testing.T) {
	c, _, echem := newTestCore()
	reachA(t, c, echem)
	if got := c.params.Volts(PosA); got != 31.0 {
		t.Fatalf("V(A) after move = %v, want 31.0 (recorded from the driver's stop report)", got)
	}
}

func TestMoveTimesOutWhenNoStripDetected(t *testing.T) {
	c, _, echem := newTestCore()
	reachDown(t, c)
	echem.reading = EchemInvalid
	if v := c.Move(PosA, 5, 40, OvershootNone, 0); v != Accepted {
		t.Fatalf("Move verdict = %v, want Accepted", v)
	}
	c.Take()
	var events []any
	for i := 0; i < 5 && c.StateName() != stateIdle; i++ {
		c.Tick()
		events = append(events, c.Take()...)
	}
	if c.StateName() != stateIdle {
		t.Fatalf("state = %q, want idle after timeout", c.StateName())
	}
	var sawFail, sawCmdFailed bool
	for _, ev := range events {
		switch e := ev.(type) {
		case MoveFail:
			sawFail = true
		case CommandFailed:
			sawCmdFailed = true
			if e.Error != errcode.CommandTimeout {
				t.Fatalf("got error %v, want CommandTimeout", e.Error)
			}
		}
	}
	if !sawFail || !sawCmdFailed {
		t.Fatalf("expected MoveFail and CommandFailed, got %#v", events)
	}
}

func TestNoStripFailsImmediately(t *testing.T) {
	c, _, echem := newTestCore()
	reachDown(t, c)
	echem.reading = EchemNoStrip
	c.Move(PosA, 5, 5000, OvershootNone, 0)
	c.Take()
	c.Tick()
	events := c.Take()
	found := false
	for _, ev := range events {
		if cf, ok := ev.(CommandFailed); ok && cf.Error == errcode.NoStrip {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected CommandFailed{NoStrip}, got %#v", events)
	}
	if c.StateName() != stateIdle {
		t.Fatalf("state = %q, want idle", c.StateName())
	}
}

func TestStopAbortsInFlightMoveWithoutFailure(t *testing.T) {
	c, piezo, echem := newTestCore()
	reachDown(t, c)
	echem.reading = EchemFluid
	c.Move(PosA, 5, 5000, OvershootNone, 0)
	c.Take()
	c.Tick()
	if c.StateName() != stateMoveContact {
		t.Fatalf("state = %q, want move_contact", c.StateName())
	}
	c.Stop()
	events := c.Take()
	if len(events) != 0 {
		t.Fatalf("Stop published %#v, want no failure events", events)
	}
	if c.StateName() != stateIdle {
		t.Fatalf("state = %q, want idle after Stop", c.StateName())
	}
	if piezo.stopCalls == 0 {
		t.Fatalf("expected Stop() to reach the piezo driver")
	}
}

func TestBreachMonitoringRaisesCriticalError(t *testing.T) {
	c, _, echem := newTestCore()
	c.params.MonitorBreachAfterMove = true
	reachA(t, c, echem)
	if c.StateName() != stateMonitorFluidBreach {
		t.Fatalf("state = %q, want monitor_fluid_breach", c.StateName())
	}
	c.OnEchemStatusChanged(1, EchemNoFluid) // fluid front receded past A
	events := c.Take()
	var sawBreach bool
	var sawCritical bool
	for _, ev := range events {
		switch e := ev.(type) {
		case BreachDetected:
			sawBreach = true
		case FluidError:
			sawCritical = e.Code == errcode.FluidFrontBreach
		}
	}
	if !sawBreach || !sawCritical {
		t.Fatalf("expected BreachDetected and FluidError{FluidFrontBreach}, got %#v", events)
	}
	if c.StateName() != stateErr {
		t.Fatalf("state = %q, want err", c.StateName())
	}
	if c.lastKnownPos != PosUnknown {
		t.Fatalf("lastKnownPos = %v, want Unknown after a critical error", c.lastKnownPos)
	}
}

func TestClearErrorReturnsToIdle(t *testing.T) {
	c, _, echem := newTestCore()
	c.params.MonitorBreachAfterMove = true
	reachA(t, c, echem)
	c.OnEchemStatusChanged(1, EchemNoFluid)
	c.Take()
	if c.StateName() != stateErr {
		t.Fatalf("precondition failed: state = %q, want err", c.StateName())
	}
	if v := c.Move(PosHome, 5, 1000, OvershootNone, 0); v != NotReady {
		t.Fatalf("Move(Home) while in Err = %v, want NotReady (ClearError required first)", v)
	}
	if v := c.ClearError(); v != Accepted {
		t.Fatalf("ClearError verdict = %v, want Accepted", v)
	}
	if c.StateName() != stateIdle {
		t.Fatalf("state = %q, want idle after ClearError", c.StateName())
	}
}

func TestMixDualPointClosedLoopRunsToCompletion(t *testing.T) {
	c, _, echem := newTestCore()
	reachDown(t, c)
	echem.reading = EchemFluid
	// Reach C first so a mix target below it (A) is legal.
	c.Move(PosC, 5, 5000, OvershootNone, 0)
	c.Take()
	c.Tick()
	echem.reading = EchemPositionC
	c.Tick()
	c.OnPiezoStopped(1, 61.0)
	c.Take()
	if c.lastKnownPos != PosC {
		t.Fatalf("lastKnownPos = %v, want C", c.lastKnownPos)
	}

	v := c.Mix(PosA, 2.0, 5000, 2, MixDualPointClosedLoop, 0, 0)
	if v != Accepted {
		t.Fatalf("Mix verdict = %v, want Accepted", v)
	}
	c.Take()

	for i := 0; i < 40 && c.StateName() != stateIdle; i++ {
		switch c.StateName() {
		case stateMixContactControlled:
			echem.reading = requiredEchemReading(c.params, c.mixOther, c.direction, true)
			c.Tick()
		case stateMixWaitContinue:
			c.OnMixContinue()
		case stateMoveContact:
			echem.reading = requiredEchemReading(c.params, c.targetPos, c.direction, true)
			c.Tick()
		case stateWaitForPiezoStop:
			c.OnPiezoStopped(1, c.params.Volts(c.targetPos))
		default:
			c.Tick()
		}
		c.Take()
	}
	if !c.status.MixComplete {
		t.Fatalf("mix never completed; stuck in state %q", c.StateName())
	}
	if c.StateName() != stateIdle {
		t.Fatalf("state = %q, want idle once mix finishes", c.StateName())
	}
}
