package fluidic

import "devicecode-go/errcode"

// fakePiezo is a hand-written test double for PiezoDriver: it records
// the last commanded voltage/ramp and lets the test script the
// driver's own completion behaviour, the way bus/bus_test.go and
// services/hal/internal/worker/measure_worker_test.go script their
// fakes rather than pulling in a mocking library.
type fakePiezo struct {
	voltage   float32
	lastRamp  float32
	lastPub   bool
	stopCalls int
	homeCalls int
	failNext  errcode.Code
}

func (p *fakePiezo) SetVoltage(target, rampSpeed float32, publishCompletion bool) error {
	p.voltage = target
	p.lastRamp = rampSpeed
	p.lastPub = publishCompletion
	return nil
}

func (p *fakePiezo) Stop() { p.stopCalls++ }

func (p *fakePiezo) Home() { p.homeCalls++; p.voltage = PiezoVoltMax }

func (p *fakePiezo) CurrentVoltage() float32 { return p.voltage }

// fakeEchem is a hand-written test double for EchemDriver: reading is
// whatever the test last set, regardless of mode.
type fakeEchem struct {
	reading     EchemReading
	mode        EchemReading
	disableErr  error
	disableCall int
}

func (e *fakeEchem) SetModeFillDetect(channel int, minContact EchemReading) error {
	e.mode = minContact
	return nil
}

func (e *fakeEchem) Disable(channel int) error {
	e.disableCall++
	return e.disableErr
}

func (e *fakeEchem) FluidPosition(channel int) EchemReading { return e.reading }

// defaultTestParams builds a FluidicParams bundle loosely modelled on
// the original firmware's bladder default-params tables (see
// SPEC_FULL.md §10), scaled down so tests don't need hundreds of
// ticks to reach a timeout.
func defaultTestParams() *FluidicParams {
	p := &FluidicParams{
		Channel:                    1,
		TimeoutMs:                  2000,
		MixFrequencyHz:             DefaultMixFreqHz,
		MixTimeoutMs:               2000,
		TargetMixCycles:            2,
		RampSpeedVoltsPerSec:       SpeedLowDefaultVPerS,
		MixTimeoutMaxMs:            60000,
		MixRestPosition:            PosA,
		HystMultipliers:            [2]float32{HystMultiplierIncDef, HystMultiplierDecDef},
		OvershootCompensationType:  OvershootNone,
		CompensationProportion:     0.5,
		MixType:                    MixDualPointClosedLoop,
		OpenLoopCompensationFactor: 0.5,
		MixDownstrokeProportion:    0.5,
		ReturnSpeedReductionFactor: ReturnSpeedReduction,
		MonitorBreachAfterMove:     false,
	}
	p.PositionLimits[PosDown] = PositionLimits{TargetVolts: 0, Hysteresis: 0}
	p.PositionLimits[PosA] = PositionLimits{
		TargetVolts: 20, Hysteresis: PosAHysteresisV,
		EchemReq: [2]EchemReading{EchemPositionA, EchemPositionA},
	}
	p.PositionLimits[PosB] = PositionLimits{
		TargetVolts: 40, Hysteresis: DefaultHysteresisV,
		EchemReq: [2]EchemReading{EchemPositionB, EchemPositionB},
	}
	p.PositionLimits[PosC] = PositionLimits{
		TargetVolts: 60, Hysteresis: DefaultHysteresisV,
		EchemReq: [2]EchemReading{EchemPositionC, EchemPositionC},
	}
	p.PositionLimits[PosHome] = PositionLimits{TargetVolts: PiezoVoltMax, Hysteresis: 0}
	return p
}

func newTestCore() (*Core, *fakePiezo, *fakeEchem) {
	piezo := &fakePiezo{}
	echem := &fakeEchem{}
	c := NewCore(1, defaultTestParams(), piezo, echem)
	return c, piezo, echem
}
