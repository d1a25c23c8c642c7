// Package fluidicconfig supplies the per-channel fluidic.FluidicParams
// bundles and publishes them as retained config documents, the way
// devicecode-go's services/config publishes embedded device config.
// Where services/config hands out a handful of independent top-level
// keys, fluidicconfig hands out one typed bundle per physical channel,
// grounded on original_source/test-3/fluidicsConfig.c's four
// bladderNDefaultParams structs (identical across channels bar the
// detector channel number).
package fluidicconfig

import "devicecode-go/fluidic"

// bladderDefaultParams builds the compiled-in default FluidicParams for
// one physical bladder channel. All four channels share calibration;
// only Channel differs, matching fluidicsConfig.c.
func bladderDefaultParams(channel int) fluidic.FluidicParams {
	p := fluidic.FluidicParams{
		Channel: channel,

		TimeoutMs:       uint32(fluidic.DefaultTimeout.Milliseconds()),
		MixFrequencyHz:  fluidic.DefaultMixFreqHz,
		MixTimeoutMs:    uint32(fluidic.DefaultTimeout.Milliseconds()),
		TargetMixCycles: fluidic.NumMixingStagesPerCyc,

		RampSpeedVoltsPerSec: fluidic.SpeedLowDefaultVPerS,
		MixTimeoutMaxMs:      uint32(fluidic.MaxMixTimeoutDefault.Milliseconds()),

		MixRestPosition: fluidic.PosA, // where a mix ends; change via SetParams

		HystMultipliers: [2]float32{fluidic.HystMultiplierIncDef, fluidic.HystMultiplierDecDef},

		OvershootCompensationType: fluidic.OvershootNone,
		CompensationProportion:    0.5,

		MixType:                    fluidic.MixDualPointClosedLoop,
		OpenLoopCompensationFactor: 0.5,
		MixDownstrokeProportion:    0.5,

		ReturnSpeedReductionFactor: fluidic.ReturnSpeedReduction,

		MonitorBreachAfterMove: false,
	}

	p.PositionLimits[fluidic.PosHome] = fluidic.PositionLimits{
		TargetVolts: fluidic.PiezoVoltMax,
		Hysteresis:  fluidic.HysteresisNone,
		EchemReq:    [2]fluidic.EchemReading{fluidic.EchemInvalid, fluidic.EchemInvalid},
	}
	p.PositionLimits[fluidic.PosDown] = fluidic.PositionLimits{
		TargetVolts: fluidic.PiezoMinVoltage,
		Hysteresis:  fluidic.HysteresisNone,
		EchemReq:    [2]fluidic.EchemReading{fluidic.EchemNoFluid, fluidic.EchemFluid},
	}
	p.PositionLimits[fluidic.PosA] = fluidic.PositionLimits{
		TargetVolts: fluidic.DefaultTargetPosition,
		Hysteresis:  fluidic.PosAHysteresisV,
		EchemReq:    [2]fluidic.EchemReading{fluidic.EchemPositionA, fluidic.EchemFluid},
	}
	p.PositionLimits[fluidic.PosB] = fluidic.PositionLimits{
		TargetVolts: fluidic.DefaultTargetPosition,
		Hysteresis:  fluidic.DefaultHysteresisV,
		EchemReq:    [2]fluidic.EchemReading{fluidic.EchemPositionB, fluidic.EchemPositionA},
	}
	p.PositionLimits[fluidic.PosC] = fluidic.PositionLimits{
		TargetVolts: fluidic.DefaultTargetPosition,
		Hysteresis:  fluidic.DefaultHysteresisV,
		EchemReq:    [2]fluidic.EchemReading{fluidic.EchemPositionC, fluidic.EchemPositionB},
	}

	return p
}

// Channels is the fixed set of physical bladder channels this firmware
// drives.
var Channels = []int{1, 2, 3, 4}

// DefaultParams returns the compiled-in default bundle for channel,
// with no overlay applied.
func DefaultParams(channel int) fluidic.FluidicParams {
	return bladderDefaultParams(channel)
}
