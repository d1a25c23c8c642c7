package fluidic

import "devicecode-go/x/mathx"

// mixRampSpeed derives the piezo ramp rate for one mixing stroke from
// the configured mix frequency: a full forward-reverse cycle visits
// each endpoint once per half-period, so the stroke must cover the
// full voltage span in half a cycle (§4.6 "Ramp-speed derivation").
func mixRampSpeed(startV, endV, freqHz float32) float32 {
	span := startV - endV
	if span < 0 {
		span = -span
	}
	return span * 2 * freqHz
}

// strokeIsContactControlled reports whether the stroke from current to
// other is resolved by the echem detector reaching its required
// reading, as opposed to being purely time/voltage bounded:
//   - Dual-point closed loop: both strokes are contact-controlled.
//   - Single-point closed loop: only the forward stroke (toward the
//     shallower rest position) is contact-controlled; the return
//     stroke is piezo-controlled, ending at a proportionally computed
//     voltage rather than a detector threshold.
//   - Open loop: neither stroke consults echem at all.
func strokeIsContactControlled(mixType MixType, outbound bool) bool {
	switch mixType {
	case MixDualPointClosedLoop:
		return true
	case MixSinglePointClosedLoop:
		return !outbound
	default:
		return false
	}
}

// strokeEndVoltage computes the piezo target for a piezo-controlled
// stroke (single-point closed loop's return stroke, and both strokes
// of an open-loop mix): a proportion of the span back from the
// current position toward the other endpoint, rather than a detector
// threshold.
func strokeEndVoltage(params *FluidicParams, current, other Position, proportion float32) float32 {
	cv, ov := params.Volts(current), params.Volts(other)
	return cv + (ov-cv)*proportion
}

// adaptHysteresis nudges one endpoint's hysteresis toward or away from
// the contact it is calibrated against, after one mixing stroke
// resolves (§4.6): confirmed-by-echem strokes tighten it (multiply by
// the decrease factor, since the threshold is being hit reliably and
// can be approached more precisely); strokes that timed out on the
// piezo instead of the detector loosen it (increase factor), clamped
// to [HystMin, HystMax].
func adaptHysteresis(params *FluidicParams, pos Position, confirmedByEchem bool) {
	limits := params.Limits(pos)
	mult := params.HystMultipliers[HystInc]
	if confirmedByEchem {
		mult = params.HystMultipliers[HystDec]
	}
	limits.Hysteresis = mathx.Clamp(limits.Hysteresis*mult, HystMin, HystMax)
}

// mixCycleComplete reports whether the configured number of full
// cycles has now elapsed. Two stages (one per direction) make one
// cycle (NumMixingStagesPerCyc).
func mixCycleComplete(stagesComplete, targetCycles uint32) bool {
	return stagesComplete/NumMixingStagesPerCyc >= targetCycles
}

// startMixStage arms the piezo move for the next stroke (from
// c.mixCurrent to c.mixOther) and records whether this stroke will be
// resolved by echem or by the piezo itself reaching its endpoint.
func (c *Core) startMixStage() {
	c.mixStageByEchem = strokeIsContactControlled(c.mixType, c.mixOutbound)
	startV := c.params.Volts(c.mixCurrent)
	endV := c.params.Volts(c.mixOther)

	if endV > startV {
		c.direction = DirForward
	} else {
		c.direction = DirReverse
	}
	c.status.MoveDirection = c.direction

	if c.mixStageByEchem {
		ramp := mixRampSpeed(startV, endV, c.mixFreq)
		c.piezo.SetVoltage(endV, ramp, true)
	} else {
		var proportion float32
		switch c.mixType {
		case MixOpenLoop:
			proportion = c.mixOpenLoopComp
		default:
			proportion = c.mixDownstroke
		}
		target := strokeEndVoltage(c.params, c.mixCurrent, c.mixOther, proportion)
		ramp := mixRampSpeed(startV, target, c.mixFreq)
		c.piezo.SetVoltage(target, ramp, true)
	}
}

// completeMixStage runs when a stroke resolves, either by echem
// reaching its requirement (confirmedByEchem true) or by the piezo
// itself reporting arrival (confirmedByEchem false, only meaningful
// for contact-controlled strokes that the detector failed to confirm
// in time — piezo-controlled strokes always pass false but never
// adapt hysteresis, since they were never calibrated against a
// contact in the first place).
func (c *Core) completeMixStage(confirmedByEchem bool) {
	if c.mixStageByEchem {
		adaptHysteresis(c.params, c.mixOther, confirmedByEchem)
	}

	c.status.MixingStagesComplete++
	c.mixCurrent, c.mixOther = c.mixOther, c.mixCurrent
	c.mixOutbound = !c.mixOutbound

	if mixCycleComplete(c.status.MixingStagesComplete, c.mixCycles) {
		c.finishMix()
		return
	}
	c.publish(MixStageComplete{Channel: c.channel})
	c.piezo.Stop()
	c.enter(&mixWaitContinueState{})
}

// finishMix returns the channel to its configured rest position via
// the ordinary contact-seeking move machinery, flagged so its
// completion publishes MixComplete instead of MoveComplete.
func (c *Core) finishMix() {
	c.status.MixComplete = true
	c.targetPos = c.params.MixRestPosition
	c.direction = DirReverse
	c.moveRamp = c.params.RampSpeedVoltsPerSec
	c.moveOvershoot = OvershootNone
	c.mixFinishing = true
	c.enter(&moveContactState{})
}
