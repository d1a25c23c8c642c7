// Package piezoadapter provides fluidic.PiezoDriver implementations.
// Sim is a deterministic, driver-free implementation used by tests,
// cmd/fluidic-bench and host development; internal/piezoadapter/hostpiezo
// holds the real periph.io-backed driver for an actual bender.
package piezoadapter

import (
	"time"

	"devicecode-go/fluidic"
)

// Completion is how Sim reports a move finishing, matching the shape
// the real driver would publish on the bus (see fluidic.controller.go's
// topicPiezoEvent wiring): a channel, a voltage, and which of the
// three terminal notifications fired.
type Completion struct {
	Channel  int
	Voltage  float32
	Stopped  bool // true => PiezoStopped (explicit Stop() call)
	Complete bool // true => PiezoMoveComplete (ramp/Home reached its end on its own)
}

// Sim is an in-memory piezo bender: SetVoltage/Home start a linear
// ramp toward the target over a simulated clock driven by Advance, the
// way a real driver ramps over physical time; the test or benchmark
// driving it calls Advance on each tick instead of waiting on a timer.
type Sim struct {
	Channel int
	voltage float32
	target  float32
	ramp    float32 // V/s
	moving  bool
	homing  bool
	publish bool

	Completions chan Completion
}

func NewSim(channel int) *Sim {
	return &Sim{Channel: channel, Completions: make(chan Completion, 8)}
}

func (s *Sim) SetVoltage(target, rampSpeed float32, publishCompletion bool) error {
	s.target = target
	s.ramp = rampSpeed
	s.moving = true
	s.homing = false
	s.publish = publishCompletion
	return nil
}

func (s *Sim) Home() {
	s.target = fluidic.PiezoVoltMax
	s.ramp = fluidic.PiezoRampMax
	s.moving = true
	s.homing = true
	s.publish = true
}

func (s *Sim) Stop() {
	if !s.moving {
		return
	}
	s.moving = false
	s.Completions <- Completion{Channel: s.Channel, Voltage: s.voltage, Stopped: true}
}

func (s *Sim) CurrentVoltage() float32 { return s.voltage }

// Advance steps the ramp forward by dt, delivering a completion if the
// target voltage is reached under its own power (never on an explicit
// Stop, which Stop itself reports).
func (s *Sim) Advance(dt time.Duration) {
	if !s.moving {
		return
	}
	step := s.ramp * float32(dt.Seconds())
	if s.voltage < s.target {
		s.voltage += step
		if s.voltage >= s.target {
			s.voltage = s.target
		}
	} else {
		s.voltage -= step
		if s.voltage <= s.target {
			s.voltage = s.target
		}
	}
	if s.voltage == s.target {
		s.moving = false
		if s.publish {
			s.Completions <- Completion{Channel: s.Channel, Voltage: s.voltage, Complete: true}
		}
	}
}
