// Package echemadapter provides fluidic.EchemDriver implementations.
// Sim is a scripted, driver-free implementation for tests and
// cmd/fluidic-bench; internal/echemadapter/hostechem holds the real
// tinygo.org/x/drivers-backed I2C front-end.
package echemadapter

import "devicecode-go/fluidic"

// Sim is an in-memory echem front-end: the benchmark or test script
// sets Reading directly (simulating fluid physically arriving) rather
// than this driver deriving it from anything.
type Sim struct {
	Channel int
	Reading fluidic.EchemReading
	mode    fluidic.EchemReading
	enabled bool
}

func NewSim(channel int) *Sim { return &Sim{Channel: channel} }

func (s *Sim) SetModeFillDetect(channel int, minContact fluidic.EchemReading) error {
	s.mode = minContact
	s.enabled = true
	return nil
}

func (s *Sim) Disable(channel int) error {
	s.enabled = false
	return nil
}

func (s *Sim) FluidPosition(channel int) fluidic.EchemReading {
	if !s.enabled {
		return fluidic.EchemInvalid
	}
	return s.Reading
}
