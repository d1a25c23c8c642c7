// Package hostechem reads the electrochemical fluid-front detector
// over I2C using tinygo.org/x/drivers, the same way devicecode-go's
// own drivers/aht20 and drivers/ltc4015 wrap a tinygo.org/x/drivers.I2C
// connection rather than a board-specific register API.
package hostechem

import (
	"encoding/binary"

	"tinygo.org/x/drivers"

	"devicecode-go/fluidic"
)

const (
	regStatus  = 0x00
	regReading = 0x01 // 16-bit raw ADC code, big-endian
)

// Thresholds bucket the raw 16-bit ADC code from the detector into the
// discrete fluidic.EchemReading ladder. Calibrated per deployment;
// these defaults assume a 0-3.3V front end with roughly linear
// impedance-to-code response.
type Thresholds struct {
	NoFluid   uint16
	Fluid     uint16
	PositionA uint16
	PositionB uint16
	PositionC uint16
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		NoFluid:   4096,
		Fluid:     12000,
		PositionA: 24000,
		PositionB: 40000,
		PositionC: 56000,
	}
}

// Device is a fluidic.EchemDriver for one physical channel's detector.
type Device struct {
	bus        drivers.I2C
	addr       uint8
	channel    int
	thresholds Thresholds
	enabled    bool
	minContact fluidic.EchemReading
}

func New(bus drivers.I2C, addr uint8, channel int, thresholds Thresholds) *Device {
	return &Device{bus: bus, addr: addr, channel: channel, thresholds: thresholds}
}

func (d *Device) SetModeFillDetect(channel int, minContact fluidic.EchemReading) error {
	d.enabled = true
	d.minContact = minContact
	return d.bus.Tx(uint16(d.addr), []byte{regStatus, 0x01}, nil)
}

func (d *Device) Disable(channel int) error {
	d.enabled = false
	return d.bus.Tx(uint16(d.addr), []byte{regStatus, 0x00}, nil)
}

func (d *Device) FluidPosition(channel int) fluidic.EchemReading {
	if !d.enabled {
		return fluidic.EchemInvalid
	}
	var raw [2]byte
	if err := d.bus.Tx(uint16(d.addr), []byte{regReading}, raw[:]); err != nil {
		return fluidic.EchemInvalid
	}
	code := binary.BigEndian.Uint16(raw[:])
	return d.thresholds.bucket(code)
}

func (t Thresholds) bucket(code uint16) fluidic.EchemReading {
	switch {
	case code < t.NoFluid:
		return fluidic.EchemNoStrip
	case code < t.Fluid:
		return fluidic.EchemNoFluid
	case code < t.PositionA:
		return fluidic.EchemFluid
	case code < t.PositionB:
		return fluidic.EchemPositionA
	case code < t.PositionC:
		return fluidic.EchemPositionB
	default:
		return fluidic.EchemPositionC
	}
}
