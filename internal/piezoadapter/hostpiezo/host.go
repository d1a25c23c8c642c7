// Package hostpiezo drives a real piezoelectric bender from a host-class
// board (e.g. a Raspberry Pi class gateway sitting next to the pico
// running the rest of devicecode-go) over an SPI-attached DAC, the way
// seedhammer's driver/wshat package drives real GPIO peripherals
// through periph.io rather than tinygo's board-specific pin types.
package hostpiezo

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"devicecode-go/fluidic"
)

const dacFullScaleVolts = fluidic.PiezoVoltMax
const dacBits = 12
const dacMaxCode = (1 << dacBits) - 1

// Driver is a fluidic.PiezoDriver backed by an SPI DAC channel. One
// Driver instance serves one physical channel (one DAC output line).
type Driver struct {
	mu      sync.Mutex
	conn    spi.Conn
	channel int

	current float32
	stopCh  chan struct{}
	notify  func(voltage float32, stopped, complete bool)
}

// Open initializes periph.io's host drivers (safe to call more than
// once across channels) and opens an SPI connection for the DAC on
// portName.
func Open(portName string, channel int, notify func(voltage float32, stopped, complete bool)) (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, err
	}
	conn, err := port.Connect(20*physic.MegaHertz, spi.Mode0, dacBits)
	if err != nil {
		return nil, err
	}
	return &Driver{conn: conn, channel: channel, notify: notify}, nil
}

func (d *Driver) writeCode(volts float32) error {
	if volts < 0 {
		volts = 0
	}
	if volts > dacFullScaleVolts {
		volts = dacFullScaleVolts
	}
	code := uint16(volts / dacFullScaleVolts * dacMaxCode)
	cmd := []byte{byte(code >> 8), byte(code)}
	return d.conn.Tx(cmd, nil)
}

// SetVoltage ramps toward target at rampSpeed, ticking the DAC output
// every 5ms on its own goroutine until it arrives or Stop cancels it.
func (d *Driver) SetVoltage(target, rampSpeed float32, publishCompletion bool) error {
	d.mu.Lock()
	if d.stopCh != nil {
		close(d.stopCh)
	}
	stop := make(chan struct{})
	d.stopCh = stop
	start := d.current
	d.mu.Unlock()

	go d.ramp(start, target, rampSpeed, stop, publishCompletion)
	return nil
}

func (d *Driver) ramp(start, target, rampSpeed float32, stop chan struct{}, publishCompletion bool) {
	const period = 5 * time.Millisecond
	step := rampSpeed * float32(period.Seconds())
	v := start
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if v < target {
				v += step
				if v >= target {
					v = target
				}
			} else {
				v -= step
				if v <= target {
					v = target
				}
			}
			d.writeCode(v)
			d.mu.Lock()
			d.current = v
			d.mu.Unlock()
			if v == target {
				if publishCompletion {
					d.notify(v, false, true)
				}
				return
			}
		}
	}
}

func (d *Driver) Home() {
	d.SetVoltage(fluidic.PiezoVoltMax, fluidic.PiezoRampMax, true)
}

func (d *Driver) Stop() {
	d.mu.Lock()
	if d.stopCh != nil {
		close(d.stopCh)
		d.stopCh = nil
	}
	v := d.current
	d.mu.Unlock()
	d.notify(v, true, false)
}

func (d *Driver) CurrentVoltage() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
