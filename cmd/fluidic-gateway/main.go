// cmd/fluidic-gateway/main.go
//
// fluidic-gateway is the composition root for a full four-channel
// fluidic controller device: one FluidController per physical bladder
// channel, wired to simulated piezo/echem drivers over a shared bus,
// alongside the same ambient services a devicecode-go device runs
// (config, heartbeat, the bridge) — the role cmd/pico-hal-main used to
// play before it was retired for targeting a bus API this repo no
// longer has. Swapping the simulated drivers for hostpiezo.Open and
// hostechem.New (real SPI/I2C peripherals) is a per-channel
// constructor change only; nothing else here depends on which driver
// backs a channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devicecode-go/bus"
	"devicecode-go/fluidic"
	"devicecode-go/internal/echemadapter"
	"devicecode-go/internal/piezoadapter"
	"devicecode-go/services/bridge"
	_ "devicecode-go/services/bridge/wsforward" // registers the "ws" bridge transport
	"devicecode-go/services/config"
	"devicecode-go/services/fluidicconfig"
	"devicecode-go/services/heartbeat"
)

func main() {
	deviceID := flag.String("device", "pico", "device ID used to look up embedded config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(64)
	conn := b.NewConnection("gateway")

	channels := make([]*channelRig, 0, len(fluidicconfig.Channels))
	for _, ch := range fluidicconfig.Channels {
		channels = append(channels, newChannelRig(ctx, ch, conn))
	}

	fluidicconfig.NewService().Start(ctx, conn)

	cfgCtx := context.WithValue(ctx, config.CtxDeviceKey, *deviceID)
	config.NewConfigService().Start(cfgCtx, conn)

	hb := &heartbeat.Service{}
	if err := hb.Start(ctx, conn); err != nil {
		fmt.Fprintf(os.Stderr, "fluidic-gateway: starting heartbeat: %v\n", err)
	}

	go bridge.Start(ctx, conn)

	fmt.Printf("fluidic-gateway: %d channels up, device=%q\n", len(channels), *deviceID)
	<-ctx.Done()
	fmt.Println("fluidic-gateway: shutting down")
}

// channelRig bundles one physical channel's FluidController with the
// simulated drivers and background goroutines that keep its piezo ramp
// and completion notifications flowing, the same wiring
// cmd/fluidic-console and cmd/fluidic-bench each do for a single
// channel.
type channelRig struct {
	channel int
	piezo   *piezoadapter.Sim
	echem   *echemadapter.Sim
}

func newChannelRig(ctx context.Context, channel int, conn *bus.Connection) *channelRig {
	piezo := piezoadapter.NewSim(channel)
	echem := echemadapter.NewSim(channel)
	params := fluidicconfig.DefaultParams(channel)

	fc := fluidic.NewFluidController(channel, &params, piezo, echem, conn)

	rig := &channelRig{channel: channel, piezo: piezo, echem: echem}
	go fc.Run(ctx)
	go rig.advancePiezo(ctx)
	go rig.forwardPiezoCompletions(ctx, conn)
	return rig
}

func (r *channelRig) advancePiezo(ctx context.Context) {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			r.piezo.Advance(now.Sub(last))
			last = now
		}
	}
}

// forwardPiezoCompletions plays the role a real driver's notify
// callback plays (see internal/piezoadapter/hostpiezo.Driver): deliver
// ramp-finished and explicit-stop notifications onto the bus topics
// FluidController.Run listens on.
func (r *channelRig) forwardPiezoCompletions(ctx context.Context, conn *bus.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case comp := <-r.piezo.Completions:
			if comp.Stopped {
				conn.Publish(conn.NewMessage(bus.T("piezo", r.channel, "event", "stopped"), comp.Voltage, false))
			}
			if comp.Complete {
				conn.Publish(conn.NewMessage(bus.T("piezo", r.channel, "event", "move_complete"), comp.Voltage, false))
			}
		}
	}
}
