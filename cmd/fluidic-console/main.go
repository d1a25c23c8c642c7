// cmd/fluidic-console/main.go
//
// fluidic-console is an interactive operator console for one simulated
// fluidic channel: it tokenises command lines with shlex (the way a
// devicecode-go console tool would) and drives a fluidic.FluidController
// wired to piezoadapter.Sim/echemadapter.Sim, printing status and
// published events as they occur. With --serial it reads commands from
// a real UART console instead of stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/tarm/serial"

	"devicecode-go/bus"
	"devicecode-go/fluidic"
	"devicecode-go/internal/echemadapter"
	"devicecode-go/internal/piezoadapter"
	"devicecode-go/services/fluidicconfig"
)

func main() {
	channel := flag.Int("channel", 1, "fluidic channel number")
	serialPort := flag.String("serial", "", "read commands from this serial port instead of stdin")
	baud := flag.Int("baud", 115200, "baud rate when --serial is set")
	flag.Parse()

	in, closeIn := openInput(*serialPort, *baud)
	defer closeIn()

	b := bus.NewBus(16)
	conn := b.NewConnection("console")

	piezo := piezoadapter.NewSim(*channel)
	echem := echemadapter.NewSim(*channel)
	params := fluidicconfig.DefaultParams(*channel)

	fc := fluidic.NewFluidController(*channel, &params, piezo, echem, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fc.Run(ctx)
	go advanceSim(ctx, piezo)
	go forwardPiezoCompletions(ctx, conn, *channel, piezo)
	go printEvents(ctx, conn, *channel)

	fmt.Printf("fluidic-console: channel %d ready (type 'help')\n", *channel)
	runREPL(in, conn, *channel)
}

func openInput(serialPort string, baud int) (io.Reader, func()) {
	if serialPort == "" {
		return os.Stdin, func() {}
	}
	port, err := serial.OpenPort(&serial.Config{Name: serialPort, Baud: baud})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fluidic-console: opening %s: %v\n", serialPort, err)
		os.Exit(1)
	}
	return port, func() { port.Close() }
}

// advanceSim drives piezoadapter.Sim's ramp forward on a wall-clock
// tick, since nothing else owns real time in a host-only console.
func advanceSim(ctx context.Context, piezo *piezoadapter.Sim) {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			piezo.Advance(now.Sub(last))
			last = now
		}
	}
}

// forwardPiezoCompletions drains piezo's Completions channel onto the
// bus topics FluidController.Run listens on, the way a real driver's
// notify callback (see internal/piezoadapter/hostpiezo.Driver) would be
// wired at construction time instead of delivering straight into Core.
func forwardPiezoCompletions(ctx context.Context, conn *bus.Connection, channel int, piezo *piezoadapter.Sim) {
	for {
		select {
		case <-ctx.Done():
			return
		case comp := <-piezo.Completions:
			if comp.Stopped {
				conn.Publish(conn.NewMessage(bus.T("piezo", channel, "event", "stopped"), comp.Voltage, false))
			}
			if comp.Complete {
				conn.Publish(conn.NewMessage(bus.T("piezo", channel, "event", "move_complete"), comp.Voltage, false))
			}
		}
	}
}

func printEvents(ctx context.Context, conn *bus.Connection, channel int) {
	sub := conn.Subscribe(bus.T("fluidic", channel, "event", "+"))
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.Channel():
			fmt.Printf("[event] %v\n", msg.Payload)
		}
	}
}

func runREPL(in io.Reader, conn *bus.Connection, channel int) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tokens, err := shlex.Split(line)
		if err != nil {
			fmt.Printf("parse error: %v\n", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		if !dispatch(conn, channel, tokens) {
			return
		}
	}
}

func dispatch(conn *bus.Connection, channel int, tokens []string) bool {
	verb := tokens[0]
	args := tokens[1:]

	switch verb {
	case "help":
		printHelp()
	case "quit", "exit":
		return false
	case "move":
		publishControl(conn, channel, "move", parseMove(args))
	case "lift":
		publishControl(conn, channel, "lift_bladders", parseLift(args))
	case "mix":
		publishControl(conn, channel, "mix", parseMix(args))
	case "wait":
		publishControl(conn, channel, "wait_for_fluid_at", parseWait(args))
	case "stop":
		publishControl(conn, channel, "stop", struct{}{})
	case "clear":
		publishControl(conn, channel, "clear_error", struct{}{})
	default:
		fmt.Printf("unknown command %q (try 'help')\n", verb)
	}
	return true
}

func printHelp() {
	fmt.Println(`commands:
  move <down|a|b|c|home> [--ramp=F] [--timeout=MS] [--overshoot=none|piezo_volts|break_remake]
  lift [--ramp=F] [--timeout=MS]
  mix <down|a|b|c> --freq=F --timeout=MS --cycles=N [--type=dual_point|single_point|open_loop]
  wait <down|a|b|c> [--timeout=MS]
  stop
  clear
  quit`)
}

func publishControl(conn *bus.Connection, channel int, verb string, payload any) {
	conn.Publish(conn.NewMessage(bus.T("fluidic", channel, "control", verb), payload, false))
}

func parsePosition(s string) fluidic.Position {
	switch strings.ToLower(s) {
	case "down":
		return fluidic.PosDown
	case "a":
		return fluidic.PosA
	case "b":
		return fluidic.PosB
	case "c":
		return fluidic.PosC
	case "home":
		return fluidic.PosHome
	default:
		return fluidic.PosUnknown
	}
}

func parseOvershoot(s string) fluidic.OvershootMode {
	switch strings.ToLower(s) {
	case "piezo_volts":
		return fluidic.OvershootPiezoVolts
	case "break_remake":
		return fluidic.OvershootBreakRemake
	default:
		return fluidic.OvershootNone
	}
}

func parseMixType(s string) fluidic.MixType {
	switch strings.ToLower(s) {
	case "single_point":
		return fluidic.MixSinglePointClosedLoop
	case "open_loop":
		return fluidic.MixOpenLoop
	default:
		return fluidic.MixDualPointClosedLoop
	}
}

type flagSet map[string]string

func parseFlags(args []string) (positional []string, flags flagSet) {
	flags = flagSet{}
	for _, a := range args {
		if strings.HasPrefix(a, "--") {
			kv := strings.SplitN(a[2:], "=", 2)
			if len(kv) == 2 {
				flags[kv[0]] = kv[1]
			} else {
				flags[kv[0]] = "true"
			}
			continue
		}
		positional = append(positional, a)
	}
	return positional, flags
}

func flagFloat(flags flagSet, key string, def float32) float32 {
	if v, ok := flags[key]; ok {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return def
}

func flagUint(flags flagSet, key string, def uint32) uint32 {
	if v, ok := flags[key]; ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return def
}

func parseMove(args []string) any {
	pos, flags := parseFlags(args)
	target := fluidic.PosUnknown
	if len(pos) > 0 {
		target = parsePosition(pos[0])
	}
	return fluidic.MoveCommand{
		Target:              target,
		RampVoltsPerSec:     flagFloat(flags, "ramp", fluidic.SpeedLowDefaultVPerS),
		TimeoutMs:           flagUint(flags, "timeout", 2000),
		Overshoot:           parseOvershoot(flags["overshoot"]),
		OvershootProportion: flagFloat(flags, "overshoot_proportion", 0.5),
	}
}

func parseLift(args []string) any {
	_, flags := parseFlags(args)
	return fluidic.LiftBladdersCommand{
		RampVoltsPerSec: flagFloat(flags, "ramp", fluidic.SpeedLowDefaultVPerS),
		TimeoutMs:       flagUint(flags, "timeout", 2000),
	}
}

func parseMix(args []string) any {
	pos, flags := parseFlags(args)
	target := fluidic.PosUnknown
	if len(pos) > 0 {
		target = parsePosition(pos[0])
	}
	return fluidic.MixCommand{
		Target:                     target,
		FrequencyHz:                flagFloat(flags, "freq", fluidic.DefaultMixFreqHz),
		TimeoutMs:                  flagUint(flags, "timeout", 5000),
		Cycles:                     flagUint(flags, "cycles", fluidic.NumMixingStagesPerCyc),
		MixType:                    parseMixType(flags["type"]),
		OpenLoopCompensationFactor: flagFloat(flags, "openloop_factor", 0.5),
		DownstrokeProportion:       flagFloat(flags, "downstroke", 0.5),
	}
}

func parseWait(args []string) any {
	pos, flags := parseFlags(args)
	target := fluidic.PosUnknown
	if len(pos) > 0 {
		target = parsePosition(pos[0])
	}
	return fluidic.WaitForFluidAtCommand{
		Target:    target,
		TimeoutMs: flagUint(flags, "timeout", 2000),
	}
}
