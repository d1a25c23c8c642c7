// cmd/fluidic-bench/main.go
//
// fluidic-bench drives one simulated fluidic channel through a fixed
// sequence of end-to-end scenarios (strip detection, a move into
// contact, a mix, a fluid-front breach, error recovery) and reports
// pass/fail and elapsed wall time for each, the way a devicecode-go
// bring-up tool exercises a HAL capability against its sim backend
// before trusting it against real silicon. Nothing here is a go test
// benchmark: it is a standalone harness, run with `go run`, that
// prints a human-readable report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"devicecode-go/bus"
	"devicecode-go/fluidic"
	"devicecode-go/internal/echemadapter"
	"devicecode-go/internal/piezoadapter"
	"devicecode-go/services/fluidicconfig"
)

func main() {
	channel := flag.Int("channel", 1, "fluidic channel number")
	verbose := flag.Bool("v", false, "print every published event, not just scenario results")
	flag.Parse()

	h := newHarness(*channel, *verbose)
	defer h.close()

	results := h.runAll(scenarios)
	h.report(results)

	for _, r := range results {
		if !r.pass {
			os.Exit(1)
		}
	}
}

// harness wires a FluidController to simulated drivers and a private
// bus, and drives simulated time forward between commands, mirroring
// cmd/fluidic-console's construction but without a REPL attached.
type harness struct {
	channel int
	verbose bool

	conn  *bus.Connection
	piezo *piezoadapter.Sim
	echem *echemadapter.Sim

	ctx    context.Context
	cancel context.CancelFunc

	events *bus.Subscription
}

func newHarness(channel int, verbose bool) *harness {
	b := bus.NewBus(32)
	conn := b.NewConnection("bench")

	piezo := piezoadapter.NewSim(channel)
	echem := echemadapter.NewSim(channel)
	params := fluidicconfig.DefaultParams(channel)

	fc := fluidic.NewFluidController(channel, &params, piezo, echem, conn)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		channel: channel,
		verbose: verbose,
		conn:    conn,
		piezo:   piezo,
		echem:   echem,
		ctx:     ctx,
		cancel:  cancel,
		events:  conn.Subscribe(bus.T("fluidic", channel, "event", "+")),
	}

	go fc.Run(ctx)
	go h.advancePiezo()
	go h.forwardPiezoCompletions()
	return h
}

func (h *harness) close() {
	h.cancel()
	h.conn.Unsubscribe(h.events)
	h.conn.Disconnect()
}

// advancePiezo steps the simulated ramp on a fine wall-clock tick so a
// Move's ramp duration in the report reflects its configured V/s
// rather than the tick granularity.
func (h *harness) advancePiezo() {
	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()
	last := time.Now()
	for {
		select {
		case <-h.ctx.Done():
			return
		case now := <-tick.C:
			h.piezo.Advance(now.Sub(last))
			last = now
		}
	}
}

// forwardPiezoCompletions plays the role internal/piezoadapter/hostpiezo's
// notify callback plays for the real driver: deliver ramp-finished and
// explicit-stop notifications onto the bus topics FluidController.Run
// is subscribed to.
func (h *harness) forwardPiezoCompletions() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case comp := <-h.piezo.Completions:
			if comp.Stopped {
				h.conn.Publish(h.conn.NewMessage(bus.T("piezo", h.channel, "event", "stopped"), comp.Voltage, false))
			}
			if comp.Complete {
				h.conn.Publish(h.conn.NewMessage(bus.T("piezo", h.channel, "event", "move_complete"), comp.Voltage, false))
			}
		}
	}
}

func (h *harness) publish(verb string, payload any) {
	h.conn.Publish(h.conn.NewMessage(bus.T("fluidic", h.channel, "control", verb), payload, false))
}

// awaitEvent drains published events until one matching `want` arrives
// or timeout elapses, feeding everything it sees to the verbose log.
func (h *harness) awaitEvent(timeout time.Duration, want func(any) bool) (any, time.Duration, error) {
	start := time.Now()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-h.events.Channel():
			if h.verbose {
				fmt.Printf("    [event] %#v\n", msg.Payload)
			}
			if want(msg.Payload) {
				return msg.Payload, time.Since(start), nil
			}
		case <-deadline:
			return nil, time.Since(start), fmt.Errorf("timed out after %s waiting for event", timeout)
		}
	}
}

type result struct {
	name    string
	pass    bool
	elapsed time.Duration
	detail  string
}

// scenario is one step of the bench script: set up simulated physical
// state, issue a command, and judge the resulting event stream.
type scenario struct {
	name string
	run  func(h *harness) result
}

var scenarios = []scenario{
	{"boot: home then seat bladders down", scenarioBoot},
	{"strip detect and move to position A", scenarioMoveContact},
	{"mix between A and Down", scenarioMix},
	{"fluid-front breach monitor", scenarioBreach},
	{"command rejected once in error state, recovers after ClearError", scenarioErrorThenRecover},
}

func (h *harness) runAll(scns []scenario) []result {
	results := make([]result, 0, len(scns))
	for _, s := range scns {
		fmt.Printf("-- %s\n", s.name)
		r := s.run(h)
		r.name = s.name
		results = append(results, r)
	}
	return results
}

func (h *harness) report(results []result) {
	fmt.Println()
	fmt.Println("fluidic-bench report")
	ok := 0
	for _, r := range results {
		status := "FAIL"
		if r.pass {
			status = "PASS"
			ok++
		}
		fmt.Printf("  [%s] %-36s %8s  %s\n", status, r.name, r.elapsed.Round(time.Millisecond), r.detail)
	}
	fmt.Printf("%d/%d scenarios passed\n", ok, len(results))
}

// scenarioBoot drives a freshly-constructed controller (lastKnownPos
// Unknown) to resting at Down, the only path spec.md's move-legality
// matrix allows out of Unknown (Unknown/None -> Home only, Home ->
// {Home, Down}, Down -> any non-sentinel) — every later scenario here
// builds on having a known rest position first.
func scenarioBoot(h *harness) result {
	start := time.Now()
	h.publish("move", fluidic.MoveCommand{Target: fluidic.PosHome, TimeoutMs: 2000})
	_, _, err := h.awaitEvent(2*time.Second, func(ev any) bool {
		mc, ok := ev.(fluidic.MoveComplete)
		return ok && mc.RestPosition == fluidic.PosHome
	})
	if err != nil {
		return result{pass: false, elapsed: time.Since(start), detail: "homing: " + err.Error()}
	}

	h.publish("move", fluidic.MoveCommand{
		Target:          fluidic.PosDown,
		RampVoltsPerSec: fluidic.SpeedLowDefaultVPerS,
		TimeoutMs:       2000,
	})
	// A real bladder-down switch fires once the piezo has pressed the
	// bladder fully against its down stop; here we just signal it a
	// fixed, generous delay after the move starts.
	go func() {
		time.Sleep(30 * time.Millisecond)
		h.conn.Publish(h.conn.NewMessage(bus.T("echem", h.channel, "event", "bladder_down"), struct{}{}, false))
	}()
	_, elapsed, err := h.awaitEvent(2*time.Second, func(ev any) bool {
		mc, ok := ev.(fluidic.MoveComplete)
		return ok && mc.RestPosition == fluidic.PosDown
	})
	if err != nil {
		return result{pass: false, elapsed: elapsed, detail: "seating bladders: " + err.Error()}
	}
	return result{pass: true, elapsed: time.Since(start), detail: "rest=home then down"}
}

func scenarioMoveContact(h *harness) result {
	h.echem.Reading = fluidic.EchemPositionA
	h.publish("move", fluidic.MoveCommand{
		Target:          fluidic.PosA,
		RampVoltsPerSec: fluidic.SpeedLowDefaultVPerS,
		TimeoutMs:       2000,
	})
	payload, elapsed, err := h.awaitEvent(2*time.Second, func(ev any) bool {
		switch ev.(type) {
		case fluidic.MoveComplete, fluidic.MoveFail, fluidic.CommandFailed:
			return true
		}
		return false
	})
	if err != nil {
		return result{pass: false, elapsed: elapsed, detail: err.Error()}
	}
	mc, ok := payload.(fluidic.MoveComplete)
	if !ok {
		return result{pass: false, elapsed: elapsed, detail: fmt.Sprintf("unexpected terminal event %#v", payload)}
	}
	return result{pass: mc.RestPosition == fluidic.PosA, elapsed: elapsed, detail: fmt.Sprintf("rest=%v voltage=%.2f", mc.RestPosition, mc.PiezoVoltage)}
}

// scenarioMix mixes between the current rest position (A) and Down,
// the only legal mix target below A, relaying every MixStageComplete
// with an external mix_continue the way an operator-paced mix would
// (each stroke genuinely waits for an external go-ahead, see
// fluidic/states.go's mixWaitContinueState). EchemPositionC is the
// maximum fluid-front reading, so holding it for the whole mix
// satisfies either endpoint's contact requirement immediately and
// keeps the bench from needing to track the stage machine's direction
// itself (it is unexported).
func scenarioMix(h *harness) result {
	h.echem.Reading = fluidic.EchemPositionC
	h.publish("mix", fluidic.MixCommand{
		Target:                     fluidic.PosDown,
		FrequencyHz:                fluidic.DefaultMixFreqHz,
		TimeoutMs:                  5000,
		Cycles:                     2,
		MixType:                    fluidic.MixDualPointClosedLoop,
		OpenLoopCompensationFactor: 0.5,
		DownstrokeProportion:       0.5,
	})

	start := time.Now()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-h.events.Channel():
			if h.verbose {
				fmt.Printf("    [event] %#v\n", msg.Payload)
			}
			switch ev := msg.Payload.(type) {
			case fluidic.MixStageComplete:
				h.conn.Publish(h.conn.NewMessage(bus.T("fluidic", "event", "mix_continue"), struct{}{}, false))
			case fluidic.MixComplete:
				return result{pass: true, elapsed: time.Since(start), detail: fmt.Sprintf("rest=%v", ev.RestPosition)}
			case fluidic.CommandFailed:
				return result{pass: false, elapsed: time.Since(start), detail: fmt.Sprintf("command failed: %v", ev.Error)}
			}
		case <-deadline:
			return result{pass: false, elapsed: time.Since(start), detail: "timed out before mix completed"}
		}
	}
}

// scenarioBreach re-issues a move to the already-held rest position
// (A) with breach monitoring enabled — MonitorBreachAfterMove is only
// consulted when a move next completes (fluidic/piezo_move.go's
// succeedMove), so enabling it alone does not retroactively arm the
// monitor — then yanks the simulated fluid front away, the host-side
// analogue of spec.md's "fluid front recedes below the monitored
// position after a completed move" scenario. MonitorFluidBreach only
// reacts to an explicit echem status-changed notification, not the
// periodic tick, so this publishes one directly rather than relying
// on echemadapter.Sim to generate it.
func scenarioBreach(h *harness) result {
	start := time.Now()
	h.publish("monitor_breach", fluidic.MonitorBreachCommand{Enable: true})

	h.echem.Reading = fluidic.EchemPositionA
	h.publish("move", fluidic.MoveCommand{
		Target:          fluidic.PosA,
		RampVoltsPerSec: fluidic.SpeedLowDefaultVPerS,
		TimeoutMs:       2000,
	})
	_, _, err := h.awaitEvent(2*time.Second, func(ev any) bool {
		mc, ok := ev.(fluidic.MoveComplete)
		return ok && mc.RestPosition == fluidic.PosA
	})
	if err != nil {
		return result{pass: false, elapsed: time.Since(start), detail: "arming monitor: " + err.Error()}
	}

	h.echem.Reading = fluidic.EchemNoFluid
	h.conn.Publish(h.conn.NewMessage(bus.T("echem", h.channel, "event", "status_changed"), fluidic.EchemNoFluid, false))

	_, elapsed, err := h.awaitEvent(2*time.Second, func(ev any) bool {
		_, ok := ev.(fluidic.BreachDetected)
		return ok
	})
	if err != nil {
		return result{pass: false, elapsed: elapsed, detail: err.Error()}
	}
	return result{pass: true, elapsed: time.Since(start), detail: "breach observed"}
}

// scenarioErrorThenRecover runs with the channel already in Err (left
// there by scenarioBreach): it sends a move to an out-of-range target,
// which is refused, then checks only that a ClearError request is
// answered Accepted.
func scenarioErrorThenRecover(h *harness) result {
	reply, err := h.conn.RequestWait(h.ctx, h.conn.NewMessage(bus.T("fluidic", h.channel, "control", "move"), fluidic.MoveCommand{
		Target:          fluidic.Position(99),
		RampVoltsPerSec: fluidic.SpeedLowDefaultVPerS,
		TimeoutMs:       1000,
	}, false))
	if err != nil {
		return result{pass: false, detail: fmt.Sprintf("request error: %v", err)}
	}
	verdict, ok := reply.Payload.(fluidic.Verdict)
	if !ok || verdict == fluidic.Accepted {
		return result{pass: false, detail: fmt.Sprintf("expected rejection, got %#v", reply.Payload)}
	}

	start := time.Now()
	clearReply, err := h.conn.RequestWait(h.ctx, h.conn.NewMessage(bus.T("fluidic", h.channel, "control", "clear_error"), struct{}{}, false))
	elapsed := time.Since(start)
	if err != nil {
		return result{pass: false, elapsed: elapsed, detail: fmt.Sprintf("clear_error request error: %v", err)}
	}
	clearVerdict, _ := clearReply.Payload.(fluidic.Verdict)
	return result{pass: clearVerdict == fluidic.Accepted, elapsed: elapsed, detail: fmt.Sprintf("initial verdict=%v clear verdict=%v", verdict, clearVerdict)}
}
