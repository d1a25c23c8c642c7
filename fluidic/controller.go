package fluidic

import (
	"context"
	"time"

	"devicecode-go/bus"
	"devicecode-go/errcode"
	"devicecode-go/fluidic/logx"
)

// MoveCommand etc. are the payload shapes accepted on
// fluidic/<channel>/control/<verb>, matching the rest of devicecode-go's
// control-message convention (a plain struct decoded from msg.Payload).
// They're exported so callers outside this package (cmd/fluidic-console,
// cmd/fluidic-bench, tests) can publish one directly rather than
// constructing a structurally-identical-but-distinct anonymous struct
// that would fail FluidController's type assertion.
type MoveCommand struct {
	Target              Position
	RampVoltsPerSec     float32
	TimeoutMs           uint32
	Overshoot           OvershootMode
	OvershootProportion float32
}

type LiftBladdersCommand struct {
	RampVoltsPerSec float32
	TimeoutMs       uint32
}

type MixCommand struct {
	Target                     Position
	FrequencyHz                float32
	TimeoutMs                  uint32
	Cycles                     uint32
	MixType                    MixType
	OpenLoopCompensationFactor float32
	DownstrokeProportion       float32
}

type WaitForFluidAtCommand struct {
	Target    Position
	TimeoutMs uint32
}

type SetParamsCommand struct {
	Params FluidicParams
}

type MonitorBreachCommand struct {
	Enable bool
}

// FluidController is the thin bus-connected shell around a Core: one
// goroutine, one event loop, no locks. It owns the bus subscriptions a
// real deployment needs (driver events in, commands in, status and
// published events out) and otherwise just forwards into Core and
// drains Take() after every dispatch.
type FluidController struct {
	channel int
	core    *Core
	conn    *bus.Connection
}

// NewFluidController builds the async wrapper around a freshly
// constructed Core.
func NewFluidController(channel int, params *FluidicParams, piezo PiezoDriver, echem EchemDriver, conn *bus.Connection) *FluidController {
	return &FluidController{
		channel: channel,
		core:    NewCore(channel, params, piezo, echem),
		conn:    conn,
	}
}

// Run drives the single-threaded event loop until ctx is cancelled
// (§5 "Concurrency & resource model": one goroutine per controller
// object, non-blocking handlers, suspension only between dequeues).
func (fc *FluidController) Run(ctx context.Context) {
	ctrlSub := fc.conn.Subscribe(topicCtrl(fc.channel, "+"))
	defer fc.conn.Unsubscribe(ctrlSub)

	piezoStopped := fc.conn.Subscribe(topicPiezoEvent(fc.channel, "stopped"))
	defer fc.conn.Unsubscribe(piezoStopped)
	piezoComplete := fc.conn.Subscribe(topicPiezoEvent(fc.channel, "move_complete"))
	defer fc.conn.Unsubscribe(piezoComplete)
	piezoFail := fc.conn.Subscribe(topicPiezoEvent(fc.channel, "move_fail"))
	defer fc.conn.Unsubscribe(piezoFail)

	echemStatus := fc.conn.Subscribe(topicEchemEvent(fc.channel, "status_changed"))
	defer fc.conn.Unsubscribe(echemStatus)
	echemErr := fc.conn.Subscribe(topicEchemEvent(fc.channel, "error"))
	defer fc.conn.Unsubscribe(echemErr)
	bladderDown := fc.conn.Subscribe(topicEchemEvent(fc.channel, "bladder_down"))
	defer fc.conn.Unsubscribe(bladderDown)
	bladderUp := fc.conn.Subscribe(topicEchemEvent(fc.channel, "bladder_up"))
	defer fc.conn.Unsubscribe(bladderUp)

	doorOpened := fc.conn.Subscribe(topicDoorEvent())
	defer fc.conn.Unsubscribe(doorOpened)
	globalHalt := fc.conn.Subscribe(topicGlobalHalt())
	defer fc.conn.Unsubscribe(globalHalt)
	mixContinue := fc.conn.Subscribe(topicMixContinue())
	defer fc.conn.Unsubscribe(mixContinue)

	tick := time.NewTicker(TimerTick)
	defer tick.Stop()

	fc.publishStatus()

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick.C:
			fc.core.Tick()

		case msg := <-ctrlSub.Channel():
			fc.handleControl(msg)

		case msg := <-piezoStopped.Channel():
			if v, ok := msg.Payload.(float32); ok {
				fc.core.OnPiezoStopped(fc.channel, v)
			}

		case msg := <-piezoComplete.Channel():
			if v, ok := msg.Payload.(float32); ok {
				fc.core.OnPiezoMoveComplete(fc.channel, v)
			}

		case msg := <-piezoFail.Channel():
			if code, ok := msg.Payload.(errcode.Code); ok {
				fc.core.OnPiezoMoveFail(fc.channel, code)
			}

		case msg := <-echemStatus.Channel():
			if r, ok := msg.Payload.(EchemReading); ok {
				fc.core.OnEchemStatusChanged(fc.channel, r)
			}

		case msg := <-echemErr.Channel():
			if code, ok := msg.Payload.(errcode.Code); ok {
				fc.core.OnEchemError(fc.channel, code)
			}

		case <-bladderDown.Channel():
			fc.core.OnBladderDown(fc.channel)

		case <-bladderUp.Channel():
			fc.core.OnBladderUp(fc.channel)

		case <-doorOpened.Channel():
			fc.core.OnDoorOpened()

		case <-globalHalt.Channel():
			fc.core.OnGlobalHalt()

		case <-mixContinue.Channel():
			fc.core.OnMixContinue()
		}

		fc.drain()
	}
}

func (fc *FluidController) handleControl(msg *bus.Message) {
	verb, _ := msg.Topic[len(msg.Topic)-1].(string)
	var v Verdict
	switch verb {
	case "move":
		if p, ok := msg.Payload.(MoveCommand); ok {
			v = fc.core.Move(p.Target, p.RampVoltsPerSec, p.TimeoutMs, p.Overshoot, p.OvershootProportion)
		} else {
			v = BadArgs
		}
	case "lift_bladders":
		if p, ok := msg.Payload.(LiftBladdersCommand); ok {
			v = fc.core.LiftBladders(p.RampVoltsPerSec, p.TimeoutMs)
		} else {
			v = BadArgs
		}
	case "mix":
		if p, ok := msg.Payload.(MixCommand); ok {
			v = fc.core.Mix(p.Target, p.FrequencyHz, p.TimeoutMs, p.Cycles, p.MixType, p.OpenLoopCompensationFactor, p.DownstrokeProportion)
		} else {
			v = BadArgs
		}
	case "wait_for_fluid_at":
		if p, ok := msg.Payload.(WaitForFluidAtCommand); ok {
			v = fc.core.WaitForFluidAt(p.Target, p.TimeoutMs)
		} else {
			v = BadArgs
		}
	case "stop":
		v = fc.core.Stop()
	case "clear_error":
		v = fc.core.ClearError()
	case "set_params":
		if p, ok := msg.Payload.(SetParamsCommand); ok {
			v = fc.core.SetParams(&p.Params)
		} else {
			v = BadArgs
		}
	case "monitor_breach":
		if p, ok := msg.Payload.(MonitorBreachCommand); ok {
			v = fc.core.EnableBreachMonitoring(p.Enable)
		} else {
			v = BadArgs
		}
	default:
		v = BadArgs
	}
	if msg.ReplyTo != nil {
		fc.conn.Reply(msg, v, false)
	}
}

// drain forwards every event Core produced since the last dispatch
// onto the bus, and republishes a fresh retained status snapshot.
func (fc *FluidController) drain() {
	events := fc.core.Take()
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		name := eventTopicName(ev)
		fc.conn.Publish(fc.conn.NewMessage(topicEvent(fc.channel, name), ev, false))
		if code, ok := errorCodeOf(ev); ok {
			logx.Warnf("channel %d: %s", fc.channel, code)
		}
	}
	fc.publishStatus()
}

func (fc *FluidController) publishStatus() {
	fc.conn.Publish(fc.conn.NewMessage(topicStatus(fc.channel), fc.core.status, true))
}

func eventTopicName(ev any) string {
	switch ev.(type) {
	case MoveComplete:
		return "move_complete"
	case MoveFail:
		return "move_fail"
	case CommandFailed:
		return "command_failed"
	case MixComplete:
		return "mix_complete"
	case MixStageComplete:
		return "mix_stage_complete"
	case BreachDetected:
		return "breach_detected"
	case FluidError:
		return "fluid_error"
	case StartBladderDetect:
		return "start_bladder_detect"
	case StopBladderDetect:
		return "stop_bladder_detect"
	default:
		return "unknown"
	}
}

func errorCodeOf(ev any) (errcode.Code, bool) {
	switch e := ev.(type) {
	case CommandFailed:
		return e.Error, true
	case FluidError:
		return e.Code, true
	default:
		return "", false
	}
}
