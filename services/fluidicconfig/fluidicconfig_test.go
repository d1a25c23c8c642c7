package fluidicconfig

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"devicecode-go/bus"
	"devicecode-go/fluidic"
)

func TestDefaultParams_AllChannelsShareCalibrationExceptChannel(t *testing.T) {
	for _, ch := range Channels {
		p := DefaultParams(ch)
		if p.Channel != ch {
			t.Fatalf("channel %d: Channel field = %d, want %d", ch, p.Channel, ch)
		}
		if p.RampSpeedVoltsPerSec != fluidic.SpeedLowDefaultVPerS {
			t.Fatalf("channel %d: RampSpeedVoltsPerSec = %v, want %v", ch, p.RampSpeedVoltsPerSec, fluidic.SpeedLowDefaultVPerS)
		}
		if p.PositionLimits[fluidic.PosA].TargetVolts != fluidic.DefaultTargetPosition {
			t.Fatalf("channel %d: PosA.TargetVolts = %v, want %v", ch, p.PositionLimits[fluidic.PosA].TargetVolts, fluidic.DefaultTargetPosition)
		}
	}
}

func TestService_PublishChannel_RetainedPerChannel(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test-fluidicconfig")
	svc := NewService()

	sub := conn.Subscribe(bus.Topic{"fluidic", "+", "config"})
	defer conn.Unsubscribe(sub)

	svc.Start(context.Background(), conn)

	got := map[int]json.RawMessage{}
	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < len(Channels) && time.Now().Before(deadline) {
		select {
		case msg := <-sub.Channel():
			ch, ok := msg.Topic[1].(int)
			if !ok {
				t.Fatalf("topic[1] type %T, want int", msg.Topic[1])
			}
			raw, ok := msg.Payload.(json.RawMessage)
			if !ok {
				t.Fatalf("payload type %T, want json.RawMessage", msg.Payload)
			}
			got[ch] = raw
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != len(Channels) {
		t.Fatalf("got %d retained config messages, want %d: %v", len(got), len(Channels), got)
	}

	var decoded fluidic.FluidicParams
	if err := json.Unmarshal(got[1], &decoded); err != nil {
		t.Fatalf("decoding channel 1 config: %v", err)
	}
	if decoded.Channel != 1 {
		t.Fatalf("decoded.Channel = %d, want 1", decoded.Channel)
	}
}

func TestService_PublishChannel_AppliesOverlay(t *testing.T) {
	oldOverrides := EmbeddedOverrides
	EmbeddedOverrides = func(channel int) ([]byte, bool) {
		if channel != 2 {
			return nil, false
		}
		return []byte(`{"rampSpeedVoltsPerSec": 9.5, "monitorBreachAfterMove": true}`), true
	}
	t.Cleanup(func() { EmbeddedOverrides = oldOverrides })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-fluidicconfig-overlay")
	svc := NewService()

	if err := svc.publishChannel(conn, 2); err != nil {
		t.Fatalf("publishChannel(2) error: %v", err)
	}

	sub := conn.Subscribe(bus.Topic{"fluidic", 2, "config"})
	defer conn.Unsubscribe(sub)

	select {
	case msg := <-sub.Channel():
		raw, ok := msg.Payload.(json.RawMessage)
		if !ok {
			t.Fatalf("payload type %T, want json.RawMessage", msg.Payload)
		}
		var decoded fluidic.FluidicParams
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decoding overlaid config: %v", err)
		}
		if decoded.RampSpeedVoltsPerSec != 9.5 {
			t.Fatalf("RampSpeedVoltsPerSec = %v, want 9.5 (overlay should have applied)", decoded.RampSpeedVoltsPerSec)
		}
		if !decoded.MonitorBreachAfterMove {
			t.Fatal("MonitorBreachAfterMove = false, want true (overlay should have applied)")
		}
	case <-time.After(600 * time.Millisecond):
		t.Fatal("timed out waiting for retained config message")
	}
}

func TestApplyOverlay_RejectsNonObject(t *testing.T) {
	params := DefaultParams(1)
	if err := applyOverlay(&params, []byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object overlay, got nil")
	}
}

func TestApplyOverlay_IgnoresUnknownKeys(t *testing.T) {
	params := DefaultParams(1)
	before := params.RampSpeedVoltsPerSec
	if err := applyOverlay(&params, []byte(`{"someFutureField": 42}`)); err != nil {
		t.Fatalf("applyOverlay with unknown key: %v", err)
	}
	if params.RampSpeedVoltsPerSec != before {
		t.Fatalf("RampSpeedVoltsPerSec changed to %v, want unchanged %v", params.RampSpeedVoltsPerSec, before)
	}
}
