package fluidicconfig

import (
	"context"
	"encoding/json"
	"errors"

	"devicecode-go/bus"
	"devicecode-go/fluidic"
	"devicecode-go/fluidic/logx"

	"github.com/andreyvit/tinyjson"
)

// EmbeddedOverrides allows overriding how per-channel overlays are
// resolved, mirroring services/config's EmbeddedConfigLookup seam.
var EmbeddedOverrides = func(channel int) ([]byte, bool) {
	b, ok := embeddedOverlays[channel]
	return b, ok
}

// Service publishes one retained fluidic.FluidicParams document per
// channel on fluidic/<channel>/config, the typed counterpart to
// services/config's generic per-key publish.
type Service struct{}

func NewService() *Service { return &Service{} }

// Start launches the config publisher in a goroutine, matching
// services/config.ConfigService.Start.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		for _, ch := range Channels {
			if err := s.publishChannel(conn, ch); err != nil {
				logx.Warnf("fluidicconfig: channel %d: %v", ch, err)
			}
		}
	}()
}

func (s *Service) publishChannel(conn *bus.Connection, channel int) error {
	params := bladderDefaultParams(channel)

	if raw, ok := EmbeddedOverrides(channel); ok && len(raw) > 0 {
		if err := applyOverlay(&params, raw); err != nil {
			return err
		}
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}

	conn.Publish(&bus.Message{
		Topic:    fluidic.T("fluidic", channel, "config"),
		Payload:  json.RawMessage(encoded),
		Retained: true,
	})
	return nil
}

// applyOverlay parses raw as a generic JSON object via tinyjson, the
// same decoder services/config uses for its device config blobs, and
// copies recognised scalar fields onto params. Unrecognised keys are
// ignored rather than rejected, so an overlay written for a newer
// field set still applies on an older binary.
func applyOverlay(params *fluidic.FluidicParams, raw []byte) error {
	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, ok := val.(map[string]any)
	if !ok {
		return errors.New("fluidicconfig: overlay is not a JSON object")
	}

	if f, ok := floatField(m, "rampSpeedVoltsPerSec"); ok {
		params.RampSpeedVoltsPerSec = f
	}
	if f, ok := floatField(m, "mixFrequencyHz"); ok {
		params.MixFrequencyHz = f
	}
	if f, ok := floatField(m, "timeoutMs"); ok {
		params.TimeoutMs = uint32(f)
	}
	if f, ok := floatField(m, "mixTimeoutMs"); ok {
		params.MixTimeoutMs = uint32(f)
	}
	if f, ok := floatField(m, "mixTimeoutMaxMs"); ok {
		params.MixTimeoutMaxMs = uint32(f)
	}
	if f, ok := floatField(m, "targetMixCycles"); ok {
		params.TargetMixCycles = uint32(f)
	}
	if f, ok := floatField(m, "returnSpeedReductionFactor"); ok {
		params.ReturnSpeedReductionFactor = f
	}
	if f, ok := floatField(m, "openLoopCompensationFactor"); ok {
		params.OpenLoopCompensationFactor = f
	}
	if f, ok := floatField(m, "mixDownstrokeProportion"); ok {
		params.MixDownstrokeProportion = f
	}
	if f, ok := floatField(m, "compensationProportion"); ok {
		params.CompensationProportion = f
	}
	if b, ok := m["monitorBreachAfterMove"].(bool); ok {
		params.MonitorBreachAfterMove = b
	}

	return nil
}

func floatField(m map[string]any, key string) (float32, bool) {
	f, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return float32(f), true
}
