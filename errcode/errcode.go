package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	UnknownCapability Code = "unknown_capability"
	HALNotReady       Code = "hal_not_ready"
	InvalidTopic      Code = "invalid_topic"

	UnknownBus Code = "unknown_bus"
	BusInUse   Code = "bus_in_use"
	UnknownPin Code = "unknown_pin"
	PinInUse   Code = "pin_in_use"
	Timeout    Code = "timeout"

	Error Code = "error" // generic fallback

	// Fluidic channel controller codes (move-local).
	InvalidMove        Code = "invalid_move"
	NoStrip            Code = "no_strip"
	CommandTimeout     Code = "command_timeout"
	MoveTimeout        Code = "move_timeout"
	MixTimeout         Code = "mix_timeout"
	UnexpectedPiezoMsg Code = "unexpected_piezo_msg"
	UnknownEchemMsg    Code = "unknown_echem_msg"
	BadArgs            Code = "bad_args"
	FluidSpeed         Code = "fluid_speed"

	// Fluidic channel controller codes (critical — force the Err state).
	EchemBusy         Code = "echem_busy"
	FluidFrontBreach  Code = "fluid_front_breach"
	PiezoUnknown      Code = "piezo_unknown"
	ErrorCountExceeded Code = "error_count_exceeded"
)

// Critical reports whether c forces a fluidic controller into its Err
// state, mirroring FLUIDIC_CIRITICAL_ERR in the original firmware.
func Critical(c Code) bool {
	switch c {
	case EchemBusy, FluidFrontBreach, PiezoUnknown, ErrorCountExceeded:
		return true
	default:
		return false
	}
}

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapDriverErr maps low-level driver errors to a Code.
// Extend the heuristics per platform/driver.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	return Error
}
