package fluidic

import "devicecode-go/bus"

// T re-exports bus.T for callers that only import fluidic.
func T(tokens ...bus.Token) bus.Topic { return bus.T(tokens...) }

// fluidic/<channel>/status (retained)
func topicStatus(channel int) bus.Topic { return T("fluidic", channel, "status") }

// fluidic/<channel>/event/<name>
func topicEvent(channel int, name string) bus.Topic { return T("fluidic", channel, "event", name) }

// fluidic/<channel>/control/<verb>
func topicCtrl(channel int, verb string) bus.Topic { return T("fluidic", channel, "control", verb) }

// fluidic/+/control/+
func ctrlWildcard() bus.Topic { return T("fluidic", "+", "control", "+") }

// fluidic/<channel>/config (retained, consumed by services/fluidicconfig)
func topicConfig(channel int) bus.Topic { return T("fluidic", channel, "config") }

// External driver event topics this controller subscribes to.
func topicPiezoEvent(channel int, name string) bus.Topic {
	return T("piezo", channel, "event", name)
}

func topicEchemEvent(channel int, name string) bus.Topic {
	return T("echem", channel, "event", name)
}

func topicDoorEvent() bus.Topic   { return T("door", "event", "opened") }
func topicGlobalHalt() bus.Topic  { return T("system", "event", "halt") }
func topicMixContinue() bus.Topic { return T("fluidic", "event", "mix_continue") }
