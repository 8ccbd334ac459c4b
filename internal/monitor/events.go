package monitor

import "time"

// EventType identifies the monitor feed payload variants. The feed is
// one-way: supervisors observe a call, they never steer it.
type EventType string

const (
	TypeCallState     EventType = "call_state"
	TypeTranscript    EventType = "transcript"
	TypeAssistantText EventType = "assistant_text"
	TypeBargeIn       EventType = "barge_in"
	TypeFunctionCall  EventType = "function_call"
	TypeCallEnded     EventType = "call_ended"
)

// Event is one monitor feed message. Fields beyond Type, CallID and TSMs are
// populated per variant.
type Event struct {
	Type   EventType `json:"type"`
	CallID string    `json:"call_id"`
	TSMs   int64     `json:"ts_ms"`

	State    string `json:"state,omitempty"`
	Role     string `json:"role,omitempty"`
	Text     string `json:"text,omitempty"`
	Final    bool   `json:"final,omitempty"`
	Function string `json:"function,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

func now() int64 { return time.Now().UnixMilli() }

func CallState(callID, state string) Event {
	return Event{Type: TypeCallState, CallID: callID, State: state, TSMs: now()}
}

func Transcript(callID, role, text string, final bool) Event {
	return Event{Type: TypeTranscript, CallID: callID, Role: role, Text: text, Final: final, TSMs: now()}
}

func AssistantText(callID, text string) Event {
	return Event{Type: TypeAssistantText, CallID: callID, Role: "assistant", Text: text, TSMs: now()}
}

func BargeIn(callID string) Event {
	return Event{Type: TypeBargeIn, CallID: callID, TSMs: now()}
}

func FunctionCall(callID, function string) Event {
	return Event{Type: TypeFunctionCall, CallID: callID, Function: function, TSMs: now()}
}

func CallEnded(callID, outcome string) Event {
	return Event{Type: TypeCallEnded, CallID: callID, Outcome: outcome, TSMs: now()}
}
