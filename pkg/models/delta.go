package models

// DeltaType identifies the kind of a StreamDelta.
type DeltaType string

const (
	// DeltaText carries a fragment of assistant text.
	DeltaText DeltaType = "text"

	// DeltaToolCallStart announces a new tool call with its id and name.
	DeltaToolCallStart DeltaType = "tool_call_start"

	// DeltaToolCallArgs carries a fragment of a tool call's JSON arguments.
	DeltaToolCallArgs DeltaType = "tool_call_args"

	// DeltaToolCallDone marks a tool call's arguments as complete.
	DeltaToolCallDone DeltaType = "tool_call_done"

	// DeltaMessageStop terminates the stream, optionally with a stop
	// reason and token usage.
	DeltaMessageStop DeltaType = "message_stop"
)

// Usage reports token consumption for a completed stream.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamDelta is the canonical normalised streaming event. Every provider
// adapter converts its wire protocol into this shape, so the loop's drain
// logic depends on exactly one stream vocabulary.
//
// Err is delivered in-band: a delta with Err set terminates the stream and
// the channel is closed after it.
type StreamDelta struct {
	Type DeltaType `json:"type"`

	// Text is set for DeltaText.
	Text string `json:"text,omitempty"`

	// ToolCallID and ToolName identify the call for the tool_call_* deltas.
	// ToolName is only set on DeltaToolCallStart.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// ArgsFragment is a partial JSON string for DeltaToolCallArgs.
	ArgsFragment string `json:"args_fragment,omitempty"`

	// StopReason and Usage are set on DeltaMessageStop when known.
	StopReason string `json:"stop_reason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`

	// Err is a stream-level error. Terminal.
	Err error `json:"-"`
}

// TextDelta builds a text fragment delta.
func TextDelta(text string) StreamDelta {
	return StreamDelta{Type: DeltaText, Text: text}
}

// ToolCallStartDelta announces a tool call.
func ToolCallStartDelta(id, name string) StreamDelta {
	return StreamDelta{Type: DeltaToolCallStart, ToolCallID: id, ToolName: name}
}

// ToolCallArgsDelta carries an argument fragment for a tool call.
func ToolCallArgsDelta(id, fragment string) StreamDelta {
	return StreamDelta{Type: DeltaToolCallArgs, ToolCallID: id, ArgsFragment: fragment}
}

// ToolCallDoneDelta finalises a tool call.
func ToolCallDoneDelta(id string) StreamDelta {
	return StreamDelta{Type: DeltaToolCallDone, ToolCallID: id}
}

// MessageStopDelta terminates the stream.
func MessageStopDelta(stopReason string, usage *Usage) StreamDelta {
	return StreamDelta{Type: DeltaMessageStop, StopReason: stopReason, Usage: usage}
}

// ErrorDelta wraps a stream error as a terminal delta.
func ErrorDelta(err error) StreamDelta {
	return StreamDelta{Err: err}
}
