package engine

import (
	"context"

	"github.com/voxline-ai/voxline/internal/providers"
)

// Action tells the engine what to do after a function handler returns.
type Action string

const (
	ActionContinue Action = "continue"
	ActionTransfer Action = "transfer"
	ActionEnd      Action = "end"
)

// FunctionResult is what a handler reports back. Result is opaque text fed
// into the dialogue; for ActionEnd it doubles as the call outcome tag.
type FunctionResult struct {
	Success bool
	Result  string
	Action  Action
	Target  string
}

// FunctionHandler executes one model-requested action. Handlers must not
// block for long; they run on the call's event loop.
type FunctionHandler func(ctx context.Context, args map[string]any, conv *Conversation) FunctionResult

// Function pairs the schema shown to the model with its handler.
type Function struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     FunctionHandler
}

// FunctionSet is the per-agent collection of enabled functions.
type FunctionSet struct {
	fns   map[string]Function
	order []string
}

func NewFunctionSet() *FunctionSet {
	return &FunctionSet{fns: make(map[string]Function)}
}

func (s *FunctionSet) Register(fn Function) {
	if _, exists := s.fns[fn.Name]; !exists {
		s.order = append(s.order, fn.Name)
	}
	s.fns[fn.Name] = fn
}

func (s *FunctionSet) Get(name string) (Function, bool) {
	fn, ok := s.fns[name]
	return fn, ok
}

func (s *FunctionSet) Len() int { return len(s.order) }

// Schemas renders the set for the language-model request, in registration
// order so prompts stay stable across turns.
func (s *FunctionSet) Schemas() []providers.FunctionSchema {
	out := make([]providers.FunctionSchema, 0, len(s.order))
	for _, name := range s.order {
		fn := s.fns[name]
		out = append(out, providers.FunctionSchema{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}
	return out
}

// CaptureSink receives key/value data extracted by the assistant mid-call.
type CaptureSink func(key, value string)

// BuiltinFunctions returns the stock handlers: ending the call, transferring
// it, and capturing structured data. Agents enable them by name.
func BuiltinFunctions(capture CaptureSink) []Function {
	return []Function{
		{
			Name:        "end_call",
			Description: "End the call when the conversation has reached a natural conclusion.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Short outcome tag, e.g. resolved or caller_declined.",
					},
				},
			},
			Handler: func(_ context.Context, args map[string]any, _ *Conversation) FunctionResult {
				reason := stringArg(args, "reason")
				if reason == "" {
					reason = OutcomeCompleted
				}
				return FunctionResult{Success: true, Result: reason, Action: ActionEnd}
			},
		},
		{
			Name:        "transfer_call",
			Description: "Transfer the caller to a human agent or another destination.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target": map[string]any{
						"type":        "string",
						"description": "Destination extension or queue name.",
					},
				},
				"required": []any{"target"},
			},
			Handler: func(_ context.Context, args map[string]any, _ *Conversation) FunctionResult {
				target := stringArg(args, "target")
				if target == "" {
					return FunctionResult{Success: false, Result: "missing transfer target", Action: ActionContinue}
				}
				return FunctionResult{Success: true, Result: "transferring to " + target, Action: ActionTransfer, Target: target}
			},
		},
		{
			Name:        "capture_data",
			Description: "Record a piece of structured information the caller provided.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":   map[string]any{"type": "string"},
					"value": map[string]any{"type": "string"},
				},
				"required": []any{"key", "value"},
			},
			Handler: func(_ context.Context, args map[string]any, _ *Conversation) FunctionResult {
				key := stringArg(args, "key")
				value := stringArg(args, "value")
				if key == "" {
					return FunctionResult{Success: false, Result: "missing key", Action: ActionContinue}
				}
				if capture != nil {
					capture(key, value)
				}
				return FunctionResult{Success: true, Result: "captured " + key, Action: ActionContinue}
			},
		},
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, _ := args[key].(string)
	return v
}
