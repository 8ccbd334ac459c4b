package engine

import (
	"context"
	"testing"
)

func builtinSet(capture CaptureSink) *FunctionSet {
	s := NewFunctionSet()
	for _, fn := range BuiltinFunctions(capture) {
		s.Register(fn)
	}
	return s
}

func TestEndCallHandler(t *testing.T) {
	s := builtinSet(nil)
	fn, ok := s.Get("end_call")
	if !ok {
		t.Fatalf("end_call not registered")
	}

	res := fn.Handler(context.Background(), map[string]any{"reason": "resolved"}, nil)
	if !res.Success || res.Action != ActionEnd || res.Result != "resolved" {
		t.Fatalf("result = %+v", res)
	}

	res = fn.Handler(context.Background(), nil, nil)
	if res.Result != OutcomeCompleted {
		t.Fatalf("default reason = %q, want %q", res.Result, OutcomeCompleted)
	}
}

func TestTransferCallHandler(t *testing.T) {
	s := builtinSet(nil)
	fn, _ := s.Get("transfer_call")

	res := fn.Handler(context.Background(), map[string]any{"target": "billing"}, nil)
	if !res.Success || res.Action != ActionTransfer || res.Target != "billing" {
		t.Fatalf("result = %+v", res)
	}

	res = fn.Handler(context.Background(), map[string]any{}, nil)
	if res.Success || res.Action != ActionContinue {
		t.Fatalf("missing target should fail soft, got %+v", res)
	}
}

func TestCaptureDataHandler(t *testing.T) {
	var gotKey, gotValue string
	s := builtinSet(func(key, value string) {
		gotKey, gotValue = key, value
	})
	fn, _ := s.Get("capture_data")

	res := fn.Handler(context.Background(), map[string]any{"key": "email", "value": "a@b.c"}, nil)
	if !res.Success || res.Action != ActionContinue {
		t.Fatalf("result = %+v", res)
	}
	if gotKey != "email" || gotValue != "a@b.c" {
		t.Fatalf("sink got %q=%q", gotKey, gotValue)
	}

	res = fn.Handler(context.Background(), map[string]any{"value": "x"}, nil)
	if res.Success {
		t.Fatalf("missing key should fail, got %+v", res)
	}
}

func TestSchemasFollowRegistrationOrder(t *testing.T) {
	s := builtinSet(nil)
	schemas := s.Schemas()
	if len(schemas) != 3 {
		t.Fatalf("got %d schemas, want 3", len(schemas))
	}
	want := []string{"end_call", "transfer_call", "capture_data"}
	for i, name := range want {
		if schemas[i].Name != name {
			t.Fatalf("schema[%d] = %q, want %q", i, schemas[i].Name, name)
		}
	}
}
