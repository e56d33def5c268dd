package assembler

import (
	"testing"

	"github.com/haasonsaas/agentrun/internal/llm"
)

func strp(s string) *string { return &s }

func TestFinalize_CompleteSingleCall(t *testing.T) {
	a := New()
	a.Feed(llm.ToolCallDelta{Index: 0, ID: strp("c1"), Name: strp("resolve_target")})
	a.Feed(llm.ToolCallDelta{Index: 0, ArgsChunk: strp(`{"target":`)})
	a.Feed(llm.ToolCallDelta{Index: 0, ArgsChunk: strp(`"localhost"}`)})

	calls, err := a.Finalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0].ID != "c1" || calls[0].Name != "resolve_target" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if string(calls[0].Input) != `{"target":"localhost"}` {
		t.Fatalf("unexpected input: %s", calls[0].Input)
	}
}

func TestFinalize_MissingIdentity(t *testing.T) {
	a := New()
	a.Feed(llm.ToolCallDelta{Index: 0, ArgsChunk: strp(`{}`)})

	_, err := a.Finalize()
	pe, ok := err.(*ProtocolError)
	if !ok || pe.Kind != MissingIdentity {
		t.Fatalf("expected MissingIdentity protocol error, got %v", err)
	}
}

func TestFinalize_MalformedArguments(t *testing.T) {
	a := New()
	a.Feed(llm.ToolCallDelta{Index: 0, ID: strp("c1"), Name: strp("resolve_target")})
	a.Feed(llm.ToolCallDelta{Index: 0, ArgsChunk: strp(`{"target":`)})

	_, err := a.Finalize()
	pe, ok := err.(*ProtocolError)
	if !ok || pe.Kind != MalformedArguments {
		t.Fatalf("expected MalformedArguments protocol error, got %v", err)
	}
}

func TestFinalize_DuplicateID(t *testing.T) {
	a := New()
	a.Feed(llm.ToolCallDelta{Index: 0, ID: strp("dup"), Name: strp("a")})
	a.Feed(llm.ToolCallDelta{Index: 0, ArgsChunk: strp(`{}`)})
	a.Feed(llm.ToolCallDelta{Index: 1, ID: strp("dup"), Name: strp("b")})
	a.Feed(llm.ToolCallDelta{Index: 1, ArgsChunk: strp(`{}`)})

	_, err := a.Finalize()
	pe, ok := err.(*ProtocolError)
	if !ok || pe.Kind != DuplicateID {
		t.Fatalf("expected DuplicateID protocol error, got %v", err)
	}
}

func TestFinalize_NoCalls(t *testing.T) {
	a := New()
	calls, err := a.Finalize()
	if err != nil || calls != nil {
		t.Fatalf("expected nil, nil for empty assembler, got %v, %v", calls, err)
	}
}

func TestFinalize_EmptyArgsDefaultsToObject(t *testing.T) {
	a := New()
	a.Feed(llm.ToolCallDelta{Index: 0, ID: strp("c1"), Name: strp("ping")})

	calls, err := a.Finalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(calls[0].Input) != "{}" {
		t.Fatalf("expected empty args to default to {}, got %s", calls[0].Input)
	}
}
