package ingesttrace

import "testing"

func TestTraceIDDeterminism(t *testing.T) {
	first := NewTraceFromGatewayMessage("sess-1", "channel-a", "user1", "hello world")
	second := NewTraceFromGatewayMessage("sess-1", "channel-a", "user1", "hello world")
	if first.TraceID != second.TraceID {
		t.Fatalf("expected deterministic trace id, got %q and %q", first.TraceID, second.TraceID)
	}

	different := NewTraceFromGatewayMessage("sess-1", "channel-a", "user1", "hello mars")
	if first.TraceID == different.TraceID {
		t.Fatalf("expected different trace id when snippet changes")
	}
}

func TestCounterIncrements(t *testing.T) {
	trace := NewTraceFromGatewayMessage("sess-2", "channel-b", "user2", "hi there")

	if count := trace.IncCounter(StageEnrichedOK); count != 1 {
		t.Fatalf("expected enriched_ok to be 1, got %d", count)
	}

	if count := trace.IncCounter(StageDropped("filter")); count != 1 {
		t.Fatalf("expected dropped_filter to be 1, got %d", count)
	}

	if count := trace.IncCounter(StageDropped("filter")); count != 2 {
		t.Fatalf("expected dropped_filter to be 2 after increment, got %d", count)
	}

	if count := trace.IncCounter(StageBroadcast); count != 1 {
		t.Fatalf("expected broadcast to be 1, got %d", count)
	}
}
