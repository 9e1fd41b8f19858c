package ingesttrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Stage represents a pipeline stage used for tracking message processing.
type Stage string

const (
	StageSeenFromGateway Stage = "seen_from_gateway"
	StageEnrichedOK      Stage = "enriched_ok"
	StageBroadcast       Stage = "broadcast"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped message with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// MessageTrace captures trace metadata for a message throughout the event
// pipeline.
type MessageTrace struct {
	SessionTag string
	Channel    string
	User       string
	Snippet    string
	TraceID    string

	mu       sync.Mutex
	counters map[Stage]int64
}

// NewTraceFromGatewayMessage constructs a trace from dispatch metadata and
// seeds the seen_from_gateway counter.
func NewTraceFromGatewayMessage(sessionTag, channel, user, snippet string) *MessageTrace {
	trace := &MessageTrace{
		SessionTag: sessionTag,
		Channel:    channel,
		User:       user,
		Snippet:    snippet,
		TraceID:    computeTraceID(sessionTag, channel, user, snippet),
		counters:   make(map[Stage]int64),
	}

	trace.counters[StageSeenFromGateway] = 1
	return trace
}

// IncCounter increments the counter for the provided stage and returns the updated value.
func (t *MessageTrace) IncCounter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// LogTrace logs the trace metadata and counters using structured logging.
func (t *MessageTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info(msg,
		"trace_id", t.TraceID,
		"session", t.SessionTag,
		"channel", t.Channel,
		"user", t.User,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *MessageTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		copy[stage] = count
	}

	return copy
}

func computeTraceID(sessionTag, channel, user, snippet string) string {
	digest := sha256.Sum256([]byte(sessionTag + "\x1f" + channel + "\x1f" + user + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
