package models

import (
	"time"
)

// EntryType classifies a telemetry log entry for display.
type EntryType string

const (
	EntryInfo      EntryType = "info"
	EntrySuccess   EntryType = "success"
	EntryError     EntryType = "error"
	EntryReasoning EntryType = "reasoning"
)

// LogEntry is a single display-ready telemetry event. Entries are immutable
// once created and ordered by their monotonic ID.
type LogEntry struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EntryType `json:"type"`
	Message   string    `json:"message"`
}

// RawFrame is one inbound transport frame from the engine. The payload is an
// opaque copy; the transport handle never leaves the connection manager.
type RawFrame struct {
	Data       []byte
	ReceivedAt time.Time
}
