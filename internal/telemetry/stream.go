// Package telemetry turns the raw inbound frame flow from the engine into a
// bounded, ordered, display-ready log.
package telemetry

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"enginesync/logger"
	"enginesync/models"
)

// DefaultCapacity bounds the buffer for one dashboard session when no
// capacity is configured.
const DefaultCapacity = 500

// framePayload is the loggable-event contract with the engine transport: one
// frame is one event, optionally pre-classified by the engine itself.
type framePayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Stream buffers classified log entries in strict arrival order. Entries are
// never reordered and eviction always removes the oldest entry first.
type Stream struct {
	mu       sync.RWMutex
	entries  []models.LogEntry
	capacity int
	nextID   uint64
	log      *logger.Log
}

func NewStream(capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stream{
		capacity: capacity,
		log:      logger.GetLogger(),
	}
}

// Append classifies the raw frame, assigns the next ordinal and the current
// instant, and inserts the entry at the tail. When the buffer is full the
// head entry is evicted first.
func (s *Stream) Append(frame models.RawFrame) models.LogEntry {
	entryType, message := classify(frame.Data)

	at := frame.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	s.nextID++
	entry := models.LogEntry{
		ID:        s.nextID,
		Timestamp: at,
		Type:      entryType,
		Message:   message,
	}
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.capacity {
		s.entries = append([]models.LogEntry(nil), s.entries[len(s.entries)-s.capacity:]...)
	}
	s.mu.Unlock()

	s.log.WithComponent("telemetry_stream").WithFields(logger.Fields{
		"entry_id": entry.ID,
		"type":     string(entry.Type),
	}).Debug("telemetry entry appended")

	return entry
}

// Snapshot returns a copy of the current ordered sequence of entries.
func (s *Stream) Snapshot() []models.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len reports the current number of buffered entries.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// classify maps a raw frame onto an entry type and display message. Frames
// that pre-classify themselves via the JSON contract are honoured; everything
// else is scanned for failure and completion markers. Malformed frames
// degrade to an info entry carrying the raw text rather than being dropped.
func classify(data []byte) (models.EntryType, string) {
	var payload framePayload
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		switch strings.ToLower(payload.Type) {
		case "error":
			return models.EntryError, payload.Message
		case "success":
			return models.EntrySuccess, payload.Message
		case "reasoning":
			return models.EntryReasoning, payload.Message
		case "info", "":
			return classifyText(payload.Message), payload.Message
		default:
			return models.EntryInfo, payload.Message
		}
	}

	text := strings.TrimSpace(string(data))
	return classifyText(text), text
}

func classifyText(text string) models.EntryType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed") || strings.Contains(lower, "failure"):
		return models.EntryError
	case strings.Contains(lower, "success") || strings.Contains(lower, "completed") || strings.Contains(lower, "filled"):
		return models.EntrySuccess
	case strings.Contains(lower, "reasoning") || strings.Contains(lower, "analyzing") || strings.Contains(lower, "thinking"):
		return models.EntryReasoning
	default:
		return models.EntryInfo
	}
}
