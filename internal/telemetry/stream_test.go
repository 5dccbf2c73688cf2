package telemetry

import (
	"fmt"
	"testing"
	"time"

	"enginesync/models"
)

func frame(text string) models.RawFrame {
	return models.RawFrame{Data: []byte(text), ReceivedAt: time.Now()}
}

func TestAppendAssignsIncreasingOrdinals(t *testing.T) {
	s := NewStream(10)

	first := s.Append(frame("one"))
	second := s.Append(frame("two"))

	if first.ID == 0 {
		t.Fatalf("ordinals must start above zero")
	}
	if second.ID <= first.ID {
		t.Fatalf("ordinals not increasing: %d then %d", first.ID, second.ID)
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	const capacity = 5
	s := NewStream(capacity)

	for i := 0; i < capacity*3; i++ {
		s.Append(frame(fmt.Sprintf("entry %d", i)))
	}

	snapshot := s.Snapshot()
	if len(snapshot) != capacity {
		t.Fatalf("expected %d entries, got %d", capacity, len(snapshot))
	}

	// The survivors are the most recent appends in original relative order.
	for i := 0; i < len(snapshot); i++ {
		want := fmt.Sprintf("entry %d", capacity*3-capacity+i)
		if snapshot[i].Message != want {
			t.Fatalf("entry %d: expected %q, got %q", i, want, snapshot[i].Message)
		}
		if i > 0 && snapshot[i].ID <= snapshot[i-1].ID {
			t.Fatalf("snapshot out of order at %d", i)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStream(10)
	s.Append(frame("one"))

	snap := s.Snapshot()
	snap[0].Message = "mutated"

	if got := s.Snapshot()[0].Message; got != "one" {
		t.Fatalf("snapshot mutation leaked into stream: %q", got)
	}
}

func TestClassifyStructuredFrames(t *testing.T) {
	cases := []struct {
		raw  string
		want models.EntryType
	}{
		{`{"type":"error","message":"order rejected"}`, models.EntryError},
		{`{"type":"success","message":"position opened"}`, models.EntrySuccess},
		{`{"type":"reasoning","message":"evaluating spread"}`, models.EntryReasoning},
		{`{"type":"info","message":"heartbeat"}`, models.EntryInfo},
		{`{"type":"verbose","message":"noise"}`, models.EntryInfo},
	}

	s := NewStream(10)
	for _, tc := range cases {
		entry := s.Append(frame(tc.raw))
		if entry.Type != tc.want {
			t.Errorf("frame %s: expected %s, got %s", tc.raw, tc.want, entry.Type)
		}
	}
}

func TestClassifyPlainTextMarkers(t *testing.T) {
	cases := []struct {
		raw  string
		want models.EntryType
	}{
		{"connection failed: timeout", models.EntryError},
		{"order filled at 104.5", models.EntrySuccess},
		{"analyzing volatility window", models.EntryReasoning},
		{"tick received", models.EntryInfo},
	}

	s := NewStream(10)
	for _, tc := range cases {
		entry := s.Append(frame(tc.raw))
		if entry.Type != tc.want {
			t.Errorf("frame %q: expected %s, got %s", tc.raw, tc.want, entry.Type)
		}
	}
}

func TestMalformedFrameDegradesToInfo(t *testing.T) {
	s := NewStream(10)

	entry := s.Append(frame(`{"type":`))
	if entry.Type != models.EntryInfo {
		t.Fatalf("malformed frame should degrade to info, got %s", entry.Type)
	}
	if entry.Message == "" {
		t.Fatalf("malformed frame message must not be dropped")
	}
}
