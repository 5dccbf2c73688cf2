package state

import "testing"

func TestHolderGetSet(t *testing.T) {
	h := NewHolder(1)
	if got := h.Get(); got != 1 {
		t.Fatalf("expected initial value 1, got %d", got)
	}

	h.Set(2)
	if got := h.Get(); got != 2 {
		t.Fatalf("expected 2 after Set, got %d", got)
	}
}

func TestHolderNotifiesSynchronously(t *testing.T) {
	h := NewHolder("a")

	var seen []string
	cancel := h.Subscribe(func(v string) { seen = append(seen, v) })
	defer cancel()

	h.Set("b")
	h.Set("c")

	if len(seen) != 2 || seen[0] != "b" || seen[1] != "c" {
		t.Fatalf("unexpected notifications: %v", seen)
	}
}

func TestHolderCancelStopsNotifications(t *testing.T) {
	h := NewHolder(0)

	count := 0
	cancel := h.Subscribe(func(int) { count++ })

	h.Set(1)
	cancel()
	cancel() // second cancel is a no-op
	h.Set(2)

	if count != 1 {
		t.Fatalf("expected 1 notification, got %d", count)
	}
}

func TestHolderNilListener(t *testing.T) {
	h := NewHolder(0)
	cancel := h.Subscribe(nil)
	cancel()
	h.Set(1)
}
