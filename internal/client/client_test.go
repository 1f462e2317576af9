package client

import "testing"

func TestAddGetRemove(t *testing.T) {
	tbl := NewTable()
	c := tbl.Add(3, 1000, 42, "label_a", true)
	if c.ID != 1 {
		t.Fatalf("expected first client to get ID 1, got %d", c.ID)
	}

	got, ok := tbl.Get(3)
	if !ok || got != c {
		t.Fatalf("Get(3) = %v, %v; want %v, true", got, ok, c)
	}

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}

	var retracted uint64
	tbl.Remove(3, func(id uint64) { retracted = id })
	if retracted != c.ID {
		t.Fatalf("onRetract called with %d, want %d", retracted, c.ID)
	}
	if _, ok := tbl.Get(3); ok {
		t.Fatal("expected client to be gone after Remove")
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tbl.Len())
	}
}

func TestRemoveUnknownFDIsNoop(t *testing.T) {
	tbl := NewTable()
	called := false
	tbl.Remove(99, func(uint64) { called = true })
	if called {
		t.Fatal("onRetract should not be called for an unknown fd")
	}
}

func TestIDsAreStableAcrossFDReuse(t *testing.T) {
	tbl := NewTable()
	first := tbl.Add(5, 1000, 1, "", false)
	tbl.Remove(5, nil)
	second := tbl.Add(5, 1000, 2, "", false)

	if first.ID == second.ID {
		t.Fatalf("expected distinct IDs across fd reuse, got %d both times", first.ID)
	}
}

func TestRange(t *testing.T) {
	tbl := NewTable()
	tbl.Add(1, 0, 0, "", false)
	tbl.Add(2, 0, 0, "", false)
	tbl.Add(3, 0, 0, "", false)

	seen := 0
	tbl.Range(func(*Client) bool {
		seen++
		return true
	})
	if seen != 3 {
		t.Fatalf("Range visited %d clients, want 3", seen)
	}

	seen = 0
	tbl.Range(func(*Client) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatalf("Range should stop after false return, visited %d", seen)
	}
}

func TestLabelByID(t *testing.T) {
	tbl := NewTable()
	c := tbl.Add(1, 0, 0, "label_a", true)

	label, has := tbl.LabelByID(c.ID)
	if !has || label != "label_a" {
		t.Fatalf("LabelByID(%d) = %q, %v; want label_a, true", c.ID, label, has)
	}

	if _, has := tbl.LabelByID(999); has {
		t.Fatal("expected no label for unknown client ID")
	}
}

func TestQueueWrite(t *testing.T) {
	c := NewClient(1, 0, 0, 0, "", false)
	c.QueueWrite([]byte("a"))
	c.QueueWrite([]byte("b"))
	if len(c.WriteQueue) != 2 {
		t.Fatalf("WriteQueue has %d entries, want 2", len(c.WriteQueue))
	}
}
