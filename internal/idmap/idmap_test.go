package idmap

import "testing"

func TestAssignAndLookup(t *testing.T) {
	m := New()
	idx := m.AssignNew("a")
	got, ok := m.Lookup("a")
	if !ok || got != idx {
		t.Fatalf("lookup: got (%d,%v) want (%d,true)", got, ok, idx)
	}
	rev, ok := m.Reverse(idx)
	if !ok || rev != "a" {
		t.Fatalf("reverse: got (%q,%v)", rev, ok)
	}
}

func TestReassignRetiresPrior(t *testing.T) {
	m := New()
	first := m.AssignNew("a")
	second := m.AssignNew("a")
	if second == first {
		t.Fatalf("expected fresh index on reassign, got same %d", first)
	}
	if _, ok := m.Reverse(first); ok {
		t.Fatalf("prior index %d should be retired", first)
	}
	got, ok := m.Lookup("a")
	if !ok || got != second {
		t.Fatalf("lookup after reassign: got (%d,%v) want (%d,true)", got, ok, second)
	}
	if m.Len() != 1 {
		t.Fatalf("expected one live identifier, got %d", m.Len())
	}
}

func TestRetireUnknownReturnsAbsent(t *testing.T) {
	m := New()
	if _, ok := m.Retire("missing"); ok {
		t.Fatalf("expected absent for unknown identifier")
	}
}

func TestRetireRemovesBothDirections(t *testing.T) {
	m := New()
	idx := m.AssignNew("a")
	retired, ok := m.Retire("a")
	if !ok || retired != idx {
		t.Fatalf("retire: got (%d,%v)", retired, ok)
	}
	if _, ok := m.Lookup("a"); ok {
		t.Fatalf("identifier should no longer be live")
	}
	if _, ok := m.Reverse(idx); ok {
		t.Fatalf("index should no longer be live")
	}
}

func TestNextNeverDecrements(t *testing.T) {
	m := New()
	m.AssignNew("a")
	m.Retire("a")
	if m.Next() != 1 {
		t.Fatalf("expected allocator to remain at 1 after retire, got %d", m.Next())
	}
	idx := m.AssignNew("b")
	if idx != 1 {
		t.Fatalf("expected next assignment to continue from 1, got %d", idx)
	}
}

func TestResetRestartsAllocator(t *testing.T) {
	m := New()
	m.AssignNew("a")
	m.AssignNew("b")
	m.Reset()
	if m.Len() != 0 || m.Next() != 0 {
		t.Fatalf("expected empty map after reset, got len=%d next=%d", m.Len(), m.Next())
	}
	idx := m.AssignNew("c")
	if idx != 0 {
		t.Fatalf("expected allocator to restart at 0, got %d", idx)
	}
}

func TestRangeVisitsAllLive(t *testing.T) {
	m := New()
	m.AssignNew("a")
	m.AssignNew("b")
	m.Retire("a")
	seen := map[string]bool{}
	m.Range(func(id string, idx uint32) bool {
		seen[id] = true
		return true
	})
	if seen["a"] {
		t.Fatalf("retired identifier should not be visited")
	}
	if !seen["b"] {
		t.Fatalf("live identifier should be visited")
	}
}
