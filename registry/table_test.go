package registry

import (
	"testing"
)

type countingDropper struct {
	drops int
}

func (d *countingDropper) Drop() {
	d.drops++
}

func TestTable_Basic(t *testing.T) {
	table := NewTable()

	h := table.Insert("cache")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "cache" {
		t.Fatalf("Expected 'cache', got %v", val)
	}

	val, ok = table.Remove(h)
	if !ok {
		t.Fatal("Remove failed")
	}
	if val != "cache" {
		t.Fatalf("Expected 'cache', got %v", val)
	}
	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
}

func TestTable_DropRunsExactlyOnce(t *testing.T) {
	table := NewTable()
	d := &countingDropper{}

	h := table.Insert(d)
	if _, ok := table.Remove(h); !ok {
		t.Fatal("First Remove failed")
	}
	if d.drops != 1 {
		t.Fatalf("Expected 1 drop, got %d", d.drops)
	}

	// second removal of the same token is detected, not fatal
	if _, ok := table.Remove(h); ok {
		t.Fatal("Second Remove should report false")
	}
	if d.drops != 1 {
		t.Fatalf("Drop ran again: %d", d.drops)
	}
}

func TestTable_HandlesNeverReused(t *testing.T) {
	table := NewTable()

	h1 := table.Insert("a")
	table.Remove(h1)
	h2 := table.Insert("b")

	if h1 == h2 {
		t.Fatal("Handles must not be reused")
	}
	if _, ok := table.Get(h1); ok {
		t.Fatal("Stale handle must not resolve")
	}
}

func TestTable_UnknownHandle(t *testing.T) {
	table := NewTable()
	if _, ok := table.Get(12345); ok {
		t.Fatal("Foreign handle must not resolve")
	}
	if _, ok := table.Remove(12345); ok {
		t.Fatal("Foreign handle must not remove")
	}
}
