package sharedctx

import "testing"

func TestPutGet(t *testing.T) {
	c := New()
	c.Put("concept.mood", "warm")

	v, ok := c.Get("concept.mood")
	if !ok || v != "warm" {
		t.Errorf("Get = %v, %v, want warm, true", v, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected missing key to return false")
	}
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	c := New()
	c.Put("a", 1)
	c.Put("b", 2)

	snap := c.Snapshot()
	snap["a"] = 99 // mutating the copy must not affect the store

	if v, _ := c.Get("a"); v != 1 {
		t.Errorf("Get(a) = %v after mutating snapshot, want 1", v)
	}
	if len(snap) != 2 {
		t.Errorf("snapshot len = %d, want 2", len(snap))
	}
}

func TestRevisionMonotonic(t *testing.T) {
	c := New()
	if c.Revision() != 0 {
		t.Fatalf("initial revision = %d, want 0", c.Revision())
	}
	c.Put("a", 1)
	c.Put("a", 2)
	if c.Revision() != 2 {
		t.Errorf("revision = %d, want 2", c.Revision())
	}
}

func TestSubscribeFiltersByPrefix(t *testing.T) {
	c := New()
	ch := c.Subscribe("builder.")

	c.Put("concept.mood", "warm")
	c.Put("builder.objects", []string{"cube"})

	select {
	case change := <-ch:
		if change.Key != "builder.objects" {
			t.Errorf("got key %q, want builder.objects", change.Key)
		}
	default:
		t.Fatal("expected a buffered change for builder.objects")
	}

	select {
	case change := <-ch:
		t.Fatalf("unexpected second change: %+v", change)
	default:
	}
}
