package identity

import "testing"

func TestCachePutGet(t *testing.T) {
	c := NewCache()

	if _, ok := c.Get("7000000000000000001"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put("7000000000000000001", "Alice", "alice123")
	entry, ok := c.Get("7000000000000000001")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if entry.Nickname != "Alice" || entry.Handle != "alice123" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestCacheLastWriteWins(t *testing.T) {
	c := NewCache()
	c.Put("7000000000000000001", "Alice", "alice123")
	c.Put("7000000000000000001", "Alicia", "alice123")

	entry, ok := c.Get("7000000000000000001")
	if !ok {
		t.Fatal("expected hit")
	}
	if entry.Nickname != "Alicia" {
		t.Fatalf("expected overwrite, got %q", entry.Nickname)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheIgnoresEmptyUserID(t *testing.T) {
	c := NewCache()
	c.Put("", "Nobody", "nobody")
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}
