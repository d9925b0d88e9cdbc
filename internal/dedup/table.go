package dedup

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultWindow is the suppression window for repeated signals.
	DefaultWindow = 2 * time.Second
	// DefaultRetention bounds how long a record survives without repeats.
	DefaultRetention = 10 * time.Second
)

// Table is one suppression namespace: key -> last-seen timestamp. Expired
// entries are swept opportunistically on every insertion pass, so memory is
// bounded to keys active within the retention window without a background
// timer.
type Table struct {
	window    time.Duration
	retention time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewTable(window, retention time.Duration) *Table {
	if window <= 0 {
		window = DefaultWindow
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Table{
		window:    window,
		retention: retention,
		lastSeen:  make(map[string]time.Time),
	}
}

// Suppress reports whether key was admitted within the suppression window.
// On a non-suppressed call the key is recorded at now and expired entries are
// swept from the table.
func (t *Table) Suppress(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seen, ok := t.lastSeen[key]; ok && now.Sub(seen) < t.window {
		return true
	}

	t.lastSeen[key] = now
	t.sweepLocked(now)
	return false
}

func (t *Table) sweepLocked(now time.Time) {
	for key, seen := range t.lastSeen {
		if now.Sub(seen) > t.retention {
			delete(t.lastSeen, key)
		}
	}
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSeen)
}

// GiftKey builds the gift-namespace composite key.
func GiftKey(userID string, giftID, repeatCount int) string {
	return fmt.Sprintf("%s|%d|%d", userID, giftID, repeatCount)
}

// EntranceKey builds the entrance-namespace composite key.
func EntranceKey(source, userID string) string {
	return source + "|" + userID
}
