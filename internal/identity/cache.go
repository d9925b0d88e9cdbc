package identity

import "sync"

// Entry is the last-known identity for a platform user id.
type Entry struct {
	Nickname string
	Handle   string
}

// Cache maps platform user ids to last-known identity. Last write wins, no
// eviction within a session; the router discards the whole cache on reconnect.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Put records identity for userID, overwriting any prior entry. Empty userID
// is ignored.
func (c *Cache) Put(userID, nickname, handle string) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	c.entries[userID] = Entry{Nickname: nickname, Handle: handle}
	c.mu.Unlock()
}

func (c *Cache) Get(userID string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	return e, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
