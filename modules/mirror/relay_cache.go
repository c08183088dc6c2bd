package mirror

import (
	"container/list"
	"slices"
	"sync"
)

// RelayEntry identifies one mirrored copy of a source message.
type RelayEntry struct {
	// MessageID is the mirrored message id in the target conversation.
	MessageID string
	// ConversationID is the target conversation holding the copy.
	ConversationID string
}

// RelayCache remembers where each source message was mirrored and who wrote
// it. The two indexes are guarded independently.
//
// With maxEntries == 0 both indexes grow without bound; a positive value
// evicts least recently used source messages from each index.
type RelayCache struct {
	relays  *lruStore[[]RelayEntry]
	authors *lruStore[string]
}

// NewRelayCache creates an empty relay cache.
func NewRelayCache(maxEntries int) *RelayCache {
	return &RelayCache{
		relays:  newLRUStore[[]RelayEntry](maxEntries),
		authors: newLRUStore[string](maxEntries),
	}
}

// PutRelays records the mirrored copies of a source message.
func (c *RelayCache) PutRelays(sourceMessageID string, entries []RelayEntry) {
	c.relays.put(sourceMessageID, slices.Clone(entries))
}

// Relays returns a copy of the mirrored copies of a source message.
func (c *RelayCache) Relays(sourceMessageID string) ([]RelayEntry, bool) {
	entries, ok := c.relays.get(sourceMessageID)
	if !ok {
		return nil, false
	}
	if entries == nil {
		return []RelayEntry{}, true
	}

	return slices.Clone(entries), true
}

// PutAuthor records who authored a source message.
func (c *RelayCache) PutAuthor(sourceMessageID string, authorID string) {
	c.authors.put(sourceMessageID, authorID)
}

// Author returns the recorded author of a source message.
func (c *RelayCache) Author(sourceMessageID string) (string, bool) {
	return c.authors.get(sourceMessageID)
}

// Len returns the number of source messages with a relay record.
func (c *RelayCache) Len() int {
	return c.relays.len()
}

type lruStore[V any] struct {
	maxEntries int

	mu     sync.Mutex
	values map[string]*list.Element
	order  *list.List
}

type lruItem[V any] struct {
	key   string
	value V
}

func newLRUStore[V any](maxEntries int) *lruStore[V] {
	if maxEntries < 0 {
		maxEntries = 0
	}

	return &lruStore[V]{
		maxEntries: maxEntries,
		values:     make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (s *lruStore[V]) put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.values[key]; ok {
		element.Value.(*lruItem[V]).value = value
		s.order.MoveToFront(element)
		return
	}

	s.values[key] = s.order.PushFront(&lruItem[V]{key: key, value: value})
	for s.maxEntries > 0 && s.order.Len() > s.maxEntries {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.values, oldest.Value.(*lruItem[V]).key)
	}
}

func (s *lruStore[V]) get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.values[key]
	if !ok {
		var zero V
		return zero, false
	}
	s.order.MoveToFront(element)

	return element.Value.(*lruItem[V]).value, true
}

func (s *lruStore[V]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.order.Len()
}
