package main

import (
	"sync"
	"time"
)

type sessionEntry struct {
	conversation []ConversationTurn
	updatedAt    time.Time
}

// SessionCache keeps the most recent conversation window per session so
// clients may omit the conversation from follow-up orchestrate calls.
// Entries expire after the configured TTL.
type SessionCache struct {
	mu       sync.RWMutex
	sessions map[string]sessionEntry
	ttl      time.Duration
}

// NewSessionCache creates a session cache with the specified TTL.
func NewSessionCache(ttl time.Duration) *SessionCache {
	return &SessionCache{
		sessions: make(map[string]sessionEntry),
		ttl:      ttl,
	}
}

// Get retrieves the cached conversation for a session if not expired.
// Returns the conversation and a boolean indicating a cache hit.
func (c *SessionCache) Get(sessionID string) ([]ConversationTurn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.sessions[sessionID]
	if !ok {
		return nil, false
	}

	if time.Since(entry.updatedAt) > c.ttl {
		return nil, false
	}

	// Return a copy to prevent external modifications
	conversation := make([]ConversationTurn, len(entry.conversation))
	copy(conversation, entry.conversation)

	return conversation, true
}

// Set stores the latest conversation window for a session.
func (c *SessionCache) Set(sessionID string, conversation []ConversationTurn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store a copy to prevent external modifications
	stored := make([]ConversationTurn, len(conversation))
	copy(stored, conversation)

	c.sessions[sessionID] = sessionEntry{
		conversation: stored,
		updatedAt:    time.Now(),
	}
}

// Clear removes all sessions from the cache.
func (c *SessionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions = make(map[string]sessionEntry)
}

// Size returns the number of cached sessions, expired entries included.
func (c *SessionCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.sessions)
}
