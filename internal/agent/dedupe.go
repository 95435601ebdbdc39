package agent

import (
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedResponse is a completed command outcome kept for duplicate delivery
type CachedResponse struct {
	CommandID string          `json:"command_id"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ReplayCache remembers recent command outcomes by ID. The issuer re-sends
// unacknowledged commands after a reconnect, so the same ID can arrive more
// than once; the cache lets the agent answer duplicates without executing
// them a second time.
type ReplayCache struct {
	cache      *lru.Cache[string, *CachedResponse]
	expiration time.Duration
}

// NewReplayCache creates a replay cache bounded to maxSize entries
func NewReplayCache(maxSize int, expiration time.Duration) *ReplayCache {
	if maxSize <= 0 {
		maxSize = 512 // Default replay window
	}
	if expiration <= 0 {
		expiration = time.Hour // Default to 1 hour expiration
	}

	cache, _ := lru.New[string, *CachedResponse](maxSize)

	rc := &ReplayCache{
		cache:      cache,
		expiration: expiration,
	}

	// Start cleanup routine for expired entries
	go rc.cleanupExpired()

	return rc
}

// Check returns the cached outcome for a command ID if one exists
func (rc *ReplayCache) Check(commandID string) (*CachedResponse, bool) {
	if commandID == "" {
		return nil, false
	}

	if cached, found := rc.cache.Get(commandID); found {
		if time.Since(cached.Timestamp) > rc.expiration {
			rc.cache.Remove(commandID)
			return nil, false
		}
		return cached, true
	}

	return nil, false
}

// Store records the outcome of an executed command
func (rc *ReplayCache) Store(commandID string, success bool, data json.RawMessage, errMsg string) {
	if commandID == "" {
		return
	}

	rc.cache.Add(commandID, &CachedResponse{
		CommandID: commandID,
		Success:   success,
		Data:      data,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

// Len returns the number of cached outcomes
func (rc *ReplayCache) Len() int {
	return rc.cache.Len()
}

// Resize adjusts the maximum number of cached outcomes
func (rc *ReplayCache) Resize(maxSize int) {
	if maxSize > 0 {
		rc.cache.Resize(maxSize)
	}
}

// Purge drops every cached outcome
func (rc *ReplayCache) Purge() {
	rc.cache.Purge()
}

// cleanupExpired runs a periodic cleanup of expired outcomes
func (rc *ReplayCache) cleanupExpired() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rc.performCleanup()
	}
}

// performCleanup removes expired entries
func (rc *ReplayCache) performCleanup() int {
	now := time.Now()
	expired := 0

	for _, id := range rc.cache.Keys() {
		if cached, found := rc.cache.Peek(id); found {
			if now.Sub(cached.Timestamp) > rc.expiration {
				rc.cache.Remove(id)
				expired++
			}
		}
	}

	return expired
}
