package agent_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"drawbridge/internal/agent"
)

func TestNewReplayCache(t *testing.T) {
	t.Run("creates cache with invalid parameters", func(t *testing.T) {
		cache := agent.NewReplayCache(0, 0)

		// Test that cache was created successfully by verifying it can store and retrieve outcomes
		cache.Store("cmd_1", true, json.RawMessage(`{"node_id":"n1"}`), "")
		cached, found := cache.Check("cmd_1")
		if !found {
			t.Error("Expected to find stored outcome")
		}
		if cached == nil || !cached.Success {
			t.Error("Retrieved outcome doesn't match stored outcome")
		}
	})

	t.Run("creates cache with custom values", func(t *testing.T) {
		cache := agent.NewReplayCache(100, 30*time.Minute)

		cache.Store("cmd_2", false, nil, "node not found")
		cached, found := cache.Check("cmd_2")
		if !found {
			t.Error("Expected to find stored outcome")
		}
		if cached.Success {
			t.Error("Expected stored outcome to carry failure")
		}
		if cached.Error != "node not found" {
			t.Errorf("Expected error 'node not found', got %q", cached.Error)
		}
	})
}

func TestReplayCacheBasicOperations(t *testing.T) {
	cache := agent.NewReplayCache(10, time.Hour)

	commandID := "cmd_abc123"
	data := json.RawMessage(`{"frame_id":"f1"}`)

	t.Run("check nonexistent command", func(t *testing.T) {
		cached, found := cache.Check(commandID)
		if found {
			t.Error("Expected command not found, but it was")
		}
		if cached != nil {
			t.Error("Expected nil outcome for nonexistent command")
		}
	})

	t.Run("store and retrieve outcome", func(t *testing.T) {
		cache.Store(commandID, true, data, "")

		cached, found := cache.Check(commandID)
		if !found {
			t.Error("Expected to find stored outcome")
		}
		if cached == nil {
			t.Fatal("Expected outcome, got nil")
		}
		if !cached.Success {
			t.Errorf("Expected Success true, got %v", cached.Success)
		}
		if cached.CommandID != commandID {
			t.Errorf("Expected CommandID %s, got %s", commandID, cached.CommandID)
		}
		if string(cached.Data) != string(data) {
			t.Errorf("Expected Data %s, got %s", data, cached.Data)
		}
	})

	t.Run("empty command ID handling", func(t *testing.T) {
		cache.Store("", true, data, "")
		cached, found := cache.Check("")
		if found {
			t.Error("Expected empty command ID to not be found")
		}
		if cached != nil {
			t.Error("Expected nil outcome for empty command ID")
		}
	})
}

func TestReplayCacheExpiration(t *testing.T) {
	shortExpiration := 50 * time.Millisecond
	cache := agent.NewReplayCache(10, shortExpiration)

	commandID := "cmd_expiring"
	cache.Store(commandID, true, nil, "")

	// Should find it immediately
	cached, found := cache.Check(commandID)
	if !found || cached == nil {
		t.Error("Expected to find fresh outcome")
	}

	// Wait for expiration
	time.Sleep(shortExpiration + 10*time.Millisecond)

	// Should not find it after expiration
	cached, found = cache.Check(commandID)
	if found {
		t.Error("Expected expired outcome to not be found")
	}
	if cached != nil {
		t.Error("Expected nil outcome after expiration")
	}
}

func TestReplayCacheEviction(t *testing.T) {
	maxSize := 5
	cache := agent.NewReplayCache(maxSize, time.Hour)

	for i := 0; i < maxSize+3; i++ {
		cache.Store(fmt.Sprintf("cmd_%d", i), true, nil, "")
	}

	if cache.Len() != maxSize {
		t.Errorf("Expected cache length %d after eviction, got %d", maxSize, cache.Len())
	}

	// Oldest entries leave first
	if _, found := cache.Check("cmd_0"); found {
		t.Error("Expected oldest outcome to be evicted")
	}
	if _, found := cache.Check(fmt.Sprintf("cmd_%d", maxSize+2)); !found {
		t.Error("Expected newest outcome to survive eviction")
	}
}

func TestReplayCacheResize(t *testing.T) {
	cache := agent.NewReplayCache(10, time.Hour)

	for i := 0; i < 8; i++ {
		cache.Store(fmt.Sprintf("cmd_%d", i), true, nil, "")
	}

	cache.Resize(4)

	if cache.Len() != 4 {
		t.Errorf("Expected cache length 4 after resize, got %d", cache.Len())
	}

	t.Run("ignores invalid size", func(t *testing.T) {
		cache.Resize(0)
		if cache.Len() != 4 {
			t.Errorf("Expected resize to ignore non-positive size, got length %d", cache.Len())
		}
	})
}

func TestReplayCachePurge(t *testing.T) {
	cache := agent.NewReplayCache(10, time.Hour)

	cache.Store("cmd_1", true, nil, "")
	cache.Store("cmd_2", false, nil, "boom")

	if cache.Len() != 2 {
		t.Errorf("Expected 2 outcomes before purge, got %d", cache.Len())
	}

	cache.Purge()

	if cache.Len() != 0 {
		t.Errorf("Expected empty cache after purge, got %d", cache.Len())
	}
	if _, found := cache.Check("cmd_1"); found {
		t.Error("Expected purged outcome to not be found")
	}
}
