package server_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/zeus75017/anogram-server/internal/server"
)

// TestRegistryRoundTrip verifies that a registered connection is resolvable
// and disappears after unregistering.
func TestRegistryRoundTrip(t *testing.T) {
	registry := server.NewRegistry()
	client := server.NewClient(nil, nil, "alice", "alice", "test-addr")

	if first := registry.Register(client); !first {
		t.Error("Expected first registration to report the user went online")
	}
	if !registry.IsOnline("alice") {
		t.Error("Expected alice to be online after registration")
	}

	resolved := registry.Resolve("alice")
	if len(resolved) != 1 || resolved[0] != client {
		t.Errorf("Expected Resolve to return the registered client, got %d clients", len(resolved))
	}

	if last := registry.Unregister(client); !last {
		t.Error("Expected unregistering the only connection to report the user went offline")
	}
	if registry.IsOnline("alice") {
		t.Error("Expected alice to be offline after unregistering")
	}
	if resolved := registry.Resolve("alice"); len(resolved) != 0 {
		t.Errorf("Expected no connections after unregistering, got %d", len(resolved))
	}
}

// TestRegistryMultiDevice verifies that a user with several connections only
// transitions online on the first and offline on the last.
func TestRegistryMultiDevice(t *testing.T) {
	registry := server.NewRegistry()
	phone := server.NewClient(nil, nil, "alice", "alice", "phone")
	laptop := server.NewClient(nil, nil, "alice", "alice", "laptop")

	if first := registry.Register(phone); !first {
		t.Error("Expected first connection to report the user went online")
	}
	if first := registry.Register(laptop); first {
		t.Error("Expected second connection not to report the user went online")
	}
	if got := len(registry.Resolve("alice")); got != 2 {
		t.Errorf("Expected 2 connections, got %d", got)
	}

	if last := registry.Unregister(phone); last {
		t.Error("Expected unregistering one of two connections not to report offline")
	}
	if last := registry.Unregister(laptop); !last {
		t.Error("Expected unregistering the last connection to report offline")
	}
}

// TestRegistryUnregisterIdempotent verifies that unregistering the same
// connection twice is a harmless no-op.
func TestRegistryUnregisterIdempotent(t *testing.T) {
	registry := server.NewRegistry()
	client := server.NewClient(nil, nil, "alice", "alice", "test-addr")

	registry.Register(client)
	if last := registry.Unregister(client); !last {
		t.Error("Expected first unregister to report offline")
	}
	if last := registry.Unregister(client); last {
		t.Error("Expected repeated unregister to be a no-op")
	}
	if got := registry.ConnectionCount(); got != 0 {
		t.Errorf("Expected 0 connections, got %d", got)
	}
}

// TestRegistryConcurrentAccess exercises registration, resolution, and
// removal from many goroutines to catch data races.
func TestRegistryConcurrentAccess(t *testing.T) {
	registry := server.NewRegistry()

	const users = 10
	const connsPerUser = 5

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%d", i)
		for j := 0; j < connsPerUser; j++ {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				client := server.NewClient(nil, nil, userID, userID, "test-addr")
				registry.Register(client)
				registry.Resolve(userID)
				registry.Unregister(client)
			}(userID)
		}
	}
	wg.Wait()

	if got := registry.ConnectionCount(); got != 0 {
		t.Errorf("Expected 0 connections after all goroutines finished, got %d", got)
	}
}
