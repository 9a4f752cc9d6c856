package audit

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tradevault/core/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEvent(vault, eventType string, ts int64) *types.Event {
	return &types.Event{
		Type:      eventType,
		Timestamp: ts,
		Attributes: map[string]string{
			"vault":   vault,
			"orderId": "7",
		},
	}
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	store := openTestStore(t)

	var last uint64
	for i := 0; i < 5; i++ {
		stored, err := store.Append(sampleEvent("tvv1aaa", "vault.swap_executed", int64(1000+i)))
		require.NoError(t, err)
		require.Greater(t, stored.Sequence, last)
		last = stored.Sequence
	}
}

func TestEventsFilters(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := store.Append(sampleEvent("tvv1aaa", "vault.swap_executed", int64(1000+i)))
		require.NoError(t, err)
	}
	_, err := store.Append(sampleEvent("tvv1bbb", "vault.deposited", 2000))
	require.NoError(t, err)

	all, err := store.Events(Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)

	byVault, err := store.Events(Query{Vault: "tvv1bbb"})
	require.NoError(t, err)
	require.Len(t, byVault, 1)
	require.Equal(t, "vault.deposited", byVault[0].Type)

	byType, err := store.Events(Query{Type: "vault.swap_executed"})
	require.NoError(t, err)
	require.Len(t, byType, 3)

	cursor, err := store.Events(Query{AfterSequence: byType[1].Sequence})
	require.NoError(t, err)
	require.Len(t, cursor, 2)
	for _, evt := range cursor {
		require.Greater(t, evt.Sequence, byType[1].Sequence)
	}
}

func TestEventsPreserveAttributes(t *testing.T) {
	store := openTestStore(t)

	stored, err := store.Append(sampleEvent("tvv1aaa", "vault.swap_executed", 1234))
	require.NoError(t, err)

	events, err := store.Events(Query{AfterSequence: stored.Sequence - 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(1234), events[0].Timestamp)
	require.Equal(t, "7", events[0].Attributes["orderId"])
	require.Equal(t, "tvv1aaa", events[0].Attributes["vault"])
}

func TestEventsLimit(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 10; i++ {
		_, err := store.Append(sampleEvent("tvv1aaa", "vault.swap_executed", int64(i)))
		require.NoError(t, err)
	}
	limited, err := store.Events(Query{Limit: 4})
	require.NoError(t, err)
	require.Len(t, limited, 4)
	// Ordered ascending from the start.
	require.Equal(t, uint64(1), limited[0].Sequence)
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestAppendManyDistinctIDs(t *testing.T) {
	store := openTestStore(t)
	seen := make(map[uint64]bool)
	for i := 0; i < 20; i++ {
		stored, err := store.Append(sampleEvent("tvv1aaa", fmt.Sprintf("vault.type%d", i%3), int64(i)))
		require.NoError(t, err)
		require.False(t, seen[stored.Sequence])
		seen[stored.Sequence] = true
	}
}
