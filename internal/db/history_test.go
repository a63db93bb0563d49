package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/protocol"
)

const source = "127.0.0.1:9000"

func openStore(t *testing.T) *HistoryStore {
	t.Helper()
	hs, err := NewHistoryStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hs.Close() })
	return hs
}

func at(minutes int) time.Time {
	return time.Date(2024, 6, 1, 12, minutes, 0, 0, time.UTC)
}

func TestRecordSkipsTransientEvents(t *testing.T) {
	hs := openStore(t)

	ok, err := hs.Record(events.Event{Type: events.EventFriendListUpdated, Source: source,
		Payload: events.FriendListUpdatedPayload{}})
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := hs.Recent("", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecentNewestFirstAndByKind(t *testing.T) {
	hs := openStore(t)
	alice := protocol.UserProfile{UserTag: "alice#1", DisplayName: "Alice"}

	recorded := []events.Event{
		{Type: events.EventNewPrivateMessage, Source: source, Time: at(1),
			Payload: events.NewPrivateMessagePayload{Profile: alice, Content: "hello"}},
		{Type: events.EventSystemNotification, Source: source, Time: at(2),
			Payload: events.SystemNotificationPayload{Content: "restart soon"}},
		{Type: events.EventNewLobbyMessage, Source: source, Time: at(3),
			Payload: events.NewLobbyMessagePayload{LobbyID: "l1", Content: "lobby created"}},
		{Type: events.EventNewPrivateMessage, Source: source, Time: at(4),
			Payload: events.NewPrivateMessagePayload{Profile: alice, Content: "you there?"}},
	}
	for _, ev := range recorded {
		ok, err := hs.Record(ev)
		require.NoError(t, err)
		require.True(t, ok)
	}

	all, err := hs.Recent("", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "you there?", all[0].Content)
	assert.Equal(t, at(4).UnixMilli(), all[0].CreatedAt.UnixMilli())
	assert.Equal(t, "lobby created", all[1].Content)
	assert.Empty(t, all[1].Peer)

	private, err := hs.Recent(string(events.EventNewPrivateMessage), 1)
	require.NoError(t, err)
	require.Len(t, private, 1)
	assert.Equal(t, "alice#1", private[0].Peer)

	var payload events.NewPrivateMessagePayload
	require.NoError(t, json.Unmarshal(private[0].Payload, &payload))
	assert.Equal(t, "Alice", payload.Profile.DisplayName)
}

func TestOnEventAndPrune(t *testing.T) {
	hs := openStore(t)

	for i, reason := range []string{"old", "new"} {
		ev := events.Event{Type: events.EventDisconnected, Source: source, Time: at(i * 30),
			Payload: events.DisconnectedPayload{Reason: reason}}
		require.NoError(t, hs.OnEvent(context.Background(), ev))
	}

	n, err := hs.Prune(at(10))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := hs.Recent(string(events.EventDisconnected), 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Content)
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	assert.Contains(t, kinds, string(events.EventNewPrivateMessage))
	assert.NotContains(t, kinds, string(events.EventFriendListUpdated))
	assert.Len(t, kinds, len(recordedTypes))
}
