package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/events"
)

// DefaultRecentLimit caps Recent when the caller passes no limit.
const DefaultRecentLimit = 50

// recordedTypes are the events worth keeping across restarts.
var recordedTypes = map[events.EventType]struct{}{
	events.EventNewPrivateMessage:  {},
	events.EventSystemNotification: {},
	events.EventNewLobbyMessage:    {},
	events.EventLobbyInvite:        {},
	events.EventAuthFailure:        {},
	events.EventDisconnected:       {},
}

// Entry is one stored history row.
type Entry struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Source    string          `json:"source"`
	Peer      string          `json:"peer,omitempty"`
	Content   string          `json:"content,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// HistoryStore persists private messages, lobby chat and notifications.
type HistoryStore struct {
	db     *Database
	logger zerolog.Logger
}

// NewHistoryStore opens the database at dbPath and migrates the schema.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{
		db:     database,
		logger: log.With().Str("component", "history").Logger(),
	}
	if err := hs.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return hs, nil
}

func (hs *HistoryStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			peer TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_kind_created ON history(kind, created_at);
		CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at);
	`
	if _, err := hs.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	hs.logger.Debug().Msg("history schema migrated")
	return nil
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// Record stores event if its type is kept in history. It reports whether a
// row was written.
func (hs *HistoryStore) Record(event events.Event) (bool, error) {
	if _, ok := recordedTypes[event.Type]; !ok {
		return false, nil
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s payload: %w", event.Type, err)
	}
	peer, content := summarize(event)

	created := event.Time
	if created.IsZero() {
		created = time.Now()
	}

	_, err = hs.db.Exec(
		"INSERT INTO history (kind, source, peer, content, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		string(event.Type), event.Source, peer, content, string(payload), created.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", event.Type, err)
	}
	return true, nil
}

// OnEvent is an events.HandlerFunc that records bus events.
func (hs *HistoryStore) OnEvent(_ context.Context, event events.Event) error {
	_, err := hs.Record(event)
	return err
}

// Recent returns up to limit entries, newest first. An empty kind matches
// every kind.
func (hs *HistoryStore) Recent(kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	var (
		query strings.Builder
		args  []interface{}
	)
	query.WriteString("SELECT id, kind, source, peer, content, payload, created_at FROM history")
	if kind != "" {
		query.WriteString(" WHERE kind = ?")
		args = append(args, kind)
	}
	query.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := hs.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			payload string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Source, &e.Peer, &e.Content, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than cutoff and returns how many were removed.
func (hs *HistoryStore) Prune(cutoff time.Time) (int64, error) {
	res, err := hs.db.Exec("DELETE FROM history WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		hs.logger.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("pruned history")
	}
	return n, nil
}

// summarize extracts the searchable peer and text of an event.
func summarize(event events.Event) (peer, content string) {
	switch p := event.Payload.(type) {
	case events.NewPrivateMessagePayload:
		return p.Profile.UserTag, p.Content
	case events.NewLobbyMessagePayload:
		if p.Profile != nil {
			peer = p.Profile.UserTag
		}
		return peer, p.Content
	case events.SystemNotificationPayload:
		return "", p.Content
	case events.LobbyInvitePayload:
		return p.Inviter.UserTag, p.InviteID
	case events.AuthFailurePayload:
		return "", string(p.ErrorCode)
	case events.DisconnectedPayload:
		return "", p.Reason
	}
	return "", ""
}

// Kinds lists the event kinds stored in history.
func Kinds() []string {
	out := make([]string, 0, len(recordedTypes))
	for _, t := range events.AllTypes {
		if _, ok := recordedTypes[t]; ok {
			out = append(out, string(t))
		}
	}
	return out
}
