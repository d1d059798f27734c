package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/portal-project/portal/internal/events"
	"github.com/portal-project/portal/internal/network"
	"github.com/portal-project/portal/internal/util"
)

// Session is one finished client connection.
type Session struct {
	ID             int64     `json:"id"`
	ConnID         uint64    `json:"conn_id"`
	Remote         string    `json:"remote"`
	Protocol       int32     `json:"protocol"`
	Hostname       string    `json:"hostname"`
	Username       string    `json:"username,omitempty"`
	UUID           string    `json:"uuid,omitempty"`
	Brand          string    `json:"brand,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	FromTransfer   bool      `json:"from_transfer"`
	TransferTarget string    `json:"transfer_target,omitempty"`
	FinalState     string    `json:"final_state"`
	Reason         string    `json:"reason"`
	ConnectedAt    time.Time `json:"connected_at"`
	ClosedAt       time.Time `json:"closed_at"`
}

// TransferRecord is one Transfer packet sent to a client.
type TransferRecord struct {
	ID            int64     `json:"id"`
	ConnID        uint64    `json:"conn_id"`
	Username      string    `json:"username,omitempty"`
	Target        string    `json:"target"`
	TransferredAt time.Time `json:"transferred_at"`
}

// SessionStore records connection history from proxy events.
type SessionStore struct {
	db  *Database
	log zerolog.Logger
}

// NewSessionStore opens the database at dbPath and migrates its schema.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	database, err := OpenDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	s := &SessionStore{db: database, log: util.ComponentLogger("store")}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}
	return s, nil
}

func (s *SessionStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conn_id INTEGER NOT NULL,
			remote TEXT NOT NULL,
			protocol INTEGER NOT NULL DEFAULT 0,
			hostname TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			uuid TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL DEFAULT '',
			from_transfer INTEGER NOT NULL DEFAULT 0,
			transfer_target TEXT NOT NULL DEFAULT '',
			final_state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			connected_at INTEGER NOT NULL,
			closed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transfers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conn_id INTEGER NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			target TEXT NOT NULL,
			transferred_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_username ON sessions(username);
		CREATE INDEX IF NOT EXISTS idx_sessions_closed_at ON sessions(closed_at);
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	s.log.Debug().Msg("database schema migrated")
	return nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Subscribe records disconnected and transfer events from bus.
func (s *SessionStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventDisconnected, "store.session", s.onDisconnected)
	bus.Subscribe(events.EventTransfer, "store.transfer", s.onTransfer)
}

func (s *SessionStore) onDisconnected(ctx context.Context, event events.Event) error {
	ev, ok := event.Payload.(network.DisconnectedEvent)
	if !ok {
		return nil
	}
	if err := s.RecordSession(ctx, ev.Info, ev.Reason, ev.ClosedAt); err != nil {
		s.log.Warn().Err(err).Uint64("conn_id", ev.Info.ID).Msg("failed to record session")
	}
	return nil
}

func (s *SessionStore) onTransfer(ctx context.Context, event events.Event) error {
	ev, ok := event.Payload.(network.TransferEvent)
	if !ok {
		return nil
	}
	target := fmt.Sprintf("%s:%d", ev.Host, ev.Port)
	if err := s.RecordTransfer(ctx, ev.Info, target, time.Now()); err != nil {
		s.log.Warn().Err(err).Uint64("conn_id", ev.Info.ID).Msg("failed to record transfer")
	}
	return nil
}

// RecordSession stores a closed connection.
func (s *SessionStore) RecordSession(ctx context.Context, info network.Info, reason string, closedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (conn_id, remote, protocol, hostname, username, uuid, brand, origin,
			from_transfer, transfer_target, final_state, reason, connected_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(info.ID), info.Remote, info.Protocol, info.Hostname, info.Username, info.UUID,
		info.Brand, info.Origin, info.FromTransfer, info.TransferTarget, info.State, reason,
		info.ConnectedAt.UnixMilli(), closedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// RecordTransfer stores a transfer sent to a client.
func (s *SessionStore) RecordTransfer(ctx context.Context, info network.Info, target string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO transfers (conn_id, username, target, transferred_at) VALUES (?, ?, ?, ?)",
		int64(info.ID), info.Username, target, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

// Query filters session listings. Zero values match everything.
type Query struct {
	Username string
	Limit    int
}

const defaultQueryLimit = 100

// Sessions returns the most recently closed sessions first.
func (s *SessionStore) Sessions(ctx context.Context, q Query) ([]Session, error) {
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	query := `
		SELECT id, conn_id, remote, protocol, hostname, username, uuid, brand, origin,
			from_transfer, transfer_target, final_state, reason, connected_at, closed_at
		FROM sessions`
	args := []any{}
	if q.Username != "" {
		query += " WHERE username = ?"
		args = append(args, q.Username)
	}
	query += " ORDER BY closed_at DESC, id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess              Session
			connID            int64
			connected, closed int64
		)
		if err := rows.Scan(&sess.ID, &connID, &sess.Remote, &sess.Protocol, &sess.Hostname,
			&sess.Username, &sess.UUID, &sess.Brand, &sess.Origin, &sess.FromTransfer,
			&sess.TransferTarget, &sess.FinalState, &sess.Reason, &connected, &closed); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.ConnID = uint64(connID)
		sess.ConnectedAt = time.UnixMilli(connected).UTC()
		sess.ClosedAt = time.UnixMilli(closed).UTC()
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Transfers returns the most recent transfers first.
func (s *SessionStore) Transfers(ctx context.Context, limit int) ([]TransferRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := s.db.Query(ctx,
		"SELECT id, conn_id, username, target, transferred_at FROM transfers ORDER BY transferred_at DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []TransferRecord
	for rows.Next() {
		var (
			rec    TransferRecord
			connID int64
			at     int64
		)
		if err := rows.Scan(&rec.ID, &connID, &rec.Username, &rec.Target, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		rec.ConnID = uint64(connID)
		rec.TransferredAt = time.UnixMilli(at).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats summarises the stored history.
type Stats struct {
	Sessions  int `json:"sessions"`
	Players   int `json:"unique_players"`
	Transfers int `json:"transfers"`
}

// Stats counts stored sessions, distinct usernames and transfers.
func (s *SessionStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(DISTINCT username) FROM sessions WHERE username != ''),
			(SELECT COUNT(*) FROM transfers)`)
	if err := row.Scan(&st.Sessions, &st.Players, &st.Transfers); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

// Prune deletes sessions and transfers that ended before cutoff and returns
// how many rows were removed.
func (s *SessionStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE closed_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed += n

		res, err = tx.ExecContext(ctx, `DELETE FROM transfers WHERE transferred_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		removed += n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return removed, nil
}
