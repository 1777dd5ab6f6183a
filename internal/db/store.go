package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/session"
)

const (
	// DefaultProfile is the preferences row used when none is named.
	DefaultProfile = "default"
	// DefaultHistoryKeep bounds the session history table.
	DefaultHistoryKeep = 500
)

// Store keeps preferences and session history.
type Store struct {
	db       *Database
	profile  string
	keep     int
	defaults config.Preferences
	logger   zerolog.Logger
}

var (
	_ session.PreferencesStore = (*Store)(nil)
	_ session.HistoryRecorder  = (*Store)(nil)
)

// Totals aggregate the session history.
type Totals struct {
	Sessions int     `json:"sessions"`
	Desynced int     `json:"desynced"`
	Minutes  float64 `json:"minutes"`
}

// OpenStore opens the database at path and migrates it. defaults are
// returned by LoadPreferences until preferences are first saved.
func OpenStore(path string, defaults config.Preferences) (*Store, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:       database,
		profile:  DefaultProfile,
		keep:     DefaultHistoryKeep,
		defaults: defaults,
		logger:   log.With().Str("component", "db").Logger(),
	}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// schema is the ordered migration list. Append, never edit.
var schema = []Migration{
	{
		Name: "preferences",
		SQL: `CREATE TABLE preferences (
			profile TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	},
	{
		Name: "sessions",
		SQL: `CREATE TABLE sessions (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			game_name TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			players INTEGER NOT NULL DEFAULT 0,
			latency INTEGER NOT NULL DEFAULT 0,
			desynced INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT ''
		)`,
	},
	{
		Name: "sessions_ended_at_index",
		SQL:  `CREATE INDEX idx_sessions_ended_at ON sessions(ended_at)`,
	},
}

func (s *Store) migrate(ctx context.Context) error {
	version, err := s.db.Migrate(ctx, schema)
	if err != nil {
		return err
	}
	s.logger.Debug().Int("schema_version", version).Msg("database schema current")
	return nil
}

// LoadPreferences implements session.PreferencesStore.
func (s *Store) LoadPreferences(ctx context.Context) (config.Preferences, error) {
	var data string
	err := s.db.QueryRow(ctx, "SELECT data FROM preferences WHERE profile = ?", s.profile).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaults, nil
	}
	if err != nil {
		return config.Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs := s.defaults
	if err := json.Unmarshal([]byte(data), &prefs); err != nil {
		return config.Preferences{}, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return prefs, nil
}

// SavePreferences implements session.PreferencesStore.
func (s *Store) SavePreferences(ctx context.Context, p config.Preferences) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO preferences (profile, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.profile, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	s.logger.Debug().Str("profile", s.profile).Int("minutes_played", p.MinutesPlayed).Msg("preferences saved")
	return nil
}

// RecordSession implements session.HistoryRecorder.
func (s *Store) RecordSession(ctx context.Context, r session.Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT OR REPLACE INTO sessions
			(id, role, game_name, started_at, ended_at, players, latency, desynced, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Role, r.GameName, r.StartedAt.UnixMilli(), r.EndedAt.UnixMilli(),
		r.Players, r.Latency, boolToInt(r.Desynced), r.Reason)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", r.ID, err)
	}
	if s.keep > 0 {
		if _, err := s.PruneSessions(ctx, s.keep); err != nil {
			s.logger.Warn().Err(err).Msg("failed to prune session history")
		}
	}
	return nil
}

// PruneSessions deletes all but the keep most recently ended sessions and
// returns how many rows went.
func (s *Store) PruneSessions(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.Exec(ctx, `
		DELETE FROM sessions WHERE id NOT IN (
			SELECT id FROM sessions ORDER BY ended_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]session.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, role, game_name, started_at, ended_at, players, latency, desynced, reason
		FROM sessions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		var (
			r              session.Record
			started, ended int64
			desynced       int
		)
		if err := rows.Scan(&r.ID, &r.Role, &r.GameName, &started, &ended, &r.Players, &r.Latency, &desynced, &r.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.EndedAt = time.UnixMilli(ended)
		r.Desynced = desynced != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Totals sums up the session history.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	var millis sql.NullInt64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(desynced), 0), SUM(ended_at - started_at) FROM sessions`).
		Scan(&t.Sessions, &t.Desynced, &millis)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to total sessions: %w", err)
	}
	t.Minutes = float64(millis.Int64) / float64(time.Minute/time.Millisecond)
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
