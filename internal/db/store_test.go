package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "data", "aresnet.db"), config.Preferences{PlayerName: "Nova", ResendDelay: 10})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Preferences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	prefs, err := s.LoadPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if prefs.PlayerName != "Nova" || prefs.ResendDelay != 10 {
		t.Fatalf("defaults = %+v", prefs)
	}

	prefs.Kills = 3
	prefs.MinutesPlayed = 42
	prefs.BandwidthReduction = true
	if err := s.SavePreferences(ctx, prefs); err != nil {
		t.Fatal(err)
	}
	prefs.Kills = 5
	if err := s.SavePreferences(ctx, prefs); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != prefs {
		t.Fatalf("loaded %+v, saved %+v", got, prefs)
	}
}

func TestStore_SessionHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	records := []session.Record{
		{ID: "a", Role: "host", GameName: "Arena", StartedAt: base, EndedAt: base.Add(10 * time.Minute), Players: 2, Latency: 4, Reason: "quit"},
		{ID: "b", Role: "joiner", GameName: "Nebula", StartedAt: base.Add(time.Hour), EndedAt: base.Add(time.Hour + 5*time.Minute), Players: 3, Latency: 6, Desynced: true, Reason: "desynchronized"},
	}
	for _, r := range records {
		if err := s.RecordSession(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "b" || !recent[0].Desynced || recent[1].Players != 2 {
		t.Fatalf("recent = %+v", recent)
	}
	if !recent[1].EndedAt.Equal(records[0].EndedAt) {
		t.Fatalf("ended_at = %s, want %s", recent[1].EndedAt, records[0].EndedAt)
	}

	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if totals.Sessions != 2 || totals.Desynced != 1 || totals.Minutes != 15 {
		t.Fatalf("totals = %+v", totals)
	}
}

func TestStore_EmptyTotals(t *testing.T) {
	s := openTestStore(t)
	totals, err := s.Totals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if totals != (Totals{}) {
		t.Fatalf("totals = %+v", totals)
	}
}

func TestStore_PruneSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		end := base.Add(time.Duration(i) * time.Hour)
		if err := s.RecordSession(ctx, session.Record{ID: id, Role: "host", StartedAt: end.Add(-time.Minute), EndedAt: end}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PruneSessions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	recent, _ := s.RecentSessions(ctx, 10)
	if len(recent) != 2 || recent[0].ID != "new" || recent[1].ID != "mid" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestDatabase_MigrateIsIncremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	ctx := context.Background()

	d, err := NewDatabase(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	first := []Migration{{Name: "a", SQL: "CREATE TABLE a (x INTEGER)"}}
	if v, err := d.Migrate(ctx, first); err != nil || v != 1 {
		t.Fatalf("Migrate = %d, %v", v, err)
	}
	// Re-running an applied step would fail on the existing table.
	second := append(first, Migration{Name: "b", SQL: "CREATE TABLE b (y INTEGER)"})
	if v, err := d.Migrate(ctx, second); err != nil || v != 2 {
		t.Fatalf("Migrate = %d, %v", v, err)
	}
	if _, err := d.Migrate(ctx, first); err == nil {
		t.Fatal("older migration list accepted a newer database")
	}

	bad := append(second, Migration{Name: "broken", SQL: "CREATE TABLE"})
	if v, err := d.Migrate(ctx, bad); err == nil || v != 2 {
		t.Fatalf("broken step: version %d, err %v", v, err)
	}
}
