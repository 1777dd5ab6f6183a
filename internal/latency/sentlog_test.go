package latency

import (
	"errors"
	"testing"

	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/protocol"
)

func TestSentLog_PurgeThreeRegions(t *testing.T) {
	const (
		minC = gametime.MinCriticalNetTime
		maxC = gametime.MaxCriticalNetTime
		top  = gametime.MaxNetTime - 1
	)

	tests := []struct {
		name    string
		before  gametime.Time
		entry   gametime.Time
		removed bool
	}{
		{"low region, older", 100, 50, true},
		{"low region, equal kept", 100, 100, false},
		{"low region, newer kept", 100, 150, false},
		{"low region, pre-wrap entry is old", 100, top, true},
		{"low region, just past max critical is old", 100, maxC + 1, true},
		{"low edge, entry at max critical kept", minC - 1, maxC, false},
		{"high region, older", top - 10, top - 20, true},
		{"high region, newer kept", top - 10, top - 5, false},
		{"high region, post-wrap entry kept", top - 10, 3, false},
		{"high region, entry just below min critical kept", maxC + 1, minC - 1, false},
		{"high region, entry at min critical is old", maxC + 1, minC, true},
		{"middle band, older", 100000, 99999, true},
		{"middle band, newer kept", 100000, 100001, false},
		{"at min critical, entry below", minC, minC - 1, true},
		{"at max critical, entry above kept", maxC, maxC + 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSentLog()
			if err := s.Store(words(tt.entry, 0, 0)); err != nil {
				t.Fatalf("Store: %v", err)
			}
			n := s.Purge(tt.before)
			if got := n == 1; got != tt.removed {
				t.Fatalf("Purge(%d) with entry %d removed=%v, want %v", tt.before, tt.entry, got, tt.removed)
			}
			if tt.removed != (s.Len() == 0) {
				t.Fatalf("len = %d after purge", s.Len())
			}
		})
	}
}

func TestSentLog_NeverPurgesAfter(t *testing.T) {
	for _, before := range []gametime.Time{0, 1, gametime.MinCriticalNetTime, gametime.MaxCriticalNetTime, gametime.MaxNetTime - 1} {
		s := NewSentLog()
		for i := 1; i <= 50; i++ {
			s.Store(words(gametime.Add(before, i), 0, 0))
		}
		if n := s.Purge(before); n != 0 {
			t.Fatalf("before=%d purged %d entries that are after it", before, n)
		}
	}
}

func TestSentLog_FullAndFindAndResend(t *testing.T) {
	s := NewSentLog()
	for i := 0; i < QueueLen; i++ {
		if err := s.Store(words(gametime.Time(i%8), uint8(i%4), 0)); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}
	if err := s.Store(words(9, 0, 0)); !errors.Is(err, ErrSentLogFull) {
		t.Fatalf("err = %v, want ErrSentLogFull", err)
	}

	var resent []protocol.Words
	n := s.FindAndResend(3, func(w protocol.Words) { resent = append(resent, w) })
	if n != QueueLen/8 || len(resent) != n {
		t.Fatalf("resent %d (%d callbacks), want %d", n, len(resent), QueueLen/8)
	}
	for _, w := range resent {
		if w.Time() != 3 {
			t.Fatalf("resent time %d", w.Time())
		}
	}

	if s.FindAndResend(100, func(protocol.Words) { t.Fatal("unexpected resend") }) != 0 {
		t.Fatal("found entries for unknown tick")
	}
}

func TestSentLog_PurgeFreesSlots(t *testing.T) {
	s := NewSentLog()
	for i := 0; i < QueueLen; i++ {
		s.Store(words(gametime.Time(i), 0, 0))
	}
	if n := s.Purge(100); n != 100 {
		t.Fatalf("purged %d, want 100", n)
	}
	if err := s.Store(words(300, 0, 0)); err != nil {
		t.Fatalf("Store after purge: %v", err)
	}
}
