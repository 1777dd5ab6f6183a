package latency

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/protocol"
)

type sentEntry struct {
	words protocol.Words
	used  bool
}

// SentLog remembers transmitted commands until they age past the
// retention horizon.
type SentLog struct {
	entries [QueueLen]sentEntry
	count   int
	logger  zerolog.Logger
}

// NewSentLog creates an empty log.
func NewSentLog() *SentLog {
	return &SentLog{
		logger: log.With().Str("component", "sent_log").Logger(),
	}
}

// Reset empties the log.
func (s *SentLog) Reset() {
	s.entries = [QueueLen]sentEntry{}
	s.count = 0
}

// Len returns the number of stored commands.
func (s *SentLog) Len() int {
	return s.count
}

// Cap returns the log capacity.
func (s *SentLog) Cap() int {
	return QueueLen
}

// Store records w in the first empty slot.
func (s *SentLog) Store(w protocol.Words) error {
	for i := range s.entries {
		if !s.entries[i].used {
			s.entries[i] = sentEntry{words: w, used: true}
			s.count++
			return nil
		}
	}
	s.logger.Error().
		Uint32("time", uint32(w.Time())).
		Int("capacity", QueueLen).
		Msg("sent message log full, command not recorded")
	return ErrSentLogFull
}

// FindAndResend calls resend for every stored command whose time equals t
// and returns how many were found.
func (s *SentLog) FindAndResend(t gametime.Time, resend func(protocol.Words)) int {
	found := 0
	for i := range s.entries {
		e := &s.entries[i]
		if e.used && e.words.Time() == t {
			resend(e.words)
			found++
		}
	}
	if found == 0 {
		s.logger.Debug().Uint32("time", uint32(t)).Msg("resend requested for unknown tick")
	}
	return found
}

// Purge empties every entry strictly before the given time and returns the
// number removed.
func (s *SentLog) Purge(before gametime.Time) int {
	removed := 0
	for i := range s.entries {
		e := &s.entries[i]
		if e.used && gametime.Compare(e.words.Time(), before) == gametime.Before {
			*e = sentEntry{}
			removed++
		}
	}
	s.count -= removed
	return removed
}
