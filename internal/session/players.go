package session

import (
	"fmt"
	"time"

	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/transport"
)

// NoAdmiral marks a player without an admiral assignment.
const NoAdmiral = -1

// Player is one row of the identity table.
type Player struct {
	ID       transport.PlayerID `json:"id"`
	Name     string             `json:"name"`
	Race     uint8              `json:"race"`
	Color    uint8              `json:"color"`
	Admiral  int                `json:"admiral"`
	RTT      time.Duration      `json:"rtt"`
	Local    bool               `json:"local"`
	JoinedAt time.Time          `json:"joined_at"`

	// ClockOffset is how far the player's clock runs behind ours: half the
	// last measured round trip.
	ClockOffset time.Duration `json:"clock_offset"`
}

type slot struct {
	used   bool
	player Player
}

// Table is the fixed-size player identity table.
type Table struct {
	slots [protocol.MaxNetPlayerNum]slot
}

// Reset empties every slot.
func (t *Table) Reset() {
	t.slots = [protocol.MaxNetPlayerNum]slot{}
}

// Add stores p in the first free slot and returns the slot index. A
// player already in the table is updated in place and keeps its admiral.
func (t *Table) Add(p Player) (int, error) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.used && s.player.ID == p.ID {
			p.Admiral = s.player.Admiral
			p.RTT = s.player.RTT
			p.ClockOffset = s.player.ClockOffset
			p.JoinedAt = s.player.JoinedAt
			s.player = p
			return i, nil
		}
	}
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used {
			p.Admiral = NoAdmiral
			if p.JoinedAt.IsZero() {
				p.JoinedAt = time.Now()
			}
			*s = slot{used: true, player: p}
			return i, nil
		}
	}
	return -1, ErrSessionFull
}

func (t *Table) find(id transport.PlayerID) *slot {
	for i := range t.slots {
		if t.slots[i].used && t.slots[i].player.ID == id {
			return &t.slots[i]
		}
	}
	return nil
}

// Remove frees the slot of id.
func (t *Table) Remove(id transport.PlayerID) (Player, bool) {
	s := t.find(id)
	if s == nil {
		return Player{}, false
	}
	p := s.player
	*s = slot{}
	return p, true
}

// Get returns the player with id.
func (t *Table) Get(id transport.PlayerID) (Player, bool) {
	if s := t.find(id); s != nil {
		return s.player, true
	}
	return Player{}, false
}

// Local returns the local player.
func (t *Table) Local() (Player, bool) {
	for i := range t.slots {
		if t.slots[i].used && t.slots[i].player.Local {
			return t.slots[i].player, true
		}
	}
	return Player{}, false
}

// All returns the players in slot order.
func (t *Table) All() []Player {
	out := make([]Player, 0, len(t.slots))
	for i := range t.slots {
		if t.slots[i].used {
			out = append(out, t.slots[i].player)
		}
	}
	return out
}

// Count returns the number of used slots.
func (t *Table) Count() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].used {
			n++
		}
	}
	return n
}

// SetAdmiral assigns an admiral number. Another player holding the same
// admiral loses it.
func (t *Table) SetAdmiral(id transport.PlayerID, admiral int) error {
	if admiral != NoAdmiral && (admiral < 0 || admiral >= protocol.MaxAdmirals) {
		return fmt.Errorf("admiral %d out of range", admiral)
	}
	s := t.find(id)
	if s == nil {
		return fmt.Errorf("set admiral for player %d: %w", id, ErrUnknownPlayer)
	}
	if admiral != NoAdmiral {
		for i := range t.slots {
			o := &t.slots[i]
			if o.used && o.player.ID != id && o.player.Admiral == admiral {
				o.player.Admiral = NoAdmiral
			}
		}
	}
	s.player.Admiral = admiral
	return nil
}

// ForAdmiral returns the player commanding admiral.
func (t *Table) ForAdmiral(admiral int) (Player, bool) {
	for i := range t.slots {
		if t.slots[i].used && t.slots[i].player.Admiral == admiral {
			return t.slots[i].player, true
		}
	}
	return Player{}, false
}

// SetRTT records the measured round trip to id and derives its clock offset.
func (t *Table) SetRTT(id transport.PlayerID, rtt time.Duration) {
	if s := t.find(id); s != nil {
		s.player.RTT = rtt
		s.player.ClockOffset = rtt / 2
	}
}

// AddPlayer adds a player to the session table.
func (s *Session) AddPlayer(p Player) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players.Add(p)
}

// RemovePlayer drops a player from the session table.
func (s *Session) RemovePlayer(id transport.PlayerID) (Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players.Remove(id)
}

// Player looks a player up by transport id.
func (s *Session) Player(id transport.PlayerID) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players.Get(id)
}

// LocalPlayer returns this node's player.
func (s *Session) LocalPlayer() (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players.Local()
}

// Players returns a copy of the table.
func (s *Session) Players() []Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players.All()
}

// PlayerCount returns the number of players in the session.
func (s *Session) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players.Count()
}

// SetAdmiral assigns an admiral number to a player.
func (s *Session) SetAdmiral(id transport.PlayerID, admiral int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players.SetAdmiral(id, admiral)
}

// PlayerForAdmiral returns the player commanding admiral.
func (s *Session) PlayerForAdmiral(admiral int) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players.ForAdmiral(admiral)
}

// SetRTT records a measured round trip.
func (s *Session) SetRTT(id transport.PlayerID, rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players.SetRTT(id, rtt)
}
