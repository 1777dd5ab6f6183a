// Package sim is a small deterministic space-combat world. It implements
// every game-side hook of the lock-step engine so that a session can be
// played end to end without the real game. Identical inputs produce an
// identical sync value on every peer; any divergence shows up in it.
package sim

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/lockstep"
	"github.com/ares-project/aresnet/internal/protocol"
)

const (
	directions = 16
	maxShips   = 254
	maxChat    = 32
	noShip     = -1
	hitChance  = 75
)

// Menu pages and lines understood by the world.
const (
	PageBuild  uint8 = 0
	PageOrders uint8 = 1

	OrderAllStop       uint8 = 0
	OrderTargetNearest uint8 = 1
)

// Cheat codes understood by the world.
const (
	CheatCredits      uint8 = 0
	CheatRepair       uint8 = 1
	CheatSelfDestruct uint8 = 2
)

type class struct {
	thrust   int32
	maxSpeed int32
	hull     int
	damage   int
	cost     int
	reach    int32
	energy   int
}

var classes = map[string]class{
	"fighter": {thrust: 32, maxSpeed: 700, hull: 30, damage: 4, cost: 100, reach: 1500, energy: 5},
	"gunship": {thrust: 20, maxSpeed: 500, hull: 60, damage: 8, cost: 200, reach: 2200, energy: 8},
	"cruiser": {thrust: 16, maxSpeed: 400, hull: 100, damage: 10, cost: 300, reach: 3000, energy: 10},
}

// classOrder maps build menu lines to classes.
var classOrder = []string{"fighter", "gunship", "cruiser"}

// dirs holds unit vectors for the 16 headings, scaled by 256.
var dirs = [directions][2]int32{
	{256, 0}, {237, 98}, {181, 181}, {98, 237},
	{0, 256}, {-98, 237}, {-181, 181}, {-237, 98},
	{-256, 0}, {-237, -98}, {-181, -181}, {-98, -237},
	{0, -256}, {98, -237}, {181, -181}, {237, -98},
}

// Ship is one vessel in the world.
type Ship struct {
	ID      int               `json:"id"`
	Admiral uint8             `json:"admiral"`
	Class   string            `json:"class"`
	X       int32             `json:"x"`
	Y       int32             `json:"y"`
	VX      int32             `json:"vx"`
	VY      int32             `json:"vy"`
	Heading int32             `json:"heading"`
	Hull    int               `json:"hull"`
	Energy  int               `json:"energy"`
	Keys    protocol.KeyState `json:"keys"`
	Alive   bool              `json:"alive"`
}

// ChatLine is one completed in-game chat message.
type ChatLine struct {
	Admiral uint8  `json:"admiral"`
	Text    string `json:"text"`
}

// World is the deterministic stand-in game.
type World struct {
	scenario *Scenario
	ships    []Ship
	flagship [protocol.MaxAdmirals]int
	target   [protocol.MaxAdmirals]int
	credits  [protocol.MaxAdmirals]int
	kills    [protocol.MaxAdmirals]int
	losses   [protocol.MaxAdmirals]int

	seed  uint32
	ticks uint64
	last  gametime.Time

	chatOpen [protocol.MaxAdmirals][]byte
	chat     []ChatLine

	logger zerolog.Logger
}

var (
	_ lockstep.FlagshipAccessor = (*World)(nil)
	_ lockstep.Selector         = (*World)(nil)
	_ lockstep.MenuDispatcher   = (*World)(nil)
	_ lockstep.CheatDispatcher  = (*World)(nil)
	_ lockstep.ChatSink         = (*World)(nil)
	_ lockstep.SyncSource       = (*World)(nil)
	_ lockstep.World            = (*World)(nil)
)

// New creates a world laid out from sc. A nil scenario uses DefaultScenario.
func New(sc *Scenario) *World {
	if sc == nil {
		sc = defaultScenario()
	}
	w := &World{
		scenario: sc,
		logger:   log.With().Str("component", "sim").Logger(),
	}
	w.Reset(0)
	return w
}

// Reset rebuilds the starting position with a new seed.
func (w *World) Reset(seed uint32) {
	w.ships = w.ships[:0]
	w.seed = seed
	w.ticks = 0
	w.chat = nil
	for a := 0; a < protocol.MaxAdmirals; a++ {
		w.flagship[a] = noShip
		w.target[a] = noShip
		w.credits[a] = w.scenario.Credits
		w.kills[a] = 0
		w.losses[a] = 0
		w.chatOpen[a] = nil
	}
	for _, spec := range w.scenario.Ships {
		id := w.spawn(spec)
		if w.flagship[spec.Admiral] == noShip {
			w.flagship[spec.Admiral] = id
		}
	}
}

// Collaborators returns the world wired into every engine hook.
func (w *World) Collaborators() lockstep.Collaborators {
	return lockstep.Collaborators{
		Flagships: w,
		Selector:  w,
		Menu:      w,
		Cheats:    w,
		Chat:      w,
		Sync:      w,
		World:     w,
	}
}

func (w *World) spawn(spec ShipSpec) int {
	if len(w.ships) >= maxShips {
		return noShip
	}
	c := classes[spec.Class]
	id := len(w.ships)
	w.ships = append(w.ships, Ship{
		ID:      id,
		Admiral: spec.Admiral,
		Class:   spec.Class,
		X:       spec.X,
		Y:       spec.Y,
		Heading: spec.Heading & (directions - 1),
		Hull:    c.hull,
		Energy:  100,
		Alive:   true,
	})
	return id
}

func (w *World) ship(id int) *Ship {
	if id < 0 || id >= len(w.ships) || !w.ships[id].Alive {
		return nil
	}
	return &w.ships[id]
}

// next advances the world's random generator.
func (w *World) next() uint32 {
	w.seed = w.seed*1664525 + 1013904223
	return w.seed
}

// Flagship implements lockstep.FlagshipAccessor.
func (w *World) Flagship(admiral uint8) (lockstep.ShipRef, bool) {
	if int(admiral) >= protocol.MaxAdmirals || w.ship(w.flagship[admiral]) == nil {
		return 0, false
	}
	return lockstep.ShipRef(w.flagship[admiral]), true
}

// ApplyKeyState implements lockstep.FlagshipAccessor.
func (w *World) ApplyKeyState(ship lockstep.ShipRef, keys protocol.KeyState) {
	if s := w.ship(int(ship)); s != nil {
		s.Keys = keys
	}
}

// Select implements lockstep.Selector. A target selection aims the
// admiral's guns; selecting an own ship transfers control to it.
func (w *World) Select(admiral uint8, ship uint8, target bool) {
	s := w.ship(int(ship))
	if s == nil || int(admiral) >= protocol.MaxAdmirals {
		return
	}
	if target {
		w.target[admiral] = s.ID
		return
	}
	if s.Admiral != admiral {
		return
	}
	if old := w.ship(w.flagship[admiral]); old != nil {
		old.Keys = 0
	}
	w.flagship[admiral] = s.ID
}

// Execute implements lockstep.MenuDispatcher.
func (w *World) Execute(page, line uint8, admiral uint8) {
	if int(admiral) >= protocol.MaxAdmirals {
		return
	}
	switch page {
	case PageBuild:
		if int(line) >= len(classOrder) {
			return
		}
		name := classOrder[line]
		c := classes[name]
		if w.credits[admiral] < c.cost {
			return
		}
		spec := ShipSpec{Admiral: admiral, Class: name}
		if fs := w.ship(w.flagship[admiral]); fs != nil {
			spec.X, spec.Y, spec.Heading = fs.X+200, fs.Y, fs.Heading
		}
		if id := w.spawn(spec); id != noShip {
			w.credits[admiral] -= c.cost
			if w.flagship[admiral] == noShip {
				w.flagship[admiral] = id
			}
		}
	case PageOrders:
		switch line {
		case OrderAllStop:
			for i := range w.ships {
				if w.ships[i].Alive && w.ships[i].Admiral == admiral {
					w.ships[i].VX, w.ships[i].VY = 0, 0
				}
			}
		case OrderTargetNearest:
			w.target[admiral] = w.nearestEnemy(admiral)
		}
	}
}

// ExecuteCheat implements lockstep.CheatDispatcher.
func (w *World) ExecuteCheat(code uint8, admiral uint8) {
	if int(admiral) >= protocol.MaxAdmirals {
		return
	}
	fs := w.ship(w.flagship[admiral])
	switch code {
	case CheatCredits:
		w.credits[admiral] += 1000
	case CheatRepair:
		if fs != nil {
			fs.Hull = classes[fs.Class].hull
		}
	case CheatSelfDestruct:
		if fs != nil {
			w.destroy(fs)
		}
	}
}

// StartIncomingTextMessage implements lockstep.ChatSink.
func (w *World) StartIncomingTextMessage(admiral uint8) {
	w.chatOpen[admiral] = w.chatOpen[admiral][:0]
}

// AddIncomingTextMessageCharacter implements lockstep.ChatSink.
func (w *World) AddIncomingTextMessageCharacter(admiral uint8, c byte) {
	w.chatOpen[admiral] = append(w.chatOpen[admiral], c)
}

// StopIncomingTextMessage implements lockstep.ChatSink.
func (w *World) StopIncomingTextMessage(admiral uint8) {
	w.chat = append(w.chat, ChatLine{Admiral: admiral, Text: string(w.chatOpen[admiral])})
	if len(w.chat) > maxChat {
		w.chat = w.chat[len(w.chat)-maxChat:]
	}
	w.chatOpen[admiral] = w.chatOpen[admiral][:0]
}

// SyncValue implements lockstep.SyncSource.
func (w *World) SyncValue() uint32 {
	return w.seed
}

// Advance implements lockstep.World: it moves every ship, resolves fire
// and folds the resulting state into the sync value.
func (w *World) Advance(t gametime.Time) {
	for i := range w.ships {
		s := &w.ships[i]
		if !s.Alive {
			continue
		}
		c := classes[s.Class]

		if s.Keys&protocol.KeyTurnLeft != 0 {
			s.Heading = (s.Heading + 1) & (directions - 1)
		}
		if s.Keys&protocol.KeyTurnRight != 0 {
			s.Heading = (s.Heading + directions - 1) & (directions - 1)
		}
		d := dirs[s.Heading]
		if s.Keys&protocol.KeyThrust != 0 {
			s.VX += d[0] * c.thrust / 256
			s.VY += d[1] * c.thrust / 256
		}
		if s.Keys&protocol.KeyReverse != 0 {
			s.VX -= d[0] * c.thrust / 256
			s.VY -= d[1] * c.thrust / 256
		}
		s.VX = clamp(s.VX, c.maxSpeed)
		s.VY = clamp(s.VY, c.maxSpeed)
		s.X += s.VX / 16
		s.Y += s.VY / 16

		if s.Keys&protocol.KeyFirePulse != 0 && s.Energy >= c.energy {
			s.Energy -= c.energy
			w.fire(s, c)
		}
		if s.Energy < 100 {
			s.Energy++
		}
	}

	w.ticks++
	w.last = t
	w.seed ^= w.stateHash()
	w.next()
}

func (w *World) fire(s *Ship, c class) {
	tgt := w.ship(w.target[s.Admiral])
	if tgt == nil || tgt.Admiral == s.Admiral || distance(s, tgt) > c.reach {
		return
	}
	if w.next()%100 >= hitChance {
		return
	}
	tgt.Hull -= c.damage
	if tgt.Hull <= 0 {
		w.kills[s.Admiral]++
		w.destroy(tgt)
	}
}

func (w *World) destroy(s *Ship) {
	s.Alive = false
	s.Keys = 0
	w.losses[s.Admiral]++
	w.logger.Debug().Int("ship", s.ID).Uint8("admiral", s.Admiral).Msg("ship destroyed")

	if w.flagship[s.Admiral] != s.ID {
		return
	}
	w.flagship[s.Admiral] = noShip
	for i := range w.ships {
		if w.ships[i].Alive && w.ships[i].Admiral == s.Admiral {
			w.flagship[s.Admiral] = i
			return
		}
	}
}

func (w *World) nearestEnemy(admiral uint8) int {
	fs := w.ship(w.flagship[admiral])
	if fs == nil {
		return noShip
	}
	best, bestDist := noShip, int32(-1)
	for i := range w.ships {
		o := &w.ships[i]
		if !o.Alive || o.Admiral == admiral {
			continue
		}
		if d := distance(fs, o); bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func (w *World) stateHash() uint32 {
	h := fnv.New32a()
	var buf [4 * 6]byte
	for i := range w.ships {
		s := &w.ships[i]
		if !s.Alive {
			continue
		}
		binary.LittleEndian.PutUint32(buf[0:], uint32(s.X))
		binary.LittleEndian.PutUint32(buf[4:], uint32(s.Y))
		binary.LittleEndian.PutUint32(buf[8:], uint32(s.VX))
		binary.LittleEndian.PutUint32(buf[12:], uint32(s.VY))
		binary.LittleEndian.PutUint32(buf[16:], uint32(s.Heading))
		binary.LittleEndian.PutUint32(buf[20:], uint32(s.Hull))
		h.Write(buf[:])
	}
	for a := range w.credits {
		binary.LittleEndian.PutUint32(buf[0:], uint32(w.credits[a]))
		h.Write(buf[:4])
	}
	return h.Sum32()
}

func clamp(v, limit int32) int32 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func distance(a, b *Ship) int32 {
	dx, dy := a.X-b.X, a.Y-b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}
