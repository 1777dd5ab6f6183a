package lockstep

import (
	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/protocol"
)

// ShipRef identifies a ship inside the game world.
type ShipRef int

// FlagshipAccessor finds an admiral's flagship and applies control bits to it.
type FlagshipAccessor interface {
	Flagship(admiral uint8) (ShipRef, bool)
	ApplyKeyState(ship ShipRef, keys protocol.KeyState)
}

// Selector applies a ship selection made by an admiral.
type Selector interface {
	Select(admiral uint8, ship uint8, target bool)
}

// MenuDispatcher runs a minicomputer menu line on behalf of an admiral.
type MenuDispatcher interface {
	Execute(page, line uint8, admiral uint8)
}

// CheatDispatcher runs a cheat code on behalf of an admiral.
type CheatDispatcher interface {
	ExecuteCheat(code uint8, admiral uint8)
}

// ChatSink receives in-game chat one character at a time.
type ChatSink interface {
	StartIncomingTextMessage(admiral uint8)
	AddIncomingTextMessageCharacter(admiral uint8, c byte)
	StopIncomingTextMessage(admiral uint8)
}

// SyncSource exposes the value every peer must agree on. Its top bits travel
// with each command as the seed sample.
type SyncSource interface {
	SyncValue() uint32
}

// World advances the simulation once all inputs for a tick are applied.
type World interface {
	Advance(t gametime.Time)
}

// Collaborators are the game-side hooks the engine drives. Any may be nil.
type Collaborators struct {
	Flagships FlagshipAccessor
	Selector  Selector
	Menu      MenuDispatcher
	Cheats    CheatDispatcher
	Chat      ChatSink
	Sync      SyncSource
	World     World
}

// BarrierPolicy decides whether a stalled tick may proceed with substitute
// input for the admirals that have not reported.
type BarrierPolicy interface {
	AcceptSubstitute(t gametime.Time, missing []uint8, stalledFrames int) bool
}

// StallTimeout accepts substitutes once a tick has stalled for Frames frames.
// Zero never accepts.
type StallTimeout struct {
	Frames int
}

// AcceptSubstitute implements BarrierPolicy.
func (p StallTimeout) AcceptSubstitute(t gametime.Time, missing []uint8, stalledFrames int) bool {
	return p.Frames > 0 && stalledFrames >= p.Frames
}
