package protocol

import (
	"fmt"

	"github.com/ares-project/aresnet/internal/gametime"
)

// Bit layout of the first command word.
const (
	timeMask uint32 = gametime.GameTimeMask

	menuPageShift        = 18
	menuPageMask  uint32 = 0x1f << menuPageShift
	menuLineShift        = 23
	menuLineMask  uint32 = 0x0f << menuLineShift

	seedSampleShift        = 27
	seedSampleMask  uint32 = 0x1f << seedSampleShift
)

// Bit layout of the second command word.
const (
	keyStateMask uint32 = 0x001fffff

	shipShift        = 21
	shipMask  uint32 = 0xff << shipShift

	targetShift        = 29
	targetMask  uint32 = 1 << targetShift

	admiralShift        = 30
	admiralMask  uint32 = 0x3 << admiralShift
)

// Sentinels for the overlapping menu/cheat/chat bit range.
const (
	NoMenuPage       uint8 = 0x1f // Page field all ones: no menu selection
	ChatLineSentinel uint8 = 0x0e // With no page: ship field holds a chat byte
	NoAuxLine        uint8 = 0x0f // With no page: nothing
	MaxCheatCode     uint8 = ChatLineSentinel - 1
	MaxMenuLine      uint8 = 0x0f
	NoShip           uint8 = 0xff
)

// KeyState is the 21-bit per-player control bitmask.
type KeyState uint32

// Key bits. Bits above KeyMask are dropped by the codec.
const (
	KeyTurnLeft    KeyState = 1 << 0
	KeyTurnRight   KeyState = 1 << 1
	KeyThrust      KeyState = 1 << 2
	KeyReverse     KeyState = 1 << 3
	KeyFirePulse   KeyState = 1 << 4
	KeyFireBeam    KeyState = 1 << 5
	KeyFireSpecial KeyState = 1 << 6
	KeyWarp        KeyState = 1 << 7
	KeyCloak       KeyState = 1 << 8
	KeyTransfer    KeyState = 1 << 9

	KeyMask KeyState = KeyState(keyStateMask)
)

// AuxKind discriminates TickAux.
type AuxKind uint8

const (
	AuxNone AuxKind = iota
	AuxMenu
	AuxCheat
	AuxChat
)

// String returns the lowercase name of the aux kind.
func (k AuxKind) String() string {
	switch k {
	case AuxMenu:
		return "menu"
	case AuxCheat:
		return "cheat"
	case AuxChat:
		return "chat"
	default:
		return "none"
	}
}

// TickAux is the auxiliary datum carried by a command: at most one of a
// menu selection, a cheat code or a chat byte.
type TickAux struct {
	Kind AuxKind
	Page uint8
	Line uint8
	Code uint8
	Byte byte
}

// MenuAux selects a minicomputer menu line.
func MenuAux(page, line uint8) TickAux {
	return TickAux{Kind: AuxMenu, Page: page, Line: line}
}

// CheatAux requests a cheat by code.
func CheatAux(code uint8) TickAux {
	return TickAux{Kind: AuxCheat, Code: code}
}

// ChatAux carries one chat byte. Zero terminates a message.
func ChatAux(b byte) TickAux {
	return TickAux{Kind: AuxChat, Byte: b}
}

// Valid reports whether the aux fits its bit field.
func (a TickAux) Valid() bool {
	switch a.Kind {
	case AuxNone, AuxChat:
		return true
	case AuxMenu:
		return a.Page < NoMenuPage && a.Line <= MaxMenuLine
	case AuxCheat:
		return a.Code <= MaxCheatCode
	}
	return false
}

func (a TickAux) String() string {
	switch a.Kind {
	case AuxMenu:
		return fmt.Sprintf("menu(%d,%d)", a.Page, a.Line)
	case AuxCheat:
		return fmt.Sprintf("cheat(%d)", a.Code)
	case AuxChat:
		return fmt.Sprintf("chat(%q)", a.Byte)
	default:
		return "none"
	}
}

// Command is the decoded form of one per-tick command word pair.
type Command struct {
	Time       gametime.Time
	Admiral    uint8
	Keys       KeyState
	Aux        TickAux
	Ship       uint8
	Target     bool
	SeedSample uint8
}

// Words is the packed wire form of a Command.
type Words struct {
	W1 uint32
	W2 uint32
}

// Time returns the game time encoded in the first word.
func (w Words) Time() gametime.Time {
	return gametime.Time(w.W1 & timeMask)
}

// Admiral returns the admiral index encoded in the second word.
func (w Words) Admiral() uint8 {
	return uint8((w.W2 & admiralMask) >> admiralShift)
}

// SeedSample returns the top five bits of a synchronization value.
func SeedSample(sync uint32) uint8 {
	return uint8(sync >> seedSampleShift)
}

// Encode packs a command. Out-of-range aux values encode as no aux, and
// a chat aux takes the ship field so any ship selection is dropped.
func Encode(c Command) Words {
	w1 := uint32(c.Time) & timeMask
	w1 |= uint32(c.SeedSample&0x1f) << seedSampleShift

	page, line := NoMenuPage, NoAuxLine
	ship := c.Ship
	target := c.Target && c.Ship != NoShip

	aux := c.Aux
	if !aux.Valid() {
		aux = TickAux{}
	}
	switch aux.Kind {
	case AuxMenu:
		page, line = aux.Page, aux.Line
	case AuxCheat:
		line = aux.Code
	case AuxChat:
		line = ChatLineSentinel
		ship = aux.Byte
		target = false
	}
	w1 |= uint32(page) << menuPageShift
	w1 |= uint32(line) << menuLineShift

	w2 := uint32(c.Keys) & keyStateMask
	w2 |= uint32(ship) << shipShift
	if target {
		w2 |= targetMask
	}
	w2 |= uint32(c.Admiral&0x3) << admiralShift

	return Words{W1: w1, W2: w2}
}

// Decode unpacks a command word pair. The shared menu/cheat/chat range is
// tested in priority order: menu, cheat, chat, nothing.
func Decode(w Words) Command {
	c := Command{
		Time:       w.Time(),
		SeedSample: uint8((w.W1 & seedSampleMask) >> seedSampleShift),
		Keys:       KeyState(w.W2 & keyStateMask),
		Ship:       uint8((w.W2 & shipMask) >> shipShift),
		Target:     w.W2&targetMask != 0,
		Admiral:    w.Admiral(),
	}

	page := uint8((w.W1 & menuPageMask) >> menuPageShift)
	line := uint8((w.W1 & menuLineMask) >> menuLineShift)

	switch {
	case page != NoMenuPage:
		c.Aux = MenuAux(page, line)
	case line <= MaxCheatCode:
		c.Aux = CheatAux(line)
	case line == ChatLineSentinel:
		c.Aux = ChatAux(c.Ship)
		c.Ship = NoShip
		c.Target = false
	}

	if c.Ship == NoShip {
		c.Target = false
	}
	return c
}
