package handshake

import (
	"fmt"

	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/transport"
)

// LobbyLine is one completed pre-game text message.
type LobbyLine struct {
	From transport.PlayerID `json:"from"`
	Name string             `json:"name"`
	Text string             `json:"text"`
}

const (
	maxLobbyLines = 64
	// maxOpenLines bounds the unfinished lines kept per sender. A line whose
	// characters were lost is dropped once newer lines push it out.
	maxOpenLines = 4
)

type lineKey struct {
	from   transport.PlayerID
	serial uint8
}

type openLine struct {
	buf    [protocol.MaxTextLength]byte
	have   [protocol.MaxTextLength]bool
	length int
	ended  bool
	opened uint64
}

func (o *openLine) complete() bool {
	if !o.ended || o.length < 0 {
		return false
	}
	for _, ok := range o.have[:o.length] {
		if !ok {
			return false
		}
	}
	return true
}

// lobby rebuilds lines from TextStart / TextChar / TextEnd in any arrival
// order. Lines are keyed by sender and serial; characters carry their index.
type lobby struct {
	open  map[lineKey]*openLine
	seq   uint64
	lines []LobbyLine
}

func newLobby() *lobby {
	return &lobby{open: make(map[lineKey]*openLine)}
}

func (l *lobby) line(from transport.PlayerID, serial uint8) *openLine {
	key := lineKey{from: from, serial: serial}
	if o, ok := l.open[key]; ok {
		return o
	}
	l.evict(from)
	l.seq++
	o := &openLine{length: -1, opened: l.seq}
	l.open[key] = o
	return o
}

// evict drops the oldest open line of from while it has too many.
func (l *lobby) evict(from transport.PlayerID) {
	for {
		var oldest lineKey
		count := 0
		var first uint64
		for k, o := range l.open {
			if k.from != from {
				continue
			}
			count++
			if count == 1 || o.opened < first {
				oldest, first = k, o.opened
			}
		}
		if count < maxOpenLines {
			return
		}
		delete(l.open, oldest)
	}
}

func (l *lobby) start(from transport.PlayerID, m protocol.TextMark) {
	l.line(from, m.Serial).length = int(m.Length)
}

func (l *lobby) char(from transport.PlayerID, c protocol.TextChar, name string) (LobbyLine, bool) {
	o := l.line(from, c.Serial)
	o.have[c.Index] = true
	o.buf[c.Index] = c.Char
	return l.finish(from, c.Serial, name)
}

func (l *lobby) end(from transport.PlayerID, m protocol.TextMark, name string) (LobbyLine, bool) {
	o := l.line(from, m.Serial)
	o.length = int(m.Length)
	o.ended = true
	return l.finish(from, m.Serial, name)
}

func (l *lobby) finish(from transport.PlayerID, serial uint8, name string) (LobbyLine, bool) {
	key := lineKey{from: from, serial: serial}
	o := l.open[key]
	if o == nil || !o.complete() {
		return LobbyLine{}, false
	}
	delete(l.open, key)
	line := LobbyLine{From: from, Name: name, Text: string(o.buf[:o.length])}
	l.lines = append(l.lines, line)
	if len(l.lines) > maxLobbyLines {
		l.lines = l.lines[len(l.lines)-maxLobbyLines:]
	}
	return line, true
}

// SendText sends a lobby line to every player, one byte per message.
func (n *Negotiator) SendText(text string) error {
	if len(text) > protocol.MaxTextLength {
		return fmt.Errorf("lobby text of %d bytes exceeds %d", len(text), protocol.MaxTextLength)
	}
	n.textSerial++
	mark := protocol.BuildTextMark(protocol.TextMark{Serial: n.textSerial, Length: uint8(len(text))})

	s := n.session
	if err := s.Send(protocol.KindTextStart, transport.Broadcast, mark); err != nil {
		return fmt.Errorf("failed to send text start: %w", err)
	}
	for i := 0; i < len(text); i++ {
		c := protocol.TextChar{Serial: n.textSerial, Index: uint8(i), Char: text[i]}
		if err := s.Send(protocol.KindTextChar, transport.Broadcast, protocol.BuildTextChar(c)); err != nil {
			return fmt.Errorf("failed to send text: %w", err)
		}
	}
	if err := s.Send(protocol.KindTextEnd, transport.Broadcast, mark); err != nil {
		return fmt.Errorf("failed to send text end: %w", err)
	}
	return nil
}

// Lobby returns the most recent lobby lines.
func (n *Negotiator) Lobby() []LobbyLine {
	out := make([]LobbyLine, len(n.lobby.lines))
	copy(out, n.lobby.lines)
	return out
}
