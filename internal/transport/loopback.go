package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/protocol"
)

// DropFunc decides whether the hub loses a best-effort message.
type DropFunc func(msg Message) bool

// Hub is an in-process network. Endpoints created from the same hub can
// host and join each other by address name. Registered messages are never
// lost; normal messages pass through the hub's DropFunc.
type Hub struct {
	mu    sync.Mutex
	games map[string]*loopGame
	drop  DropFunc
}

type loopGame struct {
	addr        string
	opts        HostOptions
	members     map[PlayerID]*Loopback
	infos       map[PlayerID]protocol.PlayerInfo
	nextID      PlayerID
	advertising bool
}

// NewHub creates an empty in-process network.
func NewHub() *Hub {
	return &Hub{games: make(map[string]*loopGame)}
}

// SetDropFunc installs a loss model for best-effort messages.
func (h *Hub) SetDropFunc(fn DropFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop = fn
}

// Endpoint creates an unconnected transport attached to the hub.
func (h *Hub) Endpoint() *Loopback {
	return &Loopback{
		hub:    h,
		inbox:  make(chan *Message, inboxSize),
		logger: log.With().Str("component", "loopback").Logger(),
	}
}

// Loopback is a Transport bound to a Hub.
type Loopback struct {
	hub    *Hub
	game   *loopGame
	id     PlayerID
	inbox  chan *Message
	closed bool
	stats  Stats
	logger zerolog.Logger
}

var _ Transport = (*Loopback)(nil)

// Host implements Transport.
func (l *Loopback) Host(ctx context.Context, opts HostOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.ListenAddr == "" {
		return ErrInvalidAddress
	}

	h := l.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.games[opts.ListenAddr]; exists {
		return fmt.Errorf("address %s in use: %w", opts.ListenAddr, ErrConnectFailed)
	}
	if opts.MaxPlayers <= 0 || opts.MaxPlayers > protocol.MaxNetPlayerNum {
		opts.MaxPlayers = protocol.MaxNetPlayerNum
	}

	g := &loopGame{
		addr:        opts.ListenAddr,
		opts:        opts,
		members:     make(map[PlayerID]*Loopback),
		infos:       make(map[PlayerID]protocol.PlayerInfo),
		nextID:      HostPlayer + 1,
		advertising: true,
	}
	info := opts.Player
	info.ID = uint8(HostPlayer)
	g.members[HostPlayer] = l
	g.infos[HostPlayer] = info
	h.games[opts.ListenAddr] = g

	l.game = g
	l.id = HostPlayer
	l.closed = false
	l.logger = log.With().Str("component", "loopback").Str("addr", opts.ListenAddr).Uint8("id", uint8(l.id)).Logger()
	l.logger.Info().Str("game", opts.GameName).Msg("hosting loopback game")
	return nil
}

// Join implements Transport.
func (l *Loopback) Join(ctx context.Context, opts JoinOptions) (protocol.JoinApproved, error) {
	if err := ctx.Err(); err != nil {
		return protocol.JoinApproved{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if opts.Address == "" {
		return protocol.JoinApproved{}, ErrInvalidAddress
	}

	h := l.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.games[opts.Address]
	if !ok {
		return protocol.JoinApproved{}, fmt.Errorf("no game at %s: %w", opts.Address, ErrConnectFailed)
	}
	if !g.advertising {
		return protocol.JoinApproved{}, denyToError(protocol.DenyNotAdvertising)
	}
	if g.opts.Password != "" && g.opts.Password != opts.Password {
		return protocol.JoinApproved{}, denyToError(protocol.DenyBadPassword)
	}
	if len(g.members) >= g.opts.MaxPlayers {
		return protocol.JoinApproved{}, denyToError(protocol.DenyGameFull)
	}

	id := g.allocID()
	if id == NoPlayer {
		return protocol.JoinApproved{}, denyToError(protocol.DenyGameFull)
	}
	info := opts.Player
	info.ID = uint8(id)

	approved := protocol.JoinApproved{
		PlayerID: uint8(id),
		HostID:   uint8(HostPlayer),
		GameName: g.opts.GameName,
	}
	for pid := PlayerID(1); pid < Broadcast; pid++ {
		if p, ok := g.infos[pid]; ok {
			approved.Players = append(approved.Players, p)
		}
	}

	joined := protocol.BuildPlayerInfo(info)
	for _, m := range g.members {
		m.deliver(newMessage(protocol.KindPlayerJoined, id, m.id, joined))
	}

	g.members[id] = l
	g.infos[id] = info
	l.game = g
	l.id = id
	l.closed = false
	l.logger = log.With().Str("component", "loopback").Str("addr", g.addr).Uint8("id", uint8(id)).Logger()
	l.logger.Info().Str("game", g.opts.GameName).Msg("joined loopback game")
	return approved, nil
}

func (g *loopGame) allocID() PlayerID {
	for i := 0; i < int(Broadcast); i++ {
		id := g.nextID
		g.nextID++
		if g.nextID == Broadcast {
			g.nextID = HostPlayer + 1
		}
		if _, taken := g.members[id]; !taken {
			return id
		}
	}
	return NoPlayer
}

// Send implements Transport.
func (l *Loopback) Send(msg Message, mode protocol.Delivery) error {
	if len(msg.Payload) > protocol.MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	h := l.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if l.closed || l.game == nil {
		return ErrClosed
	}
	msg.From = l.id

	if mode == protocol.DeliveryNormal && h.drop != nil && h.drop(msg) {
		l.stats.Dropped++
		return nil
	}

	if msg.To == Broadcast {
		for id, m := range l.game.members {
			if id == l.id {
				continue
			}
			m.deliver(newMessage(msg.Kind, msg.From, id, msg.Payload))
		}
		l.stats.Sent++
		return nil
	}

	m, ok := l.game.members[msg.To]
	if !ok {
		return fmt.Errorf("send %s to %d: %w", msg.Kind, msg.To, ErrUnknownPlayer)
	}
	m.deliver(newMessage(msg.Kind, msg.From, msg.To, msg.Payload))
	l.stats.Sent++
	return nil
}

// deliver is called with the hub lock held.
func (l *Loopback) deliver(m *Message) {
	select {
	case l.inbox <- m:
		l.stats.Received++
	default:
		l.stats.Dropped++
		l.logger.Warn().Str("kind", m.Kind.String()).Msg("inbox full, message dropped")
		releaseMessage(m)
	}
}

// Next implements Transport.
func (l *Loopback) Next() (*Message, bool) {
	select {
	case m := <-l.inbox:
		return m, true
	default:
		return nil, false
	}
}

// Release implements Transport.
func (l *Loopback) Release(m *Message) {
	releaseMessage(m)
}

// SetAdvertising implements Transport.
func (l *Loopback) SetAdvertising(on bool) {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	if l.game != nil && l.id == HostPlayer {
		l.game.advertising = on
	}
}

// LocalID implements Transport.
func (l *Loopback) LocalID() PlayerID {
	return l.id
}

// HostID implements Transport.
func (l *Loopback) HostID() PlayerID {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	if l.game == nil {
		return NoPlayer
	}
	return HostPlayer
}

// Stats implements Transport.
func (l *Loopback) Stats() Stats {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	s := l.stats
	if l.game != nil {
		s.Peers = len(l.game.members) - 1
	}
	return s
}

// Dispose implements Transport. A departing host terminates the game for
// everyone; a departing joiner is reported to the others as PlayerLeft.
func (l *Loopback) Dispose() error {
	h := l.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if l.closed || l.game == nil {
		l.closed = true
		return nil
	}
	g := l.game
	l.closed = true

	if l.id == HostPlayer {
		for id, m := range g.members {
			if id == l.id {
				continue
			}
			m.deliver(newMessage(protocol.KindGameTerminated, l.id, id, nil))
			m.game = nil
		}
		delete(h.games, g.addr)
	} else {
		info := g.infos[l.id]
		delete(g.members, l.id)
		delete(g.infos, l.id)
		left := protocol.BuildPlayerInfo(info)
		for id, m := range g.members {
			m.deliver(newMessage(protocol.KindPlayerLeft, l.id, id, left))
		}
	}

	l.game = nil
	l.logger.Info().Msg("loopback endpoint disposed")
	return nil
}
