package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ares-project/aresnet/internal/protocol"
)

// UDPConfig tunes the UDP transport.
type UDPConfig struct {
	RetransmitInterval time.Duration
	MaxRetries         int
	KeepAliveInterval  time.Duration
	PeerTimeout        time.Duration
	JoinRetry          time.Duration
	JoinTimeout        time.Duration
	// InboundRate limits frames per second accepted from one peer. Zero disables the limit.
	InboundRate  float64
	InboundBurst int
}

// DefaultUDPConfig returns the tuning used by the binary.
func DefaultUDPConfig() UDPConfig {
	return UDPConfig{
		RetransmitInterval: 150 * time.Millisecond,
		MaxRetries:         40,
		KeepAliveInterval:  time.Second,
		PeerTimeout:        10 * time.Second,
		JoinRetry:          250 * time.Millisecond,
		JoinTimeout:        5 * time.Second,
		InboundRate:        600,
		InboundBurst:       200,
	}
}

const (
	seenRetention = 30 * time.Second
	readBufSize   = 2048
	farewellCount = 3
)

type pendingFrame struct {
	data    []byte
	sentAt  time.Time
	retries int
}

type udpPeer struct {
	id       PlayerID
	addr     net.Addr
	info     protocol.PlayerInfo
	nextSeq  uint32
	pending  map[uint32]*pendingFrame
	seen     map[uint32]time.Time
	lastSeen time.Time
	lastSent time.Time
	limiter  *rate.Limiter
}

// UDP is a Transport over a single UDP socket. The host relays traffic
// between joiners, so every joiner only ever talks to the host.
type UDP struct {
	cfg UDPConfig

	mu           sync.Mutex
	conn         net.PacketConn
	isHost       bool
	id           PlayerID
	hostID       PlayerID
	gameName     string
	password     string
	maxPlayers   int
	advertising  bool
	peers        map[PlayerID]*udpPeer
	byAddr       map[string]PlayerID
	localInfo    protocol.PlayerInfo
	nextID       PlayerID
	joinLimiters map[string]*rate.Limiter
	closed       bool
	stats        Stats

	inbox  chan *Message
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

var _ Transport = (*UDP)(nil)

// NewUDP creates an unconnected UDP transport.
func NewUDP(cfg UDPConfig) *UDP {
	return &UDP{
		cfg:    cfg,
		inbox:  make(chan *Message, inboxSize),
		logger: log.With().Str("component", "udp_transport").Logger(),
	}
}

func (u *UDP) reset() {
	u.peers = make(map[PlayerID]*udpPeer)
	u.byAddr = make(map[string]PlayerID)
	u.joinLimiters = make(map[string]*rate.Limiter)
	u.closed = false
	u.stats = Stats{}
}

func (u *UDP) newLimiter() *rate.Limiter {
	if u.cfg.InboundRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(u.cfg.InboundRate), u.cfg.InboundBurst)
}

// Addr returns the bound local address, or "" before Host or Join.
func (u *UDP) Addr() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return ""
	}
	return u.conn.LocalAddr().String()
}

// Host implements Transport.
func (u *UDP) Host(ctx context.Context, opts HostOptions) error {
	if opts.ListenAddr == "" {
		return ErrInvalidAddress
	}

	lc := listenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w: %v", opts.ListenAddr, ErrConnectFailed, err)
	}

	u.mu.Lock()
	u.reset()
	u.conn = pc
	u.isHost = true
	u.id = HostPlayer
	u.hostID = HostPlayer
	u.gameName = opts.GameName
	u.password = opts.Password
	u.maxPlayers = opts.MaxPlayers
	if u.maxPlayers <= 0 || u.maxPlayers > protocol.MaxNetPlayerNum {
		u.maxPlayers = protocol.MaxNetPlayerNum
	}
	u.advertising = true
	u.nextID = HostPlayer + 1
	u.localInfo = opts.Player
	u.localInfo.ID = uint8(HostPlayer)
	u.logger = log.With().Str("component", "udp_transport").Str("role", "host").Str("addr", pc.LocalAddr().String()).Logger()
	u.mu.Unlock()

	u.start()
	u.logger.Info().Str("game", opts.GameName).Msg("hosting game")
	return nil
}

// Join implements Transport.
func (u *UDP) Join(ctx context.Context, opts JoinOptions) (protocol.JoinApproved, error) {
	if opts.Address == "" {
		return protocol.JoinApproved{}, ErrInvalidAddress
	}
	raddr, err := net.ResolveUDPAddr("udp", opts.Address)
	if err != nil {
		return protocol.JoinApproved{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	lc := listenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", ":0")
	if err != nil {
		return protocol.JoinApproved{}, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = u.cfg.JoinTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	approved, err := u.requestJoin(ctx, pc, raddr, opts)
	if err != nil {
		pc.Close()
		return protocol.JoinApproved{}, err
	}

	now := time.Now()
	u.mu.Lock()
	u.reset()
	u.conn = pc
	u.isHost = false
	u.id = PlayerID(approved.PlayerID)
	u.hostID = PlayerID(approved.HostID)
	u.gameName = approved.GameName
	u.localInfo = opts.Player
	u.localInfo.ID = approved.PlayerID
	host := &udpPeer{
		id:       u.hostID,
		addr:     raddr,
		pending:  make(map[uint32]*pendingFrame),
		seen:     make(map[uint32]time.Time),
		lastSeen: now,
		lastSent: now,
		nextSeq:  1,
		limiter:  u.newLimiter(),
	}
	for _, p := range approved.Players {
		if PlayerID(p.ID) == u.hostID {
			host.info = p
		}
	}
	u.peers[host.id] = host
	u.byAddr[raddr.String()] = host.id
	u.logger = log.With().Str("component", "udp_transport").Str("role", "joiner").Uint8("id", approved.PlayerID).Logger()
	u.mu.Unlock()

	u.start()
	u.logger.Info().Str("host", raddr.String()).Str("game", approved.GameName).Msg("joined game")
	return approved, nil
}

// requestJoin repeats the join request until the host answers or ctx ends.
func (u *UDP) requestJoin(ctx context.Context, pc net.PacketConn, raddr net.Addr, opts JoinOptions) (protocol.JoinApproved, error) {
	req := encodeFrame(frame{
		kind: protocol.KindJoinRequest,
		to:   HostPlayer,
		payload: protocol.BuildJoinRequest(protocol.JoinRequest{
			Password: opts.Password,
			Player:   opts.Player,
		}),
	})

	buf := make([]byte, readBufSize)
	for {
		if _, err := pc.WriteTo(req, raddr); err != nil {
			return protocol.JoinApproved{}, fmt.Errorf("%w: %v", ErrConnectFailed, err)
		}

		deadline := time.Now().Add(u.cfg.JoinRetry)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		pc.SetReadDeadline(deadline)

		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				return protocol.JoinApproved{}, fmt.Errorf("%w: %v", ErrConnectFailed, err)
			}
			if from.String() != raddr.String() {
				continue
			}
			f, err := decodeFrame(buf[:n])
			if err != nil {
				continue
			}
			switch f.kind {
			case protocol.KindJoinApproved:
				pc.SetReadDeadline(time.Time{})
				approved, err := protocol.ParseJoinApproved(f.payload)
				if err != nil {
					return protocol.JoinApproved{}, fmt.Errorf("%w: %v", ErrJoinFailed, err)
				}
				return approved, nil
			case protocol.KindJoinDenied:
				reason, err := protocol.ParseReason(f.payload)
				if err != nil {
					return protocol.JoinApproved{}, fmt.Errorf("%w: %v", ErrJoinFailed, err)
				}
				return protocol.JoinApproved{}, denyToError(reason)
			}
		}

		if ctx.Err() != nil {
			return protocol.JoinApproved{}, fmt.Errorf("no answer from %s: %w", raddr, ErrTimeout)
		}
	}
}

func (u *UDP) start() {
	ctx, cancel := context.WithCancel(context.Background())
	u.mu.Lock()
	u.cancel = cancel
	conn := u.conn
	u.mu.Unlock()

	u.wg.Add(2)
	go u.readLoop(ctx, conn)
	go u.maintainLoop(ctx)
}

func (u *UDP) readLoop(ctx context.Context, conn net.PacketConn) {
	defer u.wg.Done()

	buf := make([]byte, readBufSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.logger.Error().Err(err).Msg("UDP read error")
			continue
		}

		f, err := decodeFrame(buf[:n])
		if err != nil {
			u.logger.Trace().Err(err).Str("remote", addr.String()).Msg("discarding malformed frame")
			continue
		}
		u.handleFrame(f, addr)
	}
}

func (u *UDP) handleFrame(f frame, addr net.Addr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}

	id, known := u.byAddr[addr.String()]
	if f.kind == protocol.KindJoinRequest {
		u.handleJoinRequest(f, addr, id, known)
		return
	}
	if !known {
		return
	}

	p := u.peers[id]
	p.lastSeen = time.Now()
	if !p.limiter.Allow() {
		u.stats.Dropped++
		return
	}

	switch f.kind {
	case protocol.KindAck:
		r := protocol.NewPacketReader(f.payload)
		if seq, err := r.ReadUint32(); err == nil {
			delete(p.pending, seq)
		}
		return
	case protocol.KindKeepAlive:
		return
	}

	if f.registered() {
		u.writeFrame(p, frame{kind: protocol.KindAck, from: u.id, to: p.id, payload: protocol.NewPacketBuilder().WriteUint32(f.seq).Build()})
		if _, dup := p.seen[f.seq]; dup {
			return
		}
		p.seen[f.seq] = time.Now()
	}
	u.stats.Received++

	if u.isHost {
		// Joiners cannot speak for anyone else.
		f.from = p.id
		if f.kind == protocol.KindPlayerLeft {
			u.removePeer(p.id, "left")
			return
		}
		u.route(f)
		return
	}

	if f.kind == protocol.KindGameTerminated && f.from == u.hostID {
		u.hostLost("host ended the game")
		return
	}
	u.deliver(newMessage(f.kind, f.from, f.to, f.payload))
}

// route is the host relay: deliver locally and forward to the addressed joiners.
func (u *UDP) route(f frame) {
	switch f.to {
	case Broadcast:
		u.deliver(newMessage(f.kind, f.from, u.id, f.payload))
		for id, peer := range u.peers {
			if id == f.from {
				continue
			}
			u.sendTo(peer, f.kind, f.from, Broadcast, f.payload, f.registered())
		}
	case u.id:
		u.deliver(newMessage(f.kind, f.from, f.to, f.payload))
	default:
		if peer, ok := u.peers[f.to]; ok {
			u.sendTo(peer, f.kind, f.from, f.to, f.payload, f.registered())
		}
	}
}

func (u *UDP) handleJoinRequest(f frame, addr net.Addr, id PlayerID, known bool) {
	if !u.isHost {
		u.writeRaw(addr, frame{kind: protocol.KindJoinDenied, from: u.id, payload: protocol.BuildReason(protocol.DenyNotHost)})
		return
	}
	if known {
		// The approval was lost; answer again.
		u.writeRaw(addr, frame{kind: protocol.KindJoinApproved, from: u.id, to: id, payload: u.approval(id)})
		return
	}

	ip := addr.String()
	if ua, ok := addr.(*net.UDPAddr); ok {
		ip = ua.IP.String()
	}
	lim, ok := u.joinLimiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(4), 8)
		u.joinLimiters[ip] = lim
	}
	if !lim.Allow() {
		return
	}

	req, err := protocol.ParseJoinRequest(f.payload)
	if err != nil {
		u.logger.Debug().Err(err).Str("remote", addr.String()).Msg("malformed join request")
		return
	}

	deny := func(reason byte, why string) {
		u.logger.Info().Str("remote", addr.String()).Str("player", req.Player.Name).Str("reason", why).Msg("join denied")
		u.writeRaw(addr, frame{kind: protocol.KindJoinDenied, from: u.id, payload: protocol.BuildReason(reason)})
	}
	switch {
	case !u.advertising:
		deny(protocol.DenyNotAdvertising, "not advertising")
		return
	case u.password != "" && req.Password != u.password:
		deny(protocol.DenyBadPassword, "bad password")
		return
	case len(u.peers)+1 >= u.maxPlayers:
		deny(protocol.DenyGameFull, "game full")
		return
	}

	newID := u.allocID()
	if newID == NoPlayer {
		deny(protocol.DenyGameFull, "no ids left")
		return
	}

	now := time.Now()
	info := req.Player
	info.ID = uint8(newID)
	peer := &udpPeer{
		id:       newID,
		addr:     addr,
		info:     info,
		nextSeq:  1,
		pending:  make(map[uint32]*pendingFrame),
		seen:     make(map[uint32]time.Time),
		lastSeen: now,
		lastSent: now,
		limiter:  u.newLimiter(),
	}

	joined := protocol.BuildPlayerInfo(info)
	for _, other := range u.peers {
		u.sendTo(other, protocol.KindPlayerJoined, newID, other.id, joined, true)
	}
	u.peers[newID] = peer
	u.byAddr[addr.String()] = newID

	u.writeRaw(addr, frame{kind: protocol.KindJoinApproved, from: u.id, to: newID, payload: u.approval(newID)})
	u.deliver(newMessage(protocol.KindPlayerJoined, newID, u.id, joined))
	u.logger.Info().Uint8("id", uint8(newID)).Str("player", info.Name).Str("remote", addr.String()).Msg("player joined")
}

func (u *UDP) approval(id PlayerID) []byte {
	a := protocol.JoinApproved{
		PlayerID: uint8(id),
		HostID:   uint8(u.id),
		GameName: u.gameName,
		Players:  []protocol.PlayerInfo{u.localInfo},
	}
	for pid := PlayerID(1); pid < Broadcast; pid++ {
		if p, ok := u.peers[pid]; ok {
			a.Players = append(a.Players, p.info)
		}
	}
	return protocol.BuildJoinApproved(a)
}

func (u *UDP) allocID() PlayerID {
	for i := 0; i < int(Broadcast); i++ {
		id := u.nextID
		u.nextID++
		if u.nextID == Broadcast {
			u.nextID = HostPlayer + 1
		}
		if _, taken := u.peers[id]; !taken && id != u.id {
			return id
		}
	}
	return NoPlayer
}

// removePeer drops a joiner and tells everybody else. Called with mu held.
func (u *UDP) removePeer(id PlayerID, why string) {
	p, ok := u.peers[id]
	if !ok {
		return
	}
	delete(u.peers, id)
	delete(u.byAddr, p.addr.String())

	left := protocol.BuildPlayerInfo(p.info)
	for _, other := range u.peers {
		u.sendTo(other, protocol.KindPlayerLeft, id, other.id, left, true)
	}
	u.deliver(newMessage(protocol.KindPlayerLeft, id, u.id, left))
	u.logger.Info().Uint8("id", uint8(id)).Str("player", p.info.Name).Str("reason", why).Msg("player removed")
}

// hostLost ends a joiner's game. Called with mu held.
func (u *UDP) hostLost(why string) {
	p, ok := u.peers[u.hostID]
	if !ok {
		return
	}
	delete(u.peers, p.id)
	delete(u.byAddr, p.addr.String())
	u.deliver(newMessage(protocol.KindGameTerminated, p.id, u.id, nil))
	u.logger.Warn().Str("reason", why).Msg("lost connection to host")
}

// Send implements Transport.
func (u *UDP) Send(msg Message, mode protocol.Delivery) error {
	if len(msg.Payload) > protocol.MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed || u.conn == nil {
		return ErrClosed
	}
	registered := mode == protocol.DeliveryRegistered

	if !u.isHost {
		host, ok := u.peers[u.hostID]
		if !ok {
			return ErrClosed
		}
		u.sendTo(host, msg.Kind, u.id, msg.To, msg.Payload, registered)
		return nil
	}

	if msg.To == Broadcast {
		for _, p := range u.peers {
			u.sendTo(p, msg.Kind, u.id, Broadcast, msg.Payload, registered)
		}
		return nil
	}
	p, ok := u.peers[msg.To]
	if !ok {
		return fmt.Errorf("send %s to %d: %w", msg.Kind, msg.To, ErrUnknownPlayer)
	}
	u.sendTo(p, msg.Kind, u.id, msg.To, msg.Payload, registered)
	return nil
}

// sendTo frames and writes one message to a peer. Called with mu held.
func (u *UDP) sendTo(p *udpPeer, kind protocol.Kind, from, to PlayerID, payload []byte, registered bool) {
	f := frame{kind: kind, from: from, to: to, payload: payload, seq: p.nextSeq}
	p.nextSeq++
	if registered {
		f.flags |= flagRegistered
	}
	data := encodeFrame(f)
	if registered {
		p.pending[f.seq] = &pendingFrame{data: data, sentAt: time.Now()}
	}
	u.write(p, data)
	u.stats.Sent++
}

func (u *UDP) writeFrame(p *udpPeer, f frame) {
	u.write(p, encodeFrame(f))
}

func (u *UDP) write(p *udpPeer, data []byte) {
	p.lastSent = time.Now()
	if _, err := u.conn.WriteTo(data, p.addr); err != nil {
		u.logger.Debug().Err(err).Uint8("peer", uint8(p.id)).Msg("UDP write failed")
	}
}

func (u *UDP) writeRaw(addr net.Addr, f frame) {
	if _, err := u.conn.WriteTo(encodeFrame(f), addr); err != nil {
		u.logger.Debug().Err(err).Str("remote", addr.String()).Msg("UDP write failed")
	}
}

// deliver queues a message for Next. Called with mu held.
func (u *UDP) deliver(m *Message) {
	select {
	case u.inbox <- m:
	default:
		u.stats.Dropped++
		u.logger.Warn().Str("kind", m.Kind.String()).Msg("inbox full, message dropped")
		releaseMessage(m)
	}
}

func (u *UDP) maintainLoop(ctx context.Context) {
	defer u.wg.Done()

	interval := u.cfg.RetransmitInterval / 3
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			u.maintain(now)
		}
	}
}

// maintain retransmits unacknowledged frames, sends keepalives and
// expires silent peers.
func (u *UDP) maintain(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}

	var expired []PlayerID
	for id, p := range u.peers {
		if now.Sub(p.lastSeen) > u.cfg.PeerTimeout {
			expired = append(expired, id)
			continue
		}

		for seq, pf := range p.pending {
			if now.Sub(pf.sentAt) < u.cfg.RetransmitInterval {
				continue
			}
			if pf.retries >= u.cfg.MaxRetries {
				delete(p.pending, seq)
				expired = append(expired, id)
				break
			}
			pf.retries++
			pf.sentAt = now
			u.write(p, pf.data)
			u.stats.Retransmitted++
		}

		if now.Sub(p.lastSent) > u.cfg.KeepAliveInterval {
			u.writeFrame(p, frame{kind: protocol.KindKeepAlive, from: u.id, to: p.id})
		}

		for seq, at := range p.seen {
			if now.Sub(at) > seenRetention {
				delete(p.seen, seq)
			}
		}
	}

	for _, id := range expired {
		if u.isHost {
			u.removePeer(id, "timeout")
		} else {
			u.hostLost("timeout")
		}
	}
}

// Next implements Transport.
func (u *UDP) Next() (*Message, bool) {
	select {
	case m := <-u.inbox:
		return m, true
	default:
		return nil, false
	}
}

// Release implements Transport.
func (u *UDP) Release(m *Message) {
	releaseMessage(m)
}

// SetAdvertising implements Transport.
func (u *UDP) SetAdvertising(on bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.advertising = on
}

// LocalID implements Transport.
func (u *UDP) LocalID() PlayerID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.id
}

// HostID implements Transport.
func (u *UDP) HostID() PlayerID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hostID
}

// Stats implements Transport.
func (u *UDP) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.stats
	s.Peers = len(u.peers)
	for _, p := range u.peers {
		s.Pending += len(p.pending)
	}
	return s
}

// Dispose implements Transport.
func (u *UDP) Dispose() error {
	u.mu.Lock()
	if u.closed || u.conn == nil {
		u.closed = true
		u.mu.Unlock()
		return nil
	}
	u.closed = true

	farewell := protocol.KindPlayerLeft
	if u.isHost {
		farewell = protocol.KindGameTerminated
	}
	for _, p := range u.peers {
		for i := 0; i < farewellCount; i++ {
			u.writeFrame(p, frame{kind: farewell, from: u.id, to: p.id, seq: p.nextSeq})
		}
	}

	conn := u.conn
	cancel := u.cancel
	u.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := conn.Close()
	u.wg.Wait()

	for {
		m, ok := u.Next()
		if !ok {
			break
		}
		releaseMessage(m)
	}

	u.logger.Info().Msg("UDP transport disposed")
	return err
}
