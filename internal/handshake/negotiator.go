// Package handshake runs the pre-game exchange that takes a session from
// the lobby to lock-step play: invitations, names, scenario identity,
// round-trip probes, admiral numbers and the start message.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/lockstep"
	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/session"
	"github.com/ares-project/aresnet/internal/transport"
)

var (
	// ErrScenarioMismatch is returned when the peers do not share game content.
	ErrScenarioMismatch = errors.New("scenario mismatch")
	// ErrCancelled is returned when the other side cancelled the game.
	ErrCancelled = errors.New("game cancelled")
	// ErrNotHost is returned for host-only operations on a joiner.
	ErrNotHost = errors.New("only the host can do this")
	// ErrGameFull is returned to a joiner the host had no admiral for.
	ErrGameFull = errors.New("no admiral left for this player")
)

const (
	DefaultMinLatency = 2
	DefaultMaxLatency = 30
	DefaultTickRate   = 30
)

// Options configure a Negotiator.
type Options struct {
	Session  *session.Session
	Bus      *events.EventBus
	Scenario protocol.ScenarioIdentity

	// Latency fixes the latency in ticks. Zero derives it from the probes.
	Latency    int
	MinLatency int
	MaxLatency int
	TickRate   int

	StartTime gametime.Time
	Seed      func() uint32
	Clock     func() time.Time
}

// Result is returned by Poll and Begin once the game starts.
type Result struct {
	Started bool
	Start   lockstep.StartInfo
}

type peerState struct {
	accepted   bool
	scenarioOK bool
	declined   bool
	probe      uint64
	probeSent  time.Time
	rtt        time.Duration
	ready      bool
}

// Negotiator drives one session through the pre-game exchange. Like the
// engine it is polled from the frame loop and never blocks.
type Negotiator struct {
	session  *session.Session
	bus      *events.EventBus
	scenario protocol.ScenarioIdentity

	latency    int
	minLatency int
	maxLatency int
	tickRate   int
	startTime  gametime.Time
	seed       func() uint32
	clock      func() time.Time

	peers         map[transport.PlayerID]*peerState
	probing       bool
	nextStamp     uint64
	remote        *protocol.ScenarioIdentity
	pendingInvite *transport.Message
	pendingStart  *protocol.StartGame
	lobby         *lobby
	textSerial    uint8
	deferred      []*transport.Message

	logger zerolog.Logger
}

// New creates a Negotiator for a hosting or joining session.
func New(opts Options) *Negotiator {
	n := &Negotiator{
		session:    opts.Session,
		bus:        opts.Bus,
		scenario:   opts.Scenario,
		latency:    opts.Latency,
		minLatency: opts.MinLatency,
		maxLatency: opts.MaxLatency,
		tickRate:   opts.TickRate,
		startTime:  opts.StartTime,
		seed:       opts.Seed,
		clock:      opts.Clock,
		logger:     log.With().Str("component", "handshake").Logger(),
	}
	if n.minLatency <= 0 {
		n.minLatency = DefaultMinLatency
	}
	if n.maxLatency < n.minLatency {
		n.maxLatency = DefaultMaxLatency
	}
	if n.tickRate <= 0 {
		n.tickRate = DefaultTickRate
	}
	if n.seed == nil {
		n.seed = rand.Uint32
	}
	if n.clock == nil {
		n.clock = time.Now
	}
	n.Reset()
	return n
}

// Reset forgets all pre-game state.
func (n *Negotiator) Reset() {
	n.peers = make(map[transport.PlayerID]*peerState)
	n.probing = false
	n.remote = nil
	n.pendingInvite = nil
	n.pendingStart = nil
	n.lobby = newLobby()
	n.deferred = nil
}

// Scenario returns the local scenario identity.
func (n *Negotiator) Scenario() protocol.ScenarioIdentity {
	return n.scenario
}

// Deferred returns the in-game messages that arrived before the start and
// forgets them. The caller owns the returned messages.
func (n *Negotiator) Deferred() []*transport.Message {
	out := n.deferred
	n.deferred = nil
	return out
}

// Accepted returns the ids of players that accepted the invitation and
// sent a matching scenario identity, in whichever order those arrived.
func (n *Negotiator) Accepted() []transport.PlayerID {
	var out []transport.PlayerID
	for _, p := range n.session.Players() {
		if ps, ok := n.peers[p.ID]; ok && ps.admitted() {
			out = append(out, p.ID)
		}
	}
	return out
}

func (ps *peerState) admitted() bool {
	return ps.accepted && ps.scenarioOK && !ps.declined
}

// Poll handles every message the transport has ready. It stops early when
// the game starts so in-game traffic stays queued for the engine.
func (n *Negotiator) Poll() (Result, error) {
	tr := n.session.Transport()
	for {
		msg, ok := tr.Next()
		if !ok {
			return Result{}, nil
		}
		res, err := n.handle(msg)
		tr.Release(msg)
		if err != nil || res.Started {
			return res, err
		}
	}
}

func (n *Negotiator) handle(msg *transport.Message) (Result, error) {
	host := n.session.Role() == session.RoleHost

	switch msg.Kind {
	case protocol.KindPlayerJoined:
		return Result{}, n.playerJoined(msg, host)
	case protocol.KindPlayerLeft:
		return n.playerLeft(msg.From, host)
	case protocol.KindGameTerminated:
		n.session.MarkTerminated()
		return Result{}, n.stop("game terminated by host", ErrCancelled)
	case protocol.KindCancelGame:
		return Result{}, n.stop("game cancelled by host", ErrCancelled)

	case protocol.KindName:
		info, err := protocol.ParsePlayerInfo(msg.Payload)
		if err != nil {
			return Result{}, nil
		}
		n.session.AddPlayer(session.Player{ID: msg.From, Name: info.Name, Race: info.Race, Color: info.Color})

	case protocol.KindScenarioIdentity:
		id, err := protocol.ParseScenarioIdentity(msg.Payload)
		if err != nil {
			return Result{}, nil
		}
		if host {
			return Result{}, n.checkJoinerScenario(msg.From, id)
		}
		n.remote = &id
		if held := n.pendingInvite; held != nil {
			n.pendingInvite = nil
			return Result{}, n.invited(held)
		}

	case protocol.KindInvite:
		if !host {
			return Result{}, n.invited(msg)
		}
	case protocol.KindAccept:
		if ps, ok := n.peers[msg.From]; ok && host {
			ps.accepted = true
			n.logger.Info().Uint8("id", uint8(msg.From)).Msg("invitation accepted")
			return Result{}, n.admit(msg.From)
		}
	case protocol.KindDecline:
		if host {
			n.declined(msg)
		} else if msg.From == n.session.Transport().HostID() {
			reason, _ := protocol.ParseReason(msg.Payload)
			n.logger.Warn().Uint8("reason", reason).Msg("turned away by host")
			return Result{}, n.stop("turned away by host", ErrGameFull)
		}

	case protocol.KindGetReady:
		if err := n.session.Send(protocol.KindReady, msg.From, msg.Payload); err != nil {
			n.logger.Warn().Err(err).Msg("failed to answer probe")
		}
	case protocol.KindReady:
		if host {
			return n.ready(msg)
		}
	case protocol.KindAdmiralNumber:
		if !host {
			return n.admiralNumber(msg)
		}
	case protocol.KindStartGame:
		if !host {
			return n.startGame(msg)
		}

	case protocol.KindTextStart:
		if m, err := protocol.ParseTextMark(msg.Payload); err == nil {
			n.lobby.start(msg.From, m)
		}
	case protocol.KindTextChar:
		if c, err := protocol.ParseTextChar(msg.Payload); err == nil {
			n.lobbyLine(n.lobby.char(msg.From, c, n.playerName(msg.From)))
		}
	case protocol.KindTextEnd:
		if m, err := protocol.ParseTextMark(msg.Payload); err == nil {
			n.lobbyLine(n.lobby.end(msg.From, m, n.playerName(msg.From)))
		}

	case protocol.KindTick, protocol.KindResend, protocol.KindResendRequest:
		held := *msg
		held.Payload = append([]byte(nil), msg.Payload...)
		n.deferred = append(n.deferred, &held)

	default:
		n.logger.Debug().Str("kind", msg.Kind.String()).Msg("ignoring message")
	}
	return Result{}, nil
}

func (n *Negotiator) playerName(id transport.PlayerID) string {
	if p, ok := n.session.Player(id); ok {
		return p.Name
	}
	return ""
}

func (n *Negotiator) lobbyLine(line LobbyLine, done bool) {
	if done {
		n.emit(events.EventLobbyText, events.LobbyTextPayload{From: uint8(line.From), Name: line.Name, Text: line.Text})
	}
}

func (n *Negotiator) localInfo() protocol.PlayerInfo {
	p, _ := n.session.LocalPlayer()
	return protocol.PlayerInfo{ID: uint8(p.ID), Name: p.Name, Race: p.Race, Color: p.Color}
}

func (n *Negotiator) playerJoined(msg *transport.Message, host bool) error {
	info, err := protocol.ParsePlayerInfo(msg.Payload)
	if err != nil {
		return nil
	}
	if _, err := n.session.AddPlayer(session.Player{ID: msg.From, Name: info.Name, Race: info.Race, Color: info.Color}); err != nil {
		n.logger.Warn().Err(err).Str("player", info.Name).Msg("no slot for player")
		return nil
	}
	n.logger.Info().Uint8("id", uint8(msg.From)).Str("player", info.Name).Msg("player joined")
	n.emit(events.EventPlayerJoined, events.PlayerPayload{
		SessionID: n.session.ID(),
		PlayerID:  uint8(msg.From),
		Name:      info.Name,
		Admiral:   session.NoAdmiral,
		Players:   n.session.PlayerCount(),
	})
	if !host {
		return nil
	}

	n.peers[msg.From] = &peerState{}
	s := n.session
	if err := s.Send(protocol.KindName, msg.From, protocol.BuildPlayerInfo(n.localInfo())); err != nil {
		return fmt.Errorf("failed to send name: %w", err)
	}
	if err := s.Send(protocol.KindScenarioIdentity, msg.From, protocol.BuildScenarioIdentity(n.scenario)); err != nil {
		return fmt.Errorf("failed to send scenario: %w", err)
	}
	if err := s.Send(protocol.KindInvite, msg.From, protocol.BuildInvite(protocol.Invite{GameName: s.GameName()})); err != nil {
		return fmt.Errorf("failed to send invitation: %w", err)
	}
	return nil
}

func (n *Negotiator) playerLeft(id transport.PlayerID, host bool) (Result, error) {
	p, ok := n.session.RemovePlayer(id)
	delete(n.peers, id)
	if ok {
		n.logger.Info().Uint8("id", uint8(id)).Str("player", p.Name).Msg("player left")
		n.emit(events.EventPlayerLeft, events.PlayerPayload{
			SessionID: n.session.ID(),
			PlayerID:  uint8(id),
			Name:      p.Name,
			Admiral:   p.Admiral,
			Players:   n.session.PlayerCount(),
		})
	}
	if host && n.probing && n.allReady() {
		return n.finish()
	}
	return Result{}, nil
}

func (n *Negotiator) checkJoinerScenario(id transport.PlayerID, remote protocol.ScenarioIdentity) error {
	ps, ok := n.peers[id]
	if n.scenario.Matches(remote) {
		if ok {
			ps.scenarioOK = true
		}
		return n.admit(id)
	}
	if ok {
		ps.declined = true
	}
	n.reportMismatch(remote, uint8(id), protocol.DeclineScenarioMismatch)
	return nil
}

// admit asks a player that became fully accepted after Begin for its round
// trip, so the start waits for it.
func (n *Negotiator) admit(id transport.PlayerID) error {
	ps, ok := n.peers[id]
	if !ok || !n.probing || ps.probe != 0 || !ps.admitted() {
		return nil
	}
	return n.requestReady(id, ps, n.clock())
}

func (n *Negotiator) requestReady(id transport.PlayerID, ps *peerState, now time.Time) error {
	n.nextStamp++
	ps.probe = n.nextStamp
	ps.probeSent = now
	if err := n.session.Send(protocol.KindGetReady, id, protocol.BuildProbe(protocol.Probe{Stamp: ps.probe})); err != nil {
		return fmt.Errorf("failed to send get ready to player %d: %w", id, err)
	}
	return nil
}

// invited answers an invitation. One that arrives ahead of the host's
// scenario identity is held until the identity shows up.
func (n *Negotiator) invited(msg *transport.Message) error {
	inv, err := protocol.ParseInvite(msg.Payload)
	if err != nil || n.session.State() != events.SessionJoining {
		return nil
	}
	host := msg.From
	if n.remote == nil {
		held := *msg
		held.Payload = append([]byte(nil), msg.Payload...)
		n.pendingInvite = &held
		n.logger.Debug().Str("game", inv.GameName).Msg("invitation held until scenario arrives")
		return nil
	}
	if !n.scenario.Matches(*n.remote) {
		remote := *n.remote
		n.reportMismatch(remote, uint8(host), protocol.DeclineScenarioMismatch)
		if err := n.session.Send(protocol.KindDecline, host, protocol.BuildReason(protocol.DeclineScenarioMismatch)); err != nil {
			n.logger.Warn().Err(err).Msg("failed to decline")
		}
		return n.stop("scenario mismatch", &MismatchError{Local: n.scenario, Remote: remote})
	}

	s := n.session
	if err := s.Send(protocol.KindName, host, protocol.BuildPlayerInfo(n.localInfo())); err != nil {
		return fmt.Errorf("failed to send name: %w", err)
	}
	if err := s.Send(protocol.KindScenarioIdentity, host, protocol.BuildScenarioIdentity(n.scenario)); err != nil {
		return fmt.Errorf("failed to send scenario: %w", err)
	}
	if err := s.Send(protocol.KindAccept, host, nil); err != nil {
		return fmt.Errorf("failed to accept: %w", err)
	}
	n.logger.Info().Str("game", inv.GameName).Msg("invitation accepted")
	return s.Accept()
}

// Decline refuses a pending invitation and leaves the game.
func (n *Negotiator) Decline() error {
	if n.session.Role() != session.RoleJoiner {
		return fmt.Errorf("decline: %w", session.ErrBadState)
	}
	host := n.session.Transport().HostID()
	if err := n.session.Send(protocol.KindDecline, host, protocol.BuildReason(protocol.DeclineUser)); err != nil {
		n.logger.Warn().Err(err).Msg("failed to decline")
	}
	return n.stop("invitation declined", nil)
}

func (n *Negotiator) declined(msg *transport.Message) {
	reason, _ := protocol.ParseReason(msg.Payload)
	if ps, ok := n.peers[msg.From]; ok {
		ps.declined = true
	}
	name := ""
	if p, ok := n.session.Player(msg.From); ok {
		name = p.Name
	}
	n.logger.Info().Uint8("id", uint8(msg.From)).Str("player", name).Uint8("reason", reason).Msg("invitation declined")
	n.emit(events.EventInviteDeclined, events.PlayerPayload{
		SessionID: n.session.ID(),
		PlayerID:  uint8(msg.From),
		Name:      name,
		Admiral:   session.NoAdmiral,
		Players:   n.session.PlayerCount(),
	})
}

func (n *Negotiator) reportMismatch(remote protocol.ScenarioIdentity, from uint8, code byte) {
	n.logger.Warn().
		Str("local", n.scenario.Filename).
		Str("remote", remote.Filename).
		Uint32("local_checksum", n.scenario.Checksum).
		Uint32("remote_checksum", remote.Checksum).
		Msg("scenario mismatch")
	n.emit(events.EventScenarioMismatch, events.ScenarioMismatchPayload{
		LocalFile:   n.scenario.Filename,
		LocalSum:    n.scenario.Checksum,
		LocalVers:   n.scenario.Version,
		RemoteFile:  remote.Filename,
		RemoteSum:   remote.Checksum,
		RemoteURL:   remote.URL,
		RemoteVers:  remote.Version,
		FromPlayer:  from,
		DeclineCode: code,
	})
}

// Begin closes the lobby and probes every accepted player. With nobody to
// wait for the game starts at once.
func (n *Negotiator) Begin() (Result, error) {
	if n.session.Role() != session.RoleHost {
		return Result{}, ErrNotHost
	}
	if err := n.session.Confirm(); err != nil {
		return Result{}, err
	}
	n.probing = true

	now := n.clock()
	for _, id := range n.Accepted() {
		if err := n.requestReady(id, n.peers[id], now); err != nil {
			return Result{}, err
		}
	}
	if n.allReady() {
		return n.finish()
	}
	return Result{}, nil
}

func (n *Negotiator) ready(msg *transport.Message) (Result, error) {
	p, err := protocol.ParseProbe(msg.Payload)
	if err != nil {
		return Result{}, nil
	}
	ps, ok := n.peers[msg.From]
	if !ok || !n.probing || ps.probe != p.Stamp || ps.ready {
		return Result{}, nil
	}
	ps.rtt = n.clock().Sub(ps.probeSent)
	ps.ready = true
	n.session.SetRTT(msg.From, ps.rtt)
	n.logger.Debug().Uint8("id", uint8(msg.From)).Dur("rtt", ps.rtt).Msg("probe answered")

	if n.allReady() {
		return n.finish()
	}
	return Result{}, nil
}

func (n *Negotiator) allReady() bool {
	for _, id := range n.Accepted() {
		if !n.peers[id].ready {
			return false
		}
	}
	return true
}

// ChooseLatency turns the slowest round trip into a latency in ticks.
func (n *Negotiator) ChooseLatency(maxRTT time.Duration) int {
	if n.latency > 0 {
		return n.latency
	}
	// ceil(rtt * rate / 1s) in integer nanoseconds; a rounded tick
	// duration would undercount at rates that do not divide a second.
	ticks := int((int64(maxRTT)*int64(n.tickRate)+int64(time.Second)-1)/int64(time.Second)) + 1
	if ticks < n.minLatency {
		ticks = n.minLatency
	}
	if ticks > n.maxLatency {
		ticks = n.maxLatency
	}
	return ticks
}

// finish assigns admirals, sends the start message and enters Running.
func (n *Negotiator) finish() (Result, error) {
	s := n.session
	accepted := n.Accepted()

	var maxRTT time.Duration
	for _, id := range accepted {
		if rtt := n.peers[id].rtt; rtt > maxRTT {
			maxRTT = rtt
		}
	}
	latency := n.ChooseLatency(maxRTT)

	order := append([]transport.PlayerID{s.Transport().LocalID()}, accepted...)
	if len(order) > protocol.MaxAdmirals {
		n.logger.Warn().Int("accepted", len(accepted)).Int("admirals", protocol.MaxAdmirals).Msg("more players than admirals, turning the rest away")
		for _, id := range order[protocol.MaxAdmirals:] {
			n.turnAway(id)
		}
		order = order[:protocol.MaxAdmirals]
	}
	for admiral, id := range order {
		if err := s.SetAdmiral(id, admiral); err != nil {
			return Result{}, err
		}
		payload := protocol.BuildAdmiralNumber(protocol.AdmiralNumber{Player: uint8(id), Admiral: uint8(admiral)})
		if err := s.Send(protocol.KindAdmiralNumber, transport.Broadcast, payload); err != nil {
			return Result{}, fmt.Errorf("failed to send admiral number: %w", err)
		}
	}

	start := protocol.StartGame{StartTime: n.startTime, Latency: uint8(latency), Seed: n.seed()}
	if err := s.Send(protocol.KindStartGame, transport.Broadcast, protocol.BuildStartGame(start)); err != nil {
		return Result{}, fmt.Errorf("failed to send start: %w", err)
	}
	if err := s.BeginRunning(latency); err != nil {
		return Result{}, err
	}
	n.probing = false

	n.logger.Info().
		Int("latency", latency).
		Dur("max_rtt", maxRTT).
		Int("admirals", len(order)).
		Msg("game starting")
	return Result{Started: true, Start: lockstep.StartInfo{StartTime: start.StartTime, Latency: latency, Seed: start.Seed}}, nil
}

// turnAway declines a player that got no admiral and drops it from the game.
func (n *Negotiator) turnAway(id transport.PlayerID) {
	if err := n.session.Send(protocol.KindDecline, id, protocol.BuildReason(protocol.DeclineBusy)); err != nil {
		n.logger.Warn().Err(err).Uint8("id", uint8(id)).Msg("failed to turn player away")
	}
	delete(n.peers, id)
	if p, ok := n.session.RemovePlayer(id); ok {
		n.emit(events.EventPlayerLeft, events.PlayerPayload{
			SessionID: n.session.ID(),
			PlayerID:  uint8(id),
			Name:      p.Name,
			Admiral:   session.NoAdmiral,
			Players:   n.session.PlayerCount(),
		})
	}
}

func (n *Negotiator) admiralNumber(msg *transport.Message) (Result, error) {
	m, err := protocol.ParseAdmiralNumber(msg.Payload)
	if err != nil {
		return Result{}, nil
	}
	if err := n.session.SetAdmiral(transport.PlayerID(m.Player), int(m.Admiral)); err != nil {
		n.logger.Warn().Err(err).Uint8("player", m.Player).Msg("admiral for unknown player")
	}
	if n.pendingStart != nil {
		return n.begin(*n.pendingStart)
	}
	return Result{}, nil
}

func (n *Negotiator) startGame(msg *transport.Message) (Result, error) {
	m, err := protocol.ParseStartGame(msg.Payload)
	if err != nil {
		return Result{}, nil
	}
	return n.begin(m)
}

// begin enters Running once the local admiral is known.
func (n *Negotiator) begin(m protocol.StartGame) (Result, error) {
	if local, ok := n.session.LocalPlayer(); !ok || local.Admiral == session.NoAdmiral {
		n.pendingStart = &m
		return Result{}, nil
	}
	n.pendingStart = nil
	if err := n.session.BeginRunning(int(m.Latency)); err != nil {
		return Result{}, err
	}
	n.logger.Info().Int("latency", int(m.Latency)).Msg("game starting")
	return Result{Started: true, Start: lockstep.StartInfo{StartTime: m.StartTime, Latency: int(m.Latency), Seed: m.Seed}}, nil
}

// Cancel abandons the game for everyone and stops the session.
func (n *Negotiator) Cancel() error {
	if n.session.State().Active() {
		if err := n.session.Send(protocol.KindCancelGame, transport.Broadcast, nil); err != nil {
			n.logger.Debug().Err(err).Msg("failed to send cancel")
		}
	}
	return n.stop("cancelled", nil)
}

// stop tears the session down and returns cause, joined with any stop error.
func (n *Negotiator) stop(reason string, cause error) error {
	err := n.session.Stop(reason)
	n.Reset()
	return errors.Join(cause, err)
}

func (n *Negotiator) emit(t events.EventType, payload interface{}) {
	if n.bus == nil {
		return
	}
	n.bus.Emit(context.Background(), events.Event{Type: t, Source: "handshake", Payload: payload})
}
