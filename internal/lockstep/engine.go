// Package lockstep runs the in-game dispatch loop. Every peer sends its
// input for tick now+latency, buffers what arrives early, and executes
// tick now only once every admiral's input for it has been applied, so all
// peers perform bit-identical state transitions.
package lockstep

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/latency"
	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/session"
	"github.com/ares-project/aresnet/internal/transport"
)

const (
	// MaxFutureTicks bounds how far ahead of now a command may be queued.
	MaxFutureTicks = 512

	// DefaultDesyncGrace is the number of ticks between a detected
	// desynchronization and the forced stop.
	DefaultDesyncGrace = 60

	// DefaultThrottleLatency is the latency at which bandwidth reduction
	// starts sending every other tick.
	DefaultThrottleLatency = 6
)

var (
	// ErrNotRunning is returned when the engine has not been started or has stopped.
	ErrNotRunning = errors.New("lock-step engine not running")
	// ErrNoAdmiral is returned by Start when the local player has no admiral.
	ErrNoAdmiral = errors.New("local player has no admiral")
	// ErrTextTooLong is returned by SendChat for lines over MaxTextLength.
	ErrTextTooLong = errors.New("chat text too long")
)

// StartInfo is what the pre-game handshake agreed on.
type StartInfo struct {
	StartTime gametime.Time
	Latency   int
	Seed      uint32
}

// Input is the local player's control state for one frame.
type Input struct {
	Keys protocol.KeyState
}

// Options configure an Engine.
type Options struct {
	Session         *session.Session
	Bus             *events.EventBus
	Collaborators   Collaborators
	Policy          BarrierPolicy
	BackupTicks     int
	ThrottleLatency int
	DesyncGrace     int
}

type selection struct {
	ship   uint8
	target bool
}

// Engine is the per-tick dispatch loop for one running session. It is not
// safe for concurrent use; one frame loop drives it.
type Engine struct {
	session *session.Session
	bus     *events.EventBus
	c       Collaborators
	policy  BarrierPolicy

	backupTicks     int
	throttleLatency int
	desyncGrace     int

	queue *latency.Queue
	sent  *latency.SentLog
	chat  chatAssembler

	running    bool
	terminated bool
	endable    bool
	now        gametime.Time
	latency    int
	seed       uint32
	local      uint8
	primed     int
	executed   uint64

	active   [protocol.MaxAdmirals]bool
	received [protocol.MaxAdmirals]bool
	pending  [protocol.MaxAdmirals]protocol.Command
	lastKeys [protocol.MaxAdmirals]protocol.KeyState

	sample    uint8
	sampleSet bool

	desynced  bool
	countdown int

	// local input waiting to be sent
	keys        protocol.KeyState
	menu        *protocol.TickAux
	cheat       *protocol.TickAux
	sel         *selection
	chatOut     []byte
	recent      []protocol.Words
	skipNext    bool
	sentCurrent bool

	stalled       int
	stale         uint64
	corrupt       uint64
	lateHandshake uint64

	logger zerolog.Logger
}

// New creates a stopped engine bound to a session.
func New(opts Options) *Engine {
	e := &Engine{
		session:         opts.Session,
		bus:             opts.Bus,
		c:               opts.Collaborators,
		policy:          opts.Policy,
		backupTicks:     opts.BackupTicks,
		throttleLatency: opts.ThrottleLatency,
		desyncGrace:     opts.DesyncGrace,
		queue:           latency.NewQueue(),
		sent:            latency.NewSentLog(),
		logger:          log.With().Str("component", "lockstep").Logger(),
	}
	if e.backupTicks < 0 {
		e.backupTicks = 0
	}
	if e.backupTicks > protocol.MaxBackupTicks {
		e.backupTicks = protocol.MaxBackupTicks
	}
	if e.throttleLatency <= 0 {
		e.throttleLatency = DefaultThrottleLatency
	}
	if e.desyncGrace <= 0 {
		e.desyncGrace = DefaultDesyncGrace
	}
	e.chat.sink = opts.Collaborators.Chat
	return e
}

// Start begins lock-step play. The ticks in [StartTime, StartTime+Latency)
// count as received with empty input for every admiral.
func (e *Engine) Start(info StartInfo) error {
	local, ok := e.session.LocalPlayer()
	if !ok || local.Admiral == session.NoAdmiral {
		return ErrNoAdmiral
	}

	e.Reset()
	e.running = true
	e.now = info.StartTime
	e.latency = info.Latency
	e.seed = info.Seed
	e.local = uint8(local.Admiral)
	e.primed = info.Latency

	for _, p := range e.session.Players() {
		if p.Admiral != session.NoAdmiral {
			e.active[p.Admiral] = true
		}
	}
	e.primeTick()

	e.logger = log.With().
		Str("component", "lockstep").
		Str("session", e.session.ID()).
		Uint8("admiral", e.local).
		Logger()
	e.logger.Info().
		Uint32("start", uint32(info.StartTime)).
		Int("latency", info.Latency).
		Ints("admirals", e.activeList()).
		Msg("lock-step started")

	e.emit(events.EventGameStarted, events.GameStartedPayload{
		SessionID: e.session.ID(),
		StartTime: uint32(info.StartTime),
		Latency:   info.Latency,
		Seed:      info.Seed,
		Admirals:  len(e.activeList()),
	})
	return nil
}

// Reset drops every queued and logged command and all per-tick state.
func (e *Engine) Reset() {
	e.queue.Reset()
	e.sent.Reset()
	e.chat.reset()
	e.running = false
	e.terminated = false
	e.endable = false
	e.primed = 0
	e.executed = 0
	e.active = [protocol.MaxAdmirals]bool{}
	e.lastKeys = [protocol.MaxAdmirals]protocol.KeyState{}
	e.clearPending()
	e.desynced = false
	e.countdown = 0
	e.keys = 0
	e.menu, e.cheat, e.sel = nil, nil, nil
	e.chatOut = nil
	e.recent = e.recent[:0]
	e.skipNext = false
	e.sentCurrent = false
	e.stalled = 0
	e.stale = 0
	e.corrupt = 0
	e.lateHandshake = 0
}

// SetKeys sets the local key state sent from now on.
func (e *Engine) SetKeys(keys protocol.KeyState) {
	e.keys = keys & protocol.KeyMask
}

// QueueMenu sends a menu selection with the next tick.
func (e *Engine) QueueMenu(page, line uint8) error {
	aux := protocol.MenuAux(page, line)
	if !aux.Valid() {
		return fmt.Errorf("menu page %d line %d out of range", page, line)
	}
	e.menu = &aux
	return nil
}

// QueueCheat sends a cheat code with the next free tick.
func (e *Engine) QueueCheat(code uint8) error {
	aux := protocol.CheatAux(code)
	if !aux.Valid() {
		return fmt.Errorf("cheat code %d out of range", code)
	}
	e.cheat = &aux
	return nil
}

// SelectShip sends a ship selection with the next tick.
func (e *Engine) SelectShip(ship uint8, target bool) {
	if ship == protocol.NoShip {
		e.sel = nil
		return
	}
	e.sel = &selection{ship: ship, target: target}
}

// SendChat queues text to be sent one byte per tick followed by a terminator.
func (e *Engine) SendChat(text string) error {
	if len(text) > protocol.MaxTextLength {
		return fmt.Errorf("%d bytes: %w", len(text), ErrTextTooLong)
	}
	for i := 0; i < len(text); i++ {
		if text[i] != 0 {
			e.chatOut = append(e.chatOut, text[i])
		}
	}
	e.chatOut = append(e.chatOut, 0)
	return nil
}

// SendTick builds, logs, self-queues and transmits the local command for
// tick now+latency.
func (e *Engine) SendTick() error {
	if !e.running {
		return ErrNotRunning
	}
	e.sentCurrent = true

	cmd := protocol.Command{
		Time:       gametime.Add(e.now, e.latency),
		Admiral:    e.local,
		Keys:       e.keys,
		Ship:       protocol.NoShip,
		SeedSample: protocol.SeedSample(e.syncValue()),
	}
	pendingSelect := e.sel != nil
	if pendingSelect {
		cmd.Ship = e.sel.ship
		cmd.Target = e.sel.target
		e.sel = nil
	}
	switch {
	case e.menu != nil:
		cmd.Aux = *e.menu
		e.menu = nil
	case e.cheat != nil:
		cmd.Aux = *e.cheat
		e.cheat = nil
	case len(e.chatOut) > 0 && !pendingSelect:
		cmd.Aux = protocol.ChatAux(e.chatOut[0])
		e.chatOut = e.chatOut[1:]
	}
	w := protocol.Encode(cmd)

	var errs []error
	if err := e.sent.Store(w); err != nil {
		e.emitProtocolError(events.EventQueueOverflow, w, err)
		errs = append(errs, err)
	}
	if err := e.queue.Insert(w, e.now); err != nil {
		e.insertFailed(w, err)
		errs = append(errs, err)
	}

	backups := e.backupTicks
	if e.throttled() {
		e.skipNext = !e.skipNext
		if !e.skipNext {
			e.remember(w)
			return errors.Join(errs...)
		}
		if backups < 1 {
			backups = 1
		}
	}
	if backups > len(e.recent) {
		backups = len(e.recent)
	}

	payload := protocol.BuildTick(protocol.TickPayload{Words: w, Backups: e.recent[:backups]})
	if err := e.session.Send(protocol.KindTick, transport.Broadcast, payload); err != nil {
		errs = append(errs, fmt.Errorf("failed to send tick %d: %w", cmd.Time, err))
	}
	e.remember(w)
	return errors.Join(errs...)
}

// throttled reports whether only every other tick is transmitted.
func (e *Engine) throttled() bool {
	return e.session.Flags().BandwidthReduction && e.latency >= e.throttleLatency
}

// remember keeps the most recent words first for piggybacking.
func (e *Engine) remember(w protocol.Words) {
	if len(e.recent) < protocol.MaxBackupTicks {
		e.recent = append(e.recent, protocol.Words{})
	}
	copy(e.recent[1:], e.recent[:len(e.recent)-1])
	e.recent[0] = w
}

func (e *Engine) syncValue() uint32 {
	if e.c.Sync == nil {
		return e.seed
	}
	return e.c.Sync.SyncValue()
}

// ReceiveTick drains every message the transport has ready.
func (e *Engine) ReceiveTick() error {
	if !e.running {
		return ErrNotRunning
	}
	tr := e.session.Transport()
	var errs []error
	for {
		msg, ok := tr.Next()
		if !ok {
			break
		}
		if err := e.Deliver(msg); err != nil {
			errs = append(errs, err)
		}
		tr.Release(msg)
		if !e.running {
			break
		}
	}
	return errors.Join(errs...)
}

// Deliver handles one inbound message. It is also used for messages that
// arrived before Start and were held back.
func (e *Engine) Deliver(msg *transport.Message) error {
	switch msg.Kind {
	case protocol.KindTick, protocol.KindResend:
		p, err := protocol.ParseTick(msg.Payload)
		if err != nil {
			e.logger.Debug().Err(err).Uint8("from", uint8(msg.From)).Msg("dropping malformed tick")
			return nil
		}
		var errs []error
		if err := e.classify(p.Words); err != nil {
			errs = append(errs, err)
		}
		for _, b := range p.Backups {
			if err := e.classify(b); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	case protocol.KindResendRequest:
		req, err := protocol.ParseResendRequest(msg.Payload)
		if err != nil {
			return nil
		}
		return e.resend(msg.From, req.Time)

	case protocol.KindPlayerJoined:
		e.playerJoined(msg)
	case protocol.KindPlayerLeft:
		e.playerLeft(msg.From)
	case protocol.KindGameTerminated:
		e.gameTerminated()

	default:
		if msg.Kind.IsHandshake() {
			// Retransmits of the pre-game exchange can trail the start.
			e.lateHandshake++
			e.logger.Debug().Str("kind", msg.Kind.String()).Uint8("from", uint8(msg.From)).Msg("late handshake message")
			return nil
		}
		e.logger.Debug().Str("kind", msg.Kind.String()).Uint8("from", uint8(msg.From)).Msg("ignoring message")
	}
	return nil
}

// classify queues a command for a future tick and applies anything else.
func (e *Engine) classify(w protocol.Words) error {
	d := gametime.Distance(w.Time(), e.now)
	if d > 0 && d <= MaxFutureTicks {
		if err := e.queue.Insert(w, e.now); err != nil {
			e.insertFailed(w, err)
			if errors.Is(err, latency.ErrLatencyQueueFull) {
				return err
			}
		}
		return nil
	}
	e.Apply(protocol.Decode(w))
	return nil
}

func (e *Engine) insertFailed(w protocol.Words, err error) {
	if errors.Is(err, latency.ErrCorruptData) {
		e.corrupt++
		e.emitProtocolError(events.EventCorruptData, w, err)
		return
	}
	e.emitProtocolError(events.EventQueueOverflow, w, err)
}

func (e *Engine) resend(to transport.PlayerID, t gametime.Time) error {
	var errs []error
	n := e.sent.FindAndResend(t, func(w protocol.Words) {
		payload := protocol.BuildTick(protocol.TickPayload{Words: w})
		if err := e.session.Send(protocol.KindResend, to, payload); err != nil {
			errs = append(errs, fmt.Errorf("failed to resend tick %d: %w", t, err))
		}
	})
	e.logger.Debug().Uint32("tick", uint32(t)).Uint8("to", uint8(to)).Int("found", n).Msg("resend requested")
	return errors.Join(errs...)
}

// Apply records an admiral's command for the current tick. Commands for any
// other tick are stale and ignored. The first seed sample of a tick is
// adopted; a differing one raises desynchronization. A second command from
// the same admiral for the same tick is ignored. It reports whether the
// command was taken.
func (e *Engine) Apply(cmd protocol.Command) bool {
	if cmd.Time != e.now {
		e.stale++
		return false
	}
	a := cmd.Admiral
	if int(a) >= protocol.MaxAdmirals || !e.active[a] {
		return false
	}

	if !e.sampleSet {
		e.sample = cmd.SeedSample
		e.sampleSet = true
	} else if cmd.SeedSample != e.sample {
		e.raiseDesync(cmd)
	}

	if e.received[a] {
		return false
	}
	e.received[a] = true
	e.pending[a] = cmd
	return true
}

func (e *Engine) raiseDesync(cmd protocol.Command) {
	if e.desynced {
		return
	}
	e.desynced = true
	e.countdown = e.desyncGrace
	e.session.SetDesynced()

	e.logger.Error().
		Uint32("tick", uint32(cmd.Time)).
		Uint8("from_admiral", cmd.Admiral).
		Uint8("expected", e.sample).
		Uint8("got", cmd.SeedSample).
		Int("grace_ticks", e.countdown).
		Msg("peers out of sync")

	e.emit(events.EventDesync, events.DesyncPayload{
		SessionID: e.session.ID(),
		Tick:      uint32(cmd.Time),
		Admiral:   cmd.Admiral,
		Expected:  e.sample,
		Got:       cmd.SeedSample,
		GraceLeft: e.countdown,
	})
}

// ResolveDesync cancels a pending desync stop.
func (e *Engine) ResolveDesync() {
	if !e.desynced {
		return
	}
	e.desynced = false
	e.countdown = 0
	e.logger.Info().Uint32("tick", uint32(e.now)).Msg("desync resolved")
	e.emit(events.EventDesyncResolved, events.DesyncPayload{SessionID: e.session.ID(), Tick: uint32(e.now)})
}

// DrainDue applies every queued command whose tick has arrived and returns
// how many were popped.
func (e *Engine) DrainDue() int {
	n := 0
	for {
		w, ok := e.queue.PopDue(e.now)
		if !ok {
			return n
		}
		e.Apply(protocol.Decode(w))
		n++
	}
}

// Ready reports whether every active admiral has reported for now.
func (e *Engine) Ready() bool {
	for a := range e.active {
		if e.active[a] && !e.received[a] {
			return false
		}
	}
	return true
}

// Missing returns the active admirals that have not reported for now.
func (e *Engine) Missing() []uint8 {
	var out []uint8
	for a := range e.active {
		if e.active[a] && !e.received[a] {
			out = append(out, uint8(a))
		}
	}
	return out
}

// ExecuteTick hands every received command for now to the game, then
// advances now.
func (e *Engine) ExecuteTick() error {
	if !e.running {
		return ErrNotRunning
	}

	for a := range e.pending {
		if !e.active[a] || !e.received[a] {
			continue
		}
		e.execute(uint8(a), e.pending[a])
		e.lastKeys[a] = e.pending[a].Keys
	}
	if e.c.World != nil {
		e.c.World.Advance(e.now)
	}

	e.clearPending()
	e.now = gametime.Add(e.now, 1)
	e.executed++
	e.stalled = 0
	e.sentCurrent = false
	e.sent.Purge(gametime.Add(e.now, -2*e.latency))
	if e.primed > 0 {
		e.primed--
		e.primeTick()
	}

	if e.countdown > 0 {
		e.countdown--
		if e.countdown == 0 {
			e.logger.Error().Uint32("tick", uint32(e.now)).Msg("desync grace expired, stopping session")
			return e.stop("desynchronized")
		}
	}
	return nil
}

func (e *Engine) execute(admiral uint8, cmd protocol.Command) {
	if e.c.Flagships != nil {
		if ship, ok := e.c.Flagships.Flagship(admiral); ok {
			e.c.Flagships.ApplyKeyState(ship, cmd.Keys)
		}
	}
	if cmd.Ship != protocol.NoShip && e.c.Selector != nil {
		e.c.Selector.Select(admiral, cmd.Ship, cmd.Target)
	}

	switch cmd.Aux.Kind {
	case protocol.AuxMenu:
		if e.c.Menu != nil {
			e.c.Menu.Execute(cmd.Aux.Page, cmd.Aux.Line, admiral)
		}
	case protocol.AuxCheat:
		if e.c.Cheats != nil {
			e.c.Cheats.ExecuteCheat(cmd.Aux.Code, admiral)
		}
	case protocol.AuxChat:
		if line, done := e.chat.feed(admiral, cmd.Aux.Byte); done {
			e.chatLine(admiral, line)
		}
	}
}

func (e *Engine) chatLine(admiral uint8, text string) {
	name := ""
	if p, ok := e.session.PlayerForAdmiral(int(admiral)); ok {
		name = p.Name
	}
	e.logger.Info().Uint8("from_admiral", admiral).Str("player", name).Str("text", text).Msg("chat")
	e.emit(events.EventChatMessage, events.ChatPayload{Admiral: admiral, Player: name, Text: text})
}

func (e *Engine) clearPending() {
	e.received = [protocol.MaxAdmirals]bool{}
	e.pending = [protocol.MaxAdmirals]protocol.Command{}
	e.sampleSet = false
	e.sample = 0
}

// primeTick marks the current tick as received with empty input.
func (e *Engine) primeTick() {
	if e.primed <= 0 {
		return
	}
	for a := range e.active {
		if e.active[a] {
			e.received[a] = true
			e.pending[a] = protocol.Command{Time: e.now, Admiral: uint8(a), Ship: protocol.NoShip}
		}
	}
}

// Step runs one frame: send the pending local command, take in the
// network, and execute now if every admiral has reported. While stalled it
// asks the missing peers to resend every ResendDelay frames and lets the
// barrier policy accept repeated input instead. It reports whether a tick
// was executed.
func (e *Engine) Step(in Input) (bool, error) {
	if !e.running {
		return false, ErrNotRunning
	}
	e.SetKeys(in.Keys)

	var errs []error
	if !e.sentCurrent {
		if err := e.SendTick(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.ReceiveTick(); err != nil && !errors.Is(err, ErrNotRunning) {
		errs = append(errs, err)
	}
	if !e.running {
		return false, errors.Join(errs...)
	}
	e.DrainDue()

	if !e.Ready() {
		e.stalled++
		missing := e.Missing()
		if e.session.Flags().ResendOnRequest && e.stalled%e.session.ResendDelay() == 0 {
			e.requestResends(missing)
		}
		if e.policy == nil || !e.policy.AcceptSubstitute(e.now, missing, e.stalled) {
			return false, errors.Join(errs...)
		}
		e.substitute(missing)
	}

	if err := e.ExecuteTick(); err != nil {
		errs = append(errs, err)
	}
	return true, errors.Join(errs...)
}

func (e *Engine) requestResends(missing []uint8) {
	payload := protocol.BuildResendRequest(protocol.ResendRequest{Time: e.now})
	for _, a := range missing {
		if a == e.local {
			continue
		}
		p, ok := e.session.PlayerForAdmiral(int(a))
		if !ok {
			continue
		}
		if err := e.session.Send(protocol.KindResendRequest, p.ID, payload); err != nil {
			e.logger.Warn().Err(err).Uint8("admiral", a).Msg("failed to request resend")
		}
	}
	e.logger.Debug().Uint32("tick", uint32(e.now)).Int("stalled", e.stalled).Ints("missing", toInts(missing)).Msg("waiting for admirals")
	e.emit(events.EventStall, events.StallPayload{Tick: uint32(e.now), Frames: e.stalled, Missing: missing})
}

// substitute repeats the last known keys of each missing admiral.
func (e *Engine) substitute(missing []uint8) {
	for _, a := range missing {
		e.received[a] = true
		e.pending[a] = protocol.Command{Time: e.now, Admiral: a, Keys: e.lastKeys[a], Ship: protocol.NoShip}
	}
	e.logger.Warn().Uint32("tick", uint32(e.now)).Ints("admirals", toInts(missing)).Msg("substituting input for stalled admirals")
}

func (e *Engine) playerJoined(msg *transport.Message) {
	info, err := protocol.ParsePlayerInfo(msg.Payload)
	if err != nil {
		return
	}
	if _, err := e.session.AddPlayer(session.Player{ID: msg.From, Name: info.Name, Race: info.Race, Color: info.Color}); err != nil {
		e.logger.Warn().Err(err).Str("player", info.Name).Msg("no slot for joining player")
		return
	}
	e.logger.Info().Uint8("id", uint8(msg.From)).Str("player", info.Name).Msg("player joined running game")
	e.emit(events.EventPlayerJoined, events.PlayerPayload{
		SessionID: e.session.ID(),
		PlayerID:  uint8(msg.From),
		Name:      info.Name,
		Admiral:   session.NoAdmiral,
		Players:   e.session.PlayerCount(),
	})
}

func (e *Engine) playerLeft(id transport.PlayerID) {
	p, ok := e.session.RemovePlayer(id)
	if !ok {
		return
	}
	if p.Admiral != session.NoAdmiral {
		e.active[p.Admiral] = false
		e.received[p.Admiral] = false
	}
	e.endable = true
	e.logger.Info().Uint8("id", uint8(id)).Str("player", p.Name).Int("admiral", p.Admiral).Msg("player left running game")
	e.emit(events.EventPlayerLeft, events.PlayerPayload{
		SessionID: e.session.ID(),
		PlayerID:  uint8(id),
		Name:      p.Name,
		Admiral:   p.Admiral,
		Players:   e.session.PlayerCount(),
	})
}

func (e *Engine) gameTerminated() {
	e.terminated = true
	e.session.MarkTerminated()
	e.emit(events.EventGameTerminated, events.SessionStatePayload{
		SessionID: e.session.ID(),
		From:      events.SessionRunning,
		To:        events.SessionTerminated,
	})
	if err := e.stop("game terminated by host"); err != nil {
		e.logger.Warn().Err(err).Msg("stop after termination")
	}
}

func (e *Engine) stop(reason string) error {
	e.running = false
	e.queue.Reset()
	e.sent.Reset()
	return e.session.Stop(reason)
}

// Stop ends the game locally.
func (e *Engine) Stop(reason string) error {
	if !e.running {
		return nil
	}
	return e.stop(reason)
}

// Running reports whether the engine is executing ticks.
func (e *Engine) Running() bool {
	return e.running
}

// Now returns the next tick to execute.
func (e *Engine) Now() gametime.Time {
	return e.now
}

func (e *Engine) activeList() []int {
	var out []int
	for a, on := range e.active {
		if on {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) emitProtocolError(t events.EventType, w protocol.Words, err error) {
	e.emit(t, events.ProtocolErrorPayload{Tick: uint32(w.Time()), Admiral: w.Admiral(), Error: err.Error()})
}

func (e *Engine) emit(t events.EventType, payload interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(context.Background(), events.Event{Type: t, Source: "lockstep", Payload: payload})
}

func toInts(v []uint8) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}
