// Package session owns the lifetime of one network game: the transport,
// the state machine from hosting or joining through running, the player
// table and the delivery policy applied to everything sent.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/transport"
)

var (
	// ErrSessionFull is returned by AddPlayer when all slots are taken.
	ErrSessionFull = errors.New("session full")
	// ErrBadState is returned for a transition the current state does not allow.
	ErrBadState = errors.New("invalid session state")
	// ErrUnknownPlayer is returned for an id that is not in the table.
	ErrUnknownPlayer = errors.New("unknown player")
)

// Role tells whether this node hosts or joined.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleJoiner
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleJoiner:
		return "joiner"
	default:
		return "none"
	}
}

// Flags are the negotiated protocol options.
type Flags struct {
	ResendOnRequest    bool `json:"resend_on_request"`
	BandwidthReduction bool `json:"bandwidth_reduction"`
}

// PreferencesStore persists player preferences between sessions.
type PreferencesStore interface {
	LoadPreferences(ctx context.Context) (config.Preferences, error)
	SavePreferences(ctx context.Context, p config.Preferences) error
}

// Record summarises a finished session for the history log.
type Record struct {
	ID        string
	Role      string
	GameName  string
	StartedAt time.Time
	EndedAt   time.Time
	Players   int
	Latency   int
	Desynced  bool
	Reason    string
}

// HistoryRecorder stores finished sessions.
type HistoryRecorder interface {
	RecordSession(ctx context.Context, r Record) error
}

// Options configure a Session.
type Options struct {
	Transport    transport.Transport
	Bus          *events.EventBus
	Preferences  PreferencesStore
	History      HistoryRecorder
	Registration protocol.RegistrationLevel
	Flags        Flags
	ResendDelay  int
}

// HostParams describe a game to host.
type HostParams struct {
	GameName   string
	PlayerName string
	Password   string
	ListenAddr string
	MaxPlayers int
	Race       uint8
	Color      uint8
	Flags      Flags
}

// JoinParams describe a game to join.
type JoinParams struct {
	Address    string
	PlayerName string
	Password   string
	Race       uint8
	Color      uint8
	Timeout    time.Duration
}

// Session is the explicit owner of all per-game network state.
type Session struct {
	mu sync.RWMutex

	id       string
	state    events.SessionState
	role     Role
	gameName string

	tr      transport.Transport
	bus     *events.EventBus
	store   PreferencesStore
	history HistoryRecorder
	prefs   config.Preferences

	players Table
	level   protocol.RegistrationLevel
	flags   Flags
	latency int
	delay   int

	startedAt time.Time
	runningAt time.Time
	desynced  bool

	logger zerolog.Logger
}

// New creates an idle session. Stored preferences, if any, are loaded and
// their registration level, resend delay and flags replace the options.
func New(opts Options) *Session {
	s := &Session{
		state:   events.SessionIdle,
		tr:      opts.Transport,
		bus:     opts.Bus,
		store:   opts.Preferences,
		history: opts.History,
		level:   opts.Registration,
		flags:   opts.Flags,
		delay:   opts.ResendDelay,
		logger:  log.With().Str("component", "session").Logger(),
	}
	if !s.level.Valid() {
		s.level = protocol.RegisterResends
	}
	if s.delay < 1 {
		s.delay = 1
	}

	if s.store != nil {
		prefs, err := s.store.LoadPreferences(context.Background())
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to load preferences")
		} else {
			s.prefs = prefs
			s.restore(prefs)
		}
	}
	return s
}

// restore applies saved protocol settings. Preferences that were never
// saved carry no resend delay and are ignored.
func (s *Session) restore(p config.Preferences) {
	if p.ResendDelay < 1 {
		return
	}
	s.delay = p.ResendDelay
	if level := protocol.RegistrationLevel(p.RegistrationLevel); level.Valid() {
		s.level = level
	}
	s.flags = Flags{ResendOnRequest: p.ResendOnRequest, BandwidthReduction: p.BandwidthReduction}
	s.logger.Debug().
		Int("level", int(s.level)).
		Int("resend_delay", s.delay).
		Bool("resend_on_request", s.flags.ResendOnRequest).
		Bool("bandwidth_reduction", s.flags.BandwidthReduction).
		Msg("restored protocol preferences")
}

// Host opens a game. On failure the transport is disposed and the session stays Idle.
func (s *Session) Host(ctx context.Context, p HostParams) error {
	s.mu.Lock()
	if s.state != events.SessionIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("host from %s: %w", state, ErrBadState)
	}
	s.mu.Unlock()

	local := protocol.PlayerInfo{Name: p.PlayerName, Race: p.Race, Color: p.Color}
	err := s.tr.Host(ctx, transport.HostOptions{
		ListenAddr: p.ListenAddr,
		GameName:   p.GameName,
		Password:   p.Password,
		MaxPlayers: p.MaxPlayers,
		Player:     local,
	})
	if err != nil {
		s.tr.Dispose()
		s.logger.Error().Err(err).Str("addr", p.ListenAddr).Msg("failed to host game")
		return fmt.Errorf("failed to host game: %w", err)
	}

	s.mu.Lock()
	s.begin(RoleHost, p.GameName)
	s.flags = p.Flags
	s.players.Add(Player{ID: s.tr.LocalID(), Name: p.PlayerName, Race: p.Race, Color: p.Color, Local: true})
	s.mu.Unlock()

	s.transition(events.SessionHosting)
	return nil
}

// Join connects to a hosted game. Errors are *JoinError.
func (s *Session) Join(ctx context.Context, p JoinParams) error {
	s.mu.Lock()
	if s.state != events.SessionIdle {
		state := s.state
		s.mu.Unlock()
		return &JoinError{Outcome: OutcomeUnexpected, Err: fmt.Errorf("join from %s: %w", state, ErrBadState)}
	}
	s.mu.Unlock()

	approved, err := s.tr.Join(ctx, transport.JoinOptions{
		Address:  p.Address,
		Password: p.Password,
		Player:   protocol.PlayerInfo{Name: p.PlayerName, Race: p.Race, Color: p.Color},
		Timeout:  p.Timeout,
	})
	if err != nil {
		s.tr.Dispose()
		je := &JoinError{Outcome: ClassifyJoinError(err), Err: err}
		s.logger.Warn().Err(err).Str("address", p.Address).Str("outcome", je.Outcome.String()).Msg("join failed")
		return je
	}

	s.mu.Lock()
	s.begin(RoleJoiner, approved.GameName)
	for _, info := range approved.Players {
		id := transport.PlayerID(info.ID)
		s.players.Add(Player{ID: id, Name: info.Name, Race: info.Race, Color: info.Color, Local: id == s.tr.LocalID()})
	}
	if _, ok := s.players.Get(s.tr.LocalID()); !ok {
		s.players.Add(Player{ID: s.tr.LocalID(), Name: p.PlayerName, Race: p.Race, Color: p.Color, Local: true})
	}
	s.mu.Unlock()

	s.transition(events.SessionJoining)
	return nil
}

// begin resets per-game state. Called with mu held.
func (s *Session) begin(role Role, gameName string) {
	s.id = uuid.NewString()
	s.role = role
	s.gameName = gameName
	s.players.Reset()
	s.latency = 0
	s.desynced = false
	s.startedAt = time.Now()
	s.runningAt = time.Time{}
	s.logger = log.With().Str("component", "session").Str("session", s.id).Str("role", role.String()).Logger()
}

// Confirm closes the lobby: Hosting to Starting.
func (s *Session) Confirm() error {
	if err := s.transitionFrom(events.SessionStarting, events.SessionHosting); err != nil {
		return err
	}
	s.tr.SetAdvertising(false)
	return nil
}

// Accept records that the local player accepted an invitation: Joining to Starting.
func (s *Session) Accept() error {
	return s.transitionFrom(events.SessionStarting, events.SessionJoining)
}

// BeginRunning enters lock-step play with the agreed latency.
func (s *Session) BeginRunning(latency int) error {
	if err := s.transitionFrom(events.SessionRunning, events.SessionStarting); err != nil {
		return err
	}
	s.mu.Lock()
	s.latency = latency
	s.runningAt = time.Now()
	s.mu.Unlock()
	return nil
}

// MarkTerminated records that the remote side ended the game.
func (s *Session) MarkTerminated() {
	s.mu.RLock()
	active := s.state.Active() && s.state != events.SessionTerminated
	s.mu.RUnlock()
	if active {
		s.transition(events.SessionTerminated)
	}
}

// SetDesynced flags the session history entry.
func (s *Session) SetDesynced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desynced = true
}

// Stop tears the session down from any state and returns it to Idle. It
// disposes the transport, saves preferences and records history.
// Calling Stop on an idle session does nothing.
func (s *Session) Stop(reason string) error {
	s.mu.Lock()
	if s.state == events.SessionIdle {
		s.mu.Unlock()
		return nil
	}

	var errs []error
	if err := s.tr.Dispose(); err != nil {
		errs = append(errs, fmt.Errorf("failed to dispose transport: %w", err))
	}

	now := time.Now()
	played := 0.0
	if !s.runningAt.IsZero() {
		played = now.Sub(s.runningAt).Minutes()
	}

	s.prefs.MinutesPlayed += int(played + 0.5)
	s.prefs.ResendDelay = s.delay
	s.prefs.RegistrationLevel = int(s.level)
	s.prefs.ResendOnRequest = s.flags.ResendOnRequest
	s.prefs.BandwidthReduction = s.flags.BandwidthReduction
	if s.latency > 0 {
		s.prefs.Latency = s.latency
	}
	if local, ok := s.players.Local(); ok {
		s.prefs.PlayerName = local.Name
	}
	if s.role == RoleHost {
		s.prefs.GameName = s.gameName
	}
	prefs := s.prefs

	rec := Record{
		ID:        s.id,
		Role:      s.role.String(),
		GameName:  s.gameName,
		StartedAt: s.startedAt,
		EndedAt:   now,
		Players:   s.players.Count(),
		Latency:   s.latency,
		Desynced:  s.desynced,
		Reason:    reason,
	}
	id := s.id
	from := s.state

	s.state = events.SessionIdle
	s.role = RoleNone
	s.players.Reset()
	s.mu.Unlock()

	ctx := context.Background()
	if s.store != nil {
		if err := s.store.SavePreferences(ctx, prefs); err != nil {
			errs = append(errs, fmt.Errorf("failed to save preferences: %w", err))
		}
	}
	if s.history != nil {
		if err := s.history.RecordSession(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("failed to record session: %w", err))
		}
	}

	s.logger.Info().
		Str("reason", reason).
		Float64("minutes", played).
		Bool("desynced", rec.Desynced).
		Msg("session stopped")

	s.emit(events.EventSessionState, events.SessionStatePayload{SessionID: id, From: from, To: events.SessionIdle})
	s.emit(events.EventSessionStopped, events.SessionStoppedPayload{
		SessionID: id,
		Reason:    reason,
		Minutes:   played,
		Desynced:  rec.Desynced,
	})

	return errors.Join(errs...)
}

func (s *Session) transitionFrom(to events.SessionState, from ...events.SessionState) error {
	s.mu.RLock()
	cur := s.state
	s.mu.RUnlock()
	for _, f := range from {
		if cur == f {
			s.transition(to)
			return nil
		}
	}
	return fmt.Errorf("%s to %s: %w", cur, to, ErrBadState)
}

func (s *Session) transition(to events.SessionState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	id := s.id
	s.mu.Unlock()

	s.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("session state changed")
	s.emit(events.EventSessionState, events.SessionStatePayload{SessionID: id, From: from, To: to})
}

func (s *Session) emit(t events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(context.Background(), events.Event{Type: t, Source: "session", Payload: payload})
}

// Send transmits a message with the delivery the policy assigns to its kind.
func (s *Session) Send(kind protocol.Kind, to transport.PlayerID, payload []byte) error {
	mode := s.DeliveryMode(kind)
	return s.tr.Send(transport.Message{Kind: kind, To: to, Payload: payload}, mode)
}

// DeliveryMode applies the session's registration policy to kind.
func (s *Session) DeliveryMode(kind protocol.Kind) protocol.Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.DeliveryMode(kind, s.level, s.flags.BandwidthReduction)
}

// Transport returns the session's transport.
func (s *Session) Transport() transport.Transport {
	return s.tr
}

// ID returns the current session UUID, empty before the first Host or Join.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// State returns the current state.
func (s *Session) State() events.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Role returns whether this node hosts.
func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// GameName returns the hosted or joined game's name.
func (s *Session) GameName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gameName
}

// Level returns the registration level.
func (s *Session) Level() protocol.RegistrationLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// SetLevel changes the registration level. Invalid levels are rejected.
func (s *Session) SetLevel(l protocol.RegistrationLevel) error {
	if !l.Valid() {
		return fmt.Errorf("registration level %d out of range", int(l))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = l
	return nil
}

// Flags returns the protocol flags.
func (s *Session) Flags() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// SetFlags replaces the protocol flags.
func (s *Session) SetFlags(f Flags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = f
}

// Latency returns the agreed latency in ticks, zero before Running.
func (s *Session) Latency() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latency
}

// ResendDelay returns the number of stalled frames between resend requests.
func (s *Session) ResendDelay() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delay
}

// SetResendDelay sets the stalled-frame interval between resend requests.
func (s *Session) SetResendDelay(frames int) {
	if frames < 1 {
		frames = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = frames
}

// Preferences returns the in-memory preferences.
func (s *Session) Preferences() config.Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// RecordResult adds one game outcome to the statistics.
func (s *Session) RecordResult(kills, losses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.Kills += kills
	s.prefs.Losses += losses
}

// Snapshot is a read-only view of the session for status consumers.
type Snapshot struct {
	ID          string              `json:"id"`
	State       events.SessionState `json:"state"`
	Role        string              `json:"role"`
	GameName    string              `json:"game_name"`
	Level       int                 `json:"registration_level"`
	Flags       Flags               `json:"flags"`
	Latency     int                 `json:"latency"`
	ResendDelay int                 `json:"resend_delay"`
	Players     []Player            `json:"players"`
	StartedAt   time.Time           `json:"started_at"`
	RunningAt   time.Time           `json:"running_at"`
	Desynced    bool                `json:"desynced"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:          s.id,
		State:       s.state,
		Role:        s.role.String(),
		GameName:    s.gameName,
		Level:       int(s.level),
		Flags:       s.flags,
		Latency:     s.latency,
		ResendDelay: s.delay,
		Players:     s.players.All(),
		StartedAt:   s.startedAt,
		RunningAt:   s.runningAt,
		Desynced:    s.desynced,
	}
}
