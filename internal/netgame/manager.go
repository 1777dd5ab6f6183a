// Package netgame runs one node of a network game. A single frame-loop
// goroutine owns the session, the pre-game negotiator, the lock-step engine
// and the stand-in world; everything else talks to it through requests and
// reads the status board it publishes after every frame.
package netgame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/handshake"
	"github.com/ares-project/aresnet/internal/lockstep"
	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/session"
	"github.com/ares-project/aresnet/internal/sim"
	"github.com/ares-project/aresnet/internal/transport"
)

var (
	// ErrStopped is returned for requests made after the frame loop exited.
	ErrStopped = errors.New("frame loop stopped")
	// ErrNotInGame is returned for in-game commands outside a running game.
	ErrNotInGame = errors.New("no game running")
)

const (
	requestQueueSize = 16
	connectTimeout   = 10 * time.Second
)

// Options configure a Manager.
type Options struct {
	Config      *config.Config
	Bus         *events.EventBus
	Transport   transport.Transport
	Preferences session.PreferencesStore
	History     session.HistoryRecorder

	// Scenario lays out the world. Nil uses the built-in scenario.
	Scenario *sim.Scenario
	// Identity is what the handshake compares with the other players.
	Identity protocol.ScenarioIdentity
}

type request struct {
	name string
	fn   func() error
	done chan error
}

// Manager is the frame loop of one node.
type Manager struct {
	cfg   *config.Config
	bus   *events.EventBus
	store session.PreferencesStore

	session *session.Session
	nego    *handshake.Negotiator
	engine  *lockstep.Engine
	world   *sim.World

	interval time.Duration
	requests chan request
	done     chan struct{}
	stopOnce sync.Once

	// frame loop state
	keys    protocol.KeyState
	playing bool
	admiral uint8
	frames  uint64
	lastErr string

	mu     sync.RWMutex
	status Status

	logger zerolog.Logger
}

// New wires a session, negotiator, engine and world from the configuration.
// Without a transport in opts a UDP transport is created.
func New(opts Options) *Manager {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	n := cfg.GetNetwork()

	tr := opts.Transport
	if tr == nil {
		tr = transport.NewUDP(UDPConfig(n))
	}

	m := &Manager{
		cfg:      cfg,
		bus:      opts.Bus,
		store:    opts.Preferences,
		interval: frameInterval(n.TickRate),
		requests: make(chan request, requestQueueSize),
		done:     make(chan struct{}),
		logger:   log.With().Str("component", "netgame").Logger(),
	}
	m.session = session.New(session.Options{
		Transport:    tr,
		Bus:          opts.Bus,
		Preferences:  opts.Preferences,
		History:      opts.History,
		Registration: protocol.RegistrationLevel(n.RegistrationLevel),
		Flags: session.Flags{
			ResendOnRequest:    n.ResendOnRequest,
			BandwidthReduction: n.BandwidthReduce,
		},
		ResendDelay: n.ResendDelay,
	})
	m.world = sim.New(opts.Scenario)
	m.nego = handshake.New(handshake.Options{
		Session:  m.session,
		Bus:      opts.Bus,
		Scenario: opts.Identity,
		Latency:  n.Latency,
		TickRate: n.TickRate,
	})
	m.engine = lockstep.New(lockstep.Options{
		Session:         m.session,
		Bus:             opts.Bus,
		Collaborators:   m.world.Collaborators(),
		Policy:          lockstep.StallTimeout{Frames: n.SubstituteFrames},
		BackupTicks:     n.BackupTicks,
		ThrottleLatency: n.ThrottleLatency,
		DesyncGrace:     n.DesyncGraceTicks,
	})
	m.publish()
	return m
}

// UDPConfig derives transport tuning from the network configuration.
func UDPConfig(n config.NetworkConfig) transport.UDPConfig {
	c := transport.DefaultUDPConfig()
	if n.RetransmitMillis > 0 {
		c.RetransmitInterval = time.Duration(n.RetransmitMillis) * time.Millisecond
	}
	if n.PeerTimeoutSec > 0 {
		c.PeerTimeout = time.Duration(n.PeerTimeoutSec) * time.Second
	}
	if n.JoinTimeoutSec > 0 {
		c.JoinTimeout = time.Duration(n.JoinTimeoutSec) * time.Second
	}
	if n.InboundRate > 0 {
		c.InboundRate = n.InboundRate
	}
	return c
}

func frameInterval(tickRate int) time.Duration {
	if tickRate <= 0 {
		tickRate = config.DefaultTickRate
	}
	return time.Second / time.Duration(tickRate)
}

// Session returns the session owned by the frame loop. Only its
// mutex-guarded accessors may be used from other goroutines.
func (m *Manager) Session() *session.Session {
	return m.session
}

// Run drives frames until ctx is cancelled, then leaves any game.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.stopOnce.Do(func() { close(m.done) })

	m.logger.Info().Dur("interval", m.interval).Msg("frame loop started")
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case req := <-m.requests:
			err := req.fn()
			if err != nil {
				m.lastErr = fmt.Sprintf("%s: %v", req.name, err)
			}
			req.done <- err
			m.publish()
		case <-ticker.C:
			m.frame()
		}
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) frame() {
	m.frames++
	state := m.session.State()

	switch {
	case m.engine.Running():
		if state == events.SessionRunning {
			if _, err := m.engine.Step(lockstep.Input{Keys: m.keys}); err != nil {
				m.logger.Debug().Err(err).Uint32("tick", uint32(m.engine.Now())).Msg("frame step reported errors")
			}
		} else if err := m.engine.Stop("session ended"); err != nil {
			m.logger.Warn().Err(err).Msg("failed to stop engine")
		}
		if !m.engine.Running() {
			m.gameEnded()
		}

	case state == events.SessionHosting, state == events.SessionJoining, state == events.SessionStarting:
		res, err := m.nego.Poll()
		if err != nil {
			m.lastErr = err.Error()
			m.logger.Warn().Err(err).Msg("pre-game exchange ended")
		}
		if res.Started {
			m.startGame(res.Start)
		}

	case state == events.SessionTerminated, state == events.SessionRunning:
		// Running without an engine happens when the start failed.
		if err := m.session.Stop("game over"); err != nil {
			m.logger.Warn().Err(err).Msg("failed to stop session")
		}
	}
	m.publish()
}

func (m *Manager) startGame(info lockstep.StartInfo) {
	m.world.Reset(info.Seed)
	if err := m.engine.Start(info); err != nil {
		m.lastErr = err.Error()
		m.logger.Error().Err(err).Msg("failed to start lock-step play")
		if stopErr := m.session.Stop("start failed"); stopErr != nil {
			m.logger.Warn().Err(stopErr).Msg("failed to stop session")
		}
		return
	}
	for _, msg := range m.nego.Deferred() {
		if err := m.engine.Deliver(msg); err != nil {
			m.logger.Warn().Err(err).Msg("failed to deliver early game message")
		}
	}
	m.playing = true
	m.keys = 0
	m.admiral = m.engine.Status().LocalAdmiral
	m.logger.Info().
		Uint32("start", uint32(info.StartTime)).
		Int("latency", info.Latency).
		Uint8("admiral", m.admiral).
		Str("scenario", m.world.Scenario().Name).
		Msg("game started")
}

// recordResult adds the local admiral's kills and losses to the statistics
// once per game.
func (m *Manager) recordResult() {
	if !m.playing {
		return
	}
	m.playing = false
	kills, losses := m.world.Result(m.admiral)
	m.session.RecordResult(kills, losses)
	m.logger.Info().Int("kills", kills).Int("losses", losses).Msg("game result recorded")
}

// gameEnded handles a game that stopped on its own: the session already
// saved its preferences, so the result is saved separately.
func (m *Manager) gameEnded() {
	if !m.playing {
		return
	}
	m.nego.Reset()
	m.recordResult()
	if m.store == nil {
		return
	}
	if err := m.store.SavePreferences(context.Background(), m.session.Preferences()); err != nil {
		m.logger.Warn().Err(err).Msg("failed to save game result")
	}
}

// leave ends whatever the node is doing.
func (m *Manager) leave(reason string) error {
	if m.engine.Running() {
		m.recordResult()
		return m.engine.Stop(reason)
	}
	state := m.session.State()
	if state == events.SessionHosting || (state == events.SessionStarting && m.session.Role() == session.RoleHost) {
		return m.nego.Cancel()
	}
	m.nego.Reset()
	return m.session.Stop(reason)
}

func (m *Manager) shutdown() {
	if err := m.leave("shutdown"); err != nil {
		m.logger.Warn().Err(err).Msg("failed to leave game on shutdown")
	}
	m.publish()
	m.logger.Info().Uint64("frames", m.frames).Msg("frame loop stopped")
}
