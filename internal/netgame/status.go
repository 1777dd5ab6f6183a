package netgame

import (
	"time"

	"github.com/ares-project/aresnet/internal/handshake"
	"github.com/ares-project/aresnet/internal/lockstep"
	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/session"
	"github.com/ares-project/aresnet/internal/sim"
	"github.com/ares-project/aresnet/internal/transport"
)

// ScenarioInfo is the scenario identity as shown to observers.
type ScenarioInfo struct {
	Name     string `json:"name"`
	File     string `json:"file"`
	URL      string `json:"url,omitempty"`
	Version  uint32 `json:"version"`
	Checksum uint32 `json:"checksum"`
}

// Status is the board the frame loop publishes after every frame.
type Status struct {
	Session   session.Snapshot      `json:"session"`
	Engine    lockstep.Status       `json:"engine"`
	World     sim.Summary           `json:"world"`
	Transport transport.Stats       `json:"transport"`
	Lobby     []handshake.LobbyLine `json:"lobby"`
	Accepted  int                   `json:"accepted"`
	Scenario  ScenarioInfo          `json:"scenario"`
	Keys      []string              `json:"keys"`
	Frames    uint64                `json:"frames"`
	LastError string                `json:"last_error,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Status returns the latest published board. Safe from any goroutine.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) publish() {
	id := m.nego.Scenario()
	st := Status{
		Session:   m.session.Snapshot(),
		Engine:    m.engine.Status(),
		World:     m.world.Summary(),
		Transport: m.session.Transport().Stats(),
		Lobby:     m.nego.Lobby(),
		Accepted:  len(m.nego.Accepted()),
		Scenario:  scenarioInfo(m.world.Scenario(), id),
		Keys:      KeyNames(m.keys),
		Frames:    m.frames,
		LastError: m.lastErr,
		UpdatedAt: time.Now(),
	}

	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
}

func scenarioInfo(sc *sim.Scenario, id protocol.ScenarioIdentity) ScenarioInfo {
	return ScenarioInfo{
		Name:     sc.Name,
		File:     id.Filename,
		URL:      id.URL,
		Version:  id.Version,
		Checksum: id.Checksum,
	}
}

// StatusPayload returns the board for periodic telemetry.
func (m *Manager) StatusPayload() interface{} {
	return m.Status()
}
