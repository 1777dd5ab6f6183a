package netgame

import (
	"context"
	"fmt"

	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/session"
)

// do runs fn on the frame loop and waits for its result.
func (m *Manager) do(ctx context.Context, name string, fn func() error) error {
	req := request{name: name, fn: fn, done: make(chan error, 1)}
	select {
	case m.requests <- req:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HostParams builds host parameters from the configuration. Protocol flags
// come from the session, which restores them from saved preferences.
func (m *Manager) HostParams() session.HostParams {
	n := m.cfg.GetNetwork()
	p := m.cfg.GetPlayer()
	return session.HostParams{
		GameName:   n.GameName,
		PlayerName: p.Name,
		Password:   n.Password,
		ListenAddr: n.ListenAddr,
		MaxPlayers: n.MaxPlayers,
		Race:       uint8(p.Race),
		Color:      uint8(p.Color),
		Flags:      m.session.Flags(),
	}
}

// JoinParams builds join parameters from the configuration.
func (m *Manager) JoinParams() session.JoinParams {
	n := m.cfg.GetNetwork()
	p := m.cfg.GetPlayer()
	return session.JoinParams{
		Address:    n.Address,
		PlayerName: p.Name,
		Password:   n.Password,
		Race:       uint8(p.Race),
		Color:      uint8(p.Color),
	}
}

// Host opens a game.
func (m *Manager) Host(ctx context.Context, p session.HostParams) error {
	return m.do(ctx, "host", func() error {
		m.nego.Reset()
		m.engine.Reset()
		cctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return m.session.Host(cctx, p)
	})
}

// Join connects to a hosted game.
func (m *Manager) Join(ctx context.Context, p session.JoinParams) error {
	return m.do(ctx, "join", func() error {
		m.nego.Reset()
		m.engine.Reset()
		cctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return m.session.Join(cctx, p)
	})
}

// Begin closes the lobby and starts the game once every player is ready.
func (m *Manager) Begin(ctx context.Context) error {
	return m.do(ctx, "begin", func() error {
		res, err := m.nego.Begin()
		if err != nil {
			return err
		}
		if res.Started {
			m.startGame(res.Start)
		}
		return nil
	})
}

// Decline refuses the host's invitation.
func (m *Manager) Decline(ctx context.Context) error {
	return m.do(ctx, "decline", m.nego.Decline)
}

// Leave ends the current game, or cancels it for everyone while the host
// is still in the lobby.
func (m *Manager) Leave(ctx context.Context, reason string) error {
	return m.do(ctx, "leave", func() error {
		return m.leave(reason)
	})
}

// SetKeys replaces the local key state sent every tick.
func (m *Manager) SetKeys(ctx context.Context, keys protocol.KeyState) error {
	return m.do(ctx, "keys", func() error {
		m.keys = keys & protocol.KeyMask
		return nil
	})
}

// Menu queues a menu selection for the next tick.
func (m *Manager) Menu(ctx context.Context, page, line uint8) error {
	return m.inGame(ctx, "menu", func() error {
		return m.engine.QueueMenu(page, line)
	})
}

// Cheat queues a cheat code for the next tick.
func (m *Manager) Cheat(ctx context.Context, code uint8) error {
	return m.inGame(ctx, "cheat", func() error {
		return m.engine.QueueCheat(code)
	})
}

// Select queues a ship selection for the next tick.
func (m *Manager) Select(ctx context.Context, ship uint8, target bool) error {
	return m.inGame(ctx, "select", func() error {
		m.engine.SelectShip(ship, target)
		return nil
	})
}

// Say sends a chat line: lobby text before the game, one byte per tick
// during it.
func (m *Manager) Say(ctx context.Context, text string) error {
	return m.do(ctx, "say", func() error {
		if m.engine.Running() {
			return m.engine.SendChat(text)
		}
		if !m.session.State().Active() {
			return ErrNotInGame
		}
		return m.nego.SendText(text)
	})
}

// ResolveDesync cancels a pending desync stop.
func (m *Manager) ResolveDesync(ctx context.Context) error {
	return m.inGame(ctx, "resolve", func() error {
		m.engine.ResolveDesync()
		return nil
	})
}

// SetLevel changes the registration level.
func (m *Manager) SetLevel(ctx context.Context, level int) error {
	return m.do(ctx, "level", func() error {
		if err := m.session.SetLevel(protocol.RegistrationLevel(level)); err != nil {
			return err
		}
		m.emitConfig("registration_level", level)
		return nil
	})
}

// SetFlags changes the protocol flags.
func (m *Manager) SetFlags(ctx context.Context, f session.Flags) error {
	return m.do(ctx, "flags", func() error {
		m.session.SetFlags(f)
		m.emitConfig("flags", f)
		return nil
	})
}

// SetResendDelay changes the stalled-frame interval between resend requests.
func (m *Manager) SetResendDelay(ctx context.Context, frames int) error {
	return m.do(ctx, "resend_delay", func() error {
		if frames < 1 {
			return fmt.Errorf("resend delay %d: must be at least 1 frame", frames)
		}
		m.session.SetResendDelay(frames)
		m.emitConfig("resend_delay", frames)
		return nil
	})
}

func (m *Manager) inGame(ctx context.Context, name string, fn func() error) error {
	return m.do(ctx, name, func() error {
		if !m.engine.Running() {
			return ErrNotInGame
		}
		return fn()
	})
}

func (m *Manager) emitConfig(key string, value interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(context.Background(), events.Event{
		Type:    events.EventConfigChanged,
		Source:  "netgame",
		Payload: events.ConfigChangedPayload{Section: "session", Key: key, Value: value},
	})
}
