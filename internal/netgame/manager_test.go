package netgame

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/protocol"
	"github.com/ares-project/aresnet/internal/session"
	"github.com/ares-project/aresnet/internal/transport"
)

type memPrefs struct {
	mu    sync.Mutex
	saved []config.Preferences
}

func (p *memPrefs) LoadPreferences(ctx context.Context) (config.Preferences, error) {
	return config.Preferences{}, nil
}

func (p *memPrefs) SavePreferences(ctx context.Context, prefs config.Preferences) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, prefs)
	return nil
}

func (p *memPrefs) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

var identity = protocol.ScenarioIdentity{Filename: "default", Version: 1, Checksum: 0x5eed}

func startManager(t *testing.T, hub *transport.Hub, prefs session.PreferencesStore) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Network.TickRate = 120

	m := New(Options{Config: cfg, Transport: hub.Endpoint(), Preferences: prefs, Identity: identity})
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_PlaysNetworkGame(t *testing.T) {
	hub := transport.NewHub()
	joinPrefs := &memPrefs{}
	host := startManager(t, hub, nil)
	join := startManager(t, hub, joinPrefs)
	ctx := context.Background()

	if err := host.Host(ctx, session.HostParams{ListenAddr: "arena", GameName: "Arena", PlayerName: "A"}); err != nil {
		t.Fatalf("Host: %v", err)
	}
	if err := join.Join(ctx, session.JoinParams{Address: "arena", PlayerName: "B"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, "invitation accepted", func() bool { return host.Status().Accepted == 1 })

	if err := host.Say(ctx, "ready?"); err != nil {
		t.Fatalf("lobby Say: %v", err)
	}
	waitFor(t, "lobby text", func() bool {
		lobby := join.Status().Lobby
		return len(lobby) == 1 && lobby[0].Text == "ready?"
	})

	if err := host.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	waitFor(t, "both engines running", func() bool {
		return host.Status().Engine.Running && join.Status().Engine.Running
	})

	if err := host.SetKeys(ctx, protocol.KeyThrust|protocol.KeyTurnLeft); err != nil {
		t.Fatal(err)
	}
	if err := join.Say(ctx, "gg"); err != nil {
		t.Fatalf("in-game Say: %v", err)
	}
	waitFor(t, "chat line at host", func() bool {
		for _, line := range host.Status().World.Chat {
			if line.Admiral == 1 && line.Text == "gg" {
				return true
			}
		}
		return false
	})
	waitFor(t, "ticks executed", func() bool {
		return host.Status().Engine.Executed > 60 && join.Status().Engine.Executed > 60
	})

	for _, m := range []*Manager{host, join} {
		st := m.Status()
		if st.Engine.Desynced {
			t.Fatalf("desync raised: %+v", st.Engine)
		}
		if st.Session.Latency < 2 {
			t.Fatalf("latency = %d", st.Session.Latency)
		}
	}
	if got := host.Status().Keys; len(got) != 2 {
		t.Fatalf("keys = %v", got)
	}

	if err := host.Leave(ctx, "done"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	waitFor(t, "joiner back to idle", func() bool {
		return join.Status().Session.State == events.SessionIdle && !join.Status().Engine.Running
	})
	waitFor(t, "joiner result saved", func() bool { return joinPrefs.count() >= 2 })
}

func TestManager_RejectsInGameCommandsWhenIdle(t *testing.T) {
	m := startManager(t, transport.NewHub(), nil)
	ctx := context.Background()

	if err := m.Menu(ctx, 0, 1); !errors.Is(err, ErrNotInGame) {
		t.Fatalf("Menu err = %v", err)
	}
	if err := m.Say(ctx, "hello"); !errors.Is(err, ErrNotInGame) {
		t.Fatalf("Say err = %v", err)
	}
	if err := m.SetResendDelay(ctx, 0); err == nil {
		t.Fatal("zero resend delay accepted")
	}
	if err := m.SetResendDelay(ctx, 4); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "status refresh", func() bool { return m.Status().Session.ResendDelay == 4 })
}

func TestManager_SoloGame(t *testing.T) {
	m := startManager(t, transport.NewHub(), nil)
	ctx := context.Background()

	if err := m.Host(ctx, session.HostParams{ListenAddr: "solo", GameName: "Solo", PlayerName: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Menu(ctx, 0, 0); err != nil {
		t.Fatalf("Menu: %v", err)
	}
	waitFor(t, "fighter built", func() bool { return m.Status().World.Fleets[0].Ships == 2 })

	if err := m.Leave(ctx, "quit"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "idle", func() bool { return m.Status().Session.State == events.SessionIdle })
}

func TestManager_StoppedLoopRejectsRequests(t *testing.T) {
	m := New(Options{Transport: transport.NewHub().Endpoint()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.SetKeys(context.Background(), protocol.KeyThrust); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestParseKeys(t *testing.T) {
	keys, err := ParseKeys([]string{"Thrust", "fire", ""})
	if err != nil {
		t.Fatal(err)
	}
	if keys != protocol.KeyThrust|protocol.KeyFirePulse {
		t.Fatalf("keys = %b", keys)
	}
	if names := KeyNames(keys); len(names) != 2 || names[0] != "thrust" || names[1] != "fire" {
		t.Fatalf("names = %v", names)
	}
	if keys, _ := ParseKeys([]string{"none"}); keys != 0 {
		t.Fatal("none should release every key")
	}
	if _, err := ParseKeys([]string{"hyperdrive"}); err == nil {
		t.Fatal("unknown key accepted")
	}
}
