package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/netgame"
	"github.com/ares-project/aresnet/internal/session"
	"github.com/ares-project/aresnet/internal/transport"
)

func newTestCLI(t *testing.T, in string) (*CLI, *bytes.Buffer, *events.EventBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Player.Name = "Tester"
	cfg.Network.TickRate = 120

	bus := events.NewEventBus()
	mgr := netgame.New(netgame.Options{Config: cfg, Bus: bus, Transport: transport.NewHub().Endpoint()})
	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-mgr.Done()
		bus.Stop()
	})

	out := &bytes.Buffer{}
	return NewCLI(cfg, bus, mgr, nil, strings.NewReader(in), out), out, bus
}

func TestExecute_Help(t *testing.T) {
	c, out, _ := newTestCLI(t, "")
	if err := c.Execute(context.Background(), "help"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "aresnet console commands") {
		t.Fatalf("help output: %s", out.String())
	}

	out.Reset()
	if err := c.Execute(context.Background(), "frobnicate"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Unknown command: 'frobnicate'") {
		t.Fatalf("unknown command output: %s", out.String())
	}
}

func TestExecute_Keys(t *testing.T) {
	c, out, _ := newTestCLI(t, "")
	ctx := context.Background()

	if err := c.Execute(ctx, "keys thrust fire"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Keys: thrust,fire") {
		t.Fatalf("output: %s", out.String())
	}
	if err := c.Execute(ctx, "keys warpdrive"); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestExecute_InGameCommandsNeedGame(t *testing.T) {
	c, _, _ := newTestCLI(t, "")
	ctx := context.Background()

	if err := c.Execute(ctx, "menu 0 1"); !errors.Is(err, netgame.ErrNotInGame) {
		t.Fatalf("menu err = %v", err)
	}
	if err := c.Execute(ctx, "menu 0"); err == nil {
		t.Fatal("menu without line accepted")
	}
	if err := c.Execute(ctx, "select 300"); err == nil {
		t.Fatal("out of range ship accepted")
	}
	if err := c.Execute(ctx, "say"); err == nil {
		t.Fatal("empty say accepted")
	}
}

func TestExecute_Set(t *testing.T) {
	c, out, _ := newTestCLI(t, "")
	ctx := context.Background()

	if err := c.Execute(ctx, "set flags bw=on resend=off"); err != nil {
		t.Fatal(err)
	}
	f := c.manager.Session().Flags()
	if !f.BandwidthReduction || f.ResendOnRequest {
		t.Fatalf("flags = %+v", f)
	}
	if err := c.Execute(ctx, "set flags turbo=on"); err == nil {
		t.Fatal("unknown flag accepted")
	}

	if err := c.Execute(ctx, "set delay 0"); err == nil {
		t.Fatal("zero delay accepted")
	}
	if err := c.Execute(ctx, "set level 2"); err != nil {
		t.Fatal(err)
	}
	if c.manager.Session().Level() != 2 {
		t.Fatal("level not applied")
	}

	if err := c.Execute(ctx, "set game_name Nebula Run"); err != nil {
		t.Fatal(err)
	}
	if c.cfg.GetNetwork().GameName != "Nebula Run" {
		t.Fatalf("game name = %q", c.cfg.GetNetwork().GameName)
	}
	if err := c.Execute(ctx, "set tick_rate 0"); err == nil {
		t.Fatal("invalid tick rate accepted")
	}
	if c.cfg.GetNetwork().TickRate != 120 {
		t.Fatal("invalid value was not rolled back")
	}
	if !strings.Contains(out.String(), "Config updated: game_name = Nebula Run") {
		t.Fatalf("output: %s", out.String())
	}
}

func TestExecute_HistoryUnavailable(t *testing.T) {
	c, _, _ := newTestCLI(t, "")
	if err := c.Execute(context.Background(), "history"); err == nil {
		t.Fatal("history without a store should fail")
	}
}

func TestStart_QuitEmitsShutdown(t *testing.T) {
	c, out, bus := newTestCLI(t, "status\nquit\n")

	shutdown := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, e events.Event) error {
		shutdown <- struct{}{}
		return nil
	})

	c.Start(context.Background())

	select {
	case <-shutdown:
	case <-time.After(5 * time.Second):
		t.Fatal("quit did not emit shutdown")
	}
	if !strings.Contains(out.String(), "Shutting down aresnet") {
		t.Fatalf("output: %s", out.String())
	}
}

func TestParseFlags(t *testing.T) {
	f, err := parseFlags(session.Flags{ResendOnRequest: true}, []string{"bandwidth=1"})
	if err != nil {
		t.Fatal(err)
	}
	if !f.ResendOnRequest || !f.BandwidthReduction {
		t.Fatalf("flags = %+v", f)
	}
	if _, err := parseFlags(f, []string{"resend"}); err == nil {
		t.Fatal("flag without value accepted")
	}
	if _, err := parseFlags(f, []string{"resend=maybe"}); err == nil {
		t.Fatal("bad value accepted")
	}
}

func TestParseValue(t *testing.T) {
	if v, ok := parseValue("30").(float64); !ok || v != 30 {
		t.Fatalf("number = %v", parseValue("30"))
	}
	if v, ok := parseValue("true").(bool); !ok || !v {
		t.Fatalf("bool = %v", parseValue("true"))
	}
	if v, ok := parseValue("Nebula").(string); !ok || v != "Nebula" {
		t.Fatalf("string = %v", parseValue("Nebula"))
	}
}
