package sim

import (
	"strings"
	"testing"

	"github.com/ares-project/aresnet/internal/gametime"
	"github.com/ares-project/aresnet/internal/lockstep"
	"github.com/ares-project/aresnet/internal/protocol"
)

func TestParseScenario(t *testing.T) {
	sc := Default()
	if sc.Name != "Sector Seven" || sc.Credits != 500 || len(sc.Ships) != 4 {
		t.Fatalf("default scenario = %+v", sc)
	}
	if sc.Ships[1].Admiral != 1 || sc.Ships[1].X != 2000 || sc.Ships[1].Heading != 12 {
		t.Fatalf("ship 1 = %+v", sc.Ships[1])
	}

	bad := []struct {
		name string
		text string
	}{
		{"unknown class", "Ship: admiral=0 class=battlestar\n"},
		{"admiral out of range", "Ship: admiral=7 class=fighter\n"},
		{"no ships", "Scenario: Empty\nVersion: 2\n"},
	}
	for _, tt := range bad {
		if _, err := ParseScenario(strings.NewReader(tt.text)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func run(w *World, ticks int, keys func(tick int) protocol.KeyState) {
	for i := 0; i < ticks; i++ {
		if ship, ok := w.Flagship(0); ok {
			w.ApplyKeyState(ship, keys(i))
		}
		w.Advance(gametime.Time(i))
	}
}

func TestWorld_SameInputsSameSync(t *testing.T) {
	steady := func(tick int) protocol.KeyState {
		if tick%3 == 0 {
			return protocol.KeyThrust | protocol.KeyTurnLeft
		}
		return protocol.KeyThrust
	}
	a, b, c := New(nil), New(nil), New(nil)
	for _, w := range []*World{a, b, c} {
		w.Reset(1234)
	}

	run(a, 200, steady)
	run(b, 200, steady)
	run(c, 200, func(tick int) protocol.KeyState {
		if tick == 50 {
			return protocol.KeyReverse
		}
		return steady(tick)
	})

	if a.SyncValue() != b.SyncValue() {
		t.Fatalf("identical inputs diverged: %08x vs %08x", a.SyncValue(), b.SyncValue())
	}
	if a.SyncValue() == c.SyncValue() {
		t.Fatal("different inputs produced the same sync value")
	}
}

func TestWorld_BuildAndSelfDestruct(t *testing.T) {
	w := New(nil)
	w.Execute(PageBuild, 2, 0) // cruiser, 300 credits
	w.Execute(PageBuild, 2, 0) // not enough left

	f := w.Summary().Fleets[0]
	if f.Ships != 2 || f.Credits != 200 {
		t.Fatalf("fleet after build = %+v", f)
	}

	w.ExecuteCheat(CheatSelfDestruct, 0)
	f = w.Summary().Fleets[0]
	if f.Ships != 1 || f.Losses != 1 || f.Flagship != 4 {
		t.Fatalf("fleet after self destruct = %+v", f)
	}

	w.ExecuteCheat(CheatCredits, 0)
	if w.Summary().Fleets[0].Credits != 1200 {
		t.Fatal("credit cheat not applied")
	}
}

func TestWorld_FireDestroysTarget(t *testing.T) {
	sc, err := ParseScenario(strings.NewReader("Ship: admiral=0 x=0 y=0\nShip: admiral=1 x=100 y=0\n"))
	if err != nil {
		t.Fatal(err)
	}
	w := New(sc)
	w.Reset(99)
	w.Select(0, 1, true)

	run(w, 300, func(int) protocol.KeyState { return protocol.KeyFirePulse })

	if kills, _ := w.Result(0); kills != 1 {
		t.Fatalf("kills = %d, want 1", kills)
	}
	if _, losses := w.Result(1); losses != 1 {
		t.Fatalf("losses = %d, want 1", losses)
	}
	if _, ok := w.Flagship(1); ok {
		t.Fatal("destroyed flagship still reported")
	}
}

func TestWorld_SelectTransfersControl(t *testing.T) {
	w := New(nil)
	w.Execute(PageBuild, 0, 0)
	w.Select(0, 4, false)
	if ship, _ := w.Flagship(0); ship != lockstep.ShipRef(4) {
		t.Fatalf("flagship = %d, want 4", ship)
	}
	w.Select(0, 1, false) // enemy ship
	if ship, _ := w.Flagship(0); ship != lockstep.ShipRef(4) {
		t.Fatal("control moved to an enemy ship")
	}
}

func TestWorld_ChatLines(t *testing.T) {
	w := New(nil)
	w.StartIncomingTextMessage(2)
	w.AddIncomingTextMessageCharacter(2, 'g')
	w.AddIncomingTextMessageCharacter(2, 'g')
	w.StopIncomingTextMessage(2)

	chat := w.Summary().Chat
	if len(chat) != 1 || chat[0].Admiral != 2 || chat[0].Text != "gg" {
		t.Fatalf("chat = %+v", chat)
	}
}
