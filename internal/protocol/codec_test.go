package protocol

import (
	"math/rand"
	"testing"

	"github.com/ares-project/aresnet/internal/gametime"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	auxes := []TickAux{
		{},
		MenuAux(0, 0),
		MenuAux(30, 15),
		MenuAux(4, 9),
		CheatAux(0),
		CheatAux(MaxCheatCode),
		ChatAux('H'),
		ChatAux(0),
		ChatAux(0xff),
	}

	for i := 0; i < 2000; i++ {
		aux := auxes[i%len(auxes)]
		ship := uint8(rng.Intn(256))
		target := rng.Intn(2) == 1
		if aux.Kind == AuxChat {
			ship, target = NoShip, false
		}
		if ship == NoShip {
			target = false
		}
		sync := rng.Uint32()
		in := Command{
			Time:       gametime.Time(rng.Intn(int(gametime.MaxNetTime))),
			Admiral:    uint8(rng.Intn(MaxAdmirals)),
			Keys:       KeyState(rng.Uint32()) & KeyMask,
			Aux:        aux,
			Ship:       ship,
			Target:     target,
			SeedSample: SeedSample(sync),
		}

		out := Decode(Encode(in))
		if out != in {
			t.Fatalf("round trip mismatch:\n in  %+v\n out %+v", in, out)
		}
	}
}

func TestEncode_SeedSampleInHighBits(t *testing.T) {
	w := Encode(Command{Time: 1, Ship: NoShip, SeedSample: SeedSample(0xf8000000)})
	if w.W1>>27 != 0x1f {
		t.Fatalf("seed sample bits = %#x, want 0x1f", w.W1>>27)
	}
	if w.Time() != 1 {
		t.Fatalf("time = %d, want 1", w.Time())
	}
}

func TestDecode_AuxPriority(t *testing.T) {
	tests := []struct {
		name string
		page uint32
		line uint32
		want AuxKind
	}{
		{"menu wins over line sentinel", 3, uint32(ChatLineSentinel), AuxMenu},
		{"cheat when page absent", uint32(NoMenuPage), 5, AuxCheat},
		{"chat sentinel", uint32(NoMenuPage), uint32(ChatLineSentinel), AuxChat},
		{"nothing", uint32(NoMenuPage), uint32(NoAuxLine), AuxNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Words{
				W1: 42 | tt.page<<menuPageShift | tt.line<<menuLineShift,
				W2: uint32(NoShip) << shipShift,
			}
			if got := Decode(w).Aux.Kind; got != tt.want {
				t.Fatalf("aux kind = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncode_InvalidAuxBecomesNone(t *testing.T) {
	for _, aux := range []TickAux{MenuAux(NoMenuPage, 1), CheatAux(MaxCheatCode + 1), {Kind: AuxKind(9)}} {
		c := Decode(Encode(Command{Time: 9, Ship: NoShip, Aux: aux}))
		if c.Aux.Kind != AuxNone {
			t.Fatalf("aux %v decoded as %v, want none", aux, c.Aux)
		}
	}
}

func TestEncode_ChatDropsShipSelection(t *testing.T) {
	c := Decode(Encode(Command{Time: 3, Ship: 12, Target: true, Aux: ChatAux('x')}))
	if c.Aux != ChatAux('x') {
		t.Fatalf("aux = %v, want chat x", c.Aux)
	}
	if c.Ship != NoShip || c.Target {
		t.Fatalf("ship = %d target = %v, want none", c.Ship, c.Target)
	}
}

func TestEncode_ThrustExample(t *testing.T) {
	w := Encode(Command{Time: 100, Admiral: 1, Keys: KeyThrust, Ship: NoShip})
	c := Decode(w)
	if c.Keys != 0x4 || c.Admiral != 1 || c.Time != 100 || c.Aux.Kind != AuxNone {
		t.Fatalf("decoded %+v", c)
	}
	if w.Admiral() != 1 {
		t.Fatalf("Words.Admiral = %d", w.Admiral())
	}
}
