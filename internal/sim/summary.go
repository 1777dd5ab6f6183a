package sim

import (
	"strings"

	"github.com/ares-project/aresnet/internal/protocol"
)

// Fleet summarises one admiral's forces.
type Fleet struct {
	Admiral  uint8 `json:"admiral"`
	Ships    int   `json:"ships"`
	Flagship int   `json:"flagship"`
	Hull     int   `json:"flagship_hull"`
	Credits  int   `json:"credits"`
	Kills    int   `json:"kills"`
	Losses   int   `json:"losses"`
}

// Summary is a copy of the world state for status displays.
type Summary struct {
	Scenario string     `json:"scenario"`
	Ticks    uint64     `json:"ticks"`
	LastTick uint32     `json:"last_tick"`
	Sync     uint32     `json:"sync"`
	Fleets   []Fleet    `json:"fleets"`
	Chat     []ChatLine `json:"chat"`
}

// Summary returns a copy of the world state.
func (w *World) Summary() Summary {
	s := Summary{
		Scenario: w.scenario.Name,
		Ticks:    w.ticks,
		LastTick: uint32(w.last),
		Sync:     w.seed,
		Chat:     append([]ChatLine(nil), w.chat...),
	}
	for a := 0; a < protocol.MaxAdmirals; a++ {
		f := Fleet{
			Admiral:  uint8(a),
			Flagship: w.flagship[a],
			Credits:  w.credits[a],
			Kills:    w.kills[a],
			Losses:   w.losses[a],
		}
		for i := range w.ships {
			if w.ships[i].Alive && w.ships[i].Admiral == uint8(a) {
				f.Ships++
			}
		}
		if fs := w.ship(w.flagship[a]); fs != nil {
			f.Hull = fs.Hull
		}
		s.Fleets = append(s.Fleets, f)
	}
	return s
}

// Ships returns a copy of every ship, destroyed ones included.
func (w *World) Ships() []Ship {
	return append([]Ship(nil), w.ships...)
}

// Result returns the kills and losses of an admiral.
func (w *World) Result(admiral uint8) (kills, losses int) {
	if int(admiral) >= protocol.MaxAdmirals {
		return 0, 0
	}
	return w.kills[admiral], w.losses[admiral]
}

// Scenario returns the scenario the world was built from.
func (w *World) Scenario() *Scenario {
	return w.scenario
}

func defaultScenario() *Scenario {
	sc, err := ParseScenario(strings.NewReader(DefaultScenario))
	if err != nil {
		panic("sim: default scenario does not parse: " + err.Error())
	}
	return sc
}

// Default returns the built-in scenario.
func Default() *Scenario {
	return defaultScenario()
}
