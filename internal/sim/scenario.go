package sim

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ShipSpec places one starting ship.
type ShipSpec struct {
	Admiral uint8  `json:"admiral"`
	Class   string `json:"class"`
	X       int32  `json:"x"`
	Y       int32  `json:"y"`
	Heading int32  `json:"heading"`
}

// Scenario is the parsed content of a scenario file.
type Scenario struct {
	Name    string     `json:"name"`
	Version uint32     `json:"version"`
	URL     string     `json:"url"`
	Credits int        `json:"credits"`
	Ships   []ShipSpec `json:"ships"`
}

// Scenario file lines. Anything else, including # comments, is ignored.
var (
	reName    = regexp.MustCompile(`^Scenario:\s+(.+)$`)
	reVersion = regexp.MustCompile(`^Version:\s+(\d+)$`)
	reURL     = regexp.MustCompile(`^URL:\s+(\S+)$`)
	reCredits = regexp.MustCompile(`^Credits:\s+(\d+)$`)
	reShip    = regexp.MustCompile(`^Ship:\s+(.+)$`)
	reField   = regexp.MustCompile(`(\w+)=(-?\w+)`)
)

// DefaultScenario is used when no scenario file is configured.
const DefaultScenario = `# two flagships facing each other
Scenario: Sector Seven
Version: 1
Credits: 500
Ship: admiral=0 class=cruiser x=-2000 y=0 heading=4
Ship: admiral=1 class=cruiser x=2000 y=0 heading=12
Ship: admiral=2 class=cruiser x=0 y=-2000 heading=0
Ship: admiral=3 class=cruiser x=0 y=2000 heading=8
`

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario %s: %w", path, err)
	}
	defer f.Close()

	sc, err := ParseScenario(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	log.Info().
		Str("file", path).
		Str("scenario", sc.Name).
		Uint32("version", sc.Version).
		Int("ships", len(sc.Ships)).
		Msg("scenario loaded")
	return sc, nil
}

// ParseScenario parses scenario text.
func ParseScenario(r io.Reader) (*Scenario, error) {
	sc := &Scenario{Version: 1}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := cleanLine(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := sc.parseLine(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(sc.Ships) == 0 {
		return nil, fmt.Errorf("scenario %q places no ships", sc.Name)
	}
	return sc, nil
}

func (sc *Scenario) parseLine(line string) error {
	if m := reName.FindStringSubmatch(line); len(m) > 1 {
		sc.Name = m[1]
		return nil
	}
	if m := reVersion.FindStringSubmatch(line); len(m) > 1 {
		v, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return fmt.Errorf("bad version: %w", err)
		}
		sc.Version = uint32(v)
		return nil
	}
	if m := reURL.FindStringSubmatch(line); len(m) > 1 {
		sc.URL = m[1]
		return nil
	}
	if m := reCredits.FindStringSubmatch(line); len(m) > 1 {
		sc.Credits, _ = strconv.Atoi(m[1])
		return nil
	}
	if m := reShip.FindStringSubmatch(line); len(m) > 1 {
		spec, err := parseShip(m[1])
		if err != nil {
			return err
		}
		sc.Ships = append(sc.Ships, spec)
		return nil
	}
	return nil
}

func parseShip(fields string) (ShipSpec, error) {
	spec := ShipSpec{Class: "cruiser"}
	for _, m := range reField.FindAllStringSubmatch(fields, -1) {
		key, val := m[1], m[2]
		if key == "class" {
			if _, ok := classes[val]; !ok {
				return spec, fmt.Errorf("unknown ship class %q", val)
			}
			spec.Class = val
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return spec, fmt.Errorf("ship field %s: %w", key, err)
		}
		switch key {
		case "admiral":
			if n < 0 || n > 3 {
				return spec, fmt.Errorf("admiral %d out of range", n)
			}
			spec.Admiral = uint8(n)
		case "x":
			spec.X = int32(n)
		case "y":
			spec.Y = int32(n)
		case "heading":
			spec.Heading = int32(n) & (directions - 1)
		}
	}
	return spec, nil
}

// cleanLine removes a byte order mark and stray NULs.
func cleanLine(line string) string {
	line = strings.TrimPrefix(line, "\xef\xbb\xbf")
	line = strings.ReplaceAll(line, "\x00", "")
	return strings.TrimSpace(line)
}
