package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// setupAttempts bounds how often the wizard re-asks after validation fails.
const setupAttempts = 3

// ErrSetupAborted is returned when the wizard ends without a valid config.
var ErrSetupAborted = errors.New("setup aborted")

// Wizard asks for the player identity and default game settings on first
// run.
type Wizard struct {
	in  *bufio.Reader
	out io.Writer
	eof bool
}

// NewWizard creates a wizard reading answers from in and writing prompts
// to out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{in: bufio.NewReader(in), out: out}
}

// RunSetupWizard runs the wizard on the terminal.
func RunSetupWizard(cfg *Config) error {
	return NewWizard(os.Stdin, os.Stdout).Run(cfg)
}

// Run fills cfg from the answers, validates it and saves it. Blank answers
// keep the value already in cfg.
func (w *Wizard) Run(cfg *Config) error {
	fmt.Fprintln(w.out, "aresnet first run setup")
	fmt.Fprintln(w.out, "Blank answers keep the value in brackets.")

	for attempt := 1; attempt <= setupAttempts; attempt++ {
		w.askPlayer(cfg)
		w.askGame(cfg)
		w.askProtocol(cfg)
		w.askTelemetry(cfg)

		result := Validate(cfg)
		for _, warn := range result.Warnings {
			log.Warn().Str("field", warn.Field).Msg(warn.Message)
		}
		if result.IsValid() {
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			fmt.Fprintf(w.out, "\nConfiguration saved to %s\n\n", cfg.Path())
			return nil
		}

		fmt.Fprintln(w.out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(w.out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if w.eof || !w.yesNo("Try again", true) {
			break
		}
	}
	return ErrSetupAborted
}

func (w *Wizard) askPlayer(cfg *Config) {
	w.section("Player")
	cfg.Player.Name = w.text("Player name", cfg.Player.Name)
	cfg.Player.Race = w.number("Race", cfg.Player.Race, 0, 5)
	cfg.Player.Color = w.number("Color", cfg.Player.Color, 0, 7)
}

func (w *Wizard) askGame(cfg *Config) {
	w.section("Game")
	n := &cfg.Network
	n.Mode = w.choice("Default mode", n.Mode, ModeHost, ModeJoin, ModeDemo)
	switch n.Mode {
	case ModeHost:
		name := n.GameName
		if name == "" {
			name = defaultGameName(cfg.Player.Name)
		}
		n.GameName = w.text("Game name", name)
		n.ListenAddr = w.text("Listen address", n.ListenAddr)
		n.Password = w.text("Game password (blank for none)", "")
		cfg.Scenario.File = w.text("Scenario file", cfg.Scenario.File)
	case ModeJoin:
		n.Address = w.text("Host address (ip:port)", n.Address)
		n.Password = w.text("Game password (blank for none)", "")
	}
}

func (w *Wizard) askProtocol(cfg *Config) {
	w.section("Protocol")
	n := &cfg.Network
	n.RegistrationLevel = w.number("Registration level", n.RegistrationLevel, 0, 2)
	n.ResendOnRequest = w.yesNo("Request resends when stalled", n.ResendOnRequest)
	n.BandwidthReduce = w.yesNo("Reduce bandwidth on slow links", n.BandwidthReduce)
}

func (w *Wizard) askTelemetry(cfg *Config) {
	w.section("MQTT telemetry")
	m := &cfg.ApplicationData.MQTT
	m.Enabled = w.yesNo("Enable MQTT telemetry", m.Enabled)
	if m.Enabled {
		m.BrokerURL = w.text("Broker host", m.BrokerURL)
		m.Port = w.number("Broker port", m.Port, 1, 65535)
	}
}

func (w *Wizard) section(title string) {
	fmt.Fprintf(w.out, "\n-- %s --\n", title)
}

// line reads one answer. After EOF every answer is blank.
func (w *Wizard) line() string {
	if w.eof {
		return ""
	}
	s, err := w.in.ReadString('\n')
	if err != nil {
		w.eof = true
	}
	return strings.TrimSpace(s)
}

func (w *Wizard) text(prompt, def string) string {
	if def != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}
	if s := w.line(); s != "" {
		return s
	}
	return def
}

func (w *Wizard) number(prompt string, def, min, max int) int {
	for {
		fmt.Fprintf(w.out, "  %s (%d-%d) [%d]: ", prompt, min, max, def)
		s := w.line()
		if s == "" {
			return def
		}
		v, err := strconv.Atoi(s)
		if err == nil && v >= min && v <= max {
			return v
		}
		fmt.Fprintf(w.out, "    %q is not a number from %d to %d\n", s, min, max)
	}
}

func (w *Wizard) choice(prompt, def string, options ...string) string {
	for {
		fmt.Fprintf(w.out, "  %s (%s) [%s]: ", prompt, strings.Join(options, ", "), def)
		s := strings.ToLower(w.line())
		if s == "" {
			return def
		}
		for _, o := range options {
			if s == o {
				return o
			}
		}
		fmt.Fprintf(w.out, "    choose one of: %s\n", strings.Join(options, ", "))
	}
}

func (w *Wizard) yesNo(prompt string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, hint)
	switch strings.ToLower(w.line()) {
	case "":
		return def
	case "y", "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}

func defaultGameName(player string) string {
	if player == "" {
		return "Skirmish"
	}
	return player + "'s game"
}
