package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWizard_HostAnswers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))

	answers := strings.Join([]string{
		"Vega",   // name
		"9",      // race out of range
		"3",      // race
		"",       // color
		"HOST",   // mode
		"Nebula", // game name
		"",       // listen address
		"",       // password
		"",       // scenario
		"",       // registration level
		"",       // resend on request
		"y",      // bandwidth reduction
		"",       // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := NewWizard(strings.NewReader(answers), &out).Run(cfg); err != nil {
		t.Fatalf("Run: %v\n%s", err, out.String())
	}

	if cfg.Player.Name != "Vega" || cfg.Player.Race != 3 || cfg.Player.Color != 1 {
		t.Fatalf("player = %+v", cfg.Player)
	}
	if cfg.Network.Mode != ModeHost || cfg.Network.GameName != "Nebula" {
		t.Fatalf("network = %+v", cfg.Network)
	}
	if !cfg.Network.BandwidthReduce || !cfg.Network.ResendOnRequest {
		t.Fatalf("protocol flags = %v %v", cfg.Network.BandwidthReduce, cfg.Network.ResendOnRequest)
	}
	if !strings.Contains(out.String(), "is not a number from 0 to 5") {
		t.Fatal("out-of-range race was not reported")
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("config not saved: %v", err)
	}
}

func TestWizard_EOFWithoutNameAborts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))

	var out bytes.Buffer
	err := NewWizard(strings.NewReader(""), &out).Run(cfg)
	if !errors.Is(err, ErrSetupAborted) {
		t.Fatalf("err = %v, want ErrSetupAborted", err)
	}
	if !strings.Contains(out.String(), "player.name") {
		t.Fatalf("missing field not reported:\n%s", out.String())
	}
	if _, err := os.Stat(cfg.Path()); !os.IsNotExist(err) {
		t.Fatal("invalid config was saved")
	}
}
