package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_CreatesDefaultAndOverlays(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.TickRate != DefaultTickRate {
		t.Fatalf("tick rate = %d", cfg.Network.TickRate)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	partial := `{"player":{"name":"Vega"},"network":{"mode":"host","game_name":"Nebula"}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Player.Name != "Vega" || cfg.Network.GameName != "Nebula" {
		t.Fatalf("overlay lost: %+v %+v", cfg.Player, cfg.Network)
	}
	if cfg.Network.ResendDelay != 10 || cfg.ApplicationData.API.Port != DefaultAPIPort {
		t.Fatal("defaults not kept under overlay")
	}
	if cfg.IsFirstRun() {
		t.Fatal("named player should not be first run")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid demo", func(c *Config) {}, ""},
		{"missing player", func(c *Config) { c.Player.Name = "" }, "player.name"},
		{"host without game name", func(c *Config) { c.Network.Mode = ModeHost }, "network.game_name"},
		{"join without address", func(c *Config) { c.Network.Mode = ModeJoin }, "network.join_address"},
		{"bad join address", func(c *Config) { c.Network.Mode = ModeJoin; c.Network.Address = "nowhere" }, "network.join_address"},
		{"unknown mode", func(c *Config) { c.Network.Mode = "spectate" }, "network.mode"},
		{"too many backups", func(c *Config) { c.Network.BackupTicks = 3 }, "network.backup_ticks"},
		{"registration level", func(c *Config) { c.Network.RegistrationLevel = 5 }, "network.registration_level"},
		{"tick rate", func(c *Config) { c.Network.TickRate = 0 }, "network.tick_rate"},
		{"mqtt without broker", func(c *Config) {
			c.ApplicationData.MQTT.Enabled = true
			c.ApplicationData.MQTT.BrokerURL = ""
		}, "application_data.mqtt.broker_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Player.Name = "Vega"
			tt.mutate(cfg)

			result := Validate(cfg)
			if tt.wantErr == "" {
				if !result.IsValid() {
					t.Fatalf("unexpected errors: %+v", result.Errors)
				}
				return
			}
			found := false
			for _, e := range result.Errors {
				if e.Field == tt.wantErr {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected error on %s, got %+v", tt.wantErr, result.Errors)
			}
		})
	}
}

func TestUpdateNetworkField(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateNetworkField("registration_level", 2); err != nil {
		t.Fatalf("UpdateNetworkField: %v", err)
	}
	if cfg.GetNetwork().RegistrationLevel != 2 {
		t.Fatal("field not updated")
	}
	if err := cfg.UpdateNetworkField("no_such_field", 1); err == nil {
		t.Fatal("expected unknown field error")
	}
}
