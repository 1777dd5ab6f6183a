package config

// Preferences are the per-player settings and statistics that survive
// between sessions. They are stored in the database, not in config.json.
type Preferences struct {
	PlayerName         string `json:"player_name"`
	GameName           string `json:"game_name"`
	ResendOnRequest    bool   `json:"resend_on_request"`
	BandwidthReduction bool   `json:"bandwidth_reduction"`
	ResendDelay        int    `json:"resend_delay"`
	RegistrationLevel  int    `json:"registration_level"`
	Latency            int    `json:"latency"`
	MinutesPlayed      int    `json:"minutes_played"`
	Kills              int    `json:"kills"`
	Losses             int    `json:"losses"`
	Race               int    `json:"race"`
	EnemyColor         int    `json:"enemy_color"`
	Difficulty         int    `json:"difficulty"`
}

// DefaultPreferences derives initial preferences from the configuration.
func DefaultPreferences(cfg *Config) Preferences {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return Preferences{
		PlayerName:         cfg.Player.Name,
		GameName:           cfg.Network.GameName,
		ResendOnRequest:    cfg.Network.ResendOnRequest,
		BandwidthReduction: cfg.Network.BandwidthReduce,
		ResendDelay:        cfg.Network.ResendDelay,
		RegistrationLevel:  cfg.Network.RegistrationLevel,
		Latency:            cfg.Network.Latency,
		Race:               cfg.Player.Race,
		EnemyColor:         2,
		Difficulty:         1,
	}
}
