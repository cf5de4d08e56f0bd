// internal/config/config.go
//
// Server configuration.
// Responsibilities:
//   - Read process settings from the environment (after main has loaded .env).
//   - Optionally override game rules from a YAML file (RULES_FILE).
//
// Keys:
//   PORT, LOG_LEVEL, CLIENT_ORIGIN, SESSION_SECRET, RACES_FILE, RACES_SOURCE,
//   DB_PATH, RULES_FILE, TICK_INTERVAL (Go duration, one countdown tick).

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robalobadob/keiba-duel/internal/game"
)

const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
	SourceSQLite   = "sqlite"
)

type Config struct {
	Port          string
	LogLevel      string
	ClientOrigin  string
	SessionSecret string

	RacesFile   string
	RacesSource string // embedded | file | sqlite
	DBPath      string

	RulesFile    string
	TickInterval time.Duration
	Rules        game.Rules
}

// Load builds a Config from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:          getEnv("PORT", "5175"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		ClientOrigin:  getEnv("CLIENT_ORIGIN", "http://localhost:5173"),
		SessionSecret: getEnv("SESSION_SECRET", "dev_secret_change_me"),
		RacesFile:     os.Getenv("RACES_FILE"),
		RacesSource:   os.Getenv("RACES_SOURCE"),
		DBPath:        getEnv("DB_PATH", "./data/keiba.db"),
		RulesFile:     os.Getenv("RULES_FILE"),
		Rules:         game.DefaultRules(),
	}

	tick, err := time.ParseDuration(getEnv("TICK_INTERVAL", "1s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
	}
	if tick <= 0 {
		return Config{}, errors.New("TICK_INTERVAL must be positive")
	}
	cfg.TickInterval = tick

	switch cfg.RacesSource {
	case "":
		cfg.RacesSource = SourceEmbedded
		if cfg.RacesFile != "" {
			cfg.RacesSource = SourceFile
		}
	case SourceEmbedded, SourceSQLite:
	case SourceFile:
		if cfg.RacesFile == "" {
			return Config{}, errors.New("RACES_SOURCE=file requires RACES_FILE")
		}
	default:
		return Config{}, fmt.Errorf("unknown RACES_SOURCE %q", cfg.RacesSource)
	}

	if cfg.RulesFile != "" {
		rules, err := LoadRules(cfg.RulesFile, cfg.Rules)
		if err != nil {
			return Config{}, err
		}
		cfg.Rules = rules
	}
	return cfg, nil
}

// rulesFile mirrors the YAML document; absent keys keep the base value.
type rulesFile struct {
	StartingBalance   *int64 `yaml:"starting_balance"`
	OpponentStake     *int64 `yaml:"opponent_stake"`
	DefaultWager      *int64 `yaml:"default_wager"`
	Countdown         *int   `yaml:"countdown"`
	OpponentThreshold *int   `yaml:"opponent_threshold"`
}

// LoadRules reads a YAML rules file and applies it on top of base.
func LoadRules(path string, base game.Rules) (game.Rules, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return game.Rules{}, fmt.Errorf("read rules: %w", err)
	}
	var rf rulesFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return game.Rules{}, fmt.Errorf("parse rules %s: %w", path, err)
	}

	r := base
	if rf.StartingBalance != nil {
		r.StartingBalance = *rf.StartingBalance
	}
	if rf.OpponentStake != nil {
		r.OpponentStake = *rf.OpponentStake
	}
	if rf.DefaultWager != nil {
		r.DefaultWager = *rf.DefaultWager
	}
	if rf.Countdown != nil {
		r.Countdown = *rf.Countdown
	}
	if rf.OpponentThreshold != nil {
		r.OpponentThreshold = *rf.OpponentThreshold
	}
	if err := r.Validate(); err != nil {
		return game.Rules{}, fmt.Errorf("rules %s: %w", path, err)
	}
	return r, nil
}

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
