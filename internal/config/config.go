// Package config defines the typing-arena daemon's runtime configuration,
// populated by viper from flags and TYPINGARENA_*-prefixed environment
// variables into a plain struct via Load().
package config

import "github.com/spf13/viper"

// Version is the build-time version string, reported by the startup
// banner.
const Version = "0.1.0"

// Config holds all runtime configuration for the typing-arena daemon.
type Config struct {
	Addr              string
	StateDir          string
	DefaultMaxAttempts int
	LeaderboardLimit  int
	ReapInterval      int
	StaleAfterSec     int
	LogLevel          string
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/typingarenad).
func Load() Config {
	return Config{
		Addr:               viper.GetString("addr"),
		StateDir:           viper.GetString("state_dir"),
		DefaultMaxAttempts: viper.GetInt("default_max_attempts"),
		LeaderboardLimit:   viper.GetInt("leaderboard_limit"),
		ReapInterval:       viper.GetInt("reap_interval"),
		StaleAfterSec:      viper.GetInt("stale_after_sec"),
		LogLevel:           viper.GetString("log_level"),
	}
}
