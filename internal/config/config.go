// Package config holds the runtime configuration for both the client and the
// relay.
package config

import "time"

// ClientConfig holds the messaging client's settings.
type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url" yaml:"server_url"`
	Username          string        `mapstructure:"username" yaml:"username"`
	Password          string        `mapstructure:"password" yaml:"password"`
	AutoConnect       bool          `mapstructure:"auto_connect" yaml:"auto_connect"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	HeartbeatPeriod   time.Duration `mapstructure:"heartbeat_period" yaml:"heartbeat_period"`
	HistoryDir        string        `mapstructure:"history_dir" yaml:"history_dir"`
	PlaySounds        bool          `mapstructure:"play_sounds" yaml:"play_sounds"`
	MutedChats        []string      `mapstructure:"muted_chats" yaml:"muted_chats"`
}

// RelayConfig holds the relay server's settings.
type RelayConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	DBPath          string        `mapstructure:"db_path" yaml:"db_path"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Config aggregates both halves; each binary reads its own section.
type Config struct {
	LogLevel string       `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string       `mapstructure:"log_file" yaml:"log_file"`
	Client   ClientConfig `mapstructure:"client" yaml:"client"`
	Relay    RelayConfig  `mapstructure:"relay" yaml:"relay"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Client: ClientConfig{
			ServerURL:         "http://localhost:8080",
			AutoConnect:       false,
			ReconnectAttempts: 5,
			ReconnectDelay:    5 * time.Second,
			HeartbeatPeriod:   30 * time.Second,
			HistoryDir:        "history",
			PlaySounds:        true,
		},
		Relay: RelayConfig{
			Addr:            ":8080",
			DBPath:          "peerchat.db",
			JWTSecret:       "change-me",
			TokenTTL:        7 * 24 * time.Hour,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}
