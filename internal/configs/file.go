package configs

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the optional TOML configuration file.
//
//	[server]
//	environment = "production"
//	port = 8080
//
//	[chat]
//	handshake_timeout = "5s"
//	admin_users = ["alice"]
type fileConfig struct {
	Server struct {
		Environment    string   `toml:"environment"`
		Port           int      `toml:"port"`
		LogLevel       string   `toml:"log_level"`
		AllowedOrigins []string `toml:"allowed_origins"`
	} `toml:"server"`

	Security struct {
		JWTSecret     string `toml:"jwt_secret"`
		PowDifficulty int    `toml:"pow_difficulty"`
	} `toml:"security"`

	Database struct {
		Driver string `toml:"driver"`
		DSN    string `toml:"dsn"`
	} `toml:"database"`

	Chat struct {
		HandshakeTimeout  string   `toml:"handshake_timeout"`
		MessageRateLimit  int      `toml:"message_rate_limit"`
		MaxMessageLength  int      `toml:"max_message_length"`
		HistoryLimit      int      `toml:"history_limit"`
		AdminUsers        []string `toml:"admin_users"`
		SuperuserUsername string   `toml:"superuser_username"`
		SuperuserPassword string   `toml:"superuser_password"`
	} `toml:"chat"`
}

// applyFile overlays the non-zero values found in the TOML file at path onto cfg.
func applyFile(cfg *AppConfig, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&cfg.Environment, fc.Server.Environment)
	setInt(&cfg.Port, fc.Server.Port)
	setString(&cfg.LogLevel, fc.Server.LogLevel)
	if len(fc.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.Server.AllowedOrigins
	}

	setString(&cfg.JWTSecret, fc.Security.JWTSecret)
	setInt(&cfg.PowDifficulty, fc.Security.PowDifficulty)

	setString(&cfg.DatabaseDriver, fc.Database.Driver)
	setString(&cfg.DatabaseDSN, fc.Database.DSN)

	if fc.Chat.HandshakeTimeout != "" {
		d, err := time.ParseDuration(fc.Chat.HandshakeTimeout)
		if err != nil {
			return fmt.Errorf("invalid chat.handshake_timeout in %s: %w", path, err)
		}
		cfg.HandshakeTimeout = d
	}
	setInt(&cfg.MessageRateLimit, fc.Chat.MessageRateLimit)
	setInt(&cfg.MaxMessageLength, fc.Chat.MaxMessageLength)
	setInt(&cfg.HistoryLimit, fc.Chat.HistoryLimit)
	if len(fc.Chat.AdminUsers) > 0 {
		cfg.AdminUsers = fc.Chat.AdminUsers
	}
	setString(&cfg.SuperuserUsername, fc.Chat.SuperuserUsername)
	setString(&cfg.SuperuserPassword, fc.Chat.SuperuserPassword)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
