// Package config loads the server's HCL configuration file and applies
// defaults. CLI flags override whatever the file sets.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the complete server configuration.
type Config struct {
	Server ServerSettings `hcl:"server,block"`
	Limits LimitSettings  `hcl:"limits,block"`
}

// ServerSettings holds process-level settings.
type ServerSettings struct {
	Addr              string   `hcl:"addr,optional"`
	LogLevel          string   `hcl:"log_level,optional"`
	OfficialBotSecret string   `hcl:"official_bot_secret,optional"`
	AuthSecret        string   `hcl:"auth_secret,optional"`
	MongoURI          string   `hcl:"mongo_uri,optional"`
	MongoDatabase     string   `hcl:"mongo_database,optional"`
	CORSOrigins       []string `hcl:"cors_origins,optional"`
}

// LimitSettings bounds connections, sessions and message pacing.
type LimitSettings struct {
	MaxBotClients              int   `hcl:"max_bot_clients,optional"`
	MaxBgsSessions             int   `hcl:"max_bgs_sessions,optional"`
	MaxMessageBytes            int   `hcl:"max_message_bytes,optional"`
	MinClientMessageIntervalMs int   `hcl:"min_client_message_interval_ms,optional"`
	BgsRequestTimeoutMs        int64 `hcl:"bgs_request_timeout_ms,optional"`
	BgsStaleAgeMs              int64 `hcl:"bgs_stale_age_ms,optional"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			Addr:          ":8080",
			LogLevel:      "info",
			MongoDatabase: "wallgame",
			CORSOrigins:   []string{"*"},
		},
		Limits: LimitSettings{
			MaxBotClients:              10,
			MaxBgsSessions:             256,
			MaxMessageBytes:            65536,
			MinClientMessageIntervalMs: 200,
			BgsRequestTimeoutMs:        10_000,
			BgsStaleAgeMs:              3_600_000,
		},
	}
}

// Load reads an HCL configuration file. A missing file yields the defaults;
// a present file is merged over them.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return cfg, nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var loaded Config
	diags = gohcl.DecodeBody(file.Body, nil, &loaded)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	applyDefaults(&loaded)
	return &loaded, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Server.MongoDatabase == "" {
		cfg.Server.MongoDatabase = def.Server.MongoDatabase
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = def.Server.CORSOrigins
	}
	if cfg.Limits.MaxBotClients == 0 {
		cfg.Limits.MaxBotClients = def.Limits.MaxBotClients
	}
	if cfg.Limits.MaxBgsSessions == 0 {
		cfg.Limits.MaxBgsSessions = def.Limits.MaxBgsSessions
	}
	if cfg.Limits.MaxMessageBytes == 0 {
		cfg.Limits.MaxMessageBytes = def.Limits.MaxMessageBytes
	}
	if cfg.Limits.MinClientMessageIntervalMs == 0 {
		cfg.Limits.MinClientMessageIntervalMs = def.Limits.MinClientMessageIntervalMs
	}
	if cfg.Limits.BgsRequestTimeoutMs == 0 {
		cfg.Limits.BgsRequestTimeoutMs = def.Limits.BgsRequestTimeoutMs
	}
	if cfg.Limits.BgsStaleAgeMs == 0 {
		cfg.Limits.BgsStaleAgeMs = def.Limits.BgsStaleAgeMs
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must be set")
	}
	switch c.Server.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}
	if c.Limits.MaxBotClients < 1 {
		return fmt.Errorf("max_bot_clients must be at least 1")
	}
	if c.Limits.MaxBgsSessions < 1 {
		return fmt.Errorf("max_bgs_sessions must be at least 1")
	}
	if c.Limits.MaxMessageBytes < 1024 {
		return fmt.Errorf("max_message_bytes must be at least 1024")
	}
	if c.Limits.BgsRequestTimeoutMs < 1 {
		return fmt.Errorf("bgs_request_timeout_ms must be positive")
	}
	if c.Server.MongoURI != "" && c.Server.MongoDatabase == "" {
		return fmt.Errorf("mongo_database must be set when mongo_uri is")
	}
	return nil
}
