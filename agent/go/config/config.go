// Package config loads the executor agent's config.json. The file's schema
// is shared with the other farm agents, so the key casing (PascalCase for the
// API and logging sections, lowercase for the grid section) is part of the
// external contract and must not change.
package config

import (
	"encoding/json"
	"os"
	"time"

	"go.testfarm.build/infra/go/skerr"
)

// FarmApiConfig describes how to reach the Farm API.
type FarmApiConfig struct {
	BaseUrl string `json:"BaseUrl"`
	// Timeout, in seconds, applied to every Farm API request.
	Timeout int `json:"Timeout"`
}

// RequestTimeout returns the configured timeout as a time.Duration.
func (c FarmApiConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GridConfig identifies the grid this agent serves.
type GridConfig struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// LoggingConfig locates the log directory.
type LoggingConfig struct {
	LogDir string `json:"LogDir"`
}

// Config is the top-level agent configuration, loaded once at startup.
type Config struct {
	TestFarmApi FarmApiConfig `json:"TestFarmApi"`
	Grid        GridConfig    `json:"Grid"`
	Logging     LoggingConfig `json:"Logging"`
}

// Load reads and validates the config file at the given path. Any failure
// here is fatal to the agent.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to read config file %s", path)
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, skerr.Wrapf(err, "Failed to parse config file %s", path)
	}
	if c.TestFarmApi.BaseUrl == "" {
		return nil, skerr.Fmt("Config file %s is missing TestFarmApi.BaseUrl", path)
	}
	if c.Grid.Name == "" {
		return nil, skerr.Fmt("Config file %s is missing Grid.name", path)
	}
	return &c, nil
}
