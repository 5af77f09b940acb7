// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the verifier configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level verifier configuration.
//
// Thread Safety: safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Analysis contains the scheduler and solver settings.
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`

	// Cache contains verdict-cache settings.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Server contains HTTP API settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Log contains logging settings.
	Log LogConfig `json:"log" yaml:"log"`
}

// AnalysisConfig contains scheduler and fault-localization settings.
type AnalysisConfig struct {
	// Workers is the analysis worker pool size.
	Workers int `json:"workers" yaml:"workers" validate:"min=1,max=256"`

	// StepBudget bounds states expanded per block run.
	StepBudget int `json:"step_budget" yaml:"step_budget" validate:"min=1"`

	// RoundBudget bounds total dispatched tasks per run.
	RoundBudget int `json:"round_budget" yaml:"round_budget" validate:"min=1"`

	// Strategy selects the fault-localization strategy:
	// "single-core" or "max-sat".
	Strategy string `json:"strategy" yaml:"strategy" validate:"oneof=single-core max-sat"`

	// CandidateLimit bounds max-sat candidate enumeration.
	CandidateLimit int `json:"candidate_limit" yaml:"candidate_limit" validate:"min=1"`

	// Timeout is the wall-clock limit for one analysis run.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"min=0"`
}

// CacheConfig contains verdict-cache settings.
type CacheConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Path    string        `json:"path" yaml:"path"`
	TTL     time.Duration `json:"ttl" yaml:"ttl" validate:"min=0"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Addr         string        `json:"addr" yaml:"addr" validate:"required"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// RateLimit is requests per second per client; RateBurst the
	// burst allowance.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" validate:"min=0"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst" validate:"min=0"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `json:"dir" yaml:"dir"`
	JSON  bool   `json:"json" yaml:"json"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Analysis: AnalysisConfig{
			Workers:        4,
			StepBudget:     10_000,
			RoundBudget:    1_000,
			Strategy:       "single-core",
			CandidateLimit: 16,
			Timeout:        2 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "~/.faultline/cache",
			TTL:     24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:         ":8085",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
			RateLimit:    10,
			RateBurst:    20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults, applies environment
// overrides, and validates the result. An empty path loads defaults
// plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays FAULTLINE_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("FAULTLINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analysis.Workers = n
		}
	}
	if v := os.Getenv("FAULTLINE_STRATEGY"); v != "" {
		c.Analysis.Strategy = v
	}
	if v := os.Getenv("FAULTLINE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FAULTLINE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FAULTLINE_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
