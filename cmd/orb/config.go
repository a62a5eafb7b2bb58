// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/orb"
)

// Config is the daemon configuration file.
type Config struct {
	// Properties configure the ORB; orb.net.uri is the address it listens on.
	Properties  map[string]string `yaml:"properties"`
	Listen      []string          `yaml:"listen"`
	Admin       string            `yaml:"admin"`
	Users       []User            `yaml:"users"`
	ReadOnly    bool              `yaml:"readOnly"`
	Echo        bool              `yaml:"echo"`
	Workers     int               `yaml:"workers"`
	IdleTimeout time.Duration     `yaml:"idleTimeout"`
	Log         LogConfig         `yaml:"log"`
}

type User struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

func defaultConfig() *Config {
	return &Config{
		Properties:  map[string]string{orb.PropURI: "tcp://localhost:3030"},
		Admin:       "localhost:3031",
		Workers:     orb.DefaultWorkers,
		IdleTimeout: orb.DefaultIdleTimeout,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// loadConfig reads path over the defaults; an empty path keeps them.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Properties == nil {
		cfg.Properties = make(map[string]string)
	}
	return cfg, nil
}

// newLogger writes JSON to stderr, and to a rotated file when log.file is
// set.
func newLogger(cfg *Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}
	if cfg.Log.File != "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}), level))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

// authenticator accepts everyone when no users are configured.
func (c *Config) authenticator() (orb.Authenticator, error) {
	if len(c.Users) == 0 {
		return orb.AllowAll, nil
	}
	a := orb.NewPasswordAuthenticator()
	for _, u := range c.Users {
		if err := a.AddUser(u.Name, u.Password); err != nil {
			return nil, fmt.Errorf("user %q: %w", u.Name, err)
		}
	}
	return a, nil
}
