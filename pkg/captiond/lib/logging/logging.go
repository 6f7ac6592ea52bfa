// Copyright 2026 Caprock Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging builds the service's zap logger from config.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a log level name: debug, info, warn, error.
type Level string

// Style selects the output encoding.
type Style string

const (
	// StyleTerminal is a human-readable console encoding.
	StyleTerminal Style = "terminal"
	// StyleJSON is structured JSON for log aggregation.
	StyleJSON Style = "json"
	// StyleNoop discards all output.
	StyleNoop Style = "noop"
)

// Config holds logger configuration.
type Config struct {
	Level Level
	Style Style
}

// NewLogger builds a zap logger. Unknown levels fall back to info; unknown
// styles fall back to JSON.
func NewLogger(cfg *Config) *zap.Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Style == StyleNoop {
		return zap.NewNop()
	}

	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(string(cfg.Level)); err == nil {
		level = parsed
	}

	var zapCfg zap.Config
	if cfg.Style == StyleTerminal {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
