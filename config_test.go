// Copyright © 2026, Taggedpdf Project Contributors. All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package tagtree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		shouldErr bool
	}{
		{
			name: "valid config",
			cfg: &Config{
				MaxConcurrentPDFs: 10,
				DocumentTimeout:   5 * time.Second,
				ParsingMode:       BestEffort,
				MaxRetries:        1,
			},
			shouldErr: false,
		},
		{
			name: "invalid MaxConcurrentPDFs (too low)",
			cfg: &Config{
				MaxConcurrentPDFs: 0,
				DocumentTimeout:   5 * time.Second,
				ParsingMode:       BestEffort,
				MaxRetries:        1,
			},
			shouldErr: true,
		},
		{
			name: "invalid MaxConcurrentPDFs (too high)",
			cfg: &Config{
				MaxConcurrentPDFs: 11,
				DocumentTimeout:   5 * time.Second,
				ParsingMode:       BestEffort,
				MaxRetries:        1,
			},
			shouldErr: true,
		},
		{
			name: "missing DocumentTimeout",
			cfg: &Config{
				MaxConcurrentPDFs: 10,
				DocumentTimeout:   0,
				ParsingMode:       BestEffort,
				MaxRetries:        1,
			},
			shouldErr: true,
		},
		{
			name: "invalid ParsingMode",
			cfg: &Config{
				MaxConcurrentPDFs: 10,
				DocumentTimeout:   5 * time.Second,
				ParsingMode:       "invalid-mode",
				MaxRetries:        1,
			},
			shouldErr: true,
		},
		{
			name: "invalid MaxRetries (too high)",
			cfg: &Config{
				MaxConcurrentPDFs: 10,
				DocumentTimeout:   5 * time.Second,
				ParsingMode:       BestEffort,
				MaxRetries:        10,
			},
			shouldErr: true,
		},
		{
			name:      "default config is valid",
			cfg:       NewDefaultConfig(),
			shouldErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.shouldErr {
				assert.Error(t, err, "expected validation error")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}
