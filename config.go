// Copyright © 2026, Taggedpdf Project Contributors. All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package tagtree

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/taggedpdf/tagtree/logger"
)

type ParsingMode string

const (
	Strict     ParsingMode = "strict"
	BestEffort ParsingMode = "best-effort"
)

// Config bounds a batch structure-tree extraction run. Unlike the teacher's
// page-level worker pool, GetStructureTree assembles one document's tree
// synchronously (spec.md §5); the only concurrency knob left is how many
// documents a processor may have open at once.
type Config struct {
	MaxConcurrentPDFs int           `validate:"min=1,max=10"`
	DocumentTimeout   time.Duration `validate:"required"`
	ParsingMode       ParsingMode   `validate:"oneof=strict best-effort"`
	MaxRetries        int           `validate:"min=0,max=3"`
	DebugOn           bool
	Logger            logger.LogFunc
}

func NewDefaultConfig() *Config {
	return &Config{
		MaxConcurrentPDFs: 5,
		DocumentTimeout:   30 * time.Second,
		ParsingMode:       BestEffort,
		MaxRetries:        3,
		DebugOn:           false,
	}
}

func (cfg *Config) Validate() error {
	logger.Debug("Validating Config Object")
	validate := validator.New()
	return validate.Struct(cfg)
}
