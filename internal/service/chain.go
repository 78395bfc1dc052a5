package service

import (
	"context"

	"github.com/rs/zerolog"
)

// Step is one adapter of a fallback chain. Fetch reports ok=false for every failure mode.
type Step[Q, T any] struct {
	Name  string
	Fetch func(ctx context.Context, query Q) (T, bool)
}

// Chain tries its steps in priority order and stops at the first success.
type Chain[Q, T any] struct {
	name   string
	steps  []Step[Q, T]
	logger zerolog.Logger
}

// NewChain builds a chain; steps earlier in the list win.
func NewChain[Q, T any](name string, logger zerolog.Logger, steps ...Step[Q, T]) *Chain[Q, T] {
	return &Chain[Q, T]{
		name:   name,
		steps:  steps,
		logger: logger.With().Str("component", "chain").Str("chain", name).Logger(),
	}
}

// Run returns the first successful result and the name of the step that produced it.
func (c *Chain[Q, T]) Run(ctx context.Context, query Q) (T, string, bool) {
	var zero T
	for i, step := range c.steps {
		if ctx.Err() != nil {
			return zero, "", false
		}
		if out, ok := step.Fetch(ctx, query); ok {
			if i > 0 {
				c.logger.Info().Str("step", step.Name).Int("position", i).Msg("served by fallback")
			}
			return out, step.Name, true
		}
		c.logger.Debug().Str("step", step.Name).Msg("step failed")
	}
	c.logger.Warn().Int("steps", len(c.steps)).Msg("all steps failed")
	return zero, "", false
}
