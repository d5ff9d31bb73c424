package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Chain tries providers in order, moving on only when a provider is
// unavailable. Request-level errors from a reachable provider are returned
// as-is.
type Chain struct {
	providers []Provider
	log       zerolog.Logger
}

// NewChain builds a chain. It needs at least one provider.
func NewChain(log zerolog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("llm: %w: no providers configured", ErrProviderUnavailable)
	}
	return &Chain{providers: providers, log: log}, nil
}

// Name implements Provider.
func (c *Chain) Name() string {
	name := c.providers[0].Name()
	for _, p := range c.providers[1:] {
		name += "+" + p.Name()
	}
	return name
}

// PromptText implements Provider.
func (c *Chain) PromptText(ctx context.Context, system, user string) (string, error) {
	var errs []error
	for i, p := range c.providers {
		text, err := p.PromptText(ctx, system, user)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrProviderUnavailable) || ctx.Err() != nil {
			return "", err
		}
		errs = append(errs, err)
		if i < len(c.providers)-1 {
			c.log.Warn().Err(err).
				Str("provider", p.Name()).
				Str("next", c.providers[i+1].Name()).
				Msg("provider unavailable, falling back")
		}
	}
	return "", errors.Join(errs...)
}
