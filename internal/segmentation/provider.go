package segmentation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"packshot/internal/domain"
	"packshot/internal/infra"
	"packshot/internal/metrics"
)

// Provider removes the background from an encoded image and returns a PNG
// with transparency.
type Provider interface {
	Name() string
	Segment(ctx context.Context, image []byte) ([]byte, error)
}

// ErrEmptyResult is recorded when a provider returns no bytes without error.
var ErrEmptyResult = errors.New("segmentation: provider returned empty result")

// Attempt records one failed provider call.
type Attempt struct {
	Provider string
	Err      error
}

// ChainError is returned when every provider failed. It unwraps to the last
// provider's error and matches domain.ErrProviderFailure.
type ChainError struct {
	Attempts []Attempt
}

func (e *ChainError) Error() string {
	if len(e.Attempts) == 0 {
		return "segmentation failed: no providers configured"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("segmentation failed with all providers. last error: %s: %v", last.Provider, last.Err)
}

func (e *ChainError) Is(target error) bool {
	return target == domain.ErrProviderFailure
}

func (e *ChainError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Chain tries providers in order; the first non-empty result wins.
type Chain struct {
	providers []Provider
	logger    *infra.Logger
}

// NewChain builds a chain over the given providers. A nil logger discards output.
func NewChain(logger *infra.Logger, providers ...Provider) *Chain {
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Chain{providers: providers, logger: logger}
}

// Names lists the configured providers in order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Segment returns the cut-out and the name of the provider that produced it.
func (c *Chain) Segment(ctx context.Context, image []byte) ([]byte, string, error) {
	chainErr := &ChainError{}
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			chainErr.Attempts = append(chainErr.Attempts, Attempt{Provider: p.Name(), Err: err})
			break
		}
		out, err := p.Segment(ctx, image)
		if err == nil && len(out) == 0 {
			err = ErrEmptyResult
		}
		if err != nil {
			metrics.SegmentationAttemptsTotal.WithLabelValues(p.Name(), "error").Inc()
			c.logger.Warn().Err(err).Str("provider", p.Name()).Msg("segmentation: provider failed")
			chainErr.Attempts = append(chainErr.Attempts, Attempt{Provider: p.Name(), Err: err})
			continue
		}
		metrics.SegmentationAttemptsTotal.WithLabelValues(p.Name(), "ok").Inc()
		c.logger.Debug().Str("provider", p.Name()).Int("bytes", len(out)).Msg("segmentation: provider succeeded")
		return out, p.Name(), nil
	}
	return nil, "", chainErr
}

// Build assembles providers by name in the requested order. Unknown names
// are an error; names whose provider is unavailable (e.g. remove.bg
// without an API key) are skipped and reported.
func Build(names []string, registry map[string]Provider) ([]Provider, []string, error) {
	var out []Provider
	var skipped []string
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		p, ok := registry[name]
		if !ok {
			return nil, nil, fmt.Errorf("segmentation: unknown provider %q", raw)
		}
		if p == nil {
			skipped = append(skipped, name)
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, skipped, errors.New("segmentation: no providers available")
	}
	return out, skipped, nil
}
