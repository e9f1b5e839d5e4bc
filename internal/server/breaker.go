package server

import (
	"context"
	"errors"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tripboard/tripstats/internal/config"
	"github.com/tripboard/tripstats/internal/db"
	"github.com/tripboard/tripstats/internal/logging"
	"github.com/tripboard/tripstats/internal/metrics"
	"github.com/tripboard/tripstats/internal/stats"
)

// reportBreaker trips after consecutive storage outages so that
// further reports fail fast until the cooldown elapses. Only
// db.ErrUnavailable counts as a failure.
type reportBreaker struct {
	cb *gobreaker.CircuitBreaker[*stats.Report]
}

func newReportBreaker(cfg config.StatsConfig) *reportBreaker {
	threshold := cfg.BreakerFailures
	settings := gobreaker.Settings{
		Name:    "storage",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, db.ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(to)
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	return &reportBreaker{cb: gobreaker.NewCircuitBreaker[*stats.Report](settings)}
}

// Execute runs fn through the breaker. A rejected call returns an
// error wrapping db.ErrUnavailable.
func (b *reportBreaker) Execute(
	ctx context.Context, fn func(context.Context) (*stats.Report, error),
) (*stats.Report, error) {
	rep, err := b.cb.Execute(func() (*stats.Report, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(db.ErrUnavailable, err)
	}
	return rep, err
}

// State returns the current breaker state.
func (b *reportBreaker) State() gobreaker.State {
	return b.cb.State()
}
