package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerProvider decorates a secondary backend with a circuit breaker so a
// struggling mirror sheds load instead of eating the background write budget
// on every request. The primary is never wrapped: primary writes must always
// be attempted.
type BreakerProvider struct {
	inner   domain.VectorProvider
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func WithBreaker(inner domain.VectorProvider, logger *zap.Logger) *BreakerProvider {
	bp := &BreakerProvider{inner: inner, logger: logger}
	bp.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 2,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return bp
}

func (b *BreakerProvider) Name() string { return b.inner.Name() }

func (b *BreakerProvider) SupportsRecent() bool { return b.inner.SupportsRecent() }

func (b *BreakerProvider) execute(op func() (any, error)) (any, error) {
	out, err := b.breaker.Execute(op)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s circuit open", domain.ErrBackendUnavailable, b.inner.Name())
		}
		return nil, err
	}
	return out, nil
}

func (b *BreakerProvider) Store(ctx context.Context, m *domain.Memory) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Store(ctx, m)
	})
	return err
}

func (b *BreakerProvider) Query(ctx context.Context, embedding []float32, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.Query(ctx, embedding, k, filters)
	})
	if err != nil {
		return nil, err
	}
	results, _ := out.([]domain.MemoryWithScore)
	return results, nil
}

func (b *BreakerProvider) Recent(ctx context.Context, k int, filters domain.QueryFilters) ([]domain.MemoryWithScore, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.Recent(ctx, k, filters)
	})
	if err != nil {
		return nil, err
	}
	results, _ := out.([]domain.MemoryWithScore)
	return results, nil
}

func (b *BreakerProvider) Get(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		m, err := b.inner.Get(ctx, id)
		// A miss is an answer, not a backend failure.
		if errors.Is(err, domain.ErrNotFound) {
			return (*domain.Memory)(nil), nil
		}
		return m, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s circuit open", domain.ErrBackendUnavailable, b.inner.Name())
		}
		return nil, err
	}
	m, _ := out.(*domain.Memory)
	if m == nil {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (b *BreakerProvider) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := b.breaker.Execute(func() (any, error) {
		err := b.inner.Delete(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s circuit open", domain.ErrBackendUnavailable, b.inner.Name())
	}
	return err
}

// HealthCheck bypasses the breaker so probes can observe recovery while the
// circuit is open, and reports the breaker state in the details.
func (b *BreakerProvider) HealthCheck(ctx context.Context) (*domain.HealthStatus, error) {
	status, err := b.inner.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}
	if status.Details == nil {
		status.Details = make(map[string]any)
	}
	status.Details["breaker_state"] = b.breaker.State().String()
	if b.breaker.State() == gobreaker.StateOpen && status.Status == domain.HealthHealthy {
		status.Status = domain.HealthDegraded
	}
	return status, nil
}

func (b *BreakerProvider) Stats(ctx context.Context) (domain.ProviderStats, error) {
	stats, err := b.inner.Stats(ctx)
	if err != nil {
		return nil, err
	}
	counts := b.breaker.Counts()
	stats["breaker_state"] = b.breaker.State().String()
	stats["breaker_consecutive_failures"] = counts.ConsecutiveFailures
	return stats, nil
}
