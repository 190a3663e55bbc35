package vectorstore

import (
	"context"
	"sync"
	"time"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"golang.org/x/sync/errgroup"
)

// downAfterFailures is how many consecutive failures mark a provider down.
const downAfterFailures = 3

// healthBoard tracks per-provider health observed from live traffic and the
// periodic probe. Reads consult it to skip providers marked down.
type healthBoard struct {
	mu      sync.RWMutex
	records map[string]*healthRecord
}

type healthRecord struct {
	state               string
	consecutiveFailures int
	lastOK              time.Time
	lastError           string
	latencyMS           float64
	itemCount           int64
}

func newHealthBoard(providers []domain.VectorProvider) *healthBoard {
	records := make(map[string]*healthRecord, len(providers))
	for _, p := range providers {
		records[p.Name()] = &healthRecord{state: domain.HealthHealthy}
	}
	return &healthBoard{records: records}
}

func (b *healthBoard) markSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[name]
	if !ok {
		return
	}
	r.state = domain.HealthHealthy
	r.consecutiveFailures = 0
	r.lastOK = time.Now()
	r.lastError = ""
}

func (b *healthBoard) markFailure(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[name]
	if !ok {
		return
	}
	r.consecutiveFailures++
	r.lastError = err.Error()
	if r.consecutiveFailures >= downAfterFailures {
		r.state = domain.HealthDown
	} else {
		r.state = domain.HealthDegraded
	}
}

func (b *healthBoard) isDown(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.records[name]
	return ok && r.state == domain.HealthDown
}

func (b *healthBoard) observeProbe(name string, status *domain.HealthStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[name]
	if !ok {
		return
	}
	r.latencyMS = status.LatencyMS
	r.itemCount = status.ItemCount
	switch status.Status {
	case domain.HealthHealthy:
		r.state = domain.HealthHealthy
		r.consecutiveFailures = 0
		r.lastOK = time.Now()
		r.lastError = ""
	case domain.HealthDegraded:
		r.state = domain.HealthDegraded
	default:
		r.consecutiveFailures++
		if r.consecutiveFailures >= downAfterFailures {
			r.state = domain.HealthDown
		} else {
			r.state = domain.HealthDegraded
		}
	}
}

func (b *healthBoard) snapshot(name string) *domain.HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.records[name]
	if !ok {
		return nil
	}
	status := &domain.HealthStatus{
		Status:    r.state,
		LatencyMS: r.latencyMS,
		ItemCount: r.itemCount,
	}
	details := make(map[string]any)
	if !r.lastOK.IsZero() {
		details["last_ok"] = r.lastOK.UTC().Format(time.RFC3339)
	}
	if r.lastError != "" {
		details["last_error"] = r.lastError
	}
	if r.consecutiveFailures > 0 {
		details["consecutive_failures"] = r.consecutiveFailures
	}
	if len(details) > 0 {
		status.Details = details
	}
	return status
}

// probeLoop refreshes provider health on a fixed interval until Stop.
func (s *UnifiedStore) probeLoop() {
	ticker := time.NewTicker(s.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.probeAll()
		}
	}
}

func (s *UnifiedStore) probeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.readOrder() {
		g.Go(func() error {
			status, err := p.HealthCheck(gctx)
			if err != nil {
				s.health.markFailure(p.Name(), err)
				return nil
			}
			s.health.observeProbe(p.Name(), status)
			return nil
		})
	}
	_ = g.Wait()
}

// Health returns live per-provider health, refreshing each record with a
// bounded check so the endpoint reflects the present rather than the last
// probe tick.
func (s *UnifiedStore) Health(ctx context.Context) map[string]*domain.HealthStatus {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(cctx)
	for _, p := range s.readOrder() {
		g.Go(func() error {
			status, err := p.HealthCheck(gctx)
			if err != nil {
				s.health.markFailure(p.Name(), err)
				return nil
			}
			s.health.observeProbe(p.Name(), status)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*domain.HealthStatus, 1+len(s.mirrors))
	for _, p := range s.readOrder() {
		out[p.Name()] = s.health.snapshot(p.Name())
	}
	return out
}

// Stats collects provider stats, tolerating individual failures.
func (s *UnifiedStore) Stats(ctx context.Context) map[string]domain.ProviderStats {
	out := make(map[string]domain.ProviderStats, 1+len(s.mirrors))
	for _, p := range s.readOrder() {
		stats, err := p.Stats(ctx)
		if err != nil {
			stats = domain.ProviderStats{"error": err.Error()}
		}
		out[p.Name()] = stats
	}
	return out
}
