package agentsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentoven/agentdesk/internal/besteffort"
	"github.com/agentoven/agentdesk/internal/config"
	"github.com/agentoven/agentdesk/internal/integrations/platform"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// ReconcilerOptions tunes a Reconciler.
type ReconcilerOptions struct {
	// Interval between sweeps; zero disables Start.
	Interval       time.Duration
	Concurrency    int
	MaxAttempts    int
	BatchSize      int
	InitialBackoff time.Duration
}

// OptionsFromConfig converts the environment configuration.
func OptionsFromConfig(cfg config.ReconcileConfig) ReconcilerOptions {
	return ReconcilerOptions{
		Interval:    cfg.Interval,
		Concurrency: cfg.Concurrency,
		MaxAttempts: cfg.MaxAttempts,
		BatchSize:   cfg.BatchSize,
	}
}

// SweepStats tracks what happened in a single sweep.
type SweepStats struct {
	Scanned  int           `json:"scanned"`
	Mirrored int           `json:"mirrored"`
	Failed   int           `json:"failed"`
	Rejected int           `json:"rejected"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Reconciler mirrors agents whose externalRef is still absent, retrying
// each one with exponential backoff. Sweeps page through the unmirrored
// agents, so a batch that keeps failing cannot hide the agents behind it.
type Reconciler struct {
	svc     *Service
	opts    ReconcilerOptions
	running atomic.Bool

	// Only touched by the sweep holding running.
	after string

	mu       sync.Mutex
	rejected map[string]time.Time // agent id -> UpdatedAt when the platform refused it
}

// NewReconciler creates a reconciler over svc.
func NewReconciler(svc *Service, opts ReconcilerOptions) *Reconciler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	return &Reconciler{svc: svc, opts: opts, rejected: make(map[string]time.Time)}
}

// Start runs a sweep immediately and then on every interval until ctx is
// cancelled. It returns at once when the interval is zero or mirroring is
// disabled.
func (r *Reconciler) Start(ctx context.Context) {
	if r.opts.Interval <= 0 || r.svc.platform == nil {
		log.Info().Msg("Mirror reconciler disabled")
		return
	}

	log.Info().
		Dur("interval", r.opts.Interval).
		Int("concurrency", r.opts.Concurrency).
		Msg("Mirror reconciler started")

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Mirror reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep mirrors the next batch of unmirrored agents, wrapping to the start
// once the list is exhausted. Agents the platform refused permanently are
// left alone until they are edited. Overlapping calls are skipped rather
// than queued.
func (r *Reconciler) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	if r.svc.platform == nil {
		stats.Skipped = true
		return stats
	}
	if !r.running.CompareAndSwap(false, true) {
		stats.Skipped = true
		return stats
	}
	defer r.running.Store(false)

	start := time.Now()
	agents, err := r.svc.store.ListUnmirroredAgents(ctx, r.after, r.opts.BatchSize)
	if err != nil {
		log.Warn().Err(err).Msg("Mirror sweep could not list agents")
		stats.Duration = time.Since(start)
		return stats
	}
	if len(agents) < r.opts.BatchSize {
		r.after = ""
	} else {
		r.after = agents[len(agents)-1].ID
	}
	stats.Scanned = len(agents)

	p := pool.NewWithResults[bool]().WithMaxGoroutines(r.opts.Concurrency)
	for _, a := range agents {
		if r.isRejected(a.ID, a.UpdatedAt) {
			stats.Rejected++
			continue
		}
		agentID := a.ID
		p.Go(func() bool {
			return besteffort.Do(ctx, "agentsync.reconcile", besteffort.Fields{"agent_id": agentID}, func(ctx context.Context) error {
				return r.reconcileOne(ctx, agentID)
			})
		})
	}
	for _, ok := range p.Wait() {
		if ok {
			stats.Mirrored++
		} else {
			stats.Failed++
		}
	}
	stats.Duration = time.Since(start)

	if stats.Scanned > 0 {
		log.Info().
			Int("scanned", stats.Scanned).
			Int("mirrored", stats.Mirrored).
			Int("failed", stats.Failed).
			Dur("duration", stats.Duration).
			Msg("Mirror sweep complete")
	}
	return stats
}

func (r *Reconciler) reconcileOne(ctx context.Context, agentID string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		// Re-read so a mirror made by a concurrent update is not duplicated.
		agent, err := r.svc.store.GetAgent(ctx, agentID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if agent.Mirrored() {
			r.forget(agentID)
			return nil
		}
		_, err = r.svc.Mirror(ctx, agent)
		if err != nil && isPermanent(err) {
			r.reject(agentID, agent.UpdatedAt)
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("agent_id", agentID).Int("attempt", attempt).Dur("retry_in", wait).Msg("Mirror attempt failed")
	})
}

// isRejected reports whether the platform refused this version of the agent.
// An edit since then makes it eligible again.
func (r *Reconciler) isRejected(agentID string, updatedAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.rejected[agentID]
	if !ok {
		return false
	}
	if !at.Equal(updatedAt) {
		delete(r.rejected, agentID)
		return false
	}
	return true
}

func (r *Reconciler) reject(agentID string, updatedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[agentID] = updatedAt
}

func (r *Reconciler) forget(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rejected, agentID)
}

// isPermanent reports client errors the platform will keep rejecting.
func isPermanent(err error) bool {
	status := platform.StatusCode(err)
	return status >= 400 && status < 500 && status != 408 && status != 429
}
