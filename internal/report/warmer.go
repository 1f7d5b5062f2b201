package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/adinsights/internal/config"
	"github.com/ignite/adinsights/internal/pkg/distlock"
	"github.com/ignite/adinsights/internal/pkg/logger"
	"github.com/ignite/adinsights/internal/windsor"
)

const isoDate = "2006-01-02"

// Warmer periodically refreshes a fixed set of datasets into the cache so
// interactive reads hit Redis. Only the replica holding the lock warms.
type Warmer struct {
	service  *Service
	lock     distlock.DistLock
	datasets []string
	interval time.Duration
	lookback int
	account  string
	now      func() time.Time
	onDone   func(error)

	mu        sync.RWMutex
	isRunning bool
	lastRun   time.Time
	lastErr   error
}

// WarmerOption configures a Warmer.
type WarmerOption func(*Warmer)

// WithWarmClock overrides the clock used to compute the lookback window.
func WithWarmClock(now func() time.Time) WarmerOption {
	return func(w *Warmer) { w.now = now }
}

// WithWarmHook is called after every pass with its error, nil on success.
func WithWarmHook(fn func(error)) WarmerOption {
	return func(w *Warmer) { w.onDone = fn }
}

// NewWarmer creates a warmer for cfg.Datasets ("platform/dataset" names).
func NewWarmer(svc *Service, lock distlock.DistLock, cfg config.WarmerConfig, opts ...WarmerOption) *Warmer {
	w := &Warmer{
		service:  svc,
		lock:     lock,
		datasets: cfg.Datasets,
		interval: cfg.Interval(),
		lookback: cfg.LookbackDays,
		account:  cfg.Account,
		now:      time.Now,
	}
	if w.interval <= 0 {
		w.interval = 15 * time.Minute
	}
	if w.lookback <= 0 {
		w.lookback = 30
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start warms once, then on every tick until ctx is done.
func (w *Warmer) Start(ctx context.Context) {
	w.mu.Lock()
	w.isRunning = true
	w.mu.Unlock()

	logger.Info("Starting cache warmer", "datasets", len(w.datasets), "interval", w.interval.String())
	w.run(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping cache warmer")
			w.mu.Lock()
			w.isRunning = false
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *Warmer) run(ctx context.Context) {
	err := w.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Error("cache warm pass failed", "error", err)
	}
}

// extendLock renews an expiring lock for another interval. Locks without
// expiry are left alone.
func (w *Warmer) extendLock(ctx context.Context) error {
	ext, ok := w.lock.(distlock.Extender)
	if !ok {
		return nil
	}
	if err := ext.Extend(ctx, w.interval); err != nil {
		return fmt.Errorf("extend warmer lock: %w", err)
	}
	return nil
}

// IsRunning reports whether Start is looping.
func (w *Warmer) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isRunning
}

// LastRun returns the time and error of the last completed pass.
func (w *Warmer) LastRun() (time.Time, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRun, w.lastErr
}

// Window returns the date range a pass refreshes, ending today (UTC).
func (w *Warmer) Window() (string, string) {
	today := w.now().UTC()
	from := today.AddDate(0, 0, -w.lookback)
	return from.Format(isoDate), today.Format(isoDate)
}

// RunOnce refreshes every configured dataset. It returns nil without
// fetching when another replica holds the lock. The lock is renewed before
// each dataset after the first, and a lost lock ends the pass. Dataset
// failures do not stop the pass; they are joined into the returned error.
func (w *Warmer) RunOnce(ctx context.Context) error {
	ok, err := w.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire warmer lock: %w", err)
	}
	if !ok {
		logger.Debug("cache warmer lock held elsewhere, skipping pass")
		return nil
	}
	defer func() {
		if err := w.lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release warmer lock", "error", err)
		}
	}()

	start := time.Now()
	from, to := w.Window()
	var errs []error
	warmed := 0
	for i, name := range w.datasets {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if i > 0 {
			if err := w.extendLock(ctx); err != nil {
				errs = append(errs, err)
				break
			}
		}
		q := windsor.Query{DateFrom: from, DateTo: to, Account: w.account}
		res, err := w.service.DatasetByName(ctx, name, q, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("warm %s: %w", name, err))
			continue
		}
		warmed++
		logger.Debug("warmed dataset", "dataset", name, "rows", res.Table.Len())
	}
	err = errors.Join(errs...)

	w.mu.Lock()
	w.lastRun = w.now()
	w.lastErr = err
	w.mu.Unlock()
	if w.onDone != nil {
		w.onDone(err)
	}

	logger.Info("cache warm pass complete",
		"warmed", warmed, "failed", len(errs),
		"date_from", from, "date_to", to,
		"duration_ms", time.Since(start).Milliseconds())
	return err
}
