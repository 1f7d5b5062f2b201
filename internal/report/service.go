// Package report is the caller layer over the windsor facades. It resolves
// "platform/dataset" names, memoizes tables in the cache and archives
// snapshots.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/adinsights/internal/cache"
	"github.com/ignite/adinsights/internal/pkg/logger"
	"github.com/ignite/adinsights/internal/snapshot"
	"github.com/ignite/adinsights/internal/windsor"
)

var (
	// ErrUnknownPlatform is returned for a platform with no registered facade.
	ErrUnknownPlatform = errors.New("report: unknown platform")
	// ErrNoAccounts is returned when no facade can list accounts.
	ErrNoAccounts = errors.New("report: account listing not available")
	// ErrSnapshotsDisabled is returned when no snapshot store is configured.
	ErrSnapshotsDisabled = errors.New("report: snapshots disabled")
	// ErrCacheDisabled is returned when no table cache is configured.
	ErrCacheDisabled = errors.New("report: cache disabled")
)

// Facade is a platform client that serves named datasets.
// *windsor.FacebookClient and *windsor.GA4Client satisfy it.
type Facade interface {
	Platform() string
	Datasets() []string
	Spec(dataset string) (windsor.DatasetSpec, bool)
	Fetch(ctx context.Context, dataset string, q windsor.Query) (*windsor.Table, error)
}

var (
	_ Facade = (*windsor.FacebookClient)(nil)
	_ Facade = (*windsor.GA4Client)(nil)
)

// AccountScoper is implemented by facades that can say whether Query.Account
// changes their results. Facades without it are treated as account scoped.
type AccountScoper interface {
	AccountScoped() bool
}

var (
	_ AccountScoper = (*windsor.FacebookClient)(nil)
	_ AccountScoper = (*windsor.GA4Client)(nil)
)

// scopeQuery clears the account for facades that ignore it, so one table is
// cached and archived once rather than once per account value.
func scopeQuery(f Facade, q windsor.Query) windsor.Query {
	if s, ok := f.(AccountScoper); ok && !s.AccountScoped() {
		q.Account = ""
	}
	return q
}

// AccountLister lists the accounts with spend in a range.
type AccountLister interface {
	GetAccounts(ctx context.Context, dateFrom, dateTo string) ([]string, error)
}

// TableCache memoizes tables by key.
type TableCache interface {
	Get(ctx context.Context, key string) (*windsor.Table, bool, error)
	Set(ctx context.Context, key string, t *windsor.Table) error
	Invalidate(ctx context.Context, platform, dataset string) (int, error)
}

// SnapshotStore archives tables.
type SnapshotStore interface {
	Save(ctx context.Context, snap snapshot.Snapshot) (string, error)
	Load(ctx context.Context, platform, dataset, dateFrom, dateTo, account string) (*snapshot.Snapshot, error)
	List(ctx context.Context, platform, dataset string) ([]snapshot.Info, error)
}

// CacheMetrics counts cache lookups.
type CacheMetrics interface {
	CacheHit(platform, dataset string)
	CacheMiss(platform, dataset string)
}

// DatasetInfo describes one servable dataset.
type DatasetInfo struct {
	Platform    string   `json:"platform"`
	Name        string   `json:"name"`
	Fields      []string `json:"fields"`
	Aggregation string   `json:"aggregation,omitempty"`
}

// Result is a dataset table and where it came from.
type Result struct {
	Platform string         `json:"platform"`
	Dataset  string         `json:"dataset"`
	DateFrom string         `json:"date_from"`
	DateTo   string         `json:"date_to"`
	Account  string         `json:"account,omitempty"`
	Cached   bool           `json:"cached"`
	Table    *windsor.Table `json:"table"`
}

// Service resolves dataset requests against the registered facades.
type Service struct {
	facades   map[string]Facade
	accounts  AccountLister
	cache     TableCache
	snapshots SnapshotStore
	metrics   CacheMetrics
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables cache-through reads.
func WithCache(c TableCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithSnapshots enables snapshot archiving.
func WithSnapshots(store SnapshotStore) Option {
	return func(s *Service) { s.snapshots = store }
}

// WithCacheMetrics records cache hits and misses.
func WithCacheMetrics(m CacheMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAccounts sets the account lister.
func WithAccounts(a AccountLister) Option {
	return func(s *Service) { s.accounts = a }
}

// NewService registers facades by platform.
func NewService(facades []Facade, opts ...Option) *Service {
	s := &Service{
		facades: make(map[string]Facade, len(facades)),
		now:     time.Now,
	}
	for _, f := range facades {
		s.facades[f.Platform()] = f
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Platforms returns the registered platform names, sorted.
func (s *Service) Platforms() []string {
	names := make([]string, 0, len(s.facades))
	for name := range s.facades {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Datasets lists every dataset of every platform.
func (s *Service) Datasets() []DatasetInfo {
	var out []DatasetInfo
	for _, platform := range s.Platforms() {
		f := s.facades[platform]
		for _, name := range f.Datasets() {
			spec, _ := f.Spec(name)
			out = append(out, DatasetInfo{
				Platform:    platform,
				Name:        name,
				Fields:      spec.Fields,
				Aggregation: string(spec.Aggregation),
			})
		}
	}
	return out
}

// SnapshotsEnabled reports whether a snapshot store is configured.
func (s *Service) SnapshotsEnabled() bool { return s.snapshots != nil }

func (s *Service) lookup(platform, dataset string) (Facade, windsor.DatasetSpec, error) {
	f, ok := s.facades[platform]
	if !ok {
		return nil, windsor.DatasetSpec{}, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	spec, ok := f.Spec(dataset)
	if !ok {
		return nil, windsor.DatasetSpec{}, fmt.Errorf("%w: %s/%s", windsor.ErrUnknownDataset, platform, dataset)
	}
	return f, spec, nil
}

// Dataset returns a dataset table, reading through the cache unless refresh
// is set. A refreshed table still replaces the cached entry.
func (s *Service) Dataset(ctx context.Context, platform, dataset string, q windsor.Query, refresh bool) (*Result, error) {
	f, spec, err := s.lookup(platform, dataset)
	if err != nil {
		return nil, err
	}
	q = scopeQuery(f, q)

	res := &Result{Platform: platform, Dataset: dataset, DateFrom: q.DateFrom, DateTo: q.DateTo, Account: q.Account}
	key := cache.Key(platform, dataset, q, spec.Fields)

	if s.cache != nil && !refresh {
		t, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("report: cache read failed", "key", key, "error", err)
		}
		if ok {
			s.hit(platform, dataset)
			res.Cached = true
			res.Table = t
			return res, nil
		}
		s.miss(platform, dataset)
	}

	t, err := f.Fetch(ctx, dataset, q)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", platform, dataset, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, t); err != nil {
			logger.Warn("report: cache write failed", "key", key, "error", err)
		}
	}
	res.Table = t
	return res, nil
}

// Invalidate drops every cached range of a dataset and returns how many
// entries were removed.
func (s *Service) Invalidate(ctx context.Context, platform, dataset string) (int, error) {
	if s.cache == nil {
		return 0, ErrCacheDisabled
	}
	if _, _, err := s.lookup(platform, dataset); err != nil {
		return 0, err
	}
	n, err := s.cache.Invalidate(ctx, platform, dataset)
	if err != nil {
		return n, err
	}
	logger.Info("report: cache invalidated", "platform", platform, "dataset", dataset, "removed", n)
	return n, nil
}

// DatasetByName is Dataset for a "platform/dataset" name.
func (s *Service) DatasetByName(ctx context.Context, name string, q windsor.Query, refresh bool) (*Result, error) {
	platform, dataset, err := SplitName(name)
	if err != nil {
		return nil, err
	}
	return s.Dataset(ctx, platform, dataset, q, refresh)
}

// SplitName parses "platform/dataset".
func SplitName(name string) (string, string, error) {
	platform, dataset, ok := strings.Cut(strings.TrimSpace(name), "/")
	if !ok || platform == "" || dataset == "" {
		return "", "", fmt.Errorf("%w: %q is not platform/dataset", windsor.ErrUnknownDataset, name)
	}
	return platform, dataset, nil
}

// Accounts lists the accounts with spend in the range.
func (s *Service) Accounts(ctx context.Context, dateFrom, dateTo string) ([]string, error) {
	if s.accounts == nil {
		return nil, ErrNoAccounts
	}
	return s.accounts.GetAccounts(ctx, dateFrom, dateTo)
}

// Snapshot fetches a fresh table and archives it. It returns the object key.
func (s *Service) Snapshot(ctx context.Context, platform, dataset string, q windsor.Query) (string, *Result, error) {
	if s.snapshots == nil {
		return "", nil, ErrSnapshotsDisabled
	}
	res, err := s.Dataset(ctx, platform, dataset, q, true)
	if err != nil {
		return "", nil, err
	}

	key, err := s.snapshots.Save(ctx, snapshot.Snapshot{
		Platform:    platform,
		Dataset:     dataset,
		DateFrom:    res.DateFrom,
		DateTo:      res.DateTo,
		Account:     res.Account,
		GeneratedAt: s.now().UTC(),
		Table:       res.Table,
	})
	if err != nil {
		return "", nil, err
	}
	logger.Info("report: snapshot saved", "key", key, "rows", res.Table.Len())
	return key, res, nil
}

// LoadSnapshot reads an archived table.
func (s *Service) LoadSnapshot(ctx context.Context, platform, dataset string, q windsor.Query) (*snapshot.Snapshot, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	f, _, err := s.lookup(platform, dataset)
	if err != nil {
		return nil, err
	}
	q = scopeQuery(f, q)
	return s.snapshots.Load(ctx, platform, dataset, q.DateFrom, q.DateTo, q.Account)
}

// ListSnapshots lists the archived objects of a dataset.
func (s *Service) ListSnapshots(ctx context.Context, platform, dataset string) ([]snapshot.Info, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	if _, _, err := s.lookup(platform, dataset); err != nil {
		return nil, err
	}
	return s.snapshots.List(ctx, platform, dataset)
}

func (s *Service) hit(platform, dataset string) {
	if s.metrics != nil {
		s.metrics.CacheHit(platform, dataset)
	}
}

func (s *Service) miss(platform, dataset string) {
	if s.metrics != nil {
		s.metrics.CacheMiss(platform, dataset)
	}
}
