// Package windsor fetches advertising and web-analytics metric tables from
// the Windsor.ai connector API. A shared Engine carries the request, retry,
// field fallback and chunking logic; per-platform behavior lives in a Catalog.
package windsor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/adinsights/internal/config"
	"github.com/ignite/adinsights/internal/pkg/httpretry"
	"github.com/ignite/adinsights/internal/pkg/logger"
)

const (
	defaultBaseURL   = "https://connectors.windsor.ai"
	defaultChunkDays = 90
	defaultWorkers   = 4
)

// ProgressFunc reports completed out of total fetch units. Calls are
// serialized.
type ProgressFunc func(completed, total int)

// Query is the caller-controlled part of a fetch.
type Query struct {
	DateFrom string
	DateTo   string
	Account  string
	Progress ProgressFunc
}

// DatasetSpec is the fixed shape of one facade table.
type DatasetSpec struct {
	Name        string
	Fields      []string
	Aggregation Aggregation
	Filters     []Filter
}

// Engine executes dataset fetches against one connector.
type Engine struct {
	catalog   Catalog
	fetcher   *fetcher
	dialect   *DialectNormalizer
	chunkDays int
	workers   int
	observer  Observer
}

type engineOptions struct {
	transport httpretry.HTTPDoer
	retryOpts []httpretry.Option
	observer  Observer
}

// Option customizes an Engine.
type Option func(*engineOptions)

// WithTransport replaces the underlying HTTP client. Retries still wrap it.
func WithTransport(doer httpretry.HTTPDoer) Option {
	return func(o *engineOptions) { o.transport = doer }
}

// WithSleep replaces the retry backoff sleeper.
func WithSleep(fn httpretry.SleepFunc) Option {
	return func(o *engineOptions) { o.retryOpts = append(o.retryOpts, httpretry.WithSleep(fn)) }
}

// WithObserver attaches an instrumentation observer.
func WithObserver(obs Observer) Option {
	return func(o *engineOptions) { o.observer = obs }
}

// NewEngine builds an engine for catalog. Zero config values take the
// connector defaults.
func NewEngine(catalog Catalog, cfg config.WindsorConfig, opts ...Option) *Engine {
	o := engineOptions{observer: NopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = NopObserver{}
	}

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	if o.transport == nil {
		o.transport = &http.Client{Timeout: timeout}
	}
	backoff := cfg.Backoff()
	if backoff <= 0 {
		backoff = 3 * time.Second
	}
	observer := o.observer
	retryOpts := append([]httpretry.Option{
		httpretry.WithBackoffUnit(backoff),
		httpretry.WithRetryHook(func(attempt int, err error) {
			observer.RequestRetried(catalog.Platform, attempt, err)
		}),
	}, o.retryOpts...)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	e := &Engine{
		catalog:   catalog,
		chunkDays: cfg.ChunkDays,
		workers:   cfg.Workers,
		observer:  o.observer,
		fetcher: &fetcher{
			catalog:    catalog,
			numeric:    catalog.numericSet(),
			baseURL:    baseURL,
			apiKey:     cfg.APIKey,
			httpClient: httpretry.NewRetryClient(o.transport, cfg.MaxAttempts, retryOpts...),
			observer:   o.observer,
		},
	}
	if e.chunkDays <= 0 {
		e.chunkDays = defaultChunkDays
	}
	if e.workers <= 0 {
		e.workers = defaultWorkers
	}
	if catalog.SnakeCaseFallback || len(catalog.RateFields) > 0 {
		e.dialect = &DialectNormalizer{
			platform:   catalog.Platform,
			rateFields: catalog.RateFields,
			snakeRetry: catalog.SnakeCaseFallback,
			observer:   o.observer,
		}
	}
	return e
}

// Catalog returns the engine's connector catalog.
func (e *Engine) Catalog() Catalog { return e.catalog }

// Fetch retrieves the dataset described by spec for q. Long daily ranges
// are split into chunks fetched concurrently; any chunk failure fails the
// whole call.
func (e *Engine) Fetch(ctx context.Context, spec DatasetSpec, q Query) (*Table, error) {
	start := time.Now()
	summary := FetchSummary{
		ID:          uuid.NewString(),
		Platform:    e.catalog.Platform,
		Dataset:     spec.Name,
		DateFrom:    q.DateFrom,
		DateTo:      q.DateTo,
		Account:     q.Account,
		Aggregation: spec.Aggregation,
		Requested:   spec.Fields,
	}

	table, err := e.fetch(ctx, spec, q, &summary)

	summary.Duration = time.Since(start)
	summary.Err = err
	if table != nil {
		summary.Rows = table.Len()
	}
	e.observer.FetchDone(summary)

	if err != nil {
		logger.Error("windsor: fetch failed",
			"fetch_id", summary.ID,
			"platform", summary.Platform,
			"dataset", summary.Dataset,
			"date_from", summary.DateFrom,
			"date_to", summary.DateTo,
			"error", err,
		)
		return nil, err
	}
	logger.Info("windsor: fetch complete",
		"fetch_id", summary.ID,
		"platform", summary.Platform,
		"dataset", summary.Dataset,
		"chunks", summary.Chunks,
		"rows", summary.Rows,
		"dropped", summary.Dropped,
		"snake_case", summary.SnakeCase,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return table, nil
}

func (e *Engine) fetch(ctx context.Context, spec DatasetSpec, q Query, summary *FetchSummary) (*Table, error) {
	from, to, err := ParseRange(q.DateFrom, q.DateTo)
	if err != nil {
		return nil, err
	}

	req := MetricRequest{
		Connector:   e.catalog.Connector,
		Fields:      spec.Fields,
		DateFrom:    q.DateFrom,
		DateTo:      q.DateTo,
		Account:     q.Account,
		Aggregation: spec.Aggregation,
		Filters:     spec.Filters,
	}

	if spec.Aggregation.collapses() || daysBetween(from, to) <= e.chunkDays {
		summary.Chunks = 1
		res, err := e.fetchChunk(ctx, req)
		if err != nil {
			return nil, err
		}
		summary.Dropped = res.dropped
		summary.SnakeCase = res.snake
		if q.Progress != nil {
			q.Progress(1, 1)
		}
		return res.table, nil
	}

	chunks := MakeChunks(from, to, e.chunkDays)
	summary.Chunks = len(chunks)
	results, err := e.fetchChunks(ctx, req, chunks, q.Progress)
	if err != nil {
		return nil, err
	}
	return mergeChunks(results, summary), nil
}

// fetchChunks runs one request cycle per chunk on a bounded worker pool.
// Results land in chunk order regardless of completion order.
func (e *Engine) fetchChunks(ctx context.Context, req MetricRequest, chunks []DateChunk, progress ProgressFunc) ([]*chunkResult, error) {
	results := make([]*chunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var mu sync.Mutex
	completed := 0

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			// A sibling already failed; do not start new requests.
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.fetchChunk(gctx, req.withRange(chunk))
			if err != nil {
				return fmt.Errorf("chunk %s: %w", chunk, err)
			}
			results[i] = res

			mu.Lock()
			completed++
			if progress != nil {
				progress(completed, len(chunks))
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchChunk is one request cycle, passed through the dialect boundary when
// the connector has one.
func (e *Engine) fetchChunk(ctx context.Context, req MetricRequest) (*chunkResult, error) {
	if e.dialect == nil {
		return e.fetcher.fetch(ctx, req)
	}
	return e.dialect.Fetch(ctx, req, e.fetcher.fetch)
}

// mergeChunks concatenates the non-empty chunk tables. When every chunk is
// empty the empty tables are still merged so the columns survive. A field
// dropped by any chunk's fallback is removed from the merged table: the
// other chunks' values cannot be told apart from zero fill.
func mergeChunks(results []*chunkResult, summary *FetchSummary) *Table {
	var nonEmpty, all []*Table
	var dropped []string
	seen := make(map[string]bool)
	for _, res := range results {
		all = append(all, res.table)
		if !res.table.Empty() {
			nonEmpty = append(nonEmpty, res.table)
		}
		for _, f := range res.dropped {
			if !seen[f] {
				seen[f] = true
				dropped = append(dropped, f)
			}
		}
		summary.SnakeCase = summary.SnakeCase || res.snake
	}
	summary.Dropped = append(summary.Dropped, dropped...)

	var merged *Table
	if len(nonEmpty) == 0 {
		merged = Concat(all...)
	} else {
		merged = Concat(nonEmpty...)
	}
	merged.DropColumns(dropped...)
	return merged
}
