package windsor

import (
	"context"
	"fmt"

	"github.com/ignite/adinsights/internal/config"
)

// GA4 dataset names.
const (
	DatasetTraffic     = "traffic"
	DatasetConversions = "conversions"
	DatasetDevice      = "device"
	DatasetGeo         = "geo"
	DatasetPages       = "pages"
	DatasetDaily       = "daily"
)

var ga4Datasets = map[string]DatasetSpec{
	DatasetTraffic: {
		Name: DatasetTraffic,
		Fields: []string{
			"date", "source", "medium", "campaign",
			"sessions", "users", "newUsers", "bounceRate",
			"engagementRate", "screenPageViews",
			"averageSessionDuration", "sessionsPerUser",
		},
		Aggregation: AggregationMonth,
	},
	DatasetConversions: {
		Name: DatasetConversions,
		Fields: []string{
			"date", "source", "campaign",
			"sessions", "conversions", "transactionRevenue",
			"users", "eventCount",
		},
		Aggregation: AggregationMonth,
	},
	DatasetDevice: {
		Name: DatasetDevice,
		Fields: []string{
			"date", "deviceCategory",
			"sessions", "users", "bounceRate", "engagementRate",
			"conversions", "transactionRevenue", "screenPageViews",
		},
		Aggregation: AggregationMonth,
	},
	DatasetGeo: {
		Name: DatasetGeo,
		Fields: []string{
			"date", "country", "region",
			"sessions", "users", "conversions",
			"transactionRevenue", "bounceRate",
		},
		Aggregation: AggregationMonth,
	},
	DatasetPages: {
		Name: DatasetPages,
		Fields: []string{
			"date", "pagePath",
			"screenPageViews", "sessions", "users",
			"bounceRate", "engagementRate", "averageSessionDuration",
		},
		Aggregation: AggregationMonth,
	},
	DatasetDaily: {
		Name: DatasetDaily,
		Fields: []string{
			"date", "source",
			"sessions", "users", "conversions",
			"transactionRevenue", "bounceRate", "engagementRate",
		},
	},
}

// GA4Client is the Google Analytics 4 facade. Results always use camelCase
// column names and 0-100 rates, whichever dialect upstream accepted.
type GA4Client struct {
	engine *Engine
}

// NewGA4Client creates a GA4 client.
func NewGA4Client(cfg config.WindsorConfig, opts ...Option) *GA4Client {
	return &GA4Client{engine: NewEngine(GA4Catalog(), cfg, opts...)}
}

// Platform returns "ga4".
func (c *GA4Client) Platform() string { return c.engine.catalog.Platform }

// Datasets lists the dataset names served by Fetch.
func (c *GA4Client) Datasets() []string { return datasetNames(ga4Datasets) }

// Spec returns the fixed shape of a dataset.
func (c *GA4Client) Spec(dataset string) (DatasetSpec, bool) {
	spec, ok := ga4Datasets[dataset]
	return spec, ok
}

// AccountScoped reports false: GA4 queries are never scoped to an account.
func (c *GA4Client) AccountScoped() bool { return false }

// Fetch retrieves a dataset by name. q.Account is ignored.
func (c *GA4Client) Fetch(ctx context.Context, dataset string, q Query) (*Table, error) {
	spec, ok := ga4Datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("%w: ga4/%s", ErrUnknownDataset, dataset)
	}
	q.Account = ""
	return c.engine.Fetch(ctx, spec, q)
}

// GetTraffic returns traffic by source and medium, aggregated by month.
func (c *GA4Client) GetTraffic(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetTraffic, q)
}

// GetConversions returns conversions by source and campaign.
func (c *GA4Client) GetConversions(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetConversions, q)
}

// GetDevice returns the device category breakdown.
func (c *GA4Client) GetDevice(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetDevice, q)
}

// GetGeo returns the country and region breakdown.
func (c *GA4Client) GetGeo(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetGeo, q)
}

// GetPages returns top page performance.
func (c *GA4Client) GetPages(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetPages, q)
}

// GetDaily returns the daily trend by source.
func (c *GA4Client) GetDaily(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetDaily, q)
}
