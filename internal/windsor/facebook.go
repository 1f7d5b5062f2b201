package windsor

import (
	"context"
	"fmt"
	"sort"

	"github.com/ignite/adinsights/internal/config"
)

// Facebook dataset names.
const (
	DatasetCampaigns     = "campaigns"
	DatasetCampaignDaily = "campaign_daily"
	DatasetAdsets        = "adsets"
	DatasetAds           = "ads"
	DatasetAdDaily       = "ad_daily"
	DatasetDemographics  = "demographics"
	DatasetPlacements    = "placements"
	DatasetRegions       = "regions"
	DatasetAccounts      = "accounts"
)

var facebookDatasets = map[string]DatasetSpec{
	DatasetCampaigns: {
		Name: DatasetCampaigns,
		Fields: concatFields(
			[]string{"date", "account_name", "campaign", "campaign_id",
				"campaign_status", "campaign_objective"},
			PerformanceFields, FunnelFields, EngagementFields, VideoFields,
		),
		Aggregation: AggregationMonth,
		Filters:     []Filter{SpendAboveZero},
	},
	DatasetCampaignDaily: {
		Name: DatasetCampaignDaily,
		Fields: []string{
			"date", "campaign", "campaign_objective",
			"impressions", "clicks", "spend", "reach",
			"actions_purchase", "action_values_purchase",
		},
		Filters: []Filter{SpendAboveZero},
	},
	DatasetAdsets: {
		Name: DatasetAdsets,
		Fields: concatFields(
			[]string{"date", "account_name", "campaign", "campaign_id", "campaign_objective",
				"adset_name", "adset_id", "adset_status"},
			PerformanceFields, FunnelFields, EngagementFields, VideoFields,
		),
		Aggregation: AggregationMonth,
		Filters:     []Filter{SpendAboveZero},
	},
	DatasetAds: {
		Name: DatasetAds,
		Fields: concatFields(
			[]string{"date", "account_name", "campaign", "campaign_id", "campaign_objective",
				"adset_name", "ad_name", "ad_id", "ad_status"},
			PerformanceFields, FunnelFields, EngagementFields, VideoFields,
			QualityFields, CreativeAssetFields,
		),
		Aggregation: AggregationMonth,
		Filters:     []Filter{SpendAboveZero},
	},
	DatasetAdDaily: {
		Name:    DatasetAdDaily,
		Fields:  []string{"date", "ad_name", "impressions", "clicks", "spend", "frequency"},
		Filters: []Filter{SpendAboveZero},
	},
	DatasetDemographics: {
		Name: DatasetDemographics,
		Fields: concatFields(
			[]string{"date", "campaign", "campaign_objective", "age", "gender"},
			PerformanceFields, FunnelFields,
		),
		Aggregation: AggregationMonth,
		Filters:     []Filter{SpendAboveZero},
	},
	DatasetPlacements: {
		Name: DatasetPlacements,
		Fields: concatFields(
			[]string{"date", "campaign", "campaign_objective",
				"publisher_platform", "platform_position"},
			PerformanceFields, FunnelFields,
		),
		Aggregation: AggregationMonth,
		Filters:     []Filter{SpendAboveZero},
	},
	DatasetRegions: {
		Name: DatasetRegions,
		Fields: concatFields(
			[]string{"date", "campaign", "campaign_objective", "region"},
			PerformanceFields, FunnelFields,
		),
		Aggregation: AggregationMonth,
		Filters:     []Filter{SpendAboveZero},
	},
}

var accountsSpec = DatasetSpec{
	Name:        DatasetAccounts,
	Fields:      []string{"account_name", "spend"},
	Aggregation: AggregationYear,
	Filters:     []Filter{SpendAboveZero},
}

// FacebookClient is the Facebook Ads facade. Every table only includes rows
// with spend > 0.
type FacebookClient struct {
	engine *Engine
}

// NewFacebookClient creates a Facebook client.
func NewFacebookClient(cfg config.WindsorConfig, opts ...Option) *FacebookClient {
	return &FacebookClient{engine: NewEngine(FacebookCatalog(), cfg, opts...)}
}

// Platform returns "facebook".
func (c *FacebookClient) Platform() string { return c.engine.catalog.Platform }

// Datasets lists the dataset names served by Fetch.
func (c *FacebookClient) Datasets() []string { return datasetNames(facebookDatasets) }

// Spec returns the fixed shape of a dataset.
func (c *FacebookClient) Spec(dataset string) (DatasetSpec, bool) {
	spec, ok := facebookDatasets[dataset]
	return spec, ok
}

// AccountScoped reports true: Query.Account filters by account_name.
func (c *FacebookClient) AccountScoped() bool { return true }

// Fetch retrieves a dataset by name.
func (c *FacebookClient) Fetch(ctx context.Context, dataset string, q Query) (*Table, error) {
	spec, ok := facebookDatasets[dataset]
	if !ok {
		return nil, fmt.Errorf("%w: facebook/%s", ErrUnknownDataset, dataset)
	}
	return c.engine.Fetch(ctx, spec, q)
}

// GetAccounts returns the sorted, distinct names of accounts with spend in
// the range.
func (c *FacebookClient) GetAccounts(ctx context.Context, dateFrom, dateTo string) ([]string, error) {
	t, err := c.engine.Fetch(ctx, accountsSpec, Query{DateFrom: dateFrom, DateTo: dateTo})
	if err != nil {
		return nil, err
	}
	col, ok := t.Column("account_name")
	if !ok {
		return []string{}, nil
	}

	seen := make(map[string]bool)
	accounts := []string{}
	for i := 0; i < col.Len(); i++ {
		v := col.Value(i)
		if v == nil {
			continue
		}
		name := stringFromAny(v)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		accounts = append(accounts, name)
	}
	sort.Strings(accounts)
	return accounts, nil
}

// GetCampaignData returns campaign performance, aggregated by month.
func (c *FacebookClient) GetCampaignData(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetCampaigns, q)
}

// GetCampaignDaily returns a lean daily campaign trend.
func (c *FacebookClient) GetCampaignDaily(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetCampaignDaily, q)
}

// GetAdsetData returns ad set performance, aggregated by month.
func (c *FacebookClient) GetAdsetData(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetAdsets, q)
}

// GetAdData returns ad and creative performance, aggregated by month.
func (c *FacebookClient) GetAdData(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetAds, q)
}

// GetAdDaily returns a lean daily ad trend, used for fatigue charts.
func (c *FacebookClient) GetAdDaily(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetAdDaily, q)
}

// GetDemoData returns the age and gender breakdown.
func (c *FacebookClient) GetDemoData(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetDemographics, q)
}

// GetPlacementData returns the publisher platform and position breakdown.
func (c *FacebookClient) GetPlacementData(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetPlacements, q)
}

// GetRegionData returns the region breakdown.
func (c *FacebookClient) GetRegionData(ctx context.Context, q Query) (*Table, error) {
	return c.Fetch(ctx, DatasetRegions, q)
}

func datasetNames(specs map[string]DatasetSpec) []string {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
