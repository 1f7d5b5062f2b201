package windsor

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacebookClient_GetAccounts(t *testing.T) {
	up, srv := newFakeUpstream(t, func(url.Values) (int, string) {
		return http.StatusOK, dataBody(
			map[string]interface{}{"account_name": "Zeta Shop", "spend": "10"},
			map[string]interface{}{"account_name": "Acme", "spend": "3"},
			map[string]interface{}{"account_name": "Acme", "spend": "4"},
			map[string]interface{}{"account_name": nil, "spend": "1"},
			map[string]interface{}{"account_name": "", "spend": "1"},
		)
	})
	client := NewFacebookClient(testWindsorConfig(srv.URL))

	accounts, err := client.GetAccounts(context.Background(), "2022-01-01", "2024-12-31")
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Zeta Shop"}, accounts)

	calls := up.calls()
	require.Len(t, calls, 1, "yearly aggregation is never chunked")
	assert.Equal(t, "account_name,spend", calls[0].Get("fields"))
	assert.Equal(t, "year", calls[0].Get("date_aggregation"))
	assert.Equal(t, `[["spend","gt",0]]`, calls[0].Get("filter"))
}

func TestFacebookClient_GetAccountsEmpty(t *testing.T) {
	_, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, `{"data":[]}` })
	client := NewFacebookClient(testWindsorConfig(srv.URL))

	accounts, err := client.GetAccounts(context.Background(), "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.NotNil(t, accounts)
	assert.Empty(t, accounts)
}

func TestFacebookClient_DatasetsFilterOnSpend(t *testing.T) {
	up, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, dataBody() })
	client := NewFacebookClient(testWindsorConfig(srv.URL))
	ctx := context.Background()
	q := Query{DateFrom: "2024-01-01", DateTo: "2024-01-31", Account: "Acme"}

	methods := map[string]func(context.Context, Query) (*Table, error){
		DatasetCampaigns:     client.GetCampaignData,
		DatasetCampaignDaily: client.GetCampaignDaily,
		DatasetAdsets:        client.GetAdsetData,
		DatasetAds:           client.GetAdData,
		DatasetAdDaily:       client.GetAdDaily,
		DatasetDemographics:  client.GetDemoData,
		DatasetPlacements:    client.GetPlacementData,
		DatasetRegions:       client.GetRegionData,
	}
	assert.Len(t, client.Datasets(), len(methods))

	for name, get := range methods {
		tbl, err := get(ctx, q)
		require.NoError(t, err, name)
		assert.Equal(t, facebookDatasets[name].Fields, tbl.Columns(), name)
	}

	for _, c := range up.calls() {
		assert.Equal(t, `[["spend","gt",0]]`, c.Get("filter"))
		assert.Equal(t, "Acme", c.Get("account_name"))
	}
}

func TestFacebookClient_DailyDatasetsAreNotAggregated(t *testing.T) {
	up, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, dataBody() })
	client := NewFacebookClient(testWindsorConfig(srv.URL))

	_, err := client.GetAdDaily(context.Background(), Query{DateFrom: "2024-01-01", DateTo: "2024-01-31"})
	require.NoError(t, err)
	_, err = client.GetCampaignData(context.Background(), Query{DateFrom: "2024-01-01", DateTo: "2024-01-31"})
	require.NoError(t, err)

	calls := up.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "", calls[0].Get("date_aggregation"))
	assert.Equal(t, "month", calls[1].Get("date_aggregation"))
}

func TestFacebookClient_UnknownDataset(t *testing.T) {
	client := NewFacebookClient(testWindsorConfig("http://windsor.invalid"))
	_, err := client.Fetch(context.Background(), "nope", Query{DateFrom: "2024-01-01", DateTo: "2024-01-31"})
	assert.ErrorIs(t, err, ErrUnknownDataset)
}

func TestGA4Client_Datasets(t *testing.T) {
	up, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, dataBody() })
	client := NewGA4Client(testWindsorConfig(srv.URL))
	ctx := context.Background()
	q := Query{DateFrom: "2024-01-01", DateTo: "2024-01-31", Account: "ignored"}

	methods := map[string]func(context.Context, Query) (*Table, error){
		DatasetTraffic:     client.GetTraffic,
		DatasetConversions: client.GetConversions,
		DatasetDevice:      client.GetDevice,
		DatasetGeo:         client.GetGeo,
		DatasetPages:       client.GetPages,
		DatasetDaily:       client.GetDaily,
	}
	assert.ElementsMatch(t, client.Datasets(), []string{
		DatasetTraffic, DatasetConversions, DatasetDevice, DatasetGeo, DatasetPages, DatasetDaily,
	})

	for name, get := range methods {
		_, err := get(ctx, q)
		require.NoError(t, err, name)
	}
	for _, c := range up.calls() {
		assert.Empty(t, c.Get("account_name"))
		assert.Empty(t, c.Get("filter"))
	}
	assert.Equal(t, "ga4", client.Platform())
	assert.False(t, client.AccountScoped())
	assert.True(t, NewFacebookClient(testWindsorConfig(srv.URL)).AccountScoped())
}

func TestCatalogs_IdentifyingFieldsNeverOptional(t *testing.T) {
	identifying := []string{"date", "account_name", "campaign_id", "ad_id", "adset_id", "spend", "sessions"}
	for _, cat := range []Catalog{FacebookCatalog(), GA4Catalog()} {
		for _, g := range cat.OptionalGroups {
			for _, f := range identifying {
				assert.NotContains(t, g, f, "%s group %v", cat.Platform, g)
			}
		}
	}
	assert.Len(t, FacebookCatalog().NumericFields, 27)
	assert.Len(t, FacebookCatalog().OptionalGroups, 17)
	assert.Len(t, GA4Catalog().OptionalGroups, 16)
}
