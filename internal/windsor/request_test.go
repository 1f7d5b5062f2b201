package windsor

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricRequest_Values(t *testing.T) {
	req := MetricRequest{
		Connector:   "facebook",
		Fields:      []string{"date", "campaign", "spend"},
		DateFrom:    "2024-01-01",
		DateTo:      "2024-03-31",
		Account:     "Acme Store",
		Aggregation: AggregationMonth,
		Filters:     []Filter{SpendAboveZero},
	}

	v := req.Values()
	assert.Equal(t, "2024-01-01", v.Get("date_from"))
	assert.Equal(t, "2024-03-31", v.Get("date_to"))
	assert.Equal(t, "date,campaign,spend", v.Get("fields"))
	assert.Equal(t, "Acme Store", v.Get("account_name"))
	assert.Equal(t, "month", v.Get("date_aggregation"))
	assert.Equal(t, `[["spend","gt",0]]`, v.Get("filter"))
	assert.Empty(t, v.Get("api_key"), "api key is added only when building the URL")
}

func TestMetricRequest_OptionalParamsOmitted(t *testing.T) {
	req := MetricRequest{
		Connector: "googleanalytics4",
		Fields:    []string{"date", "sessions"},
		DateFrom:  "2024-01-01",
		DateTo:    "2024-01-31",
	}

	v := req.Values()
	for _, key := range []string{"account_name", "date_aggregation", "filter"} {
		_, present := v[key]
		assert.False(t, present, "%s should be omitted", key)
	}
}

func TestMetricRequest_URL(t *testing.T) {
	req := MetricRequest{
		Connector: "facebook",
		Fields:    []string{"date", "spend"},
		DateFrom:  "2024-01-01",
		DateTo:    "2024-01-31",
	}

	raw := req.URL("https://connectors.windsor.ai/", "secret")
	require.True(t, strings.HasPrefix(raw, "https://connectors.windsor.ai/facebook?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "secret", u.Query().Get("api_key"))
	assert.Equal(t, "date,spend", u.Query().Get("fields"))
}

func TestMetricRequest_Deterministic(t *testing.T) {
	req := MetricRequest{
		Connector: "facebook",
		Fields:    []string{"date", "spend"},
		DateFrom:  "2024-01-01",
		DateTo:    "2024-01-31",
		Filters:   []Filter{{Field: "spend", Operator: "gt", Value: 10.5}, {Field: "campaign", Operator: "contains", Value: "brand"}},
	}
	assert.Equal(t, req.URL("http://x", "k"), req.URL("http://x", "k"))
	assert.Equal(t, `[["spend","gt",10.5],["campaign","contains","brand"]]`, req.Values().Get("filter"))
}

func TestMetricRequest_WithFieldsDoesNotMutate(t *testing.T) {
	req := MetricRequest{Fields: []string{"date", "spend", "video_views"}}
	shorter := req.withFields([]string{"date", "spend"})

	assert.Equal(t, []string{"date", "spend", "video_views"}, req.Fields)
	assert.Equal(t, []string{"date", "spend"}, shorter.Fields)
}
