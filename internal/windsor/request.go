package windsor

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Aggregation is the time bucketing requested from upstream.
type Aggregation string

const (
	// AggregationNone keeps the connector's native (daily) granularity.
	AggregationNone  Aggregation = ""
	AggregationMonth Aggregation = "month"
	AggregationYear  Aggregation = "year"
)

// collapses reports whether the aggregation makes chunking unnecessary.
func (a Aggregation) collapses() bool {
	return a == AggregationMonth || a == AggregationYear
}

// Filter is a value filter encoded as a [field, operator, value] triple.
type Filter struct {
	Field    string
	Operator string
	Value    interface{}
}

// MarshalJSON encodes the filter as a 3-element list.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{f.Field, f.Operator, f.Value})
}

// SpendAboveZero keeps rows that actually spent money.
var SpendAboveZero = Filter{Field: "spend", Operator: "gt", Value: 0}

// MetricRequest is one outbound query against a connector.
type MetricRequest struct {
	Connector   string
	Fields      []string
	DateFrom    string
	DateTo      string
	Account     string
	Aggregation Aggregation
	Filters     []Filter
}

// Values serializes the request into query parameters. The API key is added
// by the fetcher so that a request can be logged safely.
func (r MetricRequest) Values() url.Values {
	params := url.Values{}
	params.Set("date_from", r.DateFrom)
	params.Set("date_to", r.DateTo)
	params.Set("fields", strings.Join(r.Fields, ","))

	if r.Account != "" {
		params.Set("account_name", r.Account)
	}
	if r.Aggregation != AggregationNone {
		params.Set("date_aggregation", string(r.Aggregation))
	}
	if len(r.Filters) > 0 {
		// Filter values are plain scalars, Marshal cannot fail here.
		encoded, _ := json.Marshal(r.Filters)
		params.Set("filter", string(encoded))
	}
	return params
}

// URL builds the full request URL for baseURL with the given API key.
func (r MetricRequest) URL(baseURL, apiKey string) string {
	params := r.Values()
	params.Set("api_key", apiKey)
	return strings.TrimRight(baseURL, "/") + "/" + r.Connector + "?" + params.Encode()
}

// withFields returns a copy of r carrying fields.
func (r MetricRequest) withFields(fields []string) MetricRequest {
	r.Fields = fields
	return r
}

// withRange returns a copy of r for the chunk c.
func (r MetricRequest) withRange(c DateChunk) MetricRequest {
	r.DateFrom = c.From.Format(dateLayout)
	r.DateTo = c.To.Format(dateLayout)
	return r
}
