package windsor

// FieldGroup is a cluster of fields that upstream supports or rejects as a
// unit. Fallback always drops a whole group.
type FieldGroup []string

// Catalog holds the static field tables for one connector. The engine's
// control flow is shared; only this data differs per platform.
type Catalog struct {
	Platform  string
	Connector string
	// NumericFields are coerced to float64 when present.
	NumericFields []string
	// OptionalGroups are dropped in order, most expendable first, when
	// upstream answers 400. Identifying fields never appear here.
	OptionalGroups []FieldGroup
	// RateFields are rescaled to 0-100 when they arrive as fractions.
	RateFields []string
	// SnakeCaseFallback retries rejected requests with snake_case names.
	SnakeCaseFallback bool
}

func (c Catalog) numericSet() map[string]bool {
	set := make(map[string]bool, len(c.NumericFields))
	for _, f := range c.NumericFields {
		set[f] = true
	}
	return set
}

// Facebook field sets shared by the facade methods.
var (
	PerformanceFields = []string{
		"impressions", "clicks", "spend", "ctr", "cpc", "cpm",
		"reach", "frequency",
	}
	FunnelFields = []string{
		"actions_link_click", "actions_landing_page_view",
		"actions_add_to_cart", "actions_initiate_checkout",
		"actions_purchase", "action_values_purchase",
		"actions_lead", "actions_complete_registration",
		"actions_view_content",
	}
	EngagementFields = []string{
		"actions_post_engagement", "actions_post_reaction",
		"actions_comment", "actions_post_save",
	}
	VideoFields = []string{
		"video_views", "video_p25_watched", "video_p50_watched",
		"video_p75_watched", "video_p100_watched",
		"video_thruplay_watched",
	}
	QualityFields = []string{
		"quality_ranking", "engagement_rate_ranking",
		"conversion_rate_ranking",
	}
	CreativeAssetFields = []string{
		"image_url", "thumbnail_url", "promoted_post_full_picture",
		"desktop_feed_standard_preview_url",
		"body", "title", "name", "object_type", "creative_id",
	}
)

// FacebookCatalog describes the Facebook Ads connector.
func FacebookCatalog() Catalog {
	return Catalog{
		Platform:  "facebook",
		Connector: "facebook",
		NumericFields: concatFields(
			PerformanceFields, FunnelFields, EngagementFields, VideoFields,
		),
		OptionalGroups: []FieldGroup{
			{"video_p25_watched", "video_p50_watched", "video_p75_watched",
				"video_p100_watched", "video_thruplay_watched"},
			{"video_views"},
			{"actions_post_reaction", "actions_comment", "actions_post_save"},
			{"actions_post_engagement"},
			{"actions_complete_registration", "actions_view_content"},
			{"actions_add_to_cart", "actions_initiate_checkout"},
			{"actions_link_click", "actions_landing_page_view"},
			{"actions_lead"},
			{"quality_ranking", "engagement_rate_ranking", "conversion_rate_ranking"},
			{"promoted_post_full_picture"},
			{"desktop_feed_standard_preview_url"},
			{"image_url", "thumbnail_url"},
			{"body", "bodies", "title", "name"},
			{"campaign_objective"},
			{"publisher_platform", "platform_position"},
			{"age", "gender"},
			{"region"},
		},
	}
}

// GA4Catalog describes the Google Analytics 4 connector. Numeric fields and
// fallback groups list both namings since the connector may answer in either.
func GA4Catalog() Catalog {
	return Catalog{
		Platform:  "ga4",
		Connector: "googleanalytics4",
		NumericFields: []string{
			"sessions", "users", "newUsers", "bounceRate", "engagementRate",
			"screenPageViews", "averageSessionDuration", "sessionsPerUser",
			"conversions", "transactionRevenue", "eventCount",
			"new_users", "bounce_rate", "engagement_rate",
			"screen_page_views", "average_session_duration", "sessions_per_user",
			"transaction_revenue", "event_count",
		},
		OptionalGroups: []FieldGroup{
			{"eventCount", "event_count"},
			{"sessionsPerUser", "sessions_per_user"},
			{"averageSessionDuration", "average_session_duration"},
			{"screenPageViews", "screen_page_views"},
			{"transactionRevenue", "transaction_revenue"},
			{"conversions"},
			{"engagementRate", "engagement_rate"},
			{"bounceRate", "bounce_rate"},
			{"newUsers", "new_users"},
			{"region"},
			{"country"},
			{"deviceCategory", "device_category"},
			{"pagePath", "page_path"},
			{"medium"},
			{"campaign"},
			{"source"},
		},
		RateFields:        []string{"bounceRate", "engagementRate", "bounce_rate", "engagement_rate"},
		SnakeCaseFallback: true,
	}
}

func concatFields(sets ...[]string) []string {
	var out []string
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}
