package schema

// Registered schema names.
const (
	Insights   = "insights"
	KPIMapping = "kpi_mapping"
)

// InsightsKeyColumns returns the identity key for the insights table:
// (account_id, ad_id, date_start). Rows are daily grain, so date_stop
// carries no identity information and is deliberately not part of the key.
func InsightsKeyColumns() []string {
	return []string{"account_id", "ad_id", "date_start"}
}

// insightsFields is the ads performance schema. Catalog order is the
// warehouse column order.
var insightsFields = []Field{
	// Identity and descriptive fields.
	{Name: "account_id", Kind: String, Nullable: true, Description: "Ad account ID"},
	{Name: "account_name", Kind: String, Nullable: true, Description: "Ad account name"},
	{Name: "account_currency", Kind: String, Nullable: true, Description: "Account currency"},
	{Name: "campaign_id", Kind: String, Nullable: true, Description: "Campaign ID"},
	{Name: "campaign_name", Kind: String, Nullable: true, Description: "Campaign name"},
	{Name: "adset_id", Kind: String, Nullable: true, Description: "Ad set ID"},
	{Name: "adset_name", Kind: String, Nullable: true, Description: "Ad set name"},
	{Name: "ad_id", Kind: String, Nullable: true, Description: "Ad ID"},
	{Name: "ad_name", Kind: String, Nullable: true, Description: "Ad name"},
	{Name: "objective", Kind: String, Nullable: true, Description: "Campaign objective"},
	{Name: "optimization_goal", Kind: String, Nullable: true, Description: "Optimization goal"},
	{Name: "quality_ranking", Kind: String, Nullable: true, Description: "Ad quality ranking"},
	{Name: "engagement_rate_ranking", Kind: String, Nullable: true, Description: "Engagement rate ranking"},
	{Name: "conversion_rate_ranking", Kind: String, Nullable: true, Description: "Conversion rate ranking"},

	// Reporting window.
	{Name: "date_start", Kind: Date, Nullable: true, Description: "Start date (YYYY-MM-DD)"},
	{Name: "date_stop", Kind: Date, Nullable: true, Description: "End date (YYYY-MM-DD)"},

	// Integer metrics.
	{Name: "impressions", Kind: Int64, Nullable: true, Description: "Total impressions"},
	{Name: "reach", Kind: Int64, Nullable: true, Description: "Unique reach"},
	{Name: "clicks", Kind: Int64, Nullable: true, Description: "Total clicks"},
	{Name: "unique_clicks", Kind: Int64, Nullable: true, Description: "Unique clicks"},
	{Name: "inline_link_clicks", Kind: Int64, Nullable: true, Description: "Inline link clicks"},

	// Float metrics.
	{Name: "spend", Kind: Float64, Nullable: true, Description: "Ad spend amount"},
	{Name: "cpc", Kind: Float64, Nullable: true, Description: "Cost per click"},
	{Name: "cpm", Kind: Float64, Nullable: true, Description: "Cost per thousand impressions"},
	{Name: "cpp", Kind: Float64, Nullable: true, Description: "Cost per purchase"},
	{Name: "ctr", Kind: Float64, Nullable: true, Description: "Click-through rate"},
	{Name: "frequency", Kind: Float64, Nullable: true, Description: "Average frequency"},
	{Name: "unique_ctr", Kind: Float64, Nullable: true, Description: "Unique click-through rate"},
	{Name: "cost_per_unique_click", Kind: Float64, Nullable: true, Description: "Cost per unique click"},
	{Name: "inline_link_click_ctr", Kind: Float64, Nullable: true, Description: "Inline link click CTR"},

	// Repeated action groups.
	{Name: "website_ctr", Kind: Float64, Nullable: true, Repeated: true, Description: "Website CTR by action type"},
	{Name: "actions", Kind: Int64, Nullable: true, Repeated: true, Description: "Actions by type"},
	{Name: "unique_actions", Kind: Int64, Nullable: true, Repeated: true, Description: "Unique actions by type"},
	{Name: "cost_per_action_type", Kind: Float64, Nullable: true, Repeated: true, Description: "Cost per action type"},
	{Name: "cost_per_unique_action_type", Kind: Float64, Nullable: true, Repeated: true, Description: "Cost per unique action"},
	{Name: "video_play_actions", Kind: Int64, Nullable: true, Repeated: true, Description: "Video play actions"},
	{Name: "video_avg_time_watched_actions", Kind: Int64, Nullable: true, Repeated: true, Description: "Avg video watch time"},
	{Name: "video_p25_watched_actions", Kind: Int64, Nullable: true, Repeated: true, Description: "25% video views"},
	{Name: "video_p50_watched_actions", Kind: Int64, Nullable: true, Repeated: true, Description: "50% video views"},
	{Name: "video_p75_watched_actions", Kind: Int64, Nullable: true, Repeated: true, Description: "75% video views"},
	{Name: "video_p100_watched_actions", Kind: Int64, Nullable: true, Repeated: true, Description: "100% video views"},
	{Name: "video_thruplay_watched_actions", Kind: Int64, Nullable: true, Repeated: true, Description: "Video thruplay views"},
}

// kpiMappingFields is the KPI event mapping table: platform action codes to
// user-facing KPI names. The table is replaced wholesale on each sync.
// last_updated is persisted as an RFC 3339 string.
var kpiMappingFields = []Field{
	{Name: "user_friendly_name", Kind: String, Nullable: false, Description: "Human-readable KPI name"},
	{Name: "meta_action_type", Kind: String, Nullable: false, Description: "Platform action type code"},
	{Name: "mapping_type", Kind: String, Nullable: true, Description: "standard, custom, or pixel"},
	{Name: "ad_account_id", Kind: String, Nullable: true, Description: "Ad account ID or 'all'"},
	{Name: "source_conversion_id", Kind: String, Nullable: true, Description: "Upstream custom conversion ID"},
	{Name: "last_updated", Kind: String, Nullable: true, Description: "Sync timestamp (RFC 3339)"},
}
