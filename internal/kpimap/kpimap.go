// Package kpimap maintains the table that maps user-facing KPI names to
// platform action-type event codes, and resolves names through a cached
// read of that table.
//
// The table holds three kinds of rows: a static catalog of standard event
// mappings that apply to every account, custom-conversion mappings fetched
// per account from the source API, and hand-maintained pixel mappings.
// Sync rebuilds the table wholesale from the first two kinds.
package kpimap

import (
	"fmt"
	"strings"

	"adsync/internal/source/metaads"
	"adsync/pkg/records"
)

// Mapping types stored in the mapping_type column.
const (
	TypeStandard = "standard"
	TypeCustom   = "custom"
	TypePixel    = "pixel"
)

// AccountAll marks a mapping that applies to every ad account.
const AccountAll = "all"

// Mapping is one row of the KPI mapping table.
type Mapping struct {
	UserFriendlyName   string
	MetaActionType     string
	MappingType        string
	AdAccountID        string
	SourceConversionID string
	LastUpdated        string
}

// StandardMappings returns the static catalog of standard event mappings.
// Callers own the returned slice.
func StandardMappings() []Mapping {
	names := []struct{ friendly, action string }{
		{"Lead", "lead"},
		{"Video View", "video_view"},
		{"Purchase", "purchase"},
		{"Page View", "page_view"},
		{"Link Click", "link_click"},
		{"Page Engagement", "page_engagement"},
		{"Post Engagement", "post_engagement"},
		{"Landing Page View", "landing_page_view"},
		{"Post Reaction", "post_reaction"},
		{"Post Save", "post_save"},
		{"Web Lead", "web_lead"},
	}
	out := make([]Mapping, len(names))
	for i, n := range names {
		out[i] = Mapping{
			UserFriendlyName: n.friendly,
			MetaActionType:   n.action,
			MappingType:      TypeStandard,
			AdAccountID:      AccountAll,
		}
	}
	return out
}

// FromConversion builds the mapping row for one custom conversion. The
// event code follows the platform's reporting convention for custom
// conversions, and the account column stores the bare numeric ID.
func FromConversion(accountID string, cc metaads.CustomConversion) Mapping {
	return Mapping{
		UserFriendlyName:   cc.Name,
		MetaActionType:     fmt.Sprintf("offsite_conversion.custom.%s", cc.ID),
		MappingType:        TypeCustom,
		AdAccountID:        strings.TrimPrefix(accountID, "act_"),
		SourceConversionID: cc.ID,
	}
}

// record renders the mapping as a loadable row. Empty optional columns are
// omitted rather than stored as empty strings.
func (m Mapping) record() records.Record {
	rec := records.Record{
		"user_friendly_name": m.UserFriendlyName,
		"meta_action_type":   m.MetaActionType,
		"mapping_type":       m.MappingType,
		"ad_account_id":      m.AdAccountID,
		"last_updated":       m.LastUpdated,
	}
	if m.SourceConversionID != "" {
		rec["source_conversion_id"] = m.SourceConversionID
	}
	return rec
}
