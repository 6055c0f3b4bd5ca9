package status

// Filter selects a subset of the listing
type Filter string

const (
	FilterAll      Filter = "all"
	FilterActive   Filter = "active"
	FilterInactive Filter = "inactive"
	FilterUpdate   Filter = "update"
	FilterBeta     Filter = "beta"
	FilterDisabled Filter = "disabled"
)

// Filters lists every filter in display order
var Filters = []Filter{FilterAll, FilterActive, FilterInactive, FilterUpdate, FilterBeta, FilterDisabled}

// ParseFilter maps unknown or empty values to FilterAll
func ParseFilter(s string) Filter {
	for _, f := range Filters {
		if string(f) == s {
			return f
		}
	}
	return FilterAll
}

// Matches reports whether v belongs to filter f. Inactive means installed,
// not active and not disabled.
func Matches(v View, f Filter) bool {
	switch f {
	case FilterActive:
		return v.State.Active
	case FilterInactive:
		return v.State.Installed && !v.State.Active && !v.State.Disabled
	case FilterUpdate:
		return v.UpdateAvailable
	case FilterBeta:
		return v.Beta
	case FilterDisabled:
		return v.State.Disabled
	default:
		return true
	}
}

// Visible is the single predicate used for both listing and counting. Beta
// plugins are hidden everywhere unless showBeta is set.
func Visible(v View, f Filter, showBeta bool) bool {
	if v.Beta && !showBeta {
		return false
	}
	return Matches(v, f)
}

// Counts holds the number of visible plugins per filter
type Counts map[Filter]int

// Count tallies every filter over views
func Count(views []View, showBeta bool) Counts {
	counts := make(Counts, len(Filters))
	for _, f := range Filters {
		counts[f] = 0
	}
	for _, v := range views {
		for _, f := range Filters {
			if Visible(v, f, showBeta) {
				counts[f]++
			}
		}
	}
	return counts
}

// Select returns the views visible under f, preserving order
func Select(views []View, f Filter, showBeta bool) []View {
	selected := make([]View, 0, len(views))
	for _, v := range views {
		if Visible(v, f, showBeta) {
			selected = append(selected, v)
		}
	}
	return selected
}

// Listing is a filtered view of the manifest with counts for every filter
type Listing struct {
	Plugins  []View `json:"plugins"`
	Counts   Counts `json:"counts"`
	Filter   Filter `json:"filter"`
	ShowBeta bool   `json:"show_beta"`
}

// BuildListing filters views and computes counts with the same predicate
func BuildListing(views []View, f Filter, showBeta bool) Listing {
	return Listing{
		Plugins:  Select(views, f, showBeta),
		Counts:   Count(views, showBeta),
		Filter:   f,
		ShowBeta: showBeta,
	}
}
