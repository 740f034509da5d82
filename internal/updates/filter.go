package updates

// FilterState captures the read-side projection chosen by a timeline
// or map view. Zero values mean "no constraint".
type FilterState struct {
	Day             string
	Category        Category
	MediaKind       MediaKind
	RequireLocation bool
}

// ApplyFilters removes entries that do not match the filter state. It
// never reorders: the output preserves the relative order of the
// input, so it composes after Merge without disturbing the ordering
// invariant.
func ApplyFilters(entries []Update, state FilterState) []Update {
	result := make([]Update, 0, len(entries))
	for _, update := range entries {
		if !matchesDay(update, state.Day) {
			continue
		}
		if !matchesCategory(update, state.Category) {
			continue
		}
		if !matchesMedia(update, state.MediaKind) {
			continue
		}
		if state.RequireLocation && update.Location == nil {
			continue
		}
		result = append(result, update)
	}
	return result
}

func matchesDay(update Update, day string) bool {
	return day == "" || update.DayKey() == day
}

func matchesCategory(update Update, category Category) bool {
	return category == "" || update.Category == category
}

func matchesMedia(update Update, kind MediaKind) bool {
	return kind == "" || update.Media.Kind == kind
}

// GroupByDay partitions entries into calendar-day buckets keyed by
// DayKey. Order within each bucket is the input order; callers are
// expected to pass an already merged (and therefore sorted) set. An
// empty input yields an empty map.
func GroupByDay(entries []Update) map[string][]Update {
	grouped := make(map[string][]Update)
	for _, update := range entries {
		key := update.DayKey()
		grouped[key] = append(grouped[key], update)
	}
	return grouped
}
