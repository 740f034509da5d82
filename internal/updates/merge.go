package updates

import "sort"

// Merge unions existing and incoming update sets keyed by ID and
// returns the result sorted by CreatedAt descending. When both sets
// carry the same ID the existing entry wins, so duplicate deliveries
// from the push channel and the write response collapse to one entry.
// Entries with equal CreatedAt keep the relative order they had in the
// concatenation incoming ++ existing, which surfaces just-arrived
// entries above older ones at the same timestamp.
func Merge(existing, incoming []Update) []Update {
	known := make(map[string]struct{}, len(existing)+len(incoming))
	for _, update := range existing {
		if update.ID == "" {
			continue
		}
		known[update.ID] = struct{}{}
	}

	merged := make([]Update, 0, len(existing)+len(incoming))
	for _, update := range incoming {
		if update.ID == "" {
			continue
		}
		if _, ok := known[update.ID]; ok {
			// First-writer-wins: a redelivered copy never displaces
			// the entry already known locally.
			continue
		}
		known[update.ID] = struct{}{}
		merged = append(merged, update)
	}
	for _, update := range existing {
		if update.ID == "" {
			continue
		}
		merged = append(merged, update)
	}

	sortByCreatedAtDescending(merged)
	return merged
}

// sortByCreatedAtDescending orders newest-first with a stable tiebreak
// on the slice's current order. Zero timestamps (unparsable upstream
// values) sort oldest rather than failing.
func sortByCreatedAtDescending(entries []Update) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

// Remove returns the set without the entry carrying the given ID. The
// input is not mutated; membership is otherwise preserved in order.
func Remove(entries []Update, id string) []Update {
	result := make([]Update, 0, len(entries))
	for _, update := range entries {
		if update.ID == id {
			continue
		}
		result = append(result, update)
	}
	return result
}
