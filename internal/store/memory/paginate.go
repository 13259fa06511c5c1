package memory

// paginate returns the 1-based page of items. Out of range pages are empty.
func paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start < 0 || start >= len(items) || limit <= 0 {
		return []T{}
	}
	return items[start:min(start+limit, len(items))]
}
