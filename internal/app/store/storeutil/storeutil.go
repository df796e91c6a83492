// internal/app/store/storeutil/storeutil.go
package storeutil

// Page returns the half-open bounds of a 1-based page over n items,
// clamped to the slice. Room reads serve from in-memory mirrors, so
// pagination is slice math rather than query options.
func Page(n, limit, page int) (lo, hi int) {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	lo = (page - 1) * limit
	if lo > n {
		lo = n
	}
	hi = lo + limit
	if hi > n {
		hi = n
	}
	return lo, hi
}
