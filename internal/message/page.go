package message

// DefaultPageLimit is the page size used when callers pass a
// non-positive limit.
const DefaultPageLimit = 20

// Pagination works on the message ID rather than a row offset so pages
// stay stable while new messages land at the head: the store fetches
// limit+1 rows descending, filtered to id < cursor when a cursor is
// supplied. A full limit+1 result proves another page exists; the extra
// row is cut and the next cursor is the ID of the oldest row returned,
// so the following fetch resumes right below it. A zero next cursor
// means end of history.

// clampLimit normalizes a caller-supplied page limit.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	return limit
}
