package core

// Comic is an immutable snapshot of one upstream comic. Instances are
// replaced by fresher fetches, never mutated.
type Comic struct {
	ID         int
	Title      string
	SafeTitle  string
	AltText    string
	Transcript string
	ImageURL   string
	Year       int
	Month      int
	Day        int
}

type Pagination struct {
	Page   int
	Limit  int
	Pages  int
	Offset int
}

type SearchResult struct {
	Query      string
	Comics     []Comic
	Total      int
	Pagination Pagination
}

// CacheStats counts cache outcomes across all service operations.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}
