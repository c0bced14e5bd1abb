package core

import "context"

// XKCD fetches comic metadata from the upstream archive.
type XKCD interface {
	Latest(ctx context.Context) (Comic, error)
	Get(ctx context.Context, id int) (Comic, error)
}

// Events receives a notification when a fresh latest comic replaces the
// cached one.
type Events interface {
	PublishLatestUpdated(id int)
}

// Comics is the service surface the REST adapter depends on.
type Comics interface {
	GetLatest(ctx context.Context) (Comic, error)
	GetByID(ctx context.Context, id int) (Comic, error)
	GetRandom(ctx context.Context) (Comic, error)
	Search(ctx context.Context, query string, page, limit int) (SearchResult, error)
	CacheStats() CacheStats
}
