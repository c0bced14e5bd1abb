package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
)

const (
	latestKey = "latest"

	// Search scans the most recent comics only: maxID down to maxID-30.
	searchWindow = 30

	randomAttempts = 5

	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 50
	maxQueryLen  = 100
)

type Service struct {
	log    *slog.Logger
	xkcd   XKCD
	events Events
	cache  *TTLCache[Comic]
	group  singleflight.Group

	// Latency shaping for the latest-comic path: a refresh sleeps
	// fetchDelay, and the first cache hit after a refresh sleeps
	// cacheHitDelay. Both may be zero.
	cacheHitDelay time.Duration
	fetchDelay    time.Duration

	mu      sync.Mutex
	penalty bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewService(
	log *slog.Logger, xkcd XKCD, events Events, cache *TTLCache[Comic],
	cacheHitDelay, fetchDelay time.Duration,
) (*Service, error) {
	if log == nil || xkcd == nil || cache == nil {
		return nil, ErrNilDependency
	}
	return &Service{
		log:           log,
		xkcd:          xkcd,
		events:        events,
		cache:         cache,
		cacheHitDelay: cacheHitDelay,
		fetchDelay:    fetchDelay,
	}, nil
}

// GetLatest returns the newest comic, refreshing the cached copy once its
// TTL elapses. Concurrent refreshes for the key collapse into a single
// upstream fetch.
func (s *Service) GetLatest(ctx context.Context) (Comic, error) {
	if c, ok := s.cache.Get(latestKey); ok {
		s.hits.Add(1)
		s.takePenalty(ctx)
		return c, nil
	}
	s.misses.Add(1)

	v, err, _ := s.group.Do(latestKey, func() (any, error) {
		if c, ok := s.cache.Get(latestKey); ok {
			return c, nil
		}
		c, err := s.xkcd.Latest(ctx)
		if err != nil {
			return Comic{}, err
		}
		s.cache.Set(latestKey, c)
		s.armPenalty()
		s.sleep(ctx, s.fetchDelay)
		if s.events != nil {
			s.events.PublishLatestUpdated(c.ID)
		}
		s.log.Debug("latest comic refreshed", "id", c.ID)
		return c, nil
	})
	if err != nil {
		return Comic{}, fmt.Errorf("fetch latest comic: %w", err)
	}
	return v.(Comic), nil
}

// GetByID returns the comic with the given id, serving repeats from cache
// within the TTL window.
func (s *Service) GetByID(ctx context.Context, id int) (Comic, error) {
	if id <= 0 {
		return Comic{}, ErrInvalidID
	}
	key := comicKey(id)
	if c, ok := s.cache.Get(key); ok {
		s.hits.Add(1)
		return c, nil
	}
	s.misses.Add(1)

	v, err, _ := s.group.Do(key, func() (any, error) {
		if c, ok := s.cache.Get(key); ok {
			return c, nil
		}
		c, err := s.xkcd.Get(ctx, id)
		if err != nil {
			return Comic{}, err
		}
		s.cache.Set(key, c)
		return c, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Comic{}, ErrNotFound
		}
		return Comic{}, fmt.Errorf("fetch comic by id: %w", err)
	}
	return v.(Comic), nil
}

// GetRandom picks a uniformly random id in [1, latest.ID]. Ids missing
// upstream (numbering gaps) are retried a bounded number of times; if every
// attempt lands in a gap the latest comic is returned instead, so exhausted
// retries alone never fail the call.
func (s *Service) GetRandom(ctx context.Context) (Comic, error) {
	latest, err := s.GetLatest(ctx)
	if err != nil {
		return Comic{}, fmt.Errorf("fetch random comic: %w", err)
	}
	if latest.ID < 1 {
		return Comic{}, fmt.Errorf("fetch random comic: invalid latest comic id %d", latest.ID)
	}

	for attempt := 0; attempt < randomAttempts; attempt++ {
		id := rand.IntN(latest.ID) + 1
		c, err := s.GetByID(ctx, id)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, ErrNotFound) {
			s.log.Debug("random comic missing, retrying", "id", id, "attempt", attempt+1)
			continue
		}
		return Comic{}, fmt.Errorf("fetch random comic: %w", err)
	}
	return latest, nil
}

// Search scans the recent window of comics for a case-insensitive substring
// match over title and transcript. Missing ids inside the window are
// numbering gaps and are skipped; any other upstream failure aborts the
// whole search.
func (s *Service) Search(ctx context.Context, query string, page, limit int) (SearchResult, error) {
	q := strings.TrimSpace(query)
	if n := utf8.RuneCountInString(q); n < 1 || n > maxQueryLen {
		return SearchResult{}, ErrInvalidQuery
	}
	q = strings.ToLower(q)

	latest, err := s.GetLatest(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	maxID := latest.ID

	low := maxID - searchWindow
	if low < 1 {
		low = 1
	}

	var matches []Comic
	for id := maxID; id >= low; id-- {
		c, err := s.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return SearchResult{}, fmt.Errorf("search comics: %w", err)
		}
		if strings.Contains(strings.ToLower(c.Title+c.Transcript), q) {
			matches = append(matches, c)
		}
	}

	page, limit = clampPagination(page, limit)
	total := len(matches)
	pages := (total + limit - 1) / limit
	if pages < 1 {
		pages = 1
	}
	offset := (page - 1) * limit

	start := min(offset, total)
	end := min(start+limit, total)

	return SearchResult{
		Query:  q,
		Comics: matches[start:end],
		Total:  total,
		Pagination: Pagination{
			Page:   page,
			Limit:  limit,
			Pages:  pages,
			Offset: offset,
		},
	}, nil
}

// CacheStats reports cache hit and miss totals since startup.
func (s *Service) CacheStats() CacheStats {
	return CacheStats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
}

func comicKey(id int) string {
	return fmt.Sprintf("comic-%d", id)
}

func clampPagination(page, limit int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func (s *Service) armPenalty() {
	s.mu.Lock()
	s.penalty = true
	s.mu.Unlock()
}

// takePenalty makes the first cache hit after a refresh observably slower
// than later hits. Later hits return without sleeping.
func (s *Service) takePenalty(ctx context.Context) {
	s.mu.Lock()
	armed := s.penalty
	s.penalty = false
	s.mu.Unlock()
	if armed {
		s.sleep(ctx, s.cacheHitDelay)
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
