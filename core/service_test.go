package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeXKCD struct {
	mu          sync.Mutex
	latest      Comic
	latestErr   error
	comics      map[int]Comic
	getErr      map[int]error
	latestCalls int
	getCalls    map[int]int
}

func newFakeXKCD(latestID int) *fakeXKCD {
	f := &fakeXKCD{
		comics:   make(map[int]Comic),
		getErr:   make(map[int]error),
		getCalls: make(map[int]int),
	}
	f.latest = Comic{ID: latestID, Title: fmt.Sprintf("Comic %d", latestID)}
	f.comics[latestID] = f.latest
	return f
}

func (f *fakeXKCD) Latest(context.Context) (Comic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCalls++
	if f.latestErr != nil {
		return Comic{}, f.latestErr
	}
	return f.latest, nil
}

func (f *fakeXKCD) Get(_ context.Context, id int) (Comic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[id]++
	if err, ok := f.getErr[id]; ok {
		return Comic{}, err
	}
	c, ok := f.comics[id]
	if !ok {
		return Comic{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeXKCD) calls(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls[id]
}

func (f *fakeXKCD) totalGetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.getCalls {
		total += n
	}
	return total
}

type recordingEvents struct {
	mu  sync.Mutex
	ids []int
}

func (e *recordingEvents) PublishLatestUpdated(id int) {
	e.mu.Lock()
	e.ids = append(e.ids, id)
	e.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, upstream *fakeXKCD) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cache := NewTTLCache[Comic](5 * time.Minute)
	cache.now = clock.now

	svc, err := NewService(testLogger(), upstream, nil, cache, 0, 0)
	require.NoError(t, err)
	return svc, clock
}

func TestNewServiceNilDependency(t *testing.T) {
	cache := NewTTLCache[Comic](time.Minute)

	_, err := NewService(nil, newFakeXKCD(1), nil, cache, 0, 0)
	require.ErrorIs(t, err, ErrNilDependency)

	_, err = NewService(testLogger(), nil, nil, cache, 0, 0)
	require.ErrorIs(t, err, ErrNilDependency)

	_, err = NewService(testLogger(), newFakeXKCD(1), nil, nil, 0, 0)
	require.ErrorIs(t, err, ErrNilDependency)
}

func TestGetByIDServedFromCache(t *testing.T) {
	upstream := newFakeXKCD(1000)
	upstream.comics[614] = Comic{ID: 614, Title: "Woodpecker"}
	svc, _ := newTestService(t, upstream)

	first, err := svc.GetByID(context.Background(), 614)
	require.NoError(t, err)
	require.Equal(t, 614, first.ID)

	second, err := svc.GetByID(context.Background(), 614)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, upstream.calls(614), "second call within TTL must not hit upstream")

	stats := svc.CacheStats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
}

func TestGetByIDInvalid(t *testing.T) {
	upstream := newFakeXKCD(1000)
	svc, _ := newTestService(t, upstream)

	for _, id := range []int{0, -1, -614} {
		_, err := svc.GetByID(context.Background(), id)
		require.ErrorIs(t, err, ErrInvalidID)
	}
	require.Equal(t, 0, upstream.totalGetCalls(), "validation must happen before any upstream call")
}

func TestGetByIDNotFoundIdempotent(t *testing.T) {
	upstream := newFakeXKCD(1000)
	svc, _ := newTestService(t, upstream)

	for range 3 {
		_, err := svc.GetByID(context.Background(), 999999)
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestGetByIDUpstreamFailureWrapped(t *testing.T) {
	upstream := newFakeXKCD(1000)
	upstream.getErr[7] = &UpstreamError{StatusCode: 502, Status: "502 Bad Gateway"}
	svc, _ := newTestService(t, upstream)

	_, err := svc.GetByID(context.Background(), 7)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, 502, ue.StatusCode)
	require.Contains(t, err.Error(), "fetch comic by id")
}

func TestGetLatestCachedThenExpires(t *testing.T) {
	upstream := newFakeXKCD(1234)
	svc, clock := newTestService(t, upstream)

	first, err := svc.GetLatest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1234, first.ID)
	require.Equal(t, 1, upstream.latestCalls)

	_, err = svc.GetLatest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, upstream.latestCalls, "fresh cache entry must be served without a fetch")

	clock.advance(5*time.Minute + time.Second)

	_, err = svc.GetLatest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, upstream.latestCalls, "expired entry must trigger a new fetch")
}

func TestGetLatestFailure(t *testing.T) {
	upstream := newFakeXKCD(1)
	upstream.latestErr = &UpstreamError{StatusCode: 503, Status: "503 Service Unavailable"}
	svc, _ := newTestService(t, upstream)

	_, err := svc.GetLatest(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch latest comic")
}

func TestGetLatestPenaltyDelay(t *testing.T) {
	upstream := newFakeXKCD(1234)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cache := NewTTLCache[Comic](5 * time.Minute)
	cache.now = clock.now

	const hitDelay = 60 * time.Millisecond
	svc, err := NewService(testLogger(), upstream, nil, cache, hitDelay, 0)
	require.NoError(t, err)

	_, err = svc.GetLatest(context.Background())
	require.NoError(t, err)

	// First hit after the refresh takes the penalty.
	start := time.Now()
	_, err = svc.GetLatest(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), hitDelay)

	// Later hits do not.
	start = time.Now()
	_, err = svc.GetLatest(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(start), hitDelay)
}

func TestGetLatestPublishesEvent(t *testing.T) {
	upstream := newFakeXKCD(1234)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cache := NewTTLCache[Comic](5 * time.Minute)
	cache.now = clock.now
	events := &recordingEvents{}

	svc, err := NewService(testLogger(), upstream, events, cache, 0, 0)
	require.NoError(t, err)

	_, err = svc.GetLatest(context.Background())
	require.NoError(t, err)
	_, err = svc.GetLatest(context.Background())
	require.NoError(t, err)

	require.Equal(t, []int{1234}, events.ids, "only the refresh publishes, not cache hits")
}

func TestGetLatestSingleFlight(t *testing.T) {
	upstream := newFakeXKCD(1234)
	svc, _ := newTestService(t, upstream)

	errs := make(chan error, 16)
	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			_, err := svc.GetLatest(context.Background())
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 1, upstream.latestCalls, "concurrent misses must collapse into one fetch")
}

func TestGetRandomStaysInRange(t *testing.T) {
	upstream := newFakeXKCD(50)
	for id := 1; id <= 50; id++ {
		upstream.comics[id] = Comic{ID: id, Title: fmt.Sprintf("Comic %d", id)}
	}
	svc, _ := newTestService(t, upstream)

	for range 20 {
		c, err := svc.GetRandom(context.Background())
		require.NoError(t, err)
		require.GreaterOrEqual(t, c.ID, 1)
		require.LessOrEqual(t, c.ID, 50)
	}
}

func TestGetRandomFallsBackToLatest(t *testing.T) {
	// Only the latest comic exists; every other id is a numbering gap, so
	// the retry budget is exhausted and the latest comic comes back.
	upstream := newFakeXKCD(100)
	svc, _ := newTestService(t, upstream)

	c, err := svc.GetRandom(context.Background())
	require.NoError(t, err)
	require.Equal(t, 100, c.ID)
}

func TestGetRandomInvalidLatestID(t *testing.T) {
	// Upstream answering 200 with a zero id must surface as a fetch error,
	// not blow up picking a random id.
	upstream := newFakeXKCD(0)
	svc, _ := newTestService(t, upstream)

	var err error
	require.NotPanics(t, func() {
		_, err = svc.GetRandom(context.Background())
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch random comic")
}

func TestGetRandomPropagatesUpstreamError(t *testing.T) {
	upstream := newFakeXKCD(10)
	for id := 1; id <= 9; id++ {
		upstream.getErr[id] = &UpstreamError{StatusCode: 500, Status: "500 Internal Server Error"}
	}
	upstream.getErr[10] = &UpstreamError{StatusCode: 500, Status: "500 Internal Server Error"}
	svc, _ := newTestService(t, upstream)

	// Latest itself is cached by the initial GetLatest call inside
	// GetRandom, so only the per-id fetches can fail here.
	_, err := svc.GetLatest(context.Background())
	require.NoError(t, err)

	_, err = svc.GetRandom(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "fetch random comic")
}

func TestSearchValidation(t *testing.T) {
	upstream := newFakeXKCD(100)
	svc, _ := newTestService(t, upstream)

	for _, q := range []string{"", "   ", strings.Repeat(" ", 101), strings.Repeat("x", 101)} {
		_, err := svc.Search(context.Background(), q, 1, 10)
		require.ErrorIs(t, err, ErrInvalidQuery)
	}
	require.Equal(t, 0, upstream.latestCalls, "validation must happen before any upstream call")
}

func TestSearchQueryLengthCountsRunes(t *testing.T) {
	upstream := newFakeXKCD(5)
	svc, _ := newTestService(t, upstream)

	// 60 two-byte letters: 120 bytes but only 60 characters, so valid.
	_, err := svc.Search(context.Background(), strings.Repeat("ф", 60), 1, 10)
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), strings.Repeat("ф", 101), 1, 10)
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSearchWindowAndPagination(t *testing.T) {
	// maxID 40 gives a scan window of ids 40 down to 10 inclusive.
	upstream := newFakeXKCD(40)
	for id := 1; id <= 40; id++ {
		title := fmt.Sprintf("Comic %d", id)
		if id >= 10 && id%2 == 0 {
			title = fmt.Sprintf("Python lesson %d", id)
		}
		upstream.comics[id] = Comic{ID: id, Title: title}
	}
	svc, _ := newTestService(t, upstream)

	res, err := svc.Search(context.Background(), "PYTHON", 2, 5)
	require.NoError(t, err)

	// Even ids in [10,40]: 16 matches, newest first.
	require.Equal(t, 16, res.Total)
	require.Equal(t, "python", res.Query)
	require.Equal(t, 2, res.Pagination.Page)
	require.Equal(t, 5, res.Pagination.Limit)
	require.Equal(t, 5, res.Pagination.Offset)
	require.Equal(t, 4, res.Pagination.Pages)

	require.Len(t, res.Comics, 5)
	// Page 2 starts after the five newest matches (40,38,36,34,32).
	require.Equal(t, 30, res.Comics[0].ID)
	for i := 1; i < len(res.Comics); i++ {
		require.Greater(t, res.Comics[i-1].ID, res.Comics[i].ID, "results must stay newest-first")
	}

	// Ids below the window must never be fetched.
	require.Equal(t, 0, upstream.calls(9))
	require.Equal(t, 0, upstream.calls(1))

	// A second search is served entirely from cache.
	fetched := upstream.totalGetCalls()
	_, err = svc.Search(context.Background(), "python", 1, 10)
	require.NoError(t, err)
	require.Equal(t, fetched, upstream.totalGetCalls())
}

func TestSearchSkipsNumberingGaps(t *testing.T) {
	upstream := newFakeXKCD(20)
	for id := 1; id <= 20; id += 2 {
		upstream.comics[id] = Comic{ID: id, Title: fmt.Sprintf("Odd comic %d", id)}
	}
	svc, _ := newTestService(t, upstream)

	res, err := svc.Search(context.Background(), "odd", 1, 50)
	require.NoError(t, err)
	require.Equal(t, 10, res.Total)
}

func TestSearchMatchesTranscript(t *testing.T) {
	upstream := newFakeXKCD(5)
	upstream.comics[3] = Comic{ID: 3, Title: "Untitled", Transcript: "A SANDWICH, please"}
	svc, _ := newTestService(t, upstream)

	res, err := svc.Search(context.Background(), "sandwich", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, 3, res.Comics[0].ID)
	require.Equal(t, 1, res.Pagination.Page)
	require.Equal(t, 10, res.Pagination.Limit)
	require.Equal(t, 1, res.Pagination.Pages)
}

func TestSearchAbortsOnUpstreamFailure(t *testing.T) {
	upstream := newFakeXKCD(20)
	for id := 1; id <= 20; id++ {
		upstream.comics[id] = Comic{ID: id, Title: fmt.Sprintf("Comic %d", id)}
	}
	upstream.getErr[15] = &UpstreamError{StatusCode: 502, Status: "502 Bad Gateway"}
	svc, _ := newTestService(t, upstream)

	_, err := svc.Search(context.Background(), "comic", 1, 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "search comics")
}

func TestSearchNoMatches(t *testing.T) {
	upstream := newFakeXKCD(5)
	for id := 1; id <= 5; id++ {
		upstream.comics[id] = Comic{ID: id, Title: fmt.Sprintf("Comic %d", id)}
	}
	svc, _ := newTestService(t, upstream)

	res, err := svc.Search(context.Background(), "zzz-no-such-thing", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 0, res.Total)
	require.Empty(t, res.Comics)
	require.Equal(t, 1, res.Pagination.Pages, "pages has a floor of 1 even with no matches")
}

func TestSearchLimitClamped(t *testing.T) {
	upstream := newFakeXKCD(5)
	svc, _ := newTestService(t, upstream)

	res, err := svc.Search(context.Background(), "comic", -3, 500)
	require.NoError(t, err)
	require.Equal(t, 1, res.Pagination.Page)
	require.Equal(t, 50, res.Pagination.Limit)
}
