package windsor

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, catalog Catalog, baseURL string, opts ...Option) (*Engine, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts = append([]Option{WithSleep(rec.sleep)}, opts...)
	return NewEngine(catalog, testWindsorConfig(baseURL), opts...), rec
}

func TestEngine_RoundTrip(t *testing.T) {
	up, srv := newFakeUpstream(t, func(q url.Values) (int, string) {
		return http.StatusOK, `{"data":[{"date":"2024-01-01","spend":"123.45","clicks":"10"}]}`
	})
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

	spec := DatasetSpec{Name: "roundtrip", Fields: []string{"date", "spend", "clicks"}, Aggregation: AggregationMonth}
	tbl, err := engine.Fetch(context.Background(), spec, Query{DateFrom: "2024-01-01", DateTo: "2024-01-31"})
	require.NoError(t, err)

	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, []float64{123.45}, tbl.Numbers("spend"))
	assert.Equal(t, []float64{10.0}, tbl.Numbers("clicks"))
	assert.Equal(t, []Date{NewDate(2024, time.January, 1)}, tbl.Dates("date"))

	calls := up.calls()
	require.Len(t, calls, 1)
	q := calls[0]
	assert.Equal(t, testAPIKey, q.Get("api_key"))
	assert.Equal(t, "date,spend,clicks", q.Get("fields"))
	assert.Equal(t, "2024-01-01", q.Get("date_from"))
	assert.Equal(t, "2024-01-31", q.Get("date_to"))
	assert.Equal(t, "month", q.Get("date_aggregation"))
	assert.Equal(t, "/facebook", up.paths[0])
}

func TestEngine_EmptyResult(t *testing.T) {
	for name, body := range map[string]string{
		"empty list":  `{"data": []}`,
		"missing key": `{}`,
		"null data":   `{"data": null}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, body })
			engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

			spec := DatasetSpec{Fields: []string{"date", "spend", "clicks"}, Aggregation: AggregationMonth}
			tbl, err := engine.Fetch(context.Background(), spec, Query{DateFrom: "2024-01-01", DateTo: "2024-01-31"})
			require.NoError(t, err)
			assert.True(t, tbl.Empty())
			assert.Equal(t, []string{"date", "spend", "clicks"}, tbl.Columns())
		})
	}
}

func TestEngine_MalformedBody(t *testing.T) {
	_, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, `<html>oops</html>` })
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

	_, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date"}},
		Query{DateFrom: "2024-01-01", DateTo: "2024-01-02"})
	assert.Error(t, err)
}

func TestEngine_InvalidRange(t *testing.T) {
	up, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, dataBody() })
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

	_, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date"}},
		Query{DateFrom: "2024-02-01", DateTo: "2024-01-01"})
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Empty(t, up.calls())
}

func TestEngine_AggregatedRangeIsSingleCall(t *testing.T) {
	for _, agg := range []Aggregation{AggregationMonth, AggregationYear} {
		t.Run(string(agg), func(t *testing.T) {
			up, srv := newFakeUpstream(t, func(url.Values) (int, string) {
				return http.StatusOK, dataBody(map[string]interface{}{"date": "2022-01-01", "spend": 1})
			})
			engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

			var progress [][2]int
			q := Query{
				DateFrom: "2022-01-01",
				DateTo:   "2024-12-31",
				Progress: func(done, total int) { progress = append(progress, [2]int{done, total}) },
			}
			_, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date", "spend"}, Aggregation: agg}, q)
			require.NoError(t, err)

			assert.Len(t, up.calls(), 1)
			assert.Equal(t, [][2]int{{1, 1}}, progress)
		})
	}
}

func TestEngine_ShortDailyRangeIsSingleCall(t *testing.T) {
	up, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, dataBody() })
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

	// 90 days between endpoints is still one request.
	_, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date", "spend"}},
		Query{DateFrom: "2024-01-01", DateTo: "2024-03-31"})
	require.NoError(t, err)
	assert.Len(t, up.calls(), 1)
}

func TestEngine_ChunkedFetchRunsConcurrently(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	up, srv := newFakeUpstream(t, func(q url.Values) (int, string) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		// Hold the request until a second one overlaps, or give up.
		for i := 0; i < 100 && maxInFlight.Load() < 2; i++ {
			time.Sleep(10 * time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		return http.StatusOK, dataBody(map[string]interface{}{"date": q.Get("date_from"), "spend": "1.5"})
	})
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

	var mu sync.Mutex
	var progress []int
	q := Query{
		DateFrom: "2023-01-01",
		DateTo:   "2023-12-31",
		Progress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 5, total)
			progress = append(progress, done)
		},
	}
	tbl, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date", "spend"}}, q)
	require.NoError(t, err)

	calls := up.calls()
	require.Len(t, calls, 5)
	assert.GreaterOrEqual(t, maxInFlight.Load(), int32(2), "chunks should overlap")
	assert.LessOrEqual(t, maxInFlight.Load(), int32(4), "pool width is 4")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)

	// The requested ranges tile the year exactly.
	var ranges []string
	for _, c := range calls {
		ranges = append(ranges, c.Get("date_from")+".."+c.Get("date_to"))
	}
	sort.Strings(ranges)
	assert.Equal(t, []string{
		"2023-01-01..2023-03-31",
		"2023-04-01..2023-06-29",
		"2023-06-30..2023-09-27",
		"2023-09-28..2023-12-26",
		"2023-12-27..2023-12-31",
	}, ranges)

	// Merged in chronological order.
	require.Equal(t, 5, tbl.Len())
	dates := tbl.Dates("date")
	for i := 1; i < len(dates); i++ {
		assert.True(t, dates[i-1].Time.Before(dates[i].Time))
	}
}

func TestEngine_ChunkMergeSkipsEmptyChunks(t *testing.T) {
	_, srv := newFakeUpstream(t, func(q url.Values) (int, string) {
		if q.Get("date_from") == "2023-04-01" {
			return http.StatusOK, dataBody(
				map[string]interface{}{"date": "2023-04-02", "spend": "2"},
				map[string]interface{}{"date": "2023-04-03", "spend": "3"},
			)
		}
		return http.StatusOK, dataBody()
	})
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

	tbl, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date", "campaign", "spend"}},
		Query{DateFrom: "2023-01-01", DateTo: "2023-12-31"})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, tbl.Numbers("spend"))
}

func TestEngine_FieldDroppedByOneChunkIsDroppedFromMerge(t *testing.T) {
	_, srv := newFakeUpstream(t, func(q url.Values) (int, string) {
		row := map[string]interface{}{"date": q.Get("date_from"), "spend": "1"}
		if q.Get("date_from") == "2024-01-01" {
			if hasField(q, "video_views") {
				return http.StatusBadRequest, `{"error":"invalid fields"}`
			}
			return http.StatusOK, dataBody(row)
		}
		row["video_views"] = "5"
		return http.StatusOK, dataBody(row)
	})
	obs := &recordingObserver{}
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL, WithObserver(obs))

	tbl, err := engine.Fetch(context.Background(), DatasetSpec{Name: "daily", Fields: []string{"date", "spend", "video_views"}},
		Query{DateFrom: "2024-01-01", DateTo: "2024-06-30"})
	require.NoError(t, err)

	assert.Equal(t, []string{"date", "spend"}, tbl.Columns())
	assert.False(t, tbl.Has("video_views"))
	assert.Equal(t, 3, tbl.Len())

	require.Len(t, obs.summaries, 1)
	assert.Equal(t, []string{"video_views"}, obs.summaries[0].Dropped)
}

func TestEngine_ChunkedAllEmptyKeepsColumns(t *testing.T) {
	_, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, dataBody() })
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

	tbl, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date", "campaign", "spend"}},
		Query{DateFrom: "2023-01-01", DateTo: "2023-12-31"})
	require.NoError(t, err)
	assert.True(t, tbl.Empty())
	assert.Equal(t, []string{"date", "campaign", "spend"}, tbl.Columns())
}

func TestEngine_ChunkFailureFailsWholeCall(t *testing.T) {
	_, srv := newFakeUpstream(t, func(q url.Values) (int, string) {
		if q.Get("date_from") == "2023-06-30" {
			return http.StatusInternalServerError, `{"error":"backend unavailable"}`
		}
		return http.StatusOK, dataBody(map[string]interface{}{"date": q.Get("date_from"), "spend": "1"})
	})
	obs := &recordingObserver{}
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL, WithObserver(obs))

	tbl, err := engine.Fetch(context.Background(), DatasetSpec{Name: "daily", Fields: []string{"date", "spend"}},
		Query{DateFrom: "2023-01-01", DateTo: "2023-12-31"})
	require.Error(t, err)
	assert.Nil(t, tbl)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "2023-06-30")

	require.Len(t, obs.summaries, 1)
	assert.Error(t, obs.summaries[0].Err)
	assert.Equal(t, 5, obs.summaries[0].Chunks)
}

func TestEngine_CallerCancellation(t *testing.T) {
	_, srv := newFakeUpstream(t, func(url.Values) (int, string) { return http.StatusOK, dataBody() })
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Fetch(ctx, DatasetSpec{Fields: []string{"date"}}, Query{DateFrom: "2023-01-01", DateTo: "2023-12-31"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}

func TestEngine_TransientRetrySucceedsOnThirdAttempt(t *testing.T) {
	_, srv := newFakeUpstream(t, func(url.Values) (int, string) {
		return http.StatusOK, dataBody(map[string]interface{}{"date": "2024-01-01", "spend": "5"})
	})

	var attempts atomic.Int32
	flaky := doerFunc(func(req *http.Request) (*http.Response, error) {
		if attempts.Add(1) <= 2 {
			return nil, &url.Error{Op: "Get", URL: req.URL.String(), Err: errors.New("connection refused")}
		}
		return srv.Client().Do(req)
	})
	engine, rec := newTestEngine(t, FacebookCatalog(), srv.URL, WithTransport(flaky))

	tbl, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date", "spend"}},
		Query{DateFrom: "2024-01-01", DateTo: "2024-01-31"})
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, int32(3), attempts.Load())

	delays := rec.recorded()
	require.Len(t, delays, 2)
	assert.Equal(t, 3*time.Second, delays[0])
	assert.Equal(t, 6*time.Second, delays[1])
	assert.LessOrEqual(t, delays[0], delays[1])
}

type slowBody struct{}

func (slowBody) Read([]byte) (int, error) {
	return 0, &url.Error{Op: "read", URL: "http://windsor.invalid", Err: errors.New("i/o timeout")}
}
func (slowBody) Close() error { return nil }

func TestEngine_BodyReadTimeoutIsRetried(t *testing.T) {
	_, srv := newFakeUpstream(t, func(url.Values) (int, string) {
		return http.StatusOK, dataBody(map[string]interface{}{"date": "2024-01-01", "spend": "7"})
	})

	var attempts atomic.Int32
	stalls := doerFunc(func(req *http.Request) (*http.Response, error) {
		if attempts.Add(1) <= 2 {
			return &http.Response{StatusCode: http.StatusOK, Body: slowBody{}, Request: req}, nil
		}
		return srv.Client().Do(req)
	})
	obs := &recordingObserver{}
	engine, rec := newTestEngine(t, FacebookCatalog(), srv.URL, WithTransport(stalls), WithObserver(obs))

	tbl, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date", "spend"}},
		Query{DateFrom: "2024-01-01", DateTo: "2024-01-31"})
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, tbl.Numbers("spend"))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, rec.recorded())
	assert.Equal(t, []int{1, 2}, obs.retries)
}

func TestEngine_TransientExhaustion(t *testing.T) {
	var attempts atomic.Int32
	down := doerFunc(func(req *http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, &url.Error{Op: "Get", URL: req.URL.String(), Err: errors.New("i/o timeout")}
	})
	engine, _ := newTestEngine(t, FacebookCatalog(), "http://windsor.invalid", WithTransport(down))

	_, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date"}},
		Query{DateFrom: "2024-01-01", DateTo: "2024-01-31"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Contains(t, err.Error(), "i/o timeout")
	assert.NotContains(t, err.Error(), testAPIKey)
}

func TestEngine_StatusCodesAreNotRetried(t *testing.T) {
	up, srv := newFakeUpstream(t, func(url.Values) (int, string) {
		return http.StatusServiceUnavailable, "maintenance"
	})
	engine, rec := newTestEngine(t, FacebookCatalog(), srv.URL)

	_, err := engine.Fetch(context.Background(), DatasetSpec{Fields: []string{"date", "spend"}},
		Query{DateFrom: "2024-01-01", DateTo: "2024-01-31"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "maintenance", apiErr.Body)
	assert.False(t, errors.Is(err, ErrSchemaRejected))
	assert.Len(t, up.calls(), 1)
	assert.Empty(t, rec.recorded())
}

func TestEngine_SummaryReportsFetch(t *testing.T) {
	_, srv := newFakeUpstream(t, func(q url.Values) (int, string) {
		if hasField(q, "video_views") {
			return http.StatusBadRequest, "unsupported field"
		}
		return http.StatusOK, dataBody(map[string]interface{}{"date": "2024-01-01", "spend": "5"})
	})
	obs := &recordingObserver{}
	engine, _ := newTestEngine(t, FacebookCatalog(), srv.URL, WithObserver(obs))

	spec := DatasetSpec{Name: "campaigns", Fields: []string{"date", "spend", "video_views"}, Aggregation: AggregationMonth}
	_, err := engine.Fetch(context.Background(), spec, Query{DateFrom: "2024-01-01", DateTo: "2024-01-31", Account: "Acme"})
	require.NoError(t, err)

	require.Len(t, obs.summaries, 1)
	s := obs.summaries[0]
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "facebook", s.Platform)
	assert.Equal(t, "campaigns", s.Dataset)
	assert.Equal(t, "Acme", s.Account)
	assert.Equal(t, []string{"video_views"}, s.Dropped)
	assert.Equal(t, 1, s.Chunks)
	assert.Equal(t, 1, s.Rows)
	assert.NoError(t, s.Err)
}

func TestEngine_ConfigDefaults(t *testing.T) {
	engine := NewEngine(GA4Catalog(), testWindsorConfig("")) // zero base URL
	assert.Equal(t, defaultBaseURL, engine.fetcher.baseURL)
	assert.Equal(t, 90, engine.chunkDays)
	assert.Equal(t, 4, engine.workers)
	assert.NotNil(t, engine.dialect)

	fb := NewEngine(FacebookCatalog(), testWindsorConfig("http://x"))
	assert.Nil(t, fb.dialect)
	assert.True(t, strings.HasPrefix(fb.fetcher.baseURL, "http://x"))
}
