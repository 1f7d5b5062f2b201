package windsor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/adinsights/internal/config"
)

const testAPIKey = "test-key-0123456789"

// fakeUpstream is a scripted connector endpoint that records every query.
type fakeUpstream struct {
	mu      sync.Mutex
	queries []url.Values
	paths   []string
	respond func(q url.Values) (int, string)
}

func newFakeUpstream(t *testing.T, respond func(q url.Values) (int, string)) (*fakeUpstream, *httptest.Server) {
	t.Helper()
	up := &fakeUpstream{respond: respond}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		up.mu.Lock()
		up.queries = append(up.queries, q)
		up.paths = append(up.paths, r.URL.Path)
		up.mu.Unlock()

		status, body := up.respond(q)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return up, srv
}

func (u *fakeUpstream) calls() []url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]url.Values(nil), u.queries...)
}

func fieldsOf(q url.Values) []string {
	return strings.Split(q.Get("fields"), ",")
}

func hasField(q url.Values, name string) bool {
	for _, f := range fieldsOf(q) {
		if f == name {
			return true
		}
	}
	return false
}

func dataBody(rows ...map[string]interface{}) string {
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	b, _ := json.Marshal(map[string]interface{}{"data": rows})
	return string(b)
}

func testWindsorConfig(baseURL string) config.WindsorConfig {
	return config.WindsorConfig{
		APIKey:         testAPIKey,
		BaseURL:        baseURL,
		TimeoutSeconds: 5,
		MaxAttempts:    3,
		BackoffSeconds: 3,
		ChunkDays:      90,
		Workers:        4,
	}
}

// sleepRecorder replaces backoff sleeps in tests.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// recordingObserver captures engine events.
type recordingObserver struct {
	NopObserver
	mu        sync.Mutex
	dropped   [][]string
	dialect   int
	retries   []int
	summaries []FetchSummary
}

func (o *recordingObserver) GroupDropped(_ string, group []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, group)
}

func (o *recordingObserver) RequestRetried(_ string, attempt int, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, attempt)
}

func (o *recordingObserver) DialectRetry(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dialect++
}

func (o *recordingObserver) FetchDone(s FetchSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summaries = append(o.summaries, s)
}
