package windsor

import "time"

// FetchSummary describes one logical fetch (a facade call).
type FetchSummary struct {
	ID          string
	Platform    string
	Dataset     string
	DateFrom    string
	DateTo      string
	Account     string
	Aggregation Aggregation
	Requested   []string
	Dropped     []string
	SnakeCase   bool
	Chunks      int
	Rows        int
	Duration    time.Duration
	Err         error
}

// Observer receives instrumentation events from the engine. Implementations
// must be safe for concurrent use: chunk workers report in parallel.
type Observer interface {
	RequestDone(platform string, status int, elapsed time.Duration, err error)
	RequestRetried(platform string, attempt int, err error)
	GroupDropped(platform string, group []string)
	DialectRetry(platform string)
	FetchDone(summary FetchSummary)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RequestDone(string, int, time.Duration, error) {}
func (NopObserver) RequestRetried(string, int, error)             {}
func (NopObserver) GroupDropped(string, []string)                 {}
func (NopObserver) DialectRetry(string)                           {}
func (NopObserver) FetchDone(FetchSummary)                        {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) RequestDone(platform string, status int, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.RequestDone(platform, status, elapsed, err)
	}
}

func (o Observers) RequestRetried(platform string, attempt int, err error) {
	for _, obs := range o {
		obs.RequestRetried(platform, attempt, err)
	}
}

func (o Observers) GroupDropped(platform string, group []string) {
	for _, obs := range o {
		obs.GroupDropped(platform, group)
	}
}

func (o Observers) DialectRetry(platform string) {
	for _, obs := range o {
		obs.DialectRetry(platform)
	}
}

func (o Observers) FetchDone(summary FetchSummary) {
	for _, obs := range o {
		obs.FetchDone(summary)
	}
}
