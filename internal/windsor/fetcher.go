package windsor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/adinsights/internal/pkg/httpretry"
	"github.com/ignite/adinsights/internal/pkg/logger"
)

// chunkResult is the outcome of one successful request cycle.
type chunkResult struct {
	table    *Table
	accepted []string
	dropped  []string
	snake    bool
}

// fetcher executes one request cycle: send, 400 fallback, decode.
type fetcher struct {
	catalog    Catalog
	numeric    map[string]bool
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	observer   Observer
}

// fetch sends req, shrinking the field list on 400, and returns the decoded
// table. Transport retries happen inside httpClient.
func (f *fetcher) fetch(ctx context.Context, req MetricRequest) (*chunkResult, error) {
	status, body, err := f.send(ctx, req)
	if err != nil {
		return nil, err
	}

	fields := req.Fields
	var dropped []string
	if status == http.StatusBadRequest {
		status, body, fields, dropped, err = f.resolve(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, &APIError{Platform: f.catalog.Platform, StatusCode: status, Body: string(body)}
	}

	table, err := f.decode(body, fields)
	if err != nil {
		return nil, err
	}
	// Upstream should not echo excluded fields, but never hand one back.
	if len(dropped) > 0 {
		table.DropColumns(dropped...)
	}
	return &chunkResult{table: table, accepted: fields, dropped: dropped}, nil
}

// resolve walks the optional groups in order, removing every group that is
// still present and resubmitting until upstream stops answering 400.
func (f *fetcher) resolve(ctx context.Context, req MetricRequest) (status int, body []byte, fields, dropped []string, err error) {
	status = http.StatusBadRequest
	fields = append([]string(nil), req.Fields...)

	for _, group := range f.catalog.OptionalGroups {
		remaining, removed := removeGroup(fields, group)
		if len(removed) == 0 {
			continue
		}
		fields = remaining
		dropped = append(dropped, removed...)
		f.observer.GroupDropped(f.catalog.Platform, removed)
		logger.Warn("windsor: field set rejected, dropping group",
			"platform", f.catalog.Platform,
			"group", removed,
			"remaining", len(fields),
		)

		status, body, err = f.send(ctx, req.withFields(fields))
		if err != nil {
			return 0, nil, nil, nil, err
		}
		if status != http.StatusBadRequest {
			return status, body, fields, dropped, nil
		}
	}
	return status, body, fields, dropped, nil
}

// removeGroup returns fields without the members of group, and the members
// that were actually present.
func removeGroup(fields []string, group FieldGroup) (remaining, removed []string) {
	inGroup := make(map[string]bool, len(group))
	for _, g := range group {
		inGroup[g] = true
	}
	remaining = make([]string, 0, len(fields))
	for _, f := range fields {
		if inGroup[f] {
			removed = append(removed, f)
			continue
		}
		remaining = append(remaining, f)
	}
	return remaining, removed
}

// send performs one GET (with transport retries) and returns status and body.
func (f *fetcher) send(ctx context.Context, req MetricRequest) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL(f.baseURL, f.apiKey), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		f.observer.RequestDone(f.catalog.Platform, 0, time.Since(start), err)
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("request canceled: %w", ctx.Err())
		}
		return 0, nil, fmt.Errorf("%w: %w", ErrTransient, &transportError{err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	f.observer.RequestDone(f.catalog.Platform, resp.StatusCode, time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("request canceled: %w", ctx.Err())
		}
		return 0, nil, fmt.Errorf("%w: reading response: %w", ErrTransient, &transportError{err: err})
	}

	logger.Debug("windsor: response",
		"platform", f.catalog.Platform,
		"status", resp.StatusCode,
		"date_from", req.DateFrom,
		"date_to", req.DateTo,
		"fields", len(req.Fields),
		"bytes", len(body),
	)
	return resp.StatusCode, body, nil
}

type rowsPayload struct {
	Data []map[string]interface{} `json:"data"`
}

// decode builds a table from a 2xx body. An absent or empty data key is a
// legitimate zero-row result carrying the accepted columns.
func (f *fetcher) decode(body []byte, fields []string) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload rowsPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", f.catalog.Platform, err)
	}
	if len(payload.Data) == 0 {
		return NewEmptyTable(fields, f.numeric), nil
	}
	return NewTableFromRows(payload.Data, fields, f.numeric), nil
}
