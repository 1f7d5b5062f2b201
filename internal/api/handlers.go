package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/adinsights/internal/audit"
	"github.com/ignite/adinsights/internal/pkg/httputil"
	"github.com/ignite/adinsights/internal/pkg/logger"
	"github.com/ignite/adinsights/internal/report"
	"github.com/ignite/adinsights/internal/windsor"
)

const defaultLookbackDays = 30

// FetchLogReader pages through the fetch audit log.
type FetchLogReader interface {
	Recent(ctx context.Context, platform string, limit, offset int) ([]audit.Entry, error)
	Count(ctx context.Context, platform string) (int64, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	service  *report.Service
	fetchLog FetchLogReader
	now      func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *report.Service) *Handlers {
	return &Handlers{service: service, now: time.Now}
}

// SetFetchLog sets the audit log reader
func (h *Handlers) SetFetchLog(l FetchLogReader) {
	h.fetchLog = l
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.JSON(w, status, data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	httputil.Error(w, status, message)
}

// DateRange is the requested reporting window as ISO dates.
type DateRange struct {
	From string
	To   string
}

// parseDateRange reads date_from and date_to. Without either, it defaults to
// the last 30 days. Format errors are left to the fetch, which rejects them
// as an invalid range.
func parseDateRange(r *http.Request, now time.Time) (DateRange, bool) {
	from := strings.TrimSpace(r.URL.Query().Get("date_from"))
	to := strings.TrimSpace(r.URL.Query().Get("date_to"))

	switch {
	case from != "" && to != "":
		return DateRange{From: from, To: to}, true
	case from == "" && to == "":
		end := now.UTC()
		return DateRange{
			From: end.AddDate(0, 0, -defaultLookbackDays).Format("2006-01-02"),
			To:   end.Format("2006-01-02"),
		}, true
	default:
		return DateRange{}, false
	}
}

func (h *Handlers) query(r *http.Request) (windsor.Query, bool) {
	dr, ok := parseDateRange(r, h.now())
	if !ok {
		return windsor.Query{}, false
	}
	reqID := middleware.GetReqID(r.Context())
	return windsor.Query{
		DateFrom: dr.From,
		DateTo:   dr.To,
		Account:  strings.TrimSpace(r.URL.Query().Get("account")),
		Progress: func(done, total int) {
			logger.Debug("fetch progress", "request_id", reqID, "completed", done, "total", total)
		},
	}, true
}

// ListDatasets returns every servable dataset and its fields.
//
//	GET /api/datasets
func (h *Handlers) ListDatasets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": h.service.Platforms(),
		"datasets":  h.service.Datasets(),
	})
}

// GetAccounts lists Facebook accounts with spend in the range.
//
//	GET /api/facebook/accounts
func (h *Handlers) GetAccounts(w http.ResponseWriter, r *http.Request) {
	dr, ok := parseDateRange(r, h.now())
	if !ok {
		respondError(w, http.StatusBadRequest, "date_from and date_to must be given together")
		return
	}
	accounts, err := h.service.Accounts(r.Context(), dr.From, dr.To)
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"date_from": dr.From,
		"date_to":   dr.To,
		"accounts":  accounts,
	})
}

// datasetResponse is a dataset as row records. format=table returns the
// columnar table instead. Records is a pointer so an empty range still
// encodes as [].
type datasetResponse struct {
	Platform string                    `json:"platform"`
	Dataset  string                    `json:"dataset"`
	DateFrom string                    `json:"date_from"`
	DateTo   string                    `json:"date_to"`
	Account  string                    `json:"account,omitempty"`
	Cached   bool                      `json:"cached"`
	Rows     int                       `json:"rows"`
	Columns  []string                  `json:"columns"`
	Records  *[]map[string]interface{} `json:"records,omitempty"`
	Table    *windsor.Table            `json:"table,omitempty"`
}

func newDatasetResponse(res *report.Result, format string) datasetResponse {
	out := datasetResponse{
		Platform: res.Platform,
		Dataset:  res.Dataset,
		DateFrom: res.DateFrom,
		DateTo:   res.DateTo,
		Account:  res.Account,
		Cached:   res.Cached,
		Rows:     res.Table.Len(),
		Columns:  res.Table.Columns(),
	}
	if format == "table" {
		out.Table = res.Table
	} else {
		records := res.Table.Records()
		out.Records = &records
	}
	return out
}

// GetDataset returns one dataset for the range, read through the cache
// unless refresh=true.
//
//	GET /api/{platform}/{dataset}?date_from=&date_to=&account=&refresh=&format=
func (h *Handlers) GetDataset(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "date_from and date_to must be given together")
		return
	}
	refresh := r.URL.Query().Get("refresh") == "true"

	res, err := h.service.Dataset(r.Context(), chi.URLParam(r, "platform"), chi.URLParam(r, "dataset"), q, refresh)
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newDatasetResponse(res, r.URL.Query().Get("format")))
}

// CreateSnapshot fetches a fresh table and archives it to S3.
//
//	POST /api/{platform}/{dataset}/snapshot
func (h *Handlers) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "date_from and date_to must be given together")
		return
	}
	key, res, err := h.service.Snapshot(r.Context(), chi.URLParam(r, "platform"), chi.URLParam(r, "dataset"), q)
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"key":       key,
		"rows":      res.Table.Len(),
		"date_from": q.DateFrom,
		"date_to":   q.DateTo,
	})
}

// GetSnapshot returns an archived table.
//
//	GET /api/{platform}/{dataset}/snapshot?date_from=&date_to=&account=
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "date_from and date_to must be given together")
		return
	}
	snap, err := h.service.LoadSnapshot(r.Context(), chi.URLParam(r, "platform"), chi.URLParam(r, "dataset"), q)
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ListSnapshots lists archived tables of a dataset.
//
//	GET /api/{platform}/{dataset}/snapshots
func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := h.service.ListSnapshots(r.Context(), chi.URLParam(r, "platform"), chi.URLParam(r, "dataset"))
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"snapshots": infos})
}

// InvalidateCache drops every cached range of a dataset.
//
//	DELETE /api/{platform}/{dataset}/cache
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Invalidate(r.Context(), chi.URLParam(r, "platform"), chi.URLParam(r, "dataset"))
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// GetFetchLog pages through recent fetches, newest first.
//
//	GET /api/fetch-log?platform=&page=&limit=
func (h *Handlers) GetFetchLog(w http.ResponseWriter, r *http.Request) {
	if h.fetchLog == nil {
		respondError(w, http.StatusServiceUnavailable, "fetch log not configured")
		return
	}
	p := parsePageRequest(r)

	entries, err := h.fetchLog.Recent(r.Context(), p.Platform, p.Limit, p.offset())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "A database error occurred")
		return
	}
	total, err := h.fetchLog.Count(r.Context(), p.Platform)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "A database error occurred")
		return
	}
	respondJSON(w, http.StatusOK, newFetchLogPage(p, entries, total))
}
