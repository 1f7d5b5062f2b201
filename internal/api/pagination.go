package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ignite/adinsights/internal/audit"
)

const (
	fetchLogDefaultLimit = 50
	fetchLogMaxLimit     = 500
)

// pageRequest is one page of the fetch log, newest first.
type pageRequest struct {
	Platform string
	Page     int
	Limit    int
}

func (p pageRequest) offset() int { return (p.Page - 1) * p.Limit }

// parsePageRequest reads platform, page and limit. Missing or malformed
// numbers fall back to page 1 and the default limit; limit is capped.
func parsePageRequest(r *http.Request) pageRequest {
	q := r.URL.Query()
	p := pageRequest{Platform: strings.TrimSpace(q.Get("platform")), Page: 1, Limit: fetchLogDefaultLimit}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.Limit = min(n, fetchLogMaxLimit)
	}
	return p
}

// fetchLogPage is the GET /api/fetch-log body.
type fetchLogPage struct {
	Platform   string        `json:"platform,omitempty"`
	Entries    []audit.Entry `json:"entries"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	Total      int64         `json:"total"`
	TotalPages int           `json:"total_pages"`
	NextPage   int           `json:"next_page,omitempty"`
}

func newFetchLogPage(p pageRequest, entries []audit.Entry, total int64) fetchLogPage {
	if entries == nil {
		entries = []audit.Entry{}
	}
	pages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	page := fetchLogPage{
		Platform:   p.Platform,
		Entries:    entries,
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: max(pages, 1),
	}
	if p.Page < pages {
		page.NextPage = p.Page + 1
	}
	return page
}
