package windsor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ignite/adinsights/internal/pkg/logger"
)

// CamelToSnake converts camelCase to snake_case: an underscore goes before
// every upper-case letter that follows a lower-case letter or digit.
func CamelToSnake(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	var prev rune
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
		prev = r
	}
	return b.String()
}

type fetchFunc func(ctx context.Context, req MetricRequest) (*chunkResult, error)

// DialectNormalizer isolates the connector's naming inconsistency: a
// rejected camelCase request is replayed once in snake_case and the result
// is renamed back, so nothing downstream sees the alternate naming.
type DialectNormalizer struct {
	platform   string
	rateFields []string
	snakeRetry bool
	observer   Observer
}

// Fetch runs fetch for req, applying the snake_case fallback and rate
// normalization.
func (d *DialectNormalizer) Fetch(ctx context.Context, req MetricRequest, fetch fetchFunc) (*chunkResult, error) {
	res, err := fetch(ctx, req)
	if err != nil {
		var apiErr *APIError
		if !d.snakeRetry || !errors.As(err, &apiErr) {
			return nil, err
		}

		d.observer.DialectRetry(d.platform)
		logger.Warn("windsor: retrying with snake_case field names",
			"platform", d.platform,
			"status", apiErr.StatusCode,
		)

		snakeFields, back := snakeDialect(req.Fields)
		res, err = fetch(ctx, req.withFields(snakeFields))
		if err != nil {
			if errors.As(err, &apiErr) {
				apiErr.Snake = true
			}
			return nil, fmt.Errorf("snake_case retry: %w", err)
		}
		res.table.RenameColumns(back)
		res.accepted = renameAll(res.accepted, back)
		res.dropped = renameAll(res.dropped, back)
		res.snake = true
	}

	NormalizeRates(res.table, d.rateFields)
	return res, nil
}

// snakeDialect returns the snake_case field list and the mapping back to the
// original names.
func snakeDialect(fields []string) ([]string, map[string]string) {
	out := make([]string, 0, len(fields))
	back := make(map[string]string)
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		s := CamelToSnake(f)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if s != f {
			back[s] = f
		}
	}
	return out, back
}

func renameAll(names []string, mapping map[string]string) []string {
	if len(names) == 0 {
		return names
	}
	out := make([]string, len(names))
	for i, n := range names {
		if to, ok := mapping[n]; ok {
			out[i] = to
		} else {
			out[i] = n
		}
	}
	return out
}

// NormalizeRates rescales rate columns to 0-100 when every observed value is
// at most 1. Columns already on the percentage scale are left untouched, so
// applying it twice to percentage data is a no-op.
func NormalizeRates(t *Table, rateFields []string) {
	for _, name := range rateFields {
		col, ok := t.Column(name)
		if !ok {
			continue
		}
		col.toNumbers()
		if len(col.Numbers) == 0 {
			continue
		}
		max := col.Numbers[0]
		for _, v := range col.Numbers[1:] {
			if v > max {
				max = v
			}
		}
		if max > 1.0 {
			continue
		}
		for i := range col.Numbers {
			col.Numbers[i] *= 100
		}
	}
}
