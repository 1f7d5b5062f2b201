package windsor

import (
	"fmt"
	"time"
)

// DateChunk is a closed date interval [From, To].
type DateChunk struct {
	From time.Time
	To   time.Time
}

// Days returns the number of calendar days covered, inclusive.
func (c DateChunk) Days() int {
	return daysBetween(c.From, c.To) + 1
}

func (c DateChunk) String() string {
	return c.From.Format(dateLayout) + ".." + c.To.Format(dateLayout)
}

// MakeChunks tiles [from, to] with contiguous chunks of at most days days.
func MakeChunks(from, to time.Time, days int) []DateChunk {
	if days < 1 {
		days = 1
	}
	var chunks []DateChunk
	for cursor := from; !cursor.After(to); {
		end := cursor.AddDate(0, 0, days-1)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, DateChunk{From: cursor, To: end})
		cursor = end.AddDate(0, 0, 1)
	}
	return chunks
}

// ParseRange parses ISO calendar dates and rejects inverted ranges.
func ParseRange(dateFrom, dateTo string) (time.Time, time.Time, error) {
	from, err := time.Parse(dateLayout, dateFrom)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date_from %q", ErrInvalidRange, dateFrom)
	}
	to, err := time.Parse(dateLayout, dateTo)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date_to %q", ErrInvalidRange, dateTo)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, dateFrom, dateTo)
	}
	return from, to, nil
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
