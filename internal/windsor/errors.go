package windsor

import (
	"errors"
	"fmt"

	"github.com/ignite/adinsights/internal/pkg/logger"
)

var (
	// ErrTransient marks a connectivity failure (timeout, refused or reset
	// connection) that persisted through every retry attempt.
	ErrTransient = errors.New("windsor: upstream unreachable")

	// ErrSchemaRejected marks a 400 response that survived every optional
	// field group being dropped.
	ErrSchemaRejected = errors.New("windsor: field set rejected")

	// ErrInvalidRange is returned for unparseable or inverted date ranges.
	ErrInvalidRange = errors.New("windsor: invalid date range")

	// ErrUnknownDataset is returned when a facade has no dataset by that name.
	ErrUnknownDataset = errors.New("windsor: unknown dataset")
)

// APIError is a non-2xx response that could not be recovered locally.
type APIError struct {
	Platform   string
	StatusCode int
	Body       string
	// Snake is set when the failing attempt used snake_case field names.
	Snake bool
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Platform, e.StatusCode, body)
}

// Unwrap exposes ErrSchemaRejected for exhausted 400 responses.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 400 {
		return ErrSchemaRejected
	}
	return nil
}

// IsTransient reports whether err is an exhausted connectivity failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// transportError hides the api_key carried in *url.Error messages.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return logger.RedactURL(e.err.Error()) }

func (e *transportError) Unwrap() error { return e.err }
