// Package jobsource abstracts where raw postings come from. The pipeline
// only sees the Source interface; concrete connectors for external boards
// live behind it.
package jobsource

import (
	"context"
	"errors"

	"github.com/spigell/job-radar/internal/model"
)

// ErrQuotaExhausted is returned by a Source when the upstream board refuses
// further requests for quota reasons. The pipeline treats it like any other
// fetch failure but callers may want to back off harder.
var ErrQuotaExhausted = errors.New("job source quota exhausted")

// Source fetches raw postings for one saved search filter.
type Source interface {
	// Fetch returns the postings currently matching the filter. Order is
	// source-defined. An empty slice with a nil error is a valid answer.
	Fetch(ctx context.Context, filter model.SearchFilter) ([]model.RawPosting, error)

	// Name identifies the source in logs and run stats.
	Name() string
}
