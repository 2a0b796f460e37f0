// Package store defines the persistence contract the pipeline and scheduler
// share. The core only needs lookup by external_id, transactional upsert of a
// posting with its match result, append-only notification records, and a
// single-row run state with an atomic idle->running transition.
package store

import (
	"context"
	"time"

	"github.com/spigell/job-radar/internal/model"
)

// Store is implemented by the postgres and memory backends.
type Store interface {
	// ActiveCV returns the currently active CV, or nil when none is set.
	ActiveCV(ctx context.Context) (*model.CV, error)

	// ActiveFilters returns all search filters marked active.
	ActiveFilters(ctx context.Context) ([]model.SearchFilter, error)

	// PostingExists reports whether a posting with the external id is stored.
	PostingExists(ctx context.Context, externalID string) (bool, error)

	// UpsertPostingResult stores the posting and its match result
	// transactionally. A posting is insert-once: on conflict the stored
	// posting is kept and only the result is overwritten, with its
	// generation bumped. The assigned generation is written back into
	// result.Generation.
	UpsertPostingResult(ctx context.Context, posting *model.Posting, result *model.MatchResult) error

	// ListNotifiable returns every posting whose current result is
	// notify-eligible (high tier or must-notify, not prefilter-rejected)
	// and has no notification record for its generation yet.
	ListNotifiable(ctx context.Context) ([]model.Match, error)

	// AppendNotificationRecords records confirmed dispatches. Only called
	// after the notification channel reported success.
	AppendNotificationRecords(ctx context.Context, records []model.NotificationRecord) error

	// RunState returns a snapshot of the shared run state row.
	RunState(ctx context.Context) (*model.RunState, error)

	// AcquireRun attempts the idle->running compare-and-set, recording now
	// as last_run_at on success. Returns false when a run is in progress.
	AcquireRun(ctx context.Context, now time.Time) (bool, error)

	// FinishRun releases the running flag and stores the run outcome.
	FinishRun(ctx context.Context, stats *model.RunStats, next time.Time) error

	// SetNextRun advances next_scheduled_at without running (workday skip).
	SetNextRun(ctx context.Context, next time.Time) error

	// SetInterval updates interval_minutes. Takes effect on the next
	// computed next_scheduled_at, never retroactively.
	SetInterval(ctx context.Context, minutes int) error
}
