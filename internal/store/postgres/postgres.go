// Package postgres implements the Store contract on PostgreSQL via pgx.
//
// Expected tables (managed outside this service): postings, match_results,
// notification_records, cvs, search_filters and a single-row run_state.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spigell/job-radar/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

// New wraps the pool and makes sure the run_state row exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}

	_, err := pool.Exec(ctx,
		`INSERT INTO run_state (id, is_running, interval_minutes)
		 VALUES (1, false, 60)
		 ON CONFLICT (id) DO NOTHING`,
	)
	if err != nil {
		return nil, fmt.Errorf("seed run_state: %w", err)
	}

	return s, nil
}

func (s *Store) ActiveCV(ctx context.Context) (*model.CV, error) {
	var cv model.CV
	err := s.pool.QueryRow(ctx,
		`SELECT content, COALESCE(summary, '')
		 FROM cvs
		 WHERE is_active = true
		 ORDER BY uploaded_at DESC
		 LIMIT 1`,
	).Scan(&cv.Content, &cv.Summary)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active cv: %w", err)
	}
	return &cv, nil
}

func (s *Store) ActiveFilters(ctx context.Context) ([]model.SearchFilter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, keywords, COALESCE(location, ''), remote, active
		 FROM search_filters
		 WHERE active = true`,
	)
	if err != nil {
		return nil, fmt.Errorf("query search_filters: %w", err)
	}
	defer rows.Close()

	var filters []model.SearchFilter
	for rows.Next() {
		var f model.SearchFilter
		var keywords []byte
		if err := rows.Scan(&f.Name, &keywords, &f.Location, &f.Remote, &f.Active); err != nil {
			return nil, fmt.Errorf("scan search_filter: %w", err)
		}
		if len(keywords) > 0 {
			if err := json.Unmarshal(keywords, &f.Keywords); err != nil {
				return nil, fmt.Errorf("decode filter keywords: %w", err)
			}
		}
		filters = append(filters, f)
	}

	return filters, rows.Err()
}

func (s *Store) PostingExists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM postings WHERE external_id = $1)`,
		externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("posting lookup: %w", err)
	}
	return exists, nil
}

func (s *Store) UpsertPostingResult(ctx context.Context, posting *model.Posting, result *model.MatchResult) error {
	matching, err := json.Marshal(result.MatchingSkills)
	if err != nil {
		return fmt.Errorf("encode matching skills: %w", err)
	}
	missing, err := json.Marshal(result.MissingRequirements)
	if err != nil {
		return fmt.Errorf("encode missing requirements: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Insert-once by external_id: a concurrent duplicate insert is a silent
	// no-op, never an error.
	_, err = tx.Exec(ctx,
		`INSERT INTO postings
		   (external_id, title, company, location, description, requirements, url, posted_at, fetched_at, raw_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (external_id) DO NOTHING`,
		posting.ExternalID, posting.Title, posting.Company, posting.Location,
		posting.Description, posting.Requirements, posting.URL,
		posting.PostedAt, posting.FetchedAt, posting.RawPayload,
	)
	if err != nil {
		return fmt.Errorf("insert posting: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO match_results
		   (external_id, tier, percentage, matching_skills, missing_requirements,
		    needs_summary_change, suggested_summary, reasoning, prefiltered,
		    must_notify, must_notify_keyword, scored_at, method, generation)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		 ON CONFLICT (external_id) DO UPDATE SET
		   tier = EXCLUDED.tier,
		   percentage = EXCLUDED.percentage,
		   matching_skills = EXCLUDED.matching_skills,
		   missing_requirements = EXCLUDED.missing_requirements,
		   needs_summary_change = EXCLUDED.needs_summary_change,
		   suggested_summary = EXCLUDED.suggested_summary,
		   reasoning = EXCLUDED.reasoning,
		   prefiltered = EXCLUDED.prefiltered,
		   must_notify = EXCLUDED.must_notify,
		   must_notify_keyword = EXCLUDED.must_notify_keyword,
		   scored_at = EXCLUDED.scored_at,
		   method = EXCLUDED.method,
		   generation = match_results.generation + 1
		 RETURNING generation`,
		posting.ExternalID, string(result.Tier), result.Percentage, matching, missing,
		result.NeedsSummaryChange, result.SuggestedSummary, result.Reasoning, result.Prefiltered,
		result.MustNotify, result.MustNotifyKeyword, result.ScoredAt, string(result.Method),
	).Scan(&result.Generation)
	if err != nil {
		return fmt.Errorf("upsert match result: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) ListNotifiable(ctx context.Context) ([]model.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.external_id, p.title, p.company, COALESCE(p.location, ''), COALESCE(p.url, ''),
		        r.tier, r.percentage, r.must_notify, COALESCE(r.must_notify_keyword, ''),
		        r.method, r.generation
		 FROM postings p
		 JOIN match_results r ON r.external_id = p.external_id
		 WHERE r.method <> 'prefilter-rejected'
		   AND (r.tier = 'high' OR r.must_notify)
		   AND NOT EXISTS (
		     SELECT 1 FROM notification_records n
		     WHERE n.external_id = r.external_id AND n.generation = r.generation
		   )
		 ORDER BY p.external_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifiable: %w", err)
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		var m model.Match
		var tier, method string
		if err := rows.Scan(
			&m.Posting.ExternalID, &m.Posting.Title, &m.Posting.Company, &m.Posting.Location, &m.Posting.URL,
			&tier, &m.Result.Percentage, &m.Result.MustNotify, &m.Result.MustNotifyKeyword,
			&method, &m.Result.Generation,
		); err != nil {
			return nil, fmt.Errorf("scan notifiable: %w", err)
		}
		m.Result.Tier = model.Tier(tier)
		m.Result.Method = model.Method(method)
		matches = append(matches, m)
	}

	return matches, rows.Err()
}

func (s *Store) AppendNotificationRecords(ctx context.Context, records []model.NotificationRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		_, err := tx.Exec(ctx,
			`INSERT INTO notification_records (external_id, generation, channel, sent_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (external_id, generation) DO NOTHING`,
			rec.ExternalID, rec.Generation, rec.Channel, rec.SentAt,
		)
		if err != nil {
			return fmt.Errorf("insert notification record: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) RunState(ctx context.Context) (*model.RunState, error) {
	var state model.RunState
	var stats []byte
	err := s.pool.QueryRow(ctx,
		`SELECT is_running, last_run_at, next_scheduled_at, interval_minutes, last_run_stats
		 FROM run_state WHERE id = 1`,
	).Scan(&state.IsRunning, &state.LastRunAt, &state.NextScheduledAt, &state.IntervalMinutes, &stats)
	if err != nil {
		return nil, fmt.Errorf("query run_state: %w", err)
	}

	if len(stats) > 0 {
		state.LastRunStats = &model.RunStats{}
		if err := json.Unmarshal(stats, state.LastRunStats); err != nil {
			return nil, fmt.Errorf("decode last run stats: %w", err)
		}
	}

	return &state, nil
}

func (s *Store) AcquireRun(ctx context.Context, now time.Time) (bool, error) {
	// Compare-and-set: two concurrent triggers cannot both observe idle.
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_state SET is_running = true, last_run_at = $1
		 WHERE id = 1 AND NOT is_running`,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("acquire run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) FinishRun(ctx context.Context, stats *model.RunStats, next time.Time) error {
	encoded, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode run stats: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE run_state
		 SET is_running = false, next_scheduled_at = $1, last_run_stats = $2
		 WHERE id = 1`,
		next, encoded,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *Store) SetNextRun(ctx context.Context, next time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE run_state SET next_scheduled_at = $1 WHERE id = 1`, next,
	)
	if err != nil {
		return fmt.Errorf("set next run: %w", err)
	}
	return nil
}

func (s *Store) SetInterval(ctx context.Context, minutes int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE run_state SET interval_minutes = $1 WHERE id = 1`, minutes,
	)
	if err != nil {
		return fmt.Errorf("set interval: %w", err)
	}
	return nil
}
