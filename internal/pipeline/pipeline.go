// Package pipeline runs one end-to-end matching pass: fetch, dedup,
// prefilter, score, notify. It owns the run stats but not the run lock;
// acquiring and releasing the shared run state is the scheduler's job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/job-radar/internal/jobsource"
	"github.com/spigell/job-radar/internal/model"
	"github.com/spigell/job-radar/internal/notify"
	"github.com/spigell/job-radar/internal/prefilter"
	"github.com/spigell/job-radar/internal/scorer"
	"github.com/spigell/job-radar/internal/store"
)

// ErrSourceUnavailable marks a run that produced nothing because the very
// first fetch failed. Later per-filter failures are recorded in the run
// stats instead and do not abort the run.
var ErrSourceUnavailable = errors.New("job source unavailable")

type Config struct {
	Prefilter prefilter.Config

	// SkipPrefilter sends every fetched posting straight to scoring.
	SkipPrefilter bool

	// ScoreConcurrency bounds parallel scoring calls. Zero means 4.
	ScoreConcurrency int
}

func (c Config) withDefaults() Config {
	if c.ScoreConcurrency <= 0 {
		c.ScoreConcurrency = 4
	}
	return c
}

type Orchestrator struct {
	store   store.Store
	source  jobsource.Source
	scorer  *scorer.Scorer
	channel notify.Channel
	locker  Locker
	logger  *zap.Logger
	cfg     Config
}

func New(st store.Store, src jobsource.Source, sc *scorer.Scorer, ch notify.Channel, locker Locker, cfg Config, logger *zap.Logger) *Orchestrator {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Orchestrator{
		store:   st,
		source:  src,
		scorer:  sc,
		channel: ch,
		locker:  locker,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

// Run executes one full pass and always returns stats, even on failure.
func (o *Orchestrator) Run(ctx context.Context) (*model.RunStats, error) {
	stats := &model.RunStats{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	defer func() { stats.FinishedAt = time.Now() }()

	log := o.logger.With(zap.String("run_id", stats.RunID))
	log.Info("pipeline run started")

	cv, err := o.store.ActiveCV(ctx)
	if err != nil {
		return stats, fmt.Errorf("load active cv: %w", err)
	}
	if cv == nil {
		log.Warn("no active cv, skipping run")
		return stats, nil
	}

	filters, err := o.store.ActiveFilters(ctx)
	if err != nil {
		return stats, fmt.Errorf("load search filters: %w", err)
	}
	if len(filters) == 0 {
		log.Warn("no active search filters, skipping run")
		return stats, nil
	}

	fresh, err := o.fetch(ctx, filters, stats, log)
	if err != nil {
		return stats, err
	}

	toScore := o.prefilterStage(ctx, fresh, stats, log)
	o.scoreStage(ctx, *cv, toScore, stats, log)
	o.notifyStage(ctx, stats, log)

	log.Info("pipeline run finished",
		zap.Int("fetched", stats.Fetched),
		zap.Int("deduped", stats.Deduped),
		zap.Int("prefiltered_out", stats.PrefilteredOut),
		zap.Int("scored", stats.Scored),
		zap.Int("notified", stats.Notified),
		zap.Int("errors", len(stats.Errors)),
	)
	return stats, nil
}

// fetch pulls postings for every filter and drops duplicates, both within
// the run and against the store. A failure on the very first filter, before
// anything was fetched, aborts the run.
func (o *Orchestrator) fetch(ctx context.Context, filters []model.SearchFilter, stats *model.RunStats, log *zap.Logger) ([]model.Posting, error) {
	now := time.Now()
	seen := make(map[string]bool)
	var fresh []model.Posting

	for i, filter := range filters {
		raws, err := o.source.Fetch(ctx, filter)
		if err != nil {
			if i == 0 && stats.Fetched == 0 {
				return nil, fmt.Errorf("%w: filter %q: %w", ErrSourceUnavailable, filter.Name, err)
			}
			stats.Errors = append(stats.Errors, fmt.Sprintf("fetch %q: %s", filter.Name, err))
			if errors.Is(err, jobsource.ErrQuotaExhausted) {
				// Remaining filters would hit the same quota; keep what was
				// already fetched and let the next run retry.
				log.Warn("source quota exhausted, skipping remaining filters",
					zap.String("filter", filter.Name))
				break
			}
			log.Warn("fetch failed, continuing with remaining filters",
				zap.String("filter", filter.Name), zap.Error(err))
			continue
		}

		stats.Fetched += len(raws)
		for _, raw := range raws {
			if raw.ExternalID == "" {
				stats.Errors = append(stats.Errors, fmt.Sprintf("posting without external_id from filter %q", filter.Name))
				continue
			}
			if seen[raw.ExternalID] {
				stats.Deduped++
				continue
			}
			seen[raw.ExternalID] = true

			exists, err := o.store.PostingExists(ctx, raw.ExternalID)
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("dedup %s: %s", raw.ExternalID, err))
				continue
			}
			if exists {
				stats.Deduped++
				continue
			}

			fresh = append(fresh, model.Posting{
				ExternalID:   raw.ExternalID,
				Title:        raw.Title,
				Company:      raw.Company,
				Location:     raw.Location,
				Description:  raw.Description,
				Requirements: raw.Requirements,
				URL:          raw.URL,
				PostedAt:     raw.PostedAt,
				FetchedAt:    now,
				RawPayload:   raw.RawPayload,
			})
		}
	}

	return fresh, nil
}

// scoreItem carries the prefilter verdict alongside the posting into the
// scoring stage.
type scoreItem struct {
	posting model.Posting
	verdict prefilter.Verdict
}

// prefilterStage classifies every fresh posting by title. Rejected postings
// get an audit record immediately and never reach the scorer.
func (o *Orchestrator) prefilterStage(ctx context.Context, fresh []model.Posting, stats *model.RunStats, log *zap.Logger) []scoreItem {
	cfg := o.cfg.Prefilter
	if o.cfg.SkipPrefilter {
		cfg.Enabled = false
	}

	var toScore []scoreItem
	for _, p := range fresh {
		verdict := prefilter.Classify(p.Title, cfg)
		if verdict.ShouldAnalyze {
			toScore = append(toScore, scoreItem{posting: p, verdict: verdict})
			continue
		}

		stats.PrefilteredOut++
		// The must-notify flag is recorded for the audit trail, but a
		// prefilter-rejected result is never notify-eligible: when exclude
		// and must-notify both match, exclude wins.
		audit := &model.MatchResult{
			Tier:              model.TierLow,
			Percentage:        0,
			Reasoning:         auditReasoning(verdict),
			Prefiltered:       true,
			MustNotify:        verdict.MustNotify,
			MustNotifyKeyword: verdict.MustNotifyKeyword,
			ScoredAt:          time.Now().UTC(),
			Method:            model.MethodPrefilterRejected,
		}
		if err := o.store.UpsertPostingResult(ctx, &p, audit); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("store %s: %s", p.ExternalID, err))
			continue
		}
		log.Debug("posting rejected by prefilter",
			zap.String("external_id", p.ExternalID),
			zap.String("reason", string(verdict.Reason)),
		)
	}

	return toScore
}

func auditReasoning(v prefilter.Verdict) string {
	if v.Reason == prefilter.ReasonExcluded {
		return fmt.Sprintf("title matched exclude keyword %q", v.ExcludedKeyword)
	}
	return "title matched no include keyword"
}

// scoreStage scores surviving postings with bounded concurrency. A backend
// failure on one posting is recorded and does not touch the others; the
// fallback result is stored in its place.
func (o *Orchestrator) scoreStage(ctx context.Context, cv model.CV, items []scoreItem, stats *model.RunStats, log *zap.Logger) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ScoreConcurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			unlock, err := o.locker.Lock(gctx, item.posting.ExternalID)
			if err != nil {
				mu.Lock()
				stats.Errors = append(stats.Errors, fmt.Sprintf("lock %s: %s", item.posting.ExternalID, err))
				mu.Unlock()
				return nil
			}
			defer unlock()

			result, err := o.scorer.Score(gctx, cv, &item.posting)
			if err != nil {
				// The scorer degrades to the fallback result on backend
				// failure; the error is bookkeeping, not a stop signal.
				mu.Lock()
				stats.Errors = append(stats.Errors, fmt.Sprintf("score %s: %s", item.posting.ExternalID, err))
				mu.Unlock()
			}
			if result == nil {
				return nil
			}

			result.MustNotify = item.verdict.MustNotify
			result.MustNotifyKeyword = item.verdict.MustNotifyKeyword

			// Best effort: a missing summary suggestion is not an error.
			if result.NeedsSummaryChange && result.SuggestedSummary == "" {
				result.SuggestedSummary = o.scorer.TailoredSummary(gctx, cv, &item.posting, result.MissingRequirements)
			}

			if err := o.store.UpsertPostingResult(gctx, &item.posting, result); err != nil {
				mu.Lock()
				stats.Errors = append(stats.Errors, fmt.Sprintf("store %s: %s", item.posting.ExternalID, err))
				mu.Unlock()
				return nil
			}

			mu.Lock()
			stats.Scored++
			mu.Unlock()

			log.Debug("posting scored",
				zap.String("external_id", item.posting.ExternalID),
				zap.String("tier", string(result.Tier)),
				zap.Int("percentage", result.Percentage),
				zap.String("method", string(result.Method)),
			)
			return nil
		})
	}

	_ = g.Wait()
}

// notifyStage sends one digest for everything notifiable and writes records
// only after the channel confirmed delivery. Matches left unrecorded after a
// dispatch failure are picked up again by the next run.
func (o *Orchestrator) notifyStage(ctx context.Context, stats *model.RunStats, log *zap.Logger) {
	matches, err := o.store.ListNotifiable(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("list notifiable: %s", err))
		return
	}
	if len(matches) == 0 {
		return
	}

	if err := o.channel.Dispatch(ctx, matches); err != nil {
		log.Warn("notification dispatch failed", zap.Error(err))
		stats.Errors = append(stats.Errors, fmt.Sprintf("dispatch: %s", err))
		return
	}

	now := time.Now()
	records := make([]model.NotificationRecord, 0, len(matches))
	for _, m := range matches {
		records = append(records, model.NotificationRecord{
			ExternalID: m.Posting.ExternalID,
			Generation: m.Result.Generation,
			Channel:    o.channel.Name(),
			SentAt:     now,
		})
	}
	if err := o.store.AppendNotificationRecords(ctx, records); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("record notifications: %s", err))
		return
	}

	stats.Notified = len(matches)
}
