package memory

import (
	"context"
	"testing"
	"time"

	"github.com/spigell/job-radar/internal/model"
)

func upsert(t *testing.T, s *Store, id string, result model.MatchResult) int {
	t.Helper()
	posting := model.Posting{ExternalID: id, Title: "Engineer", Company: "Acme"}
	if err := s.UpsertPostingResult(context.Background(), &posting, &result); err != nil {
		t.Fatalf("upsert %s: %v", id, err)
	}
	return result.Generation
}

func TestUpsertBumpsGeneration(t *testing.T) {
	s := New()

	gen := upsert(t, s, "a", model.MatchResult{Tier: model.TierHigh, Method: model.MethodAI})
	if gen != 1 {
		t.Fatalf("first generation = %d, want 1", gen)
	}

	gen = upsert(t, s, "a", model.MatchResult{Tier: model.TierMedium, Method: model.MethodFallback})
	if gen != 2 {
		t.Fatalf("re-score generation = %d, want 2", gen)
	}

	exists, err := s.PostingExists(context.Background(), "a")
	if err != nil || !exists {
		t.Fatalf("PostingExists = %v, %v, want true", exists, err)
	}
}

func TestListNotifiable(t *testing.T) {
	s := New()
	ctx := context.Background()

	upsert(t, s, "high", model.MatchResult{Tier: model.TierHigh, Method: model.MethodAI})
	upsert(t, s, "medium", model.MatchResult{Tier: model.TierMedium, Method: model.MethodAI})
	upsert(t, s, "forced", model.MatchResult{Tier: model.TierLow, MustNotify: true, Method: model.MethodFallback})
	upsert(t, s, "rejected", model.MatchResult{Tier: model.TierLow, Prefiltered: true, Method: model.MethodPrefilterRejected})

	matches, err := s.ListNotifiable(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Deterministic order by external id.
	wantIDs := []string{"forced", "high"}
	if len(matches) != len(wantIDs) {
		t.Fatalf("got %d matches, want %d", len(matches), len(wantIDs))
	}
	for i, id := range wantIDs {
		if matches[i].Posting.ExternalID != id {
			t.Errorf("matches[%d] = %q, want %q", i, matches[i].Posting.ExternalID, id)
		}
	}
}

func TestNotificationPerGeneration(t *testing.T) {
	s := New()
	ctx := context.Background()

	upsert(t, s, "a", model.MatchResult{Tier: model.TierHigh, Method: model.MethodAI})

	err := s.AppendNotificationRecords(ctx, []model.NotificationRecord{
		{ExternalID: "a", Generation: 1, Channel: "log", SentAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("append records: %v", err)
	}

	matches, _ := s.ListNotifiable(ctx)
	if len(matches) != 0 {
		t.Fatalf("notified generation still listed: %v", matches)
	}

	// A re-score bumps the generation and makes the posting eligible again.
	upsert(t, s, "a", model.MatchResult{Tier: model.TierHigh, Method: model.MethodAI})

	matches, _ = s.ListNotifiable(ctx)
	if len(matches) != 1 || matches[0].Result.Generation != 2 {
		t.Fatalf("re-scored posting not listed, got %v", matches)
	}
}

func TestAcquireRunIsCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	ok, err := s.AcquireRun(ctx, now)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v, want true", ok, err)
	}

	ok, err = s.AcquireRun(ctx, now)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second acquire succeeded while a run was in progress")
	}

	next := now.Add(time.Hour)
	stats := &model.RunStats{RunID: "r1"}
	if err := s.FinishRun(ctx, stats, next); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	state, err := s.RunState(ctx)
	if err != nil {
		t.Fatalf("run state: %v", err)
	}
	if state.IsRunning {
		t.Error("still running after FinishRun")
	}
	if state.LastRunStats == nil || state.LastRunStats.RunID != "r1" {
		t.Errorf("LastRunStats = %+v, want r1", state.LastRunStats)
	}
	if state.NextScheduledAt == nil || !state.NextScheduledAt.Equal(next) {
		t.Errorf("NextScheduledAt = %v, want %v", state.NextScheduledAt, next)
	}

	ok, _ = s.AcquireRun(ctx, now)
	if !ok {
		t.Error("acquire after finish should succeed")
	}
}

func TestActiveFiltersSkipsInactive(t *testing.T) {
	s := New()
	s.SetFilters([]model.SearchFilter{
		{Name: "on", Active: true},
		{Name: "off", Active: false},
	})

	filters, err := s.ActiveFilters(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filters) != 1 || filters[0].Name != "on" {
		t.Errorf("filters = %v, want only the active one", filters)
	}
}
