// Package memory provides an in-process Store used by manual runs without a
// database and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spigell/job-radar/internal/model"
	"github.com/spigell/job-radar/internal/notify"
)

type entry struct {
	posting model.Posting
	result  model.MatchResult
}

// Store keeps everything behind one mutex. Good enough for a single process;
// multi-process deployments use the postgres backend.
type Store struct {
	mu sync.Mutex

	cv       *model.CV
	filters  []model.SearchFilter
	postings map[string]*entry
	notified map[string]map[int]model.NotificationRecord
	state    model.RunState
}

func New() *Store {
	return &Store{
		postings: make(map[string]*entry),
		notified: make(map[string]map[int]model.NotificationRecord),
		state:    model.RunState{IntervalMinutes: 60},
	}
}

// SetActiveCV seeds the active CV. Management surface, not pipeline-owned.
func (s *Store) SetActiveCV(cv *model.CV) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cv = cv
}

// SetFilters seeds the search filters.
func (s *Store) SetFilters(filters []model.SearchFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = filters
}

func (s *Store) ActiveCV(context.Context) (*model.CV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cv == nil {
		return nil, nil
	}
	cv := *s.cv
	return &cv, nil
}

func (s *Store) ActiveFilters(context.Context) ([]model.SearchFilter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]model.SearchFilter, 0, len(s.filters))
	for _, f := range s.filters {
		if f.Active {
			active = append(active, f)
		}
	}
	return active, nil
}

// Result returns the stored match result for a posting. Management surface,
// not pipeline-owned.
func (s *Store) Result(externalID string) (*model.MatchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.postings[externalID]
	if !ok {
		return nil, false
	}
	r := e.result
	return &r, true
}

func (s *Store) PostingExists(_ context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.postings[externalID]
	return ok, nil
}

func (s *Store) UpsertPostingResult(_ context.Context, posting *model.Posting, result *model.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.postings[posting.ExternalID]; ok {
		// Posting fields are immutable after first sighting; only the
		// result is overwritten.
		result.Generation = existing.result.Generation + 1
		existing.result = *result
		return nil
	}

	result.Generation = 1
	s.postings[posting.ExternalID] = &entry{posting: *posting, result: *result}
	return nil
}

func (s *Store) ListNotifiable(context.Context) ([]model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []model.Match
	for id, e := range s.postings {
		r := e.result
		if !notify.Eligible(&r) {
			continue
		}
		if _, sent := s.notified[id][r.Generation]; sent {
			continue
		}
		matches = append(matches, model.Match{Posting: e.posting, Result: r})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Posting.ExternalID < matches[j].Posting.ExternalID
	})
	return matches, nil
}

func (s *Store) AppendNotificationRecords(_ context.Context, records []model.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		byGen, ok := s.notified[rec.ExternalID]
		if !ok {
			byGen = make(map[int]model.NotificationRecord)
			s.notified[rec.ExternalID] = byGen
		}
		byGen[rec.Generation] = rec
	}
	return nil
}

func (s *Store) RunState(context.Context) (*model.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	return &state, nil
}

func (s *Store) AcquireRun(_ context.Context, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsRunning {
		return false, nil
	}
	s.state.IsRunning = true
	s.state.LastRunAt = &now
	return true, nil
}

func (s *Store) FinishRun(_ context.Context, stats *model.RunStats, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.IsRunning = false
	s.state.LastRunStats = stats
	s.state.NextScheduledAt = &next
	return nil
}

func (s *Store) SetNextRun(_ context.Context, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.NextScheduledAt = &next
	return nil
}

func (s *Store) SetInterval(_ context.Context, minutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IntervalMinutes = minutes
	return nil
}
