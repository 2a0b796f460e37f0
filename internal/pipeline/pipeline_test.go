package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/jobsource"
	"github.com/spigell/job-radar/internal/model"
	"github.com/spigell/job-radar/internal/prefilter"
	"github.com/spigell/job-radar/internal/scorer"
	"github.com/spigell/job-radar/internal/store/memory"
)

type stubSource struct {
	postings []model.RawPosting
	errs     map[string]error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(_ context.Context, f model.SearchFilter) ([]model.RawPosting, error) {
	if err := s.errs[f.Name]; err != nil {
		return nil, err
	}
	return s.postings, nil
}

type captureChannel struct {
	dispatches [][]model.Match
	err        error
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Dispatch(_ context.Context, matches []model.Match) error {
	if c.err != nil {
		return c.err
	}
	c.dispatches = append(c.dispatches, matches)
	return nil
}

const backendVerdict = `{
	"score": "high",
	"compatibility_percentage": 85,
	"matching_skills": ["python", "docker"],
	"missing_requirements": ["kubernetes"],
	"needs_summary_change": false,
	"analysis_reasoning": "Good overlap."
}`

// selectiveGenerator times out for one specific posting and answers
// normally for the rest.
type selectiveGenerator struct {
	failOn string
}

func (g *selectiveGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, g.failOn) {
		return "", errors.New("context deadline exceeded")
	}
	return backendVerdict, nil
}

func (g *selectiveGenerator) Model() string { return "selective" }

type failingGenerator struct{}

func (failingGenerator) GenerateContent(context.Context, string) (string, error) {
	return "", errors.New("backend down")
}

func (failingGenerator) Model() string { return "failing" }

func seededStore(filters ...string) *memory.Store {
	st := memory.New()
	st.SetActiveCV(&model.CV{Content: "Strong Python and Docker background."})

	var fs []model.SearchFilter
	for _, name := range filters {
		fs = append(fs, model.SearchFilter{Name: name, Active: true})
	}
	st.SetFilters(fs)
	return st
}

func rawPosting(id, title string) model.RawPosting {
	return model.RawPosting{
		ExternalID:  id,
		Title:       title,
		Company:     "Acme",
		Description: "Python and Docker in production.",
	}
}

func newOrchestrator(st *memory.Store, src *stubSource, ch *captureChannel, cfg Config) *Orchestrator {
	sc := scorer.New(nil, scorer.Config{}, nil)
	return New(st, src, sc, ch, nil, cfg, zap.NewNop())
}

func TestRunHappyPath(t *testing.T) {
	st := seededStore("main")
	src := &stubSource{postings: []model.RawPosting{
		rawPosting("a", "Platform Engineer"),
		rawPosting("b", "Backend Engineer"),
	}}
	ch := &captureChannel{}

	stats, err := newOrchestrator(st, src, ch, Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Fetched != 2 || stats.Deduped != 0 || stats.Scored != 2 || stats.Notified != 2 {
		t.Errorf("stats = %+v, want fetched=2 deduped=0 scored=2 notified=2", stats)
	}
	if len(stats.Errors) != 0 {
		t.Errorf("unexpected errors: %v", stats.Errors)
	}

	// One batched dispatch per run, not one per match.
	if len(ch.dispatches) != 1 {
		t.Fatalf("dispatch count = %d, want 1", len(ch.dispatches))
	}
	if len(ch.dispatches[0]) != 2 {
		t.Errorf("dispatched matches = %d, want 2", len(ch.dispatches[0]))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	st := seededStore("main")
	src := &stubSource{postings: []model.RawPosting{
		rawPosting("a", "Platform Engineer"),
		rawPosting("b", "Backend Engineer"),
	}}
	ch := &captureChannel{}
	orch := newOrchestrator(st, src, ch, Config{})

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	stats, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if stats.Fetched != 2 || stats.Deduped != 2 || stats.Scored != 0 || stats.Notified != 0 {
		t.Errorf("second run stats = %+v, want fetched=2 deduped=2 scored=0 notified=0", stats)
	}
	if len(ch.dispatches) != 1 {
		t.Errorf("dispatch count after rerun = %d, want 1", len(ch.dispatches))
	}
}

func TestPrefilterExcludeBeatsMustNotify(t *testing.T) {
	st := seededStore("main")
	src := &stubSource{postings: []model.RawPosting{
		rawPosting("a", "Senior QA Engineer"),
	}}
	ch := &captureChannel{}

	cfg := Config{Prefilter: prefilter.Config{
		Enabled:            true,
		ExcludeKeywords:    []string{"qa"},
		MustNotifyKeywords: []string{"senior"},
	}}

	stats, err := newOrchestrator(st, src, ch, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.PrefilteredOut != 1 || stats.Scored != 0 || stats.Notified != 0 {
		t.Errorf("stats = %+v, want prefiltered_out=1 scored=0 notified=0", stats)
	}
	if len(ch.dispatches) != 0 {
		t.Errorf("excluded posting must never be dispatched, got %d dispatches", len(ch.dispatches))
	}

	audit, ok := st.Result("a")
	if !ok {
		t.Fatal("rejected posting missing from the store")
	}
	if !audit.MustNotify || audit.Method != model.MethodPrefilterRejected {
		t.Errorf("audit record = %+v, want must-notify flag and prefilter-rejected method", audit)
	}
	if audit.ScoredAt.Location() != time.UTC {
		t.Errorf("audit ScoredAt in %v, want UTC", audit.ScoredAt.Location())
	}

	// The rejection leaves an audit trail: the posting is known and will be
	// deduplicated on the next run.
	stats, err = newOrchestrator(st, src, ch, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Deduped != 1 || stats.PrefilteredOut != 0 {
		t.Errorf("second run stats = %+v, want deduped=1 prefiltered_out=0", stats)
	}
}

func TestMustNotifyForcesNotificationOnLowTier(t *testing.T) {
	st := seededStore("main")
	src := &stubSource{postings: []model.RawPosting{
		{
			ExternalID:  "a",
			Title:       "Urgent Cobol Maintainer",
			Company:     "Acme",
			Description: "Legacy mainframe work.",
		},
	}}
	ch := &captureChannel{}

	cfg := Config{Prefilter: prefilter.Config{
		Enabled:            true,
		IncludeKeywords:    []string{"golang"},
		MustNotifyKeywords: []string{"urgent"},
	}}

	stats, err := newOrchestrator(st, src, ch, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The title matches no include keyword, but must-notify overrides that
	// and forces both scoring and notification, whatever the tier.
	if stats.Scored != 1 || stats.Notified != 1 {
		t.Fatalf("stats = %+v, want scored=1 notified=1", stats)
	}

	match := ch.dispatches[0][0]
	if match.Result.Tier != model.TierLow {
		t.Errorf("Tier = %q, want %q", match.Result.Tier, model.TierLow)
	}
	if !match.Result.MustNotify || match.Result.MustNotifyKeyword != "urgent" {
		t.Errorf("must-notify flags not carried: %+v", match.Result)
	}
}

func TestFirstFetchFailureAbortsRun(t *testing.T) {
	st := seededStore("main")
	src := &stubSource{errs: map[string]error{"main": errors.New("connection refused")}}
	ch := &captureChannel{}

	stats, err := newOrchestrator(st, src, ch, Config{}).Run(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("error = %v, want wrapped ErrSourceUnavailable", err)
	}
	if stats.Fetched != 0 || stats.Scored != 0 {
		t.Errorf("stats = %+v, want empty run", stats)
	}
}

func TestLaterFetchFailureIsRecorded(t *testing.T) {
	st := seededStore("main", "extra")
	src := &stubSource{
		postings: []model.RawPosting{rawPosting("a", "Platform Engineer")},
		errs:     map[string]error{"extra": errors.New("rate limited")},
	}
	ch := &captureChannel{}

	stats, err := newOrchestrator(st, src, ch, Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("a partial fetch failure must not abort the run: %v", err)
	}

	if stats.Fetched != 1 || stats.Scored != 1 {
		t.Errorf("stats = %+v, want fetched=1 scored=1", stats)
	}
	if len(stats.Errors) != 1 || !strings.Contains(stats.Errors[0], "extra") {
		t.Errorf("Errors = %v, want one entry naming the failed filter", stats.Errors)
	}
}

func TestQuotaExhaustionStopsFetching(t *testing.T) {
	st := seededStore("first", "quota", "never-reached")
	src := &stubSource{
		postings: []model.RawPosting{rawPosting("a", "Platform Engineer")},
		errs:     map[string]error{"quota": jobsource.ErrQuotaExhausted},
	}
	ch := &captureChannel{}

	stats, err := newOrchestrator(st, src, ch, Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The filter after the quota failure is never fetched; what came in
	// before it is still processed.
	if stats.Fetched != 1 || stats.Scored != 1 {
		t.Errorf("stats = %+v, want fetched=1 scored=1", stats)
	}
	if len(stats.Errors) != 1 {
		t.Errorf("Errors = %v, want 1 entry", stats.Errors)
	}
}

func TestDispatchFailureWithholdsRecords(t *testing.T) {
	st := seededStore("main")
	src := &stubSource{postings: []model.RawPosting{
		rawPosting("a", "Platform Engineer"),
	}}
	ch := &captureChannel{err: errors.New("smtp unreachable")}
	orch := newOrchestrator(st, src, ch, Config{})

	stats, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Notified != 0 {
		t.Errorf("Notified = %d after failed dispatch, want 0", stats.Notified)
	}
	if len(stats.Errors) != 1 {
		t.Errorf("Errors = %v, want one dispatch entry", stats.Errors)
	}

	// The match stays eligible: the next run retries it even though the
	// posting itself is a duplicate by then.
	ch.err = nil
	stats, err = orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Deduped != 1 || stats.Notified != 1 {
		t.Errorf("second run stats = %+v, want deduped=1 notified=1", stats)
	}
}

func TestBackendFailureIsIsolatedPerPosting(t *testing.T) {
	st := seededStore("main")
	src := &stubSource{postings: []model.RawPosting{
		rawPosting("a", "Platform Engineer"),
		rawPosting("b", "Backend Engineer"),
	}}
	ch := &captureChannel{}

	sc := scorer.New(failingGenerator{}, scorer.Config{}, nil)
	orch := New(st, src, sc, ch, nil, Config{}, zap.NewNop())

	stats, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every posting still gets a stored fallback result; the backend
	// failures only show up in the error list.
	if stats.Scored != 2 {
		t.Errorf("Scored = %d, want 2", stats.Scored)
	}
	if len(stats.Errors) != 2 {
		t.Errorf("Errors = %v, want 2 entries", stats.Errors)
	}
	for _, m := range ch.dispatches[0] {
		if m.Result.Method != model.MethodFallback {
			t.Errorf("Method = %q, want %q", m.Result.Method, model.MethodFallback)
		}
	}
}

func TestSingleBackendTimeoutIsIsolated(t *testing.T) {
	st := seededStore("main")
	src := &stubSource{postings: []model.RawPosting{
		rawPosting("a", "Platform Engineer"),
		rawPosting("b", "Backend Engineer"),
		rawPosting("c", "Flaky Engineer"),
		rawPosting("d", "Infra Engineer"),
		rawPosting("e", "Cloud Engineer"),
	}}
	ch := &captureChannel{}

	sc := scorer.New(&selectiveGenerator{failOn: "Flaky Engineer"}, scorer.Config{}, nil)
	orch := New(st, src, sc, ch, nil, Config{}, zap.NewNop())

	stats, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Scored != 5 {
		t.Errorf("Scored = %d, want 5", stats.Scored)
	}
	if len(stats.Errors) != 1 {
		t.Errorf("Errors = %v, want exactly the timed-out posting", stats.Errors)
	}

	methods := make(map[string]model.Method)
	for _, m := range ch.dispatches[0] {
		methods[m.Posting.ExternalID] = m.Result.Method
	}
	if methods["c"] != model.MethodFallback {
		t.Errorf("timed-out posting method = %q, want %q", methods["c"], model.MethodFallback)
	}
	for _, id := range []string{"a", "b", "d", "e"} {
		if methods[id] != model.MethodAI {
			t.Errorf("posting %s method = %q, want %q", id, methods[id], model.MethodAI)
		}
	}
}

func TestRunWithoutActiveCV(t *testing.T) {
	st := memory.New()
	st.SetFilters([]model.SearchFilter{{Name: "main", Active: true}})
	src := &stubSource{postings: []model.RawPosting{rawPosting("a", "Platform Engineer")}}
	ch := &captureChannel{}

	stats, err := newOrchestrator(st, src, ch, Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Fetched != 0 || stats.Scored != 0 {
		t.Errorf("stats = %+v, want skipped run", stats)
	}
	// A missing CV is a logged skip, not a run error.
	if len(stats.Errors) != 0 {
		t.Errorf("Errors = %v, want none for a skipped run", stats.Errors)
	}
}

func TestDuplicateWithinRunIsDeduped(t *testing.T) {
	st := seededStore("main", "extra")
	src := &stubSource{postings: []model.RawPosting{
		rawPosting("a", "Platform Engineer"),
	}}
	ch := &captureChannel{}

	// Both filters return the same posting; it must be scored once.
	stats, err := newOrchestrator(st, src, ch, Config{}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Fetched != 2 || stats.Deduped != 1 || stats.Scored != 1 {
		t.Errorf("stats = %+v, want fetched=2 deduped=1 scored=1", stats)
	}
}

func TestRunIDsAreUnique(t *testing.T) {
	st := seededStore("main")
	src := &stubSource{}
	ch := &captureChannel{}
	orch := newOrchestrator(st, src, ch, Config{})

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		stats, err := orch.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if stats.RunID == "" || seen[stats.RunID] {
			t.Fatalf("run %d produced duplicate or empty run id %q", i, stats.RunID)
		}
		seen[stats.RunID] = true
	}
}

func TestLocalLockerSerialises(t *testing.T) {
	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), "key")
		if err != nil {
			t.Errorf("second lock: %v", err)
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while the first was held")
	default:
	}

	unlock()
	<-acquired
}

func TestAuditReasoningNamesKeyword(t *testing.T) {
	v := prefilter.Classify("QA Lead", prefilter.Config{
		Enabled:         true,
		ExcludeKeywords: []string{"qa"},
	})

	got := auditReasoning(v)
	if want := fmt.Sprintf("title matched exclude keyword %q", "qa"); got != want {
		t.Errorf("auditReasoning = %q, want %q", got, want)
	}
}
