// Package scorer produces a structured CV-to-job compatibility verdict, via
// an AI backend when one is configured and a deterministic keyword-overlap
// fallback otherwise.
//
// The backend path fails closed: on timeout, malformed output or schema
// violation the scorer silently degrades to the fallback path instead of
// propagating the failure. Callers that want to account for the degradation
// can check the returned error with errors.Is(err, ErrBackend); a usable
// result is returned alongside it.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/model"
	"github.com/spigell/job-radar/internal/util"
)

//go:embed match_prompt.md
var matchPromptTemplate string

//go:embed summary_prompt.md
var summaryPromptTemplate string

// ErrBackend marks an AI backend failure that was resolved by falling back to
// deterministic scoring. It is never returned without a usable MatchResult.
var ErrBackend = errors.New("scoring backend failure")

const (
	defaultHighThreshold   = 70
	defaultMediumThreshold = 40
	defaultCharBudget      = 2000
	defaultTimeout         = 60 * time.Second
	defaultMaxLogLength    = 200

	maxMissingRequirements = 5
	maxMatchingSkills      = 10
	cvContextCharBudget    = 4000
)

// Config tunes thresholds and the cost/quality tradeoffs of the scorer.
type Config struct {
	// HighThreshold and MediumThreshold are the inclusive lower bounds of
	// the high and medium tiers, in percent.
	HighThreshold   int
	MediumThreshold int

	// RequirementsCharBudget caps the description text sent to the backend
	// when a posting has no dedicated requirements section. Deliberate
	// cost/quality tradeoff, not a defect.
	RequirementsCharBudget int

	// Timeout bounds every backend call. Mandatory: an expired call resolves
	// into the fallback path, never into a hang.
	Timeout time.Duration

	MaxLogLength int
}

func (c Config) withDefaults() Config {
	if c.HighThreshold <= 0 {
		c.HighThreshold = defaultHighThreshold
	}
	if c.MediumThreshold <= 0 {
		c.MediumThreshold = defaultMediumThreshold
	}
	if c.RequirementsCharBudget <= 0 {
		c.RequirementsCharBudget = defaultCharBudget
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxLogLength <= 0 {
		c.MaxLogLength = defaultMaxLogLength
	}
	return c
}

// Scorer scores postings against the active CV.
type Scorer struct {
	generator ai.Generator
	cfg       Config
	logger    *zap.Logger
}

// New creates a Scorer. A nil generator is valid and means every posting is
// scored on the deterministic fallback path.
func New(generator ai.Generator, cfg Config, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{generator: generator, cfg: cfg.withDefaults(), logger: logger}
}

// AIConfigured reports whether a backend is available for the primary path.
func (s *Scorer) AIConfigured() bool { return s.generator != nil }

// Score produces a MatchResult for the posting against the CV. The returned
// result is always usable; a non-nil error wrapping ErrBackend means the AI
// backend failed and the result was produced by the fallback path.
func (s *Scorer) Score(ctx context.Context, cv model.CV, job *model.Posting) (*model.MatchResult, error) {
	if job == nil {
		return nil, errors.New("posting is required")
	}

	if !s.AIConfigured() {
		return s.fallback(cv, job), nil
	}

	prompt := s.buildMatchPrompt(cv, job)

	s.logger.Debug("scoring backend request",
		zap.String("external_id", job.ExternalID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", util.TruncateForLog(prompt, s.cfg.MaxLogLength)),
	)

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	raw, err := s.generator.GenerateContent(cctx, prompt)
	if err != nil {
		s.logger.Warn("scoring backend call failed, using fallback",
			zap.String("external_id", job.ExternalID),
			zap.Error(err),
		)
		return s.fallback(cv, job), fmt.Errorf("%w: %s", ErrBackend, err)
	}

	s.logger.Debug("scoring backend response",
		zap.String("external_id", job.ExternalID),
		zap.String("response_preview", util.TruncateForLog(raw, s.cfg.MaxLogLength)),
	)

	result, err := parseVerdict(raw)
	if err != nil {
		s.logger.Warn("scoring backend response rejected, using fallback",
			zap.String("external_id", job.ExternalID),
			zap.Error(err),
		)
		return s.fallback(cv, job), fmt.Errorf("%w: %s", ErrBackend, err)
	}

	result.ScoredAt = time.Now().UTC()
	return result, nil
}

// TailoredSummary generates a replacement CV summary for a posting whose
// MatchResult requested one. It fails closed: any backend failure yields an
// empty string, never an error to the caller.
func (s *Scorer) TailoredSummary(ctx context.Context, cv model.CV, job *model.Posting, missing []string) string {
	if !s.AIConfigured() || job == nil {
		return ""
	}

	prompt := buildSummaryPrompt(cv, job, missing, s.cfg.RequirementsCharBudget)

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	raw, err := s.generator.GenerateContent(cctx, prompt)
	if err != nil {
		s.logger.Warn("tailored summary generation failed",
			zap.String("external_id", job.ExternalID),
			zap.Error(err),
		)
		return ""
	}

	return strings.Trim(strings.TrimSpace(raw), `"'`)
}

func (s *Scorer) buildMatchPrompt(cv model.CV, job *model.Posting) string {
	var jobCtx strings.Builder
	fmt.Fprintf(&jobCtx, "Job Title: %s\n", job.Title)
	fmt.Fprintf(&jobCtx, "Company: %s\n", job.Company)
	fmt.Fprintf(&jobCtx, "Location: %s\n", orNotSpecified(job.Location))

	// Requirements are the preferred matching input. The full description is
	// only sent, truncated, when the posting has none.
	if strings.TrimSpace(job.Requirements) != "" {
		fmt.Fprintf(&jobCtx, "\nRequirements:\n%s\n", job.Requirements)
	} else {
		fmt.Fprintf(&jobCtx, "\nJob Description:\n%s\n", truncateChars(job.Description, s.cfg.RequirementsCharBudget))
	}

	var cvCtx strings.Builder
	fmt.Fprintf(&cvCtx, "Candidate CV:\n%s\n", truncateChars(cv.Content, cvContextCharBudget))
	if strings.TrimSpace(cv.Summary) != "" {
		fmt.Fprintf(&cvCtx, "\nProfessional Summary: %s\n", cv.Summary)
	}

	prompt := strings.ReplaceAll(matchPromptTemplate, "{{JOB_CONTEXT}}", jobCtx.String())
	return strings.ReplaceAll(prompt, "{{CV_CONTEXT}}", cvCtx.String())
}

func buildSummaryPrompt(cv model.CV, job *model.Posting, missing []string, budget int) string {
	emphasize := "N/A"
	if len(missing) > 0 {
		if len(missing) > maxMissingRequirements {
			missing = missing[:maxMissingRequirements]
		}
		emphasize = strings.Join(missing, ", ")
	}

	current := cv.Summary
	if strings.TrimSpace(current) == "" {
		current = "None provided"
	}

	r := strings.NewReplacer(
		"{{JOB_TITLE}}", job.Title,
		"{{JOB_COMPANY}}", job.Company,
		"{{JOB_DESCRIPTION}}", truncateChars(job.Description, budget),
		"{{CURRENT_SUMMARY}}", current,
		"{{CV_CONTENT}}", truncateChars(cv.Content, cvContextCharBudget),
		"{{EMPHASIZE}}", emphasize,
	)
	return r.Replace(summaryPromptTemplate)
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}

func truncateChars(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
