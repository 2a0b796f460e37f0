package scorer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spigell/job-radar/internal/model"
)

// verdictSchema is the strict shape every backend response must satisfy.
// Any deviation is a backend failure resolved by the fallback path, never
// ad hoc map access.
var verdictSchema = map[string]any{
	"type":     "object",
	"required": []any{"score", "compatibility_percentage", "matching_skills", "missing_requirements", "needs_summary_change", "analysis_reasoning"},
	"properties": map[string]any{
		"score": map[string]any{
			"type": "string",
			"enum": []any{"high", "medium", "low"},
		},
		"compatibility_percentage": map[string]any{
			"type":    "number",
			"minimum": 0,
			"maximum": 100,
		},
		"matching_skills": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		// The prompt asks for 3-5 missing requirements, but a strong match
		// can legitimately have fewer gaps. Short lists are accepted; only
		// the upper bound is enforced.
		"missing_requirements": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"maxItems": 5,
		},
		"needs_summary_change": map[string]any{"type": "boolean"},
		"suggested_summary": map[string]any{
			"type": []any{"string", "null"},
		},
		"analysis_reasoning": map[string]any{"type": "string"},
	},
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(verdictSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("verdict.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("verdict.json")
	})
	return compiledSchema, compileErr
}

type aiVerdict struct {
	Score                   string   `json:"score"`
	CompatibilityPercentage float64  `json:"compatibility_percentage"`
	MatchingSkills          []string `json:"matching_skills"`
	MissingRequirements     []string `json:"missing_requirements"`
	NeedsSummaryChange      bool     `json:"needs_summary_change"`
	SuggestedSummary        *string  `json:"suggested_summary"`
	AnalysisReasoning       string   `json:"analysis_reasoning"`
}

// parseVerdict validates the raw backend output against the verdict schema
// and converts it into a MatchResult with Method=ai.
func parseVerdict(raw string) (*model.MatchResult, error) {
	cleaned := extractJSON(raw)

	sch, err := schema()
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil, fmt.Errorf("parse backend response: %w", err)
	}
	if err := sch.Validate(generic); err != nil {
		return nil, fmt.Errorf("backend response does not match schema: %w", err)
	}

	var v aiVerdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, fmt.Errorf("decode backend response: %w", err)
	}

	result := &model.MatchResult{
		Tier:                model.Tier(v.Score),
		Percentage:          clampPercent(v.CompatibilityPercentage),
		MatchingSkills:      capList(v.MatchingSkills, maxMatchingSkills),
		MissingRequirements: capList(v.MissingRequirements, maxMissingRequirements),
		NeedsSummaryChange:  v.NeedsSummaryChange,
		Reasoning:           strings.TrimSpace(v.AnalysisReasoning),
		Method:              model.MethodAI,
		ScoredAt:            time.Now().UTC(),
	}

	if v.NeedsSummaryChange && v.SuggestedSummary != nil {
		result.SuggestedSummary = strings.TrimSpace(*v.SuggestedSummary)
	}

	return result, nil
}

// extractJSON strips markdown code fences some models insist on emitting.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func clampPercent(f float64) int {
	p := int(f)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func capList(items []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}
