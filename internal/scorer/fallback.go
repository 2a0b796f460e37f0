package scorer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spigell/job-radar/internal/model"
)

// skillCategories is the curated technology keyword table the fallback path
// matches against. Grouped for maintainability only; matching is flat.
var skillCategories = map[string][]string{
	"languages": {
		"python", "java", "javascript", "typescript", "golang", "rust", "scala",
		"ruby", "php", "swift", "kotlin", "csharp", "c#", "cpp", "c++",
	},
	"frontend": {
		"react", "angular", "vue", "nextjs", "svelte", "html", "css", "sass",
	},
	"backend": {
		"node", "nodejs", "django", "flask", "fastapi", "spring", "express", "rails",
	},
	"databases": {
		"sql", "postgresql", "mysql", "mongodb", "redis", "elasticsearch",
		"dynamodb", "cassandra", "neo4j",
	},
	"cloud-devops": {
		"aws", "azure", "gcp", "docker", "kubernetes", "terraform", "jenkins",
		"cicd", "ci/cd", "devops", "linux", "nginx", "ansible",
	},
	"data-ml": {
		"tensorflow", "pytorch", "pandas", "numpy",
		"spark", "kafka", "airflow", "databricks", "snowflake",
	},
	"concepts": {
		"microservices", "api", "rest", "graphql", "grpc", "websocket",
		"agile", "scrum", "testing", "security", "architecture",
	},
}

var skillSet = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, keywords := range skillCategories {
		for _, kw := range keywords {
			set[kw] = struct{}{}
		}
	}
	return set
}()

// tokenRe splits lower-cased text into skill-shaped tokens. Internal
// separators (ci/cd, node.js) are kept; sentence punctuation is not.
var tokenRe = regexp.MustCompile(`[a-z0-9#+]+(?:[./-][a-z0-9#+]+)*`)

// fallback is the deterministic scoring path: a pure function of the CV text,
// the job text and the keyword table, so results are reproducible without any
// backend.
func (s *Scorer) fallback(cv model.CV, job *model.Posting) *model.MatchResult {
	jobText := strings.ToLower(job.Title + " " + job.Description + " " + job.Requirements)
	cvTokens := tokenize(strings.ToLower(cv.Content))

	jobKeywords := curatedKeywords(jobText)

	var matching, missing []string
	for _, kw := range jobKeywords {
		if _, ok := cvTokens[kw]; ok {
			matching = append(matching, kw)
		} else {
			missing = append(missing, kw)
		}
	}

	// Percentage is defined as 0 when the job text contains none of the
	// curated keywords: no signal means no claimed compatibility.
	pct := 0
	if len(jobKeywords) > 0 {
		pct = len(matching) * 100 / len(jobKeywords)
	}

	return &model.MatchResult{
		Tier:                s.tierFor(pct),
		Percentage:          pct,
		MatchingSkills:      capList(matching, maxMatchingSkills),
		MissingRequirements: capList(missing, maxMissingRequirements),
		NeedsSummaryChange:  false,
		Reasoning:           fmt.Sprintf("keyword analysis: %d/%d key skills matched", len(matching), len(jobKeywords)),
		Method:              model.MethodFallback,
		ScoredAt:            time.Now().UTC(),
	}
}

func (s *Scorer) tierFor(pct int) model.Tier {
	switch {
	case pct >= s.cfg.HighThreshold:
		return model.TierHigh
	case pct >= s.cfg.MediumThreshold:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// curatedKeywords returns the curated keywords present in text, deduplicated,
// in order of first appearance. The order is part of the contract: missing
// requirements are reported in the order the job mentions them.
func curatedKeywords(text string) []string {
	var found []string
	seen := make(map[string]struct{})
	for _, token := range tokenRe.FindAllString(text, -1) {
		if _, curated := skillSet[token]; !curated {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		found = append(found, token)
	}
	return found
}

func tokenize(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range tokenRe.FindAllString(text, -1) {
		set[token] = struct{}{}
	}
	return set
}
