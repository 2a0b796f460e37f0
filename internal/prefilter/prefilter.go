// Package prefilter implements the cheap keyword gate applied to a job title
// before any AI call is spent on it.
//
// Matching is case-insensitive substring containment, not whole-word: the
// keyword "lead" matches "Leadership Coach". This is intentional and governs
// the false-positive profile of the gate; changing it changes notification
// behavior.
package prefilter

import "strings"

// Reason explains a classification verdict.
type Reason string

const (
	// ReasonExcluded means an exclude keyword matched. Exclude has the
	// highest precedence and vetoes everything, including must-notify.
	ReasonExcluded Reason = "excluded"
	// ReasonNotIncluded means include keywords are configured and none matched.
	ReasonNotIncluded Reason = "not_included"
	ReasonPassed      Reason = "passed"
)

// Config holds the keyword lists consumed by Classify. Empty lists behave as
// "no constraint" and never reject a title.
type Config struct {
	Enabled            bool
	ExcludeKeywords    []string
	IncludeKeywords    []string
	MustNotifyKeywords []string
}

// Verdict is the outcome of classifying one job title.
type Verdict struct {
	ShouldAnalyze bool
	Reason        Reason

	// MustNotify is an independent, always-on concern: it is evaluated even
	// when the gate is disabled or the title passed, so a passing job can
	// still be flagged for forced notification downstream.
	MustNotify        bool
	MustNotifyKeyword string

	// ExcludedKeyword records which exclude keyword fired, for audit records.
	ExcludedKeyword string
}

// Classify runs the title through exclude, include and must-notify keyword
// sets and returns the combined verdict.
func Classify(title string, cfg Config) Verdict {
	v := Verdict{ShouldAnalyze: true, Reason: ReasonPassed}

	lower := strings.ToLower(title)

	if kw, ok := matchAny(lower, cfg.MustNotifyKeywords); ok {
		v.MustNotify = true
		v.MustNotifyKeyword = kw
	}

	if !cfg.Enabled {
		return v
	}

	if kw, ok := matchAny(lower, cfg.ExcludeKeywords); ok {
		v.ShouldAnalyze = false
		v.Reason = ReasonExcluded
		v.ExcludedKeyword = kw
		return v
	}

	// A must-notify hit overrides a missing include match, but never an
	// exclude match.
	if len(cfg.IncludeKeywords) > 0 && !v.MustNotify {
		if _, ok := matchAny(lower, cfg.IncludeKeywords); !ok {
			v.ShouldAnalyze = false
			v.Reason = ReasonNotIncluded
		}
	}

	return v
}

// matchAny returns the first keyword contained in the lower-cased title.
func matchAny(lowerTitle string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lowerTitle, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}
