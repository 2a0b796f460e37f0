// Package notify delivers match digests. A run produces at most one digest
// per channel; records of what was sent are written by the caller only after
// Dispatch reports success.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/job-radar/internal/model"
)

// Channel delivers one batch of matches as a single digest.
type Channel interface {
	// Dispatch sends the digest. It must be all-or-nothing from the caller's
	// point of view: a returned error means nothing was confirmed delivered.
	Dispatch(ctx context.Context, matches []model.Match) error

	// Name is the identifier stored in notification records.
	Name() string
}

// Eligible reports whether a result qualifies for notification on its own
// merits. Prefilter-rejected audit records never qualify.
func Eligible(r *model.MatchResult) bool {
	if r.Method == model.MethodPrefilterRejected {
		return false
	}
	return r.Tier == model.TierHigh || r.MustNotify
}

// RenderDigest formats matches as a plain-text digest, one posting per line.
func RenderDigest(matches []model.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d new match(es)\n", len(matches))
	for _, m := range matches {
		line := fmt.Sprintf("- %s — %s", m.Posting.Company, m.Posting.Title)
		if m.Posting.Location != "" {
			line += " (" + m.Posting.Location + ")"
		}
		if m.Result.MustNotify {
			line += fmt.Sprintf(" [keyword: %s]", m.Result.MustNotifyKeyword)
		} else {
			line += fmt.Sprintf(" [%d%%]", m.Result.Percentage)
		}
		if m.Posting.URL != "" {
			line += "\n  " + m.Posting.URL
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
