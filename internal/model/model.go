// Package model defines the shared data structures of the matching pipeline.
package model

import "time"

// Tier is the coarse compatibility verdict attached to a scored posting.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Method records how a MatchResult was produced.
type Method string

const (
	MethodAI                Method = "ai"
	MethodFallback          Method = "fallback"
	MethodPrefilterRejected Method = "prefilter-rejected"
)

// RawPosting is a posting as returned by a job source, before it is stored.
type RawPosting struct {
	ExternalID   string    `json:"external_id" mapstructure:"external_id"`
	Title        string    `json:"title"`
	Company      string    `json:"company"`
	Location     string    `json:"location,omitempty"`
	Description  string    `json:"description,omitempty"`
	Requirements string    `json:"requirements,omitempty"`
	URL          string    `json:"url,omitempty"`
	PostedAt     time.Time `json:"posted_at,omitempty" mapstructure:"posted_at"`
	RawPayload   []byte    `json:"raw_payload,omitempty" mapstructure:"-"`
}

// Posting is a stored job posting. ExternalID is the dedup key: a posting is
// created on first sighting and never re-created for the same ExternalID.
type Posting struct {
	ExternalID   string
	Title        string
	Company      string
	Location     string
	Description  string
	Requirements string
	URL          string
	PostedAt     time.Time
	FetchedAt    time.Time
	RawPayload   []byte
}

// MatchResult is the scoring verdict for a (posting, active CV) pair.
// Exactly one exists per pair; re-scoring overwrites it and bumps Generation.
type MatchResult struct {
	Tier                Tier
	Percentage          int
	MatchingSkills      []string
	MissingRequirements []string
	NeedsSummaryChange  bool
	SuggestedSummary    string
	Reasoning           string
	Prefiltered         bool
	MustNotify          bool
	MustNotifyKeyword   string
	ScoredAt            time.Time
	Method              Method
	// Generation is assigned by the store on upsert. A posting is eligible
	// for at most one notification per generation.
	Generation int
}

// Match pairs a stored posting with its current result. It is the unit
// handed to the notification channel.
type Match struct {
	Posting Posting
	Result  MatchResult
}

// NotificationRecord is appended after a confirmed notification dispatch.
type NotificationRecord struct {
	ExternalID string
	Generation int
	Channel    string
	SentAt     time.Time
}

// CV holds the extracted text of the currently active CV. The pipeline only
// reads it; activation is an external management action.
type CV struct {
	Content string
	Summary string
}

// SearchFilter describes one saved search the pipeline fetches postings for.
type SearchFilter struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
	Location string   `mapstructure:"location"`
	Remote   bool     `mapstructure:"remote"`
	Active   bool     `mapstructure:"active"`
}

// RunStats summarises one pipeline run.
type RunStats struct {
	RunID          string    `json:"run_id"`
	Fetched        int       `json:"fetched"`
	Deduped        int       `json:"deduped"`
	PrefilteredOut int       `json:"prefiltered_out"`
	Scored         int       `json:"scored"`
	Notified       int       `json:"notified"`
	Errors         []string  `json:"errors,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// RunState is the single shared record the scheduler and orchestrator agree
// on. The idle -> running transition must be a compare-and-set.
type RunState struct {
	IsRunning       bool
	LastRunAt       *time.Time
	NextScheduledAt *time.Time
	IntervalMinutes int
	LastRunStats    *RunStats
}
