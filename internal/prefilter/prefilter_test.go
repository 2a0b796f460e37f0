package prefilter

import (
	"testing"
)

func TestClassify(t *testing.T) {
	cfg := Config{
		Enabled:            true,
		ExcludeKeywords:    []string{"QA", "recruiter"},
		IncludeKeywords:    []string{"backend", "golang"},
		MustNotifyKeywords: []string{"senior"},
	}

	tests := []struct {
		name    string
		title   string
		cfg     Config
		analyze bool
		reason  Reason
		notify  bool
	}{
		{
			name:    "include match passes",
			title:   "Backend Engineer",
			cfg:     cfg,
			analyze: true,
			reason:  ReasonPassed,
		},
		{
			name:    "case insensitive substring match",
			title:   "GOLANG developer (remote)",
			cfg:     cfg,
			analyze: true,
			reason:  ReasonPassed,
		},
		{
			name:    "exclude keyword rejects",
			title:   "QA Automation Engineer",
			cfg:     cfg,
			analyze: false,
			reason:  ReasonExcluded,
		},
		{
			name:    "no include match rejects",
			title:   "Product Designer",
			cfg:     cfg,
			analyze: false,
			reason:  ReasonNotIncluded,
		},
		{
			name:    "must-notify overrides missing include match",
			title:   "Senior Data Scientist",
			cfg:     cfg,
			analyze: true,
			reason:  ReasonPassed,
			notify:  true,
		},
		{
			name:    "exclude beats must-notify",
			title:   "Senior QA Engineer",
			cfg:     cfg,
			analyze: false,
			reason:  ReasonExcluded,
			notify:  true,
		},
		{
			name:    "disabled gate passes everything",
			title:   "QA Automation Engineer",
			cfg:     Config{Enabled: false, ExcludeKeywords: []string{"qa"}},
			analyze: true,
			reason:  ReasonPassed,
		},
		{
			name:  "must-notify evaluated even when disabled",
			title: "Senior Backend Engineer",
			cfg: Config{
				Enabled:            false,
				MustNotifyKeywords: []string{"senior"},
			},
			analyze: true,
			reason:  ReasonPassed,
			notify:  true,
		},
		{
			name:    "empty include list means no constraint",
			title:   "Anything At All",
			cfg:     Config{Enabled: true, ExcludeKeywords: []string{"qa"}},
			analyze: true,
			reason:  ReasonPassed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(tt.title, tt.cfg)

			if v.ShouldAnalyze != tt.analyze {
				t.Errorf("ShouldAnalyze = %v, want %v", v.ShouldAnalyze, tt.analyze)
			}
			if v.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", v.Reason, tt.reason)
			}
			if v.MustNotify != tt.notify {
				t.Errorf("MustNotify = %v, want %v", v.MustNotify, tt.notify)
			}
		})
	}
}

func TestClassifyRecordsMatchedKeywords(t *testing.T) {
	cfg := Config{
		Enabled:            true,
		ExcludeKeywords:    []string{"agency", "qa"},
		MustNotifyKeywords: []string{"staff", "principal"},
	}

	v := Classify("Principal QA Engineer", cfg)

	if v.ExcludedKeyword != "qa" {
		t.Errorf("ExcludedKeyword = %q, want %q", v.ExcludedKeyword, "qa")
	}
	if v.MustNotifyKeyword != "principal" {
		t.Errorf("MustNotifyKeyword = %q, want %q", v.MustNotifyKeyword, "principal")
	}
}
