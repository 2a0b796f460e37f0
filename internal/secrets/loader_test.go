package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "api-key")
	if err := os.WriteFile(keyFile, []byte("  file-secret \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TEST_API_KEY", "env-secret")

	cases := []struct {
		name string
		src  Source
		want string
	}{
		{
			name: "file wins over env and inline",
			src:  Source{Name: "api key", File: keyFile, Env: "TEST_API_KEY", Value: "inline"},
			want: "file-secret",
		},
		{
			name: "env wins over inline",
			src:  Source{Name: "api key", Env: "TEST_API_KEY", Value: "inline"},
			want: "env-secret",
		},
		{
			name: "inline used when nothing else set",
			src:  Source{Name: "api key", Value: "  inline  "},
			want: "inline",
		},
		{
			name: "unset env falls through to inline",
			src:  Source{Name: "api key", Env: "TEST_MISSING_KEY", Value: "inline"},
			want: "inline",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Load(tc.src)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(Source{Name: "gemini api key"}); err == nil {
		t.Fatal("expected error for unconfigured secret")
	} else if !strings.Contains(err.Error(), "gemini api key") {
		t.Fatalf("expected error to name the secret, got %v", err)
	}

	if _, err := Load(Source{File: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatal("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(Source{Name: "api key", File: empty}); err == nil {
		t.Fatal("expected error for empty secret file")
	}
}
