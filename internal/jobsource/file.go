package jobsource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/job-radar/internal/model"
)

// FileSource reads postings from a JSON dump on disk. It exists for local
// runs and tests, where hitting a live board is unwanted.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Name() string { return "file:" + f.path }

// Fetch loads the dump and applies the filter's keywords locally. A posting
// matches when any keyword appears in its title or description,
// case-insensitive. No keywords means everything matches.
func (f *FileSource) Fetch(ctx context.Context, filter model.SearchFilter) ([]model.RawPosting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read postings dump: %w", err)
	}

	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode postings dump %s: %w", f.path, err)
	}

	all := make([]model.RawPosting, 0, len(items))
	for i, item := range items {
		p, err := decodePosting(item)
		if err != nil {
			return nil, fmt.Errorf("decode posting %d in %s: %w", i, f.path, err)
		}
		all = append(all, p)
	}

	if len(filter.Keywords) == 0 {
		return all, nil
	}

	var matched []model.RawPosting
	for _, p := range all {
		haystack := strings.ToLower(p.Title + " " + p.Description)
		for _, kw := range filter.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(haystack, kw) {
				matched = append(matched, p)
				break
			}
		}
	}

	return matched, nil
}

// decodePosting maps one dump item onto RawPosting and keeps the original
// item as the raw payload, so fields the model does not know about survive
// into storage.
func decodePosting(item map[string]any) (model.RawPosting, error) {
	var p model.RawPosting

	cfg := &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
		Result:     &p,
		TagName:    "json",
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return p, err
	}
	if err := decoder.Decode(item); err != nil {
		return p, err
	}

	p.RawPayload, err = json.Marshal(item)
	return p, err
}
