package ai

import "context"

// Generator is the contract the scorer consumes: a blocking, rate-limited
// prompt completion. Response-shape validation is owned by the caller.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}
