package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/model"
)

// LogChannel writes the digest to the structured log. It is the default
// channel for local runs and the delivery stub behind tests.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Dispatch(ctx context.Context, matches []model.Match) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.logger.Info("match digest",
		zap.Int("matches", len(matches)),
		zap.String("digest", RenderDigest(matches)),
	)
	return nil
}
