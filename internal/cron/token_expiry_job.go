package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

type staleTokenExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// TokenExpiryJobParams configure the QR token expiry sweep.
type TokenExpiryJobParams struct {
	Logger *logger.Logger
	Tokens staleTokenExpirer
}

// NewTokenExpiryJob builds the job that retires QR tokens past their TTL.
// Verification already rejects expired tokens; the sweep keeps the stored
// status honest for reads and audits.
func NewTokenExpiryJob(params TokenExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token repository required")
	}
	return &tokenExpiryJob{
		logg:   params.Logger,
		tokens: params.Tokens,
		now:    time.Now,
	}, nil
}

type tokenExpiryJob struct {
	logg   *logger.Logger
	tokens staleTokenExpirer
	now    func() time.Time
}

func (j *tokenExpiryJob) Name() string { return "qr-token-expiry" }

func (j *tokenExpiryJob) Run(ctx context.Context) error {
	expired, err := j.tokens.ExpireStale(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("expire stale tokens: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"expired": expired})
	j.logg.Info(logCtx, "token expiry loop complete")
	return nil
}
