package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/parcelpeer-backend/internal/escrow"
	"github.com/angelmondragon/parcelpeer-backend/pkg/config"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

type autoReleasableReader interface {
	ListAutoReleasable(ctx context.Context, cutoff time.Time, limit int) ([]models.Agreement, error)
}

type escrowReleaser interface {
	ReleaseEscrow(ctx context.Context, agreementID uuid.UUID, trigger escrow.ReleaseTrigger, actor escrow.Actor) (*models.Agreement, error)
}

// AutoReleaseJobParams configure the grace-window release sweep.
type AutoReleaseJobParams struct {
	Logger     *logger.Logger
	Agreements autoReleasableReader
	Escrow     escrowReleaser
	Config     config.EscrowConfig
}

// NewAutoReleaseJob builds the job that releases held funds for deliveries
// confirmed longer ago than the grace window with no dispute raised.
func NewAutoReleaseJob(params AutoReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Agreements == nil {
		return nil, fmt.Errorf("agreements reader required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	return &autoReleaseJob{
		logg:       params.Logger,
		agreements: params.Agreements,
		escrow:     params.Escrow,
		cfg:        params.Config,
		now:        time.Now,
	}, nil
}

type autoReleaseJob struct {
	logg       *logger.Logger
	agreements autoReleasableReader
	escrow     escrowReleaser
	cfg        config.EscrowConfig
	now        func() time.Time
}

func (j *autoReleaseJob) Name() string { return "escrow-auto-release" }

func (j *autoReleaseJob) Run(ctx context.Context) error {
	window := j.cfg.AutoReleaseAfter
	if window <= 0 {
		window = 24 * time.Hour
	}
	batch := j.cfg.AutoReleaseBatch
	if batch <= 0 {
		batch = 50
	}

	cutoff := j.now().UTC().Add(-window)
	eligible, err := j.agreements.ListAutoReleasable(ctx, cutoff, batch)
	if err != nil {
		return fmt.Errorf("query auto-releasable agreements: %w", err)
	}

	var errs []error
	released := 0
	for _, agreement := range eligible {
		// One stuck agreement must not starve the rest of the batch.
		_, err := j.escrow.ReleaseEscrow(ctx, agreement.ID, escrow.ReleaseTriggerAuto, escrow.Actor{Role: enums.ActorRoleSystem})
		if err != nil {
			logCtx := j.logg.WithAgreementID(ctx, agreement.ID.String())
			j.logg.Error(logCtx, "auto release failed", err)
			errs = append(errs, fmt.Errorf("release agreement %s: %w", agreement.ID, err))
			continue
		}
		released++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"eligible": len(eligible),
		"released": released,
	})
	j.logg.Info(logCtx, "auto release loop complete")
	return multierr.Combine(errs...)
}
