package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/google/uuid"

	"github.com/angelmondragon/parcelpeer-backend/pkg/config"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

type pendingIntentReader interface {
	ListPending(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.EscrowIntent, error)
	ListExhausted(ctx context.Context, maxAttempts, limit int) ([]models.EscrowIntent, error)
	MarkAbandoned(ctx context.Context, id uuid.UUID) error
}

type intentReconciler interface {
	ReconcileIntent(ctx context.Context, intent models.EscrowIntent) error
}

// IntentReconcileJobParams configure the escrow intent recovery sweep.
type IntentReconcileJobParams struct {
	Logger  *logger.Logger
	Intents pendingIntentReader
	Escrow  intentReconciler
	Config  config.EscrowConfig
}

const reconcileBatchSize = 100

// NewIntentReconcileJob builds the job that settles write-ahead intents left
// pending by a crash between the custodian call and the local commit.
func NewIntentReconcileJob(params IntentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent repository required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	return &intentReconcileJob{
		logg:    params.Logger,
		intents: params.Intents,
		escrow:  params.Escrow,
		cfg:     params.Config,
		now:     time.Now,
	}, nil
}

type intentReconcileJob struct {
	logg    *logger.Logger
	intents pendingIntentReader
	escrow  intentReconciler
	cfg     config.EscrowConfig
	now     func() time.Time
}

func (j *intentReconcileJob) Name() string { return "escrow-intent-reconcile" }

func (j *intentReconcileJob) Run(ctx context.Context) error {
	backoff := j.cfg.IntentRetryBackoff
	if backoff <= 0 {
		backoff = 5 * time.Minute
	}
	maxAttempts := j.cfg.IntentMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}

	// Intents younger than the backoff are likely still in flight on the
	// request path; leave them alone.
	before := j.now().UTC().Add(-backoff)
	pending, err := j.intents.ListPending(ctx, before, maxAttempts, reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("query pending intents: %w", err)
	}

	var errs []error
	reconciled := 0
	for _, intent := range pending {
		if err := j.escrow.ReconcileIntent(ctx, intent); err != nil {
			logCtx := j.logg.WithFields(ctx, map[string]any{
				"intent_id":    intent.ID.String(),
				"agreement_id": intent.AgreementID.String(),
				"operation":    string(intent.Operation),
			})
			j.logg.Error(logCtx, "intent reconcile failed", err)
			errs = append(errs, fmt.Errorf("reconcile intent %s: %w", intent.ID, err))
			continue
		}
		reconciled++
	}

	if err := j.parkExhausted(ctx, maxAttempts); err != nil {
		errs = append(errs, err)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"pending":    len(pending),
		"reconciled": reconciled,
	})
	j.logg.Info(logCtx, "intent reconcile loop complete")
	return multierr.Combine(errs...)
}

// parkExhausted moves intents past the attempt ceiling into the failed state
// so operators see them instead of the sweep retrying forever.
func (j *intentReconcileJob) parkExhausted(ctx context.Context, maxAttempts int) error {
	exhausted, err := j.intents.ListExhausted(ctx, maxAttempts, reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("query exhausted intents: %w", err)
	}
	parked := 0
	for _, intent := range exhausted {
		if err := j.intents.MarkAbandoned(ctx, intent.ID); err != nil {
			return fmt.Errorf("park intent %s: %w", intent.ID, err)
		}
		parked++
	}
	if parked > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{"parked": parked})
		j.logg.Warn(logCtx, "escrow intents exhausted retries; manual settlement needed")
	}
	return nil
}
