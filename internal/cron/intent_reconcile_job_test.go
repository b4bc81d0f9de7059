package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/parcelpeer-backend/pkg/config"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

type fakeIntentStore struct {
	pending   []models.EscrowIntent
	abandoned []uuid.UUID
}

func (f *fakeIntentStore) ListPending(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.EscrowIntent, error) {
	var out []models.EscrowIntent
	for _, intent := range f.pending {
		if intent.AttemptCount < maxAttempts {
			out = append(out, intent)
		}
	}
	return out, nil
}

func (f *fakeIntentStore) ListExhausted(ctx context.Context, maxAttempts, limit int) ([]models.EscrowIntent, error) {
	var out []models.EscrowIntent
	for _, intent := range f.pending {
		if intent.AttemptCount >= maxAttempts {
			out = append(out, intent)
		}
	}
	return out, nil
}

func (f *fakeIntentStore) MarkAbandoned(ctx context.Context, id uuid.UUID) error {
	f.abandoned = append(f.abandoned, id)
	return nil
}

type fakeReconciler struct {
	reconciled []uuid.UUID
	failFor    map[uuid.UUID]error
}

func (f *fakeReconciler) ReconcileIntent(ctx context.Context, intent models.EscrowIntent) error {
	if err, ok := f.failFor[intent.ID]; ok {
		return err
	}
	f.reconciled = append(f.reconciled, intent.ID)
	return nil
}

func newReconcileJob(t *testing.T, store *fakeIntentStore, reconciler *fakeReconciler) *intentReconcileJob {
	t.Helper()
	jobIface, err := NewIntentReconcileJob(IntentReconcileJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Intents: store,
		Escrow:  reconciler,
		Config:  config.EscrowConfig{IntentRetryBackoff: 5 * time.Minute, IntentMaxAttempts: 3},
	})
	if err != nil {
		t.Fatalf("NewIntentReconcileJob: %v", err)
	}
	return jobIface.(*intentReconcileJob)
}

func TestIntentReconcileJobReplaysPendingIntents(t *testing.T) {
	intents := []models.EscrowIntent{
		{ID: uuid.New(), AgreementID: uuid.New(), Operation: enums.EscrowOperationRelease, AttemptCount: 1},
		{ID: uuid.New(), AgreementID: uuid.New(), Operation: enums.EscrowOperationRefund, AttemptCount: 0},
	}
	store := &fakeIntentStore{pending: intents}
	reconciler := &fakeReconciler{}
	job := newReconcileJob(t, store, reconciler)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reconciler.reconciled) != 2 {
		t.Fatalf("expected 2 reconciled, got %d", len(reconciler.reconciled))
	}
}

func TestIntentReconcileJobContinuesPastFailures(t *testing.T) {
	broken := models.EscrowIntent{ID: uuid.New(), AgreementID: uuid.New(), Operation: enums.EscrowOperationRelease}
	fine := models.EscrowIntent{ID: uuid.New(), AgreementID: uuid.New(), Operation: enums.EscrowOperationRelease}
	store := &fakeIntentStore{pending: []models.EscrowIntent{broken, fine}}
	reconciler := &fakeReconciler{failFor: map[uuid.UUID]error{broken.ID: errors.New("custodian lookup failed")}}
	job := newReconcileJob(t, store, reconciler)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected combined error")
	}
	if len(reconciler.reconciled) != 1 || reconciler.reconciled[0] != fine.ID {
		t.Fatalf("expected the healthy intent reconciled")
	}
}

func TestIntentReconcileJobParksExhaustedIntents(t *testing.T) {
	worn := models.EscrowIntent{ID: uuid.New(), AgreementID: uuid.New(), Operation: enums.EscrowOperationRelease, AttemptCount: 3}
	store := &fakeIntentStore{pending: []models.EscrowIntent{worn}}
	reconciler := &fakeReconciler{}
	job := newReconcileJob(t, store, reconciler)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Past the attempt ceiling it is parked, not retried.
	if len(reconciler.reconciled) != 0 {
		t.Fatalf("expected no reconcile attempts, got %d", len(reconciler.reconciled))
	}
	if len(store.abandoned) != 1 || store.abandoned[0] != worn.ID {
		t.Fatalf("expected worn intent parked")
	}
}

func TestIntentReconcileJobParksIntentsFarPastCeiling(t *testing.T) {
	// Request-path failures can push the attempt count well beyond the
	// ceiling between sweeps; those rows must still get parked.
	worn := models.EscrowIntent{ID: uuid.New(), AgreementID: uuid.New(), Operation: enums.EscrowOperationRelease, AttemptCount: 9}
	store := &fakeIntentStore{pending: []models.EscrowIntent{worn}}
	reconciler := &fakeReconciler{}
	job := newReconcileJob(t, store, reconciler)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.abandoned) != 1 || store.abandoned[0] != worn.ID {
		t.Fatalf("expected intent past the ceiling parked, got %v", store.abandoned)
	}
}
