package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/parcelpeer-backend/pkg/config"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	fetchErr  error
}

func (r *fakeRepo) FetchPublishable(limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	if limit < len(r.events) {
		return r.events[:limit], nil
	}
	return r.events, nil
}

func (r *fakeRepo) MarkPublished(id uuid.UUID) error {
	r.published = append(r.published, id)
	return nil
}

func (r *fakeRepo) MarkFailed(id uuid.UUID, err error) error {
	r.failed = append(r.failed, id)
	return nil
}

type fakeResult struct {
	err error
}

func (f fakeResult) Get(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	errFor   map[string]error
}

func (p *fakePublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	if err, ok := p.errFor[msg.Attributes["aggregate_id"]]; ok {
		return fakeResult{err: err}
	}
	return fakeResult{}
}

func testOutboxEvent(t *testing.T, attemptCount int) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"status": "held"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventAgreementCreated,
		AggregateType: enums.AggregateAgreement,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attemptCount,
		CreatedAt:     time.Now().UTC(),
	}
}

func newPublisherService(t *testing.T, repo *fakeRepo, pub *fakePublisher) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard}),
		DB:         fakePinger{},
		PubSub:     fakePinger{},
		Repository: repo,
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	first := testOutboxEvent(t, 0)
	second := testOutboxEvent(t, 2)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{}
	svc := newPublisherService(t, repo, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to be processed")
	}
	if len(pub.messages) != 2 {
		t.Fatalf("expected 2 publishes got %d", len(pub.messages))
	}
	if len(repo.published) != 2 {
		t.Fatalf("expected 2 marks got %d", len(repo.published))
	}
	if got := pub.messages[0].Attributes["event_type"]; got != string(first.EventType) {
		t.Fatalf("unexpected event_type attribute %q", got)
	}
	if string(pub.messages[0].Data) != string(first.Payload) {
		t.Fatal("payload should pass through unchanged")
	}
}

func TestProcessBatchMarksFailureAndContinues(t *testing.T) {
	stuck := testOutboxEvent(t, 0)
	healthy := testOutboxEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{stuck, healthy}}
	pub := &fakePublisher{errFor: map[string]error{
		stuck.AggregateID.String(): errors.New("topic unavailable"),
	}}
	svc := newPublisherService(t, repo, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to be processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != stuck.ID {
		t.Fatalf("expected failure recorded for the stuck event, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != healthy.ID {
		t.Fatalf("one bad event must not block the rest, got %v", repo.published)
	}
}

func TestProcessBatchEmptyIsIdle(t *testing.T) {
	repo := &fakeRepo{}
	svc := newPublisherService(t, repo, &fakePublisher{})

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if processed {
		t.Fatal("expected idle batch")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	repo := &fakeRepo{}
	svc := newPublisherService(t, repo, &fakePublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	base := 500 * time.Millisecond
	current := base
	for i := 0; i < 10; i++ {
		current = nextBackoff(current, base, maxBackoff)
	}
	if current != maxBackoff {
		t.Fatalf("expected backoff capped at %s got %s", maxBackoff, current)
	}
}
