package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/internal/qr"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
)

type testQRService struct {
	activePayloadFn func(ctx context.Context, agreementID uuid.UUID) (*qr.TokenPayload, error)
}

func (s *testQRService) IssueTx(ctx context.Context, tx *gorm.DB, agreementID, courierID uuid.UUID) (*qr.TokenPayload, error) {
	return &qr.TokenPayload{}, nil
}

func (s *testQRService) Verify(ctx context.Context, rawToken string) (*models.QRToken, error) {
	return &models.QRToken{}, nil
}

func (s *testQRService) ConsumeTx(ctx context.Context, tx *gorm.DB, tokenID uuid.UUID, scan qr.ScanMetadata) error {
	return nil
}

func (s *testQRService) RetireTx(ctx context.Context, tx *gorm.DB, agreementID uuid.UUID) error {
	return nil
}

func (s *testQRService) ActivePayload(ctx context.Context, agreementID uuid.UUID) (*qr.TokenPayload, error) {
	if s.activePayloadFn != nil {
		return s.activePayloadFn(ctx, agreementID)
	}
	return &qr.TokenPayload{}, nil
}

func TestAgreementQRTokenReturnsPayloadToOwningCourier(t *testing.T) {
	agreementID := uuid.New()
	courierID := uuid.New()
	expires := time.Now().UTC().Add(time.Hour)
	svc := &testQRService{
		activePayloadFn: func(ctx context.Context, id uuid.UUID) (*qr.TokenPayload, error) {
			if id != agreementID {
				t.Fatalf("unexpected agreement id %s", id)
			}
			return &qr.TokenPayload{
				Token:       "tok-abc",
				AgreementID: agreementID,
				CourierID:   courierID,
				Signature:   "sig",
				ExpiresAt:   expires,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/agreements/"+agreementID.String()+"/qr", nil)
	req = addRouteParam(req, "agreementId", agreementID.String())
	req = withActor(req, courierID, enums.ActorRoleCourier)
	resp := httptest.NewRecorder()
	AgreementQRToken(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data qr.TokenPayload `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Token != "tok-abc" {
		t.Fatalf("unexpected token %q", envelope.Data.Token)
	}
	if envelope.Data.CourierID != courierID {
		t.Fatalf("unexpected courier id %s", envelope.Data.CourierID)
	}
}

func TestAgreementQRTokenHiddenFromOtherCouriers(t *testing.T) {
	agreementID := uuid.New()
	svc := &testQRService{
		activePayloadFn: func(ctx context.Context, id uuid.UUID) (*qr.TokenPayload, error) {
			return &qr.TokenPayload{AgreementID: agreementID, CourierID: uuid.New()}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/agreements/"+agreementID.String()+"/qr", nil)
	req = addRouteParam(req, "agreementId", agreementID.String())
	req = withActor(req, uuid.New(), enums.ActorRoleCourier)
	resp := httptest.NewRecorder()
	AgreementQRToken(svc, testLogger())(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestAgreementQRTokenNoActiveToken(t *testing.T) {
	svc := &testQRService{
		activePayloadFn: func(ctx context.Context, id uuid.UUID) (*qr.TokenPayload, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active token")
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/agreements/"+uuid.NewString()+"/qr", nil)
	req = addRouteParam(req, "agreementId", uuid.NewString())
	req = withActor(req, uuid.New(), enums.ActorRoleCourier)
	resp := httptest.NewRecorder()
	AgreementQRToken(svc, testLogger())(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
