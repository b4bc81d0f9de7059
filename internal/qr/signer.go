package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Signer authenticates token payloads with HMAC-SHA256 under the service
// secret. The signature binds the token to its agreement and courier so a
// leaked token value cannot be replayed against another delivery.
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer from the configured secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("qr signing secret required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

func (s *Signer) message(token string, agreementID, courierID uuid.UUID) []byte {
	return []byte(token + "|" + agreementID.String() + "|" + courierID.String())
}

// Sign returns the hex HMAC over token|agreementID|courierID.
func (s *Signer) Sign(token string, agreementID, courierID uuid.UUID) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(s.message(token, agreementID, courierID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the signature matches, in constant time.
func (s *Signer) Verify(token string, agreementID, courierID uuid.UUID, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(s.message(token, agreementID, courierID))
	return hmac.Equal(mac.Sum(nil), expected)
}
