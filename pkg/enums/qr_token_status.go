package enums

import "fmt"

// QRTokenStatus tracks the single-use lifecycle of a proof-of-delivery token.
type QRTokenStatus string

const (
	QRTokenStatusActive  QRTokenStatus = "active"
	QRTokenStatusUsed    QRTokenStatus = "used"
	QRTokenStatusExpired QRTokenStatus = "expired"
)

var validQRTokenStatuses = []QRTokenStatus{
	QRTokenStatusActive,
	QRTokenStatusUsed,
	QRTokenStatusExpired,
}

// String implements fmt.Stringer.
func (q QRTokenStatus) String() string {
	return string(q)
}

// IsValid reports whether the value is a known QRTokenStatus.
func (q QRTokenStatus) IsValid() bool {
	for _, candidate := range validQRTokenStatuses {
		if candidate == q {
			return true
		}
	}
	return false
}

// ParseQRTokenStatus converts raw input into a QRTokenStatus.
func ParseQRTokenStatus(value string) (QRTokenStatus, error) {
	for _, candidate := range validQRTokenStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid qr token status %q", value)
}
