package enums

import "fmt"

// DisputeStatus tracks the workflow state of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusClosed      DisputeStatus = "closed"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusUnderReview,
	DisputeStatusResolved,
	DisputeStatusClosed,
}

// IsValid reports whether the value is a known DisputeStatus.
func (d DisputeStatus) IsValid() bool {
	for _, candidate := range validDisputeStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// IsActive reports whether the dispute still blocks the agreement.
func (d DisputeStatus) IsActive() bool {
	return d == DisputeStatusOpen || d == DisputeStatusUnderReview
}

// ParseDisputeStatus converts raw input into a DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	for _, candidate := range validDisputeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute status %q", value)
}

// DisputeType categorizes what went wrong with the delivery.
type DisputeType string

const (
	DisputeTypeNotDelivered   DisputeType = "not_delivered"
	DisputeTypeDamagedParcel  DisputeType = "damaged_parcel"
	DisputeTypeLostParcel     DisputeType = "lost_parcel"
	DisputeTypeWrongRecipient DisputeType = "wrong_recipient"
	DisputeTypePayment        DisputeType = "payment"
	DisputeTypeOther          DisputeType = "other"
)

var validDisputeTypes = []DisputeType{
	DisputeTypeNotDelivered,
	DisputeTypeDamagedParcel,
	DisputeTypeLostParcel,
	DisputeTypeWrongRecipient,
	DisputeTypePayment,
	DisputeTypeOther,
}

// IsValid reports whether the value is a known DisputeType.
func (d DisputeType) IsValid() bool {
	for _, candidate := range validDisputeTypes {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeType converts raw input into a DisputeType.
func ParseDisputeType(value string) (DisputeType, error) {
	for _, candidate := range validDisputeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute type %q", value)
}

// DisputeResolution is the arbiter's disposition of held funds.
type DisputeResolution string

const (
	DisputeResolutionReleaseToCourier DisputeResolution = "release_to_courier"
	DisputeResolutionRefundToSender   DisputeResolution = "refund_to_sender"
	DisputeResolutionPartialSplit     DisputeResolution = "partial_split"
)

var validDisputeResolutions = []DisputeResolution{
	DisputeResolutionReleaseToCourier,
	DisputeResolutionRefundToSender,
	DisputeResolutionPartialSplit,
}

// IsValid reports whether the value is a known DisputeResolution.
func (d DisputeResolution) IsValid() bool {
	for _, candidate := range validDisputeResolutions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeResolution converts raw input into a DisputeResolution.
func ParseDisputeResolution(value string) (DisputeResolution, error) {
	for _, candidate := range validDisputeResolutions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute resolution %q", value)
}
