package enums

import "fmt"

// PackageStatus tracks whether a posted package is claimable by couriers.
type PackageStatus string

const (
	PackageStatusPosted    PackageStatus = "posted"
	PackageStatusClaimed   PackageStatus = "claimed"
	PackageStatusDelivered PackageStatus = "delivered"
	PackageStatusCancelled PackageStatus = "cancelled"
)

var validPackageStatuses = []PackageStatus{
	PackageStatusPosted,
	PackageStatusClaimed,
	PackageStatusDelivered,
	PackageStatusCancelled,
}

// String implements fmt.Stringer.
func (p PackageStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PackageStatus.
func (p PackageStatus) IsValid() bool {
	for _, candidate := range validPackageStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePackageStatus converts raw input into a PackageStatus.
func ParsePackageStatus(value string) (PackageStatus, error) {
	for _, candidate := range validPackageStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid package status %q", value)
}
