package enums

import "fmt"

// OfferStatus is the lifecycle of a supplier's bid.
type OfferStatus string

const (
	OfferStatusOpen     OfferStatus = "open"
	OfferStatusSelected OfferStatus = "selected"
	OfferStatusPaid     OfferStatus = "paid"
	// OfferStatusExpired is never written; expiry is a read filter on valid_until.
	OfferStatusExpired  OfferStatus = "expired"
	OfferStatusCanceled OfferStatus = "canceled"
)

var validOfferStatuses = []OfferStatus{
	OfferStatusOpen,
	OfferStatusSelected,
	OfferStatusPaid,
	OfferStatusExpired,
	OfferStatusCanceled,
}

// ActiveOfferStatuses are covered by the one-active-offer-per-supplier index.
var ActiveOfferStatuses = []OfferStatus{
	OfferStatusOpen,
	OfferStatusSelected,
	OfferStatusPaid,
}

func (s OfferStatus) String() string {
	return string(s)
}

func (s OfferStatus) IsValid() bool {
	for _, candidate := range validOfferStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseOfferStatus(value string) (OfferStatus, error) {
	for _, candidate := range validOfferStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid offer status %q", value)
}
