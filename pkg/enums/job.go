package enums

import "fmt"

// JobKind distinguishes bidding jobs from direct lacquer requests. Both share one table.
type JobKind string

const (
	JobKindBidding        JobKind = "bidding"
	JobKindLacquerRequest JobKind = "lacquer_request"
)

var validJobKinds = []JobKind{
	JobKindBidding,
	JobKindLacquerRequest,
}

func (k JobKind) String() string {
	return string(k)
}

func (k JobKind) IsValid() bool {
	for _, candidate := range validJobKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseJobKind(value string) (JobKind, error) {
	for _, candidate := range validJobKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job kind %q", value)
}

// JobStatus tracks a buyer's request from publication to close.
type JobStatus string

const (
	JobStatusOpen            JobStatus = "open"
	JobStatusAwarded         JobStatus = "awarded"
	JobStatusAwaitingPayment JobStatus = "awaiting_payment"
	JobStatusPaid            JobStatus = "paid"
	JobStatusMediated        JobStatus = "mediated"
	JobStatusClosed          JobStatus = "closed"
)

var validJobStatuses = []JobStatus{
	JobStatusOpen,
	JobStatusAwarded,
	JobStatusAwaitingPayment,
	JobStatusPaid,
	JobStatusMediated,
	JobStatusClosed,
}

func (s JobStatus) String() string {
	return string(s)
}

func (s JobStatus) IsValid() bool {
	for _, candidate := range validJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// AcceptsOffers reports whether suppliers may still bid.
func (s JobStatus) AcceptsOffers() bool {
	return s == JobStatusOpen || s == JobStatusAwarded
}

func ParseJobStatus(value string) (JobStatus, error) {
	for _, candidate := range validJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job status %q", value)
}
