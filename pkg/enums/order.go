package enums

import "fmt"

// OrderSource records which flow created the settlement record.
type OrderSource string

const (
	OrderSourceJobOffer OrderSource = "job_offer"
	OrderSourceShop     OrderSource = "shop"
)

func (s OrderSource) IsValid() bool {
	return s == OrderSourceJobOffer || s == OrderSourceShop
}

// OrderStatus is the coarse payment-settlement status of an order.
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusFundsHeld  OrderStatus = "funds_held"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusReleased   OrderStatus = "released"
	OrderStatusCanceled   OrderStatus = "canceled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusProcessing,
	OrderStatusFundsHeld,
	OrderStatusShipped,
	OrderStatusReleased,
	OrderStatusCanceled,
	OrderStatusRefunded,
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// PaymentReceived reports whether the buyer's funds are captured and still held or settled.
func (s OrderStatus) PaymentReceived() bool {
	return s == OrderStatusFundsHeld || s == OrderStatusShipped || s == OrderStatusReleased
}

func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// FulfillmentStatus is the post-payment delivery axis.
type FulfillmentStatus string

const (
	FulfillmentInProgress FulfillmentStatus = "in_progress"
	FulfillmentReported   FulfillmentStatus = "reported"
	FulfillmentConfirmed  FulfillmentStatus = "confirmed"
	FulfillmentDisputed   FulfillmentStatus = "disputed"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentInProgress,
	FulfillmentReported,
	FulfillmentConfirmed,
	FulfillmentDisputed,
}

func (s FulfillmentStatus) String() string {
	return string(s)
}

func (s FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}

// PayoutStatus is the funds axis, decoupled from fulfillment.
type PayoutStatus string

const (
	PayoutHold     PayoutStatus = "hold"
	PayoutReleased PayoutStatus = "released"
	PayoutRefunded PayoutStatus = "refunded"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutHold,
	PayoutReleased,
	PayoutRefunded,
}

func (s PayoutStatus) String() string {
	return string(s)
}

func (s PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}

// SettlementClaim marks which money movement currently owns an order.
type SettlementClaim string

const (
	ClaimRelease SettlementClaim = "release"
	ClaimRefund  SettlementClaim = "refund"
)

func (c SettlementClaim) String() string { return string(c) }

func (c SettlementClaim) IsValid() bool {
	return c == ClaimRelease || c == ClaimRefund
}
