package enums

import (
	"fmt"
	"slices"
	"strings"
)

// NotificationType is the inbox tab a notification is listed under.
type NotificationType string

const (
	NotificationTypeOffer   NotificationType = "offer"
	NotificationTypeOrder   NotificationType = "order"
	NotificationTypePayout  NotificationType = "payout"
	NotificationTypeInvoice NotificationType = "invoice"
)

var notificationTypes = []NotificationType{
	NotificationTypeOffer,
	NotificationTypeOrder,
	NotificationTypePayout,
	NotificationTypeInvoice,
}

func (n NotificationType) IsValid() bool {
	return slices.Contains(notificationTypes, n)
}

// ParseNotificationType accepts the query-string form of a type. An empty
// value means no filter and returns "".
func ParseNotificationType(value string) (NotificationType, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", nil
	}
	if t := NotificationType(value); t.IsValid() {
		return t, nil
	}
	return "", fmt.Errorf("unknown notification type %q", value)
}
