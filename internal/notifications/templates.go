package notifications

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/payloads"
)

// message is one rendered notification for one recipient.
type message struct {
	UserID uuid.UUID
	Email  string
	Type   enums.NotificationType
	Title  string
	Body   string
	Link   string
}

// compose renders the notifications an event produces. Unknown events render nothing.
func compose(eventType enums.OutboxEventType, payload any) []message {
	switch p := payload.(type) {
	case *payloads.OfferSubmittedEvent:
		return []message{{
			UserID: p.BuyerID,
			Email:  p.BuyerEmail,
			Type:   enums.NotificationTypeOffer,
			Title:  fmt.Sprintf("New offer for %s", titleOr(p.JobTitle)),
			Body: fmt.Sprintf("A supplier offered %s. The offer is valid until %s.",
				formatMoney(p.TotalAmountCents, p.Currency), p.ValidUntil.UTC().Format("2006-01-02 15:04 MST")),
			Link: fmt.Sprintf("/jobs/%s/offers", p.JobID),
		}}
	case *payloads.OfferSelectedEvent:
		return []message{{
			UserID: p.SupplierID,
			Email:  p.SupplierEmail,
			Type:   enums.NotificationTypeOffer,
			Title:  fmt.Sprintf("Your offer for %s was selected", titleOr(p.JobTitle)),
			Body:   fmt.Sprintf("The buyer selected your offer of %s and is completing payment.", formatMoney(p.TotalAmountCents, p.Currency)),
			Link:   fmt.Sprintf("/jobs/%s", p.JobID),
		}}
	case *payloads.OrderSettlementEvent:
		return composeOrder(eventType, p)
	case *payloads.InvoiceIssuedEvent:
		return []message{{
			UserID: p.SellerID,
			Email:  p.SellerEmail,
			Type:   enums.NotificationTypeInvoice,
			Title:  fmt.Sprintf("Invoice %s is ready", p.Number),
			Body:   fmt.Sprintf("The invoice for your payout of %s can be downloaded now.", formatMoney(p.NetAmountCents, p.Currency)),
			Link:   fmt.Sprintf("/orders/%s/invoice", p.OrderID),
		}}
	default:
		return nil
	}
}

func composeOrder(eventType enums.OutboxEventType, p *payloads.OrderSettlementEvent) []message {
	title := titleOr(p.Title)
	link := fmt.Sprintf("/orders/%s", p.OrderID)
	buyer := func(kind enums.NotificationType, subject, body string) message {
		return message{UserID: p.BuyerID, Email: p.BuyerEmail, Type: kind, Title: subject, Body: body, Link: link}
	}
	seller := func(kind enums.NotificationType, subject, body string) message {
		return message{UserID: p.SellerID, Email: p.SellerEmail, Type: kind, Title: subject, Body: body, Link: link}
	}
	gross := formatMoney(p.GrossAmountCents, p.Currency)

	switch eventType {
	case enums.EventOrderPaid:
		return []message{
			buyer(enums.NotificationTypeOrder, fmt.Sprintf("Payment received for %s", title),
				fmt.Sprintf("We hold %s until you confirm delivery.", gross)),
			seller(enums.NotificationTypeOrder, fmt.Sprintf("%s is paid", title),
				"The buyer's payment is held by the platform. Mark the order as delivered once it is done."),
		}
	case enums.EventOrderReported:
		return []message{buyer(enums.NotificationTypeOrder, fmt.Sprintf("%s was delivered", title),
			"The seller reported the order as delivered. Confirm it or open a dispute if something is wrong.")}
	case enums.EventOrderConfirmed:
		return []message{seller(enums.NotificationTypeOrder, fmt.Sprintf("Delivery of %s confirmed", title),
			"The buyer confirmed delivery. Your payout will be released shortly.")}
	case enums.EventOrderDisputed:
		body := "The buyer opened a dispute. Our team will mediate."
		if p.DisputeReason != nil && strings.TrimSpace(*p.DisputeReason) != "" {
			body = fmt.Sprintf("The buyer opened a dispute: %s", strings.TrimSpace(*p.DisputeReason))
		}
		return []message{seller(enums.NotificationTypeOrder, fmt.Sprintf("Dispute on %s", title), body)}
	case enums.EventOrderReleased:
		body := fmt.Sprintf("%s was transferred to your account.", formatMoney(p.NetAmountCents, p.Currency))
		if p.Automatic {
			body = fmt.Sprintf("The confirmation window passed and %s was transferred to your account.", formatMoney(p.NetAmountCents, p.Currency))
		}
		return []message{seller(enums.NotificationTypePayout, fmt.Sprintf("Payout for %s released", title), body)}
	case enums.EventOrderRefunded:
		buyerBody := fmt.Sprintf("%s was refunded to your payment method.", gross)
		if p.Automatic {
			buyerBody = fmt.Sprintf("The seller did not report delivery in time. %s was refunded to your payment method.", gross)
		}
		return []message{
			buyer(enums.NotificationTypeOrder, fmt.Sprintf("%s was refunded", title), buyerBody),
			seller(enums.NotificationTypeOrder, fmt.Sprintf("%s was refunded", title), "The order was refunded to the buyer and will not be paid out."),
		}
	case enums.EventOrderCanceled:
		return []message{buyer(enums.NotificationTypeOrder, fmt.Sprintf("%s was canceled", title), "The payment was canceled before it completed. No money was taken.")}
	default:
		return nil
	}
}

func titleOr(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return "your order"
}

// formatMoney renders minor units as "85.00 EUR".
func formatMoney(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, enums.Currency(currency).Code())
}
