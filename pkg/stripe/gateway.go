package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"

	"github.com/angelmondragon/lackmarkt-backend/pkg/metrics"
)

// Intent statuses that still accept a client-side confirmation.
const (
	IntentRequiresPaymentMethod = string(stripe.PaymentIntentStatusRequiresPaymentMethod)
	IntentRequiresConfirmation  = string(stripe.PaymentIntentStatusRequiresConfirmation)
	IntentRequiresAction        = string(stripe.PaymentIntentStatusRequiresAction)
	IntentProcessing            = string(stripe.PaymentIntentStatusProcessing)
	IntentSucceeded             = string(stripe.PaymentIntentStatusSucceeded)
	IntentCanceled              = string(stripe.PaymentIntentStatusCanceled)
)

// PaymentIntent is the subset of a Stripe PaymentIntent the settlement code reads.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountCents  int64
	Currency     string
	ChargeID     string
	Metadata     map[string]string
}

// Pending reports whether the intent can still be paid by the client.
func (p PaymentIntent) Pending() bool {
	switch p.Status {
	case IntentRequiresPaymentMethod, IntentRequiresConfirmation, IntentRequiresAction:
		return true
	}
	return false
}

// Settled reports whether the buyer's money is captured or about to be.
func (p PaymentIntent) Settled() bool {
	return p.Status == IntentSucceeded || p.Status == IntentProcessing
}

// Account is a connected account's payout eligibility.
type Account struct {
	ID               string
	BusinessName     string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	TransfersActive  bool
}

type CreateIntentInput struct {
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	TransferGroup  string
	IdempotencyKey string
}

type TransferInput struct {
	AmountCents       int64
	Currency          string
	DestinationID     string
	SourceTransaction string
	TransferGroup     string
	Metadata          map[string]string
	IdempotencyKey    string
}

type RefundInput struct {
	ChargeID        string
	PaymentIntentID string
	Metadata        map[string]string
	IdempotencyKey  string
}

// calls isolates the package-level Stripe functions so the retry policy can be tested.
type calls struct {
	newIntent    func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getIntent    func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	cancelIntent func(string, *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	newTransfer  func(*stripe.TransferParams) (*stripe.Transfer, error)
	newRefund    func(*stripe.RefundParams) (*stripe.Refund, error)
	getAccount   func(string, *stripe.AccountParams) (*stripe.Account, error)
}

func defaultCalls() calls {
	return calls{
		newIntent:    paymentintent.New,
		getIntent:    paymentintent.Get,
		cancelIntent: paymentintent.Cancel,
		newTransfer:  transfer.New,
		newRefund:    refund.New,
		getAccount:   account.GetByID,
	}
}

// Gateway is the payment gateway adapter. Money-moving writes always carry an
// idempotency key and are never retried here; reads retry on transient failures.
type Gateway struct {
	calls       calls
	metrics     *metrics.SettlementMetrics
	readBackoff func() retry.Backoff
}

// NewGateway builds the adapter on top of an initialized Client.
func NewGateway(client *Client, m *metrics.SettlementMetrics) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("stripe client required")
	}
	return &Gateway{
		calls:       defaultCalls(),
		metrics:     m,
		readBackoff: defaultReadBackoff,
	}, nil
}

func defaultReadBackoff() retry.Backoff {
	b := retry.NewExponential(200 * time.Millisecond)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(3, b)
}

func (g *Gateway) CreatePaymentIntent(ctx context.Context, input CreateIntentInput) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(input.AmountCents),
		Currency: stripe.String(strings.ToLower(input.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if input.TransferGroup != "" {
		params.TransferGroup = stripe.String(input.TransferGroup)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	started := time.Now()
	pi, err := g.calls.newIntent(params)
	g.metrics.ObserveGateway("create_payment_intent", started, err)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return toPaymentIntent(pi), nil
}

func (g *Gateway) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var out *PaymentIntent
	err := g.read(ctx, "retrieve_payment_intent", func() error {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := g.calls.getIntent(id, params)
		if err != nil {
			return err
		}
		out = toPaymentIntent(pi)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", id, err)
	}
	return out, nil
}

// CancelPaymentIntent cancels a pending intent. Canceling an already canceled
// intent returns its current state.
func (g *Gateway) CancelPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	started := time.Now()
	pi, err := g.calls.cancelIntent(id, params)
	g.metrics.ObserveGateway("cancel_payment_intent", started, err)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return g.RetrievePaymentIntent(ctx, id)
		}
		return nil, fmt.Errorf("cancel payment intent %s: %w", id, err)
	}
	return toPaymentIntent(pi), nil
}

// CreateTransfer moves funds to a connected account, scoped to the originating charge.
func (g *Gateway) CreateTransfer(ctx context.Context, input TransferInput) (string, error) {
	if input.IdempotencyKey == "" {
		return "", errors.New("transfer requires an idempotency key")
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(input.AmountCents),
		Currency:    stripe.String(strings.ToLower(input.Currency)),
		Destination: stripe.String(input.DestinationID),
	}
	if input.SourceTransaction != "" {
		params.SourceTransaction = stripe.String(input.SourceTransaction)
	}
	if input.TransferGroup != "" {
		params.TransferGroup = stripe.String(input.TransferGroup)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(input.IdempotencyKey)

	started := time.Now()
	tr, err := g.calls.newTransfer(params)
	g.metrics.ObserveGateway("create_transfer", started, err)
	if err != nil {
		return "", fmt.Errorf("create transfer: %w", err)
	}
	return tr.ID, nil
}

// CreateRefund refunds the original charge in full.
func (g *Gateway) CreateRefund(ctx context.Context, input RefundInput) (string, error) {
	if input.IdempotencyKey == "" {
		return "", errors.New("refund requires an idempotency key")
	}
	params := &stripe.RefundParams{}
	switch {
	case input.ChargeID != "":
		params.Charge = stripe.String(input.ChargeID)
	case input.PaymentIntentID != "":
		params.PaymentIntent = stripe.String(input.PaymentIntentID)
	default:
		return "", errors.New("refund requires a charge or payment intent")
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(input.IdempotencyKey)

	started := time.Now()
	rf, err := g.calls.newRefund(params)
	g.metrics.ObserveGateway("create_refund", started, err)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return "", ErrAlreadyRefunded
		}
		return "", fmt.Errorf("create refund: %w", err)
	}
	return rf.ID, nil
}

// ErrAlreadyRefunded is returned when the charge was refunded outside this call.
var ErrAlreadyRefunded = errors.New("charge already refunded")

func (g *Gateway) RetrieveAccount(ctx context.Context, accountID string) (*Account, error) {
	var out *Account
	err := g.read(ctx, "retrieve_account", func() error {
		params := &stripe.AccountParams{}
		params.Context = ctx
		acct, err := g.calls.getAccount(accountID, params)
		if err != nil {
			return err
		}
		out = ToAccount(acct)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve account %s: %w", accountID, err)
	}
	return out, nil
}

func (g *Gateway) read(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(ctx, g.readBackoff(), func(ctx context.Context) error {
		started := time.Now()
		err := fn()
		g.metrics.ObserveGateway(operation, started, err)
		if err != nil && isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient reports whether a read may be retried: 5xx, 429 and transport failures.
func isTransient(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
		return true
	}
	return stripeErr.Type == stripe.ErrorTypeAPI && stripeErr.HTTPStatusCode == 0
}

func toPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	if pi == nil {
		return nil
	}
	out := &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.LatestCharge != nil {
		out.ChargeID = pi.LatestCharge.ID
	}
	return out
}

// ToPaymentIntent converts a webhook payload object.
func ToPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	return toPaymentIntent(pi)
}

// ToAccount converts a Stripe account, including the ones embedded in account.updated events.
func ToAccount(acct *stripe.Account) *Account {
	if acct == nil {
		return nil
	}
	out := &Account{
		ID:               acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
	if acct.BusinessProfile != nil {
		out.BusinessName = acct.BusinessProfile.Name
	}
	if acct.Capabilities != nil {
		out.TransfersActive = acct.Capabilities.Transfers == stripe.AccountCapabilityStatusActive
	}
	return out
}
