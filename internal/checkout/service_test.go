package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/internal/ledger/ledgertest"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
)

type stubGateway struct {
	intents   map[string]*stripe.PaymentIntent
	created   []stripe.CreateIntentInput
	canceled  []string
	createErr error
}

func newStubGateway() *stubGateway {
	return &stubGateway{intents: map[string]*stripe.PaymentIntent{}}
}

func (g *stubGateway) CreatePaymentIntent(_ context.Context, input stripe.CreateIntentInput) (*stripe.PaymentIntent, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, input)
	id := fmt.Sprintf("pi_%d", len(g.created))
	pi := &stripe.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       stripe.IntentRequiresPaymentMethod,
		AmountCents:  input.AmountCents,
		Currency:     input.Currency,
		Metadata:     input.Metadata,
	}
	g.intents[id] = pi
	return pi, nil
}

func (g *stubGateway) RetrievePaymentIntent(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	pi, ok := g.intents[id]
	if !ok {
		return nil, errors.New("no such intent")
	}
	return pi, nil
}

func (g *stubGateway) CancelPaymentIntent(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	g.canceled = append(g.canceled, id)
	pi, ok := g.intents[id]
	if !ok {
		return nil, errors.New("no such intent")
	}
	pi.Status = stripe.IntentCanceled
	return pi, nil
}

type fixture struct {
	svc     Service
	conn    *gorm.DB
	gateway *stubGateway
	buyer   auth.Identity
	seller  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := ledgertest.Open(t)
	gateway := newStubGateway()
	svc, err := NewService(ServiceParams{
		Repo:       ledger.NewRepository(conn),
		Tx:         ledgertest.Client(conn),
		Gateway:    gateway,
		Settlement: config.SettlementConfig{Currency: "eur", PlatformFeeBps: 700},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{
		svc:     svc,
		conn:    conn,
		gateway: gateway,
		buyer:   auth.Identity{UserID: uuid.New(), Email: "buyer@example.com", Role: enums.RoleUser},
		seller:  uuid.New(),
	}
}

// selectedPair seeds a job in awaiting_payment with a selected offer.
func (f *fixture) selectedPair(t *testing.T, mutate ...func(*models.JobOffer)) (*models.Job, *models.JobOffer) {
	t.Helper()
	job := ledgertest.SeedJob(t, f.conn, f.buyer.UserID, func(j *models.Job) { j.Status = enums.JobStatusAwaitingPayment })
	offer := ledgertest.SeedOffer(t, f.conn, job, f.seller, append([]func(*models.JobOffer){func(o *models.JobOffer) {
		o.Status = enums.OfferStatusSelected
	}}, mutate...)...)
	if err := f.conn.Model(&models.Job{}).Where("id = ?", job.ID).Update("selected_offer_id", offer.ID).Error; err != nil {
		t.Fatalf("select offer: %v", err)
	}
	return job, offer
}

func TestCreateCheckoutCreatesIntentWithMetadata(t *testing.T) {
	f := newFixture(t)
	job, offer := f.selectedPair(t)

	session, err := f.svc.CreateCheckout(context.Background(), f.buyer, job.ID)
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if session.AmountCents != 8500 || session.PlatformFeeCents != 595 || session.ClientSecret == "" {
		t.Fatalf("unexpected session %+v", session)
	}
	if len(f.gateway.created) != 1 {
		t.Fatalf("expected one intent, got %d", len(f.gateway.created))
	}
	created := f.gateway.created[0]
	if created.Metadata["job_id"] != job.ID.String() || created.Metadata["offer_id"] != offer.ID.String() {
		t.Fatalf("intent metadata must map back to the offer: %v", created.Metadata)
	}
	if want := fmt.Sprintf("checkout:%s:none", offer.ID); created.IdempotencyKey != want {
		t.Fatalf("expected idempotency key %q, got %q", want, created.IdempotencyKey)
	}

	stored := ledgertest.Reload[models.JobOffer](t, f.conn, offer.ID)
	if stored.PaymentIntentID == nil || *stored.PaymentIntentID != session.PaymentIntentID {
		t.Fatalf("payment intent not stored on offer: %+v", stored)
	}
	if stored.PlatformFeeCents == nil || *stored.PlatformFeeCents != 595 {
		t.Fatalf("platform fee not stored: %v", stored.PlatformFeeCents)
	}
}

func TestCreateCheckoutReusesPendingIntent(t *testing.T) {
	f := newFixture(t)
	job, _ := f.selectedPair(t)
	ctx := context.Background()

	first, err := f.svc.CreateCheckout(ctx, f.buyer, job.ID)
	if err != nil {
		t.Fatalf("first CreateCheckout: %v", err)
	}
	second, err := f.svc.CreateCheckout(ctx, f.buyer, job.ID)
	if err != nil {
		t.Fatalf("second CreateCheckout: %v", err)
	}
	if second.PaymentIntentID != first.PaymentIntentID || !second.Reused {
		t.Fatalf("expected pending intent to be reused, got %+v then %+v", first, second)
	}
	if len(f.gateway.created) != 1 {
		t.Fatalf("expected no second financial obligation, got %d intents", len(f.gateway.created))
	}
}

func TestCreateCheckoutReplacesCanceledIntent(t *testing.T) {
	f := newFixture(t)
	job, offer := f.selectedPair(t)
	ctx := context.Background()

	first, err := f.svc.CreateCheckout(ctx, f.buyer, job.ID)
	if err != nil {
		t.Fatalf("first CreateCheckout: %v", err)
	}
	f.gateway.intents[first.PaymentIntentID].Status = stripe.IntentCanceled

	second, err := f.svc.CreateCheckout(ctx, f.buyer, job.ID)
	if err != nil {
		t.Fatalf("second CreateCheckout: %v", err)
	}
	if second.PaymentIntentID == first.PaymentIntentID || second.Reused {
		t.Fatalf("expected a replacement intent, got %+v", second)
	}
	if want := fmt.Sprintf("checkout:%s:%s", offer.ID, first.PaymentIntentID); f.gateway.created[1].IdempotencyKey != want {
		t.Fatalf("expected key %q, got %q", want, f.gateway.created[1].IdempotencyKey)
	}
}

func TestCreateCheckoutRejectsSettledIntent(t *testing.T) {
	f := newFixture(t)
	job, _ := f.selectedPair(t)
	ctx := context.Background()

	first, err := f.svc.CreateCheckout(ctx, f.buyer, job.ID)
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	f.gateway.intents[first.PaymentIntentID].Status = stripe.IntentSucceeded

	_, err = f.svc.CreateCheckout(ctx, f.buyer, job.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeAlreadyPaid) {
		t.Fatalf("expected ALREADY_PAID, got %v", err)
	}
}

func TestCreateCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, _ := f.selectedPair(t)
	stranger := auth.Identity{UserID: uuid.New()}
	if _, err := f.svc.CreateCheckout(ctx, stranger, job.ID); !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}

	unselected := ledgertest.SeedJob(t, f.conn, f.buyer.UserID)
	if _, err := f.svc.CreateCheckout(ctx, f.buyer, unselected.ID); !pkgerrors.HasCode(err, pkgerrors.CodeNoSelectedOffer) {
		t.Fatalf("expected NO_SELECTED_OFFER, got %v", err)
	}

	paidJob := ledgertest.SeedJob(t, f.conn, f.buyer.UserID, func(j *models.Job) { j.Status = enums.JobStatusPaid })
	if _, err := f.svc.CreateCheckout(ctx, f.buyer, paidJob.ID); !pkgerrors.HasCode(err, pkgerrors.CodeJobWrongStatus) {
		t.Fatalf("expected JOB_WRONG_STATUS, got %v", err)
	}

	openJob := ledgertest.SeedJob(t, f.conn, f.buyer.UserID)
	openOffer := ledgertest.SeedOffer(t, f.conn, openJob, f.seller)
	f.conn.Model(&models.Job{}).Where("id = ?", openJob.ID).Update("selected_offer_id", openOffer.ID)
	if _, err := f.svc.CreateCheckout(ctx, f.buyer, openJob.ID); !pkgerrors.HasCode(err, pkgerrors.CodeOfferNotSelected) {
		t.Fatalf("expected OFFER_NOT_SELECTED, got %v", err)
	}

	tiny, _ := f.selectedPair(t, func(o *models.JobOffer) {
		o.ItemAmountCents = 40
		o.ShippingAmountCents = 0
		o.TotalAmountCents = 40
	})
	if _, err := f.svc.CreateCheckout(ctx, f.buyer, tiny.ID); !pkgerrors.HasCode(err, pkgerrors.CodeInvalidAmount) {
		t.Fatalf("expected INVALID_AMOUNT, got %v", err)
	}

	if len(f.gateway.created) != 0 {
		t.Fatalf("failed checkouts must not reach the gateway, got %d intents", len(f.gateway.created))
	}
}

func TestCreateShopCheckoutOpensProcessingOrder(t *testing.T) {
	f := newFixture(t)

	session, err := f.svc.CreateShopCheckout(context.Background(), f.buyer, ShopCheckoutInput{
		SellerID:            f.seller,
		SellerEmail:         "shop@example.com",
		ArticleRef:          "art-123",
		Title:               "Spray gun",
		ItemAmountCents:     12000,
		ShippingAmountCents: 690,
	})
	if err != nil {
		t.Fatalf("CreateShopCheckout: %v", err)
	}
	if session.OrderID == nil || session.AmountCents != 12690 || session.PlatformFeeCents != 888 {
		t.Fatalf("unexpected session %+v", session)
	}
	if got := f.gateway.created[0].Metadata["order_id"]; got != session.OrderID.String() {
		t.Fatalf("intent must carry order_id metadata, got %q", got)
	}

	order := ledgertest.Reload[models.Order](t, f.conn, *session.OrderID)
	if order.Status != enums.OrderStatusProcessing || order.Source != enums.OrderSourceShop {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.PaymentIntentID == nil || *order.PaymentIntentID != session.PaymentIntentID {
		t.Fatalf("intent not bound to order: %+v", order)
	}
}

func TestCreateShopCheckoutCancelsOrderOnGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.createErr = errors.New("stripe down")

	_, err := f.svc.CreateShopCheckout(context.Background(), f.buyer, ShopCheckoutInput{
		SellerID:        f.seller,
		ArticleRef:      "art-9",
		Title:           "Clear coat",
		ItemAmountCents: 2500,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected DEPENDENCY_ERROR, got %v", err)
	}
	var canceled int64
	f.conn.Model(&models.Order{}).Where("status = ?", enums.OrderStatusCanceled).Count(&canceled)
	if canceled != 1 {
		t.Fatalf("expected the orphan order to be canceled, got %d", canceled)
	}
}
