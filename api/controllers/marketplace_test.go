package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/internal/checkout"
	"github.com/angelmondragon/lackmarkt-backend/internal/jobs"
	"github.com/angelmondragon/lackmarkt-backend/internal/offers"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pagination"
)

type stubJobs struct {
	input jobs.CreateJobInput
	calls int
}

func (s *stubJobs) CreateJob(_ context.Context, actor auth.Identity, input jobs.CreateJobInput) (*jobs.JobDTO, error) {
	s.calls++
	s.input = input
	return &jobs.JobDTO{ID: uuid.New(), BuyerID: actor.UserID, Kind: input.Kind, Title: input.Title}, nil
}

func (s *stubJobs) GetJob(_ context.Context, _ auth.Identity, jobID uuid.UUID) (*jobs.JobDTO, error) {
	s.calls++
	return &jobs.JobDTO{ID: jobID}, nil
}

type stubOffers struct {
	offers.Service
	submitted offers.SubmitOfferInput
	selected  [2]uuid.UUID
	params    pagination.Params
}

func (s *stubOffers) SubmitOffer(_ context.Context, _ auth.Identity, input offers.SubmitOfferInput) (*offers.OfferDTO, error) {
	s.submitted = input
	return &offers.OfferDTO{}, nil
}

func (s *stubOffers) ListOffers(_ context.Context, _ auth.Identity, _ uuid.UUID, params pagination.Params) (*offers.OfferList, error) {
	s.params = params
	return &offers.OfferList{}, nil
}

func (s *stubOffers) SelectOffer(_ context.Context, _ auth.Identity, jobID, offerID uuid.UUID) (*offers.SelectionResult, error) {
	s.selected = [2]uuid.UUID{jobID, offerID}
	return &offers.SelectionResult{}, nil
}

type stubCheckout struct {
	checkout.Service
	shop checkout.ShopCheckoutInput
}

func (s *stubCheckout) CreateShopCheckout(_ context.Context, _ auth.Identity, input checkout.ShopCheckoutInput) (*checkout.Session, error) {
	s.shop = input
	return &checkout.Session{PaymentIntentID: "pi_1"}, nil
}

func authedRequest(method, target, body string, params map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req = withActor(req, uuid.New())
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestCreateJobParsesDeliveryDate(t *testing.T) {
	svc := &stubJobs{}
	rec := httptest.NewRecorder()
	CreateJob(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/jobs", `{"title":"Respray bonnet","delivery_date":"2026-11-02"}`, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.input.Kind != enums.JobKindBidding {
		t.Fatalf("expected default kind bidding, got %s", svc.input.Kind)
	}
	if svc.input.DeliveryDate == nil || svc.input.DeliveryDate.Day() != 2 {
		t.Fatalf("unexpected delivery date %v", svc.input.DeliveryDate)
	}
}

func TestCreateJobRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing title": `{"kind":"bidding"}`,
		"bad kind":      `{"title":"x","kind":"auction"}`,
		"bad date":      `{"title":"x","delivery_date":"02.11.2026"}`,
		"unknown field": `{"title":"x","price":10}`,
	}
	for name, body := range cases {
		svc := &stubJobs{}
		rec := httptest.NewRecorder()
		CreateJob(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/jobs", body, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", name, rec.Code)
		}
		if svc.calls != 0 {
			t.Fatalf("%s: service should not run", name)
		}
	}
}

func TestSubmitOfferForwardsAmounts(t *testing.T) {
	svc := &stubOffers{}
	jobID := uuid.New()
	rec := httptest.NewRecorder()
	SubmitOffer(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/offers",
		`{"item_amount_cents":8500,"shipping_amount_cents":1500,"message":"two coats"}`,
		map[string]string{"jobId": jobID.String()}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.submitted.JobID != jobID || svc.submitted.ItemAmountCents != 8500 || svc.submitted.ShippingAmountCents != 1500 {
		t.Fatalf("unexpected input %+v", svc.submitted)
	}
}

func TestListOffersUsesPagination(t *testing.T) {
	svc := &stubOffers{}
	jobID := uuid.New()
	rec := httptest.NewRecorder()
	ListOffers(svc, nil)(rec, authedRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String()+"/offers?limit=10&cursor=abc", "",
		map[string]string{"jobId": jobID.String()}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.params.Limit != 10 || svc.params.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", svc.params)
	}
}

func TestSelectOfferParsesBothIDs(t *testing.T) {
	svc := &stubOffers{}
	jobID, offerID := uuid.New(), uuid.New()
	rec := httptest.NewRecorder()
	SelectOffer(svc, nil)(rec, authedRequest(http.MethodPost, "/select", "",
		map[string]string{"jobId": jobID.String(), "offerId": offerID.String()}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.selected != [2]uuid.UUID{jobID, offerID} {
		t.Fatalf("unexpected ids %v", svc.selected)
	}
}

func TestCreateShopCheckoutValidatesSeller(t *testing.T) {
	svc := &stubCheckout{}
	rec := httptest.NewRecorder()
	CreateShopCheckout(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/shop/checkout",
		`{"seller_id":"nope","seller_email":"s@example.com","article_ref":"A-1","title":"Clear coat","item_amount_cents":1000}`, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	sellerID := uuid.New()
	rec = httptest.NewRecorder()
	CreateShopCheckout(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/shop/checkout",
		`{"seller_id":"`+sellerID.String()+`","seller_email":"s@example.com","article_ref":" A-1 ","title":"Clear coat","item_amount_cents":1000,"shipping_amount_cents":490}`, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.shop.SellerID != sellerID || svc.shop.ArticleRef != "A-1" || svc.shop.ShippingAmountCents != 490 {
		t.Fatalf("unexpected input %+v", svc.shop)
	}
}
