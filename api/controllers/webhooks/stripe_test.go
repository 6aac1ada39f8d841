package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/angelmondragon/lackmarkt-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
)

const testSecret = "whsec_test"

type recordingService struct {
	events []string
	err    error
}

func (f *recordingService) HandleEvent(_ context.Context, event *stripe.Event) error {
	f.events = append(f.events, event.ID)
	return f.err
}

type staticSecret string

func (s staticSecret) SigningSecret() string { return string(s) }

type memoryStore struct {
	mu     sync.Mutex
	keys   map[string]bool
	setErr error
}

func (s *memoryStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return false, s.setErr
	}
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *memoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

func (s *memoryStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func newHandler(t *testing.T, svc StripeWebhookService, store *memoryStore) http.HandlerFunc {
	t.Helper()
	if store == nil {
		store = &memoryStore{keys: map[string]bool{}}
	}
	guard, err := stripewebhook.NewEventGuard(store, time.Minute)
	require.NoError(t, err)
	return StripeWebhook(svc, staticSecret(testSecret), guard, nil)
}

func deliver(h http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

// signedEvent builds a payment_intent.succeeded event signed the way Stripe
// signs deliveries.
func signedEvent(t *testing.T) (payload []byte, signature string) {
	t.Helper()
	intent, err := json.Marshal(&stripe.PaymentIntent{
		ID:       "pi_" + uuid.NewString(),
		Amount:   10700,
		Currency: stripe.CurrencyEUR,
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{"job_id": uuid.NewString(), "offer_id": uuid.NewString()},
	})
	require.NoError(t, err)
	payload, err = json.Marshal(&stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: intent},
	})
	require.NoError(t, err)
	return payload, sign(payload, testSecret, time.Now().Unix())
}

func sign(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeWebhookProcessesEachEventOnce(t *testing.T) {
	svc := &recordingService{}
	h := newHandler(t, svc, nil)
	payload, sig := signedEvent(t)

	require.Equal(t, http.StatusOK, deliver(h, payload, sig).Code)
	require.Equal(t, http.StatusOK, deliver(h, payload, sig).Code, "redelivery is acknowledged")
	require.Len(t, svc.events, 1)
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	payload, _ := signedEvent(t)
	for name, sig := range map[string]string{
		"missing":   "",
		"garbage":   "t=1,v1=invalid",
		"wrong key": sign(payload, "whsec_other", time.Now().Unix()),
		"too old":   sign(payload, testSecret, time.Now().Add(-time.Hour).Unix()),
	} {
		t.Run(name, func(t *testing.T) {
			svc := &recordingService{}
			rec := deliver(newHandler(t, svc, nil), payload, sig)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, string(pkgerrors.CodeInvalidSignature), errorCode(t, rec))
			require.Empty(t, svc.events)
		})
	}
}

func TestStripeWebhookRejectsOversizedPayload(t *testing.T) {
	svc := &recordingService{}
	payload := bytes.Repeat([]byte("x"), maxStripePayloadBytes+1)
	rec := deliver(newHandler(t, svc, nil), payload, sign(payload, testSecret, time.Now().Unix()))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, string(pkgerrors.CodeTooLarge), errorCode(t, rec))
	require.Empty(t, svc.events)
}

func TestStripeWebhookFailureLetsStripeRetry(t *testing.T) {
	svc := &recordingService{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	h := newHandler(t, svc, nil)
	payload, sig := signedEvent(t)

	rec := deliver(h, payload, sig)
	require.GreaterOrEqual(t, rec.Code, http.StatusInternalServerError)

	svc.err = nil
	require.Equal(t, http.StatusOK, deliver(h, payload, sig).Code)
	require.Len(t, svc.events, 2)
}

func TestStripeWebhookClaimFailureIsDependencyError(t *testing.T) {
	svc := &recordingService{}
	h := newHandler(t, svc, &memoryStore{keys: map[string]bool{}, setErr: errors.New("redis down")})
	payload, sig := signedEvent(t)

	rec := deliver(h, payload, sig)
	require.Equal(t, pkgerrors.MetadataFor(pkgerrors.CodeDependency).HTTPStatus, rec.Code)
	require.Equal(t, string(pkgerrors.CodeDependency), errorCode(t, rec))
	require.Empty(t, svc.events)
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	payload, sig := signedEvent(t)
	rec := deliver(StripeWebhook(nil, staticSecret(testSecret), nil, nil), payload, sig)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
