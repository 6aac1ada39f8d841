package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/lackmarkt-backend/api/responses"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255

	// Money-moving calls keep their key for a week; everything else a day.
	standardKeyTTL = 24 * time.Hour
	paymentKeyTTL  = 7 * 24 * time.Hour
	// inFlightTTL bounds how long a crashed request blocks its key.
	inFlightTTL = 2 * time.Minute
)

// IdempotencyStore is the Redis surface the middleware needs.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// idempotentRoutes lists the mutating endpoints that require an
// Idempotency-Key, as chi templates. All are POST.
var idempotentRoutes = []struct {
	template string
	ttl      time.Duration
}{
	{"/api/v1/jobs", standardKeyTTL},
	{"/api/v1/jobs/{jobId}/offers", standardKeyTTL},
	{"/api/v1/jobs/{jobId}/offers/{offerId}/select", standardKeyTTL},
	{"/api/v1/jobs/{jobId}/offers/{offerId}/unselect", standardKeyTTL},
	{"/api/v1/orders/{orderId}/report", standardKeyTTL},
	{"/api/v1/orders/{orderId}/confirm", standardKeyTTL},
	{"/api/v1/orders/{orderId}/dispute", standardKeyTTL},
	{"/api/v1/notifications/{notificationId}/read", standardKeyTTL},
	{"/api/v1/notifications/read-all", standardKeyTTL},
	{"/api/v1/jobs/{jobId}/checkout", paymentKeyTTL},
	{"/api/v1/shop/checkout", paymentKeyTTL},
	{"/api/v1/orders/{orderId}/release", paymentKeyTTL},
	{"/api/v1/orders/{orderId}/refund", paymentKeyTTL},
}

// storedResponse is what lives under an idempotency key. A record without
// Status is a reservation held by a request still running.
type storedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

func (s storedResponse) done() bool { return s.Status != 0 }

// Idempotency makes the listed routes safe to retry. The first request with a
// key reserves it, runs, and stores its response. Later requests with the same
// key and body get that response replayed. A different body is rejected. While
// the first request is still running, a retry gets 409 with Retry-After.
// 5xx responses release the key so the client can retry.
func Idempotency(store IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			id := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case id == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(id) > maxIdempotencyKey:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(strings.Join([]string{UserIDFromContext(ctx), r.Method, r.URL.Path}, "|"), id)
			fingerprint := fingerprintBody(body)

			prior, reserved, err := reserve(ctx, store, key, fingerprint)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable"))
				return
			}
			if !reserved {
				replayOrReject(ctx, logg, w, prior, fingerprint)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			finish(ctx, store, logg, key, ttl, fingerprint, capture)
		})
	}
}

// reserve claims key for this request. When the key is already taken it
// returns the stored record instead.
func reserve(ctx context.Context, store IdempotencyStore, key, fingerprint string) (*storedResponse, bool, error) {
	pending, err := json.Marshal(storedResponse{Fingerprint: fingerprint})
	if err != nil {
		return nil, false, err
	}
	// The second pass covers a key that expired between SetNX and Get.
	for range 2 {
		ok, err := store.SetNX(ctx, key, string(pending), inFlightTTL)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return nil, true, nil
		}
		raw, err := store.Get(ctx, key)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		var prior storedResponse
		if err := json.Unmarshal([]byte(raw), &prior); err != nil {
			return nil, false, err
		}
		return &prior, false, nil
	}
	return nil, false, errors.New("idempotency key churned during reservation")
}

func replayOrReject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, prior *storedResponse, fingerprint string) {
	switch {
	case prior.Fingerprint != fingerprint:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case !prior.done():
		w.Header().Set("Retry-After", strconv.Itoa(int(inFlightTTL.Seconds())))
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this idempotency key is still in progress"))
	default:
		body, err := base64.StdEncoding.DecodeString(prior.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stored response unreadable"))
			return
		}
		if prior.ContentType != "" {
			w.Header().Set("Content-Type", prior.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(prior.Status)
		_, _ = w.Write(body)
	}
}

// finish stores the captured response, or drops the reservation after a
// server failure so a retry runs the handler again.
func finish(ctx context.Context, store IdempotencyStore, logg *logger.Logger, key string, ttl time.Duration, fingerprint string, capture *responseCapture) {
	// The client's own cancellation must not strand the reservation.
	ctx = context.WithoutCancel(ctx)
	status := capture.statusCode()

	if status >= http.StatusInternalServerError {
		if err := store.Del(ctx, key); err != nil && logg != nil {
			logg.Error(ctx, "release idempotency reservation", err)
		}
		return
	}

	record, err := json.Marshal(storedResponse{
		Fingerprint: fingerprint,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
	})
	if err == nil {
		err = store.Set(ctx, key, string(record), ttl)
	}
	if err != nil && logg != nil {
		logg.Error(ctx, "store idempotent response", err)
	}
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// routeTTL matches the concrete request path segment by segment, since group
// middleware runs before chi has resolved the final route pattern.
func routeTTL(method, path string) (time.Duration, bool) {
	if method != http.MethodPost || path == "" {
		return 0, false
	}
	for _, route := range idempotentRoutes {
		if matchesTemplate(route.template, path) {
			return route.ttl, true
		}
	}
	return 0, false
}

func matchesTemplate(template, path string) bool {
	want := strings.Split(strings.Trim(template, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, segment := range want {
		isParam := strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
		if (isParam && got[i] == "") || (!isParam && got[i] != segment) {
			return false
		}
	}
	return true
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
