package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
)

type offerBody struct {
	Title       string  `json:"title" validate:"required,notblank,max=10"`
	AmountCents int64   `json:"amount_cents" validate:"gte=0"`
	Note        *string `json:"note,omitempty" validate:"omitempty,max=5"`
}

func jsonRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func fieldDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok, "expected field details, got %#v", typed.Details())
	return details
}

func TestDecodeJSONBodyAccepts(t *testing.T) {
	var got offerBody
	require.NoError(t, DecodeJSONBody(jsonRequest(`{"title":"Door","amount_cents":1200}`), &got))
	require.Equal(t, offerBody{Title: "Door", AmountCents: 1200}, got)
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	var got offerBody
	err := DecodeJSONBody(jsonRequest(`{"title":"   ","amount_cents":-1,"note":"too long"}`), &got)
	require.Equal(t, map[string]string{
		"title":        "is required",
		"amount_cents": "must be at least 0",
		"note":         "must be at most 5",
	}, fieldDetails(t, err))
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	for name, body := range map[string]string{
		"unknown field": `{"title":"Door","colour":"red"}`,
		"trailing data": `{"title":"Door"} {"title":"Window"}`,
		"not json":      `title=Door`,
		"empty":         ``,
		"too large":     `{"title":"` + strings.Repeat("x", MaxBodyBytes) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			var got offerBody
			err := DecodeJSONBody(jsonRequest(body), &got)
			require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
		})
	}
}

func TestDecodeOptionalJSONBodyTreatsEmptyAsObject(t *testing.T) {
	type reasonBody struct {
		Reason string `json:"reason" validate:"max=3"`
	}
	var got reasonBody
	require.NoError(t, DecodeOptionalJSONBody(jsonRequest("  \n"), &got))
	require.Empty(t, got.Reason)

	err := DecodeOptionalJSONBody(jsonRequest(`{"reason":"late delivery"}`), &got)
	require.Equal(t, "must be at most 3", fieldDetails(t, err)["reason"])
}
