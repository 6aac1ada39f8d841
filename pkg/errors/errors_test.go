package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMetadataTable(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
		conflict  bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected", conflict: true},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true, conflict: true},
		{code: CodeIdempotency, status: http.StatusConflict, publicMsg: "idempotency key reused", detailsOK: true},
		{code: CodeTooLarge, status: http.StatusRequestEntityTooLarge, publicMsg: "request body too large"},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeAlreadyPaid, status: http.StatusConflict, publicMsg: "state transition disallowed", detailsOK: true, conflict: true},
		{code: CodeSettlementInProgress, status: http.StatusConflict, publicMsg: "state transition disallowed", detailsOK: true, conflict: true},
		{code: CodeInvalidAmount, status: http.StatusUnprocessableEntity, publicMsg: "amount outside allowed range", detailsOK: true},
		{code: CodeSelfOfferForbidden, status: http.StatusForbidden, publicMsg: "suppliers cannot offer on their own requests"},
		{code: "SOMETHING_UNKNOWN", status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			meta := MetadataFor(tt.code)
			require.Equal(t, tt.status, meta.HTTPStatus)
			require.Equal(t, tt.publicMsg, meta.PublicMessage)
			require.Equal(t, tt.retryable, meta.Retryable)
			require.Equal(t, tt.detailsOK, meta.DetailsAllowed)
			require.Equal(t, tt.conflict, IsConflict(tt.code))
		})
	}
}

func TestErrorAccessors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	require.Equal(t, CodeValidation, base.Code())
	require.Equal(t, "VALIDATION_ERROR: missing foo", base.Error())
	require.Nil(t, base.Details())
	require.Equal(t, map[string]any{"field": "foo"}, base.WithDetails(map[string]any{"field": "foo"}).Details())

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	require.ErrorIs(t, wrapped, cause)
	require.Nil(t, Wrap(CodeConflict, nil, "no cause").Unwrap())

	var nilErr *Error
	require.Equal(t, CodeInternal, nilErr.Code())
	require.Empty(t, nilErr.Message())
}

func TestAsAndHasCodeFollowWrapping(t *testing.T) {
	inner := New(CodeInDispute, "order disputed")
	outer := fmt.Errorf("confirm: %w", inner)

	require.Same(t, inner, As(outer))
	require.Nil(t, As(nil))
	require.Nil(t, As(stdErrors.New("plain")))
	require.Equal(t, CodeInternal, As(stdErrors.New("plain")).Code())

	require.True(t, HasCode(outer, CodeInDispute))
	require.False(t, HasCode(outer, CodeNotFound))
}

func TestLogFieldsExtractsPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_invoices_order_id", TableName: "invoices"}
	err := Wrap(CodeInternal, fmt.Errorf("insert invoice: %w", pgErr), "ensure invoice").
		WithDetails(map[string]any{"step": "insert"})

	fields := LogFields(err)
	require.Equal(t, "23505", fields["pg_code"])
	require.Equal(t, "ux_invoices_order_id", fields["pg_constraint"])
	require.Equal(t, string(CodeInternal), fields["error_code"])
	require.Equal(t, "insert", fields["step"])
	require.NotContains(t, fields, "pg_column", "empty diagnostics are omitted")

	chain, ok := fields["error_chain"].([]string)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(chain), 2)
}

func TestLogFieldsKeepsWrappedCauseText(t *testing.T) {
	err := Wrap(CodeDependency, fmt.Errorf("create transfer: %w", fmt.Errorf("connection reset")), "payment gateway unavailable")

	fields := LogFields(err)
	require.Equal(t, "connection reset", fields["cause"])
	require.NotContains(t, fields["error"], "connection reset")

	chain, ok := fields["error_chain"].([]string)
	require.True(t, ok)
	require.Len(t, chain, 3)
	require.Contains(t, chain[1], "create transfer: connection reset")
	require.Equal(t, "*errors.errorString: connection reset", chain[2])
}

func TestLogFieldsPlainError(t *testing.T) {
	require.Equal(t, map[string]any{"error": "boom"}, LogFields(fmt.Errorf("boom")))
}
