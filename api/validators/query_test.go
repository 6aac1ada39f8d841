package validators

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
)

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/offers?limit=%2030%20&page=x&big=500", nil)

	n, err := ParseQueryInt(r, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 30, n)

	n, err = ParseQueryInt(r, "missing", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 25, n)

	_, err = ParseQueryInt(r, "page", 25, 1, 100)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = ParseQueryInt(r, "big", 25, 1, 100)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	require.Equal(t, 100, pkgerrors.As(err).Details().(map[string]any)["max"])
}

func TestParseQueryBool(t *testing.T) {
	r := httptest.NewRequest("GET", "/notifications?unreadOnly=1&bad=maybe", nil)

	b, err := ParseQueryBool(r, "unreadOnly")
	require.NoError(t, err)
	require.True(t, b)

	b, err = ParseQueryBool(r, "absent")
	require.NoError(t, err)
	require.False(t, b)

	_, err = ParseQueryBool(r, "bad")
	require.Error(t, err)
}

func TestCleanTextCutsOnRunes(t *testing.T) {
	require.Equal(t, "Felgen für", CleanText("  Felgen für Räder ", 10))
	require.Equal(t, "ab", CleanText("a\x00b\x07", 0))
	require.Equal(t, "line1\nline2", CleanText("line1\nline2", 0))
	require.Equal(t, "ü", CleanText("üü", 1))
}
