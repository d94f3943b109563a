package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(KindValidation, "INVALID_SCORE_COUNT", "score count out of range", http.StatusBadRequest)
	specific := sentinel.WithDetails("count", 9)

	wrapped := fmt.Errorf("submit: %w", specific)
	assert.True(t, stderrors.Is(wrapped, sentinel))
	assert.False(t, stderrors.Is(wrapped, Unauthorized("")))
	assert.Empty(t, sentinel.Details, "WithDetails must not mutate the sentinel")
	assert.Equal(t, 9, specific.Details["count"])
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Internal("store failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}

func TestHTTPStatusDefaults(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("plain")))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(RateLimitExceeded(10, "1s")))
	assert.True(t, IsKind(InvalidToken(nil), KindAuth))
	assert.Nil(t, GetServiceError(stderrors.New("plain")))
}
