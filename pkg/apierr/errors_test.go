package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatusMapping(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindAuth, http.StatusUnauthorized},
		{KindRiskRejected, http.StatusUnprocessableEntity},
		{KindBreakerOpen, http.StatusServiceUnavailable},
		{KindRateLimited, http.StatusTooManyRequests},
	}
	for _, c := range cases {
		err := New(c.kind, "CODE", "message")
		assert.Equal(t, c.status, err.Status())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindInternal, "DB_ERROR", "query failed", cause)
	require.Error(t, err)
	assert.Same(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestWithDetails(t *testing.T) {
	err := New(KindValidation, "BAD_FIELD", "invalid symbol").WithDetails(map[string]any{"field": "symbol"})
	assert.Equal(t, "symbol", err.Details["field"])
}

func TestUnknownKindDefaultsInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(Kind("BOGUS")))
}
