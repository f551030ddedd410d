package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errOutOfStock = New(CodeConflict, ReasonOutOfStock, "no copies available")

func TestIs_MatchesByCodeAndReason(t *testing.T) {
	wrapped := fmt.Errorf("checkout: %w", errOutOfStock.WithMessage("book 978... has no stock"))

	assert.ErrorIs(t, wrapped, errOutOfStock)
	assert.NotErrorIs(t, wrapped, New(CodeConflict, ReasonAlreadyBorrowed, ""))
	assert.NotErrorIs(t, wrapped, ErrConflict("plain conflict"))
}

func TestToHTTPStatus(t *testing.T) {
	unavailable := New(CodeUnavailable, ReasonSchedulerStopped, "x")
	cases := map[error]int{
		ErrInvalid("x"):   http.StatusBadRequest,
		ErrNotFound("x"):  http.StatusNotFound,
		ErrForbidden("x"): http.StatusForbidden,
		ErrConflict("x"):  http.StatusConflict,
		ErrInternal("x"):  http.StatusInternalServerError,
		unavailable:       http.StatusServiceUnavailable,
		errors.New("raw"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(err), err.Error())
	}
}

func TestBody_HidesUnknownErrors(t *testing.T) {
	body := Body(errors.New("dial tcp 10.0.0.1:3306: connection refused"))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.Equal(t, "internal error", body.Error.Message)

	body = Body(fmt.Errorf("wrap: %w", errOutOfStock))
	assert.Equal(t, ReasonOutOfStock, body.Error.Reason)
}
