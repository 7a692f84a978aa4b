package core_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aurora-ai/amica/pkg/core"
)

func TestError_Format(t *testing.T) {
	err := core.WrapError("Turn", core.ErrRateLimited)
	assert.Equal(t, "amica: Turn: rate limited", err.Error())
}

func TestWrapError_NilPassthrough(t *testing.T) {
	assert.NoError(t, core.WrapError("Turn", nil))
}

func TestWrapError_Unwraps(t *testing.T) {
	wrapped := core.WrapError("outer", fmt.Errorf("context: %w", core.ErrNotFound))
	assert.True(t, errors.Is(wrapped, core.ErrNotFound))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{core.ErrUnauthorized, http.StatusUnauthorized},
		{core.ErrRateLimited, http.StatusTooManyRequests},
		{core.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{core.ErrValidation, http.StatusBadRequest},
		{core.ErrNotFound, http.StatusNotFound},
		{errors.New("anything else"), http.StatusInternalServerError},
		{core.WrapError("op", core.ErrRateLimited), http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, core.HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, core.UserMessage(core.ErrRateLimited), "too many messages")
	assert.Contains(t, core.UserMessage(core.WrapError("op", core.ErrUpstreamUnavailable)), "try again")
	assert.Contains(t, core.UserMessage(errors.New("db exploded")), "Something went wrong")

	// Internal detail never leaks into the user-facing text.
	assert.NotContains(t, core.UserMessage(errors.New("db exploded")), "db")
}
