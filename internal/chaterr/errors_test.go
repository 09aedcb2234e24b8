package chaterr

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusOK, nil},
		{http.StatusCreated, nil},
		{http.StatusUnauthorized, ErrSessionInvalid},
		{http.StatusForbidden, ErrSessionInvalid},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusRequestEntityTooLarge, ErrAttachmentTooLarge},
		{http.StatusUnprocessableEntity, ErrAttachmentRejected},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrNetworkUnavailable},
		{http.StatusBadGateway, ErrNetworkUnavailable},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FromStatus(tc.code), "status %d", tc.code)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrNetworkUnavailable))
	assert.True(t, Retryable(ErrRateLimited))
	assert.False(t, Retryable(ErrSessionInvalid))
	assert.False(t, Retryable(ErrNotFound))
	assert.False(t, Retryable(nil))
}

func TestFromTransportKeepsCancellation(t *testing.T) {
	assert.ErrorIs(t, FromTransport(context.Canceled), context.Canceled)
	assert.ErrorIs(t, FromTransport(context.DeadlineExceeded), ErrNetworkUnavailable)
}
