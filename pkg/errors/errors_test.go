package kindred_errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusAndCode(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR"},
		{ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{ErrPermissionDenied, http.StatusForbidden, "PERMISSION_DENIED"},
		{fmt.Errorf("delete message: %w", ErrMutationWindow), http.StatusForbidden, "PERMISSION_DENIED"},
		{fmt.Errorf("get conversation: %w", ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{fmt.Errorf("query: %w", ErrNetworkFailure), http.StatusServiceUnavailable, "NETWORK_FAILURE"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, HTTPStatus(tc.err), tc.err.Error())
		assert.Equal(t, tc.code, Code(tc.err), tc.err.Error())
	}
}
