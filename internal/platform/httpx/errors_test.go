package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

func TestRespondErrorCollapsesCauses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{shared.ErrInvalidCredentials, http.StatusUnauthorized, MessageInvalidCredentials},
		{shared.ErrAccountSuspended, http.StatusUnauthorized, MessageInvalidCredentials},
		{shared.ErrTokenRevoked, http.StatusUnauthorized, MessageInvalidToken},
		{shared.ErrMalformedToken, http.StatusUnauthorized, MessageInvalidToken},
		{fmt.Errorf("tokens: rotate: %w", shared.ErrTokenExpired), http.StatusUnauthorized, MessageInvalidToken},
		{shared.ErrAccountLocked, http.StatusTooManyRequests, MessageTooManyAttempts},
		{shared.ErrCrossTenant, http.StatusNotFound, ""},
		{shared.ErrPermissionDenied, http.StatusForbidden, ""},
		{fmt.Errorf("redis: timeout"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.detail, body.Detail)
	}
}

func TestCrossTenantLooksLikeNotFound(t *testing.T) {
	a := httptest.NewRecorder()
	b := httptest.NewRecorder()
	RespondError(a, shared.ErrCrossTenant)
	RespondError(b, shared.ErrNotFound)
	assert.Equal(t, b.Code, a.Code)
	assert.Equal(t, b.Body.String(), a.Body.String())
}
