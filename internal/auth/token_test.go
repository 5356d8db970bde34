package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	manager, err := NewTokenManager("test-secret")
	require.NoError(t, err)

	token, err := manager.Issue(Identity{UserID: "u1", CompanyID: "acme"}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	identity, err := manager.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "acme", identity.CompanyID)
}

func TestIssue_NoExpiry(t *testing.T) {
	manager, err := NewTokenManager("test-secret")
	require.NoError(t, err)

	token, err := manager.Issue(Identity{UserID: "u1", CompanyID: "acme"}, 0)
	require.NoError(t, err)

	_, err = manager.Verify(token)
	assert.NoError(t, err)
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer, err := NewTokenManager("secret-a")
	require.NoError(t, err)
	verifier, err := NewTokenManager("secret-b")
	require.NoError(t, err)

	token, err := issuer.Issue(Identity{UserID: "u1", CompanyID: "acme"}, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_ExpiredToken(t *testing.T) {
	manager, err := NewTokenManager("test-secret")
	require.NoError(t, err)

	token, err := manager.Issue(Identity{UserID: "u1", CompanyID: "acme"}, -time.Hour)
	require.NoError(t, err)

	_, err = manager.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	manager, err := NewTokenManager("test-secret")
	require.NoError(t, err)

	_, err = manager.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenManager_EmptySecret(t *testing.T) {
	_, err := NewTokenManager("")
	assert.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		token   string
		wantErr bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"missing header", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, errMsg := extractBearerToken(tt.header)
			if tt.wantErr {
				assert.NotEmpty(t, errMsg)
				return
			}
			assert.Empty(t, errMsg)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestMiddleware_AttachesIdentity(t *testing.T) {
	manager, err := NewTokenManager("test-secret")
	require.NoError(t, err)

	token, err := manager.Issue(Identity{UserID: "u1", CompanyID: "acme"}, time.Hour)
	require.NoError(t, err)

	var seen *Identity
	handler := Middleware(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.UserID)
	assert.Equal(t, "acme", seen.CompanyID)
}

func TestMiddleware_RejectsMissingAndBadTokens(t *testing.T) {
	manager, err := NewTokenManager("test-secret")
	require.NoError(t, err)

	called := false
	handler := Middleware(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	for _, header := range []string{"", "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
	assert.False(t, called)
}

func TestFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := FromContext(req.Context())
	assert.False(t, ok)
}
