package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authTestContext(t *testing.T, header string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		c.Request.Header.Set("Authorization", header)
	}
	return c, rec
}

func TestAuthMiddlewareSetsIdentity(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)
	userID := uuid.New()
	token, err := manager.GenerateToken(userID, "analyste@example.com", "analyst")
	require.NoError(t, err)

	c, rec := authTestContext(t, "Bearer "+token)
	AuthMiddleware(manager)(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, c.IsAborted())

	gotID, ok := GetUserIDFromContext(c)
	require.True(t, ok)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, "analyst", c.GetString(UserRoleKey))
}

func TestAuthMiddlewareRejectsBadRequests(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := authTestContext(t, tt.header)
			AuthMiddleware(manager)(c)

			assert.True(t, c.IsAborted())
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	expired := NewJWTManager("test-secret", -time.Minute)
	token, err := expired.GenerateToken(uuid.New(), "user@example.com", "analyst")
	require.NoError(t, err)

	c, rec := authTestContext(t, "Bearer "+token)
	AuthMiddleware(NewJWTManager("test-secret", time.Hour))(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token has expired")
}

func TestRoleMiddleware(t *testing.T) {
	c, rec := authTestContext(t, "")
	c.Set(UserRoleKey, "analyst")
	RoleMiddleware("admin", "analyst")(c)
	assert.False(t, c.IsAborted())
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = authTestContext(t, "")
	c.Set(UserRoleKey, "viewer")
	RoleMiddleware("admin", "analyst")(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// No role in context at all, for routes misconfigured without auth.
	c, rec = authTestContext(t, "")
	RoleMiddleware("admin")(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetUserIDFromContextMissing(t *testing.T) {
	c, _ := authTestContext(t, "")
	id, ok := GetUserIDFromContext(c)
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, id)
}
