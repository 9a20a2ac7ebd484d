package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-middleware"

func init() {
	gin.SetMode(gin.TestMode)
}

func generateTestToken(claims jwt.MapClaims, secret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(secret))
	return tokenString
}

func setupTestRouter(config *JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(JWTMiddleware(config))
	router.GET("/protected", func(c *gin.Context) {
		userID, _ := GetUserID(c)
		email, _ := GetEmail(c)
		role, _ := GetRole(c)
		tenantID, _ := GetTenantID(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":   userID,
			"email":     email,
			"role":      role,
			"tenant_id": tenantID,
		})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestJWTMiddleware(t *testing.T) {
	config := &JWTConfig{
		Secret:    testSecret,
		Issuer:    "taskflow",
		SkipPaths: []string{"/health"},
	}

	valid := jwt.MapClaims{
		"user_id":   "user-123",
		"email":     "test@example.com",
		"role":      "member",
		"tenant_id": "tenant-456",
		"iss":       "taskflow",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}

	with := func(overrides jwt.MapClaims, drop ...string) jwt.MapClaims {
		out := jwt.MapClaims{}
		for k, v := range valid {
			out[k] = v
		}
		for k, v := range overrides {
			out[k] = v
		}
		for _, k := range drop {
			delete(out, k)
		}
		return out
	}

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{name: "valid token", path: "/protected", header: "Bearer " + generateTestToken(valid, testSecret), wantStatus: http.StatusOK},
		{name: "missing authorization header", path: "/protected", header: "", wantStatus: http.StatusUnauthorized},
		{name: "invalid header format", path: "/protected", header: "InvalidFormat", wantStatus: http.StatusUnauthorized},
		{name: "empty token after Bearer", path: "/protected", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{
			name:       "expired token",
			path:       "/protected",
			header:     "Bearer " + generateTestToken(with(jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}), testSecret),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			path:       "/protected",
			header:     "Bearer " + generateTestToken(valid, "wrong-secret"),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong issuer",
			path:       "/protected",
			header:     "Bearer " + generateTestToken(with(jwt.MapClaims{"iss": "someone-else"}), testSecret),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing user_id",
			path:       "/protected",
			header:     "Bearer " + generateTestToken(with(nil, "user_id"), testSecret),
			wantStatus: http.StatusUnauthorized,
		},
		{name: "malformed token", path: "/protected", header: "Bearer not-a-valid-jwt-token", wantStatus: http.StatusUnauthorized},
		{name: "skip path", path: "/health", header: "", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(config)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestJWTMiddleware_ClaimsExtracted(t *testing.T) {
	router := setupTestRouter(&JWTConfig{Secret: testSecret})
	token := generateTestToken(jwt.MapClaims{
		"user_id":   "user-789",
		"email":     "claims@example.com",
		"role":      "admin",
		"tenant_id": "tenant-abc",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user-789", body["user_id"])
	assert.Equal(t, "claims@example.com", body["email"])
	assert.Equal(t, "ADMIN", body["role"], "roles are normalised to upper case")
	assert.Equal(t, "tenant-abc", body["tenant_id"])
}

func TestParseToken_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(signed, &JWTConfig{Secret: testSecret})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHelperFunctions(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := GetUserID(c)
	assert.False(t, ok)

	c.Set(ContextKeyUserID, "test-user-id")
	c.Set(ContextKeyEmail, "test@example.com")
	c.Set(ContextKeyRole, "MANAGER")
	c.Set(ContextKeyTenantID, "tenant-123")

	id, ok := GetUserID(c)
	assert.True(t, ok)
	assert.Equal(t, "test-user-id", id)

	email, _ := GetEmail(c)
	assert.Equal(t, "test@example.com", email)

	role, _ := GetRole(c)
	assert.Equal(t, "MANAGER", role)

	tenantID, _ := GetTenantID(c)
	assert.Equal(t, "tenant-123", tenantID)

	c.Set(ContextKeyUserID, 42)
	_, ok = GetUserID(c)
	assert.False(t, ok, "non-string values are rejected")
}
