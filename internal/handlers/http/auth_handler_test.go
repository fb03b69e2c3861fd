package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gridsync/internal/core/services"
	"gridsync/internal/infrastructure/middleware"
)

const testProvisioningKey = "prov-key-1"

func newAuthRouter(t *testing.T, provisioningKey string) (*gin.Engine, services.AuthService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := services.NewAuthService("test-secret", 15*time.Minute, 24*time.Hour)
	handler := NewAuthHandler(auth, provisioningKey, 15*time.Minute)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	handler.SetupRoutes(router)
	return router, auth
}

func issueToken(t *testing.T, router *gin.Engine, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(data))
	if key != "" {
		req.Header.Set(provisioningKeyHeader, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIssueToken(t *testing.T) {
	router, auth := newAuthRouter(t, testProvisioningKey)

	w := issueToken(t, router, testProvisioningKey, IssueTokenRequest{UserID: "user-1", Username: "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp["user_id"])
	assert.Equal(t, float64(900), resp["expires_in"])

	claims, err := auth.ValidateToken(resp["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "user-1", string(claims.UserID))
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)
}

func TestIssueToken_WrongKey(t *testing.T) {
	router, _ := newAuthRouter(t, testProvisioningKey)

	w := issueToken(t, router, "wrong-key", IssueTokenRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueToken_MintingDisabled(t *testing.T) {
	// No provisioning key configured rejects every caller, even with an
	// empty header.
	router, _ := newAuthRouter(t, "")

	w := issueToken(t, router, "", IssueTokenRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueToken_InvalidUserID(t *testing.T) {
	router, _ := newAuthRouter(t, testProvisioningKey)

	w := issueToken(t, router, testProvisioningKey, IssueTokenRequest{UserID: "bad id!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshToken(t *testing.T) {
	router, auth := newAuthRouter(t, testProvisioningKey)

	refresh, err := auth.GenerateRefreshToken("user-1")
	require.NoError(t, err)

	data, _ := json.Marshal(RefreshTokenRequest{RefreshToken: refresh})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewReader(data))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	claims, err := auth.ValidateToken(resp["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "user-1", string(claims.UserID))
}

func TestRefreshToken_Invalid(t *testing.T) {
	router, _ := newAuthRouter(t, testProvisioningKey)

	data, _ := json.Marshal(RefreshTokenRequest{RefreshToken: "not-a-token"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewReader(data))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
