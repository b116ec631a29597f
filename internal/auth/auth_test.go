package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	key    = "test-signing-key"
	issuer = "certverify"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("0xabc", RoleUniversity, issuer, key, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, key, issuer)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", claims.Subject)
	assert.Equal(t, RoleUniversity, claims.Role)

	_, err = Parse(pair.AccessToken, "other-key", issuer)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, key, "someone-else")
	assert.Error(t, err)
}

func TestParseExpired(t *testing.T) {
	pair, err := Issue("0xabc", RoleSuper, issuer, key, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(pair.AccessToken, key, issuer)
	assert.Error(t, err)
}

func TestAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", AdminAuth(key, issuer, RoleUniversity, RoleSuper), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	token := func(role string) string {
		pair, err := Issue("0xabc", role, issuer, key, time.Minute, time.Hour)
		require.NoError(t, err)
		return pair.AccessToken
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"wrong role", "Bearer " + token("student"), http.StatusForbidden},
		{"university", "Bearer " + token(RoleUniversity), http.StatusOK},
		{"super", "bearer " + token(RoleSuper), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
