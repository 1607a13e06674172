package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newRouter(roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/p", AuthMiddleware(AuthConfig{JWTSecret: secret}), RequireRoles(roles...), func(c *gin.Context) {
		claims, _ := CurrentClaims(c)
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject})
	})
	return r
}

func do(r http.Handler, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter("proctor")

	proctor, err := IssueToken(secret, "u1", "proctor", time.Hour)
	require.NoError(t, err)
	admin, err := IssueToken(secret, "u2", "admin", time.Hour)
	require.NoError(t, err)
	student, err := IssueToken(secret, "u3", "student", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "u1", "proctor", -time.Minute)
	require.NoError(t, err)
	forged, err := IssueToken("other", "u1", "proctor", time.Hour)
	require.NoError(t, err)

	w := do(r, "/p", "Bearer "+proctor)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sub":"u1"`)

	assert.Equal(t, http.StatusOK, do(r, "/p", "Bearer "+admin).Code)
	assert.Equal(t, http.StatusOK, do(r, "/p?access_token="+proctor, "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/p", "Bearer "+student).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/p", "Bearer "+expired).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/p", "Bearer "+forged).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/p", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/p", "").Code)
}

func TestRequireRoles_WithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/p", RequireRoles("proctor"), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusUnauthorized, do(r, "/p", "").Code)
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	r := gin.New()
	r.Use(RequestLogger(log))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	do(r, "/ok", "")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.Equal(t, "/ok", hook.LastEntry().Data["path"])

	do(r, "/fail", "")
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, http.StatusServiceUnavailable, hook.LastEntry().Data["status"])
}
