package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/escaperoom/server/cache"
	"github.com/kasuganosora/escaperoom/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var authSec = config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	b, err := cache.Open(config.CacheConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b.KV
}

// signIn issues a token and opens its session, as the auth handler does.
func signIn(t *testing.T, c cache.Cache, userID string, role Role) string {
	t.Helper()
	token, err := GenerateToken(userID, role, authSec.JWTSecret, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), SessionKey(token), userID, time.Hour))
	return token
}

func TestAuth(t *testing.T) {
	c := setupTestCache(t)
	valid := signIn(t, c, "player-1", RolePlayer)

	signedOut := signIn(t, c, "player-2", RolePlayer)
	require.NoError(t, c.Del(context.Background(), SessionKey(signedOut)))

	noSession, err := GenerateToken("player-3", RolePlayer, authSec.JWTSecret, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken("player-4", RolePlayer, authSec.JWTSecret, -time.Minute)
	require.NoError(t, err)
	otherKey, err := GenerateToken("player-5", RolePlayer, "another-secret", time.Hour)
	require.NoError(t, err)

	for _, tc := range []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "no credentials", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Token " + valid, want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-jwt", want: http.StatusUnauthorized},
		{name: "never signed in", header: "Bearer " + noSession, want: http.StatusUnauthorized},
		{name: "signed out", header: "Bearer " + signedOut, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "foreign key", header: "Bearer " + otherKey, want: http.StatusUnauthorized},
		{name: "header", header: "Bearer " + valid, want: http.StatusOK},
		{name: "event source query", query: "?access_token=" + valid, want: http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser, gotToken string
			r := gin.New()
			r.GET("/stream", Auth(authSec, c), func(ctx *gin.Context) {
				gotUser, gotToken = GetUserID(ctx), GetToken(ctx)
				ctx.Status(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, "/stream"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.Equal(t, "player-1", gotUser)
				assert.Equal(t, valid, gotToken)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	c := setupTestCache(t)
	r := gin.New()
	r.Use(Auth(authSec, c), RequireRole(RoleAdmin))
	r.GET("/games", func(ctx *gin.Context) {
		assert.Equal(t, RoleAdmin, GetRole(ctx))
		ctx.Status(http.StatusOK)
	})

	for role, want := range map[Role]int{
		RoleAdmin:  http.StatusOK,
		RolePlayer: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/games", nil)
		req.Header.Set("Authorization", "Bearer "+signIn(t, c, "u-"+string(role), role))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, "role %s", role)
	}
}

func TestContextAccessorsWithoutAuth(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetUserID(c))
	assert.Empty(t, GetRole(c))
	assert.Empty(t, GetToken(c))
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := gin.New()
	r.Use(TraceID(), Recovery(zap.New(core)))
	r.GET("/panic", func(c *gin.Context) { panic("resolver blew up") })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, logs.Len())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "panic recovered", entry.Message)
	assert.NotEmpty(t, entry.ContextMap()["trace_id"])
}

func TestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(TraceID(), Logger(zap.New(core)))
	for path, status := range map[string]int{"/ok": 200, "/missing": 404, "/broken": 500} {
		status := status
		r.GET(path, func(c *gin.Context) { c.Status(status) })
	}

	for path, level := range map[string]zapcore.Level{
		"/ok":      zapcore.InfoLevel,
		"/missing": zapcore.WarnLevel,
		"/broken":  zapcore.ErrorLevel,
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		got := logs.FilterField(zap.String("path", path)).All()
		require.Len(t, got, 1, path)
		assert.Equal(t, level, got[0].Level, path)
		assert.Equal(t, path, got[0].ContextMap()["route"])
	}
}
