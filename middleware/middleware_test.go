package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"cinecheck/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "middleware-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authRouter() *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthMiddleware(services.NewTokenVerifier(secret)), func(c *gin.Context) {
		id, _ := c.Get("user_id")
		c.String(http.StatusOK, id.(uuid.UUID).String())
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	userID := uuid.New()
	valid := signed(t, jwt.MapClaims{"sub": userID.String(), "exp": time.Now().Add(time.Hour).Unix()})
	expired := signed(t, jwt.MapClaims{"sub": userID.String(), "exp": time.Now().Add(-time.Hour).Unix()})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"garbage", "Bearer not.a.token", http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
	}

	r := authRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.Equal(t, userID.String(), w.Body.String())
			}
		})
	}
}

func limitedRouter(limiter *services.RateLimiter, class RateClass, trusted ...string) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(trusted); err != nil {
		panic(err)
	}
	r.GET("/x", RateLimit(limiter, class), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r *gin.Engine, ip string, forwardedFor ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = ip + ":5555"
	for _, f := range forwardedFor {
		req.Header.Add("X-Forwarded-For", f)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	class := RateClass{Name: "test", Limit: 3}
	r := limitedRouter(services.NewRateLimiter(rdb, time.Minute), class)

	for i := 0; i < class.Limit; i++ {
		w := hit(r, "10.0.0.1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(class.Limit-i-1), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := hit(r, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 0)

	// Budgets are per client.
	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.2").Code)
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := limitedRouter(services.NewRateLimiter(rdb, time.Minute), RateClass{Name: "test", Limit: 1})

	require.Equal(t, http.StatusOK, hit(r, "10.0.0.1", "203.0.113.1").Code)
	for i := 2; i <= 5; i++ {
		w := hit(r, "10.0.0.1", "203.0.113."+strconv.Itoa(i))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	}
}

func TestRateLimitHonorsTrustedProxy(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := limitedRouter(services.NewRateLimiter(rdb, time.Minute), RateClass{Name: "test", Limit: 1}, "10.0.0.1")

	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1", "203.0.113.1").Code)
	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1", "203.0.113.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.0.0.1", "203.0.113.2").Code)
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	r := limitedRouter(services.NewRateLimiter(rdb, time.Minute), RateClass{Name: "test", Limit: 1})
	for i := 0; i < 3; i++ {
		w := hit(r, "10.0.0.1")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.cinecheck.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.cinecheck.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.cinecheck.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Ratelimit-Remaining")

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
