package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Integration-style test: runs only if REDIS_ADDR env is set.
func TestRedisRateLimitIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}
	pass := os.Getenv("REDIS_PASSWORD")
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			db = n
		}
	}

	rdb := NewRedisClient(addr, pass, db)
	if rdb == nil {
		t.Skip("redis not reachable")
	}
	defer rdb.Close()

	// small window for test
	w := 2 * time.Second
	max := 2
	// random client address so counters left by earlier runs do not interfere
	id := uuid.New()
	remote := "10." + strconv.Itoa(int(id[0])) + "." + strconv.Itoa(int(id[1])) + "." + strconv.Itoa(int(id[2])) + ":4321"

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/test", NewRateLimiter(max, w, rdb).Middleware(), func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = remote
		return req
	}

	// do max allowed requests
	for i := 0; i < max; i++ {
		res := httptest.NewRecorder()
		r.ServeHTTP(res, newReq())
		if res.Code != 200 {
			t.Fatalf("expected 200 got %d", res.Code)
		}
	}

	// next request should be blocked
	res := httptest.NewRecorder()
	r.ServeHTTP(res, newReq())
	if res.Code != 429 {
		t.Fatalf("expected 429 got %d", res.Code)
	}
}
