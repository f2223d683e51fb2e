package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/skyprovider/internal/cache"
	"github.com/charlesng35/skyprovider/internal/database/testutil"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	stores := map[string]RateStore{
		"memory":   NewRateStore(cache.NewMemoryStore()),
		"database": NewRateStore(cache.NewDatabaseStore(db)),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			r := gin.New()
			r.Use(RateLimit(store, 2, time.Minute))
			r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

			for i := 0; i < 2; i++ {
				w := httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
				require.Equal(t, http.StatusOK, w.Code)
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
			require.Equal(t, http.StatusTooManyRequests, w.Code)
			require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		})
	}
}

func TestRateLimitDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(nil, 1, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}
