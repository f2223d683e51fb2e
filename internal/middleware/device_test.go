package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestDeviceCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Device())
	r.GET("/device", func(c *gin.Context) {
		c.String(http.StatusOK, DeviceFrom(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/device", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, DeviceCookieName, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.Equal(t, cookies[0].Value, w.Body.String())

	again := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/device", nil)
	req.AddCookie(cookies[0])
	r.ServeHTTP(again, req)
	require.Equal(t, cookies[0].Value, again.Body.String())
	require.Empty(t, again.Result().Cookies())

	forged := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/device", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: "bad value!"})
	r.ServeHTTP(forged, req)
	require.NotEqual(t, "bad value!", forged.Body.String())
	require.Len(t, forged.Result().Cookies(), 1)
}
