package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/pkg/crypto"
	"github.com/charlesng35/skyprovider/pkg/errors"
	"github.com/charlesng35/skyprovider/pkg/logger"
	"github.com/charlesng35/skyprovider/pkg/response"
)

const (
	// DeviceCookieName identifies the browser a provider session runs in. The stored
	// login secret is kept per device.
	DeviceCookieName = "skyprovider_device"
	// CtxDeviceKey holds the device identifier in the gin context.
	CtxDeviceKey = "device"

	deviceTokenLength  = 32
	deviceCookieMaxAge = 365 * 24 * 60 * 60
)

// Device makes sure every request carries a device identifier, issuing a cookie on
// first contact.
func Device() gin.HandlerFunc {
	return func(c *gin.Context) {
		device, issued, err := ensureDeviceCookie(c)
		if err != nil {
			logger.WithModule("http").Error("issue device cookie", zap.Error(err))
			response.Error(c, errors.ErrInternalServer)
			c.Abort()
			return
		}
		if issued {
			logger.WithModule("http").Debug("issued device cookie", zap.String("path", c.FullPath()))
		}

		c.Set(CtxDeviceKey, device)
		c.Next()
	}
}

// DeviceFrom returns the device identifier set by Device.
func DeviceFrom(c *gin.Context) string {
	device, _ := c.Get(CtxDeviceKey)
	value, _ := device.(string)
	return value
}

func ensureDeviceCookie(c *gin.Context) (device string, issued bool, err error) {
	if existing, err := c.Cookie(DeviceCookieName); err == nil && validDeviceToken(existing) {
		return existing, false, nil
	}

	device, err = crypto.GenerateToken(deviceTokenLength)
	if err != nil {
		return "", false, err
	}
	setDeviceCookie(c, device)
	return device, true, nil
}

func validDeviceToken(token string) bool {
	if len(token) < 16 || len(token) > 128 {
		return false
	}
	return strings.IndexFunc(token, func(r rune) bool {
		return !(r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	}) == -1
}

// The provider runs inside the host's frame, so the cookie has to survive third-party
// contexts when served over TLS.
func setDeviceCookie(c *gin.Context, device string) {
	secure := isSecureRequest(c.Request)
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    device,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		MaxAge:   deviceCookieMaxAge,
		SameSite: sameSite,
	})
}

func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	return strings.EqualFold(scheme, "https")
}
