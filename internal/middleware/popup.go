package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/pkg/response"
)

const (
	CtxPopupTokenKey      = "popupToken"
	CtxPopupControllerKey = "popupController"
)

// PopupToken resolves the :token path parameter to the controller serving that popup.
// Requests with an invalid or expired token are rejected.
func PopupToken(controllers *popup.Controllers) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Param("token"))
		if token == "" {
			response.Error(c, popup.ErrInvalidToken)
			c.Abort()
			return
		}

		controller, err := controllers.For(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(CtxPopupTokenKey, token)
		c.Set(CtxPopupControllerKey, controller)
		c.Next()
	}
}

// PopupFrom returns the token and controller set by PopupToken.
func PopupFrom(c *gin.Context) (string, *popup.Controller, bool) {
	token := c.GetString(CtxPopupTokenKey)
	value, ok := c.Get(CtxPopupControllerKey)
	if !ok || token == "" {
		return "", nil, false
	}
	controller, ok := value.(*popup.Controller)
	return token, controller, ok
}
