package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/pkg/errors"
	"github.com/charlesng35/skyprovider/pkg/logger"
	"github.com/charlesng35/skyprovider/pkg/response"
)

// Recovery converts panics into a 500 response and logs the error.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("http").Error("panic",
					zap.String("route", c.FullPath()),
					zap.Any("error", r),
					zap.Stack("stack"),
				)
				response.Error(c, errors.ErrInternalServer)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithMessage("Route "+c.Request.URL.Path+" not found"))
}
