package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/skyprovider/pkg/errors"
)

// Response defines the base API payload.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	info, status := Describe(err)
	c.JSON(status, Response{
		Success: false,
		Error:   info,
	})
}

// Describe converts an error into its client facing representation and HTTP status.
// The handshake bridge uses it to build error replies without a gin context.
func Describe(err error) (*ErrorInfo, int) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	return &ErrorInfo{
		Code:    appErr.Code,
		Message: appErr.Message,
	}, status
}
