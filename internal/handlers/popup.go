package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/skyprovider/internal/middleware"
	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/pkg/errors"
	"github.com/charlesng35/skyprovider/pkg/response"
)

const maxPopupBody = 16 << 10

// PopupHandler serves the endpoints popup pages talk to. Routes are expected behind
// middleware.Device and middleware.PopupToken.
type PopupHandler struct{}

// NewPopupHandler constructs a PopupHandler.
func NewPopupHandler() *PopupHandler {
	return &PopupHandler{}
}

// Entry returns the kind and parameters of the popup.
func (h *PopupHandler) Entry(c *gin.Context) {
	token, controller, ok := middleware.PopupFrom(c)
	if !ok {
		response.Error(c, popup.ErrInvalidToken)
		return
	}

	entry, err := controller.Page(token, middleware.DeviceFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// Result accepts the terminal answer of the popup.
func (h *PopupHandler) Result(c *gin.Context) {
	token, controller, ok := middleware.PopupFrom(c)
	if !ok {
		response.Error(c, popup.ErrInvalidToken)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPopupBody+1))
	if err != nil {
		response.Error(c, errors.NewBadRequest("Unable to read popup answer"))
		return
	}
	if len(body) > maxPopupBody {
		response.Error(c, errors.NewBadRequest("Popup answer is too large"))
		return
	}

	accepted, err := controller.Submit(token, sender(c), body)
	respond(c, accepted, err)
}

// Heartbeat keeps the popup alive.
func (h *PopupHandler) Heartbeat(c *gin.Context) {
	token, controller, ok := middleware.PopupFrom(c)
	if !ok {
		response.Error(c, popup.ErrInvalidToken)
		return
	}
	accepted, err := controller.Heartbeat(token, sender(c))
	respond(c, accepted, err)
}

// Unload records that the popup window went away.
func (h *PopupHandler) Unload(c *gin.Context) {
	token, controller, ok := middleware.PopupFrom(c)
	if !ok {
		response.Error(c, popup.ErrInvalidToken)
		return
	}
	accepted, err := controller.Unload(token, sender(c))
	respond(c, accepted, err)
}

func sender(c *gin.Context) popup.Sender {
	return popup.Sender{Origin: c.GetHeader("Origin"), Device: middleware.DeviceFrom(c)}
}

// respond answers a popup post. Posts from a foreign origin are acknowledged without
// effect so the sender learns nothing about the popup.
func respond(c *gin.Context, accepted bool, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"accepted": accepted})
}
