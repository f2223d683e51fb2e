package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/skyprovider/internal/handshake"
	"github.com/charlesng35/skyprovider/internal/middleware"
	"github.com/charlesng35/skyprovider/pkg/errors"
	"github.com/charlesng35/skyprovider/pkg/response"
)

// HandshakeHandler upgrades host connections into handshake sessions.
type HandshakeHandler struct {
	hub *handshake.Hub
}

// NewHandshakeHandler constructs a HandshakeHandler.
func NewHandshakeHandler(hub *handshake.Hub) *HandshakeHandler {
	return &HandshakeHandler{hub: hub}
}

// Serve runs the handshake session of the requesting device.
func (h *HandshakeHandler) Serve(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	device := middleware.DeviceFrom(c)
	if device == "" {
		response.Error(c, errors.NewBadRequest("Device cookie is required"))
		return
	}

	h.hub.Serve(device, c.Writer, c.Request)
}
