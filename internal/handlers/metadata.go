package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/skyprovider/internal/provider"
	"github.com/charlesng35/skyprovider/pkg/response"
)

// MetadataHandler serves the provider metadata without a handshake.
type MetadataHandler struct {
	metadata provider.Metadata
	declared provider.Interface
}

// NewMetadataHandler constructs a MetadataHandler.
func NewMetadataHandler(metadata provider.Metadata, declared provider.Interface) *MetadataHandler {
	if declared == nil {
		declared = provider.IdentityInterface()
	}
	return &MetadataHandler{metadata: metadata, declared: declared.Clone()}
}

// Get returns the provider metadata and the interface it declares once connected.
func (h *MetadataHandler) Get(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"metadata":  h.metadata,
		"interface": h.declared,
	})
}
