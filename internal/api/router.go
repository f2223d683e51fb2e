package api

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/skyprovider/internal/app"
	"github.com/charlesng35/skyprovider/internal/handlers"
	"github.com/charlesng35/skyprovider/internal/handshake"
	"github.com/charlesng35/skyprovider/internal/middleware"
	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/internal/provider"
	"github.com/charlesng35/skyprovider/web"
)

// Services are the long-lived components the router exposes.
type Services struct {
	DB          *gorm.DB
	Metadata    provider.Metadata
	Interface   provider.Interface
	Hub         *handshake.Hub
	Controllers *popup.Controllers
	RateStore   middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers the provider routes.
func NewRouter(cfg *app.Config, svc Services) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svc.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if svc.Hub == nil {
		return nil, fmt.Errorf("handshake hub must be provided")
	}
	if svc.Controllers == nil {
		return nil, fmt.Errorf("popup controllers must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.GET("/health", middleware.SecurityHeaders(), handlers.Health(svc.DB))

	registerProviderRoutes(r, svc)
	registerPopupRoutes(r, cfg, svc)
	if err := registerConnectorRoutes(r, cfg); err != nil {
		return nil, err
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerProviderRoutes(r *gin.Engine, svc Services) {
	metadataHandler := handlers.NewMetadataHandler(svc.Metadata, svc.Interface)
	handshakeHandler := handlers.NewHandshakeHandler(svc.Hub)

	group := r.Group("/api/provider")
	{
		group.GET("/metadata", middleware.CORS(), metadataHandler.Get)
		group.OPTIONS("/metadata", middleware.CORS())
		group.GET("/handshake", middleware.Device(), handshakeHandler.Serve)
	}
}

func registerPopupRoutes(r *gin.Engine, cfg *app.Config, svc Services) {
	popupHandler := handlers.NewPopupHandler()

	group := r.Group("/popup/:token")
	group.Use(middleware.SecurityHeaders())
	if cfg.RateLimit.Enabled {
		group.Use(middleware.RateLimit(svc.RateStore, cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	group.Use(middleware.Device(), middleware.PopupToken(svc.Controllers))
	{
		group.GET("", popupHandler.Entry)
		group.POST("/result", popupHandler.Result)
		group.POST("/heartbeat", popupHandler.Heartbeat)
		group.POST("/unload", popupHandler.Unload)
	}
}

// The connector and popup pages are static assets; only the connector page may be framed.
func registerConnectorRoutes(r *gin.Engine, cfg *app.Config) error {
	pages, err := connectorPages(cfg.Server.ConnectorDir)
	if err != nil {
		return fmt.Errorf("load connector pages: %w", err)
	}

	connectorPage := cfg.Provider.Metadata().RelativeConnectorPath
	framed := middleware.ConnectorHeaders()
	locked := middleware.SecurityHeaders()

	group := r.Group("/connector", func(c *gin.Context) {
		if c.Request.URL.Path == connectorPage {
			framed(c)
			return
		}
		locked(c)
	})
	group.StaticFS("/", http.FS(pages))
	return nil
}

// connectorPages prefers an on-disk directory so deployments can restyle the pages.
func connectorPages(dir string) (fs.FS, error) {
	if dir = strings.TrimSpace(dir); dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir), nil
		}
	}
	return web.ConnectorFS()
}
