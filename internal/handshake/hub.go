package handshake

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/internal/provider"
	"github.com/charlesng35/skyprovider/pkg/logger"
	"github.com/charlesng35/skyprovider/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10 // 64 KiB

	defaultBufferSize = 32
	defaultOpenWait   = 30 * time.Second
)

// ProviderFactory builds the provider serving one host session. device identifies the
// browser the session runs in; popups opens windows through the session's host.
type ProviderFactory func(device string, popups provider.PopupChannel) (*provider.Provider, error)

// Config tunes a Hub.
type Config struct {
	// AllowedOrigins lists origins allowed to open a handshake besides the provider's own
	// origin, which is where the connector page runs.
	AllowedOrigins []string
	// OpenWait bounds how long the host may take to answer a popup.open call.
	OpenWait time.Duration
}

// Hub tracks connected host sessions.
type Hub struct {
	broker      *popup.Broker
	newProvider ProviderFactory
	openWait    time.Duration
	upgrader    websocket.Upgrader
	log         *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub constructs a Hub.
func NewHub(broker *popup.Broker, factory ProviderFactory, cfg Config) (*Hub, error) {
	if broker == nil || factory == nil {
		return nil, errors.New("handshake: popup broker and provider factory are required")
	}
	openWait := cfg.OpenWait
	if openWait <= 0 {
		openWait = defaultOpenWait
	}

	allowed := map[string]struct{}{normalizeOrigin(broker.Origin()): {}}
	for _, origin := range cfg.AllowedOrigins {
		if origin = normalizeOrigin(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return &Hub{
		broker:      broker,
		newProvider: factory,
		openWait:    openWait,
		log:         logger.WithModule("handshake"),
		sessions:    make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers always send Origin on a websocket upgrade. Requesting
				// applications reach the handshake through the connector frame.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := allowed[normalizeOrigin(origin)]; ok {
					return true
				}
				return hostWithoutPort(origin) == hostWithoutPort(r.Host)
			},
		},
	}, nil
}

// Serve upgrades the request to a WebSocket and runs the session until the host goes away.
func (h *Hub) Serve(device string, w http.ResponseWriter, r *http.Request) {
	// Cookies set by middleware only reach the client through the upgrade response.
	var header http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}
	socket, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		id:      uuid.NewString(),
		hub:     h,
		socket:  socket,
		send:    make(chan Frame, defaultBufferSize),
		pending: make(map[string]chan Frame),
		screen:  screenFromQuery(r),
		ctx:     ctx,
		cancel:  cancel,
	}
	session.log = h.log.With(zap.String("session", session.id))
	session.popups = h.broker.Channel(session.id, device, session, session.Screen)

	p, err := h.newProvider(device, session.popups)
	if err != nil {
		h.log.Error("create provider", zap.Error(err))
		cancel()
		_ = socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "provider unavailable"))
		_ = socket.Close()
		return
	}
	session.provider = p

	h.register(session)
	go session.writeLoop()
	session.readLoop()
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	metrics.HandshakeSessions.Inc()
	s.log.Info("host session opened")
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()
	if ok {
		metrics.HandshakeSessions.Dec()
		s.log.Info("host session closed")
	}
}

// SessionCount returns the number of connected host sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close closes every session.
func (h *Hub) Close() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.close()
	}
}

func screenFromQuery(r *http.Request) popup.Screen {
	query := r.URL.Query()
	value := func(name string) int {
		n, err := strconv.Atoi(query.Get(name))
		if err != nil {
			return 0
		}
		return n
	}
	return popup.Screen{
		Left:   value("screenLeft"),
		Top:    value("screenTop"),
		Width:  value("screenWidth"),
		Height: value("screenHeight"),
	}
}

func normalizeOrigin(origin string) string {
	origin = strings.ToLower(strings.TrimSpace(origin))
	return strings.TrimSuffix(origin, "/")
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
