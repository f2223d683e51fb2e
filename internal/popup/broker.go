package popup

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/pkg/logger"
	"github.com/charlesng35/skyprovider/pkg/metrics"
)

// BrokerConfig tunes a Broker.
type BrokerConfig struct {
	// Origin is the provider's own origin. Popup messages from any other origin are ignored.
	Origin string
	// Liveness resolves a popup as closed when it has not been heard from for this long.
	// Zero disables the liveness check.
	Liveness time.Duration
	Pages    PageConfig
	Clock    func() time.Time
}

// Entry is what a popup page learns about itself when it loads.
type Entry struct {
	ID      string            `json:"id"`
	Kind    Kind              `json:"kind"`
	Session string            `json:"-"`
	Params  map[string]string `json:"params"`
}

// Sender describes where a popup message came from: the Origin header of the post and
// the device cookie of the browser that sent it.
type Sender struct {
	Origin string
	Device string
}

type activeKey struct {
	session string
	kind    Kind
}

// Broker tracks open popups and routes their results. At most one popup per
// (host session, kind) is open at any time.
type Broker struct {
	tokens   *TokenIssuer
	origin   string
	liveness time.Duration
	pages    PageConfig
	now      func() time.Time
	log      *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	active  map[activeKey]string
}

// NewBroker constructs a Broker.
func NewBroker(tokens *TokenIssuer, cfg BrokerConfig) (*Broker, error) {
	if tokens == nil {
		return nil, errors.New("popup broker: token issuer is required")
	}
	origin := normalizeOrigin(cfg.Origin)
	if origin == "" {
		return nil, errors.New("popup broker: origin is required")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	pages := cfg.Pages.withDefaults(origin)
	return &Broker{
		tokens:   tokens,
		origin:   origin,
		liveness: cfg.Liveness,
		pages:    pages,
		now:      now,
		log:      logger.WithModule("popup"),
		handles:  make(map[string]*Handle),
		active:   make(map[activeKey]string),
	}, nil
}

// Origin returns the origin popup messages must come from.
func (b *Broker) Origin() string {
	return b.origin
}

func (b *Broker) open(session, device string, kind Kind, params map[string]string) (*Handle, string, error) {
	if !kind.Valid() {
		return nil, "", errors.New("popup broker: unknown popup kind")
	}

	key := activeKey{session: session, kind: kind}
	id := uuid.NewString()

	b.mu.Lock()
	if _, busy := b.active[key]; busy {
		b.mu.Unlock()
		return nil, "", ErrPopupInFlight
	}
	handle := newHandle(id, session, device, kind, params, b.now(), b.release)
	b.handles[id] = handle
	b.active[key] = id
	b.mu.Unlock()
	metrics.OpenPopups.Inc()

	token, err := b.tokens.Issue(id, session, kind)
	if err != nil {
		handle.resolve(Failed(kind, err))
		return nil, "", err
	}

	b.log.Info("popup opened", zap.String("session", session), zap.String("kind", string(kind)), zap.String("popup", id))
	return handle, token, nil
}

func (b *Broker) release(h *Handle, outcome Outcome) {
	b.mu.Lock()
	if current, ok := b.handles[h.id]; ok && current == h {
		delete(b.handles, h.id)
		metrics.OpenPopups.Dec()
	}
	key := activeKey{session: h.session, kind: h.kind}
	if b.active[key] == h.id {
		delete(b.active, key)
	}
	b.mu.Unlock()

	metrics.PopupOutcomes.WithLabelValues(string(h.kind), string(outcome.Status)).Inc()
	fields := []zap.Field{
		zap.String("session", h.session),
		zap.String("kind", string(h.kind)),
		zap.String("popup", h.id),
		zap.String("status", string(outcome.Status)),
	}
	if outcome.Err != nil {
		fields = append(fields, zap.Error(outcome.Err))
	}
	b.log.Info("popup resolved", fields...)
}

func (b *Broker) lookup(token string) (*Handle, error) {
	claims, err := b.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	handle, ok := b.handles[claims.HandleID]
	b.mu.Unlock()
	if !ok || handle.session != claims.Session || handle.kind != claims.Kind {
		return nil, ErrHandleNotFound
	}
	return handle, nil
}

// owned returns the open popup identified by token if device is the browser that
// opened it.
func (b *Broker) owned(token, device string) (*Handle, error) {
	handle, err := b.lookup(token)
	if err != nil {
		return nil, err
	}
	if !handle.ownedBy(device) {
		b.log.Warn("rejected popup message from another device",
			zap.String("session", handle.session),
			zap.String("popup", handle.id),
		)
		return nil, ErrForeignDevice
	}
	return handle, nil
}

// Entry returns the page parameters of the open popup identified by token. Only the
// browser that opened the popup may read them.
func (b *Broker) Entry(token, device string) (Entry, error) {
	handle, err := b.owned(token, device)
	if err != nil {
		return Entry{}, err
	}
	handle.touch(b.now())

	params := make(map[string]string, len(handle.params))
	for k, v := range handle.params {
		params[k] = v
	}
	return Entry{ID: handle.id, Kind: handle.kind, Session: handle.session, Params: params}, nil
}

// SameOrigin reports whether origin matches the provider origin.
func (b *Broker) SameOrigin(origin string) bool {
	return normalizeOrigin(origin) == b.origin
}

// Deliver resolves the popup identified by token with outcome. Messages from a foreign
// origin are ignored: accepted is false and no error is returned. Messages from a
// browser other than the one that opened the popup fail with ErrForeignDevice.
func (b *Broker) Deliver(token string, from Sender, outcome Outcome) (accepted bool, err error) {
	if !b.SameOrigin(from.Origin) {
		b.log.Warn("ignored popup message from foreign origin", zap.String("origin", from.Origin))
		return false, nil
	}

	handle, err := b.owned(token, from.Device)
	if err != nil {
		return false, err
	}
	return b.resolve(handle, outcome)
}

func (b *Broker) resolve(handle *Handle, outcome Outcome) (bool, error) {
	if outcome.Kind != "" && outcome.Kind != handle.kind {
		outcome = Failed(handle.kind, ErrMalformedResponse)
	}
	if !handle.resolve(outcome) {
		return false, ErrHandleNotFound
	}
	return true, nil
}

// fail resolves the popup with an error outcome raised by the provider itself.
func (b *Broker) fail(token string, err error) error {
	handle, lookupErr := b.lookup(token)
	if lookupErr != nil {
		return lookupErr
	}
	_, resolveErr := b.resolve(handle, Failed(handle.kind, err))
	return resolveErr
}

// Abandon resolves the popup as closed. It is what the popup's unload notification calls.
func (b *Broker) Abandon(token string, from Sender) (bool, error) {
	return b.Deliver(token, from, Outcome{Status: StatusClosed})
}

// Heartbeat records that the popup is still alive.
func (b *Broker) Heartbeat(token string, from Sender) (bool, error) {
	if !b.SameOrigin(from.Origin) {
		return false, nil
	}
	handle, err := b.owned(token, from.Device)
	if err != nil {
		return false, err
	}
	handle.touch(b.now())
	return true, nil
}

// Sweep resolves as closed every popup that outlived its token or stopped sending
// heartbeats, and returns how many it closed.
func (b *Broker) Sweep() int {
	now := b.now()
	ttl := b.tokens.TTL()

	b.mu.Lock()
	stale := make([]*Handle, 0)
	for _, handle := range b.handles {
		if handle.stale(now, b.liveness, ttl) {
			stale = append(stale, handle)
		}
	}
	b.mu.Unlock()

	closed := 0
	for _, handle := range stale {
		if handle.resolve(Closed(handle.kind)) {
			closed++
		}
	}
	return closed
}

// CloseSession resolves every popup opened by session as closed.
func (b *Broker) CloseSession(session string) {
	b.mu.Lock()
	owned := make([]*Handle, 0)
	for _, handle := range b.handles {
		if handle.session == session {
			owned = append(owned, handle)
		}
	}
	b.mu.Unlock()

	for _, handle := range owned {
		handle.Close()
	}
}

// OpenCount returns the number of unresolved popups.
func (b *Broker) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "null" {
		return ""
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}
