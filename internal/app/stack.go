package app

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/skyprovider/internal/app/maintenance"
	"github.com/charlesng35/skyprovider/internal/cache"
	"github.com/charlesng35/skyprovider/internal/handshake"
	"github.com/charlesng35/skyprovider/internal/keys"
	"github.com/charlesng35/skyprovider/internal/middleware"
	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/internal/provider"
	"github.com/charlesng35/skyprovider/internal/registry"
)

// Stack bundles the long-lived components behind the HTTP surface.
type Stack struct {
	Metadata    provider.Metadata
	Cache       *cache.DatabaseStore
	Secrets     *cache.SecretStore
	Identities  *registry.IdentityStore
	Permissions *registry.PermissionStore
	Broker      *popup.Broker
	Controllers *popup.Controllers
	Hub         *handshake.Hub
	RateStore   middleware.RateStore
	Cleaner     *maintenance.Cleaner

	storeTimeout time.Duration
}

// NewStack wires the provider components on top of db. The provider URL namespaces the
// derived keys, keys the registry records and is the only origin popups may answer from.
func NewStack(cfg *Config, db *gorm.DB) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if db == nil {
		return nil, errors.New("database handle must be provided")
	}

	meta := cfg.Provider.Metadata()
	if meta.URL == "" {
		return nil, errors.New("provider.url must be configured")
	}

	stack := &Stack{
		Metadata:     meta,
		Cache:        cache.NewDatabaseStore(db),
		storeTimeout: cfg.Provider.StoreTimeout,
	}
	stack.RateStore = middleware.NewRateStore(stack.Cache)

	var err error
	if stack.Secrets, err = cache.NewSecretStore(stack.Cache); err != nil {
		return nil, fmt.Errorf("initialise secret store: %w", err)
	}

	deriver, err := keys.NewDeriver(meta.URL, cfg.Keys.Argon2())
	if err != nil {
		return nil, fmt.Errorf("initialise key deriver: %w", err)
	}
	records, err := registry.NewRecordStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise registry: %w", err)
	}
	if stack.Identities, err = registry.NewIdentityStore(records, deriver, meta.URL); err != nil {
		return nil, fmt.Errorf("initialise identity store: %w", err)
	}
	if stack.Permissions, err = registry.NewPermissionStore(records, deriver, meta.URL); err != nil {
		return nil, fmt.Errorf("initialise permission store: %w", err)
	}

	tokens, err := popup.NewTokenIssuer(cfg.Provider.TokenSecret, cfg.Provider.PopupTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise popup tokens: %w", err)
	}
	stack.Broker, err = popup.NewBroker(tokens, popup.BrokerConfig{
		Origin:   meta.URL,
		Liveness: cfg.Provider.PopupLiveness,
		Pages:    popup.PageConfig{BaseURL: meta.URL, Title: meta.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("initialise popup broker: %w", err)
	}
	stack.Controllers = popup.NewControllers(stack.Broker)

	stack.Hub, err = handshake.NewHub(stack.Broker, stack.NewProvider, handshake.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		OpenWait:       cfg.Provider.OpenWait,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise handshake hub: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.Broker, stack.Cache,
		maintenance.WithSweepSchedule(cfg.Maintenance.PopupSweep),
		maintenance.WithPurgeSchedule(cfg.Maintenance.CachePurge),
	)

	return stack, nil
}

// NewProvider builds the provider serving one host session on device.
func (s *Stack) NewProvider(device string, popups provider.PopupChannel) (*provider.Provider, error) {
	return provider.New(provider.Config{
		Metadata:     s.Metadata,
		StoreTimeout: s.storeTimeout,
	}, provider.Deps{
		Secrets:     s.Secrets.ForDevice(device),
		Identities:  s.Identities,
		Permissions: s.Permissions,
		Popups:      popups,
	})
}

// Close disconnects every host session and stops background jobs.
func (s *Stack) Close() {
	if s == nil {
		return
	}
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}
}
