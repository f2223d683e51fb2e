package provider

import (
	"context"
	"sync"

	"github.com/charlesng35/skyprovider/internal/popup"
)

type memSecrets struct {
	mu     sync.Mutex
	secret string
	saves  int
	clears int
}

func (m *memSecrets) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secret, nil
}

func (m *memSecrets) Save(_ context.Context, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = secret
	m.saves++
	return nil
}

func (m *memSecrets) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = ""
	m.clears++
	return nil
}

type memIdentities struct {
	mu      sync.Mutex
	byKey   map[string]string
	lookups int
	derived int
	block   bool
}

func newMemIdentities() *memIdentities {
	return &memIdentities{byKey: make(map[string]string)}
}

func (m *memIdentities) Lookup(ctx context.Context, secret string) (string, bool, error) {
	if m.block {
		<-ctx.Done()
		return "", false, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	identity, ok := m.byKey[secret]
	return identity, ok, nil
}

func (m *memIdentities) Save(_ context.Context, secret, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[secret] = identity
	return nil
}

func (m *memIdentities) Derive(_ context.Context, secret string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.derived++
	return "derived-" + secret, nil
}

type permissionKey struct {
	identity string
	domain   string
}

type memPermissions struct {
	mu     sync.Mutex
	byKey  map[permissionKey]Permission
	writes int
}

func newMemPermissions() *memPermissions {
	return &memPermissions{byKey: make(map[permissionKey]Permission)}
}

func (m *memPermissions) Get(_ context.Context, info ConnectionInfo, domain string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[permissionKey{info.Identity, domain}], nil
}

func (m *memPermissions) Set(_ context.Context, info ConnectionInfo, domain string, permission Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[permissionKey{info.Identity, domain}] = permission
	m.writes++
	return nil
}

func (m *memPermissions) get(identity, domain string) Permission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[permissionKey{identity, domain}]
}

// scriptedPopups answers every popup of a kind with a fixed outcome and records what was opened.
type scriptedPopups struct {
	mu       sync.Mutex
	answers  map[popup.Kind]popup.Outcome
	openErr  error
	opened   []popup.Kind
	params   []map[string]string
	closures int
}

func newScriptedPopups() *scriptedPopups {
	return &scriptedPopups{answers: make(map[popup.Kind]popup.Outcome)}
}

func (s *scriptedPopups) answer(kind popup.Kind, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[kind] = popup.ParsePayload(kind, []byte(raw))
}

func (s *scriptedPopups) Open(_ context.Context, kind popup.Kind, params map[string]string) (popup.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, kind)
	s.params = append(s.params, params)
	if s.openErr != nil {
		return nil, s.openErr
	}
	outcome, ok := s.answers[kind]
	if !ok {
		outcome = popup.Closed(kind)
	}
	return &scriptedPending{owner: s, outcome: outcome}, nil
}

func (s *scriptedPopups) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opened)
}

type scriptedPending struct {
	owner   *scriptedPopups
	outcome popup.Outcome
}

func (p *scriptedPending) Await(context.Context) (popup.Outcome, error) {
	return p.outcome, nil
}

func (p *scriptedPending) Close() {
	p.owner.mu.Lock()
	p.owner.closures++
	p.owner.mu.Unlock()
}

type fixture struct {
	secrets     *memSecrets
	identities  *memIdentities
	permissions *memPermissions
	popups      *scriptedPopups
}

func newFixture() *fixture {
	return &fixture{
		secrets:     &memSecrets{},
		identities:  newMemIdentities(),
		permissions: newMemPermissions(),
		popups:      newScriptedPopups(),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Secrets:     f.secrets,
		Identities:  f.identities,
		Permissions: f.permissions,
		Popups:      f.popups,
	}
}
