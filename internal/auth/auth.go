// Package auth maps API tokens to principals with capabilities and issues the
// per-session nonces every action must carry.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
)

// Capability is a permission checked before an action runs
type Capability string

const (
	CapInstallPlugins    Capability = "install_plugins"
	CapActivatePlugins   Capability = "activate_plugins"
	CapDeactivatePlugins Capability = "deactivate_plugins"
	CapUpdatePlugins     Capability = "update_plugins"
	CapDeletePlugins     Capability = "delete_plugins"
	CapManageOptions     Capability = "manage_options"
)

// Role grants a fixed set of capabilities
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleOperator      Role = "operator"
	RoleViewer        Role = "viewer"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdministrator: {
		CapInstallPlugins, CapActivatePlugins, CapDeactivatePlugins,
		CapUpdatePlugins, CapDeletePlugins, CapManageOptions,
	},
	RoleOperator: {CapActivatePlugins, CapDeactivatePlugins, CapUpdatePlugins},
	RoleViewer:   {},
}

// Principal is an authenticated caller
type Principal struct {
	Name         string       `json:"name"`
	Role         Role         `json:"role"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Can reports whether the principal holds c through its role or an explicit
// grant. Unknown roles grant nothing.
func (p Principal) Can(c Capability) bool {
	for _, rc := range roleCapabilities[p.Role] {
		if rc == c {
			return true
		}
	}
	for _, pc := range p.Capabilities {
		if pc == c {
			return true
		}
	}
	return false
}

// AllCapabilities returns every capability the principal holds
func (p Principal) AllCapabilities() []Capability {
	var caps []Capability
	for _, c := range []Capability{
		CapInstallPlugins, CapActivatePlugins, CapDeactivatePlugins,
		CapUpdatePlugins, CapDeletePlugins, CapManageOptions,
	} {
		if p.Can(c) {
			caps = append(caps, c)
		}
	}
	return caps
}

// ValidRole reports whether r is a known role
func ValidRole(r Role) bool {
	_, ok := roleCapabilities[r]
	return ok
}

// ErrUnauthenticated is returned for unknown tokens
var ErrUnauthenticated = errors.New("auth: invalid token")

// Credential binds a token to a principal
type Credential struct {
	Token     string
	Principal Principal
}

// Authenticator resolves bearer tokens
type Authenticator struct {
	creds []Credential
}

// NewAuthenticator creates an authenticator; credentials with empty tokens
// are ignored.
func NewAuthenticator(creds []Credential) *Authenticator {
	a := &Authenticator{}
	for _, c := range creds {
		if c.Token != "" {
			a.creds = append(a.creds, c)
		}
	}
	return a
}

// Authenticate returns the principal owning token
func (a *Authenticator) Authenticate(token string) (Principal, error) {
	var (
		found Principal
		ok    bool
	)
	for _, c := range a.creds {
		if subtle.ConstantTimeCompare([]byte(c.Token), []byte(token)) == 1 && !ok {
			found, ok = c.Principal, true
		}
	}
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	return found, nil
}

type contextKey struct{}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

const (
	// ActionNonce guards every plugin action
	ActionNonce = "plugin-hub-nonce"
	// RefreshNonce guards the manifest cache refresh
	RefreshNonce = "plugin_hub_refresh_cache"

	// DefaultNonceLifetime bounds how long an issued nonce is accepted
	DefaultNonceLifetime = 24 * time.Hour
)

// Nonces issues and verifies action-scoped nonces bound to a principal
type Nonces struct {
	store    kvstore.Store
	lifetime time.Duration
}

// NewNonces creates a nonce registry backed by store
func NewNonces(store kvstore.Store, lifetime time.Duration) *Nonces {
	if lifetime <= 0 {
		lifetime = DefaultNonceLifetime
	}
	return &Nonces{store: store, lifetime: lifetime}
}

func nonceKey(action, nonce string) string {
	return fmt.Sprintf("nonce_%s_%s", action, nonce)
}

// Issue creates a nonce for action owned by p
func (n *Nonces) Issue(ctx context.Context, p Principal, action string) (string, error) {
	nonce := uuid.NewString()
	if err := n.store.Set(ctx, nonceKey(action, nonce), []byte(p.Name), n.lifetime); err != nil {
		return "", fmt.Errorf("failed to store nonce: %w", err)
	}
	return nonce, nil
}

// Verify reports whether nonce was issued to p for action and has not expired
func (n *Nonces) Verify(ctx context.Context, p Principal, action, nonce string) bool {
	if nonce == "" {
		return false
	}
	if _, err := uuid.Parse(nonce); err != nil {
		return false
	}
	owner, err := n.store.Get(ctx, nonceKey(action, nonce))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(owner, []byte(p.Name)) == 1
}
