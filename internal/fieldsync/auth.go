package fieldsync

import (
	"strings"
	"sync"
)

// Identity is the authenticated agent a sync pass runs on behalf of.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthProvider supplies the current identity and a bearer token for the
// remote submission API. The orchestrator asks for the token immediately
// before each delivery and never caches it. A nil identity or empty
// token aborts a pass before any record is touched.
type AuthProvider interface {
	CurrentIdentity() (*Identity, error)
	AccessToken() (string, error)
}

// StaticAuthProvider holds a fixed identity and token, updatable by the
// surrounding application when a session is renewed.
type StaticAuthProvider struct {
	mu       sync.Mutex
	identity *Identity
	token    string
}

func NewStaticAuthProvider(identity *Identity, token string) *StaticAuthProvider {
	return &StaticAuthProvider{identity: identity, token: strings.TrimSpace(token)}
}

func (p *StaticAuthProvider) CurrentIdentity() (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil || p.identity.ID == "" {
		return nil, ErrNotAuthenticated
	}
	identity := *p.identity
	return &identity, nil
}

func (p *StaticAuthProvider) AccessToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", ErrNotAuthenticated
	}
	return p.token, nil
}

// SetSession replaces the identity and token, e.g. after a re-login.
func (p *StaticAuthProvider) SetSession(identity *Identity, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = identity
	p.token = strings.TrimSpace(token)
}

// ClearSession drops the session; subsequent sync passes fail with
// ErrNotAuthenticated.
func (p *StaticAuthProvider) ClearSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = nil
	p.token = ""
}
