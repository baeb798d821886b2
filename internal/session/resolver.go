// Package session resolves the current user's identity from the stored
// bearer credential, without contacting the server.
package session

import (
	"sync"

	"github.com/Alicia-74/libroredsocial/internal/domain"
	"github.com/Alicia-74/libroredsocial/pkg/log"
	"github.com/Alicia-74/libroredsocial/pkg/token"
)

// CredentialStore is the single place the session credential lives. No other
// component reads the credential directly; everything goes through the
// resolver or an injected store.
type CredentialStore interface {
	// Token returns the stored bearer credential, or "" when absent.
	Token() string
	// Clear removes the stored credential.
	Clear()
}

// MemoryCredentials is an in-process CredentialStore.
type MemoryCredentials struct {
	mu  sync.RWMutex
	tok string
}

func NewMemoryCredentials(tok string) *MemoryCredentials {
	return &MemoryCredentials{tok: tok}
}

func (m *MemoryCredentials) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tok
}

func (m *MemoryCredentials) Set(tok string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = tok
}

func (m *MemoryCredentials) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = ""
}

// Resolver decodes the stored credential into a session identity. Before
// Resolve is called the identity is IdentityUnknown, which callers must treat
// as "suspend" rather than "unauthenticated".
type Resolver struct {
	creds CredentialStore

	mu       sync.RWMutex
	identity domain.Identity
}

func NewResolver(creds CredentialStore) *Resolver {
	return &Resolver{
		creds:    creds,
		identity: domain.Identity{State: domain.IdentityUnknown},
	}
}

// Resolve decodes the credential and caches the result. A missing credential
// resolves to anonymous; a malformed one resolves to anonymous and clears the
// invalid credential as a side effect.
func (r *Resolver) Resolve() domain.Identity {
	tok := r.creds.Token()

	var id domain.Identity
	switch {
	case tok == "":
		id = domain.Identity{State: domain.IdentityAnonymous}
	default:
		claims, err := token.DecodeUnverified(tok)
		if err != nil {
			log.L().Warn().Err(err).Msg("stored credential is malformed, clearing it")
			r.creds.Clear()
			id = domain.Identity{State: domain.IdentityAnonymous}
		} else {
			id = domain.Identity{State: domain.IdentityKnown, UserID: claims.SubjectID()}
		}
	}

	r.mu.Lock()
	r.identity = id
	r.mu.Unlock()
	return id
}

// Identity returns the last resolved identity.
func (r *Resolver) Identity() domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identity
}

// UserID returns the resolved user id and whether the session is identified.
func (r *Resolver) UserID() (string, bool) {
	id := r.Identity()
	return id.UserID, id.Known()
}

// IsResolved reports whether Resolve has run at all.
func (r *Resolver) IsResolved() bool {
	return r.Identity().State != domain.IdentityUnknown
}

// BearerToken exposes the raw credential for authenticated requests.
func (r *Resolver) BearerToken() string {
	return r.creds.Token()
}

// ClearCredential drops the stored credential and resets to anonymous.
func (r *Resolver) ClearCredential() {
	r.creds.Clear()
	r.mu.Lock()
	r.identity = domain.Identity{State: domain.IdentityAnonymous}
	r.mu.Unlock()
}
