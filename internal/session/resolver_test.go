package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alicia-74/libroredsocial/internal/domain"
	"github.com/Alicia-74/libroredsocial/pkg/token"
)

func signedToken(t *testing.T, userID string) string {
	t.Helper()
	mgr := token.NewManager("test-secret", time.Hour, "test")
	tok, _, err := mgr.Generate(userID, "User "+userID)
	require.NoError(t, err)
	return tok
}

func TestIdentityUnknownBeforeResolve(t *testing.T) {
	r := NewResolver(NewMemoryCredentials(""))

	assert.False(t, r.IsResolved())
	assert.Equal(t, domain.IdentityUnknown, r.Identity().State)
}

func TestResolveMissingCredentialIsAnonymous(t *testing.T) {
	r := NewResolver(NewMemoryCredentials(""))

	id := r.Resolve()
	assert.Equal(t, domain.IdentityAnonymous, id.State)
	assert.False(t, id.Known())
	assert.True(t, r.IsResolved())
}

func TestResolveValidCredential(t *testing.T) {
	r := NewResolver(NewMemoryCredentials(signedToken(t, "alice")))

	id := r.Resolve()
	assert.Equal(t, domain.IdentityKnown, id.State)
	assert.Equal(t, "alice", id.UserID)

	userID, ok := r.UserID()
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)
}

func TestResolveMalformedCredentialClearsIt(t *testing.T) {
	creds := NewMemoryCredentials("not-a-jwt")
	r := NewResolver(creds)

	id := r.Resolve()
	assert.Equal(t, domain.IdentityAnonymous, id.State)
	assert.Empty(t, creds.Token())
}

func TestClearCredentialResetsToAnonymous(t *testing.T) {
	creds := NewMemoryCredentials(signedToken(t, "alice"))
	r := NewResolver(creds)
	require.True(t, r.Resolve().Known())

	r.ClearCredential()
	assert.Equal(t, domain.IdentityAnonymous, r.Identity().State)
	assert.Empty(t, r.BearerToken())
}

func TestResolveReflectsCredentialChange(t *testing.T) {
	creds := NewMemoryCredentials(signedToken(t, "alice"))
	r := NewResolver(creds)
	require.Equal(t, "alice", r.Resolve().UserID)

	creds.Set(signedToken(t, "bob"))
	assert.Equal(t, "bob", r.Resolve().UserID)
}
