package domain

// IdentityState distinguishes "not yet resolved" from "resolved to nobody".
// Components gate network activity on IdentityKnown; IdentityUnknown means
// suspend and wait, IdentityAnonymous means redirect to login.
type IdentityState int

const (
	IdentityUnknown IdentityState = iota
	IdentityAnonymous
	IdentityKnown
)

func (s IdentityState) String() string {
	switch s {
	case IdentityAnonymous:
		return "anonymous"
	case IdentityKnown:
		return "known"
	default:
		return "unknown"
	}
}

// Identity is the resolved session identity.
type Identity struct {
	State  IdentityState
	UserID string
}

// Known reports whether the session belongs to an identified user.
func (i Identity) Known() bool {
	return i.State == IdentityKnown && i.UserID != ""
}
