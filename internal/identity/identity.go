// Package identity is the boundary to the external identity provider. The
// pipeline only needs the current external user id and a readiness signal;
// login and session handling live entirely on the provider's side.
package identity

import "errors"

// ErrNotReady is returned while the provider has no authenticated user.
var ErrNotReady = errors.New("identity: provider not ready")

// Provider exposes the current external user identity.
type Provider interface {
	// CurrentUserID returns the external user id, or ErrNotReady.
	CurrentUserID() (string, error)
	// Ready reports whether an authenticated user is available.
	Ready() bool
}

// Static is a fixed-identity provider for tools and tests.
type Static struct {
	UserID string
}

func (s Static) CurrentUserID() (string, error) {
	if s.UserID == "" {
		return "", ErrNotReady
	}
	return s.UserID, nil
}

func (s Static) Ready() bool {
	return s.UserID != ""
}
