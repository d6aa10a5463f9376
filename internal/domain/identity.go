package domain

import "context"

// IdentityVerifier turns an opaque bearer token into a stable identity.
// Implementations return ErrInvalidToken (possibly wrapped) on rejection.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}
