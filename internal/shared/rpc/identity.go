package rpc

import (
	"context"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

const identityMetadataKey = "x-mrfs-identity"

type identityKey struct{}

// WithIdentity attaches the caller identity to ctx. Outgoing calls forward it
// as request metadata; servers expose it to handlers the same way.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the caller identity carried by ctx, if any.
func IdentityFrom(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)
	return identity
}

type Authorizer interface {
	Authorize(identity string) error
}

// AllowList accepts identities present in the list. An empty list accepts
// everyone.
type AllowList struct {
	allowed map[string]struct{}
}

func NewAllowList(identities []string) *AllowList {
	allowed := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		allowed[id] = struct{}{}
	}
	return &AllowList{allowed: allowed}
}

func (a *AllowList) Authorize(identity string) error {
	if len(a.allowed) == 0 {
		return nil
	}
	if _, ok := a.allowed[identity]; !ok {
		return errs.New(errs.PermissionDenied, "authorize", "identity %q is not allowed", identity)
	}
	return nil
}
