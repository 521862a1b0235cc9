package api

import (
	"context"
	"time"

	"admin-approvals/domain"
)

// Approvals is the change-request workflow exposed over HTTP.
type Approvals interface {
	Propose(ctx context.Context, typ domain.RequestType, data domain.Payload, actorID string) (domain.ChangeRequest, error)
	ListPending(ctx context.Context, actorID string) ([]domain.ChangeRequest, error)
	Approve(ctx context.Context, requestID, actorID string) (domain.ChangeRequest, error)
	Decline(ctx context.Context, requestID, actorID string) error
	Details(ctx context.Context, reqs []domain.ChangeRequest) ([]domain.RequestDetails, error)
}

// Accounts is the part of the actor directory used by the auth endpoints.
type Accounts interface {
	CreateActor(ctx context.Context, attrs domain.NewActor) (domain.Actor, error)
	FindActorByEmail(ctx context.Context, email string) (*domain.Actor, error)
}

// Authenticator issues and verifies bearer tokens.
type Authenticator interface {
	Issue(actorID string) (string, error)
	IdentityFromAuthHeader(ctx context.Context, header string) (Identity, error)
	Revoke(ctx context.Context, id Identity) error
}

// TokenRevoker remembers logged out tokens until they expire.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, actorID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, actorID, key string) error
}

// Sink delivers request notifications to the dispatcher.
type Sink interface {
	Send(ctx context.Context, n domain.Notification) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
