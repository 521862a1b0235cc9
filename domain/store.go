package domain

import (
	"context"
	"time"
)

// Directory stores actors. It enforces email uniqueness and nothing else.
type Directory interface {
	CreateActor(ctx context.Context, attrs NewActor) (Actor, error)
	FindActorByID(ctx context.Context, id string) (Actor, error)
	// FindActorByEmail returns nil without error when no actor has the email.
	FindActorByEmail(ctx context.Context, email string) (*Actor, error)
	UpdateActor(ctx context.Context, id string, upd ActorUpdate) error
	DeleteActor(ctx context.Context, id string) error
	// ListAdmins returns admins in insertion order, skipping excluding when set.
	ListAdmins(ctx context.Context, excluding string) ([]Actor, error)
}

// RequestStore persists change requests. It performs no authorization.
type RequestStore interface {
	InsertRequest(ctx context.Context, req ChangeRequest) (ChangeRequest, error)
	// ListPending returns pending requests not authored by excluding, in
	// insertion order.
	ListPending(ctx context.Context, excluding string) ([]ChangeRequest, error)
	GetRequest(ctx context.Context, id string) (ChangeRequest, error)
	// MarkApproved fails with ErrAlreadyApproved when the request is no longer
	// pending at write time.
	MarkApproved(ctx context.Context, id, approvedBy string) error
	DeleteRequest(ctx context.Context, id string) error
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	Directory
	RequestStore
}

// Store is the relational backing store shared by all request handlers.
type Store interface {
	Tx
	// Atomic runs fn in a single transaction. fn's error rolls it back.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	// LoadParticipants attaches requester and approver actors to reqs.
	LoadParticipants(ctx context.Context, reqs []ChangeRequest) ([]RequestDetails, error)
}

// Notification is the message handed to the dispatcher when a request is
// created.
type Notification struct {
	RequestID   string      `json:"request_id"`
	Type        RequestType `json:"type"`
	RequestedBy string      `json:"requested_by"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NotificationFor builds the dispatcher message for req.
func NotificationFor(req ChangeRequest) Notification {
	return Notification{
		RequestID:   req.ID,
		Type:        req.Type,
		RequestedBy: req.RequestedBy,
		CreatedAt:   req.CreatedAt,
	}
}

// Notifier is told about newly created requests. Implementations must not
// block; errors are logged by the caller and otherwise ignored.
type Notifier interface {
	RequestCreated(ctx context.Context, n Notification) error
}

// NotificationChannel is the pub/sub channel carrying notifications for one
// administrator.
func NotificationChannel(adminID string) string {
	return "notifications:" + adminID
}
