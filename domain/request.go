package domain

import (
	"strings"
	"time"
)

// RequestType names the action a change request proposes.
type RequestType string

const (
	RequestCreate RequestType = "create"
	RequestUpdate RequestType = "update"
	RequestDelete RequestType = "delete"
)

// Valid reports whether t is one of the supported request types.
func (t RequestType) Valid() bool {
	switch t {
	case RequestCreate, RequestUpdate, RequestDelete:
		return true
	}
	return false
}

// RequestStatus is the persisted lifecycle state. Declined requests are
// deleted, so there is no declined status.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
)

// Payload is the free-form request data. Only the engine interprets it.
type Payload map[string]any

// ChangeRequest is a proposed create, update or delete of an actor awaiting a
// second administrator.
type ChangeRequest struct {
	ID          string        `json:"id"`
	Type        RequestType   `json:"type"`
	Status      RequestStatus `json:"status"`
	Data        Payload       `json:"data"`
	RequestedBy string        `json:"requested_by"`
	ApprovedBy  *string       `json:"approved_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Pending reports whether the request can still be approved or declined.
func (r ChangeRequest) Pending() bool {
	return r.Status == StatusPending
}

// RequestDetails is a request with its participants attached. Participants
// are loaded separately from the request row.
type RequestDetails struct {
	ChangeRequest
	Requester *Actor `json:"requester"`
	Approver  *Actor `json:"approver"`
}

// NewChangeRequest validates the shape of a proposal and returns a pending
// request. It does not check that referenced actors exist.
func NewChangeRequest(typ RequestType, data Payload, requestedBy string) (ChangeRequest, error) {
	verr := &ValidationError{}
	if !typ.Valid() {
		verr.Add("type", "The selected type is invalid.")
	}
	if strings.TrimSpace(requestedBy) == "" {
		verr.Add("requested_by", "The requester is required.")
	}
	if err := verr.OrNil(); err != nil {
		return ChangeRequest{}, err
	}
	if data == nil {
		data = Payload{}
	}
	return ChangeRequest{
		Type:        typ,
		Status:      StatusPending,
		Data:        data,
		RequestedBy: requestedBy,
	}, nil
}
