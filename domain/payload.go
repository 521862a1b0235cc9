package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Action is a typed, validated request payload that can be applied to the
// actor directory.
type Action interface {
	Type() RequestType
	Apply(ctx context.Context, dir Directory) error
}

// CreatePayload creates a non-admin actor.
type CreatePayload struct {
	FirstName *string
	LastName  *string
	Email     string
	Password  string
}

// UpdatePayload replaces an actor's names and email. The password is never
// changed by an update request.
type UpdatePayload struct {
	UserID    string
	FirstName *string
	LastName  *string
	Email     string
}

// DeletePayload removes an actor.
type DeletePayload struct {
	UserID string
}

func (CreatePayload) Type() RequestType { return RequestCreate }
func (UpdatePayload) Type() RequestType { return RequestUpdate }
func (DeletePayload) Type() RequestType { return RequestDelete }

func (p CreatePayload) Apply(ctx context.Context, dir Directory) error {
	_, err := dir.CreateActor(ctx, NewActor{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Password:  p.Password,
		IsAdmin:   false,
	})
	return err
}

func (p UpdatePayload) Apply(ctx context.Context, dir Directory) error {
	return dir.UpdateActor(ctx, p.UserID, ActorUpdate{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
	})
}

func (p DeletePayload) Apply(ctx context.Context, dir Directory) error {
	return dir.DeleteActor(ctx, p.UserID)
}

// DecodeAction turns the untyped payload of req into its typed variant.
func DecodeAction(req ChangeRequest) (Action, error) {
	verr := &ValidationError{}
	var action Action
	switch req.Type {
	case RequestCreate:
		action = CreatePayload{
			FirstName: optionalString(req.Data, "first_name", verr),
			LastName:  optionalString(req.Data, "last_name", verr),
			Email:     requiredEmail(req.Data, verr),
			Password:  requiredString(req.Data, "password", verr),
		}
	case RequestUpdate:
		action = UpdatePayload{
			UserID:    requiredID(req.Data, "user_id", verr),
			FirstName: optionalString(req.Data, "first_name", verr),
			LastName:  optionalString(req.Data, "last_name", verr),
			Email:     requiredEmail(req.Data, verr),
		}
	case RequestDelete:
		action = DeletePayload{UserID: requiredID(req.Data, "user_id", verr)}
	default:
		return nil, NewValidationError("type", fmt.Sprintf("unsupported request type %q", req.Type))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return action, nil
}

// optionalString requires the key to be present but accepts null.
func optionalString(data Payload, key string, verr *ValidationError) *string {
	v, ok := data[key]
	if !ok {
		verr.Add(key, "The "+key+" field is required.")
		return nil
	}
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		verr.Add(key, "The "+key+" field must be a string.")
		return nil
	}
	return &s
}

func requiredString(data Payload, key string, verr *ValidationError) string {
	v, ok := data[key]
	if !ok || v == nil {
		verr.Add(key, "The "+key+" field is required.")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		verr.Add(key, "The "+key+" field must be a string.")
		return ""
	}
	if s == "" {
		verr.Add(key, "The "+key+" field is required.")
	}
	return s
}

func requiredEmail(data Payload, verr *ValidationError) string {
	email := requiredString(data, "email", verr)
	if email == "" {
		return ""
	}
	if !ValidEmail(email) {
		verr.Add("email", "The email must be a valid email address.")
	}
	return NormalizeEmail(email)
}

// requiredID accepts ids encoded as JSON strings or numbers.
func requiredID(data Payload, key string, verr *ValidationError) string {
	v, ok := data[key]
	if !ok || v == nil {
		verr.Add(key, "The "+key+" field is required.")
		return ""
	}
	var id string
	switch t := v.(type) {
	case string:
		id = strings.TrimSpace(t)
	case float64:
		id = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		id = strconv.Itoa(t)
	case int64:
		id = strconv.FormatInt(t, 10)
	case json.Number:
		id = t.String()
	default:
		verr.Add(key, "The "+key+" field must be a string or number.")
		return ""
	}
	if id == "" {
		verr.Add(key, "The "+key+" field is required.")
	}
	return id
}
