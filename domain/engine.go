package domain

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "admin-approvals/domain"

// Engine enforces the dual-control state machine for change requests:
// Pending -> Approved, or Pending -> deleted by a decline.
type Engine struct {
	store    Store
	notifier Notifier
	logger   *log.Logger
	tracer   trace.Tracer
}

// NewEngine creates an Engine. notifier may be nil.
func NewEngine(store Store, notifier Notifier, logger *log.Logger) *Engine {
	if store == nil {
		panic("domain.NewEngine: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Propose records a pending request authored by actorID and notifies the
// other administrators once it is persisted.
func (e *Engine) Propose(ctx context.Context, typ RequestType, data Payload, actorID string) (req ChangeRequest, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.propose", trace.WithAttributes(
		attribute.String("request.type", string(typ)),
		attribute.String("actor.id", actorID),
	))
	defer func() { endSpan(span, err) }()

	if err = requireAdmin(ctx, e.store, actorID); err != nil {
		return ChangeRequest{}, err
	}
	req, err = NewChangeRequest(typ, data, actorID)
	if err != nil {
		return ChangeRequest{}, err
	}
	req, err = e.store.InsertRequest(ctx, req)
	if err != nil {
		return ChangeRequest{}, err
	}
	span.SetAttributes(attribute.String("request.id", req.ID))

	e.notify(ctx, req)
	e.logger.WithFields(log.Fields{"request": req.ID, "type": req.Type, "requested_by": actorID}).Info("request proposed")
	return req, nil
}

func (e *Engine) notify(ctx context.Context, req ChangeRequest) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.RequestCreated(ctx, NotificationFor(req)); err != nil {
		e.logger.WithError(err).WithField("request", req.ID).Warn("request notification not dispatched")
	}
}

// ListPending returns the pending requests actorID may review, which never
// includes their own.
func (e *Engine) ListPending(ctx context.Context, actorID string) (reqs []ChangeRequest, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.list_pending", trace.WithAttributes(attribute.String("actor.id", actorID)))
	defer func() { endSpan(span, err) }()

	if err = requireAdmin(ctx, e.store, actorID); err != nil {
		return nil, err
	}
	return e.store.ListPending(ctx, actorID)
}

// Approve applies the request's action and marks it approved in one
// transaction. If the action fails the request stays pending.
func (e *Engine) Approve(ctx context.Context, requestID, actorID string) (approved ChangeRequest, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.approve", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.String("actor.id", actorID),
	))
	defer func() { endSpan(span, err) }()

	err = e.store.Atomic(ctx, func(tx Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.Pending() {
			return ErrAlreadyApproved
		}
		if req.RequestedBy == actorID {
			return ErrSelfApproval
		}
		if err := requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}

		action, err := DecodeAction(req)
		if err != nil {
			return &ActionError{Type: req.Type, Err: err}
		}
		if err := action.Apply(ctx, tx); err != nil {
			return &ActionError{Type: req.Type, Err: err}
		}

		if err := tx.MarkApproved(ctx, req.ID, actorID); err != nil {
			return err
		}
		approved, err = tx.GetRequest(ctx, req.ID)
		return err
	})
	if err != nil {
		e.logger.WithFields(log.Fields{"request": requestID, "actor": actorID}).WithError(err).Info("request approval rejected")
		return ChangeRequest{}, err
	}
	e.logger.WithFields(log.Fields{"request": requestID, "type": approved.Type, "approved_by": actorID}).Info("request approved")
	return approved, nil
}

// Decline permanently deletes a pending request without applying it.
func (e *Engine) Decline(ctx context.Context, requestID, actorID string) (err error) {
	ctx, span := e.tracer.Start(ctx, "engine.decline", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.String("actor.id", actorID),
	))
	defer func() { endSpan(span, err) }()

	var declined ChangeRequest
	err = e.store.Atomic(ctx, func(tx Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.Pending() {
			return ErrAlreadyApproved
		}
		if req.RequestedBy == actorID {
			return ErrSelfDecline
		}
		if err := requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}
		declined = req
		return tx.DeleteRequest(ctx, req.ID)
	})
	if err != nil {
		e.logger.WithFields(log.Fields{"request": requestID, "actor": actorID}).WithError(err).Info("request decline rejected")
		return err
	}
	e.logger.WithFields(log.Fields{
		"request":      requestID,
		"type":         declined.Type,
		"requested_by": declined.RequestedBy,
		"declined_by":  actorID,
	}).Info("request declined")
	return nil
}

// Details attaches requester and approver actors to reqs.
func (e *Engine) Details(ctx context.Context, reqs []ChangeRequest) ([]RequestDetails, error) {
	return e.store.LoadParticipants(ctx, reqs)
}

func requireAdmin(ctx context.Context, dir Directory, actorID string) error {
	actor, err := dir.FindActorByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if !actor.IsAdmin {
		return ErrForbidden
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
