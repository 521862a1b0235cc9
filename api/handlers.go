package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"admin-approvals/domain"
)

const healthTimeout = 2 * time.Second

// Deps holds the collaborators the handlers need. Deduper and Redis are
// optional: without them idempotency keys are ignored and the notification
// stream is not registered.
type Deps struct {
	Approvals Approvals
	Accounts  Accounts
	Auth      Authenticator
	Deduper   Deduper
	Redis     *redis.Client
	// Health lists the dependencies /healthz pings.
	Health map[string]Pinger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	authed := requireIdentity(deps.Auth, false, logger)

	e.POST("/auth/register", register(deps.Accounts, deps.Auth, logger))
	e.POST("/auth/login", login(deps.Accounts, deps.Auth, logger))
	e.POST("/auth/logout", logout(deps.Auth, logger), authed)

	e.GET("/requests", listRequests(deps.Approvals, logger), authed)
	e.POST("/requests", createRequest(deps.Approvals, deps.Deduper, logger), authed)
	e.POST("/requests/:id/approve", approveRequest(deps.Approvals, logger), authed)
	e.POST("/requests/:id/decline", declineRequest(deps.Approvals, logger), authed)

	if deps.Redis != nil {
		e.GET("/notifications/stream", streamNotifications(deps.Redis, logger), requireIdentity(deps.Auth, true, logger))
	}
	e.GET("/healthz", healthz(deps.Health, logger))
}

func healthz(checks map[string]Pinger, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		failed := make(map[string]string)
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				logger.WithError(err).WithField("dependency", name).Warn("health check failed")
				failed[name] = "unavailable"
			}
		}
		if len(failed) > 0 {
			return c.JSON(http.StatusServiceUnavailable, envelope{Status: false, Message: "Service unavailable.", Data: failed})
		}
		return writeOK(c, http.StatusOK, "OK", nil)
	}
}

func register(accounts Accounts, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body registerRequest
		if err := decodeBody(c, &body); err != nil {
			setErrorStage(c, "decode")
			return writeError(c, logger, err)
		}
		reg := domain.Registration{
			FirstName: body.FirstName,
			LastName:  body.LastName,
			Email:     body.Email,
			Password:  body.Password,
		}
		if err := reg.Validate(); err != nil {
			setErrorStage(c, "validate")
			return writeError(c, logger, err)
		}

		ctx := c.Request().Context()
		actor, err := accounts.CreateActor(ctx, domain.NewActor{
			FirstName: reg.FirstName,
			LastName:  reg.LastName,
			Email:     reg.Email,
			Password:  reg.Password,
			IsAdmin:   true,
		})
		if err != nil {
			setErrorStage(c, "create_actor")
			return writeError(c, logger, err)
		}
		token, err := auth.Issue(actor.ID)
		if err != nil {
			setErrorStage(c, "issue_token")
			return writeError(c, logger, err)
		}
		setMetricsActor(c, actor.ID)
		logger.WithFields(log.Fields{"actor": actor.ID}).Info("admin registered")
		return writeOK(c, http.StatusCreated, msgAdminCreated, registerResponse{User: actor, Token: token})
	}
}

func login(accounts Accounts, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body loginRequest
		if err := decodeBody(c, &body); err != nil {
			setErrorStage(c, "decode")
			return writeError(c, logger, err)
		}
		creds := domain.Credentials{Email: body.Email, Password: body.Password}
		if err := creds.Validate(); err != nil {
			setErrorStage(c, "validate")
			return writeError(c, logger, err)
		}

		actor, err := accounts.FindActorByEmail(c.Request().Context(), creds.Email)
		if err != nil {
			setErrorStage(c, "lookup")
			return writeError(c, logger, err)
		}
		if actor == nil || !actor.PasswordMatches(creds.Password) {
			setErrorStage(c, "credentials")
			return writeError(c, logger, domain.ErrInvalidCredentials)
		}
		token, err := auth.Issue(actor.ID)
		if err != nil {
			setErrorStage(c, "issue_token")
			return writeError(c, logger, err)
		}
		setMetricsActor(c, actor.ID)
		return writeOK(c, http.StatusOK, msgLoggedIn, loginResponse{Token: token})
	}
}

func logout(auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := auth.Revoke(c.Request().Context(), identityFrom(c)); err != nil {
			setErrorStage(c, "revoke")
			return writeError(c, logger, err)
		}
		return writeOK(c, http.StatusOK, msgLoggedOut, nil)
	}
}

func listRequests(approvals Approvals, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actorID := identityFrom(c).ActorID
		pending, err := approvals.ListPending(ctx, actorID)
		if err != nil {
			setErrorStage(c, "list")
			return writeError(c, logger, err)
		}
		details, err := approvals.Details(ctx, pending)
		if err != nil {
			setErrorStage(c, "participants")
			return writeError(c, logger, err)
		}
		if details == nil {
			details = []domain.RequestDetails{}
		}
		return writeOK(c, http.StatusOK, msgRequestsRetrieved, details)
	}
}

func createRequest(approvals Approvals, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actorID := identityFrom(c).ActorID

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		if key != "" && deduper != nil {
			added, addErr := deduper.Add(ctx, actorID, key)
			if addErr != nil {
				setErrorStage(c, "idempotency")
				return writeError(c, logger, addErr)
			}
			if !added {
				setErrorStage(c, "idempotency")
				return writeError(c, logger, errDuplicateRequest)
			}
			defer func() {
				if c.Response().Status < http.StatusBadRequest {
					return
				}
				if rmErr := deduper.Remove(context.WithoutCancel(ctx), actorID, key); rmErr != nil {
					logger.WithError(rmErr).WithField("actor", actorID).Warn("failed to release idempotency key")
				}
			}()
		}

		var body createRequestBody
		if err := decodeBody(c, &body); err != nil {
			setErrorStage(c, "decode")
			return writeError(c, logger, err)
		}
		data, ok := body.Data.(map[string]any)
		if !ok {
			setErrorStage(c, "validate")
			return writeError(c, logger, domain.NewValidationError("data", "The data field must be an object."))
		}

		req, err := approvals.Propose(ctx, body.Type, domain.Payload(data), actorID)
		if err != nil {
			setErrorStage(c, "propose")
			return writeError(c, logger, err)
		}
		details, err := approvals.Details(ctx, []domain.ChangeRequest{req})
		if err != nil {
			setErrorStage(c, "participants")
			return writeError(c, logger, err)
		}
		return writeOK(c, http.StatusCreated, msgRequestCreated, details[0])
	}
}

func approveRequest(approvals Approvals, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		approved, err := approvals.Approve(ctx, c.Param("id"), identityFrom(c).ActorID)
		if err != nil {
			setErrorStage(c, "approve")
			return writeError(c, logger, err)
		}
		details, err := approvals.Details(ctx, []domain.ChangeRequest{approved})
		if err != nil {
			setErrorStage(c, "participants")
			return writeError(c, logger, err)
		}
		return writeOK(c, http.StatusOK, msgRequestApproved, details[0])
	}
}

func declineRequest(approvals Approvals, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := approvals.Decline(c.Request().Context(), c.Param("id"), identityFrom(c).ActorID); err != nil {
			setErrorStage(c, "decline")
			return writeError(c, logger, err)
		}
		return writeOK(c, http.StatusOK, msgRequestDeclined, nil)
	}
}
