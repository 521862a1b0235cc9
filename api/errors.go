package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"admin-approvals/domain"
)

var errDuplicateRequest = errors.New("duplicate idempotency key")

type apiError struct {
	status  int
	message string
	data    any
}

// classifyError maps domain errors to HTTP responses. Unknown errors become
// a generic 500 so internal details never reach the client.
func classifyError(err error) apiError {
	var validation *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrActionFailed):
		return classifyActionError(err)
	case errors.As(err, &validation):
		return apiError{http.StatusUnprocessableEntity, "The given data was invalid.", validationData(validation)}
	case errors.Is(err, domain.ErrNotFound):
		return apiError{status: http.StatusNotFound, message: "Request not found."}
	case errors.Is(err, domain.ErrAlreadyApproved):
		return apiError{status: http.StatusForbidden, message: "Request already approved."}
	case errors.Is(err, domain.ErrSelfApproval):
		return apiError{status: http.StatusForbidden, message: "Request can only be approved by other administrators."}
	case errors.Is(err, domain.ErrSelfDecline):
		return apiError{status: http.StatusForbidden, message: "Request can only be declined by other administrators."}
	case errors.Is(err, domain.ErrForbidden):
		return apiError{status: http.StatusForbidden, message: "Only administrators can manage requests."}
	case errors.Is(err, domain.ErrDuplicateEmail):
		return apiError{http.StatusUnprocessableEntity, "The email has already been taken.",
			validationData(domain.NewValidationError("email", "The email has already been taken."))}
	case errors.Is(err, domain.ErrInvalidCredentials):
		return apiError{status: http.StatusUnauthorized, message: "Invalid credentials."}
	case errors.Is(err, errDuplicateRequest):
		return apiError{status: http.StatusConflict, message: "Duplicate request."}
	case errors.Is(err, errAuthBackend):
		return apiError{status: http.StatusServiceUnavailable, message: "Service unavailable."}
	case errors.Is(err, errBodyTooLarge):
		return apiError{status: http.StatusRequestEntityTooLarge, message: "Request body too large."}
	default:
		return apiError{status: http.StatusInternalServerError, message: "Internal server error."}
	}
}

// classifyActionError treats failures caused by the payload or the current
// directory state as client errors.
func classifyActionError(err error) apiError {
	const msg = "Request could not be applied."
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		return apiError{http.StatusUnprocessableEntity, msg, validationData(validation)}
	case errors.Is(err, domain.ErrDuplicateEmail):
		return apiError{http.StatusUnprocessableEntity, msg,
			validationData(domain.NewValidationError("email", "The email has already been taken."))}
	case errors.Is(err, domain.ErrNotFound):
		return apiError{http.StatusUnprocessableEntity, msg,
			validationData(domain.NewValidationError("user_id", "The target user does not exist."))}
	default:
		return apiError{status: http.StatusInternalServerError, message: msg}
	}
}

func validationData(v *domain.ValidationError) map[string]any {
	return map[string]any{"errors": v.Fields}
}

// writeError renders err in the response envelope and logs server faults.
func writeError(c echo.Context, logger *log.Logger, err error) error {
	e := classifyError(err)
	if e.status >= http.StatusInternalServerError && logger != nil {
		logger.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"route":  c.Path(),
		}).Error("request failed")
	}
	setRequestError(c, err)
	return c.JSON(e.status, envelope{Status: false, Message: e.message, Data: e.data})
}

func writeUnauthorized(c echo.Context, err error) error {
	setErrorStage(c, "auth")
	setRequestError(c, err)
	return c.JSON(http.StatusUnauthorized, envelope{Status: false, Message: "Unauthenticated."})
}

func writeOK(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, envelope{Status: true, Message: message, Data: data})
}
