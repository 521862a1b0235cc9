package api

import (
	"bytes"
	"errors"
	"io"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"admin-approvals/domain"
)

const maxBodySize = 64 * 1024 // 64 KiB

const (
	headerIdempotencyKey = "Idempotency-Key"

	msgAdminCreated      = "Admin created"
	msgLoggedIn          = "Logged in."
	msgLoggedOut         = "Logged out."
	msgRequestsRetrieved = "Requests retrieved."
	msgRequestCreated    = "Request created."
	msgRequestApproved   = "Request approved."
	msgRequestDeclined   = "Request declined."
)

// envelope is the body of every JSON response.
type envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// /POST /auth/register request body
type registerRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
}

// /POST /auth/login request body
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	User  domain.Actor `json:"user"`
	Token string       `json:"token"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// /POST /requests request body
type createRequestBody struct {
	Type domain.RequestType `json:"type"`
	Data any                `json:"data"`
}

var errBodyTooLarge = errors.New("request body too large")

// decodeBody reads at most maxBodySize bytes of JSON into v. Fields v does
// not declare are ignored.
func decodeBody(c echo.Context, v any) error {
	lr := &io.LimitedReader{R: c.Request().Body, N: maxBodySize + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return domain.NewValidationError("body", "request body could not be read")
	}
	if len(data) > maxBodySize {
		return errBodyTooLarge
	}
	if len(data) == 0 {
		return domain.NewValidationError("body", "request body is required")
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "request body must be valid JSON")
	}
	return nil
}
