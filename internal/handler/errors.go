package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/creditgate/creditgate/internal/middleware"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/registry"
	"github.com/creditgate/creditgate/internal/repository"
	"github.com/creditgate/creditgate/internal/service"
)

// statusClientClosedRequest is logged when the caller disconnects first.
const statusClientClosedRequest = 499

var (
	errInvalidBody    = errors.New("invalid request body")
	errMissingFormKey = errors.New("username and password are required")
)

// ErrorBody is the machine-readable part of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every error response. Detail carries the
// human-readable message; Balance is set on 402 responses.
type ErrorResponse struct {
	Detail  string    `json:"detail"`
	Error   ErrorBody `json:"error"`
	Balance *int64    `json:"balance,omitempty"`
}

// apiError is the HTTP rendering of an application error.
type apiError struct {
	status  int
	code    string
	message string
	balance *int64
}

// classify maps application errors to HTTP responses. It is the only
// place where errors become status codes.
func classify(err error) (apiError, bool) {
	var insufficient *repository.InsufficientCreditsError
	var maxBytes *http.MaxBytesError

	switch {
	case errors.As(err, &insufficient):
		balance := insufficient.Balance
		return apiError{
			status:  http.StatusPaymentRequired,
			code:    "INSUFFICIENT_CREDITS",
			message: fmt.Sprintf("Not enough credits for this model: balance %d, price %d", insufficient.Balance, insufficient.Required),
			balance: &balance,
		}, true
	case errors.Is(err, repository.ErrInsufficientCredits):
		return apiError{status: http.StatusPaymentRequired, code: "INSUFFICIENT_CREDITS", message: "Insufficient credits"}, true
	case errors.Is(err, service.ErrInvalidCredentials):
		return apiError{status: http.StatusUnauthorized, code: "INVALID_CREDENTIALS", message: "Incorrect username or password"}, true
	case errors.Is(err, service.ErrUnauthorized):
		return apiError{status: http.StatusUnauthorized, code: "UNAUTHORIZED", message: "Could not validate credentials"}, true
	case errors.Is(err, service.ErrForbidden):
		return apiError{status: http.StatusBadRequest, code: "INACTIVE_USER", message: "Inactive user"}, true
	case errors.Is(err, service.ErrDuplicateEmail):
		return apiError{status: http.StatusBadRequest, code: "EMAIL_TAKEN", message: "Email already registered"}, true
	case errors.Is(err, service.ErrDuplicateUsername):
		return apiError{status: http.StatusBadRequest, code: "USERNAME_TAKEN", message: "Username already registered"}, true
	case errors.Is(err, service.ErrInvalidRegistration):
		return apiError{status: http.StatusBadRequest, code: "INVALID_REQUEST", message: err.Error()}, true
	case errors.Is(err, errInvalidBody), errors.Is(err, errMissingFormKey):
		return apiError{status: http.StatusBadRequest, code: "INVALID_REQUEST", message: err.Error()}, true
	case errors.As(err, &maxBytes):
		return apiError{status: http.StatusRequestEntityTooLarge, code: "PAYLOAD_TOO_LARGE", message: fmt.Sprintf("Request body exceeds %d bytes", maxBytes.Limit)}, true
	case errors.Is(err, model.ErrUnknownModel):
		return apiError{status: http.StatusNotFound, code: "UNKNOWN_MODEL", message: err.Error()}, true
	case errors.Is(err, service.ErrPrediction):
		return apiError{status: http.StatusUnprocessableEntity, code: "PREDICTION_FAILED", message: err.Error()}, true
	// A load error may wrap context.DeadlineExceeded and must stay a 500.
	case errors.Is(err, registry.ErrModelLoad):
		return apiError{status: http.StatusInternalServerError, code: "MODEL_LOAD_FAILED", message: "Model could not be loaded"}, false
	case errors.Is(err, service.ErrPredictionTimeout), errors.Is(err, context.DeadlineExceeded):
		return apiError{status: http.StatusGatewayTimeout, code: "PREDICTION_TIMEOUT", message: "Prediction timed out"}, true
	case errors.Is(err, context.Canceled):
		return apiError{status: statusClientClosedRequest, code: "CANCELLED", message: "Request cancelled"}, true
	default:
		return apiError{status: http.StatusInternalServerError, code: "INTERNAL_ERROR", message: "An internal error occurred"}, false
	}
}

// ErrorWriter returns the application-wide error renderer. Errors that do
// not map to a client fault are logged with the request ID.
func ErrorWriter(logger *slog.Logger) middleware.ErrorWriter {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		apiErr, expected := classify(err)
		middleware.AddLogAttrs(r.Context(), slog.String("error_code", apiErr.code))
		if !expected {
			logger.Error("request failed",
				slog.String("error", err.Error()),
				slog.String("request_id", middleware.GetRequestID(r.Context())),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
			)
		}

		if apiErr.status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}

		writeJSON(w, apiErr.status, ErrorResponse{
			Detail:  apiErr.message,
			Error:   ErrorBody{Code: apiErr.code, Message: apiErr.message},
			Balance: apiErr.balance,
		})
	}
}
