package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/creditgate/creditgate/internal/auth"
	"github.com/creditgate/creditgate/internal/middleware"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/service"
)

// maxFormBytes bounds the /token form body.
const maxFormBytes = 8 << 10

// AccountService is the account surface the handlers need.
type AccountService interface {
	Register(ctx context.Context, req model.UserCreateRequest) (*model.User, error)
	Login(ctx context.Context, username, password string) (*service.Token, error)
	Account(ctx context.Context, user *model.User) (model.UserResponse, error)
}

// AccountHandler serves registration, login and the account view.
type AccountHandler struct {
	svc        AccountService
	logger     *slog.Logger
	writeError middleware.ErrorWriter
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(svc AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		svc:        svc,
		logger:     logger,
		writeError: ErrorWriter(logger),
	}
}

// Register handles POST /users/.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.UserCreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	middleware.AddLogAttrs(r.Context(), slog.String("username", user.Username))
	writeJSON(w, http.StatusOK, user.ToResponse(nil))
}

// Token handles POST /token with an application/x-www-form-urlencoded body
// carrying username and password.
func (h *AccountHandler) Token(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", errInvalidBody, err))
		return
	}

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		h.writeError(w, r, errMissingFormKey)
		return
	}

	token, err := h.svc.Login(r.Context(), username, password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.AddLogAttrs(r.Context(), slog.String("username", username))

	writeJSON(w, http.StatusOK, model.TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
	})
}

// Me handles GET /users/me. Must be mounted behind the Auth middleware.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		h.writeError(w, r, service.ErrUnauthorized)
		return
	}

	resp, err := h.svc.Account(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeJSON decodes a single JSON value from body.
func decodeJSON(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", errInvalidBody)
	}
	return nil
}
