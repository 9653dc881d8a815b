// Package model defines domain entities for the application.
package model

import "time"

// User is an account that can authenticate and spend credits.
// Username is the identity key and never changes after registration.
type User struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never serialize
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Credits is the ledger entry owned by exactly one user.
type Credits struct {
	OwnerUsername string `json:"owner_username"`
	Amount        int64  `json:"amount"`
}

// UserCreateRequest is the body of POST /users/.
type UserCreateRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	Username    string               `json:"username"`
	Email       string               `json:"email"`
	IsActive    bool                 `json:"is_active"`
	Credits     *int64               `json:"credits,omitempty"`
	Predictions []PredictionResponse `json:"predictions"`
}

// ToResponse converts a User to its public view with the given history.
func (u *User) ToResponse(predictions []*Prediction) UserResponse {
	resp := UserResponse{
		Username:    u.Username,
		Email:       u.Email,
		IsActive:    u.IsActive,
		Predictions: make([]PredictionResponse, 0, len(predictions)),
	}
	for _, p := range predictions {
		resp.Predictions = append(resp.Predictions, p.ToResponse())
	}
	return resp
}

// TokenResponse is the body returned by POST /token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
