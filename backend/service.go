// Package backend is the client for the REST session endpoints under the
// backend's auth namespace.
package backend

import (
	"context"
	"encoding/json"

	"github.com/jrsteele09/go-session-client/tokenstore"
)

// Endpoint paths relative to the auth namespace.
const (
	AuthNamespace            = "auth"
	PathLogin                = "login"
	PathRegister             = "register"
	PathLogout               = "logout"
	PathTokenRefresh         = "token/refresh"
	PathCheckAuth            = "check-auth"
	PathVerifyEmail          = "email/verify"
	PathVerifySecondFactor   = "2fa/verify"
	PathPasswordReset        = "password/reset"
	PathPasswordResetConfirm = "password/reset/confirm"
)

// Service is the backend contract the session manager depends on. Every
// method returns *StatusError when the backend answered with an error status
// and *TransportError when no response was received.
type Service interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	Register(ctx context.Context, req RegisterRequest) (map[string]any, error)
	Logout(ctx context.Context, refresh string) error
	RefreshToken(ctx context.Context, refresh string) (*RefreshResponse, error)
	CheckAuth(ctx context.Context, access string) (*CheckAuthResponse, error)
	VerifyEmail(ctx context.Context, key string) (map[string]any, error)
	VerifySecondFactor(ctx context.Context, req SecondFactorRequest) (*LoginResponse, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, req PasswordResetConfirm) error
}

// LoginResponse is returned by login and 2fa/verify.
type LoginResponse struct {
	// Access is the short-lived bearer token.
	Access string `json:"access"`

	// Refresh mints new access tokens through token/refresh.
	Refresh string `json:"refresh"`

	// User is the authoritative summary, when the backend includes it.
	User *tokenstore.UserSummary `json:"user,omitempty"`

	// RequiresSecondFactor means no tokens were issued yet; UserID and
	// TempToken identify the pending challenge for 2fa/verify.
	RequiresSecondFactor bool   `json:"requires_2fa,omitempty"`
	UserID               string `json:"user_id,omitempty"`
	TempToken            string `json:"temp_token,omitempty"`
}

// UnmarshalJSON accepts user_id as a string or a number.
func (r *LoginResponse) UnmarshalJSON(data []byte) error {
	type alias LoginResponse
	var raw struct {
		alias
		UserID json.RawMessage `json:"user_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := tokenstore.FlexibleID(raw.UserID)
	if err != nil {
		return err
	}
	*r = LoginResponse(raw.alias)
	r.UserID = id
	return nil
}

type RefreshResponse struct {
	Access string `json:"access"`
}

type CheckAuthResponse struct {
	IsAuthenticated bool                    `json:"isAuthenticated"`
	User            *tokenstore.UserSummary `json:"user,omitempty"`
}

// RegisterRequest is the registration body. Optional fields are pointers and
// are left out of the JSON when nil.
type RegisterRequest struct {
	Username        string  `json:"username"`
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	PasswordConfirm string  `json:"password_confirm"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	PhoneNumber     *string `json:"phone_number,omitempty"`
	OrganizationID  *string `json:"organization_id,omitempty"`
}

type SecondFactorRequest struct {
	Code      string `json:"code"`
	UserID    string `json:"user_id,omitempty"`
	TempToken string `json:"temp_token,omitempty"`
}

type PasswordResetConfirm struct {
	Token    string `json:"token"`
	Password string `json:"password"`
	UserID   string `json:"user_id,omitempty"`
}
