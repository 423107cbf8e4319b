package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"stockanalysis/internal/domain"
)

// ---------------------------------------------------------------------------
// Request payloads
// ---------------------------------------------------------------------------

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the account creation request body.
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Phone           string `json:"phone,omitempty"`
}

// ProfileUpdate carries the editable profile fields; empty fields are
// left unchanged.
type ProfileUpdate struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// PasswordChange is the change-password request body.
type PasswordChange struct {
	OldPassword        string `json:"old_password"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// PasswordReset is the direct password reset request body.
type PasswordReset struct {
	UsernameOrEmail string `json:"username_or_email"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// LoginResult is the outcome of a login or registration.
type LoginResult struct {
	Message string
	User    domain.User
	Token   string
	Refresh string
}

type authResponse struct {
	Message     string      `json:"message"`
	User        domain.User `json:"user"`
	AccessToken string      `json:"access_token"`
	Access      string      `json:"access"`
	Refresh     string      `json:"refresh"`
}

func (a *authResponse) result() (*LoginResult, error) {
	tok := a.AccessToken
	if tok == "" {
		tok = a.Access
	}
	if tok == "" {
		return nil, fmt.Errorf("%w: response carries no access token", ErrUnexpectedShape)
	}
	return &LoginResult{Message: a.Message, User: a.User, Token: tok, Refresh: a.Refresh}, nil
}

type messageResponse struct {
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Login exchanges credentials for a token. The token is read from
// access_token, falling back to access.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	var out authResponse
	if err := c.do(ctx, UserLogin, RequestOptions{Method: http.MethodPost, Data: creds, NoAuth: true}, &out); err != nil {
		return nil, err
	}
	return out.result()
}

// Register creates an account and returns its first token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	var out authResponse
	if err := c.do(ctx, UserRegister, RequestOptions{Method: http.MethodPost, Data: req, NoAuth: true}, &out); err != nil {
		return nil, err
	}
	return out.result()
}

// Logout tells the backend to end the session. refreshToken, when known,
// is blacklisted server side.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := struct {
		RefreshToken string `json:"refresh_token,omitempty"`
	}{refreshToken}
	return c.do(ctx, UserLogout, RequestOptions{Method: http.MethodPost, Data: body}, nil)
}

// UserInfo returns the authenticated user.
func (c *Client) UserInfo(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.do(ctx, UserInfo, RequestOptions{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UserPermissions returns the authenticated user's permission set.
func (c *Client) UserPermissions(ctx context.Context) (*domain.PermissionSet, error) {
	var p domain.PermissionSet
	if err := c.do(ctx, UserPermissions, RequestOptions{}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UserProfile returns the authenticated user's profile.
func (c *Client) UserProfile(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.do(ctx, UserProfile, RequestOptions{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUserProfile saves profile changes and returns the updated profile.
func (c *Client) UpdateUserProfile(ctx context.Context, upd ProfileUpdate) (*domain.User, error) {
	var u domain.User
	if err := c.do(ctx, UserProfile, RequestOptions{Method: http.MethodPut, Data: upd}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ChangePassword changes the authenticated user's password.
func (c *Client) ChangePassword(ctx context.Context, req PasswordChange) (string, error) {
	var out messageResponse
	if err := c.do(ctx, UserChangePassword, RequestOptions{Method: http.MethodPost, Data: req}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ForgotPassword starts the email-based reset flow.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	body := map[string]string{"email": email}
	var out messageResponse
	if err := c.do(ctx, UserForgotPassword, RequestOptions{Method: http.MethodPost, Data: body, NoAuth: true}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// DirectPasswordReset sets a new password without email confirmation.
func (c *Client) DirectPasswordReset(ctx context.Context, req PasswordReset) (string, error) {
	var out messageResponse
	if err := c.do(ctx, UserDirectPasswordReset, RequestOptions{Method: http.MethodPost, Data: req, NoAuth: true}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// UserList returns the users visible to the caller: everyone for staff,
// only themselves otherwise.
func (c *Client) UserList(ctx context.Context) ([]domain.User, error) {
	resp, err := c.Request(ctx, UserList, RequestOptions{})
	if err != nil {
		return nil, err
	}
	return decodeList[domain.User](resp)
}
