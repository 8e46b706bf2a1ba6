package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/MrEthical07/goEnroll/transport"
)

// ErrEmptyUserID is returned when the resolve endpoint answers without an id.
var ErrEmptyUserID = errors.New("backend: resolved user id is empty")

// Doer is the subset of *transport.Client used by the HTTP clients.
type Doer interface {
	Do(ctx context.Context, req transport.Request, out any) error
}

// IdentityClient talks to the identity/OTP service.
type IdentityClient struct {
	t    Doer
	base string
}

func NewIdentityClient(t Doer, baseURL string) *IdentityClient {
	return &IdentityClient{t: t, base: baseURL}
}

func (c *IdentityClient) ResolveUserID(ctx context.Context, email, phone string) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	q := url.Values{}
	q.Set("email", email)
	q.Set("phone", phone)
	if err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, BaseURL: c.base, Path: "/users/resolve", Query: q}, &out); err != nil {
		return "", err
	}
	if out.UserID == "" {
		return "", ErrEmptyUserID
	}
	return out.UserID, nil
}

func (c *IdentityClient) SendEmailOTP(ctx context.Context, email string) error {
	return c.post(ctx, "/otp/email/send", map[string]string{"email": email}, nil)
}

func (c *IdentityClient) VerifyEmailOTP(ctx context.Context, email, code string) error {
	return c.post(ctx, "/otp/email/verify", map[string]string{"email": email, "code": code}, nil)
}

func (c *IdentityClient) SendPhoneOTP(ctx context.Context, phone string) error {
	return c.post(ctx, "/otp/phone/send", map[string]string{"phone": phone}, nil)
}

func (c *IdentityClient) VerifyPhoneOTP(ctx context.Context, phone, code string) error {
	return c.post(ctx, "/otp/phone/verify", map[string]string{"phone": phone, "code": code}, nil)
}

func (c *IdentityClient) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var out TokenPair
	if err := c.post(ctx, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *IdentityClient) post(ctx context.Context, path string, body, out any) error {
	return c.t.Do(ctx, transport.Request{Method: http.MethodPost, BaseURL: c.base, Path: path, Body: body}, out)
}

// BiometricClient talks to the biometric service.
type BiometricClient struct {
	t    Doer
	base string
}

func NewBiometricClient(t Doer, baseURL string) *BiometricClient {
	return &BiometricClient{t: t, base: baseURL}
}

func (c *BiometricClient) RegisterDevice(ctx context.Context, req DeviceRegistration) error {
	return c.post(ctx, "/devices/register", req, nil)
}

func (c *BiometricClient) RegisterBiometric(ctx context.Context, req BiometricRegistration) error {
	return c.post(ctx, "/biometrics/register", req, nil)
}

func (c *BiometricClient) BeginRegistration(ctx context.Context, req BeginRegistrationRequest) (*RegistrationOptions, error) {
	var out RegistrationOptions
	if err := c.post(ctx, "/webauthn/register/begin", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BiometricClient) FinishRegistration(ctx context.Context, req FinishRegistrationRequest) error {
	return c.post(ctx, "/webauthn/register/finish", req, nil)
}

func (c *BiometricClient) post(ctx context.Context, path string, body, out any) error {
	return c.t.Do(ctx, transport.Request{Method: http.MethodPost, BaseURL: c.base, Path: path, Body: body}, out)
}

// UsersClient talks to the user-management service.
type UsersClient struct {
	t    Doer
	base string
}

func NewUsersClient(t Doer, baseURL string) *UsersClient {
	return &UsersClient{t: t, base: baseURL}
}

func userPath(userID, suffix string) string {
	return "/users/" + url.PathEscape(userID) + suffix
}

func (c *UsersClient) RegisterFallbackKeys(ctx context.Context, userID string) (*FallbackKeys, error) {
	var out FallbackKeys
	if err := c.do(ctx, http.MethodPost, userPath(userID, "/keys"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *UsersClient) AddSecurityQuestion(ctx context.Context, userID, question, answer string) error {
	body := map[string]string{"question": question, "answer": answer}
	return c.do(ctx, http.MethodPost, userPath(userID, "/security-questions"), body, nil)
}

func (c *UsersClient) ListSecurityQuestions(ctx context.Context, userID string) ([]string, error) {
	var out struct {
		Questions []string `json:"questions"`
	}
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/security-questions"), nil, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

func (c *UsersClient) CreateProfile(ctx context.Context, req ProfileRequest) (*ProfileResponse, error) {
	var out ProfileResponse
	if err := c.do(ctx, http.MethodPost, "/users/profile", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *UsersClient) GetProfile(ctx context.Context, userID string) (*UserRecord, error) {
	var out UserRecord
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/profile"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *UsersClient) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (*UserRecord, error) {
	var out UserRecord
	if err := c.do(ctx, http.MethodPatch, userPath(userID, "/profile"), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *UsersClient) GetRole(ctx context.Context, userID string) (*RoleInfo, error) {
	var out RoleInfo
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/role"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *UsersClient) UpdateRole(ctx context.Context, userID string, patch RolePatch) (*RoleInfo, error) {
	var out RoleInfo
	if err := c.do(ctx, http.MethodPatch, userPath(userID, "/role"), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *UsersClient) do(ctx context.Context, method, path string, body, out any) error {
	return c.t.Do(ctx, transport.Request{Method: method, BaseURL: c.base, Path: path, Body: body}, out)
}

var (
	_ Identity  = (*IdentityClient)(nil)
	_ Biometric = (*BiometricClient)(nil)
	_ Users     = (*UsersClient)(nil)
)
