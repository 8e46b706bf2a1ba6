// Package backend describes the three services the enrollment engine talks
// to (identity/OTP, biometric, user management) and provides HTTP clients
// for them on top of package transport.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// UserRecord is the user document returned by the user-management service.
type UserRecord struct {
	ID                 string `json:"id"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
	FirstName          string `json:"first_name,omitempty"`
	LastName           string `json:"last_name,omitempty"`
	DateOfBirth        string `json:"date_of_birth,omitempty"`
	Region             string `json:"region,omitempty"`
	AdminRole          string `json:"admin_role,omitempty"`
	UserType           string `json:"user_type,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
}

// RoleInfo is the role/type/subscription triple for one user.
type RoleInfo struct {
	AdminRole          string `json:"admin_role"`
	UserType           string `json:"user_type"`
	SubscriptionStatus string `json:"subscription_status"`
}

// RolePatch updates any non-empty field of a user's role triple.
type RolePatch struct {
	AdminRole          string `json:"admin_role,omitempty"`
	UserType           string `json:"user_type,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
}

// Expiry is a credential lifetime descriptor such as "15m" or "7d". A bare
// JSON number is read as seconds.
type Expiry string

func (e *Expiry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = Expiry(s)
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("expiry: %w", err)
	}
	*e = Expiry(strconv.FormatInt(n, 10) + "s")
	return nil
}

// TokenPair is a freshly issued access/refresh pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    Expiry `json:"expires_in"`
}

// FallbackKeys describes the server-held key pair registered for a user.
// The private half never leaves the user-management service.
type FallbackKeys struct {
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"`
	Algorithm string `json:"algorithm"`
}

type DeviceRegistration struct {
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
	Fingerprint string `json:"fingerprint"`
	Platform    string `json:"platform"`
}

type BiometricRegistration struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	Type     string `json:"type"`
}

type BeginRegistrationRequest struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// RegistrationOptions is the server's public-key creation challenge.
// Challenge and User.ID are base64url encoded.
type RegistrationOptions struct {
	Challenge string `json:"challenge"`
	User      struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	} `json:"user"`
	RP struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"rp"`
	Timeout int `json:"timeout"`
}

// FinishRegistrationRequest returns the attestation to the biometric
// service. Binary blobs travel as arrays of byte values.
type FinishRegistrationRequest struct {
	UserID            string `json:"user_id"`
	CredentialID      string `json:"credential_id"`
	Type              string `json:"type"`
	AttestationObject []int  `json:"attestation_object"`
	ClientDataJSON    []int  `json:"client_data_json"`
}

// ProfileRequest creates the user profile at the end of enrollment.
type ProfileRequest struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Region      string `json:"region,omitempty"`
	AdminRole   string `json:"admin_role,omitempty"`
	UserType    string `json:"user_type,omitempty"`
}

// ProfileResponse carries the new user and the first credential pair.
type ProfileResponse struct {
	User         UserRecord `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    Expiry     `json:"expires_in"`
}

// ProfilePatch updates any non-empty profile field.
type ProfilePatch struct {
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Region      string `json:"region,omitempty"`
}

// Identity is the identity/OTP service.
type Identity interface {
	ResolveUserID(ctx context.Context, email, phone string) (string, error)
	SendEmailOTP(ctx context.Context, email string) error
	VerifyEmailOTP(ctx context.Context, email, code string) error
	SendPhoneOTP(ctx context.Context, phone string) error
	VerifyPhoneOTP(ctx context.Context, phone, code string) error
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// Biometric is the device and public-key credential service.
type Biometric interface {
	RegisterDevice(ctx context.Context, req DeviceRegistration) error
	RegisterBiometric(ctx context.Context, req BiometricRegistration) error
	BeginRegistration(ctx context.Context, req BeginRegistrationRequest) (*RegistrationOptions, error)
	FinishRegistration(ctx context.Context, req FinishRegistrationRequest) error
}

// Users is the user-management service.
type Users interface {
	RegisterFallbackKeys(ctx context.Context, userID string) (*FallbackKeys, error)
	AddSecurityQuestion(ctx context.Context, userID, question, answer string) error
	ListSecurityQuestions(ctx context.Context, userID string) ([]string, error)
	CreateProfile(ctx context.Context, req ProfileRequest) (*ProfileResponse, error)
	GetProfile(ctx context.Context, userID string) (*UserRecord, error)
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (*UserRecord, error)
	GetRole(ctx context.Context, userID string) (*RoleInfo, error)
	UpdateRole(ctx context.Context, userID string, patch RolePatch) (*RoleInfo, error)
}
