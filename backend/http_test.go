package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/MrEthical07/goEnroll/transport"
)

type recordingDoer struct {
	calls    []transport.Request
	response string
	err      error
}

func (d *recordingDoer) Do(_ context.Context, req transport.Request, out any) error {
	d.calls = append(d.calls, req)
	if d.err != nil {
		return d.err
	}
	if out != nil && d.response != "" {
		return json.Unmarshal([]byte(d.response), out)
	}
	return nil
}

func (d *recordingDoer) last(t *testing.T) transport.Request {
	t.Helper()
	if len(d.calls) == 0 {
		t.Fatal("expected a recorded call")
	}
	return d.calls[len(d.calls)-1]
}

func TestIdentityClientRoutes(t *testing.T) {
	d := &recordingDoer{response: `{"user_id":"u-1"}`}
	c := NewIdentityClient(d, "https://id.example/api")
	ctx := context.Background()

	id, err := c.ResolveUserID(ctx, "a@b.com", "+15551234567")
	if err != nil || id != "u-1" {
		t.Fatalf("ResolveUserID = %q, %v", id, err)
	}
	req := d.last(t)
	if req.Method != http.MethodGet || req.Path != "/users/resolve" || req.Query.Get("phone") != "+15551234567" || req.BaseURL != "https://id.example/api" {
		t.Fatalf("unexpected resolve request: %+v", req)
	}

	routes := []struct {
		call func() error
		path string
	}{
		{func() error { return c.SendEmailOTP(ctx, "a@b.com") }, "/otp/email/send"},
		{func() error { return c.VerifyEmailOTP(ctx, "a@b.com", "123456") }, "/otp/email/verify"},
		{func() error { return c.SendPhoneOTP(ctx, "+1555") }, "/otp/phone/send"},
		{func() error { return c.VerifyPhoneOTP(ctx, "+1555", "000000") }, "/otp/phone/verify"},
	}
	for _, r := range routes {
		if err := r.call(); err != nil {
			t.Fatalf("%s failed: %v", r.path, err)
		}
		if got := d.last(t); got.Method != http.MethodPost || got.Path != r.path {
			t.Fatalf("expected POST %s, got %s %s", r.path, got.Method, got.Path)
		}
	}
}

func TestResolveUserIDRejectsEmpty(t *testing.T) {
	d := &recordingDoer{response: `{}`}
	if _, err := NewIdentityClient(d, "x").ResolveUserID(context.Background(), "a@b.com", "+1"); !errors.Is(err, ErrEmptyUserID) {
		t.Fatalf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestRefreshDecodesNumericExpiry(t *testing.T) {
	d := &recordingDoer{response: `{"access_token":"a2","refresh_token":"r2","expires_in":900}`}
	pair, err := NewIdentityClient(d, "x").Refresh(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.ExpiresIn != "900s" || pair.RefreshToken != "r2" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	body, _ := d.last(t).Body.(map[string]string)
	if body["refresh_token"] != "r1" {
		t.Fatalf("expected refresh token in body, got %+v", d.last(t).Body)
	}
}

func TestExpiryUnmarshal(t *testing.T) {
	tests := map[string]Expiry{
		`"15m"`: "15m",
		`60`:    "60s",
		`null`:  "",
	}
	for raw, want := range tests {
		var e Expiry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			t.Fatalf("unmarshal %s failed: %v", raw, err)
		}
		if e != want {
			t.Fatalf("unmarshal %s = %q, want %q", raw, e, want)
		}
	}
	var e Expiry
	if err := json.Unmarshal([]byte(`1.5`), &e); err == nil {
		t.Fatal("expected error for fractional expiry")
	}
}

func TestUsersClientRoutes(t *testing.T) {
	d := &recordingDoer{}
	c := NewUsersClient(d, "https://users.example")
	ctx := context.Background()

	_, _ = c.RegisterFallbackKeys(ctx, "u/1")
	if got := d.last(t); got.Method != http.MethodPost || got.Path != "/users/u%2F1/keys" {
		t.Fatalf("unexpected keys request %s %s", got.Method, got.Path)
	}

	_ = c.AddSecurityQuestion(ctx, "u1", "First pet?", "Rex")
	if got := d.last(t); got.Path != "/users/u1/security-questions" || got.Method != http.MethodPost {
		t.Fatalf("unexpected add question request %s %s", got.Method, got.Path)
	}

	_, _ = c.ListSecurityQuestions(ctx, "u1")
	if got := d.last(t); got.Method != http.MethodGet {
		t.Fatalf("expected GET for list, got %s", got.Method)
	}

	_, _ = c.UpdateRole(ctx, "u1", RolePatch{AdminRole: "editor"})
	if got := d.last(t); got.Method != http.MethodPatch || got.Path != "/users/u1/role" {
		t.Fatalf("unexpected role patch %s %s", got.Method, got.Path)
	}

	_, _ = c.CreateProfile(ctx, ProfileRequest{UserID: "u1"})
	if got := d.last(t); got.Path != "/users/profile" {
		t.Fatalf("unexpected profile path %s", got.Path)
	}
}

func TestBiometricClientPropagatesErrors(t *testing.T) {
	want := &transport.Error{Status: http.StatusBadGateway, Message: "down"}
	d := &recordingDoer{err: want}
	c := NewBiometricClient(d, "https://bio.example")
	if _, err := c.BeginRegistration(context.Background(), BeginRegistrationRequest{UserID: "u1"}); !errors.Is(err, want) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if got := d.last(t); got.Path != "/webauthn/register/begin" {
		t.Fatalf("unexpected path %s", got.Path)
	}
}
