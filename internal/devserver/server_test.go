package devserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/internal/answer"
	"github.com/MrEthical07/goEnroll/internal/clock"
	"github.com/gofiber/fiber/v2"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig(clk clock.Clock) Config {
	cfg := DefaultConfig()
	cfg.JWTSecret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Clock = clk
	cfg.DisableRateLimit = true
	cfg.Answers = answer.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func newServer(t *testing.T, mutate ...func(*Config)) (*Server, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testStart)
	cfg := testConfig(clk)
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, clk
}

type response struct {
	status int
	header http.Header
	body   map[string]any
	raw    []byte
}

func (r response) str(key string) string {
	v, _ := r.body[key].(string)
	return v
}

func call(t *testing.T, srv *Server, method, path string, body any, token string) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	out := response{status: resp.StatusCode, header: resp.Header, raw: raw}
	_ = json.Unmarshal(raw, &out.body)
	return out
}

func mustStatus(t *testing.T, r response, want int) {
	t.Helper()
	if r.status != want {
		t.Fatalf("status %d, want %d: %s", r.status, want, r.raw)
	}
}

func verifyEmail(t *testing.T, srv *Server, email string) {
	t.Helper()
	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/email/send", map[string]string{"email": email}, ""), fiber.StatusOK)
	code, ok := srv.LastCode("email", email)
	if !ok {
		t.Fatal("no code issued")
	}
	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/email/verify", map[string]string{"email": email, "code": code}, ""), fiber.StatusOK)
}

type enrolled struct {
	userID  string
	access  string
	refresh string
}

// enroll runs the HTTP side of an enrollment for email with role.
func enroll(t *testing.T, srv *Server, email, role string) enrolled {
	t.Helper()
	verifyEmail(t, srv, email)

	r := call(t, srv, http.MethodGet, "/identity/users/resolve?email="+email, nil, "")
	mustStatus(t, r, fiber.StatusOK)
	id := r.str("user_id")

	mustStatus(t, call(t, srv, http.MethodPost, "/management/users/"+id+"/security-questions",
		map[string]string{"question": "First pet?", "answer": "Rex"}, ""), fiber.StatusCreated)

	r = call(t, srv, http.MethodPost, "/management/users/profile", backend.ProfileRequest{
		UserID:    id,
		Email:     email,
		FirstName: "Ada",
		LastName:  "Lovelace",
		AdminRole: role,
	}, "")
	mustStatus(t, r, fiber.StatusCreated)

	var wrapped struct {
		Data backend.ProfileResponse `json:"data"`
	}
	if err := json.Unmarshal(r.raw, &wrapped); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	return enrolled{userID: id, access: wrapped.Data.AccessToken, refresh: wrapped.Data.RefreshToken}
}

func TestEmailOTPFlow(t *testing.T) {
	srv, _ := newServer(t)

	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/email/send", map[string]string{"email": "A@B.com"}, ""), fiber.StatusOK)
	code, ok := srv.LastCode("email", "a@b.com")
	if !ok || len(code) != 6 {
		t.Fatalf("expected a 6 digit code, got %q", code)
	}

	r := call(t, srv, http.MethodPost, "/identity/otp/email/verify", map[string]string{"email": "a@b.com", "code": "not-it"}, "")
	mustStatus(t, r, fiber.StatusBadRequest)
	if r.str("message") != "Invalid or expired code." {
		t.Fatalf("unexpected message %q", r.str("message"))
	}

	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/email/verify", map[string]string{"email": "a@b.com", "code": code}, ""), fiber.StatusOK)
	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/email/verify", map[string]string{"email": "a@b.com", "code": code}, ""), fiber.StatusBadRequest)
}

func TestOTPAttemptBudget(t *testing.T) {
	srv, _ := newServer(t, func(c *Config) { c.OTPAttempts = 2 })

	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/phone/send", map[string]string{"phone": "+15551234567"}, ""), fiber.StatusOK)
	code, _ := srv.LastCode("phone", "+15551234567")

	call(t, srv, http.MethodPost, "/identity/otp/phone/verify", map[string]string{"phone": "+15551234567", "code": "000000x"}, "")
	r := call(t, srv, http.MethodPost, "/identity/otp/phone/verify", map[string]string{"phone": "+15551234567", "code": "000000x"}, "")
	if !strings.HasPrefix(r.str("message"), "Too many incorrect attempts") {
		t.Fatalf("unexpected message %q", r.str("message"))
	}
	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/phone/verify", map[string]string{"phone": "+15551234567", "code": code}, ""), fiber.StatusBadRequest)
}

func TestOTPExpires(t *testing.T) {
	srv, clk := newServer(t)

	call(t, srv, http.MethodPost, "/identity/otp/email/send", map[string]string{"email": "a@b.com"}, "")
	code, _ := srv.LastCode("email", "a@b.com")
	clk.Advance(11 * time.Minute)

	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/email/verify", map[string]string{"email": "a@b.com", "code": code}, ""), fiber.StatusBadRequest)
}

func TestOTPSendValidatesDestination(t *testing.T) {
	srv, _ := newServer(t)

	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/email/send", map[string]string{"email": "nope"}, ""), fiber.StatusBadRequest)
	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/phone/send", map[string]string{"phone": "5551234"}, ""), fiber.StatusBadRequest)
}

func TestSendOTPRateLimited(t *testing.T) {
	srv, _ := newServer(t, func(c *Config) { c.DisableRateLimit = false })

	for i := 0; i < 5; i++ {
		mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/email/send", map[string]string{"email": "a@b.com"}, ""), fiber.StatusOK)
	}
	r := call(t, srv, http.MethodPost, "/identity/otp/email/send", map[string]string{"email": "a@b.com"}, "")
	mustStatus(t, r, fiber.StatusTooManyRequests)
	if r.header.Get("Retry-After") == "" || !strings.HasPrefix(r.str("message"), "Too many requests.") {
		t.Fatalf("unexpected 429 response: %v %s", r.header, r.raw)
	}

	mustStatus(t, call(t, srv, http.MethodPost, "/identity/otp/email/send", map[string]string{"email": "c@d.com"}, ""), fiber.StatusOK)
}

func TestResolveRequiresVerifiedEmail(t *testing.T) {
	srv, _ := newServer(t)

	mustStatus(t, call(t, srv, http.MethodGet, "/identity/users/resolve?email=a@b.com", nil, ""), fiber.StatusForbidden)
	mustStatus(t, call(t, srv, http.MethodGet, "/identity/users/resolve", nil, ""), fiber.StatusBadRequest)

	verifyEmail(t, srv, "a@b.com")
	first := call(t, srv, http.MethodGet, "/identity/users/resolve?email=a@b.com&phone=%2B15551234567", nil, "")
	second := call(t, srv, http.MethodGet, "/identity/users/resolve?email=a@b.com", nil, "")
	if first.str("user_id") == "" || first.str("user_id") != second.str("user_id") {
		t.Fatalf("resolve must be stable: %q vs %q", first.str("user_id"), second.str("user_id"))
	}
}

func TestProfileRequiresSecurityQuestion(t *testing.T) {
	srv, _ := newServer(t)
	verifyEmail(t, srv, "a@b.com")
	id := call(t, srv, http.MethodGet, "/identity/users/resolve?email=a@b.com", nil, "").str("user_id")

	r := call(t, srv, http.MethodPost, "/management/users/profile", backend.ProfileRequest{
		UserID: id, Email: "a@b.com", FirstName: "Ada", LastName: "Lovelace",
	}, "")
	mustStatus(t, r, fiber.StatusConflict)
}

func TestSecurityQuestions(t *testing.T) {
	srv, _ := newServer(t)
	verifyEmail(t, srv, "a@b.com")
	id := call(t, srv, http.MethodGet, "/identity/users/resolve?email=a@b.com", nil, "").str("user_id")
	path := "/management/users/" + id + "/security-questions"

	mustStatus(t, call(t, srv, http.MethodPost, path, map[string]string{"question": "Birth city?", "answer": "x"}, ""), fiber.StatusBadRequest)
	mustStatus(t, call(t, srv, http.MethodPost, path, map[string]string{"question": "Birth city?", "answer": "Lyon"}, ""), fiber.StatusCreated)
	mustStatus(t, call(t, srv, http.MethodPost, path, map[string]string{"question": "birth city?", "answer": "Paris"}, ""), fiber.StatusCreated)

	r := call(t, srv, http.MethodGet, path, nil, "")
	questions, _ := r.body["questions"].([]any)
	if len(questions) != 1 {
		t.Fatalf("expected re-asked question to replace the first, got %v", questions)
	}

	mustStatus(t, call(t, srv, http.MethodGet, "/management/users/missing/security-questions", nil, ""), fiber.StatusNotFound)
}

func TestRefreshRotationAndReuse(t *testing.T) {
	srv, _ := newServer(t)
	e := enroll(t, srv, "a@b.com", "editor")

	r := call(t, srv, http.MethodPost, "/identity/auth/refresh", map[string]string{"refresh_token": e.refresh}, "")
	mustStatus(t, r, fiber.StatusOK)
	next := r.str("refresh_token")
	if next == "" || next == e.refresh || r.str("expires_in") != "15m" {
		t.Fatalf("unexpected rotation %s", r.raw)
	}
	claims, err := srv.tokens.Parse(r.str("access_token"))
	if err != nil || claims.UserID() != e.userID || claims.Role != "editor" {
		t.Fatalf("unexpected access claims %+v (%v)", claims, err)
	}

	r = call(t, srv, http.MethodPost, "/identity/auth/refresh", map[string]string{"refresh_token": e.refresh}, "")
	mustStatus(t, r, fiber.StatusUnauthorized)
	if !strings.Contains(r.str("message"), "reuse") {
		t.Fatalf("expected reuse message, got %q", r.str("message"))
	}

	// The family is revoked, so the newest token dies with it.
	mustStatus(t, call(t, srv, http.MethodPost, "/identity/auth/refresh", map[string]string{"refresh_token": next}, ""), fiber.StatusUnauthorized)
	mustStatus(t, call(t, srv, http.MethodPost, "/identity/auth/refresh", map[string]string{"refresh_token": "garbage"}, ""), fiber.StatusUnauthorized)
}

func TestRefreshFamilyExpires(t *testing.T) {
	srv, clk := newServer(t)
	e := enroll(t, srv, "a@b.com", "")

	clk.Advance(8 * 24 * time.Hour)
	mustStatus(t, call(t, srv, http.MethodPost, "/identity/auth/refresh", map[string]string{"refresh_token": e.refresh}, ""), fiber.StatusUnauthorized)
}

func TestGuardedManagementRoutes(t *testing.T) {
	srv, _ := newServer(t)
	user := enroll(t, srv, "a@b.com", "")
	admin := enroll(t, srv, "root@b.com", "admin")

	mustStatus(t, call(t, srv, http.MethodGet, "/management/users/"+user.userID+"/profile", nil, ""), fiber.StatusUnauthorized)
	mustStatus(t, call(t, srv, http.MethodGet, "/management/users/"+admin.userID+"/profile", nil, user.access), fiber.StatusForbidden)

	r := call(t, srv, http.MethodGet, "/management/users/"+user.userID+"/role", nil, user.access)
	mustStatus(t, r, fiber.StatusOK)
	if r.str("admin_role") != "user" || r.str("user_type") != "voter" || r.str("subscription_status") != "free" {
		t.Fatalf("unexpected role triple %s", r.raw)
	}

	mustStatus(t, call(t, srv, http.MethodPatch, "/management/users/"+user.userID+"/role", backend.RolePatch{AdminRole: "admin"}, user.access), fiber.StatusForbidden)
	mustStatus(t, call(t, srv, http.MethodPatch, "/management/users/"+user.userID+"/role", backend.RolePatch{AdminRole: "wizard"}, admin.access), fiber.StatusBadRequest)

	r = call(t, srv, http.MethodPatch, "/management/users/"+user.userID+"/role", backend.RolePatch{AdminRole: "Moderator"}, admin.access)
	mustStatus(t, r, fiber.StatusOK)
	if r.str("admin_role") != "moderator" {
		t.Fatalf("expected normalized role, got %s", r.raw)
	}

	r = call(t, srv, http.MethodPatch, "/management/users/"+user.userID+"/profile", backend.ProfilePatch{Region: " EU "}, user.access)
	mustStatus(t, r, fiber.StatusOK)
	if r.str("region") != "EU" || r.str("first_name") != "Ada" {
		t.Fatalf("unexpected profile %s", r.raw)
	}
}

func TestFallbackKeys(t *testing.T) {
	srv, _ := newServer(t)
	e := enroll(t, srv, "a@b.com", "")

	r := call(t, srv, http.MethodPost, "/management/users/"+e.userID+"/keys", nil, "")
	mustStatus(t, r, fiber.StatusCreated)
	pub, err := base64.StdEncoding.DecodeString(r.str("public_key"))
	if err != nil || len(pub) != 32 || r.str("algorithm") != "ed25519" || r.str("key_id") == "" {
		t.Fatalf("unexpected keys response %s", r.raw)
	}
	if strings.Contains(string(r.raw), "private") {
		t.Fatal("private key leaked")
	}
}

func TestWebAuthnRegistration(t *testing.T) {
	srv, _ := newServer(t)
	e := enroll(t, srv, "a@b.com", "")

	mustStatus(t, call(t, srv, http.MethodPost, "/biometric/biometrics/register",
		backend.BiometricRegistration{UserID: e.userID, DeviceID: "d-1", Type: "platform"}, ""), fiber.StatusConflict)
	mustStatus(t, call(t, srv, http.MethodPost, "/biometric/devices/register",
		backend.DeviceRegistration{UserID: e.userID, DeviceID: "d-1", Platform: "linux"}, ""), fiber.StatusCreated)
	mustStatus(t, call(t, srv, http.MethodPost, "/biometric/biometrics/register",
		backend.BiometricRegistration{UserID: e.userID, DeviceID: "d-1", Type: "platform"}, ""), fiber.StatusCreated)

	r := call(t, srv, http.MethodPost, "/biometric/webauthn/register/begin",
		backend.BeginRegistrationRequest{UserID: e.userID, Username: "a@b.com"}, "")
	mustStatus(t, r, fiber.StatusOK)
	var opts backend.RegistrationOptions
	if err := json.Unmarshal(r.raw, &opts); err != nil {
		t.Fatalf("decode options: %v", err)
	}
	if opts.RP.ID != "localhost" || opts.Timeout != 60000 {
		t.Fatalf("unexpected options %+v", opts)
	}

	finish := func(challenge string) response {
		cd, _ := json.Marshal(map[string]string{"type": "webauthn.create", "challenge": challenge})
		return call(t, srv, http.MethodPost, "/biometric/webauthn/register/finish", backend.FinishRegistrationRequest{
			UserID:            e.userID,
			CredentialID:      "cred-1",
			Type:              "public-key",
			AttestationObject: []int{1, 2, 3},
			ClientDataJSON:    toInts(cd),
		}, "")
	}

	mustStatus(t, finish(base64.RawURLEncoding.EncodeToString([]byte("wrong"))), fiber.StatusBadRequest)
	// A failed finish consumes the challenge.
	mustStatus(t, finish(opts.Challenge), fiber.StatusConflict)

	r = call(t, srv, http.MethodPost, "/biometric/webauthn/register/begin", backend.BeginRegistrationRequest{UserID: e.userID}, "")
	_ = json.Unmarshal(r.raw, &opts)
	mustStatus(t, finish(opts.Challenge), fiber.StatusCreated)
}

func TestHealthAndUnknownRoute(t *testing.T) {
	srv, _ := newServer(t)
	mustStatus(t, call(t, srv, http.MethodGet, "/healthz", nil, ""), fiber.StatusOK)

	r := call(t, srv, http.MethodGet, "/nowhere", nil, "")
	mustStatus(t, r, fiber.StatusNotFound)
	if r.str("message") == "" {
		t.Fatalf("expected JSON error body, got %s", r.raw)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := New(cfg); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}

func TestExpiryDescriptor(t *testing.T) {
	tests := map[time.Duration]string{
		15 * time.Minute:   "15m",
		2 * time.Hour:      "2h",
		7 * 24 * time.Hour: "7d",
		90 * time.Second:   "90s",
	}
	for d, want := range tests {
		if got := expiryDescriptor(d); got != want {
			t.Fatalf("expiryDescriptor(%v) = %q, want %q", d, got, want)
		}
	}
}

func toInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
