package goEnroll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/internal/clock"
	"github.com/MrEthical07/goEnroll/storage"
	"github.com/MrEthical07/goEnroll/transport"
	"go.uber.org/zap"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeIdentity struct {
	mu    sync.Mutex
	calls []string

	userID string

	sendEmailErr   error
	verifyEmailErr error
	sendPhoneErr   error
	verifyPhoneErr error
	resolveErr     error
	refreshErr     error

	// gate, when set, makes SendEmailOTP wait for a value; started is
	// closed once the call is parked.
	gate    chan struct{}
	started chan struct{}

	refreshSeq int
}

func (f *fakeIdentity) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeIdentity) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeIdentity) ResolveUserID(_ context.Context, email, phone string) (string, error) {
	f.record("resolve:" + email + "|" + phone)
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.userID, nil
}

func (f *fakeIdentity) SendEmailOTP(_ context.Context, email string) error {
	f.record("send_email:" + email)
	if f.gate != nil {
		close(f.started)
		<-f.gate
	}
	return f.sendEmailErr
}

func (f *fakeIdentity) VerifyEmailOTP(_ context.Context, email, code string) error {
	f.record("verify_email:" + email + ":" + code)
	return f.verifyEmailErr
}

func (f *fakeIdentity) SendPhoneOTP(_ context.Context, phone string) error {
	f.record("send_phone:" + phone)
	return f.sendPhoneErr
}

func (f *fakeIdentity) VerifyPhoneOTP(_ context.Context, phone, code string) error {
	f.record("verify_phone:" + phone + ":" + code)
	return f.verifyPhoneErr
}

func (f *fakeIdentity) Refresh(_ context.Context, refreshToken string) (*backend.TokenPair, error) {
	f.record("refresh:" + refreshToken)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.mu.Lock()
	f.refreshSeq++
	n := f.refreshSeq
	f.mu.Unlock()
	return &backend.TokenPair{
		AccessToken:  fmt.Sprintf("access-%d", n+1),
		RefreshToken: fmt.Sprintf("refresh-%d", n+1),
		ExpiresIn:    "15m",
	}, nil
}

type fakeBiometric struct{}

func (fakeBiometric) RegisterDevice(context.Context, backend.DeviceRegistration) error { return nil }
func (fakeBiometric) RegisterBiometric(context.Context, backend.BiometricRegistration) error {
	return nil
}
func (fakeBiometric) BeginRegistration(context.Context, backend.BeginRegistrationRequest) (*backend.RegistrationOptions, error) {
	return nil, errors.New("not used")
}
func (fakeBiometric) FinishRegistration(context.Context, backend.FinishRegistrationRequest) error {
	return nil
}

type fakeUsers struct {
	mu sync.Mutex

	questions []string
	// failAt makes the n-th AddSecurityQuestion call (0-based) fail; -1 never.
	failAt    int
	addCalls  int
	keysErr   error
	createErr error
	profile   *backend.ProfileResponse
	created   []backend.ProfileRequest
	roles     map[string]backend.RoleInfo
	roleCalls int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{failAt: -1, roles: map[string]backend.RoleInfo{}}
}

func (f *fakeUsers) RegisterFallbackKeys(context.Context, string) (*backend.FallbackKeys, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	return &backend.FallbackKeys{KeyID: "k-1", PublicKey: "pub", Algorithm: "ed25519"}, nil
}

func (f *fakeUsers) AddSecurityQuestion(_ context.Context, userID, question, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.addCalls
	f.addCalls++
	if n == f.failAt {
		return &transport.Error{Status: 500, Message: "question store unavailable"}
	}
	f.questions = append(f.questions, userID+":"+question)
	return nil
}

func (f *fakeUsers) ListSecurityQuestions(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.questions...), nil
}

func (f *fakeUsers) CreateProfile(_ context.Context, req backend.ProfileRequest) (*backend.ProfileResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.profile != nil {
		p := *f.profile
		return &p, nil
	}
	return &backend.ProfileResponse{
		User: backend.UserRecord{
			ID:        req.UserID,
			Email:     req.Email,
			Phone:     req.Phone,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			AdminRole: req.AdminRole,
			UserType:  req.UserType,
		},
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    "15m",
	}, nil
}

func (f *fakeUsers) GetProfile(_ context.Context, userID string) (*backend.UserRecord, error) {
	return &backend.UserRecord{ID: userID}, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, userID string, patch backend.ProfilePatch) (*backend.UserRecord, error) {
	return nil, nil
}

func (f *fakeUsers) GetRole(_ context.Context, userID string) (*backend.RoleInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleCalls++
	info := f.roles[userID]
	return &info, nil
}

func (f *fakeUsers) UpdateRole(_ context.Context, userID string, patch backend.RolePatch) (*backend.RoleInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.roles[userID]
	if patch.AdminRole != "" {
		info.AdminRole = patch.AdminRole
	}
	if patch.UserType != "" {
		info.UserType = patch.UserType
	}
	if patch.SubscriptionStatus != "" {
		info.SubscriptionStatus = patch.SubscriptionStatus
	}
	f.roles[userID] = info
	return &info, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) add(level, msg string) {
	n.mu.Lock()
	n.messages = append(n.messages, level+": "+msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) Info(msg string)    { n.add("info", msg) }
func (n *recordingNotifier) Success(msg string) { n.add("success", msg) }
func (n *recordingNotifier) Warn(msg string)    { n.add("warn", msg) }
func (n *recordingNotifier) Error(msg string)   { n.add("error", msg) }

func (n *recordingNotifier) Count(level string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.messages {
		if len(m) > len(level) && m[:len(level)+1] == level+":" {
			c++
		}
	}
	return c
}

type countingSecureSession struct {
	mu      sync.Mutex
	cleared int
}

func (s *countingSecureSession) Clear(context.Context) error {
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
	return nil
}

func (s *countingSecureSession) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

type testEnv struct {
	engine   *Engine
	identity *fakeIdentity
	users    *fakeUsers
	clock    *clock.Fake
	store    *storage.Memory
	session  *storage.Memory
	notifier *recordingNotifier
	secure   *countingSecureSession
}

func newTestEnv(t *testing.T, mutate ...func(*Config, *Builder)) *testEnv {
	t.Helper()

	env := &testEnv{
		identity: &fakeIdentity{userID: "u-1"},
		users:    newFakeUsers(),
		clock:    clock.NewFake(testStart),
		store:    storage.NewMemory(),
		session:  storage.NewMemory(),
		notifier: &recordingNotifier{},
		secure:   &countingSecureSession{},
	}

	cfg := DefaultConfig()
	b := New().
		WithLogger(zap.NewNop()).
		WithStorage(env.store).
		WithSessionStorage(env.session).
		WithIdentityService(env.identity).
		WithBiometricService(fakeBiometric{}).
		WithUsersService(env.users).
		WithNotifier(env.notifier).
		WithSecureSession(env.secure)
	b.clock = env.clock
	for _, m := range mutate {
		m(&cfg, b)
	}
	b.WithConfig(cfg)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

var testQuestions = []SecurityQuestion{
	{Question: "First pet?", Answer: "Rex"},
	{Question: "Birth city?", Answer: "Lyon"},
	{Question: "First school?", Answer: "Central"},
}

// enrollThrough drives a fresh engine up to (and including) the given step.
func enrollThrough(t *testing.T, env *testEnv, last Step) {
	t.Helper()
	ctx := context.Background()
	e := env.engine

	steps := []struct {
		step Step
		run  func() error
	}{
		{StepEmailOTP, func() error { return e.SendEmailOTP(ctx, "a@b.com") }},
		{StepPhone, func() error { return e.VerifyEmailOTP(ctx, "123456") }},
		{StepPhoneOTP, func() error { return e.SendPhoneOTP(ctx, "+15551234567") }},
		{StepSecurityQuestions, func() error { return e.VerifyPhoneOTP(ctx, "000000") }},
		{StepCeremony, func() error { return e.SaveSecurityQuestions(ctx, testQuestions) }},
		{StepProfile, func() error { _, err := e.CompleteAuthentication(ctx); return err }},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			t.Fatalf("advancing to step %s: %v", s.step, err)
		}
		if got := e.State().Step; got != s.step {
			t.Fatalf("expected step %s, got %s", s.step, got)
		}
		if s.step == last {
			return
		}
	}
}

func mustSignIn(t *testing.T, env *testEnv, role string) {
	t.Helper()
	enrollThrough(t, env, StepProfile)
	if _, err := env.engine.CompleteProfileCreation(context.Background(), ProfileData{
		FirstName: "Ada",
		LastName:  "Lovelace",
		AdminRole: role,
	}); err != nil {
		t.Fatalf("CompleteProfileCreation: %v", err)
	}
}

var backendProfileWithoutRefresh = backend.ProfileResponse{
	User:        backend.UserRecord{ID: "u-1", FirstName: "Ada"},
	AccessToken: "access-1",
}

func backendRolePatch(role string) backend.RolePatch {
	return backend.RolePatch{AdminRole: role}
}
