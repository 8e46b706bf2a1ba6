package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/internal/clock"
	"github.com/MrEthical07/goEnroll/storage"
)

type mockRefresher struct {
	mu       sync.Mutex
	calls    int
	seen     []string
	err      error
	next     int
	expiry   backend.Expiry
	block    chan struct{}
	entered  chan struct{}
	inFlight atomic.Int32
}

func (m *mockRefresher) Refresh(_ context.Context, refreshToken string) (*backend.TokenPair, error) {
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.seen = append(m.seen, refreshToken)
	if m.err != nil {
		return nil, m.err
	}
	m.next++
	n := string(rune('0' + m.next))
	return &backend.TokenPair{AccessToken: "access-" + n, RefreshToken: "refresh-" + n, ExpiresIn: m.expiry}, nil
}

type fixture struct {
	mem       *storage.Memory
	store     *Store
	clock     *clock.Fake
	refresher *mockRefresher
	manager   *Manager
	failures  atomic.Int32
}

func newFixture(t *testing.T, mutate func(*ManagerConfig)) *fixture {
	t.Helper()
	f := &fixture{
		mem:       storage.NewMemory(),
		clock:     clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		refresher: &mockRefresher{},
	}
	f.store = NewStore(f.mem, "goenroll:")
	cfg := ManagerConfig{
		Store:     f.store,
		Refresher: f.refresher,
		Clock:     f.clock,
		OnRefreshFailure: func(ctx context.Context, err error) {
			f.failures.Add(1)
			_ = f.manager.Clear(ctx)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	f.manager = m
	return f
}

func TestParseExpiry(t *testing.T) {
	tests := map[string]time.Duration{
		"7d":      7 * 24 * time.Hour,
		"30m":     30 * time.Minute,
		"15s":     15 * time.Second,
		"2h":      2 * time.Hour,
		"0s":      0,
		"garbage": DefaultExpiry,
		"":        DefaultExpiry,
		"10w":     DefaultExpiry,
		"1.5h":    DefaultExpiry,
		"-5m":     DefaultExpiry,
		" 5m":     DefaultExpiry,
	}
	for in, want := range tests {
		if got := ParseExpiry(in); got != want {
			t.Fatalf("ParseExpiry(%q) = %v, want %v", in, got, want)
		}
	}
	if got := ParseExpiry("7d").Milliseconds(); got != 7*86400000 {
		t.Fatalf("7d should be 604800000ms, got %d", got)
	}
	if got := ParseExpiry("99999999999999999d"); got != DefaultExpiry {
		t.Fatalf("overflowing descriptor should fall back to default, got %v", got)
	}
}

func TestIsExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if !f.manager.IsExpired(ctx) {
		t.Fatal("no record must count as expired")
	}

	if err := f.manager.SetTokens(ctx, "a1", "r1", "30m"); err != nil {
		t.Fatalf("SetTokens failed: %v", err)
	}
	if f.manager.IsExpired(ctx) {
		t.Fatal("fresh record must not be expired")
	}

	f.clock.Advance(30*time.Minute - time.Millisecond)
	if f.manager.IsExpired(ctx) {
		t.Fatal("record should be valid just before its lifetime")
	}
	f.clock.Advance(time.Millisecond)
	if !f.manager.IsExpired(ctx) {
		t.Fatal("record must be expired once now - issuedAt equals the lifetime")
	}
}

func TestSetTokensWritesAllKeysAtomically(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.manager.SetTokens(ctx, "a1", "r1", "15m"); err != nil {
		t.Fatalf("SetTokens failed: %v", err)
	}

	expiry, _ := f.mem.Get(ctx, "goenroll:token_expiry")
	if expiry != `"15m"` {
		t.Fatalf("expiry should be stored as JSON, got %q", expiry)
	}
	issued, _ := f.mem.Get(ctx, "goenroll:token_issued_at")
	if issued != "1740830400000" {
		t.Fatalf("unexpected issued_at %q", issued)
	}
	if f.mem.Len() != 4 {
		t.Fatalf("expected 4 record keys, got %d", f.mem.Len())
	}

	if err := f.manager.SetTokens(ctx, "a2", "", "15m"); !errors.Is(err, ErrIncompleteRecord) {
		t.Fatalf("expected ErrIncompleteRecord, got %v", err)
	}
}

func TestPartialRecordIsAbsent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.manager.SetTokens(ctx, "a1", "r1", "15m")
	_ = f.mem.Delete(ctx, "goenroll:refresh_token")

	r, err := f.manager.Record(ctx)
	if err != nil || r != nil {
		t.Fatalf("partial record should load as nil, got %+v err=%v", r, err)
	}
	if !f.manager.IsExpired(ctx) {
		t.Fatal("partial record should count as expired")
	}

	_ = f.mem.SetMany(ctx, map[string]string{"goenroll:refresh_token": "r1", "goenroll:token_issued_at": "not-a-number"})
	if r, _ := f.manager.Record(ctx); r != nil {
		t.Fatalf("undecodable issued_at should load as nil, got %+v", r)
	}
}

func TestRefreshRotatesPair(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.manager.SetTokens(ctx, "a0", "r0", "15m")

	if err := f.manager.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	r, _ := f.manager.Record(ctx)
	if r.AccessToken != "access-1" || r.RefreshToken != "refresh-1" {
		t.Fatalf("expected rotated pair, got %+v", r)
	}
	if r.Expiry != "15m" {
		t.Fatalf("expected previous expiry to carry over, got %q", r.Expiry)
	}

	f.refresher.expiry = "1h"
	if err := f.manager.Refresh(ctx); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	if got := f.refresher.seen; len(got) != 2 || got[0] != "r0" || got[1] != "refresh-1" {
		t.Fatalf("each refresh must present the latest refresh token, saw %v", got)
	}
	if r, _ := f.manager.Record(ctx); r.Expiry != "1h" {
		t.Fatalf("expected server expiry, got %q", r.Expiry)
	}
}

func TestRefreshWithoutTokenFails(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.manager.Refresh(context.Background()); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	if f.refresher.calls != 0 {
		t.Fatal("refresher must not be called without a refresh token")
	}
}

func TestRefreshFailureEndsSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.manager.SetTokens(ctx, "a0", "r0", "15m")
	_ = f.store.SaveUser(ctx, map[string]string{"id": "u1"})
	f.refresher.err = errors.New("refresh token reused")

	if err := f.manager.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error")
	}
	if f.failures.Load() != 1 {
		t.Fatalf("expected failure hook once, got %d", f.failures.Load())
	}
	if f.mem.Len() != 0 {
		t.Fatalf("failed refresh must clear all keys, %d left: %v", f.mem.Len(), f.mem.Keys())
	}
	if f.manager.Armed() {
		t.Fatal("timer must be disarmed after a failed refresh")
	}
}

func TestConcurrentRefreshSharesOneCall(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.manager.SetTokens(ctx, "a0", "r0", "15m")
	f.refresher.block = make(chan struct{})
	f.refresher.entered = make(chan struct{}, 8)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.manager.Refresh(ctx)
		}()
	}
	<-f.refresher.entered
	time.Sleep(20 * time.Millisecond)
	close(f.refresher.block)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
	}
	if f.refresher.calls > 2 {
		t.Fatalf("expected shared refresh, got %d backend calls", f.refresher.calls)
	}
}

func TestRenewalTimerUsesFixedHorizon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.manager.SetTokens(ctx, "a0", "r0", "15m")

	if !f.manager.Armed() {
		t.Fatal("expected timer armed after SetTokens")
	}
	r, _ := f.manager.Record(ctx)
	want := r.IssuedAt.Add(7*24*time.Hour - time.Minute)
	if got := f.manager.Deadline(*r); !got.Equal(want) {
		t.Fatalf("deadline = %v, want %v", got, want)
	}

	f.clock.Advance(7*24*time.Hour - time.Minute - time.Second)
	if f.refresher.calls != 0 {
		t.Fatal("timer fired early")
	}
	f.clock.Advance(time.Second)
	if f.refresher.calls != 1 {
		t.Fatalf("expected scheduled refresh, got %d calls", f.refresher.calls)
	}
	if !f.manager.Armed() {
		t.Fatal("rotation should re-arm the timer")
	}
}

func TestRenewalTimerFromExpiryDescriptor(t *testing.T) {
	f := newFixture(t, func(c *ManagerConfig) { c.ScheduleFromExpiry = true })
	ctx := context.Background()
	_ = f.manager.SetTokens(ctx, "a0", "r0", "15m")

	f.clock.Advance(14 * time.Minute)
	if f.refresher.calls != 1 {
		t.Fatalf("expected refresh 60s before a 15m expiry, got %d calls", f.refresher.calls)
	}

	// A lifetime shorter than the lead leaves nothing to schedule.
	_ = f.manager.SetTokens(ctx, "a1", "r1", "30s")
	if f.manager.Armed() {
		t.Fatal("timer must not be armed for a deadline in the past")
	}
}

func TestStopCancelsTimer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.manager.SetTokens(ctx, "a0", "r0", "15m")
	f.manager.Stop()

	f.clock.Advance(8 * 24 * time.Hour)
	if f.refresher.calls != 0 {
		t.Fatal("stopped timer must not refresh")
	}
	if f.clock.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", f.clock.Pending())
	}
}

func TestClearDuringRefreshDiscardsResult(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.manager.SetTokens(ctx, "a0", "r0", "15m")
	f.refresher.block = make(chan struct{})
	f.refresher.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- f.manager.Refresh(ctx) }()
	<-f.refresher.entered
	if err := f.manager.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	close(f.refresher.block)

	if err := <-done; !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if r, _ := f.manager.Record(ctx); r != nil {
		t.Fatalf("stale refresh must not resurrect the record, got %+v", r)
	}
}

func TestRestoreArmsOnlyValidRecords(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	issued := f.clock.Now().Add(-time.Hour)
	_ = f.store.Save(ctx, Record{AccessToken: "a", RefreshToken: "r", Expiry: "15m", IssuedAt: issued})
	r, err := f.manager.Restore(ctx)
	if err != nil || r == nil {
		t.Fatalf("Restore = %+v, %v", r, err)
	}
	if f.manager.Armed() {
		t.Fatal("expired record must not arm renewal")
	}

	_ = f.store.Save(ctx, Record{AccessToken: "a", RefreshToken: "r", Expiry: "2h", IssuedAt: issued})
	if _, err := f.manager.Restore(ctx); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !f.manager.Armed() {
		t.Fatal("valid record should arm renewal")
	}
}

func TestClaimsWithoutSession(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.manager.Claims(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestStoreUserRoundTrip(t *testing.T) {
	mem := storage.NewMemory()
	s := NewStore(mem, "p:")
	ctx := context.Background()

	var out backend.UserRecord
	if ok, err := s.LoadUser(ctx, &out); ok || err != nil {
		t.Fatalf("expected no user, got ok=%v err=%v", ok, err)
	}
	if err := s.SaveUser(ctx, backend.UserRecord{ID: "u1", AdminRole: "editor"}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	if ok, err := s.LoadUser(ctx, &out); !ok || err != nil || out.AdminRole != "editor" {
		t.Fatalf("LoadUser = %+v ok=%v err=%v", out, ok, err)
	}
	if len(s.Keys()) != 5 || s.Keys()[4] != "p:user" {
		t.Fatalf("unexpected keys %v", s.Keys())
	}
}

// gatedStorage blocks SetMany while gate is set so a test can act in the
// middle of a write.
type gatedStorage struct {
	*storage.Memory
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedStorage) SetMany(ctx context.Context, entries map[string]string) error {
	if g.gate != nil {
		g.entered <- struct{}{}
		<-g.gate
	}
	return g.Memory.SetMany(ctx, entries)
}

func TestClearDuringRotatedWriteWins(t *testing.T) {
	gated := &gatedStorage{Memory: storage.NewMemory()}
	refresher := &mockRefresher{}
	m, err := NewManager(ManagerConfig{
		Store:     NewStore(gated, "goenroll:"),
		Refresher: refresher,
		Clock:     clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()
	if err := m.SetTokens(ctx, "a0", "r0", "15m"); err != nil {
		t.Fatalf("SetTokens failed: %v", err)
	}

	gated.gate = make(chan struct{})
	gated.entered = make(chan struct{}, 1)
	refreshed := make(chan error, 1)
	go func() { refreshed <- m.Refresh(ctx) }()
	<-gated.entered

	cleared := make(chan error, 1)
	go func() { cleared <- m.Clear(ctx) }()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-cleared:
		t.Fatal("Clear must wait for the rotated pair to be written")
	default:
	}

	close(gated.gate)
	if err := <-refreshed; err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if err := <-cleared; err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if r, _ := m.Record(ctx); r != nil {
		t.Fatalf("logout must win over the rotated pair, got %+v", r)
	}
	if m.Armed() {
		t.Fatal("timer must be disarmed after Clear")
	}
}
