package goEnroll

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/session"
	"github.com/MrEthical07/goEnroll/storage"
	"go.uber.org/zap"
)

// Initialize restores a persisted session and records the referrer check.
// Only the first call does any work; later calls return nil.
//
// An expired Credential Record is refreshed when it still carries a refresh
// token. If that refresh fails the session is ended without notifying the
// user, and Initialize carries on with a signed-out engine.
func (e *Engine) Initialize(ctx context.Context, opts InitOptions) error {
	if e.closed.Load() {
		return stateError("initialize", ErrEngineClosed, "The session has been closed.")
	}
	if !e.initialized.CompareAndSwap(false, true) {
		return nil
	}

	e.restore(ctx)
	return e.checkReferrer(ctx, opts.Referrer)
}

func (e *Engine) restore(ctx context.Context) {
	record, err := e.sessions.Restore(ctx)
	if err != nil {
		e.logger.Warn("credential record unreadable; starting signed out", zap.Error(err))
		return
	}
	if record == nil {
		return
	}

	if record.ExpiredAt(e.clock.Now()) {
		if err := e.sessions.Refresh(withQuiet(ctx)); err != nil {
			e.logger.Info("stored session could not be renewed", zap.Error(err))
			return
		}
	}

	var user backend.UserRecord
	ok, err := e.store.LoadUser(ctx, &user)
	if err != nil {
		e.logger.Warn("stored user record unreadable", zap.Error(err))
		return
	}
	if !ok || user.ID == "" {
		return
	}

	e.mu.Lock()
	u := user
	e.user = &u
	e.state.IsAuthenticated = true
	e.state.Verification.ProfileCreated = true
	e.state.Identity = Identity{Email: user.Email, Phone: user.Phone, UserID: user.ID}
	e.mu.Unlock()

	e.logger.Info("session restored", zap.String("user_id", user.ID))
}

// checkReferrer validates referrer against the allowed origins and stores
// the verdict in session-scoped storage. Direct navigation (no referrer)
// and an empty allow-list both pass.
func (e *Engine) checkReferrer(ctx context.Context, referrer string) error {
	const op = "initialize"

	referrer = strings.TrimSpace(referrer)
	allowed := referrerAllowed(referrer, e.config.Referrer.AllowedOrigins)
	check := ReferrerCheck{
		Referrer:  referrer,
		Allowed:   allowed,
		CheckedAt: e.clock.Now().UTC(),
	}

	raw, err := json.Marshal(check)
	if err != nil {
		return err
	}
	if err := e.sessionScoped.SetMany(ctx, map[string]string{e.config.Referrer.Key: string(raw)}); err != nil {
		e.logger.Warn("storing referrer check failed", zap.Error(err))
	}

	meta := map[string]string{"allowed": boolString(allowed)}
	if allowed {
		e.emitAudit(ctx, auditEventReferrerCheck, nil, meta)
		return nil
	}

	e.metricInc(MetricReferrerRejected)
	rerr := stateError(op, ErrReferrerRejected, "This page can only be opened from an approved site.")
	e.emitAudit(ctx, auditEventReferrerCheck, rerr, meta)
	e.logger.Warn("referrer rejected", zap.String("referrer", referrer))
	return rerr
}

// ReferrerCheck returns the stored referrer verdict, if Initialize has run
// in this browsing session.
func (e *Engine) ReferrerCheck(ctx context.Context) (ReferrerCheck, bool, error) {
	raw, err := e.sessionScoped.Get(ctx, e.config.Referrer.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return ReferrerCheck{}, false, nil
	}
	if err != nil {
		return ReferrerCheck{}, false, err
	}
	var check ReferrerCheck
	if err := json.Unmarshal([]byte(raw), &check); err != nil {
		return ReferrerCheck{}, false, err
	}
	return check, true, nil
}

func referrerAllowed(referrer string, origins []string) bool {
	if referrer == "" || len(origins) == 0 {
		return true
	}
	got, ok := normalizeOrigin(referrer)
	if !ok {
		return false
	}
	for _, o := range origins {
		if want, ok := normalizeOrigin(o); ok && want == got {
			return true
		}
	}
	return false
}

// normalizeOrigin reduces a URL to its lower-cased scheme://host[:port].
func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return scheme + "://" + strings.ToLower(u.Host), true
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

/*
====================================
SESSION END
====================================
*/

// Logout ends the session: it clears the Credential Record, the stored
// user, the role cache and the response cache, resets the enrollment state
// and clears the external secure session. Any operation still in flight
// finishes against the old state and is discarded.
func (e *Engine) Logout(ctx context.Context) error {
	err := e.endSession(ctx)

	if serr := e.secure.Clear(ctx); serr != nil {
		e.logger.Warn("clearing secure session failed", zap.Error(serr))
		err = errors.Join(err, serr)
	}
	if !isQuiet(ctx) {
		e.notifier.Info("You have been signed out.")
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, err, nil)
	e.logger.Info("logged out")
	return err
}

// ResetAuth clears the same state as Logout but leaves the external
// secure session alone and does not notify the user.
func (e *Engine) ResetAuth(ctx context.Context) error {
	err := e.endSession(ctx)
	e.metricInc(MetricReset)
	e.emitAudit(ctx, auditEventReset, err, nil)
	return err
}

func (e *Engine) endSession(ctx context.Context) error {
	e.mu.Lock()
	e.epoch++
	e.opGen++
	e.busy = false
	e.state = initialState()
	e.user = nil
	e.mu.Unlock()

	err := e.sessions.Clear(ctx)
	if err != nil {
		e.logger.Warn("clearing credential record failed", zap.Error(err))
	}
	e.roles.Invalidate()
	e.cache.Clear()
	return err
}

/*
====================================
REFRESH HOOKS
====================================
*/

func (e *Engine) onRefreshFailure(ctx context.Context, err error) {
	if errors.Is(err, session.ErrSessionEnded) {
		return
	}
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefresh, remoteError("refresh", err), nil)

	quiet := withQuiet(ctx)
	_ = e.Logout(quiet)
	if !isQuiet(ctx) {
		e.notifier.Warn("Your session expired. Please sign in again.")
	}
}

func (e *Engine) onRefreshSuccess(session.Record) {
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(context.Background(), auditEventRefresh, nil, nil)
}
