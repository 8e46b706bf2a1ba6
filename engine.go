package goEnroll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/cache"
	"github.com/MrEthical07/goEnroll/ceremony"
	"github.com/MrEthical07/goEnroll/internal/clock"
	"github.com/MrEthical07/goEnroll/roles"
	"github.com/MrEthical07/goEnroll/session"
	"github.com/MrEthical07/goEnroll/storage"
	"go.uber.org/zap"
)

// Engine drives one user's enrollment and owns their session. All methods
// are safe for concurrent use; at most one enrollment operation runs at a
// time and a second one fails fast with ErrBusy.
type Engine struct {
	config   Config
	logger   *zap.Logger
	clock    clock.Clock
	notifier Notifier
	secure   SecureSession

	identity      backend.Identity
	users         backend.Users
	cache         *cache.Response
	store         *session.Store
	sessions      *session.Manager
	sessionScoped storage.Storage
	roles         *roles.Engine
	ceremony      *ceremony.Coordinator
	audit         *auditDispatcher
	metrics       *Metrics

	initialized atomic.Bool
	closed      atomic.Bool

	mu    sync.Mutex
	state EnrollmentState
	user  *backend.UserRecord
	// epoch advances on Logout and ResetAuth; completions that started
	// under an older epoch are discarded.
	epoch uint64
	// opGen identifies the operation currently holding the busy flag.
	opGen uint64
	busy  bool
}

// State returns a deep copy of the enrollment state.
func (e *Engine) State() EnrollmentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

func (e *Engine) IsAuthenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.IsAuthenticated
}

// User returns the signed-in user's record.
func (e *Engine) User() (backend.UserRecord, bool) {
	return e.currentUser()
}

func (e *Engine) currentUser() (backend.UserRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.user == nil {
		return backend.UserRecord{}, false
	}
	return *e.user, true
}

// Tokens returns the stored Credential Record, or nil when there is none.
func (e *Engine) Tokens(ctx context.Context) (*session.Record, error) {
	return e.sessions.Record(ctx)
}

// IsExpired reports whether the Credential Record is absent or past its lifetime.
func (e *Engine) IsExpired(ctx context.Context) bool {
	return e.sessions.IsExpired(ctx)
}

// Refresh rotates the credential pair now. A failure ends the session.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.sessions.Refresh(ctx)
}

// Close stops renewal, drains the audit queue and releases the response cache.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.sessions.Stop()
	e.audit.Close()
	e.cache.Close()
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

/*
====================================
OPERATION GUARD
====================================
*/

// operation is a running enrollment call. It holds the busy flag until
// end runs; end releases it at most once and only if no Logout or
// ResetAuth has replaced the state in the meantime.
type operation struct {
	e       *Engine
	name    string
	gen     uint64
	epoch   uint64
	started time.Time
	once    sync.Once
}

func (e *Engine) begin(name string) (*operation, error) {
	if e.closed.Load() {
		return nil, stateError(name, ErrEngineClosed, "The session has been closed.")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		e.metricInc(MetricBusyRejected)
		return nil, stateError(name, ErrBusy, "Please wait for the current request to finish.")
	}
	e.busy = true
	e.opGen++
	e.state.IsLoading = true
	e.state.Error = ""
	return &operation{
		e:       e,
		name:    name,
		gen:     e.opGen,
		epoch:   e.epoch,
		started: e.clock.Now(),
	}, nil
}

func (o *operation) end() {
	o.once.Do(func() {
		e := o.e
		e.mu.Lock()
		if e.opGen == o.gen {
			e.busy = false
			e.state.IsLoading = false
		}
		e.mu.Unlock()
		e.metrics.Observe(MetricOperationLatency, e.clock.Now().Sub(o.started))
	})
}

// snapshot returns a copy of the state as seen by this operation.
func (o *operation) snapshot() EnrollmentState {
	return o.e.State()
}

// requireStep fails unless the flow sits at one of steps and nobody is
// signed in yet.
func (o *operation) requireStep(steps ...Step) error {
	st := o.snapshot()
	if st.IsAuthenticated {
		return stateError(o.name, ErrPrerequisites, "You are already signed in.")
	}
	for _, s := range steps {
		if st.Step == s {
			return nil
		}
	}
	return stateError(o.name, ErrPrerequisites, "That action is not available at the "+st.Step.String()+" step.")
}

// commit applies fn to the state unless the session was reset since the
// operation began.
func (o *operation) commit(fn func(s *EnrollmentState)) error {
	e := o.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != o.epoch {
		e.metricInc(MetricStaleCompletionDiscarded)
		e.logger.Debug("discarding stale completion", zap.String("op", o.name))
		return stateError(o.name, ErrSessionReset, "The session was reset. Please start again.")
	}
	fn(&e.state)
	return nil
}

// fail records err as the state's error message and returns it.
func (o *operation) fail(err error) error {
	e := o.e
	e.mu.Lock()
	if e.epoch == o.epoch {
		e.state.Error = UserMessage(err)
	}
	e.mu.Unlock()
	e.logger.Info("enrollment operation failed", zap.String("op", o.name), zap.Error(err))
	return err
}

/*
====================================
AUDIT
====================================
*/

const (
	auditEventEmailOTPSent          = "email_otp_sent"
	auditEventEmailVerified         = "email_verified"
	auditEventPhoneOTPSent          = "phone_otp_sent"
	auditEventPhoneVerified         = "phone_verified"
	auditEventSecurityQuestionsSave = "security_questions_saved"
	auditEventCeremony              = "credential_ceremony"
	auditEventProfileCreated        = "profile_created"
	auditEventRefresh               = "credential_refresh"
	auditEventLogout                = "logout"
	auditEventReset                 = "reset"
	auditEventReferrerCheck         = "referrer_check"
	auditEventRoleUpdated           = "role_updated"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, err error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	e.mu.Lock()
	step := e.state.Step
	userID := e.state.Identity.UserID
	if userID == "" && e.user != nil {
		userID = e.user.ID
	}
	e.mu.Unlock()

	event := AuditEvent{
		Timestamp:     e.clock.Now().UTC(),
		EventType:     eventType,
		UserID:        userID,
		Step:          step.String(),
		CorrelationID: correlationIDFromContext(ctx),
		Success:       err == nil,
		Metadata:      metadata,
	}
	if err != nil {
		event.Error = auditErrorCode(err)
	}
	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) string {
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "internal_error"
}
