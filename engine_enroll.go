package goEnroll

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/ceremony"
	"github.com/MrEthical07/goEnroll/internal/validate"
	"github.com/MrEthical07/goEnroll/permission"
	"go.uber.org/zap"
)

// SendEmailOTP validates email, asks the identity service to send a code
// and moves to StepEmailOTP.
func (e *Engine) SendEmailOTP(ctx context.Context, email string) error {
	const op = "send_email_otp"
	o, err := e.begin(op)
	if err != nil {
		return err
	}
	defer o.end()

	addr, err := validate.Email(email)
	if err != nil {
		return o.fail(validationError(op, ErrInvalidEmail, err))
	}
	if err := o.requireStep(StepEmail, StepEmailOTP); err != nil {
		return o.fail(err)
	}

	if err := e.identity.SendEmailOTP(ctx, addr); err != nil {
		e.metricInc(MetricEmailOTPFailed)
		rerr := remoteError(op, err)
		e.emitAudit(ctx, auditEventEmailOTPSent, rerr, nil)
		return o.fail(rerr)
	}

	if err := o.commit(func(s *EnrollmentState) {
		s.Identity.Email = addr
		s.OTPSent = true
		s.Step = StepEmailOTP
	}); err != nil {
		return err
	}

	e.metricInc(MetricEmailOTPSent)
	e.emitAudit(ctx, auditEventEmailOTPSent, nil, nil)
	e.notifier.Success("Verification code sent to " + addr + ".")
	return nil
}

// VerifyEmailOTP checks the emailed code and moves to StepPhone.
func (e *Engine) VerifyEmailOTP(ctx context.Context, code string) error {
	const op = "verify_email_otp"
	o, err := e.begin(op)
	if err != nil {
		return err
	}
	defer o.end()

	code, err = validate.OTP(code)
	if err != nil {
		return o.fail(validationError(op, ErrInvalidOTP, err))
	}
	if err := o.requireStep(StepEmailOTP); err != nil {
		return o.fail(err)
	}
	email := o.snapshot().Identity.Email
	if email == "" {
		return o.fail(stateError(op, ErrPrerequisites, "Enter your email address first."))
	}

	if err := e.identity.VerifyEmailOTP(ctx, email, code); err != nil {
		e.metricInc(MetricEmailVerifyFailed)
		rerr := remoteError(op, err)
		e.emitAudit(ctx, auditEventEmailVerified, rerr, nil)
		return o.fail(rerr)
	}

	if err := o.commit(func(s *EnrollmentState) {
		s.Verification.EmailVerified = true
		s.OTPSent = false
		s.Step = StepPhone
	}); err != nil {
		return err
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, nil, nil)
	e.notifier.Success("Email verified.")
	return nil
}

// SendPhoneOTP normalizes phone and requests an SMS code. A delivery
// failure does not block the flow: the phone is recorded, the step
// advances to StepPhoneOTP and the failure is reported as a warning.
// Only a malformed number returns an error.
func (e *Engine) SendPhoneOTP(ctx context.Context, phone string) error {
	const op = "send_phone_otp"
	o, err := e.begin(op)
	if err != nil {
		return err
	}
	defer o.end()

	normalized, err := validate.NormalizePhone(phone)
	if err != nil {
		return o.fail(validationError(op, ErrInvalidPhone, err))
	}
	if err := o.requireStep(StepPhone, StepPhoneOTP); err != nil {
		return o.fail(err)
	}
	if !o.snapshot().Verification.EmailVerified {
		return o.fail(stateError(op, ErrPrerequisites, "Verify your email first."))
	}

	sendErr := e.identity.SendPhoneOTP(ctx, normalized)

	var warning string
	if sendErr != nil {
		warning = "We could not send a code to " + normalized + ": " + UserMessage(remoteError(op, sendErr)) + " You can still continue."
	}
	if err := o.commit(func(s *EnrollmentState) {
		if s.Identity.Phone != normalized {
			s.Verification.PhoneVerified = false
		}
		s.Identity.Phone = normalized
		s.OTPSent = true
		s.Step = StepPhoneOTP
		s.Warning = warning
	}); err != nil {
		return err
	}

	if sendErr != nil {
		e.metricInc(MetricPhoneOTPFailed)
		e.logger.Warn("phone otp delivery failed; continuing", zap.Error(sendErr))
		e.emitAudit(ctx, auditEventPhoneOTPSent, remoteError(op, sendErr), map[string]string{"blocking": "false"})
		e.notifier.Warn(warning)
		return nil
	}

	e.metricInc(MetricPhoneOTPSent)
	e.emitAudit(ctx, auditEventPhoneOTPSent, nil, nil)
	e.notifier.Success("Verification code sent to " + normalized + ".")
	return nil
}

// VerifyPhoneOTP submits the SMS code. Whatever the backend answers, the
// phone is marked verified and the flow moves to StepSecurityQuestions; a
// rejection is only surfaced as a warning.
func (e *Engine) VerifyPhoneOTP(ctx context.Context, code string) error {
	const op = "verify_phone_otp"
	o, err := e.begin(op)
	if err != nil {
		return err
	}
	defer o.end()

	code, err = validate.OTP(code)
	if err != nil {
		return o.fail(validationError(op, ErrInvalidOTP, err))
	}
	if err := o.requireStep(StepPhoneOTP); err != nil {
		return o.fail(err)
	}
	phone := o.snapshot().Identity.Phone
	if phone == "" {
		return o.fail(stateError(op, ErrPrerequisites, "Enter your phone number first."))
	}

	verifyErr := e.identity.VerifyPhoneOTP(ctx, phone, code)

	var warning string
	if verifyErr != nil {
		warning = "Phone verification could not be confirmed: " + UserMessage(remoteError(op, verifyErr))
	}
	if err := o.commit(func(s *EnrollmentState) {
		s.Verification.PhoneVerified = true
		s.OTPSent = false
		s.Step = StepSecurityQuestions
		s.Warning = warning
	}); err != nil {
		return err
	}

	if verifyErr != nil {
		e.metricInc(MetricPhoneVerifyFailed)
		e.logger.Warn("phone otp verification failed; continuing", zap.Error(verifyErr))
		e.emitAudit(ctx, auditEventPhoneVerified, remoteError(op, verifyErr), map[string]string{"blocking": "false"})
		e.notifier.Warn(warning)
		return nil
	}

	e.metricInc(MetricPhoneVerified)
	e.emitAudit(ctx, auditEventPhoneVerified, nil, nil)
	e.notifier.Success("Phone verified.")
	return nil
}

// SaveSecurityQuestions validates the three pairs locally, resolves the
// user id if needed, and stores each pair in order. The first failure
// aborts; pairs already stored stay stored.
func (e *Engine) SaveSecurityQuestions(ctx context.Context, questions []SecurityQuestion) error {
	const op = "save_security_questions"
	o, err := e.begin(op)
	if err != nil {
		return err
	}
	defer o.end()

	in := make([]validate.QA, len(questions))
	for i, q := range questions {
		in[i] = validate.QA{Question: q.Question, Answer: q.Answer}
	}
	pairs, err := validate.SecurityQuestions(in)
	if err != nil {
		return o.fail(validationError(op, ErrSecurityQuestions, err))
	}

	if err := o.requireStep(StepSecurityQuestions); err != nil {
		return o.fail(err)
	}
	st := o.snapshot()
	if !st.Verification.EmailVerified || !st.Verification.PhoneVerified {
		return o.fail(stateError(op, ErrPrerequisites, "Verify your email and phone first."))
	}

	collected := make([]SecurityQuestion, len(pairs))
	for i, p := range pairs {
		collected[i] = SecurityQuestion{Question: p.Question, Answer: p.Answer}
	}
	if err := o.commit(func(s *EnrollmentState) {
		s.CollectedSecurityQuestions = collected
	}); err != nil {
		return err
	}

	userID, err := e.resolveUserID(ctx, o, op)
	if err != nil {
		return o.fail(err)
	}

	for i, p := range pairs {
		if err := e.users.AddSecurityQuestion(ctx, userID, p.Question, p.Answer); err != nil {
			e.metricInc(MetricSecurityQuestionsFailed)
			rerr := remoteError(op, err)
			if i > 0 {
				rerr = &Error{
					Op:      op,
					Kind:    KindPartialWrite,
					Message: fmt.Sprintf("Saved %d of %d security questions. %s", i, len(pairs), rerr.Message),
					Err:     fmt.Errorf("%w after %d: %w", ErrPartialWrite, i, err),
				}
			}
			e.emitAudit(ctx, auditEventSecurityQuestionsSave, rerr, map[string]string{"saved": strconv.Itoa(i)})
			return o.fail(rerr)
		}
	}

	if err := o.commit(func(s *EnrollmentState) {
		s.Verification.SecurityQuestionsSetup = true
		for i := range s.CollectedSecurityQuestions {
			s.CollectedSecurityQuestions[i].Answer = ""
		}
		s.Step = StepCeremony
	}); err != nil {
		return err
	}

	e.metricInc(MetricSecurityQuestionsSaved)
	e.emitAudit(ctx, auditEventSecurityQuestionsSave, nil, map[string]string{"saved": strconv.Itoa(len(pairs))})
	e.notifier.Success("Security questions saved.")
	return nil
}

// CompleteAuthentication runs the credential ceremony. The biometric phase
// is best effort; the fallback key registration must succeed.
func (e *Engine) CompleteAuthentication(ctx context.Context) (*ceremony.Result, error) {
	const op = "complete_authentication"
	o, err := e.begin(op)
	if err != nil {
		return nil, err
	}
	defer o.end()

	if err := o.requireStep(StepCeremony); err != nil {
		return nil, o.fail(err)
	}
	st := o.snapshot()
	v := st.Verification
	if !v.EmailVerified || !v.PhoneVerified || !v.SecurityQuestionsSetup {
		return nil, o.fail(stateError(op, ErrPrerequisites, "Finish email, phone and security question setup first."))
	}

	userID, err := e.resolveUserID(ctx, o, op)
	if err != nil {
		return nil, o.fail(err)
	}

	res, err := e.ceremony.Run(ctx, ceremony.Subject{
		UserID: userID,
		Email:  st.Identity.Email,
		Phone:  st.Identity.Phone,
	})
	if err != nil {
		e.metricInc(MetricCeremonyFailed)
		msg := UserMessage(remoteError(op, err))
		cerr := &Error{Op: op, Kind: KindCeremony, Message: "Could not register your fallback credentials. " + msg, Err: err}
		e.emitAudit(ctx, auditEventCeremony, cerr, nil)
		return nil, o.fail(cerr)
	}

	if err := o.commit(func(s *EnrollmentState) {
		s.Verification.BiometricVerified = true
		s.Verification.FallbackSetupComplete = true
		keys := res.Keys
		s.BiometricKeys = &keys
		s.FallbackQuestions = append([]string(nil), res.Questions...)
		s.BiometricOutcome = res.Biometric.Outcome
		s.Step = StepProfile
	}); err != nil {
		return nil, err
	}

	switch res.Biometric.Outcome {
	case ceremony.OutcomeSucceeded:
		e.metricInc(MetricBiometricSucceeded)
	case ceremony.OutcomeSkippedUnsupported:
		e.metricInc(MetricBiometricSkipped)
	default:
		e.metricInc(MetricBiometricFailed)
	}
	e.emitAudit(ctx, auditEventCeremony, nil, map[string]string{
		"biometric": res.Biometric.Outcome.String(),
		"stage":     string(res.Biometric.Stage),
	})
	e.notifier.Success(res.Message)
	return res, nil
}

// CompleteProfileCreation submits the profile, stores the returned
// credential pair and user record, and signs the user in.
func (e *Engine) CompleteProfileCreation(ctx context.Context, data ProfileData) (*backend.UserRecord, error) {
	const op = "complete_profile_creation"
	o, err := e.begin(op)
	if err != nil {
		return nil, err
	}
	defer o.end()

	data.FirstName = strings.TrimSpace(data.FirstName)
	data.LastName = strings.TrimSpace(data.LastName)
	if data.FirstName == "" || data.LastName == "" {
		return nil, o.fail(invalidInput(op, ErrInvalidProfile, "First and last name are required.", "first and last name are required"))
	}
	if err := o.requireStep(StepProfile); err != nil {
		return nil, o.fail(err)
	}

	st := o.snapshot()
	if !st.Verification.BiometricVerified || !st.Verification.FallbackSetupComplete {
		return nil, o.fail(stateError(op, ErrPrerequisites, "Complete credential setup first."))
	}

	userID, err := e.resolveUserID(ctx, o, op)
	if err != nil {
		return nil, o.fail(err)
	}

	role := permission.Normalize(data.AdminRole)
	resp, err := e.users.CreateProfile(ctx, backend.ProfileRequest{
		UserID:      userID,
		Email:       st.Identity.Email,
		Phone:       st.Identity.Phone,
		FirstName:   data.FirstName,
		LastName:    data.LastName,
		DateOfBirth: strings.TrimSpace(data.DateOfBirth),
		Region:      strings.TrimSpace(data.Region),
		AdminRole:   role,
		UserType:    strings.TrimSpace(data.UserType),
	})
	if err != nil {
		e.metricInc(MetricProfileCreationFailed)
		rerr := remoteError(op, err)
		e.emitAudit(ctx, auditEventProfileCreated, rerr, nil)
		return nil, o.fail(rerr)
	}
	if resp == nil || strings.TrimSpace(resp.AccessToken) == "" || strings.TrimSpace(resp.RefreshToken) == "" {
		e.metricInc(MetricProfileCreationFailed)
		ierr := &Error{Op: op, Kind: KindRemote, Message: "The server did not return a complete sign-in. Please try again.", Err: ErrIncompleteCredentials}
		e.emitAudit(ctx, auditEventProfileCreated, ierr, nil)
		return nil, o.fail(ierr)
	}

	user := resp.User
	if user.ID == "" {
		user.ID = userID
	}
	if user.Email == "" {
		user.Email = st.Identity.Email
	}
	if user.Phone == "" {
		user.Phone = st.Identity.Phone
	}
	if user.AdminRole == "" {
		user.AdminRole = role
	}

	if err := e.signIn(ctx, o, resp, user); err != nil {
		return nil, o.fail(err)
	}

	e.roles.Invalidate()
	e.metricInc(MetricProfileCreated)
	e.emitAudit(ctx, auditEventProfileCreated, nil, map[string]string{"role": user.AdminRole})
	e.notifier.Success("Welcome, " + user.FirstName + "!")
	return &user, nil
}

// signIn persists the credential pair and user record and flips the state
// to authenticated. It holds the engine lock throughout so a concurrent
// Logout cannot interleave with the writes.
func (e *Engine) signIn(ctx context.Context, o *operation, resp *backend.ProfileResponse, user backend.UserRecord) error {
	const op = "complete_profile_creation"

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != o.epoch {
		e.metricInc(MetricStaleCompletionDiscarded)
		return stateError(op, ErrSessionReset, "The session was reset. Please start again.")
	}

	if err := e.sessions.SetTokens(ctx, resp.AccessToken, resp.RefreshToken, string(resp.ExpiresIn)); err != nil {
		return &Error{Op: op, Kind: KindState, Message: "Could not store your session.", Err: err}
	}
	if err := e.store.SaveUser(ctx, user); err != nil {
		e.logger.Warn("persisting user record failed", zap.Error(err))
	}

	u := user
	e.user = &u
	e.state.Identity.UserID = user.ID
	e.state.Verification.ProfileCreated = true
	e.state.IsAuthenticated = true
	return nil
}

// resolveUserID returns the known user id or looks it up by email and phone.
func (e *Engine) resolveUserID(ctx context.Context, o *operation, op string) (string, error) {
	st := o.snapshot()
	if st.Identity.UserID != "" {
		return st.Identity.UserID, nil
	}

	id, err := e.identity.ResolveUserID(ctx, st.Identity.Email, st.Identity.Phone)
	if err != nil {
		return "", remoteError(op, err)
	}
	if err := o.commit(func(s *EnrollmentState) {
		s.Identity.UserID = id
	}); err != nil {
		return "", err
	}
	return id, nil
}

// GoBackStep moves one step back along the back table. Steps without an
// entry are left unchanged, and so is the step while an operation is in
// flight.
func (e *Engine) GoBackStep() Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return e.state.Step
	}
	if prev, ok := e.state.Step.Previous(); ok {
		e.state.Step = prev
		e.state.Error = ""
	}
	return e.state.Step
}
