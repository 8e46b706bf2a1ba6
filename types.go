package goEnroll

import (
	"time"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/ceremony"
)

// Identity is what the user has told us about themselves so far. UserID
// stays empty until the backend resolves it from email and phone.
type Identity struct {
	Email  string
	Phone  string
	UserID string
}

// Verification flags only ever go from false to true within one
// enrollment; Logout and ResetAuth clear them together.
type Verification struct {
	EmailVerified          bool
	PhoneVerified          bool
	SecurityQuestionsSetup bool
	BiometricVerified      bool
	FallbackSetupComplete  bool
	ProfileCreated         bool
}

// SecurityQuestion is one question/answer pair. Answers are dropped from
// the state once the set has been stored remotely.
type SecurityQuestion struct {
	Question string
	Answer   string
}

// ProfileData is the user-supplied part of the final profile.
type ProfileData struct {
	FirstName   string
	LastName    string
	DateOfBirth string
	Region      string
	AdminRole   string
	UserType    string
}

// InitOptions configures Initialize.
type InitOptions struct {
	// Referrer is the page or origin the user arrived from; empty means
	// direct navigation.
	Referrer string
}

// ReferrerCheck is the session-scoped record written by Initialize.
type ReferrerCheck struct {
	Referrer  string    `json:"referrer"`
	Allowed   bool      `json:"allowed"`
	CheckedAt time.Time `json:"checked_at"`
}

// EnrollmentState is the observable state of the enrollment flow.
type EnrollmentState struct {
	Step         Step
	Identity     Identity
	Verification Verification

	OTPSent                    bool
	CollectedSecurityQuestions []SecurityQuestion
	FallbackQuestions          []string
	BiometricKeys              *backend.FallbackKeys
	BiometricOutcome           ceremony.Outcome

	IsAuthenticated bool

	// Error is the message of the last failed operation, Warning the last
	// non-blocking problem. Neither affects transitions.
	Error     string
	Warning   string
	IsLoading bool
}

func initialState() EnrollmentState {
	return EnrollmentState{Step: StepEmail}
}

func (s EnrollmentState) clone() EnrollmentState {
	out := s
	if s.CollectedSecurityQuestions != nil {
		out.CollectedSecurityQuestions = append([]SecurityQuestion(nil), s.CollectedSecurityQuestions...)
	}
	if s.FallbackQuestions != nil {
		out.FallbackQuestions = append([]string(nil), s.FallbackQuestions...)
	}
	if s.BiometricKeys != nil {
		keys := *s.BiometricKeys
		out.BiometricKeys = &keys
	}
	return out
}
