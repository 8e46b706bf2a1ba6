// Package ceremony registers a user's credentials at the end of
// verification: an optional platform-biometric credential followed by the
// mandatory server-held fallback key and security-question confirmation.
//
// Phase A (biometric) is best effort. Any failure is recorded in the
// returned [PhaseA] outcome and logged, never returned as an error.
// Phase B (fallback) always runs, whatever Phase A produced, and its key
// registration failing aborts the ceremony.
package ceremony

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/device"
	"go.uber.org/zap"
)

var (
	// ErrFallbackRegistration wraps a failed fallback key registration.
	ErrFallbackRegistration = errors.New("ceremony: fallback key registration failed")
	// ErrNoUserID is returned when Run is called without a resolved user id.
	ErrNoUserID = errors.New("ceremony: user id is required")
)

// Capabilities is what the local platform can do.
type Capabilities struct {
	PlatformAuthenticator bool
	PublicKeyCredential   bool
}

// Supported reports whether a platform credential can be created.
func (c Capabilities) Supported() bool {
	return c.PlatformAuthenticator && c.PublicKeyCredential
}

// CapabilityDetector inspects the platform.
type CapabilityDetector interface {
	Detect(ctx context.Context) (Capabilities, error)
}

// StaticDetector reports fixed capabilities.
type StaticDetector Capabilities

func (s StaticDetector) Detect(context.Context) (Capabilities, error) {
	return Capabilities(s), nil
}

// CreationOptions are the decoded inputs for creating a platform credential.
type CreationOptions struct {
	Challenge   []byte
	UserID      []byte
	UserName    string
	DisplayName string
	RPID        string
	RPName      string
	Timeout     time.Duration
}

// Attestation is what the authenticator returns for a new credential.
type Attestation struct {
	CredentialID      string
	Type              string
	AttestationObject []byte
	ClientDataJSON    []byte
}

// Authenticator creates platform credentials.
type Authenticator interface {
	Create(ctx context.Context, opts CreationOptions) (*Attestation, error)
}

// Backend is the set of remote calls the ceremony makes.
type Backend interface {
	RegisterDevice(ctx context.Context, req backend.DeviceRegistration) error
	RegisterBiometric(ctx context.Context, req backend.BiometricRegistration) error
	BeginRegistration(ctx context.Context, req backend.BeginRegistrationRequest) (*backend.RegistrationOptions, error)
	FinishRegistration(ctx context.Context, req backend.FinishRegistrationRequest) error
	RegisterFallbackKeys(ctx context.Context, userID string) (*backend.FallbackKeys, error)
	ListSecurityQuestions(ctx context.Context, userID string) ([]string, error)
}

type services struct {
	backend.Biometric
	users backend.Users
}

func (s services) RegisterFallbackKeys(ctx context.Context, userID string) (*backend.FallbackKeys, error) {
	return s.users.RegisterFallbackKeys(ctx, userID)
}

func (s services) ListSecurityQuestions(ctx context.Context, userID string) ([]string, error) {
	return s.users.ListSecurityQuestions(ctx, userID)
}

// Services adapts the biometric and user-management clients into a Backend.
func Services(bio backend.Biometric, users backend.Users) Backend {
	return services{Biometric: bio, users: users}
}

// Outcome is the result of the biometric phase.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota + 1
	OutcomeSkippedUnsupported
	OutcomeFailedNonFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkippedUnsupported:
		return "skipped-unsupported"
	case OutcomeFailedNonFatal:
		return "failed-non-fatal"
	default:
		return "unknown"
	}
}

// Stage names the step of the biometric phase an outcome refers to.
type Stage string

const (
	StageDetect    Stage = "detect"
	StageDevice    Stage = "register-device"
	StageBiometric Stage = "register-biometric"
	StageBegin     Stage = "begin-registration"
	StageDecode    Stage = "decode-options"
	StageCreate    Stage = "create-credential"
	StageFinish    Stage = "finish-registration"
)

// PhaseA records what happened during the biometric phase.
type PhaseA struct {
	Outcome      Outcome
	Stage        Stage
	Err          error
	CredentialID string
}

// Result is the outcome of a completed ceremony.
type Result struct {
	Biometric PhaseA
	Keys      backend.FallbackKeys
	Questions []string
	Message   string
}

// Subject is the identity the ceremony registers credentials for.
type Subject struct {
	UserID string
	Email  string
	Phone  string
}

// Config configures a Coordinator.
type Config struct {
	Backend  Backend
	Detector CapabilityDetector
	// Authenticator may be nil, in which case the biometric phase is skipped.
	Authenticator Authenticator
	Devices       device.Fingerprinter
	Logger        *zap.Logger
}

// Coordinator runs the two-phase ceremony.
type Coordinator struct {
	backend  Backend
	detector CapabilityDetector
	authn    Authenticator
	devices  device.Fingerprinter
	logger   *zap.Logger
}

// New validates cfg and returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Backend == nil {
		return nil, errors.New("ceremony: backend is required")
	}
	if cfg.Detector == nil {
		cfg.Detector = StaticDetector{}
	}
	if cfg.Devices == nil {
		cfg.Devices = device.HostFingerprinter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		backend:  cfg.Backend,
		detector: cfg.Detector,
		authn:    cfg.Authenticator,
		devices:  cfg.Devices,
		logger:   cfg.Logger,
	}, nil
}

// Run executes both phases for subject.
func (c *Coordinator) Run(ctx context.Context, subject Subject) (*Result, error) {
	if strings.TrimSpace(subject.UserID) == "" {
		return nil, ErrNoUserID
	}

	phaseA := c.biometric(ctx, subject)
	if phaseA.Outcome == OutcomeFailedNonFatal {
		c.logger.Warn("biometric registration failed; continuing with fallback",
			zap.String("stage", string(phaseA.Stage)),
			zap.Error(phaseA.Err),
		)
	} else {
		c.logger.Info("biometric phase finished",
			zap.String("outcome", phaseA.Outcome.String()),
		)
	}

	keys, err := c.backend.RegisterFallbackKeys(ctx, subject.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFallbackRegistration, err)
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: empty response", ErrFallbackRegistration)
	}

	questions, err := c.backend.ListSecurityQuestions(ctx, subject.UserID)
	if err != nil {
		c.logger.Warn("listing security questions failed", zap.Error(err))
		questions = nil
	}

	return &Result{
		Biometric: phaseA,
		Keys:      *keys,
		Questions: questions,
		Message:   message(phaseA.Outcome),
	}, nil
}

func (c *Coordinator) biometric(ctx context.Context, subject Subject) PhaseA {
	caps, err := c.detector.Detect(ctx)
	if err != nil {
		return PhaseA{Outcome: OutcomeFailedNonFatal, Stage: StageDetect, Err: err}
	}
	if !caps.Supported() || c.authn == nil {
		return PhaseA{Outcome: OutcomeSkippedUnsupported, Stage: StageDetect}
	}

	dev, err := c.devices.Identify(ctx)
	if err != nil {
		return failed(StageDevice, err)
	}
	if err := c.backend.RegisterDevice(ctx, backend.DeviceRegistration{
		UserID:      subject.UserID,
		DeviceID:    dev.DeviceID,
		Fingerprint: dev.Fingerprint,
		Platform:    dev.Platform,
	}); err != nil {
		return failed(StageDevice, err)
	}

	if err := c.backend.RegisterBiometric(ctx, backend.BiometricRegistration{
		UserID:   subject.UserID,
		DeviceID: dev.DeviceID,
		Type:     "platform",
	}); err != nil {
		return failed(StageBiometric, err)
	}

	name := subject.Email
	if name == "" {
		name = subject.Phone
	}
	options, err := c.backend.BeginRegistration(ctx, backend.BeginRegistrationRequest{
		UserID:      subject.UserID,
		Username:    name,
		DisplayName: name,
	})
	if err != nil {
		return failed(StageBegin, err)
	}
	if options == nil {
		return failed(StageBegin, errors.New("empty registration options"))
	}

	creation, err := decodeOptions(options)
	if err != nil {
		return failed(StageDecode, err)
	}

	att, err := c.authn.Create(ctx, creation)
	if err != nil {
		return failed(StageCreate, err)
	}
	if att == nil {
		return failed(StageCreate, errors.New("authenticator returned no attestation"))
	}

	credType := att.Type
	if credType == "" {
		credType = "public-key"
	}
	if err := c.backend.FinishRegistration(ctx, backend.FinishRegistrationRequest{
		UserID:            subject.UserID,
		CredentialID:      att.CredentialID,
		Type:              credType,
		AttestationObject: ToNumbers(att.AttestationObject),
		ClientDataJSON:    ToNumbers(att.ClientDataJSON),
	}); err != nil {
		return failed(StageFinish, err)
	}

	return PhaseA{Outcome: OutcomeSucceeded, Stage: StageFinish, CredentialID: att.CredentialID}
}

func failed(stage Stage, err error) PhaseA {
	return PhaseA{Outcome: OutcomeFailedNonFatal, Stage: stage, Err: err}
}

func decodeOptions(o *backend.RegistrationOptions) (CreationOptions, error) {
	challenge, err := DecodeBase64URL(o.Challenge)
	if err != nil {
		return CreationOptions{}, fmt.Errorf("challenge: %w", err)
	}
	if len(challenge) == 0 {
		return CreationOptions{}, errors.New("challenge: empty")
	}
	userID, err := DecodeBase64URL(o.User.ID)
	if err != nil {
		return CreationOptions{}, fmt.Errorf("user id: %w", err)
	}
	return CreationOptions{
		Challenge:   challenge,
		UserID:      userID,
		UserName:    o.User.Name,
		DisplayName: o.User.DisplayName,
		RPID:        o.RP.ID,
		RPName:      o.RP.Name,
		Timeout:     time.Duration(o.Timeout) * time.Millisecond,
	}, nil
}

// DecodeBase64URL decodes base64url with or without padding.
func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(s), "="))
}

// ToNumbers converts a byte blob into the numeric array form used on the wire.
func ToNumbers(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func message(o Outcome) string {
	switch o {
	case OutcomeSucceeded:
		return "Biometric and fallback credentials registered successfully."
	case OutcomeSkippedUnsupported:
		return "Fallback credentials registered. Biometric sign-in is not available on this device."
	default:
		return "Fallback credentials registered. Biometric setup could not be completed; you can enable it later."
	}
}
