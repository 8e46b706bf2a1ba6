package goEnroll

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goEnroll/transport"
)

// ConnectivityMessage is shown when a backend failure carries no message of its own.
const ConnectivityMessage = "Unable to reach the server. Check your connection and try again."

var (
	// ErrInvalidEmail is returned when the email address is malformed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPhone is returned when the phone number cannot be normalized.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidOTP is returned when a one-time code is not six characters.
	ErrInvalidOTP = errors.New("invalid verification code")
	// ErrSecurityQuestions is returned when the question set fails local validation.
	ErrSecurityQuestions = errors.New("invalid security questions")
	// ErrInvalidProfile is returned when required profile fields are missing.
	ErrInvalidProfile = errors.New("invalid profile data")
	// ErrPrerequisites is returned when an operation runs before the steps it depends on.
	ErrPrerequisites = errors.New("enrollment prerequisites not met")
	// ErrBusy is returned when another enrollment operation is still running.
	ErrBusy = errors.New("another enrollment operation is in progress")
	// ErrRateLimited is returned when the backend throttled a request and no cached answer existed.
	ErrRateLimited = errors.New("rate limited")
	// ErrRemote wraps any other backend failure.
	ErrRemote = errors.New("backend request failed")
	// ErrPartialWrite is returned when only some security questions were stored.
	ErrPartialWrite = errors.New("security questions partially saved")
	// ErrNotAuthenticated is returned by operations that need a signed-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrIncompleteCredentials is returned when profile creation does not yield a full credential pair.
	ErrIncompleteCredentials = errors.New("incomplete credential pair")
	// ErrReferrerRejected is returned by Initialize when the referrer is not an allowed origin.
	ErrReferrerRejected = errors.New("referrer rejected")
	// ErrSessionReset is returned when Logout or ResetAuth ran while an operation was in flight.
	ErrSessionReset = errors.New("session was reset during the operation")
	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// ErrorKind classifies an *Error.
type ErrorKind uint8

const (
	KindValidation ErrorKind = iota + 1
	KindRemote
	KindRateLimited
	KindCeremony
	KindPartialWrite
	KindState
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	case KindRateLimited:
		return "rate_limited"
	case KindCeremony:
		return "ceremony"
	case KindPartialWrite:
		return "partial_write"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error is the uniform error returned by Engine operations. Message is safe
// to show to the user; Err keeps the cause chain for errors.Is.
type Error struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Message
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the user-facing text for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func validationError(op string, sentinel, cause error) *Error {
	return &Error{
		Op:      op,
		Kind:    KindValidation,
		Message: cause.Error(),
		Err:     fmt.Errorf("%w: %w", sentinel, cause),
	}
}

// invalidInput is a validation failure whose user text differs from the
// wrapped cause.
func invalidInput(op string, sentinel error, message, cause string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindValidation,
		Message: message,
		Err:     fmt.Errorf("%w: %s", sentinel, cause),
	}
}

func stateError(op string, sentinel error, message string) *Error {
	return &Error{Op: op, Kind: KindState, Message: message, Err: sentinel}
}

// remoteError maps a transport failure onto the engine's taxonomy. The
// backend's own message wins over the generic connectivity text.
func remoteError(op string, err error) *Error {
	msg := transport.Message(err)
	if msg == "" {
		msg = ConnectivityMessage
	}
	if transport.IsRateLimited(err) {
		return &Error{Op: op, Kind: KindRateLimited, Message: msg, Err: fmt.Errorf("%w: %w", ErrRateLimited, err)}
	}
	return &Error{Op: op, Kind: KindRemote, Message: msg, Err: fmt.Errorf("%w: %w", ErrRemote, err)}
}
