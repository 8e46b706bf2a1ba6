// Package validate holds the local input checks run before any enrollment
// call reaches the network.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// OTPLength is the exact length of a one-time code after trimming.
	OTPLength = 6
	// SecurityQuestionCount is the number of question/answer pairs an account must register.
	SecurityQuestionCount = 3
	// MinAnswerLength is the minimum trimmed length of a security answer.
	MinAnswerLength = 2

	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var (
	ErrEmail              = errors.New("invalid email address")
	ErrPhone              = errors.New("invalid phone number")
	ErrOTP                = errors.New("verification code must be 6 characters")
	ErrQuestionCount      = errors.New("exactly 3 security questions are required")
	ErrQuestionEmpty      = errors.New("security question cannot be empty")
	ErrAnswerTooShort     = errors.New("security answer must be at least 2 characters")
	ErrQuestionDuplicated = errors.New("security questions must be unique")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Email trims raw and checks it has the local@domain.tld shape.
func Email(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if !emailPattern.MatchString(email) {
		return "", ErrEmail
	}
	return email, nil
}

// NormalizePhone strips everything but digits and prefixes a single "+".
// The digit count must fall within the E.164 range.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw) + 1)
	b.WriteByte('+')
	digits := 0
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			digits++
		}
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", ErrPhone
	}
	return b.String(), nil
}

// OTP trims the code and checks its length.
func OTP(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if len([]rune(code)) != OTPLength {
		return "", ErrOTP
	}
	return code, nil
}

// QA is one question/answer pair as entered by the user.
type QA struct {
	Question string
	Answer   string
}

// SecurityQuestions checks the count, emptiness, answer length and
// case-insensitive uniqueness of the submitted pairs. The returned slice
// holds trimmed copies in the original order.
func SecurityQuestions(in []QA) ([]QA, error) {
	if len(in) != SecurityQuestionCount {
		return nil, ErrQuestionCount
	}

	out := make([]QA, 0, len(in))
	seen := make(map[string]int, len(in))
	for i, qa := range in {
		q := strings.TrimSpace(qa.Question)
		a := strings.TrimSpace(qa.Answer)
		if q == "" {
			return nil, fmt.Errorf("question %d: %w", i+1, ErrQuestionEmpty)
		}
		if len([]rune(a)) < MinAnswerLength {
			return nil, fmt.Errorf("question %d: %w", i+1, ErrAnswerTooShort)
		}
		key := strings.ToLower(q)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("questions %d and %d: %w", prev+1, i+1, ErrQuestionDuplicated)
		}
		seen[key] = i
		out = append(out, QA{Question: q, Answer: a})
	}
	return out, nil
}
