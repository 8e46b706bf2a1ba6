package validate

import (
	"errors"
	"testing"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a@b.com", "a@b.com", true},
		{"  voter@example.org ", "voter@example.org", true},
		{"", "", false},
		{"no-at-sign.com", "", false},
		{"a@b", "", false},
		{"a b@c.com", "", false},
	}
	for _, tt := range tests {
		got, err := Email(tt.in)
		if tt.ok && err != nil {
			t.Fatalf("Email(%q) unexpected error: %v", tt.in, err)
		}
		if !tt.ok && !errors.Is(err, ErrEmail) {
			t.Fatalf("Email(%q) expected ErrEmail, got %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Email(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+15551234567", "+15551234567", true},
		{"+1 (555) 123-4567", "+15551234567", true},
		{"15551234567", "+15551234567", true},
		{"123", "", false},
		{"+1234567890123456", "", false},
		{"phone", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if tt.ok && err != nil {
			t.Fatalf("NormalizePhone(%q) unexpected error: %v", tt.in, err)
		}
		if !tt.ok && !errors.Is(err, ErrPhone) {
			t.Fatalf("NormalizePhone(%q) expected ErrPhone, got %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOTP(t *testing.T) {
	if code, err := OTP(" 123456 "); err != nil || code != "123456" {
		t.Fatalf("expected trimmed code, got %q err=%v", code, err)
	}
	for _, bad := range []string{"", "12345", "1234567"} {
		if _, err := OTP(bad); !errors.Is(err, ErrOTP) {
			t.Fatalf("OTP(%q) expected ErrOTP, got %v", bad, err)
		}
	}
}

func validQuestions() []QA {
	return []QA{
		{Question: "First pet?", Answer: "Rex"},
		{Question: "Birth city?", Answer: "Lagos"},
		{Question: "Favourite book?", Answer: "Dune"},
	}
}

func TestSecurityQuestionsAcceptsValidSet(t *testing.T) {
	in := validQuestions()
	in[0].Answer = "  Rex  "
	out, err := SecurityQuestions(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 || out[0].Answer != "Rex" {
		t.Fatalf("unexpected normalized output: %+v", out)
	}
}

func TestSecurityQuestionsRejects(t *testing.T) {
	dup := validQuestions()
	dup[2].Question = "FIRST PET?"

	short := validQuestions()
	short[1].Answer = " x "

	empty := validQuestions()
	empty[0].Question = "   "

	tests := []struct {
		name string
		in   []QA
		want error
	}{
		{"too few", validQuestions()[:2], ErrQuestionCount},
		{"too many", append(validQuestions(), QA{Question: "Extra?", Answer: "yes"}), ErrQuestionCount},
		{"case-insensitive duplicate", dup, ErrQuestionDuplicated},
		{"one character answer", short, ErrAnswerTooShort},
		{"blank question", empty, ErrQuestionEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SecurityQuestions(tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
