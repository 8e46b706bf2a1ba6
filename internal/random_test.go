package internal

import (
	"errors"
	"testing"
)

func TestRefreshTokenRoundTrip(t *testing.T) {
	family, err := NewFamilyID()
	if err != nil {
		t.Fatalf("NewFamilyID: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}

	token := EncodeRefreshToken(family, secret)
	gotFamily, gotSecret, err := DecodeRefreshToken(token)
	if err != nil {
		t.Fatalf("DecodeRefreshToken: %v", err)
	}
	if gotFamily != family || gotSecret.Hash() != secret.Hash() {
		t.Fatal("round trip changed token parts")
	}

	parsed, err := ParseFamilyID(family.String())
	if err != nil || parsed != family {
		t.Fatalf("ParseFamilyID: %v", err)
	}
}

func TestDecodeRefreshTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "not base64 !", "c2hvcnQ"} {
		if _, _, err := DecodeRefreshToken(token); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%q: expected ErrMalformedToken, got %v", token, err)
		}
	}
}

func TestNewOTP(t *testing.T) {
	code, err := NewOTP(6)
	if err != nil {
		t.Fatalf("NewOTP: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("non-digit in %q", code)
		}
	}

	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected error for 4 digits")
	}
}
