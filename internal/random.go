package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// FamilyID names a chain of rotated refresh tokens.
type FamilyID [16]byte

const (
	refreshTokenRawSize = 48
	refreshSecretSize   = 32
)

var ErrMalformedToken = errors.New("malformed refresh token")

func NewFamilyID() (FamilyID, error) {
	var id FamilyID
	_, err := rand.Read(id[:])
	return id, err
}

func (f FamilyID) String() string {
	return base64.RawURLEncoding.EncodeToString(f[:])
}

func ParseFamilyID(s string) (FamilyID, error) {
	var id FamilyID
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid family id size")
	}
	copy(id[:], raw)
	return id, nil
}

// RefreshSecret is the per-rotation random half of a refresh token. Only
// its hash is stored server side.
type RefreshSecret [refreshSecretSize]byte

func NewRefreshSecret() (RefreshSecret, error) {
	var s RefreshSecret
	_, err := rand.Read(s[:])
	return s, err
}

func (s RefreshSecret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// EncodeRefreshToken packs family and secret into one opaque token.
func EncodeRefreshToken(family FamilyID, secret RefreshSecret) string {
	var raw [refreshTokenRawSize]byte
	copy(raw[:len(family)], family[:])
	copy(raw[len(family):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func DecodeRefreshToken(token string) (FamilyID, RefreshSecret, error) {
	var (
		family FamilyID
		secret RefreshSecret
	)
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != refreshTokenRawSize {
		return family, secret, ErrMalformedToken
	}
	copy(family[:], raw[:len(family)])
	copy(secret[:], raw[len(family):])
	return family, secret, nil
}

// NewOTP returns a uniformly random decimal code.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("otp length %d, want %d", len(otp), digits)
	}
	return otp, nil
}
