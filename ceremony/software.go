package ceremony

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// SoftwareAuthenticator creates credentials with an in-process ed25519
// key. It stands in for a platform authenticator in the CLI and in
// end-to-end tests; it offers no hardware protection.
type SoftwareAuthenticator struct {
	// Origin is echoed in the client data. Empty uses "https://" + RPID.
	Origin string
}

func (s SoftwareAuthenticator) Create(ctx context.Context, opts CreationOptions) (*Attestation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(opts.Challenge) == 0 {
		return nil, errors.New("software authenticator: empty challenge")
	}

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	origin := s.Origin
	if origin == "" {
		origin = "https://" + opts.RPID
	}
	clientData, err := json.Marshal(struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}{
		Type:      "webauthn.create",
		Challenge: base64.RawURLEncoding.EncodeToString(opts.Challenge),
		Origin:    origin,
	})
	if err != nil {
		return nil, err
	}

	return &Attestation{
		CredentialID:      uuid.NewString(),
		Type:              "public-key",
		AttestationObject: pub,
		ClientDataJSON:    clientData,
	}, nil
}
