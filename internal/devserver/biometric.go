package devserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const challengeSize = 32

func (s *Server) registerDevice(c *fiber.Ctx) error {
	var req backend.DeviceRegistration
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Malformed request body.")
	}
	if req.UserID == "" || req.DeviceID == "" {
		return badRequest("user_id and device_id are required.")
	}
	err := s.store.with(req.UserID, func(a *account) error {
		a.devices[req.DeviceID] = req
		return nil
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"device_id": req.DeviceID})
}

func (s *Server) registerBiometric(c *fiber.Ctx) error {
	var req backend.BiometricRegistration
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Malformed request body.")
	}
	err := s.store.with(req.UserID, func(a *account) error {
		if _, ok := a.devices[req.DeviceID]; !ok {
			return conflict("Register this device first.")
		}
		a.biometrics[req.DeviceID] = req.Type
		return nil
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"registered": true})
}

func (s *Server) beginRegistration(c *fiber.Ctx) error {
	var req backend.BeginRegistrationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Malformed request body.")
	}
	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return err
	}
	err := s.store.with(req.UserID, func(a *account) error {
		a.challenge = challenge
		return nil
	})
	if err != nil {
		return err
	}

	var out backend.RegistrationOptions
	out.Challenge = base64.RawURLEncoding.EncodeToString(challenge)
	out.User.ID = base64.RawURLEncoding.EncodeToString([]byte(req.UserID))
	out.User.Name = req.Username
	out.User.DisplayName = req.DisplayName
	out.RP.ID = s.cfg.RPID
	out.RP.Name = s.cfg.RPName
	out.Timeout = 60000
	return c.JSON(out)
}

// clientData is the subset of the authenticator's client data the server
// checks: the ceremony type and the echoed challenge.
type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

func (s *Server) finishRegistration(c *fiber.Ctx) error {
	var req backend.FinishRegistrationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Malformed request body.")
	}
	if req.CredentialID == "" || len(req.AttestationObject) == 0 {
		return badRequest("credential_id and attestation_object are required.")
	}
	raw, err := fromNumbers(req.ClientDataJSON)
	if err != nil {
		return err
	}
	var cd clientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return badRequest("client_data_json is not valid JSON.")
	}
	if cd.Type != "webauthn.create" {
		return badRequest("Unexpected client data type.")
	}
	echoed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(cd.Challenge, "="))
	if err != nil {
		return badRequest("Malformed challenge.")
	}

	err = s.store.with(req.UserID, func(a *account) error {
		if a.challenge == nil {
			return conflict("No registration in progress.")
		}
		ok := subtle.ConstantTimeCompare(a.challenge, echoed) == 1
		a.challenge = nil
		if !ok {
			return badRequest("Challenge mismatch.")
		}
		a.credentials = append(a.credentials, credential{ID: req.CredentialID, Type: req.Type})
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("platform credential registered",
		zap.String("user_id", req.UserID),
		zap.String("credential_id", req.CredentialID),
	)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"registered": true})
}

func fromNumbers(nums []int) ([]byte, error) {
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return nil, badRequest("Byte arrays must hold values 0-255.")
		}
		out[i] = byte(n)
	}
	return out, nil
}
