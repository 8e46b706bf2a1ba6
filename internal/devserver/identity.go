package devserver

import (
	"net/mail"
	"strings"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/internal"
	"github.com/MrEthical07/goEnroll/internal/rate"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type channel string

const (
	channelEmail channel = "email"
	channelPhone channel = "phone"
)

func (ch channel) destination(body map[string]string) (string, error) {
	dest := strings.TrimSpace(body[string(ch)])
	switch ch {
	case channelEmail:
		if _, err := mail.ParseAddress(dest); err != nil {
			return "", badRequest("A valid email address is required.")
		}
		return strings.ToLower(dest), nil
	default:
		if len(dest) < 8 || dest[0] != '+' {
			return "", badRequest("A phone number in international format is required.")
		}
		return dest, nil
	}
}

func (s *Server) resolveUser(c *fiber.Ctx) error {
	email := strings.ToLower(strings.TrimSpace(c.Query("email")))
	phone := strings.TrimSpace(c.Query("phone"))
	if email == "" && phone == "" {
		return badRequest("email or phone is required.")
	}
	if email != "" && !s.store.isVerified(otpKey(string(channelEmail), email)) {
		return &apiError{Status: fiber.StatusForbidden, Message: "Verify your email address first."}
	}
	id := s.store.resolve(email, phone, uuid.NewString())
	return c.JSON(fiber.Map{"user_id": id})
}

func (s *Server) sendOTP(ch channel) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body map[string]string
		if err := c.BodyParser(&body); err != nil {
			return badRequest("Malformed request body.")
		}
		dest, err := ch.destination(body)
		if err != nil {
			return err
		}
		if err := s.limit(c, rate.OTPSend, string(ch)+":"+dest); err != nil {
			return err
		}

		code, err := internal.NewOTP(s.cfg.OTPDigits)
		if err != nil {
			return err
		}
		s.store.putOTP(otpKey(string(ch), dest), code, s.clock.Now().Add(s.cfg.OTPTTL))
		// Delivery is simulated: the code only reaches the log.
		s.logger.Info("verification code issued",
			zap.String("channel", string(ch)),
			zap.String("destination", dest),
			zap.String("code", code),
		)
		return c.JSON(fiber.Map{"message": "Verification code sent."})
	}
}

func (s *Server) verifyOTP(ch channel) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body map[string]string
		if err := c.BodyParser(&body); err != nil {
			return badRequest("Malformed request body.")
		}
		dest, err := ch.destination(body)
		if err != nil {
			return err
		}
		if err := s.limit(c, rate.Verify, string(ch)+":"+dest); err != nil {
			return err
		}
		key := otpKey(string(ch), dest)
		if err := s.store.checkOTP(key, strings.TrimSpace(body["code"]), s.clock.Now(), s.cfg.OTPAttempts); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"verified": true})
	}
}

func (s *Server) refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil || body.RefreshToken == "" {
		return badRequest("refresh_token is required.")
	}
	family, secret, err := internal.DecodeRefreshToken(body.RefreshToken)
	if err != nil {
		return unauthorized("Invalid refresh token.")
	}
	if err := s.limit(c, rate.Refresh, family.String()); err != nil {
		return err
	}

	next, err := internal.NewRefreshSecret()
	if err != nil {
		return err
	}
	userID, err := s.store.rotate(family, secret.Hash(), next.Hash(), s.clock.Now())
	if err != nil {
		if err == errRefreshReuse {
			s.logger.Warn("refresh token reuse, family revoked", zap.String("family", family.String()))
		}
		return err
	}

	access, err := s.issueAccess(userID)
	if err != nil {
		return err
	}
	return c.JSON(backend.TokenPair{
		AccessToken:  access,
		RefreshToken: internal.EncodeRefreshToken(family, next),
		ExpiresIn:    backend.Expiry(expiryDescriptor(s.cfg.AccessTTL)),
	})
}

// issuePair starts a new refresh family for userID.
func (s *Server) issuePair(userID string) (access, refresh string, err error) {
	family, err := internal.NewFamilyID()
	if err != nil {
		return "", "", err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", "", err
	}
	s.store.putFamily(family, &refreshFamily{
		userID:  userID,
		current: secret.Hash(),
		expires: s.clock.Now().Add(s.cfg.RefreshTTL),
	})
	access, err = s.issueAccess(userID)
	if err != nil {
		return "", "", err
	}
	return access, internal.EncodeRefreshToken(family, secret), nil
}

func (s *Server) issueAccess(userID string) (string, error) {
	var role, email string
	err := s.store.with(userID, func(a *account) error {
		role, email = a.record.AdminRole, a.record.Email
		return nil
	})
	if err != nil {
		return "", err
	}
	return s.tokens.Issue(userID, role, email)
}
