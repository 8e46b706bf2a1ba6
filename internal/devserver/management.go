package devserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/internal/answer"
	"github.com/MrEthical07/goEnroll/permission"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxSecurityQuestions = 5

func (s *Server) registerKeys(c *fiber.Ctx) error {
	id := c.Params("id")
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	key := &fallbackKey{ID: uuid.NewString(), Public: pub, private: priv}

	err = s.store.with(id, func(a *account) error {
		a.key = key
		return nil
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(backend.FallbackKeys{
		KeyID:     key.ID,
		PublicKey: base64.StdEncoding.EncodeToString(key.Public),
		Algorithm: "ed25519",
	})
}

func (s *Server) addSecurityQuestion(c *fiber.Ctx) error {
	var body struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest("Malformed request body.")
	}
	question := strings.TrimSpace(body.Question)
	if question == "" {
		return badRequest("question is required.")
	}
	hash, err := s.answers.Hash(body.Answer)
	if err != nil {
		if errors.Is(err, answer.ErrTooShort) {
			return badRequest("Answers must be at least 2 characters.")
		}
		return err
	}

	err = s.store.with(c.Params("id"), func(a *account) error {
		for i, q := range a.questions {
			if strings.EqualFold(q.Question, question) {
				a.questions[i].Hash = hash
				return nil
			}
		}
		if len(a.questions) >= maxSecurityQuestions {
			return conflict("At most 5 security questions can be stored.")
		}
		a.questions = append(a.questions, storedQuestion{Question: question, Hash: hash})
		return nil
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"saved": true})
}

func (s *Server) listSecurityQuestions(c *fiber.Ctx) error {
	var out []string
	err := s.store.with(c.Params("id"), func(a *account) error {
		out = make([]string, 0, len(a.questions))
		for _, q := range a.questions {
			out = append(out, q.Question)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"questions": out})
}

// createProfile finishes enrollment. The email must be verified and at
// least one security question stored; phone verification is optional.
func (s *Server) createProfile(c *fiber.Ctx) error {
	var req backend.ProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Malformed request body.")
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.FirstName == "" || req.LastName == "" {
		return badRequest("First and last name are required.")
	}
	if !s.store.isVerified(otpKey(string(channelEmail), req.Email)) {
		return &apiError{Status: fiber.StatusForbidden, Message: "Email address is not verified."}
	}
	role := permission.Normalize(req.AdminRole)
	if role == "" || !permission.KnownRole(role) {
		role = permission.RoleUser
	}
	userType := strings.TrimSpace(req.UserType)
	if userType == "" {
		userType = "voter"
	}

	var rec backend.UserRecord
	err := s.store.with(req.UserID, func(a *account) error {
		if a.profiled {
			return conflict("Profile already exists.")
		}
		if len(a.questions) == 0 {
			return conflict("Save security questions first.")
		}
		a.record.FirstName = req.FirstName
		a.record.LastName = req.LastName
		a.record.DateOfBirth = req.DateOfBirth
		a.record.Region = req.Region
		a.record.AdminRole = role
		a.record.UserType = userType
		a.record.SubscriptionStatus = "free"
		if req.Phone != "" && a.record.Phone == "" {
			a.record.Phone = req.Phone
		}
		a.profiled = true
		rec = a.record
		return nil
	})
	if err != nil {
		return err
	}

	access, refresh, err := s.issuePair(rec.ID)
	if err != nil {
		return err
	}
	s.logger.Info("profile created", zap.String("user_id", rec.ID), zap.String("role", role))

	// The real service wraps this response; the client unwraps it.
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": backend.ProfileResponse{
		User:         rec,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    backend.Expiry(expiryDescriptor(s.cfg.AccessTTL)),
	}})
}

func (s *Server) getProfile(c *fiber.Ctx) error {
	var rec backend.UserRecord
	err := s.store.with(c.Params("id"), func(a *account) error {
		rec = a.record
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) updateProfile(c *fiber.Ctx) error {
	var patch backend.ProfilePatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest("Malformed request body.")
	}
	var rec backend.UserRecord
	err := s.store.with(c.Params("id"), func(a *account) error {
		setIf(&a.record.FirstName, patch.FirstName)
		setIf(&a.record.LastName, patch.LastName)
		setIf(&a.record.DateOfBirth, patch.DateOfBirth)
		setIf(&a.record.Region, patch.Region)
		rec = a.record
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) getRole(c *fiber.Ctx) error {
	var info backend.RoleInfo
	err := s.store.with(c.Params("id"), func(a *account) error {
		info = roleInfo(a.record)
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(info)
}

func (s *Server) updateRole(c *fiber.Ctx) error {
	var patch backend.RolePatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest("Malformed request body.")
	}
	if patch.AdminRole != "" {
		role := permission.Normalize(patch.AdminRole)
		if role != permission.RoleUser && !permission.KnownRole(role) {
			return badRequest("Unknown role " + patch.AdminRole + ".")
		}
		patch.AdminRole = role
	}

	var info backend.RoleInfo
	err := s.store.with(c.Params("id"), func(a *account) error {
		setIf(&a.record.AdminRole, patch.AdminRole)
		setIf(&a.record.UserType, patch.UserType)
		setIf(&a.record.SubscriptionStatus, patch.SubscriptionStatus)
		info = roleInfo(a.record)
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(info)
}

func roleInfo(r backend.UserRecord) backend.RoleInfo {
	return backend.RoleInfo{
		AdminRole:          r.AdminRole,
		UserType:           r.UserType,
		SubscriptionStatus: r.SubscriptionStatus,
	}
}

func setIf(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
