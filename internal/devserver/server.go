package devserver

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/MrEthical07/goEnroll/internal/answer"
	"github.com/MrEthical07/goEnroll/internal/clock"
	"github.com/MrEthical07/goEnroll/internal/logging"
	"github.com/MrEthical07/goEnroll/internal/rate"
	"github.com/MrEthical07/goEnroll/jwt"
	"github.com/MrEthical07/goEnroll/middleware"
	"github.com/MrEthical07/goEnroll/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Server is the in-memory backend.
type Server struct {
	cfg     Config
	app     *fiber.App
	store   *memStore
	tokens  *jwt.Manager
	answers *answer.Hasher
	limiter *rate.Limiter
	logger  *zap.Logger
	clock   clock.Clock

	redis *redis.Client
	mini  *miniredis.Miniredis
}

// New builds a Server and registers its routes. Close releases the Redis
// client and any embedded miniredis.
func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.AccessTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    cfg.JWTSecret,
		Issuer:        cfg.Issuer,
		Now:           cfg.Clock.Now,
	})
	if err != nil {
		return nil, err
	}
	answers, err := answer.New(cfg.Answers)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		store:   newMemStore(),
		tokens:  tokens,
		answers: answers,
		logger:  logging.OrNop(cfg.Logger),
		clock:   cfg.Clock,
	}

	if !cfg.DisableRateLimit {
		addr := cfg.RedisAddr
		if addr == "" {
			s.mini, err = miniredis.Run()
			if err != nil {
				return nil, err
			}
			addr = s.mini.Addr()
		}
		s.redis = redis.NewClient(&redis.Options{Addr: addr})
		s.limiter = rate.New(s.redis, true)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "goenroll-devserver",
		DisableStartupMessage: true,
	})
	s.registerMiddlewares()
	s.registerRoutes()
	return s, nil
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.logger.Info("devserver listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) Close() error {
	var err error
	if s.redis != nil {
		err = s.redis.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
	return err
}

// LastCode returns the outstanding code for an email ("email") or phone
// ("phone") destination.
func (s *Server) LastCode(channel, dest string) (string, bool) {
	return s.store.lastOTP(otpKey(channel, dest))
}

func (s *Server) registerMiddlewares() {
	s.app.Use(s.requestLogger)
	s.app.Use(s.errorHandling)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	id := s.app.Group("/identity")
	id.Get("/users/resolve", s.resolveUser)
	id.Post("/otp/email/send", s.sendOTP(channelEmail))
	id.Post("/otp/email/verify", s.verifyOTP(channelEmail))
	id.Post("/otp/phone/send", s.sendOTP(channelPhone))
	id.Post("/otp/phone/verify", s.verifyOTP(channelPhone))
	id.Post("/auth/refresh", s.refresh)

	bio := s.app.Group("/biometric")
	bio.Post("/devices/register", s.registerDevice)
	bio.Post("/biometrics/register", s.registerBiometric)
	bio.Post("/webauthn/register/begin", s.beginRegistration)
	bio.Post("/webauthn/register/finish", s.finishRegistration)

	mgmt := s.app.Group("/management")
	mgmt.Post("/users/profile", s.createProfile)
	mgmt.Post("/users/:id/keys", s.registerKeys)
	mgmt.Post("/users/:id/security-questions", s.addSecurityQuestion)
	mgmt.Get("/users/:id/security-questions", s.listSecurityQuestions)

	guard := middleware.Guard(s.tokens)
	self := middleware.RequireSubject("id", permission.RoleManager, permission.RoleAdmin)
	mgmt.Get("/users/:id/profile", guard, self, s.getProfile)
	mgmt.Patch("/users/:id/profile", guard, self, s.updateProfile)
	mgmt.Get("/users/:id/role", guard, self, s.getRole)
	mgmt.Patch("/users/:id/role", guard, middleware.RequireRole(permission.RoleManager, permission.RoleAdmin), s.updateRole)
}

func (s *Server) errorHandling(c *fiber.Ctx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = errInternal
		}
		if err != nil {
			api := toAPIError(err)
			if api.Status >= 500 {
				s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
			}
			err = c.Status(api.Status).JSON(fiber.Map{"message": api.Message})
		}
	}()
	return c.Next()
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("latency", time.Since(start)),
		zap.String("request_id", c.Get("X-Request-ID")),
	)
	return err
}

// limit applies rule to key and answers 429 with the backend message the
// engine surfaces to the user.
func (s *Server) limit(c *fiber.Ctx, rule rate.Rule, key string) error {
	wait, err := s.limiter.Allow(c.UserContext(), rule, key)
	if err == nil {
		return nil
	}
	secs := int64(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Set(fiber.HeaderRetryAfter, itoa(secs))
	return &apiError{
		Status:  fiber.StatusTooManyRequests,
		Message: "Too many requests. Try again in " + itoa(secs) + "s.",
	}
}
