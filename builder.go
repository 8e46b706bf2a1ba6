package goEnroll

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/cache"
	"github.com/MrEthical07/goEnroll/ceremony"
	"github.com/MrEthical07/goEnroll/device"
	"github.com/MrEthical07/goEnroll/internal/clock"
	"github.com/MrEthical07/goEnroll/internal/logging"
	"github.com/MrEthical07/goEnroll/roles"
	"github.com/MrEthical07/goEnroll/session"
	"github.com/MrEthical07/goEnroll/storage"
	"github.com/MrEthical07/goEnroll/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Every collaborator is optional: anything
// not supplied is built from Config. A Builder can be used once.
type Builder struct {
	config Config
	logger *zap.Logger
	clock  clock.Clock

	redis         redis.UniversalClient
	persistent    storage.Storage
	sessionScoped storage.Storage
	httpClient    *http.Client

	identity  backend.Identity
	biometric backend.Biometric
	users     backend.Users

	detector      ceremony.CapabilityDetector
	authenticator ceremony.Authenticator
	devices       device.Fingerprinter

	notifier  Notifier
	secure    SecureSession
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithRedis stores both the Credential Record and the session-scoped
// referrer check in client, overriding Config.Storage backends.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStorage sets the persistent store for the Credential Record and user.
func (b *Builder) WithStorage(s storage.Storage) *Builder {
	b.persistent = s
	return b
}

// WithSessionStorage sets the session-scoped store for the referrer check.
func (b *Builder) WithSessionStorage(s storage.Storage) *Builder {
	b.sessionScoped = s
	return b
}

func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithIdentityService(s backend.Identity) *Builder {
	b.identity = s
	return b
}

func (b *Builder) WithBiometricService(s backend.Biometric) *Builder {
	b.biometric = s
	return b
}

func (b *Builder) WithUsersService(s backend.Users) *Builder {
	b.users = s
	return b
}

func (b *Builder) WithCapabilityDetector(d ceremony.CapabilityDetector) *Builder {
	b.detector = d
	return b
}

// WithAuthenticator enables the biometric phase of the ceremony.
func (b *Builder) WithAuthenticator(a ceremony.Authenticator) *Builder {
	b.authenticator = a
	return b
}

func (b *Builder) WithDeviceFingerprinter(f device.Fingerprinter) *Builder {
	b.devices = f
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithSecureSession(s SecureSession) *Builder {
	b.secure = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		l, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		logger = l
	}
	clk := b.clock
	if clk == nil {
		clk = clock.Real()
	}

	persistent, sessionScoped, err := b.stores(cfg)
	if err != nil {
		return nil, err
	}

	responses, err := cache.New(cache.Config{
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
		Clock:      clk,
	})
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(cfg.Metrics)

	e := &Engine{
		config:        cfg,
		logger:        logger,
		clock:         clk,
		notifier:      b.notifier,
		secure:        b.secure,
		cache:         responses,
		sessionScoped: sessionScoped,
		metrics:       metrics,
		state:         initialState(),
	}
	if e.notifier == nil {
		e.notifier = NoOpNotifier{}
	}
	if e.secure == nil {
		e.secure = noopSecureSession{}
	}

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTP.Timeout}
	}
	tc := transport.New(transport.Config{
		HTTPClient: httpClient,
		Origin:     cfg.Endpoints.Origin,
		Cache:      responses,
		TokenSource: func(ctx context.Context) (string, error) {
			return e.sessions.AccessToken(ctx)
		},
		Logger:   logger.Named("transport"),
		Observer: metricsObserver{m: metrics},
	})

	e.identity = b.identity
	if e.identity == nil {
		e.identity = backend.NewIdentityClient(tc, cfg.Endpoints.IdentityURL)
	}
	e.users = b.users
	if e.users == nil {
		e.users = backend.NewUsersClient(tc, cfg.Endpoints.UsersURL)
	}
	biometric := b.biometric
	if biometric == nil {
		biometric = backend.NewBiometricClient(tc, cfg.Endpoints.BiometricURL)
	}

	e.store = session.NewStore(persistent, cfg.Session.KeyPrefix)
	e.sessions, err = session.NewManager(session.ManagerConfig{
		Store:              e.store,
		Refresher:          e.identity,
		Clock:              clk,
		Logger:             logger.Named("session"),
		RenewalLead:        cfg.Session.RenewalLead,
		RenewalHorizon:     cfg.Session.RenewalHorizon,
		ScheduleFromExpiry: cfg.Session.ScheduleFromExpiry,
		OnRefreshFailure:   e.onRefreshFailure,
		OnRefreshSuccess:   e.onRefreshSuccess,
	})
	if err != nil {
		responses.Close()
		return nil, err
	}

	e.roles, err = roles.New(roles.Config{
		Fetcher:      e.users,
		Current:      e.currentUser,
		Logger:       logger.Named("roles"),
		OnInvalidate: responses.Clear,
	})
	if err != nil {
		responses.Close()
		return nil, err
	}

	e.ceremony, err = ceremony.New(ceremony.Config{
		Backend:       ceremony.Services(biometric, e.users),
		Detector:      b.detector,
		Authenticator: b.authenticator,
		Devices:       b.devices,
		Logger:        logger.Named("ceremony"),
	})
	if err != nil {
		responses.Close()
		return nil, err
	}

	e.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger)

	b.built = true

	return e, nil
}

func (b *Builder) stores(cfg Config) (storage.Storage, storage.Storage, error) {
	persistent, sessionScoped := b.persistent, b.sessionScoped
	if b.redis != nil {
		if persistent == nil {
			persistent = storage.NewRedis(b.redis, cfg.Storage.Persistent.Expiration)
		}
		if sessionScoped == nil {
			sessionScoped = storage.NewRedis(b.redis, cfg.Storage.SessionScoped.Expiration)
		}
	}

	var err error
	if persistent == nil {
		if persistent, err = storage.Open(cfg.Storage.Persistent); err != nil {
			return nil, nil, fmt.Errorf("persistent storage: %w", err)
		}
	}
	if sessionScoped == nil {
		if sessionScoped, err = storage.Open(cfg.Storage.SessionScoped); err != nil {
			return nil, nil, fmt.Errorf("session storage: %w", err)
		}
	}
	return persistent, sessionScoped, nil
}
