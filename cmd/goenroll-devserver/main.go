package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/goEnroll/internal/devserver"
	"github.com/MrEthical07/goEnroll/internal/logging"
	"go.uber.org/zap"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "listen address")
		redisAddr = flag.String("redis-addr", "", "redis address for rate limiting; if empty, REDIS_ADDR env or miniredis is used")
		noLimit   = flag.Bool("no-rate-limit", false, "disable OTP and refresh rate limiting")
		logLevel  = flag.String("log-level", "info", "log level")
		logFormat = flag.String("log-format", "console", "log format (json or console)")
		rpID      = flag.String("rp-id", "localhost", "relying party id for credential registration")
	)
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *logLevel, Format: *logFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	secret := os.Getenv("GOENROLL_DEV_JWT_SECRET")
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			logger.Fatal("generating jwt secret", zap.Error(err))
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("GOENROLL_DEV_JWT_SECRET not set; tokens will not survive a restart")
	}

	if *redisAddr == "" {
		*redisAddr = os.Getenv("REDIS_ADDR")
	}

	cfg := devserver.DefaultConfig()
	cfg.JWTSecret = []byte(secret)
	cfg.RedisAddr = *redisAddr
	cfg.DisableRateLimit = *noLimit
	cfg.RPID = *rpID
	cfg.Logger = logger

	srv, err := devserver.New(cfg)
	if err != nil {
		logger.Fatal("starting dev server", zap.Error(err))
	}
	defer func() { _ = srv.Close() }()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(*addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("listener stopped", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
