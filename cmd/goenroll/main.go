package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MrEthical07/goEnroll"
	"github.com/MrEthical07/goEnroll/ceremony"
	"github.com/MrEthical07/goEnroll/device"
	"github.com/MrEthical07/goEnroll/internal/logging"
	"github.com/MrEthical07/goEnroll/internal/validate"
	"github.com/MrEthical07/goEnroll/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup runs before the process
// exits.
func run() int {
	var (
		envFile     = flag.String("env", ".env", "dotenv file with GOENROLL_* settings")
		referrer    = flag.String("referrer", "", "page the user arrived from; empty means direct navigation")
		softAuth    = flag.Bool("soft-authenticator", false, "register an in-process software credential instead of skipping the biometric phase")
		embedded    = flag.Bool("redis-embedded", false, "keep the session in an embedded miniredis")
		showMetrics = flag.Bool("metrics", false, "print metrics in Prometheus text format on exit")
		logout      = flag.Bool("logout", false, "end a restored session and exit")
	)
	flag.Parse()

	cfg, err := goEnroll.ConfigFromEnv(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	if *showMetrics {
		cfg.Metrics.Enabled = true
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	b := goEnroll.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithNotifier(goEnroll.LogNotifier{Logger: logger})

	if *embedded {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Error("starting miniredis", zap.Error(err))
			return 1
		}
		defer mr.Close()
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		defer func() { _ = client.Close() }()
		b.WithRedis(client)
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	}
	if *softAuth {
		b.WithCapabilityDetector(ceremony.StaticDetector{PlatformAuthenticator: true, PublicKeyCredential: true}).
			WithAuthenticator(ceremony.SoftwareAuthenticator{Origin: cfg.Endpoints.Origin})
		if host, err := os.Hostname(); err == nil {
			b.WithDeviceFingerprinter(device.Static{DeviceID: "cli-" + host, Platform: "cli"})
		}
	}

	engine, err := b.Build()
	if err != nil {
		logger.Error("building engine", zap.Error(err))
		return 1
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Initialize(ctx, goEnroll.InitOptions{Referrer: *referrer}); err != nil {
		fmt.Fprintln(os.Stderr, goEnroll.UserMessage(err))
		return 1
	}

	if engine.IsAuthenticated() {
		if *logout {
			if err := engine.Logout(ctx); err != nil {
				fmt.Fprintln(os.Stderr, goEnroll.UserMessage(err))
				return 1
			}
			fmt.Println("signed out")
			return 0
		}
		fmt.Printf("already signed in; dashboard: %s\n", engine.DashboardRoute())
		return 0
	}
	if *logout {
		fmt.Println("no session to end")
		return 0
	}

	r := &runner{ctx: ctx, engine: engine, in: bufio.NewScanner(os.Stdin), out: os.Stdout}
	if err := r.run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *showMetrics {
		fmt.Print(prometheus.NewExporter(engine).Render())
	}
	return 0
}

// runner drives the enrollment flow from a line-oriented terminal. Typing
// "back" at any prompt returns to the previous step.
type runner struct {
	ctx    context.Context
	engine *goEnroll.Engine
	in     *bufio.Scanner
	out    io.Writer
}

var errBack = errors.New("back")

func (r *runner) run() error {
	for !r.engine.IsAuthenticated() {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		err := r.step(r.engine.State().Step)
		switch {
		case errors.Is(err, errBack):
			r.engine.GoBackStep()
		case errors.Is(err, io.EOF):
			return errors.New("input closed before enrollment finished")
		case err != nil:
			fmt.Fprintf(r.out, "! %s\n", goEnroll.UserMessage(err))
		}
	}

	u, _ := r.engine.User()
	fmt.Fprintf(r.out, "welcome %s %s (%s)\n", u.FirstName, u.LastName, r.engine.UserRole())
	fmt.Fprintf(r.out, "dashboard: %s\n", r.engine.DashboardRoute())
	return nil
}

func (r *runner) step(s goEnroll.Step) error {
	switch s {
	case goEnroll.StepEmail:
		email, err := r.prompt("email")
		if err != nil {
			return err
		}
		return r.engine.SendEmailOTP(r.ctx, email)
	case goEnroll.StepEmailOTP:
		code, err := r.prompt("email code")
		if err != nil {
			return err
		}
		return r.engine.VerifyEmailOTP(r.ctx, code)
	case goEnroll.StepPhone:
		phone, err := r.prompt("phone (E.164)")
		if err != nil {
			return err
		}
		return r.engine.SendPhoneOTP(r.ctx, phone)
	case goEnroll.StepPhoneOTP:
		code, err := r.prompt("phone code")
		if err != nil {
			return err
		}
		return r.engine.VerifyPhoneOTP(r.ctx, code)
	case goEnroll.StepSecurityQuestions:
		return r.questions()
	case goEnroll.StepCeremony:
		if _, err := r.prompt("press enter to register this device"); err != nil {
			return err
		}
		res, err := r.engine.CompleteAuthentication(r.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "biometric: %s; fallback key %s\n", res.Biometric.Outcome, res.Keys.KeyID)
		return nil
	case goEnroll.StepProfile:
		return r.profile()
	default:
		return fmt.Errorf("unexpected step %q", s)
	}
}

func (r *runner) questions() error {
	fmt.Fprintf(r.out, "choose exactly %d security questions\n", validate.SecurityQuestionCount)
	qs := make([]goEnroll.SecurityQuestion, 0, validate.SecurityQuestionCount)
	for len(qs) < validate.SecurityQuestionCount {
		q, err := r.prompt(fmt.Sprintf("question %d", len(qs)+1))
		if err != nil {
			return err
		}
		a, err := r.prompt("answer")
		if err != nil {
			return err
		}
		qs = append(qs, goEnroll.SecurityQuestion{Question: q, Answer: a})
	}
	return r.engine.SaveSecurityQuestions(r.ctx, qs)
}

func (r *runner) profile() error {
	var data goEnroll.ProfileData
	fields := []struct {
		label string
		dst   *string
	}{
		{"first name", &data.FirstName},
		{"last name", &data.LastName},
		{"date of birth (YYYY-MM-DD, optional)", &data.DateOfBirth},
		{"region (optional)", &data.Region},
		{"role (optional)", &data.AdminRole},
	}
	for _, f := range fields {
		v, err := r.prompt(f.label)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	_, err := r.engine.CompleteProfileCreation(r.ctx, data)
	return err
}

func (r *runner) prompt(label string) (string, error) {
	fmt.Fprintf(r.out, "%s> ", label)
	if !r.in.Scan() {
		if err := r.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	line := strings.TrimSpace(r.in.Text())
	if strings.EqualFold(line, "back") {
		return "", errBack
	}
	return line, nil
}
