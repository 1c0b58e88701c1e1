// Command whatsbot runs the clinic's WhatsApp assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsl-salud/whatsbot/internal/admin"
	"github.com/bsl-salud/whatsbot/internal/api"
	"github.com/bsl-salud/whatsbot/internal/bot"
	"github.com/bsl-salud/whatsbot/internal/dialogue"
	"github.com/bsl-salud/whatsbot/internal/gate"
	"github.com/bsl-salud/whatsbot/internal/genai"
	"github.com/bsl-salud/whatsbot/internal/knowledge"
	"github.com/bsl-salud/whatsbot/internal/lockfile"
	"github.com/bsl-salud/whatsbot/internal/messaging"
	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/patients"
	"github.com/bsl-salud/whatsbot/internal/payment"
	"github.com/bsl-salud/whatsbot/internal/scheduler"
	"github.com/bsl-salud/whatsbot/internal/store"
	"github.com/bsl-salud/whatsbot/internal/twiliowhatsapp"
	"github.com/bsl-salud/whatsbot/internal/whapi"
	"github.com/bsl-salud/whatsbot/internal/whatsapp"
)

func main() {
	os.Exit(realMain())
}

// realMain returns the exit code so deferred cleanup runs before os.Exit.
func realMain() int {
	cfg, err := loadEnvironmentConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	qrOutput, numeric, err := parseCommandLineFlags(&cfg, flag.CommandLine, os.Args[1:])
	if err != nil {
		return 2
	}
	logCloser := initializeLogger(parseLevel(cfg.LogLevel), cfg.LogFile)
	defer logCloser.Close()

	if err := cfg.validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping whatsbot", "gateway", cfg.Gateway, "state_dir", cfg.StateDir)
	if err := run(ctx, cfg, qrOutput, numeric); err != nil {
		slog.Error("whatsbot failed to run", "error", err)
		return 1
	}
	slog.Info("whatsbot exited successfully")
	return 0
}

// run wires the components and blocks until ctx is cancelled.
func run(ctx context.Context, cfg Config, qrOutput string, numeric bool) error {
	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	genaiOpts := []genai.Option{genai.WithAPIKey(cfg.OpenAIKey)}
	if cfg.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(cfg.OpenAIModel))
	}
	ai, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("create genai client: %w", err)
	}

	learner := knowledge.NewService(st, ai)
	engine := dialogue.NewEngine(ai,
		dialogue.WithRetriever(learner),
		dialogue.WithHistoryLimit(cfg.HistoryLimit),
	)

	sessions, closeSessions, err := buildSessionStore(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closeSessions()

	var marker payment.PaymentMarker = noPatientRecords{}
	var botOpts []bot.Option
	if cfg.PatientsDatabaseURL != "" {
		dir, err := patients.Open(cfg.PatientsDatabaseURL)
		if err != nil {
			return err
		}
		marker = dir
		botOpts = append(botOpts, bot.WithPatients(dir))
	} else {
		slog.Warn("PATIENTS_DATABASE_URL not set: patient context and payment registration disabled")
	}
	botOpts = append(botOpts, bot.WithLearner(learner))

	var payOpts []payment.Option
	if cfg.CertificateURL != "" {
		payOpts = append(payOpts, payment.WithCertificateURL(cfg.CertificateURL))
	}
	payments := payment.NewFlow(ai, sessions, marker, st, payOpts...)

	// The gateway services need the handler and the handler needs the
	// gateway; the closure is bound once the handler exists.
	var handler *bot.Handler
	dispatch := func(ctx context.Context, ev models.InboundEvent) error {
		return handler.Handle(ctx, ev)
	}

	gw, err := buildGateway(ctx, cfg, dispatch, qrOutput, numeric)
	if err != nil {
		return err
	}
	defer gw.stop()

	adminPhone := cfg.AdminNumber
	if adminPhone == "" {
		adminPhone = gw.ownPhone
	}
	router := admin.NewRouter(adminPhone, st, gw.gateway, payments, learner)

	handler = bot.NewHandler(st, gate.New(st), engine, payments, router, gw.gateway, bot.Config{
		AuthorizedGroupID: cfg.AuthorizedGroupID,
		HistoryLimit:      cfg.HistoryLimit,
		Location:          patients.LoadLocation(cfg.ClinicTimezone),
	}, botOpts...)

	if err := gw.start(ctx); err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddTask("dedup-prune", scheduler.DefaultDedupPruneSchedule,
		scheduler.PruneDedup(st, scheduler.DefaultDedupRetention)); err != nil {
		return err
	}
	if sweeper, ok := sessions.(scheduler.Sweeper); ok {
		if err := sched.AddTask("payment-session-sweep", scheduler.DefaultSessionSweep, scheduler.Sweep(sweeper)); err != nil {
			return err
		}
	}

	return api.NewServer(serverOptions(cfg, dispatch, gw.webhook)...).Run(ctx)
}

// serverOptions mounts the POST route of the configured gateway only. Other
// gateways keep GET /webhook as a liveness check.
func serverOptions(cfg Config, dispatch messaging.EventHandler, twilioWebhook http.HandlerFunc) []api.Option {
	opts := []api.Option{api.WithAddr(cfg.APIAddr)}
	switch cfg.Gateway {
	case gatewayWhapi:
		opts = append(opts, api.WithWhapiWebhook(dispatch))
	case gatewayTwilio:
		if twilioWebhook != nil {
			opts = append(opts, api.WithTwilioWebhook(twilioWebhook))
		}
	}
	return opts
}

// buildSessionStore returns Redis-backed sessions when redisURL is set and
// process-local ones otherwise.
func buildSessionStore(ctx context.Context, redisURL string) (payment.SessionStore, func(), error) {
	if redisURL == "" {
		return payment.NewMemorySessionStore(payment.DefaultSessionTTL), func() {}, nil
	}
	rs, err := payment.NewRedisSessionStore(ctx, redisURL, payment.DefaultSessionTTL)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { rs.Close() }, nil
}

// gatewayBundle is the chosen transport plus its lifecycle hooks.
type gatewayBundle struct {
	gateway  messaging.Gateway
	webhook  http.HandlerFunc
	ownPhone string
	start    func(ctx context.Context) error
	stop     func()
}

func buildGateway(ctx context.Context, cfg Config, dispatch messaging.EventHandler, qrOutput string, numeric bool) (*gatewayBundle, error) {
	noop := func(context.Context) error { return nil }
	switch cfg.Gateway {
	case gatewayTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, fmt.Errorf("create twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client, dispatch, cfg.TwilioWebhookURL)
		return &gatewayBundle{
			gateway: svc,
			webhook: svc.WebhookHandler,
			start:   noop,
			stop:    func() { svc.Stop() },
		}, nil

	case gatewayWhatsmeow:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
		if qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(qrOutput))
		}
		if numeric {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create whatsmeow client: %w", err)
		}
		svc := messaging.NewWhatsAppService(client, dispatch)
		return &gatewayBundle{
			gateway:  svc,
			ownPhone: client.OwnPhone(),
			start:    svc.Start,
			stop: func() {
				if err := svc.Stop(); err != nil && !errors.Is(err, messaging.ErrServiceStopped) {
					slog.Warn("WhatsAppService.Stop failed", "error", err)
				}
				client.Disconnect()
			},
		}, nil

	default:
		opts := []whapi.Option{whapi.WithToken(cfg.WhapiToken)}
		if cfg.WhapiBaseURL != "" {
			opts = append(opts, whapi.WithBaseURL(cfg.WhapiBaseURL))
		}
		client, err := whapi.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("create whapi client: %w", err)
		}
		return &gatewayBundle{gateway: client, start: noop, stop: func() {}}, nil
	}
}

// noPatientRecords stands in for the records database when none is
// configured: every document reads as unknown.
type noPatientRecords struct{}

func (noPatientRecords) MarkPaid(context.Context, string) (string, error) {
	return "", patients.ErrPatientNotFound
}
