// Command flowerbot runs the flower shop reminder bot: the chat dialog, the
// daily reminder and cleanup jobs and the HTTP API for the VK mini app.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/api"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/cleanup"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/dialog"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/genai"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/lockfile"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/messaging"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/reminder"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/scheduler"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/twiliowhatsapp"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/util"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/vk"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/whatsapp"
)

// Default configuration constants
const (
	DefaultStateDir          = "/var/lib/flowerbot"
	DefaultDBFileName        = "flowerbot.db"
	DefaultWhatsAppDBFile    = "whatsmeow.db"
	DefaultAPIAddr           = ":8080"
	DefaultGateway           = GatewayVK
	DefaultReminderSchedule  = "0 10 * * *"
	DefaultCleanupSchedule   = "0 4 * * *"
	DefaultUTCOffsetHours    = 5
	DefaultReminderSendDelay = 3 * time.Second

	GatewayVK       = "vk"
	GatewayTwilio   = "twilio"
	GatewayWhatsApp = "whatsapp"

	reminderJobName = "send-reminders"
	cleanupJobName  = "cleanup"
)

// Config holds environment configuration, later overridden by flags.
type Config struct {
	StateDir      string
	DBDSN         string
	APIAddr       string
	Gateway       string
	WhatsAppDBDSN string
	QROutput      string
	NumericCode   bool

	VKToken            string
	VKGroupID          int64
	VKConfirmationCode string
	VKCallbackSecret   string
	VKSecretKey        string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioStatusURL  string

	CronSecret string
	AdminToken string
	StaffIDs   []string

	ReminderSchedule string
	CleanupSchedule  string
	UTCOffset        time.Duration
	SendDelay        time.Duration
	SendTimeout      time.Duration
	DialogTimeout    time.Duration
	StrictStages     bool

	OpenAIKey   string
	OpenAIModel string
}

// parseLogLevel maps LOG_LEVEL onto slog levels. Unknown values mean info.
func parseLogLevel(level string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initializeLogger() {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"), util.ParseBoolEnv("DEBUG", false))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// loadEnvironmentConfig reads .env and the environment. Paths that depend on
// the state directory are left empty and resolved after flag parsing.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("main.loadEnvironmentConfig: no .env file loaded", "error", err)
	}

	cfg := Config{
		StateDir:      util.GetEnv("FLOWERBOT_STATE_DIR", DefaultStateDir),
		DBDSN:         util.GetEnv("DATABASE_URL", ""),
		APIAddr:       util.GetEnv("API_ADDR", DefaultAPIAddr),
		Gateway:       strings.ToLower(util.GetEnv("GATEWAY", DefaultGateway)),
		WhatsAppDBDSN: util.GetEnv("WHATSAPP_DB_DSN", ""),

		VKToken:            util.GetEnv("VK_API_TOKEN", ""),
		VKConfirmationCode: util.GetEnv("VK_CONFIRMATION_CODE", ""),
		VKCallbackSecret:   util.GetEnv("VK_CALLBACK_SECRET", ""),
		VKSecretKey:        util.GetEnv("VK_SECRET_KEY", ""),

		TwilioAccountSID: util.GetEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  util.GetEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: util.GetEnv("TWILIO_FROM_NUMBER", ""),
		TwilioStatusURL:  util.GetEnv("TWILIO_STATUS_CALLBACK", ""),

		CronSecret: util.GetEnv("CRON_SECRET", ""),
		AdminToken: util.GetEnv("ADMIN_TOKEN", ""),
		StaffIDs:   util.ParseListEnv("STAFF_IDS"),

		ReminderSchedule: util.GetEnv("REMINDER_SCHEDULE", DefaultReminderSchedule),
		CleanupSchedule:  util.GetEnv("CLEANUP_SCHEDULE", DefaultCleanupSchedule),
		UTCOffset:        time.Duration(util.ParseIntEnv("SHOP_UTC_OFFSET_HOURS", DefaultUTCOffsetHours)) * time.Hour,
		SendDelay:        util.ParseDurationEnv("REMINDER_SEND_DELAY", DefaultReminderSendDelay),
		SendTimeout:      util.ParseDurationEnv("SEND_TIMEOUT", messaging.DefaultSendTimeout),
		DialogTimeout:    util.ParseDurationEnv("DIALOG_TIMEOUT", dialog.DefaultTimeout),
		StrictStages:     util.ParseBoolEnv("STRICT_REMINDER_STAGES", false),

		OpenAIKey:   util.GetEnv("OPENAI_API_KEY", ""),
		OpenAIModel: util.GetEnv("OPENAI_MODEL", ""),
	}

	if raw := util.GetEnv("VK_GROUP_ID", ""); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			slog.Warn("main.loadEnvironmentConfig: invalid VK_GROUP_ID, group check disabled", "value", raw)
		} else {
			cfg.VKGroupID = id
		}
	}

	slog.Debug("main.loadEnvironmentConfig: environment loaded",
		"state_dir", cfg.StateDir,
		"dsn_set", cfg.DBDSN != "",
		"gateway", cfg.Gateway,
		"vk_token_set", cfg.VKToken != "",
		"twilio_set", cfg.TwilioAccountSID != "",
		"staff", len(cfg.StaffIDs),
		"openai_key_set", cfg.OpenAIKey != "")
	return cfg
}

// parseFlags applies command line overrides to cfg and fills the paths that
// default to files inside the state directory.
func parseFlags(fs *flag.FlagSet, args []string, cfg Config) (Config, error) {
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory (overrides $FLOWERBOT_STATE_DIR)")
	fs.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "SQLite path or PostgreSQL DSN (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "HTTP listen address (overrides $API_ADDR)")
	fs.StringVar(&cfg.Gateway, "gateway", cfg.Gateway, "messaging gateway: vk, twilio or whatsapp (overrides $GATEWAY)")
	fs.StringVar(&cfg.WhatsAppDBDSN, "whatsapp-db-dsn", cfg.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&cfg.QROutput, "qr-output", cfg.QROutput, "path to write the WhatsApp login QR code")
	fs.BoolVar(&cfg.NumericCode, "numeric-code", cfg.NumericCode, "print the WhatsApp pairing code instead of a QR code")
	fs.StringVar(&cfg.ReminderSchedule, "reminder-cron", cfg.ReminderSchedule, "reminder schedule in shop local time (overrides $REMINDER_SCHEDULE)")
	fs.StringVar(&cfg.CleanupSchedule, "cleanup-cron", cfg.CleanupSchedule, "cleanup schedule in shop local time (overrides $CLEANUP_SCHEDULE)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key for intent fallback (overrides $OPENAI_API_KEY)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.Gateway = strings.ToLower(strings.TrimSpace(cfg.Gateway))
	if cfg.DBDSN == "" {
		cfg.DBDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
	}
	if cfg.WhatsAppDBDSN == "" {
		cfg.WhatsAppDBDSN = "file:" + filepath.Join(cfg.StateDir, DefaultWhatsAppDBFile) + "?_foreign_keys=on"
	}
	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.Gateway {
	case GatewayVK, GatewayTwilio, GatewayWhatsApp:
	default:
		return fmt.Errorf("unknown gateway %q (want vk, twilio or whatsapp)", cfg.Gateway)
	}
	for name, expr := range map[string]string{reminderJobName: cfg.ReminderSchedule, cleanupJobName: cfg.CleanupSchedule} {
		if err := scheduler.ValidateExpr(expr); err != nil {
			return fmt.Errorf("%s schedule: %w", name, err)
		}
	}
	if cfg.UTCOffset < -12*time.Hour || cfg.UTCOffset > 14*time.Hour {
		return fmt.Errorf("shop UTC offset %s out of range", cfg.UTCOffset)
	}
	return nil
}

// gateway is the chosen messaging service plus the API options that route
// its inbound traffic.
type gateway struct {
	service messaging.Service
	apiOpts []api.Option
	close   func()
}

// buildGateway picks the messaging service. The WhatsApp gateways keep offered
// choices and user phones in st.
func buildGateway(ctx context.Context, cfg Config, st store.Store) (*gateway, error) {
	switch cfg.Gateway {
	case GatewayVK:
		client, err := vk.NewClient(vk.WithToken(cfg.VKToken))
		if err != nil {
			return nil, fmt.Errorf("vk gateway: %w", err)
		}
		svc := messaging.NewVKService(client)
		if cfg.VKConfirmationCode == "" {
			slog.Warn("main.buildGateway: VK_CONFIRMATION_CODE is empty; callback server confirmation will fail")
		}
		return &gateway{
			service: svc,
			apiOpts: []api.Option{api.WithVKCallback(svc, cfg.VKGroupID, cfg.VKConfirmationCode, cfg.VKCallbackSecret)},
			close:   func() {},
		}, nil

	case GatewayTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
			twiliowhatsapp.WithStatusCallback(cfg.TwilioStatusURL),
		)
		if err != nil {
			return nil, fmt.Errorf("twilio gateway: %w", err)
		}
		svc := messaging.NewTwilioService(client, st)
		return &gateway{
			service: svc,
			apiOpts: []api.Option{api.WithTwilioWebhook(svc.WebhookHandler)},
			close:   func() {},
		}, nil

	case GatewayWhatsApp:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDBDSN)}
		if cfg.QROutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(cfg.QROutput))
		}
		if cfg.NumericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("whatsapp gateway: %w", err)
		}
		return &gateway{service: messaging.NewWhatsAppService(client, st), close: client.Disconnect}, nil
	}
	return nil, fmt.Errorf("unknown gateway %q", cfg.Gateway)
}

// buildClassifier returns nil when no OpenAI key is configured.
func buildClassifier(cfg Config) (dialog.IntentClassifier, error) {
	if cfg.OpenAIKey == "" {
		return nil, nil
	}
	opts := []genai.Option{genai.WithAPIKey(cfg.OpenAIKey)}
	if cfg.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(cfg.OpenAIModel))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// reminderJob adapts the dispatcher to the scheduler. An overlapping run is
// not an error.
func reminderJob(runner api.ReminderRunner) scheduler.Job {
	return func(ctx context.Context, now time.Time) error {
		sum, err := runner.Run(ctx, now)
		if errors.Is(err, reminder.ErrRunInProgress) {
			slog.Warn("main.reminderJob: previous run still in progress")
			return nil
		}
		if err != nil {
			return err
		}
		slog.Info("main.reminderJob: reminders sent", "sent", sum.Sent(), "failed", sum.Failed, "skipped", sum.Skipped, "rolled_over", sum.RolledOver)
		return nil
	}
}

func cleanupJob(runner api.CleanupRunner) scheduler.Job {
	return func(ctx context.Context, now time.Time) error {
		res, err := runner.Run(ctx, now)
		if err != nil {
			return err
		}
		slog.Info("main.cleanupJob: cleanup finished", "archived", res.Archived, "pruned", res.Pruned, "dedup_pruned", res.Forgot)
		return nil
	}
}

func run(ctx context.Context, cfg Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir, cfg.Gateway)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	gw, err := buildGateway(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer gw.close()
	out := messaging.WithSendTimeout(gw.service, cfg.SendTimeout)

	classifier, err := buildClassifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to create intent classifier: %w", err)
	}
	engineOpts := []dialog.Option{
		dialog.WithStaffRecipients(cfg.StaffIDs...),
		dialog.WithTimeout(cfg.DialogTimeout),
		dialog.WithUTCOffset(cfg.UTCOffset),
	}
	if classifier != nil {
		engineOpts = append(engineOpts, dialog.WithIntentClassifier(classifier))
	}
	if len(cfg.StaffIDs) == 0 {
		slog.Warn("main.run: STAFF_IDS is empty; new preorders will not be announced")
	}
	engine := dialog.NewEngine(st, out, engineOpts...)

	dispatcher := reminder.NewDispatcher(st, out,
		reminder.WithUTCOffset(cfg.UTCOffset),
		reminder.WithSendDelay(cfg.SendDelay),
		reminder.WithStrictStages(cfg.StrictStages),
	)
	cleaner := cleanup.NewCleaner(st)

	sched := scheduler.NewScheduler(scheduler.WithUTCOffset(cfg.UTCOffset))
	defer sched.Stop()
	if err := sched.AddJob(reminderJobName, cfg.ReminderSchedule, reminderJob(dispatcher)); err != nil {
		return err
	}
	if err := sched.AddJob(cleanupJobName, cfg.CleanupSchedule, cleanupJob(cleaner)); err != nil {
		return err
	}

	if err := gw.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s gateway: %w", cfg.Gateway, err)
	}
	defer gw.service.Stop()
	go messaging.NewResponseHandler(st, engine).Run(ctx, gw.service)

	apiOpts := append(gw.apiOpts,
		api.WithVKSecretKey(cfg.VKSecretKey),
		api.WithJobs(dispatcher, cleaner, cfg.CronSecret),
		api.WithAdminToken(cfg.AdminToken),
	)
	server := api.NewServer(st, apiOpts...)

	slog.Info("main.run: flowerbot started", "gateway", cfg.Gateway, "addr", cfg.APIAddr,
		"reminders", cfg.ReminderSchedule, "utc_offset", cfg.UTCOffset)
	return server.ListenAndServe(ctx, cfg.APIAddr)
}

func main() {
	initializeLogger()

	cfg, err := parseFlags(flag.CommandLine, os.Args[1:], loadEnvironmentConfig())
	if err != nil {
		slog.Error("main: invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("main: flowerbot failed", "error", err)
		os.Exit(1)
	}
	slog.Info("main: flowerbot exited")
}
