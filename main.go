package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ausocean/utils/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/membersync/config"
	"github.com/camden-git/membersync/database"
	"github.com/camden-git/membersync/emailplatform"
	"github.com/camden-git/membersync/handlers"
	"github.com/camden-git/membersync/notify"
	"github.com/camden-git/membersync/realtime"
	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/services"
	"github.com/camden-git/membersync/smsplatform"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "membersync",
		Short:         "Membership sync between the donation, email and SMS platforms",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(syncAllCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the fully wired service graph shared by every command.
type app struct {
	cfg        config.Config
	log        logging.Logger
	db         *gorm.DB
	hub        *realtime.Hub
	notifier   *notify.Notifier
	tokens     *handlers.TokenIssuer
	reconciler *services.Reconciler
	email      *services.EmailSync
	sms        *services.SMSSync
	router     *handlers.Router
}

var logLevels = map[string]int8{
	"debug":   logging.Debug,
	"info":    logging.Info,
	"warning": logging.Warning,
	"error":   logging.Error,
	"fatal":   logging.Fatal,
}

func newLogger(cfg config.Config) logging.Logger {
	level, ok := logLevels[strings.ToLower(cfg.LogLevel)]
	if !ok {
		level = logging.Info
	}
	var w io.Writer = os.Stdout
	if cfg.LogFile != "" {
		fileLog := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: 10,
			MaxAge:     28,
		}
		w = io.MultiWriter(os.Stdout, fileLog)
	}
	return logging.New(level, w, false)
}

func newApp() (*app, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "info: no .env file loaded: %v\n", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := newLogger(cfg)

	gormLevel := logger.Warn
	if strings.EqualFold(cfg.LogLevel, "debug") {
		gormLevel = logger.Info
	}
	db, err := database.Open(cfg.DatabasePath, gormLevel, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	notifier, err := notify.New(log,
		notify.WithSender(cfg.AlertSender),
		notify.WithRecipient(cfg.AlertRecipient),
		notify.WithKeys(cfg.MailjetPublicKey, cfg.MailjetPrivateKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up operator alerts: %w", err)
	}

	hub := realtime.NewHub(log)
	go hub.Run()

	people := repository.NewPersonRepository(db)
	accounts := repository.NewGormAccountRepository(db)

	emailClient := emailplatform.NewClient(cfg.EmailPlatform())
	catalog := emailplatform.NewGroupCatalog(emailClient, emailplatform.CatalogTTL)
	smsClient := smsplatform.NewClient(cfg.SMSPlatform())

	reconciler := services.NewReconciler(people, log, hub)
	resolver := services.NewResolver(people, accounts, reconciler, log, cfg.ProvisionAccounts)
	email := services.NewEmailSync(people, cfg, emailClient, catalog, log, hub, cfg.SyncWorkers)
	sms := services.NewSMSSync(people, cfg, smsClient, log, hub)
	tokens := handlers.NewTokenIssuer(cfg.AdminJWTSecret, cfg.FormTokenSecret)

	if !cfg.EmailPlatform().Configured() {
		log.Warning("email platform token not set, email sync is disabled")
	}
	if !cfg.SMSPlatform().Configured() {
		log.Warning("SMS platform token not set, SMS sync is disabled")
	}
	if !cfg.DonationWebhook().Configured() {
		log.Warning("donation webhook credentials not set, every donation will be rejected")
	}

	router := &handlers.Router{
		Webhooks: &handlers.WebhookHandler{
			Donations: services.NewDonationService(cfg, people, resolver, email, log, hub),
			OptOut:    services.NewOptOutService(people, cfg, email, sms, log, hub),
			Log:       log,
		},
		Forms: &handlers.FormHandler{
			Self:   services.NewSelfService(people, cfg, resolver, email, sms, log),
			Tokens: tokens,
			Log:    log,
		},
		People: &handlers.PersonHandler{
			People: services.NewPeopleService(people, reconciler, log),
			Email:  email,
			SMS:    sms,
			Log:    log,
		},
		Admin: &handlers.AdminHandler{
			Reconciler: reconciler,
			Email:      email,
			SMS:        sms,
			Notifier:   notifier,
			Log:        log,
		},
		Hub:            hub,
		Tokens:         tokens,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            log,
	}

	return &app{
		cfg:        cfg,
		log:        log,
		db:         db,
		hub:        hub,
		notifier:   notifier,
		tokens:     tokens,
		reconciler: reconciler,
		email:      email,
		sms:        sms,
		router:     router,
	}, nil
}

func (a *app) Close() {
	sqlDB, err := database.SQL(a.db)
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		a.log.Warning("could not close database", "error", err)
	}
}
