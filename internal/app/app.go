package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailfred-go/internal/auth"
	"mailfred-go/internal/config"
	"mailfred-go/internal/db"
	"mailfred-go/internal/handler"
	"mailfred-go/internal/mailbox"
	"mailfred-go/internal/mailbox/gmailapi"
	"mailfred-go/internal/mailbox/gmailimap"
	"mailfred-go/internal/metrics"
	"mailfred-go/internal/repository"
	"mailfred-go/internal/router"
	"mailfred-go/internal/service"
	"mailfred-go/internal/trigger"
)

const shutdownTimeout = 30 * time.Second

// ErrOAuthDisabled is returned by Authorizer when the IMAP backend is used.
var ErrOAuthDisabled = errors.New("OAuth2 is not used with the IMAP backend")

// App holds the wired components of the service.
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Schedules  *repository.ScheduleRepository
	Mailboxes  mailbox.Factory
	Scheduler  *service.Scheduler
	Processor  *service.Processor
	Reconciler *service.Reconciler
	Trigger    *trigger.Trigger

	authenticator *auth.Authenticator
	closeMailbox  func() error
}

// SetupLogging configures the standard logrus logger
func SetupLogging(cfg config.LogConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		return
	}
	logrus.SetLevel(level)
}

// New validates cfg and wires every component. Nothing is started.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		Config:       cfg,
		DB:           dbConn,
		Registry:     prometheus.NewRegistry(),
		Schedules:    repository.NewScheduleRepository(dbConn),
		closeMailbox: func() error { return nil },
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewMetrics(a.Registry)

	if cfg.Gmail.UseIMAP {
		f := gmailimap.NewFactory(cfg.Gmail)
		a.Mailboxes, a.closeMailbox = f, f.Close
		logrus.WithField("user", cfg.Gmail.IMAPUser).Info("Using IMAP for mailbox access")
	} else {
		a.authenticator = auth.New(cfg.Gmail, cfg.Auth, repository.NewCredentialRepository(dbConn))
		a.Mailboxes = gmailapi.NewFactory(a.authenticator)
		logrus.Info("Using Gmail API for mailbox access")
	}

	labels := mailbox.LabelNames{Base: cfg.Labels.Base, Scheduled: cfg.Labels.Scheduled}
	a.Scheduler = service.NewScheduler(a.Schedules, a.Mailboxes, labels, a.Metrics)
	a.Processor = service.NewProcessor(a.Schedules, a.Mailboxes, labels, a.Metrics)
	a.Reconciler = service.NewReconciler(a.Schedules, a.Mailboxes, labels, cfg.Reconcile, a.Metrics)
	a.Trigger = trigger.New(&cfg.Scheduler, a.Processor)

	if pending, err := a.Schedules.CountPending(context.Background()); err == nil {
		a.Metrics.PendingSchedules.Set(float64(pending))
	}
	return a, nil
}

// Authorizer returns the OAuth2 flow of the Gmail API backend.
func (a *App) Authorizer() (*auth.Authenticator, error) {
	if a.authenticator == nil {
		return nil, ErrOAuthDisabled
	}
	return a.authenticator, nil
}

// Handler builds the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	deps := handler.Deps{
		Schedules:     a.Schedules,
		Scheduler:     a.Scheduler,
		Reconciler:    a.Reconciler,
		Trigger:       a.Trigger,
		OwnerHeader:   a.Config.Auth.OwnerHeader,
		TriggerSecret: a.Config.Auth.TriggerSecret,
	}
	if deps.TriggerSecret == "" {
		logrus.Warn("No trigger secret configured, processing and trigger routes are unauthenticated")
	}
	if a.authenticator != nil {
		deps.OAuth = a.authenticator
	}
	return router.SetupRouter(handler.NewHandlers(deps), a.Registry)
}

// Close releases the mailbox connection and the database.
func (a *App) Close() {
	if err := a.closeMailbox(); err != nil {
		logrus.Errorf("Failed to close mailbox connection: %v", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Serve runs the HTTP server and the processing trigger until SIGINT or
// SIGTERM.
func (a *App) Serve() error {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:         ":" + a.Config.Server.Port,
		Handler:      a.Handler(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	if a.Config.Scheduler.Enabled {
		if err := a.Trigger.Start(); err != nil {
			return fmt.Errorf("failed to start processing trigger: %w", err)
		}
	} else {
		logrus.Info("Processing trigger disabled, waiting for external /api/v1/process calls")
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		logrus.Info("Shutting down server...")
	case serveErr = <-errCh:
		logrus.Errorf("HTTP server error: %v", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	if err := a.Trigger.Stop(); err != nil {
		logrus.Errorf("Failed to stop processing trigger: %v", err)
	}
	a.Trigger.Wait()

	logrus.Info("Server stopped gracefully")
	return serveErr
}

// Run loads the configuration from configPath, or the default locations
// when empty, and serves until interrupted.
func Run(configPath string) error {
	cfg, err := config.LoadConfigFrom(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	SetupLogging(cfg.Log)
	logrus.Info("Starting MailFred scheduling service")

	a, err := New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Serve()
}
