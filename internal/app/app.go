package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"invoice-sync-go/internal/config"
	"invoice-sync-go/internal/db"
	"invoice-sync-go/internal/extractor"
	"invoice-sync-go/internal/handler"
	"invoice-sync-go/internal/invoice"
	"invoice-sync-go/internal/ledger"
	"invoice-sync-go/internal/mailbox"
	"invoice-sync-go/internal/metrics"
	"invoice-sync-go/internal/pipeline"
	"invoice-sync-go/internal/repository"
	"invoice-sync-go/internal/resolver"
	"invoice-sync-go/internal/router"
	"invoice-sync-go/internal/scheduler"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting invoice sync service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	configureLogging(cfg.Log)

	var dbConn *gorm.DB
	var repo *repository.Repository
	if cfg.Database.Driver != "" {
		dbConn, err = db.Init(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		repo = repository.New(dbConn)
		if err := repo.SeedTerms(cfg.Mailbox.SearchTerms); err != nil {
			logrus.Warnf("Failed to seed search terms: %v", err)
		}
	} else {
		logrus.Info("Processing journal disabled")
	}

	m := metrics.NewMetrics()

	newClient, err := newMailboxFactory(cfg.Mailbox)
	if err != nil {
		return err
	}

	pipe := newPipeline(cfg, newClient, repo, m)
	sched := scheduler.NewScheduler(cfg.Scheduler.IntervalMinutes, pipe, m)

	var store handler.JournalStore
	if repo != nil {
		store = repo
	}
	h := handler.NewHandlers(dbConn, store, sched, pipe, handler.Settings{
		LedgerPath:           cfg.Ledger.Path,
		PDFDir:               cfg.Documents.PDFDir,
		MailboxConfigured:    mailboxConfigured(cfg.Mailbox),
		ExtractionConfigured: cfg.Extraction.APIKey != "",
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h, gin.ReleaseMode),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Autostart {
		if _, err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if dbConn != nil {
		if sqlDB, err := dbConn.DB(); err == nil {
			sqlDB.Close()
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

func newPipeline(cfg *config.Config, newClient mailbox.Factory, repo *repository.Repository, m *metrics.Metrics) *pipeline.Pipeline {
	extractorOpts := []extractor.Option{}
	resolverOpts := []resolver.Option{
		resolver.WithTimeout(cfg.Documents.Timeout),
		resolver.WithMaxBytes(cfg.Documents.MaxBytes),
	}
	if len(cfg.Documents.PortalHosts) > 0 {
		extractorOpts = append(extractorOpts, extractor.WithPortalHosts(cfg.Documents.PortalHosts...))
		resolverOpts = append(resolverOpts, resolver.WithPortalHosts(cfg.Documents.PortalHosts...))
	}

	svc := invoice.NewService(
		invoice.NewOpenAIExtractor(cfg.Extraction.Endpoint, cfg.Extraction.APIKey, cfg.Extraction.Model, cfg.Extraction.Timeout),
		invoice.NewNormalizer(),
	)

	opts := []pipeline.Option{
		pipeline.WithSearch(cfg.Mailbox.CriteriaTokens(), cfg.Mailbox.SearchTerms),
		pipeline.WithMetrics(m),
	}
	if repo != nil {
		opts = append(opts, pipeline.WithJournal(repo), pipeline.WithTermSource(repo))
	}

	return pipeline.New(
		newClient,
		extractor.New(extractorOpts...),
		resolver.New(cfg.Documents.PDFDir, resolverOpts...),
		svc,
		ledger.New(cfg.Ledger.Path),
		opts...,
	)
}

// newMailboxFactory returns a constructor for a fresh session per cycle
func newMailboxFactory(cfg config.MailboxConfig) (mailbox.Factory, error) {
	switch cfg.Backend {
	case config.BackendIMAP:
		logrus.Info("Using IMAP for mailbox access")
		return func() (mailbox.Client, error) {
			return mailbox.NewIMAPClient(cfg.Host, cfg.Port, cfg.Username, cfg.Password,
				mailbox.WithFolder(cfg.Folder),
				mailbox.WithDialTimeout(cfg.DialTimeout),
			), nil
		}, nil
	case config.BackendGmail:
		logrus.Info("Using Gmail API for mailbox access")
		return func() (mailbox.Client, error) {
			return mailbox.NewGmailClient(cfg.ClientID, cfg.ClientSecret, cfg.RefreshToken, cfg.UserEmail), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported mailbox backend %q", cfg.Backend)
	}
}

func mailboxConfigured(cfg config.MailboxConfig) bool {
	if cfg.Backend == config.BackendGmail {
		return cfg.RefreshToken != ""
	}
	return cfg.Username != "" && cfg.Password != ""
}

func configureLogging(cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
