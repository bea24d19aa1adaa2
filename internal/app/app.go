package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/permitapi/internal/adapters/events"
	"github.com/atvirokodosprendimai/permitapi/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/permitapi/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/permitapi/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
	"github.com/atvirokodosprendimai/permitapi/internal/core/ports"
	"github.com/atvirokodosprendimai/permitapi/internal/core/usecase"
	"github.com/atvirokodosprendimai/permitapi/migrations"
)

type Config struct {
	Addr             string
	DBPath           string
	BootstrapAPIKey  string
	BootstrapKeyName string
	WebhookURL       string
	WebhookSecret    string
	LogLevel         string
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	logger := newLogger(cfg.LogLevel)

	db, err := gormsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	permitStore := sqliteadapter.NewPermitStore(db)
	auditRepo := sqliteadapter.NewAuditLogRepository(db)
	apiKeyRepo := sqliteadapter.NewAPIKeyRepository(db)
	outboxRepo := sqliteadapter.NewOutboxRepository(db)

	auditRecorder := usecase.NewAuditRecorder(auditRepo, logger)
	authService := usecase.NewAuthService(apiKeyRepo)
	permitService := usecase.NewPermitService(permitStore, auditRecorder)

	validator, err := usecase.NewPermitValidator()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("compile permit schema: %w", err)
	}

	var publisher ports.EventPublisher = events.NewLogPublisher(logger)
	if cfg.WebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
	}
	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, publisher, logger, 2*time.Second, 100)
	dispatcher.Start(context.Background())

	if cfg.BootstrapAPIKey != "" {
		name := cfg.BootstrapKeyName
		if name == "" {
			name = "bootstrap"
		}

		bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := apiKeyRepo.Upsert(bootstrapCtx, domain.APIKey{
			TokenHash: usecase.HashToken(cfg.BootstrapAPIKey),
			Name:      name,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		})
		bootstrapCancel()
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("bootstrap api key: %w", err)
		}
	}

	handler := httpapi.NewHandler(permitService, authService, auditRecorder, validator, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: []io.Closer{dispatcher, db}}, nil
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
