package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/support-chat/internal/config"
	"github.com/psds-microservice/support-chat/internal/database"
	"github.com/psds-microservice/support-chat/internal/handler"
	"github.com/psds-microservice/support-chat/internal/hub"
	"github.com/psds-microservice/support-chat/internal/kafka"
	"github.com/psds-microservice/support-chat/internal/media"
	"github.com/psds-microservice/support-chat/internal/router"
	"github.com/psds-microservice/support-chat/internal/service"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

// API приложение: HTTP сервер с REST и сокетами тикетов (режим api).
type API struct {
	cfg      *config.Config
	log      *logger.Logger
	httpSrv  *http.Server
	producer *kafka.Producer
	db       *gorm.DB
}

// NewAPI создаёт приложение для режима api: миграции, БД, хаб комнат, роутер.
func NewAPI(cfg *config.Config, log *logger.Logger) (*API, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL(), log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN(), cfg.LogLevel == "debug")
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	svc := service.NewSupportService(db)
	rooms := hub.New(log)
	store := media.NewStore(cfg.MediaDir, router.PathMedia, cfg.MediaMaxBytes)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	support := handler.NewSupportHandler(svc, rooms, store, producer, cfg.JWTSecret, log)

	h := router.New(router.Deps{
		Support:   support,
		JWTSecret: cfg.JWTSecret,
		MediaDir:  cfg.MediaDir,
		Ready:     func() error { return database.Ping(db) },
	})

	// No WriteTimeout: it would cut long-lived ticket sockets.
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		log:      log,
		httpSrv:  httpSrv,
		producer: producer,
		db:       db,
	}, nil
}

// Run запускает HTTP сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		zap.String("addr", a.httpSrv.Addr),
		zap.String("swagger", base+paths.PathSwagger),
		zap.String("health", base+paths.PathHealth),
		zap.String("ready", base+paths.PathReady),
		zap.String("api", base+"/api/support/"),
		zap.String("ws", "ws://"+host+":"+a.cfg.HTTPPort+"/api/support/ws/{ticket_id}"),
		zap.Bool("kafka", a.producer.Enabled()))

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.httpSrv.Shutdown(shutdownCtx)
	if perr := a.producer.Close(); perr != nil {
		a.log.Warn("close kafka producer", zap.Error(perr))
	}
	if sqlDB, derr := a.db.DB(); derr == nil {
		_ = sqlDB.Close()
	}
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.log.Info("HTTP server stopped")
	return nil
}
