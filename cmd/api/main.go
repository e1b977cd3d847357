// Command api runs the collaboration server: REST document storage, the
// realtime websocket broker, and operational endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mindmeld/infrastructure/config"
	"mindmeld/infrastructure/persistence/memory"
	"mindmeld/infrastructure/realtime"
	"mindmeld/interfaces/http/rest"
	"mindmeld/interfaces/http/rest/handlers"
	"mindmeld/pkg/auth"
	apperrors "mindmeld/pkg/errors"
	"mindmeld/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics := observability.NewRealtimeMetrics(prometheus.DefaultRegisterer)
	broker := realtime.NewBroker(logger.Named("broker"), metrics)
	validator := auth.NewValidator(cfg.Auth.JWTSecret)
	store := memory.NewDocumentStore()

	eh := apperrors.NewErrorHandler(logger.Named("http"), cfg.Log.Development)
	router := rest.NewRouter(rest.Dependencies{
		Logger:    logger.Named("http"),
		Validator: validator,
		Documents: handlers.NewDocumentHandler(store, eh, logger.Named("documents")),
		Realtime:  realtime.NewServer(broker, logger.Named("realtime")),
		CORS:      cfg.CORS.AllowedOrigins,
		Debug:     cfg.Log.Development,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
