package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nih-cfde/deriva-action-provider/internal/auth"
	internalaws "github.com/nih-cfde/deriva-action-provider/internal/aws"
	"github.com/nih-cfde/deriva-action-provider/internal/config"
	"github.com/nih-cfde/deriva-action-provider/internal/controller"
	"github.com/nih-cfde/deriva-action-provider/internal/deriva"
	"github.com/nih-cfde/deriva-action-provider/internal/events"
	"github.com/nih-cfde/deriva-action-provider/internal/handlers"
	"github.com/nih-cfde/deriva-action-provider/internal/metrics"
	"github.com/nih-cfde/deriva-action-provider/internal/runner"
	"github.com/nih-cfde/deriva-action-provider/internal/status"
)

// opTimeoutMargin is added to the ingest deadline when bounding a job's
// runtime, so the runner cuts an operation off only after the poll-time
// timeout would already have declared it dead.
const opTimeoutMargin = 5 * time.Minute

const shutdownGrace = 30 * time.Second

func newLogger() (*zap.Logger, error) {
	if os.Getenv("RUN_LOCAL") == "true" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handlers.RegisterActionRoutes(r, cfg)

	return r
}

func main() {
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if os.Getenv("RUN_LOCAL") != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	clients, err := internalaws.NewAWSClients(context.Background(), cfg.AWSRegion)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	store := status.NewStore(clients.DynamoDB, cfg.DynamoTable, logger)
	authenticator := auth.NewGlobusAuthenticator(
		cfg.GlobusClientID, cfg.GlobusClientSecret, cfg.GlobusAudience, logger)
	tokens := auth.NewAppTokenSource(
		cfg.GlobusClientID, cfg.GlobusClientSecret, cfg.GlobusScope, logger)

	ingest := deriva.NewClient(cfg.DerivaServer, tokens.Token, logger)
	reporter := deriva.NewRegistryReporter(cfg.DerivaServer, tokens.Token, logger)

	emitter := metrics.NewEmitter(clients.CloudWatch, "DerivaActionProvider", logger)
	publisher := events.NewPublisher(clients.SQS, cfg.EventQueueURL, logger)

	jobs := runner.New(ingest, store, emitter, publisher,
		cfg.WorkerConcurrency, cfg.IngestDeadline+opTimeoutMargin, logger)
	ctrl := controller.New(store, jobs, reporter, cfg, logger)

	r := setupRouter(handlers.HandlerConfig{
		Controller:    ctrl,
		Authenticator: authenticator,
		Config:        cfg,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		logger.Info("==========CFDE Action Provider started==========",
			zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	stop()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	// Drain in-flight jobs; long-running ingests may outlive the grace
	// period, in which case their outcome is lost to the lazy timeout.
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs still in flight at exit", zap.Error(err))
	}
}
