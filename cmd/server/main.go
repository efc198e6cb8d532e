// cmd/server/main.go
// HTTP Server
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"payment-orchestration/internal/catalog"
	"payment-orchestration/internal/config"
	"payment-orchestration/internal/fulfillment"
	"payment-orchestration/internal/gateway"
	"payment-orchestration/internal/handler"
	"payment-orchestration/internal/models"
	"payment-orchestration/internal/repository"
	"payment-orchestration/internal/service"
	"payment-orchestration/pkg/database"
	"payment-orchestration/pkg/logger"
	"payment-orchestration/pkg/redis"
	"payment-orchestration/pkg/tracing"
)

const serviceName = "payment-orchestration"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "payment-orchestration",
	Short:         "Payment orchestration service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the payment tables in PostgreSQL",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(serviceName, cfg.Environment)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Initialize tracing
	shutdownTracer, err := tracing.InitTracer(ctx, serviceName, cfg.Environment, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	ready := map[string]handler.ReadinessCheck{}

	// Storage
	var store service.PaymentStore
	switch cfg.Storage {
	case config.StorageMemory:
		log.Warn("using in-memory payment store; records are lost on restart")
		store = repository.NewMemoryPaymentRepository()
	default:
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		store = repository.NewPaymentRepository(db.DB)
		ready["postgres"] = db.PingContext
	}

	// Provider tokens
	var tokens gateway.TokenCache = gateway.NewMemoryTokenCache()
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("configure redis: %w", err)
		}
		defer redisClient.Close()
		tokens = gateway.NewRedisTokenCache(redisClient)
		ready["redis"] = redisClient.Ping
	}

	registry := newRegistry(cfg.Gateways, tokens)
	methods := catalog.NewStatic(cfg.Methods)

	// Fulfillment
	var trigger service.FulfillmentTrigger
	if len(cfg.Kafka.Brokers) > 0 {
		writer := fulfillment.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		trigger = fulfillment.NewKafkaTrigger(writer, log)
	} else {
		log.Warn("no kafka brokers configured; fulfillment events are only logged")
		trigger = fulfillment.NewLogTrigger(log)
	}

	metrics := service.NewMetrics(prometheus.DefaultRegisterer)
	initiation := service.NewInitiationService(store, methods, registry, trigger, metrics, log)
	reconciliation := service.NewReconciliationService(store, registry, trigger, metrics, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName: serviceName,
		Payments:    handler.NewPaymentHandler(initiation, reconciliation, log),
		Methods:     handler.NewMethodHandler(methods),
		Callbacks:   handler.NewCallbackHandler(reconciliation, log),
		Registry:    registry,
		Gatherer:    prometheus.DefaultGatherer,
		Ready:       ready,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, models.PaymentSchema); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "payment schema applied")
	return nil
}

// newRegistry builds one adapter per configured gateway. Adapters share the
// token cache so OAuth and session logins survive across replicas when Redis
// is available.
func newRegistry(cfg config.Gateways, tokens gateway.TokenCache) *gateway.Registry {
	return gateway.NewRegistry(
		gateway.NewMomoPayAdapter(cfg.MomoPay, nil),
		gateway.NewPayLinkAdapter(cfg.PayLink, nil),
		gateway.NewSwiftPayAdapter(cfg.SwiftPay, nil, tokens),
		gateway.NewSecureWalletAdapter(cfg.SecureWallet, nil, tokens),
		gateway.NewUSSDAdapter(cfg.USSD, nil),
		gateway.NewStripeAdapter(cfg.Stripe, nil),
	)
}
