package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"payment-orchestration/internal/gateway"
	"payment-orchestration/pkg/middleware"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type RouterConfig struct {
	// ServiceName names the HTTP tracer; empty means "payment-orchestration".
	ServiceName string
	Payments    *PaymentHandler
	Methods     *MethodHandler
	Callbacks   *CallbackHandler
	Registry    *gateway.Registry
	Gatherer    prometheus.Gatherer
	Ready       map[string]ReadinessCheck
	Logger      *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "payment-orchestration"
	}

	router.Use(middleware.RequestID())
	router.Use(middleware.Tracing(serviceName))
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.Recovery(cfg.Logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		failed := gin.H{}
		for name, check := range cfg.Ready {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.POST("", cfg.Payments.InitiatePayment)
			payments.GET("/:reference", cfg.Payments.GetPayment)
			payments.POST("/:reference/confirm", cfg.Payments.ConfirmPayment)
			payments.POST("/:reference/retry", cfg.Payments.RetryPayment)
			payments.POST("/:reference/verify", cfg.Payments.VerifyPayment)
		}

		if cfg.Methods != nil {
			v1.GET("/payment-methods", cfg.Methods.ListMethods)
		}

		cfg.Callbacks.Register(v1.Group("/callbacks"), cfg.Registry)
	}

	return router
}
