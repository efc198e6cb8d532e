// pkg/logger/logger.go
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development logger when environment is "development" and a
// production JSON logger otherwise.
func New(serviceName, environment string) (*zap.Logger, error) {
	var config zap.Config
	if environment == "development" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	return config.Build()
}

// Payment returns a child logger carrying the fields every payment log line needs.
func Payment(log *zap.Logger, reference, gatewayCode string) *zap.Logger {
	return log.With(
		zap.String("reference", reference),
		zap.String("gateway", gatewayCode),
	)
}
