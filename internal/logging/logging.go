// Package logging provides structured logging setup shared by the bots and
// the operator tools.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/config"
)

const defaultServiceName = string(config.ServicePaymentBot)

var baseLogger *logrus.Entry

// Scope names the user and dialog a log line belongs to.
type Scope struct {
	UserID    int64
	ChatID    int64
	SessionID string
	Kind      string
	Event     string
}

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

// Setup configures the global logger using the provided runtime configuration.
// It applies environment-specific formatting, log level, and default fields.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatterForEnv(cfg.AppEnv))

	baseLogger = logger.WithFields(logrus.Fields{
		"service": serviceName(cfg.Service),
		"env":     cfg.AppEnv,
	})

	return baseLogger, nil
}

// Logger returns the configured base logger, initializing a default one if Setup
// has not been called (useful for early boot errors).
func Logger() *logrus.Entry {
	return ensureLogger()
}

// With returns base enriched with the non-zero scope fields. A nil base uses
// the package logger.
func With(base *logrus.Entry, s Scope) *logrus.Entry {
	if base == nil {
		base = ensureLogger()
	}

	fields := logrus.Fields{}
	if s.UserID != 0 {
		fields["user_id"] = s.UserID
	}
	if s.ChatID != 0 {
		fields["chat_id"] = s.ChatID
	}
	if v := strings.TrimSpace(s.SessionID); v != "" {
		fields["session_id"] = v
	}
	if v := strings.TrimSpace(s.Kind); v != "" {
		fields["kind"] = v
	}
	if v := strings.TrimSpace(s.Event); v != "" {
		fields["event"] = v
	}
	if len(fields) == 0 {
		return base
	}
	return base.WithFields(fields)
}

// Info logs an informational message with optional structured fields.
func Info(msg string, fields logrus.Fields) {
	logWithFields(fields).Info(msg)
}

// Warn logs a warning message with optional structured fields.
func Warn(msg string, fields logrus.Fields) {
	logWithFields(fields).Warn(msg)
}

// Error logs an error message with optional structured fields.
func Error(msg string, fields logrus.Fields) {
	logWithFields(fields).Error(msg)
}

func logWithFields(fields logrus.Fields) *logrus.Entry {
	entry := ensureLogger()
	if len(fields) == 0 {
		return entry
	}

	return entry.WithFields(fields)
}

func ensureLogger() *logrus.Entry {
	if baseLogger != nil {
		return baseLogger
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(formatterForEnv(config.DefaultAppEnv))

	baseLogger = logger.WithFields(logrus.Fields{
		"service": defaultServiceName,
		"env":     config.DefaultAppEnv,
	})

	return baseLogger
}

func serviceName(service config.Service) string {
	if name := strings.TrimSpace(string(service)); name != "" {
		return name
	}
	return defaultServiceName
}

func formatterForEnv(appEnv string) logrus.Formatter {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyMsg:   "msg",
		logrus.FieldKeyLevel: "level",
	}

	if appEnv == config.EnvDevelopment {
		return &logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			FieldMap:               fieldMap,
			DisableLevelTruncation: true,
		}
	}

	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	}
}

func parseLevel(value string) (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}

	return level, nil
}

// resetLogger clears the cached logger; used in tests.
func resetLogger() {
	baseLogger = nil
}
