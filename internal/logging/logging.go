package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New creates the process logger. Per-tenant code paths must derive entries via
// WithTenant so every line carries the tenant identifier.
func New(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// WithTenant returns an entry tagged with the tenant's mailbox address.
func WithTenant(logger *logrus.Logger, tenant string) *logrus.Entry {
	return logger.WithField("tenant", tenant)
}
