package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// configureLogger creates a logger for one-shot commands from the
// --log-level flag. Returns a configured logger or error if the log-level
// is invalid.
func configureLogger(cmd *cobra.Command) (*logrus.Logger, error) {
	// Default to panic level (essentially silent for normal operations)
	logLevel := logrus.PanicLevel

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		parsed, err := logrus.ParseLevel(logLevelStr)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
		logLevel = parsed
	}

	logger := newLogger(logLevel)
	return logger, nil
}

func newLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// applyLogFlag lets --log-level override the config file's level for the
// daemon.
func applyLogFlag(cmd *cobra.Command, logger *logrus.Logger) error {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr == "" {
		return nil
	}
	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
	}
	logger.SetLevel(level)
	return nil
}
