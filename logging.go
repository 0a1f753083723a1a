package transsip

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggingOptions selects the log level and sink.
type LoggingOptions struct {
	Level string
	// File switches logging from stderr to a rotating log file.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// DefaultLoggingOptions logs at info level to stderr.
func DefaultLoggingOptions() LoggingOptions {
	return LoggingOptions{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 1,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ConfigureLogging sets up the standard logrus logger. The returned closer
// releases the log file, if any.
func ConfigureLogging(opts LoggingOptions) (io.Closer, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})

	if opts.File == "" {
		logrus.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	logrus.SetOutput(file)

	logrus.WithFields(logrus.Fields{
		"function": "ConfigureLogging",
		"file":     opts.File,
		"level":    level.String(),
	}).Info("Logging to file")
	return file, nil
}
