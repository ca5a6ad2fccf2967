package logging

import (
	"log/slog"
)

// SetupServerMode initializes logging for the long-running HTTP server.
// Logs go to a rotating file only, never to stdout/stderr: stdout carries
// the "ragkb serving ..." banner, and mixing log lines into it would make
// that output unparsable for scripts.
func SetupServerMode() (func(), error) {
	cfg := Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	slog.Info("server logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}

// SetupServerModeWithLevel is SetupServerMode with an explicit log level.
func SetupServerModeWithLevel(level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}
