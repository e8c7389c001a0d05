// ABOUTME: slog setup for the CLI: level from --log-level, optional rotated file output via --log-file.
// ABOUTME: Grounded on haasonsaas-nexus's slog.Default()-based logging, generalized to support file rotation.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

func setupLogger(flags *globalFlags) (*slog.Logger, error) {
	level, err := parseLevel(flags.LogLevel)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stderr
	if flags.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   flags.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
