package logging

import (
	"FlowSentinel/internal/config"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup configures the process-wide logger from the log section of the config.
func Setup(cfg config.LogConfig) error {
	return setup(cfg, os.Stderr)
}

func setup(cfg config.LogConfig, out io.Writer) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	log.SetOutput(out)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}
