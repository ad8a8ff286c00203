// Package logger provides the structured logger used by the orchestrator,
// the sandbox, and the manifest pipeline.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger so call sites can log structured fields
// (tick, system, entity, command_index) without importing logrus directly.
type Logger struct {
	*logrus.Logger
}

// Config controls logger construction.
type Config struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// New creates a logger from the given configuration.
func New(cfg Config) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "nomai"
		}
		if err := os.MkdirAll("logs", 0o755); err != nil {
			log.Errorf("create logs directory: %v", err)
			break
		}
		path := filepath.Join("logs", prefix+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Errorf("open log file: %v", err)
			break
		}
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	default:
		log.SetOutput(os.Stdout)
	}

	return &Logger{Logger: log}
}

// NewDefault returns a logger with sane defaults.
func NewDefault(component string) *Logger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	return &Logger{Logger: log}
}

// WithTick returns an entry pre-tagged with the current tick number, the
// shape every orchestrator phase uses so a misbehaving tick is greppable.
func (l *Logger) WithTick(tick uint64) *logrus.Entry {
	return l.Logger.WithField("tick", tick)
}
