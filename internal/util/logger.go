// Package util provides logging setup and host information helpers for the
// lobby client.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFilePrefix = "lobbyclient_"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with a dated JSON log
// file and, optionally, a human-readable console writer.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFileName := fmt.Sprintf("%s%s.log", logFilePrefix, time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(cfg.Directory, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	writers := []io.Writer{logFile}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05.000",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "lobbyclient").
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go cleanOldLogs(cfg.Directory, cfg.MaxBackups)

	return nil
}

// cleanOldLogs keeps the newest maxBackups log files and removes the rest.
func cleanOldLogs(directory string, maxBackups int) int {
	if maxBackups <= 0 {
		return 0
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		return 0
	}

	type logFile struct {
		path    string
		modTime time.Time
	}
	var files []logFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, logFilePrefix) || filepath.Ext(name) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(directory, name), modTime: info.ModTime()})
	}
	if len(files) <= maxBackups {
		return 0
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	removed := 0
	for _, f := range files[:len(files)-maxBackups] {
		if err := os.Remove(f.path); err != nil {
			log.Debug().Err(err).Str("file", f.path).Msg("failed to remove old log file")
			continue
		}
		removed++
		log.Debug().Str("file", f.path).Msg("removed old log file")
	}
	return removed
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
