// Package util provides logging setup and host inspection shared by every
// aresnet component.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AppName tags every log line and names the log files.
const AppName = "aresnet"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}
}

var (
	logFileMu sync.Mutex
	logFile   *rotatingFile
)

// InitLogger points the global zerolog logger at a size-rotated JSON file
// and, optionally, a console writer on stderr. Console output stays off
// stdout so it does not tear the interactive prompt. Calling it again
// replaces the previous file.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	maxBytes := int64(cfg.MaxSizeMB) << 20
	file, err := openRotatingFile(cfg.Directory, maxBytes, cfg.MaxBackups)
	if err != nil {
		return err
	}

	writers := []io.Writer{file}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05.000",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", AppName).
		Logger()

	logFileMu.Lock()
	old := logFile
	logFile = file
	logFileMu.Unlock()
	if old != nil {
		old.Close()
	}

	log.Info().
		Str("level", level.String()).
		Str("log_file", file.path).
		Int("max_size_mb", cfg.MaxSizeMB).
		Msg("logger initialized")
	return nil
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// rotatingFile is an io.Writer over dir/aresnet.log that moves the file
// aside once it passes maxBytes and keeps at most maxBackups old files.
type rotatingFile struct {
	mu         sync.Mutex
	dir        string
	path       string
	maxBytes   int64
	maxBackups int
	file       *os.File
	size       int64
}

func openRotatingFile(dir string, maxBytes int64, maxBackups int) (*rotatingFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	r := &rotatingFile{
		dir:        dir,
		path:       filepath.Join(dir, AppName+".log"),
		maxBytes:   maxBytes,
		maxBackups: maxBackups,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", r.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file %s: %w", r.path, err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	if r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) rotate() error {
	r.file.Close()
	r.file = nil

	backup := filepath.Join(r.dir, fmt.Sprintf("%s-%s.log", AppName, time.Now().Format("20060102-150405.000")))
	if err := os.Rename(r.path, backup); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	r.prune()
	return r.open()
}

// prune removes the oldest backups beyond maxBackups. Backup names carry
// their timestamp, so name order is age order.
func (r *rotatingFile) prune() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, AppName+"-") && strings.HasSuffix(name, ".log") {
			backups = append(backups, name)
		}
	}
	sort.Strings(backups)
	for len(backups) > r.maxBackups {
		os.Remove(filepath.Join(r.dir, backups[0]))
		backups = backups[1:]
	}
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
