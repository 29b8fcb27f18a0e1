// Package logrecorder configures the process-wide logger: a console
// stream for the operator plus a dated capture file for later replay
// of a diagnostic session.
package logrecorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NowString returns the timestamp used in capture file names.
func NowString() string {
	return time.Now().Format("20060102_1504")
}

// MakeDir creates (if needed) and returns the dated capture directory,
// e.g. ./2026_08_29.
func MakeDir() (string, error) {
	now := time.Now()
	dirName := fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day())
	fullPath := filepath.Join(".", dirName)
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", fmt.Errorf("create capture directory: %w", err)
	}
	return fullPath, nil
}

// Setup installs the global logger. Console output goes to stderr in
// human form; when record is true, JSON lines are additionally written
// to <dated dir>/<name>_<timestamp>.log. Verbose lowers the level to
// debug.
func Setup(name string, verbose, record bool) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	var sink io.Writer = console

	if record {
		dir, err := MakeDir()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, NowString()))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open capture file: %w", err)
		}
		sink = zerolog.MultiLevelWriter(console, f)
	}

	log.Logger = zerolog.New(sink).Level(level).With().Timestamp().Logger()
	return nil
}
