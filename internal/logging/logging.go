// Package logging builds the zerolog logger shared by the CLI and the
// library components. File output rotates through lumberjack.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Build collects the logger options before Make.
type Build struct {
	writer io.Writer
	cfg    types.LogConfig
}

// Log is a built logger and the file it writes to, if any.
type Log struct {
	Logger zerolog.Logger
	file   io.Closer
}

// New starts a build writing to stderr with the default log settings.
func New() *Build {
	return &Build{writer: os.Stderr, cfg: types.DefaultConfig().Log}
}

// FromConfig applies level, format and file settings.
func (b *Build) FromConfig(cfg types.LogConfig) *Build {
	b.cfg = cfg
	return b
}

// FromWriter replaces stderr. It is ignored when a log file is configured.
func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

// Make builds the logger.
func (b *Build) Make() (*Log, error) {
	level := zerolog.InfoLevel
	if b.cfg.Level != "" {
		l, err := zerolog.ParseLevel(b.cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", b.cfg.Level, err)
		}
		level = l
	}

	out := &Log{}
	w := b.writer
	if b.cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   b.cfg.File,
			MaxSize:    b.cfg.MaxSizeMB,
			MaxBackups: b.cfg.MaxBackups,
		}
		out.file = lj
		w = lj
	} else if b.cfg.Format != types.LogFormatJSON {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05"}
	}
	out.Logger = zerolog.New(zerolog.SyncWriter(w)).Level(level).With().Timestamp().Logger()
	return out, nil
}

// Close releases the log file.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
