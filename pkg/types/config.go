package types

import (
	"errors"
	"time"
)

// Mirror failure counting modes.
const (
	FailureModeCumulative  = "cumulative"
	FailureModeConsecutive = "consecutive"
)

// Log output formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config holds the settings shared by the CLI and the library entry points.
type Config struct {
	PrimaryBackend BackendID    `json:"primary_backend" yaml:"primary_backend" mapstructure:"primary_backend"`
	DataDir        string       `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Mirror         MirrorConfig `json:"mirror" yaml:"mirror" mapstructure:"mirror"`
	Backup         BackupConfig `json:"backup" yaml:"backup" mapstructure:"backup"`
	Log            LogConfig    `json:"log" yaml:"log" mapstructure:"log"`
}

// MirrorConfig tunes the dual-write layer.
type MirrorConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	FailureMode      string        `json:"failure_mode" yaml:"failure_mode" mapstructure:"failure_mode"`
	QueueSize        int           `json:"queue_size" yaml:"queue_size" mapstructure:"queue_size"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	ErrorHistory     int           `json:"error_history" yaml:"error_history" mapstructure:"error_history"`
}

// BackupConfig is the migration backup retention policy. Zero disables a limit.
type BackupConfig struct {
	MaxCount int           `json:"max_count" yaml:"max_count" mapstructure:"max_count"`
	MaxAge   time.Duration `json:"max_age" yaml:"max_age" mapstructure:"max_age"`
}

// LogConfig selects log level, format and an optional rotating log file.
type LogConfig struct {
	Level      string `json:"level" yaml:"level" mapstructure:"level"`
	Format     string `json:"format" yaml:"format" mapstructure:"format"`
	File       string `json:"file" yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`
}

// Config validation errors.
var (
	ErrBackendEmpty       = errors.New("primary backend must not be empty")
	ErrBackendUnknown     = errors.New("unknown backend")
	ErrDataDirEmpty       = errors.New("data directory must not be empty")
	ErrThresholdInvalid   = errors.New("mirror failure threshold must be positive")
	ErrFailureModeUnknown = errors.New("unknown mirror failure mode")
	ErrQueueSizeInvalid   = errors.New("mirror queue size must be positive")
	ErrTimeoutInvalid     = errors.New("mirror timeout must be positive")
	ErrRetentionInvalid   = errors.New("backup retention must not be negative")
	ErrLogFormatUnknown   = errors.New("unknown log format")
)

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() Config {
	return Config{
		PrimaryBackend: BackendDocument,
		Mirror: MirrorConfig{
			FailureThreshold: 5,
			FailureMode:      FailureModeCumulative,
			QueueSize:        256,
			Timeout:          5 * time.Second,
			ErrorHistory:     20,
		},
		Backup: BackupConfig{
			MaxCount: 10,
			MaxAge:   30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     LogFormatConsole,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	switch c.PrimaryBackend {
	case "":
		return ErrBackendEmpty
	case BackendDocument, BackendIndexed:
	default:
		return ErrBackendUnknown
	}
	if c.DataDir == "" {
		return ErrDataDirEmpty
	}
	if c.Mirror.FailureThreshold <= 0 {
		return ErrThresholdInvalid
	}
	if c.Mirror.FailureMode != FailureModeCumulative && c.Mirror.FailureMode != FailureModeConsecutive {
		return ErrFailureModeUnknown
	}
	if c.Mirror.QueueSize <= 0 {
		return ErrQueueSizeInvalid
	}
	if c.Mirror.Timeout <= 0 {
		return ErrTimeoutInvalid
	}
	if c.Backup.MaxCount < 0 || c.Backup.MaxAge < 0 {
		return ErrRetentionInvalid
	}
	if c.Log.Format != "" && c.Log.Format != LogFormatConsole && c.Log.Format != LogFormatJSON {
		return ErrLogFormatUnknown
	}
	return nil
}
