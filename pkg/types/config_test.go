package types

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.DataDir = "/tmp/data"

	with := func(mut func(c *Config)) Config {
		c := valid
		mut(&c)
		return c
	}

	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "defaults with data dir are valid",
			config:  valid,
			wantErr: nil,
		},
		{
			name:    "empty backend returns ErrBackendEmpty",
			config:  with(func(c *Config) { c.PrimaryBackend = "" }),
			wantErr: ErrBackendEmpty,
		},
		{
			name:    "unknown backend returns ErrBackendUnknown",
			config:  with(func(c *Config) { c.PrimaryBackend = "postgres" }),
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "indexed primary is valid",
			config:  with(func(c *Config) { c.PrimaryBackend = BackendIndexed }),
			wantErr: nil,
		},
		{
			name:    "empty data dir returns ErrDataDirEmpty",
			config:  with(func(c *Config) { c.DataDir = "" }),
			wantErr: ErrDataDirEmpty,
		},
		{
			name:    "zero threshold returns ErrThresholdInvalid",
			config:  with(func(c *Config) { c.Mirror.FailureThreshold = 0 }),
			wantErr: ErrThresholdInvalid,
		},
		{
			name:    "consecutive failure mode is valid",
			config:  with(func(c *Config) { c.Mirror.FailureMode = FailureModeConsecutive }),
			wantErr: nil,
		},
		{
			name:    "unknown failure mode returns ErrFailureModeUnknown",
			config:  with(func(c *Config) { c.Mirror.FailureMode = "sometimes" }),
			wantErr: ErrFailureModeUnknown,
		},
		{
			name:    "zero queue returns ErrQueueSizeInvalid",
			config:  with(func(c *Config) { c.Mirror.QueueSize = 0 }),
			wantErr: ErrQueueSizeInvalid,
		},
		{
			name:    "negative timeout returns ErrTimeoutInvalid",
			config:  with(func(c *Config) { c.Mirror.Timeout = -time.Second }),
			wantErr: ErrTimeoutInvalid,
		},
		{
			name:    "negative retention returns ErrRetentionInvalid",
			config:  with(func(c *Config) { c.Backup.MaxCount = -1 }),
			wantErr: ErrRetentionInvalid,
		},
		{
			name:    "zero retention disables limits",
			config:  with(func(c *Config) { c.Backup = BackupConfig{} }),
			wantErr: nil,
		},
		{
			name:    "unknown log format returns ErrLogFormatUnknown",
			config:  with(func(c *Config) { c.Log.Format = "xml" }),
			wantErr: ErrLogFormatUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}
