// Package config loads boardstore settings. BOARDSTORE_* environment
// variables override config.yaml, which overrides the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/boardstore/internal/paths"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	// FileName is the config file inside the config directory.
	FileName = "config.yaml"

	envPrefix = "BOARDSTORE"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# boardstore configuration

# Store the app reads from and writes to first: document or indexed.
primary_backend: document

# Data directory (optional; overridable by --data-dir)
# data_dir:

mirror:
  failure_threshold: 5
  failure_mode: cumulative
  queue_size: 256
  timeout: 5s
  error_history: 20

backup:
  max_count: 10
  max_age: 720h

log:
  level: info
  format: console
  # file:
  max_size_mb: 10
  max_backups: 3
`

// Loaded is a resolved configuration and where it came from.
type Loaded struct {
	Config    types.Config
	ConfigDir string
	// File is the config file read, empty when none was found.
	File string
}

// Load reads config.yaml from configDir, creating the directory and a default
// file on first run. dataDirFlag, when set, wins over every other source.
func Load(configDir, dataDirFlag string) (*Loaded, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := newViper()
	v.AddConfigPath(configDir)

	out := &Loaded{ConfigDir: configDir}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		out.File = v.ConfigFileUsed()
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	dataDir, err := paths.ResolveDataDir(dataDirFlag, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = dataDir
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	out.Config = cfg
	return out, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	d := types.DefaultConfig()
	v.SetDefault("primary_backend", string(d.PrimaryBackend))
	v.SetDefault("data_dir", "")
	v.SetDefault("mirror.failure_threshold", d.Mirror.FailureThreshold)
	v.SetDefault("mirror.failure_mode", d.Mirror.FailureMode)
	v.SetDefault("mirror.queue_size", d.Mirror.QueueSize)
	v.SetDefault("mirror.timeout", d.Mirror.Timeout)
	v.SetDefault("mirror.error_history", d.Mirror.ErrorHistory)
	v.SetDefault("backup.max_count", d.Backup.MaxCount)
	v.SetDefault("backup.max_age", d.Backup.MaxAge)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ensureDefaultConfigFile creates a default config.yaml if the file does not
// exist in the config directory.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, FileName)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// initFile is the part of config.yaml that init pins.
type initFile struct {
	PrimaryBackend string `yaml:"primary_backend"`
	DataDir        string `yaml:"data_dir,omitempty"`
}

// WriteInitial writes a config.yaml pinning the backend and data directory
// unless one already exists. It reports whether it wrote the file.
func WriteInitial(configDir string, backend types.BackendID, dataDir string) (bool, error) {
	path := filepath.Join(configDir, FileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return false, err
	}
	head, err := yaml.Marshal(&initFile{PrimaryBackend: string(backend), DataDir: dataDir})
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	// The remaining defaults follow the pinned keys so the file stays a
	// complete reference.
	rest := defaultConfigYAML[strings.Index(defaultConfigYAML, "mirror:"):]
	data := append(head, '\n')
	data = append(data, rest...)
	return true, os.WriteFile(path, data, 0o644)
}
