// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendFilesystem = "filesystem"
	BackendBolt       = "bolt"
	BackendS3         = "s3"
)

// Documented defaults.
const (
	DefaultCommitRetryLimit     = 5
	DefaultCommitTimeout        = 2 * time.Minute
	DefaultInlineChunkThreshold = 512
	DefaultManifestShardSize    = 4096
	DefaultSafetyWindow         = 24 * time.Hour
	DefaultGCConcurrency        = 8
	DefaultCacheMaxBytes        = 256 << 20
)

// Config is the master configuration for a Tessera repository.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Storage selects and configures the object store.
	Storage StorageConfig `yaml:"storage"`

	// Repository configures commit behavior and object layout.
	Repository RepositoryConfig `yaml:"repository"`

	// Cache configures the decoded-object cache.
	Cache CacheConfig `yaml:"cache"`

	// GC configures garbage collection.
	GC GCConfig `yaml:"gc"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Per-environment overrides, applied after the base config is
	// loaded when Environment matches.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
// Only non-zero fields replace base values.
type ConfigOverrides struct {
	Storage    *StorageConfig    `yaml:"storage,omitempty"`
	Repository *RepositoryConfig `yaml:"repository,omitempty"`
	Cache      *CacheConfig      `yaml:"cache,omitempty"`
	GC         *GCConfig         `yaml:"gc,omitempty"`
	Logging    *LoggingConfig    `yaml:"logging,omitempty"`
}

// StorageConfig configures the object store adapter chain.
type StorageConfig struct {
	// Backend is one of memory, filesystem, bolt, s3.
	// Default: filesystem
	Backend string `yaml:"backend"`

	// Path is the repository directory (filesystem) or database file
	// (bolt).
	Path string `yaml:"path"`

	// S3 configures the s3 backend.
	S3 S3Config `yaml:"s3"`

	// RequestTimeout bounds each object-store call. Zero disables.
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// EncryptionKeyFile, when set, names a file holding a 32-byte key
	// (raw or hex). Every object is sealed with XChaCha20-Poly1305.
	EncryptionKeyFile string `yaml:"encryption_key_file"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	// ForcePathStyle is needed by most S3-compatible servers.
	ForcePathStyle bool `yaml:"force_path_style"`

	// ConditionalWrites enables If-None-Match: * on create. Without
	// it reference updates are last-writer-wins within a small race
	// window. Nil means true.
	ConditionalWrites *bool `yaml:"conditional_writes"`
}

// ConditionalWritesEnabled resolves the nil default.
func (s S3Config) ConditionalWritesEnabled() bool {
	return s.ConditionalWrites == nil || *s.ConditionalWrites
}

// RepositoryConfig configures commits and object layout.
type RepositoryConfig struct {
	// Author is recorded on snapshots created by tools that do not
	// supply one.
	Author string `yaml:"author"`

	// CommitRetryLimit bounds rebase-and-retry attempts per commit.
	// Default: 5
	CommitRetryLimit int `yaml:"commit_retry_limit"`

	// CommitTimeout bounds the whole commit retry loop.
	// Default: 2m
	CommitTimeout time.Duration `yaml:"commit_timeout"`

	// InlineChunkThreshold: chunks smaller than this many bytes are
	// stored inside the manifest instead of as their own object. Zero
	// disables inlining.
	// Default: 512
	InlineChunkThreshold int `yaml:"inline_chunk_threshold"`

	// ManifestShardSize is the maximum number of entries per manifest
	// shard.
	// Default: 4096
	ManifestShardSize int `yaml:"manifest_shard_size"`

	// Compression is the codec for structured objects: none, lz4, zstd.
	// Default: zstd
	Compression string `yaml:"compression"`
}

// CacheConfig configures the decoded-object cache.
type CacheConfig struct {
	// Enabled turns the cache on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// MaxBytes is the approximate cache budget.
	// Default: 256 MiB
	MaxBytes int64 `yaml:"max_bytes"`
}

// IsEnabled resolves the nil default.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GCConfig configures garbage collection.
type GCConfig struct {
	// SafetyWindow: unreferenced objects younger than this are kept,
	// protecting uploads of in-flight sessions.
	// Default: 24h
	SafetyWindow time.Duration `yaml:"safety_window"`

	// Retention: snapshots older than this are expired unless they are
	// a branch tip or tagged. Zero keeps all history.
	Retention time.Duration `yaml:"retention"`

	// DeleteRate limits deletes per second. Zero is unlimited.
	DeleteRate float64 `yaml:"delete_rate"`

	// Concurrency is the number of parallel deletes.
	// Default: 8
	Concurrency int `yaml:"concurrency"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// SlogLevel converts Level to a slog.Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist to give every field a sensible value, not as a fallback:
// the config file is still required by Load.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Storage: StorageConfig{
			Backend:        BackendFilesystem,
			Path:           filepath.Join(homeDir, ".cache", "tessera", "repository"),
			RequestTimeout: 30 * time.Second,
		},
		Repository: RepositoryConfig{
			CommitRetryLimit:     DefaultCommitRetryLimit,
			CommitTimeout:        DefaultCommitTimeout,
			InlineChunkThreshold: DefaultInlineChunkThreshold,
			ManifestShardSize:    DefaultManifestShardSize,
			Compression:          "zstd",
		},
		Cache: CacheConfig{
			MaxBytes: DefaultCacheMaxBytes,
		},
		GC: GCConfig{
			SafetyWindow: DefaultSafetyWindow,
			Concurrency:  DefaultGCConcurrency,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the TESSERA_CONFIG environment variable.
//
// There are no fallbacks: if TESSERA_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("TESSERA_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TESSERA_CONFIG environment variable not set; " +
			"set it to the path of your tessera.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// matching environment section, expands path variables and validates
// the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production never silently runs without atomic creates.
		enabled := true
		if overrides == nil {
			overrides = &ConfigOverrides{}
		}
		if overrides.Storage == nil {
			overrides.Storage = &StorageConfig{}
		}
		if overrides.Storage.S3.ConditionalWrites == nil {
			overrides.Storage.S3.ConditionalWrites = &enabled
		}
	}

	if overrides == nil {
		return
	}

	if storage := overrides.Storage; storage != nil {
		setString(&c.Storage.Backend, storage.Backend)
		setString(&c.Storage.Path, storage.Path)
		setString(&c.Storage.S3.Bucket, storage.S3.Bucket)
		setString(&c.Storage.S3.Prefix, storage.S3.Prefix)
		setString(&c.Storage.S3.Region, storage.S3.Region)
		setString(&c.Storage.S3.Endpoint, storage.S3.Endpoint)
		if storage.S3.ForcePathStyle {
			c.Storage.S3.ForcePathStyle = true
		}
		if storage.S3.ConditionalWrites != nil {
			c.Storage.S3.ConditionalWrites = storage.S3.ConditionalWrites
		}
		setNonZero(&c.Storage.RequestTimeout, storage.RequestTimeout)
		setString(&c.Storage.EncryptionKeyFile, storage.EncryptionKeyFile)
	}

	if repository := overrides.Repository; repository != nil {
		setString(&c.Repository.Author, repository.Author)
		setNonZero(&c.Repository.CommitRetryLimit, repository.CommitRetryLimit)
		setNonZero(&c.Repository.CommitTimeout, repository.CommitTimeout)
		setNonZero(&c.Repository.InlineChunkThreshold, repository.InlineChunkThreshold)
		setNonZero(&c.Repository.ManifestShardSize, repository.ManifestShardSize)
		setString(&c.Repository.Compression, repository.Compression)
	}

	if cache := overrides.Cache; cache != nil {
		if cache.Enabled != nil {
			c.Cache.Enabled = cache.Enabled
		}
		setNonZero(&c.Cache.MaxBytes, cache.MaxBytes)
	}

	if gc := overrides.GC; gc != nil {
		setNonZero(&c.GC.SafetyWindow, gc.SafetyWindow)
		setNonZero(&c.GC.Retention, gc.Retention)
		setNonZero(&c.GC.DeleteRate, gc.DeleteRate)
		setNonZero(&c.GC.Concurrency, gc.Concurrency)
	}

	if logging := overrides.Logging; logging != nil {
		setString(&c.Logging.Level, logging.Level)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setNonZero[T int | int64 | float64 | time.Duration](target *T, value T) {
	if value != 0 {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	homeDir, _ := os.UserHomeDir()
	vars := map[string]string{
		"HOME":         homeDir,
		"TESSERA_ROOT": filepath.Join(homeDir, ".cache", "tessera"),
	}

	c.Storage.Path = expandVars(c.Storage.Path, vars)
	c.Storage.EncryptionKeyFile = expandVars(c.Storage.EncryptionKeyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	backends     = []string{BackendMemory, BackendFilesystem, BackendBolt, BackendS3}
	compressions = []string{"none", "lz4", "zstd"}
)

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if !slices.Contains(backends, c.Storage.Backend) {
		errs = append(errs, fmt.Errorf("storage.backend must be one of: %v", backends))
	}
	if (c.Storage.Backend == BackendFilesystem || c.Storage.Backend == BackendBolt) && c.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend))
	}
	if c.Storage.Backend == BackendS3 && c.Storage.S3.Bucket == "" {
		errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
	}
	if c.Environment == Production && c.Storage.Backend == BackendS3 && !c.Storage.S3.ConditionalWritesEnabled() {
		errs = append(errs, errors.New("storage.s3.conditional_writes cannot be disabled in production"))
	}
	if c.Storage.RequestTimeout < 0 {
		errs = append(errs, errors.New("storage.request_timeout must not be negative"))
	}

	if c.Repository.CommitRetryLimit < 0 {
		errs = append(errs, errors.New("repository.commit_retry_limit must not be negative"))
	}
	if c.Repository.CommitTimeout < 0 {
		errs = append(errs, errors.New("repository.commit_timeout must not be negative"))
	}
	if c.Repository.InlineChunkThreshold < 0 {
		errs = append(errs, errors.New("repository.inline_chunk_threshold must not be negative"))
	}
	if c.Repository.ManifestShardSize < 1 {
		errs = append(errs, errors.New("repository.manifest_shard_size must be at least 1"))
	}
	if !slices.Contains(compressions, strings.ToLower(c.Repository.Compression)) {
		errs = append(errs, fmt.Errorf("repository.compression must be one of: %v", compressions))
	}

	if c.Cache.MaxBytes < 0 {
		errs = append(errs, errors.New("cache.max_bytes must not be negative"))
	}

	if c.GC.SafetyWindow < 0 {
		errs = append(errs, errors.New("gc.safety_window must not be negative"))
	}
	if c.GC.Retention < 0 {
		errs = append(errs, errors.New("gc.retention must not be negative"))
	}
	if c.GC.DeleteRate < 0 {
		errs = append(errs, errors.New("gc.delete_rate must not be negative"))
	}
	if c.GC.Concurrency < 1 {
		errs = append(errs, errors.New("gc.concurrency must be at least 1"))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
