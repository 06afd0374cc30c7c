// Package config loads mcp-workspace settings from ~/.mcp-workspace/config.yaml,
// a .env file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sammcj/mcp-workspace/internal/patch"
	"github.com/sammcj/mcp-workspace/internal/validate"
)

// Environment variables read by Load.
const (
	ConfigPathEnvVar         = "MCP_WORKSPACE_CONFIG"
	ClientSecretFileEnvVar   = "GOOGLE_CLIENT_SECRET_FILE"
	TokenFileEnvVar          = "GOOGLE_TOKEN_FILE"
	ServiceAccountEnvVar     = "GOOGLE_SERVICE_ACCOUNT_FILE"
	RateLimitEnvVar          = "GOOGLE_API_RATE_LIMIT"
	MinAccuracyEnvVar        = "PATCH_MIN_ACCURACY"
	MatchThresholdEnvVar     = "PATCH_MATCH_THRESHOLD"
	MatchDistanceEnvVar      = "PATCH_MATCH_DISTANCE"
	DeleteThresholdEnvVar    = "PATCH_DELETE_THRESHOLD"
	SnapshotDirEnvVar        = "SNAPSHOT_DIR"
	SnapshotMaxPerFileEnvVar = "SNAPSHOT_MAX_PER_FILE"
)

// DefaultRateLimit is the Google API request budget per minute.
const DefaultRateLimit = 60

// Config is the complete server configuration.
type Config struct {
	Google     GoogleConfig     `yaml:"google"`
	Patch      PatchConfig      `yaml:"patch"`
	Validation ValidationConfig `yaml:"validation"`
	Snapshots  SnapshotConfig   `yaml:"snapshots"`
}

// GoogleConfig holds credentials and client settings for Google APIs.
type GoogleConfig struct {
	ClientSecretFile   string        `yaml:"client_secret_file"`
	TokenFile          string        `yaml:"token_file"`
	ServiceAccountFile string        `yaml:"service_account_file"`
	Scopes             []string      `yaml:"scopes"`
	RateLimit          int           `yaml:"rate_limit"` // requests per minute
	Timeout            time.Duration `yaml:"timeout"`
}

// PatchConfig tunes the fuzzy matcher.
type PatchConfig struct {
	MatchThreshold  float64 `yaml:"match_threshold"`
	MatchDistance   int     `yaml:"match_distance"`
	DeleteThreshold float64 `yaml:"delete_threshold"`
	MinAccuracy     float64 `yaml:"min_accuracy"` // percent
}

// ValidationConfig tunes the syntax validator.
type ValidationConfig struct {
	MaxShrinkRatio  float64 `yaml:"max_shrink_ratio"`
	MaxGrowthFactor float64 `yaml:"max_growth_factor"`
	MaxDivDepth     int     `yaml:"max_div_depth"`
}

// SnapshotConfig controls the local pre-commit snapshot store.
type SnapshotConfig struct {
	Dir        string `yaml:"dir"`
	MaxPerFile int    `yaml:"max_per_file"`
	Disabled   bool   `yaml:"disabled"`
}

// Dir returns the mcp-workspace home directory, ~/.mcp-workspace.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".mcp-workspace"
	}
	return filepath.Join(homeDir, ".mcp-workspace")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	fuzzy := patch.DefaultFuzzyOptions()
	validation := validate.DefaultOptions()
	return &Config{
		Google: GoogleConfig{
			ClientSecretFile: filepath.Join(dir, "client_secret.json"),
			TokenFile:        filepath.Join(dir, "token.json"),
			RateLimit:        DefaultRateLimit,
			Timeout:          60 * time.Second,
		},
		Patch: PatchConfig{
			MatchThreshold:  fuzzy.MatchThreshold,
			MatchDistance:   fuzzy.MatchDistance,
			DeleteThreshold: fuzzy.DeleteThreshold,
			MinAccuracy:     patch.DefaultMinAccuracy,
		},
		Validation: ValidationConfig{
			MaxShrinkRatio:  validation.MaxShrinkRatio,
			MaxGrowthFactor: validation.MaxGrowthFactor,
			MaxDivDepth:     validation.MaxDivDepth,
		},
		Snapshots: SnapshotConfig{
			Dir:        filepath.Join(dir, "snapshots"),
			MaxPerFile: 20,
		},
	}
}

// Path returns the config file to load: explicit, then MCP_WORKSPACE_CONFIG,
// then ~/.mcp-workspace/config.yaml.
func Path(explicit string) string {
	if explicit != "" {
		return expandHome(explicit)
	}
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return expandHome(p)
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the configuration. A missing file yields the defaults; a
// .env file in the working directory never overrides variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	configPath := Path(path)

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.Google.ClientSecretFile = expandHome(cfg.Google.ClientSecretFile)
	cfg.Google.TokenFile = expandHome(cfg.Google.TokenFile)
	cfg.Google.ServiceAccountFile = expandHome(cfg.Google.ServiceAccountFile)
	cfg.Snapshots.Dir = expandHome(cfg.Snapshots.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString(&c.Google.ClientSecretFile, ClientSecretFileEnvVar)
	setString(&c.Google.TokenFile, TokenFileEnvVar)
	setString(&c.Google.ServiceAccountFile, ServiceAccountEnvVar)
	setString(&c.Snapshots.Dir, SnapshotDirEnvVar)
	errs = append(errs,
		setInt(&c.Google.RateLimit, RateLimitEnvVar),
		setFloat(&c.Patch.MinAccuracy, MinAccuracyEnvVar),
		setFloat(&c.Patch.MatchThreshold, MatchThresholdEnvVar),
		setInt(&c.Patch.MatchDistance, MatchDistanceEnvVar),
		setFloat(&c.Patch.DeleteThreshold, DeleteThresholdEnvVar),
		setInt(&c.Snapshots.MaxPerFile, SnapshotMaxPerFileEnvVar),
	)
	return errors.Join(errs...)
}

func setString(dst *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}

func setInt(dst *int, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", envVar, v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", envVar, v)
	}
	*dst = f
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, p[1:])
		}
	}
	return p
}

// Validate rejects out-of-range settings.
func (c *Config) Validate() error {
	var errs []error
	ratio := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %g", name, v))
		}
	}
	ratio("patch.match_threshold", c.Patch.MatchThreshold)
	ratio("patch.delete_threshold", c.Patch.DeleteThreshold)
	ratio("validation.max_shrink_ratio", c.Validation.MaxShrinkRatio)

	if c.Patch.MinAccuracy < 0 || c.Patch.MinAccuracy > 100 {
		errs = append(errs, fmt.Errorf("patch.min_accuracy must be between 0 and 100, got %g", c.Patch.MinAccuracy))
	}
	if c.Patch.MatchDistance < 0 {
		errs = append(errs, fmt.Errorf("patch.match_distance must not be negative, got %d", c.Patch.MatchDistance))
	}
	if c.Validation.MaxGrowthFactor <= 1 {
		errs = append(errs, fmt.Errorf("validation.max_growth_factor must be greater than 1, got %g", c.Validation.MaxGrowthFactor))
	}
	if c.Validation.MaxDivDepth < 1 {
		errs = append(errs, fmt.Errorf("validation.max_div_depth must be at least 1, got %d", c.Validation.MaxDivDepth))
	}
	if c.Google.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("google.rate_limit must be positive, got %d", c.Google.RateLimit))
	}
	if c.Snapshots.MaxPerFile < 1 {
		errs = append(errs, fmt.Errorf("snapshots.max_per_file must be at least 1, got %d", c.Snapshots.MaxPerFile))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// FuzzyOptions converts the patch section for the fuzzy matcher.
func (c *Config) FuzzyOptions() patch.FuzzyOptions {
	return patch.FuzzyOptions{
		MatchThreshold:  c.Patch.MatchThreshold,
		MatchDistance:   c.Patch.MatchDistance,
		DeleteThreshold: c.Patch.DeleteThreshold,
	}
}

// ValidatorOptions converts the validation section for the validator.
func (c *Config) ValidatorOptions() validate.Options {
	return validate.Options{
		MaxShrinkRatio:  c.Validation.MaxShrinkRatio,
		MaxGrowthFactor: c.Validation.MaxGrowthFactor,
		MaxDivDepth:     c.Validation.MaxDivDepth,
	}
}
