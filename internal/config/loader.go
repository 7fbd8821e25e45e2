package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"pocketllm/internal/common/fsutil"
)

// Defaults applied by Defaults() when the corresponding field is unset.
const (
	DefaultAddr           = ":8080"
	DefaultProfilesDir    = "~/.pocketllm/configs"
	DefaultModelsDir      = "~/.pocketllm/models"
	DefaultProfile        = "default"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultMaxBodyBytes   = 1 << 20
	DefaultEngineMaxToken = 512
)

// EngineConfig holds knobs passed to the native engine at load time.
type EngineConfig struct {
	GPULayers int `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	// MMap is a pointer so an explicit false survives Defaults, which turns it on.
	MMap      *bool `json:"mmap,omitempty" yaml:"mmap,omitempty" toml:"mmap,omitempty"`
	F16Memory bool  `json:"f16_memory" yaml:"f16_memory" toml:"f16_memory"`
	MaxTokens int   `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Seed      int   `json:"seed" yaml:"seed" toml:"seed"`
}

// UseMMap reports whether the model file should be memory-mapped.
func (e EngineConfig) UseMMap() bool { return e.MMap == nil || *e.MMap }

// Config holds runtime parameters for the service and CLI.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr           string       `json:"addr" yaml:"addr" toml:"addr"`
	ProfilesDir    string       `json:"profiles_dir" yaml:"profiles_dir" toml:"profiles_dir"`
	ModelsDir      string       `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultProfile string       `json:"default_profile" yaml:"default_profile" toml:"default_profile"`
	LogLevel       string       `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat      string       `json:"log_format" yaml:"log_format" toml:"log_format"`
	CORSEnabled    bool         `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins    []string     `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes   int64        `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	Engine         EngineConfig `json:"engine" yaml:"engine" toml:"engine"`

	// GenerateTimeoutSeconds bounds how long an HTTP generate call waits (0 = no bound).
	GenerateTimeoutSeconds int `json:"generate_timeout_seconds" yaml:"generate_timeout_seconds" toml:"generate_timeout_seconds"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", p, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", p, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", p, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Defaults fills unset fields with package defaults.
func (c Config) Defaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ProfilesDir == "" {
		c.ProfilesDir = DefaultProfilesDir
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.DefaultProfile == "" {
		c.DefaultProfile = DefaultProfile
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Engine.MaxTokens <= 0 {
		c.Engine.MaxTokens = DefaultEngineMaxToken
	}
	if c.Engine.MMap == nil {
		on := true
		c.Engine.MMap = &on
	}
	return c
}

// ApplyEnv overrides fields from POCKETLLM_* variables. lookup is usually
// os.LookupEnv; tests pass a map-backed function.
func (c Config) ApplyEnv(lookup func(string) (string, bool)) Config {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("POCKETLLM_ADDR", &c.Addr)
	str("POCKETLLM_PROFILES_DIR", &c.ProfilesDir)
	str("POCKETLLM_MODELS_DIR", &c.ModelsDir)
	str("POCKETLLM_DEFAULT_PROFILE", &c.DefaultProfile)
	str("POCKETLLM_LOG_LEVEL", &c.LogLevel)
	str("POCKETLLM_LOG_FORMAT", &c.LogFormat)
	if v, ok := lookup("POCKETLLM_CORS_ORIGINS"); ok && v != "" {
		c.CORSEnabled = true
		c.CORSOrigins = splitCSV(v)
	}
	if v, ok := lookup("POCKETLLM_GENERATE_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.GenerateTimeoutSeconds = n
		}
	}
	if v, ok := lookup("POCKETLLM_GPU_LAYERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.GPULayers = n
		}
	}
	if v, ok := lookup("POCKETLLM_MMAP"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Engine.MMap = &b
		}
	}
	if v, ok := lookup("POCKETLLM_F16_MEMORY"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Engine.F16Memory = b
		}
	}
	return c
}

// ResolvePaths expands '~' in directory fields.
func (c Config) ResolvePaths() (Config, error) {
	var err error
	if c.ProfilesDir, err = fsutil.ExpandHome(c.ProfilesDir); err != nil {
		return c, err
	}
	if c.ModelsDir, err = fsutil.ExpandHome(c.ModelsDir); err != nil {
		return c, err
	}
	return c, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
