package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pocketllm/internal/config"
	"pocketllm/internal/engine"
	"pocketllm/internal/profile"
)

// app carries flag values and the resolved configuration shared by
// subcommands.
type app struct {
	configPath  string
	envFile     string
	profilesDir string
	modelsDir   string
	logLevel    string
	logFormat   string

	cfg config.Config
	log zerolog.Logger

	// newEngine is replaced in tests.
	newEngine func(config.Config, zerolog.Logger) engine.Engine
	stderr    io.Writer
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&app{newEngine: defaultEngine, stderr: os.Stderr})
}

func newRootCmdWith(a *app) *cobra.Command {
	if a.newEngine == nil {
		a.newEngine = defaultEngine
	}
	if a.stderr == nil {
		a.stderr = os.Stderr
	}
	root := &cobra.Command{
		Use:           "pocketllm",
		Short:         "Local LLM session orchestrator with stored configuration profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "Dotenv file loaded before reading POCKETLLM_* variables")
	pf.StringVar(&a.profilesDir, "profiles-dir", "", "Directory holding profile records (default ~/.pocketllm/configs)")
	pf.StringVar(&a.modelsDir, "models-dir", "", "Directory model artifacts are downloaded into (default ~/.pocketllm/models)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format: console|json")

	root.AddCommand(newServeCmd(a), newRunCmd(a), newProfileCmd(a), newModelsCmd(a))
	return root
}

// init resolves configuration: file, then dotenv and environment, then
// flags, then defaults.
func (a *app) init() error {
	if err := loadDotEnv(a.envFile); err != nil {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	var cfg config.Config
	if a.configPath != "" {
		c, err := config.Load(a.configPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = c
	}
	cfg = cfg.ApplyEnv(os.LookupEnv)
	if a.profilesDir != "" {
		cfg.ProfilesDir = a.profilesDir
	}
	if a.modelsDir != "" {
		cfg.ModelsDir = a.modelsDir
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	cfg, err := cfg.Defaults().ResolvePaths()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = newLogger(a.stderr, cfg.LogLevel, cfg.LogFormat)
	return nil
}

func (a *app) store() (*profile.Store, error) {
	return profile.NewStore(a.cfg.ProfilesDir, a.log)
}

func defaultEngine(cfg config.Config, log zerolog.Logger) engine.Engine {
	return engine.New(engine.Options{
		GPULayers: cfg.Engine.GPULayers,
		MMap:      cfg.Engine.UseMMap(),
		F16Memory: cfg.Engine.F16Memory,
		MaxTokens: cfg.Engine.MaxTokens,
		Seed:      cfg.Engine.Seed,
		AuthToken: os.Getenv("HF_TOKEN"),
		Logger:    log,
	})
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(format, "json") {
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
