package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all stepflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string         `json:"db_path"`
	DefinitionsDir  string         `json:"definitions_dir"`
	ProjectRoot     string         `json:"project_root"`
	LogLevel        string         `json:"log_level"`
	LogFormat       string         `json:"log_format"` // text | json
	Evaluator       string         `json:"evaluator"`  // cel | expr | jq
	CheckpointEvery int            `json:"checkpoint_every"`
	LoopLimitFactor int            `json:"loop_limit_factor"`
	OperatorResume  bool           `json:"operator_resume"`
	Retention       Duration       `json:"retention"`
	CleanupCron     string         `json:"cleanup_cron"`
	Variables       map[string]any `json:"variables"` // values for config-sourced workflow variables
}

// Duration decodes "24h"-style strings in settings.json.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(stepflowDir(), "stepflow.db"),
		DefinitionsDir:  filepath.Join(stepflowDir(), "definitions"),
		ProjectRoot:     ".",
		LogLevel:        "info",
		LogFormat:       "text",
		Evaluator:       "cel",
		CheckpointEvery: 1,
		LoopLimitFactor: 10,
		Retention:       Duration(24 * time.Hour),
		CleanupCron:     "0 * * * *",
	}
}

func stepflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepflow"
	}
	return filepath.Join(home, ".stepflow")
}

func settingsPath() string {
	return filepath.Join(stepflowDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("STEPFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("STEPFLOW_DEFINITIONS_DIR"); v != "" {
		cfg.DefinitionsDir = v
	}
	if v := getenv("STEPFLOW_PROJECT_ROOT"); v != "" {
		cfg.ProjectRoot = v
	}
	if v := getenv("STEPFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("STEPFLOW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("STEPFLOW_EVALUATOR"); v != "" {
		cfg.Evaluator = v
	}
	if v := getenv("STEPFLOW_CHECKPOINT_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CheckpointEvery = n
		}
	}
	if v := getenv("STEPFLOW_LOOP_LIMIT_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoopLimitFactor = n
		}
	}
	if v := getenv("STEPFLOW_OPERATOR_RESUME"); v != "" {
		cfg.OperatorResume = v == "true" || v == "1"
	}
	if v := getenv("STEPFLOW_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention = Duration(d)
		}
	}
	if v := getenv("STEPFLOW_CLEANUP_CRON"); v != "" {
		cfg.CleanupCron = v
	}

	return cfg
}

// dbURI turns a filesystem path into the file URI libSQL expects.
func (c Config) dbURI() string {
	if len(c.DBPath) >= 5 && c.DBPath[:5] == "file:" {
		return c.DBPath
	}
	return "file:" + c.DBPath
}
