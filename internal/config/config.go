package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codefionn/parsec/internal/consts"
	"github.com/codefionn/parsec/internal/secrets"
)

// Environment variables read by ApplyEnv. The provider variable is
// resolved by the provider registry so that it keeps its own precedence.
const (
	EnvProvider        = "PARSEC_PROVIDER"
	EnvLogLevel        = "PARSEC_LOG_LEVEL"
	EnvLogPath         = "PARSEC_LOG_PATH"
	EnvSecretsPassword = "PARSEC_SECRETS_PASSWORD"
)

// ProviderConfig holds per-provider model settings
type ProviderConfig struct {
	APIKey            string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model             string `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL           string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TokenLimit        int    `json:"token_limit,omitempty" yaml:"token_limit,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty"`
}

// ContextConfig controls the token budgets of model requests
type ContextConfig struct {
	PlanningBudgetTokens int `json:"planning_budget_tokens" yaml:"planning_budget_tokens"`
	StepBudgetTokens     int `json:"step_budget_tokens" yaml:"step_budget_tokens"`
	RecentExecutions     int `json:"recent_executions" yaml:"recent_executions"`
	NoteReserveTokens    int `json:"note_reserve_tokens" yaml:"note_reserve_tokens"`
}

// ExecutionConfig bounds command execution
type ExecutionConfig struct {
	CommandTimeoutSeconds int `json:"command_timeout_seconds" yaml:"command_timeout_seconds"`
	MaxOutputBytes        int `json:"max_output_bytes" yaml:"max_output_bytes"`
	ArtifactSettleMillis  int `json:"artifact_settle_millis" yaml:"artifact_settle_millis"`
}

// ModelConfig controls model call behaviour
type ModelConfig struct {
	TimeoutSeconds     int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	RetryBackoffMillis int     `json:"retry_backoff_millis" yaml:"retry_backoff_millis"`
	Temperature        float64 `json:"temperature" yaml:"temperature"`
}

// OrchestrationConfig holds workflow policy
type OrchestrationConfig struct {
	MaxAttemptsPerStep   int  `json:"max_attempts_per_step" yaml:"max_attempts_per_step"`
	PrefetchAlternatives bool `json:"prefetch_alternatives" yaml:"prefetch_alternatives"`
}

// SafetyConfig adds destructive command patterns on top of the built-in list
type SafetyConfig struct {
	DestructivePatterns []string `json:"destructive_patterns,omitempty" yaml:"destructive_patterns,omitempty"`
}

// StorageConfig selects the session store and its retention policy
type StorageConfig struct {
	Backend                   string `json:"backend" yaml:"backend"` // "memory" or "sqlite"
	Path                      string `json:"path,omitempty" yaml:"path,omitempty"`
	RetentionDays             int    `json:"retention_days" yaml:"retention_days"`
	ConversationRetentionDays int    `json:"conversation_retention_days,omitempty" yaml:"conversation_retention_days,omitempty"`
	MaxSessions               int    `json:"max_sessions,omitempty" yaml:"max_sessions,omitempty"`
}

// Config represents application configuration
type Config struct {
	WorkingDir    string                     `json:"working_dir" yaml:"working_dir"`
	LogLevel      string                     `json:"log_level" yaml:"log_level"` // debug, info, warn, error, none
	LogPath       string                     `json:"log_path,omitempty" yaml:"log_path,omitempty"`
	Provider      string                     `json:"provider,omitempty" yaml:"provider,omitempty"`
	Providers     map[string]*ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
	Context       ContextConfig              `json:"context" yaml:"context"`
	Execution     ExecutionConfig            `json:"execution" yaml:"execution"`
	Model         ModelConfig                `json:"model" yaml:"model"`
	Orchestration OrchestrationConfig        `json:"orchestration" yaml:"orchestration"`
	Safety        SafetyConfig               `json:"safety" yaml:"safety"`
	Storage       StorageConfig              `json:"storage" yaml:"storage"`

	secretsPassword string
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "parsec")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "parsec")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "parsec")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "parsec")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "parsec")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "parsec")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "parsec")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "parsec")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "parsec")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		WorkingDir: ".",
		LogLevel:   "info",
		LogPath:    filepath.Join(stateDir, "parsec.log"),
		Providers:  make(map[string]*ProviderConfig),
		Context: ContextConfig{
			PlanningBudgetTokens: consts.PlanningBudgetTokens,
			StepBudgetTokens:     consts.StepBudgetTokens,
			RecentExecutions:     consts.RecentExecutions,
			NoteReserveTokens:    consts.NoteReserveTokens,
		},
		Execution: ExecutionConfig{
			CommandTimeoutSeconds: int(consts.CommandTimeout.Seconds()),
			MaxOutputBytes:        consts.MaxCommandOutputBytes,
			ArtifactSettleMillis:  int(consts.ArtifactSettleDelay.Milliseconds()),
		},
		Model: ModelConfig{
			TimeoutSeconds:     int(consts.Timeout60Seconds.Seconds()),
			RetryBackoffMillis: 500,
			Temperature:        0.2,
		},
		Orchestration: OrchestrationConfig{
			MaxAttemptsPerStep:   consts.DefaultMaxRetries,
			PrefetchAlternatives: false,
		},
		Storage: StorageConfig{
			Backend:       "sqlite",
			Path:          filepath.Join(stateDir, "sessions.db"),
			RetentionDays: consts.ContextRetentionDays,
		},
	}
}

// Load loads configuration from file. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON. A missing file yields defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	config.fillDefaults()
	return config, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// fillDefaults restores zero values that would otherwise disable a limit
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.WorkingDir == "" {
		c.WorkingDir = def.WorkingDir
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogPath == "" {
		c.LogPath = def.LogPath
	}
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	if c.Context.PlanningBudgetTokens <= 0 {
		c.Context.PlanningBudgetTokens = def.Context.PlanningBudgetTokens
	}
	if c.Context.StepBudgetTokens <= 0 {
		c.Context.StepBudgetTokens = def.Context.StepBudgetTokens
	}
	if c.Context.RecentExecutions <= 0 {
		c.Context.RecentExecutions = def.Context.RecentExecutions
	}
	if c.Context.NoteReserveTokens <= 0 {
		c.Context.NoteReserveTokens = def.Context.NoteReserveTokens
	}
	if c.Execution.CommandTimeoutSeconds <= 0 {
		c.Execution.CommandTimeoutSeconds = def.Execution.CommandTimeoutSeconds
	}
	if c.Execution.MaxOutputBytes <= 0 {
		c.Execution.MaxOutputBytes = def.Execution.MaxOutputBytes
	}
	if c.Execution.ArtifactSettleMillis < 0 {
		c.Execution.ArtifactSettleMillis = def.Execution.ArtifactSettleMillis
	}
	if c.Model.TimeoutSeconds <= 0 {
		c.Model.TimeoutSeconds = def.Model.TimeoutSeconds
	}
	if c.Orchestration.MaxAttemptsPerStep <= 0 {
		c.Orchestration.MaxAttemptsPerStep = def.Orchestration.MaxAttemptsPerStep
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Storage.RetentionDays <= 0 {
		c.Storage.RetentionDays = def.Storage.RetentionDays
	}
}

// ApplyEnv overlays environment overrides onto the configuration
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(getenv(EnvLogPath)); v != "" {
		c.LogPath = v
	}
	if v := getenv(EnvSecretsPassword); v != "" {
		return c.ApplySecretsPassword(v)
	}
	return nil
}

// ProviderSettings returns the settings block for name, creating it if needed
func (c *Config) ProviderSettings(name string) *ProviderConfig {
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	pc, ok := c.Providers[name]
	if !ok || pc == nil {
		pc = &ProviderConfig{}
		c.Providers[name] = pc
	}
	return pc
}

// ApplySecretsPassword records the password and opens sealed API keys.
func (c *Config) ApplySecretsPassword(password string) error {
	for _, name := range c.providerNames() {
		pc := c.Providers[name]
		plain, err := secrets.Open(pc.APIKey, password)
		if err != nil {
			return fmt.Errorf("open api key for %s: %w", name, err)
		}
		pc.APIKey = plain
	}
	c.secretsPassword = password
	return nil
}

// Save saves configuration to file, sealing API keys when a secrets
// password is active.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	out := *c
	out.Providers = make(map[string]*ProviderConfig, len(c.Providers))
	for _, name := range c.providerNames() {
		pc := *c.Providers[name]
		sealed, err := secrets.Seal(pc.APIKey, c.secretsPassword)
		if err != nil {
			return fmt.Errorf("seal api key for %s: %w", name, err)
		}
		pc.APIKey = sealed
		out.Providers[name] = &pc
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(&out)
	} else {
		data, err = json.MarshalIndent(&out, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) providerNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name, pc := range c.Providers {
		if pc != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
