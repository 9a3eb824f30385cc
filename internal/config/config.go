package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const defaultSynthesisTimeoutSeconds = 45

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	DBDriver    string `yaml:"db_driver"`
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`

	DefaultTargetVerdictCount int    `yaml:"default_target_verdict_count"`
	DefaultCreditsToCharge    int    `yaml:"default_credits_to_charge"`
	DefaultRequestTier        string `yaml:"default_request_tier"`
	DefaultTone               string `yaml:"default_tone"`

	LLMProvider             string `yaml:"llm_provider"`
	LLMModel                string `yaml:"llm_model"`
	AnthropicAPIKey         string `yaml:"anthropic_api_key"`
	OpenAIAPIKey            string `yaml:"openai_api_key"`
	GeminiAPIKey            string `yaml:"gemini_api_key"`
	SynthesisTimeoutSeconds int    `yaml:"synthesis_timeout_seconds"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	ReconcileSchedule string `yaml:"reconcile_schedule"`
	JWTSecret         string `yaml:"jwt_secret"`
	LogLevel          string `yaml:"log_level"`
}

// Load reads config.yaml (or CONFIG_PATH), applies environment overrides,
// fills defaults and validates. A missing file is not an error; every
// setting can come from the environment.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading %s: %w", configPath, err)
	}

	var errs []error
	envOverride(&cfg.DBDriver, "DB_DRIVER")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.DatabaseURL, "DATABASE_URL")
	errs = append(errs,
		envOverrideInt(&cfg.DefaultTargetVerdictCount, "DEFAULT_TARGET_VERDICT_COUNT"),
		envOverrideInt(&cfg.DefaultCreditsToCharge, "DEFAULT_CREDITS_TO_CHARGE"),
	)
	envOverride(&cfg.DefaultRequestTier, "DEFAULT_REQUEST_TIER")
	envOverride(&cfg.DefaultTone, "DEFAULT_TONE")
	envOverrideAllowEmpty(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	errs = append(errs,
		envOverrideInt(&cfg.SynthesisTimeoutSeconds, "SYNTHESIS_TIMEOUT_SECONDS"),
		envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"),
	)
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.ReconcileSchedule, "RECONCILE_SCHEDULE")
	envOverride(&cfg.JWTSecret, "JWT_SECRET")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if cfg.DBDriver == "" {
		cfg.DBDriver = DriverSQLite
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./verdict.db"
	}
	if cfg.DefaultTargetVerdictCount == 0 {
		cfg.DefaultTargetVerdictCount = 3
	}
	if cfg.DefaultCreditsToCharge == 0 {
		cfg.DefaultCreditsToCharge = 1
	}
	if cfg.DefaultRequestTier == "" {
		cfg.DefaultRequestTier = "community"
	}
	if cfg.DefaultTone == "" {
		cfg.DefaultTone = "honest"
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMModel == "" {
		cfg.LLMModel = defaultModel(cfg.LLMProvider)
	}
	if cfg.SynthesisTimeoutSeconds == 0 {
		cfg.SynthesisTimeoutSeconds = defaultSynthesisTimeoutSeconds
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.ReconcileSchedule == "" {
		cfg.ReconcileSchedule = "*/15 * * * *"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when db_driver=postgres")
		}
	default:
		return fmt.Errorf("db_driver must be '%s' or '%s', got '%s'", DriverSQLite, DriverPostgres, c.DBDriver)
	}

	switch c.LLMProvider {
	case "":
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("gemini_api_key is required when llm_provider=gemini")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic', 'openai', 'gemini' or empty, got '%s'", c.LLMProvider)
	}

	if c.DefaultTargetVerdictCount < 1 {
		return fmt.Errorf("invalid default_target_verdict_count '%d': must be >= 1", c.DefaultTargetVerdictCount)
	}
	if c.DefaultCreditsToCharge < 1 {
		return fmt.Errorf("invalid default_credits_to_charge '%d': must be >= 1", c.DefaultCreditsToCharge)
	}
	switch c.DefaultRequestTier {
	case "community", "standard", "pro":
	default:
		return fmt.Errorf("invalid default_request_tier '%s'", c.DefaultRequestTier)
	}
	switch c.DefaultTone {
	case "encouraging", "honest", "brutally_honest":
	default:
		return fmt.Errorf("invalid default_tone '%s'", c.DefaultTone)
	}
	if c.SynthesisTimeoutSeconds < 1 {
		return fmt.Errorf("invalid synthesis_timeout_seconds '%d': must be >= 1", c.SynthesisTimeoutSeconds)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if (c.SlackBotToken == "") != (c.SlackChannelID == "") {
		return fmt.Errorf("slack_bot_token and slack_channel_id must be set together")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(c.ReconcileSchedule); err != nil {
		return fmt.Errorf("invalid reconcile_schedule '%s': %w", c.ReconcileSchedule, err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level '%s'", c.LogLevel)
	}
	return nil
}

// DSN is the data source name for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == DriverPostgres {
		return c.DatabaseURL
	}
	return c.DBPath
}

func (c Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.SynthesisTimeoutSeconds) * time.Second
}

func (c Config) SynthesisConfigured() bool {
	return c.LLMProvider != ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openai":
		return "gpt-4o"
	case "gemini":
		return "gemini-2.5-flash"
	}
	return ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
