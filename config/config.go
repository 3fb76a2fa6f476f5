// Package config loads sentinel's runtime configuration from YAML, .env files
// and the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sentinelqa/actor"
	"sentinelqa/browser"
	"sentinelqa/completion"
	"sentinelqa/errcode"
	"sentinelqa/llm"
	"sentinelqa/target"
)

const DefaultPath = "sentinel.yaml"

type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Session    SessionConfig    `yaml:"session"`
	Decision   DecisionConfig   `yaml:"decision"`
	Completion CompletionConfig `yaml:"completion"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Store      StoreConfig      `yaml:"store"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type BrowserConfig struct {
	Headful       bool          `yaml:"headful"`
	ExecPath      string        `yaml:"exec_path"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
	NavTimeout    time.Duration `yaml:"nav_timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	WindowWidth   int           `yaml:"window_width"`
	WindowHeight  int           `yaml:"window_height"`
}

type SessionConfig struct {
	MaxNumSteps        int           `yaml:"max_steps"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxDecisionRetries int           `yaml:"max_decision_retries"`
	StepDelay          time.Duration `yaml:"step_delay"`
	Concurrency        int           `yaml:"concurrency"`
}

type DecisionConfig struct {
	Strategy          string `yaml:"strategy"`
	Model             string `yaml:"model"`
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxDigestTokens   int    `yaml:"max_digest_tokens"`
	HistoryLength     int    `yaml:"history_length"`
}

type CompletionConfig struct {
	SuccessPhrases []string `yaml:"success_phrases"`
	ExpectedURLs   []string `yaml:"expected_urls"`
}

type ResolverConfig struct {
	TestIDAttributes     []string `yaml:"test_id_attributes"`
	UtilityClassPatterns []string `yaml:"utility_class_patterns"`
}

type RecorderConfig struct {
	DBPath      string        `yaml:"db_path"`
	Addr        string        `yaml:"addr"`
	NATSURL     string        `yaml:"nats_url"`
	NATSSubject string        `yaml:"nats_subject"`
	Debounce    time.Duration `yaml:"debounce"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func DefaultConfig() Config {
	return Config{
		Browser: BrowserConfig{
			ActionTimeout: browser.DefaultActionTimeout,
			NavTimeout:    browser.DefaultNavTimeout,
			SettleDelay:   browser.DefaultSettleDelay,
			WindowWidth:   browser.DefaultWindowWidth,
			WindowHeight:  browser.DefaultWindowHeight,
		},
		Session: SessionConfig{
			MaxNumSteps:        completion.DefaultMaxNumSteps,
			Timeout:            completion.DefaultTimeout,
			MaxDecisionRetries: 2,
			Concurrency:        2,
		},
		Decision: DecisionConfig{
			Strategy:          string(actor.DefaultActorStrategyID),
			Model:             string(llm.DefaultChatModelID),
			RequestsPerMinute: llm.DefaultRequestsPerMinute,
		},
		Recorder: RecorderConfig{
			DBPath:      ".sentinel/recordings.db",
			Addr:        "127.0.0.1:8765",
			NATSSubject: "sentinel.recordings",
			Debounce:    100 * time.Millisecond,
		},
		Store: StoreConfig{
			Path: ".sentinel/runs.db",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// LoadConfig reads the YAML file at path on top of the defaults, then
// applies .env files and environment overrides. A missing file is not an
// error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	// a missing .env is the common case
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, errcode.Wrap(err, errcode.ConfigInvalid, fmt.Sprintf("read config %s", path))
	} else if err == nil {
		interpolated := interpolateEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
			return cfg, errcode.Wrap(err, errcode.ConfigInvalid, fmt.Sprintf("parse config %s", path))
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Decision.APIKey = envOrDefault("OPENAI_API_KEY", c.Decision.APIKey)
	c.Decision.Model = envOrDefault("SENTINEL_MODEL", c.Decision.Model)
	c.Decision.Strategy = envOrDefault("SENTINEL_STRATEGY", c.Decision.Strategy)
	c.Decision.BaseURL = envOrDefault("SENTINEL_OPENAI_BASE_URL", c.Decision.BaseURL)
	c.Browser.Headful = boolOrDefault("SENTINEL_HEADFUL", c.Browser.Headful)
	c.Browser.ExecPath = envOrDefault("SENTINEL_CHROME_PATH", c.Browser.ExecPath)
	c.Session.MaxNumSteps = intOrDefault("SENTINEL_MAX_STEPS", c.Session.MaxNumSteps)
	c.Session.Timeout = durationOrDefault("SENTINEL_TIMEOUT", c.Session.Timeout)
	c.Session.Concurrency = intOrDefault("SENTINEL_CONCURRENCY", c.Session.Concurrency)
	c.Store.Path = envOrDefault("SENTINEL_STORE_PATH", c.Store.Path)
	c.Recorder.DBPath = envOrDefault("SENTINEL_RECORDER_DB", c.Recorder.DBPath)
	c.Recorder.Addr = envOrDefault("SENTINEL_RECORDER_ADDR", c.Recorder.Addr)
	c.Recorder.NATSURL = envOrDefault("SENTINEL_NATS_URL", c.Recorder.NATSURL)
	c.Metrics.Enabled = boolOrDefault("SENTINEL_METRICS", c.Metrics.Enabled)
	c.Metrics.Addr = envOrDefault("SENTINEL_METRICS_ADDR", c.Metrics.Addr)
}

// Validate reports the first unusable setting as CONFIG_INVALID.
func (c Config) Validate() error {
	if c.Session.MaxNumSteps <= 0 {
		return errcode.Newf(errcode.ConfigInvalid, "session.max_steps must be positive, got %d", c.Session.MaxNumSteps)
	} else if c.Session.Timeout <= 0 {
		return errcode.Newf(errcode.ConfigInvalid, "session.timeout must be positive, got %s", c.Session.Timeout)
	} else if c.Session.Concurrency <= 0 {
		return errcode.Newf(errcode.ConfigInvalid, "session.concurrency must be positive, got %d", c.Session.Concurrency)
	} else if c.Session.MaxDecisionRetries < 0 {
		return errcode.Newf(errcode.ConfigInvalid, "session.max_decision_retries cannot be negative")
	}
	switch actor.ActorStrategyID(c.Decision.Strategy) {
	case actor.ActorStrategyIDLLM, actor.ActorStrategyIDReplay:
	default:
		return errcode.Newf(errcode.ConfigInvalid, "unknown decision.strategy %q", c.Decision.Strategy)
	}
	if !llm.KnownChatModel(llm.ChatModelID(c.Decision.Model)) {
		return errcode.Newf(errcode.ConfigInvalid, "unknown decision.model %q", c.Decision.Model)
	}
	if c.Decision.RequestsPerMinute < 0 {
		return errcode.Newf(errcode.ConfigInvalid, "decision.requests_per_minute cannot be negative")
	}
	if c.Recorder.Debounce < 0 {
		return errcode.Newf(errcode.ConfigInvalid, "recorder.debounce cannot be negative")
	}
	for _, p := range c.Completion.SuccessPhrases {
		if strings.TrimSpace(p) == "" {
			return errcode.New(errcode.ConfigInvalid, "completion.success_phrases cannot contain blank phrases")
		}
	}
	return nil
}

// RequireAPIKey is checked only by commands that call the model.
func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.Decision.APIKey) == "" {
		return errcode.New(errcode.ConfigInvalid, "OPENAI_API_KEY is not set")
	}
	return nil
}

func (c Config) BrowserOptions(logger *zap.Logger) *browser.Options {
	return &browser.Options{
		Headful:                           c.Browser.Headful,
		AttemptToDisableAutomationMessage: true,
		ActionTimeout:                     c.Browser.ActionTimeout,
		NavTimeout:                        c.Browser.NavTimeout,
		SettleDelay:                       c.Browser.SettleDelay,
		WindowWidth:                       c.Browser.WindowWidth,
		WindowHeight:                      c.Browser.WindowHeight,
		ExecPath:                          c.Browser.ExecPath,
		Logger:                            logger,
	}
}

func (c Config) ResolverOptions() *target.Options {
	return &target.Options{
		TestIDAttributes:     c.Resolver.TestIDAttributes,
		UtilityClassPatterns: c.Resolver.UtilityClassPatterns,
	}
}

func (c Config) CompletionOptions() *completion.Options {
	return &completion.Options{
		SuccessPhrases: c.Completion.SuccessPhrases,
		ExpectedURLs:   c.Completion.ExpectedURLs,
		MaxNumSteps:    c.Session.MaxNumSteps,
		Timeout:        c.Session.Timeout,
	}
}

func (c Config) OpenAIOptions() *llm.OpenAIOptions {
	return &llm.OpenAIOptions{
		BaseURL:           c.Decision.BaseURL,
		RequestsPerMinute: c.Decision.RequestsPerMinute,
	}
}

// envVarPattern matches ${VAR_NAME}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func boolOrDefault(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
