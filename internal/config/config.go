// Package config resolves process configuration from the environment and an
// optional TOML file. Nothing outside cmd/ reads the environment directly.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// maxQueueDelay is the longest per-message delay SQS supports.
const maxQueueDelay = 15 * time.Minute

// Keys, as environment variable names. The lowercase form is accepted in
// the config file.
const (
	KeyConfigFile       = "CONFIG_FILE"
	KeyStoreBackend     = "STORE_BACKEND"
	KeyStateTable       = "STATE_TABLE"
	KeyDynamoDBEndpoint = "DYNAMODB_ENDPOINT"
	KeySQLiteDSN        = "SQLITE_DSN"
	KeyCatalogDSN       = "CATALOG_DSN"
	KeyParamPrefix      = "PARAM_PREFIX"
	KeyAnswerProvider   = "ANSWER_PROVIDER"
	KeyAnswerBaseURL    = "ANSWER_BASE_URL"
	KeyAnswerModel      = "ANSWER_MODEL"
	KeyAnswerAPIKey     = "ANSWER_API_KEY"
	KeyAnswerMaxTokens  = "ANSWER_MAX_TOKENS"
	KeyAnswerTemp       = "ANSWER_TEMPERATURE"
	KeyAnswerTimeout    = "ANSWER_TIMEOUT"
	KeyEscalationDelay  = "ESCALATION_DELAY"
	KeyFollowUpTimeout  = "FOLLOWUP_TIMEOUT"
	KeyFollowUpQueueURL = "FOLLOWUP_QUEUE_URL"
	KeySQSEndpoint      = "SQS_ENDPOINT"
	KeyMaxMessageLength = "MAX_MESSAGE_LENGTH"
	KeyCurrencySymbol   = "CURRENCY_SYMBOL"
	KeySystemPrompt     = "SYSTEM_PROMPT"
	KeyLogLevel         = "LOG_LEVEL"
	KeyLogFile          = "LOG_FILE"
	KeyTelemetryEnabled = "TELEMETRY_ENABLED"
	KeyHTTPAddr         = "HTTP_ADDR"
	KeyRateLimitRPS     = "RATE_LIMIT_RPS"
)

var defaults = map[string]any{
	KeyStoreBackend:     BackendDynamoDB,
	KeySQLiteDSN:        "file:support.db?_busy_timeout=5000",
	KeyCatalogDSN:       "file:catalog.db?_busy_timeout=5000",
	KeyParamPrefix:      "/support-agent",
	KeyAnswerProvider:   ProviderOpenAI,
	KeyAnswerMaxTokens:  512,
	KeyAnswerTemp:       0.6,
	KeyAnswerTimeout:    "8s",
	KeyEscalationDelay:  "2s",
	KeyFollowUpTimeout:  "5s",
	KeyMaxMessageLength: 16000,
	KeyCurrencySymbol:   "₹",
	KeyLogLevel:         "info",
	KeyTelemetryEnabled: false,
	KeyHTTPAddr:         ":8080",
	KeyRateLimitRPS:     10.0,
}

type Answer struct {
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

type Config struct {
	StoreBackend     string
	StateTable       string
	DynamoDBEndpoint string
	SQLiteDSN        string
	CatalogDSN       string
	ParamPrefix      string

	Answer Answer

	EscalationDelay  time.Duration
	FollowUpTimeout  time.Duration
	// FollowUpQueueURL switches follow-ups from in-process timers to an SQS
	// delay queue.
	FollowUpQueueURL string
	SQSEndpoint      string
	MaxMessageLength int
	CurrencySymbol   string
	SystemPrompt     string

	LogLevel         slog.Level
	LogFile          string
	TelemetryEnabled bool

	HTTPAddr     string
	RateLimitRPS float64
}

// TokenParameter is the SSM parameter holding the answer-service credential
// when no key is configured directly.
func (c Config) TokenParameter() string {
	return c.ParamPrefix + "/answer-api-token"
}

// Load applies defaults, binds environment variables, reads CONFIG_FILE when
// set and validates the result. Values already bound on v (for example from
// command-line flags) take precedence over the environment.
func Load(v *viper.Viper) (Config, error) {
	v, err := prepare(v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		StoreBackend:     strings.ToLower(strings.TrimSpace(v.GetString(KeyStoreBackend))),
		StateTable:       strings.TrimSpace(v.GetString(KeyStateTable)),
		DynamoDBEndpoint: strings.TrimSpace(v.GetString(KeyDynamoDBEndpoint)),
		SQLiteDSN:        strings.TrimSpace(v.GetString(KeySQLiteDSN)),
		CatalogDSN:       strings.TrimSpace(v.GetString(KeyCatalogDSN)),
		ParamPrefix:      strings.TrimRight(strings.TrimSpace(v.GetString(KeyParamPrefix)), "/"),
		Answer: Answer{
			Provider:    strings.ToLower(strings.TrimSpace(v.GetString(KeyAnswerProvider))),
			BaseURL:     strings.TrimSpace(v.GetString(KeyAnswerBaseURL)),
			Model:       strings.TrimSpace(v.GetString(KeyAnswerModel)),
			APIKey:      strings.TrimSpace(v.GetString(KeyAnswerAPIKey)),
			MaxTokens:   v.GetInt64(KeyAnswerMaxTokens),
			Temperature: v.GetFloat64(KeyAnswerTemp),
			Timeout:     v.GetDuration(KeyAnswerTimeout),
		},
		EscalationDelay:  v.GetDuration(KeyEscalationDelay),
		FollowUpTimeout:  v.GetDuration(KeyFollowUpTimeout),
		FollowUpQueueURL: strings.TrimSpace(v.GetString(KeyFollowUpQueueURL)),
		SQSEndpoint:      strings.TrimSpace(v.GetString(KeySQSEndpoint)),
		MaxMessageLength: v.GetInt(KeyMaxMessageLength),
		CurrencySymbol:   v.GetString(KeyCurrencySymbol),
		SystemPrompt:     v.GetString(KeySystemPrompt),
		LogFile:          strings.TrimSpace(v.GetString(KeyLogFile)),
		TelemetryEnabled: v.GetBool(KeyTelemetryEnabled),
		HTTPAddr:         strings.TrimSpace(v.GetString(KeyHTTPAddr)),
		RateLimitRPS:     v.GetFloat64(KeyRateLimitRPS),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", KeyLogLevel, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Catalog is the subset of settings needed by catalog maintenance commands.
type Catalog struct {
	DSN            string
	CurrencySymbol string
}

// LoadCatalog resolves only the catalog settings, so it succeeds without a
// session store or answer provider being configured.
func LoadCatalog(v *viper.Viper) (Catalog, error) {
	v, err := prepare(v)
	if err != nil {
		return Catalog{}, err
	}
	c := Catalog{
		DSN:            strings.TrimSpace(v.GetString(KeyCatalogDSN)),
		CurrencySymbol: v.GetString(KeyCurrencySymbol),
	}
	if c.DSN == "" {
		return Catalog{}, fmt.Errorf("config: %s must not be empty", KeyCatalogDSN)
	}
	return c, nil
}

func prepare(v *viper.Viper) (*viper.Viper, error) {
	if v == nil {
		v = viper.New()
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString(KeyConfigFile)); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return v, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, fmt.Errorf("%s is required for the %s backend", KeyStateTable, BackendDynamoDB))
		}
	case BackendSQLite:
		if c.SQLiteDSN == "" {
			errs = append(errs, fmt.Errorf("%s is required for the %s backend", KeySQLiteDSN, BackendSQLite))
		}
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", KeyStoreBackend, BackendDynamoDB, BackendSQLite, c.StoreBackend))
	}
	if c.CatalogDSN == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyCatalogDSN))
	}
	switch c.Answer.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", KeyAnswerProvider, ProviderOpenAI, ProviderAnthropic, c.Answer.Provider))
	}
	if c.Answer.APIKey == "" && c.ParamPrefix == "" {
		errs = append(errs, fmt.Errorf("%s or %s is required", KeyAnswerAPIKey, KeyParamPrefix))
	}
	if c.Answer.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyAnswerMaxTokens))
	}
	if c.Answer.Temperature < 0 || c.Answer.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%s must be within [0, 2]", KeyAnswerTemp))
	}
	if c.Answer.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyAnswerTimeout))
	}
	if c.EscalationDelay < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyEscalationDelay))
	}
	if c.FollowUpQueueURL != "" && c.EscalationDelay > maxQueueDelay {
		errs = append(errs, fmt.Errorf("%s must be at most %s when %s is set", KeyEscalationDelay, maxQueueDelay, KeyFollowUpQueueURL))
	}
	if c.FollowUpTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyFollowUpTimeout))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxMessageLength))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyRateLimitRPS))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
