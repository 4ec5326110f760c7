// Package config provides environment configuration for chatdesk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	// Backend settings
	BackendURL     string        `yaml:"backend_url"`
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	// Control API settings
	ServerPort         string        `yaml:"server_port"`
	ServerReadTimeout  time.Duration `yaml:"server_read_timeout"`
	ServerWriteTimeout time.Duration `yaml:"server_write_timeout"`
	CORSOrigins        []string      `yaml:"cors_origins"`

	// Conversation settings
	HistoryPageSize      int           `yaml:"history_page_size"`
	TitlePageSize        int           `yaml:"title_page_size"`
	ConversationPageSize int           `yaml:"conversation_page_size"`
	DefaultTitle         string        `yaml:"default_title"`
	ErrorMessagePrefix   string        `yaml:"error_message_prefix"`
	EnvelopeStart        string        `yaml:"envelope_start"`
	EnvelopeEnd          string        `yaml:"envelope_end"`
	ReconcileEnabled     bool          `yaml:"reconcile_enabled"`
	ReconcileDelay       time.Duration `yaml:"reconcile_delay"`

	// Scroll policy
	ScrollNearBottom  int           `yaml:"scroll_near_bottom"`
	ScrollTopTrigger  int           `yaml:"scroll_top_trigger"`
	ScrollIdleTimeout time.Duration `yaml:"scroll_idle_timeout"`
	ScrollCooldown    time.Duration `yaml:"scroll_cooldown"`

	// NATS settings
	NATSEnabled  bool   `yaml:"nats_enabled"`
	NATSURL      string `yaml:"nats_url"`
	NATSCAFile   string `yaml:"nats_ca_file"`
	NATSCertFile string `yaml:"nats_cert_file"`
	NATSKeyFile  string `yaml:"nats_key_file"`
	NATSToken    string `yaml:"nats_token"`

	// Title generation
	TitleProvider   string `yaml:"title_provider"`
	TitleModel      string `yaml:"title_model"`
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`

	// Stories
	StoryGUID string `yaml:"story_guid"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Backend
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8080"),
		BackendTimeout: getDurationEnv("BACKEND_TIMEOUT", 30*time.Second),

		// Control API
		ServerPort:         getEnv("PORT", "8090"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		CORSOrigins:        getListEnv("CORS_ORIGINS"),

		// Conversations
		HistoryPageSize:      getIntEnv("HISTORY_PAGE_SIZE", 10),
		TitlePageSize:        getIntEnv("TITLE_PAGE_SIZE", 100),
		ConversationPageSize: getIntEnv("CONVERSATION_PAGE_SIZE", 50),
		DefaultTitle:         getEnv("DEFAULT_TITLE", "新对话"),
		ErrorMessagePrefix:   getEnv("ERROR_MESSAGE_PREFIX", "抱歉，发生了错误："),
		EnvelopeStart:        getEnv("ENVELOPE_START", "<GRANDMA_METADATA>"),
		EnvelopeEnd:          getEnv("ENVELOPE_END", "</GRANDMA_METADATA>"),
		ReconcileEnabled:     getBoolEnv("RECONCILE_ENABLED", true),
		ReconcileDelay:       getDurationEnv("RECONCILE_DELAY", time.Second),

		// Scroll policy
		ScrollNearBottom:  getIntEnv("SCROLL_NEAR_BOTTOM", 3),
		ScrollTopTrigger:  getIntEnv("SCROLL_TOP_TRIGGER", 1),
		ScrollIdleTimeout: getDurationEnv("SCROLL_IDLE_TIMEOUT", 1500*time.Millisecond),
		ScrollCooldown:    getDurationEnv("SCROLL_COOLDOWN", 500*time.Millisecond),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Title generation
		TitleProvider:   getEnv("TITLE_PROVIDER", "server"),
		TitleModel:      getEnv("TITLE_MODEL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

		// Stories
		StoryGUID: getEnv("STORY_GUID", "local"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// LoadFile reads configuration from the environment and overlays the YAML
// file at path. Keys absent from the file keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would break the controller.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url is required")
	}
	if c.HistoryPageSize <= 0 || c.TitlePageSize <= 0 || c.ConversationPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}
	if c.EnvelopeStart == "" || c.EnvelopeEnd == "" {
		return fmt.Errorf("envelope markers must not be empty")
	}
	if c.ReconcileDelay < 0 {
		return fmt.Errorf("reconcile_delay must not be negative")
	}
	switch c.TitleProvider {
	case "server", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown title_provider %q", c.TitleProvider)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
