package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coredatabase "github.com/danpetrov/pandorabot/core/database"
)

// VKConfig holds credentials and identifiers for the VK group callback API.
type VKConfig struct {
	Token        string `yaml:"token" envconfig:"VK_TOKEN"`
	GroupID      int64  `yaml:"group_id" envconfig:"VK_GROUP_ID"`
	Secret       string `yaml:"secret" envconfig:"VK_SECRET"`
	Confirmation string `yaml:"confirmation" envconfig:"VK_CONFIRMATION"`
	APIVersion   string `yaml:"api_version" envconfig:"VK_API_VERSION"`
	// Endpoint overrides the VK API base URL; used by tests.
	Endpoint string `yaml:"endpoint" envconfig:"VK_ENDPOINT"`
}

// TelegramConfig holds settings for the optional Telegram transport.
type TelegramConfig struct {
	Enabled                bool   `yaml:"enabled" envconfig:"TELEGRAM_ENABLED"`
	Token                  string `yaml:"token" envconfig:"TELEGRAM_BOT_TOKEN"`
	LongPollTimeoutSeconds int    `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// HTTPConfig specifies the webhook listener settings.
type HTTPConfig struct {
	Listen string `yaml:"listen" envconfig:"HTTP_LISTEN"`
	Port   int    `yaml:"port" envconfig:"HTTP_PORT"`
}

// RedisConfig holds connection settings for the conversation state store.
// An empty Addr selects the in-memory store.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// Duration accepts human friendly values such as "30s" or "24h" from both
// YAML and environment variables.
type Duration time.Duration

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// ConversationConfig tunes conversation lifecycle and media storage.
type ConversationConfig struct {
	// SessionTTL evicts abandoned conversations; zero selects the default.
	SessionTTL Duration `yaml:"session_ttl" envconfig:"CONVERSATION_SESSION_TTL"`
	MediaRoot  string   `yaml:"media_root" envconfig:"CONVERSATION_MEDIA_ROOT"`
}

// RecognitionConfig points at the downstream recognition service.
type RecognitionConfig struct {
	URL     string   `yaml:"url" envconfig:"RECOGNITION_URL"`
	Timeout Duration `yaml:"timeout" envconfig:"RECOGNITION_TIMEOUT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// DefaultSessionTTL bounds how long an abandoned conversation survives.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultAPIVersion is the VK API version the bot speaks.
	DefaultAPIVersion = "5.103"
)

// Config aggregates all application configuration.
type Config struct {
	VK           VKConfig            `yaml:"vk"`
	Telegram     TelegramConfig      `yaml:"telegram"`
	HTTP         HTTPConfig          `yaml:"http"`
	Redis        RedisConfig         `yaml:"redis"`
	Conversation ConversationConfig  `yaml:"conversation"`
	Database     coredatabase.Config `yaml:"database"`
	Recognition  RecognitionConfig   `yaml:"recognition"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.VK.Token) == "" {
		return fmt.Errorf("vk.token is required")
	}
	if cfg.VK.GroupID == 0 {
		return fmt.Errorf("vk.group_id is required")
	}
	if strings.TrimSpace(cfg.VK.Secret) == "" {
		return fmt.Errorf("vk.secret is required")
	}
	if strings.TrimSpace(cfg.VK.Confirmation) == "" {
		return fmt.Errorf("vk.confirmation is required")
	}
	if strings.TrimSpace(cfg.VK.APIVersion) == "" {
		cfg.VK.APIVersion = DefaultAPIVersion
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required when telegram.enabled is true")
		}
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	}

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = "0.0.0.0"
	}
	if cfg.HTTP.Port <= 0 {
		return fmt.Errorf("http.port must be > 0")
	}

	if cfg.Conversation.SessionTTL < 0 {
		return fmt.Errorf("conversation.session_ttl must be >= 0")
	}
	if cfg.Conversation.SessionTTL == 0 {
		cfg.Conversation.SessionTTL = Duration(DefaultSessionTTL)
	}
	if strings.TrimSpace(cfg.Conversation.MediaRoot) == "" {
		cfg.Conversation.MediaRoot = "media"
	}

	if cfg.Recognition.Timeout <= 0 {
		cfg.Recognition.Timeout = Duration(30 * time.Second)
	}

	return nil
}
