package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Detection
	StartValue      int64  `env:"START_VALUE" default:"0"`
	MHURL           string `env:"MH_URL"`
	RefreshRate     int    `env:"REFRESH_RATE" default:"5"` // seconds
	SprintThreshold int64  `env:"SPRINT_THRESHOLD" default:"200"`

	ScrapeDisabled        bool          `env:"SCRAPE_DISABLED" default:"false"`
	ScrapeAmountSelector  string        `env:"SCRAPE_AMOUNT_SELECTOR" default:".entry-amount-module--amount--5ecff"`
	ScrapeSpinnerSelector string        `env:"SCRAPE_SPINNER_SELECTOR" default:".entry-amount-module--spinnerWrapper--70e75"`
	ScrapeLoadWait        time.Duration `env:"SCRAPE_LOAD_WAIT" default:"30s"`
	ScrapeRetryInterval   time.Duration `env:"SCRAPE_RETRY_INTERVAL" default:"1s"`
	ScrapeTimeout         time.Duration `env:"SCRAPE_TIMEOUT" default:"30s"`
	ScrapeUserAgent       string        `env:"SCRAPE_USER_AGENT" default:"musikhjaelpen-alert/1.0"`

	// Persistence
	StateBackend string `env:"STATE_BACKEND" default:"file"`
	StateFile    string `env:"STATE_FILE" default:"current_value.txt"`

	// Distribution
	HubQueueCapacity      int           `env:"HUB_QUEUE_CAPACITY" default:"16"`
	AdapterAttemptTimeout time.Duration `env:"ADAPTER_ATTEMPT_TIMEOUT" default:"30s"`

	// Chat bridge
	TwitchEnabled bool   `env:"TWITCH_ENABLED" default:"false"`
	TwitchNick    string `env:"TWITCH_NICK"`
	TwitchOAuth   string `env:"TWITCH_OAUTH"`
	TwitchChannel string `env:"TWITCH_CHANNEL"`
	TwitchTLS     bool   `env:"TWITCH_TLS" default:"false"`
	TwitchHost    string `env:"TWITCH_HOST" default:"irc.chat.twitch.tv"`
	TwitchPort    int    `env:"TWITCH_PORT" default:"0"`

	// Lighting
	HueEnabled     bool   `env:"HUE_ENABLED" default:"false"`
	HueBridgeIP    string `env:"HUE_BRIDGE_IP"`
	HueAppKey      string `env:"HUE_APPKEY"`
	HueInsecureTLS bool   `env:"HUE_INSECURE_TLS" default:"true"`
	HueGroupID     string `env:"HUE_GROUP_ID" default:"1"`
	HueEffectsFile string `env:"HUE_EFFECTS_FILE"`

	// Overlay
	PathToGIF              string        `env:"PATH_TO_GIF"`
	OverlayDisplayDuration time.Duration `env:"OVERLAY_DISPLAY_DURATION" default:"10s"`

	// Inbound trigger
	TriggerToken        string  `env:"TRIGGER_TOKEN"`
	TriggerRateLimit    float64 `env:"TRIGGER_RATE_LIMIT" default:"1"`
	TriggerBurst        int     `env:"TRIGGER_BURST" default:"5"`
	TriggerSignalAmount int64   `env:"TRIGGER_SIGNAL_AMOUNT" default:"1"` // bodyless POST /donation without scraping

	// Optional stores
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RefreshInterval is the polling period of the donation page.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshRate) * time.Second
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	required := map[string]string{}
	if !cfg.ScrapeDisabled {
		required["MH_URL"] = cfg.MHURL
	}
	if cfg.TwitchEnabled {
		required["TWITCH_NICK"] = cfg.TwitchNick
		required["TWITCH_OAUTH"] = cfg.TwitchOAuth
		required["TWITCH_CHANNEL"] = cfg.TwitchChannel
	}
	if cfg.HueEnabled {
		required["HUE_BRIDGE_IP"] = cfg.HueBridgeIP
		required["HUE_APPKEY"] = cfg.HueAppKey
	}
	if cfg.StateBackend == "redis" {
		required["REDIS_URL"] = cfg.RedisURL
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if !cfg.ScrapeDisabled {
		if u, err := url.Parse(cfg.MHURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("MH_URL must be an absolute URL, got %q", cfg.MHURL)
		}
	}
	if cfg.RefreshRate <= 0 {
		return errors.New("REFRESH_RATE must be a positive number of seconds")
	}
	if cfg.SprintThreshold <= 0 {
		return errors.New("SPRINT_THRESHOLD must be positive")
	}
	if cfg.StartValue < 0 {
		return errors.New("START_VALUE must not be negative")
	}
	if cfg.TriggerSignalAmount <= 0 {
		return errors.New("TRIGGER_SIGNAL_AMOUNT must be positive")
	}
	if cfg.HubQueueCapacity <= 0 {
		return errors.New("HUB_QUEUE_CAPACITY must be positive")
	}
	if cfg.AdapterAttemptTimeout <= 0 {
		return errors.New("ADAPTER_ATTEMPT_TIMEOUT must be positive")
	}
	if cfg.TwitchPort < 0 || cfg.TwitchPort > 65535 {
		return fmt.Errorf("TWITCH_PORT out of range: %d", cfg.TwitchPort)
	}

	switch cfg.StateBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("STATE_BACKEND must be file or redis, got %q", cfg.StateBackend)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return nil
}
