package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"PaperSieve/internal/relevance"
)

const (
	defaultTimezone = "UTC"

	configPathEnv     = "PAPERSIEVE_CONFIG"
	llmAPIKeyEnv      = "LLM_API_KEY"
	llmProviderEnv    = "LLM_PROVIDER"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDriverEnv = "DATABASE_DRIVER"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	emailUsernameEnv  = "EMAIL_USERNAME"
	emailPasswordEnv  = "EMAIL_PASSWORD"
	logLevelEnv       = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Filter        FilterConfig       `yaml:"filter"`
	Storage       StorageConfig      `yaml:"storage"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Notifications NotificationConfig `yaml:"notifications"`
	Sites         []SiteConfig       `yaml:"sites"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables a rotating log file next to stderr output.
	File string `yaml:"file"`
}

// FilterConfig drives classifier selection and the cascade.
type FilterConfig struct {
	Provider string   `yaml:"provider"`
	APIKey   string   `yaml:"apiKey"`
	BaseURL  string   `yaml:"baseUrl"`
	Model    string   `yaml:"model"`
	Keywords []string `yaml:"keywords"`

	FullThreshold   float64 `yaml:"fullThreshold"`
	TitleThreshold  float64 `yaml:"titleThreshold"`
	CoarseThreshold float64 `yaml:"coarseThreshold"`
	CoarseEnabled   bool    `yaml:"coarseEnabled"`

	BatchSize         int           `yaml:"batchSize"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerMinute float64       `yaml:"requestsPerMinute"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryAttempts     int           `yaml:"retryAttempts"`
	RetryDelay        time.Duration `yaml:"retryDelay"`
	MemoTTL           time.Duration `yaml:"memoTtl"`

	Booster BoosterConfig `yaml:"booster"`
}

// BoosterConfig lists labs and authors the classifier should favour.
type BoosterConfig struct {
	Labs    []string `yaml:"labs"`
	Authors []string `yaml:"authors"`
	Bonus   float64  `yaml:"bonus"`
}

// Thresholds exposes the cascade thresholds as a relevance value.
func (f FilterConfig) Thresholds() relevance.Thresholds {
	return relevance.Thresholds{
		Coarse:        f.CoarseThreshold,
		Title:         f.TitleThreshold,
		Full:          f.FullThreshold,
		CoarseEnabled: f.CoarseEnabled,
	}
}

// StorageConfig selects the relevance cache engine.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Capacity bounds the number of cached papers; 0 means unbounded.
	Capacity int `yaml:"capacity"`
}

// SchedulerConfig defines when the pipeline should run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// PipelineConfig tunes a single run.
type PipelineConfig struct {
	Days     int  `yaml:"days"`
	SkipSeen bool `yaml:"skipSeen"`
	DryRun   bool `yaml:"dryRun"`

	FetchAttempts   int           `yaml:"fetchAttempts"`
	FetchRetryDelay time.Duration `yaml:"fetchRetryDelay"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	APIBase  string `yaml:"apiBase"`
}

// Enabled reports whether both token and chat are set.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// EmailConfig describes the SMTP digest channel.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Enabled reports whether a digest can be delivered.
func (e EmailConfig) Enabled() bool {
	return e.Host != "" && len(e.To) > 0
}

// SiteConfig describes a single site with its scanner strategy.
type SiteConfig struct {
	Name       string            `yaml:"name"`
	Scanner    string            `yaml:"scanner"`
	Categories []CategoryConfig  `yaml:"categories"`
	Options    map[string]string `yaml:"options"`
}

// CategoryConfig holds the concrete endpoints to crawl (e.g., arXiv category URLs).
type CategoryConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads the file named by PAPERSIEVE_CONFIG (if any), then .env and
// environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile is Load with an explicit YAML path. An empty path means defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, eris.Wrapf(err, "config: read %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, eris.Wrapf(err, "config: parse %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, eris.Wrap(err, "config: load .env")
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.normalize()

	if len(cfg.Sites) == 0 {
		cfg.Sites = Default().Sites
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings no component can work with.
func (c Config) Validate() error {
	t := c.Filter.Thresholds()
	for name, v := range map[string]float64{"full": t.Full, "title": t.Title, "coarse": t.Coarse} {
		if v < 0 || v > 1 {
			return eris.Errorf("config: %s threshold %.2f outside [0,1]", name, v)
		}
	}
	if c.Storage.Capacity < 0 {
		return eris.Errorf("config: negative storage capacity %d", c.Storage.Capacity)
	}
	switch c.Storage.Driver {
	case "sqlite", "pgx":
	default:
		return eris.Errorf("config: unsupported storage driver %q", c.Storage.Driver)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.Filter.APIKey = v
	}

	if v := os.Getenv(llmProviderEnv); v != "" {
		c.Filter.Provider = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Storage.DSN = v
	}

	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Storage.Driver = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(emailUsernameEnv); v != "" {
		c.Notifications.Email.Username = v
	}

	if v := os.Getenv(emailPasswordEnv); v != "" {
		c.Notifications.Email.Password = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation(defaultTimezone)
		c.Scheduler.Timezone = defaultTimezone
	}
	c.Scheduler.location = loc
}

func (c *Config) normalize() {
	c.Filter.Provider = strings.ToLower(strings.TrimSpace(c.Filter.Provider))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "postgres" {
		c.Storage.Driver = "pgx"
	}

	keywords := c.Filter.Keywords[:0:0]
	for _, kw := range c.Filter.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	c.Filter.Keywords = keywords

	if c.Pipeline.Days <= 0 {
		c.Pipeline.Days = 2
	}
	if c.Notifications.Email.Port == 0 {
		c.Notifications.Email.Port = 587
	}
	if c.Notifications.Email.From == "" {
		c.Notifications.Email.From = c.Notifications.Email.Username
	}
}

// String renders the config with secrets masked, for debug logging.
func (c Config) String() string {
	masked := c
	masked.Filter.APIKey = mask(c.Filter.APIKey)
	masked.Notifications.Telegram.BotToken = mask(c.Notifications.Telegram.BotToken)
	masked.Notifications.Email.Password = mask(c.Notifications.Email.Password)
	out, err := yaml.Marshal(masked)
	if err != nil {
		return "config: " + err.Error()
	}
	return string(out)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***(" + strconv.Itoa(len(secret)) + ")"
}

// Default returns the built-in configuration.
func Default() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Filter: FilterConfig{
			FullThreshold:   relevance.DefaultFullThreshold,
			TitleThreshold:  relevance.DefaultTitleThreshold,
			CoarseThreshold: relevance.DefaultCoarseThreshold,
			CoarseEnabled:   true,
			Concurrency:     1,
			RetryAttempts:   3,
			RetryDelay:      2 * time.Second,
			MemoTTL:         24 * time.Hour,
			Timeout:         60 * time.Second,
		},
		Storage:   StorageConfig{Driver: "sqlite", DSN: "papers.db"},
		Scheduler: SchedulerConfig{CronExpression: "0 6 * * *", Timezone: defaultTimezone, location: tz},
		Pipeline: PipelineConfig{
			Days:            2,
			SkipSeen:        true,
			FetchAttempts:   3,
			FetchRetryDelay: 2 * time.Second,
		},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{APIBase: "https://api.telegram.org"},
			Email:    EmailConfig{Port: 587},
		},
		Sites: []SiteConfig{
			{
				Name:    "arxiv-default",
				Scanner: "arxiv",
				Categories: []CategoryConfig{
					{Name: "cs.AI", URL: "https://export.arxiv.org/list/cs.AI/pastweek"},
					{Name: "cs.LG", URL: "https://export.arxiv.org/list/cs.LG/pastweek"},
				},
			},
		},
	}
}
