package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone  = "UTC"
	configPathEnv    = "CRM_SPYDER_CONFIG"
	databaseDSNEnv   = "DATABASE_DSN"
	ocrAPIKeyEnv     = "OCR_API_KEY"
	chatGPTAPIKeyEnv = "CHATGPT_API_KEY"
	chatGPTModelEnv  = "CHATGPT_MODEL"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	telegramChatEnv  = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Portal    PortalConfig    `yaml:"portal"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Storage   StorageConfig   `yaml:"storage"`
	Roster    RosterConfig    `yaml:"roster"`
	Taxonomy  []TaxonomyEntry `yaml:"taxonomy"`
	OCR       OCRConfig       `yaml:"ocr"`
	ChatGPT   ChatGPTConfig   `yaml:"chatgpt"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// LoggingConfig controls the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// PortalConfig describes the procurement portal endpoints and the
// browser mode used to drive it.
type PortalConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	SearchURL string `yaml:"searchUrl"`
	DetailURL string `yaml:"detailUrl"`
	Headless  bool   `yaml:"headless"`
}

// CrawlConfig bundles the politeness and retry budgets. All bounds are
// externally supplied, not hardcoded behavior.
type CrawlConfig struct {
	LookbackDays    int  `yaml:"lookbackDays"`
	MaxPages        int  `yaml:"maxPages"`
	MinDelaySeconds int  `yaml:"minDelaySeconds"`
	CaptchaAttempts int  `yaml:"captchaAttempts"`
	PageRetries     int  `yaml:"pageRetries"`
	NetworkRetries  int  `yaml:"networkRetries"`
	Workers         int  `yaml:"workers"`
	FetchDetails    bool `yaml:"fetchDetails"`
}

// MinDelay is the enforced pause between page fetches.
func (c CrawlConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelaySeconds) * time.Second
}

// StorageConfig describes where batches, checkpoints, and the optional
// Postgres archive live.
type StorageConfig struct {
	OutputDir     string `yaml:"outputDir"`
	CheckpointDir string `yaml:"checkpointDir"`
	FlushEvery    int    `yaml:"flushEvery"`
	DatabaseDSN   string `yaml:"databaseDsn"`
}

// RosterConfig points at the customer master dataset.
type RosterConfig struct {
	MasterPath string `yaml:"masterPath"`
}

// TaxonomyEntry is one ordered category with its trigger keywords.
type TaxonomyEntry struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// OCRConfig defines the captcha recognition service.
type OCRConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
}

// ChatGPTConfig defines the optional enrichment collaborator.
type ChatGPTConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// TelegramConfig wires the optional run-summary notifier.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// SchedulerConfig defines the optional cron wrapper. An empty expression
// means run once and exit.
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

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Taxonomy) == 0 {
		cfg.Taxonomy = defaultConfig().Taxonomy
	}

	return cfg
}

// Validate rejects configurations that must fail at startup, before any
// network activity.
func (c Config) Validate() error {
	if c.Roster.MasterPath == "" {
		return fmt.Errorf("roster master path is required")
	}
	if _, err := os.Stat(c.Roster.MasterPath); err != nil {
		return fmt.Errorf("roster master dataset: %w", err)
	}
	if c.Crawl.LookbackDays <= 0 {
		return fmt.Errorf("lookbackDays must be positive, got %d", c.Crawl.LookbackDays)
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("maxPages must be positive, got %d", c.Crawl.MaxPages)
	}
	if c.Crawl.CaptchaAttempts <= 0 {
		return fmt.Errorf("captchaAttempts must be positive, got %d", c.Crawl.CaptchaAttempts)
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Crawl.Workers)
	}
	if len(c.Taxonomy) == 0 {
		return fmt.Errorf("taxonomy must define at least one category")
	}
	if c.Portal.SearchURL == "" {
		return fmt.Errorf("portal search URL is required")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Storage.DatabaseDSN = v
	}

	if v := os.Getenv(ocrAPIKeyEnv); v != "" {
		c.OCR.APIKey = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatEnv); v != "" {
		c.Telegram.ChatID = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}

	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Portal.BaseURL != "" {
		base.Portal.BaseURL = override.Portal.BaseURL
	}
	if override.Portal.SearchURL != "" {
		base.Portal.SearchURL = override.Portal.SearchURL
	}
	if override.Portal.DetailURL != "" {
		base.Portal.DetailURL = override.Portal.DetailURL
	}
	base.Portal.Headless = base.Portal.Headless || override.Portal.Headless

	if override.Crawl.LookbackDays > 0 {
		base.Crawl.LookbackDays = override.Crawl.LookbackDays
	}
	if override.Crawl.MaxPages > 0 {
		base.Crawl.MaxPages = override.Crawl.MaxPages
	}
	if override.Crawl.MinDelaySeconds > 0 {
		base.Crawl.MinDelaySeconds = override.Crawl.MinDelaySeconds
	}
	if override.Crawl.CaptchaAttempts > 0 {
		base.Crawl.CaptchaAttempts = override.Crawl.CaptchaAttempts
	}
	if override.Crawl.PageRetries > 0 {
		base.Crawl.PageRetries = override.Crawl.PageRetries
	}
	if override.Crawl.NetworkRetries > 0 {
		base.Crawl.NetworkRetries = override.Crawl.NetworkRetries
	}
	if override.Crawl.Workers > 0 {
		base.Crawl.Workers = override.Crawl.Workers
	}
	base.Crawl.FetchDetails = base.Crawl.FetchDetails || override.Crawl.FetchDetails

	if override.Storage.OutputDir != "" {
		base.Storage.OutputDir = override.Storage.OutputDir
	}
	if override.Storage.CheckpointDir != "" {
		base.Storage.CheckpointDir = override.Storage.CheckpointDir
	}
	if override.Storage.FlushEvery > 0 {
		base.Storage.FlushEvery = override.Storage.FlushEvery
	}
	if override.Storage.DatabaseDSN != "" {
		base.Storage.DatabaseDSN = override.Storage.DatabaseDSN
	}

	if override.Roster.MasterPath != "" {
		base.Roster = override.Roster
	}

	if override.OCR.Endpoint != "" {
		base.OCR.Endpoint = override.OCR.Endpoint
	}
	if override.OCR.APIKey != "" {
		base.OCR.APIKey = override.OCR.APIKey
	}

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.ChatID != "" {
		base.Telegram.ChatID = override.Telegram.ChatID
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if len(override.Taxonomy) > 0 {
		base.Taxonomy = override.Taxonomy
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Portal: PortalConfig{
			BaseURL:   "https://zfcg.czt.fujian.gov.cn",
			SearchURL: "https://zfcg.czt.fujian.gov.cn/maincms-web/xmgg?titleType=xmgg",
			DetailURL: "https://zfcg.czt.fujian.gov.cn/maincms-web/articleDetail",
			Headless:  true,
		},
		Crawl: CrawlConfig{
			LookbackDays:    30,
			MaxPages:        50,
			MinDelaySeconds: 2,
			CaptchaAttempts: 5,
			PageRetries:     2,
			NetworkRetries:  3,
			Workers:         1,
			FetchDetails:    true,
		},
		Storage: StorageConfig{
			OutputDir:     "runs",
			CheckpointDir: "checkpoints",
			FlushEvery:    10,
		},
		Roster: RosterConfig{MasterPath: "data/customers.csv"},
		Taxonomy: []TaxonomyEntry{
			{Category: "hospital-information-system", Keywords: []string{"HIS", "医院信息系统", "信息化"}},
			{Category: "office-automation", Keywords: []string{"OA", "办公自动化"}},
			{Category: "medical-imaging", Keywords: []string{"PACS", "影像"}},
			{Category: "laboratory-system", Keywords: []string{"LIS", "检验"}},
			{Category: "electronic-medical-record", Keywords: []string{"EMR", "电子病历"}},
		},
		OCR: OCRConfig{Endpoint: "http://localhost:9898/ocr"},
		ChatGPT: ChatGPTConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You extract software and hardware system facts from procurement announcements.",
		},
		Scheduler: SchedulerConfig{Timezone: defaultTimezone, location: tz},
	}
}
