package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level finance-ingest.yaml configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Queue      QueueConfig      `yaml:"queue"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Storage    StorageConfig    `yaml:"storage"`
	Folders    FoldersConfig    `yaml:"folders"`
	Market     MarketConfig     `yaml:"market"`
	BigQuery   BigQueryConfig   `yaml:"bigquery"`
	Notion     NotionConfig     `yaml:"notion"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig points at the review/ledger database. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// QueueConfig controls the fan-out worker pool.
type QueueConfig struct {
	BufferSize int           `yaml:"buffer_size"`
	Workers    int           `yaml:"workers"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// ExtractionConfig configures the generative-AI and OCR clients.
type ExtractionConfig struct {
	Model           string            `yaml:"model"`
	Temperature     float32           `yaml:"temperature"`
	MaxOutputTokens int32             `yaml:"max_output_tokens"`
	ImageMaxWidth   int               `yaml:"image_max_width"`
	JPEGQuality     int               `yaml:"jpeg_quality"`
	GeminiAPIKey    string            `yaml:"-"`
	MistralAPIKey   string            `yaml:"-"`
	MistralBaseURL  string            `yaml:"mistral_base_url"`
	Prompts         map[string]string `yaml:"prompts,omitempty"`
}

// StorageConfig selects where source files are listed from ("drive" or "gcs").
type StorageConfig struct {
	Backend            string `yaml:"backend"`
	Bucket             string `yaml:"bucket"`
	GoogleClientID     string `yaml:"-"`
	GoogleClientSecret string `yaml:"-"`
	MoveProcessed      bool   `yaml:"move_processed"`
}

// FoldersConfig names the source folder for each ingestion kind.
type FoldersConfig struct {
	Tickets       string `yaml:"tickets"`
	Investments   string `yaml:"investments"`
	Amortizations string `yaml:"amortizations"`
	Invoices      string `yaml:"invoices"`
}

// MarketConfig configures the price and exchange-rate clients.
type MarketConfig struct {
	TwelveDataURL    string        `yaml:"twelvedata_url"`
	TwelveDataAPIKey string        `yaml:"-"`
	CurrencyAPIURL   string        `yaml:"currencyapi_url"`
	CurrencyAPIKey   string        `yaml:"-"`
	CacheSize        int           `yaml:"cache_size"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// BigQueryConfig points at the analytics dataset. An empty project disables the sink.
type BigQueryConfig struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
}

// NotionConfig configures the ledger export.
type NotionConfig struct {
	Token      string `yaml:"-"`
	DatabaseID string `yaml:"database_id"`
}

// WebhooksConfig configures the payment and security-event receivers.
type WebhooksConfig struct {
	MercadoPagoURL    string `yaml:"mercadopago_url"`
	MercadoPagoToken  string `yaml:"-"`
	MercadoPagoPlanID string `yaml:"mercadopago_plan_id"`
	RISCConfigURL     string `yaml:"risc_config_url"`
	RISCIssuer        string `yaml:"risc_issuer"`
	RISCAudience      string `yaml:"risc_audience"`
}

// Load reads a YAML config file on top of Default and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return Load(path)
}

// Save writes a Config to a YAML file. Secrets are never written.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with the production defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server:   ServerConfig{Port: "8080"},
		Queue: QueueConfig{
			BufferSize: 100,
			Workers:    5,
			MaxRetries: 3,
			RetryDelay: 60 * time.Second,
		},
		Extraction: ExtractionConfig{
			Model:           "gemini-2.5-flash",
			Temperature:     0.1,
			MaxOutputTokens: 1024,
			ImageMaxWidth:   1024,
			JPEGQuality:     80,
			MistralBaseURL:  "https://api.mistral.ai",
		},
		Storage: StorageConfig{
			Backend: "drive",
		},
		Folders: FoldersConfig{
			Tickets:       "Tickets de Compra",
			Investments:   "Inversiones",
			Amortizations: "Amortizaciones",
			Invoices:      "Facturas",
		},
		Market: MarketConfig{
			TwelveDataURL:  "https://api.twelvedata.com",
			CurrencyAPIURL: "https://api.currencyapi.com",
			CacheSize:      100,
			CacheTTL:       5 * time.Minute,
		},
		BigQuery: BigQueryConfig{
			Dataset: "finance",
		},
		Webhooks: WebhooksConfig{
			MercadoPagoURL: "https://api.mercadopago.com",
			RISCConfigURL:  "https://accounts.google.com/.well-known/risc-configuration",
			RISCIssuer:     "https://accounts.google.com/",
		},
	}
}

// ApplyEnv overrides secrets and deployment-specific values from the environment.
func (c *Config) ApplyEnv() {
	setString(&c.Extraction.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.Extraction.MistralAPIKey, "MISTRAL_API_KEY")
	setString(&c.Market.TwelveDataAPIKey, "TWELVEDATA_API_KEY")
	setString(&c.Market.CurrencyAPIKey, "CURRENCYAPI_API_KEY")
	setString(&c.Webhooks.MercadoPagoToken, "MERCADOPAGO_ACCESS_TOKEN")
	setString(&c.Webhooks.MercadoPagoPlanID, "MERCADOPAGO_PLAN_ID")
	setString(&c.Storage.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Storage.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Storage.Bucket, "GCS_BUCKET")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Notion.Token, "NOTION_TOKEN")
	setString(&c.Notion.DatabaseID, "NOTION_TRANSACTIONS_DB_ID")
	setString(&c.BigQuery.Project, "BIGQUERY_PROJECT")

	if c.Webhooks.RISCAudience == "" {
		c.Webhooks.RISCAudience = c.Storage.GoogleClientID
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
