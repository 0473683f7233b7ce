// Package config loads the orchestrator's configuration from a YAML file,
// with a fixed allow-list of environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	VoiceProvider VoiceProviderConfig `yaml:"voice_provider"`
	LLM           LLMConfig           `yaml:"llm"`
	Queue         QueueConfig         `yaml:"queue"`
	Email         EmailConfig         `yaml:"email"`
	Auth          AuthConfig          `yaml:"auth"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	EnableCORS bool   `yaml:"enable_cors"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// VoiceProviderConfig configures the external voice-AI provider client (§4.5).
type VoiceProviderConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LLMConfig configures the extraction orchestrator's LLM collaborator (§4.7).
type LLMConfig struct {
	APIKey                  string        `yaml:"api_key"`
	Model                   string        `yaml:"model"`
	Timeout                 time.Duration `yaml:"timeout"`
	DefaultIndividualPrompt string        `yaml:"default_individual_prompt"`
	DefaultCompletePrompt   string        `yaml:"default_complete_prompt"`
	MaxRetries              int           `yaml:"max_retries"`
}

// QueueConfig configures the Concurrency Manager and Queue Processor (§4.1, §4.4).
type QueueConfig struct {
	GlobalConcurrencyCap int           `yaml:"global_concurrency_cap"`
	DefaultTenantCap     int           `yaml:"default_tenant_cap"`
	NamedContactBoost    int           `yaml:"named_contact_boost"`
	AdvisoryLockName     string        `yaml:"advisory_lock_name"`
	ScheduleCacheTTL     time.Duration `yaml:"schedule_cache_ttl"`
	PassBudget           time.Duration `yaml:"pass_budget"`
}

// EmailConfig configures the notification dispatcher's mail collaborator (§4.8).
type EmailConfig struct {
	SMTPHost string        `yaml:"smtp_host"`
	SMTPPort int           `yaml:"smtp_port"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AuthConfig configures the JWT middleware guarding the internal APIs (§6.2, §6.3).
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// WebhookConfig configures inbound webhook signature verification (§6.1).
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig configures the zerolog root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the YAML configuration file at path, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config yaml: %w", err)
	}

	applyDefaults(&cfg)
	overrideWithEnv(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Queue.GlobalConcurrencyCap == 0 {
		cfg.Queue.GlobalConcurrencyCap = 100
	}
	if cfg.Queue.DefaultTenantCap == 0 {
		cfg.Queue.DefaultTenantCap = 5
	}
	if cfg.Queue.AdvisoryLockName == "" {
		cfg.Queue.AdvisoryLockName = "queue-processor"
	}
	if cfg.Queue.ScheduleCacheTTL == 0 {
		cfg.Queue.ScheduleCacheTTL = 10 * time.Minute
	}
	if cfg.Queue.PassBudget == 0 {
		cfg.Queue.PassBudget = 60 * time.Second
	}
	if cfg.VoiceProvider.Timeout == 0 {
		cfg.VoiceProvider.Timeout = 30 * time.Second
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.Email.Timeout == 0 {
		cfg.Email.Timeout = 10 * time.Second
	}
}

// overrideWithEnv allows secrets to be injected without touching the YAML
// file, following apicall's APICALL_* convention.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("ORCH_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ORCH_DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("ORCH_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ORCH_DB_DATABASE"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("ORCH_VOICE_PROVIDER_API_KEY"); v != "" {
		cfg.VoiceProvider.APIKey = v
	}
	if v := os.Getenv("ORCH_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ORCH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ORCH_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
}

// Address returns the host:port the HTTP server should bind to.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DSN returns the Postgres data source name for this configuration.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, sslmode)
}

// TenantCap resolves the per-tenant concurrency cap, falling back to the
// configured default when a tenant has not set its own limit.
func (q QueueConfig) TenantCap(tenantLimit int) int {
	if tenantLimit > 0 {
		return tenantLimit
	}
	return q.DefaultTenantCap
}
