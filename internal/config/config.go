package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath          = "config.json"
	DefaultServerAddress = ":8090"
	DefaultUpstreamURL   = "https://cybersecbackend.onrender.com"
	DefaultUpstreamPath  = "/chat"
	DefaultHistoryKey    = "chat_history"
	DefaultHistoryFile   = "data/chat_history.json"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Upstream    UpstreamConfig            `json:"upstream" yaml:"upstream"`
	History     HistoryConfig             `json:"history" yaml:"history"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Site        SiteConfig                `json:"site" yaml:"site"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address" env:"PORTFOLIOCHAT_SERVER_ADDRESS"`
	// ProxyEndpoint is the URL the conversation manager posts chat messages to.
	// Empty means the proxy route served by this process.
	ProxyEndpoint     string  `json:"proxy_endpoint" yaml:"proxy_endpoint" env:"PORTFOLIOCHAT_PROXY_ENDPOINT"`
	MinWorkers        int     `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int     `json:"max_workers" yaml:"max_workers"`
	QueueSize         int     `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int     `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // seconds
	RateLimit         float64 `json:"rate_limit" yaml:"rate_limit" env:"PORTFOLIOCHAT_RATE_LIMIT"`
	RateBurst         int     `json:"rate_burst" yaml:"rate_burst"`
}

type UpstreamConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url" env:"PORTFOLIOCHAT_UPSTREAM_URL"`
	Path    string `json:"path" yaml:"path" env:"PORTFOLIOCHAT_UPSTREAM_PATH"`
	Timeout int    `json:"timeout" yaml:"timeout"` // seconds
}

type HistoryConfig struct {
	Backend  string `json:"backend" yaml:"backend" env:"PORTFOLIOCHAT_HISTORY_BACKEND"`
	Key      string `json:"key" yaml:"key" env:"PORTFOLIOCHAT_HISTORY_KEY"`
	FilePath string `json:"file_path" yaml:"file_path" env:"PORTFOLIOCHAT_HISTORY_FILE"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host" env:"PORTFOLIOCHAT_REDIS_HOST"`
	Port     int    `json:"port" yaml:"port" env:"PORTFOLIOCHAT_REDIS_PORT"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password" env:"PORTFOLIOCHAT_REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db"`
}

// SiteConfig parameterizes the chat and about pages.
type SiteConfig struct {
	Title       string      `json:"title" yaml:"title"`
	Welcome     string      `json:"welcome" yaml:"welcome"`
	Placeholder string      `json:"placeholder" yaml:"placeholder"`
	FormWait    int         `json:"form_wait" yaml:"form_wait"` // seconds
	About       AboutConfig `json:"about" yaml:"about"`
}

type AboutConfig struct {
	Name       string   `json:"name" yaml:"name"`
	Headline   string   `json:"headline" yaml:"headline"`
	Paragraphs []string `json:"paragraphs" yaml:"paragraphs"`
	Links      []Link   `json:"links" yaml:"links"`
}

type Link struct {
	Label string `json:"label" yaml:"label"`
	URL   string `json:"url" yaml:"url"`
}

// Default returns a configuration that runs with a file-backed history.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file falls back to Default; environment overrides are
// applied in both cases.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		absPath = ""
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if absPath != "" && !filepath.IsAbs(cfg.History.FilePath) {
		cfg.History.FilePath = filepath.Join(filepath.Dir(absPath), cfg.History.FilePath)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func (cfg *Config) applyDefaults() {
	b := &cfg.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 1
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 30
	}
	if b.RateLimit <= 0 {
		b.RateLimit = 5
	}
	if b.RateBurst <= 0 {
		b.RateBurst = 10
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultUpstreamURL
	}
	if cfg.Upstream.Path == "" {
		cfg.Upstream.Path = DefaultUpstreamPath
	}
	if cfg.Upstream.Timeout <= 0 {
		cfg.Upstream.Timeout = 60
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = "file"
	}
	cfg.History.Backend = strings.ToLower(cfg.History.Backend)
	if cfg.History.Key == "" {
		cfg.History.Key = DefaultHistoryKey
	}
	if cfg.History.FilePath == "" {
		cfg.History.FilePath = DefaultHistoryFile
	}

	if cfg.Databases == nil {
		cfg.Databases = make(map[string]DatabaseConfig)
	}

	s := &cfg.Site
	if s.Title == "" {
		s.Title = "Portfolio Chat"
	}
	if s.Welcome == "" {
		s.Welcome = "Welcome to Grok Chat"
	}
	if s.Placeholder == "" {
		s.Placeholder = "Ask Grok anything..."
	}
	if s.FormWait <= 0 {
		s.FormWait = 30
	}
	if s.About.Name == "" {
		s.About.Name = "About me"
	}
}

func (cfg *Config) validate() error {
	if b := cfg.BasicConfig; b.MaxWorkers < b.MinWorkers {
		return fmt.Errorf("max_workers (%d) must not be below min_workers (%d)", b.MaxWorkers, b.MinWorkers)
	}
	if !strings.HasPrefix(cfg.Upstream.Path, "/") {
		return fmt.Errorf("upstream path %q must start with /", cfg.Upstream.Path)
	}
	switch cfg.History.Backend {
	case "file", "memory", "redis":
	case "sqlite", "sqlite3", "mysql":
		if _, ok := cfg.Databases[cfg.History.Backend]; !ok {
			return fmt.Errorf("database config for %s not found", cfg.History.Backend)
		}
	default:
		return fmt.Errorf("unsupported history backend: %s", cfg.History.Backend)
	}
	return nil
}

// UpstreamURL joins the upstream base URL and path.
func (cfg *Config) UpstreamURL() string {
	return strings.TrimRight(cfg.Upstream.BaseURL, "/") + cfg.Upstream.Path
}
