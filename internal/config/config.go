package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Rod           RodConfig           `yaml:"rod" toml:"rod"`
	Backoff       BackoffConfig       `yaml:"backoff" toml:"backoff"`
	HTTP          HttpConfig          `yaml:"http" toml:"http"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" toml:"rate_limit"`
	Aggregator    AggregatorConfig    `yaml:"aggregator" toml:"aggregator"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
	Sites         []SiteConfig        `yaml:"sites" toml:"sites"`
}

type RodConfig struct {
	Enabled          bool   `yaml:"enabled" toml:"enabled"`
	ChromePath       string `yaml:"chrome_path" toml:"chrome_path"`
	PageTimeoutS     int    `yaml:"page_timeout_s" toml:"page_timeout_s"`
	WaitLoadTimeoutS int    `yaml:"wait_load_timeout_s" toml:"wait_load_timeout_s"`
	LazyLoadDelayS   int    `yaml:"lazy_load_delay_s" toml:"lazy_load_delay_s"`
}

type BackoffConfig struct {
	MinMS     int `yaml:"min_ms" toml:"min_ms"`
	MaxMS     int `yaml:"max_ms" toml:"max_ms"`
	JitterPct int `yaml:"jitter_pct" toml:"jitter_pct"`
}

type HttpConfig struct {
	UserAgent                 string `yaml:"user_agent" toml:"user_agent"`
	ConnectTimeoutMS          int    `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
	TotalTimeoutMS            int    `yaml:"total_timeout_ms" toml:"total_timeout_ms"`
	MaxRetries                int    `yaml:"max_retries" toml:"max_retries"`
	MaxIdleConnections        int    `yaml:"max_idle_connections" toml:"max_idle_connections"`
	MaxIdleConnectionsPerHost int    `yaml:"max_idle_connections_per_host" toml:"max_idle_connections_per_host"`
	IdleConnectionTimeoutS    int    `yaml:"idle_connection_timeout_s" toml:"idle_connection_timeout_s"`
	AcceptLanguage            string `yaml:"accept_language" toml:"accept_language"`
	CloudflareBypass          bool   `yaml:"cloudflare_bypass" toml:"cloudflare_bypass"`
}

type RateLimitConfig struct {
	MaxConcurrentPerHost int `yaml:"max_concurrent_per_host" toml:"max_concurrent_per_host"`
	RPM                  int `yaml:"rpm" toml:"rpm"`
}

type AggregatorConfig struct {
	MaxParallelSites int `yaml:"max_parallel_sites" toml:"max_parallel_sites"`
	SiteTimeoutS     int `yaml:"site_timeout_s" toml:"site_timeout_s"`
}

type ObservabilityConfig struct {
	LogPath  string `yaml:"log_path" toml:"log_path"`
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

// SiteConfig: один настроенный трекер. Cookie выдаёт внешний слой авторизации.
type SiteConfig struct {
	ID             string `yaml:"id" toml:"id"`
	Preset         string `yaml:"preset" toml:"preset"`
	BaseURL        string `yaml:"base_url" toml:"base_url"`
	Cookie         string `yaml:"cookie" toml:"cookie"`
	UserAgent      string `yaml:"user_agent" toml:"user_agent"`
	DefinitionFile string `yaml:"definition_file" toml:"definition_file"`
	Disabled       bool   `yaml:"disabled" toml:"disabled"`
}

// Default возвращает конфигурацию по умолчанию; файл перекрывает только заданные поля
func Default() Config {
	return Config{
		Backoff: BackoffConfig{
			MinMS:     500,
			MaxMS:     8000,
			JitterPct: 20,
		},
		HTTP: HttpConfig{
			UserAgent:                 "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
			ConnectTimeoutMS:          10000,
			TotalTimeoutMS:            30000,
			MaxRetries:                3,
			MaxIdleConnections:        100,
			MaxIdleConnectionsPerHost: 10,
			IdleConnectionTimeoutS:    90,
			AcceptLanguage:            "zh-CN,zh;q=0.9,en;q=0.8",
		},
		RateLimit: RateLimitConfig{
			MaxConcurrentPerHost: 2,
			RPM:                  30,
		},
		Aggregator: AggregatorConfig{
			MaxParallelSites: 4,
			SiteTimeoutS:     60,
		},
		Rod: RodConfig{
			PageTimeoutS:     60,
			WaitLoadTimeoutS: 30,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

// Validation
func (c *Config) Validate() error {
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent is required")
	}
	if c.HTTP.ConnectTimeoutMS <= 0 {
		return fmt.Errorf("http.connect_timeout_ms must be > 0")
	}
	if c.HTTP.TotalTimeoutMS <= 0 {
		return fmt.Errorf("http.total_timeout_ms must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.RateLimit.MaxConcurrentPerHost <= 0 {
		return fmt.Errorf("rate_limit.max_concurrent_per_host must be > 0")
	}
	if c.RateLimit.RPM <= 0 {
		return fmt.Errorf("rate_limit.rpm must be > 0")
	}
	if c.Backoff.MinMS <= 0 {
		return fmt.Errorf("backoff.min_ms must be > 0")
	}
	if c.Backoff.MaxMS <= 0 {
		return fmt.Errorf("backoff.max_ms must be > 0")
	}
	if c.Backoff.MinMS > c.Backoff.MaxMS {
		return fmt.Errorf("backoff.min_ms must be <= backoff.max_ms")
	}
	if c.Backoff.JitterPct < 0 || c.Backoff.JitterPct > 100 {
		return fmt.Errorf("backoff.jitter_pct must be between 0 and 100")
	}
	if c.Aggregator.MaxParallelSites <= 0 {
		return fmt.Errorf("aggregator.max_parallel_sites must be > 0")
	}
	if c.Aggregator.SiteTimeoutS <= 0 {
		return fmt.Errorf("aggregator.site_timeout_s must be > 0")
	}
	if c.Rod.Enabled {
		if c.Rod.PageTimeoutS <= 0 {
			return fmt.Errorf("rod.page_timeout_s must be > 0")
		}
		if c.Rod.WaitLoadTimeoutS <= 0 {
			return fmt.Errorf("rod.wait_load_timeout_s must be > 0")
		}
		if c.Rod.LazyLoadDelayS < 0 {
			return fmt.Errorf("rod.lazy_load_delay_s must be >= 0")
		}
	}

	seen := make(map[string]struct{}, len(c.Sites))
	for i, s := range c.Sites {
		if s.ID == "" {
			return fmt.Errorf("sites[%d].id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("sites[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Preset == "" && s.DefinitionFile == "" {
			return fmt.Errorf("sites[%d] (%s): preset or definition_file is required", i, s.ID)
		}
		if s.BaseURL != "" {
			u, err := url.Parse(s.BaseURL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("sites[%d] (%s): base_url must be an absolute URL", i, s.ID)
			}
		}
	}
	return nil
}

// EnabledSites возвращает включённые сайты в порядке конфигурации
func (c *Config) EnabledSites() []SiteConfig {
	var out []SiteConfig
	for _, s := range c.Sites {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// Getters
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.HTTP.ConnectTimeoutMS) * time.Millisecond
}

func (c *Config) GetTotalTimeout() time.Duration {
	return time.Duration(c.HTTP.TotalTimeoutMS) * time.Millisecond
}

func (c *Config) GetIdleConnectionTimeout() time.Duration {
	return time.Duration(c.HTTP.IdleConnectionTimeoutS) * time.Second
}

func (c *Config) GetBackoffMin() time.Duration {
	return time.Duration(c.Backoff.MinMS) * time.Millisecond
}

func (c *Config) GetBackoffMax() time.Duration {
	return time.Duration(c.Backoff.MaxMS) * time.Millisecond
}

func (c *Config) GetSiteTimeout() time.Duration {
	return time.Duration(c.Aggregator.SiteTimeoutS) * time.Second
}

func (c *Config) GetRodPageTimeout() time.Duration {
	return time.Duration(c.Rod.PageTimeoutS) * time.Second
}

func (c *Config) GetRodWaitLoadTimeout() time.Duration {
	return time.Duration(c.Rod.WaitLoadTimeoutS) * time.Second
}

func (c *Config) GetRodLazyLoadDelay() time.Duration {
	return time.Duration(c.Rod.LazyLoadDelayS) * time.Second
}
