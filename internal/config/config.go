package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Cache         CacheConfig         `yaml:"cache"`
	Lifecycle     LifecycleConfig     `yaml:"lifecycle"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Strategies    map[string]string   `yaml:"strategies"`
	Fallback      FallbackConfig      `yaml:"fallback"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port int `yaml:"port"`
	// Origin is the base URL relative paths (manifest, CACHE_URLS) resolve against
	Origin string      `yaml:"origin"`
	HTTPS  HTTPSConfig `yaml:"https"`
}

// HTTPSConfig contains TLS interception configuration
type HTTPSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CACertFile      string `yaml:"ca_cert_file"`
	CAKeyFile       string `yaml:"ca_key_file"`
	TransparentAddr string `yaml:"transparent_addr"`
}

// CacheConfig contains partition store configuration
type CacheConfig struct {
	Backend string `yaml:"backend"` // "memory", "disk", "leveldb" or "sqlite"
	Folder  string `yaml:"folder"`
	Version string `yaml:"version"`
}

// LifecycleConfig contains install/activate configuration
type LifecycleConfig struct {
	SkipWaitingOnInstall bool   `yaml:"skip_waiting_on_install"`
	JanitorInterval      string `yaml:"janitor_interval"`
	SyncTag              string `yaml:"sync_tag"`
}

// ClassifierConfig contains the request classification tables
type ClassifierConfig struct {
	StaticAssets     []string `yaml:"static_assets"`
	StaticExtensions []string `yaml:"static_extensions"`
	APIPatterns      []string `yaml:"api_patterns"`
	ImageExtensions  []string `yaml:"image_extensions"`
	ImageHosts       []string `yaml:"image_hosts"`
}

// FallbackConfig names the pre-cached documents served when offline
type FallbackConfig struct {
	OfflinePage      string `yaml:"offline_page"`
	PlaceholderImage string `yaml:"placeholder_image"`
}

// NotificationsConfig contains push notification presentation
type NotificationsConfig struct {
	Title       string `yaml:"title"`
	DefaultBody string `yaml:"default_body"`
	Icon        string `yaml:"icon"`
	Badge       string `yaml:"badge"`
	Vibrate     []int  `yaml:"vibrate"`
	RootURL     string `yaml:"root_url"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Request classes, as used for keys of the strategies table
const (
	ClassStatic     = "static"
	ClassAPI        = "api"
	ClassImage      = "image"
	ClassNavigation = "navigation"
	ClassOther      = "other"
)

var knownClasses = []string{ClassStatic, ClassAPI, ClassImage, ClassNavigation, ClassOther}

// Strategy names accepted in the strategies section
const (
	StrategyCacheFirst           = "cache-first"
	StrategyNetworkFirst         = "network-first"
	StrategyStaleWhileRevalidate = "stale-while-revalidate"
	StrategyNetworkOnly          = "network-only"
	StrategyCacheOnly            = "cache-only"
)

// StrategyNames lists every known strategy
var StrategyNames = []string{StrategyCacheFirst, StrategyNetworkFirst, StrategyStaleWhileRevalidate, StrategyNetworkOnly, StrategyCacheOnly}

var knownBackends = []string{"memory", "disk", "leveldb", "sqlite"}

// Default returns the configuration used when a value is absent from the file
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:   8080,
			Origin: "http://localhost:3000",
		},
		Cache: CacheConfig{
			Backend: "memory",
			Folder:  "./cache",
			Version: "v1",
		},
		Lifecycle: LifecycleConfig{
			SkipWaitingOnInstall: true,
			JanitorInterval:      "24h",
			SyncTag:              "background-sync",
		},
		Classifier: ClassifierConfig{
			StaticAssets: []string{
				"/",
				"/manifest.json",
				"/favicon.ico",
				"/css/critical.css",
				"/fonts/inter.woff2",
				"/images/logo.png",
				"/images/placeholder.jpg",
				"/offline.html",
			},
			StaticExtensions: []string{"css", "js", "woff2", "woff", "ttf", "ico"},
			APIPatterns: []string{
				`^/api/properties`,
				`^/api/search`,
				`^/api/auth/me`,
				`^/api/favorites`,
			},
			ImageExtensions: []string{"png", "jpg", "jpeg", "gif", "webp", "svg", "avif"},
			ImageHosts:      []string{"images.unsplash.com", "res.cloudinary.com"},
		},
		Strategies: map[string]string{
			ClassStatic:     StrategyCacheFirst,
			ClassAPI:        StrategyNetworkFirst,
			ClassImage:      StrategyCacheFirst,
			ClassNavigation: StrategyNetworkFirst,
			ClassOther:      StrategyNetworkFirst,
		},
		Fallback: FallbackConfig{
			OfflinePage:      "/offline.html",
			PlaceholderImage: "/images/placeholder.jpg",
		},
		Notifications: NotificationsConfig{
			Title:       "Property update",
			DefaultBody: "New property update available",
			Icon:        "/icons/icon-192x192.png",
			Badge:       "/icons/badge-72x72.png",
			Vibrate:     []int{100, 50, 100},
			RootURL:     "/",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, on top of Default()
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return &config, nil
}

// Dump renders the effective configuration as YAML
func (c *Config) Dump() ([]byte, error) {
	return yamlv3.Marshal(c)
}

// GetJanitorInterval parses and returns the janitor interval
func (c *Config) GetJanitorInterval() (time.Duration, error) {
	return time.ParseDuration(c.Lifecycle.JanitorInterval)
}

// OriginURL parses the configured origin
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Server.Origin)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL, got: %s", c.Server.Origin)
	}
	return u, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := c.OriginURL(); err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}

	if !contains(knownBackends, c.Cache.Backend) {
		return fmt.Errorf("cache backend must be one of %v, got: %s", knownBackends, c.Cache.Backend)
	}

	if c.Cache.Backend != "memory" && c.Cache.Folder == "" {
		return fmt.Errorf("cache folder is required for backend %s", c.Cache.Backend)
	}

	if c.Cache.Version == "" {
		return fmt.Errorf("cache version is required")
	}
	if err := cache.ValidateVersion(c.Cache.Version); err != nil {
		return fmt.Errorf("invalid cache version: %w", err)
	}

	if c.Lifecycle.JanitorInterval == "" {
		return fmt.Errorf("janitor interval is required")
	}

	interval, err := c.GetJanitorInterval()
	if err != nil {
		return fmt.Errorf("invalid janitor interval format: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("janitor interval must be positive, got: %s", interval)
	}

	for i, pattern := range c.Classifier.APIPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("classifier.api_patterns[%d]: %w", i, err)
		}
	}

	for class, strategy := range c.Strategies {
		if !contains(knownClasses, class) {
			return fmt.Errorf("unknown request class in strategies: %s", class)
		}
		if !contains(StrategyNames, strategy) {
			return fmt.Errorf("unknown strategy for class %s: %s", class, strategy)
		}
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
