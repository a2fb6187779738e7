package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Sync      SyncConfig      `yaml:"sync"`
	Providers ProvidersConfig `yaml:"providers"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
	AllowOrigins    []string      `yaml:"allow_origins" env:"HTTP_ALLOW_ORIGINS" env-separator:","`
}

type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers" env:"WEBRTC_STUN_SERVERS" env-separator:","`
}

// DatabaseConfig points at the identity store. An empty DSN keeps users in
// memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

// RedisConfig points at the provider response cache. An empty URL keeps the
// cache in process.
type RedisConfig struct {
	URL    string `yaml:"url" env:"REDIS_URL"`
	Prefix string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"watchparty:"`
}

type SyncConfig struct {
	DriftThreshold time.Duration `yaml:"drift_threshold" env:"SYNC_DRIFT_THRESHOLD"`
	PushInterval   time.Duration `yaml:"push_interval" env:"SYNC_PUSH_INTERVAL"`
	OpenTimeout    time.Duration `yaml:"open_timeout" env:"SYNC_OPEN_TIMEOUT"`
}

type ProvidersConfig struct {
	TenorKey       string `yaml:"tenor_key" env:"TENOR_API_KEY"`
	TenorClientKey string `yaml:"tenor_client_key" env:"TENOR_CLIENT_KEY" env-default:"watchparty"`
	TenorURL       string `yaml:"tenor_url" env:"TENOR_URL"`
	GiphyKey       string `yaml:"giphy_key" env:"GIPHY_API_KEY"`
	GiphyURL       string `yaml:"giphy_url" env:"GIPHY_URL"`
	TMDBKey        string `yaml:"tmdb_key" env:"TMDB_API_KEY"`
	TMDBURL        string `yaml:"tmdb_url" env:"TMDB_URL"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.Sync.DriftThreshold <= 0 {
		c.Sync.DriftThreshold = 2 * time.Second
	}
	if c.Sync.PushInterval <= 0 {
		c.Sync.PushInterval = 5 * time.Second
	}
	if c.Sync.OpenTimeout <= 0 {
		c.Sync.OpenTimeout = 10 * time.Second
	}
}
