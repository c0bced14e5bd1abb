package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type HTTPConfig struct {
	Address string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	Timeout time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"15s"`
}

type Config struct {
	LogLevel   string     `yaml:"log_level" env:"LOG_LEVEL" env-default:"DEBUG"`
	HTTPConfig HTTPConfig `yaml:"http_server"`

	XKCDAddress string        `yaml:"xkcd_address" env:"XKCD_ADDRESS" env-default:"https://xkcd.com"`
	XKCDTimeout time.Duration `yaml:"xkcd_timeout" env:"XKCD_TIMEOUT" env-default:"10s"`

	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" env-default:"5m"`

	// Latency shaping for the latest-comic cache. The first hit after a
	// refresh sleeps CacheHitDelay; a refresh itself sleeps FetchDelay.
	// Both off unless configured.
	CacheHitDelay time.Duration `yaml:"cache_hit_delay" env:"CACHE_HIT_DELAY" env-default:"0s"`
	FetchDelay    time.Duration `yaml:"fetch_delay" env:"FETCH_DELAY" env-default:"0s"`

	SearchConcurrency int     `yaml:"search_concurrency" env:"SEARCH_CONCURRENCY" env-default:"4"`
	RateLimit         float64 `yaml:"rate_limit" env:"RATE_LIMIT" env-default:"10"`
	RateBurst         int     `yaml:"rate_burst" env:"RATE_BURST" env-default:"20"`

	// Empty address disables event publishing.
	BrokerAddress string `yaml:"broker_address" env:"BROKER_ADDRESS" env-default:""`
}

func MustLoad(configPath string) Config {
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config %s: %s", configPath, err)
	}
	return cfg
}
