package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the environment variable holding an explicit config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/nearby-flights/config.yaml",
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              3000,
			StaticDir:         "public",
			CORSOrigins:       []string{"*"},
			ShutdownTimeoutMS: 10000,
			HTTPRateLimit:     120,
		},
		Location: LocationConfig{
			DefaultLat:    51.623842,
			DefaultLon:    -0.269584,
			DefaultRadius: 250,
		},
		Poller: PollerConfig{
			PollMS:            5000,
			OtherPollMS:       20000,
			OthersLimit:       10,
			EnrichConcurrency: 3,
		},
		Cache: CacheConfig{
			CallsignTTLMS: 60000,
			RoutesetTTLMS: 120000,
		},
		RateLimit: RateLimitConfig{
			MaxRequestsPerMin: 60,
			WaitMS:            250,
		},
		Upstream: UpstreamConfig{
			BaseURL:      "https://api.adsb.lol",
			ImageBaseURL: "https://doc8643.com/static/img/aircraft/large",
			TimeoutMS:    10000,
			UserAgent:    "nearby-flights/1.0",
		},
		Airlines: AirlinesConfig{
			Enabled:        true,
			TwoLetterURL:   "https://gist.githubusercontent.com/AndreiCalazans/390e82a1c3edff852137cb3da813eceb/raw/1a1248f966b3f644f4eae057ad9b9b1b571c6aec/airlines.json",
			ThreeLetterURL: "https://raw.githubusercontent.com/rikgale/ICAOList/refs/heads/main/Airlines.csv",
		},
		Kafka: KafkaConfig{
			Enabled:    false,
			Broker:     "localhost:9092",
			Topic:      "nearest_snapshots",
			Partitions: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from three layers: struct defaults, an optional YAML
// file, then environment variables.
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom is Load with an explicit config file path; an empty path skips the file layer.
func LoadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"host":            "server.host",
	"port":            "server.port",
	"static_dir":      "server.static_dir",
	"cors_origins":    "server.cors_origins",
	"shutdown_ms":     "server.shutdown_timeout_ms",
	"http_rate_limit": "server.http_rate_limit",

	"default_lat":    "location.default_lat",
	"default_lon":    "location.default_lon",
	"default_radius": "location.default_radius",
	"override_lat":   "location.override_lat",
	"override_lon":   "location.override_lon",

	"poll_ms":            "poller.poll_ms",
	"other_poll_ms":      "poller.other_poll_ms",
	"others_limit":       "poller.others_limit",
	"enrich_concurrency": "poller.enrich_concurrency",

	"callsign_ttl": "cache.callsign_ttl_ms",
	"routeset_ttl": "cache.routeset_ttl_ms",

	"max_requests_per_min": "rate_limit.max_requests_per_min",
	"rate_limit_wait_ms":   "rate_limit.wait_ms",

	"adsb_base_url":       "upstream.base_url",
	"docimg_base_url":     "upstream.image_base_url",
	"upstream_timeout_ms": "upstream.timeout_ms",
	"upstream_user_agent": "upstream.user_agent",

	"airlines_enabled":          "airlines.enabled",
	"airlines_two_letter_url":   "airlines.two_letter_url",
	"airlines_three_letter_url": "airlines.three_letter_url",

	"kafka_enabled":    "kafka.enabled",
	"kafka_broker":     "kafka.broker",
	"kafka_topic":      "kafka.topic",
	"kafka_partitions": "kafka.partitions",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// sliceConfigPaths are split on commas when they arrive from the environment.
var sliceConfigPaths = map[string]bool{
	"server.cors_origins": true,
}

// envTransformFunc maps environment variables onto koanf paths. Unmapped
// keys and empty values are dropped so an exported-but-empty OVERRIDE_LAT
// leaves the override unset.
func envTransformFunc(key, value string) (string, interface{}) {
	path, ok := envMappings[strings.ToLower(key)]
	if !ok {
		return "", nil
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if sliceConfigPaths[path] {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return path, out
	}
	return path, value
}
