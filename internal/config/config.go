// Package config loads server settings from defaults, an optional YAML file
// and environment variables, in that order of precedence (env wins).
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Location  LocationConfig  `koanf:"location"`
	Poller    PollerConfig    `koanf:"poller"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Airlines  AirlinesConfig  `koanf:"airlines"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Host              string   `koanf:"host"`
	Port              int      `koanf:"port" validate:"min=1,max=65535"`
	StaticDir         string   `koanf:"static_dir"`
	CORSOrigins       []string `koanf:"cors_origins"`
	ShutdownTimeoutMS int      `koanf:"shutdown_timeout_ms" validate:"min=0"`
	// HTTPRateLimit is requests per minute per client IP on the REST surface.
	HTTPRateLimit int `koanf:"http_rate_limit" validate:"min=0"`
}

// LocationConfig holds the fallback query point and the optional override
// that pins every subscription to one location.
type LocationConfig struct {
	DefaultLat    float64  `koanf:"default_lat" validate:"gte=-90,lte=90"`
	DefaultLon    float64  `koanf:"default_lon" validate:"gte=-180,lte=180"`
	DefaultRadius float64  `koanf:"default_radius" validate:"gt=0"`
	OverrideLat   *float64 `koanf:"override_lat" validate:"omitempty,gte=-90,lte=90"`
	OverrideLon   *float64 `koanf:"override_lon" validate:"omitempty,gte=-180,lte=180"`
}

type PollerConfig struct {
	PollMS            int `koanf:"poll_ms" validate:"min=100"`
	OtherPollMS       int `koanf:"other_poll_ms" validate:"min=100"`
	OthersLimit       int `koanf:"others_limit" validate:"min=0"`
	EnrichConcurrency int `koanf:"enrich_concurrency" validate:"min=1"`
}

type CacheConfig struct {
	CallsignTTLMS int `koanf:"callsign_ttl_ms" validate:"min=0"`
	RoutesetTTLMS int `koanf:"routeset_ttl_ms" validate:"min=0"`
}

type RateLimitConfig struct {
	MaxRequestsPerMin int `koanf:"max_requests_per_min"`
	WaitMS            int `koanf:"wait_ms" validate:"min=1"`
}

type UpstreamConfig struct {
	BaseURL      string `koanf:"base_url" validate:"required,url"`
	ImageBaseURL string `koanf:"image_base_url" validate:"required,url"`
	TimeoutMS    int    `koanf:"timeout_ms" validate:"min=0"`
	UserAgent    string `koanf:"user_agent"`
}

type AirlinesConfig struct {
	Enabled        bool   `koanf:"enabled"`
	TwoLetterURL   string `koanf:"two_letter_url" validate:"omitempty,url"`
	ThreeLetterURL string `koanf:"three_letter_url" validate:"omitempty,url"`
}

type KafkaConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Broker     string `koanf:"broker" validate:"required_if=Enabled true"`
	Topic      string `koanf:"topic" validate:"required_if=Enabled true"`
	Partitions int    `koanf:"partitions" validate:"min=1"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (p PollerConfig) PollInterval() time.Duration { return ms(p.PollMS) }
func (p PollerConfig) OthersInterval() time.Duration { return ms(p.OtherPollMS) }
func (c CacheConfig) CallsignTTL() time.Duration { return ms(c.CallsignTTLMS) }
func (c CacheConfig) RoutesetTTL() time.Duration { return ms(c.RoutesetTTLMS) }
func (r RateLimitConfig) Wait() time.Duration { return ms(r.WaitMS) }
func (u UpstreamConfig) Timeout() time.Duration { return ms(u.TimeoutMS) }
func (s ServerConfig) ShutdownTimeout() time.Duration { return ms(s.ShutdownTimeoutMS) }
