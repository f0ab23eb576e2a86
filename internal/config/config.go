package config

import (
	"log"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
)

var Config = struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Port        int    `env:"PORT" envDefault:"8081"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9103"`
	Ports       string `env:"PORTS" envDefault:"memory"` // memory or valkey

	// Valkey transport settings
	ValkeyURI             string `env:"VALKEY_URI"`
	ValkeyEventsChannel   string `env:"VALKEY_EVENTS_CHANNEL" envDefault:"wsbridge:events"`
	ValkeyCommandsChannel string `env:"VALKEY_COMMANDS_CHANNEL" envDefault:"wsbridge:commands"`
	ValkeyConnectRetries  uint64 `env:"VALKEY_CONNECT_RETRIES" envDefault:"5"`

	// Bridge settings
	WSPath           string `env:"WS_PATH" envDefault:"/"`
	StaticDir        string `env:"STATIC_DIR"`
	Verbose          bool   `env:"VERBOSE" envDefault:"false"`
	InputBufferSize  int    `env:"INPUT_BUFFER_SIZE" envDefault:"1024"`
	OutputBufferSize int    `env:"OUTPUT_BUFFER_SIZE" envDefault:"1024"`
	OutputOverflow   string `env:"OUTPUT_OVERFLOW" envDefault:"block"` // block or drop
	OutboxSize       int    `env:"OUTBOX_SIZE" envDefault:"256"`
	MaxMessageSize   int64  `env:"MAX_MESSAGE_SIZE" envDefault:"1048576"` // 1 MB
	WriteTimeout     int    `env:"WRITE_TIMEOUT" envDefault:"10"`
	// HeartbeatInterval is the websocket ping interval in seconds, 0 disables pings.
	HeartbeatInterval int      `env:"HEARTBEAT_INTERVAL" envDefault:"30"`
	AllowedOrigins    []string `env:"ALLOWED_ORIGINS"`

	// Other settings
	CorsEnable            bool     `env:"CORS_ENABLE"`
	AcceptRPSLimit        int      `env:"ACCEPT_RPS_LIMIT" envDefault:"10"`
	RateLimitsByPassToken []string `env:"RATE_LIMITS_BY_PASS_TOKEN"`
	ConnectionsLimit      int      `env:"CONNECTIONS_LIMIT" envDefault:"50"`
	SelfSignedTLS         bool     `env:"SELF_SIGNED_TLS" envDefault:"false"`
	TrustedProxyRanges    []string `env:"TRUSTED_PROXY_RANGES" envDefault:"0.0.0.0/0"`
	PprofEnabled          bool     `env:"PPROF_ENABLED" envDefault:"true"`
	ShutdownTimeout       int      `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
}{}

func LoadConfig() {
	if err := env.Parse(&Config); err != nil {
		log.Fatalf("config parsing failed: %v\n", err)
	}

	level, err := logrus.ParseLevel(strings.ToLower(Config.LogLevel))
	if err != nil {
		log.Printf("Invalid LOG_LEVEL '%s', using default 'info'. Valid levels: panic, fatal, error, warn, info, debug, trace", Config.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
