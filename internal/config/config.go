package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	RibClient RibClientConfig `koanf:"ribclient"`
	NextHop   NextHopConfig   `koanf:"nexthop"`
	EventBus  EventBusConfig  `koanf:"eventbus"`
	Audit     AuditConfig     `koanf:"audit"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// RibClientConfig holds one entry per RIB target the host dials a
// ribclient.Client against.
type RibClientConfig struct {
	Targets          []RibTargetConfig `koanf:"targets"`
	MaxOps           int               `koanf:"max_ops"`
	RetryIntervalMs  int               `koanf:"retry_interval_ms"`
}

type RibTargetConfig struct {
	Name    string `koanf:"name"`
	Address string `koanf:"address"`
}

type NextHopConfig struct {
	Address         string `koanf:"address"`
	RetryIntervalMs int    `koanf:"retry_interval_ms"`
}

// EventBusConfig configures the optional Kafka decision-notification
// publisher (§9.4). Brokers empty means the event bus is disabled.
type EventBusConfig struct {
	Brokers  []string   `koanf:"brokers"`
	Topic    string     `koanf:"topic"`
	ClientID string     `koanf:"client_id"`
	TLS      TLSConfig  `koanf:"tls"`
	SASL     SASLConfig `koanf:"sasl"`
}

func (e EventBusConfig) Enabled() bool { return len(e.Brokers) > 0 }

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

// AuditConfig configures the optional Postgres transaction audit writer
// (§9.5). DSN empty means auditing is disabled.
type AuditConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

func (a AuditConfig) Enabled() bool { return a.DSN != "" }

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: ROUTECORE_EVENTBUS__BROKERS → eventbus.brokers
	if err := k.Load(env.Provider("ROUTECORE_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ROUTECORE_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "routecore-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		RibClient: RibClientConfig{
			MaxOps:          100,
			RetryIntervalMs: 1000,
		},
		NextHop: NextHopConfig{
			RetryIntervalMs: 1000,
		},
		EventBus: EventBusConfig{
			ClientID: "routecored",
		},
		Audit: AuditConfig{
			MaxConns: 10,
			MinConns: 1,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.EventBus.Brokers) == 1 && strings.Contains(cfg.EventBus.Brokers[0], ",") {
		cfg.EventBus.Brokers = strings.Split(cfg.EventBus.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Service.HTTPListen == "" {
		return fmt.Errorf("config: service.http_listen is required")
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if len(c.RibClient.Targets) == 0 {
		return fmt.Errorf("config: ribclient.targets is required")
	}
	for _, t := range c.RibClient.Targets {
		if t.Name == "" || t.Address == "" {
			return fmt.Errorf("config: ribclient.targets entries require name and address")
		}
	}
	if c.RibClient.MaxOps <= 0 {
		return fmt.Errorf("config: ribclient.max_ops must be > 0 (got %d)", c.RibClient.MaxOps)
	}
	if c.RibClient.RetryIntervalMs <= 0 {
		return fmt.Errorf("config: ribclient.retry_interval_ms must be > 0 (got %d)", c.RibClient.RetryIntervalMs)
	}
	if c.NextHop.Address == "" {
		return fmt.Errorf("config: nexthop.address is required")
	}
	if c.NextHop.RetryIntervalMs <= 0 {
		return fmt.Errorf("config: nexthop.retry_interval_ms must be > 0 (got %d)", c.NextHop.RetryIntervalMs)
	}
	if c.EventBus.Enabled() && c.EventBus.Topic == "" {
		return fmt.Errorf("config: eventbus.topic is required when eventbus.brokers is set")
	}
	if c.Audit.Enabled() {
		if c.Audit.MaxConns <= 0 {
			return fmt.Errorf("config: audit.max_conns must be > 0 (got %d)", c.Audit.MaxConns)
		}
		if c.Audit.MinConns < 0 {
			return fmt.Errorf("config: audit.min_conns must be >= 0 (got %d)", c.Audit.MinConns)
		}
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the event bus TLS settings.
// Returns nil if TLS is disabled.
func (e *EventBusConfig) BuildTLSConfig() (*tls.Config, error) {
	if !e.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if e.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(e.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if e.TLS.CertFile != "" && e.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(e.TLS.CertFile, e.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the event bus SASL
// settings. Returns nil if SASL is disabled.
func (e *EventBusConfig) BuildSASLMechanism() sasl.Mechanism {
	if !e.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(e.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: e.SASL.Username, Pass: e.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}

// RetryInterval converts RibClient.RetryIntervalMs to a time.Duration.
func (c RibClientConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}

// RetryInterval converts NextHop.RetryIntervalMs to a time.Duration.
func (c NextHopConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}
