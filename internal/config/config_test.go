package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "test",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		RibClient: RibClientConfig{
			Targets:         []RibTargetConfig{{Name: "fea", Address: "localhost:19000"}},
			MaxOps:          100,
			RetryIntervalMs: 1000,
		},
		NextHop: NextHopConfig{
			Address:         "localhost:19001",
			RetryIntervalMs: 1000,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_NoHTTPListen(t *testing.T) {
	cfg := validConfig()
	cfg.Service.HTTPListen = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty http_listen")
	}
}

func TestValidate_NoRibClientTargets(t *testing.T) {
	cfg := validConfig()
	cfg.RibClient.Targets = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty ribclient targets")
	}
}

func TestValidate_RibClientTargetMissingAddress(t *testing.T) {
	cfg := validConfig()
	cfg.RibClient.Targets = []RibTargetConfig{{Name: "fea"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for target missing address")
	}
}

func TestValidate_MaxOpsZero(t *testing.T) {
	cfg := validConfig()
	cfg.RibClient.MaxOps = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_ops = 0")
	}
}

func TestValidate_RibClientRetryIntervalZero(t *testing.T) {
	cfg := validConfig()
	cfg.RibClient.RetryIntervalMs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for ribclient retry_interval_ms = 0")
	}
}

func TestValidate_NoNextHopAddress(t *testing.T) {
	cfg := validConfig()
	cfg.NextHop.Address = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty nexthop.address")
	}
}

func TestValidate_NextHopRetryIntervalZero(t *testing.T) {
	cfg := validConfig()
	cfg.NextHop.RetryIntervalMs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for nexthop retry_interval_ms = 0")
	}
}

func TestValidate_ShutdownTimeoutZero(t *testing.T) {
	cfg := validConfig()
	cfg.Service.ShutdownTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for shutdown_timeout_seconds = 0")
	}
}

func TestValidate_EventBusEnabledRequiresTopic(t *testing.T) {
	cfg := validConfig()
	cfg.EventBus.Brokers = []string{"localhost:9092"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for eventbus enabled without a topic")
	}
}

func TestValidate_EventBusDisabledByDefault(t *testing.T) {
	cfg := validConfig()
	if cfg.EventBus.Enabled() {
		t.Fatal("eventbus should be disabled when no brokers are configured")
	}
}

func TestValidate_AuditEnabledRequiresPositiveMaxConns(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.DSN = "postgres://localhost/audit"
	cfg.Audit.MaxConns = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for audit enabled with max_conns = 0")
	}
}

func TestValidate_AuditDisabledByDefault(t *testing.T) {
	cfg := validConfig()
	if cfg.Audit.Enabled() {
		t.Fatal("audit should be disabled when no DSN is configured")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
ribclient:
  targets:
    - name: fea
      address: "localhost:19000"
nexthop:
  address: "localhost:19001"
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("ROUTECORE_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvOverrideNextHopAddress(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("ROUTECORE_NEXTHOP__ADDRESS", "otherhost:19001")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NextHop.Address != "otherhost:19001" {
		t.Errorf("expected nexthop address from env, got %q", cfg.NextHop.Address)
	}
}

func TestLoad_EnvEmptyNextHopAddressFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("ROUTECORE_NEXTHOP__ADDRESS", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty nexthop address via env")
	}
}
