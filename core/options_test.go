package core

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
	if cfg.Webhooks.Path != DefaultWebhookPath {
		t.Fatalf("expected default webhook path, got %q", cfg.Webhooks.Path)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Fatalf("expected default max retries 5, got %d", cfg.Retry.MaxRetries)
	}
}

func TestConfigValidate_RejectsDuplicateKeyVersions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Webhooks.SigningKeys = []SigningKeyConfig{
		{Version: "v1", Secret: "a"},
		{Version: "v1", Secret: "b"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate key version error")
	}
	cfg.Webhooks.SigningKeys = []SigningKeyConfig{{Version: "v1"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing secret error")
	}
}

func TestConfigValidate_RejectsInvertedBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.InitialBackoff = time.Hour
	cfg.Retry.MaxBackoff = time.Minute
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected inverted backoff error")
	}
}

func TestCfgxConfigProvider_LoadsRawValues(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticConfigLoader{Values: map[string]any{
		"service_name": "from-config",
		"webhooks": map[string]any{
			"path": "/hooks/charter",
		},
		"retry": map[string]any{
			"max_retries": 3,
		},
	}})

	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "from-config" {
		t.Fatalf("expected config service name, got %q", cfg.ServiceName)
	}
	if cfg.Webhooks.Path != "/hooks/charter" {
		t.Fatalf("expected config path, got %q", cfg.Webhooks.Path)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Fatalf("expected config max retries, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Webhooks.Source != DefaultEventSource {
		t.Fatalf("expected defaults to fill source, got %q", cfg.Webhooks.Source)
	}
}

func TestGoOptionsResolver_RuntimeOverridesConfig(t *testing.T) {
	defaults := DefaultConfig()
	loaded := Config{
		ServiceName: "from-config",
		Retry:       RetryConfig{MaxRetries: 3},
		Worker:      WorkerConfig{Concurrency: 8},
	}
	runtime := Config{
		ServiceName: "from-runtime",
		Webhooks: WebhookConfig{
			SigningKeys: []SigningKeyConfig{{Version: "v2", Secret: "s2"}},
		},
	}

	cfg, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime service name, got %q", cfg.ServiceName)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Fatalf("expected config layer max retries, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("expected config layer concurrency, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.BatchSize != defaults.Worker.BatchSize {
		t.Fatalf("expected default batch size, got %d", cfg.Worker.BatchSize)
	}
	if len(cfg.Webhooks.SigningKeys) != 1 || cfg.Webhooks.SigningKeys[0].Version != "v2" {
		t.Fatalf("expected runtime signing keys, got %#v", cfg.Webhooks.SigningKeys)
	}
	if cfg.Retry.MaxBackoff != defaults.Retry.MaxBackoff {
		t.Fatalf("expected default max backoff, got %s", cfg.Retry.MaxBackoff)
	}
}
