package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultSignatureHeader  = "X-Avinode-Signature"
	DefaultKeyVersionHeader = "X-Avinode-Key-Version"
	DefaultWebhookPath      = "/webhooks/avinode"
	DefaultMaxBodyBytes     = int64(1 << 20)
)

// SigningKeyConfig is one webhook secret. NotBefore and NotAfter are RFC3339
// timestamps; empty bounds are open.
type SigningKeyConfig struct {
	Version   string `koanf:"version" mapstructure:"version"`
	Secret    string `koanf:"secret" mapstructure:"secret"`
	NotBefore string `koanf:"not_before" mapstructure:"not_before"`
	NotAfter  string `koanf:"not_after" mapstructure:"not_after"`
}

type WebhookConfig struct {
	Source           string             `koanf:"source" mapstructure:"source"`
	Path             string             `koanf:"path" mapstructure:"path"`
	MaxBodyBytes     int64              `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	SignatureHeader  string             `koanf:"signature_header" mapstructure:"signature_header"`
	KeyVersionHeader string             `koanf:"key_version_header" mapstructure:"key_version_header"`
	SigningKeys      []SigningKeyConfig `koanf:"signing_keys" mapstructure:"signing_keys"`
}

type RetryConfig struct {
	MaxRetries     int           `koanf:"max_retries" mapstructure:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type WorkerConfig struct {
	Concurrency  int           `koanf:"concurrency" mapstructure:"concurrency"`
	BatchSize    int           `koanf:"batch_size" mapstructure:"batch_size"`
	PollInterval time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	LeaseTimeout time.Duration `koanf:"lease_timeout" mapstructure:"lease_timeout"`
}

type CacheConfig struct {
	OperatorTTL time.Duration `koanf:"operator_ttl" mapstructure:"operator_ttl"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Webhooks    WebhookConfig `koanf:"webhooks" mapstructure:"webhooks"`
	Retry       RetryConfig   `koanf:"retry" mapstructure:"retry"`
	Worker      WorkerConfig  `koanf:"worker" mapstructure:"worker"`
	Cache       CacheConfig   `koanf:"cache" mapstructure:"cache"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "charter-sync",
		Webhooks: WebhookConfig{
			Source:           DefaultEventSource,
			Path:             DefaultWebhookPath,
			MaxBodyBytes:     DefaultMaxBodyBytes,
			SignatureHeader:  DefaultSignatureHeader,
			KeyVersionHeader: DefaultKeyVersionHeader,
		},
		Retry: RetryConfig{
			MaxRetries:     5,
			InitialBackoff: 5 * time.Second,
			MaxBackoff:     10 * time.Minute,
		},
		Worker: WorkerConfig{
			Concurrency:  4,
			BatchSize:    25,
			PollInterval: 2 * time.Second,
			LeaseTimeout: 5 * time.Minute,
		},
		Cache: CacheConfig{
			OperatorTTL: 10 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Webhooks.Source) == "" {
		return fmt.Errorf("core: webhooks.source is required")
	}
	if c.Webhooks.MaxBodyBytes < 0 {
		return fmt.Errorf("core: webhooks.max_body_bytes must not be negative")
	}
	seen := map[string]struct{}{}
	for idx, key := range c.Webhooks.SigningKeys {
		version := strings.TrimSpace(key.Version)
		if version == "" {
			return fmt.Errorf("core: webhooks.signing_keys[%d].version is required", idx)
		}
		if strings.TrimSpace(key.Secret) == "" {
			return fmt.Errorf("core: webhooks.signing_keys[%d].secret is required", idx)
		}
		if _, ok := seen[version]; ok {
			return fmt.Errorf("core: duplicate signing key version %q", version)
		}
		seen[version] = struct{}{}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("core: retry.max_retries must not be negative")
	}
	if c.Retry.MaxBackoff > 0 && c.Retry.InitialBackoff > c.Retry.MaxBackoff {
		return fmt.Errorf("core: retry.initial_backoff exceeds retry.max_backoff")
	}
	if c.Worker.Concurrency < 0 || c.Worker.BatchSize < 0 {
		return fmt.Errorf("core: worker concurrency and batch_size must not be negative")
	}
	return nil
}
