package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/config"
	flag "github.com/spf13/pflag"
)

const (
	envPrefix    = "CHARTER_"
	envDelimiter = "__"
)

// settings holds what the binary needs before the service exists. The same
// layered map also carries the service keys (webhooks, retry, worker, cache)
// and is handed to core.NewCfgxConfigProvider unchanged.
type settings struct {
	Config   string           `koanf:"config"`
	DB       databaseSettings `koanf:"db"`
	HTTP     httpSettings     `koanf:"http"`
	Log      logSettings      `koanf:"log"`
	Cache    cacheSettings    `koanf:"cache"`
	Webhooks webhookSettings  `koanf:"webhooks"`
}

type databaseSettings struct {
	Driver  string `koanf:"driver"`
	DSN     string `koanf:"dsn"`
	Migrate bool   `koanf:"migrate"`
}

type httpSettings struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type logSettings struct {
	Level string `koanf:"level"`
}

type cacheSettings struct {
	Operators bool `koanf:"operators"`
}

type webhookSettings struct {
	Secret string `koanf:"secret"`
}

func (s *settings) Validate() error {
	if s == nil {
		return fmt.Errorf("settings are required")
	}
	if strings.TrimSpace(s.DB.Driver) == "" {
		return fmt.Errorf("db.driver is required")
	}
	if strings.TrimSpace(s.DB.DSN) == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if strings.TrimSpace(s.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr is required")
	}
	if s.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be positive")
	}
	return nil
}

func newFlagSet() *flag.FlagSet {
	flags := flag.NewFlagSet("charter-sync", flag.ContinueOnError)
	flags.StringP("config", "c", "", "path to a JSON, YAML or TOML config file")
	flags.String("db.driver", "sqlite3", "database driver: postgres or sqlite3")
	flags.String("db.dsn", "file:charter-sync.db?_foreign_keys=on", "database DSN")
	flags.Bool("db.migrate", true, "apply database migrations on startup")
	flags.String("http.addr", ":8080", "HTTP listen address")
	flags.Duration("http.shutdown_timeout", 10*time.Second, "graceful shutdown timeout")
	flags.String("log.level", "info", "log level")
	flags.Bool("cache.operators", true, "cache operator profile lookups")
	flags.String("webhooks.secret", "", "signing secret for key version v1")
	return flags
}

// loadSettings layers the config file, CHARTER_* environment variables and
// flags. Flags left at their default only fill keys no other layer set.
func loadSettings(ctx context.Context, flags *flag.FlagSet) (*settings, map[string]any, error) {
	providers := []config.ProviderBuilder[*settings]{}
	if path, _ := flags.GetString("config"); strings.TrimSpace(path) != "" {
		providers = append(providers, config.FileProvider[*settings](path))
	}
	providers = append(providers,
		config.EnvProvider[*settings](envPrefix, envDelimiter),
		config.FlagsProvider[*settings](flags),
	)

	container := config.New(&settings{}).WithProvider(providers...)
	if err := container.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return container.Raw(), container.K.Raw(), nil
}
