// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package config loads blockhost configuration from a YAML file and
// command-line flags. Flags win over the file, the file wins over the
// defaults.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/blockhost/blockhost/internal/logging"
	"github.com/blockhost/blockhost/internal/security"
	"github.com/blockhost/blockhost/internal/xdg"
)

// CodeInvalid is the error code for configuration that fails validation.
const CodeInvalid = "CONFIG_INVALID"

// Config is the full blockhost configuration.
type Config struct {
	Log        Log             `koanf:"log"`
	Metrics    Metrics         `koanf:"metrics"`
	Database   Database        `koanf:"database"`
	Extensions Extensions      `koanf:"extensions"`
	Library    Library         `koanf:"library"`
	L10n       L10n            `koanf:"l10n"`
	Security   security.Policy `koanf:"security"`
}

// Log configures structured logging.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Metrics configures the observability HTTP server. An empty address
// disables it.
type Metrics struct {
	Addr string `koanf:"addr"`
}

// Database configures the Postgres alias store. An empty URL keeps
// aliases in memory.
type Database struct {
	URL         string `koanf:"url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// Extensions configures the extension manager.
type Extensions struct {
	PlatformNamespace        string        `koanf:"platform_namespace"`
	AssetPrefix              string        `koanf:"asset_prefix"`
	Catalogs                 []string      `koanf:"catalogs"`
	Builtins                 []string      `koanf:"builtins"`
	Load                     []string      `koanf:"load"`
	ShowCompatibilityWarning bool          `koanf:"show_compatibility_warning"`
	Compatible               []string      `koanf:"compatible"`
	CallTimeout              time.Duration `koanf:"call_timeout"`
}

// Library configures library document fetching.
type Library struct {
	Retries     uint64        `koanf:"retries"`
	Backoff     time.Duration `koanf:"backoff"`
	HostVersion string        `koanf:"host_version"`
}

// L10n configures message formatting.
type L10n struct {
	Locale       string `koanf:"locale"`
	Translations string `koanf:"translations"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Log:     Log{Format: "json", Level: "info"},
		Metrics: Metrics{Addr: "127.0.0.1:9100"},
		Extensions: Extensions{
			Builtins:    []string{"text", "counter"},
			CallTimeout: 5 * time.Second,
		},
		Library: Library{
			Retries: 3,
			Backoff: 200 * time.Millisecond,
		},
		L10n:     L10n{Locale: "en"},
		Security: security.Policy{UpgradeHTTP: true},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"log-format":      "log.format",
	"log-level":       "log.level",
	"metrics-addr":    "metrics.addr",
	"database-url":    "database.url",
	"auto-migrate":    "database.auto_migrate",
	"catalog":         "extensions.catalogs",
	"builtin":         "extensions.builtins",
	"call-timeout":    "extensions.call_timeout",
	"locale":          "l10n.locale",
	"translations":    "l10n.translations",
	"allow-untrusted": "security.allow_untrusted",
	"trusted":         "security.trusted",
}

// RegisterFlags adds the config override flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.String("log-format", d.Log.Format, "log format (json or text)")
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	flags.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	flags.String("database-url", "", "postgres URL for the alias store (default: $DATABASE_URL, empty = in memory)")
	flags.Bool("auto-migrate", false, "apply pending migrations on start")
	flags.StringSlice("catalog", nil, "official library catalog URL (repeatable)")
	flags.StringSlice("builtin", d.Extensions.Builtins, "built-in extension to load on start (repeatable)")
	flags.Duration("call-timeout", d.Extensions.CallTimeout, "timeout for a single worker call")
	flags.String("locale", d.L10n.Locale, "locale for menu and warning text")
	flags.String("translations", "", "YAML translations file")
	flags.Bool("allow-untrusted", false, "admit extension hosts matching neither trusted nor denied patterns")
	flags.StringSlice("trusted", nil, "trusted extension host pattern (repeatable)")
}

// Load reads path (or the XDG default when path is empty) and applies
// the flags that were set explicitly. A missing default file is not
// an error; a missing explicit file is.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		p, err := xdg.ConfigFile()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.In("config").Code(CodeInvalid).With("path", path).Wrapf(err, "load config file")
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code(CodeInvalid).Wrapf(err, "load flags")
		}
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code(CodeInvalid).With("path", path).Wrapf(err, "decode config")
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.In("config").Code(CodeInvalid)

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return errb.With("log.format", c.Log.Format).Errorf("log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errb.With("log.level", c.Log.Level).Wrap(err)
	}
	if c.Extensions.CallTimeout <= 0 {
		return errb.With("extensions.call_timeout", c.Extensions.CallTimeout).Errorf("call timeout must be positive")
	}
	if c.Library.HostVersion != "" {
		if _, err := semver.NewVersion(c.Library.HostVersion); err != nil {
			return errb.With("library.host_version", c.Library.HostVersion).Wrapf(err, "invalid host version")
		}
	}
	if _, err := security.NewGate(c.Security); err != nil {
		return errb.Wrap(err)
	}
	return nil
}

// HostVersion returns the parsed host version, or nil when unset.
func (c *Config) HostVersion() *semver.Version {
	if c.Library.HostVersion == "" {
		return nil
	}
	v, err := semver.NewVersion(c.Library.HostVersion)
	if err != nil {
		return nil
	}
	return v
}
