package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/pagestream/pkg/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Mirror backends.
const (
	MirrorNone  = "none"
	MirrorRedis = "redis"
	MirrorBolt  = "bolt"
)

// Config holds all server configuration.
type Config struct {
	Addr     string        `mapstructure:"addr"`
	Name     string        `mapstructure:"name"`
	PageSize int           `mapstructure:"page_size"`
	Log      LogConfig     `mapstructure:"log"`
	Mirror   MirrorConfig  `mapstructure:"mirror"`
	Remote   RemoteConfig  `mapstructure:"remote"`
	Demo     DemoConfig    `mapstructure:"demo"`
	Shutdown time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MirrorConfig selects and configures the local tier
type MirrorConfig struct {
	Backend   string        `mapstructure:"backend"` // "none", "redis" or "bolt"
	Namespace string        `mapstructure:"namespace"`
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	BoltPath  string        `mapstructure:"bolt_path"`
	WarmPages int           `mapstructure:"warm_pages"` // pages per direction preloaded at startup (0: off)
}

// RemoteConfig configures the remote tier
type RemoteConfig struct {
	URL            string        `mapstructure:"url"` // empty: in-memory demo catalog
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BudgetCritical int           `mapstructure:"budget_critical"`
	BudgetWarning  int           `mapstructure:"budget_warning"`
}

// DemoConfig sizes the in-memory catalog used without a remote URL
type DemoConfig struct {
	Products int           `mapstructure:"products"`
	Start    int           `mapstructure:"start"`
	Delay    time.Duration `mapstructure:"delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("name", "products")
	v.SetDefault("page_size", 20)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("mirror.backend", MirrorNone)
	v.SetDefault("mirror.namespace", "products")
	v.SetDefault("mirror.ttl", 10*time.Minute)
	v.SetDefault("mirror.redis_addr", "localhost:6379")
	v.SetDefault("mirror.redis_db", 0)
	v.SetDefault("mirror.bolt_path", "pagestream.db")
	v.SetDefault("mirror.warm_pages", 0)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.user_agent", "pagestream-server/0.1.0")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.max_attempts", 3)
	v.SetDefault("remote.budget_critical", 5)
	v.SetDefault("remote.budget_warning", 20)
	v.SetDefault("demo.products", 200)
	v.SetDefault("demo.start", 0)
	v.SetDefault("demo.delay", 0)
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"addr":       "addr",
	"page-size":  "page_size",
	"log-level":  "log.level",
	"mirror":     "mirror.backend",
	"redis-addr": "mirror.redis_addr",
	"bolt-path":  "mirror.bolt_path",
	"warm-pages": "mirror.warm_pages",
	"remote-url": "remote.url",
}

// loadConfig reads pagestream.yaml (or configFile), PAGESTREAM_* environment
// variables and flags, in increasing precedence.
func loadConfig(configFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("pagestream")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PAGESTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be > 0 (got %d)", c.PageSize)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Mirror.Backend {
	case MirrorNone, MirrorRedis, MirrorBolt:
	default:
		return fmt.Errorf("mirror.backend must be one of none, redis, bolt (got %q)", c.Mirror.Backend)
	}
	if c.Mirror.Backend == MirrorBolt && c.Mirror.BoltPath == "" {
		return fmt.Errorf("mirror.bolt_path is required for the bolt backend")
	}
	if c.Mirror.WarmPages < 0 {
		return fmt.Errorf("mirror.warm_pages must be >= 0 (got %d)", c.Mirror.WarmPages)
	}
	if c.Remote.URL == "" && c.Demo.Products <= 0 {
		return fmt.Errorf("demo.products must be > 0 without remote.url")
	}
	return nil
}
