package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL             string
	Owner              string
	FromBlock          uint64
	ToBlock            uint64
	BatchSize          uint64
	WithTimestamps     bool
	MaxRetries         int
	RetryBackoff       time.Duration
	MetadataURL        string
	ListenAddr         string
	ResolveConcurrency int
	LogLevel           string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APPROVALS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch-size", uint64(10000))
	v.SetDefault("with-timestamps", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("listen-addr", ":8080")
	v.SetDefault("resolve-concurrency", 8)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:             v.GetString("rpc"),
		Owner:              v.GetString("owner"),
		FromBlock:          v.GetUint64("from"),
		ToBlock:            v.GetUint64("to"),
		BatchSize:          v.GetUint64("batch-size"),
		WithTimestamps:     v.GetBool("with-timestamps"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryBackoff:       v.GetDuration("retry-backoff"),
		MetadataURL:        v.GetString("metadata-url"),
		ListenAddr:         v.GetString("listen-addr"),
		ResolveConcurrency: v.GetInt("resolve-concurrency"),
		LogLevel:           v.GetString("log-level"),
	}

	return cfg, nil
}
