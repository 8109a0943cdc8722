package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
	MigrationsPath string
}

type RedisConfig struct {
	URL string
}

type ProviderConfig struct {
	RequestTimeout         time.Duration
	MaxRetries             int
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration
	RateLimitFallback      time.Duration
	RateLimitMargin        time.Duration
	CountRateLimitInBudget bool
	InterCallDelay         time.Duration
}

type EngineConfig struct {
	BusinessTimezone string
	TriggerHour      int
	Ranges           []string
	TriggerQueueSize int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("PULSE")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("database.migrationspath", "migrations")
	viper.SetDefault("provider.requesttimeout", "30s")
	viper.SetDefault("provider.maxretries", 10)
	viper.SetDefault("provider.basebackoff", "5s")
	viper.SetDefault("provider.maxbackoff", "60s")
	viper.SetDefault("provider.ratelimitfallback", "30s")
	viper.SetDefault("provider.ratelimitmargin", "2s")
	viper.SetDefault("provider.countratelimitinbudget", false)
	viper.SetDefault("provider.intercalldelay", "3s")
	viper.SetDefault("engine.businesstimezone", "America/Sao_Paulo")
	viper.SetDefault("engine.triggerhour", 6)
	viper.SetDefault("engine.ranges", []string{"lastWeek", "lastMonth", "lastQuarter"})
	viper.SetDefault("engine.triggerqueuesize", 100)

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}

	return &cfg, nil
}
