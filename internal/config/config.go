package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	JWT         JWTConfig
	MercadoPago MercadoPagoConfig
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	ShutdownPeriod time.Duration `mapstructure:"shutdownPeriod"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// MercadoPagoConfig carries the processor credentials. An empty WebhookSecret
// disables webhook signature verification (insecure mode, warned at startup).
type MercadoPagoConfig struct {
	BaseURL        string        `mapstructure:"baseUrl"`
	AccessToken    string        `mapstructure:"accessToken"`
	WebhookSecret  string        `mapstructure:"webhookSecret"`
	WebhookURL     string        `mapstructure:"webhookUrl"`
	SuccessURL     string        `mapstructure:"successUrl"`
	FailureURL     string        `mapstructure:"failureUrl"`
	PendingURL     string        `mapstructure:"pendingUrl"`
	ProcessingMode string        `mapstructure:"processingMode"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
}

func LoadConfig(configPath string) (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables and config file")
	}

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.readTimeout", 5*time.Second)
	viper.SetDefault("server.writeTimeout", 10*time.Second)
	viper.SetDefault("server.idleTimeout", 120*time.Second)
	viper.SetDefault("server.shutdownPeriod", 15*time.Second)

	viper.SetDefault("database.maxOpenConns", 25)
	viper.SetDefault("database.maxIdleConns", 25)
	viper.SetDefault("database.connMaxLifetime", 5*time.Minute)

	viper.SetDefault("redis.db", "0")

	viper.SetDefault("log.level", "info")

	viper.SetDefault("jwt.ttl", 12*time.Hour)

	viper.SetDefault("mercadopago.baseUrl", "https://api.mercadopago.com")
	viper.SetDefault("mercadopago.processingMode", "aggregator")
	viper.SetDefault("mercadopago.requestTimeout", 15*time.Second)

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AllowEmptyEnv(true)

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			log.Printf("Warning: could not read config file: %s. Error: %v\n", configPath, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.MercadoPago.ProcessingMode != "aggregator" && cfg.MercadoPago.ProcessingMode != "gateway" {
		log.Printf("Unknown mercadopago processing mode '%s', falling back to 'aggregator'\n", cfg.MercadoPago.ProcessingMode)
		cfg.MercadoPago.ProcessingMode = "aggregator"
	}

	return &cfg, nil
}
