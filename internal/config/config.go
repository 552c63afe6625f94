package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	API        APIConfig
	Dispatcher DispatcherConfig
	Ebay       OAuthMarketplaceConfig
	Etsy       OAuthMarketplaceConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type APIConfig struct {
	Key string
}

type DispatcherConfig struct {
	PollInterval   time.Duration
	DrainPerCycle  int
	VintedInterval time.Duration
	VintedJitter   time.Duration
	RelayTimeout   time.Duration
	RetryBase      time.Duration
	RetryMax       time.Duration
	PendingTTL     time.Duration
	RunningTimeout time.Duration
}

// OAuthMarketplaceConfig holds one direct-API marketplace's OAuth2
// application settings.
type OAuthMarketplaceConfig struct {
	APIBase      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("DISPATCH_POLL_INTERVAL", "5s")
	viper.SetDefault("DISPATCH_DRAIN_PER_CYCLE", 10)
	viper.SetDefault("DISPATCH_VINTED_INTERVAL", "2m")
	viper.SetDefault("DISPATCH_VINTED_JITTER", "1m")
	viper.SetDefault("DISPATCH_RELAY_TIMEOUT", "30s")
	viper.SetDefault("DISPATCH_RETRY_BASE", "30s")
	viper.SetDefault("DISPATCH_RETRY_MAX", "30m")
	viper.SetDefault("DISPATCH_PENDING_TTL", "24h")
	viper.SetDefault("DISPATCH_RUNNING_TIMEOUT", "10m")
	viper.SetDefault("EBAY_API_BASE", "https://api.ebay.com")
	viper.SetDefault("EBAY_TOKEN_URL", "https://api.ebay.com/identity/v1/oauth2/token")
	viper.SetDefault("ETSY_API_BASE", "https://openapi.etsy.com")
	viper.SetDefault("ETSY_TOKEN_URL", "https://api.etsy.com/v3/public/oauth/token")

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
		Dispatcher: DispatcherConfig{
			PollInterval:   viper.GetDuration("DISPATCH_POLL_INTERVAL"),
			DrainPerCycle:  viper.GetInt("DISPATCH_DRAIN_PER_CYCLE"),
			VintedInterval: viper.GetDuration("DISPATCH_VINTED_INTERVAL"),
			VintedJitter:   viper.GetDuration("DISPATCH_VINTED_JITTER"),
			RelayTimeout:   viper.GetDuration("DISPATCH_RELAY_TIMEOUT"),
			RetryBase:      viper.GetDuration("DISPATCH_RETRY_BASE"),
			RetryMax:       viper.GetDuration("DISPATCH_RETRY_MAX"),
			PendingTTL:     viper.GetDuration("DISPATCH_PENDING_TTL"),
			RunningTimeout: viper.GetDuration("DISPATCH_RUNNING_TIMEOUT"),
		},
		Ebay: OAuthMarketplaceConfig{
			APIBase:      viper.GetString("EBAY_API_BASE"),
			TokenURL:     viper.GetString("EBAY_TOKEN_URL"),
			ClientID:     viper.GetString("EBAY_CLIENT_ID"),
			ClientSecret: viper.GetString("EBAY_CLIENT_SECRET"),
		},
		Etsy: OAuthMarketplaceConfig{
			APIBase:      viper.GetString("ETSY_API_BASE"),
			TokenURL:     viper.GetString("ETSY_TOKEN_URL"),
			ClientID:     viper.GetString("ETSY_CLIENT_ID"),
			ClientSecret: viper.GetString("ETSY_CLIENT_SECRET"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.API.Key == "" {
		log.Println("WARNING: API_KEY is not set")
	}

	return cfg, nil
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
