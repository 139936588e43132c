package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerName                  string `mapstructure:"SERVER_NAME"`
	ListenAddr                  string `mapstructure:"LISTEN_ADDR"`
	DatabasePath                string `mapstructure:"DB_PATH"`
	AdminAPIKey                 string `mapstructure:"ADMIN_API_KEY"`
	RegistrarBaseURL            string `mapstructure:"REGISTRAR_BASE_URL"`
	RegistrarAuthUserID         string `mapstructure:"REGISTRAR_AUTH_USERID"`
	RegistrarAPIKey             string `mapstructure:"REGISTRAR_API_KEY"`
	PaymentGatewayURL           string `mapstructure:"PAYMENT_GATEWAY_URL"`
	PaymentAPIKey               string `mapstructure:"PAYMENT_API_KEY"`
	DefaultNameservers          string `mapstructure:"DEFAULT_NAMESERVERS"`
	ExternalCallTimeoutSeconds  int    `mapstructure:"EXTERNAL_CALL_TIMEOUT_SECONDS"`
	PricingCacheTTLMinutes      int    `mapstructure:"PRICING_CACHE_TTL_MINUTES"`
	ProcessingLeaseGraceMinutes int    `mapstructure:"PROCESSING_LEASE_GRACE_MINUTES"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_NAME", "Namedepot Server")
	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("DB_PATH", "namedepot.db")
	viper.SetDefault("REGISTRAR_BASE_URL", "https://api.registrar.example/v1")
	viper.SetDefault("PAYMENT_GATEWAY_URL", "https://api.payments.example/v1")
	viper.SetDefault("DEFAULT_NAMESERVERS", "ns1.namedepot.example,ns2.namedepot.example")
	viper.SetDefault("EXTERNAL_CALL_TIMEOUT_SECONDS", 15)
	viper.SetDefault("PRICING_CACHE_TTL_MINUTES", 60)
	viper.SetDefault("PROCESSING_LEASE_GRACE_MINUTES", 15)

	viper.SetEnvPrefix("NAMEDEPOT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Support fallback loading from a file for secrets if env is not set
	viper.SetConfigFile(".env")
	// Ignore err if .env doesn't exist
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ExternalCallTimeout bounds every registrar and payment-gateway call.
func (c *Config) ExternalCallTimeout() time.Duration {
	return time.Duration(c.ExternalCallTimeoutSeconds) * time.Second
}

// ProcessingLeaseGrace is the staleness window after which a processing
// lease is treated as resumable.
func (c *Config) ProcessingLeaseGrace() time.Duration {
	return time.Duration(c.ProcessingLeaseGraceMinutes) * time.Minute
}

// NameserverList splits the comma-joined default nameserver setting.
func (c *Config) NameserverList() []string {
	parts := strings.Split(c.DefaultNameservers, ",")
	out := make([]string, 0, len(parts))
	for _, ns := range parts {
		if ns = strings.TrimSpace(ns); ns != "" {
			out = append(out, ns)
		}
	}
	return out
}
