/**
 * @description
 * This file handles the configuration management for the bank-link-service.
 * It uses the Viper library to read settings from environment variables or a
 * .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 */
package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	DatabaseURL         string   `mapstructure:"DATABASE_URL"`
	RabbitMQURL         string   `mapstructure:"RABBITMQ_URL"`
	RedisURL            string   `mapstructure:"REDIS_URL"`
	PlaidClientID       string   `mapstructure:"PLAID_CLIENT_ID"`
	PlaidSecret         string   `mapstructure:"PLAID_SECRET"`
	PlaidAPIBaseURL     string   `mapstructure:"PLAID_API_BASE_URL"`
	PlaidWebhookSecret  string   `mapstructure:"PLAID_WEBHOOK_SECRET"`
	StripeSecretKey     string   `mapstructure:"STRIPE_SECRET_KEY"`
	StripeAPIBaseURL    string   `mapstructure:"STRIPE_API_BASE_URL"`
	CredentialKey       string   `mapstructure:"CREDENTIAL_ENCRYPTION_KEY"`
	ClerkJWKSURL        string   `mapstructure:"CLERK_JWKS_URL"`
	ServerPort          string   `mapstructure:"SERVER_PORT"`
	RateLimitPerMinute  int      `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	AllowedOriginsRaw   string   `mapstructure:"ALLOWED_ORIGINS"`
	AllowedOrigins      []string `mapstructure:"-"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("PLAID_API_BASE_URL", "https://sandbox.plaid.com")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("ALLOWED_ORIGINS", "*")

	// Bind envs explicitly so containers pick them up reliably
	for _, key := range []string{
		"DATABASE_URL", "RABBITMQ_URL", "REDIS_URL",
		"PLAID_CLIENT_ID", "PLAID_SECRET", "PLAID_API_BASE_URL", "PLAID_WEBHOOK_SECRET",
		"STRIPE_SECRET_KEY", "STRIPE_API_BASE_URL",
		"CREDENTIAL_ENCRYPTION_KEY", "CLERK_JWKS_URL",
		"SERVER_PORT", "RATE_LIMIT_PER_MINUTE", "ALLOWED_ORIGINS",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Warning: Error reading config file: %s", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if len(config.CredentialKey) != 32 {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be exactly 32 bytes")
	}

	config.AllowedOrigins = splitOrigins(config.AllowedOriginsRaw)

	return &config, nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
