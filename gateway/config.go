// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package gateway owns the HTTP request pipeline: configuration, the
// middleware chain (error boundary, CSRF, authenticator, lineage
// extraction, rate limiting, audit tap, RBAC, ABAC), metrics, and the
// router that mounts every domain handler.
package gateway

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environments. Test-header authentication is refused outside development
// and test; CSRF enforcement applies in production only.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Environment string `yaml:"environment"`
	Port        string `yaml:"port"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	// PEM-encoded RS256 key pair for token signing. The public key alone
	// is enough for a verification-only deployment.
	JWTPrivateKeyPath string `yaml:"jwt_private_key_path"`
	JWTPublicKeyPath  string `yaml:"jwt_public_key_path"`

	EncryptionKey           string `yaml:"encryption_key"`
	CredentialEncryptionKey string `yaml:"credential_encryption_key"`

	CORSOrigins []string `yaml:"cors_origins"`

	// DefaultUserRateLimit is the per-minute cap for JWT principals.
	DefaultUserRateLimit int `yaml:"default_user_rate_limit"`
}

// Load builds the config from environment variables, with an optional
// YAML file (CONFIG_FILE) applied first so env vars win.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:          EnvDevelopment,
		Port:                 "8080",
		DefaultUserRateLimit: 1000,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.JWTPrivateKeyPath = getEnv("JWT_PRIVATE_KEY_PATH", cfg.JWTPrivateKeyPath)
	cfg.JWTPublicKeyPath = getEnv("JWT_PUBLIC_KEY_PATH", cfg.JWTPublicKeyPath)
	cfg.EncryptionKey = getEnv("ENCRYPTION_KEY", cfg.EncryptionKey)
	cfg.CredentialEncryptionKey = getEnv("CREDENTIAL_ENCRYPTION_KEY", cfg.CredentialEncryptionKey)
	cfg.DefaultUserRateLimit = getEnvInt("DEFAULT_USER_RATE_LIMIT", cfg.DefaultUserRateLimit)

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000"}
	}

	if cfg.Environment == EnvProduction {
		if cfg.EncryptionKey == "" || cfg.CredentialEncryptionKey == "" {
			return nil, fmt.Errorf("encryption keys are required in production")
		}
	}

	return cfg, nil
}

// IsProduction reports whether the process runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
