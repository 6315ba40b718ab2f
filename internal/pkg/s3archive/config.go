package s3archive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/trackmystartup/tms-payments/internal/pkg/env"
)

// Config holds S3 archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "ap-south-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("S3_ARCHIVE_PREFIX", ""), "/"),
		Enabled:         env.GetBool("S3_ARCHIVE_ENABLED", false),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the required fields of an enabled archive.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.AccessKeyID == "" {
		return errors.New("S3_ACCESS_KEY_ID is required when the S3 archive is enabled")
	}
	if c.SecretAccessKey == "" {
		return errors.New("S3_SECRET_ACCESS_KEY is required when the S3 archive is enabled")
	}
	if c.BucketName == "" {
		return errors.New("S3_BUCKET_NAME is required when the S3 archive is enabled")
	}
	return nil
}

// IsEnabled returns true if the S3 archive is enabled
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled
}

// ObjectKey prefixes key with the configured archive prefix.
func (c *Config) ObjectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if c.Prefix == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", c.Prefix, key)
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}
