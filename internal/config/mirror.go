package config

import "os"

// MirrorConfig configures the optional S3-compatible copy of converted papers.
type MirrorConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Type         string `mapstructure:"type"` // r2, s3, s3compatible; empty auto-detects
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	AccessKeyEnv string `mapstructure:"access_key_env"`
	SecretKey    string `mapstructure:"secret_key"`
	SecretKeyEnv string `mapstructure:"secret_key_env"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	PublicURL    string `mapstructure:"public_url"`
	Prefix       string `mapstructure:"prefix"`
}

// ResolveEnvVars fills credentials from the named environment variables.
// Values set directly take precedence.
func (c *MirrorConfig) ResolveEnvVars() {
	if c.AccessKeyEnv != "" && c.AccessKey == "" {
		c.AccessKey = os.Getenv(c.AccessKeyEnv)
	}
	if c.SecretKeyEnv != "" && c.SecretKey == "" {
		c.SecretKey = os.Getenv(c.SecretKeyEnv)
	}
}
