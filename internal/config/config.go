/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the credcache CLI configuration from a YAML file with
// CREDCACHE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/panteparak/credential-cache/pkg/cache"
	"github.com/panteparak/credential-cache/pkg/retry"
)

// EnvPrefix prefixes environment overrides, e.g. CREDCACHE_VAULT_ADDRESS.
const EnvPrefix = "CREDCACHE"

// Kind selects the source a credential is fetched from.
type Kind string

const (
	KindVaultSecret Kind = "vault-secret"
	KindVaultOIDC   Kind = "vault-oidc"
	KindAWSSecret   Kind = "aws-secret"
	KindK8sToken    Kind = "k8s-token"
	KindFileToken   Kind = "file-token"
	KindGCPJWT      Kind = "gcp-jwt"
	KindGCPIAM      Kind = "gcp-iam"
)

// IsToken reports whether credentials of this kind are JWTs whose lifetime
// comes from their exp claim.
func (k Kind) IsToken() bool {
	switch k {
	case KindVaultOIDC, KindK8sToken, KindFileToken, KindGCPJWT, KindGCPIAM:
		return true
	}
	return false
}

// UsesVault reports whether credentials of this kind need a Vault client.
func (k Kind) UsesVault() bool {
	return k == KindVaultSecret || k == KindVaultOIDC
}

// Config holds all configuration
type Config struct {
	// Margin is subtracted from a token's expiry when scheduling its refresh
	Margin time.Duration `mapstructure:"margin" validate:"gte=0"`

	// RefetchInterval is how long a secret stays cached before it is refetched
	RefetchInterval time.Duration `mapstructure:"refetchInterval" validate:"gt=0"`

	// MetricsBindAddress serves /metrics when non-empty
	MetricsBindAddress string `mapstructure:"metricsBindAddress"`

	// StatusInterval is how often the cache status is logged; zero disables it
	StatusInterval time.Duration `mapstructure:"statusInterval" validate:"gte=0"`

	Retry        RetryConfig        `mapstructure:"retry"`
	RefreshLimit RefreshLimitConfig `mapstructure:"refreshLimit"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Vault        VaultConfig        `mapstructure:"vault"`
	AWS          AWSConfig          `mapstructure:"aws"`
	Kubernetes   KubernetesConfig   `mapstructure:"kubernetes"`

	Credentials []CredentialConfig `mapstructure:"credentials" validate:"unique=Name,dive"`
}

// RetryConfig configures the retry policy applied to every fetch.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts" validate:"gte=0"`
	MinDelay time.Duration `mapstructure:"minDelay" validate:"gte=0"`
	MaxDelay time.Duration `mapstructure:"maxDelay" validate:"gte=0"`
	Factor   float64       `mapstructure:"factor" validate:"gte=0"`
	Jitter   float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// Policy converts the configuration to a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		Attempts: r.Attempts,
		MinDelay: r.MinDelay,
		MaxDelay: r.MaxDelay,
		Factor:   r.Factor,
		Jitter:   r.Jitter,
	}
}

// RefreshLimitConfig throttles expiry-driven refreshes per credential.
type RefreshLimitConfig struct {
	// PerSecond is the sustained refresh rate; zero disables the limit
	PerSecond float64 `mapstructure:"perSecond" validate:"gte=0"`
	Burst     int     `mapstructure:"burst" validate:"gte=0"`
}

// Limiter returns a new limiter, or nil when limiting is disabled.
func (r RefreshLimitConfig) Limiter() *rate.Limiter {
	if r.PerSecond <= 0 {
		return nil
	}
	burst := r.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.PerSecond), burst)
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Stdout writes finished spans to standard output
	Stdout bool `mapstructure:"stdout"`
}

// VaultConfig configures the shared Vault client and how it logs in.
type VaultConfig struct {
	Address    string        `mapstructure:"address" validate:"omitempty,url"`
	CACert     string        `mapstructure:"caCert"`
	SkipVerify bool          `mapstructure:"skipVerify"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Auth       VaultAuth     `mapstructure:"auth"`
}

// VaultAuth selects a Vault auth method and its parameters.
type VaultAuth struct {
	Method    string `mapstructure:"method" validate:"omitempty,oneof=token userpass approle kubernetes jwt aws"`
	MountPath string `mapstructure:"mountPath"`

	// token
	Token string `mapstructure:"token" validate:"required_if=Method token"`

	// userpass
	Username string `mapstructure:"username" validate:"required_if=Method userpass"`
	Password string `mapstructure:"password" validate:"required_if=Method userpass"`

	// approle
	RoleID   string `mapstructure:"roleId" validate:"required_if=Method approle"`
	SecretID string `mapstructure:"secretId"`

	// kubernetes, jwt and aws; TokenPath is the JWT presented by kubernetes and jwt
	Role      string `mapstructure:"role" validate:"required_if=Method kubernetes"`
	TokenPath string `mapstructure:"tokenPath"`

	// aws
	IAMServerIDHeader string `mapstructure:"iamServerIdHeader"`
}

// AWSConfig configures AWS access.
type AWSConfig struct {
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint" validate:"omitempty,url"`
	STSEndpoint string `mapstructure:"stsEndpoint" validate:"omitempty,url"`
}

// KubernetesConfig configures the Kubernetes client.
type KubernetesConfig struct {
	// Kubeconfig is used outside a cluster; in-cluster config is tried first
	Kubeconfig string `mapstructure:"kubeconfig"`
}

// CredentialConfig describes one cached credential.
type CredentialConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Kind Kind   `mapstructure:"kind" validate:"required,oneof=vault-secret vault-oidc aws-secret k8s-token file-token gcp-jwt gcp-iam"`

	// vault-secret
	Mount string `mapstructure:"mount"`
	Path  string `mapstructure:"path" validate:"required_if=Kind vault-secret"`
	Field string `mapstructure:"field"`

	// vault-oidc role, or the Vault role a gcp-iam token is minted for
	Role string `mapstructure:"role" validate:"required_if=Kind vault-oidc"`

	// aws-secret
	SecretID string `mapstructure:"secretId" validate:"required_if=Kind aws-secret"`

	// k8s-token
	Namespace      string        `mapstructure:"namespace" validate:"required_if=Kind k8s-token"`
	ServiceAccount string        `mapstructure:"serviceAccount" validate:"required_if=Kind k8s-token"`
	Duration       time.Duration `mapstructure:"duration" validate:"gte=0"`
	Audiences      []string      `mapstructure:"audiences"`

	// file-token path, or the gcp-jwt service account key file
	File string `mapstructure:"file" validate:"required_if=Kind gcp-jwt"`

	// gcp-jwt
	Scopes []string `mapstructure:"scopes"`

	// gcp-iam
	ServiceAccountEmail string `mapstructure:"serviceAccountEmail" validate:"required_if=Kind gcp-iam"`
}

// Load reads configuration from path, or from credcache.yaml in the working
// directory or /etc/credcache when path is empty. A missing default file is
// not an error; environment variables and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("credcache")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/credcache")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("margin", 30*time.Second)
	v.SetDefault("refetchInterval", cache.DefaultRefetchInterval)
	v.SetDefault("metricsBindAddress", ":8080")
	v.SetDefault("statusInterval", time.Minute)

	v.SetDefault("retry.attempts", retry.DefaultAttempts)
	v.SetDefault("retry.minDelay", retry.InitialRetryDelay)
	v.SetDefault("retry.maxDelay", retry.MaxRetryDelay)
	v.SetDefault("retry.factor", retry.BackoffMultiplier)
	v.SetDefault("retry.jitter", retry.JitterFactor)

	v.SetDefault("refreshLimit.perSecond", 1.0)
	v.SetDefault("refreshLimit.burst", 1)

	v.SetDefault("tracing.stdout", false)

	v.SetDefault("vault.address", "")
	v.SetDefault("vault.caCert", "")
	v.SetDefault("vault.skipVerify", false)
	v.SetDefault("vault.timeout", 30*time.Second)
	v.SetDefault("vault.auth.method", "")
	v.SetDefault("vault.auth.mountPath", "")
	v.SetDefault("vault.auth.token", "")
	v.SetDefault("vault.auth.username", "")
	v.SetDefault("vault.auth.password", "")
	v.SetDefault("vault.auth.roleId", "")
	v.SetDefault("vault.auth.secretId", "")
	v.SetDefault("vault.auth.role", "")
	v.SetDefault("vault.auth.tokenPath", "")
	v.SetDefault("vault.auth.iamServerIdHeader", "")

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.stsEndpoint", "")

	v.SetDefault("kubernetes.kubeconfig", "")
}

var validate = validator.New()

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for _, cred := range c.Credentials {
		if cred.Kind.UsesVault() {
			if c.Vault.Address == "" {
				return fmt.Errorf("invalid configuration: credential %q needs vault.address", cred.Name)
			}
			if c.Vault.Auth.Method == "" {
				return fmt.Errorf("invalid configuration: credential %q needs vault.auth.method", cred.Name)
			}
		}
	}
	return nil
}
