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

// Package vault fetches credentials from HashiCorp Vault: KV v2 secrets and
// identity OIDC tokens issued after a userpass, AppRole or Kubernetes login.
package vault

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"

	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// SourceName labels errors and logs produced by this package.
const SourceName = "vault"

// Client wraps the Vault API client with login helpers.
type Client struct {
	*api.Client

	mu            sync.RWMutex
	authenticated bool
}

// ClientConfig holds configuration for creating a Vault client
type ClientConfig struct {
	Address   string
	TLSConfig *TLSConfig
	Timeout   time.Duration
}

// TLSConfig holds TLS configuration for Vault client
type TLSConfig struct {
	CACert     string
	SkipVerify bool
}

// NewClient creates a new Vault client with the given configuration
func NewClient(cfg ClientConfig) (*Client, error) {
	config := api.DefaultConfig()
	config.Address = cfg.Address

	if cfg.Timeout > 0 {
		config.Timeout = cfg.Timeout
	}

	if cfg.TLSConfig != nil {
		if cfg.TLSConfig.CACert != "" {
			if err := config.ConfigureTLS(&api.TLSConfig{
				CACert:   cfg.TLSConfig.CACert,
				Insecure: cfg.TLSConfig.SkipVerify,
			}); err != nil {
				return nil, fmt.Errorf("failed to configure TLS: %w", err)
			}
		} else if cfg.TLSConfig.SkipVerify {
			config.HttpClient.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in for dev servers
			}
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	return &Client{Client: client}, nil
}

// IsAuthenticated returns whether a login has succeeded on this client
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Client) setAuthenticated(token string) {
	c.SetToken(token)
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
}

// forgetLogin marks the held token as unusable so the next fetch logs in again.
func (c *Client) forgetLogin() {
	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()
}

// IsPermissionDenied reports whether err carries a Vault 403 response, which
// is what Vault answers once the client token has expired or been revoked.
func IsPermissionDenied(err error) bool {
	var respErr *api.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusForbidden
}

// IsHealthy checks if Vault is healthy and the client can connect
func (c *Client) IsHealthy(ctx context.Context) (bool, error) {
	health, err := c.Sys().HealthWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("vault health check failed: %w", err)
	}

	// Vault is healthy if initialized and unsealed
	return health.Initialized && !health.Sealed, nil
}

// AuthenticateToken authenticates using a static token
func (c *Client) AuthenticateToken(token string) error {
	if token == "" {
		return infraerrors.NewValidationError("token", "", "token cannot be empty")
	}
	c.setAuthenticated(token)
	return nil
}

// AuthenticateUserpass authenticates using the userpass auth method
func (c *Client) AuthenticateUserpass(ctx context.Context, username, password, mountPath string) error {
	if mountPath == "" {
		mountPath = "userpass"
	}

	path := fmt.Sprintf("auth/%s/login/%s", mountPath, username)
	return c.login(ctx, "userpass", path, map[string]interface{}{
		"password": password,
	})
}

// AuthenticateAppRole authenticates using the AppRole auth method
func (c *Client) AuthenticateAppRole(ctx context.Context, roleID, secretID, mountPath string) error {
	if mountPath == "" {
		mountPath = "approle"
	}

	path := fmt.Sprintf("auth/%s/login", mountPath)
	return c.login(ctx, "approle", path, map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
}

// AuthenticateKubernetes authenticates using the Kubernetes auth method
func (c *Client) AuthenticateKubernetes(ctx context.Context, role, mountPath, tokenPath string) error {
	if mountPath == "" {
		mountPath = "kubernetes"
	}
	if tokenPath == "" {
		tokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	}

	jwt, err := os.ReadFile(tokenPath)
	if err != nil {
		return fmt.Errorf("failed to read service account token: %w", err)
	}

	path := fmt.Sprintf("auth/%s/login", mountPath)
	return c.login(ctx, "kubernetes", path, map[string]interface{}{
		"role": role,
		"jwt":  string(jwt),
	})
}

// LoginWithData writes data to an auth login path and stores the returned token.
// method names the auth method in errors.
func (c *Client) LoginWithData(ctx context.Context, method, path string, data map[string]interface{}) error {
	return c.login(ctx, method, path, data)
}

func (c *Client) login(ctx context.Context, method, path string, data map[string]interface{}) error {
	secret, err := c.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return classify(method+" login", err)
	}

	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("%s auth returned no token", method)
	}

	c.setAuthenticated(secret.Auth.ClientToken)
	return nil
}

// classify marks client errors other than rate limiting as not worth retrying.
func classify(operation string, err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode >= 400 && respErr.StatusCode < 500 &&
		respErr.StatusCode != http.StatusTooManyRequests {
		return &infraerrors.TransientError{Operation: operation, Cause: err, Retryable: false}
	}
	return infraerrors.NewTransientError(operation, err)
}
