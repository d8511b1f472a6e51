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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/panteparak/credential-cache/pkg/cache"
	"github.com/panteparak/credential-cache/pkg/retry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credcache.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Margin != 30*time.Second {
		t.Errorf("Margin = %v, want 30s", cfg.Margin)
	}
	if cfg.RefetchInterval != cache.DefaultRefetchInterval {
		t.Errorf("RefetchInterval = %v, want %v", cfg.RefetchInterval, cache.DefaultRefetchInterval)
	}
	if cfg.MetricsBindAddress != ":8080" {
		t.Errorf("MetricsBindAddress = %q, want :8080", cfg.MetricsBindAddress)
	}
	if cfg.Retry.Attempts != retry.DefaultAttempts {
		t.Errorf("Retry.Attempts = %d, want %d", cfg.Retry.Attempts, retry.DefaultAttempts)
	}
	if cfg.Retry.MinDelay != retry.InitialRetryDelay {
		t.Errorf("Retry.MinDelay = %v, want %v", cfg.Retry.MinDelay, retry.InitialRetryDelay)
	}
	if cfg.Vault.Timeout != 30*time.Second {
		t.Errorf("Vault.Timeout = %v, want 30s", cfg.Vault.Timeout)
	}
	if len(cfg.Credentials) != 0 {
		t.Errorf("Credentials = %v, want none", cfg.Credentials)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
margin: 45s
refetchInterval: 2m
retry:
  attempts: 5
  minDelay: 200ms
vault:
  address: https://vault.example.com:8200
  auth:
    method: approle
    roleId: role-id
    secretId: secret-id
aws:
  region: eu-west-1
credentials:
  - name: db
    kind: vault-secret
    mount: kv
    path: app/db
    field: password
  - name: identity
    kind: vault-oidc
    role: app
  - name: api-key
    kind: aws-secret
    secretId: prod/api-key
  - name: sa
    kind: k8s-token
    namespace: default
    serviceAccount: app
    duration: 10m
    audiences: [vault, sts.amazonaws.com]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Margin != 45*time.Second {
		t.Errorf("Margin = %v, want 45s", cfg.Margin)
	}
	if cfg.RefetchInterval != 2*time.Minute {
		t.Errorf("RefetchInterval = %v, want 2m", cfg.RefetchInterval)
	}
	if cfg.Retry.Attempts != 5 || cfg.Retry.MinDelay != 200*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Retry.MaxDelay != retry.MaxRetryDelay {
		t.Errorf("Retry.MaxDelay = %v, want default %v", cfg.Retry.MaxDelay, retry.MaxRetryDelay)
	}
	if cfg.Vault.Auth.Method != "approle" || cfg.Vault.Auth.RoleID != "role-id" {
		t.Errorf("Vault.Auth = %+v", cfg.Vault.Auth)
	}
	if cfg.AWS.Region != "eu-west-1" {
		t.Errorf("AWS.Region = %q", cfg.AWS.Region)
	}

	if len(cfg.Credentials) != 4 {
		t.Fatalf("len(Credentials) = %d, want 4", len(cfg.Credentials))
	}
	db := cfg.Credentials[0]
	if db.Kind != KindVaultSecret || db.Mount != "kv" || db.Path != "app/db" || db.Field != "password" {
		t.Errorf("Credentials[0] = %+v", db)
	}
	sa := cfg.Credentials[3]
	if sa.Duration != 10*time.Minute || len(sa.Audiences) != 2 {
		t.Errorf("Credentials[3] = %+v", sa)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "margin: 45s\n")
	t.Setenv("CREDCACHE_MARGIN", "1m")
	t.Setenv("CREDCACHE_VAULT_ADDRESS", "http://127.0.0.1:8200")
	t.Setenv("CREDCACHE_RETRY_ATTEMPTS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Margin != time.Minute {
		t.Errorf("Margin = %v, want 1m from env", cfg.Margin)
	}
	if cfg.Vault.Address != "http://127.0.0.1:8200" {
		t.Errorf("Vault.Address = %q, want env value", cfg.Vault.Address)
	}
	if cfg.Retry.Attempts != 7 {
		t.Errorf("Retry.Attempts = %d, want 7", cfg.Retry.Attempts)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing explicit file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "negative margin",
			content: "margin: -1s\n",
			wantMsg: "Margin",
		},
		{
			name:    "jitter above one",
			content: "retry:\n  jitter: 1.5\n",
			wantMsg: "Jitter",
		},
		{
			name: "unknown kind",
			content: `
credentials:
  - name: x
    kind: ldap
`,
			wantMsg: "Kind",
		},
		{
			name: "duplicate names",
			content: `
credentials:
  - name: x
    kind: file-token
  - name: x
    kind: file-token
`,
			wantMsg: "Credentials",
		},
		{
			name: "vault secret without path",
			content: `
vault:
  address: http://vault:8200
  auth: {method: token, token: t}
credentials:
  - name: db
    kind: vault-secret
`,
			wantMsg: "Path",
		},
		{
			name: "vault credential without address",
			content: `
credentials:
  - name: id
    kind: vault-oidc
    role: app
`,
			wantMsg: "vault.address",
		},
		{
			name: "vault credential without auth method",
			content: `
vault:
  address: http://vault:8200
credentials:
  - name: id
    kind: vault-oidc
    role: app
`,
			wantMsg: "vault.auth.method",
		},
		{
			name: "userpass without password",
			content: `
vault:
  auth: {method: userpass, username: u}
`,
			wantMsg: "Password",
		},
		{
			name: "k8s token without service account",
			content: `
credentials:
  - name: sa
    kind: k8s-token
    namespace: default
`,
			wantMsg: "ServiceAccount",
		},
		{
			name: "gcp iam without email",
			content: `
credentials:
  - name: gcp
    kind: gcp-iam
    role: app
`,
			wantMsg: "ServiceAccountEmail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		kind      Kind
		token     bool
		usesVault bool
	}{
		{KindVaultSecret, false, true},
		{KindVaultOIDC, true, true},
		{KindAWSSecret, false, false},
		{KindK8sToken, true, false},
		{KindFileToken, true, false},
		{KindGCPJWT, true, false},
		{KindGCPIAM, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.IsToken(); got != tt.token {
				t.Errorf("IsToken() = %v, want %v", got, tt.token)
			}
			if got := tt.kind.UsesVault(); got != tt.usesVault {
				t.Errorf("UsesVault() = %v, want %v", got, tt.usesVault)
			}
		})
	}
}

func TestRefreshLimitConfig_Limiter(t *testing.T) {
	if l := (RefreshLimitConfig{}).Limiter(); l != nil {
		t.Error("Limiter() should be nil when disabled")
	}

	l := RefreshLimitConfig{PerSecond: 2}.Limiter()
	if l == nil {
		t.Fatal("Limiter() = nil, want limiter")
	}
	if l.Burst() != 1 {
		t.Errorf("Burst() = %d, want 1", l.Burst())
	}
	if float64(l.Limit()) != 2 {
		t.Errorf("Limit() = %v, want 2", l.Limit())
	}
}

func TestRetryConfig_Policy(t *testing.T) {
	p := RetryConfig{Attempts: 4, MinDelay: time.Second, MaxDelay: time.Minute, Factor: 3, Jitter: 0.2}.Policy()
	if p.Attempts != 4 || p.MinDelay != time.Second || p.MaxDelay != time.Minute || p.Factor != 3 || p.Jitter != 0.2 {
		t.Errorf("Policy() = %+v", p)
	}
}
