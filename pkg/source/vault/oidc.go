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

package vault

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/panteparak/credential-cache/pkg/logger"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// LoginFunc authenticates a client before a token is requested.
type LoginFunc func(ctx context.Context, c *Client) error

// UserpassLogin returns a LoginFunc for the userpass auth method.
func UserpassLogin(username, password, mountPath string) LoginFunc {
	return func(ctx context.Context, c *Client) error {
		return c.AuthenticateUserpass(ctx, username, password, mountPath)
	}
}

// AppRoleLogin returns a LoginFunc for the AppRole auth method.
func AppRoleLogin(roleID, secretID, mountPath string) LoginFunc {
	return func(ctx context.Context, c *Client) error {
		return c.AuthenticateAppRole(ctx, roleID, secretID, mountPath)
	}
}

// KubernetesLogin returns a LoginFunc for the Kubernetes auth method.
func KubernetesLogin(role, mountPath, tokenPath string) LoginFunc {
	return func(ctx context.Context, c *Client) error {
		return c.AuthenticateKubernetes(ctx, role, mountPath, tokenPath)
	}
}

// JWTLogin returns a LoginFunc for the JWT auth method. The JWT presented is
// fetched from token on every login.
func JWTLogin(role, mountPath string, token func(ctx context.Context) (string, error)) LoginFunc {
	if mountPath == "" {
		mountPath = "jwt"
	}
	return func(ctx context.Context, c *Client) error {
		jwt, err := token(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain JWT for login: %w", err)
		}
		data := map[string]interface{}{"jwt": jwt}
		if role != "" {
			data["role"] = role
		}
		return c.LoginWithData(ctx, "jwt", fmt.Sprintf("auth/%s/login", mountPath), data)
	}
}

// OIDCIssuer signs identity tokens through Vault's identity OIDC provider.
// Every fetch logs in first, so the Vault token used to sign is never stale.
type OIDCIssuer struct {
	client *Client
	role   string
	login  LoginFunc
	log    logr.Logger
}

// NewOIDCIssuer creates an issuer for identity/oidc/token/<role>. A nil login
// uses whatever token the client already holds.
func NewOIDCIssuer(client *Client, role string, login LoginFunc, log logr.Logger) *OIDCIssuer {
	return &OIDCIssuer{
		client: client,
		role:   role,
		login:  login,
		log:    log.WithName("vault-oidc").WithValues(logger.KeySource, SourceName, "role", role),
	}
}

// Fetch returns a freshly signed identity token.
func (i *OIDCIssuer) Fetch(ctx context.Context) (string, error) {
	if i.login != nil {
		if err := i.login(ctx, i.client); err != nil {
			return "", err
		}
	}

	secret, err := i.client.Logical().ReadWithContext(ctx, "identity/oidc/token/"+i.role)
	if err != nil {
		return "", classify("sign identity token", err)
	}
	if secret == nil || secret.Data == nil {
		return "", infraerrors.NewNotFoundError(SourceName, "identity/oidc/token/"+i.role)
	}

	token, ok := secret.Data["token"].(string)
	if !ok || token == "" {
		return "", infraerrors.NewDecodeError(fmt.Sprintf("identity token response for role %q has no token", i.role), nil)
	}

	i.log.V(1).Info("identity token issued", logger.KeyToken, logger.Shorten(token))
	return token, nil
}
