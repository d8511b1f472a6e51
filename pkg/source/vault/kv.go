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
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/hashicorp/vault/api"

	"github.com/panteparak/credential-cache/pkg/logger"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// DefaultField is the KV data field read when none is configured.
const DefaultField = "value"

// SecretSource reads one field of a KV v2 secret. The fetch key is the
// secret path relative to the mount.
type SecretSource struct {
	client *Client
	mount  string
	field  string
	login  LoginFunc
	log    logr.Logger
}

// NewSecretSource creates a SecretSource for the KV v2 engine at mount.
func NewSecretSource(client *Client, mount, field string, log logr.Logger) *SecretSource {
	if mount == "" {
		mount = "secret"
	}
	if field == "" {
		field = DefaultField
	}
	return &SecretSource{
		client: client,
		mount:  mount,
		field:  field,
		log:    log.WithName("vault-kv").WithValues(logger.KeySource, SourceName),
	}
}

// WithLogin makes Fetch log in before the first read, and log in again and
// retry once when Vault rejects the held token.
func (s *SecretSource) WithLogin(login LoginFunc) *SecretSource {
	s.login = login
	return s
}

// Fetch reads the configured field of the latest version of the secret at path.
func (s *SecretSource) Fetch(ctx context.Context, path string) (string, error) {
	if s.login != nil && !s.client.IsAuthenticated() {
		if err := s.login(ctx, s.client); err != nil {
			return "", err
		}
	}

	value, err := s.read(ctx, path)
	if err == nil || s.login == nil || !IsPermissionDenied(err) {
		return value, err
	}

	s.log.Info("vault token rejected, logging in again", "mount", s.mount, "path", path)
	s.client.forgetLogin()
	if err := s.login(ctx, s.client); err != nil {
		return "", err
	}
	return s.read(ctx, path)
}

func (s *SecretSource) read(ctx context.Context, path string) (string, error) {
	s.log.V(1).Info("reading secret", "mount", s.mount, "path", path)

	secret, err := s.client.KVv2(s.mount).Get(ctx, path)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return "", infraerrors.NewNotFoundError(SourceName, s.mount+"/"+path)
		}
		return "", classify("read secret", err)
	}

	raw, ok := secret.Data[s.field]
	if !ok {
		return "", infraerrors.NewNotFoundError(SourceName, fmt.Sprintf("%s/%s#%s", s.mount, path, s.field))
	}
	value, ok := raw.(string)
	if !ok {
		return "", infraerrors.NewDecodeError(fmt.Sprintf("field %q is %T, not a string", s.field, raw), nil)
	}
	return value, nil
}
