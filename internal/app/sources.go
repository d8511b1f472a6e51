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

package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/panteparak/credential-cache/internal/config"
	"github.com/panteparak/credential-cache/pkg/jwtcache"
	awssrc "github.com/panteparak/credential-cache/pkg/source/aws"
	gcpsrc "github.com/panteparak/credential-cache/pkg/source/gcp"
	k8ssrc "github.com/panteparak/credential-cache/pkg/source/kubernetes"
	"github.com/panteparak/credential-cache/pkg/source/vault"
	"github.com/panteparak/credential-cache/pkg/task"
)

// sources lazily builds the clients credentials are fetched through, so a
// config that never mentions AWS never loads AWS credentials.
type sources struct {
	app *App

	vaultOnce  sync.Once
	vault      *vault.Client
	vaultLogin vault.LoginFunc
	vaultErr   error

	awsOnce sync.Once
	aws     *awssrc.SecretSource
	awsErr  error

	k8sOnce sync.Once
	k8s     kubernetes.Interface
	k8sErr  error
}

func (s *sources) vaultClient() (*vault.Client, vault.LoginFunc, error) {
	s.vaultOnce.Do(func() {
		cfg := s.app.cfg.Vault

		clientCfg := vault.ClientConfig{Address: cfg.Address, Timeout: cfg.Timeout}
		if cfg.CACert != "" || cfg.SkipVerify {
			clientCfg.TLSConfig = &vault.TLSConfig{CACert: cfg.CACert, SkipVerify: cfg.SkipVerify}
		}

		s.vault, s.vaultErr = vault.NewClient(clientCfg)
		if s.vaultErr != nil {
			return
		}
		s.vaultLogin, s.vaultErr = vaultLogin(s.app.cfg)
	})
	return s.vault, s.vaultLogin, s.vaultErr
}

func vaultLogin(cfg *config.Config) (vault.LoginFunc, error) {
	auth := cfg.Vault.Auth
	switch auth.Method {
	case "token":
		return func(_ context.Context, c *vault.Client) error {
			return c.AuthenticateToken(auth.Token)
		}, nil
	case "userpass":
		return vault.UserpassLogin(auth.Username, auth.Password, auth.MountPath), nil
	case "approle":
		return vault.AppRoleLogin(auth.RoleID, auth.SecretID, auth.MountPath), nil
	case "kubernetes":
		return vault.KubernetesLogin(auth.Role, auth.MountPath, auth.TokenPath), nil
	case "jwt":
		return vault.JWTLogin(auth.Role, auth.MountPath, k8ssrc.NewFileIssuer(auth.TokenPath, logr.Discard()).Fetch), nil
	case "aws":
		return awssrc.VaultLogin(awssrc.IAMLoginOptions{
			Options:                awsOptions(cfg),
			Role:                   auth.Role,
			MountPath:              auth.MountPath,
			IAMServerIDHeaderValue: auth.IAMServerIDHeader,
		}), nil
	}
	return nil, fmt.Errorf("unsupported vault auth method %q", auth.Method)
}

// vaultPrincipal names who the Vault login authenticates as.
func vaultPrincipal(auth config.VaultAuth) string {
	switch auth.Method {
	case "userpass":
		return auth.Username
	case "approle":
		return auth.RoleID
	case "kubernetes", "jwt", "aws":
		return auth.Role
	}
	return auth.Method
}

func awsOptions(cfg *config.Config) awssrc.Options {
	return awssrc.Options{
		Region:      cfg.AWS.Region,
		Endpoint:    cfg.AWS.Endpoint,
		STSEndpoint: cfg.AWS.STSEndpoint,
	}
}

func (s *sources) awsSecrets(ctx context.Context) (*awssrc.SecretSource, error) {
	s.awsOnce.Do(func() {
		if s.app.secretsManager != nil {
			s.aws = awssrc.NewSecretSource(s.app.secretsManager, s.app.log)
			return
		}
		s.aws, s.awsErr = awssrc.New(ctx, awsOptions(s.app.cfg), s.app.log)
	})
	return s.aws, s.awsErr
}

func (s *sources) kubernetes() (kubernetes.Interface, error) {
	s.k8sOnce.Do(func() {
		if s.app.clientset != nil {
			s.k8s = s.app.clientset
			return
		}

		restCfg, err := rest.InClusterConfig()
		if err != nil {
			restCfg, err = clientcmd.BuildConfigFromFlags("", s.app.cfg.Kubernetes.Kubeconfig)
		}
		if err != nil {
			s.k8sErr = fmt.Errorf("failed to load kubernetes config: %w", err)
			return
		}
		s.k8s, s.k8sErr = kubernetes.NewForConfig(restCfg)
	})
	return s.k8s, s.k8sErr
}

// vaultSecret returns a fetcher that reads the configured KV field, logging in
// first and again whenever Vault rejects the token the client holds.
func (s *sources) vaultSecret(cred config.CredentialConfig) (task.Fetcher, error) {
	client, login, err := s.vaultClient()
	if err != nil {
		return nil, err
	}

	kv := vault.NewSecretSource(client, cred.Mount, cred.Field, s.app.log).WithLogin(login)
	return task.FetchFunc(func(ctx context.Context) (string, error) {
		return kv.Fetch(ctx, cred.Path)
	}), nil
}

// tokenSource describes the JWT issuer for a token credential.
func (s *sources) tokenSource(ctx context.Context, cred config.CredentialConfig) (task.JWTSource, error) {
	switch cred.Kind {
	case config.KindVaultOIDC:
		client, login, err := s.vaultClient()
		if err != nil {
			return task.JWTSource{}, err
		}
		auth := s.app.cfg.Vault.Auth
		return task.JWTSource{
			Endpoint:   s.app.cfg.Vault.Address,
			Principal:  cred.Role,
			Credential: jwtcache.Join(auth.Method, vaultPrincipal(auth)),
			Issuer:     vault.NewOIDCIssuer(client, cred.Role, login, s.app.log),
		}, nil

	case config.KindK8sToken:
		clientset, err := s.kubernetes()
		if err != nil {
			return task.JWTSource{}, err
		}
		sa := k8ssrc.ServiceAccountRef{Namespace: cred.Namespace, Name: cred.ServiceAccount}
		return task.JWTSource{
			Endpoint:   k8ssrc.SourceName,
			Principal:  sa.String(),
			Credential: strings.Join(cred.Audiences, ","),
			Issuer: k8ssrc.NewTokenRequestIssuer(clientset, k8ssrc.TokenRequestOptions{
				ServiceAccount: sa,
				Duration:       cred.Duration,
				Audiences:      cred.Audiences,
			}, s.app.log),
		}, nil

	case config.KindFileToken:
		issuer := k8ssrc.NewFileIssuer(cred.File, s.app.log)
		return task.JWTSource{
			Endpoint:  "file",
			Principal: issuer.Path(),
			Issuer:    issuer,
		}, nil

	case config.KindGCPJWT:
		keyJSON, err := os.ReadFile(cred.File)
		if err != nil {
			return task.JWTSource{}, fmt.Errorf("failed to read service account key %s: %w", cred.File, err)
		}
		return task.JWTSource{
			Endpoint:   gcpsrc.SourceName,
			Principal:  cred.File,
			Credential: strings.Join(cred.Scopes, ","),
			Issuer:     gcpsrc.NewJWTIssuer(keyJSON, cred.Scopes, s.app.log),
		}, nil

	case config.KindGCPIAM:
		issuer, err := gcpsrc.NewIAMIssuer(ctx, gcpsrc.IAMOptions{
			ServiceAccountEmail: cred.ServiceAccountEmail,
			Role:                cred.Role,
			ClientOptions:       s.app.gcpOptions,
		}, s.app.log)
		if err != nil {
			return task.JWTSource{}, err
		}
		return task.JWTSource{
			Endpoint:   gcpsrc.SourceName + "-iam",
			Principal:  cred.ServiceAccountEmail,
			Credential: cred.Role,
			Issuer:     issuer,
		}, nil
	}
	return task.JWTSource{}, fmt.Errorf("credential %q: %s is not a token kind", cred.Name, cred.Kind)
}
