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

// Package gcp issues Google service account JWTs for use as cached credentials.
//
// JWTIssuer signs short-lived access tokens locally from a service account key.
// IAMIssuer asks the IAM Credentials API to sign a Vault GCP IAM login JWT on
// behalf of a service account, so no key material is needed when running under
// Workload Identity.
package gcp

import (
	"context"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2/google"

	"github.com/panteparak/credential-cache/pkg/logger"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// SourceName labels errors and logs produced by this package.
const SourceName = "gcp"

// DefaultScope is requested when no scopes are configured.
const DefaultScope = "https://www.googleapis.com/auth/cloud-platform"

// JWTIssuer mints self-signed JWT access tokens from a service account key.
type JWTIssuer struct {
	keyJSON []byte
	scopes  []string
	log     logr.Logger
}

// NewJWTIssuer creates a JWTIssuer. keyJSON is the service account key file
// contents.
func NewJWTIssuer(keyJSON []byte, scopes []string, log logr.Logger) *JWTIssuer {
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	return &JWTIssuer{
		keyJSON: keyJSON,
		scopes:  scopes,
		log:     log.WithName("gcp-jwt-issuer").WithValues(logger.KeySource, SourceName),
	}
}

// Fetch signs a new token. The token source is rebuilt per call; a reused
// source hands back the same token until it is nearly expired.
func (i *JWTIssuer) Fetch(_ context.Context) (string, error) {
	ts, err := google.JWTAccessTokenSourceWithScope(i.keyJSON, i.scopes...)
	if err != nil {
		return "", infraerrors.NewValidationError("credentialsJSON", "<redacted>", err.Error())
	}

	tok, err := ts.Token()
	if err != nil {
		return "", infraerrors.NewTransientError("sign JWT access token", err)
	}

	i.log.V(1).Info("signed access token", logger.KeyExpiresAt, tok.Expiry)
	return tok.AccessToken, nil
}
