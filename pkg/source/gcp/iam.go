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

package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"
	"k8s.io/utils/clock"

	"github.com/panteparak/credential-cache/pkg/logger"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// DefaultIAMJWTLifetime is the exp claim offset; Vault rejects longer lifetimes
// by default.
const DefaultIAMJWTLifetime = 15 * time.Minute

// IAMOptions configures an IAMIssuer.
type IAMOptions struct {
	// ServiceAccountEmail is the GCP service account to sign as
	ServiceAccountEmail string

	// Role is the Vault role; the JWT audience is "vault/<Role>"
	Role string

	// CredentialsJSON is optional GCP credentials JSON.
	// If empty, uses Application Default Credentials or Workload Identity
	CredentialsJSON []byte

	// Lifetime overrides DefaultIAMJWTLifetime
	Lifetime time.Duration

	// ClientOptions are passed to the IAM Credentials client
	ClientOptions []option.ClientOption

	// Clock stamps iat and exp (real clock if nil)
	Clock clock.PassiveClock
}

// IAMIssuer signs Vault GCP IAM login JWTs through the IAM Credentials API.
type IAMIssuer struct {
	opts    IAMOptions
	service *iamcredentials.Service
	log     logr.Logger
}

// NewIAMIssuer creates an IAMIssuer and its API client.
func NewIAMIssuer(ctx context.Context, opts IAMOptions, log logr.Logger) (*IAMIssuer, error) {
	if opts.ServiceAccountEmail == "" {
		return nil, infraerrors.NewValidationError("serviceAccountEmail", "", "service account email is required")
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultIAMJWTLifetime
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	clientOpts := append([]option.ClientOption(nil), opts.ClientOptions...)
	if len(opts.CredentialsJSON) > 0 {
		creds, err := google.CredentialsFromJSON(ctx, opts.CredentialsJSON, iamcredentials.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	}

	service, err := iamcredentials.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create IAM credentials service: %w", err)
	}

	return &IAMIssuer{
		opts:    opts,
		service: service,
		log:     log.WithName("gcp-iam-issuer").WithValues(logger.KeySource, SourceName),
	}, nil
}

// Fetch asks IAM to sign a fresh login JWT.
func (i *IAMIssuer) Fetch(ctx context.Context) (string, error) {
	now := i.opts.Clock.Now()
	claims := map[string]interface{}{
		"aud": fmt.Sprintf("vault/%s", i.opts.Role),
		"sub": i.opts.ServiceAccountEmail,
		"iat": now.Unix(),
		"exp": now.Add(i.opts.Lifetime).Unix(),
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JWT claims: %w", err)
	}

	name := fmt.Sprintf("projects/-/serviceAccounts/%s", i.opts.ServiceAccountEmail)
	resp, err := i.service.Projects.ServiceAccounts.SignJwt(name, &iamcredentials.SignJwtRequest{
		Payload: string(claimsJSON),
	}).Context(ctx).Do()
	if err != nil {
		return "", classify(i.opts.ServiceAccountEmail, err)
	}
	if resp.SignedJwt == "" {
		return "", infraerrors.NewDecodeError("signJwt returned an empty token", nil)
	}

	i.log.V(1).Info("signed IAM JWT", "keyId", resp.KeyId)
	return resp.SignedJwt, nil
}

func classify(email string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return infraerrors.NewNotFoundError(SourceName, "serviceAccount "+email)
		case apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests:
			return &infraerrors.TransientError{Operation: "sign JWT", Cause: err, Retryable: false}
		}
	}
	return infraerrors.NewTransientError("sign JWT", err)
}
