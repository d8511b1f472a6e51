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

package kubernetes

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	authenticationv1 "k8s.io/api/authentication/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/panteparak/credential-cache/pkg/logger"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// SourceName labels errors and logs produced by this package.
const SourceName = "kubernetes"

const (
	// DefaultTokenDuration is the requested lifetime when none is set.
	DefaultTokenDuration = 1 * time.Hour

	// DefaultAudience is the audience used when none is set.
	DefaultAudience = "vault"
)

// ServiceAccountRef identifies a Kubernetes service account.
type ServiceAccountRef struct {
	Namespace string
	Name      string
}

func (r ServiceAccountRef) String() string {
	return r.Namespace + "/" + r.Name
}

// TokenRequestOptions configures a TokenRequestIssuer.
type TokenRequestOptions struct {
	// ServiceAccount identifies the service account to get a token for.
	ServiceAccount ServiceAccountRef

	// Duration is the requested token lifetime.
	Duration time.Duration

	// Audiences are the intended audiences for the token.
	Audiences []string
}

// TokenRequestIssuer uses the Kubernetes TokenRequest API to mint tokens.
type TokenRequestIssuer struct {
	clientset kubernetes.Interface
	opts      TokenRequestOptions
	log       logr.Logger
}

// NewTokenRequestIssuer creates a TokenRequestIssuer. Zero Duration and empty
// Audiences fall back to DefaultTokenDuration and DefaultAudience.
func NewTokenRequestIssuer(clientset kubernetes.Interface, opts TokenRequestOptions, log logr.Logger) *TokenRequestIssuer {
	if opts.Duration == 0 {
		opts.Duration = DefaultTokenDuration
	}
	if len(opts.Audiences) == 0 {
		opts.Audiences = []string{DefaultAudience}
	}
	return &TokenRequestIssuer{
		clientset: clientset,
		opts:      opts,
		log:       log.WithName("tokenrequest-issuer").WithValues(logger.KeySource, SourceName),
	}
}

// Fetch creates a new token for the configured service account.
func (i *TokenRequestIssuer) Fetch(ctx context.Context) (string, error) {
	sa := i.opts.ServiceAccount
	if sa.Namespace == "" || sa.Name == "" {
		return "", infraerrors.NewValidationError("serviceAccount", sa.String(), "namespace and name are required")
	}

	i.log.V(1).Info("requesting token via TokenRequest API",
		"serviceAccount", sa.String(),
		"duration", i.opts.Duration.String(),
		"audiences", i.opts.Audiences,
	)

	expirationSeconds := int64(i.opts.Duration.Seconds())
	tokenRequest := &authenticationv1.TokenRequest{
		Spec: authenticationv1.TokenRequestSpec{
			Audiences:         i.opts.Audiences,
			ExpirationSeconds: &expirationSeconds,
		},
	}

	result, err := i.clientset.CoreV1().ServiceAccounts(sa.Namespace).
		CreateToken(ctx, sa.Name, tokenRequest, metav1.CreateOptions{})
	if err != nil {
		return "", classify(sa, err)
	}

	if result.Status.Token == "" {
		return "", infraerrors.NewDecodeError("TokenRequest for "+sa.String()+" returned an empty token", nil)
	}

	i.log.V(1).Info("acquired token", "expiresAt", result.Status.ExpirationTimestamp.Time)
	return result.Status.Token, nil
}

func classify(sa ServiceAccountRef, err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return infraerrors.NewNotFoundError(SourceName, "serviceaccount "+sa.String())
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err), apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return &infraerrors.TransientError{
			Operation: fmt.Sprintf("create token for %s", sa),
			Cause:     err,
			Retryable: false,
		}
	}
	return infraerrors.NewTransientError(fmt.Sprintf("create token for %s", sa), err)
}
