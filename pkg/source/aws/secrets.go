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

package aws

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/go-logr/logr"

	"github.com/panteparak/credential-cache/pkg/logger"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// SourceName labels errors and logs produced by this package.
const SourceName = "aws-secretsmanager"

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretSource reads secret values by name or ARN.
type SecretSource struct {
	api          SecretsManagerAPI
	versionStage string
	log          logr.Logger
}

// NewSecretSource creates a SecretSource over an existing client.
func NewSecretSource(api SecretsManagerAPI, log logr.Logger) *SecretSource {
	return &SecretSource{
		api:          api,
		versionStage: "AWSCURRENT",
		log:          log.WithName("aws-secrets").WithValues(logger.KeySource, SourceName),
	}
}

// New loads AWS configuration and creates a SecretSource from it.
func New(ctx context.Context, opts Options, log logr.Logger) (*SecretSource, error) {
	cfg, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	client := secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewSecretSource(client, log), nil
}

// Fetch returns the current value of the secret identified by id.
// Binary secrets are returned as their raw bytes.
func (s *SecretSource) Fetch(ctx context.Context, id string) (string, error) {
	s.log.V(1).Info("reading secret", "secretId", id)

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(id),
		VersionStage: aws.String(s.versionStage),
	})
	if err != nil {
		return "", classify(id, err)
	}

	if out.SecretString != nil {
		return *out.SecretString, nil
	}
	if out.SecretBinary != nil {
		return string(out.SecretBinary), nil
	}
	return "", infraerrors.NewDecodeError("secret "+id+" has neither string nor binary value", nil)
}

func classify(id string, err error) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return infraerrors.NewNotFoundError(SourceName, id)
	}

	var (
		decryption   *types.DecryptionFailure
		invalidParam *types.InvalidParameterException
		invalidReq   *types.InvalidRequestException
	)
	if errors.As(err, &decryption) || errors.As(err, &invalidParam) || errors.As(err, &invalidReq) {
		return &infraerrors.TransientError{Operation: "get secret value", Cause: err, Retryable: false}
	}

	return infraerrors.NewTransientError("get secret value", err)
}
