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

// Package aws fetches secrets from AWS Secrets Manager and signs Vault AWS IAM
// logins, loading credentials the standard way with IRSA support.
package aws

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Options configures AWS access.
type Options struct {
	// Region is the AWS region (SDK default chain if empty)
	Region string

	// Endpoint overrides the Secrets Manager endpoint, e.g. for LocalStack
	Endpoint string

	// STSEndpoint overrides the default STS endpoint
	STSEndpoint string
}

// LoadConfig loads AWS configuration with support for IRSA
// (IAM Roles for Service Accounts).
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	var configOpts []func(*config.LoadOptions) error

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}

	// IRSA injects AWS_WEB_IDENTITY_TOKEN_FILE and AWS_ROLE_ARN
	if tokenFile := os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE"); tokenFile != "" {
		roleARN := os.Getenv("AWS_ROLE_ARN")
		if roleARN == "" {
			return aws.Config{}, fmt.Errorf("AWS_ROLE_ARN not set but AWS_WEB_IDENTITY_TOKEN_FILE is present")
		}

		baseCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load base AWS config: %w", err)
		}

		webIdentityProvider := stscreds.NewWebIdentityRoleProvider(
			sts.NewFromConfig(baseCfg),
			roleARN,
			stscreds.IdentityTokenFile(tokenFile),
			func(o *stscreds.WebIdentityRoleOptions) {
				if sessionName := os.Getenv("AWS_ROLE_SESSION_NAME"); sessionName != "" {
					o.RoleSessionName = sessionName
				}
			},
		)

		configOpts = append(configOpts, config.WithCredentialsProvider(aws.NewCredentialsCache(webIdentityProvider)))
	}

	return config.LoadDefaultConfig(ctx, configOpts...)
}
