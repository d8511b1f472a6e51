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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/panteparak/credential-cache/pkg/source/vault"
)

// IAMLoginOptions configures a Vault AWS IAM login.
type IAMLoginOptions struct {
	Options

	// Role is the Vault role to authenticate as
	Role string

	// MountPath is the Vault auth mount (default "aws")
	MountPath string

	// IAMServerIDHeaderValue sets the X-Vault-AWS-IAM-Server-ID header.
	// It must match the value configured in Vault's AWS auth backend.
	IAMServerIDHeaderValue string
}

// VaultLogin returns a vault.LoginFunc that authenticates with a signed STS
// GetCallerIdentity request.
func VaultLogin(opts IAMLoginOptions) vault.LoginFunc {
	return func(ctx context.Context, c *vault.Client) error {
		awsCfg, err := LoadConfig(ctx, opts.Options)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}

		data, err := iamLoginData(ctx, awsCfg, opts)
		if err != nil {
			return err
		}

		mount := opts.MountPath
		if mount == "" {
			mount = "aws"
		}
		return c.LoginWithData(ctx, "aws", fmt.Sprintf("auth/%s/login", mount), data)
	}
}

// iamLoginData builds the login payload for Vault's AWS IAM auth method.
func iamLoginData(ctx context.Context, awsCfg aws.Config, opts IAMLoginOptions) (map[string]interface{}, error) {
	stsClient := sts.NewFromConfig(awsCfg, func(o *sts.Options) {
		if opts.STSEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.STSEndpoint)
		}
	})

	presignedReq, err := sts.NewPresignClient(stsClient).PresignGetCallerIdentity(ctx, &sts.GetCallerIdentityInput{},
		func(po *sts.PresignOptions) {
			po.Presigner = newStsPresigner(po.Presigner, opts.IAMServerIDHeaderValue)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to presign GetCallerIdentity: %w", err)
	}

	parsedURL, err := url.Parse(presignedReq.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse presigned URL: %w", err)
	}

	data := map[string]interface{}{
		"iam_http_request_method": presignedReq.Method,
		"iam_request_url":         base64.StdEncoding.EncodeToString([]byte(presignedReq.URL)),
		"iam_request_body":        base64.StdEncoding.EncodeToString([]byte("Action=GetCallerIdentity&Version=2011-06-15")),
		"iam_request_headers":     buildIAMRequestHeaders(parsedURL.Host, opts.IAMServerIDHeaderValue),
	}
	if opts.Role != "" {
		data["role"] = opts.Role
	}
	return data, nil
}

// buildIAMRequestHeaders builds the base64 headers JSON for Vault AWS auth
func buildIAMRequestHeaders(host, serverIDHeader string) string {
	headers := map[string][]string{
		"Host":         {host},
		"Content-Type": {"application/x-www-form-urlencoded; charset=utf-8"},
	}

	if serverIDHeader != "" {
		headers["X-Vault-AWS-IAM-Server-ID"] = []string{serverIDHeader}
	}

	headersJSON, _ := json.Marshal(headers)
	return base64.StdEncoding.EncodeToString(headersJSON)
}

// stsPresigner wraps the default presigner to add the Vault server ID header
type stsPresigner struct {
	inner          sts.HTTPPresignerV4
	serverIDHeader string
}

func newStsPresigner(inner sts.HTTPPresignerV4, serverIDHeader string) *stsPresigner {
	return &stsPresigner{
		inner:          inner,
		serverIDHeader: serverIDHeader,
	}
}

func (p *stsPresigner) PresignHTTP(
	ctx context.Context, credentials aws.Credentials, r *http.Request,
	payloadHash string, service string, region string, signingTime time.Time,
	optFns ...func(*v4.SignerOptions),
) (signedURL string, signedHeader http.Header, err error) {
	if p.serverIDHeader != "" {
		r.Header.Set("X-Vault-AWS-IAM-Server-ID", p.serverIDHeader)
	}
	return p.inner.PresignHTTP(ctx, credentials, r, payloadHash, service, region, signingTime, optFns...)
}
