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

// Package kubernetes issues service account tokens for use as cached JWT
// credentials.
//
// Two issuers are provided:
//
//   - TokenRequestIssuer: creates audience-scoped tokens through the
//     TokenRequest API. Requires RBAC to create serviceaccounts/token.
//   - FileIssuer: reads a projected token from the pod filesystem.
//
// Both return the raw JWT. Expiry is read from the token's exp claim by the
// JWT cache, so neither issuer tracks lifetimes itself.
//
// # Usage
//
//	issuer := kubernetes.NewTokenRequestIssuer(clientset, kubernetes.TokenRequestOptions{
//	    ServiceAccount: kubernetes.ServiceAccountRef{Namespace: "default", Name: "my-sa"},
//	    Duration:       time.Hour,
//	}, log)
//	token, err := issuer.Fetch(ctx)
package kubernetes
