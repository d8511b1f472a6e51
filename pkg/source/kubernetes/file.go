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
	"os"
	"strings"

	"github.com/go-logr/logr"

	"github.com/panteparak/credential-cache/pkg/logger"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// DefaultServiceAccountTokenPath is the default location for the mounted SA token.
const DefaultServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// FileIssuer reads a token from a mounted file. The kubelet rotates projected
// tokens in place, so each Fetch re-reads the file.
type FileIssuer struct {
	path string
	log  logr.Logger
}

// NewFileIssuer creates a FileIssuer.
// If path is empty, it defaults to DefaultServiceAccountTokenPath.
func NewFileIssuer(path string, log logr.Logger) *FileIssuer {
	if path == "" {
		path = DefaultServiceAccountTokenPath
	}
	return &FileIssuer{
		path: path,
		log:  log.WithName("file-issuer").WithValues(logger.KeySource, SourceName),
	}
}

// Path returns the token file location.
func (i *FileIssuer) Path() string {
	return i.path
}

// Fetch returns the current contents of the token file.
func (i *FileIssuer) Fetch(_ context.Context) (string, error) {
	i.log.V(1).Info("reading mounted token", "path", i.path)

	tokenBytes, err := os.ReadFile(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", infraerrors.NewNotFoundError(SourceName, i.path)
		}
		return "", infraerrors.NewTransientError(fmt.Sprintf("read token from %s", i.path), err)
	}

	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return "", infraerrors.NewDecodeError(fmt.Sprintf("token file %s is empty", i.path), nil)
	}
	return token, nil
}
