// Package client implements the submission side of the pipeline: bulk
// uploads with a run-scoped local log, and the result query service that
// resolves records later.
package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdentityProvider yields the stable per-client identity embedded in every
// storage key and record.
type IdentityProvider interface {
	ClientID() (string, error)
}

// FileIdentity persists a generated client id to a file on first use and
// returns the same id forever after.
type FileIdentity struct {
	path   string
	logger *zap.Logger
}

// NewFileIdentity returns an identity provider backed by path.
func NewFileIdentity(path string, logger *zap.Logger) *FileIdentity {
	return &FileIdentity{path: path, logger: logger.Named("identity")}
}

var _ IdentityProvider = (*FileIdentity)(nil)

// ClientID reads the stored identity, creating it lazily when missing.
func (f *FileIdentity) ClientID() (string, error) {
	data, err := os.ReadFile(f.path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id == "" {
			return "", fmt.Errorf("identity file %s is empty", f.path)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read identity file %s: %w", f.path, err)
	}

	id := "client-" + strings.Split(uuid.NewString(), "-")[0]
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write identity file %s: %w", f.path, err)
	}

	f.logger.Info("created client identity", zap.String("client_id", id), zap.String("path", f.path))
	return id, nil
}
