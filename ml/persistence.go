package ml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"logwarden/core"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// FileModelStore keeps each artifact in its own gzip-compressed file.
type FileModelStore struct {
	dir    string
	logger *zap.SugaredLogger
}

// NewFileModelStore creates a store rooted at dir, creating it if needed.
func NewFileModelStore(dir string, logger *zap.SugaredLogger) (*FileModelStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	return &FileModelStore{dir: dir, logger: logger}, nil
}

func (s *FileModelStore) path(name string) (string, error) {
	if !modelNamePattern.MatchString(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid model name %q", core.ErrPersistenceFailure, name)
	}
	return filepath.Join(s.dir, name+".model.gz"), nil
}

// SaveArtifact writes the artifact to a temporary file and renames it over
// the previous one, so a reader never sees a partial model.
func (s *FileModelStore) SaveArtifact(ctx context.Context, a *core.ModelArtifact) (err error) {
	if a == nil || len(a.Data) == 0 {
		return fmt.Errorf("%w: model data cannot be empty", core.ErrPersistenceFailure)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	final, err := s.path(a.Name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, a.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", core.ErrPersistenceFailure, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	zw := gzip.NewWriter(tmp)
	if err = msgpack.NewEncoder(zw).Encode(a); err != nil {
		return fmt.Errorf("%w: encode %s: %w", core.ErrPersistenceFailure, a.Name, err)
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("%w: compress %s: %w", core.ErrPersistenceFailure, a.Name, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", core.ErrPersistenceFailure, a.Name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", core.ErrPersistenceFailure, a.Name, err)
	}
	if err = os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("%w: rename %s: %w", core.ErrPersistenceFailure, a.Name, err)
	}

	s.logger.Infow("Saved model artifact", "name", a.Name, "path", final)
	return nil
}

// LoadArtifact reads the artifact stored under name.
func (s *FileModelStore) LoadArtifact(ctx context.Context, name string) (*core.ModelArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", core.ErrModelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", core.ErrPersistenceFailure, name, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s: %w", core.ErrPersistenceFailure, name, err)
	}
	defer zr.Close()

	var a core.ModelArtifact
	if err := msgpack.NewDecoder(io.LimitReader(zr, maxArtifactBytes)).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", core.ErrPersistenceFailure, name, err)
	}
	return &a, nil
}

// maxArtifactBytes bounds decompressed artifact size.
const maxArtifactBytes = 512 << 20
