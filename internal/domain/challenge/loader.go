package challenge

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// CatalogPattern matches challenge files below a catalog directory.
const CatalogPattern = "**/*.{yaml,yml,json}"

// Seeder loads challenge files from disk into a catalog.
type Seeder struct {
	catalog *Catalog
	logger  *zap.Logger
}

// NewSeeder creates a seeder for catalog.
func NewSeeder(catalog *Catalog, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{catalog: catalog, logger: logger.Named("catalog")}
}

// LoadDir registers every challenge file under dir. A missing directory is
// not an error. Files that fail to parse or validate are skipped and
// reported together in the returned error.
func (s *Seeder) LoadDir(dir string) (int, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Catalog directory not found", zap.String("dir", dir))
		return 0, nil
	}
	return s.LoadFS(os.DirFS(dir))
}

// LoadFS is LoadDir over an fs.FS.
func (s *Seeder) LoadFS(fsys fs.FS) (int, error) {
	paths, err := doublestar.Glob(fsys, CatalogPattern)
	if err != nil {
		return 0, fmt.Errorf("glob catalog: %w", err)
	}

	var loaded int
	var errs []error
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		challenges, err := Parse(data)
		if err != nil {
			s.logger.Warn("Failed to parse challenge file", zap.String("path", path), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		for _, ch := range challenges {
			if err := s.catalog.Register(ch); err != nil {
				s.logger.Warn("Rejected challenge", zap.String("path", path), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				continue
			}
			loaded++
		}
	}

	s.logger.Info("Catalog loaded", zap.Int("loaded", loaded), zap.Int("failed", len(errs)))
	return loaded, errors.Join(errs...)
}

// Parse decodes one challenge or a list of challenges from YAML or JSON.
// It does not validate.
func Parse(data []byte) ([]*Challenge, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidChallenge)
	}
	trimmed = bytes.TrimSpace(bytes.TrimPrefix(trimmed, []byte("---")))
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '-') {
		var list []*Challenge
		if err := yaml.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode challenges: %w", err)
		}
		return list, nil
	}
	var ch Challenge
	if err := yaml.Unmarshal(trimmed, &ch); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return []*Challenge{&ch}, nil
}
