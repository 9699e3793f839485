// Package media resolves stored audio references to files on disk.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Taichi-iskw/voxrefine/internal/errors"
)

// Media is a stored upload as seen by the pipeline
type Media struct {
	FilePath string
	Filename string
}

// Resolver maps an audio reference to a local file
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*Media, error)
}

// Store resolves references relative to an uploads directory
type Store struct {
	fs         afero.Fs
	uploadsDir string
}

// NewStore creates a Store backed by the OS filesystem
func NewStore(uploadsDir string) *Store {
	return NewStoreWithFs(afero.NewOsFs(), uploadsDir)
}

// NewStoreWithFs creates a Store with a custom filesystem (for testing)
func NewStoreWithFs(fs afero.Fs, uploadsDir string) *Store {
	return &Store{fs: fs, uploadsDir: uploadsDir}
}

// Resolve returns the file for ref. Absolute references are used as-is,
// relative ones must stay inside the uploads directory.
func (s *Store) Resolve(ctx context.Context, ref string) (*Media, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New(errors.CodeInvalidArg, "audio reference is required")
	}

	path := ref
	if !filepath.IsAbs(ref) {
		cleaned := filepath.Clean(ref)
		if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
			return nil, errors.New(errors.CodeInvalidArg, fmt.Sprintf("audio reference escapes uploads directory: %s", ref))
		}
		path = filepath.Join(s.uploadsDir, cleaned)
	}

	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeFileNotFound, fmt.Sprintf("audio file not found: %s", ref))
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to stat audio file")
	}
	if info.IsDir() {
		return nil, errors.New(errors.CodeInvalidArg, fmt.Sprintf("audio reference is a directory: %s", ref))
	}

	return &Media{FilePath: path, Filename: filepath.Base(path)}, nil
}
