package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/c360/scanstreams/errors"
)

// SchemeFilesystem identifies local directory sources
const SchemeFilesystem = "filesystem"

func init() {
	RegisterSource(SchemeFilesystem, decodeFilesystemSource)
	RegisterHandle(SchemeFilesystem, decodeFilesystemHandle)
}

// FilesystemSource scans a local directory tree
type FilesystemSource struct {
	Path string
}

// NewFilesystemSource creates a Source rooted at the given directory
func NewFilesystemSource(path string) *FilesystemSource {
	return &FilesystemSource{Path: path}
}

// Scheme implements Source
func (s *FilesystemSource) Scheme() string { return SchemeFilesystem }

// Censor implements Source. A filesystem Source carries no credentials.
func (s *FilesystemSource) Censor() Source {
	return &FilesystemSource{Path: s.Path}
}

// Open implements Source
func (s *FilesystemSource) Open(_ context.Context, _ *SourceManager) (Cookie, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrResourceUnavailable, err),
			"FilesystemSource", "Open", "stat root")
	}
	if !info.IsDir() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s is not a directory", errors.ErrResourceUnavailable, s.Path),
			"FilesystemSource", "Open", "check root")
	}
	return s.Path, nil
}

// Close implements Source. Nothing was acquired.
func (s *FilesystemSource) Close(_ Cookie) error { return nil }

// Handles implements Source, walking the tree and yielding one Handle per
// regular file.
func (s *FilesystemSource) Handles(
	ctx context.Context, sm *SourceManager, yield func(Handle) error,
) error {
	cookie, err := sm.Open(ctx, s)
	if err != nil {
		return err
	}
	root := cookie.(string)

	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrResourceUnavailable, err),
				"FilesystemSource", "Handles", "walk tree")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.WrapInvalid(err, "FilesystemSource", "Handles", "relativize path")
		}
		return yield(&FilesystemHandle{source: s, relPath: filepath.ToSlash(rel)})
	})
}

// MarshalJSON implements json.Marshaler
func (s *FilesystemSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type": SchemeFilesystem,
		"path": s.Path,
	})
}

func decodeFilesystemSource(data []byte) (Source, error) {
	var raw struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Path == "" {
		return nil, fmt.Errorf("filesystem source has no path")
	}
	return &FilesystemSource{Path: raw.Path}, nil
}

// FilesystemHandle references one regular file below a FilesystemSource root
type FilesystemHandle struct {
	source  *FilesystemSource
	relPath string
}

// NewFilesystemHandle creates a Handle for the file at relPath below source
func NewFilesystemHandle(source *FilesystemSource, relPath string) *FilesystemHandle {
	return &FilesystemHandle{source: source, relPath: filepath.ToSlash(relPath)}
}

// Source implements Handle
func (h *FilesystemHandle) Source() Source { return h.source }

// RelativePath implements Handle
func (h *FilesystemHandle) RelativePath() string { return h.relPath }

// Presentation implements Handle
func (h *FilesystemHandle) Presentation() string {
	return filepath.Join(h.source.Path, filepath.FromSlash(h.relPath))
}

// Censor implements Handle
func (h *FilesystemHandle) Censor() Handle {
	return &FilesystemHandle{
		source:  h.source.Censor().(*FilesystemSource),
		relPath: h.relPath,
	}
}

// Follow implements Handle
func (h *FilesystemHandle) Follow(ctx context.Context, sm *SourceManager) (Resource, error) {
	cookie, err := sm.Open(ctx, h.source)
	if err != nil {
		return nil, err
	}
	root := cookie.(string)
	return newFileResource(h, filepath.Join(root, filepath.FromSlash(h.relPath))), nil
}

// MarshalJSON implements json.Marshaler
func (h *FilesystemHandle) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":   SchemeFilesystem,
		"source": h.source,
		"path":   h.relPath,
	})
}

func decodeFilesystemHandle(data []byte) (Handle, error) {
	var raw struct {
		Source json.RawMessage `json:"source"`
		Path   string          `json:"path"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	source, err := DecodeSource(raw.Source)
	if err != nil {
		return nil, err
	}
	fsSource, ok := source.(*FilesystemSource)
	if !ok {
		return nil, fmt.Errorf("filesystem handle wraps a %s source", source.Scheme())
	}
	if raw.Path == "" {
		return nil, fmt.Errorf("filesystem handle has no path")
	}
	return &FilesystemHandle{source: fsSource, relPath: raw.Path}, nil
}
