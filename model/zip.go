package model

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/c360/scanstreams/errors"
)

// SchemeZip identifies derived sources over zip archives
const SchemeZip = "zip"

func init() {
	RegisterSource(SchemeZip, decodeZipSource)
	RegisterHandle(SchemeZip, decodeZipHandle)
}

// ZipSource is a derived Source over the entries of a zip archive referenced
// by a Handle of another Source.
type ZipSource struct {
	Handle Handle
}

// NewZipSource creates a derived Source over the archive at handle
func NewZipSource(handle Handle) *ZipSource {
	return &ZipSource{Handle: handle}
}

// Scheme implements Source
func (s *ZipSource) Scheme() string { return SchemeZip }

// Censor implements Source
func (s *ZipSource) Censor() Source {
	return &ZipSource{Handle: s.Handle.Censor()}
}

// Open implements Source by staging the parent content and opening it as an
// archive. A corrupt archive fails with a resource-unavailable error rather
// than a panic, so the caller can report it as a problem.
func (s *ZipSource) Open(ctx context.Context, sm *SourceManager) (Cookie, error) {
	resource, err := s.Handle.Follow(ctx, sm)
	if err != nil {
		return nil, err
	}
	path, err := resource.Path(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: open archive %s: %v", errors.ErrResourceUnavailable, s.Handle.Presentation(), err),
			"ZipSource", "Open", "open archive")
	}
	return archive, nil
}

// Close implements Source
func (s *ZipSource) Close(cookie Cookie) error {
	archive, ok := cookie.(*zip.ReadCloser)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("unexpected cookie type %T", cookie),
			"ZipSource", "Close", "interpret cookie")
	}
	if err := archive.Close(); err != nil {
		return errors.Wrap(err, "ZipSource", "Close", "close archive")
	}
	return nil
}

// Handles implements Source, yielding one Handle per archive entry
func (s *ZipSource) Handles(
	ctx context.Context, sm *SourceManager, yield func(Handle) error,
) error {
	cookie, err := sm.Open(ctx, s)
	if err != nil {
		return err
	}
	archive := cookie.(*zip.ReadCloser)

	for _, entry := range archive.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.FileInfo().IsDir() {
			continue
		}
		if err := yield(&ZipHandle{source: s, Name: entry.Name}); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (s *ZipSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":   SchemeZip,
		"handle": s.Handle,
	})
}

func decodeZipSource(data []byte) (Source, error) {
	var raw struct {
		Handle json.RawMessage `json:"handle"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.Handle) == 0 {
		return nil, fmt.Errorf("zip source has no handle")
	}
	handle, err := DecodeHandle(raw.Handle)
	if err != nil {
		return nil, err
	}
	return &ZipSource{Handle: handle}, nil
}

// ZipHandle references one entry inside a zip archive by name
type ZipHandle struct {
	source *ZipSource
	Name   string
}

// Source implements Handle
func (h *ZipHandle) Source() Source { return h.source }

// RelativePath implements Handle
func (h *ZipHandle) RelativePath() string { return h.Name }

// Presentation implements Handle
func (h *ZipHandle) Presentation() string {
	return fmt.Sprintf("%s (in %s)", h.Name, h.source.Handle.Presentation())
}

// Censor implements Handle
func (h *ZipHandle) Censor() Handle {
	return &ZipHandle{
		source: h.source.Censor().(*ZipSource),
		Name:   h.Name,
	}
}

// Follow implements Handle
func (h *ZipHandle) Follow(ctx context.Context, sm *SourceManager) (Resource, error) {
	cookie, err := sm.Open(ctx, h.source)
	if err != nil {
		return nil, err
	}
	archive := cookie.(*zip.ReadCloser)

	for _, entry := range archive.File {
		if entry.Name != h.Name {
			continue
		}
		entry := entry
		open := func() (io.ReadCloser, error) {
			rc, err := entry.Open()
			if err != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: entry %s: %v", errors.ErrResourceUnavailable, entry.Name, err),
					"ZipHandle", "Follow", "open entry")
			}
			return rc, nil
		}
		size := int64(entry.UncompressedSize64)
		return newStreamedResource(h, sm, open, size, entry.Modified, ""), nil
	}

	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: entry %s not found", errors.ErrResourceUnavailable, h.Name),
		"ZipHandle", "Follow", "locate entry")
}

// MarshalJSON implements json.Marshaler
func (h *ZipHandle) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":   SchemeZip,
		"source": h.source,
		"path":   h.Name,
	})
}

func decodeZipHandle(data []byte) (Handle, error) {
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
	zipSource, ok := source.(*ZipSource)
	if !ok {
		return nil, fmt.Errorf("zip handle wraps a %s source", source.Scheme())
	}
	if raw.Path == "" {
		return nil, fmt.Errorf("zip handle has no path")
	}
	return &ZipHandle{source: zipSource, Name: raw.Path}, nil
}
