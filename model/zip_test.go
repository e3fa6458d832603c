package model

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scanstreams/errors"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	writer := zip.NewWriter(file)
	for name, content := range entries {
		entry, err := writer.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())
}

func TestZipSourceEnumeratesEntries(t *testing.T) {
	root := t.TempDir()
	writeZip(t, filepath.Join(root, "bundle.zip"), map[string]string{
		"readme.txt":    "hello",
		"docs/deep.txt": "nested",
	})

	sm := NewSourceManager()
	defer func() { _ = sm.Close() }()

	parent := NewFilesystemHandle(NewFilesystemSource(root), "bundle.zip")
	source := NewZipSource(parent)

	var names []string
	err := source.Handles(context.Background(), sm, func(h Handle) error {
		names = append(names, h.RelativePath())
		return nil
	})
	require.NoError(t, err)

	sort.Strings(names)
	assert.Equal(t, []string{"docs/deep.txt", "readme.txt"}, names)
}

func TestZipHandleFollow(t *testing.T) {
	root := t.TempDir()
	writeZip(t, filepath.Join(root, "bundle.zip"), map[string]string{
		"readme.txt": "hello from inside",
	})

	sm := NewSourceManager()
	defer func() { _ = sm.Close() }()

	parent := NewFilesystemHandle(NewFilesystemSource(root), "bundle.zip")
	handle := &ZipHandle{source: NewZipSource(parent), Name: "readme.txt"}

	resource, err := handle.Follow(context.Background(), sm)
	require.NoError(t, err)

	stream, err := resource.Stream()
	require.NoError(t, err)
	content, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.Equal(t, "hello from inside", string(content))

	size, err := resource.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello from inside")), size)
}

func TestZipSourceCorruptArchive(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.zip"), []byte("this is not a zip"), 0o644))

	sm := NewSourceManager()
	defer func() { _ = sm.Close() }()

	parent := NewFilesystemHandle(NewFilesystemSource(root), "broken.zip")
	source := NewZipSource(parent)

	err := source.Handles(context.Background(), sm, func(Handle) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResourceUnavailable)
}

func TestZipHandleMissingEntry(t *testing.T) {
	root := t.TempDir()
	writeZip(t, filepath.Join(root, "bundle.zip"), map[string]string{"present.txt": "x"})

	sm := NewSourceManager()
	defer func() { _ = sm.Close() }()

	parent := NewFilesystemHandle(NewFilesystemSource(root), "bundle.zip")
	handle := &ZipHandle{source: NewZipSource(parent), Name: "absent.txt"}

	_, err := handle.Follow(context.Background(), sm)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResourceUnavailable)
}
