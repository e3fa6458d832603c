package model

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/c360/scanstreams/errors"
)

// fileResource is a Resource backed by a file that is already local. Stat
// and hash results are memoized per instance.
type fileResource struct {
	handle Handle
	path   string

	statOnce sync.Once
	statInfo os.FileInfo
	statErr  error

	hashOnce sync.Once
	hash     string
	hashErr  error
}

func newFileResource(handle Handle, path string) *fileResource {
	return &fileResource{handle: handle, path: path}
}

func (r *fileResource) Handle() Handle { return r.handle }

func (r *fileResource) Stream() (io.ReadCloser, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrResourceUnavailable, err),
			"Resource", "Stream", "open file")
	}
	return f, nil
}

func (r *fileResource) Path(_ context.Context) (string, error) {
	return r.path, nil
}

func (r *fileResource) stat() (os.FileInfo, error) {
	r.statOnce.Do(func() {
		r.statInfo, r.statErr = os.Stat(r.path)
		if r.statErr != nil {
			r.statErr = errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrResourceUnavailable, r.statErr),
				"Resource", "stat", "stat file")
		}
	})
	return r.statInfo, r.statErr
}

func (r *fileResource) Size() (int64, error) {
	info, err := r.stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (r *fileResource) LastModified() (time.Time, error) {
	info, err := r.stat()
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (r *fileResource) Hash() (string, error) {
	r.hashOnce.Do(func() {
		r.hash, r.hashErr = hashStream(r.Stream)
	})
	return r.hash, r.hashErr
}

func (r *fileResource) MimeType() string {
	return mimeTypeForPath(r.path)
}

// streamedResource is a Resource whose content is reachable only through a
// reader: a message fetched from a mailbox, an entry inside an archive.
// Path stages the content to a temporary file whose lifetime is tied to the
// SourceManager.
type streamedResource struct {
	handle   Handle
	open     func() (io.ReadCloser, error)
	size     int64 // -1 when unknown until staged
	modified time.Time
	mimeType string
	manager  *SourceManager

	stageOnce  sync.Once
	stagedPath string
	stageErr   error

	hashOnce sync.Once
	hash     string
	hashErr  error
}

func newStreamedResource(
	handle Handle, manager *SourceManager,
	open func() (io.ReadCloser, error),
	size int64, modified time.Time, mimeType string,
) *streamedResource {
	return &streamedResource{
		handle:   handle,
		open:     open,
		size:     size,
		modified: modified,
		mimeType: mimeType,
		manager:  manager,
	}
}

// newBytesResource wraps in-memory content as a Resource
func newBytesResource(
	handle Handle, manager *SourceManager,
	data []byte, modified time.Time, mimeType string,
) *streamedResource {
	return newStreamedResource(handle, manager, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, int64(len(data)), modified, mimeType)
}

func (r *streamedResource) Handle() Handle { return r.handle }

func (r *streamedResource) Stream() (io.ReadCloser, error) {
	return r.open()
}

func (r *streamedResource) Path(_ context.Context) (string, error) {
	r.stageOnce.Do(func() {
		r.stagedPath, r.stageErr = r.stage()
	})
	return r.stagedPath, r.stageErr
}

func (r *streamedResource) stage() (string, error) {
	stream, err := r.open()
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()

	tmp, err := os.CreateTemp("", "scanstreams-staged-*")
	if err != nil {
		return "", errors.WrapTransient(err, "Resource", "stage", "create temp file")
	}

	written, err := io.Copy(tmp, stream)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.WrapTransient(err, "Resource", "stage", "stage content")
	}

	if r.size < 0 {
		r.size = written
	}
	if r.manager != nil {
		name := tmp.Name()
		r.manager.Defer(func() error { return os.Remove(name) })
	}
	return tmp.Name(), nil
}

func (r *streamedResource) Size() (int64, error) {
	if r.size >= 0 {
		return r.size, nil
	}
	// Unknown until the content has been read once
	if _, err := r.Path(context.Background()); err != nil {
		return 0, err
	}
	return r.size, nil
}

func (r *streamedResource) LastModified() (time.Time, error) {
	return r.modified, nil
}

func (r *streamedResource) Hash() (string, error) {
	r.hashOnce.Do(func() {
		r.hash, r.hashErr = hashStream(r.open)
	})
	return r.hash, r.hashErr
}

func (r *streamedResource) MimeType() string {
	if r.mimeType != "" {
		return r.mimeType
	}
	return mimeTypeForPath(r.handle.RelativePath())
}

func hashStream(open func() (io.ReadCloser, error)) (string, error) {
	stream, err := open()
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()

	digest := sha256.New()
	if _, err := io.Copy(digest, stream); err != nil {
		return "", errors.WrapTransient(err, "Resource", "Hash", "read content")
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func mimeTypeForPath(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
