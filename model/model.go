// Package model implements the content-addressing layer: Sources describe
// where content lives, Handles reference one concrete item within a Source,
// Resources expose the lazily materialized content and metadata of a Handle,
// and the SourceManager caches open Source sessions for the duration of a
// scope.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"
)

// Cookie is the opaque session state returned by opening a Source: a mount
// point, a logged-in connection, a parsed archive. Only the Source that
// produced a cookie knows how to interpret and close it.
type Cookie any

// Source is an immutable description of where to find content. Sources are
// value types: constructed once, never mutated, serialized as tagged JSON.
// A derived Source wraps a Handle of another Source, so Source trees can
// nest arbitrarily deep.
type Source interface {
	json.Marshaler

	// Scheme returns the type discriminator used in serialized form and
	// in the decode registry.
	Scheme() string

	// Censor returns a copy with all credentials removed. Identity
	// properties are preserved so the censored Source still names the
	// same place.
	Censor() Source

	// Open acquires the backing session (mount, login, temp directory).
	// Callers go through SourceManager.Open, which makes this idempotent
	// per manager and retries transient faults.
	Open(ctx context.Context, sm *SourceManager) (Cookie, error)

	// Close releases a cookie previously returned by Open.
	Close(cookie Cookie) error

	// Handles enumerates the items reachable through this Source,
	// invoking yield once per Handle. Enumeration is lazy: it never
	// holds more than the open cookie plus one item of state. A non-nil
	// error from yield stops the enumeration and is returned as-is.
	Handles(ctx context.Context, sm *SourceManager, yield func(Handle) error) error
}

// Handle references one concrete item within a Source: a relative path or
// identifier plus a read-only reference to the owning Source. Handles may
// carry presentation metadata (a subject line, a folder name) that is
// excluded from equality.
type Handle interface {
	json.Marshaler

	// Source returns the Source this Handle belongs to.
	Source() Source

	// RelativePath identifies the item within its Source. Together with
	// the Source it forms the Handle's identity.
	RelativePath() string

	// Presentation returns a human-readable description of the item.
	Presentation() string

	// Censor returns a copy whose Source has been censored. Presentation
	// metadata and identity are preserved.
	Censor() Handle

	// Follow materializes the Handle's content within the manager's open
	// session for its Source.
	Follow(ctx context.Context, sm *SourceManager) (Resource, error)
}

// Resource exposes the lazily computed facts about one Handle's content
// within an open session. Expensive values (hash, size) are computed at most
// once per instance.
type Resource interface {
	// Handle returns the Handle this Resource was followed from.
	Handle() Handle

	// Stream opens the content for reading. Each call returns a fresh
	// reader positioned at the start.
	Stream() (io.ReadCloser, error)

	// Path returns a local filesystem path for the content, staging it
	// to a temporary file if the origin is not already local. The staged
	// file lives until the owning SourceManager closes.
	Path(ctx context.Context) (string, error)

	// Size returns the content length in bytes.
	Size() (int64, error)

	// LastModified returns the item's last-modification time, or the
	// zero time when the origin does not track one.
	LastModified() (time.Time, error)

	// Hash returns the hex-encoded SHA-256 digest of the content.
	Hash() (string, error)

	// MimeType returns the best-effort MIME type of the content.
	MimeType() string
}

// SourcesEqual reports whether two Sources are equal. Equality is defined
// over the serialized form, so two Sources with different credentials are
// different Sources.
func SourcesEqual(a, b Source) bool {
	if a == nil || b == nil {
		return a == b
	}
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// HandlesEqual reports whether two Handles reference the same item: same
// Source, same relative path. Presentation metadata does not participate,
// so two Handles that differ only in subject line compare equal.
func HandlesEqual(a, b Handle) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.RelativePath() != b.RelativePath() {
		return false
	}
	return SourcesEqual(a.Source(), b.Source())
}
