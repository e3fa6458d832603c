package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/c360/scanstreams/errors"
)

// SchemeSMB identifies CIFS/SMB share sources
const SchemeSMB = "smb"

func init() {
	RegisterSource(SchemeSMB, decodeSMBSource)
	RegisterHandle(SchemeSMB, decodeSMBHandle)
}

// SMBSource scans a network share. The session cookie is a temporary
// directory with the share mounted on it.
type SMBSource struct {
	UNC      string
	User     string
	Password string
	Domain   string
}

// smbCookie tracks the mount point so Close can unmount and remove it
type smbCookie struct {
	mountPoint string
}

// Scheme implements Source
func (s *SMBSource) Scheme() string { return SchemeSMB }

// Censor implements Source, clearing credentials while keeping the share
// identity.
func (s *SMBSource) Censor() Source {
	return &SMBSource{UNC: s.UNC}
}

// Open implements Source by mounting the share read-only on a fresh
// temporary directory. A failed mount removes the directory again so no
// half-created mount point leaks.
func (s *SMBSource) Open(ctx context.Context, _ *SourceManager) (Cookie, error) {
	dir, err := os.MkdirTemp("", "scanstreams-smb-*")
	if err != nil {
		return nil, errors.WrapTransient(err, "SMBSource", "Open", "create mount point")
	}

	options := []string{"ro"}
	if s.User != "" {
		options = append(options, "username="+s.User)
	}
	if s.Password != "" {
		options = append(options, "password="+s.Password)
	} else {
		options = append(options, "guest")
	}
	if s.Domain != "" {
		options = append(options, "domain="+s.Domain)
	}

	unc := strings.ReplaceAll(s.UNC, "\\", "/")
	cmd := exec.CommandContext(ctx, "mount", "-t", "cifs",
		unc, dir, "-o", strings.Join(options, ","))
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(dir)
		mountErr := fmt.Errorf("mount %s: %v: %s", unc, err, strings.TrimSpace(string(output)))
		if isTransientMountError(string(output)) {
			return nil, errors.WrapTransient(mountErr, "SMBSource", "Open", "mount share")
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrResourceUnavailable, mountErr),
			"SMBSource", "Open", "mount share")
	}

	return &smbCookie{mountPoint: dir}, nil
}

// isTransientMountError recognizes mount failures worth retrying, such as a
// server answering with a busy status.
func isTransientMountError(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "busy") ||
		strings.Contains(lower, "temporarily unavailable") ||
		strings.Contains(lower, "timed out")
}

// Close implements Source, unmounting the share and removing the mount point
func (s *SMBSource) Close(cookie Cookie) error {
	c, ok := cookie.(*smbCookie)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("unexpected cookie type %T", cookie),
			"SMBSource", "Close", "interpret cookie")
	}
	cmd := exec.Command("umount", c.mountPoint)
	output, err := cmd.CombinedOutput()
	removeErr := os.Remove(c.mountPoint)
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("umount %s: %v: %s", c.mountPoint, err, strings.TrimSpace(string(output))),
			"SMBSource", "Close", "unmount share")
	}
	if removeErr != nil {
		return errors.Wrap(removeErr, "SMBSource", "Close", "remove mount point")
	}
	return nil
}

// Handles implements Source, walking the mounted tree
func (s *SMBSource) Handles(
	ctx context.Context, sm *SourceManager, yield func(Handle) error,
) error {
	cookie, err := sm.Open(ctx, s)
	if err != nil {
		return err
	}
	root := cookie.(*smbCookie).mountPoint

	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrResourceUnavailable, err),
				"SMBSource", "Handles", "walk share")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.WrapInvalid(err, "SMBSource", "Handles", "relativize path")
		}
		return yield(&SMBHandle{source: s, relPath: filepath.ToSlash(rel)})
	})
}

// MarshalJSON implements json.Marshaler. Credentials are part of the
// serialized identity; censoring before export is the caller's duty.
func (s *SMBSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":     SchemeSMB,
		"unc":      s.UNC,
		"user":     s.User,
		"password": s.Password,
		"domain":   s.Domain,
	})
}

func decodeSMBSource(data []byte) (Source, error) {
	var raw struct {
		UNC      string `json:"unc"`
		User     string `json:"user"`
		Password string `json:"password"`
		Domain   string `json:"domain"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.UNC == "" {
		return nil, fmt.Errorf("smb source has no unc")
	}
	return &SMBSource{
		UNC:      raw.UNC,
		User:     raw.User,
		Password: raw.Password,
		Domain:   raw.Domain,
	}, nil
}

// SMBHandle references one file on a mounted share
type SMBHandle struct {
	source  *SMBSource
	relPath string
}

// Source implements Handle
func (h *SMBHandle) Source() Source { return h.source }

// RelativePath implements Handle
func (h *SMBHandle) RelativePath() string { return h.relPath }

// Presentation implements Handle
func (h *SMBHandle) Presentation() string {
	return h.source.UNC + "/" + h.relPath
}

// Censor implements Handle
func (h *SMBHandle) Censor() Handle {
	return &SMBHandle{
		source:  h.source.Censor().(*SMBSource),
		relPath: h.relPath,
	}
}

// Follow implements Handle
func (h *SMBHandle) Follow(ctx context.Context, sm *SourceManager) (Resource, error) {
	cookie, err := sm.Open(ctx, h.source)
	if err != nil {
		return nil, err
	}
	root := cookie.(*smbCookie).mountPoint
	return newFileResource(h, filepath.Join(root, filepath.FromSlash(h.relPath))), nil
}

// MarshalJSON implements json.Marshaler
func (h *SMBHandle) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":   SchemeSMB,
		"source": h.source,
		"path":   h.relPath,
	})
}

func decodeSMBHandle(data []byte) (Handle, error) {
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
	smbSource, ok := source.(*SMBSource)
	if !ok {
		return nil, fmt.Errorf("smb handle wraps a %s source", source.Scheme())
	}
	if raw.Path == "" {
		return nil, fmt.Errorf("smb handle has no path")
	}
	return &SMBHandle{source: smbSource, relPath: raw.Path}, nil
}
