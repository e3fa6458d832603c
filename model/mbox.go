package model

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"

	"github.com/c360/scanstreams/errors"
)

// SchemeMbox identifies derived sources over mbox mail archives
const SchemeMbox = "mbox"

func init() {
	RegisterSource(SchemeMbox, decodeMboxSource)
	RegisterHandle(SchemeMbox, decodeMboxHandle)
}

// MboxSource is a derived Source: its content is the messages inside an mbox
// file referenced by a Handle of another Source. Opening it stages the
// parent content to a local path through the parent's own session.
type MboxSource struct {
	Handle Handle
}

// NewMboxSource creates a derived Source over the mbox file at handle
func NewMboxSource(handle Handle) *MboxSource {
	return &MboxSource{Handle: handle}
}

// Scheme implements Source
func (s *MboxSource) Scheme() string { return SchemeMbox }

// Censor implements Source, recursing into the wrapped Handle
func (s *MboxSource) Censor() Source {
	return &MboxSource{Handle: s.Handle.Censor()}
}

// Open implements Source by following the parent Handle and staging its
// content. The cookie is the staged path; the parent session owns its
// lifetime.
func (s *MboxSource) Open(ctx context.Context, sm *SourceManager) (Cookie, error) {
	resource, err := s.Handle.Follow(ctx, sm)
	if err != nil {
		return nil, err
	}
	path, err := resource.Path(ctx)
	if err != nil {
		return nil, err
	}
	return path, nil
}

// Close implements Source. The staged file belongs to the parent session.
func (s *MboxSource) Close(_ Cookie) error { return nil }

// Handles implements Source, yielding one Handle per message in file order
func (s *MboxSource) Handles(
	ctx context.Context, sm *SourceManager, yield func(Handle) error,
) error {
	cookie, err := sm.Open(ctx, s)
	if err != nil {
		return err
	}
	path := cookie.(string)

	file, err := os.Open(path)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrResourceUnavailable, err),
			"MboxSource", "Handles", "open staged mbox")
	}
	defer func() { _ = file.Close() }()

	reader := mboxlib.NewReader(file)
	for index := 0; ; index++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		messageReader, err := reader.NextMessage()
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			return errors.WrapInvalid(
				fmt.Errorf("%w: message %d: %v", errors.ErrResourceUnavailable, index, err),
				"MboxSource", "Handles", "read mbox")
		}
		raw, err := io.ReadAll(messageReader)
		if err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: message %d: %v", errors.ErrResourceUnavailable, index, err),
				"MboxSource", "Handles", "read message")
		}
		subject := messageSubject(raw)
		if err := yield(&MboxHandle{source: s, Index: index, Subject: subject}); err != nil {
			return err
		}
	}
}

// messageSubject extracts a decoded subject line, or "" when the headers
// cannot be parsed.
func messageSubject(raw []byte) string {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil || reader == nil {
		return ""
	}
	subject, err := reader.Header.Subject()
	if err != nil {
		return ""
	}
	return subject
}

func messageDate(raw []byte) time.Time {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil || reader == nil {
		return time.Time{}
	}
	date, err := reader.Header.Date()
	if err != nil {
		return time.Time{}
	}
	return date
}

// MarshalJSON implements json.Marshaler
func (s *MboxSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":   SchemeMbox,
		"handle": s.Handle,
	})
}

func decodeMboxSource(data []byte) (Source, error) {
	var raw struct {
		Handle json.RawMessage `json:"handle"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.Handle) == 0 {
		return nil, fmt.Errorf("mbox source has no handle")
	}
	handle, err := DecodeHandle(raw.Handle)
	if err != nil {
		return nil, err
	}
	return &MboxSource{Handle: handle}, nil
}

// MboxHandle references one message inside an mbox file by position
type MboxHandle struct {
	source  *MboxSource
	Index   int
	Subject string
}

// Source implements Handle
func (h *MboxHandle) Source() Source { return h.source }

// RelativePath implements Handle
func (h *MboxHandle) RelativePath() string {
	return strconv.Itoa(h.Index)
}

// Presentation implements Handle
func (h *MboxHandle) Presentation() string {
	if h.Subject != "" {
		return fmt.Sprintf("%q (in %s)", h.Subject, h.source.Handle.Presentation())
	}
	return fmt.Sprintf("message %d (in %s)", h.Index, h.source.Handle.Presentation())
}

// Censor implements Handle
func (h *MboxHandle) Censor() Handle {
	return &MboxHandle{
		source:  h.source.Censor().(*MboxSource),
		Index:   h.Index,
		Subject: h.Subject,
	}
}

// Follow implements Handle, re-reading the staged mbox up to the message's
// position.
func (h *MboxHandle) Follow(ctx context.Context, sm *SourceManager) (Resource, error) {
	cookie, err := sm.Open(ctx, h.source)
	if err != nil {
		return nil, err
	}
	path := cookie.(string)

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrResourceUnavailable, err),
			"MboxHandle", "Follow", "open staged mbox")
	}
	defer func() { _ = file.Close() }()

	reader := mboxlib.NewReader(file)
	for index := 0; ; index++ {
		messageReader, err := reader.NextMessage()
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: message %d not found", errors.ErrResourceUnavailable, h.Index),
					"MboxHandle", "Follow", "locate message")
			}
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: message %d: %v", errors.ErrResourceUnavailable, index, err),
				"MboxHandle", "Follow", "read mbox")
		}
		if index < h.Index {
			if _, err := io.Copy(io.Discard, messageReader); err != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: message %d: %v", errors.ErrResourceUnavailable, index, err),
					"MboxHandle", "Follow", "skip message")
			}
			continue
		}
		raw, err := io.ReadAll(messageReader)
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: message %d: %v", errors.ErrResourceUnavailable, index, err),
				"MboxHandle", "Follow", "read message")
		}
		return newBytesResource(h, sm, raw, messageDate(raw), "message/rfc822"), nil
	}
}

// MarshalJSON implements json.Marshaler
func (h *MboxHandle) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":    SchemeMbox,
		"source":  h.source,
		"index":   h.Index,
		"subject": h.Subject,
	})
}

func decodeMboxHandle(data []byte) (Handle, error) {
	var raw struct {
		Source  json.RawMessage `json:"source"`
		Index   int             `json:"index"`
		Subject string          `json:"subject"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	source, err := DecodeSource(raw.Source)
	if err != nil {
		return nil, err
	}
	mboxSource, ok := source.(*MboxSource)
	if !ok {
		return nil, fmt.Errorf("mbox handle wraps a %s source", source.Scheme())
	}
	return &MboxHandle{
		source:  mboxSource,
		Index:   raw.Index,
		Subject: raw.Subject,
	}, nil
}
