package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scanstreams/errors"
)

func TestDecodeSourceRoundTrip(t *testing.T) {
	original := NewFilesystemSource("/data/share")

	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := DecodeSource(data)
	require.NoError(t, err)
	assert.True(t, SourcesEqual(original, decoded))
}

func TestDecodeSourceUnknownScheme(t *testing.T) {
	_, err := DecodeSource([]byte(`{"type": "carrier-pigeon"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownScheme)
	assert.NotErrorIs(t, err, errors.ErrDeserialisation)
}

func TestDecodeSourceMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"missing type", `{"path": "/data"}`},
		{"missing required field", `{"type": "filesystem"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSource([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrDeserialisation)
			assert.NotErrorIs(t, err, errors.ErrUnknownScheme)
		})
	}
}

func TestDecodeHandleRoundTrip(t *testing.T) {
	source := NewFilesystemSource("/data/share")
	original := NewFilesystemHandle(source, "reports/q3.txt")

	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := DecodeHandle(data)
	require.NoError(t, err)
	assert.True(t, HandlesEqual(Handle(original), decoded))
	assert.Equal(t, "reports/q3.txt", decoded.RelativePath())
}

func TestDecodeHandleNestedDerivedSource(t *testing.T) {
	// An mbox file on an SMB share: the handle's source wraps a handle of
	// another source.
	share := &SMBSource{UNC: "//fileserver/mail", User: "svc", Password: "hunter2"}
	mboxFile := &SMBHandle{source: share, relPath: "archive/2024.mbox"}
	derived := NewMboxSource(mboxFile)
	original := &MboxHandle{source: derived, Index: 7, Subject: "Quarterly numbers"}

	data, err := json.Marshal(Handle(original))
	require.NoError(t, err)

	decoded, err := DecodeHandle(data)
	require.NoError(t, err)
	assert.True(t, HandlesEqual(Handle(original), decoded))

	decodedMbox, ok := decoded.(*MboxHandle)
	require.True(t, ok)
	assert.Equal(t, 7, decodedMbox.Index)
	assert.Equal(t, "Quarterly numbers", decodedMbox.Subject)

	innerSource, ok := decodedMbox.Source().(*MboxSource)
	require.True(t, ok)
	assert.Equal(t, "archive/2024.mbox", innerSource.Handle.RelativePath())
	assert.Equal(t, "hunter2", innerSource.Handle.Source().(*SMBSource).Password)
}

func TestHandleEqualityIgnoresPresentation(t *testing.T) {
	account := &ImapSource{Server: "mail.example.com", Port: 993, User: "alice", Password: "s3cret", TLS: true}

	a := &ImapHandle{source: account, Folder: "INBOX", UID: 42, Subject: "hello"}
	b := &ImapHandle{source: account, Folder: "INBOX", UID: 42, Subject: "completely different"}
	c := &ImapHandle{source: account, Folder: "INBOX", UID: 43, Subject: "hello"}

	assert.True(t, HandlesEqual(a, b))
	assert.False(t, HandlesEqual(a, c))
}

func TestSourceEqualityIncludesCredentials(t *testing.T) {
	a := &SMBSource{UNC: "//server/share", User: "u", Password: "one"}
	b := &SMBSource{UNC: "//server/share", User: "u", Password: "two"}
	c := &SMBSource{UNC: "//server/share", User: "u", Password: "one"}

	assert.False(t, SourcesEqual(a, b))
	assert.True(t, SourcesEqual(a, c))
}
