package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCensorClearsSMBCredentials(t *testing.T) {
	source := &SMBSource{UNC: "//fileserver/secret", User: "svc", Password: "hunter2", Domain: "CORP"}

	censored := source.Censor().(*SMBSource)
	assert.Equal(t, "//fileserver/secret", censored.UNC)
	assert.Empty(t, censored.User)
	assert.Empty(t, censored.Password)
	assert.Empty(t, censored.Domain)

	// The original is untouched
	assert.Equal(t, "hunter2", source.Password)
}

func TestCensorClearsImapPassword(t *testing.T) {
	source := &ImapSource{Server: "mail.example.com", Port: 993, User: "alice", Password: "s3cret", TLS: true}

	censored := source.Censor().(*ImapSource)
	assert.Empty(t, censored.Password)
	assert.Equal(t, "alice", censored.User)
	assert.Equal(t, "mail.example.com", censored.Server)
	assert.True(t, censored.TLS)
}

func TestCensorRecursesThroughNestedChain(t *testing.T) {
	// A zip archive inside an mbox message on an SMB share: three levels
	// of nesting, credentials only at the bottom.
	share := &SMBSource{UNC: "//fileserver/mail", User: "svc", Password: "hunter2", Domain: "CORP"}
	mboxFile := &SMBHandle{source: share, relPath: "archive/2024.mbox"}
	mboxSource := NewMboxSource(mboxFile)
	message := &MboxHandle{source: mboxSource, Index: 3, Subject: "attachments"}
	zipSource := NewZipSource(message)
	entry := &ZipHandle{source: zipSource, Name: "docs/salary.xlsx"}

	censored := entry.Censor().(*ZipHandle)

	// Identity and presentation survive at every level
	assert.Equal(t, "docs/salary.xlsx", censored.Name)
	innerZip := censored.Source().(*ZipSource)
	innerMessage := innerZip.Handle.(*MboxHandle)
	assert.Equal(t, 3, innerMessage.Index)
	assert.Equal(t, "attachments", innerMessage.Subject)
	innerMbox := innerMessage.Source().(*MboxSource)
	innerFile := innerMbox.Handle.(*SMBHandle)
	assert.Equal(t, "archive/2024.mbox", innerFile.RelativePath())

	// Credentials are gone at the bottom
	innerShare := innerFile.Source().(*SMBSource)
	assert.Equal(t, "//fileserver/mail", innerShare.UNC)
	assert.Empty(t, innerShare.User)
	assert.Empty(t, innerShare.Password)
	assert.Empty(t, innerShare.Domain)

	// The original chain keeps its credentials
	assert.Equal(t, "hunter2", share.Password)
}

func TestCensorIsIdempotent(t *testing.T) {
	share := &SMBSource{UNC: "//fileserver/mail", User: "svc", Password: "hunter2"}
	handle := &SMBHandle{source: share, relPath: "a/b.txt"}

	once := handle.Censor()
	twice := once.Censor()

	onceJSON, err := once.MarshalJSON()
	require.NoError(t, err)
	twiceJSON, err := twice.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(onceJSON), string(twiceJSON))
}

func TestCensoredHandleKeepsEquality(t *testing.T) {
	// Censoring changes the source's serialized form, so a censored handle
	// is not equal to its uncensored original, but two censored copies are
	// equal to each other.
	share := &SMBSource{UNC: "//fileserver/mail", User: "svc", Password: "hunter2"}
	handle := &SMBHandle{source: share, relPath: "a/b.txt"}

	assert.True(t, HandlesEqual(handle.Censor(), handle.Censor()))
	assert.False(t, HandlesEqual(Handle(handle), handle.Censor()))
}
