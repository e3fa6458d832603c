package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/c360/scanstreams/errors"
)

// SchemeImap identifies IMAP mailbox sources
const SchemeImap = "imap"

func init() {
	RegisterSource(SchemeImap, decodeImapSource)
	RegisterHandle(SchemeImap, decodeImapHandle)
}

// ImapSource scans every mailbox of one IMAP account. The session cookie is
// a logged-in client connection shared by all Handles of the account.
type ImapSource struct {
	Server   string
	Port     int
	User     string
	Password string
	TLS      bool
}

// Scheme implements Source
func (s *ImapSource) Scheme() string { return SchemeImap }

// Censor implements Source
func (s *ImapSource) Censor() Source {
	return &ImapSource{
		Server: s.Server,
		Port:   s.Port,
		User:   s.User,
		TLS:    s.TLS,
	}
}

// Open implements Source by dialing and logging in
func (s *ImapSource) Open(_ context.Context, _ *SourceManager) (Cookie, error) {
	address := net.JoinHostPort(s.Server, strconv.Itoa(s.Port))

	var (
		client *imapclient.Client
		err    error
	)
	if s.TLS {
		client, err = imapclient.DialTLS(address, nil)
	} else {
		client, err = imapclient.DialInsecure(address, nil)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "ImapSource", "Open",
			fmt.Sprintf("dial %s", address))
	}

	if err := client.Login(s.User, s.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, errors.WrapInvalid(err, "ImapSource", "Open", "login")
	}

	return client, nil
}

// Close implements Source
func (s *ImapSource) Close(cookie Cookie) error {
	client, ok := cookie.(*imapclient.Client)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("unexpected cookie type %T", cookie),
			"ImapSource", "Close", "interpret cookie")
	}
	logoutErr := client.Logout().Wait()
	closeErr := client.Close()
	if logoutErr != nil {
		return errors.Wrap(logoutErr, "ImapSource", "Close", "logout")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "ImapSource", "Close", "close connection")
	}
	return nil
}

// Handles implements Source, enumerating every message of every mailbox.
// Messages are fetched one envelope at a time so enumeration stays lazy.
func (s *ImapSource) Handles(
	ctx context.Context, sm *SourceManager, yield func(Handle) error,
) error {
	cookie, err := sm.Open(ctx, s)
	if err != nil {
		return err
	}
	client := cookie.(*imapclient.Client)

	mailboxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: list mailboxes: %v", errors.ErrResourceUnavailable, err),
			"ImapSource", "Handles", "list mailboxes")
	}

	for _, mailbox := range mailboxes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.enumerateMailbox(ctx, client, mailbox.Mailbox, yield); err != nil {
			return err
		}
	}
	return nil
}

func (s *ImapSource) enumerateMailbox(
	ctx context.Context, client *imapclient.Client, mailbox string,
	yield func(Handle) error,
) error {
	selectData, err := client.Select(mailbox, nil).Wait()
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: select mailbox %q: %v", errors.ErrResourceUnavailable, mailbox, err),
			"ImapSource", "Handles", "select mailbox")
	}
	if selectData.NumMessages == 0 {
		return nil
	}

	var all imap.SeqSet
	all.AddRange(1, 0)
	cmd := client.Fetch(all, &imap.FetchOptions{UID: true, Envelope: true})
	for {
		if ctx.Err() != nil {
			_ = cmd.Close()
			return ctx.Err()
		}
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buffer, err := msg.Collect()
		if err != nil {
			_ = cmd.Close()
			return errors.WrapInvalid(
				fmt.Errorf("%w: fetch envelope in %q: %v", errors.ErrResourceUnavailable, mailbox, err),
				"ImapSource", "Handles", "fetch envelope")
		}
		subject := ""
		if buffer.Envelope != nil {
			subject = buffer.Envelope.Subject
		}
		handle := &ImapHandle{
			source:  s,
			Folder:  mailbox,
			UID:     uint32(buffer.UID),
			Subject: subject,
		}
		if err := yield(handle); err != nil {
			_ = cmd.Close()
			return err
		}
	}
	if err := cmd.Close(); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: fetch in %q: %v", errors.ErrResourceUnavailable, mailbox, err),
			"ImapSource", "Handles", "finish fetch")
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (s *ImapSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":     SchemeImap,
		"server":   s.Server,
		"port":     s.Port,
		"user":     s.User,
		"password": s.Password,
		"tls":      s.TLS,
	})
}

func decodeImapSource(data []byte) (Source, error) {
	var raw struct {
		Server   string `json:"server"`
		Port     int    `json:"port"`
		User     string `json:"user"`
		Password string `json:"password"`
		TLS      bool   `json:"tls"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Server == "" {
		return nil, fmt.Errorf("imap source has no server")
	}
	if raw.Port == 0 {
		raw.Port = 993
	}
	return &ImapSource{
		Server:   raw.Server,
		Port:     raw.Port,
		User:     raw.User,
		Password: raw.Password,
		TLS:      raw.TLS,
	}, nil
}

// ImapHandle references one message in one mailbox. The subject is carried
// for presentation only and does not participate in equality.
type ImapHandle struct {
	source  *ImapSource
	Folder  string
	UID     uint32
	Subject string
}

// Source implements Handle
func (h *ImapHandle) Source() Source { return h.source }

// RelativePath implements Handle
func (h *ImapHandle) RelativePath() string {
	return fmt.Sprintf("%s/%d", h.Folder, h.UID)
}

// Presentation implements Handle
func (h *ImapHandle) Presentation() string {
	if h.Subject != "" {
		return fmt.Sprintf("%q (in folder %s of account %s)", h.Subject, h.Folder, h.source.User)
	}
	return fmt.Sprintf("message %d (in folder %s of account %s)", h.UID, h.Folder, h.source.User)
}

// Censor implements Handle
func (h *ImapHandle) Censor() Handle {
	return &ImapHandle{
		source:  h.source.Censor().(*ImapSource),
		Folder:  h.Folder,
		UID:     h.UID,
		Subject: h.Subject,
	}
}

// Follow implements Handle, fetching the full message body
func (h *ImapHandle) Follow(ctx context.Context, sm *SourceManager) (Resource, error) {
	cookie, err := sm.Open(ctx, h.source)
	if err != nil {
		return nil, err
	}
	client := cookie.(*imapclient.Client)

	if _, err := client.Select(h.Folder, nil).Wait(); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: select mailbox %q: %v", errors.ErrResourceUnavailable, h.Folder, err),
			"ImapHandle", "Follow", "select mailbox")
	}

	section := &imap.FetchItemBodySection{}
	uidSet := imap.UIDSetNum(imap.UID(h.UID))
	buffers, err := client.Fetch(uidSet, &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: fetch message %d: %v", errors.ErrResourceUnavailable, h.UID, err),
			"ImapHandle", "Follow", "fetch message")
	}
	if len(buffers) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: message %d not found in %q", errors.ErrResourceUnavailable, h.UID, h.Folder),
			"ImapHandle", "Follow", "locate message")
	}

	body := buffers[0].FindBodySection(section)
	return newBytesResource(h, sm, body, buffers[0].InternalDate, "message/rfc822"), nil
}

// MarshalJSON implements json.Marshaler
func (h *ImapHandle) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":    SchemeImap,
		"source":  h.source,
		"folder":  h.Folder,
		"uid":     h.UID,
		"subject": h.Subject,
	})
}

func decodeImapHandle(data []byte) (Handle, error) {
	var raw struct {
		Source  json.RawMessage `json:"source"`
		Folder  string          `json:"folder"`
		UID     uint32          `json:"uid"`
		Subject string          `json:"subject"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	source, err := DecodeSource(raw.Source)
	if err != nil {
		return nil, err
	}
	imapSource, ok := source.(*ImapSource)
	if !ok {
		return nil, fmt.Errorf("imap handle wraps a %s source", source.Scheme())
	}
	if raw.Folder == "" {
		return nil, fmt.Errorf("imap handle has no folder")
	}
	return &ImapHandle{
		source:  imapSource,
		Folder:  raw.Folder,
		UID:     raw.UID,
		Subject: raw.Subject,
	}, nil
}
