package mail

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// imapStore is the IMAP implementation of Store, backed by go-imap's
// imapclient. One client connection serves the store and its folders.
type imapStore struct {
	session *Session
	url     *StoreURL
	client  *imapclient.Client
}

func newIMAPStore(s *Session, u *StoreURL) *imapStore {
	return &imapStore{session: s, url: u}
}

func (s *imapStore) Connect() error {
	dialer := &net.Dialer{Timeout: s.session.props.dialTimeout()}
	addr := s.url.Addr()

	var conn net.Conn
	var err error
	if s.url.Protocol == "imaps" {
		tlsCfg := s.session.props.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: s.url.Host}
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connecting to IMAP server %s: %w", addr, err)
	}

	client := imapclient.New(conn, &imapclient.Options{})

	if s.session.auth != nil {
		err = client.Authenticate(s.session.auth())
	} else {
		err = client.Login(s.url.Username, s.url.Password).Wait()
	}
	if err != nil {
		client.Close()
		return fmt.Errorf("IMAP authentication failed: %w", err)
	}

	s.client = client
	return nil
}

func (s *imapStore) IsConnected() bool {
	return s.client != nil
}

func (s *imapStore) Folder(name string) Folder {
	return &imapFolder{store: s, name: name}
}

func (s *imapStore) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// imapFolder is a mailbox on an imapStore. Open selects the mailbox;
// Close issues CLOSE (expunging when the mailbox is writable) or UNSELECT.
type imapFolder struct {
	store    *imapStore
	name     string
	open     bool
	readOnly bool
}

func (f *imapFolder) Name() string { return f.name }

func (f *imapFolder) Exists() (bool, error) {
	mailboxes, err := f.store.client.List("", f.name, &imap.ListOptions{}).Collect()
	if err != nil {
		return false, fmt.Errorf("listing mailbox %q: %w", f.name, err)
	}
	return len(mailboxes) > 0, nil
}

func (f *imapFolder) Open(mode OpenMode) error {
	readOnly := mode == ReadOnly
	_, err := f.store.client.Select(f.name, &imap.SelectOptions{ReadOnly: readOnly}).Wait()
	if err != nil {
		return fmt.Errorf("selecting mailbox %q: %w", f.name, err)
	}
	f.open = true
	f.readOnly = readOnly
	return nil
}

func (f *imapFolder) IsOpen() bool { return f.open }

func (f *imapFolder) Search(criteria *SearchCriteria) ([]uint32, error) {
	sc := &imap.SearchCriteria{}
	if criteria != nil {
		if criteria.Unseen {
			sc.NotFlag = append(sc.NotFlag, imap.FlagSeen)
		}
		if !criteria.Since.IsZero() {
			sc.Since = criteria.Since
		}
	}

	data, err := f.store.client.UIDSearch(sc, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching mailbox %q: %w", f.name, err)
	}

	uids := data.AllUIDs()
	ids := make([]uint32, len(uids))
	for i, uid := range uids {
		ids[i] = uint32(uid)
	}
	return ids, nil
}

func (f *imapFolder) Fetch(ids []uint32, profile FetchProfile) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	uids := make([]imap.UID, len(ids))
	for i, id := range ids {
		uids[i] = imap.UID(id)
	}
	uidSet := imap.UIDSetNum(uids...)

	options := &imap.FetchOptions{
		UID:        true,
		Envelope:   profile.Envelope,
		Flags:      profile.Flags,
		RFC822Size: true,
	}
	var bodySection *imap.FetchItemBodySection
	if profile.Content {
		// Peek so fetching does not set \Seen behind the caller's back.
		bodySection = &imap.FetchItemBodySection{Peek: true}
		options.BodySection = []*imap.FetchItemBodySection{bodySection}
	}

	bufs, err := f.store.client.Fetch(uidSet, options).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching %d messages from %q: %w", len(ids), f.name, err)
	}

	byUID := make(map[uint32]*Message, len(bufs))
	for _, buf := range bufs {
		msg := imapBufferToMessage(buf)
		if bodySection != nil {
			if raw := buf.FindBodySection(bodySection); raw != nil {
				msg.Raw = raw
				parseRawMessage(msg, raw)
			}
		}
		byUID[msg.UID] = msg
	}

	// Servers may answer in any order; callers rely on ids order.
	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := byUID[id]; ok {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (f *imapFolder) MarkDeleted(ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	uids := make([]imap.UID, len(ids))
	for i, id := range ids {
		uids[i] = imap.UID(id)
	}
	_, err := f.store.client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagDeleted},
	}, nil).Collect()
	if err != nil {
		return fmt.Errorf("flagging messages deleted in %q: %w", f.name, err)
	}
	return nil
}

func (f *imapFolder) Close(expunge bool) error {
	if !f.open {
		return nil
	}
	f.open = false

	// CLOSE expunges a writable mailbox and is a plain close on a
	// read-only one, so it covers every case except a writable mailbox
	// being closed without expunge.
	var err error
	if expunge || f.readOnly {
		err = f.store.client.UnselectAndExpunge().Wait()
	} else {
		err = f.store.client.Unselect().Wait()
	}
	if err != nil {
		return fmt.Errorf("closing mailbox %q: %w", f.name, err)
	}
	return nil
}

// imapBufferToMessage converts a fetch response into a Message.
func imapBufferToMessage(buf *imapclient.FetchMessageBuffer) *Message {
	msg := &Message{
		UID:    uint32(buf.UID),
		SeqNum: buf.SeqNum,
	}
	if buf.RFC822Size > 0 {
		msg.Size = uint32(buf.RFC822Size)
	}

	if env := buf.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.Date = env.Date
		msg.MessageID = env.MessageID
		if len(env.InReplyTo) > 0 {
			msg.InReplyTo = env.InReplyTo[0]
			msg.References = append([]string(nil), env.InReplyTo...)
		}
		msg.From = imapAddresses(env.From)
		msg.To = imapAddresses(env.To)
		msg.Cc = imapAddresses(env.Cc)
		msg.Bcc = imapAddresses(env.Bcc)
	}

	for _, fl := range buf.Flags {
		switch fl {
		case imap.FlagSeen:
			msg.Flags.Seen = true
		case imap.FlagFlagged:
			msg.Flags.Flagged = true
		case imap.FlagAnswered:
			msg.Flags.Answered = true
		case imap.FlagDraft:
			msg.Flags.Draft = true
		case imap.FlagDeleted:
			msg.Flags.Deleted = true
		}
	}

	return msg
}

func imapAddresses(addrs []imap.Address) []Address {
	result := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		result = append(result, Address{Name: a.Name, Email: a.Addr()})
	}
	return result
}
