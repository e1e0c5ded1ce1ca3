package mail

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"strconv"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
)

// pop3Store is the POP3 implementation of Store. POP3 has a single
// implicit mailbox and transaction-scoped deletions: DELE only marks, and
// QUIT commits. That maps onto the store/folder model as follows: the
// connection opened by Connect is the folder session, closing the folder
// with expunge sends QUIT (committing deletions) while closing without
// expunge sends RSET first. Either way the connection is gone afterwards
// and the next receive cycle reconnects.
type pop3Store struct {
	session *Session
	url     *StoreURL
	conn    *pop3Conn
}

func newPOP3Store(s *Session, u *StoreURL) *pop3Store {
	return &pop3Store{session: s, url: u}
}

func (s *pop3Store) Connect() error {
	addr := s.url.Addr()
	dialer := &net.Dialer{Timeout: s.session.props.dialTimeout()}

	var netConn net.Conn
	var err error
	if s.url.Protocol == "pop3s" {
		tlsCfg := s.session.props.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: s.url.Host}
		}
		netConn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		netConn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connecting to POP3 server %s: %w", addr, err)
	}

	conn := &pop3Conn{
		conn: netConn,
		r:    bufio.NewReader(netConn),
		w:    bufio.NewWriter(netConn),
	}

	if _, err := conn.readOne(); err != nil {
		netConn.Close()
		return fmt.Errorf("POP3 greeting failed: %w", err)
	}

	if err := conn.auth(s.url.Username, s.url.Password); err != nil {
		netConn.Close()
		return fmt.Errorf("POP3 authentication failed: %w", err)
	}

	s.conn = conn
	return nil
}

func (s *pop3Store) IsConnected() bool { return s.conn != nil }

func (s *pop3Store) Folder(name string) Folder {
	return &pop3Folder{store: s, name: name}
}

func (s *pop3Store) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.quit()
	s.conn = nil
	return err
}

// pop3Folder is the single POP3 maildrop. Only INBOX exists.
type pop3Folder struct {
	store *pop3Store
	name  string
	open  bool
}

func (f *pop3Folder) Name() string { return f.name }

func (f *pop3Folder) Exists() (bool, error) {
	return strings.EqualFold(f.name, DefaultFolder), nil
}

// Open marks the maildrop session started. The authenticated connection
// established by the store already is the open maildrop.
func (f *pop3Folder) Open(mode OpenMode) error {
	if f.store.conn == nil {
		return errors.New("POP3 store is not connected")
	}
	f.open = true
	return nil
}

func (f *pop3Folder) IsOpen() bool { return f.open }

// Search lists every message in the maildrop. POP3 keeps no flag state,
// so the Unseen and Since criteria cannot narrow the result.
func (f *pop3Folder) Search(criteria *SearchCriteria) ([]uint32, error) {
	count, _, err := f.store.conn.stat()
	if err != nil {
		return nil, fmt.Errorf("POP3 STAT failed: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	listing, err := f.store.conn.list(0)
	if err != nil {
		return nil, fmt.Errorf("POP3 LIST failed: %w", err)
	}
	ids := make([]uint32, 0, len(listing))
	for _, entry := range listing {
		ids = append(ids, uint32(entry.ID))
	}
	return ids, nil
}

func (f *pop3Folder) Fetch(ids []uint32, profile FetchProfile) ([]*Message, error) {
	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		var raw []byte
		var err error
		if profile.Content {
			raw, err = f.store.conn.retr(int(id))
		} else {
			raw, err = f.store.conn.top(int(id), 0)
		}
		if err != nil {
			return nil, fmt.Errorf("POP3 fetch of message %d failed: %w", id, err)
		}

		msg := pop3RawToMessage(raw, id)
		if profile.Content {
			msg.Raw = raw
			parseRawMessage(msg, raw)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (f *pop3Folder) MarkDeleted(ids []uint32) error {
	for _, id := range ids {
		if err := f.store.conn.dele(int(id)); err != nil {
			return fmt.Errorf("POP3 DELE %d failed: %w", id, err)
		}
	}
	return nil
}

// Close ends the maildrop session. With expunge the QUIT commits any
// DELE marks; without it an RSET rolls them back first. The store is left
// disconnected either way.
func (f *pop3Folder) Close(expunge bool) error {
	if !f.open {
		return nil
	}
	f.open = false

	conn := f.store.conn
	if conn == nil {
		return nil
	}
	f.store.conn = nil

	if !expunge {
		if err := conn.rset(); err != nil {
			conn.conn.Close()
			return fmt.Errorf("POP3 RSET failed: %w", err)
		}
	}
	return conn.quit()
}

// ---------- low-level POP3 protocol ----------

// pop3ListEntry is one LIST response line: message number and size.
type pop3ListEntry struct {
	ID   int
	Size int
}

var (
	pop3LineBreak   = []byte("\r\n")
	pop3RespOK      = []byte("+OK")
	pop3RespOKInfo  = []byte("+OK ")
	pop3RespErr     = []byte("-ERR")
	pop3RespErrInfo = []byte("-ERR ")
)

// pop3Conn is a raw POP3 connection.
type pop3Conn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// send writes a POP3 command line.
func (c *pop3Conn) send(s string) error {
	if _, err := c.w.WriteString(s + "\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// cmd sends a command and reads the response.
// If isMulti is true, it reads until the "." terminator.
func (c *pop3Conn) cmd(cmd string, isMulti bool, args ...interface{}) (*bytes.Buffer, error) {
	cmdLine := cmd
	if len(args) > 0 {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprintf("%v", a)
		}
		cmdLine = cmd + " " + strings.Join(parts, " ")
	}

	if err := c.send(cmdLine); err != nil {
		return nil, err
	}

	b, err := c.readOne()
	if err != nil {
		return nil, err
	}

	if !isMulti {
		return bytes.NewBuffer(b), nil
	}

	return c.readAll()
}

// readOne reads a single-line response and checks +OK/-ERR.
func (c *pop3Conn) readOne() ([]byte, error) {
	b, _, err := c.r.ReadLine()
	if err != nil {
		return nil, err
	}
	return parsePOP3Resp(b)
}

// readAll reads lines until the POP3 multiline terminator ".".
func (c *pop3Conn) readAll() (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	for {
		b, _, err := c.r.ReadLine()
		if err != nil {
			return nil, err
		}
		if bytes.Equal(b, []byte(".")) {
			break
		}
		// Byte-stuff: lines starting with "." have the leading dot removed
		if bytes.HasPrefix(b, []byte("..")) {
			b = b[1:]
		}
		buf.Write(b)
		buf.Write(pop3LineBreak)
	}
	return buf, nil
}

// auth authenticates with USER/PASS.
func (c *pop3Conn) auth(user, password string) error {
	if _, err := c.cmd("USER", false, user); err != nil {
		return err
	}
	if _, err := c.cmd("PASS", false, password); err != nil {
		return err
	}
	// NOOP to confirm auth succeeded
	_, err := c.cmd("NOOP", false)
	return err
}

// stat returns message count and total size.
func (c *pop3Conn) stat() (count, size int, err error) {
	b, err := c.cmd("STAT", false)
	if err != nil {
		return 0, 0, err
	}
	f := bytes.Fields(b.Bytes())
	if len(f) < 2 {
		return 0, 0, nil
	}
	count, _ = strconv.Atoi(string(f[0]))
	size, _ = strconv.Atoi(string(f[1]))
	return count, size, nil
}

// list returns message IDs and sizes. If msgID > 0, only that message.
func (c *pop3Conn) list(msgID int) ([]pop3ListEntry, error) {
	var buf *bytes.Buffer
	var err error

	if msgID <= 0 {
		buf, err = c.cmd("LIST", true)
	} else {
		buf, err = c.cmd("LIST", false, msgID)
	}
	if err != nil {
		return nil, err
	}

	var out []pop3ListEntry
	for _, l := range bytes.Split(buf.Bytes(), pop3LineBreak) {
		f := bytes.Fields(l)
		if len(f) < 2 {
			continue
		}
		id, _ := strconv.Atoi(string(f[0]))
		sz, _ := strconv.Atoi(string(f[1]))
		out = append(out, pop3ListEntry{ID: id, Size: sz})
	}
	return out, nil
}

// retr downloads a message's raw RFC 5322 bytes.
func (c *pop3Conn) retr(msgID int) ([]byte, error) {
	b, err := c.cmd("RETR", true, msgID)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// top retrieves headers + numLines body lines.
func (c *pop3Conn) top(msgID, numLines int) ([]byte, error) {
	b, err := c.cmd("TOP", true, msgID, numLines)
	if err != nil {
		// Fall back to RETR when TOP is not supported.
		return c.retr(msgID)
	}
	return b.Bytes(), nil
}

// dele marks a message for deletion.
func (c *pop3Conn) dele(msgID int) error {
	_, err := c.cmd("DELE", false, msgID)
	return err
}

// rset unmarks all messages marked for deletion in this session.
func (c *pop3Conn) rset() error {
	_, err := c.cmd("RSET", false)
	return err
}

// quit sends QUIT and closes the connection.
func (c *pop3Conn) quit() error {
	c.cmd("QUIT", false) //nolint: ignore QUIT errors
	return c.conn.Close()
}

// ---------- response parsing ----------

func parsePOP3Resp(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if bytes.Equal(b, pop3RespOK) {
		return nil, nil
	}
	if bytes.HasPrefix(b, pop3RespOKInfo) {
		return bytes.TrimPrefix(b, pop3RespOKInfo), nil
	}
	if bytes.Equal(b, pop3RespErr) {
		return nil, errors.New("POP3: unknown error")
	}
	if bytes.HasPrefix(b, pop3RespErrInfo) {
		return nil, fmt.Errorf("POP3: %s", bytes.TrimPrefix(b, pop3RespErrInfo))
	}
	return nil, fmt.Errorf("POP3: unexpected response: %s", string(b))
}

// ---------- message conversion ----------

// pop3RawToMessage builds a Message from raw message bytes, extracting
// envelope headers. POP3 has no UIDs or flags; the sequence number stands
// in for both UID and SeqNum.
func pop3RawToMessage(raw []byte, seqNum uint32) *Message {
	msg := &Message{
		UID:    seqNum,
		SeqNum: seqNum,
		Size:   uint32(len(raw)),
	}

	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return msg
	}

	h := gomail.Header{Header: entity.Header}

	msg.Subject, _ = h.Subject()
	msg.Date, _ = h.Date()
	msg.MessageID = h.Get("Message-Id")
	msg.InReplyTo = h.Get("In-Reply-To")

	if refs := h.Get("References"); refs != "" {
		msg.References = strings.Fields(refs)
	}

	if from, err := h.AddressList("From"); err == nil {
		msg.From = pop3Addresses(from)
	}
	if to, err := h.AddressList("To"); err == nil {
		msg.To = pop3Addresses(to)
	}
	if cc, err := h.AddressList("Cc"); err == nil {
		msg.Cc = pop3Addresses(cc)
	}

	return msg
}

func pop3Addresses(addrs []*gomail.Address) []Address {
	dec := &mime.WordDecoder{}
	out := make([]Address, len(addrs))
	for i, a := range addrs {
		name := a.Name
		if decoded, err := dec.DecodeHeader(name); err == nil {
			name = decoded
		}
		out[i] = Address{Name: name, Email: a.Address}
	}
	return out
}
