package mail

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

// ---------------------------------------------------------------------------
// IMAP mock server helper
// ---------------------------------------------------------------------------

const (
	imapTestUser = "testuser"
	imapTestPass = "testpass"
)

// newTestIMAPServer starts an in-memory IMAP server and returns the
// listen address.
func newTestIMAPServer(t *testing.T) string {
	t.Helper()

	memSrv := imapmemserver.New()
	user := imapmemserver.NewUser(imapTestUser, imapTestPass)
	user.Create("INBOX", nil)
	memSrv.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memSrv.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String()
}

// appendTestMail appends a raw RFC 5322 message to the given mailbox via
// a direct IMAP client (not through the receiver).
func appendTestMail(t *testing.T, addr, mailbox, rawMsg string, flags ...imap.Flag) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c := imapclient.New(conn, nil)
	if err := c.Login(imapTestUser, imapTestPass).Wait(); err != nil {
		t.Fatal(err)
	}

	var opts *imap.AppendOptions
	if len(flags) > 0 {
		opts = &imap.AppendOptions{Flags: flags}
	}
	appendCmd := c.Append(mailbox, int64(len(rawMsg)), opts)
	if _, err := appendCmd.Write([]byte(rawMsg)); err != nil {
		t.Fatal(err)
	}
	if err := appendCmd.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		t.Fatal(err)
	}
	c.Close()
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestIMAPReceiveUnseenOnly(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)
	appendTestMail(t, addr, "INBOX", testMailMultipart)
	appendTestMail(t, addr, "INBOX", testMailRFC822, imap.FlagSeen)

	r := receiverForAddr(t, "imap", imapTestUser, imapTestPass, addr, "INBOX")

	msgs, err := r.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 unseen", len(msgs))
	}

	m := msgs[0]
	if m.Subject != "Test Subject" {
		t.Errorf("Subject = %q", m.Subject)
	}
	if m.Sender() != "sender@example.com" {
		t.Errorf("Sender = %q", m.Sender())
	}
	if !strings.Contains(m.TextBody, "Hello, World!") {
		t.Errorf("TextBody = %q", m.TextBody)
	}

	multi := msgs[1]
	if !strings.Contains(multi.TextBody, "Plain text body") {
		t.Errorf("multipart TextBody = %q", multi.TextBody)
	}
	if len(multi.Attachments) != 1 || multi.Attachments[0].Filename != "test.bin" {
		t.Errorf("attachments = %+v", multi.Attachments)
	}
}

func TestIMAPReceiveDoesNotMarkSeen(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)

	r := receiverForAddr(t, "imap", imapTestUser, imapTestPass, addr, "INBOX")

	// Fetching with a read-only open and peek must leave the message
	// unseen, so a second cycle sees it again.
	for i := 0; i < 2; i++ {
		msgs, err := r.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 1 {
			t.Fatalf("cycle %d: got %d messages, want 1", i, len(msgs))
		}
	}
}

func TestIMAPDeleteExpungesOnClose(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailRFC822)
	appendTestMail(t, addr, "INBOX", testMailMultipart)

	r := receiverForAddr(t, "imap", imapTestUser, imapTestPass, addr, "INBOX")
	r.SetDeleteMessages(true)
	r.SetOpenMode(ReadWrite)

	msgs, err := r.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Flags.Deleted {
			t.Errorf("copy UID %d carries deletion flag", m.UID)
		}
	}

	// The close expunged; the next cycle must find nothing.
	msgs, err = r.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after expunge, want 0", len(msgs))
	}
}

func TestIMAPMaxFetchSizeKeepsSearchOrder(t *testing.T) {
	addr := newTestIMAPServer(t)
	for i := 0; i < 4; i++ {
		appendTestMail(t, addr, "INBOX", testMailRFC822)
	}

	r := receiverForAddr(t, "imap", imapTestUser, imapTestPass, addr, "INBOX")
	r.SetMaxFetchSize(2)

	msgs, err := r.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].UID >= msgs[1].UID {
		t.Errorf("UIDs %d, %d not in search order", msgs[0].UID, msgs[1].UID)
	}
}

func TestIMAPMissingFolder(t *testing.T) {
	addr := newTestIMAPServer(t)

	r := receiverForAddr(t, "imap", imapTestUser, imapTestPass, addr, "NoSuchBox")

	_, err := r.Receive()
	if !errors.Is(err, ErrNoSuchFolder) {
		t.Fatalf("err = %v, want ErrNoSuchFolder", err)
	}
}

func TestIMAPAuthFailure(t *testing.T) {
	addr := newTestIMAPServer(t)

	r := receiverForAddr(t, "imap", imapTestUser, "wrong", addr, "INBOX")

	if _, err := r.Receive(); err == nil {
		t.Fatal("expected authentication error")
	}
}
