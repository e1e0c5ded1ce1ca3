package mail

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// POP3 mock server (raw TCP, RFC 1939)
// ---------------------------------------------------------------------------

type pop3MockState struct {
	mu      sync.Mutex
	deleted map[int]bool // committed by QUIT
	rset    bool
	quit    bool
}

func (s *pop3MockState) committedDeletes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for id, ok := range s.deleted {
		if ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *pop3MockState) sawRset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rset
}

type pop3MockOpts struct {
	Messages   []string // raw RFC 5322, IDs are 1-based positions
	RejectAuth bool
}

func newTestPOP3Server(t *testing.T, opts pop3MockOpts) (string, *pop3MockState) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	state := &pop3MockState{deleted: map[int]bool{}}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handlePOP3MockConn(conn, opts, state)
		}
	}()

	return ln.Addr().String(), state
}

func handlePOP3MockConn(conn net.Conn, opts pop3MockOpts, state *pop3MockState) {
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	writeLine := func(s string) {
		fmt.Fprintf(rw, "%s\r\n", s)
		rw.Flush()
	}
	writeMulti := func(body string) {
		for _, l := range strings.Split(body, "\r\n") {
			if strings.HasPrefix(l, ".") {
				l = "." + l
			}
			writeLine(l)
		}
		writeLine(".")
	}

	writeLine("+OK POP3 server ready")

	// live reports whether a message is still in the maildrop, meaning
	// its deletion was never committed by a QUIT.
	live := func(id int) bool {
		state.mu.Lock()
		defer state.mu.Unlock()
		return id >= 1 && id <= len(opts.Messages) && !state.deleted[id]
	}

	// Session-local DELE marks; only QUIT commits them to state.
	pending := map[int]bool{}

	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimRight(line, "\r\n"))
		if len(fields) == 0 {
			continue
		}
		cmd := strings.ToUpper(fields[0])
		argID := 0
		if len(fields) > 1 {
			argID, _ = strconv.Atoi(fields[1])
		}

		switch cmd {
		case "USER":
			writeLine("+OK")

		case "PASS":
			if opts.RejectAuth {
				writeLine("-ERR auth failed")
				continue
			}
			writeLine("+OK")

		case "NOOP":
			writeLine("+OK")

		case "STAT":
			count, total := 0, 0
			for i, m := range opts.Messages {
				if live(i + 1) {
					count++
					total += len(m)
				}
			}
			writeLine(fmt.Sprintf("+OK %d %d", count, total))

		case "LIST":
			writeLine("+OK")
			for i, m := range opts.Messages {
				if live(i + 1) {
					writeLine(fmt.Sprintf("%d %d", i+1, len(m)))
				}
			}
			writeLine(".")

		case "RETR":
			if !live(argID) {
				writeLine("-ERR no such message")
				continue
			}
			writeLine("+OK")
			writeMulti(opts.Messages[argID-1])

		case "TOP":
			if !live(argID) {
				writeLine("-ERR no such message")
				continue
			}
			msg := opts.Messages[argID-1]
			if idx := strings.Index(msg, "\r\n\r\n"); idx >= 0 {
				msg = msg[:idx+2]
			}
			writeLine("+OK")
			writeMulti(msg)

		case "DELE":
			if !live(argID) {
				writeLine("-ERR no such message")
				continue
			}
			pending[argID] = true
			writeLine("+OK")

		case "RSET":
			pending = map[int]bool{}
			state.mu.Lock()
			state.rset = true
			state.mu.Unlock()
			writeLine("+OK")

		case "QUIT":
			state.mu.Lock()
			for id := range pending {
				state.deleted[id] = true
			}
			state.quit = true
			state.mu.Unlock()
			writeLine("+OK bye")
			return

		default:
			writeLine("-ERR unknown command")
		}
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPOP3ReceiveFetchesMessages(t *testing.T) {
	addr, _ := newTestPOP3Server(t, pop3MockOpts{
		Messages: []string{testMailRFC822, testMailMultipart},
	})
	r := receiverForAddr(t, "pop3", "testuser", "testpass", addr, "INBOX")
	r.SetDeleteMessages(false)

	msgs, err := r.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
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
	if len(m.Raw) == 0 {
		t.Error("Raw not captured")
	}

	multi := msgs[1]
	if len(multi.Attachments) != 1 || multi.Attachments[0].Filename != "test.bin" {
		t.Errorf("attachments = %+v", multi.Attachments)
	}
}

func TestPOP3DeleteDefaultCommitsOnClose(t *testing.T) {
	addr, state := newTestPOP3Server(t, pop3MockOpts{
		Messages: []string{testMailRFC822, testMailMultipart},
	})
	// Pure defaults: pop3 implies delete-after-receipt, which in turn
	// opens the maildrop writable so the closing QUIT commits the DELEs.
	r := receiverForAddr(t, "pop3", "testuser", "testpass", addr, "INBOX")

	msgs, err := r.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Flags.Deleted {
			t.Errorf("returned copy %d carries deletion flag", m.UID)
		}
	}

	if got := state.committedDeletes(); len(got) != 2 {
		t.Errorf("committed deletions = %v, want both messages", got)
	}
	if state.sawRset() {
		t.Error("deleting close sent RSET")
	}

	// The maildrop is empty now; a second cycle must not re-deliver.
	again, err := r.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second cycle re-delivered %d message(s)", len(again))
	}
}

func TestPOP3ExplicitNoDeleteLeavesMaildrop(t *testing.T) {
	addr, state := newTestPOP3Server(t, pop3MockOpts{
		Messages: []string{testMailRFC822},
	})
	r := receiverForAddr(t, "pop3", "testuser", "testpass", addr, "INBOX")
	r.SetDeleteMessages(false)

	// Two cycles: with deletion off the maildrop must survive both.
	for i := 0; i < 2; i++ {
		msgs, err := r.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 1 {
			t.Fatalf("cycle %d: got %d messages, want 1", i+1, len(msgs))
		}
	}
	if got := state.committedDeletes(); len(got) != 0 {
		t.Errorf("non-deleting receiver committed deletions: %v", got)
	}
}

func TestPOP3MaxFetchSize(t *testing.T) {
	addr, _ := newTestPOP3Server(t, pop3MockOpts{
		Messages: []string{testMailRFC822, testMailRFC822, testMailRFC822},
	})
	r := receiverForAddr(t, "pop3", "testuser", "testpass", addr, "INBOX")
	r.SetDeleteMessages(false)
	r.SetMaxFetchSize(2)

	msgs, err := r.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].UID != 1 || msgs[1].UID != 2 {
		t.Errorf("got UIDs %d, %d; want first two in order", msgs[0].UID, msgs[1].UID)
	}
}

func TestPOP3AuthFailure(t *testing.T) {
	addr, _ := newTestPOP3Server(t, pop3MockOpts{
		Messages:   []string{testMailRFC822},
		RejectAuth: true,
	})
	r := receiverForAddr(t, "pop3", "testuser", "wrong", addr, "INBOX")

	if _, err := r.Receive(); err == nil {
		t.Fatal("expected authentication error")
	}
}

func TestPOP3FolderOtherThanInboxIsMissing(t *testing.T) {
	addr, _ := newTestPOP3Server(t, pop3MockOpts{
		Messages: []string{testMailRFC822},
	})
	r := receiverForAddr(t, "pop3", "testuser", "testpass", addr, "Archive")

	_, err := r.Receive()
	if err == nil {
		t.Fatal("expected error for non-INBOX folder")
	}
	if !strings.Contains(err.Error(), "no such folder") {
		t.Errorf("err = %v, want no such folder", err)
	}
}
