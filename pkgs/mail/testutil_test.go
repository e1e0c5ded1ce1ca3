package mail

import (
	"fmt"
	"net"
	"testing"
)

// testMailRFC822 is a minimal RFC 5322 message for testing.
const testMailRFC822 = "MIME-Version: 1.0\r\n" +
	"From: sender@example.com\r\n" +
	"To: rcpt@example.com\r\n" +
	"Subject: Test Subject\r\n" +
	"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
	"Message-Id: <test-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello, World!"

// testMailMultipart is a multipart/mixed message with text + attachment.
const testMailMultipart = "MIME-Version: 1.0\r\n" +
	"From: sender@example.com\r\n" +
	"To: rcpt@example.com\r\n" +
	"Subject: Multipart Test\r\n" +
	"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
	"Message-Id: <test-multi@example.com>\r\n" +
	"Content-Type: multipart/mixed; boundary=\"TESTBOUNDARY\"\r\n" +
	"\r\n" +
	"--TESTBOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Plain text body\r\n" +
	"--TESTBOUNDARY\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"test.bin\"\r\n" +
	"\r\n" +
	"BINARYDATA\r\n" +
	"--TESTBOUNDARY--\r\n"

// receiverForAddr builds a receiver whose URL points at a test server.
func receiverForAddr(t *testing.T, protocol, user, pass, addr, folder string) *Receiver {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	raw := fmt.Sprintf("%s://%s:%s@%s:%s/%s", protocol, user, pass, host, port, folder)
	r, err := NewReceiver(raw)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Destroy() })
	return r
}
