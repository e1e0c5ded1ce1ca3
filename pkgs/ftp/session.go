// Package ftp implements an inbound FTP adapter: a session factory over
// a remote FTP server and a synchronizer that mirrors matching remote
// files into a local directory with a temporary-suffix rename protocol.
package ftp

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	goftp "github.com/jlaffaye/ftp"
)

// RemoteFile describes one file in a remote directory listing.
type RemoteFile struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Session is one logged-in FTP connection. The synchronizer opens a
// session per sync cycle and closes it afterwards.
type Session interface {
	// List returns the files (not directories) in the given remote
	// directory.
	List(dir string) ([]RemoteFile, error)
	// Retrieve streams the remote file at path into w.
	Retrieve(path string, w io.Writer) error
	// Delete removes the remote file at path.
	Delete(path string) error
	// Close logs out and releases the connection.
	Close() error
}

// Opener produces sessions. SessionFactory is the production
// implementation; tests substitute fakes.
type Opener interface {
	Open() (Session, error)
}

// SessionFactory holds the connection parameters for an FTP server and
// opens authenticated sessions on demand.
type SessionFactory struct {
	Host     string
	Port     int
	Username string
	Password string

	// BufferSize is the transfer buffer used when streaming downloads.
	// Zero means 32 KiB.
	BufferSize int
	// DialTimeout bounds the control-connection dial. Zero means 30
	// seconds.
	DialTimeout time.Duration
}

const (
	defaultBufferSize  = 32 * 1024
	defaultDialTimeout = 30 * time.Second
)

func (f *SessionFactory) addr() string {
	port := f.Port
	if port == 0 {
		port = 21
	}
	return net.JoinHostPort(f.Host, strconv.Itoa(port))
}

// Open dials and logs in, returning a live session.
func (f *SessionFactory) Open() (Session, error) {
	timeout := f.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	conn, err := goftp.Dial(f.addr(), goftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connecting to FTP server %s: %w", f.addr(), err)
	}
	if err := conn.Login(f.Username, f.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("FTP login failed: %w", err)
	}

	bufSize := f.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &ftpSession{conn: conn, bufSize: bufSize}, nil
}

// ftpSession wraps a jlaffaye/ftp server connection.
type ftpSession struct {
	conn    *goftp.ServerConn
	bufSize int
}

func (s *ftpSession) List(dir string) ([]RemoteFile, error) {
	entries, err := s.conn.List(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", dir, err)
	}
	files := make([]RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e.Type != goftp.EntryTypeFile {
			continue
		}
		files = append(files, RemoteFile{
			Name:    e.Name,
			Size:    int64(e.Size),
			ModTime: e.Time,
		})
	}
	return files, nil
}

func (s *ftpSession) Retrieve(path string, w io.Writer) error {
	resp, err := s.conn.Retr(path)
	if err != nil {
		return fmt.Errorf("retrieving %q: %w", path, err)
	}
	defer resp.Close()

	if _, err := io.CopyBuffer(w, resp, make([]byte, s.bufSize)); err != nil {
		return fmt.Errorf("downloading %q: %w", path, err)
	}
	return nil
}

func (s *ftpSession) Delete(path string) error {
	if err := s.conn.Delete(path); err != nil {
		return fmt.Errorf("deleting %q: %w", path, err)
	}
	return nil
}

func (s *ftpSession) Close() error {
	return s.conn.Quit()
}
