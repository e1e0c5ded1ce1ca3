// Package archive persists received mail to a local mbox file.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/emersion/go-mbox"

	"github.com/emx-mail/bridge/pkgs/bridge"
)

// Mbox appends every delivered mail message to an mbox file. File
// deliveries pass through untouched. Safe for concurrent use.
type Mbox struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *mbox.Writer
}

// NewMbox opens (or creates) the mbox file at path, creating parent
// directories as needed.
func NewMbox(path string) (*Mbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening mbox %q: %w", path, err)
	}
	return &Mbox{path: path, file: f, w: mbox.NewWriter(f)}, nil
}

func (m *Mbox) Name() string { return "mbox-archive" }

// Deliver appends the delivery's raw message bytes as a new mbox entry.
// Deliveries without a message (or without raw content) are skipped.
func (m *Mbox) Deliver(_ context.Context, d bridge.Delivery) error {
	if d.Message == nil || len(d.Message.Raw) == 0 {
		return nil
	}

	from := d.Message.Sender()
	if from == "" {
		from = "MAILER-DAEMON"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mw, err := m.w.CreateMessage(from, d.ReceivedAt)
	if err != nil {
		return fmt.Errorf("appending to mbox %q: %w", m.path, err)
	}
	if _, err := mw.Write(d.Message.Raw); err != nil {
		return fmt.Errorf("writing message %s to mbox: %w", d.ID, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (m *Mbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.w.Close(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}
