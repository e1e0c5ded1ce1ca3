// Package bridge connects inbound adapters (mail receivers, FTP
// synchronizers) to downstream consumers through a polled queuing
// channel.
package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/emx-mail/bridge/pkgs/ftp"
	"github.com/emx-mail/bridge/pkgs/mail"
)

// Delivery is one unit of inbound data placed on the channel: either a
// mail message snapshot or the path of a downloaded file.
type Delivery struct {
	// ID correlates the delivery across log lines and sinks.
	ID         string
	Source     string
	ReceivedAt time.Time

	Message   *mail.Message
	LocalFile string
}

// Source is an inbound adapter the poller can drive.
type Source interface {
	Name() string
	// Poll performs one receive cycle and returns the resulting
	// deliveries.
	Poll(ctx context.Context) ([]Delivery, error)
	// Close tears the adapter down when the poller stops.
	Close() error
}

// MailSource adapts a mail.Receiver to the Source interface.
type MailSource struct {
	name     string
	receiver *mail.Receiver
}

func NewMailSource(name string, r *mail.Receiver) *MailSource {
	return &MailSource{name: name, receiver: r}
}

func (s *MailSource) Name() string { return s.name }

func (s *MailSource) Poll(ctx context.Context) ([]Delivery, error) {
	msgs, err := s.receiver.Receive()
	if err != nil {
		return nil, err
	}
	deliveries := make([]Delivery, len(msgs))
	for i, m := range msgs {
		deliveries[i] = Delivery{
			ID:         uuid.NewString(),
			Source:     s.name,
			ReceivedAt: time.Now(),
			Message:    m,
		}
	}
	return deliveries, nil
}

func (s *MailSource) Close() error { return s.receiver.Destroy() }

// FileSource adapts an ftp.Synchronizer to the Source interface.
type FileSource struct {
	name string
	sync *ftp.Synchronizer
}

func NewFileSource(name string, sync *ftp.Synchronizer) *FileSource {
	return &FileSource{name: name, sync: sync}
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Poll(ctx context.Context) ([]Delivery, error) {
	files, err := s.sync.Sync(ctx)
	if err != nil {
		return nil, err
	}
	deliveries := make([]Delivery, len(files))
	for i, f := range files {
		deliveries[i] = Delivery{
			ID:         uuid.NewString(),
			Source:     s.name,
			ReceivedAt: time.Now(),
			LocalFile:  f,
		}
	}
	return deliveries, nil
}

func (s *FileSource) Close() error { return nil }
