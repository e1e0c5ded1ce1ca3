package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/emx-mail/bridge/pkgs/archive"
	"github.com/emx-mail/bridge/pkgs/bridge"
	"github.com/emx-mail/bridge/pkgs/config"
	"github.com/emx-mail/bridge/pkgs/forward"
	"github.com/emx-mail/bridge/pkgs/ftp"
	"github.com/emx-mail/bridge/pkgs/mail"
)

// buildReceiver turns a mail source config into a configured receiver.
func buildReceiver(m config.MailSource, logger *slog.Logger) (*mail.Receiver, error) {
	var r *mail.Receiver
	if m.URL != "" {
		raw, err := mergeURLCredentials(m)
		if err != nil {
			return nil, fmt.Errorf("mail source %s: %w", m.Name, err)
		}
		r, err = mail.NewReceiver(raw)
		if err != nil {
			return nil, fmt.Errorf("mail source %s: %w", m.Name, err)
		}
	} else {
		r = mail.NewProtocolReceiver(m.Protocol)
		r.SetProperties(mail.Properties{
			Host:     m.Host,
			Port:     m.Port,
			Username: m.Username,
			Password: m.Password,
		})
	}

	if m.MaxFetchSize > 0 {
		r.SetMaxFetchSize(m.MaxFetchSize)
	}
	if m.Delete != nil {
		r.SetDeleteMessages(*m.Delete)
	}
	if m.ReadWrite {
		r.SetOpenMode(mail.ReadWrite)
	}
	r.SetLogger(logger.With("source", m.Name))

	return r, nil
}

// mergeURLCredentials folds username/password/folder keys into the
// store URL so credentials don't have to live in the URL itself.
func mergeURLCredentials(m config.MailSource) (string, error) {
	u, err := url.Parse(m.URL)
	if err != nil {
		return "", fmt.Errorf("invalid store URL: %w", err)
	}

	username := m.Username
	if username == "" && u.User != nil {
		username = u.User.Username()
	}
	password := m.Password
	if password == "" && u.User != nil {
		password, _ = u.User.Password()
	}
	switch {
	case password != "" && username == "":
		// Would render as ":secret@host", which no store accepts.
		return "", fmt.Errorf("password configured without a username")
	case password != "":
		u.User = url.UserPassword(username, password)
	case username != "":
		u.User = url.User(username)
	}

	if m.Folder != "" {
		u.Path = "/" + m.Folder
	}

	return u.String(), nil
}

func buildSynchronizer(f config.FTPSource, logger *slog.Logger) (*ftp.Synchronizer, error) {
	factory := &ftp.SessionFactory{
		Host:       f.Host,
		Port:       f.Port,
		Username:   f.Username,
		Password:   f.Password,
		BufferSize: f.BufferSize,
	}
	sync, err := ftp.NewSynchronizer(factory, ftp.SyncConfig{
		RemoteDir:       f.RemoteDir,
		LocalDir:        f.LocalDir,
		FilenamePattern: f.FilenamePattern,
		TempSuffix:      f.TempSuffix,
		DeleteRemote:    f.DeleteRemote,
		Logger:          logger.With("source", f.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("ftp source %s: %w", f.Name, err)
	}
	return sync, nil
}

// pollSource pairs a source with its configured poll interval.
type pollSource struct {
	source   bridge.Source
	interval time.Duration
}

func buildSources(cfg *config.Config, logger *slog.Logger) ([]pollSource, error) {
	sources := make([]pollSource, 0, len(cfg.Mail)+len(cfg.FTP))

	for _, m := range cfg.Mail {
		r, err := buildReceiver(m, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, pollSource{
			source:   bridge.NewMailSource(m.Name, r),
			interval: time.Duration(m.PollIntervalSec) * time.Second,
		})
	}
	for _, f := range cfg.FTP {
		sync, err := buildSynchronizer(f, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, pollSource{
			source:   bridge.NewFileSource(f.Name, sync),
			interval: time.Duration(f.PollIntervalSec) * time.Second,
		})
	}

	return sources, nil
}

// buildSinks assembles the configured delivery sinks. The returned
// closers must be closed when the pipeline is done.
func buildSinks(cfg *config.Config, logger *slog.Logger) ([]bridge.Sink, []io.Closer, error) {
	sinks := []bridge.Sink{logSink{logger: logger}}
	var closers []io.Closer

	if cfg.Archive != nil {
		mbox, err := archive.NewMbox(cfg.Archive.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("archive: %w", err)
		}
		sinks = append(sinks, mbox)
		closers = append(closers, mbox)
	}
	if cfg.Forward != nil {
		sinks = append(sinks, forward.New(forward.Config{
			Host:     cfg.Forward.Host,
			Port:     cfg.Forward.Port,
			Username: cfg.Forward.Username,
			Password: cfg.Forward.Password,
			SSL:      cfg.Forward.SSL,
			StartTLS: cfg.Forward.StartTLS,
			From:     cfg.Forward.From,
			To:       cfg.Forward.To,
		}))
	}

	return sinks, closers, nil
}

// logSink records every delivery; it is always installed so deliveries
// are visible even with no archive or forward configured.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Name() string { return "log" }

func (s logSink) Deliver(_ context.Context, d bridge.Delivery) error {
	if d.Message != nil {
		s.logger.Info("delivery",
			"id", d.ID, "source", d.Source,
			"from", formatSender(d.Message), "subject", d.Message.Subject)
	} else {
		s.logger.Info("delivery",
			"id", d.ID, "source", d.Source, "file", d.LocalFile)
	}
	return nil
}

func formatSender(m *mail.Message) string {
	if len(m.From) == 0 {
		return ""
	}
	a := m.From[0]
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Email)
	}
	return a.Email
}
