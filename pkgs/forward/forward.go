// Package forward relays received mail to an SMTP server.
package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/emx-mail/bridge/pkgs/bridge"
)

// Config holds SMTP relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// SSL enables implicit TLS (connect directly over TLS).
	SSL bool
	// StartTLS enables opportunistic TLS upgrade after connecting in
	// plaintext.
	StartTLS bool

	// From is the envelope sender used for relayed messages.
	From string
	// To are the envelope recipients.
	To []string
}

// Forwarder relays each delivered mail message to the configured SMTP
// server, raw bytes unmodified. A connection is made per delivery and
// closed afterwards.
type Forwarder struct {
	config Config
}

func New(config Config) *Forwarder {
	return &Forwarder{config: config}
}

func (f *Forwarder) Name() string { return "smtp-forward" }

// Deliver relays the delivery's raw message. Deliveries without raw
// mail content are skipped.
func (f *Forwarder) Deliver(_ context.Context, d bridge.Delivery) error {
	if d.Message == nil || len(d.Message.Raw) == 0 {
		return nil
	}

	client, err := f.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SendMail(f.config.From, f.config.To, bytes.NewReader(d.Message.Raw)); err != nil {
		return fmt.Errorf("relaying message %s: %w", d.ID, err)
	}
	return client.Quit()
}

func (f *Forwarder) connect() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)
	tlsCfg := &tls.Config{ServerName: f.config.Host}

	var client *smtp.Client
	var err error
	switch {
	case f.config.SSL:
		client, err = smtp.DialTLS(addr, tlsCfg)
	case f.config.StartTLS:
		client, err = smtp.DialStartTLS(addr, tlsCfg)
	default:
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to SMTP server %s: %w", addr, err)
	}

	if f.config.Password != "" {
		auth := sasl.NewPlainClient("", f.config.Username, f.config.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	return client, nil
}
