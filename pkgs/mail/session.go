package mail

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/emersion/go-sasl"
)

// Properties holds connection settings shared by every store a session
// creates. Host, Port, Username and Password are only consulted when the
// receiver was configured with a bare protocol name instead of a full
// store URL.
type Properties struct {
	Host     string
	Port     int
	Username string
	Password string

	// DialTimeout bounds the initial TCP/TLS dial. Zero means the
	// default of 30 seconds.
	DialTimeout time.Duration
	// TLSConfig overrides the client TLS configuration for imaps/pop3s
	// and STARTTLS connections.
	TLSConfig *tls.Config
}

const defaultDialTimeout = 30 * time.Second

func (p Properties) dialTimeout() time.Duration {
	if p.DialTimeout > 0 {
		return p.DialTimeout
	}
	return defaultDialTimeout
}

// Authenticator supplies a SASL client for authentication. When set, it is
// used instead of a plain username/password login.
type Authenticator func() sasl.Client

// Session is the entry point to the mail subsystem: a property set plus an
// optional authenticator from which protocol-specific stores are built. A
// receiver creates its session once and reuses it until Destroy.
type Session struct {
	props Properties
	auth  Authenticator
}

// NewSession creates a session with the given properties and optional
// authenticator.
func NewSession(props Properties, auth Authenticator) *Session {
	return &Session{props: props, auth: auth}
}

// Store builds a store for the given target. Exactly one of url or
// protocol must identify the target: when url is nil, the host and
// credentials come from the session properties.
func (s *Session) Store(u *StoreURL, protocol string) (Store, error) {
	if u == nil {
		if protocol == "" {
			return nil, fmt.Errorf("no store URL and no protocol configured")
		}
		if s.props.Host == "" {
			return nil, fmt.Errorf("protocol %q configured but no host property set", protocol)
		}
		port := s.props.Port
		if port == 0 {
			port = defaultPorts[protocol]
		}
		u = &StoreURL{
			Protocol: protocol,
			Host:     s.props.Host,
			Port:     port,
			Username: s.props.Username,
			Password: s.props.Password,
			Folder:   DefaultFolder,
		}
	}

	switch u.Protocol {
	case "imap", "imaps":
		return newIMAPStore(s, u), nil
	case "pop3", "pop3s":
		return newPOP3Store(s, u), nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", u.Protocol)
	}
}
