package mail

import (
	"time"
)

// Message is a fully materialized snapshot of a mail message. Instances
// returned by Receiver.Receive are independent copies: mutating the
// server-side original (or the struct the fetch produced) after a receive
// cycle does not affect them.
type Message struct {
	// Envelope
	From    []Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	Subject string
	Date    time.Time

	// Content
	TextBody string
	HTMLBody string
	// Raw holds the RFC 5322 source when the message was fetched with
	// content; sinks that relay or archive messages use it unmodified.
	Raw []byte

	// Metadata
	MessageID   string
	References  []string
	InReplyTo   string
	Flags       Flags
	Attachments []Attachment

	// Server-specific
	UID    uint32
	SeqNum uint32
	Size   uint32
}

// Address represents an email address.
type Address struct {
	Name  string
	Email string
}

// Attachment represents an email attachment.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	ContentID   string
	Data        []byte
}

// Flags represents message flags as known at fetch time.
type Flags struct {
	Seen     bool
	Flagged  bool
	Answered bool
	Draft    bool
	Deleted  bool
	Recent   bool
}

// Clone returns a deep copy of the message. Slices are copied so the clone
// shares no mutable state with the original.
func (m *Message) Clone() *Message {
	c := *m

	c.From = append([]Address(nil), m.From...)
	c.To = append([]Address(nil), m.To...)
	c.Cc = append([]Address(nil), m.Cc...)
	c.Bcc = append([]Address(nil), m.Bcc...)
	c.References = append([]string(nil), m.References...)
	c.Raw = append([]byte(nil), m.Raw...)

	if m.Attachments != nil {
		c.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Data = append([]byte(nil), a.Data...)
			c.Attachments[i] = a
		}
	}

	return &c
}

// Sender returns the address of the first From entry, or the empty string.
func (m *Message) Sender() string {
	if len(m.From) == 0 {
		return ""
	}
	return m.From[0].Email
}
