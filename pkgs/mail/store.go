package mail

import "time"

// OpenMode controls how a folder is opened.
type OpenMode int

const (
	// ReadOnly opens the folder without the ability to change flags.
	// Closing a read-only folder never expunges.
	ReadOnly OpenMode = iota
	// ReadWrite opens the folder for flag updates; closing it with
	// expunge permanently removes messages flagged deleted.
	ReadWrite
)

// FetchProfile selects which message attributes a bulk fetch retrieves.
type FetchProfile struct {
	Envelope bool
	Content  bool
	Flags    bool
}

// FullProfile fetches envelope, content and flags, mirroring what a
// complete receive cycle needs.
var FullProfile = FetchProfile{Envelope: true, Content: true, Flags: true}

// SearchCriteria narrows a folder search. The zero value matches all
// messages.
type SearchCriteria struct {
	// Unseen restricts the search to messages without the seen flag.
	// Protocols without persistent flag state (POP3) ignore it and
	// return every message.
	Unseen bool
	// Since restricts the search to messages received at or after the
	// given time. POP3 ignores it.
	Since time.Time
}

// Store is a handle to a remote mailbox server. Implementations exist for
// IMAP and POP3; both are created through Session.Store and connected
// lazily by the receiver.
type Store interface {
	// Connect establishes and authenticates the server connection.
	Connect() error
	// IsConnected reports whether the store holds a live connection.
	IsConnected() bool
	// Folder returns a handle to the named mailbox. The handle is not
	// opened; callers must check Exists and call Open first.
	Folder(name string) Folder
	// Close tears down the connection. Safe to call when disconnected.
	Close() error
}

// Folder is a handle to a single mailbox within a store.
type Folder interface {
	// Name returns the mailbox name.
	Name() string
	// Exists reports whether the mailbox exists on the server.
	Exists() (bool, error)
	// Open opens the mailbox in the given mode.
	Open(mode OpenMode) error
	// IsOpen reports whether the mailbox is currently open.
	IsOpen() bool
	// Search returns the IDs of messages matching the criteria, in the
	// server's natural order.
	Search(criteria *SearchCriteria) ([]uint32, error)
	// Fetch bulk-retrieves the given messages. The result preserves the
	// order of ids.
	Fetch(ids []uint32, profile FetchProfile) ([]*Message, error)
	// MarkDeleted flags the given messages for deletion. Removal happens
	// when the folder is closed with expunge.
	MarkDeleted(ids []uint32) error
	// Close closes the mailbox, expunging flagged messages when expunge
	// is true. Closing an already-closed folder is a no-op.
	Close(expunge bool) error
}
