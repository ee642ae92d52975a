package mailstore

import (
	"context"
	"time"
)

// FolderRole identifies a well-known mailbox role.
type FolderRole string

const (
	RoleInbox   FolderRole = "inbox"
	RoleArchive FolderRole = "archive"
	RoleDrafts  FolderRole = "drafts"
	RoleSent    FolderRole = "sent"
	RoleNone    FolderRole = ""
)

// Folder is a remote mailbox/label.
type Folder struct {
	ID       string
	Name     string
	ParentID string
	Role     FolderRole
}

// Message is a remote message record. FolderIDs is the explicit set of
// folders the message currently belongs to; membership is always an
// enumerated set, never a sparse presence map.
type Message struct {
	ID            string
	ThreadID      string
	From          string
	FromName      string
	To            []string
	Subject       string
	ReceivedAt    time.Time
	Preview       string
	TextBody      string
	HTMLBody      string
	FolderIDs     []string
	HasAttachment bool
}

// InFolder reports whether the message belongs to the given folder.
func (m *Message) InFolder(folderID string) bool {
	for _, id := range m.FolderIDs {
		if id == folderID {
			return true
		}
	}
	return false
}

// QueryFilter selects messages for QueryMessages.
type QueryFilter struct {
	// InFolderID restricts the query to one folder (usually the inbox).
	InFolderID string

	// Limit caps the number of returned ids; 0 means no cap.
	Limit int

	// NewestFirst sorts results by received date descending.
	NewestFirst bool
}

// FetchProps selects which optional message properties to load.
// Envelope data (sender, subject, dates) is always included.
type FetchProps struct {
	// Body loads the text and HTML bodies.
	Body bool

	// Membership computes the full folder membership set.
	Membership bool
}

// OutgoingMessage is a message to be drafted or sent.
type OutgoingMessage struct {
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// Mailstore is the remote mailbox capability consumed by the triage
// engine. Implementations must treat adds and removes as idempotent
// sets: adding a message to a folder it is already in, or removing it
// from one it is not in, is not an error the caller has to care about
// beyond the NotFoundError taxonomy.
type Mailstore interface {
	// === Folders ===

	FindFolderByRole(ctx context.Context, role FolderRole) (*Folder, error)
	FindFolderByName(ctx context.Context, name string) (*Folder, error)
	CreateFolder(ctx context.Context, name, parentID string) (*Folder, error)
	DeleteFolder(ctx context.Context, folderID string) error
	ListChildFolders(ctx context.Context, parentID string) ([]Folder, error)

	// === Messages ===

	QueryMessages(ctx context.Context, q QueryFilter) ([]string, error)
	FetchMessages(ctx context.Context, ids []string, props FetchProps) ([]Message, error)

	AddToFolder(ctx context.Context, messageID, folderID string) error
	RemoveFromFolder(ctx context.Context, messageID, folderID string) error
	MoveToFolder(ctx context.Context, messageID, folderID string) error
	Archive(ctx context.Context, messageID string) error
	FlagImportant(ctx context.Context, messageID string) error

	// === Delivery ===

	CreateDraft(ctx context.Context, msg OutgoingMessage) error
	Send(ctx context.Context, msg OutgoingMessage) error
}
