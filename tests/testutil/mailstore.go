package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nhle/mail-triage/internal/mailstore"
)

// FakeMailstore is an in-memory Mailstore for tests. Folder membership
// is tracked as an explicit set per message, matching the semantics the
// real implementation provides.
type FakeMailstore struct {
	mu       sync.Mutex
	folders  map[string]mailstore.Folder
	messages map[string]*mailstore.Message
	nextID   int

	// Sent collects outgoing messages passed to Send.
	Sent []mailstore.OutgoingMessage

	// Drafts collects messages passed to CreateDraft.
	Drafts []mailstore.OutgoingMessage

	// FailAddTo makes AddToFolder fail for the given folder id.
	FailAddTo string
}

// NewFakeMailstore creates a fake with inbox and archive folders.
func NewFakeMailstore() *FakeMailstore {
	f := &FakeMailstore{
		folders:  make(map[string]mailstore.Folder),
		messages: make(map[string]*mailstore.Message),
	}
	f.folders["inbox"] = mailstore.Folder{ID: "inbox", Name: "Inbox", Role: mailstore.RoleInbox}
	f.folders["archive"] = mailstore.Folder{ID: "archive", Name: "Archive", Role: mailstore.RoleArchive}
	return f
}

// AddMessage seeds a message. The message's FolderIDs decide its
// starting membership.
func (f *FakeMailstore) AddMessage(msg mailstore.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := msg
	f.messages[msg.ID] = &m
}

// Message returns the live message state, or nil.
func (f *FakeMailstore) Message(id string) *mailstore.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id]
}

// RemoveMessage deletes a message outright, simulating the user
// deleting it in their mail client.
func (f *FakeMailstore) RemoveMessage(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, id)
}

// FolderByID returns a seeded folder.
func (f *FakeMailstore) FolderByID(id string) (mailstore.Folder, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder, ok := f.folders[id]
	return folder, ok
}

func (f *FakeMailstore) FindFolderByRole(_ context.Context, role mailstore.FolderRole) (*mailstore.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, folder := range f.folders {
		if folder.Role == role {
			fc := folder
			return &fc, nil
		}
	}
	return nil, &mailstore.NotFoundError{Kind: "folder", Name: string(role)}
}

func (f *FakeMailstore) FindFolderByName(_ context.Context, name string) (*mailstore.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, folder := range f.folders {
		if folder.Name == name {
			fc := folder
			return &fc, nil
		}
	}
	return nil, &mailstore.NotFoundError{Kind: "folder", Name: name}
}

func (f *FakeMailstore) CreateFolder(_ context.Context, name, parentID string) (*mailstore.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	folder := mailstore.Folder{
		ID:       fmt.Sprintf("folder-%d", f.nextID),
		Name:     name,
		ParentID: parentID,
	}
	f.folders[folder.ID] = folder
	return &folder, nil
}

func (f *FakeMailstore) DeleteFolder(_ context.Context, folderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.folders[folderID]; !ok {
		return &mailstore.NotFoundError{Kind: "folder", Name: folderID}
	}
	delete(f.folders, folderID)
	for _, msg := range f.messages {
		msg.FolderIDs = removeID(msg.FolderIDs, folderID)
	}
	return nil
}

func (f *FakeMailstore) ListChildFolders(_ context.Context, parentID string) ([]mailstore.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var children []mailstore.Folder
	for _, folder := range f.folders {
		if folder.ParentID == parentID {
			children = append(children, folder)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}

func (f *FakeMailstore) QueryMessages(_ context.Context, q mailstore.QueryFilter) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []*mailstore.Message
	for _, msg := range f.messages {
		if q.InFolderID != "" && !msg.InFolder(q.InFolderID) {
			continue
		}
		matched = append(matched, msg)
	}

	sort.Slice(matched, func(i, j int) bool {
		if q.NewestFirst {
			return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
		}
		return matched[i].ReceivedAt.Before(matched[j].ReceivedAt)
	})

	ids := make([]string, 0, len(matched))
	for _, msg := range matched {
		ids = append(ids, msg.ID)
		if q.Limit > 0 && len(ids) == q.Limit {
			break
		}
	}
	return ids, nil
}

func (f *FakeMailstore) FetchMessages(_ context.Context, ids []string, _ mailstore.FetchProps) ([]mailstore.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var msgs []mailstore.Message
	for _, id := range ids {
		if msg, ok := f.messages[id]; ok {
			msgs = append(msgs, *msg)
		}
	}
	return msgs, nil
}

func (f *FakeMailstore) AddToFolder(_ context.Context, messageID, folderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if folderID == f.FailAddTo {
		return fmt.Errorf("add to %s failed", folderID)
	}

	msg, ok := f.messages[messageID]
	if !ok {
		return &mailstore.NotFoundError{Kind: "message", Name: messageID}
	}
	if !msg.InFolder(folderID) {
		msg.FolderIDs = append(msg.FolderIDs, folderID)
	}
	return nil
}

func (f *FakeMailstore) RemoveFromFolder(_ context.Context, messageID, folderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.messages[messageID]
	if !ok {
		return &mailstore.NotFoundError{Kind: "message", Name: messageID}
	}
	msg.FolderIDs = removeID(msg.FolderIDs, folderID)
	return nil
}

func (f *FakeMailstore) MoveToFolder(ctx context.Context, messageID, folderID string) error {
	f.mu.Lock()
	msg, ok := f.messages[messageID]
	if !ok {
		f.mu.Unlock()
		return &mailstore.NotFoundError{Kind: "message", Name: messageID}
	}
	msg.FolderIDs = []string{folderID}
	f.mu.Unlock()
	return nil
}

func (f *FakeMailstore) Archive(ctx context.Context, messageID string) error {
	archive, err := f.FindFolderByRole(ctx, mailstore.RoleArchive)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return &mailstore.NotFoundError{Kind: "message", Name: messageID}
	}
	msg.FolderIDs = removeID(msg.FolderIDs, "inbox")
	if !msg.InFolder(archive.ID) {
		msg.FolderIDs = append(msg.FolderIDs, archive.ID)
	}
	return nil
}

func (f *FakeMailstore) FlagImportant(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[messageID]; !ok {
		return &mailstore.NotFoundError{Kind: "message", Name: messageID}
	}
	return nil
}

func (f *FakeMailstore) CreateDraft(_ context.Context, msg mailstore.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Drafts = append(f.Drafts, msg)
	return nil
}

func (f *FakeMailstore) Send(_ context.Context, msg mailstore.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, msg)
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
