package mailstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPStore implements Mailstore against an IMAP server. Folder ids are
// full mailbox paths; messages are addressed by their Message-ID header
// so that identity survives moves between mailboxes.
//
// IMAP has no native "one message in many folders" model, so folder
// membership is realized with copies: AddToFolder copies the message
// into the target mailbox, RemoveFromFolder expunges it from that one
// mailbox only. Both are idempotent sets.
type IMAPStore struct {
	host     string
	port     string
	username string
	password string
	tls      bool

	smtp SMTPSender
}

// NewIMAPStore creates a new IMAP-backed Mailstore. The SMTP sender is
// used for digest delivery; it may be the zero value if Send is never
// called.
func NewIMAPStore(
	host, port, username, password string,
	tls bool,
	smtp SMTPSender,
) *IMAPStore {
	return &IMAPStore{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
		smtp:     smtp,
	}
}

// connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (s *IMAPStore) connect(_ context.Context) (*imapclient.Client, error) {
	addr := s.host + ":" + s.port

	var client *imapclient.Client
	var err error

	if s.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(s.username, s.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{
			Username: s.username,
			Message:  fmt.Sprintf("authentication failed: %v", err),
		}
	}

	return client, nil
}

// listFolders lists every mailbox on the server.
func (s *IMAPStore) listFolders(client *imapclient.Client) ([]Folder, error) {
	listCmd := client.List("", "*", nil)
	boxes, err := listCmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}

	folders := make([]Folder, 0, len(boxes))
	for _, box := range boxes {
		folders = append(folders, Folder{
			ID:       box.Mailbox,
			Name:     leafName(box.Mailbox, box.Delim),
			ParentID: parentPath(box.Mailbox, box.Delim),
			Role:     roleFromAttrs(box.Mailbox, box.Attrs),
		})
	}

	return folders, nil
}

// FindFolderByRole locates a well-known mailbox by its special-use role.
func (s *IMAPStore) FindFolderByRole(
	ctx context.Context,
	role FolderRole,
) (*Folder, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	folders, err := s.listFolders(client)
	if err != nil {
		return nil, err
	}

	for i := range folders {
		if folders[i].Role == role {
			return &folders[i], nil
		}
	}

	return nil, &NotFoundError{Kind: "folder", Name: string(role)}
}

// FindFolderByName locates a mailbox by full path or leaf name.
func (s *IMAPStore) FindFolderByName(
	ctx context.Context,
	name string,
) (*Folder, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	return s.findFolderByName(client, name)
}

func (s *IMAPStore) findFolderByName(
	client *imapclient.Client,
	name string,
) (*Folder, error) {
	folders, err := s.listFolders(client)
	if err != nil {
		return nil, err
	}

	for i := range folders {
		if folders[i].ID == name {
			return &folders[i], nil
		}
	}
	for i := range folders {
		if folders[i].Name == name {
			return &folders[i], nil
		}
	}

	return nil, &NotFoundError{Kind: "folder", Name: name}
}

// CreateFolder creates a mailbox under parentID (or at the top level
// when parentID is empty). Creating an existing mailbox is not an
// error; the existing folder is returned.
func (s *IMAPStore) CreateFolder(
	ctx context.Context,
	name, parentID string,
) (*Folder, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	path := childPath(parentID, name, hierarchyDelim(client))

	if err := client.Create(path, nil).Wait(); err != nil {
		// Tolerate "already exists": re-find before failing.
		if existing, findErr := s.findFolderByName(client, path); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("creating mailbox %s: %w", path, err)
	}

	return &Folder{
		ID:       path,
		Name:     name,
		ParentID: parentID,
	}, nil
}

// DeleteFolder removes a mailbox.
func (s *IMAPStore) DeleteFolder(ctx context.Context, folderID string) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := client.Delete(folderID).Wait(); err != nil {
		return fmt.Errorf("deleting mailbox %s: %w", folderID, err)
	}
	return nil
}

// ListChildFolders lists the direct children of a mailbox.
func (s *IMAPStore) ListChildFolders(
	ctx context.Context,
	parentID string,
) ([]Folder, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	folders, err := s.listFolders(client)
	if err != nil {
		return nil, err
	}

	var children []Folder
	for _, f := range folders {
		if f.ParentID == parentID {
			children = append(children, f)
		}
	}

	return children, nil
}

// QueryMessages returns the Message-IDs of messages in a folder,
// optionally sorted newest first and capped.
func (s *IMAPStore) QueryMessages(
	ctx context.Context,
	q QueryFilter,
) ([]string, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	folder := q.InFolderID
	if folder == "" {
		folder = "INBOX"
	}

	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", folder, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSetNum(uids...)
	fetchCmd := client.Fetch(uidSet, &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	})
	defer fetchCmd.Close()

	type entry struct {
		id   string
		date int64
	}
	var entries []entry

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		if buf.Envelope == nil || buf.Envelope.MessageID == "" {
			continue
		}
		entries = append(entries, entry{
			id:   buf.Envelope.MessageID,
			date: buf.Envelope.Date.Unix(),
		})
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching envelopes in %s: %w", folder, err)
	}

	if q.NewestFirst {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].date > entries[j].date
		})
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
		if q.Limit > 0 && len(ids) >= q.Limit {
			break
		}
	}

	return ids, nil
}

// FetchMessages loads message records by Message-ID. Unresolvable ids
// are skipped, not errored; a caller needing a specific message checks
// for its absence in the result.
func (s *IMAPStore) FetchMessages(
	ctx context.Context,
	ids []string,
	props FetchProps,
) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	folders, err := s.listFolders(client)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.fetchOne(client, folders, id, props)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		messages = append(messages, *msg)
	}

	return messages, nil
}

// fetchOne locates one message by Message-ID and loads the requested
// properties, scanning folders until the message is found.
func (s *IMAPStore) fetchOne(
	client *imapclient.Client,
	folders []Folder,
	messageID string,
	props FetchProps,
) (*Message, error) {
	var (
		msg       *Message
		folderIDs []string
	)

	for _, f := range scanOrder(folders) {
		uid, err := s.findUID(client, f.ID, messageID)
		if err != nil || uid == 0 {
			continue
		}
		folderIDs = append(folderIDs, f.ID)

		if msg == nil {
			m, err := s.fetchByUID(client, uid, props.Body)
			if err == nil {
				msg = m
			}
		}

		// Without membership only the first hit matters.
		if !props.Membership && msg != nil {
			break
		}
	}

	if msg == nil {
		return nil, &NotFoundError{Kind: "message", Name: messageID}
	}

	msg.FolderIDs = folderIDs
	return msg, nil
}

// findUID searches a mailbox for a Message-ID; 0 means not present.
// The mailbox must not be selected by the caller.
func (s *IMAPStore) findUID(
	client *imapclient.Client,
	folderID, messageID string,
) (imap.UID, error) {
	if _, err := client.Select(folderID, nil).Wait(); err != nil {
		return 0, fmt.Errorf("selecting %s: %w", folderID, err)
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Message-Id", Value: messageID},
		},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("searching %s: %w", folderID, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return 0, nil
	}
	return uids[0], nil
}

// fetchByUID fetches one message from the currently selected mailbox.
func (s *IMAPStore) fetchByUID(
	client *imapclient.Client,
	uid imap.UID,
	withBody bool,
) (*Message, error) {
	uidSet := imap.UIDSetNum(uid)

	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	}

	var bodySection *imap.FetchItemBodySection
	if withBody {
		bodySection = &imap.FetchItemBodySection{Peek: true}
		fetchOpts.BodySection = []*imap.FetchItemBodySection{bodySection}
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	raw := fetchCmd.Next()
	if raw == nil {
		return nil, &NotFoundError{Kind: "message", Name: fmt.Sprintf("uid %d", uid)}
	}

	buf, err := raw.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	msg := messageFromEnvelope(buf)

	if withBody && bodySection != nil {
		if rawBody := buf.FindBodySection(bodySection); rawBody != nil {
			text, html, hasAttachment := parseMIMEBody(rawBody)
			msg.TextBody = text
			msg.HTMLBody = html
			msg.HasAttachment = hasAttachment
			if msg.Preview == "" {
				msg.Preview = previewOf(text, html)
			}
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return msg, fmt.Errorf("closing fetch: %w", err)
	}

	return msg, nil
}

// AddToFolder copies the message into the target mailbox. A message
// already present in the target is left alone.
func (s *IMAPStore) AddToFolder(
	ctx context.Context,
	messageID, folderID string,
) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if uid, err := s.findUID(client, folderID, messageID); err == nil && uid != 0 {
		return nil
	}

	// locate leaves the source folder selected, which Copy requires.
	_, uid, err := s.locate(client, messageID)
	if err != nil {
		return err
	}

	if _, err := client.Copy(imap.UIDSetNum(uid), folderID).Wait(); err != nil {
		return fmt.Errorf("copying %s to %s: %w", messageID, folderID, err)
	}

	return nil
}

// RemoveFromFolder expunges the message from one mailbox only. Removing
// a message that is not in the mailbox is a no-op.
func (s *IMAPStore) RemoveFromFolder(
	ctx context.Context,
	messageID, folderID string,
) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	uid, err := s.findUID(client, folderID, messageID)
	if err != nil {
		return err
	}
	if uid == 0 {
		return nil
	}

	uidSet := imap.UIDSetNum(uid)
	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("flagging %s deleted in %s: %w", messageID, folderID, err)
	}

	if err := client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s: %w", folderID, err)
	}

	return nil
}

// MoveToFolder moves the message from wherever it currently is into the
// target mailbox.
func (s *IMAPStore) MoveToFolder(
	ctx context.Context,
	messageID, folderID string,
) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	_, uid, err := s.locate(client, messageID)
	if err != nil {
		return err
	}

	if _, err := client.Move(imap.UIDSetNum(uid), folderID).Wait(); err != nil {
		return fmt.Errorf("moving %s to %s: %w", messageID, folderID, err)
	}

	return nil
}

// Archive moves the message to the archive mailbox.
func (s *IMAPStore) Archive(ctx context.Context, messageID string) error {
	archive, err := s.FindFolderByRole(ctx, RoleArchive)
	if err != nil {
		return err
	}
	return s.MoveToFolder(ctx, messageID, archive.ID)
}

// FlagImportant sets the \Flagged flag on the message.
func (s *IMAPStore) FlagImportant(ctx context.Context, messageID string) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	_, uid, err := s.locate(client, messageID)
	if err != nil {
		return err
	}

	storeCmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagFlagged},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("flagging %s: %w", messageID, err)
	}

	return nil
}

// CreateDraft appends the message to the drafts mailbox with \Draft set.
func (s *IMAPStore) CreateDraft(
	ctx context.Context,
	msg OutgoingMessage,
) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	folders, err := s.listFolders(client)
	if err != nil {
		return err
	}

	drafts := ""
	for _, f := range folders {
		if f.Role == RoleDrafts {
			drafts = f.ID
			break
		}
	}
	if drafts == "" {
		return &NotFoundError{Kind: "folder", Name: string(RoleDrafts)}
	}

	raw, err := buildMIME(s.username, msg)
	if err != nil {
		return err
	}

	appendCmd := client.Append(drafts, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft},
	})
	if _, err := appendCmd.Write(raw); err != nil {
		return fmt.Errorf("writing draft: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return fmt.Errorf("closing draft append: %w", err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		return fmt.Errorf("appending draft to %s: %w", drafts, err)
	}

	return nil
}

// Send delivers the message via SMTP.
func (s *IMAPStore) Send(_ context.Context, msg OutgoingMessage) error {
	raw, err := buildMIME(s.username, msg)
	if err != nil {
		return err
	}
	return s.smtp.Send(s.username, msg.To, raw)
}

// locate finds the folder containing a message, preferring the inbox,
// and leaves that folder selected.
func (s *IMAPStore) locate(
	client *imapclient.Client,
	messageID string,
) (string, imap.UID, error) {
	folders, err := s.listFolders(client)
	if err != nil {
		return "", 0, err
	}

	for _, f := range scanOrder(folders) {
		uid, err := s.findUID(client, f.ID, messageID)
		if err != nil {
			continue
		}
		if uid != 0 {
			return f.ID, uid, nil
		}
	}

	return "", 0, &NotFoundError{Kind: "message", Name: messageID}
}

// scanOrder returns folders with the inbox first, so common lookups
// resolve on the first mailbox scanned.
func scanOrder(folders []Folder) []Folder {
	ordered := make([]Folder, 0, len(folders))
	for _, f := range folders {
		if f.Role == RoleInbox {
			ordered = append(ordered, f)
		}
	}
	for _, f := range folders {
		if f.Role != RoleInbox {
			ordered = append(ordered, f)
		}
	}
	return ordered
}

// roleFromAttrs maps special-use attributes (with name fallbacks) to a
// folder role.
func roleFromAttrs(mailbox string, attrs []imap.MailboxAttr) FolderRole {
	if strings.EqualFold(mailbox, "INBOX") {
		return RoleInbox
	}

	for _, attr := range attrs {
		switch attr {
		case imap.MailboxAttrArchive:
			return RoleArchive
		case imap.MailboxAttrDrafts:
			return RoleDrafts
		case imap.MailboxAttrSent:
			return RoleSent
		}
	}

	switch strings.ToLower(mailbox) {
	case "archive", "archives":
		return RoleArchive
	case "drafts":
		return RoleDrafts
	case "sent", "sent messages":
		return RoleSent
	}

	return RoleNone
}

// hierarchyDelim learns the server's mailbox separator from LIST.
// Servers that report none get '/'.
func hierarchyDelim(client *imapclient.Client) rune {
	boxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return '/'
	}
	for _, box := range boxes {
		if box.Delim != 0 {
			return box.Delim
		}
	}
	return '/'
}

// childPath joins a parent mailbox path and a leaf name with the
// server's hierarchy delimiter.
func childPath(parentID, name string, delim rune) string {
	if parentID == "" {
		return name
	}
	if delim == 0 {
		delim = '/'
	}
	return parentID + string(delim) + name
}

// leafName returns the last path segment of a mailbox name.
func leafName(mailbox string, delim rune) string {
	if delim == 0 {
		return mailbox
	}
	parts := strings.Split(mailbox, string(delim))
	return parts[len(parts)-1]
}

// parentPath returns everything before the last path segment.
func parentPath(mailbox string, delim rune) string {
	if delim == 0 {
		return ""
	}
	idx := strings.LastIndex(mailbox, string(delim))
	if idx < 0 {
		return ""
	}
	return mailbox[:idx]
}
