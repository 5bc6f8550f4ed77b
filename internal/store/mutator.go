package store

import (
	"fmt"
	"sort"

	"github.com/galynx/galynx-client/internal/models"
)

// Mutator is the single writer to the State. None of its operations
// fail: malformed or partial input is dropped as a stale record, since a
// swallowed no-op is safer than tearing down the whole synchronized view.
// Callers are responsible for serializing access (the engine holds one
// lock around every mutation and read).
type Mutator struct {
	state *State
}

func NewMutator(state *State) *Mutator {
	return &Mutator{state: state}
}

// EnsureUser guarantees a User record exists for the id, creating a
// provisional placeholder on first reference. Authoritative data written
// later (login, membership list, admin list) replaces it wholesale.
func (m *Mutator) EnsureUser(id string, role models.Role) models.User {
	if id == "" {
		return models.User{}
	}
	if existing, ok := m.state.Users[id]; ok {
		return existing
	}

	user := models.User{
		ID:          id,
		Name:        fmt.Sprintf("User %s", clip(id, 6)),
		Email:       fmt.Sprintf("%s@galynx.local", clip(id, 8)),
		Role:        role,
		Status:      models.UserActive,
		AvatarColor: models.AvatarColorFromID(id),
	}
	m.state.Users[id] = user
	return user
}

// ApplyCurrentUser installs the authenticated user, replacing any
// provisional record with the same id.
func (m *Mutator) ApplyCurrentUser(user models.User) {
	if user.ID == "" {
		return
	}
	user.Status = models.UserActive
	user.AvatarColor = models.AvatarColorFromID(user.ID)
	m.state.CurrentUser = &user
	m.state.Users[user.ID] = user
}

// UpsertUser replaces a user record wholesale with authoritative data.
func (m *Mutator) UpsertUser(user models.User) {
	if user.ID == "" {
		return
	}
	m.state.Users[user.ID] = user
}

// UpsertMessage inserts the message if its id is unseen, otherwise
// replaces the record in place. Inserts re-sort the channel list by
// timestamp ascending. The author always ends up with a User record.
func (m *Mutator) UpsertMessage(msg models.Message) {
	if msg.ID == "" || msg.ChannelID == "" {
		return
	}

	messages := m.state.MessagesByChannel[msg.ChannelID]
	replaced := false
	for i := range messages {
		if messages[i].ID == msg.ID {
			messages[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		messages = append(messages, msg)
		sortByTimestamp(messages)
	}
	m.state.MessagesByChannel[msg.ChannelID] = messages
	m.EnsureUser(msg.UserID, models.RoleMember)
}

// UpdateMessage applies fn to an existing record. A missing record is a
// no-op, not an error: realtime events for messages not yet known
// locally are safely ignorable here.
func (m *Mutator) UpdateMessage(channelID, id string, fn func(models.Message) models.Message) {
	messages := m.state.MessagesByChannel[channelID]
	for i := range messages {
		if messages[i].ID == id {
			messages[i] = fn(messages[i])
			m.state.MessagesByChannel[channelID] = messages
			return
		}
	}
}

// RemoveMessage deletes the message from whichever channel list holds
// it. Absent ids are a no-op.
func (m *Mutator) RemoveMessage(id string) {
	for channelID, messages := range m.state.MessagesByChannel {
		kept := messages[:0]
		for _, msg := range messages {
			if msg.ID != id {
				kept = append(kept, msg)
			}
		}
		m.state.MessagesByChannel[channelID] = kept
	}
}

// MergeSorted is the single merge primitive shared by pagination and
// realtime application: an id-keyed union where incoming wins on
// collision, re-sorted ascending by timestamp.
func (m *Mutator) MergeSorted(existing, incoming []models.Message) []models.Message {
	index := make(map[string]int, len(existing))
	merged := make([]models.Message, 0, len(existing)+len(incoming))
	for _, msg := range existing {
		index[msg.ID] = len(merged)
		merged = append(merged, msg)
	}
	for _, msg := range incoming {
		if at, ok := index[msg.ID]; ok {
			merged[at] = msg
			continue
		}
		index[msg.ID] = len(merged)
		merged = append(merged, msg)
	}
	sortByTimestamp(merged)
	return merged
}

// SetChannelPage applies one backfill page. The first page replaces the
// scope; later pages merge through MergeSorted so page-boundary overlaps
// collapse instead of duplicating. The backend cursor always supersedes
// the local one, including the transition to nil (end of data).
func (m *Mutator) SetChannelPage(channelID string, items []models.Message, cursor Cursor, replace bool) {
	if channelID == "" {
		return
	}
	for _, msg := range items {
		m.EnsureUser(msg.UserID, models.RoleMember)
	}
	if replace {
		m.state.MessagesByChannel[channelID] = sortedCopy(items)
	} else {
		m.state.MessagesByChannel[channelID] = m.MergeSorted(m.state.MessagesByChannel[channelID], items)
	}
	m.state.MessageCursorByChannel[channelID] = cursor
}

// SetThreadPage applies one reply page to the open thread view.
func (m *Mutator) SetThreadPage(items []models.Message, cursor Cursor, replace bool) {
	if m.state.ThreadRoot == nil {
		return
	}
	for _, msg := range items {
		m.EnsureUser(msg.UserID, models.RoleMember)
	}
	if replace {
		m.state.ThreadReplies = sortedCopy(items)
	} else {
		m.state.ThreadReplies = m.MergeSorted(m.state.ThreadReplies, items)
	}
	m.state.ThreadCursor = cursor
}

// AppendThreadReply adds one confirmed reply to the open thread.
func (m *Mutator) AppendThreadReply(msg models.Message) {
	if m.state.ThreadRoot == nil || msg.ID == "" {
		return
	}
	m.EnsureUser(msg.UserID, models.RoleMember)
	m.state.ThreadReplies = m.MergeSorted(m.state.ThreadReplies, []models.Message{msg})
}

// OpenThread anchors the ephemeral thread view on a root message.
func (m *Mutator) OpenThread(root models.Message) {
	m.state.ThreadRoot = &root
	m.state.ThreadReplies = nil
	m.state.ThreadCursor = nil
	m.state.LoadingMoreThreadReplies = false
}

// CloseThread discards the thread view; nothing is persisted.
func (m *Mutator) CloseThread() {
	m.state.ThreadRoot = nil
	m.state.ThreadReplies = nil
	m.state.ThreadCursor = nil
	m.state.LoadingMoreThreadReplies = false
}

// ReplaceChannels installs a fresh channel list wholesale.
func (m *Mutator) ReplaceChannels(channels []models.Channel) {
	m.state.Channels = append([]models.Channel(nil), channels...)
}

// PrependChannel adds a channel to the front of the list if unseen.
func (m *Mutator) PrependChannel(channel models.Channel) {
	if channel.ID == "" {
		return
	}
	for _, existing := range m.state.Channels {
		if existing.ID == channel.ID {
			return
		}
	}
	m.state.Channels = append([]models.Channel{channel}, m.state.Channels...)
}

// RemoveChannel drops the channel and all state scoped to it.
func (m *Mutator) RemoveChannel(channelID string) {
	kept := m.state.Channels[:0]
	for _, ch := range m.state.Channels {
		if ch.ID != channelID {
			kept = append(kept, ch)
		}
	}
	m.state.Channels = kept
	delete(m.state.MessagesByChannel, channelID)
	delete(m.state.MessageCursorByChannel, channelID)
	delete(m.state.LoadingMoreByChannel, channelID)
	delete(m.state.ChannelMembersByChannel, channelID)
}

// SetWorkspaceMembers replaces the membership list for a workspace and
// hydrates User records from it: membership data is authoritative over
// provisional placeholders.
func (m *Mutator) SetWorkspaceMembers(workspaceID string, members []models.WorkspaceMember) {
	if workspaceID == "" {
		return
	}
	m.state.WorkspaceMembersByWorkspace[workspaceID] = members
	for _, member := range members {
		user := m.EnsureUser(member.UserID, member.Role)
		if member.Name != "" {
			user.Name = member.Name
		}
		if member.Email != "" {
			user.Email = member.Email
		}
		user.Role = member.Role
		m.state.Users[user.ID] = user
	}
}

// SetChannelMembers replaces the membership list for a channel.
func (m *Mutator) SetChannelMembers(channelID string, members []models.ChannelMember) {
	if channelID == "" {
		return
	}
	m.state.ChannelMembersByChannel[channelID] = members
}

// SetAdminUsers replaces the administration view's user list, keeping
// the current user visible even when the backend omits it.
func (m *Mutator) SetAdminUsers(users []models.User) {
	if current := m.state.CurrentUser; current != nil {
		found := false
		for _, user := range users {
			if user.ID == current.ID {
				found = true
				break
			}
		}
		if !found {
			users = append([]models.User{*current}, users...)
		}
	}
	m.state.AdminUsers = users
}

// UpsertAdminUser installs one created or updated user in both the
// admin view and the normalized user table.
func (m *Mutator) UpsertAdminUser(user models.User) {
	if user.ID == "" {
		return
	}
	replaced := false
	for i := range m.state.AdminUsers {
		if m.state.AdminUsers[i].ID == user.ID {
			m.state.AdminUsers[i] = user
			replaced = true
			break
		}
	}
	if !replaced {
		m.state.AdminUsers = append([]models.User{user}, m.state.AdminUsers...)
	}
	m.state.Users[user.ID] = user
}

// SetAuditPage applies one audit feed page; the feed sorts newest first.
func (m *Mutator) SetAuditPage(items []models.AuditEntry, cursor Cursor, replace bool) {
	if replace {
		m.state.AuditItems = append([]models.AuditEntry(nil), items...)
	} else {
		index := make(map[string]models.AuditEntry, len(m.state.AuditItems)+len(items))
		order := make([]string, 0, len(m.state.AuditItems)+len(items))
		for _, entry := range append(append([]models.AuditEntry(nil), m.state.AuditItems...), items...) {
			if _, ok := index[entry.ID]; !ok {
				order = append(order, entry.ID)
			}
			index[entry.ID] = entry
		}
		merged := make([]models.AuditEntry, 0, len(order))
		for _, id := range order {
			merged = append(merged, index[id])
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		})
		m.state.AuditItems = merged
	}
	m.state.AuditCursor = cursor
	m.state.AuditLoaded = true
}

// UpdateAttachment applies fn to the attachment wherever it lives:
// channel lists first, then the thread root, then thread replies. It
// returns the updated record, or false when the id is unknown.
func (m *Mutator) UpdateAttachment(attachmentID string, fn func(models.Attachment) models.Attachment) (models.Attachment, bool) {
	for channelID, messages := range m.state.MessagesByChannel {
		for i := range messages {
			if att, ok := patchAttachment(&messages[i], attachmentID, fn); ok {
				m.state.MessagesByChannel[channelID] = messages
				return att, true
			}
		}
	}
	if m.state.ThreadRoot != nil {
		root := *m.state.ThreadRoot
		if att, ok := patchAttachment(&root, attachmentID, fn); ok {
			m.state.ThreadRoot = &root
			return att, true
		}
	}
	for i := range m.state.ThreadReplies {
		if att, ok := patchAttachment(&m.state.ThreadReplies[i], attachmentID, fn); ok {
			return att, true
		}
	}
	return models.Attachment{}, false
}

func patchAttachment(msg *models.Message, attachmentID string, fn func(models.Attachment) models.Attachment) (models.Attachment, bool) {
	for i := range msg.Attachments {
		if msg.Attachments[i].ID == attachmentID {
			msg.Attachments[i] = fn(msg.Attachments[i])
			return msg.Attachments[i], true
		}
	}
	return models.Attachment{}, false
}

func sortByTimestamp(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

func sortedCopy(messages []models.Message) []models.Message {
	out := append([]models.Message(nil), messages...)
	sortByTimestamp(out)
	return out
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
