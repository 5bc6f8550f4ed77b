package store

import (
	"github.com/galynx/galynx-client/internal/models"
)

// Cursor is an opaque continuation token for a paginated scope. A nil
// entry means the backend reported the end of data; an absent map entry
// means the scope has never been loaded.
type Cursor = *string

// State is the normalized local view of one user session. It is pure
// data: every mutation goes through the Mutator, every cross-reference
// (message -> author, message -> channel) is by id.
type State struct {
	Initialized bool

	CurrentUser *models.User
	Users       map[string]models.User

	Workspaces        []models.Workspace
	ActiveWorkspaceID string

	Channels        []models.Channel
	ActiveChannelID string

	MessagesByChannel      map[string][]models.Message
	MessageCursorByChannel map[string]Cursor
	LoadingMoreByChannel   map[string]bool

	ThreadRoot               *models.Message
	ThreadReplies            []models.Message
	ThreadCursor             Cursor
	LoadingMoreThreadReplies bool

	WorkspaceMembersByWorkspace map[string][]models.WorkspaceMember
	ChannelMembersByChannel     map[string][]models.ChannelMember

	AdminUsers []models.User

	AuditItems       []models.AuditEntry
	AuditCursor      Cursor
	AuditLoaded      bool
	AuditLoadingMore bool

	ConnectionStatus models.ConnectionStatus
	Reconciling      bool

	ErrorMessage string
}

func NewState() *State {
	return &State{
		Users:                       make(map[string]models.User),
		MessagesByChannel:           make(map[string][]models.Message),
		MessageCursorByChannel:      make(map[string]Cursor),
		LoadingMoreByChannel:        make(map[string]bool),
		WorkspaceMembersByWorkspace: make(map[string][]models.WorkspaceMember),
		ChannelMembersByChannel:     make(map[string][]models.ChannelMember),
		ConnectionStatus:            models.ConnOffline,
	}
}

// HasMoreMessages reports whether a further page exists for the channel.
func (s *State) HasMoreMessages(channelID string) bool {
	cursor, ok := s.MessageCursorByChannel[channelID]
	return ok && cursor != nil
}

// HasMoreThreadReplies reports whether the open thread has a further page.
func (s *State) HasMoreThreadReplies() bool {
	return s.ThreadRoot != nil && s.ThreadCursor != nil
}

// HasMoreAudit reports whether the audit feed has a further page.
func (s *State) HasMoreAudit() bool {
	return s.AuditCursor != nil
}

// FindMessage looks a message up by id across all channel lists.
func (s *State) FindMessage(id string) (models.Message, bool) {
	for _, messages := range s.MessagesByChannel {
		for _, msg := range messages {
			if msg.ID == id {
				return msg, true
			}
		}
	}
	return models.Message{}, false
}

// FindAttachment looks an attachment up across channel lists and the
// open thread view.
func (s *State) FindAttachment(id string) (models.Attachment, bool) {
	for _, messages := range s.MessagesByChannel {
		for _, msg := range messages {
			for _, att := range msg.Attachments {
				if att.ID == id {
					return att, true
				}
			}
		}
	}
	if s.ThreadRoot != nil {
		for _, att := range s.ThreadRoot.Attachments {
			if att.ID == id {
				return att, true
			}
		}
	}
	for _, reply := range s.ThreadReplies {
		for _, att := range reply.Attachments {
			if att.ID == id {
				return att, true
			}
		}
	}
	return models.Attachment{}, false
}
