package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// NormalizeRole maps unknown wire values to the least-privileged role.
func NormalizeRole(raw string) Role {
	switch Role(raw) {
	case RoleOwner, RoleAdmin, RoleMember:
		return Role(raw)
	default:
		return RoleMember
	}
}

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserDisabled UserStatus = "disabled"
)

type ConnectionStatus string

const (
	ConnOnline       ConnectionStatus = "online"
	ConnReconnecting ConnectionStatus = "reconnecting"
	ConnOffline      ConnectionStatus = "offline"
)

type MessageStatus string

const (
	MessageSending MessageStatus = "sending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

type AttachmentStatus string

const (
	AttachmentQueued    AttachmentStatus = "queued"
	AttachmentUploading AttachmentStatus = "uploading"
	AttachmentUploaded  AttachmentStatus = "uploaded"
	AttachmentFailed    AttachmentStatus = "failed"
)

type AttachmentError string

const (
	AttachmentErrFileTooLarge     AttachmentError = "file-too-large"
	AttachmentErrUploadFailed     AttachmentError = "upload-failed"
	AttachmentErrPermissionDenied AttachmentError = "permission-denied"
)

type ChannelPrivacy string

const (
	ChannelPublic  ChannelPrivacy = "public"
	ChannelPrivate ChannelPrivacy = "private"
)

type Workspace struct {
	ID         string
	Name       string
	ShortLabel string
}

type User struct {
	ID          string
	Name        string
	Email       string
	Role        Role
	Status      UserStatus
	AvatarColor string
}

type Channel struct {
	ID          string
	WorkspaceID string
	Name        string
	Privacy     ChannelPrivacy
	CreatedBy   string
	CreatedAt   time.Time
	MemberCount int
}

type Attachment struct {
	ID                   string
	Name                 string
	Size                 int64
	Status               AttachmentStatus
	Error                AttachmentError
	ContentType          string
	StorageKey           string
	DownloadURL          string
	DownloadURLFetchedAt time.Time
}

type Message struct {
	ID          string
	ChannelID   string
	UserID      string
	Content     string
	Timestamp   time.Time
	Status      MessageStatus
	Edited      bool
	Deleted     bool
	ReplyCount  int
	Attachments []Attachment
}

type WorkspaceMember struct {
	UserID      string
	WorkspaceID string
	Role        Role
	Email       string
	Name        string
}

type ChannelMember struct {
	ChannelID string
	UserID    string
}

type AuditEntry struct {
	ID          string
	WorkspaceID string
	ActorID     string
	Action      string
	TargetType  string
	TargetID    string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// ThreadSummary is the server-computed view of a thread root.
type ThreadSummary struct {
	Root         Message
	ReplyCount   int
	LastReplyAt  time.Time
	Participants []string
}

var avatarColors = []string{"#22c55e", "#06b6d4", "#a855f7", "#f97316", "#14b8a6", "#eab308"}

// AvatarColorFromID derives a stable palette color from a user id so the
// color never changes between renders or sessions.
func AvatarColorFromID(id string) string {
	var hash uint32
	for _, r := range id {
		hash = hash*31 + uint32(r)
	}
	// Index with unsigned arithmetic so the result stays in range on
	// 32-bit platforms too.
	return avatarColors[hash%uint32(len(avatarColors))]
}

// ShortLabel derives a two-letter workspace badge from its name.
func ShortLabel(name string) string {
	words := strings.Fields(name)
	switch len(words) {
	case 0:
		return "WS"
	case 1:
		w := words[0]
		if len(w) < 2 {
			return strings.ToUpper(w)
		}
		return strings.ToUpper(w[:2])
	default:
		return strings.ToUpper(firstByte(words[0]) + firstByte(words[1]))
	}
}

func firstByte(s string) string {
	if s == "" {
		return ""
	}
	return s[:1]
}
