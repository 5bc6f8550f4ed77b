package transport

import (
	"encoding/json"
	"fmt"
)

// Error is a backend failure surfaced as a status/code/message triple.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("api returned error (%d): %s %s", e.Status, e.Code, e.Message)
}

type TokenBundle struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

type UserDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

type AuthSessionDTO struct {
	TokenBundle
	User UserDTO `json:"user"`
}

type WorkspaceDTO struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
}

type ChannelDTO struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	IsPrivate   bool   `json:"is_private"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   int64  `json:"created_at"`
}

type MessageDTO struct {
	ID           string  `json:"id"`
	WorkspaceID  string  `json:"workspace_id"`
	ChannelID    string  `json:"channel_id"`
	SenderID     string  `json:"sender_id"`
	BodyMD       string  `json:"body_md"`
	ThreadRootID *string `json:"thread_root_id"`
	CreatedAt    int64   `json:"created_at"`
	EditedAt     *int64  `json:"edited_at"`
	DeletedAt    *int64  `json:"deleted_at"`
}

type MessageListDTO struct {
	Items      []MessageDTO `json:"items"`
	NextCursor *string      `json:"next_cursor"`
}

type ThreadSummaryDTO struct {
	RootMessage  MessageDTO `json:"root_message"`
	ReplyCount   int64      `json:"reply_count"`
	LastReplyAt  *int64     `json:"last_reply_at"`
	Participants []string   `json:"participants"`
}

type AttachmentDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	SizeBytes   int64   `json:"size_bytes"`
	ContentType *string `json:"content_type"`
	StorageKey  *string `json:"storage_key"`
	DownloadURL *string `json:"download_url"`
}

type WorkspaceMemberDTO struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type ChannelMemberDTO struct {
	UserID string `json:"user_id"`
}

type AuditDTO struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	ActorID     string         `json:"actor_id"`
	Action      string         `json:"action"`
	TargetType  string         `json:"target_type"`
	TargetID    string         `json:"target_id"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   *int64         `json:"created_at"`
}

type AuditListDTO struct {
	Items      []AuditDTO `json:"items"`
	NextCursor *string    `json:"next_cursor"`
}

type CreateUserDTO struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UpsertWorkspaceMemberDTO struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role"`
}

// Envelope is an arbitrary realtime push event. Payload stays raw: the
// engine decodes it per event type and drops anything malformed.
type Envelope struct {
	EventType     string          `json:"event_type"`
	WorkspaceID   string          `json:"workspace_id"`
	ChannelID     string          `json:"channel_id"`
	CorrelationID string          `json:"correlation_id"`
	ServerTS      int64           `json:"server_ts"`
	Payload       json.RawMessage `json:"payload"`
}

// PayloadFields decodes the payload into a loose map for id extraction.
func (e Envelope) PayloadFields() map[string]any {
	if len(e.Payload) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(e.Payload, &fields); err != nil {
		return nil
	}
	return fields
}

type attachmentPresignDTO struct {
	UploadID  string  `json:"upload_id"`
	UploadURL string  `json:"upload_url"`
	Key       *string `json:"key"`
}
