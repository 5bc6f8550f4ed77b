package engine

import (
	"errors"
	"time"

	"github.com/galynx/galynx-client/internal/models"
	"github.com/galynx/galynx-client/internal/transport"
)

// toTime accepts both epoch seconds and milliseconds; the backend has
// emitted both over time.
func toTime(raw int64) time.Time {
	if raw < 1_000_000_000_000 {
		return time.Unix(raw, 0)
	}
	return time.UnixMilli(raw)
}

func mapMessage(dto transport.MessageDTO) models.Message {
	return models.Message{
		ID:        dto.ID,
		ChannelID: dto.ChannelID,
		UserID:    dto.SenderID,
		Content:   dto.BodyMD,
		Timestamp: toTime(dto.CreatedAt),
		Status:    models.MessageSent,
		Edited:    dto.EditedAt != nil,
		Deleted:   dto.DeletedAt != nil,
	}
}

func mapMessages(dtos []transport.MessageDTO) []models.Message {
	out := make([]models.Message, 0, len(dtos))
	for _, dto := range dtos {
		if dto.ID == "" || dto.ChannelID == "" {
			continue
		}
		out = append(out, mapMessage(dto))
	}
	return out
}

func mapThreadSummary(dto transport.ThreadSummaryDTO) models.ThreadSummary {
	summary := models.ThreadSummary{
		Root:         mapMessage(dto.RootMessage),
		ReplyCount:   int(dto.ReplyCount),
		Participants: append([]string(nil), dto.Participants...),
	}
	if dto.LastReplyAt != nil {
		summary.LastReplyAt = toTime(*dto.LastReplyAt)
	}
	return summary
}

func mapAttachment(dto transport.AttachmentDTO) models.Attachment {
	att := models.Attachment{
		ID:     dto.ID,
		Name:   dto.Name,
		Size:   dto.SizeBytes,
		Status: models.AttachmentUploaded,
	}
	if dto.ContentType != nil {
		att.ContentType = *dto.ContentType
	}
	if dto.StorageKey != nil {
		att.StorageKey = *dto.StorageKey
	}
	if dto.DownloadURL != nil {
		att.DownloadURL = *dto.DownloadURL
		att.DownloadURLFetchedAt = time.Now()
	}
	return att
}

func mapUser(dto transport.UserDTO) models.User {
	return models.User{
		ID:          dto.ID,
		Name:        dto.Name,
		Email:       dto.Email,
		Role:        models.NormalizeRole(dto.Role),
		Status:      models.UserActive,
		AvatarColor: models.AvatarColorFromID(dto.ID),
	}
}

func mapWorkspace(dto transport.WorkspaceDTO) (models.Workspace, bool) {
	id := dto.ID
	if id == "" {
		id = dto.WorkspaceID
	}
	if id == "" || dto.Name == "" {
		return models.Workspace{}, false
	}
	return models.Workspace{
		ID:         id,
		Name:       dto.Name,
		ShortLabel: models.ShortLabel(dto.Name),
	}, true
}

func mapChannel(dto transport.ChannelDTO) (models.Channel, bool) {
	if dto.ID == "" {
		return models.Channel{}, false
	}
	privacy := models.ChannelPublic
	if dto.IsPrivate {
		privacy = models.ChannelPrivate
	}
	return models.Channel{
		ID:          dto.ID,
		WorkspaceID: dto.WorkspaceID,
		Name:        dto.Name,
		Privacy:     privacy,
		CreatedBy:   dto.CreatedBy,
		CreatedAt:   toTime(dto.CreatedAt),
	}, true
}

func mapChannels(dtos []transport.ChannelDTO) []models.Channel {
	out := make([]models.Channel, 0, len(dtos))
	for _, dto := range dtos {
		if ch, ok := mapChannel(dto); ok {
			out = append(out, ch)
		}
	}
	return out
}

// mapWorkspaceMember tolerates the backend's two spellings of the user
// reference (user_id preferred, id as fallback).
func mapWorkspaceMember(dto transport.WorkspaceMemberDTO, workspaceID string) (models.WorkspaceMember, bool) {
	userID := dto.UserID
	if userID == "" {
		userID = dto.ID
	}
	if userID == "" {
		return models.WorkspaceMember{}, false
	}
	return models.WorkspaceMember{
		UserID:      userID,
		WorkspaceID: workspaceID,
		Role:        models.NormalizeRole(dto.Role),
		Email:       dto.Email,
		Name:        dto.Name,
	}, true
}

func mapChannelMember(dto transport.ChannelMemberDTO, channelID string) (models.ChannelMember, bool) {
	if dto.UserID == "" {
		return models.ChannelMember{}, false
	}
	return models.ChannelMember{ChannelID: channelID, UserID: dto.UserID}, true
}

func mapAudit(dto transport.AuditDTO) (models.AuditEntry, bool) {
	if dto.ID == "" || dto.WorkspaceID == "" || dto.ActorID == "" ||
		dto.Action == "" || dto.TargetType == "" || dto.TargetID == "" || dto.CreatedAt == nil {
		return models.AuditEntry{}, false
	}
	metadata := dto.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return models.AuditEntry{
		ID:          dto.ID,
		WorkspaceID: dto.WorkspaceID,
		ActorID:     dto.ActorID,
		Action:      dto.Action,
		TargetType:  dto.TargetType,
		TargetID:    dto.TargetID,
		Metadata:    metadata,
		CreatedAt:   toTime(*dto.CreatedAt),
	}, true
}

func mapAudits(dtos []transport.AuditDTO) []models.AuditEntry {
	out := make([]models.AuditEntry, 0, len(dtos))
	for _, dto := range dtos {
		if entry, ok := mapAudit(dto); ok {
			out = append(out, entry)
		}
	}
	return out
}

// errText extracts the user-facing message from a transport error.
func errText(err error) string {
	var apiErr *transport.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Unexpected error"
}
