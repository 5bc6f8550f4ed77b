package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/galynx/galynx-client/internal/models"
	"github.com/galynx/galynx-client/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileUpload is the raw material for one attachment on an outgoing
// message.
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// SendMessage is the optimistic send path. The message appears locally
// with a temporary id and status "sending" before the backend call; on
// confirmation the temporary record is swapped for the server one in a
// single mutation, and attachments upload sequentially against the
// durable id. On failure the temporary record stays visible as
// "failed" so the user can see and retry.
func (e *Engine) SendMessage(ctx context.Context, text string, files []FileUpload) error {
	const op = "engine.SendMessage"

	e.mu.Lock()
	channelID := e.state.ActiveChannelID
	user := e.state.CurrentUser
	if channelID == "" || user == nil {
		e.mu.Unlock()
		return nil
	}

	optimistic := models.Message{
		ID:        "tmp-" + uuid.NewString(),
		ChannelID: channelID,
		UserID:    user.ID,
		Content:   text,
		Timestamp: time.Now(),
		Status:    models.MessageSending,
	}
	for _, file := range files {
		optimistic.Attachments = append(optimistic.Attachments, models.Attachment{
			ID:          "tmp-att-" + uuid.NewString(),
			Name:        file.Name,
			Size:        int64(len(file.Data)),
			Status:      models.AttachmentUploading,
			ContentType: file.ContentType,
		})
	}
	e.mut.UpsertMessage(optimistic)
	e.mu.Unlock()
	e.notify()

	sent, err := e.api.MessagesSend(ctx, channelID, text)
	if err != nil {
		e.mu.Lock()
		e.mut.UpdateMessage(channelID, optimistic.ID, func(msg models.Message) models.Message {
			msg.Status = models.MessageFailed
			return msg
		})
		e.mu.Unlock()
		e.NotifyError("Could not send message.")
		return fmt.Errorf("%s: %w", op, err)
	}

	confirmed := mapMessage(sent)
	e.mu.Lock()
	// Remove-then-insert under one lock hold: the id swap from the
	// temporary to the server record is never observable half-done.
	e.mut.RemoveMessage(optimistic.ID)
	e.mut.UpsertMessage(confirmed)
	e.mu.Unlock()
	e.notify()

	if len(files) > 0 {
		e.uploadAttachments(ctx, channelID, confirmed.ID, files)
	}
	return nil
}

// uploadAttachments commits each file in turn. A failed upload is a
// per-attachment outcome: it is recorded as failed on the message and
// the remaining files still upload.
func (e *Engine) uploadAttachments(ctx context.Context, channelID, messageID string, files []FileUpload) {
	committed := make([]models.Attachment, 0, len(files))
	for _, file := range files {
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		dto, err := e.api.AttachmentUploadCommit(ctx, channelID, messageID, file.Name, contentType, file.Data)
		if err != nil {
			logger.GetFromCtx(ctx).Warn(ctx, "attachment upload failed",
				zap.String("message_id", messageID), zap.String("filename", file.Name), logger.Err(err))
			committed = append(committed, models.Attachment{
				ID:          "failed-att-" + uuid.NewString(),
				Name:        file.Name,
				Size:        int64(len(file.Data)),
				Status:      models.AttachmentFailed,
				Error:       models.AttachmentErrUploadFailed,
				ContentType: file.ContentType,
			})
			continue
		}
		committed = append(committed, mapAttachment(dto))
	}

	e.mu.Lock()
	e.mut.UpdateMessage(channelID, messageID, func(msg models.Message) models.Message {
		msg.Attachments = committed
		return msg
	})
	e.mu.Unlock()
	e.notify()
}

// EditMessage confirms against the backend before touching local state;
// a failed edit leaves the prior record untouched.
func (e *Engine) EditMessage(ctx context.Context, messageID, body string) error {
	const op = "engine.EditMessage"

	updated, err := e.api.MessagesEdit(ctx, messageID, body)
	if err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	e.mu.Lock()
	e.mut.UpsertMessage(mapMessage(updated))
	e.mu.Unlock()
	e.notify()
	return nil
}

// DeleteMessage confirms against the backend before removing locally.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	const op = "engine.DeleteMessage"

	if err := e.api.MessagesDelete(ctx, messageID); err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	e.mu.Lock()
	e.mut.RemoveMessage(messageID)
	e.mu.Unlock()
	e.notify()
	return nil
}

// SendThreadReply posts a reply to the open thread and appends the
// confirmed record to the reply list.
func (e *Engine) SendThreadReply(ctx context.Context, text string) error {
	const op = "engine.SendThreadReply"

	e.mu.Lock()
	if e.state.ThreadRoot == nil {
		e.mu.Unlock()
		return nil
	}
	rootID := e.state.ThreadRoot.ID
	e.mu.Unlock()

	sent, err := e.api.ThreadReplySend(ctx, rootID, text)
	if err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	e.mu.Lock()
	e.mut.AppendThreadReply(mapMessage(sent))
	e.mu.Unlock()
	e.notify()
	return nil
}

// EnsureAttachmentURL returns a download URL that is still inside the
// freshness window, re-resolving through the transport when the cached
// one is missing or stale. On a failed refresh the last known URL is
// returned alongside the error.
func (e *Engine) EnsureAttachmentURL(ctx context.Context, attachmentID string) (string, error) {
	const op = "engine.EnsureAttachmentURL"

	e.mu.Lock()
	cached, known := e.state.FindAttachment(attachmentID)
	e.mu.Unlock()

	if known && cached.DownloadURL != "" && time.Since(cached.DownloadURLFetchedAt) < attachmentURLTTL {
		return cached.DownloadURL, nil
	}

	refreshed, err := e.api.AttachmentGet(ctx, attachmentID)
	if err != nil {
		e.NotifyError(errText(err))
		return cached.DownloadURL, fmt.Errorf("%s: %w", op, err)
	}

	mapped := mapAttachment(refreshed)
	e.mu.Lock()
	updated, patched := e.mut.UpdateAttachment(attachmentID, func(current models.Attachment) models.Attachment {
		if mapped.ContentType != "" {
			current.ContentType = mapped.ContentType
		}
		if mapped.StorageKey != "" {
			current.StorageKey = mapped.StorageKey
		}
		current.DownloadURL = mapped.DownloadURL
		current.DownloadURLFetchedAt = mapped.DownloadURLFetchedAt
		return current
	})
	e.mu.Unlock()
	e.notify()

	if patched {
		return updated.DownloadURL, nil
	}
	return mapped.DownloadURL, nil
}
