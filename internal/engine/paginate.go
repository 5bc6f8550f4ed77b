package engine

import (
	"context"
	"fmt"

	"github.com/galynx/galynx-client/internal/models"
)

// loadMessages fetches one page for a channel. An empty cursor means
// first page, which replaces the scope; anything else merges through
// the Mutator so page-boundary overlaps collapse.
func (e *Engine) loadMessages(ctx context.Context, channelID, cursor string, appendPage bool) error {
	const op = "engine.loadMessages"

	list, err := e.api.MessagesList(ctx, channelID, pageSize, cursor)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	e.mu.Lock()
	e.mut.SetChannelPage(channelID, mapMessages(list.Items), list.NextCursor, !appendPage)
	e.mu.Unlock()
	e.notify()
	return nil
}

// LoadMoreMessages pulls the next backfill page for the active channel.
// It is a no-op when there is no further page or a load is already in
// flight for that channel; failures surface as a transient notification.
func (e *Engine) LoadMoreMessages(ctx context.Context) {
	e.mu.Lock()
	channelID := e.state.ActiveChannelID
	if channelID == "" {
		e.mu.Unlock()
		return
	}
	cursor, ok := e.state.MessageCursorByChannel[channelID]
	if !ok || cursor == nil || e.state.LoadingMoreByChannel[channelID] {
		e.mu.Unlock()
		return
	}
	e.state.LoadingMoreByChannel[channelID] = true
	e.mu.Unlock()
	e.notify()

	err := e.loadMessages(ctx, channelID, *cursor, true)

	e.mu.Lock()
	e.state.LoadingMoreByChannel[channelID] = false
	e.mu.Unlock()
	e.notify()

	if err != nil {
		e.NotifyError(errText(err))
	}
}

// OpenThread anchors the thread panel on a root message and loads the
// first reply page.
func (e *Engine) OpenThread(ctx context.Context, root models.Message) error {
	const op = "engine.OpenThread"

	e.mu.Lock()
	e.mut.OpenThread(root)
	e.mu.Unlock()
	e.notify()

	if err := e.loadThreadReplies(ctx, root.ID, "", false); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ThreadSummary fetches the server-computed view of a thread root and
// folds the authoritative reply count back into the local record.
func (e *Engine) ThreadSummary(ctx context.Context, rootID string) (models.ThreadSummary, error) {
	const op = "engine.ThreadSummary"

	dto, err := e.api.ThreadGet(ctx, rootID)
	if err != nil {
		return models.ThreadSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	summary := mapThreadSummary(dto)

	e.mu.Lock()
	e.mut.UpdateMessage(summary.Root.ChannelID, rootID, func(msg models.Message) models.Message {
		msg.ReplyCount = summary.ReplyCount
		return msg
	})
	e.mu.Unlock()
	e.notify()
	return summary, nil
}

// CloseThread discards the thread view.
func (e *Engine) CloseThread() {
	e.mu.Lock()
	e.mut.CloseThread()
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) loadThreadReplies(ctx context.Context, rootID, cursor string, appendPage bool) error {
	const op = "engine.loadThreadReplies"

	list, err := e.api.ThreadRepliesList(ctx, rootID, pageSize, cursor)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	e.mu.Lock()
	// The panel may have closed or moved while the fetch was in
	// flight; a stale page must not resurrect it.
	if e.state.ThreadRoot == nil || e.state.ThreadRoot.ID != rootID {
		e.mu.Unlock()
		return nil
	}
	e.mut.SetThreadPage(mapMessages(list.Items), list.NextCursor, !appendPage)
	e.mu.Unlock()
	e.notify()
	return nil
}

// LoadMoreThreadReplies pulls the next reply page for the open thread,
// with the same busy-flag suppression as channel backfill.
func (e *Engine) LoadMoreThreadReplies(ctx context.Context) {
	e.mu.Lock()
	if e.state.ThreadRoot == nil || e.state.ThreadCursor == nil || e.state.LoadingMoreThreadReplies {
		e.mu.Unlock()
		return
	}
	rootID := e.state.ThreadRoot.ID
	cursor := *e.state.ThreadCursor
	e.state.LoadingMoreThreadReplies = true
	e.mu.Unlock()
	e.notify()

	err := e.loadThreadReplies(ctx, rootID, cursor, true)

	e.mu.Lock()
	e.state.LoadingMoreThreadReplies = false
	e.mu.Unlock()
	e.notify()

	if err != nil {
		e.NotifyError(errText(err))
	}
}

// LoadAudit refreshes the first page of the audit feed.
func (e *Engine) LoadAudit(ctx context.Context) error {
	const op = "engine.LoadAudit"

	list, err := e.api.AuditList(ctx, pageSize, "")
	if err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	e.mu.Lock()
	e.mut.SetAuditPage(mapAudits(list.Items), list.NextCursor, true)
	e.mu.Unlock()
	e.notify()
	return nil
}

// LoadMoreAudit appends the next audit page, deduplicated by id and
// kept newest-first.
func (e *Engine) LoadMoreAudit(ctx context.Context) {
	e.mu.Lock()
	if e.state.AuditCursor == nil || e.state.AuditLoadingMore {
		e.mu.Unlock()
		return
	}
	cursor := *e.state.AuditCursor
	e.state.AuditLoadingMore = true
	e.mu.Unlock()

	list, err := e.api.AuditList(ctx, pageSize, cursor)

	e.mu.Lock()
	e.state.AuditLoadingMore = false
	if err == nil {
		e.mut.SetAuditPage(mapAudits(list.Items), list.NextCursor, false)
	}
	e.mu.Unlock()
	e.notify()

	if err != nil {
		e.NotifyError(errText(err))
	}
}
