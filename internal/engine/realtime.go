package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/galynx/galynx-client/internal/models"
	"github.com/galynx/galynx-client/internal/transport"
	"github.com/galynx/galynx-client/pkg/logger"
	"go.uber.org/zap"
)

const (
	eventMessageCreated  = "MESSAGE_CREATED"
	eventMessageUpdated  = "MESSAGE_UPDATED"
	eventMessageDeleted  = "MESSAGE_DELETED"
	eventChannelCreated  = "CHANNEL_CREATED"
	eventChannelDeleted  = "CHANNEL_DELETED"
	eventThreadUpdated   = "THREAD_UPDATED"
	eventReactionUpdated = "REACTION_UPDATED"
)

// eventKey derives the dedup fingerprint for an envelope, preferring
// the correlation id, then an id-like payload field plus the server
// timestamp, then the timestamp alone.
func eventKey(env transport.Envelope) string {
	if env.EventType == "" {
		return ""
	}
	if env.CorrelationID != "" {
		return fmt.Sprintf("%s:corr:%s", env.EventType, env.CorrelationID)
	}

	fields := env.PayloadFields()
	for _, field := range []string{"id", "message_id", "channel_id"} {
		if value, ok := fields[field].(string); ok && value != "" {
			return fmt.Sprintf("%s:id:%s:%d", env.EventType, value, env.ServerTS)
		}
	}
	return fmt.Sprintf("%s:ts:%d", env.EventType, env.ServerTS)
}

// payloadID picks the canonical id field for deletion events. The wire
// format has carried both message_id/channel_id and plain id; the
// suffixed form is canonical, id is the tolerated fallback.
func payloadID(fields map[string]any, canonical string) string {
	if value, ok := fields[canonical].(string); ok && value != "" {
		return value
	}
	if value, ok := fields["id"].(string); ok {
		return value
	}
	return ""
}

// ApplyRealtimeEvent deduplicates and applies one push event. Redelivered
// envelopes inside the dedup window are dropped before any mutation;
// malformed payloads are dropped silently.
func (e *Engine) ApplyRealtimeEvent(ctx context.Context, env transport.Envelope) {
	if env.EventType == "" {
		return
	}

	e.mu.Lock()
	if e.dedup.Seen(eventKey(env)) {
		e.mu.Unlock()
		return
	}

	switch env.EventType {
	case eventMessageCreated, eventMessageUpdated:
		if dto, ok := decodeEventMessage(env.Payload); ok {
			e.mut.UpsertMessage(mapMessage(dto))
		}

	case eventMessageDeleted:
		if id := payloadID(env.PayloadFields(), "message_id"); id != "" {
			e.mut.RemoveMessage(id)
		}

	case eventChannelCreated:
		if channel, ok := decodeEventChannel(env.Payload); ok {
			if e.state.ActiveWorkspaceID == "" || channel.WorkspaceID == e.state.ActiveWorkspaceID {
				e.mut.PrependChannel(channel)
			}
		}

	case eventChannelDeleted:
		if id := payloadID(env.PayloadFields(), "channel_id"); id != "" {
			e.mut.RemoveChannel(id)
		}

	case eventThreadUpdated:
		rootID := threadRootID(env.PayloadFields())
		if rootID != "" && e.state.ThreadRoot != nil && e.state.ThreadRoot.ID == rootID {
			// Non-blocking refresh of the open thread; a failure
			// leaves the stale reply list in place.
			go func() {
				if err := e.loadThreadReplies(ctx, rootID, "", false); err != nil {
					logger.GetFromCtx(ctx).Debug(ctx, "thread refresh failed", zap.String("root_id", rootID), logger.Err(err))
				}
			}()
		}

	case eventReactionUpdated:
		// Accepted into the dedup window for forward compatibility;
		// reactions are not rendered yet.

	default:
		// Unrecognized event types are ignored.
	}
	e.mu.Unlock()
	e.notify()
}

func decodeEventMessage(payload json.RawMessage) (transport.MessageDTO, bool) {
	var wrapped struct {
		Message *transport.MessageDTO `json:"message"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Message != nil {
		return validMessage(*wrapped.Message)
	}

	var direct transport.MessageDTO
	if err := json.Unmarshal(payload, &direct); err != nil {
		return transport.MessageDTO{}, false
	}
	return validMessage(direct)
}

func validMessage(dto transport.MessageDTO) (transport.MessageDTO, bool) {
	if dto.ID == "" || dto.ChannelID == "" {
		return transport.MessageDTO{}, false
	}
	return dto, true
}

func decodeEventChannel(payload json.RawMessage) (models.Channel, bool) {
	var wrapped struct {
		Channel *transport.ChannelDTO `json:"channel"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil || wrapped.Channel == nil {
		return models.Channel{}, false
	}
	return mapChannel(*wrapped.Channel)
}

func threadRootID(fields map[string]any) string {
	for _, field := range []string{"root_id", "thread_root_id", "id"} {
		if value, ok := fields[field].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// SetConnectionStatus records a transport-reported transition. Entering
// online from any other status triggers exactly one reconciliation
// pass; overlapping reconnect signals are absorbed by the in-flight
// guard.
func (e *Engine) SetConnectionStatus(ctx context.Context, status models.ConnectionStatus) {
	e.mu.Lock()
	previous := e.state.ConnectionStatus
	e.state.ConnectionStatus = status
	e.mu.Unlock()
	e.notify()

	if status == models.ConnOnline && previous != models.ConnOnline {
		go e.reconcile(ctx)
	}
}

// reconcile is the full resynchronization pass after a reconnect: the
// channel list is replaced (picking up membership and privacy changes),
// memberships and the active channel's first page are refreshed, and an
// open thread reloads its first reply page. Every error here is
// swallowed: the view keeps its last-known-good state and the next
// reconnect or manual action retries.
func (e *Engine) reconcile(ctx context.Context) {
	e.mu.Lock()
	if e.state.Reconciling {
		e.mu.Unlock()
		return
	}
	e.state.Reconciling = true
	workspaceID := e.state.ActiveWorkspaceID
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state.Reconciling = false
		e.mu.Unlock()
		e.notify()
	}()

	log := logger.GetFromCtx(ctx)

	if err := e.loadChannelsForWorkspace(ctx, workspaceID); err != nil {
		log.Warn(ctx, "reconcile: channel refresh failed", logger.Err(err))
		return
	}

	if workspaceID != "" {
		if err := e.LoadWorkspaceMembers(ctx, workspaceID); err != nil {
			log.Debug(ctx, "reconcile: workspace member refresh failed", logger.Err(err))
		}
	}

	e.mu.Lock()
	channelID := e.state.ActiveChannelID
	var rootID string
	if e.state.ThreadRoot != nil {
		rootID = e.state.ThreadRoot.ID
	}
	e.mu.Unlock()

	if channelID != "" {
		if err := e.LoadChannelMembers(ctx, channelID); err != nil {
			log.Debug(ctx, "reconcile: channel member refresh failed", logger.Err(err))
		}
		if err := e.loadMessages(ctx, channelID, "", false); err != nil {
			log.Debug(ctx, "reconcile: message refresh failed", logger.Err(err))
		}
	}

	if rootID != "" {
		if err := e.loadThreadReplies(ctx, rootID, "", false); err != nil {
			log.Debug(ctx, "reconcile: thread refresh failed", logger.Err(err))
		}
	}
}
