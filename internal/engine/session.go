package engine

import (
	"context"
	"fmt"

	"github.com/galynx/galynx-client/internal/models"
	"github.com/galynx/galynx-client/internal/store"
	"github.com/galynx/galynx-client/internal/transport"
	"github.com/galynx/galynx-client/pkg/logger"
	"go.uber.org/zap"
)

// Bootstrap loads the whole session: current user, workspaces,
// membership, channels, the first message page, then brings the
// realtime stream up. Re-entrant calls while one runs are no-ops.
func (e *Engine) Bootstrap(ctx context.Context) error {
	const op = "engine.Bootstrap"

	e.mu.Lock()
	if e.bootstrapping {
		e.mu.Unlock()
		return nil
	}
	e.bootstrapping = true
	e.state.ErrorMessage = ""
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.bootstrapping = false
		e.mu.Unlock()
		e.notify()
	}()

	err := e.bootstrap(ctx)
	if err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (e *Engine) bootstrap(ctx context.Context) error {
	me, err := e.api.Me(ctx)
	if err != nil {
		return err
	}

	workspaceDTOs, err := e.api.WorkspacesList(ctx)
	if err != nil {
		return err
	}
	workspaces := make([]models.Workspace, 0, len(workspaceDTOs))
	for _, dto := range workspaceDTOs {
		if ws, ok := mapWorkspace(dto); ok {
			workspaces = append(workspaces, ws)
		}
	}

	e.mu.Lock()
	e.mut.ApplyCurrentUser(mapUser(me))
	e.state.Workspaces = workspaces
	workspaceID := e.state.ActiveWorkspaceID
	if workspaceID == "" {
		workspaceID = me.WorkspaceID
	}
	if workspaceID == "" && len(workspaces) > 0 {
		workspaceID = workspaces[0].ID
	}
	e.state.ActiveWorkspaceID = workspaceID
	e.mu.Unlock()
	e.notify()

	if workspaceID != "" {
		if err := e.LoadWorkspaceMembers(ctx, workspaceID); err != nil {
			return err
		}
	}

	if err := e.loadChannelsForWorkspace(ctx, workspaceID); err != nil {
		return err
	}

	if e.stream != nil {
		if err := e.stream.Connect(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.state.Initialized = true
	e.mu.Unlock()
	e.notify()
	return nil
}

// Login authenticates and installs the session user. The view stays
// uninitialized until the next Bootstrap.
func (e *Engine) Login(ctx context.Context, email, password string) error {
	const op = "engine.Login"

	session, err := e.api.Login(ctx, email, password)
	if err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	e.mu.Lock()
	e.mut.ApplyCurrentUser(mapUser(session.User))
	e.state.Initialized = false
	e.mu.Unlock()
	e.notify()
	return nil
}

// Logout tears the stream down, revokes the session best-effort and
// resets the local view to its initial empty state.
func (e *Engine) Logout(ctx context.Context) {
	if e.stream != nil {
		e.stream.Disconnect()
	}
	_ = e.api.Logout(ctx)

	e.mu.Lock()
	e.state = store.NewState()
	e.mut = store.NewMutator(e.state)
	e.dedup = store.NewDedupWindow(store.DefaultDedupCapacity)
	e.mu.Unlock()
	e.notify()
}

// SelectChannel makes a channel active, lazily loading its membership
// and first message page.
func (e *Engine) SelectChannel(ctx context.Context, channelID string) error {
	const op = "engine.SelectChannel"

	e.mu.Lock()
	e.state.ActiveChannelID = channelID
	_, membersKnown := e.state.ChannelMembersByChannel[channelID]
	_, messagesKnown := e.state.MessagesByChannel[channelID]
	e.mu.Unlock()
	e.notify()

	if !membersKnown {
		if err := e.LoadChannelMembers(ctx, channelID); err != nil {
			logger.GetFromCtx(ctx).Debug(ctx, "channel member preload failed", zap.String("channel_id", channelID), logger.Err(err))
		}
	}
	if !messagesKnown {
		if err := e.loadMessages(ctx, channelID, "", false); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// SwitchWorkspace changes the active workspace and refreshes everything
// scoped to it.
func (e *Engine) SwitchWorkspace(ctx context.Context, workspaceID string) error {
	const op = "engine.SwitchWorkspace"

	e.mu.Lock()
	if e.state.ActiveWorkspaceID == workspaceID {
		e.mu.Unlock()
		return nil
	}
	e.state.ActiveWorkspaceID = workspaceID
	e.mut.CloseThread()
	e.mu.Unlock()
	e.notify()

	if err := e.LoadWorkspaceMembers(ctx, workspaceID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := e.loadChannelsForWorkspace(ctx, workspaceID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// loadChannelsForWorkspace replaces the channel list from the backend,
// keeps or re-picks the active channel, resets the thread view and
// preloads private-channel memberships for access checks.
func (e *Engine) loadChannelsForWorkspace(ctx context.Context, workspaceID string) error {
	channelDTOs, err := e.api.ChannelsList(ctx)
	if err != nil {
		return err
	}

	channels := make([]models.Channel, 0, len(channelDTOs))
	for _, ch := range mapChannels(channelDTOs) {
		if workspaceID == "" || ch.WorkspaceID == workspaceID {
			channels = append(channels, ch)
		}
	}

	e.mu.Lock()
	e.mut.ReplaceChannels(channels)
	active := e.state.ActiveChannelID
	stillExists := false
	for _, ch := range channels {
		if ch.ID == active {
			stillExists = true
			break
		}
	}
	if !stillExists {
		active = ""
		if len(channels) > 0 {
			active = channels[0].ID
		}
	}
	e.state.ActiveChannelID = active
	e.mu.Unlock()
	e.notify()

	if active != "" {
		if err := e.loadMessages(ctx, active, "", false); err != nil {
			return err
		}
	}

	for _, ch := range channels {
		if ch.Privacy != models.ChannelPrivate {
			continue
		}
		if err := e.LoadChannelMembers(ctx, ch.ID); err != nil {
			logger.GetFromCtx(ctx).Debug(ctx, "private channel member preload failed", zap.String("channel_id", ch.ID), logger.Err(err))
		}
	}
	return nil
}

func (e *Engine) LoadWorkspaceMembers(ctx context.Context, workspaceID string) error {
	const op = "engine.LoadWorkspaceMembers"

	dtos, err := e.api.WorkspaceMembersList(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	members := make([]models.WorkspaceMember, 0, len(dtos))
	for _, dto := range dtos {
		if member, ok := mapWorkspaceMember(dto, workspaceID); ok {
			members = append(members, member)
		}
	}

	e.mu.Lock()
	e.mut.SetWorkspaceMembers(workspaceID, members)
	e.mu.Unlock()
	e.notify()
	return nil
}

// UpsertWorkspaceMember invites or updates a member, then refreshes the
// membership list so the local view is authoritative again.
func (e *Engine) UpsertWorkspaceMember(ctx context.Context, workspaceID string, member transport.UpsertWorkspaceMemberDTO) error {
	const op = "engine.UpsertWorkspaceMember"

	if err := e.api.WorkspaceMembersUpsert(ctx, workspaceID, member); err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return e.LoadWorkspaceMembers(ctx, workspaceID)
}

func (e *Engine) LoadChannelMembers(ctx context.Context, channelID string) error {
	const op = "engine.LoadChannelMembers"

	dtos, err := e.api.ChannelMembersList(ctx, channelID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	members := make([]models.ChannelMember, 0, len(dtos))
	for _, dto := range dtos {
		if member, ok := mapChannelMember(dto, channelID); ok {
			members = append(members, member)
		}
	}

	e.mu.Lock()
	e.mut.SetChannelMembers(channelID, members)
	e.mu.Unlock()
	e.notify()
	return nil
}

func (e *Engine) AddChannelMember(ctx context.Context, channelID, userID string) error {
	const op = "engine.AddChannelMember"

	if err := e.api.ChannelMembersAdd(ctx, channelID, userID); err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return e.LoadChannelMembers(ctx, channelID)
}

func (e *Engine) RemoveChannelMember(ctx context.Context, channelID, userID string) error {
	const op = "engine.RemoveChannelMember"

	if err := e.api.ChannelMembersRemove(ctx, channelID, userID); err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return e.LoadChannelMembers(ctx, channelID)
}

// CreateChannel confirms against the backend first, then patches the
// local list; channels from other workspaces are not shown.
func (e *Engine) CreateChannel(ctx context.Context, name string, private bool) error {
	const op = "engine.CreateChannel"

	created, err := e.api.ChannelsCreate(ctx, name, private)
	if err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	channel, ok := mapChannel(created)
	if !ok {
		return nil
	}

	e.mu.Lock()
	if e.state.ActiveWorkspaceID == "" || channel.WorkspaceID == e.state.ActiveWorkspaceID {
		e.mut.PrependChannel(channel)
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// DeleteChannel removes the channel and everything scoped to it; when
// the active channel goes away the first remaining one takes over.
func (e *Engine) DeleteChannel(ctx context.Context, channelID string) error {
	const op = "engine.DeleteChannel"

	if err := e.api.ChannelsDelete(ctx, channelID); err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	e.mu.Lock()
	e.mut.RemoveChannel(channelID)
	var next string
	var needLoad bool
	if e.state.ActiveChannelID == channelID {
		if len(e.state.Channels) > 0 {
			next = e.state.Channels[0].ID
			_, known := e.state.MessagesByChannel[next]
			needLoad = !known
		}
		e.state.ActiveChannelID = next
	}
	e.mu.Unlock()
	e.notify()

	if needLoad {
		return e.loadMessages(ctx, next, "", false)
	}
	return nil
}

// LoadUsers refreshes the administration view's user list.
func (e *Engine) LoadUsers(ctx context.Context) error {
	const op = "engine.LoadUsers"

	dtos, err := e.api.UsersList(ctx)
	if err != nil {
		e.NotifyError(errText(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	users := make([]models.User, 0, len(dtos))
	for _, dto := range dtos {
		if dto.ID == "" {
			continue
		}
		users = append(users, mapUser(dto))
	}

	e.mu.Lock()
	e.mut.SetAdminUsers(users)
	e.mu.Unlock()
	e.notify()
	return nil
}

func (e *Engine) CreateUser(ctx context.Context, user transport.CreateUserDTO) (models.User, error) {
	const op = "engine.CreateUser"

	created, err := e.api.UsersCreate(ctx, user)
	if err != nil {
		e.NotifyError(errText(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	mapped := mapUser(created)
	e.mu.Lock()
	e.mut.UpsertAdminUser(mapped)
	e.mu.Unlock()
	e.notify()
	return mapped, nil
}

func (e *Engine) APIBase() string {
	return e.api.APIBase()
}

// SaveAPIBase points the transport at a different backend and cycles
// the realtime stream so it follows.
func (e *Engine) SaveAPIBase(ctx context.Context, value string) (string, error) {
	const op = "engine.SaveAPIBase"

	normalized, err := e.api.SetAPIBase(value)
	if err != nil {
		e.NotifyError(errText(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if e.stream != nil {
		e.stream.Disconnect()
		e.mu.Lock()
		initialized := e.state.Initialized
		e.mu.Unlock()
		if initialized {
			if err := e.stream.Connect(ctx); err != nil {
				logger.GetFromCtx(ctx).Warn(ctx, "realtime reconnect after base change failed", logger.Err(err))
			}
		}
	}
	return normalized, nil
}
