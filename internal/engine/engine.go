package engine

import (
	"context"
	"sync"
	"time"

	"github.com/galynx/galynx-client/internal/models"
	"github.com/galynx/galynx-client/internal/store"
	"github.com/galynx/galynx-client/internal/transport"
)

const (
	pageSize = 50

	// errorDisplayWindow is how long a transient error notification
	// stays visible before it clears itself.
	errorDisplayWindow = 5 * time.Second

	// attachmentURLTTL is the client-side freshness window for cached
	// download URLs; past it the URL must be re-resolved, never served
	// stale silently.
	attachmentURLTTL = 9 * time.Minute
)

// Client is the request/response half of the backend collaborator, as
// consumed by the engine.
type Client interface {
	Login(ctx context.Context, email, password string) (transport.AuthSessionDTO, error)
	Me(ctx context.Context) (transport.UserDTO, error)
	Logout(ctx context.Context) error

	WorkspacesList(ctx context.Context) ([]transport.WorkspaceDTO, error)
	WorkspaceMembersList(ctx context.Context, workspaceID string) ([]transport.WorkspaceMemberDTO, error)
	WorkspaceMembersUpsert(ctx context.Context, workspaceID string, member transport.UpsertWorkspaceMemberDTO) error

	ChannelsList(ctx context.Context) ([]transport.ChannelDTO, error)
	ChannelsCreate(ctx context.Context, name string, isPrivate bool) (transport.ChannelDTO, error)
	ChannelsDelete(ctx context.Context, channelID string) error
	ChannelMembersList(ctx context.Context, channelID string) ([]transport.ChannelMemberDTO, error)
	ChannelMembersAdd(ctx context.Context, channelID, userID string) error
	ChannelMembersRemove(ctx context.Context, channelID, userID string) error

	MessagesList(ctx context.Context, channelID string, limit int, cursor string) (transport.MessageListDTO, error)
	MessagesSend(ctx context.Context, channelID, bodyMD string) (transport.MessageDTO, error)
	MessagesEdit(ctx context.Context, messageID, bodyMD string) (transport.MessageDTO, error)
	MessagesDelete(ctx context.Context, messageID string) error

	ThreadGet(ctx context.Context, rootID string) (transport.ThreadSummaryDTO, error)
	ThreadRepliesList(ctx context.Context, rootID string, limit int, cursor string) (transport.MessageListDTO, error)
	ThreadReplySend(ctx context.Context, rootID, bodyMD string) (transport.MessageDTO, error)

	UsersList(ctx context.Context) ([]transport.UserDTO, error)
	UsersCreate(ctx context.Context, user transport.CreateUserDTO) (transport.UserDTO, error)

	AuditList(ctx context.Context, limit int, cursor string) (transport.AuditListDTO, error)

	AttachmentGet(ctx context.Context, attachmentID string) (transport.AttachmentDTO, error)
	AttachmentUploadCommit(ctx context.Context, channelID, messageID, filename, contentType string, data []byte) (transport.AttachmentDTO, error)

	APIBase() string
	SetAPIBase(value string) (string, error)
}

// Stream is the push half of the backend collaborator.
type Stream interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// Engine keeps one consistent local view of a multi-channel, threaded
// conversation, fed by user-triggered calls, the realtime stream and
// cursor backfills. All three paths converge on the Mutator under one
// lock; I/O always happens outside it.
type Engine struct {
	api    Client
	stream Stream

	mu    sync.Mutex
	state *store.State
	mut   *store.Mutator
	dedup *store.DedupWindow
	subs  []chan struct{}

	errTimer *time.Timer

	bootstrapping bool
}

func New(api Client) *Engine {
	state := store.NewState()
	return &Engine{
		api:   api,
		state: state,
		mut:   store.NewMutator(state),
		dedup: store.NewDedupWindow(store.DefaultDedupCapacity),
	}
}

// SetStream attaches the realtime stream once it has been constructed
// with the engine's callbacks.
func (e *Engine) SetStream(stream Stream) {
	e.stream = stream
}

// Subscribe returns a coalesced state-change signal channel: at least
// one receive is guaranteed after any mutation, bursts may collapse.
func (e *Engine) Subscribe() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{}, 1)
	e.subs = append(e.subs, ch)
	return ch
}

// notify signals every subscriber. Callers must not hold e.mu; the
// subscriber list is snapshotted under the lock so registration can
// race with delivery safely.
func (e *Engine) notify() {
	e.mu.Lock()
	subs := append([]chan struct{}(nil), e.subs...)
	e.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Initialized
}

func (e *Engine) ConnectionStatus() models.ConnectionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ConnectionStatus
}

func (e *Engine) ErrorMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ErrorMessage
}

func (e *Engine) CurrentUser() (models.User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.CurrentUser == nil {
		return models.User{}, false
	}
	return *e.state.CurrentUser, true
}

// UserByID resolves an author reference; rendering goes through this
// lookup instead of embedded copies so later authoritative writes are
// always visible.
func (e *Engine) UserByID(id string) (models.User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	user, ok := e.state.Users[id]
	return user, ok
}

func (e *Engine) Workspaces() []models.Workspace {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Workspace(nil), e.state.Workspaces...)
}

func (e *Engine) ActiveWorkspaceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ActiveWorkspaceID
}

func (e *Engine) Channels() []models.Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Channel(nil), e.state.Channels...)
}

func (e *Engine) ActiveChannelID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ActiveChannelID
}

// ActiveMessages returns the sorted message list of the active channel.
func (e *Engine) ActiveMessages() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.ActiveChannelID == "" {
		return nil
	}
	return append([]models.Message(nil), e.state.MessagesByChannel[e.state.ActiveChannelID]...)
}

func (e *Engine) HasMoreMessages() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ActiveChannelID != "" && e.state.HasMoreMessages(e.state.ActiveChannelID)
}

func (e *Engine) IsLoadingMoreMessages() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ActiveChannelID != "" && e.state.LoadingMoreByChannel[e.state.ActiveChannelID]
}

func (e *Engine) ThreadRoot() (models.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.ThreadRoot == nil {
		return models.Message{}, false
	}
	return *e.state.ThreadRoot, true
}

func (e *Engine) ThreadReplies() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Message(nil), e.state.ThreadReplies...)
}

func (e *Engine) HasMoreThreadReplies() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.HasMoreThreadReplies()
}

func (e *Engine) ActiveWorkspaceMembers() []models.WorkspaceMember {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.ActiveWorkspaceID == "" {
		return nil
	}
	return append([]models.WorkspaceMember(nil), e.state.WorkspaceMembersByWorkspace[e.state.ActiveWorkspaceID]...)
}

func (e *Engine) ActiveChannelMembers() []models.ChannelMember {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.ActiveChannelID == "" {
		return nil
	}
	return append([]models.ChannelMember(nil), e.state.ChannelMembersByChannel[e.state.ActiveChannelID]...)
}

func (e *Engine) AdminUsers() []models.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.User(nil), e.state.AdminUsers...)
}

func (e *Engine) AuditEntries() []models.AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.AuditEntry(nil), e.state.AuditItems...)
}

func (e *Engine) HasMoreAudit() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.HasMoreAudit()
}

// IsMessageOwner reports whether the current user authored the message.
// A UI affordance guard only; the backend re-enforces authorization.
func (e *Engine) IsMessageOwner(messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.CurrentUser == nil {
		return false
	}
	msg, ok := e.state.FindMessage(messageID)
	if !ok {
		return false
	}
	return msg.UserID == e.state.CurrentUser.ID
}
