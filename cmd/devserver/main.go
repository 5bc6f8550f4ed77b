// Dev stub of the Galynx backend. Keeps everything in memory and pushes
// realtime envelopes to connected websocket clients, enough to run the
// client against without a real deployment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/galynx/galynx-client/internal/transport"
	"github.com/galynx/galynx-client/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const pageLimitMax = 100

type server struct {
	mu sync.Mutex

	users      map[string]transport.UserDTO
	passwords  map[string]string
	workspaces []transport.WorkspaceDTO
	channels   []transport.ChannelDTO
	messages   map[string][]transport.MessageDTO
	replies    map[string][]transport.MessageDTO
	members    map[string][]string
	audit      []transport.AuditDTO
	uploads    map[string][]byte
	pending    map[string]pendingUpload

	accessTokens  map[string]string
	refreshTokens map[string]string

	upgrader websocket.Upgrader
	connsMu  sync.Mutex
	conns    map[*websocket.Conn]struct{}
}

func main() {
	addr := flag.String("addr", ":3000", "listen address")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.New(ctx, []string{"stdout"}, "local")

	s := newServer()

	r := mux.NewRouter()
	s.RegisterAuth(r.PathPrefix("/api/v1").Subrouter())
	s.RegisterWorkspaces(r.PathPrefix("/api/v1").Subrouter())
	s.RegisterChannels(r.PathPrefix("/api/v1").Subrouter())
	s.RegisterMessages(r.PathPrefix("/api/v1").Subrouter())
	s.RegisterThreads(r.PathPrefix("/api/v1").Subrouter())
	s.RegisterUsers(r.PathPrefix("/api/v1").Subrouter())
	s.RegisterAttachments(r.PathPrefix("/api/v1").Subrouter())
	r.HandleFunc("/api/v1/ws", s.websocketHandler)

	srv := &http.Server{Addr: *addr, Handler: r}
	go func() {
		logger.GetFromCtx(ctx).Info(ctx, "dev server listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.GetFromCtx(ctx).Fatal(ctx, "server failed", logger.Err(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.GetFromCtx(ctx).Info(ctx, "server stopped")
}

func newServer() *server {
	s := &server{
		users:         make(map[string]transport.UserDTO),
		passwords:     make(map[string]string),
		messages:      make(map[string][]transport.MessageDTO),
		replies:       make(map[string][]transport.MessageDTO),
		members:       make(map[string][]string),
		uploads:       make(map[string][]byte),
		pending:       make(map[string]pendingUpload),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:         make(map[*websocket.Conn]struct{}),
	}
	s.seed()
	return s
}

// seed creates one workspace with an owner and a general channel so the
// client has something to land on.
func (s *server) seed() {
	workspaceID := uuid.NewString()
	owner := transport.UserDTO{
		ID:          uuid.NewString(),
		Email:       "owner@galynx.local",
		Name:        "Workspace Owner",
		WorkspaceID: workspaceID,
		Role:        "owner",
	}
	s.users[owner.ID] = owner
	s.passwords[owner.Email] = "owner"
	s.workspaces = []transport.WorkspaceDTO{{ID: workspaceID, Name: "Galynx Dev"}}
	s.channels = []transport.ChannelDTO{{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        "general",
		CreatedBy:   owner.ID,
		CreatedAt:   time.Now().UnixMilli(),
	}}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && (auth[:7] == "Bearer " || auth[:7] == "bearer ") {
		return auth[7:]
	}
	return ""
}

// authedUser resolves the bearer token to a user, holding the lock.
func (s *server) authedUser(r *http.Request) (transport.UserDTO, bool) {
	userID, ok := s.accessTokens[bearerToken(r)]
	if !ok {
		return transport.UserDTO{}, false
	}
	user, ok := s.users[userID]
	return user, ok
}

func (s *server) requireUser(w http.ResponseWriter, r *http.Request) (transport.UserDTO, bool) {
	s.mu.Lock()
	user, ok := s.authedUser(r)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or expired token")
	}
	return user, ok
}

func (s *server) issueTokens(userID string) transport.TokenBundle {
	tokens := transport.TokenBundle{
		AccessToken:      uuid.NewString(),
		RefreshToken:     uuid.NewString(),
		AccessExpiresAt:  time.Now().Add(15 * time.Minute).UnixMilli(),
		RefreshExpiresAt: time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
	}
	s.accessTokens[tokens.AccessToken] = userID
	s.refreshTokens[tokens.RefreshToken] = userID
	return tokens
}

func (s *server) RegisterAuth(r *mux.Router) {
	r.HandleFunc("/auth/login", s.loginHandler).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.refreshHandler).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.logoutHandler).Methods(http.MethodPost)
	r.HandleFunc("/me", s.meHandler).Methods(http.MethodGet)
}

func (s *server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "email is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Email == payload.Email {
			if stored, ok := s.passwords[payload.Email]; ok && stored != payload.Password {
				writeError(w, http.StatusUnauthorized, "invalid_credentials", "wrong password")
				return
			}
			writeJSON(w, http.StatusOK, s.issueTokens(user.ID))
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "invalid_credentials", "unknown user")
}

func (s *server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "refresh_token is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refreshTokens[payload.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "refresh token not recognized")
		return
	}
	delete(s.refreshTokens, payload.RefreshToken)
	writeJSON(w, http.StatusOK, s.issueTokens(userID))
}

func (s *server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	s.mu.Lock()
	delete(s.refreshTokens, payload.RefreshToken)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) meHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *server) RegisterWorkspaces(r *mux.Router) {
	r.HandleFunc("/workspaces", s.workspacesHandler).Methods(http.MethodGet)
	r.HandleFunc("/workspaces/{id}/members", s.workspaceMembersHandler).Methods(http.MethodGet)
	r.HandleFunc("/workspaces/{id}/members", s.upsertWorkspaceMemberHandler).Methods(http.MethodPost)
	r.HandleFunc("/audit", s.auditHandler).Methods(http.MethodGet)
}

func (s *server) workspacesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.workspaces)
}

func (s *server) workspaceMembersHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	workspaceID := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	members := []transport.WorkspaceMemberDTO{}
	for _, user := range s.users {
		if user.WorkspaceID == workspaceID {
			members = append(members, transport.WorkspaceMemberDTO{
				ID:     user.ID,
				UserID: user.ID,
				Role:   user.Role,
				Email:  user.Email,
				Name:   user.Name,
			})
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Email < members[j].Email })
	writeJSON(w, http.StatusOK, members)
}

func (s *server) upsertWorkspaceMemberHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	workspaceID := mux.Vars(r)["id"]

	var payload transport.UpsertWorkspaceMemberDTO
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "email is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, user := range s.users {
		if user.Email == payload.Email {
			user.Role = payload.Role
			s.users[id] = user
			s.recordAudit(actor.ID, workspaceID, "member.updated", "user", id, nil)
			writeJSON(w, http.StatusOK, user)
			return
		}
	}

	user := transport.UserDTO{
		ID:          uuid.NewString(),
		Email:       payload.Email,
		Name:        payload.Name,
		WorkspaceID: workspaceID,
		Role:        payload.Role,
	}
	s.users[user.ID] = user
	if payload.Password != "" {
		s.passwords[payload.Email] = payload.Password
	}
	s.recordAudit(actor.ID, workspaceID, "member.added", "user", user.ID, nil)
	writeJSON(w, http.StatusCreated, user)
}

func (s *server) RegisterChannels(r *mux.Router) {
	r.HandleFunc("/channels", s.channelsHandler).Methods(http.MethodGet)
	r.HandleFunc("/channels", s.createChannelHandler).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}", s.deleteChannelHandler).Methods(http.MethodDelete)
	r.HandleFunc("/channels/{id}/members", s.channelMembersHandler).Methods(http.MethodGet)
	r.HandleFunc("/channels/{id}/members", s.addChannelMemberHandler).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}/members/{userId}", s.removeChannelMemberHandler).Methods(http.MethodDelete)
}

func (s *server) channelsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.channels)
}

func (s *server) createChannelHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		Name      string `json:"name"`
		IsPrivate bool   `json:"is_private"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "name is required")
		return
	}

	channel := transport.ChannelDTO{
		ID:          uuid.NewString(),
		WorkspaceID: actor.WorkspaceID,
		Name:        payload.Name,
		IsPrivate:   payload.IsPrivate,
		CreatedBy:   actor.ID,
		CreatedAt:   time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.channels = append(s.channels, channel)
	if payload.IsPrivate {
		s.members[channel.ID] = []string{actor.ID}
	}
	s.recordAudit(actor.ID, actor.WorkspaceID, "channel.created", "channel", channel.ID, map[string]any{"name": channel.Name})
	s.mu.Unlock()

	s.broadcast("CHANNEL_CREATED", channel.WorkspaceID, channel.ID, map[string]any{"channel": channel})
	writeJSON(w, http.StatusCreated, channel)
}

func (s *server) deleteChannelHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	channelID := mux.Vars(r)["id"]

	s.mu.Lock()
	kept := s.channels[:0]
	found := false
	for _, channel := range s.channels {
		if channel.ID == channelID {
			found = true
			continue
		}
		kept = append(kept, channel)
	}
	s.channels = kept
	delete(s.messages, channelID)
	delete(s.members, channelID)
	if found {
		s.recordAudit(actor.ID, actor.WorkspaceID, "channel.deleted", "channel", channelID, nil)
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "not_found", "channel not found")
		return
	}
	s.broadcast("CHANNEL_DELETED", actor.WorkspaceID, channelID, map[string]any{"channel_id": channelID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) channelMembersHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	channelID := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	members := []transport.ChannelMemberDTO{}
	for _, userID := range s.members[channelID] {
		members = append(members, transport.ChannelMemberDTO{UserID: userID})
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *server) addChannelMemberHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	channelID := mux.Vars(r)["id"]

	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "user_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.members[channelID] {
		if existing == payload.UserID {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	s.members[channelID] = append(s.members[channelID], payload.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) removeChannelMemberHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	vars := mux.Vars(r)
	channelID, userID := vars["id"], vars["userId"]

	s.mu.Lock()
	kept := s.members[channelID][:0]
	for _, existing := range s.members[channelID] {
		if existing != userID {
			kept = append(kept, existing)
		}
	}
	s.members[channelID] = kept
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) RegisterMessages(r *mux.Router) {
	r.HandleFunc("/channels/{id}/messages", s.listMessagesHandler).Methods(http.MethodGet)
	r.HandleFunc("/channels/{id}/messages", s.sendMessageHandler).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", s.editMessageHandler).Methods(http.MethodPatch)
	r.HandleFunc("/messages/{id}", s.deleteMessageHandler).Methods(http.MethodDelete)
}

// page slices newest-first storage into an ascending page plus cursor.
// Cursor is the numeric offset from the end of the list.
func page(items []transport.MessageDTO, limitRaw, cursorRaw string) transport.MessageListDTO {
	limit, _ := strconv.Atoi(limitRaw)
	if limit < 1 || limit > pageLimitMax {
		limit = 50
	}
	offset, _ := strconv.Atoi(cursorRaw)

	sorted := make([]transport.MessageDTO, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt < sorted[j].CreatedAt })

	end := len(sorted) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := transport.MessageListDTO{Items: sorted[start:end]}
	if start > 0 {
		next := strconv.Itoa(offset + limit)
		out.NextCursor = &next
	}
	return out
}

func (s *server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	channelID := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, page(s.messages[channelID], r.URL.Query().Get("limit"), r.URL.Query().Get("cursor")))
}

func (s *server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	channelID := mux.Vars(r)["id"]

	var payload struct {
		BodyMD string `json:"body_md"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "body_md is required")
		return
	}

	message := transport.MessageDTO{
		ID:          uuid.NewString(),
		WorkspaceID: actor.WorkspaceID,
		ChannelID:   channelID,
		SenderID:    actor.ID,
		BodyMD:      payload.BodyMD,
		CreatedAt:   time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.messages[channelID] = append(s.messages[channelID], message)
	s.mu.Unlock()

	s.broadcast("MESSAGE_CREATED", message.WorkspaceID, channelID, map[string]any{"message": message})
	writeJSON(w, http.StatusCreated, message)
}

func (s *server) editMessageHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	messageID := mux.Vars(r)["id"]

	var payload struct {
		BodyMD string `json:"body_md"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "body_md is required")
		return
	}

	s.mu.Lock()
	updated, found := s.patchMessage(messageID, func(m *transport.MessageDTO) {
		now := time.Now().UnixMilli()
		m.BodyMD = payload.BodyMD
		m.EditedAt = &now
	})
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "not_found", "message not found")
		return
	}
	s.broadcast("MESSAGE_UPDATED", updated.WorkspaceID, updated.ChannelID, map[string]any{"message": updated})
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) deleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	messageID := mux.Vars(r)["id"]

	s.mu.Lock()
	var removed transport.MessageDTO
	found := false
	for channelID, list := range s.messages {
		kept := list[:0]
		for _, message := range list {
			if message.ID == messageID {
				removed = message
				found = true
				continue
			}
			kept = append(kept, message)
		}
		s.messages[channelID] = kept
	}
	for rootID, list := range s.replies {
		kept := list[:0]
		for _, message := range list {
			if message.ID == messageID {
				removed = message
				found = true
				continue
			}
			kept = append(kept, message)
		}
		s.replies[rootID] = kept
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "not_found", "message not found")
		return
	}
	s.broadcast("MESSAGE_DELETED", removed.WorkspaceID, removed.ChannelID, map[string]any{"message_id": removed.ID})
	w.WriteHeader(http.StatusNoContent)
}

// patchMessage mutates a message wherever it lives, channel lists or
// reply lists. Caller holds the lock.
func (s *server) patchMessage(messageID string, fn func(*transport.MessageDTO)) (transport.MessageDTO, bool) {
	for channelID, list := range s.messages {
		for i := range list {
			if list[i].ID == messageID {
				fn(&list[i])
				s.messages[channelID] = list
				return list[i], true
			}
		}
	}
	for rootID, list := range s.replies {
		for i := range list {
			if list[i].ID == messageID {
				fn(&list[i])
				s.replies[rootID] = list
				return list[i], true
			}
		}
	}
	return transport.MessageDTO{}, false
}

func (s *server) RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads/{id}", s.threadHandler).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}/replies", s.listRepliesHandler).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}/replies", s.sendReplyHandler).Methods(http.MethodPost)
}

func (s *server) threadHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	rootID := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	root, found := s.patchMessage(rootID, func(*transport.MessageDTO) {})
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "thread root not found")
		return
	}

	summary := transport.ThreadSummaryDTO{RootMessage: root, Participants: []string{}}
	seen := map[string]struct{}{}
	for _, reply := range s.replies[rootID] {
		summary.ReplyCount++
		at := reply.CreatedAt
		summary.LastReplyAt = &at
		if _, ok := seen[reply.SenderID]; !ok {
			seen[reply.SenderID] = struct{}{}
			summary.Participants = append(summary.Participants, reply.SenderID)
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) listRepliesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	rootID := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, page(s.replies[rootID], r.URL.Query().Get("limit"), r.URL.Query().Get("cursor")))
}

func (s *server) sendReplyHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	rootID := mux.Vars(r)["id"]

	var payload struct {
		BodyMD string `json:"body_md"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "body_md is required")
		return
	}

	s.mu.Lock()
	root, found := s.patchMessage(rootID, func(*transport.MessageDTO) {})
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "not_found", "thread root not found")
		return
	}
	reply := transport.MessageDTO{
		ID:           uuid.NewString(),
		WorkspaceID:  root.WorkspaceID,
		ChannelID:    root.ChannelID,
		SenderID:     actor.ID,
		BodyMD:       payload.BodyMD,
		ThreadRootID: &rootID,
		CreatedAt:    time.Now().UnixMilli(),
	}
	s.replies[rootID] = append(s.replies[rootID], reply)
	s.mu.Unlock()

	s.broadcast("THREAD_UPDATED", root.WorkspaceID, root.ChannelID, map[string]any{"root_id": rootID})
	writeJSON(w, http.StatusCreated, reply)
}

func (s *server) RegisterUsers(r *mux.Router) {
	r.HandleFunc("/users", s.usersHandler).Methods(http.MethodGet)
	r.HandleFunc("/users", s.createUserHandler).Methods(http.MethodPost)
}

func (s *server) usersHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users := []transport.UserDTO{}
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	writeJSON(w, http.StatusOK, users)
}

func (s *server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var payload transport.CreateUserDTO
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "email is required")
		return
	}

	user := transport.UserDTO{
		ID:          uuid.NewString(),
		Email:       payload.Email,
		Name:        payload.Name,
		WorkspaceID: actor.WorkspaceID,
		Role:        payload.Role,
	}

	s.mu.Lock()
	s.users[user.ID] = user
	if payload.Password != "" {
		s.passwords[payload.Email] = payload.Password
	}
	s.recordAudit(actor.ID, actor.WorkspaceID, "user.created", "user", user.ID, nil)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, user)
}

// recordAudit prepends so the feed stays newest-first. Caller holds the
// lock.
func (s *server) recordAudit(actorID, workspaceID, action, targetType, targetID string, metadata map[string]any) {
	now := time.Now().UnixMilli()
	entry := transport.AuditDTO{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Metadata:    metadata,
		CreatedAt:   &now,
	}
	s.audit = append([]transport.AuditDTO{entry}, s.audit...)
}

func (s *server) auditHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > pageLimitMax {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("cursor"))

	s.mu.Lock()
	defer s.mu.Unlock()

	start := offset
	if start > len(s.audit) {
		start = len(s.audit)
	}
	end := start + limit
	if end > len(s.audit) {
		end = len(s.audit)
	}

	out := transport.AuditListDTO{Items: s.audit[start:end]}
	if end < len(s.audit) {
		next := strconv.Itoa(end)
		out.NextCursor = &next
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) RegisterAttachments(r *mux.Router) {
	r.HandleFunc("/attachments/presign", s.presignHandler).Methods(http.MethodPost)
	r.HandleFunc("/attachments/commit", s.commitHandler).Methods(http.MethodPost)
	r.HandleFunc("/attachments/{id}", s.attachmentHandler).Methods(http.MethodGet)
	r.HandleFunc("/uploads/{id}", s.uploadHandler).Methods(http.MethodPut)
	r.HandleFunc("/uploads/{id}", s.downloadHandler).Methods(http.MethodGet)
}

type pendingUpload struct {
	Filename    string
	ContentType string
	SizeBytes   int64
}

func (s *server) presignHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}

	var payload struct {
		ChannelID   string `json:"channel_id"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		SizeBytes   int64  `json:"size_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Filename == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "filename is required")
		return
	}

	uploadID := uuid.NewString()
	s.mu.Lock()
	s.pending[uploadID] = pendingUpload{
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		SizeBytes:   payload.SizeBytes,
	}
	s.mu.Unlock()

	key := "uploads/" + uploadID + "/" + payload.Filename
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":  uploadID,
		"upload_url": fmt.Sprintf("http://%s/api/v1/uploads/%s", r.Host, uploadID),
		"key":        key,
	})
}

func (s *server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	uploadID := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.pending[uploadID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown upload")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed", "could not read body")
		return
	}

	s.mu.Lock()
	s.uploads[uploadID] = data
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	uploadID := mux.Vars(r)["id"]

	s.mu.Lock()
	data, ok := s.uploads[uploadID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown upload")
		return
	}
	_, _ = w.Write(data)
}

func (s *server) commitHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}

	var payload struct {
		UploadID  string `json:"upload_id"`
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.UploadID == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "upload_id is required")
		return
	}

	s.mu.Lock()
	pending, ok := s.pending[payload.UploadID]
	delete(s.pending, payload.UploadID)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown upload")
		return
	}

	downloadURL := fmt.Sprintf("http://%s/api/v1/uploads/%s", r.Host, payload.UploadID)
	key := "uploads/" + payload.UploadID + "/" + pending.Filename
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           payload.UploadID,
		"filename":     pending.Filename,
		"size_bytes":   pending.SizeBytes,
		"content_type": pending.ContentType,
		"storage_key":  key,
		"download_url": downloadURL,
	})
}

func (s *server) attachmentHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	attachmentID := mux.Vars(r)["id"]

	s.mu.Lock()
	_, ok := s.uploads[attachmentID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "attachment not found")
		return
	}

	downloadURL := fmt.Sprintf("http://%s/api/v1/uploads/%s", r.Host, attachmentID)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           attachmentID,
		"download_url": downloadURL,
	})
}

func (s *server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	// Drain reads until the peer goes away.
	go func() {
		defer func() {
			s.connsMu.Lock()
			delete(s.conns, conn)
			s.connsMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *server) broadcast(eventType, workspaceID, channelID string, payload map[string]any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return
	}
	envelope := transport.Envelope{
		EventType:     eventType,
		WorkspaceID:   workspaceID,
		ChannelID:     channelID,
		CorrelationID: uuid.NewString(),
		ServerTS:      time.Now().UnixMilli(),
		Payload:       encoded,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return
	}

	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.WriteMessage(websocket.TextMessage, body)
	}
}
