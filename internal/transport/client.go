package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	DefaultAPIBase     = "http://localhost:3000/api/v1"
	DefaultHTTPTimeout = 30 * time.Second
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidAPIBase  = errors.New("invalid API base URL")
)

// NormalizeAPIBase trims and validates a base address, forcing the
// /api/v1 suffix the backend serves under. Returns "" when the value is
// unusable.
func NormalizeAPIBase(value string) string {
	base := strings.TrimRight(strings.TrimSpace(value), "/")
	if base == "" {
		return ""
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return ""
	}
	if !strings.HasSuffix(base, "/api/v1") {
		if strings.HasSuffix(base, "/api") {
			base += "/v1"
		} else {
			base += "/api/v1"
		}
	}
	return base
}

// WebsocketURL derives the realtime stream address from the API base.
func WebsocketURL(apiBase string) string {
	base := strings.TrimRight(apiBase, "/")
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest + "/ws"
	}
	if rest, ok := strings.CutPrefix(base, "http://"); ok {
		return "ws://" + rest + "/ws"
	}
	return "ws://" + base + "/ws"
}

// Client is the request/response half of the backend collaborator: a
// JSON HTTP client with bearer auth, a single transparent token refresh
// on 401, and a short backoff on 429.
type Client struct {
	httpClient *http.Client

	mu      sync.RWMutex
	apiBase string
	tokens  *TokenBundle

	refreshMu sync.Mutex
}

func NewClient(apiBase string) *Client {
	base := NormalizeAPIBase(apiBase)
	if base == "" {
		base = DefaultAPIBase
	}
	return &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		apiBase:    base,
	}
}

// WithHTTPClient swaps the underlying HTTP client, for tests with
// custom transports.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

func (c *Client) APIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiBase
}

// SetAPIBase validates and installs a new base address, returning the
// normalized form.
func (c *Client) SetAPIBase(value string) (string, error) {
	normalized := NormalizeAPIBase(value)
	if normalized == "" {
		return "", ErrInvalidAPIBase
	}
	c.mu.Lock()
	c.apiBase = normalized
	c.mu.Unlock()
	return normalized, nil
}

// Tokens returns the current session tokens, or nil before login.
func (c *Client) Tokens() *TokenBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// SetTokens installs a restored session without a login round trip.
func (c *Client) SetTokens(tokens *TokenBundle) {
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
}

func (c *Client) endpoint(path string) string {
	return c.APIBase() + path
}

func (c *Client) requireTokens() (TokenBundle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return TokenBundle{}, ErrUnauthenticated
	}
	return *c.tokens, nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any, authRequired bool) (json.RawMessage, error) {
	const op = "transport.sendJSON"

	refreshedOnce := false
	rateRetry := 0

	for {
		var reader io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			reader = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if authRequired {
			tokens, err := c.requireTokens()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && authRequired && !refreshedOnce {
			resp.Body.Close()
			if err := c.refreshTokens(ctx); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			refreshedOnce = true
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests && rateRetry < 2 {
			resp.Body.Close()
			wait := 200 * time.Millisecond << rateRetry
			rateRetry++
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(wait):
			}
			continue
		}

		text, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s: %w", op, decodeAPIError(resp.StatusCode, text))
		}

		if resp.StatusCode == http.StatusNoContent || len(text) == 0 {
			return nil, nil
		}
		return json.RawMessage(text), nil
	}
}

func decodeAPIError(status int, text []byte) *Error {
	apiErr := Error{Status: status, Code: "http_error", Message: string(text)}
	var decoded struct {
		Code    string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(text, &decoded); err == nil {
		if decoded.Code != "" {
			apiErr.Code = decoded.Code
		} else {
			apiErr.Code = "unknown_error"
		}
		if decoded.Message != "" {
			apiErr.Message = decoded.Message
		} else {
			apiErr.Message = "Request failed"
		}
	}
	return &apiErr
}

// refreshTokens exchanges the refresh token for a new bundle. A single
// lock keeps concurrent 401 responses from racing multiple refreshes.
func (c *Client) refreshTokens(ctx context.Context) error {
	const op = "transport.refreshTokens"

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current, err := c.requireTokens()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	raw, err := c.sendJSON(ctx, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": current.RefreshToken,
	}, false)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var tokens TokenBundle
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.SetTokens(&tokens)
	return nil
}

func decodeInto[T any](raw json.RawMessage, op string) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthSessionDTO, error) {
	const op = "transport.Login"

	raw, err := c.sendJSON(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, false)
	if err != nil {
		return AuthSessionDTO{}, fmt.Errorf("%s: %w", op, err)
	}

	var tokens TokenBundle
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return AuthSessionDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	c.SetTokens(&tokens)

	user, err := c.Me(ctx)
	if err != nil {
		return AuthSessionDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return AuthSessionDTO{TokenBundle: tokens, User: user}, nil
}

func (c *Client) Me(ctx context.Context) (UserDTO, error) {
	const op = "transport.Me"

	raw, err := c.sendJSON(ctx, http.MethodGet, "/me", nil, true)
	if err != nil {
		return UserDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[UserDTO](raw, op)
}

// Logout revokes the refresh token best-effort and always drops the
// local session.
func (c *Client) Logout(ctx context.Context) error {
	if tokens, err := c.requireTokens(); err == nil {
		_, _ = c.sendJSON(ctx, http.MethodPost, "/auth/logout", map[string]string{
			"refresh_token": tokens.RefreshToken,
		}, false)
	}
	c.SetTokens(nil)
	return nil
}

func (c *Client) WorkspacesList(ctx context.Context) ([]WorkspaceDTO, error) {
	const op = "transport.WorkspacesList"

	raw, err := c.sendJSON(ctx, http.MethodGet, "/workspaces", nil, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[[]WorkspaceDTO](raw, op)
}

func (c *Client) WorkspaceMembersList(ctx context.Context, workspaceID string) ([]WorkspaceMemberDTO, error) {
	const op = "transport.WorkspaceMembersList"

	raw, err := c.sendJSON(ctx, http.MethodGet, "/workspaces/"+workspaceID+"/members", nil, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[[]WorkspaceMemberDTO](raw, op)
}

func (c *Client) WorkspaceMembersUpsert(ctx context.Context, workspaceID string, member UpsertWorkspaceMemberDTO) error {
	const op = "transport.WorkspaceMembersUpsert"

	if _, err := c.sendJSON(ctx, http.MethodPost, "/workspaces/"+workspaceID+"/members", member, true); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) ChannelsList(ctx context.Context) ([]ChannelDTO, error) {
	const op = "transport.ChannelsList"

	raw, err := c.sendJSON(ctx, http.MethodGet, "/channels", nil, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[[]ChannelDTO](raw, op)
}

func (c *Client) ChannelsCreate(ctx context.Context, name string, isPrivate bool) (ChannelDTO, error) {
	const op = "transport.ChannelsCreate"

	raw, err := c.sendJSON(ctx, http.MethodPost, "/channels", map[string]any{
		"name":       name,
		"is_private": isPrivate,
	}, true)
	if err != nil {
		return ChannelDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[ChannelDTO](raw, op)
}

func (c *Client) ChannelsDelete(ctx context.Context, channelID string) error {
	const op = "transport.ChannelsDelete"

	if _, err := c.sendJSON(ctx, http.MethodDelete, "/channels/"+channelID, nil, true); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) ChannelMembersList(ctx context.Context, channelID string) ([]ChannelMemberDTO, error) {
	const op = "transport.ChannelMembersList"

	raw, err := c.sendJSON(ctx, http.MethodGet, "/channels/"+channelID+"/members", nil, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[[]ChannelMemberDTO](raw, op)
}

func (c *Client) ChannelMembersAdd(ctx context.Context, channelID, userID string) error {
	const op = "transport.ChannelMembersAdd"

	if _, err := c.sendJSON(ctx, http.MethodPost, "/channels/"+channelID+"/members", map[string]string{
		"user_id": userID,
	}, true); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) ChannelMembersRemove(ctx context.Context, channelID, userID string) error {
	const op = "transport.ChannelMembersRemove"

	if _, err := c.sendJSON(ctx, http.MethodDelete, "/channels/"+channelID+"/members/"+userID, nil, true); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func listPath(base string, limit int, cursor string) string {
	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	path := fmt.Sprintf("%s?limit=%d", base, limit)
	if cursor != "" {
		path += "&cursor=" + cursor
	}
	return path
}

func (c *Client) MessagesList(ctx context.Context, channelID string, limit int, cursor string) (MessageListDTO, error) {
	const op = "transport.MessagesList"

	raw, err := c.sendJSON(ctx, http.MethodGet, listPath("/channels/"+channelID+"/messages", limit, cursor), nil, true)
	if err != nil {
		return MessageListDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[MessageListDTO](raw, op)
}

func (c *Client) MessagesSend(ctx context.Context, channelID, bodyMD string) (MessageDTO, error) {
	const op = "transport.MessagesSend"

	raw, err := c.sendJSON(ctx, http.MethodPost, "/channels/"+channelID+"/messages", map[string]string{
		"body_md": bodyMD,
	}, true)
	if err != nil {
		return MessageDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[MessageDTO](raw, op)
}

func (c *Client) MessagesEdit(ctx context.Context, messageID, bodyMD string) (MessageDTO, error) {
	const op = "transport.MessagesEdit"

	raw, err := c.sendJSON(ctx, http.MethodPatch, "/messages/"+messageID, map[string]string{
		"body_md": bodyMD,
	}, true)
	if err != nil {
		return MessageDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[MessageDTO](raw, op)
}

func (c *Client) MessagesDelete(ctx context.Context, messageID string) error {
	const op = "transport.MessagesDelete"

	if _, err := c.sendJSON(ctx, http.MethodDelete, "/messages/"+messageID, nil, true); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) ThreadGet(ctx context.Context, rootID string) (ThreadSummaryDTO, error) {
	const op = "transport.ThreadGet"

	raw, err := c.sendJSON(ctx, http.MethodGet, "/threads/"+rootID, nil, true)
	if err != nil {
		return ThreadSummaryDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[ThreadSummaryDTO](raw, op)
}

func (c *Client) ThreadRepliesList(ctx context.Context, rootID string, limit int, cursor string) (MessageListDTO, error) {
	const op = "transport.ThreadRepliesList"

	raw, err := c.sendJSON(ctx, http.MethodGet, listPath("/threads/"+rootID+"/replies", limit, cursor), nil, true)
	if err != nil {
		return MessageListDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[MessageListDTO](raw, op)
}

func (c *Client) ThreadReplySend(ctx context.Context, rootID, bodyMD string) (MessageDTO, error) {
	const op = "transport.ThreadReplySend"

	raw, err := c.sendJSON(ctx, http.MethodPost, "/threads/"+rootID+"/replies", map[string]string{
		"body_md": bodyMD,
	}, true)
	if err != nil {
		return MessageDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[MessageDTO](raw, op)
}

func (c *Client) UsersList(ctx context.Context) ([]UserDTO, error) {
	const op = "transport.UsersList"

	raw, err := c.sendJSON(ctx, http.MethodGet, "/users", nil, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[[]UserDTO](raw, op)
}

func (c *Client) UsersCreate(ctx context.Context, user CreateUserDTO) (UserDTO, error) {
	const op = "transport.UsersCreate"

	raw, err := c.sendJSON(ctx, http.MethodPost, "/users", user, true)
	if err != nil {
		return UserDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[UserDTO](raw, op)
}

func (c *Client) AuditList(ctx context.Context, limit int, cursor string) (AuditListDTO, error) {
	const op = "transport.AuditList"

	raw, err := c.sendJSON(ctx, http.MethodGet, listPath("/audit", limit, cursor), nil, true)
	if err != nil {
		return AuditListDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[AuditListDTO](raw, op)
}

func (c *Client) AttachmentGet(ctx context.Context, attachmentID string) (AttachmentDTO, error) {
	const op = "transport.AttachmentGet"

	raw, err := c.sendJSON(ctx, http.MethodGet, "/attachments/"+attachmentID, nil, true)
	if err != nil {
		return AttachmentDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	return decodeInto[AttachmentDTO](raw, op)
}

// AttachmentUploadCommit runs the three-step upload: presign, raw PUT of
// the bytes to the presigned address, then commit against the message.
func (c *Client) AttachmentUploadCommit(ctx context.Context, channelID, messageID, filename, contentType string, data []byte) (AttachmentDTO, error) {
	const op = "transport.AttachmentUploadCommit"

	raw, err := c.sendJSON(ctx, http.MethodPost, "/attachments/presign", map[string]any{
		"channel_id":   channelID,
		"filename":     filename,
		"content_type": contentType,
		"size_bytes":   len(data),
	}, true)
	if err != nil {
		return AttachmentDTO{}, fmt.Errorf("%s: %w", op, err)
	}

	presign, err := decodeInto[attachmentPresignDTO](raw, op)
	if err != nil {
		return AttachmentDTO{}, err
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, presign.UploadURL, bytes.NewReader(data))
	if err != nil {
		return AttachmentDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	putReq.Header.Set("Content-Type", contentType)
	putResp, err := c.httpClient.Do(putReq)
	if err != nil {
		return AttachmentDTO{}, fmt.Errorf("%s: %w", op, err)
	}
	io.Copy(io.Discard, putResp.Body)
	putResp.Body.Close()
	if putResp.StatusCode < 200 || putResp.StatusCode >= 300 {
		return AttachmentDTO{}, fmt.Errorf("%s: %w", op, &Error{
			Status:  putResp.StatusCode,
			Code:    "upload_failed",
			Message: "binary upload failed",
		})
	}

	commitRaw, err := c.sendJSON(ctx, http.MethodPost, "/attachments/commit", map[string]string{
		"upload_id":  presign.UploadID,
		"message_id": messageID,
	}, true)
	if err != nil {
		return AttachmentDTO{}, fmt.Errorf("%s: %w", op, err)
	}

	return mapCommitResponse(commitRaw, filename, int64(len(data)), contentType, presign.Key), nil
}

// mapCommitResponse tolerates the two field spellings the backend has
// used for commit responses and falls back to the request values.
func mapCommitResponse(raw json.RawMessage, fallbackName string, fallbackSize int64, fallbackType string, fallbackKey *string) AttachmentDTO {
	var fields map[string]any
	_ = json.Unmarshal(raw, &fields)

	out := AttachmentDTO{
		ID:        "attachment",
		Name:      fallbackName,
		SizeBytes: fallbackSize,
	}
	if id, ok := fields["id"].(string); ok {
		out.ID = id
	}
	if name, ok := firstString(fields, "filename", "name"); ok {
		out.Name = name
	}
	if size, ok := firstNumber(fields, "size_bytes", "size"); ok {
		out.SizeBytes = size
	}
	if ctype, ok := fields["content_type"].(string); ok {
		out.ContentType = &ctype
	} else {
		out.ContentType = &fallbackType
	}
	if key, ok := firstString(fields, "storage_key", "key"); ok {
		out.StorageKey = &key
	} else {
		out.StorageKey = fallbackKey
	}
	if url, ok := fields["download_url"].(string); ok {
		out.DownloadURL = &url
	}
	return out
}

func firstString(fields map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := fields[key].(string); ok {
			return value, true
		}
	}
	return "", false
}

func firstNumber(fields map[string]any, keys ...string) (int64, bool) {
	for _, key := range keys {
		if value, ok := fields[key].(float64); ok {
			return int64(value), true
		}
	}
	return 0, false
}
