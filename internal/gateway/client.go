// Package gateway is the stateless client for the ChatX server: authenticated
// request/response calls plus two SSE push subscriptions. Transport and parse
// failures on reads are reported to the notification sink and surfaced as
// empty results; send failures are returned to the caller so queued messages
// can be retried; authentication failures (401) are returned as
// ErrUnauthenticated so callers can retire the session.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/vpolkhovsky/chatx/internal/bridge"
	"github.com/vpolkhovsky/chatx/internal/notify"
	"go.uber.org/zap"
)

// ErrUnauthenticated marks a clean HTTP 401: the token is no longer valid.
var ErrUnauthenticated = errors.New("unauthenticated")

// Provider issues per-token clients against one ChatX server.
type Provider struct {
	baseURL      string
	http         *http.Client
	notifier     notify.Notifier
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewProvider creates a gateway provider for the given base URL.
func NewProvider(baseURL string, notifier notify.Notifier, logger *zap.Logger, pollInterval time.Duration) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: 15 * time.Second},
		notifier:     notifier,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// WithToken returns a client whose requests carry the given bearer token.
func (p *Provider) WithToken(token string) *Client {
	return &Client{provider: p, token: token}
}

// Client is a gateway scoped to one session token.
type Client struct {
	provider *Provider
	token    string
}

// Login exchanges credentials for the authenticated profile and its token.
// Returns (nil, "") for invalid credentials; transport and server errors are
// returned to the caller.
func (p *Provider) Login(ctx context.Context, username, password string) (*UserDTO, string, error) {
	var lr loginResponse
	err := p.WithToken("").roundTrip(ctx, http.MethodPost, "/user/login",
		LoginRequest{Username: username, Password: password}, &lr)
	if errors.Is(err, ErrUnauthenticated) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("login: %w", err)
	}

	var user UserDTO
	if err := p.WithToken(lr.Token).roundTrip(ctx, http.MethodGet, "/user/iam", nil, &user); err != nil {
		return nil, "", fmt.Errorf("iam: %w", err)
	}
	return &user, lr.Token, nil
}

// TokenAlive reports whether a stored token still authenticates. Transport
// failures fail open: a flaky network must not log anyone out.
func (p *Provider) TokenAlive(ctx context.Context, token string) bool {
	var user UserDTO
	err := p.WithToken(token).roundTrip(ctx, http.MethodGet, "/user/iam", nil, &user)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrUnauthenticated) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return false
	}
	p.notifier.Notify("Liveness check", err.Error())
	return true
}

// ListChats fetches the chat list of the authenticated profile.
func (c *Client) ListChats(ctx context.Context) ([]ChatDTO, error) {
	var chats []ChatDTO
	if err := c.call(ctx, http.MethodGet, "/chat/", nil, &chats, "Fetch chats"); err != nil {
		return nil, err
	}
	return chats, nil
}

// CreateChat creates a chat owned by the requesting profile.
func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) error {
	return c.call(ctx, http.MethodPost, "/chat/create", req, nil, "Create chat")
}

// JoinByCode joins a chat via its invite code.
func (c *Client) JoinByCode(ctx context.Context, code string) error {
	return c.call(ctx, http.MethodPost, "/chat/join/code/"+code, nil, nil, "Join chat")
}

// ChatCode fetches the invite code of a chat. Empty on failure.
func (c *Client) ChatCode(ctx context.Context, chatID int64) (string, error) {
	var code chatCodeDTO
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/chat/%d/code", chatID), nil, &code, "Chat code"); err != nil {
		return "", err
	}
	return code.Code, nil
}

// ListMembers fetches the current members of a chat.
func (c *Client) ListMembers(ctx context.Context, chatID int64) ([]UserDTO, error) {
	var members []UserDTO
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/chat/members/%d", chatID), nil, &members, "Chat members"); err != nil {
		return nil, err
	}
	return members, nil
}

// SendMessage posts a new message. Unlike reads, send failures are returned
// to the caller: a send that never reached the server must not look
// delivered, so the outbox can retry it.
func (c *Client) SendMessage(ctx context.Context, req NewMessageRequest) error {
	err := c.roundTrip(ctx, http.MethodPost, "/message/", req, nil)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnauthenticated) {
		c.provider.notifier.Notify("Auth", "Token invalid")
		return ErrUnauthenticated
	}
	c.provider.notifier.Notify("Send message", err.Error())
	c.provider.logger.Warn("send failed", zap.Error(err))
	return err
}

// ListMessages fetches the full message history of a chat.
func (c *Client) ListMessages(ctx context.Context, chatID int64) ([]MessageDTO, error) {
	var msgs []MessageDTO
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/message/%d", chatID), nil, &msgs, "Fetch messages"); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SubscribeNewChats opens the new-chat push stream. The SSE connection lives
// for as long as the returned channel is consumed and is closed when ctx ends.
func (c *Client) SubscribeNewChats(ctx context.Context) <-chan ChatDTO {
	b := bridge.New[ChatDTO](c.provider.pollInterval)
	conn := c.openSSE("/chat/sse/new", func(data []byte) {
		var chat ChatDTO
		if err := json.Unmarshal(data, &chat); err != nil {
			c.provider.notifier.Notify("SSE new chat", err.Error())
			return
		}
		b.Enqueue(chat)
	})
	return b.Stream(ctx, conn)
}

// SubscribeNewMessages opens the new-message push stream.
func (c *Client) SubscribeNewMessages(ctx context.Context) <-chan MessageDTO {
	b := bridge.New[MessageDTO](c.provider.pollInterval)
	conn := c.openSSE("/message/sse/new", func(data []byte) {
		var msg MessageDTO
		if err := json.Unmarshal(data, &msg); err != nil {
			c.provider.notifier.Notify("SSE new message", err.Error())
			return
		}
		b.Enqueue(msg)
	})
	return b.Stream(ctx, conn)
}

// call runs a request under the gateway failure policy: 401 is returned as
// ErrUnauthenticated, anything else is notified and absorbed.
func (c *Client) call(ctx context.Context, method, path string, body, out any, category string) error {
	err := c.roundTrip(ctx, method, path, body, out)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnauthenticated) {
		c.provider.notifier.Notify("Auth", "Token invalid")
		return ErrUnauthenticated
	}
	c.provider.notifier.Notify(category, err.Error())
	c.provider.logger.Warn("gateway request failed",
		zap.String("path", path),
		zap.Error(err),
	)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.provider.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.provider.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError is a non-2xx, non-401 response.
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Code: resp.StatusCode}
	}
	return nil
}
