package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/vpolkhovsky/chatx/internal/gateway"
	"github.com/vpolkhovsky/chatx/internal/notify"
	"github.com/vpolkhovsky/chatx/internal/store"
)

// ErrNoSession reports a request scoped to a profile that has no persisted
// session. This is an invariant violation, not a degradable condition.
var ErrNoSession = errors.New("no session for profile")

// Remote is the slice of the gateway the engine talks to. Read failures
// other than ErrUnauthenticated are absorbed by the implementation;
// SendMessage returns every failure so callers can retry.
type Remote interface {
	ListChats(ctx context.Context) ([]gateway.ChatDTO, error)
	CreateChat(ctx context.Context, req gateway.CreateChatRequest) error
	JoinByCode(ctx context.Context, code string) error
	ChatCode(ctx context.Context, chatID int64) (string, error)
	ListMembers(ctx context.Context, chatID int64) ([]gateway.UserDTO, error)
	SendMessage(ctx context.Context, req gateway.NewMessageRequest) error
	ListMessages(ctx context.Context, chatID int64) ([]gateway.MessageDTO, error)
	SubscribeNewChats(ctx context.Context) <-chan gateway.ChatDTO
	SubscribeNewMessages(ctx context.Context) <-chan gateway.MessageDTO
}

// RemoteProvider issues token-scoped remotes.
type RemoteProvider interface {
	WithToken(token string) Remote
}

// GatewayProvider adapts the concrete HTTP gateway to RemoteProvider.
type GatewayProvider struct {
	Provider *gateway.Provider
}

func (g GatewayProvider) WithToken(token string) Remote {
	return g.Provider.WithToken(token)
}

var _ Remote = (*gateway.Client)(nil)

// clientResolver maps a profile id to a token-scoped remote via the stored
// session. Shared by the chat and message services.
type clientResolver struct {
	db       *store.DB
	remotes  RemoteProvider
	notifier notify.Notifier
}

func (r *clientResolver) client(profileID int64) (Remote, error) {
	session, err := r.db.SessionByID(profileID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if session == nil {
		r.notifier.Notify("NO SESSION", fmt.Sprintf("no session for profile %d", profileID))
		return nil, fmt.Errorf("%w: profile %d", ErrNoSession, profileID)
	}
	return r.remotes.WithToken(session.Token), nil
}
