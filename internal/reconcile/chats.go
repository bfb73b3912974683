package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vpolkhovsky/chatx/internal/gateway"
	"github.com/vpolkhovsky/chatx/internal/notify"
	"github.com/vpolkhovsky/chatx/internal/store"
)

// ChatRepository yields recency-ordered chat previews for a profile.
type ChatRepository interface {
	ChatPreviews(ctx context.Context, profileID int64) ([]ChatPreview, error)
}

var (
	_ ChatRepository = (*OfflineChats)(nil)
	_ ChatRepository = (*OnlineChats)(nil)
)

// OfflineChats serves previews straight from the local cache. It never
// touches the network and is usable without a session.
type OfflineChats struct {
	db *store.DB
}

func NewOfflineChats(db *store.DB) *OfflineChats {
	return &OfflineChats{db: db}
}

func (r *OfflineChats) ChatPreviews(_ context.Context, profileID int64) ([]ChatPreview, error) {
	chats, err := r.db.ChatsForProfile(profileID)
	if err != nil {
		return nil, err
	}
	previews := make([]ChatPreview, 0, len(chats))
	for _, c := range chats {
		p, err := r.preview(c)
		if err != nil {
			return nil, err
		}
		previews = append(previews, p)
	}
	return previews, nil
}

// Find returns the cached preview for one chat, or nil when the chat is not
// cached for this profile.
func (r *OfflineChats) Find(profileID, chatID int64) (*ChatPreview, error) {
	chat, err := r.db.FindChat(profileID, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, nil
	}
	p, err := r.preview(*chat)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Update writes a preview back into the cache, keyed by (chat, profile).
func (r *OfflineChats) Update(profileID int64, p ChatPreview) error {
	_, err := r.db.UpsertChat(&store.Chat{
		ChatID:       p.ChatID,
		ProfileID:    profileID,
		Name:         p.Name,
		CreatedAt:    p.CreatedAt,
		Participants: p.Participants,
	})
	return err
}

func (r *OfflineChats) preview(c store.Chat) (ChatPreview, error) {
	last, err := r.db.LastMessageForChat(c.ChatID)
	if err != nil {
		return ChatPreview{}, err
	}
	return ChatPreview{
		ChatID:       c.ChatID,
		Name:         c.Name,
		Participants: c.Participants,
		LastMessage:  lastPreview(last),
		CreatedAt:    c.CreatedAt,
	}, nil
}

func lastPreview(r *store.MessageRecord) *LastMessagePreview {
	if r == nil {
		return nil
	}
	return &LastMessagePreview{
		ID:     r.Message.ID,
		Text:   r.Message.Text,
		Files:  r.Files,
		Author: r.Author,
		SentAt: r.Message.CreatedAt,
	}
}

// OnlineChats refreshes the cache from the remote before answering and falls
// back to the offline repository when the remote cannot serve. Every listing
// is answered from the cache, which the refresh merely brings up to date.
type OnlineChats struct {
	clientResolver
	offline  *OfflineChats
	messages *Messages
	logger   *zap.Logger
}

func NewOnlineChats(db *store.DB, offline *OfflineChats, messages *Messages, remotes RemoteProvider, notifier notify.Notifier, logger *zap.Logger) *OnlineChats {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OnlineChats{
		clientResolver: clientResolver{db: db, remotes: remotes, notifier: notifier},
		offline:        offline,
		messages:       messages,
		logger:         logger.Named("chats"),
	}
}

func (r *OnlineChats) ChatPreviews(ctx context.Context, profileID int64) ([]ChatPreview, error) {
	cl, err := r.client(profileID)
	if err != nil {
		return nil, err
	}
	remote, err := cl.ListChats(ctx)
	if err != nil {
		r.logger.Warn("chat list fetch failed, serving cache", zap.Int64("profile", profileID), zap.Error(err))
	}
	for _, dto := range remote {
		p, err := r.remotePreview(dto)
		if err != nil {
			return nil, err
		}
		if err := r.offline.Update(profileID, p); err != nil {
			return nil, fmt.Errorf("cache chat %d: %w", dto.ID, err)
		}
	}
	return r.offline.ChatPreviews(ctx, profileID)
}

// CreateChat creates a chat on the remote owned by the profile. The chat
// shows up locally on the next listing or via the joined-chat stream.
func (r *OnlineChats) CreateChat(ctx context.Context, profileID int64, name string) error {
	cl, err := r.client(profileID)
	if err != nil {
		return err
	}
	return cl.CreateChat(ctx, gateway.CreateChatRequest{CreatedByUserID: profileID, Name: name})
}

// JoinByCode redeems an invite code for the profile.
func (r *OnlineChats) JoinByCode(ctx context.Context, profileID int64, code string) error {
	cl, err := r.client(profileID)
	if err != nil {
		return err
	}
	return cl.JoinByCode(ctx, code)
}

// ChatCode fetches the invite code of a chat. Empty on remote failure.
func (r *OnlineChats) ChatCode(ctx context.Context, profileID, chatID int64) (string, error) {
	cl, err := r.client(profileID)
	if err != nil {
		return "", err
	}
	return cl.ChatCode(ctx, chatID)
}

// Members fetches the current member list of a chat from the remote.
func (r *OnlineChats) Members(ctx context.Context, profileID, chatID int64) ([]store.Profile, error) {
	cl, err := r.client(profileID)
	if err != nil {
		return nil, err
	}
	users, err := cl.ListMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	members := make([]store.Profile, 0, len(users))
	for _, u := range users {
		members = append(members, store.Profile{ID: u.ID, Username: u.Username})
	}
	return members, nil
}

// SubscribeJoinedChats streams a preview for every chat the profile joins
// while subscribed. The channel closes when ctx is cancelled.
func (r *OnlineChats) SubscribeJoinedChats(ctx context.Context, profileID int64) (<-chan ChatPreview, error) {
	cl, err := r.client(profileID)
	if err != nil {
		return nil, err
	}
	src := cl.SubscribeNewChats(ctx)
	out := make(chan ChatPreview)
	go func() {
		defer close(out)
		for dto := range src {
			p, err := r.remotePreview(dto)
			if err != nil {
				r.logger.Error("joined chat preview", zap.Int64("chat", dto.ID), zap.Error(err))
				continue
			}
			if err := r.offline.Update(profileID, p); err != nil {
				r.logger.Error("cache joined chat", zap.Int64("chat", dto.ID), zap.Error(err))
				continue
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SubscribeNewMessages streams a refreshed preview for every pushed message.
// The message and its reply chain are cached first; pushes for chats the
// profile does not have locally are dropped. The member list is re-fetched
// per push so the participant count stays current.
func (r *OnlineChats) SubscribeNewMessages(ctx context.Context, profileID int64) (<-chan ChatPreview, error) {
	cl, err := r.client(profileID)
	if err != nil {
		return nil, err
	}
	src := cl.SubscribeNewMessages(ctx)
	out := make(chan ChatPreview)
	go func() {
		defer close(out)
		for dto := range src {
			p, err := r.onPushedMessage(ctx, profileID, cl, dto)
			if err != nil {
				r.logger.Error("pushed message", zap.Int64("message", dto.ID), zap.Error(err))
				continue
			}
			if p == nil {
				continue
			}
			select {
			case out <- *p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *OnlineChats) onPushedMessage(ctx context.Context, profileID int64, cl Remote, dto gateway.MessageDTO) (*ChatPreview, error) {
	if err := r.messages.SaveRemote([]gateway.MessageDTO{dto}); err != nil {
		return nil, err
	}
	chat, err := r.db.FindChat(profileID, dto.ChatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, nil
	}
	members, err := cl.ListMembers(ctx, chat.ChatID)
	if err != nil {
		return nil, err
	}
	last, err := r.db.LastMessageForChat(chat.ChatID)
	if err != nil {
		return nil, err
	}
	return &ChatPreview{
		ChatID:       chat.ChatID,
		Name:         chat.Name,
		Participants: len(members),
		LastMessage:  lastPreview(last),
		CreatedAt:    chat.CreatedAt,
	}, nil
}

func (r *OnlineChats) remotePreview(dto gateway.ChatDTO) (ChatPreview, error) {
	last, err := r.db.LastMessageForChat(dto.ID)
	if err != nil {
		return ChatPreview{}, err
	}
	return ChatPreview{
		ChatID:       dto.ID,
		Name:         dto.Name,
		Participants: len(dto.Members),
		LastMessage:  lastPreview(last),
		CreatedAt:    dto.LastMessageTimestamp,
	}, nil
}
