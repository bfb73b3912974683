package reconcile

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/vpolkhovsky/chatx/internal/gateway"
	"github.com/vpolkhovsky/chatx/internal/notify"
	"github.com/vpolkhovsky/chatx/internal/store"
)

// Messages ingests remote messages into the local cache and materializes
// them with resolved reply chains, authors and attachments.
type Messages struct {
	clientResolver
	logger *zap.Logger
}

func NewMessages(db *store.DB, remotes RemoteProvider, notifier notify.Notifier, logger *zap.Logger) *Messages {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messages{
		clientResolver: clientResolver{db: db, remotes: remotes, notifier: notifier},
		logger:         logger.Named("messages"),
	}
}

// Send pushes one message to the remote under the profile's session. All
// failures surface: transport errors, auth failures and ErrNoSession.
func (m *Messages) Send(ctx context.Context, fromProfileID, chatID int64, text *string, replyTo *int64) error {
	cl, err := m.client(fromProfileID)
	if err != nil {
		return err
	}
	return cl.SendMessage(ctx, gateway.NewMessageRequest{
		FromUserID: fromProfileID,
		ChatID:     chatID,
		ReplyTo:    replyTo,
		Text:       text,
		Files:      []int64{},
	})
}

// SaveRemote upserts a batch of wire messages together with every ancestor
// embedded in their reply chains. Authors, messages and attachments land in
// one transaction so a chain is never half-cached.
func (m *Messages) SaveRemote(msgs []gateway.MessageDTO) error {
	if len(msgs) == 0 {
		return nil
	}

	flat := make(map[int64]gateway.MessageDTO)
	for _, dto := range msgs {
		flattenChain(dto, flat)
	}

	profiles := make(map[int64]store.Profile)
	entities := make([]store.Message, 0, len(flat))
	var files []store.MessageFile
	for _, id := range sortedKeys(flat) {
		dto := flat[id]
		profiles[dto.From.ID] = store.Profile{ID: dto.From.ID, Username: dto.From.Username}
		msg := store.Message{
			ID:            dto.ID,
			ChatID:        dto.ChatID,
			Text:          dto.Text,
			FromProfileID: dto.From.ID,
			CreatedAt:     dto.Timestamp,
		}
		if dto.ReplyTo != nil {
			target := dto.ReplyTo.ID
			msg.ReplyTo = &target
		}
		entities = append(entities, msg)
		for _, f := range dto.Files {
			files = append(files, store.MessageFile{ID: f.ID, MessageID: dto.ID, Filename: f.Name, Size: f.Size})
		}
	}

	authors := make([]store.Profile, 0, len(profiles))
	for _, id := range sortedKeys(profiles) {
		authors = append(authors, profiles[id])
	}
	if err := m.db.SaveMessageBatch(authors, entities, files); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

// flattenChain walks a wire message's embedded reply ancestry and records
// every node keyed by id. Later duplicates win, which is harmless since the
// payloads for one id are identical within a batch.
func flattenChain(dto gateway.MessageDTO, into map[int64]gateway.MessageDTO) {
	for {
		into[dto.ID] = dto
		if dto.ReplyTo == nil {
			return
		}
		dto = *dto.ReplyTo
	}
}

// LoadChatMessages refreshes a chat from the remote, caches the result and
// returns the chat's messages materialized from the local store. Remote
// failures degrade to cache-only; storage failures surface.
func (m *Messages) LoadChatMessages(ctx context.Context, profileID, chatID int64) ([]MessageView, error) {
	cl, err := m.client(profileID)
	if err != nil {
		return nil, err
	}
	remote, err := cl.ListMessages(ctx, chatID)
	if err != nil {
		m.logger.Warn("remote fetch failed, serving cache", zap.Int64("chat", chatID), zap.Error(err))
	} else if err := m.SaveRemote(remote); err != nil {
		return nil, err
	}
	return m.Materialize(chatID, nil)
}

// Materialize loads messages for a chat and resolves their reply chains
// against the cache. With ids nil the whole chat is loaded; otherwise only
// the requested ids plus whatever their chains reference.
//
// Resolution iterates to a fixed point: each pass adds the reply targets the
// previous pass referenced but did not load. A target absent from the cache
// can never join the loaded set, so the requested set stops growing and the
// loop terminates; such links stay unresolved in the result.
func (m *Messages) Materialize(chatID int64, ids []int64) ([]MessageView, error) {
	requested := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}
	restricted := len(ids) > 0

	var records []store.MessageRecord
	for {
		var err error
		if restricted {
			records, err = m.db.MessagesByIDs(chatID, sortedKeys(requested))
		} else {
			records, err = m.db.MessagesForChat(chatID)
		}
		if err != nil {
			return nil, err
		}

		loaded := make(map[int64]struct{}, len(records))
		for _, r := range records {
			loaded[r.Message.ID] = struct{}{}
		}

		grew := false
		for _, r := range records {
			if _, ok := requested[r.Message.ID]; !ok {
				requested[r.Message.ID] = struct{}{}
				grew = true
			}
		}
		dangling := false
		for _, r := range records {
			target := r.Message.ReplyTo
			if target == nil {
				continue
			}
			if _, ok := loaded[*target]; ok {
				continue
			}
			dangling = true
			if _, ok := requested[*target]; !ok {
				requested[*target] = struct{}{}
				grew = true
			}
		}

		if !restricted {
			if !dangling {
				break
			}
			// Retry by explicit ids so referenced ancestors outside the
			// full-chat scan get a chance to load.
			restricted = true
		}
		if !grew {
			break
		}
	}

	return m.resolve(records), nil
}

// resolve links records into views. Records arrive ordered by creation time,
// and a reply target is always older than the message referencing it, so a
// single ascending pass sees every resolvable target before its referrer.
func (m *Messages) resolve(records []store.MessageRecord) []MessageView {
	built := make(map[int64]*MessageView, len(records))
	views := make([]MessageView, 0, len(records))
	for _, r := range records {
		v := &MessageView{
			ID:     r.Message.ID,
			From:   r.Author,
			Text:   r.Message.Text,
			Files:  r.Files,
			SentAt: r.Message.CreatedAt,
		}
		if r.Message.ReplyTo != nil {
			v.ReplyTo = built[*r.Message.ReplyTo]
		}
		built[r.Message.ID] = v
		views = append(views, *v)
	}
	return views
}

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
