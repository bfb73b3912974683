package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vpolkhovsky/chatx/internal/bus"
	"github.com/vpolkhovsky/chatx/internal/gateway"
	"github.com/vpolkhovsky/chatx/internal/reconcile"
	"github.com/vpolkhovsky/chatx/internal/store"
)

// MessageSender pushes one message to the remote under a profile's session.
type MessageSender interface {
	Send(ctx context.Context, fromProfileID, chatID int64, text *string, replyTo *int64) error
}

// Sender drains the outbox and pushes queued messages through the gateway.
// Entries are keyed by a locally generated client message id so a queue
// survives daemon restarts without double-identifying sends.
type Sender struct {
	db       *store.DB
	sender   MessageSender
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Sender{
		db:       db,
		sender:   sender,
		bus:      b,
		logger:   logger.Named("outbox"),
		interval: interval,
	}
}

// Queue stores a message for sending and returns its client message id.
func (s *Sender) Queue(profileID, chatID int64, text string, replyTo *int64) (string, error) {
	clientMsgID := uuid.NewString()
	err := s.db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID: clientMsgID,
		ProfileID:   profileID,
		ChatID:      chatID,
		Text:        text,
		ReplyTo:     replyTo,
	})
	if err != nil {
		return "", err
	}
	return clientMsgID, nil
}

// Start begins polling the outbox for pending messages. Entries left at
// 'sending' by a previous process are requeued first.
func (s *Sender) Start(ctx context.Context) {
	requeued, err := s.db.ResetSendingOutbox()
	if err != nil {
		s.logger.Error("failed to reset stale outbox entries", zap.Error(err))
	} else if requeued > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", requeued))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// permanent reports whether retrying the send can never succeed: the token
// is rejected or the profile has no session at all. Everything else is
// treated as transient.
func permanent(err error) bool {
	return errors.Is(err, gateway.ErrUnauthenticated) || errors.Is(err, reconcile.ErrNoSession)
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		text := entry.Text
		if err := s.sender.Send(ctx, entry.ProfileID, entry.ChatID, &text, entry.ReplyTo); err != nil {
			if permanent(err) {
				s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
				_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
				s.bus.Publish(bus.Event{
					Kind:      bus.KindMessageSendFailed,
					Timestamp: time.Now(),
					Payload: map[string]string{
						"client_msg_id": entry.ClientMsgID,
						"error":         err.Error(),
					},
				})
				continue
			}
			// Transient failure: the message stays queued for the next drain.
			s.logger.Warn("send failed, will retry", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.RequeueOutbox(entry.ClientMsgID)
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.Int64("chat", entry.ChatID))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendAck,
			Timestamp: time.Now(),
			Payload:   map[string]string{"client_msg_id": entry.ClientMsgID},
		})
	}
}
