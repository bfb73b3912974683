package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the daemon. Subscribers filter by namespace
// prefix, e.g. "chat." receives every chat event.
const (
	KindChatPreviewUpdated = "chat.preview_updated"
	KindChatJoined         = "chat.joined"
	KindMessageUpserted    = "message.upserted"
	KindMessageSendAck     = "message.send_ack"
	KindMessageSendFailed  = "message.send_failed"
	KindSessionExpired     = "session.expired"
	KindDaemonStatus       = "daemon.status_changed"
)
