package reconcile

import "github.com/vpolkhovsky/chatx/internal/store"

// ChatPreview is the derived summary of a chat used for listing: name,
// participant count and the most recent message. Computed on demand, never
// persisted.
type ChatPreview struct {
	ChatID       int64
	Name         string
	UnreadCount  int
	Participants int
	LastMessage  *LastMessagePreview
	CreatedAt    int64 // epoch millis
}

// LastMessagePreview is the most recent message of a chat, materialized with
// its author and attachments.
type LastMessagePreview struct {
	ID     int64
	Text   *string
	Files  []store.MessageFile
	Author store.Profile
	SentAt int64 // epoch millis
}

// MessageView is a message with its reply chain dereferenced. ReplyTo is nil
// for chain roots and for links that could not be resolved locally.
type MessageView struct {
	ID      int64
	From    store.Profile
	ReplyTo *MessageView
	Text    *string
	Files   []store.MessageFile
	SentAt  int64 // epoch millis
}

// ApplyNewMessage folds a new-message preview into an ordered preview list:
// any existing entry for the same chat is removed, then the fresh one is
// prepended. The list stays most-recent-activity-first with no duplicates.
func ApplyNewMessage(list []ChatPreview, fresh ChatPreview) []ChatPreview {
	out := make([]ChatPreview, 0, len(list)+1)
	out = append(out, fresh)
	for _, p := range list {
		if p.ChatID != fresh.ChatID {
			out = append(out, p)
		}
	}
	return out
}

// ApplyJoined prepends a freshly joined chat. Joining always introduces a
// chat id not previously present for this profile.
func ApplyJoined(list []ChatPreview, fresh ChatPreview) []ChatPreview {
	out := make([]ChatPreview, 0, len(list)+1)
	out = append(out, fresh)
	return append(out, list...)
}
