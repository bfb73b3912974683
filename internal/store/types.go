package store

// Profile is a user seen by this client: the logged-in users themselves,
// message authors, chat members. Immutable once created; upserted on every
// sighting.
type Profile struct {
	ID       int64
	Username string
}

// Session is a stored login for a profile. One per profile.
type Session struct {
	ProfileID int64
	Token     string
}

// Chat is the locally cached preview row for a remote chat, scoped per
// (ChatID, ProfileID) pair: the same remote chat is cached independently for
// each locally logged-in profile.
type Chat struct {
	LocalID      int64
	ChatID       int64
	ProfileID    int64
	Name         string
	CreatedAt    int64 // epoch millis
	Participants int
}

// Message is a remote-assigned, globally unique chat message. ReplyTo forms
// a reply chain terminating at nil.
type Message struct {
	ID            int64
	ChatID        int64
	Text          *string
	ReplyTo       *int64
	FromProfileID int64
	CreatedAt     int64 // epoch millis
}

// MessageFile is a file attachment owned by exactly one message.
type MessageFile struct {
	ID        int64
	MessageID int64
	Filename  string
	Size      int64
}

// MessageRecord is a message joined with its author and attachments.
type MessageRecord struct {
	Message Message
	Author  Profile
	Files   []MessageFile
}

// SessionRecord is a session joined with its profile.
type SessionRecord struct {
	Session Session
	Profile Profile
}

// OutboxEntry is a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ProfileID    int64
	ChatID       int64
	Text         string
	ReplyTo      *int64
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}
