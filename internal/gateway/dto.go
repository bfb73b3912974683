package gateway

// Wire types for the ChatX REST and SSE API.

// UserDTO is a server-side user.
type UserDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// LoginRequest is the body of POST /user/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// ChatMemberDTO is one membership entry of a chat.
type ChatMemberDTO struct {
	ChatID int64   `json:"chatId"`
	User   UserDTO `json:"user"`
}

// ChatDTO is a chat as the server reports it, including full membership.
type ChatDTO struct {
	ID                   int64           `json:"id"`
	Name                 string          `json:"name"`
	Members              []ChatMemberDTO `json:"members"`
	LastMessageTimestamp int64           `json:"lastMessageTimestamp"`
}

type chatCodeDTO struct {
	Code string `json:"code"`
}

// FileDTO is a file attachment on the wire.
type FileDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// MessageDTO is a message on the wire. ReplyTo embeds the full ancestor
// message, so one event carries its entire reply chain.
type MessageDTO struct {
	ID        int64       `json:"id"`
	ChatID    int64       `json:"chatId"`
	Text      *string     `json:"text"`
	ReplyTo   *MessageDTO `json:"replyTo"`
	From      UserDTO     `json:"from"`
	Timestamp int64       `json:"timestamp"`
	Files     []FileDTO   `json:"files"`
}

// CreateChatRequest is the body of POST /chat/create.
type CreateChatRequest struct {
	CreatedByUserID int64  `json:"createdByUserId"`
	Name            string `json:"name"`
}

// NewMessageRequest is the body of POST /message/.
type NewMessageRequest struct {
	FromUserID int64   `json:"fromUserId"`
	ChatID     int64   `json:"chatId"`
	ReplyTo    *int64  `json:"replyTo"`
	Text       *string `json:"text"`
	Files      []int64 `json:"files"`
}
