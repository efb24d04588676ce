package ws

type FrameType string

const (
	// client -> server
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"

	// server -> client
	FrameSnapshot     FrameType = "snapshot"
	FrameUnsubscribed FrameType = "unsubscribed"
	FrameError        FrameType = "error"
)

// Имена live-представлений, которые можно открыть по WebSocket.
const (
	ViewChats          = "chats"
	ViewDirectMessages = "direct_messages"
	ViewGroupMessages  = "group_messages"
	ViewChannels       = "channels"
	ViewChannelPosts   = "channel_posts"
	ViewReactions      = "reactions"
	ViewProfile        = "profile"
)

// IncomingMessage is what the client sends to the server.
// ID: параметр представления (собеседник, чат или канал; для chats/channels/profile не нужен).
type IncomingMessage struct {
	Type  FrameType `json:"type"`
	SubID string    `json:"sub_id"`
	View  string    `json:"view,omitempty"`
	ID    string    `json:"id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Snapshot всегда полный: клиент заменяет им прежнее состояние подписки.
type OutgoingMessage struct {
	Type    FrameType `json:"type"`
	SubID   string    `json:"sub_id,omitempty"`
	Payload any       `json:"payload,omitempty"`
	Code    string    `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`

	// sub: подписка, породившая снимок; writePump сверяет её с текущей по SubID.
	sub *subscription
}

func errorFrame(subID, code, msg string) OutgoingMessage {
	return OutgoingMessage{Type: FrameError, SubID: subID, Code: code, Error: msg}
}
