package irisfast

import (
	"encoding/json"
	"strings"
)

// Message is one event pushed by Iris over WebSocket or webhook.
type Message struct {
	Msg    string       `json:"msg"`
	Room   string       `json:"room"`
	Sender *string      `json:"sender,omitempty"`
	JSON   *MessageJSON `json:"json,omitempty"`
}

// MessageJSON is the raw chat_logs row behind a message.
type MessageJSON struct {
	UserID     string `json:"user_id"`
	ID         string `json:"id"`
	ChatID     string `json:"chat_id"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Attachment string `json:"attachment,omitempty"`
}

// RoomID is the chat id replies must be addressed to.
func (m *Message) RoomID() string {
	if m == nil {
		return ""
	}
	if m.JSON != nil && strings.TrimSpace(m.JSON.ChatID) != "" {
		return strings.TrimSpace(m.JSON.ChatID)
	}
	return strings.TrimSpace(m.Room)
}

func (m *Message) UserID() string {
	if m == nil {
		return ""
	}
	if m.JSON != nil && strings.TrimSpace(m.JSON.UserID) != "" {
		return strings.TrimSpace(m.JSON.UserID)
	}
	if m.Sender != nil {
		return strings.TrimSpace(*m.Sender)
	}
	return ""
}

func (m *Message) SenderName() string {
	if m == nil || m.Sender == nil {
		return ""
	}
	return strings.TrimSpace(*m.Sender)
}

// MessageID is the chat log id, unique per room.
func (m *Message) MessageID() string {
	if m == nil || m.JSON == nil {
		return ""
	}
	return strings.TrimSpace(m.JSON.ID)
}

// Mention is a user tagged in a message.
type Mention struct {
	UserID string `json:"user_id"`
	At     []int  `json:"at"`
	Len    int    `json:"len"`
}

type attachment struct {
	Mentions []Mention `json:"mentions"`
}

// Mentions decodes the mention list from the attachment, in message order.
// A missing or malformed attachment yields nil.
func (m *Message) Mentions() []Mention {
	if m == nil || m.JSON == nil || strings.TrimSpace(m.JSON.Attachment) == "" {
		return nil
	}
	var a attachment
	if err := json.Unmarshal([]byte(m.JSON.Attachment), &a); err != nil {
		return nil
	}
	return a.Mentions
}

// Feed types carried by system messages (chat type "0").
const (
	FeedInvite = 1
	FeedLeave  = 2
	FeedJoin   = 4
	FeedKick   = 6
)

type FeedMember struct {
	UserID   json.Number `json:"userId"`
	Nickname string      `json:"nickName"`
}

type Feed struct {
	Type    int          `json:"feedType"`
	Members []FeedMember `json:"members"`
}

// Feed decodes a membership feed, or returns nil for ordinary messages.
func (m *Message) Feed() *Feed {
	if m == nil || m.JSON == nil || m.JSON.Type != "0" {
		return nil
	}
	raw := m.JSON.Message
	if raw == "" {
		raw = m.Msg
	}
	var f Feed
	if err := json.Unmarshal([]byte(raw), &f); err != nil || f.Type == 0 {
		return nil
	}
	return &f
}

// Config is the subset of Iris /config the bot reads.
type Config struct {
	BotName           string `json:"bot_name"`
	BotHTTPPort       int    `json:"bot_http_port"`
	WebServerEndpoint string `json:"web_server_endpoint"`
	DBPollingRate     int    `json:"db_polling_rate"`
	MessageSendRate   int    `json:"message_send_rate"`
	BotID             int64  `json:"bot_id"`
}

type ReplyRequest struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Data string `json:"data"`
}

type QueryRequest struct {
	Query string `json:"query"`
	Bind  []any  `json:"bind,omitempty"`
}

type QueryResponse struct {
	Data []map[string]any `json:"data"`
}

type WebSocketState string

const (
	WSStateDisconnected WebSocketState = "disconnected"
	WSStateConnecting   WebSocketState = "connecting"
	WSStateConnected    WebSocketState = "connected"
	WSStateReconnecting WebSocketState = "reconnecting"
	WSStateFailed       WebSocketState = "failed"
)
