package telegram

// Update is an incoming Telegram update as delivered by webhook or getUpdates.
// Only the fields the ingestion pipeline reads are decoded.
type Update struct {
	UpdateID          int64    `json:"update_id"`
	Message           *Message `json:"message,omitempty"`
	EditedMessage     *Message `json:"edited_message,omitempty"`
	ChannelPost       *Message `json:"channel_post,omitempty"`
	EditedChannelPost *Message `json:"edited_channel_post,omitempty"`
}

// EffectiveMessage returns the first message-bearing field of the update
func (u *Update) EffectiveMessage() *Message {
	switch {
	case u == nil:
		return nil
	case u.Message != nil:
		return u.Message
	case u.EditedMessage != nil:
		return u.EditedMessage
	case u.ChannelPost != nil:
		return u.ChannelPost
	default:
		return u.EditedChannelPost
	}
}

// Message represents a Telegram message
type Message struct {
	MessageID       int64    `json:"message_id"`
	MessageThreadID int64    `json:"message_thread_id,omitempty"`
	IsTopicMessage  bool     `json:"is_topic_message,omitempty"`
	From            *User    `json:"from,omitempty"`
	SenderChat      *Chat    `json:"sender_chat,omitempty"`
	Chat            *Chat    `json:"chat"`
	Date            int64    `json:"date"`
	Text            string   `json:"text,omitempty"`
	Caption         string   `json:"caption,omitempty"`
	ReplyTo         *Message `json:"reply_to_message,omitempty"`

	ForwardFrom       *User  `json:"forward_from,omitempty"`
	ForwardFromChat   *Chat  `json:"forward_from_chat,omitempty"`
	ForwardSenderName string `json:"forward_sender_name,omitempty"`

	ForumTopicCreated *ForumTopic `json:"forum_topic_created,omitempty"`
	ForumTopicEdited  *ForumTopic `json:"forum_topic_edited,omitempty"`

	Photo     []PhotoSize `json:"photo,omitempty"`
	Video     *Attachment `json:"video,omitempty"`
	Document  *Attachment `json:"document,omitempty"`
	Audio     *Attachment `json:"audio,omitempty"`
	Voice     *Attachment `json:"voice,omitempty"`
	Sticker   *Attachment `json:"sticker,omitempty"`
	Animation *Attachment `json:"animation,omitempty"`
	Location  *Location   `json:"location,omitempty"`
	Poll      *Poll       `json:"poll,omitempty"`
}

// User represents a Telegram user
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// DisplayName returns "First Last", falling back to the username
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Username
	}
	return name
}

// Chat represents a Telegram chat
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"` // "private", "group", "supergroup", "channel"
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
	IsForum  bool   `json:"is_forum,omitempty"`
}

// ForumTopic is the service payload of forum_topic_created / forum_topic_edited
type ForumTopic struct {
	Name string `json:"name"`
}

// PhotoSize is one resolution of a photo
type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Attachment covers the file-backed media kinds; only the id is kept
type Attachment struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	Emoji    string `json:"emoji,omitempty"` // stickers
}

// Location is a shared map point
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Poll is a native poll; the question becomes the message body
type Poll struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}
