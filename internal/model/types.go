package model

// MessageType classifies a chat message.
type MessageType string

const (
	MessageText      MessageType = "text"
	MessageImage     MessageType = "image"
	MessageVoice     MessageType = "voice"
	MessageRedPacket MessageType = "red-packet"
	MessageTransfer  MessageType = "transfer"
	MessageSystem    MessageType = "system"
)

// DeliveryState tracks how far a message got.
type DeliveryState string

const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
	StateFailed    DeliveryState = "failed"
)

// Message is one entry in a chat's message list. The JSON shape is the
// persisted wire format, so field tags must stay stable across releases.
type Message struct {
	ID              string        `json:"id"`
	SenderID        string        `json:"senderId"`
	Type            MessageType   `json:"type"`
	Text            string        `json:"text,omitempty"`
	Amount          string        `json:"amount,omitempty"` // decimal string, e.g. "50.00"
	DurationSeconds int           `json:"duration,omitempty"`
	Timestamp       int64         `json:"timestamp"` // unix millis
	IsFromLocalUser bool          `json:"isMe"`
	State           DeliveryState `json:"status,omitempty"`
	IsOpened        bool          `json:"isOpened,omitempty"`
	IsReceived      bool          `json:"isReceived,omitempty"`
	IsRecalled      bool          `json:"isRecalled,omitempty"`
}

// Chat is one conversation of the owning user. The id is the counterpart
// user id, except for the fixed system chat.
type Chat struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Avatar        string    `json:"avatar"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt int64     `json:"lastMessageAt"` // unix millis
	UnreadCount   int       `json:"unreadCount"`
	Messages      []Message `json:"messages"`
	IsAutomated   bool      `json:"isAI,omitempty"`
}

// Contact is an address-book entry. A contact may or may not have a chat.
type Contact struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Avatar        string   `json:"avatar"`
	Remark        string   `json:"remark,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Status        string   `json:"status,omitempty"`
	IsBlocked     bool     `json:"isBlocked,omitempty"`
	HideMyMoments bool     `json:"hideMyMoments,omitempty"`
}

// BankCard is a wallet card on file.
type BankCard struct {
	ID         string `json:"id"`
	BankName   string `json:"bankName"`
	CardNumber string `json:"cardNumber"`
	Type       string `json:"type"` // Credit or Debit
	Color      string `json:"color"`
}

// Comment is a reply on a moment.
type Comment struct {
	Author string `json:"author"`
	Text   string `json:"text"`
	To     string `json:"to,omitempty"`
}

// Moment is a social-feed post carried in the snapshot for round-trip
// fidelity; the feed itself has no operations in this module.
type Moment struct {
	ID       string    `json:"id"`
	Author   string    `json:"author"`
	Avatar   string    `json:"avatar"`
	Content  string    `json:"content"`
	Images   []string  `json:"images,omitempty"`
	Likes    int       `json:"likes"`
	IsLiked  bool      `json:"isLiked,omitempty"`
	Comments []Comment `json:"comments,omitempty"`
	Time     string    `json:"time,omitempty"`
}

// Snapshot is the complete persisted state for one account. It is written
// wholesale on every mutation; there are no partial updates.
type Snapshot struct {
	Chats           []Chat     `json:"chats"`
	Moments         []Moment   `json:"moments"`
	Contacts        []Contact  `json:"contacts"`
	BankCards       []BankCard `json:"bankCards"`
	Balance         float64    `json:"balance"`
	Status          string     `json:"status,omitempty"`
	AvatarURL       string     `json:"avatarUrl"`
	MomentsCoverURL string     `json:"momentsCover"`
}

// RegistryEntry is one user in the shared global directory.
type RegistryEntry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AvatarURL    string `json:"avatar"`
	PasswordHash string `json:"passwordHash"`
}

// Registry is the shared directory of all known accounts, keyed by user id.
type Registry map[string]RegistryEntry

// Chat lookup helpers.

// FindChat returns a pointer into s.Chats for the given id, or nil.
func (s *Snapshot) FindChat(chatID string) *Chat {
	for i := range s.Chats {
		if s.Chats[i].ID == chatID {
			return &s.Chats[i]
		}
	}
	return nil
}

// FindContact returns a pointer into s.Contacts for the given id, or nil.
func (s *Snapshot) FindContact(contactID string) *Contact {
	for i := range s.Contacts {
		if s.Contacts[i].ID == contactID {
			return &s.Contacts[i]
		}
	}
	return nil
}

// FindMessage returns a pointer to the message with the given id inside a
// chat, or nil if either the chat or the message is missing.
func (s *Snapshot) FindMessage(chatID, msgID string) *Message {
	c := s.FindChat(chatID)
	if c == nil {
		return nil
	}
	for i := range c.Messages {
		if c.Messages[i].ID == msgID {
			return &c.Messages[i]
		}
	}
	return nil
}
