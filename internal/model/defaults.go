package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// SystemChatID is the fixed id of the built-in assistant chat every
	// fresh account starts with.
	SystemChatID = "wechat_team"

	// SystemChatName is the display name of the built-in chat.
	SystemChatName = "WeChat Team"

	// InitialBalance is the wallet balance granted on registration.
	InitialBalance = 100000

	// DefaultRedPacketAmount is credited when an opened red packet carries
	// no explicit amount.
	DefaultRedPacketAmount = 1.28

	systemAvatarURL        = "https://upload.wikimedia.org/wikipedia/commons/thumb/7/73/WeChat_logo.svg/2000px-WeChat_logo.svg.png"
	defaultMomentsCoverURL = "https://picsum.photos/seed/wechatcover/800/600"
	welcomeText            = "Welcome! This is where your conversations live."
)

// AvatarURL returns the generated avatar for a user id. The URL is
// deterministic: the same seed always renders the same face.
func AvatarURL(userID string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s", userID)
}

// DefaultSnapshot synthesizes the initial state for a newly registered
// account: one automated welcome chat, the signup balance and a generated
// avatar seeded from the user id.
func DefaultSnapshot(userID string) *Snapshot {
	now := time.Now().UnixMilli()
	welcome := Message{
		ID:        uuid.NewString(),
		SenderID:  SystemChatID,
		Type:      MessageText,
		Text:      welcomeText,
		Timestamp: now,
		State:     StateDelivered,
	}
	return &Snapshot{
		Chats: []Chat{{
			ID:            SystemChatID,
			Name:          SystemChatName,
			Avatar:        systemAvatarURL,
			LastMessage:   welcomeText,
			LastMessageAt: now,
			Messages:      []Message{welcome},
			IsAutomated:   true,
		}},
		Moments:         []Moment{},
		Contacts:        []Contact{},
		BankCards:       []BankCard{},
		Balance:         InitialBalance,
		AvatarURL:       AvatarURL(userID),
		MomentsCoverURL: defaultMomentsCoverURL,
	}
}
