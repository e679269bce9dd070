package models

import "time"

// Thread is one conversation's metadata. InternalID is the storage
// key; callers only ever see the sealed handle derived from it.
type Thread struct {
	InternalID     string
	ConversationID string
	AnonUser       string
	Title          string
	MessageCount   int
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

// MaxThreadTitleLen bounds the stored title, which is derived from the
// first message of the conversation.
const MaxThreadTitleLen = 80
