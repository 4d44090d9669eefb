package model

import (
	"time"
)

// Folder is the logical location of a message, independent of its category.
type Folder string

const (
	FolderInbox   Folder = "Inbox"
	FolderSent    Folder = "Sent"
	FolderArchive Folder = "Archive"
	FolderSpam    Folder = "Spam"
)

// Message is a classified mail document. ID is unique within Account.
type Message struct {
	ID             string    `json:"id"`
	Account        string    `json:"account"`
	UID            uint32    `json:"uid,omitempty"`
	From           string    `json:"from"`
	To             string    `json:"to,omitempty"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	ReceivedAt     time.Time `json:"date"`
	Category       Category  `json:"category"`
	Folder         Folder    `json:"folder"`
	Read           bool      `json:"read"`
	SuggestedReply string    `json:"suggestedReply,omitempty"`

	// Fingerprint identifies the raw bytes the message was parsed from.
	Fingerprint string `json:"-"`
}

// Text is the classification and suggestion input.
func (m *Message) Text() string {
	return m.Subject + " " + m.Body
}

// Preview returns at most n runes of the body.
func (m *Message) Preview(n int) string {
	return Truncate(m.Body, n)
}

// Truncate cuts s to n runes.
func Truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
