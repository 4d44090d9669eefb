package listener

import (
	"context"
	"time"

	"github.com/zwy923/onebox/pkg/config"
)

// RawMessage is one fetched message before parsing.
type RawMessage struct {
	UID          uint32
	InternalDate time.Time
	Data         []byte
}

// MailboxInfo describes the selected mailbox at session start.
type MailboxInfo struct {
	Name        string
	UIDValidity uint32
	UIDNext     uint32
}

// Signal announces that new messages may be available.
type Signal struct {
	Messages uint32
}

// Dialer opens an authenticated session with the account's mailbox selected.
// Authentication failures are wrapped with util.Permanent.
type Dialer interface {
	Dial(ctx context.Context, acct config.AccountConfig) (Session, error)
}

// Session is a live mailbox connection.
type Session interface {
	Mailbox() MailboxInfo
	// Listen delivers signals until ctx ends or the connection breaks. It
	// must not block on a full signals channel.
	Listen(ctx context.Context, signals chan<- Signal) error
	// Fetch returns messages with UID >= sinceUID in ascending UID order.
	// It may be called concurrently with Listen.
	Fetch(ctx context.Context, sinceUID uint32) ([]RawMessage, error)
	Close() error
}
