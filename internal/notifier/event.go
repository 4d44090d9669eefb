package notifier

import (
	"time"

	"github.com/zwy923/onebox/internal/model"
)

const previewRunes = 200

// Event is the notification built for one qualifying message. It is never persisted.
type Event struct {
	Account     string
	MessageID   string
	Category    model.Category
	From        string
	Subject     string
	BodyPreview string
	ReceivedAt  time.Time
}

func NewEvent(msg *model.Message) Event {
	return Event{
		Account:     msg.Account,
		MessageID:   msg.ID,
		Category:    msg.Category,
		From:        msg.From,
		Subject:     msg.Subject,
		BodyPreview: msg.Preview(previewRunes),
		ReceivedAt:  msg.ReceivedAt,
	}
}
