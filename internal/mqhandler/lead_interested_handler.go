package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "github.com/zwy923/onebox/contracts/mq"
	"github.com/zwy923/onebox/internal/model"
	"github.com/zwy923/onebox/internal/notifier"
)

// ErrUndelivered is returned when no sink accepted the event. The consumer
// parks the message; it is never redelivered.
var ErrUndelivered = errors.New("lead notification not delivered")

// Dispatcher is the part of notifier.Notifier the handler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, e notifier.Event) notifier.Outcome
}

type LeadInterestedHandler struct {
	notifier Dispatcher
	logger   *zap.Logger
}

func NewLeadInterestedHandler(n Dispatcher, logger *zap.Logger) *LeadInterestedHandler {
	return &LeadInterestedHandler{
		notifier: n,
		logger:   logger,
	}
}

// HandleLeadInterested delivers one queued lead to the configured sinks.
func (h *LeadInterestedHandler) HandleLeadInterested(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.LeadInterestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal lead payload", zap.Error(err))
		return err
	}
	if p.Account == "" || p.MessageID == "" {
		return fmt.Errorf("lead payload missing account or message_id")
	}

	category := model.CategoryInterested
	if p.Category != "" {
		c, err := model.ParseCategory(p.Category)
		if err != nil {
			return err
		}
		category = c
	}

	outcome := h.notifier.Dispatch(ctx, notifier.Event{
		Account:     p.Account,
		MessageID:   p.MessageID,
		Category:    category,
		From:        p.From,
		Subject:     p.Subject,
		BodyPreview: p.BodyPreview,
		ReceivedAt:  p.ReceivedAt,
	})

	if len(outcome.Results) > 0 && !outcome.Delivered() {
		h.logger.Warn("Lead not delivered to any sink",
			zap.String("account", p.Account),
			zap.String("message_id", p.MessageID),
		)
		return ErrUndelivered
	}
	return nil
}
