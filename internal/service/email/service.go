package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zwy923/onebox/internal/classifier"
	"github.com/zwy923/onebox/internal/model"
	"github.com/zwy923/onebox/internal/notifier"
	"github.com/zwy923/onebox/internal/outbound"
	"github.com/zwy923/onebox/internal/store"
	"github.com/zwy923/onebox/internal/suggest"
	"github.com/zwy923/onebox/pkg/logger"
)

type Decider interface {
	Decide(text string) classifier.Decision
}

// Service implements the read and edit operations behind the HTTP API.
type Service struct {
	store      store.Store
	classifier Decider
	suggest    *suggest.Engine
	dispatcher notifier.Dispatcher
	sender     outbound.Sender
	logger     *zap.Logger
}

func NewService(
	st store.Store,
	c Decider,
	engine *suggest.Engine,
	dispatcher notifier.Dispatcher,
	sender outbound.Sender,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:      st,
		classifier: c,
		suggest:    engine,
		dispatcher: dispatcher,
		sender:     sender,
		logger:     logger,
	}
}

func (s *Service) Search(ctx context.Context, q store.Query) ([]model.Message, error) {
	return s.store.Search(ctx, q)
}

// Open marks the message read and attaches a suggested reply.
func (s *Service) Open(ctx context.Context, account, id string) (*model.Message, error) {
	if err := s.store.MarkRead(ctx, account, id); err != nil {
		return nil, err
	}
	msg, err := s.store.Get(ctx, account, id)
	if err != nil {
		return nil, err
	}
	if reply, ok := s.suggest.Suggest(msg.Subject, msg.Body); ok {
		msg.SuggestedReply = reply
	}
	return msg, nil
}

// SetCategory stores a manual category. A notification is dispatched only
// when the message moves into Interested from another category.
func (s *Service) SetCategory(ctx context.Context, account, id string, c model.Category) (*model.Message, error) {
	prev, err := s.store.SetCategory(ctx, account, id, c)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.Get(ctx, account, id)
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("Category changed",
		zap.String("account", account),
		zap.String("message_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(c)),
	)
	if c == model.CategoryInterested && prev != model.CategoryInterested {
		s.dispatcher.Notify(ctx, notifier.NewEvent(msg))
	}
	return msg, nil
}

// Recategorize runs the classifier again on the stored text.
func (s *Service) Recategorize(ctx context.Context, account, id string) (*model.Message, classifier.Decision, error) {
	msg, err := s.store.Get(ctx, account, id)
	if err != nil {
		return nil, classifier.Decision{}, err
	}
	d := s.classifier.Decide(msg.Text())
	msg, err = s.SetCategory(ctx, account, id, d.Category)
	return msg, d, err
}

// Preview is the result of classifying ad-hoc text.
type Preview struct {
	classifier.Decision
	SuggestedReply string `json:"suggestedReply,omitempty"`
}

func (s *Service) Classify(subject, body string) Preview {
	p := Preview{Decision: s.classifier.Decide(subject + " " + body)}
	p.SuggestedReply, _ = s.suggest.Suggest(subject, body)
	return p
}

// SendRequest is an outgoing message composed through the API.
type SendRequest struct {
	Account string   `json:"account" binding:"required"`
	From    string   `json:"from"`
	To      []string `json:"to" binding:"required,min=1"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Send delivers the message and indexes a copy in the Sent folder.
func (s *Service) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	sent, err := s.sender.Send(ctx, outbound.Mail{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:         uuid.NewString(),
		Account:    req.Account,
		From:       req.From,
		To:         strings.Join(req.To, ", "),
		Subject:    req.Subject,
		Body:       req.Body,
		ReceivedAt: sent.Date.UTC(),
		Category:   model.CategoryUncategorized,
		Folder:     model.FolderSent,
		Read:       true,
	}
	if err := s.store.Index(ctx, msg); err != nil {
		return msg, fmt.Errorf("message sent but not indexed: %w", err)
	}
	return msg, nil
}
