package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zwy923/onebox/internal/listener"
	"github.com/zwy923/onebox/internal/model"
	"github.com/zwy923/onebox/internal/notifier"
	"github.com/zwy923/onebox/internal/store"
	"github.com/zwy923/onebox/pkg/logger"
	"github.com/zwy923/onebox/pkg/metrics"
	"github.com/zwy923/onebox/pkg/otel"
	"github.com/zwy923/onebox/pkg/trace"
	"github.com/zwy923/onebox/pkg/util"
)

var (
	ErrParse     = errors.New("parse message")
	ErrDuplicate = errors.New("duplicate message")
	ErrPersist   = errors.New("persist message")
)

type Classifier interface {
	Classify(text string) model.Category
}

// Deduper suppresses raw messages that were already ingested.
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, key string) bool
	Release(ctx context.Context, scope, key string) error
}

// Service turns a fetched message into a classified, indexed Message and
// notifies on Interested.
type Service struct {
	classifier Classifier
	store      store.Store
	dispatcher notifier.Dispatcher
	dedup      Deduper
	logger     *zap.Logger
	now        func() time.Time
}

// New builds the pipeline. dedup may be nil.
func New(c Classifier, s store.Store, d notifier.Dispatcher, dedup Deduper, logger *zap.Logger) *Service {
	return &Service{
		classifier: c,
		store:      s,
		dispatcher: d,
		dedup:      dedup,
		logger:     logger,
		now:        time.Now,
	}
}

// Process parses, classifies, indexes and, for Interested mail, notifies.
// A failed index write is returned as ErrPersist together with the message.
// The notification is still sent and the dedup key is released so the raw
// message can be replayed.
func (s *Service) Process(ctx context.Context, account string, raw listener.RawMessage, report func(listener.State)) (*model.Message, error) {
	ctx, end := otel.StartSpan(ctx, "ingest.process",
		attribute.String("account", account),
		attribute.Int64("imap.uid", int64(raw.UID)),
	)
	msg, err := s.process(ctx, account, raw, report)
	if errors.Is(err, ErrDuplicate) {
		end(nil)
	} else {
		end(err)
	}
	return msg, err
}

func (s *Service) process(ctx context.Context, account string, raw listener.RawMessage, report func(listener.State)) (*model.Message, error) {
	if report == nil {
		report = func(listener.State) {}
	}
	ctx = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, s.logger).With(zap.String("account", account), zap.Uint32("uid", raw.UID))

	report(listener.StateParsing)
	parsed, err := listener.Parse(raw.Data)
	if err != nil {
		metrics.IncrementIngestFailure(account, "parse")
		log.Warn("Failed to parse message", zap.Error(err))
		return nil, fmt.Errorf("%w: uid %d: %w", ErrParse, raw.UID, err)
	}

	fingerprint := util.Fingerprint([]byte(account), raw.Data)
	if s.dedup != nil && !s.dedup.AcquireOnce(ctx, "ingest", fingerprint) {
		log.Info("Duplicate message skipped", zap.String("fingerprint", fingerprint))
		return nil, ErrDuplicate
	}

	msg := &model.Message{
		ID:          uuid.NewString(),
		Account:     account,
		UID:         raw.UID,
		From:        parsed.From,
		To:          parsed.To,
		Subject:     parsed.Subject,
		Body:        parsed.Body,
		ReceivedAt:  s.receivedAt(parsed, raw),
		Folder:      model.FolderInbox,
		Fingerprint: fingerprint,
	}

	report(listener.StateClassifying)
	msg.Category = s.classifier.Classify(msg.Text())

	report(listener.StatePersisting)
	var persistErr error
	if err := s.store.Index(ctx, msg); err != nil {
		metrics.IncrementIngestFailure(account, "persist")
		log.Error("Failed to index message, replay manually",
			zap.String("message_id", msg.ID),
			zap.String("fingerprint", fingerprint),
			zap.String("category", string(msg.Category)),
			zap.Error(err),
		)
		persistErr = fmt.Errorf("%w: %w", ErrPersist, err)
		if s.dedup != nil {
			if err := s.dedup.Release(ctx, "ingest", fingerprint); err != nil {
				log.Warn("Failed to release dedup key", zap.String("fingerprint", fingerprint), zap.Error(err))
			}
		}
	}

	if msg.Category == model.CategoryInterested {
		report(listener.StateNotifying)
		s.dispatcher.Notify(ctx, notifier.NewEvent(msg))
	}

	metrics.IncrementEmailIngested(account, string(msg.Category))
	log.Info("Message ingested",
		zap.String("message_id", msg.ID),
		zap.String("category", string(msg.Category)),
	)
	return msg, persistErr
}

func (s *Service) receivedAt(p listener.Parsed, raw listener.RawMessage) time.Time {
	switch {
	case !p.Date.IsZero():
		return p.Date.UTC()
	case !raw.InternalDate.IsZero():
		return raw.InternalDate.UTC()
	default:
		return s.now().UTC()
	}
}
