package listener

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zwy923/onebox/pkg/config"
)

// Manager runs one Worker per account. Workers share nothing: a failed
// account does not stop the others.
type Manager struct {
	workers []*Worker
	logger  *zap.Logger
}

func NewManager(accounts []config.AccountConfig, dialer Dialer, proc Processor, cfg WorkerConfig, logger *zap.Logger) *Manager {
	m := &Manager{logger: logger}
	for _, acct := range accounts {
		m.workers = append(m.workers, NewWorker(acct, dialer, proc, cfg, logger))
	}
	return m
}

// Run blocks until every worker has returned. The returned error is the
// first worker failure, if any.
func (m *Manager) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, w := range m.workers {
		g.Go(func() error {
			err := w.Run(ctx)
			if err != nil {
				m.logger.Error("Account listener stopped", zap.String("account", w.acct.ID()), zap.Error(err))
			}
			return err
		})
	}
	return g.Wait()
}

func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.Status())
	}
	return out
}
