package service

import (
	"context"
	"fmt"
	"time"

	"coordinator/internal/appers"
	"coordinator/internal/application/entity"
	"coordinator/internal/application/registry"
	"coordinator/internal/application/repo"
	"coordinator/pkg/metrics"

	"go.uber.org/zap"
)

// Ops - накопленные операции одного flush: новые сообщения плюс отчёты
// о завершениях и сбоях предыдущей порции работы.
type Ops struct {
	NewInbound  []*entity.Message
	NewOutbound []*entity.Message
	Completions []entity.Completion
	Failures    []entity.Failure
}

func (o *Ops) Empty() bool {
	return len(o.NewInbound) == 0 && len(o.NewOutbound) == 0 &&
		len(o.Completions) == 0 && len(o.Failures) == 0
}

// Coordinator - клиентский фасад атомарного claim-протокола: сериализует
// накопленные операции в один вызов ClaimWorkBatch и возвращает выданную
// работу. Единственная точка кросс-инстансной синхронизации.
type Coordinator interface {
	Flush(ctx context.Context, ops Ops) (*entity.ClaimedBatch, error)
	HealthCheck(ctx context.Context) error
}

type CoordinatorImpl struct {
	repo     repo.Repo
	registry registry.Registry
	logger   *zap.SugaredLogger
	lease    time.Duration
	m        *metrics.Metrics
}

func NewCoordinator(repo repo.Repo, reg registry.Registry, logger *zap.SugaredLogger, lease time.Duration, m *metrics.Metrics) *CoordinatorImpl {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &CoordinatorImpl{
		repo:     repo,
		registry: reg,
		logger:   logger,
		lease:    lease,
		m:        m,
	}
}

func (c *CoordinatorImpl) HealthCheck(ctx context.Context) error {
	return c.repo.HealthCheck(ctx)
}

func (c *CoordinatorImpl) Flush(ctx context.Context, ops Ops) (*entity.ClaimedBatch, error) {
	live, err := c.registry.Live(ctx)
	if err != nil {
		return nil, fmt.Errorf("list live instances: %w", err)
	}
	if len(live) == 0 {
		return nil, appers.ErrNoLiveInstances
	}

	in := &entity.ClaimInput{
		InstanceID:    c.registry.InstanceID(),
		NewInbound:    ops.NewInbound,
		NewOutbound:   ops.NewOutbound,
		Completions:   ops.Completions,
		Failures:      ops.Failures,
		Lease:         c.lease,
		LiveInstances: live,
	}

	t0 := time.Now()
	batch, err := c.repo.ClaimWorkBatch(ctx, in)
	rt := time.Since(t0)

	if c.m != nil {
		res := "ok"
		if err != nil {
			res = "error"
		}
		c.m.Claim.DurationSeconds.WithLabelValues(res).Observe(rt.Seconds())
	}
	if err != nil {
		// транзитный сбой: транзакция атомарна, состояние не испорчено,
		// вызывающий повторит на своём обычном цикле
		return nil, fmt.Errorf("claim work batch: %w", err)
	}

	if c.m != nil {
		c.m.Claim.ClaimedTotal.WithLabelValues(string(entity.DirectionInbound)).Add(float64(len(batch.Inbound)))
		c.m.Claim.ClaimedTotal.WithLabelValues(string(entity.DirectionOutbound)).Add(float64(len(batch.Outbound)))
		c.m.Claim.LiveInstances.Set(float64(len(live)))
	}
	return batch, nil
}
