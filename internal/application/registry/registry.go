package registry

import (
	"context"
	"fmt"
	"time"

	"coordinator/internal/application/entity"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// Store - подмножество репозитория, нужное реестру инстансов.
type Store interface {
	RegisterInstance(ctx context.Context, id uuid.UUID) error
	Heartbeat(ctx context.Context, id uuid.UUID) error
	DeactivateInstance(ctx context.Context, id uuid.UUID) error
	ListActiveInstances(ctx context.Context, staleAfter time.Duration) ([]entity.ServiceInstance, error)
}

// Registry отвечает за жизненный цикл записи инстанса: регистрация на старте,
// периодический heartbeat, деактивация на shutdown. Чужие записи только
// читаются - для вычисления владения партициями.
type Registry interface {
	InstanceID() uuid.UUID
	Live(ctx context.Context) ([]uuid.UUID, error)
	RunHeartbeat(ctx context.Context)
	Shutdown(ctx context.Context) error
}

type RegistryImpl struct {
	store           Store
	logger          *zap.SugaredLogger
	instanceID      uuid.UUID
	heartbeatPeriod time.Duration
	staleAfter      time.Duration
}

func NewRegistry(store Store, logger *zap.SugaredLogger, heartbeatPeriod, staleAfter time.Duration) (*RegistryImpl, error) {
	// UUIDv7 - time-ordered id, один на жизнь процесса
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate instance id: %w", err)
	}
	if heartbeatPeriod <= 0 {
		heartbeatPeriod = 5 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	return &RegistryImpl{
		store:           store,
		logger:          logger,
		instanceID:      id,
		heartbeatPeriod: heartbeatPeriod,
		staleAfter:      staleAfter,
	}, nil
}

func (r *RegistryImpl) InstanceID() uuid.UUID {
	return r.instanceID
}

func (r *RegistryImpl) Register(ctx context.Context) error {
	if err := r.store.RegisterInstance(ctx, r.instanceID); err != nil {
		return err
	}
	r.logger.Infof("[instance %s] registered", r.instanceID)
	return nil
}

// RunHeartbeat обновляет heartbeat до отмены контекста. Сбой heartbeat -
// транзитная ошибка: логируем и ждём следующего тика, lease нас переживут
// до staleAfter.
func (r *RegistryImpl) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Infof("[instance %s] heartbeat stopping", r.instanceID)
			return
		case <-ticker.C:
			if err := r.store.Heartbeat(ctx, r.instanceID); err != nil {
				r.logger.Errorw("heartbeat failed", "instance", r.instanceID, "err", err)
			}
		}
	}
}

// Live возвращает живые инстансы. Свой id добавляется всегда: даже при
// отставшем heartbeat инстанс обязан считать себя живым, иначе он не
// сможет claim-ить собственные свежие сообщения.
func (r *RegistryImpl) Live(ctx context.Context) ([]uuid.UUID, error) {
	instances, err := r.store.ListActiveInstances(ctx, r.staleAfter)
	if err != nil {
		return nil, err
	}
	live := make([]uuid.UUID, 0, len(instances)+1)
	foundSelf := false
	for _, inst := range instances {
		live = append(live, inst.InstanceID)
		if inst.InstanceID == r.instanceID {
			foundSelf = true
		}
	}
	if !foundSelf {
		live = append(live, r.instanceID)
	}
	return live, nil
}

func (r *RegistryImpl) Shutdown(ctx context.Context) error {
	return r.store.DeactivateInstance(ctx, r.instanceID)
}
