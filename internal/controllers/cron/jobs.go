package cron

import (
	"context"
	"time"

	"coordinator/internal/application/entity"
	"coordinator/internal/application/repo"

	"go.uber.org/zap"
)

// MaintenanceJob - уборка: терминальные записи сообщений старше окна хранения
// и мёртвые записи инстансов. На корректность протокола не влияет, только
// на размер таблиц.
type MaintenanceJob struct {
	repo           repo.Repo
	logger         *zap.SugaredLogger
	purgeAfterDays int
	instanceTTL    time.Duration
}

func NewMaintenanceJob(repo repo.Repo, logger *zap.SugaredLogger, purgeAfterDays int, instanceTTL time.Duration) *MaintenanceJob {
	return &MaintenanceJob{
		repo:           repo,
		logger:         logger,
		purgeAfterDays: purgeAfterDays,
		instanceTTL:    instanceTTL,
	}
}

func (j *MaintenanceJob) Run(ctx context.Context) {
	j.logger.Info("maintenance job started")

	defer func() {
		if r := recover(); r != nil {
			j.logger.Errorf("maintenance job panic: %v", r)
		}
	}()

	for _, d := range []entity.Direction{entity.DirectionInbound, entity.DirectionOutbound} {
		if _, err := j.repo.PurgeTerminalMessages(ctx, d, j.purgeAfterDays); err != nil {
			j.logger.Errorw("purge terminal messages failed", "direction", d, "err", err)
		}
	}

	// запись без heartbeat дольше TTL принадлежит умершему процессу;
	// её lease уже вернул шаг reclaim, саму строку можно удалять
	if n, err := j.repo.DeleteStaleInstances(ctx, j.instanceTTL); err != nil {
		j.logger.Errorw("delete stale instances failed", "err", err)
	} else if n > 0 {
		j.logger.Infof("deleted %d stale instance records", n)
	}

	j.logger.Info("maintenance job done")
}
