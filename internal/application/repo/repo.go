package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coordinator/internal/application/common"
	"coordinator/internal/application/entity"
	"coordinator/pkg/db"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type Repo interface {
	// ClaimWorkBatch - единственная операция над таблицами сообщений.
	// Прямых ad-hoc записей в обход неё нет: любая мутация ломала бы
	// атомарность и инварианты владения.
	ClaimWorkBatch(ctx context.Context, in *entity.ClaimInput) (*entity.ClaimedBatch, error)

	RegisterInstance(ctx context.Context, id uuid.UUID) error
	Heartbeat(ctx context.Context, id uuid.UUID) error
	DeactivateInstance(ctx context.Context, id uuid.UUID) error
	ListActiveInstances(ctx context.Context, staleAfter time.Duration) ([]entity.ServiceInstance, error)
	DeleteStaleInstances(ctx context.Context, olderThan time.Duration) (int64, error)

	// ReadEventLog - хвост журнала потока для replay: записи с version > after.
	ReadEventLog(ctx context.Context, streamID string, after int64, limit int) ([]entity.EventLogRecord, error)

	PurgeTerminalMessages(ctx context.Context, d entity.Direction, olderThanDays int) (int64, error)

	HealthCheck(ctx context.Context) error
}

type RepoImpl struct {
	db          db.DB
	logger      *zap.SugaredLogger
	claimLimit  int
	maxAttempts int
}

func NewRepo(db db.DB, logger *zap.SugaredLogger, claimLimit, maxAttempts int) *RepoImpl {
	if claimLimit <= 0 {
		claimLimit = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &RepoImpl{db: db, logger: logger, claimLimit: claimLimit, maxAttempts: maxAttempts}
}

func msgTable(d entity.Direction) string {
	if d == entity.DirectionInbound {
		return "inbound_message"
	}
	return "outbound_message"
}

func (r *RepoImpl) HealthCheck(ctx context.Context) error {
	var result int
	if err := r.db.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (r *RepoImpl) RegisterInstance(ctx context.Context, id uuid.UUID) error {
	r.logger.Debugf("[instance %s] register started", id)
	if _, err := r.db.Exec(ctx, upsertInstanceSQL, id); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	return nil
}

func (r *RepoImpl) Heartbeat(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, upsertInstanceSQL, id); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (r *RepoImpl) DeactivateInstance(ctx context.Context, id uuid.UUID) error {
	r.logger.Debugf("[instance %s] deactivate started", id)
	result, err := r.db.Exec(ctx, deactivateInstanceSQL, id)
	if err != nil {
		return fmt.Errorf("deactivate instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		r.logger.Warnf("[instance %s] deactivate: no rows updated", id)
	}
	return nil
}

func (r *RepoImpl) ListActiveInstances(ctx context.Context, staleAfter time.Duration) ([]entity.ServiceInstance, error) {
	rows, err := r.db.Query(ctx, listActiveInstancesSQL, common.PgInterval(staleAfter))
	if err != nil {
		return nil, fmt.Errorf("list active instances: %w", err)
	}
	defer rows.Close()

	var live []entity.ServiceInstance
	for rows.Next() {
		var inst entity.ServiceInstance
		if err := rows.Scan(&inst.InstanceID, &inst.Active, &inst.Heartbeat); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		live = append(live, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("instance rows err: %w", err)
	}
	return live, nil
}

func (r *RepoImpl) ReadEventLog(ctx context.Context, streamID string, after int64, limit int) ([]entity.EventLogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, readEventLogSQL, streamID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	defer rows.Close()

	var records []entity.EventLogRecord
	for rows.Next() {
		var rec entity.EventLogRecord
		if err := rows.Scan(&rec.Sequence, &rec.StreamID, &rec.Version, &rec.EventType, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event log record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event log rows err: %w", err)
	}
	return records, nil
}

func (r *RepoImpl) DeleteStaleInstances(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.db.Exec(ctx, deleteStaleInstancesSQL, common.PgInterval(olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete stale instances: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *RepoImpl) PurgeTerminalMessages(ctx context.Context, d entity.Direction, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		r.logger.Warnf("purge %s: olderThanDays=%d, skipping to prevent deleting fresh rows", d, olderThanDays)
		return 0, nil
	}

	q := fmt.Sprintf(purgeTerminalSQL, msgTable(d))
	result, err := r.db.Exec(ctx, q, entity.DoneMask(d), olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("purge terminal %s: %w", d, err)
	}
	if n := result.RowsAffected(); n > 0 {
		r.logger.Infof("purged %d terminal %s messages older than %d days", n, d, olderThanDays)
		return n, nil
	}
	return 0, nil
}

// isDuplicateKeyError проверяет SQLSTATE 23505
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
