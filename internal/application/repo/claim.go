package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coordinator/internal/application/common"
	"coordinator/internal/application/entity"
	"coordinator/internal/application/partition"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
)

// ClaimWorkBatch выполняет все шаги протокола одной транзакцией:
// вставка новых сообщений, применение completions/failures, возврат
// протухших lease, выдача новых claim, условная запись в event log.
// Либо всё, либо ничего - транзитный сбой БД не оставляет полусостояний.
func (r *RepoImpl) ClaimWorkBatch(ctx context.Context, in *entity.ClaimInput) (*entity.ClaimedBatch, error) {
	r.logger.Debugf("[instance %s] ClaimWorkBatch started: new=%d/%d completions=%d failures=%d live=%d",
		in.InstanceID, len(in.NewInbound), len(in.NewOutbound), len(in.Completions), len(in.Failures), len(in.LiveInstances))

	batch := &entity.ClaimedBatch{}
	err := r.db.WithinTransaction(ctx, func(txCtx context.Context) error {
		newlyStored, err := r.insertNewMessages(txCtx, in)
		if err != nil {
			return err
		}
		if err := r.applyCompletions(txCtx, in.Completions); err != nil {
			return err
		}
		if err := r.applyFailures(txCtx, in.Failures); err != nil {
			return err
		}
		orphaned, err := r.reclaimExpired(txCtx)
		if err != nil {
			return err
		}

		for _, d := range []entity.Direction{entity.DirectionInbound, entity.DirectionOutbound} {
			claimed, err := r.claimDirection(txCtx, d, in, newlyStored, orphaned)
			if err != nil {
				return err
			}
			if d == entity.DirectionInbound {
				batch.Inbound = claimed
			} else {
				batch.Outbound = claimed
			}
		}

		return r.appendEvents(txCtx, in, newlyStored)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debugf("[instance %s] ClaimWorkBatch done: claimed inbound=%d outbound=%d",
		in.InstanceID, len(batch.Inbound), len(batch.Outbound))
	return batch, nil
}

// insertNewMessages - шаг 1: условная вставка (insert-if-absent по message_id).
// Возвращает множество реально вставленных id; дубликат помечается флагом
// AlreadyExisted и больше никак не наказывается.
func (r *RepoImpl) insertNewMessages(ctx context.Context, in *entity.ClaimInput) (map[uuid.UUID]bool, error) {
	newlyStored := make(map[uuid.UUID]bool)

	insert := func(d entity.Direction, msgs []*entity.Message) error {
		q := fmt.Sprintf(insertMessageSQL, msgTable(d))
		for _, m := range msgs {
			m.Direction = d
			m.PartitionNumber = partition.For(m.StreamKey())
			m.Status |= entity.StatusStored

			err := r.db.QueryRow(ctx, q,
				m.MessageID, m.Destination, m.MessageType, []byte(m.Payload), metadataOrNull(m),
				m.StreamID, m.PartitionNumber, m.IsEvent, entity.StatusStored,
			).Scan(&m.SequenceOrder)

			switch {
			case err == nil:
				m.Flags |= entity.FlagNewlyStored
				newlyStored[m.MessageID] = true
			case errors.Is(err, pgx.ErrNoRows):
				// ON CONFLICT DO NOTHING вернул 0 строк - сообщение уже хранится
				r.logger.Debugf("[message %s] idempotent hit: already stored", m.MessageID)
				m.Flags |= entity.FlagAlreadyExisted
			case isDuplicateKeyError(err):
				r.logger.Debugf("[message %s] idempotent hit: duplicate key", m.MessageID)
				m.Flags |= entity.FlagAlreadyExisted
			default:
				return fmt.Errorf("insert %s message: %w", d, err)
			}
		}
		return nil
	}

	if err := insert(entity.DirectionInbound, in.NewInbound); err != nil {
		return nil, err
	}
	if err := insert(entity.DirectionOutbound, in.NewOutbound); err != nil {
		return nil, err
	}
	return newlyStored, nil
}

// applyCompletions - шаг 2: OR статусных битов; при достижении терминальной
// маски направление завершено и lease снимается.
func (r *RepoImpl) applyCompletions(ctx context.Context, completions []entity.Completion) error {
	for _, c := range completions {
		q := fmt.Sprintf(applyCompletionSQL, msgTable(c.Direction))
		result, err := r.db.Exec(ctx, q, c.MessageID, c.Bits, entity.DoneMask(c.Direction))
		if err != nil {
			return fmt.Errorf("apply completion: %w", err)
		}
		if result.RowsAffected() == 0 {
			r.logger.Warnf("[message %s] completion for unknown message", c.MessageID)
		}
	}
	return nil
}

// applyFailures - шаг 3: Failed бит, текст ошибки, attempts+1, экспоненциальный
// backoff в scheduled_for, снятие lease. Перманентный отказ паркует запись.
func (r *RepoImpl) applyFailures(ctx context.Context, failures []entity.Failure) error {
	for _, f := range failures {
		q := fmt.Sprintf(applyFailureSQL, msgTable(f.Direction))
		permanent := f.Reason == entity.FailurePermanent
		result, err := r.db.Exec(ctx, q, f.MessageID, f.Bits|entity.StatusFailed, f.Error, permanent, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("apply failure: %w", err)
		}
		if result.RowsAffected() == 0 {
			r.logger.Warnf("[message %s] failure for unknown message", f.MessageID)
		} else {
			r.logger.Infof("[message %s] failure recorded: reason=%s err=%s", f.MessageID, f.Reason, f.Error)
		}
	}
	return nil
}

// reclaimExpired - шаг 4: снятие протухших lease. Это не ошибка, а механизм
// самовосстановления после падения инстанса посреди обработки.
func (r *RepoImpl) reclaimExpired(ctx context.Context) (map[uuid.UUID]bool, error) {
	orphaned := make(map[uuid.UUID]bool)
	for _, d := range []entity.Direction{entity.DirectionInbound, entity.DirectionOutbound} {
		q := fmt.Sprintf(reclaimExpiredSQL, msgTable(d))
		rows, err := r.db.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("reclaim expired %s: %w", d, err)
		}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan reclaimed id: %w", err)
			}
			orphaned[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("reclaim rows err: %w", err)
		}
	}
	if len(orphaned) > 0 {
		r.logger.Infof("reclaimed %d expired leases", len(orphaned))
	}
	return orphaned, nil
}

// claimDirection - шаг 5: блокирующее чтение кандидатов со SKIP LOCKED,
// фильтр по владению партицией на стороне Go, выдача lease победителям.
// Шаг reclaim уже вернул просроченные lease в пул, поэтому кандидаты -
// строго строки без владельца: работа, выданная раньше и ещё не завершённая,
// повторно не выдаётся до истечения своего lease. Иначе каждый фоновый flush
// выдавал бы in-flight сообщение заново и транспорт публиковал бы его дважды.
func (r *RepoImpl) claimDirection(ctx context.Context, d entity.Direction, in *entity.ClaimInput, newlyStored, orphaned map[uuid.UUID]bool) ([]*entity.Message, error) {
	table := msgTable(d)

	rows, err := r.db.Query(ctx, fmt.Sprintf(pickCandidatesSQL, table),
		entity.DoneMask(d), r.claimLimit)
	if err != nil {
		return nil, fmt.Errorf("pick %s candidates: %w", d, err)
	}

	var candidates []*entity.Message
	for rows.Next() {
		m := &entity.Message{Direction: d}
		if err := rows.Scan(
			&m.MessageID, &m.Destination, &m.MessageType, &m.Payload, &m.Metadata,
			&m.StreamID, &m.PartitionNumber, &m.IsEvent, &m.Status, &m.SequenceOrder,
			&m.InstanceID, &m.LeaseExpiry, &m.Attempts, &m.ScheduledFor, &m.Error, &m.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan %s candidate: %w", d, err)
		}
		candidates = append(candidates, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s candidate rows err: %w", d, err)
	}

	var claimed []*entity.Message
	var ids []string
	for _, m := range candidates {
		if !partition.Owns(in.InstanceID, m.StreamKey(), in.LiveInstances) {
			continue
		}
		claimed = append(claimed, m)
		ids = append(ids, m.MessageID.String())
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	leased, err := r.db.Query(ctx, fmt.Sprintf(grantLeaseSQL, table),
		in.InstanceID, common.PgInterval(in.Lease), ids)
	if err != nil {
		return nil, fmt.Errorf("grant %s lease: %w", d, err)
	}
	expiries := make(map[uuid.UUID]time.Time, len(claimed))
	for leased.Next() {
		var id uuid.UUID
		var exp time.Time
		if err := leased.Scan(&id, &exp); err != nil {
			leased.Close()
			return nil, fmt.Errorf("scan %s lease grant: %w", d, err)
		}
		expiries[id] = exp
	}
	leased.Close()
	if err := leased.Err(); err != nil {
		return nil, fmt.Errorf("%s lease rows err: %w", d, err)
	}

	caller := in.InstanceID
	for _, m := range claimed {
		m.InstanceID = &caller
		if exp, ok := expiries[m.MessageID]; ok {
			leaseExpiry := exp
			m.LeaseExpiry = &leaseExpiry
		}
		if newlyStored[m.MessageID] {
			m.Flags |= entity.FlagNewlyStored
		} else {
			m.Flags |= entity.FlagAlreadyExisted
		}
		if orphaned[m.MessageID] {
			m.Flags |= entity.FlagOrphaned
		}
	}
	return claimed, nil
}

// appendEvents - шаг 6: условная запись в event log для свежих сообщений,
// явно помеченных как событие, с непустым stream_id.
func (r *RepoImpl) appendEvents(ctx context.Context, in *entity.ClaimInput, newlyStored map[uuid.UUID]bool) error {
	all := make([]*entity.Message, 0, len(in.NewInbound)+len(in.NewOutbound))
	all = append(all, in.NewInbound...)
	all = append(all, in.NewOutbound...)

	for _, m := range all {
		if !newlyStored[m.MessageID] || !m.IsEvent || m.StreamID == nil || *m.StreamID == "" {
			continue
		}
		if _, err := r.db.Exec(ctx, appendEventLogSQL, *m.StreamID, m.MessageType, []byte(m.Payload)); err != nil {
			return fmt.Errorf("append event log: %w", err)
		}
		q := fmt.Sprintf(markLogAppendedSQL, msgTable(m.Direction))
		if _, err := r.db.Exec(ctx, q, m.MessageID, entity.StatusAppendedToLog); err != nil {
			return fmt.Errorf("mark log appended: %w", err)
		}
		m.Status |= entity.StatusAppendedToLog
	}
	return nil
}

func metadataOrNull(m *entity.Message) []byte {
	if len(m.Metadata) == 0 {
		return []byte("{}")
	}
	return []byte(m.Metadata)
}
