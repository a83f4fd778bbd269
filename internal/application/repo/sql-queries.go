package repo

// Таблицы inbound_message / outbound_message одинаковой формы, поэтому
// запросы параметризованы именем таблицы через msgTable().

const insertMessageSQL = `
INSERT INTO %s (
  message_id, destination, message_type, payload, metadata,
  stream_id, partition_number, is_event, status, attempts, scheduled_for, error, created_at
) VALUES ($1,$2,$3,($4)::jsonb,($5)::jsonb,$6,$7,$8,$9,0,now(),'',now())
ON CONFLICT (message_id) DO NOTHING
RETURNING sequence_order;
`

const applyCompletionSQL = `
UPDATE %s SET
  status = status | $2,
  instance_id  = CASE WHEN ((status | $2) & $3) = $3 THEN NULL ELSE instance_id END,
  lease_expiry = CASE WHEN ((status | $2) & $3) = $3 THEN NULL ELSE lease_expiry END
WHERE message_id = $1;
`

// Повтор планируется в БД: now() + 2^attempts секунд с потолком 30 минут.
// Перманентный отказ (или attempts+1 >= maxAttempts) паркует запись:
// scheduled_for = NULL исключает её из claim-сканов навсегда.
const applyFailureSQL = `
UPDATE %s SET
  status = status | $2,
  error = $3,
  attempts = attempts + 1,
  scheduled_for = CASE
    WHEN $4 OR attempts + 1 >= $5 THEN NULL
    ELSE now() + (interval '1 second' * LEAST(power(2, attempts + 1), 1800))
  END,
  instance_id = NULL,
  lease_expiry = NULL
WHERE message_id = $1;
`

const reclaimExpiredSQL = `
UPDATE %s SET instance_id = NULL, lease_expiry = NULL
WHERE lease_expiry IS NOT NULL AND lease_expiry < now()
RETURNING message_id;
`

// Кандидаты на claim: не терминальные, наступил scheduled_for и нет lease.
// Строка под действующим lease, включая собственный, в работе и выдаче не
// подлежит: повторная выдача происходит только через reclaim просроченного
// lease шагом раньше. SKIP LOCKED - конкурирующий claim не блокирует.
const pickCandidatesSQL = `
SELECT message_id, destination, message_type, payload, metadata,
       stream_id, partition_number, is_event, status, sequence_order,
       instance_id, lease_expiry, attempts, scheduled_for, error, created_at
FROM %s
WHERE (status & $1) <> $1
  AND scheduled_for IS NOT NULL AND scheduled_for <= now()
  AND instance_id IS NULL
ORDER BY sequence_order
FOR UPDATE SKIP LOCKED
LIMIT $2;
`

const grantLeaseSQL = `
UPDATE %s SET instance_id = $1, lease_expiry = now() + $2::interval
WHERE message_id = ANY($3::uuid[])
RETURNING message_id, lease_expiry;
`

// Версия события выдаётся как max+1 внутри транзакции; гонку закрывает
// уникальный индекс (stream_id, version) - проигравший insert молча исчезает.
const appendEventLogSQL = `
INSERT INTO event_log (stream_id, version, event_type, payload, created_at)
SELECT $1, COALESCE(MAX(version), 0) + 1, $2, ($3)::jsonb, now()
FROM event_log WHERE stream_id = $1
ON CONFLICT (stream_id, version) DO NOTHING;
`

const markLogAppendedSQL = `
UPDATE %s SET status = status | $2 WHERE message_id = $1;
`

// INSTANCE REGISTRY

const upsertInstanceSQL = `
INSERT INTO service_instance (instance_id, active, heartbeat)
VALUES ($1, true, now())
ON CONFLICT (instance_id) DO UPDATE SET active = true, heartbeat = now();
`

const deactivateInstanceSQL = `
UPDATE service_instance SET active = false WHERE instance_id = $1;
`

const listActiveInstancesSQL = `
SELECT instance_id, active, heartbeat FROM service_instance
WHERE active AND heartbeat >= now() - $1::interval
ORDER BY instance_id;
`

const deleteStaleInstancesSQL = `
DELETE FROM service_instance WHERE heartbeat < now() - $1::interval;
`

const readEventLogSQL = `
SELECT id, stream_id, version, event_type, payload, created_at
FROM event_log
WHERE stream_id = $1 AND version > $2
ORDER BY version
LIMIT $3;
`

// MAINTENANCE

const purgeTerminalSQL = `
DELETE FROM %s
WHERE (status & $1) = $1 AND created_at < now() - make_interval(days => $2);
`
