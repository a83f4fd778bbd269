package service

import (
	"context"
	"sync"
	"time"

	"coordinator/internal/application/entity"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// Strategy - взаимозаменяемая политика батчирования: когда накопленные
// операции уходят через координатор. Flush с пустым буфером тоже осмыслен:
// шаг claim выполняется всегда и выгребает накопившийся backlog.
type Strategy interface {
	QueueMessage(m *entity.Message)
	QueueCompletion(c entity.Completion)
	QueueFailure(f entity.Failure)
	Flush(ctx context.Context) (*entity.ClaimedBatch, error)
}

// ResultSink - куда процессор потоков складывает результаты callback-ов.
// Каждая стратегия является sink-ом для своей порции работы.
type ResultSink interface {
	QueueCompletion(c entity.Completion)
	QueueFailure(f entity.Failure)
}

// buffer - общий накопитель всех трёх стратегий.
type buffer struct {
	mu  sync.Mutex
	ops Ops
}

func (b *buffer) queueMessage(m *entity.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.Direction == entity.DirectionInbound {
		b.ops.NewInbound = append(b.ops.NewInbound, m)
	} else {
		b.ops.NewOutbound = append(b.ops.NewOutbound, m)
	}
}

func (b *buffer) queueCompletion(c entity.Completion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops.Completions = append(b.ops.Completions, c)
}

func (b *buffer) queueFailure(f entity.Failure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops.Failures = append(b.ops.Failures, f)
}

// take атомарно забирает накопленное и очищает буфер.
func (b *buffer) take() Ops {
	b.mu.Lock()
	defer b.mu.Unlock()
	ops := b.ops
	b.ops = Ops{}
	return ops
}

// ===== Immediate =====

// Immediate - каждый queue-вызов немедленно уходит в координатор. Минимальная
// задержка, максимальная нагрузка на БД; для низкообъёмных latency-критичных
// путей. Результат немедленного flush отдаётся следующим вызовом Flush.
type Immediate struct {
	coordinator Coordinator
	logger      *zap.SugaredLogger

	mu      sync.Mutex
	pending *entity.ClaimedBatch
	lastErr error
}

func NewImmediate(c Coordinator, logger *zap.SugaredLogger) *Immediate {
	return &Immediate{coordinator: c, logger: logger}
}

func (s *Immediate) QueueMessage(m *entity.Message) {
	ops := Ops{}
	if m.Direction == entity.DirectionInbound {
		ops.NewInbound = []*entity.Message{m}
	} else {
		ops.NewOutbound = []*entity.Message{m}
	}
	s.flushNow(ops)
}

func (s *Immediate) QueueCompletion(c entity.Completion) {
	s.flushNow(Ops{Completions: []entity.Completion{c}})
}

func (s *Immediate) QueueFailure(f entity.Failure) {
	s.flushNow(Ops{Failures: []entity.Failure{f}})
}

func (s *Immediate) flushNow(ops Ops) {
	batch, err := s.coordinator.Flush(context.Background(), ops)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Errorw("immediate flush failed", "err", err)
		s.lastErr = err
		return
	}
	s.pending = mergeBatches(s.pending, batch)
}

// Flush отдаёт работу, полученную немедленными сбросами, и добирает claim.
func (s *Immediate) Flush(ctx context.Context) (*entity.ClaimedBatch, error) {
	s.mu.Lock()
	pending := s.pending
	lastErr := s.lastErr
	s.pending = nil
	s.lastErr = nil
	s.mu.Unlock()

	if lastErr != nil {
		return pending, lastErr
	}
	batch, err := s.coordinator.Flush(ctx, Ops{})
	if err != nil {
		return pending, err
	}
	return mergeBatches(pending, batch), nil
}

// ===== Scoped =====

// Scoped - операции копятся на время scope (одна входящая доставка) и уходят
// ровно одним flush при его завершении. Детерминированная семантика
// "получилась ли эта единица работы".
type Scoped struct {
	coordinator Coordinator
	logger      *zap.SugaredLogger
	buf         buffer
}

func NewScoped(c Coordinator, logger *zap.SugaredLogger) *Scoped {
	return &Scoped{coordinator: c, logger: logger}
}

func (s *Scoped) QueueMessage(m *entity.Message) { s.buf.queueMessage(m) }
func (s *Scoped) QueueCompletion(c entity.Completion) { s.buf.queueCompletion(c) }
func (s *Scoped) QueueFailure(f entity.Failure) { s.buf.queueFailure(f) }

func (s *Scoped) Flush(ctx context.Context) (*entity.ClaimedBatch, error) {
	return s.coordinator.Flush(ctx, s.buf.take())
}

// ===== Interval =====

const defaultFlushInterval = 100 * time.Millisecond

// Interval - фоновый таймер сбрасывает накопленное с фиксированной частотой
// независимо от границ scope. Максимальный размер батча, минимум
// round-trip-ов в БД, ценой задержки до одного интервала.
type Interval struct {
	coordinator Coordinator
	logger      *zap.SugaredLogger
	interval    time.Duration
	buf         buffer
	batches     chan *entity.ClaimedBatch
}

func NewInterval(c Coordinator, logger *zap.SugaredLogger, interval time.Duration) *Interval {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Interval{
		coordinator: c,
		logger:      logger,
		interval:    interval,
		batches:     make(chan *entity.ClaimedBatch, 1),
	}
}

func (s *Interval) QueueMessage(m *entity.Message) { s.buf.queueMessage(m) }
func (s *Interval) QueueCompletion(c entity.Completion) { s.buf.queueCompletion(c) }
func (s *Interval) QueueFailure(f entity.Failure) { s.buf.queueFailure(f) }

func (s *Interval) Flush(ctx context.Context) (*entity.ClaimedBatch, error) {
	return s.coordinator.Flush(ctx, s.buf.take())
}

// Batches - непустые порции claimed-работы, выданные фоновыми сбросами.
func (s *Interval) Batches() <-chan *entity.ClaimedBatch {
	return s.batches
}

// HasPendingResult сообщает, лежит ли в буфере ещё не сброшенный
// completion или failure для сообщения.
func (s *Interval) HasPendingResult(id uuid.UUID) bool {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()
	for _, c := range s.buf.ops.Completions {
		if c.MessageID == id {
			return true
		}
	}
	for _, f := range s.buf.ops.Failures {
		if f.MessageID == id {
			return true
		}
	}
	return false
}

// Run гоняет фоновый таймер до отмены контекста. Сбой flush - транзитный:
// операции остаются в буфере и уйдут следующим тиком.
func (s *Interval) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("interval strategy stopping")
			return
		case <-ticker.C:
			ops := s.buf.take()
			batch, err := s.coordinator.Flush(ctx, ops)
			if err != nil {
				s.logger.Errorw("interval flush failed", "err", err)
				s.requeue(ops)
				continue
			}
			if batch.Empty() {
				continue
			}
			select {
			case s.batches <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

// requeue возвращает операции в буфер после транзитного сбоя. Повторная
// отправка безопасна: вставка идемпотентна по message_id, а OR статусных
// битов идемпотентен по построению.
func (s *Interval) requeue(ops Ops) {
	for _, m := range ops.NewInbound {
		s.buf.queueMessage(m)
	}
	for _, m := range ops.NewOutbound {
		s.buf.queueMessage(m)
	}
	for _, c := range ops.Completions {
		s.buf.queueCompletion(c)
	}
	for _, f := range ops.Failures {
		s.buf.queueFailure(f)
	}
}

func mergeBatches(a, b *entity.ClaimedBatch) *entity.ClaimedBatch {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &entity.ClaimedBatch{
		Inbound:  append(a.Inbound, b.Inbound...),
		Outbound: append(a.Outbound, b.Outbound...),
	}
}
