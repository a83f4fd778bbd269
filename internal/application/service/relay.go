package service

import (
	"context"
	"errors"
	"sync"

	"coordinator/internal/application/entity"
	"coordinator/internal/transport"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// PublisherWorker дренирует исходящие сообщения: interval-стратегия выдаёт
// claimed батчи, процессор потоков гонит их через транспорт с сохранением
// порядка внутри потока, результаты уходят обратно следующим flush-ем той же
// стратегии.
type PublisherWorker struct {
	strategy  *Interval
	transport transport.Transport
	proc      *StreamProcessor
	consumer  *ConsumerWorker // опционально: inbound, попавший в наши батчи
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func NewPublisherWorker(s *Interval, t transport.Transport, proc *StreamProcessor, consumer *ConsumerWorker, logger *zap.SugaredLogger) *PublisherWorker {
	return &PublisherWorker{
		strategy:  s,
		transport: t,
		proc:      proc,
		consumer:  consumer,
		logger:    logger,
		inFlight:  make(map[uuid.UUID]struct{}),
	}
}

func (w *PublisherWorker) Run(ctx context.Context) {
	w.logger.Infow("publisher started")

	go w.strategy.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("publisher stopping")
			return
		case batch := <-w.strategy.Batches():
			w.logger.Debugf("publisher batch: outbound=%d inbound=%d", len(batch.Outbound), len(batch.Inbound))
			if outbound := w.admit(batch.Outbound); len(outbound) > 0 {
				w.proc.Process(ctx, outbound, w.PublishOne, w.strategy)
				w.releaseAll(outbound)
			}
			// claim возвращает обе стороны: подобранный по дороге inbound
			// (например, после истечения чужого lease) тоже обрабатываем
			if w.consumer != nil {
				if inbound := w.admit(batch.Inbound); len(inbound) > 0 {
					w.proc.Process(ctx, inbound, w.consumer.HandleOne, w.strategy)
					w.releaseAll(inbound)
				}
			}
		}
	}
}

// admit отсеивает избыточную выдачу: сообщение, которое этот процесс уже
// обрабатывает, или результат которого ещё не сброшен в БД, второй раз в
// транспорт не идёт. Такая выдача возможна из устаревшего батча, собранного
// до того, как completion попал в claim-вызов.
func (w *PublisherWorker) admit(items []*entity.Message) []*entity.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []*entity.Message
	for _, m := range items {
		if _, busy := w.inFlight[m.MessageID]; busy {
			w.logger.Debugf("[message %s] already in flight, skipped", m.MessageID)
			continue
		}
		if w.strategy.HasPendingResult(m.MessageID) {
			w.logger.Debugf("[message %s] result not yet flushed, skipped", m.MessageID)
			continue
		}
		w.inFlight[m.MessageID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// releaseAll снимает пометку in-flight после того, как процессор положил
// результаты в буфер стратегии: следующий claim-вызов применит их до скана
// кандидатов, так что повторная выдача завершённой работы невозможна.
func (w *PublisherWorker) releaseAll(items []*entity.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range items {
		delete(w.inFlight, m.MessageID)
	}
}

// PublishOne отдаёт одно сообщение транспорту и превращает классификацию
// исхода в completion либо failure. Любой сбой - это QueueFailure, не паника
// и не смерть цикла. Готовность маршрута транспорт проверяет сам по
// destination сообщения.
func (w *PublisherWorker) PublishOne(ctx context.Context, m *entity.Message) ProcessResult {
	res := w.transport.Publish(ctx, m)
	switch res.Outcome {
	case transport.Success:
		return ProcessResult{Bits: entity.StatusPublished}
	case transport.PermanentFailure:
		return ProcessResult{Err: res.Err, Reason: entity.FailurePermanent}
	default:
		err := res.Err
		if err == nil {
			err = errors.New("transport retryable failure")
		}
		return ProcessResult{Err: err, Reason: entity.FailureRetryable}
	}
}
