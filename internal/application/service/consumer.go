package service

import (
	"context"
	"errors"

	"coordinator/internal/appers"
	"coordinator/internal/application/entity"
	"coordinator/internal/application/handlers"

	"go.uber.org/zap"
)

// ConsumerWorker - тонкая оркестрация входящего пути: одна доставка из
// транспорта = один scope. Flush сохраняет сообщение и возвращает claimed
// работу; дубликаты и чужие партиции отсеиваются сами.
type ConsumerWorker struct {
	coordinator Coordinator
	handlers    *handlers.Registry
	proc        *StreamProcessor
	logger      *zap.SugaredLogger
	publish     ProcessFunc // outbound, попавший в батчи этого scope
}

func NewConsumerWorker(c Coordinator, reg *handlers.Registry, proc *StreamProcessor, logger *zap.SugaredLogger) *ConsumerWorker {
	return &ConsumerWorker{
		coordinator: c,
		handlers:    reg,
		proc:        proc,
		logger:      logger,
	}
}

// SetPublishFunc подключает публикацию исходящих к входящему пути. Ставится
// один раз при сборке приложения, до старта потребителя.
func (w *ConsumerWorker) SetPublishFunc(fn ProcessFunc) { w.publish = fn }

// HandleDelivery обрабатывает одну входящую доставку. Возвращаемая ошибка -
// только транзитный сбой claim-вызова: транспорт перепредъявит доставку, и
// идемпотентная вставка поглотит повтор.
func (w *ConsumerWorker) HandleDelivery(ctx context.Context, msg *entity.Message) error {
	msg.Direction = entity.DirectionInbound

	scope := NewScoped(w.coordinator, w.logger)
	scope.QueueMessage(msg)

	batch, err := scope.Flush(ctx)
	if err != nil {
		return err
	}

	if msg.Flags.Has(entity.FlagAlreadyExisted) && batch.FindInbound(msg.MessageID) == nil {
		// дубликат, уже обработан или обрабатывается другим инстансом
		w.logger.Infof("[message %s] duplicate delivery skipped", msg.MessageID)
	}

	// Каждый flush не только персистит результаты, но и выдаёт новую claimed
	// работу - в том числе outbound, порождённый хендлерами этого же scope.
	// Крутимся, пока выдача не иссякнет; цикл конечен, потому что выданные
	// строки уходят под lease и повторно не выдаются.
	for !batch.Empty() {
		if len(batch.Inbound) > 0 {
			w.proc.Process(ctx, batch.Inbound, w.HandleOne, scope)
		}
		if len(batch.Outbound) > 0 {
			if w.publish != nil {
				w.proc.Process(ctx, batch.Outbound, w.publish, scope)
			} else {
				// публикатор не подключён: строки останутся под lease и
				// вернутся в пул после его истечения
				w.logger.Warnf("claimed %d outbound with no publisher wired", len(batch.Outbound))
			}
		}
		batch, err = scope.Flush(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleOne диспетчеризует claimed сообщение в зарегистрированный хендлер.
func (w *ConsumerWorker) HandleOne(ctx context.Context, m *entity.Message) ProcessResult {
	h, ok := w.handlers.Lookup(m.MessageType)
	if !ok {
		w.logger.Errorf("[message %s] unknown message type %q", m.MessageID, m.MessageType)
		return ProcessResult{Err: appers.ErrUnknownMessageType, Reason: entity.FailurePermanent}
	}

	bits, err := h(ctx, m)
	if err != nil {
		reason := entity.FailureRetryable
		var perm *handlers.PermanentError
		if errors.As(err, &perm) {
			reason = entity.FailurePermanent
		}
		return ProcessResult{Bits: bits, Err: err, Reason: reason}
	}
	return ProcessResult{Bits: bits}
}
