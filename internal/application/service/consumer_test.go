package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"coordinator/internal/appers"
	"coordinator/internal/application/entity"
	"coordinator/internal/application/handlers"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// deliveryCoordinator - сценарный фейк для входящего пути: i-й Flush отдаёт
// i-й заготовленный claimed батч, операции каждого вызова записываются.
type deliveryCoordinator struct {
	mu      sync.Mutex
	calls   []Ops
	batches []*entity.ClaimedBatch
	mark    entity.BatchFlags
}

func (f *deliveryCoordinator) Flush(_ context.Context, ops Ops) (*entity.ClaimedBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range ops.NewInbound {
		m.Flags |= f.mark
	}
	f.calls = append(f.calls, ops)
	if n := len(f.calls) - 1; n < len(f.batches) && f.batches[n] != nil {
		return f.batches[n], nil
	}
	return &entity.ClaimedBatch{}, nil
}

func (f *deliveryCoordinator) HealthCheck(context.Context) error { return nil }

func newConsumer(t *testing.T, fc Coordinator, reg *handlers.Registry) *ConsumerWorker {
	t.Helper()
	logger := zap.NewNop().Sugar()
	return NewConsumerWorker(fc, reg, NewStreamProcessor(logger, nil), logger)
}

func inboundMsg(t *testing.T, msgType string) *entity.Message {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	return &entity.Message{MessageID: id, Direction: entity.DirectionInbound, MessageType: msgType}
}

func TestHandleDeliveryInvokesHandlerAndReportsCompletion(t *testing.T) {
	msg := inboundMsg(t, "user.created")

	reg := handlers.NewRegistry()
	var handled int
	reg.Register("user.created", func(_ context.Context, _ *entity.Message) (entity.Status, error) {
		handled++
		return entity.StatusHandlerInvoked | entity.StatusProjectionApplied, nil
	})

	fc := &deliveryCoordinator{
		batches: []*entity.ClaimedBatch{{Inbound: []*entity.Message{msg}}},
		mark:    entity.FlagNewlyStored,
	}
	w := newConsumer(t, fc, reg)

	if err := w.HandleDelivery(context.Background(), msg); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if handled != 1 {
		t.Fatalf("handler invoked %d times", handled)
	}

	if len(fc.calls) != 2 {
		t.Fatalf("want store flush + result flush, got %d", len(fc.calls))
	}
	results := fc.calls[1]
	if len(results.Completions) != 1 {
		t.Fatalf("want 1 completion, got %+v", results)
	}
	want := entity.StatusHandlerInvoked | entity.StatusProjectionApplied
	if results.Completions[0].Bits != want {
		t.Fatalf("completion bits = %v, want %v", results.Completions[0].Bits, want)
	}
}

func TestHandleDeliverySkipsDuplicate(t *testing.T) {
	msg := inboundMsg(t, "user.created")

	reg := handlers.NewRegistry()
	reg.Register("user.created", func(_ context.Context, _ *entity.Message) (entity.Status, error) {
		t.Error("handler must not run for a duplicate owned elsewhere")
		return 0, nil
	})

	// дубликат: claim вернул пустой батч, флаг already-existed взведён
	fc := &deliveryCoordinator{mark: entity.FlagAlreadyExisted}
	w := newConsumer(t, fc, reg)

	if err := w.HandleDelivery(context.Background(), msg); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if len(fc.calls) != 1 {
		t.Fatalf("no result flush expected for duplicate, got %d calls", len(fc.calls))
	}
}

// Сброс результатов сам выдаёт новую claimed работу: outbound, порождённый
// хендлером в этом же scope, должен уйти в публикацию, а не потеряться до
// следующего фонового цикла.
func TestHandleDeliveryDrainsFollowupClaims(t *testing.T) {
	msg := inboundMsg(t, "order.placed")
	outbound := inboundMsg(t, "order.confirmed")
	outbound.Direction = entity.DirectionOutbound

	reg := handlers.NewRegistry()
	reg.Register("order.placed", func(_ context.Context, _ *entity.Message) (entity.Status, error) {
		return entity.StatusHandlerInvoked | entity.StatusProjectionApplied, nil
	})

	fc := &deliveryCoordinator{
		batches: []*entity.ClaimedBatch{
			{Inbound: []*entity.Message{msg}},
			{Outbound: []*entity.Message{outbound}},
		},
		mark: entity.FlagNewlyStored,
	}
	w := newConsumer(t, fc, reg)

	var published int
	w.SetPublishFunc(func(_ context.Context, m *entity.Message) ProcessResult {
		published++
		if m.MessageID != outbound.MessageID {
			t.Errorf("published wrong message %s", m.MessageID)
		}
		return ProcessResult{Bits: entity.StatusPublished}
	})

	if err := w.HandleDelivery(context.Background(), msg); err != nil {
		t.Fatalf("HandleDelivery: %v", err)
	}
	if published != 1 {
		t.Fatalf("follow-up outbound published %d times, want 1", published)
	}

	// store -> inbound results + follow-up claim -> outbound results + empty claim
	if len(fc.calls) != 3 {
		t.Fatalf("want 3 flushes, got %d", len(fc.calls))
	}
	last := fc.calls[2]
	if len(last.Completions) != 1 || last.Completions[0].MessageID != outbound.MessageID {
		t.Fatalf("outbound completion lost: %+v", last)
	}
	if last.Completions[0].Bits != entity.StatusPublished {
		t.Fatalf("completion bits = %v", last.Completions[0].Bits)
	}
}

func TestHandleOneUnknownTypeIsPermanent(t *testing.T) {
	w := newConsumer(t, &deliveryCoordinator{}, handlers.NewRegistry())

	res := w.HandleOne(context.Background(), inboundMsg(t, "no.such.type"))
	if !errors.Is(res.Err, appers.ErrUnknownMessageType) {
		t.Fatalf("err = %v", res.Err)
	}
	if res.Reason != entity.FailurePermanent {
		t.Fatalf("unknown type must be permanent, got %s", res.Reason)
	}
}

func TestHandleOneClassifiesFailures(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register("flaky", func(_ context.Context, _ *entity.Message) (entity.Status, error) {
		return entity.StatusHandlerInvoked, errors.New("db timeout")
	})
	reg.Register("broken", func(_ context.Context, _ *entity.Message) (entity.Status, error) {
		return 0, handlers.Permanent(errors.New("schema mismatch"))
	})

	w := newConsumer(t, &deliveryCoordinator{}, reg)

	res := w.HandleOne(context.Background(), inboundMsg(t, "flaky"))
	if res.Reason != entity.FailureRetryable {
		t.Fatalf("plain error must be retryable, got %s", res.Reason)
	}
	if res.Bits != entity.StatusHandlerInvoked {
		t.Fatalf("partial progress bits lost: %v", res.Bits)
	}

	res = w.HandleOne(context.Background(), inboundMsg(t, "broken"))
	if res.Reason != entity.FailurePermanent {
		t.Fatalf("wrapped permanent error must be permanent, got %s", res.Reason)
	}
}
