package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"coordinator/internal/application/entity"
	"coordinator/internal/transport"

	"go.uber.org/zap"
)

// reissueCoordinator возвращает сообщение каждым claim-вызовом, пока не
// увидит его completion: худший случай избыточной выдачи in-flight работы.
type reissueCoordinator struct {
	mu        sync.Mutex
	msg       *entity.Message
	completed bool
}

func (f *reissueCoordinator) Flush(_ context.Context, ops Ops) (*entity.ClaimedBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range ops.Completions {
		if c.MessageID == f.msg.MessageID {
			f.completed = true
		}
	}
	if f.completed {
		return &entity.ClaimedBatch{}, nil
	}
	return &entity.ClaimedBatch{Outbound: []*entity.Message{f.msg}}, nil
}

func (f *reissueCoordinator) HealthCheck(context.Context) error { return nil }

func (f *reissueCoordinator) done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

type slowTransport struct {
	mu        sync.Mutex
	delay     time.Duration
	published int
}

func (t *slowTransport) IsReady(context.Context) bool { return true }

func (t *slowTransport) Publish(_ context.Context, _ *entity.Message) transport.Result {
	t.mu.Lock()
	t.published++
	t.mu.Unlock()
	time.Sleep(t.delay)
	return transport.Result{Outcome: transport.Success}
}

func (t *slowTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.published
}

// Публикация медленнее интервала фоновых сбросов не должна приводить к
// повторной отправке: in-flight сообщение не попадает в транспорт второй раз,
// даже если claim-вызовы продолжают его возвращать.
func TestPublisherDoesNotRepublishInFlightWork(t *testing.T) {
	msg := newOutbound(t)
	fc := &reissueCoordinator{msg: msg}
	logger := zap.NewNop().Sugar()

	s := NewInterval(fc, logger, 10*time.Millisecond)
	tr := &slowTransport{delay: 150 * time.Millisecond}
	w := NewPublisherWorker(s, tr, NewStreamProcessor(logger, nil), nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	deadline := time.After(2 * time.Second)
	for !fc.done() {
		select {
		case <-deadline:
			cancel()
			t.Fatal("publish never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	// ещё несколько тиков после завершения: устаревший батч не должен
	// перезапустить публикацию
	time.Sleep(100 * time.Millisecond)
	cancel()

	if n := tr.count(); n != 1 {
		t.Fatalf("message published %d times, want exactly once", n)
	}
}

func TestPublishOneMapsTransportOutcomes(t *testing.T) {
	logger := zap.NewNop().Sugar()

	cases := []struct {
		outcome    transport.Outcome
		wantBits   entity.Status
		wantReason entity.FailureReason
	}{
		{transport.Success, entity.StatusPublished, ""},
		{transport.RetryableFailure, 0, entity.FailureRetryable},
		{transport.PermanentFailure, 0, entity.FailurePermanent},
	}
	for _, tc := range cases {
		w := NewPublisherWorker(
			NewInterval(&fakeCoordinator{}, logger, time.Second),
			&stubTransport{result: transport.Result{Outcome: tc.outcome}},
			NewStreamProcessor(logger, nil), nil, logger,
		)
		res := w.PublishOne(context.Background(), newOutbound(t))
		if res.Bits != tc.wantBits || res.Reason != tc.wantReason {
			t.Fatalf("outcome %v: got bits=%v reason=%q", tc.outcome, res.Bits, res.Reason)
		}
	}
}

type stubTransport struct {
	result transport.Result
}

func (t *stubTransport) IsReady(context.Context) bool { return true }

func (t *stubTransport) Publish(context.Context, *entity.Message) transport.Result {
	return t.result
}
