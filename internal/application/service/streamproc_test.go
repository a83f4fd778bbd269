package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"coordinator/internal/application/entity"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// fakeSink копит результаты процессора.
type fakeSink struct {
	mu          sync.Mutex
	completions []entity.Completion
	failures    []entity.Failure
}

func (f *fakeSink) QueueCompletion(c entity.Completion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, c)
}

func (f *fakeSink) QueueFailure(fl entity.Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, fl)
}

func streamMsg(t *testing.T, stream string, seq int64) *entity.Message {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	m := &entity.Message{
		MessageID:     id,
		Direction:     entity.DirectionInbound,
		MessageType:   "test",
		SequenceOrder: seq,
	}
	if stream != "" {
		m.StreamID = &stream
	}
	return m
}

func TestProcessKeepsOrderWithinStream(t *testing.T) {
	proc := NewStreamProcessor(zap.NewNop().Sugar(), nil)
	sink := &fakeSink{}

	// перемешанный батч: два потока плюс неупорядоченное сообщение
	items := []*entity.Message{
		streamMsg(t, "a", 2),
		streamMsg(t, "b", 1),
		streamMsg(t, "a", 1),
		streamMsg(t, "", 5),
	}

	var mu sync.Mutex
	seen := make(map[string][]int64)
	fn := func(_ context.Context, m *entity.Message) ProcessResult {
		mu.Lock()
		key := ""
		if m.StreamID != nil {
			key = *m.StreamID
		}
		seen[key] = append(seen[key], m.SequenceOrder)
		mu.Unlock()
		return ProcessResult{Bits: entity.StatusHandlerInvoked}
	}

	proc.Process(context.Background(), items, fn, sink)

	if got := seen["a"]; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("stream a out of order: %v", got)
	}
	if len(sink.completions) != 4 {
		t.Fatalf("want 4 completions, got %d", len(sink.completions))
	}
}

func TestProcessNeverStartsNextBeforePreviousResolves(t *testing.T) {
	proc := NewStreamProcessor(zap.NewNop().Sugar(), nil)
	sink := &fakeSink{}

	first := streamMsg(t, "s", 1)
	second := streamMsg(t, "s", 2)

	release := make(chan struct{})
	started := make(chan int64, 2)
	fn := func(_ context.Context, m *entity.Message) ProcessResult {
		started <- m.SequenceOrder
		if m.SequenceOrder == 1 {
			<-release
		}
		return ProcessResult{}
	}

	done := make(chan struct{})
	go func() {
		proc.Process(context.Background(), []*entity.Message{second, first}, fn, sink)
		close(done)
	}()

	if got := <-started; got != 1 {
		t.Fatalf("first started item must be seq 1, got %d", got)
	}
	// пока первый не завершён, второй стартовать не должен
	select {
	case got := <-started:
		t.Fatalf("seq %d started before seq 1 resolved", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if got := <-started; got != 2 {
		t.Fatalf("want seq 2 after release, got %d", got)
	}
	<-done
}

func TestProcessRecoversCallbackPanic(t *testing.T) {
	proc := NewStreamProcessor(zap.NewNop().Sugar(), nil)
	sink := &fakeSink{}

	fn := func(_ context.Context, _ *entity.Message) ProcessResult {
		panic("boom")
	}

	proc.Process(context.Background(), []*entity.Message{streamMsg(t, "s", 1)}, fn, sink)

	if len(sink.failures) != 1 {
		t.Fatalf("want 1 failure, got %d", len(sink.failures))
	}
	if sink.failures[0].Reason != entity.FailureRetryable {
		t.Fatalf("panic must map to retryable, got %s", sink.failures[0].Reason)
	}
}

func TestProcessStopsOnCanceledContext(t *testing.T) {
	proc := NewStreamProcessor(zap.NewNop().Sugar(), nil)
	sink := &fakeSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	var mu sync.Mutex
	fn := func(_ context.Context, _ *entity.Message) ProcessResult {
		mu.Lock()
		calls++
		mu.Unlock()
		return ProcessResult{}
	}

	proc.Process(ctx, []*entity.Message{
		streamMsg(t, "s", 1),
		streamMsg(t, "s", 2),
		streamMsg(t, "", 3),
	}, fn, sink)

	if calls != 0 {
		t.Fatalf("no callbacks expected after cancel, got %d", calls)
	}
	// claimed работа не фейлится: она доживёт до истечения lease
	if len(sink.failures) != 0 {
		t.Fatalf("cancel must not produce failures: %+v", sink.failures)
	}
}
