package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coordinator/internal/application/entity"
	"coordinator/pkg/metrics"

	"go.uber.org/zap"
)

// ProcessResult - исход callback-а для одного сообщения.
type ProcessResult struct {
	Bits   entity.Status // какие стадии считать пройденными
	Err    error
	Reason entity.FailureReason
}

type ProcessFunc func(ctx context.Context, m *entity.Message) ProcessResult

// StreamProcessor раскладывает claimed-батч по потокам и вызывает callback
// строго по одному сообщению за раз внутри потока, в порядке sequence_order.
// Разные потоки и сообщения без stream_id идут конкурентно. Порядок
// обеспечивается тем, что следующий callback не стартует до завершения
// предыдущего, а не блокировкой общего мьютекса.
type StreamProcessor struct {
	logger *zap.SugaredLogger
	m      *metrics.Metrics
}

func NewStreamProcessor(logger *zap.SugaredLogger, m *metrics.Metrics) *StreamProcessor {
	return &StreamProcessor{logger: logger, m: m}
}

func (p *StreamProcessor) Process(ctx context.Context, items []*entity.Message, fn ProcessFunc, sink ResultSink) {
	groups := make(map[string][]*entity.Message)
	var unordered []*entity.Message
	for _, m := range items {
		if m.StreamID == nil || *m.StreamID == "" {
			unordered = append(unordered, m)
			continue
		}
		groups[*m.StreamID] = append(groups[*m.StreamID], m)
	}

	if p.m != nil {
		p.m.Stream.ActiveStreams.Add(float64(len(groups)))
		defer p.m.Stream.ActiveStreams.Sub(float64(len(groups)))
	}

	var wg sync.WaitGroup
	for stream, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].SequenceOrder < group[j].SequenceOrder
		})
		wg.Add(1)
		go func(stream string, group []*entity.Message) {
			defer wg.Done()
			for _, m := range group {
				// отмена: не начинаем следующее сообщение потока; уже
				// claimed работа доживёт до истечения lease и будет
				// переполучена, а не пересоздана
				if ctx.Err() != nil {
					p.logger.Infof("[stream %s] processing aborted: %v", stream, ctx.Err())
					return
				}
				p.processOne(ctx, m, fn, sink)
			}
		}(stream, group)
	}

	for _, m := range unordered {
		wg.Add(1)
		go func(m *entity.Message) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			p.processOne(ctx, m, fn, sink)
		}(m)
	}

	wg.Wait()
}

// processOne вызывает callback и маршрутизирует исход в очереди стратегии.
// Паника callback-а гасится здесь: цикл воркера не умирает из-за одного
// сообщения.
func (p *StreamProcessor) processOne(ctx context.Context, m *entity.Message, fn ProcessFunc, sink ResultSink) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("[message %s] callback panic: %v", m.MessageID, r)
			sink.QueueFailure(entity.Failure{
				Direction: m.Direction,
				MessageID: m.MessageID,
				Error:     fmt.Sprintf("panic: %v", r),
				Reason:    entity.FailureRetryable,
			})
		}
	}()

	t0 := time.Now()
	res := fn(ctx, m)
	if p.m != nil {
		outcome := "ok"
		if res.Err != nil {
			outcome = "error"
		}
		p.m.Stream.ItemDuration.WithLabelValues(string(m.Direction), outcome).Observe(time.Since(t0).Seconds())
	}

	if res.Err != nil {
		reason := res.Reason
		if reason == "" {
			reason = entity.FailureRetryable
		}
		p.logger.Warnf("[message %s] callback failed: reason=%s err=%v", m.MessageID, reason, res.Err)
		sink.QueueFailure(entity.Failure{
			Direction: m.Direction,
			MessageID: m.MessageID,
			Bits:      res.Bits,
			Error:     res.Err.Error(),
			Reason:    reason,
		})
		return
	}

	sink.QueueCompletion(entity.Completion{
		Direction: m.Direction,
		MessageID: m.MessageID,
		Bits:      res.Bits,
	})
}
