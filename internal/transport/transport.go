package transport

import (
	"context"
	"strings"

	"coordinator/internal/appers"
	"coordinator/internal/application/entity"

	"go.uber.org/zap"
)

type Outcome int

const (
	Success Outcome = iota
	RetryableFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case PermanentFailure:
		return "permanent"
	}
	return "unknown"
}

type Result struct {
	Outcome Outcome
	Err     error
}

// Transport физически доставляет claimed outbound сообщение. Координатор
// не знает wire-форматов, ему нужна только классификация pass/fail/retry.
type Transport interface {
	IsReady(ctx context.Context) bool
	Publish(ctx context.Context, m *entity.Message) Result
}

// Mux выбирает транспорт по префиксу destination ("kafka:" -> брокер,
// "http(s)://" -> webhook). Неизвестная схема - перманентный отказ.
type Mux struct {
	logger *zap.SugaredLogger
	routes map[string]Transport
	order  []string
}

func NewMux(logger *zap.SugaredLogger) *Mux {
	return &Mux{logger: logger, routes: make(map[string]Transport)}
}

func (x *Mux) Register(prefix string, t Transport) {
	if _, ok := x.routes[prefix]; !ok {
		x.order = append(x.order, prefix)
	}
	x.routes[prefix] = t
	x.logger.Infof("transport registered for prefix %q", prefix)
}

func (x *Mux) route(destination string) (Transport, bool) {
	for _, prefix := range x.order {
		if strings.HasPrefix(destination, prefix) {
			return x.routes[prefix], true
		}
	}
	return nil, false
}

// IsReady - жив ли хотя бы один маршрут. Недоступность одного брокера не
// должна гасить доставку по остальным; готовность конкретного маршрута
// проверяется в Publish.
func (x *Mux) IsReady(ctx context.Context) bool {
	for _, prefix := range x.order {
		if x.routes[prefix].IsReady(ctx) {
			return true
		}
	}
	return len(x.order) == 0
}

func (x *Mux) Publish(ctx context.Context, m *entity.Message) Result {
	t, ok := x.route(m.Destination)
	if !ok {
		x.logger.Errorf("[message %s] no transport for destination %q", m.MessageID, m.Destination)
		return Result{Outcome: PermanentFailure, Err: appers.ErrUnknownDestination}
	}
	if !t.IsReady(ctx) {
		x.logger.Warnf("[message %s] route for %q not ready, will retry", m.MessageID, m.Destination)
		return Result{Outcome: RetryableFailure, Err: appers.ErrTransportNotReady}
	}
	return t.Publish(ctx, m)
}
