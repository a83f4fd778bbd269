package handlers

import (
	"context"
	"sync"

	"coordinator/internal/application/entity"
)

// HandlerFunc обрабатывает одно claimed inbound сообщение и возвращает
// пройденные стадии (HandlerInvoked, ProjectionApplied) либо ошибку с
// классификацией.
type HandlerFunc func(ctx context.Context, m *entity.Message) (entity.Status, error)

// Registry - явная таблица type tag -> хендлер, заполняется на старте
// процесса. Никакой рефлексии и рантайм-discovery: диспетчеризация по
// строковому тегу через обычную map.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Register(messageType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[messageType] = h
}

func (r *Registry) Lookup(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[messageType]
	return h, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
