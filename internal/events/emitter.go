package events

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Emitter доставляет события пользователям и комнатам обмена.
// Доставка best-effort: ошибка не должна отменять операцию, вызвавшую событие.
type Emitter interface {
	Emit(ctx context.Context, userID uuid.UUID, ev Event) error
	EmitToRoom(ctx context.Context, room string, ev Event) error
}

// Multi рассылает события через несколько эмиттеров
type Multi []Emitter

// Emit отправляет событие всем эмиттерам и объединяет ошибки
func (m Multi) Emit(ctx context.Context, userID uuid.UUID, ev Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, userID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmitToRoom отправляет событие в комнату через все эмиттеры
func (m Multi) EmitToRoom(ctx context.Context, room string, ev Event) error {
	var errs []error
	for _, e := range m {
		if err := e.EmitToRoom(ctx, room, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop эмиттер, который ничего не делает
type Nop struct{}

func (Nop) Emit(context.Context, uuid.UUID, Event) error    { return nil }
func (Nop) EmitToRoom(context.Context, string, Event) error { return nil }

// Delivery запись о доставленном событии
type Delivery struct {
	UserID uuid.UUID
	Room   string
	Event  Event
}

// Recorder запоминает события; используется в тестах и для отладки
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	Err        error
}

func (r *Recorder) Emit(_ context.Context, userID uuid.UUID, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{UserID: userID, Event: ev})
	return r.Err
}

func (r *Recorder) EmitToRoom(_ context.Context, room string, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{Room: room, Event: ev})
	return r.Err
}

// Deliveries возвращает копию записанных доставок
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// Count считает доставки события с заданным именем
func (r *Recorder) Count(name Name) int {
	n := 0
	for _, d := range r.Deliveries() {
		if d.Event.Name == name {
			n++
		}
	}
	return n
}
