package memory

import (
	"sort"

	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/store"
)

// table хранит зафиксированные записи одного типа
type table[T any] struct {
	rows       map[uuid.UUID]T
	versionOf  func(T) int64
	setVersion func(T, int64)
	clone      func(T) T
}

func newTable[T any](versionOf func(T) int64, setVersion func(T, int64), clone func(T) T) *table[T] {
	return &table[T]{
		rows:       make(map[uuid.UUID]T),
		versionOf:  versionOf,
		setVersion: setVersion,
		clone:      clone,
	}
}

// staged изменение записи внутри транзакции
type staged[T any] struct {
	val      T
	deleted  bool
	inserted bool
	base     int64 // версия в зафиксированном состоянии на момент первой записи
}

// overlay набор изменений транзакции поверх таблицы
type overlay[T any] struct {
	t      *table[T]
	writes map[uuid.UUID]*staged[T]
	order  []uuid.UUID
}

func newOverlay[T any](t *table[T]) *overlay[T] {
	return &overlay[T]{t: t, writes: make(map[uuid.UUID]*staged[T])}
}

// get читает запись с учетом изменений транзакции. Вызывается под RLock хранилища.
func (o *overlay[T]) get(id uuid.UUID) (T, error) {
	var zero T
	if w, ok := o.writes[id]; ok {
		if w.deleted {
			return zero, store.ErrNotFound
		}
		return o.t.clone(w.val), nil
	}
	row, ok := o.t.rows[id]
	if !ok {
		return zero, store.ErrNotFound
	}
	return o.t.clone(row), nil
}

// scan возвращает все видимые транзакции записи, прошедшие фильтр
func (o *overlay[T]) scan(keep func(T) bool) []T {
	var out []T
	for id, row := range o.t.rows {
		if _, ok := o.writes[id]; ok {
			continue
		}
		if keep(row) {
			out = append(out, o.t.clone(row))
		}
	}
	for _, id := range o.order {
		w := o.writes[id]
		if w.deleted {
			continue
		}
		if keep(w.val) {
			out = append(out, o.t.clone(w.val))
		}
	}
	return out
}

func (o *overlay[T]) track(id uuid.UUID, w *staged[T]) {
	if _, ok := o.writes[id]; !ok {
		o.order = append(o.order, id)
	}
	o.writes[id] = w
}

// insert добавляет новую запись. Вызывается под RLock хранилища.
func (o *overlay[T]) insert(id uuid.UUID, val T) error {
	if w, ok := o.writes[id]; ok && !w.deleted {
		return store.ErrDuplicate
	}
	if _, ok := o.t.rows[id]; ok {
		return store.ErrDuplicate
	}
	if o.t.versionOf(val) == 0 {
		o.t.setVersion(val, 1)
	}
	o.track(id, &staged[T]{val: o.t.clone(val), inserted: true})
	return nil
}

// update заменяет запись, проверяя версию. Вызывается под RLock хранилища.
func (o *overlay[T]) update(id uuid.UUID, val T) error {
	expected := o.t.versionOf(val)
	if w, ok := o.writes[id]; ok {
		if w.deleted {
			return store.ErrNotFound
		}
		if o.t.versionOf(w.val) != expected {
			return store.ErrConflict
		}
		next := o.t.clone(val)
		o.t.setVersion(next, expected+1)
		o.t.setVersion(val, expected+1)
		w.val = next
		return nil
	}
	row, ok := o.t.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	if o.t.versionOf(row) != expected {
		return store.ErrConflict
	}
	next := o.t.clone(val)
	o.t.setVersion(next, expected+1)
	o.t.setVersion(val, expected+1)
	o.track(id, &staged[T]{val: next, base: expected})
	return nil
}

// remove удаляет запись, проверяя версию. Вызывается под RLock хранилища.
func (o *overlay[T]) remove(id uuid.UUID, val T) error {
	expected := o.t.versionOf(val)
	if w, ok := o.writes[id]; ok {
		if w.deleted {
			return store.ErrNotFound
		}
		if o.t.versionOf(w.val) != expected {
			return store.ErrConflict
		}
		if w.inserted {
			delete(o.writes, id)
			o.order = removeID(o.order, id)
			return nil
		}
		w.deleted = true
		return nil
	}
	row, ok := o.t.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	if o.t.versionOf(row) != expected {
		return store.ErrConflict
	}
	o.track(id, &staged[T]{val: o.t.clone(row), deleted: true, base: expected})
	return nil
}

// validate проверяет, что зафиксированное состояние не изменилось. Вызывается под Lock.
func (o *overlay[T]) validate() error {
	for _, id := range o.order {
		w := o.writes[id]
		row, exists := o.t.rows[id]
		if w.inserted {
			if exists {
				return store.ErrDuplicate
			}
			continue
		}
		if !exists || o.t.versionOf(row) != w.base {
			return store.ErrConflict
		}
	}
	return nil
}

// apply переносит изменения в таблицу. Вызывается под Lock после validate.
func (o *overlay[T]) apply() {
	for _, id := range o.order {
		w := o.writes[id]
		if w.deleted {
			delete(o.t.rows, id)
			continue
		}
		o.t.rows[id] = w.val
	}
}

// committed возвращает зафиксированные записи с учетом изменений транзакции, кроме ее вставок.
// Вызывается под Lock.
func committed[T any](o *overlay[T]) []T {
	out := make([]T, 0, len(o.t.rows))
	for id, row := range o.t.rows {
		if w, ok := o.writes[id]; ok {
			if w.deleted {
				continue
			}
			row = w.val
		}
		out = append(out, row)
	}
	return out
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// sortByTime сортирует записи по убыванию времени создания
func sortByTime[T any](rows []T, at func(T) int64) {
	sort.SliceStable(rows, func(i, j int) bool { return at(rows[i]) > at(rows[j]) })
}
