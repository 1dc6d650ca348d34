package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
)

// Notifier сохраняет уведомления пользователей
type Notifier interface {
	CreateNotification(ctx context.Context, userID uuid.UUID, title, message string, data any) (*models.Notification, error)
}

// StoreNotifier сохраняет уведомления через store.Store
type StoreNotifier struct {
	Store store.Store
}

// CreateNotification сохраняет уведомление в отдельной транзакции
func (n StoreNotifier) CreateNotification(ctx context.Context, userID uuid.UUID, title, message string, data any) (*models.Notification, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	notification := &models.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Data:      raw,
		CreatedAt: time.Now(),
	}
	err := n.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertNotification(ctx, notification)
	})
	if err != nil {
		return nil, err
	}
	return notification, nil
}

// Dispatcher отправляет события и уведомления, записывая ошибки в лог без их распространения
type Dispatcher struct {
	emitter  Emitter
	notifier Notifier
	log      *zap.Logger
}

// NewDispatcher создает Dispatcher; nil-аргументы заменяются заглушками
func NewDispatcher(emitter Emitter, notifier Notifier, log *zap.Logger) *Dispatcher {
	if emitter == nil {
		emitter = Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{emitter: emitter, notifier: notifier, log: log.Named("events")}
}

// ToUser отправляет событие пользователю
func (d *Dispatcher) ToUser(ctx context.Context, userID uuid.UUID, p Payload) {
	if err := d.emitter.Emit(ctx, userID, New(p)); err != nil {
		d.log.Warn("emit to user failed",
			zap.String("event", string(p.EventName())),
			zap.Stringer("user_id", userID),
			zap.Error(err))
	}
}

// ToRoom отправляет событие в комнату обмена
func (d *Dispatcher) ToRoom(ctx context.Context, room string, p Payload) {
	if err := d.emitter.EmitToRoom(ctx, room, New(p)); err != nil {
		d.log.Warn("emit to room failed",
			zap.String("event", string(p.EventName())),
			zap.String("room", room),
			zap.Error(err))
	}
}

// Notify сохраняет уведомление пользователя
func (d *Dispatcher) Notify(ctx context.Context, userID uuid.UUID, title, message string, data any) {
	if d.notifier == nil {
		return
	}
	if _, err := d.notifier.CreateNotification(ctx, userID, title, message, data); err != nil {
		d.log.Warn("create notification failed",
			zap.Stringer("user_id", userID),
			zap.String("title", title),
			zap.Error(err))
	}
}
