package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
)

// Name имя события, отправляемого клиентам
type Name string

const (
	NameRequestCreated     Name = "request_created"
	NameRequestAccepted    Name = "request_accepted"
	NameRequestRejected    Name = "request_rejected"
	NameInviteCreated      Name = "invite_created"
	NameInviteAccepted     Name = "invite_accepted"
	NameInviteRejected     Name = "invite_rejected"
	NameTradeUpdated       Name = "trade_updated"
	NameTradeCompleted     Name = "trade_completed"
	NameTradeStatusChanged Name = "trade_status_changed"
)

// Payload полезная нагрузка события. Набор реализаций закрыт этим пакетом.
type Payload interface {
	EventName() Name
	sealed()
}

// Event событие с именем, временем и типизированной нагрузкой
type Event struct {
	Name      Name
	Timestamp time.Time
	Payload   Payload
}

// New создает событие для нагрузки
func New(p Payload) Event {
	return Event{Name: p.EventName(), Timestamp: time.Now(), Payload: p}
}

// MarshalJSON сериализует событие в формат, который ожидают клиенты
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      Name      `json:"type"`
		Timestamp time.Time `json:"timestamp"`
		Payload   Payload   `json:"payload"`
	}{e.Name, e.Timestamp, e.Payload})
}

// RequestCreated новый запрос на обмен для получателя
type RequestCreated struct {
	RequestID    uuid.UUID `json:"request_id"`
	FromUserID   uuid.UUID `json:"from_user_id"`
	DisplayName  string    `json:"display_name"`
	TargetItemID *string   `json:"target_item_id,omitempty"`
	Note         string    `json:"note,omitempty"`
	IsManual     bool      `json:"is_manual"`
}

// RequestAccepted запрос принят, создан обмен
type RequestAccepted struct {
	RequestID uuid.UUID        `json:"request_id"`
	TradeID   uuid.UUID        `json:"trade_id"`
	Room      string           `json:"room"`
	TradeKind models.TradeKind `json:"trade_kind"`
}

// RequestRejected запрос отклонен получателем
type RequestRejected struct {
	RequestID uuid.UUID `json:"request_id"`
}

// InviteCreated новое приглашение в приватную комнату
type InviteCreated struct {
	InviteID   uuid.UUID `json:"invite_id"`
	FromUserID uuid.UUID `json:"from_user_id"`
}

// InviteAccepted приглашение принято, комната открыта
type InviteAccepted struct {
	InviteID uuid.UUID `json:"invite_id"`
	TradeID  uuid.UUID `json:"trade_id"`
	RoomCode string    `json:"room_code"`
}

// InviteRejected приглашение отклонено
type InviteRejected struct {
	InviteID uuid.UUID `json:"invite_id"`
}

// TradeUpdated сторона выбрала или подтвердила предмет
type TradeUpdated struct {
	TradeID           uuid.UUID   `json:"trade_id"`
	Side              models.Side `json:"side"`
	InventoryItemID   uuid.UUID   `json:"inventory_item_id"`
	InitiatorAccepted bool        `json:"initiator_accepted"`
	ReceiverAccepted  bool        `json:"receiver_accepted"`
}

// TradeCompleted обмен завершен, предметы переданы
type TradeCompleted struct {
	TradeID     uuid.UUID `json:"trade_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// TradeStatusChanged обмен отменен или отклонен
type TradeStatusChanged struct {
	TradeID uuid.UUID          `json:"trade_id"`
	Status  models.TradeStatus `json:"status"`
	ActorID uuid.UUID          `json:"actor_id"`
}

func (RequestCreated) EventName() Name     { return NameRequestCreated }
func (RequestAccepted) EventName() Name    { return NameRequestAccepted }
func (RequestRejected) EventName() Name    { return NameRequestRejected }
func (InviteCreated) EventName() Name      { return NameInviteCreated }
func (InviteAccepted) EventName() Name     { return NameInviteAccepted }
func (InviteRejected) EventName() Name     { return NameInviteRejected }
func (TradeUpdated) EventName() Name       { return NameTradeUpdated }
func (TradeCompleted) EventName() Name     { return NameTradeCompleted }
func (TradeStatusChanged) EventName() Name { return NameTradeStatusChanged }

func (RequestCreated) sealed()     {}
func (RequestAccepted) sealed()    {}
func (RequestRejected) sealed()    {}
func (InviteCreated) sealed()      {}
func (InviteAccepted) sealed()     {}
func (InviteRejected) sealed()     {}
func (TradeUpdated) sealed()       {}
func (TradeCompleted) sealed()     {}
func (TradeStatusChanged) sealed() {}
