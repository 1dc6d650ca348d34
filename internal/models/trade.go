package models

import (
	"time"

	"github.com/google/uuid"
)

// TradeStatus статус обмена
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusRejected  TradeStatus = "rejected"
)

// Terminal сообщает, является ли статус конечным
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusCompleted || s == TradeStatusCancelled || s == TradeStatusRejected
}

// TradeKind тип комнаты обмена
type TradeKind string

const (
	TradeKindPublic  TradeKind = "public"
	TradeKindPrivate TradeKind = "private"
)

// Side сторона обмена
type Side string

const (
	SideInitiator Side = "initiator"
	SideReceiver  Side = "receiver"
)

// Other возвращает противоположную сторону
func (s Side) Other() Side {
	if s == SideInitiator {
		return SideReceiver
	}
	return SideInitiator
}

// TradeItem ссылка на запись инвентаря, предложенную стороной
type TradeItem struct {
	InventoryItemID uuid.UUID `json:"inventory_item_id"`
}

// Trade представляет обязывающий обмен между двумя пользователями
type Trade struct {
	ID                uuid.UUID   `json:"id"`
	InitiatorUserID   uuid.UUID   `json:"initiator_user_id"`
	ReceiverUserID    uuid.UUID   `json:"receiver_user_id"`
	InitiatorItems    []TradeItem `json:"initiator_items"`
	ReceiverItems     []TradeItem `json:"receiver_items"`
	InitiatorAccepted bool        `json:"initiator_accepted"`
	ReceiverAccepted  bool        `json:"receiver_accepted"`
	Status            TradeStatus `json:"status"`
	Kind              TradeKind   `json:"trade_kind"`
	PrivateRoomCode   string      `json:"private_room_code,omitempty"`
	OriginRequestID   *uuid.UUID  `json:"origin_request_id,omitempty"`
	RequestedItemID   *string     `json:"requested_item_id,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	Version           int64       `json:"version"`
}

// SideOf определяет сторону пользователя в обмене
func (t *Trade) SideOf(userID uuid.UUID) (Side, bool) {
	switch userID {
	case t.InitiatorUserID:
		return SideInitiator, true
	case t.ReceiverUserID:
		return SideReceiver, true
	}
	return "", false
}

// UserOf возвращает пользователя стороны
func (t *Trade) UserOf(side Side) uuid.UUID {
	if side == SideInitiator {
		return t.InitiatorUserID
	}
	return t.ReceiverUserID
}

// Accepted возвращает флаг подтверждения стороны
func (t *Trade) Accepted(side Side) bool {
	if side == SideInitiator {
		return t.InitiatorAccepted
	}
	return t.ReceiverAccepted
}

// SetAccepted устанавливает флаг подтверждения стороны
func (t *Trade) SetAccepted(side Side, v bool) {
	if side == SideInitiator {
		t.InitiatorAccepted = v
	} else {
		t.ReceiverAccepted = v
	}
}

// Items возвращает слот предметов стороны
func (t *Trade) Items(side Side) []TradeItem {
	if side == SideInitiator {
		return t.InitiatorItems
	}
	return t.ReceiverItems
}

// SetItem заменяет единственный слот стороны
func (t *Trade) SetItem(side Side, itemID uuid.UUID) {
	items := []TradeItem{{InventoryItemID: itemID}}
	if side == SideInitiator {
		t.InitiatorItems = items
	} else {
		t.ReceiverItems = items
	}
}

// OfferedItem возвращает предложенный стороной предмет, если он есть
func (t *Trade) OfferedItem(side Side) (uuid.UUID, bool) {
	items := t.Items(side)
	if len(items) != 1 {
		return uuid.Nil, false
	}
	return items[0].InventoryItemID, true
}

// RoomKey возвращает идентификатор комнаты для рассылки событий
func (t *Trade) RoomKey() string {
	if t.Kind == TradeKindPrivate && t.PrivateRoomCode != "" {
		return t.PrivateRoomCode
	}
	return t.ID.String()
}

// Clone возвращает независимую копию обмена
func (t *Trade) Clone() *Trade {
	cp := *t
	cp.InitiatorItems = append([]TradeItem(nil), t.InitiatorItems...)
	cp.ReceiverItems = append([]TradeItem(nil), t.ReceiverItems...)
	if t.OriginRequestID != nil {
		id := *t.OriginRequestID
		cp.OriginRequestID = &id
	}
	if t.RequestedItemID != nil {
		item := *t.RequestedItemID
		cp.RequestedItemID = &item
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
