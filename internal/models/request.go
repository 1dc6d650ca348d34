package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus статус запроса на обмен
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusAccepted  RequestStatus = "accepted"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// TradeRequest представляет неформальное предложение обмена от одного пользователя другому
type TradeRequest struct {
	ID            uuid.UUID     `json:"id"`
	FromUserID    uuid.UUID     `json:"from_user_id"`
	ToUserID      uuid.UUID     `json:"to_user_id"`
	TargetItemID  *string       `json:"target_item_id,omitempty"` // nil - открытая комната без предмета
	DisplayName   string        `json:"display_name"`
	Note          string        `json:"note"`
	Status        RequestStatus `json:"status"`
	LinkedTradeID *uuid.UUID    `json:"linked_trade_id,omitempty"`
	IsManual      bool          `json:"is_manual"`
	CreatedAt     time.Time     `json:"created_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	Version       int64         `json:"version"`
}

// SamePair проверяет, связывает ли запрос двух пользователей в любом направлении
func (r *TradeRequest) SamePair(a, b uuid.UUID) bool {
	return (r.FromUserID == a && r.ToUserID == b) || (r.FromUserID == b && r.ToUserID == a)
}

// SameTarget сравнивает целевой предмет запроса
func (r *TradeRequest) SameTarget(target *string) bool {
	if r.TargetItemID == nil || target == nil {
		return r.TargetItemID == nil && target == nil
	}
	return *r.TargetItemID == *target
}

// Clone возвращает независимую копию запроса
func (r *TradeRequest) Clone() *TradeRequest {
	cp := *r
	if r.TargetItemID != nil {
		item := *r.TargetItemID
		cp.TargetItemID = &item
	}
	if r.LinkedTradeID != nil {
		id := *r.LinkedTradeID
		cp.LinkedTradeID = &id
	}
	if r.FinishedAt != nil {
		at := *r.FinishedAt
		cp.FinishedAt = &at
	}
	return &cp
}
