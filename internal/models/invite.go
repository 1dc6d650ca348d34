package models

import (
	"time"

	"github.com/google/uuid"
)

// InviteStatus статус приглашения в приватную комнату
type InviteStatus string

const (
	InviteStatusPending   InviteStatus = "pending"
	InviteStatusAccepted  InviteStatus = "accepted"
	InviteStatusRejected  InviteStatus = "rejected"
	InviteStatusCancelled InviteStatus = "cancelled"
	InviteStatusCompleted InviteStatus = "completed"
)

// FriendTradeRoomInvite приглашение друга в приватную комнату обмена
type FriendTradeRoomInvite struct {
	ID              uuid.UUID    `json:"id"`
	FromUserID      uuid.UUID    `json:"from_user_id"`
	ToUserID        uuid.UUID    `json:"to_user_id"`
	Status          InviteStatus `json:"status"`
	LinkedTradeID   *uuid.UUID   `json:"linked_trade_id,omitempty"`
	PrivateRoomCode string       `json:"private_room_code,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Version         int64        `json:"version"`
}

// Clone возвращает независимую копию приглашения
func (i *FriendTradeRoomInvite) Clone() *FriendTradeRoomInvite {
	cp := *i
	if i.LinkedTradeID != nil {
		id := *i.LinkedTradeID
		cp.LinkedTradeID = &id
	}
	return &cp
}
