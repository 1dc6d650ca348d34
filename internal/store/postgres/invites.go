package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
)

const inviteColumns = `id, from_user_id, to_user_id, status, linked_trade_id, private_room_code,
    created_at, updated_at, version`

func scanInvite(row rowScanner) (*models.FriendTradeRoomInvite, error) {
	var (
		i    models.FriendTradeRoomInvite
		code *string
	)
	err := row.Scan(&i.ID, &i.FromUserID, &i.ToUserID, &i.Status, &i.LinkedTradeID, &code,
		&i.CreatedAt, &i.UpdatedAt, &i.Version)
	if err != nil {
		return nil, err
	}
	if code != nil {
		i.PrivateRoomCode = *code
	}
	return &i, nil
}

func inviteCode(i *models.FriendTradeRoomInvite) *string {
	if i.PrivateRoomCode == "" {
		return nil
	}
	return &i.PrivateRoomCode
}

func (t *tx) InsertInvite(ctx context.Context, i *models.FriendTradeRoomInvite) error {
	if i.Version == 0 {
		i.Version = 1
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO friend_trade_room_invites (`+inviteColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, i.ID, i.FromUserID, i.ToUserID, i.Status, i.LinkedTradeID, inviteCode(i),
		i.CreatedAt, i.UpdatedAt, i.Version)
	return mapErr("insert invite", err)
}

func (t *tx) GetInvite(ctx context.Context, id uuid.UUID) (*models.FriendTradeRoomInvite, error) {
	i, err := scanInvite(t.tx.QueryRow(ctx, `SELECT `+inviteColumns+` FROM friend_trade_room_invites WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get invite", err)
	}
	return i, nil
}

func (t *tx) GetInviteByTrade(ctx context.Context, tradeID uuid.UUID) (*models.FriendTradeRoomInvite, error) {
	i, err := scanInvite(t.tx.QueryRow(ctx, `
        SELECT `+inviteColumns+` FROM friend_trade_room_invites
        WHERE linked_trade_id = $1
        ORDER BY created_at DESC
        LIMIT 1
    `, tradeID))
	if err != nil {
		return nil, mapErr("get invite by trade", err)
	}
	return i, nil
}

func (t *tx) UpdateInvite(ctx context.Context, i *models.FriendTradeRoomInvite) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE friend_trade_room_invites
        SET status = $3, linked_trade_id = $4, private_room_code = $5, updated_at = $6,
            version = version + 1
        WHERE id = $1 AND version = $2
    `, i.ID, i.Version, i.Status, i.LinkedTradeID, inviteCode(i), i.UpdatedAt)
	if err := casResult("update invite", tag, err); err != nil {
		return err
	}
	i.Version++
	return nil
}

func (t *tx) HasPendingInvite(ctx context.Context, from, to uuid.UUID, symmetric bool) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM friend_trade_room_invites
            WHERE status = 'pending'
              AND ((from_user_id = $1 AND to_user_id = $2) OR ($3 AND from_user_id = $2 AND to_user_id = $1))
        )
    `, from, to, symmetric).Scan(&exists)
	if err != nil {
		return false, mapErr("check pending invite", err)
	}
	return exists, nil
}
