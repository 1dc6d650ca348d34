package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
)

const tradeColumns = `id, initiator_user_id, receiver_user_id, initiator_items, receiver_items,
    initiator_accepted, receiver_accepted, status, trade_kind, private_room_code,
    origin_request_id, requested_item_id, created_at, updated_at, completed_at, version`

func scanTrade(row rowScanner) (*models.Trade, error) {
	var (
		t        models.Trade
		roomCode *string
	)
	err := row.Scan(&t.ID, &t.InitiatorUserID, &t.ReceiverUserID, &t.InitiatorItems, &t.ReceiverItems,
		&t.InitiatorAccepted, &t.ReceiverAccepted, &t.Status, &t.Kind, &roomCode,
		&t.OriginRequestID, &t.RequestedItemID, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt, &t.Version)
	if err != nil {
		return nil, err
	}
	if roomCode != nil {
		t.PrivateRoomCode = *roomCode
	}
	return &t, nil
}

// items кодирует слот стороны; пустой слот хранится как []
func items(list []models.TradeItem) []byte {
	if list == nil {
		list = []models.TradeItem{}
	}
	b, _ := json.Marshal(list)
	return b
}

func roomCode(t *models.Trade) *string {
	if t.PrivateRoomCode == "" {
		return nil
	}
	return &t.PrivateRoomCode
}

func (t *tx) InsertTrade(ctx context.Context, tr *models.Trade) error {
	if tr.Version == 0 {
		tr.Version = 1
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO trades (`+tradeColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
    `, tr.ID, tr.InitiatorUserID, tr.ReceiverUserID, items(tr.InitiatorItems), items(tr.ReceiverItems),
		tr.InitiatorAccepted, tr.ReceiverAccepted, tr.Status, tr.Kind, roomCode(tr),
		tr.OriginRequestID, tr.RequestedItemID, tr.CreatedAt, tr.UpdatedAt, tr.CompletedAt, tr.Version)
	return mapErr("insert trade", err)
}

func (t *tx) GetTrade(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	tr, err := scanTrade(t.tx.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get trade", err)
	}
	return tr, nil
}

func (t *tx) GetTradeByRoomCode(ctx context.Context, code string) (*models.Trade, error) {
	tr, err := scanTrade(t.tx.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE private_room_code = $1`, code))
	if err != nil {
		return nil, mapErr("get trade by room code", err)
	}
	return tr, nil
}

func (t *tx) UpdateTrade(ctx context.Context, tr *models.Trade) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE trades
        SET initiator_items = $3, receiver_items = $4,
            initiator_accepted = $5, receiver_accepted = $6,
            status = $7, updated_at = $8, completed_at = $9,
            version = version + 1
        WHERE id = $1 AND version = $2
    `, tr.ID, tr.Version, items(tr.InitiatorItems), items(tr.ReceiverItems),
		tr.InitiatorAccepted, tr.ReceiverAccepted, tr.Status, tr.UpdatedAt, tr.CompletedAt)
	if err := casResult("update trade", tag, err); err != nil {
		return err
	}
	tr.Version++
	return nil
}

func (t *tx) ListTrades(ctx context.Context, userID uuid.UUID, status models.TradeStatus) ([]*models.Trade, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT `+tradeColumns+` FROM trades
        WHERE (initiator_user_id = $1 OR receiver_user_id = $1)
          AND ($2 = '' OR status = $2)
        ORDER BY created_at DESC
    `, userID, string(status))
	if err != nil {
		return nil, mapErr("list trades", err)
	}
	defer rows.Close()

	var out []*models.Trade
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, mapErr("scan trade", err)
		}
		out = append(out, tr)
	}
	return out, mapErr("list trades", rows.Err())
}

func (t *tx) ItemInPendingTrade(ctx context.Context, itemID uuid.UUID) (bool, error) {
	probe := items([]models.TradeItem{{InventoryItemID: itemID}})
	var exists bool
	err := t.tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM trades
            WHERE status = 'pending' AND (initiator_items @> $1::jsonb OR receiver_items @> $1::jsonb)
        )
    `, string(probe)).Scan(&exists)
	if err != nil {
		return false, mapErr("check item in pending trade", err)
	}
	return exists, nil
}
