package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
)

const requestColumns = `id, from_user_id, to_user_id, target_item_id, display_name, note, status,
    linked_trade_id, is_manual, created_at, finished_at, version`

func scanRequest(row rowScanner) (*models.TradeRequest, error) {
	var r models.TradeRequest
	err := row.Scan(&r.ID, &r.FromUserID, &r.ToUserID, &r.TargetItemID, &r.DisplayName, &r.Note, &r.Status,
		&r.LinkedTradeID, &r.IsManual, &r.CreatedAt, &r.FinishedAt, &r.Version)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) InsertRequest(ctx context.Context, r *models.TradeRequest) error {
	if r.Version == 0 {
		r.Version = 1
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO trade_requests (`+requestColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, r.ID, r.FromUserID, r.ToUserID, r.TargetItemID, r.DisplayName, r.Note, r.Status,
		r.LinkedTradeID, r.IsManual, r.CreatedAt, r.FinishedAt, r.Version)
	return mapErr("insert request", err)
}

func (t *tx) GetRequest(ctx context.Context, id uuid.UUID) (*models.TradeRequest, error) {
	r, err := scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM trade_requests WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get request", err)
	}
	return r, nil
}

func (t *tx) UpdateRequest(ctx context.Context, r *models.TradeRequest) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE trade_requests
        SET status = $3, linked_trade_id = $4, finished_at = $5, note = $6, version = version + 1
        WHERE id = $1 AND version = $2
    `, r.ID, r.Version, r.Status, r.LinkedTradeID, r.FinishedAt, r.Note)
	if err := casResult("update request", tag, err); err != nil {
		return err
	}
	r.Version++
	return nil
}

func (t *tx) DeleteRequest(ctx context.Context, r *models.TradeRequest) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM trade_requests WHERE id = $1 AND version = $2`, r.ID, r.Version)
	return casResult("delete request", tag, err)
}

func (t *tx) HasPendingRequest(ctx context.Context, f store.PendingFilter) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM trade_requests
            WHERE status = 'pending' AND is_manual = $3
              AND ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1))
              AND ($3 OR COALESCE(target_item_id, '') = COALESCE($4::text, ''))
              AND ($5::timestamptz IS NULL OR created_at >= $5)
        )
    `, f.UserA, f.UserB, f.IsManual, f.TargetItemID, nullTime(f.NotBefore)).Scan(&exists)
	if err != nil {
		return false, mapErr("check pending request", err)
	}
	return exists, nil
}

func (t *tx) ListRequests(ctx context.Context, f store.RequestFilter) ([]*models.TradeRequest, error) {
	var sides []string
	if f.Incoming {
		sides = append(sides, "to_user_id = $1")
	}
	if f.Outgoing {
		sides = append(sides, "from_user_id = $1")
	}
	if len(sides) == 0 {
		return nil, nil
	}

	query := `SELECT ` + requestColumns + ` FROM trade_requests WHERE (` + strings.Join(sides, " OR ") + `)`
	args := []any{f.UserID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list requests", err)
	}
	defer rows.Close()

	var out []*models.TradeRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, mapErr("scan request", err)
		}
		out = append(out, r)
	}
	return out, mapErr("list requests", rows.Err())
}
