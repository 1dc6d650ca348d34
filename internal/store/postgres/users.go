package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
)

func (t *tx) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := t.tx.QueryRow(ctx, `
        SELECT id, handle, display_name FROM users WHERE id = $1
    `, id).Scan(&u.ID, &u.Handle, &u.DisplayName)
	if err != nil {
		return nil, mapErr("get user", err)
	}
	return &u, nil
}

func (t *tx) GetUserByHandle(ctx context.Context, handle string) (*models.User, error) {
	var u models.User
	err := t.tx.QueryRow(ctx, `
        SELECT id, handle, display_name FROM users WHERE LOWER(handle) = LOWER($1)
    `, handle).Scan(&u.ID, &u.Handle, &u.DisplayName)
	if err != nil {
		return nil, mapErr("get user by handle", err)
	}
	return &u, nil
}

func (t *tx) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM friendships
            WHERE user_a = LEAST($1::uuid, $2::uuid) AND user_b = GREATEST($1::uuid, $2::uuid)
        )
    `, a, b).Scan(&ok)
	if err != nil {
		return false, mapErr("check friendship", err)
	}
	return ok, nil
}

func (t *tx) InsertNotification(ctx context.Context, n *models.Notification) error {
	var data any
	if len(n.Data) > 0 {
		data = []byte(n.Data)
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO notifications (id, user_id, title, message, data, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, n.ID, n.UserID, n.Title, n.Message, data, n.CreatedAt)
	return mapErr("insert notification", err)
}
