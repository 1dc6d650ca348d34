package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
)

// Leg передача одной копии записи инвентаря от одного пользователя другому
type Leg struct {
	ItemID     uuid.UUID
	FromUserID uuid.UUID
	ToUserID   uuid.UUID
}

// Swap выполняет все передачи внутри переданной транзакции.
// Вызывающий отвечает за откат транзакции при ошибке: частичная передача не фиксируется.
func Swap(ctx context.Context, tx store.Tx, legs []Leg, now time.Time) error {
	for _, leg := range legs {
		if err := transferUnit(ctx, tx, leg, now); err != nil {
			return err
		}
	}
	return nil
}

// transferUnit переносит одну копию. Источник перечитывается, так как предыдущая передача
// могла изменить ту же запись (обмен одинаковыми картами).
func transferUnit(ctx context.Context, tx store.Tx, leg Leg, now time.Time) error {
	src, err := tx.GetInventoryItem(ctx, leg.ItemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Newf(apperr.KindOwnershipViolation, "предмет %s больше не доступен", leg.ItemID)
		}
		return fmt.Errorf("load source item %s: %w", leg.ItemID, err)
	}
	if src.OwnerID != leg.FromUserID {
		return apperr.Newf(apperr.KindOwnershipViolation, "предмет %s не принадлежит отправителю", leg.ItemID)
	}
	if src.Quantity < 1 {
		return apperr.Newf(apperr.KindOwnershipViolation, "предмет %s закончился", leg.ItemID)
	}

	// Зачисляем копию получателю: в совпадающую запись или в новую
	match, err := tx.FindInventoryMatch(ctx, leg.ToUserID, src)
	switch {
	case err == nil:
		match.Quantity++
		match.Tradable = false
		match.UpdatedAt = now
		if err := tx.UpdateInventoryItem(ctx, match); err != nil {
			return fmt.Errorf("credit item %s: %w", match.ID, err)
		}
	case errors.Is(err, store.ErrNotFound):
		received := &models.InventoryItem{
			ID:            uuid.New(),
			OwnerID:       leg.ToUserID,
			CatalogItemID: src.CatalogItemID,
			Condition:     src.Condition,
			Bucket:        src.Bucket,
			Quantity:      1,
			Tradable:      false,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if src.MarketValue != nil {
			v := *src.MarketValue
			received.MarketValue = &v
		}
		if err := tx.InsertInventoryItem(ctx, received); err != nil {
			return fmt.Errorf("create received item: %w", err)
		}
	default:
		return fmt.Errorf("find matching item: %w", err)
	}

	// Списываем копию у отправителя; пустая запись удаляется
	src.Quantity--
	if src.Quantity == 0 {
		if err := tx.DeleteInventoryItem(ctx, src); err != nil {
			return fmt.Errorf("delete depleted item %s: %w", src.ID, err)
		}
		return nil
	}
	src.Tradable = false
	src.UpdatedAt = now
	if err := tx.UpdateInventoryItem(ctx, src); err != nil {
		return fmt.Errorf("debit item %s: %w", src.ID, err)
	}
	return nil
}
