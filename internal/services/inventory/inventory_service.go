package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
	"github.com/rajivgeraev/cardtrade-api/internal/utils"
)

// InventoryService представляет сервис для работы с инвентарем
type InventoryService struct {
	store      store.Store
	jwtService *utils.JWTService
	log        *zap.Logger
}

// NewInventoryService создает новый экземпляр InventoryService
func NewInventoryService(st store.Store, jwtService *utils.JWTService, log *zap.Logger) *InventoryService {
	return &InventoryService{
		store:      st,
		jwtService: jwtService,
		log:        log.Named("inventory"),
	}
}

// List возвращает записи инвентаря владельца
func (s *InventoryService) List(ctx context.Context, ownerID uuid.UUID) ([]*models.InventoryItem, error) {
	var items []*models.InventoryItem
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		items, err = tx.ListInventory(ctx, ownerID)
		return err
	})
	if err != nil {
		return nil, apperr.Internal("ошибка получения инвентаря", err)
	}
	return items, nil
}

// SetTradable явно включает или выключает предмет для обмена.
// Предмет, уже предложенный в ожидающем обмене, менять нельзя.
func (s *InventoryService) SetTradable(ctx context.Context, actingUserID, itemID uuid.UUID, tradable bool) (*models.InventoryItem, error) {
	var item *models.InventoryItem
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		item, err = tx.GetInventoryItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("предмет")
			}
			return err
		}
		if item.OwnerID != actingUserID {
			return apperr.Forbidden("предмет принадлежит другому пользователю")
		}
		if item.Tradable == tradable {
			return nil
		}

		offered, err := tx.ItemInPendingTrade(ctx, itemID)
		if err != nil {
			return err
		}
		if offered {
			return apperr.InvalidState("предмет участвует в незавершенном обмене")
		}

		item.Tradable = tradable
		item.UpdatedAt = time.Now()
		return tx.UpdateInventoryItem(ctx, item)
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.InvalidState("предмет был изменен, повторите попытку")
		}
		s.log.Error("set tradable failed", zap.Stringer("item_id", itemID), zap.Error(err))
		return nil, apperr.Internal("ошибка обновления предмета", err)
	}
	return item, nil
}
