package trade

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/metrics"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/services/inventory"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
	"github.com/rajivgeraev/cardtrade-api/internal/valuation"
)

// guardFailure нарушение проверки перед передачей предметов.
// В отличие от прочих ошибок settle, транзакция после него фиксируется со сброшенными флагами.
type guardFailure struct {
	err *apperr.Error
}

func (g *guardFailure) Error() string { return g.err.Error() }
func (g *guardFailure) Unwrap() error { return g.err }

func guard(err *apperr.Error) error {
	return &guardFailure{err: err}
}

// settle завершает обмен, в котором обе стороны дали согласие
func (s *TradeService) settle(ctx context.Context, tx store.Tx, trade *models.Trade, now time.Time) (err error) {
	start := time.Now()
	defer func() {
		metrics.SettlementDuration.Observe(time.Since(start).Seconds())
		var gf *guardFailure
		switch {
		case errors.As(err, &gf):
			metrics.SettlementsTotal.WithLabelValues(strings.ToLower(apperr.Code(gf.err.Kind))).Inc()
		case err != nil:
			metrics.SettlementsTotal.WithLabelValues(metrics.ResultError).Inc()
		default:
			metrics.SettlementsTotal.WithLabelValues(metrics.ResultCompleted).Inc()
		}
	}()

	initiatorItemID, ok := trade.OfferedItem(models.SideInitiator)
	if !ok {
		return guard(apperr.InvalidState("инициатор не выбрал предмет"))
	}
	receiverItemID, ok := trade.OfferedItem(models.SideReceiver)
	if !ok {
		return guard(apperr.InvalidState("получатель не выбрал предмет"))
	}

	// 1. Владение
	initiatorItem, err := ownedTradable(ctx, tx, initiatorItemID, trade.InitiatorUserID)
	if err != nil {
		return err
	}
	receiverItem, err := ownedTradable(ctx, tx, receiverItemID, trade.ReceiverUserID)
	if err != nil {
		return err
	}

	// 2. Справедливость по стоимости
	if err := s.checkValues(ctx, initiatorItem, receiverItem); err != nil {
		return err
	}

	// 3. Запрошенный предмет
	if trade.RequestedItemID != nil {
		requested := *trade.RequestedItemID
		if !initiatorItem.MatchesRequested(requested) && !receiverItem.MatchesRequested(requested) {
			return guard(apperr.New(apperr.KindRequestedItemMismatch, "в обмене нет запрошенного предмета").
				WithDetails(map[string]any{"requested_item_id": requested}))
		}
	}

	// 4. Передача предметов
	legs := []inventory.Leg{
		{ItemID: initiatorItemID, FromUserID: trade.InitiatorUserID, ToUserID: trade.ReceiverUserID},
		{ItemID: receiverItemID, FromUserID: trade.ReceiverUserID, ToUserID: trade.InitiatorUserID},
	}
	if err := inventory.Swap(ctx, tx, legs, now); err != nil {
		return err
	}

	// 5. Завершение
	completedAt := now
	trade.Status = models.TradeStatusCompleted
	trade.CompletedAt = &completedAt
	trade.UpdatedAt = now
	if err := tx.UpdateTrade(ctx, trade); err != nil {
		return err
	}
	if err := s.releaseRequest(ctx, tx, trade); err != nil {
		return err
	}
	metrics.TradeTransitionsTotal.WithLabelValues(string(models.TradeStatusCompleted)).Inc()
	return nil
}

func ownedTradable(ctx context.Context, tx store.Tx, itemID, ownerID uuid.UUID) (*models.InventoryItem, error) {
	item, err := tx.GetInventoryItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ownershipFailure(itemID, "предмет больше не существует")
	}
	if err != nil {
		return nil, err
	}
	switch {
	case item.OwnerID != ownerID:
		return nil, ownershipFailure(itemID, "предмет принадлежит другому пользователю")
	case !item.Tradable:
		return nil, ownershipFailure(itemID, "предмет недоступен для обмена")
	case item.Quantity < 1:
		return nil, ownershipFailure(itemID, "предмет закончился")
	}
	return item, nil
}

func ownershipFailure(itemID uuid.UUID, message string) error {
	return guard(apperr.New(apperr.KindOwnershipViolation, message).
		WithDetails(map[string]any{"inventory_item_id": itemID}))
}

// checkValues сравнивает стоимость предметов. Неизвестная стоимость проверку не блокирует.
func (s *TradeService) checkValues(ctx context.Context, a, b *models.InventoryItem) error {
	valueA, okA, err := s.valuer.Value(ctx, a)
	if err != nil {
		return err
	}
	valueB, okB, err := s.valuer.Value(ctx, b)
	if err != nil {
		return err
	}
	if !okA || !okB {
		s.log.Debug("value guard skipped",
			zap.Stringer("item_a", a.ID),
			zap.Stringer("item_b", b.ID),
			zap.Bool("known_a", okA),
			zap.Bool("known_b", okB))
		return nil
	}

	ratio, ok := valuation.DiffRatio(valueA, valueB)
	if !ok || !ratio.GreaterThan(s.threshold) {
		return nil
	}
	return guard(apperr.New(apperr.KindValueDifferenceTooHigh, "слишком большая разница в стоимости").
		WithDetails(map[string]any{
			"value_a": valueA.String(),
			"value_b": valueB.String(),
			"ratio":   ratio.StringFixed(4),
		}))
}
