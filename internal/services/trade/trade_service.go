package trade

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/config"
	"github.com/rajivgeraev/cardtrade-api/internal/events"
	"github.com/rajivgeraev/cardtrade-api/internal/metrics"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
	"github.com/rajivgeraev/cardtrade-api/internal/utils"
	"github.com/rajivgeraev/cardtrade-api/internal/valuation"
)

// Outcome результат подтверждения стороны
type Outcome string

const (
	OutcomeWaitingOnOtherParty Outcome = "waiting_on_other_party"
	OutcomeCompleted           Outcome = "completed"
)

// RequestReleaser освобождает исходный запрос, когда обмен завершен или отклонен
type RequestReleaser interface {
	ReleaseForTrade(ctx context.Context, tx store.Tx, requestID uuid.UUID) error
}

// TerminationObserver получает обмены, перешедшие в конечный статус
type TerminationObserver interface {
	TradeTerminated(ctx context.Context, trade *models.Trade)
}

// TradeService представляет сервис для работы с обменами
type TradeService struct {
	store      store.Store
	valuer     valuation.Valuer
	dispatcher *events.Dispatcher
	jwtService *utils.JWTService
	log        *zap.Logger

	threshold  decimal.Decimal
	maxRetries int

	releaser  RequestReleaser
	observers []TerminationObserver

	now func() time.Time
}

// NewTradeService создает новый экземпляр TradeService
func NewTradeService(
	st store.Store,
	valuer valuation.Valuer,
	dispatcher *events.Dispatcher,
	jwtService *utils.JWTService,
	cfg config.TradeConfig,
	log *zap.Logger,
) *TradeService {
	if valuer == nil {
		valuer = valuation.RecordValuer{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &TradeService{
		store:      st,
		valuer:     valuer,
		dispatcher: dispatcher,
		jwtService: jwtService,
		log:        log.Named("trade"),
		threshold:  decimal.NewFromFloat(cfg.ValueDiffThreshold),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// SetRequestReleaser подключает сервис запросов
func (s *TradeService) SetRequestReleaser(r RequestReleaser) {
	s.releaser = r
}

// AddObserver подписывает наблюдателя на завершение обменов
func (s *TradeService) AddObserver(o TerminationObserver) {
	s.observers = append(s.observers, o)
}

// OpenParams параметры создания обмена
type OpenParams struct {
	InitiatorUserID uuid.UUID
	ReceiverUserID  uuid.UUID
	Kind            models.TradeKind
	OriginRequestID *uuid.UUID
	RequestedItemID *string
}

// Open создает ожидающий обмен в транзакции вызывающего.
// Для приватного обмена генерируется уникальный код комнаты.
func (s *TradeService) Open(ctx context.Context, tx store.Tx, p OpenParams) (*models.Trade, error) {
	if p.InitiatorUserID == p.ReceiverUserID {
		return nil, apperr.New(apperr.KindSelfTarget, "нельзя создать обмен с самим собой")
	}

	now := s.now()
	trade := &models.Trade{
		ID:              uuid.New(),
		InitiatorUserID: p.InitiatorUserID,
		ReceiverUserID:  p.ReceiverUserID,
		InitiatorItems:  []models.TradeItem{},
		ReceiverItems:   []models.TradeItem{},
		Status:          models.TradeStatusPending,
		Kind:            p.Kind,
		OriginRequestID: p.OriginRequestID,
		RequestedItemID: p.RequestedItemID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if trade.Kind == "" {
		trade.Kind = models.TradeKindPublic
	}

	if trade.Kind == models.TradeKindPrivate {
		code, err := uniqueRoomCode(ctx, tx)
		if err != nil {
			return nil, err
		}
		trade.PrivateRoomCode = code
	}

	if err := tx.InsertTrade(ctx, trade); err != nil {
		return nil, err
	}
	metrics.TradeTransitionsTotal.WithLabelValues(string(models.TradeStatusPending)).Inc()
	return trade, nil
}

// GetTrade возвращает обмен участнику
func (s *TradeService) GetTrade(ctx context.Context, tradeID, actingUserID uuid.UUID) (*models.Trade, error) {
	var trade *models.Trade
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		trade, err = loadTrade(ctx, tx, tradeID)
		return err
	})
	if err != nil {
		return nil, s.fail("get trade", tradeID, err)
	}
	if _, ok := trade.SideOf(actingUserID); !ok {
		return nil, apperr.Forbidden("вы не участвуете в этом обмене")
	}
	return trade, nil
}

// GetTradeByRoomCode возвращает приватный обмен по коду комнаты
func (s *TradeService) GetTradeByRoomCode(ctx context.Context, code string, actingUserID uuid.UUID) (*models.Trade, error) {
	var trade *models.Trade
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		trade, err = tx.GetTradeByRoomCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("обмен")
		}
		return err
	})
	if err != nil {
		return nil, s.fail("get trade by room code", uuid.Nil, err)
	}
	if _, ok := trade.SideOf(actingUserID); !ok {
		return nil, apperr.Forbidden("вы не участвуете в этом обмене")
	}
	return trade, nil
}

// CanJoinRoom проверяет, что пользователь участвует в обмене комнаты.
// Комната задается кодом приватной комнаты или идентификатором обмена.
func (s *TradeService) CanJoinRoom(ctx context.Context, userID uuid.UUID, room string) (bool, error) {
	var trade *models.Trade
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if id, parseErr := uuid.Parse(room); parseErr == nil {
			trade, err = tx.GetTrade(ctx, id)
		} else {
			trade, err = tx.GetTradeByRoomCode(ctx, room)
		}
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if trade.RoomKey() != room {
		return false, nil
	}
	_, ok := trade.SideOf(userID)
	return ok, nil
}

// ListTrades возвращает обмены пользователя, новые первыми
func (s *TradeService) ListTrades(ctx context.Context, userID uuid.UUID, status models.TradeStatus) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		trades, err = tx.ListTrades(ctx, userID, status)
		return err
	})
	if err != nil {
		return nil, s.fail("list trades", uuid.Nil, err)
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	return trades, nil
}

// SelectItem записывает предложенный предмет стороны без подтверждения.
// Пока сторона не подтвердила обмен, предмет можно менять.
func (s *TradeService) SelectItem(ctx context.Context, tradeID, actingUserID, itemID uuid.UUID) (*models.Trade, error) {
	var trade *models.Trade
	var side models.Side
	err := s.retry(ctx, func(ctx context.Context, _ int) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			trade, err = loadTrade(ctx, tx, tradeID)
			if err != nil {
				return err
			}
			side, err = pendingSide(trade, actingUserID)
			if err != nil {
				return err
			}
			if err := checkOffer(ctx, tx, actingUserID, itemID); err != nil {
				return err
			}
			trade.SetItem(side, itemID)
			trade.UpdatedAt = s.now()
			return tx.UpdateTrade(ctx, trade)
		})
	})
	if err != nil {
		return nil, s.fail("select item", tradeID, err)
	}

	s.dispatcher.ToRoom(ctx, trade.RoomKey(), tradeUpdated(trade, side))
	return trade, nil
}

// ConfirmSide фиксирует предмет стороны и ее согласие. Если вторая сторона уже согласна,
// выполняется завершение обмена с проверками и передачей предметов в одной транзакции.
// При нарушении проверок флаги обеих сторон сбрасываются, обмен остается ожидающим.
func (s *TradeService) ConfirmSide(ctx context.Context, tradeID, actingUserID, itemID uuid.UUID) (Outcome, error) {
	var res confirmResult
	err := s.retry(ctx, func(ctx context.Context, attempt int) error {
		var err error
		res, err = s.confirmOnce(ctx, tradeID, actingUserID, itemID, attempt > 0)
		return err
	})
	if err != nil {
		return "", s.fail("confirm side", tradeID, err)
	}

	trade := res.trade
	switch {
	case res.raceLost:
		// Обмен завершил параллельный запрос, события уже отправлены
	case res.guardErr != nil:
		s.dispatcher.ToRoom(ctx, trade.RoomKey(), tradeUpdated(trade, res.side))
		return "", res.guardErr
	case res.outcome == OutcomeCompleted:
		s.afterCompleted(ctx, trade)
	default:
		s.dispatcher.ToRoom(ctx, trade.RoomKey(), tradeUpdated(trade, res.side))
		s.dispatcher.ToUser(ctx, trade.UserOf(res.side.Other()), tradeUpdated(trade, res.side))
	}
	return res.outcome, nil
}

type confirmResult struct {
	trade    *models.Trade
	side     models.Side
	outcome  Outcome
	guardErr error
	raceLost bool
}

func (s *TradeService) confirmOnce(ctx context.Context, tradeID, actingUserID, itemID uuid.UUID, retried bool) (confirmResult, error) {
	var res confirmResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		trade, err := loadTrade(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		side, ok := trade.SideOf(actingUserID)
		if !ok {
			return apperr.Forbidden("вы не участвуете в этом обмене")
		}
		res = confirmResult{trade: trade, side: side}

		// Параллельный запрос второй стороны успел завершить обмен с нашим согласием
		if retried && trade.Status == models.TradeStatusCompleted && trade.Accepted(side) {
			res.outcome = OutcomeCompleted
			res.raceLost = true
			return nil
		}
		if trade.Status != models.TradeStatusPending {
			return apperr.InvalidState("обмен уже не ожидает подтверждения")
		}
		if trade.Accepted(side) {
			return apperr.New(apperr.KindAlreadyAccepted, "вы уже подтвердили обмен")
		}
		if err := checkOffer(ctx, tx, actingUserID, itemID); err != nil {
			return err
		}

		now := s.now()
		trade.SetItem(side, itemID)
		trade.SetAccepted(side, true)
		trade.UpdatedAt = now

		if !trade.Accepted(side.Other()) {
			res.outcome = OutcomeWaitingOnOtherParty
			return tx.UpdateTrade(ctx, trade)
		}

		err = s.settle(ctx, tx, trade, now)
		var gf *guardFailure
		if errors.As(err, &gf) {
			// Проверка не пройдена: сбрасываем согласие обеих сторон, предметы остаются
			trade.InitiatorAccepted = false
			trade.ReceiverAccepted = false
			res.guardErr = gf.err
			return tx.UpdateTrade(ctx, trade)
		}
		if err != nil {
			return err
		}
		res.outcome = OutcomeCompleted
		return nil
	})
	return res, err
}

// SetStatus отменяет или отклоняет ожидающий обмен
func (s *TradeService) SetStatus(ctx context.Context, tradeID, actingUserID uuid.UUID, status models.TradeStatus) (*models.Trade, error) {
	if status != models.TradeStatusCancelled && status != models.TradeStatusRejected {
		return nil, apperr.Invalid("допустимые статусы: cancelled, rejected")
	}

	var trade *models.Trade
	err := s.retry(ctx, func(ctx context.Context, _ int) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			trade, err = loadTrade(ctx, tx, tradeID)
			if err != nil {
				return err
			}
			if _, ok := trade.SideOf(actingUserID); !ok {
				return apperr.Forbidden("вы не участвуете в этом обмене")
			}
			if trade.Status != models.TradeStatusPending {
				return apperr.InvalidState("обмен уже завершен")
			}

			trade.Status = status
			trade.UpdatedAt = s.now()
			if err := tx.UpdateTrade(ctx, trade); err != nil {
				return err
			}
			if status == models.TradeStatusRejected {
				return s.releaseRequest(ctx, tx, trade)
			}
			return nil
		})
	})
	if err != nil {
		return nil, s.fail("set status", tradeID, err)
	}

	metrics.TradeTransitionsTotal.WithLabelValues(string(status)).Inc()
	s.log.Info("trade closed",
		zap.Stringer("trade_id", trade.ID),
		zap.String("status", string(status)),
		zap.Stringer("actor_id", actingUserID))

	payload := events.TradeStatusChanged{TradeID: trade.ID, Status: status, ActorID: actingUserID}
	s.dispatcher.ToRoom(ctx, trade.RoomKey(), payload)
	side, _ := trade.SideOf(actingUserID)
	other := trade.UserOf(side.Other())
	s.dispatcher.ToUser(ctx, other, payload)
	s.dispatcher.Notify(ctx, other, "Обмен закрыт", statusMessage(status), payload)
	s.notifyObservers(ctx, trade)
	return trade, nil
}

func (s *TradeService) afterCompleted(ctx context.Context, trade *models.Trade) {
	completedAt := trade.UpdatedAt
	if trade.CompletedAt != nil {
		completedAt = *trade.CompletedAt
	}
	s.log.Info("trade completed",
		zap.Stringer("trade_id", trade.ID),
		zap.Stringer("initiator_id", trade.InitiatorUserID),
		zap.Stringer("receiver_id", trade.ReceiverUserID))

	payload := events.TradeCompleted{TradeID: trade.ID, CompletedAt: completedAt}
	s.dispatcher.ToRoom(ctx, trade.RoomKey(), payload)
	for _, userID := range []uuid.UUID{trade.InitiatorUserID, trade.ReceiverUserID} {
		s.dispatcher.Notify(ctx, userID, "Обмен завершен", "Карты переданы в ваш инвентарь", payload)
	}
	s.notifyObservers(ctx, trade)
}

func (s *TradeService) notifyObservers(ctx context.Context, trade *models.Trade) {
	for _, o := range s.observers {
		o.TradeTerminated(ctx, trade.Clone())
	}
}

func (s *TradeService) releaseRequest(ctx context.Context, tx store.Tx, trade *models.Trade) error {
	if trade.OriginRequestID == nil || s.releaser == nil {
		return nil
	}
	return s.releaser.ReleaseForTrade(ctx, tx, *trade.OriginRequestID)
}

// retry повторяет операцию при конфликте версий
func (s *TradeService) retry(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if !errors.Is(err, store.ErrConflict) || attempt >= s.maxRetries {
			return err
		}
		metrics.ConfirmConflictsTotal.Inc()
		s.log.Debug("version conflict, retrying", zap.Int("attempt", attempt+1))
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// fail приводит ошибку к apperr, инфраструктурные ошибки пишутся в лог
func (s *TradeService) fail(op string, tradeID uuid.UUID, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		return apperr.InvalidState("обмен изменен параллельно, повторите попытку")
	}
	s.log.Error(op+" failed", zap.Stringer("trade_id", tradeID), zap.Error(err))
	return apperr.Internal("ошибка обработки обмена", err)
}

func loadTrade(ctx context.Context, tx store.Tx, tradeID uuid.UUID) (*models.Trade, error) {
	trade, err := tx.GetTrade(ctx, tradeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("обмен")
	}
	return trade, err
}

func pendingSide(trade *models.Trade, actingUserID uuid.UUID) (models.Side, error) {
	side, ok := trade.SideOf(actingUserID)
	if !ok {
		return "", apperr.Forbidden("вы не участвуете в этом обмене")
	}
	if trade.Status != models.TradeStatusPending {
		return "", apperr.InvalidState("обмен уже не ожидает подтверждения")
	}
	if trade.Accepted(side) {
		return "", apperr.New(apperr.KindAlreadyAccepted, "вы уже подтвердили обмен")
	}
	return side, nil
}

// checkOffer проверяет, что предлагаемый предмет существует и принадлежит стороне
func checkOffer(ctx context.Context, tx store.Tx, userID, itemID uuid.UUID) error {
	if itemID == uuid.Nil {
		return apperr.Invalid("не указан предмет")
	}
	item, err := tx.GetInventoryItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("предмет")
	}
	if err != nil {
		return err
	}
	if item.OwnerID != userID {
		return apperr.New(apperr.KindOwnershipViolation, "предмет принадлежит другому пользователю").
			WithDetails(map[string]any{"inventory_item_id": itemID})
	}
	return nil
}

func tradeUpdated(trade *models.Trade, side models.Side) events.TradeUpdated {
	itemID, _ := trade.OfferedItem(side)
	return events.TradeUpdated{
		TradeID:           trade.ID,
		Side:              side,
		InventoryItemID:   itemID,
		InitiatorAccepted: trade.InitiatorAccepted,
		ReceiverAccepted:  trade.ReceiverAccepted,
	}
}

func statusMessage(status models.TradeStatus) string {
	if status == models.TradeStatusRejected {
		return "Обмен отклонен"
	}
	return "Обмен отменен"
}
