package invite

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/events"
	"github.com/rajivgeraev/cardtrade-api/internal/metrics"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/services/request"
	"github.com/rajivgeraev/cardtrade-api/internal/services/trade"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
	"github.com/rajivgeraev/cardtrade-api/internal/utils"
)

// TradeOpener создает обмен в транзакции вызывающего
type TradeOpener interface {
	Open(ctx context.Context, tx store.Tx, p trade.OpenParams) (*models.Trade, error)
}

// InviteService связывает приглашения друзей с приватными комнатами обмена
type InviteService struct {
	store      store.Store
	trades     TradeOpener
	dispatcher *events.Dispatcher
	jwtService *utils.JWTService
	log        *zap.Logger
	now        func() time.Time
}

// NewInviteService создает новый экземпляр InviteService
func NewInviteService(st store.Store, trades TradeOpener, dispatcher *events.Dispatcher, jwtService *utils.JWTService, log *zap.Logger) *InviteService {
	return &InviteService{
		store:      st,
		trades:     trades,
		dispatcher: dispatcher,
		jwtService: jwtService,
		log:        log.Named("invite"),
		now:        time.Now,
	}
}

// CreateInvite приглашает друга в приватную комнату
func (s *InviteService) CreateInvite(ctx context.Context, fromUserID uuid.UUID, toUserIdentifier string) (*models.FriendTradeRoomInvite, error) {
	var inv *models.FriendTradeRoomInvite
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		target, err := request.ResolveUser(ctx, tx, toUserIdentifier)
		if err != nil {
			return err
		}
		if target.ID == fromUserID {
			return apperr.New(apperr.KindSelfTarget, "нельзя пригласить самого себя")
		}
		friends, err := tx.AreFriends(ctx, fromUserID, target.ID)
		if err != nil {
			return err
		}
		if !friends {
			return apperr.Forbidden("приглашать можно только друзей")
		}
		exists, err := tx.HasPendingInvite(ctx, fromUserID, target.ID, false)
		if err != nil {
			return err
		}
		if exists {
			return apperr.New(apperr.KindDuplicatePending, "приглашение уже ожидает ответа")
		}

		now := s.now()
		inv = &models.FriendTradeRoomInvite{
			ID:         uuid.New(),
			FromUserID: fromUserID,
			ToUserID:   target.ID,
			Status:     models.InviteStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.InsertInvite(ctx, inv)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.New(apperr.KindDuplicatePending, "приглашение уже ожидает ответа")
	}
	if err != nil {
		return nil, s.fail("create invite", uuid.Nil, err)
	}

	metrics.InviteTransitionsTotal.WithLabelValues(string(models.InviteStatusPending)).Inc()
	payload := events.InviteCreated{InviteID: inv.ID, FromUserID: inv.FromUserID}
	s.dispatcher.Notify(ctx, inv.ToUserID, "Приглашение к обмену", "Друг приглашает вас в комнату обмена", payload)
	s.dispatcher.ToUser(ctx, inv.ToUserID, payload)
	return inv, nil
}

// AcceptInvite принимает приглашение и открывает приватный обмен
func (s *InviteService) AcceptInvite(ctx context.Context, inviteID, actingUserID uuid.UUID) (*models.FriendTradeRoomInvite, *models.Trade, error) {
	var inv *models.FriendTradeRoomInvite
	var opened *models.Trade
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		inv, err = s.loadPending(ctx, tx, inviteID, actingUserID, false)
		if err != nil {
			return err
		}
		opened, err = s.trades.Open(ctx, tx, trade.OpenParams{
			InitiatorUserID: inv.FromUserID,
			ReceiverUserID:  inv.ToUserID,
			Kind:            models.TradeKindPrivate,
		})
		if err != nil {
			return err
		}

		tradeID := opened.ID
		inv.Status = models.InviteStatusAccepted
		inv.LinkedTradeID = &tradeID
		inv.PrivateRoomCode = opened.PrivateRoomCode
		inv.UpdatedAt = s.now()
		return tx.UpdateInvite(ctx, inv)
	})
	if err != nil {
		return nil, nil, s.fail("accept invite", inviteID, err)
	}

	metrics.InviteTransitionsTotal.WithLabelValues(string(models.InviteStatusAccepted)).Inc()
	s.log.Info("invite accepted",
		zap.Stringer("invite_id", inv.ID),
		zap.Stringer("trade_id", opened.ID))

	payload := events.InviteAccepted{InviteID: inv.ID, TradeID: opened.ID, RoomCode: opened.PrivateRoomCode}
	s.dispatcher.Notify(ctx, inv.FromUserID, "Приглашение принято", "Комната обмена открыта", payload)
	s.dispatcher.ToUser(ctx, inv.FromUserID, payload)
	return inv, opened, nil
}

// RejectInvite отклоняет входящее приглашение
func (s *InviteService) RejectInvite(ctx context.Context, inviteID, actingUserID uuid.UUID) (*models.FriendTradeRoomInvite, error) {
	inv, err := s.finish(ctx, inviteID, actingUserID, false, models.InviteStatusRejected)
	if err != nil {
		return nil, err
	}
	payload := events.InviteRejected{InviteID: inv.ID}
	s.dispatcher.ToUser(ctx, inv.FromUserID, payload)
	return inv, nil
}

// CancelInvite отзывает исходящее приглашение
func (s *InviteService) CancelInvite(ctx context.Context, inviteID, actingUserID uuid.UUID) (*models.FriendTradeRoomInvite, error) {
	return s.finish(ctx, inviteID, actingUserID, true, models.InviteStatusCancelled)
}

func (s *InviteService) finish(ctx context.Context, inviteID, actingUserID uuid.UUID, sender bool, status models.InviteStatus) (*models.FriendTradeRoomInvite, error) {
	var inv *models.FriendTradeRoomInvite
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		inv, err = s.loadPending(ctx, tx, inviteID, actingUserID, sender)
		if err != nil {
			return err
		}
		inv.Status = status
		inv.UpdatedAt = s.now()
		return tx.UpdateInvite(ctx, inv)
	})
	if err != nil {
		return nil, s.fail(string(status)+" invite", inviteID, err)
	}
	metrics.InviteTransitionsTotal.WithLabelValues(string(status)).Inc()
	return inv, nil
}

func (s *InviteService) loadPending(ctx context.Context, tx store.Tx, inviteID, actingUserID uuid.UUID, sender bool) (*models.FriendTradeRoomInvite, error) {
	inv, err := tx.GetInvite(ctx, inviteID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("приглашение")
	}
	if err != nil {
		return nil, err
	}
	party := inv.ToUserID
	if sender {
		party = inv.FromUserID
	}
	if actingUserID != party {
		return nil, apperr.Forbidden("действие недоступно для этого приглашения")
	}
	if inv.Status != models.InviteStatusPending {
		return nil, apperr.InvalidState("приглашение уже обработано")
	}
	return inv, nil
}

// TradeTerminated переводит приглашение связанного обмена в конечный статус.
// Ошибки только пишутся в лог: обмен уже зафиксирован.
func (s *InviteService) TradeTerminated(ctx context.Context, t *models.Trade) {
	if t.Kind != models.TradeKindPrivate {
		return
	}
	var next models.InviteStatus
	switch t.Status {
	case models.TradeStatusCompleted:
		next = models.InviteStatusCompleted
	case models.TradeStatusRejected, models.TradeStatusCancelled:
		next = models.InviteStatusCancelled
	default:
		return
	}

	updated := false
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inv, err := tx.GetInviteByTrade(ctx, t.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if inv.Status != models.InviteStatusAccepted {
			return nil
		}
		inv.Status = next
		inv.UpdatedAt = s.now()
		updated = true
		return tx.UpdateInvite(ctx, inv)
	})
	if err != nil {
		s.log.Warn("invite cascade failed",
			zap.Stringer("trade_id", t.ID),
			zap.String("trade_status", string(t.Status)),
			zap.Error(err))
		return
	}
	if updated {
		metrics.InviteTransitionsTotal.WithLabelValues(string(next)).Inc()
	}
}

func (s *InviteService) fail(op string, inviteID uuid.UUID, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		return apperr.InvalidState("приглашение изменено параллельно, повторите попытку")
	}
	s.log.Error(op+" failed", zap.Stringer("invite_id", inviteID), zap.Error(err))
	return apperr.Internal("ошибка обработки приглашения", err)
}
