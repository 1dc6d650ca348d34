package request

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/events"
	"github.com/rajivgeraev/cardtrade-api/internal/metrics"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/services/trade"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
	"github.com/rajivgeraev/cardtrade-api/internal/utils"
)

// TradeOpener создает обмен в транзакции вызывающего
type TradeOpener interface {
	Open(ctx context.Context, tx store.Tx, p trade.OpenParams) (*models.Trade, error)
}

// RequestService представляет сервис запросов на обмен
type RequestService struct {
	store      store.Store
	trades     TradeOpener
	dispatcher *events.Dispatcher
	jwtService *utils.JWTService
	log        *zap.Logger

	// pendingTTL возраст, после которого ожидающий запрос считается истекшим (0 - без срока)
	pendingTTL time.Duration
	now        func() time.Time
}

// NewRequestService создает новый экземпляр RequestService
func NewRequestService(
	st store.Store,
	trades TradeOpener,
	dispatcher *events.Dispatcher,
	jwtService *utils.JWTService,
	pendingTTL time.Duration,
	log *zap.Logger,
) *RequestService {
	return &RequestService{
		store:      st,
		trades:     trades,
		dispatcher: dispatcher,
		jwtService: jwtService,
		log:        log.Named("request"),
		pendingTTL: pendingTTL,
		now:        time.Now,
	}
}

// CreateRequestParams параметры нового запроса
type CreateRequestParams struct {
	FromUserID uuid.UUID
	// ToUserIdentifier ID или handle получателя
	ToUserIdentifier string
	TargetItemID     *string
	Note             string
	IsManual         bool
}

// CreateRequest создает ожидающий запрос на обмен
func (s *RequestService) CreateRequest(ctx context.Context, p CreateRequestParams) (*models.TradeRequest, error) {
	if strings.TrimSpace(p.ToUserIdentifier) == "" {
		return nil, apperr.Invalid("не указан получатель")
	}
	if p.TargetItemID != nil && strings.TrimSpace(*p.TargetItemID) == "" {
		p.TargetItemID = nil
	}

	var req *models.TradeRequest
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sender, err := tx.GetUser(ctx, p.FromUserID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("пользователь")
		}
		if err != nil {
			return err
		}
		target, err := ResolveUser(ctx, tx, p.ToUserIdentifier)
		if err != nil {
			return err
		}
		if target.ID == sender.ID {
			return apperr.New(apperr.KindSelfTarget, "нельзя отправить запрос самому себе")
		}

		now := s.now()
		if err := s.expireStale(ctx, tx, sender.ID, target.ID, p, now); err != nil {
			return err
		}

		filter := store.PendingFilter{
			UserA:        sender.ID,
			UserB:        target.ID,
			TargetItemID: p.TargetItemID,
			IsManual:     p.IsManual,
		}
		if s.pendingTTL > 0 {
			filter.NotBefore = now.Add(-s.pendingTTL)
		}
		exists, err := tx.HasPendingRequest(ctx, filter)
		if err != nil {
			return err
		}
		if !exists && p.IsManual {
			exists, err = tx.HasPendingInvite(ctx, sender.ID, target.ID, true)
			if err != nil {
				return err
			}
		}
		if exists {
			return apperr.New(apperr.KindDuplicatePending, "запрос этому пользователю уже ожидает ответа")
		}

		req = &models.TradeRequest{
			ID:           uuid.New(),
			FromUserID:   sender.ID,
			ToUserID:     target.ID,
			TargetItemID: p.TargetItemID,
			DisplayName:  displayName(sender),
			Note:         strings.TrimSpace(p.Note),
			Status:       models.RequestStatusPending,
			IsManual:     p.IsManual,
			CreatedAt:    now,
		}
		return tx.InsertRequest(ctx, req)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.New(apperr.KindDuplicatePending, "запрос этому пользователю уже ожидает ответа")
	}
	if err != nil {
		return nil, s.fail("create request", uuid.Nil, err)
	}

	metrics.RequestTransitionsTotal.WithLabelValues(string(models.RequestStatusPending)).Inc()
	s.log.Info("request created",
		zap.Stringer("request_id", req.ID),
		zap.Stringer("from_user_id", req.FromUserID),
		zap.Stringer("to_user_id", req.ToUserID),
		zap.Bool("manual", req.IsManual))

	payload := events.RequestCreated{
		RequestID:    req.ID,
		FromUserID:   req.FromUserID,
		DisplayName:  req.DisplayName,
		TargetItemID: req.TargetItemID,
		Note:         req.Note,
		IsManual:     req.IsManual,
	}
	s.dispatcher.Notify(ctx, req.ToUserID, "Новый запрос на обмен", req.DisplayName+" предлагает обмен", payload)
	s.dispatcher.ToUser(ctx, req.ToUserID, payload)
	return req, nil
}

// expireStale отменяет ожидающие запросы той же пары старше pendingTTL,
// чтобы они не блокировали новый запрос
func (s *RequestService) expireStale(ctx context.Context, tx store.Tx, from, to uuid.UUID, p CreateRequestParams, now time.Time) error {
	if s.pendingTTL <= 0 {
		return nil
	}
	cutoff := now.Add(-s.pendingTTL)
	pending, err := tx.ListRequests(ctx, store.RequestFilter{
		UserID:   from,
		Incoming: true,
		Outgoing: true,
		Status:   models.RequestStatusPending,
	})
	if err != nil {
		return err
	}
	for _, r := range pending {
		if !r.SamePair(from, to) || r.IsManual != p.IsManual || !r.CreatedAt.Before(cutoff) {
			continue
		}
		if !p.IsManual && !r.SameTarget(p.TargetItemID) {
			continue
		}
		r.Status = models.RequestStatusCancelled
		r.FinishedAt = &now
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		s.log.Debug("pending request expired", zap.Stringer("request_id", r.ID))
	}
	return nil
}

// AcceptRequest принимает запрос и открывает обмен
func (s *RequestService) AcceptRequest(ctx context.Context, requestID, actingUserID uuid.UUID) (*models.TradeRequest, *models.Trade, error) {
	var req *models.TradeRequest
	var opened *models.Trade
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = s.loadPending(ctx, tx, requestID, actingUserID, false)
		if err != nil {
			return err
		}

		kind := models.TradeKindPublic
		if req.IsManual {
			kind = models.TradeKindPrivate
		}
		originID := req.ID
		opened, err = s.trades.Open(ctx, tx, trade.OpenParams{
			InitiatorUserID: req.FromUserID,
			ReceiverUserID:  req.ToUserID,
			Kind:            kind,
			OriginRequestID: &originID,
			RequestedItemID: req.TargetItemID,
		})
		if err != nil {
			return err
		}

		now := s.now()
		tradeID := opened.ID
		req.Status = models.RequestStatusAccepted
		req.LinkedTradeID = &tradeID
		req.FinishedAt = &now
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return nil, nil, s.fail("accept request", requestID, err)
	}

	metrics.RequestTransitionsTotal.WithLabelValues(string(models.RequestStatusAccepted)).Inc()
	s.log.Info("request accepted",
		zap.Stringer("request_id", req.ID),
		zap.Stringer("trade_id", opened.ID),
		zap.String("trade_kind", string(opened.Kind)))

	payload := events.RequestAccepted{
		RequestID: req.ID,
		TradeID:   opened.ID,
		Room:      opened.RoomKey(),
		TradeKind: opened.Kind,
	}
	s.dispatcher.Notify(ctx, req.FromUserID, "Запрос принят", "Ваш запрос на обмен принят", payload)
	s.dispatcher.ToUser(ctx, req.FromUserID, payload)
	return req, opened, nil
}

// RejectRequest отклоняет входящий запрос
func (s *RequestService) RejectRequest(ctx context.Context, requestID, actingUserID uuid.UUID) (*models.TradeRequest, error) {
	req, err := s.finish(ctx, requestID, actingUserID, false, models.RequestStatusRejected)
	if err != nil {
		return nil, err
	}

	payload := events.RequestRejected{RequestID: req.ID}
	s.dispatcher.Notify(ctx, req.FromUserID, "Запрос отклонен", "Ваш запрос на обмен отклонен", payload)
	s.dispatcher.ToUser(ctx, req.FromUserID, payload)
	return req, nil
}

// CancelRequest отзывает исходящий запрос
func (s *RequestService) CancelRequest(ctx context.Context, requestID, actingUserID uuid.UUID) (*models.TradeRequest, error) {
	return s.finish(ctx, requestID, actingUserID, true, models.RequestStatusCancelled)
}

func (s *RequestService) finish(ctx context.Context, requestID, actingUserID uuid.UUID, sender bool, status models.RequestStatus) (*models.TradeRequest, error) {
	var req *models.TradeRequest
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = s.loadPending(ctx, tx, requestID, actingUserID, sender)
		if err != nil {
			return err
		}
		now := s.now()
		req.Status = status
		req.FinishedAt = &now
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return nil, s.fail(string(status)+" request", requestID, err)
	}
	metrics.RequestTransitionsTotal.WithLabelValues(string(status)).Inc()
	return req, nil
}

// loadPending загружает ожидающий запрос и проверяет, что действует нужная сторона
func (s *RequestService) loadPending(ctx context.Context, tx store.Tx, requestID, actingUserID uuid.UUID, sender bool) (*models.TradeRequest, error) {
	req, err := tx.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("запрос")
	}
	if err != nil {
		return nil, err
	}
	party := req.ToUserID
	if sender {
		party = req.FromUserID
	}
	if actingUserID != party {
		return nil, apperr.Forbidden("действие недоступно для этого запроса")
	}
	if req.Status != models.RequestStatusPending {
		return nil, apperr.InvalidState("запрос уже обработан")
	}
	return req, nil
}

// Direction направление выборки запросов
type Direction string

const (
	DirectionAll      Direction = ""
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ListRequests возвращает запросы пользователя
func (s *RequestService) ListRequests(ctx context.Context, userID uuid.UUID, direction Direction, status models.RequestStatus) ([]*models.TradeRequest, error) {
	filter := store.RequestFilter{UserID: userID, Status: status}
	switch direction {
	case DirectionIncoming:
		filter.Incoming = true
	case DirectionOutgoing:
		filter.Outgoing = true
	case DirectionAll:
		filter.Incoming, filter.Outgoing = true, true
	default:
		return nil, apperr.Invalid("direction: incoming или outgoing")
	}

	var requests []*models.TradeRequest
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		requests, err = tx.ListRequests(ctx, filter)
		return err
	})
	if err != nil {
		return nil, s.fail("list requests", uuid.Nil, err)
	}
	if requests == nil {
		requests = []*models.TradeRequest{}
	}
	return requests, nil
}

// ReleaseForTrade удаляет исходный запрос обмена, который завершен или отклонен
func (s *RequestService) ReleaseForTrade(ctx context.Context, tx store.Tx, requestID uuid.UUID) error {
	req, err := tx.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return tx.DeleteRequest(ctx, req)
}

// ResolveUser находит пользователя по ID или handle (с необязательным @)
func ResolveUser(ctx context.Context, tx store.Tx, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	var (
		user *models.User
		err  error
	)
	if id, parseErr := uuid.Parse(identifier); parseErr == nil {
		user, err = tx.GetUser(ctx, id)
	} else {
		user, err = tx.GetUserByHandle(ctx, strings.TrimPrefix(identifier, "@"))
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("пользователь")
	}
	return user, err
}

func displayName(u *models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Handle
}

func (s *RequestService) fail(op string, requestID uuid.UUID, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		return apperr.InvalidState("запрос изменен параллельно, повторите попытку")
	}
	s.log.Error(op+" failed", zap.Stringer("request_id", requestID), zap.Error(err))
	return apperr.Internal("ошибка обработки запроса", err)
}
