// Package memory реализует store.Store в памяти процесса.
// Транзакции оптимистичные: изменения копятся в собственном наборе записи
// и применяются под общей блокировкой только если версии затронутых записей не изменились.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
)

// FaultFunc позволяет тестам прервать операцию записи с ошибкой
type FaultFunc func(op string) error

// Store хранилище в памяти
type Store struct {
	mu sync.RWMutex

	users   map[uuid.UUID]*models.User
	handles map[string]uuid.UUID
	friends map[[2]uuid.UUID]bool

	requests *table[*models.TradeRequest]
	trades   *table[*models.Trade]
	invites  *table[*models.FriendTradeRoomInvite]
	items    *table[*models.InventoryItem]

	notifications []*models.Notification

	fault FaultFunc
}

var _ store.Store = (*Store)(nil)

// New создает пустое хранилище
func New() *Store {
	return &Store{
		users:   make(map[uuid.UUID]*models.User),
		handles: make(map[string]uuid.UUID),
		friends: make(map[[2]uuid.UUID]bool),
		requests: newTable(
			func(r *models.TradeRequest) int64 { return r.Version },
			func(r *models.TradeRequest, v int64) { r.Version = v },
			(*models.TradeRequest).Clone,
		),
		trades: newTable(
			func(t *models.Trade) int64 { return t.Version },
			func(t *models.Trade, v int64) { t.Version = v },
			(*models.Trade).Clone,
		),
		invites: newTable(
			func(i *models.FriendTradeRoomInvite) int64 { return i.Version },
			func(i *models.FriendTradeRoomInvite, v int64) { i.Version = v },
			(*models.FriendTradeRoomInvite).Clone,
		),
		items: newTable(
			func(i *models.InventoryItem) int64 { return i.Version },
			func(i *models.InventoryItem, v int64) { i.Version = v },
			(*models.InventoryItem).Clone,
		),
	}
}

// SetFault устанавливает обработчик сбоев записи (nil отключает)
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

// AddUser добавляет пользователя в справочник
func (s *Store) AddUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	if u.Handle != "" {
		s.handles[strings.ToLower(u.Handle)] = u.ID
	}
}

// AddFriendship связывает двух пользователей дружбой
func (s *Store) AddFriendship(a, b uuid.UUID) {
	s.mu.Lock()
	s.friends[pairKey(a, b)] = true
	s.mu.Unlock()
}

// AddInventoryItem напрямую добавляет запись инвентаря
func (s *Store) AddInventoryItem(item *models.InventoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := item.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	s.items.rows[cp.ID] = cp
}

// Notifications возвращает сохраненные уведомления пользователя
func (s *Store) Notifications(userID uuid.UUID) []*models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out
}

// InTx выполняет fn в оптимистичной транзакции
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	t := &tx{
		s:        s,
		requests: newOverlay(s.requests),
		trades:   newOverlay(s.trades),
		invites:  newOverlay(s.invites),
		items:    newOverlay(s.items),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

func pairKey(a, b uuid.UUID) [2]uuid.UUID {
	if strings.Compare(a.String(), b.String()) > 0 {
		a, b = b, a
	}
	return [2]uuid.UUID{a, b}
}

type tx struct {
	s *Store

	requests *overlay[*models.TradeRequest]
	trades   *overlay[*models.Trade]
	invites  *overlay[*models.FriendTradeRoomInvite]
	items    *overlay[*models.InventoryItem]

	notifications []*models.Notification
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := t.requests.validate(); err != nil {
		return err
	}
	if err := t.trades.validate(); err != nil {
		return err
	}
	if err := t.invites.validate(); err != nil {
		return err
	}
	if err := t.items.validate(); err != nil {
		return err
	}
	if err := t.validateUnique(); err != nil {
		return err
	}

	t.requests.apply()
	t.trades.apply()
	t.invites.apply()
	t.items.apply()
	s.notifications = append(s.notifications, t.notifications...)
	return nil
}

// validateUnique повторяет уникальные индексы postgres-схемы для вставок этой транзакции
func (t *tx) validateUnique() error {
	for _, id := range t.trades.order {
		w := t.trades.writes[id]
		if !w.inserted || w.val.PrivateRoomCode == "" {
			continue
		}
		for _, row := range committed(t.trades) {
			if row.PrivateRoomCode == w.val.PrivateRoomCode {
				return store.ErrDuplicate
			}
		}
	}
	for _, id := range t.requests.order {
		w := t.requests.writes[id]
		if !w.inserted || w.val.Status != models.RequestStatusPending {
			continue
		}
		for _, row := range committed(t.requests) {
			if row.Status == models.RequestStatusPending && row.IsManual == w.val.IsManual &&
				row.SamePair(w.val.FromUserID, w.val.ToUserID) &&
				(w.val.IsManual || row.SameTarget(w.val.TargetItemID)) {
				return store.ErrDuplicate
			}
		}
	}
	for _, id := range t.invites.order {
		w := t.invites.writes[id]
		if !w.inserted || w.val.Status != models.InviteStatusPending {
			continue
		}
		for _, row := range committed(t.invites) {
			if row.Status == models.InviteStatusPending &&
				row.FromUserID == w.val.FromUserID && row.ToUserID == w.val.ToUserID {
				return store.ErrDuplicate
			}
		}
	}
	return nil
}

func (t *tx) checkFault(op string) error {
	if t.s.fault != nil {
		return t.s.fault(op)
	}
	return nil
}

// Пользователи

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	u, ok := t.s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (t *tx) GetUserByHandle(ctx context.Context, handle string) (*models.User, error) {
	t.s.mu.RLock()
	id, ok := t.s.handles[strings.ToLower(handle)]
	t.s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetUser(ctx, id)
}

func (t *tx) AreFriends(_ context.Context, a, b uuid.UUID) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.friends[pairKey(a, b)], nil
}

// Запросы

func (t *tx) InsertRequest(_ context.Context, r *models.TradeRequest) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("InsertRequest"); err != nil {
		return err
	}
	return t.requests.insert(r.ID, r)
}

func (t *tx) GetRequest(_ context.Context, id uuid.UUID) (*models.TradeRequest, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.requests.get(id)
}

func (t *tx) UpdateRequest(_ context.Context, r *models.TradeRequest) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("UpdateRequest"); err != nil {
		return err
	}
	return t.requests.update(r.ID, r)
}

func (t *tx) DeleteRequest(_ context.Context, r *models.TradeRequest) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("DeleteRequest"); err != nil {
		return err
	}
	return t.requests.remove(r.ID, r)
}

func (t *tx) HasPendingRequest(_ context.Context, f store.PendingFilter) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	found := t.requests.scan(func(r *models.TradeRequest) bool {
		if r.Status != models.RequestStatusPending || r.IsManual != f.IsManual {
			return false
		}
		if !r.SamePair(f.UserA, f.UserB) {
			return false
		}
		if !f.NotBefore.IsZero() && r.CreatedAt.Before(f.NotBefore) {
			return false
		}
		return f.IsManual || r.SameTarget(f.TargetItemID)
	})
	return len(found) > 0, nil
}

func (t *tx) ListRequests(_ context.Context, f store.RequestFilter) ([]*models.TradeRequest, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := t.requests.scan(func(r *models.TradeRequest) bool {
		if f.Status != "" && r.Status != f.Status {
			return false
		}
		return (f.Incoming && r.ToUserID == f.UserID) || (f.Outgoing && r.FromUserID == f.UserID)
	})
	sortByTime(out, func(r *models.TradeRequest) int64 { return r.CreatedAt.UnixNano() })
	return out, nil
}

// Обмены

func (t *tx) InsertTrade(_ context.Context, tr *models.Trade) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("InsertTrade"); err != nil {
		return err
	}
	if tr.PrivateRoomCode != "" {
		dup := t.trades.scan(func(row *models.Trade) bool { return row.PrivateRoomCode == tr.PrivateRoomCode })
		if len(dup) > 0 {
			return store.ErrDuplicate
		}
	}
	return t.trades.insert(tr.ID, tr)
}

func (t *tx) GetTrade(_ context.Context, id uuid.UUID) (*models.Trade, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.trades.get(id)
}

func (t *tx) GetTradeByRoomCode(_ context.Context, code string) (*models.Trade, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	found := t.trades.scan(func(row *models.Trade) bool { return row.PrivateRoomCode == code })
	if len(found) == 0 {
		return nil, store.ErrNotFound
	}
	return found[0], nil
}

func (t *tx) UpdateTrade(_ context.Context, tr *models.Trade) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("UpdateTrade"); err != nil {
		return err
	}
	return t.trades.update(tr.ID, tr)
}

func (t *tx) ListTrades(_ context.Context, userID uuid.UUID, status models.TradeStatus) ([]*models.Trade, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := t.trades.scan(func(row *models.Trade) bool {
		if status != "" && row.Status != status {
			return false
		}
		return row.InitiatorUserID == userID || row.ReceiverUserID == userID
	})
	sortByTime(out, func(row *models.Trade) int64 { return row.CreatedAt.UnixNano() })
	return out, nil
}

func (t *tx) ItemInPendingTrade(_ context.Context, itemID uuid.UUID) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	found := t.trades.scan(func(row *models.Trade) bool {
		if row.Status != models.TradeStatusPending {
			return false
		}
		for _, side := range []models.Side{models.SideInitiator, models.SideReceiver} {
			for _, it := range row.Items(side) {
				if it.InventoryItemID == itemID {
					return true
				}
			}
		}
		return false
	})
	return len(found) > 0, nil
}

// Приглашения

func (t *tx) InsertInvite(_ context.Context, i *models.FriendTradeRoomInvite) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("InsertInvite"); err != nil {
		return err
	}
	return t.invites.insert(i.ID, i)
}

func (t *tx) GetInvite(_ context.Context, id uuid.UUID) (*models.FriendTradeRoomInvite, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.invites.get(id)
}

func (t *tx) GetInviteByTrade(_ context.Context, tradeID uuid.UUID) (*models.FriendTradeRoomInvite, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	found := t.invites.scan(func(i *models.FriendTradeRoomInvite) bool {
		return i.LinkedTradeID != nil && *i.LinkedTradeID == tradeID
	})
	if len(found) == 0 {
		return nil, store.ErrNotFound
	}
	return found[0], nil
}

func (t *tx) UpdateInvite(_ context.Context, i *models.FriendTradeRoomInvite) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("UpdateInvite"); err != nil {
		return err
	}
	return t.invites.update(i.ID, i)
}

func (t *tx) HasPendingInvite(_ context.Context, from, to uuid.UUID, symmetric bool) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	found := t.invites.scan(func(i *models.FriendTradeRoomInvite) bool {
		if i.Status != models.InviteStatusPending {
			return false
		}
		if i.FromUserID == from && i.ToUserID == to {
			return true
		}
		return symmetric && i.FromUserID == to && i.ToUserID == from
	})
	return len(found) > 0, nil
}

// Инвентарь

func (t *tx) GetInventoryItem(_ context.Context, id uuid.UUID) (*models.InventoryItem, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.items.get(id)
}

func (t *tx) FindInventoryMatch(_ context.Context, ownerID uuid.UUID, like *models.InventoryItem) (*models.InventoryItem, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	found := t.items.scan(func(i *models.InventoryItem) bool {
		return i.OwnerID == ownerID && i.Matches(like)
	})
	if len(found) == 0 {
		return nil, store.ErrNotFound
	}
	sort.Slice(found, func(a, b int) bool { return found[a].CreatedAt.Before(found[b].CreatedAt) })
	return found[0], nil
}

func (t *tx) ListInventory(_ context.Context, ownerID uuid.UUID) ([]*models.InventoryItem, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := t.items.scan(func(i *models.InventoryItem) bool { return i.OwnerID == ownerID })
	sortByTime(out, func(i *models.InventoryItem) int64 { return i.CreatedAt.UnixNano() })
	return out, nil
}

func (t *tx) InsertInventoryItem(_ context.Context, i *models.InventoryItem) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("InsertInventoryItem"); err != nil {
		return err
	}
	return t.items.insert(i.ID, i)
}

func (t *tx) UpdateInventoryItem(_ context.Context, i *models.InventoryItem) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("UpdateInventoryItem"); err != nil {
		return err
	}
	return t.items.update(i.ID, i)
}

func (t *tx) DeleteInventoryItem(_ context.Context, i *models.InventoryItem) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("DeleteInventoryItem"); err != nil {
		return err
	}
	return t.items.remove(i.ID, i)
}

// Уведомления

func (t *tx) InsertNotification(_ context.Context, n *models.Notification) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if err := t.checkFault("InsertNotification"); err != nil {
		return err
	}
	cp := *n
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	t.notifications = append(t.notifications, &cp)
	return nil
}
