package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("store: not found")

	// ErrConflict запись изменена параллельной транзакцией (устаревшая версия)
	ErrConflict = errors.New("store: version conflict")

	// ErrDuplicate нарушено ограничение уникальности
	ErrDuplicate = errors.New("store: duplicate")
)

// Store хранилище с транзакционной границей
type Store interface {
	// InTx выполняет fn в одной транзакции. Если fn возвращает ошибку, ни одна запись не фиксируется.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// PendingFilter параметры поиска ожидающих запросов между парой пользователей
type PendingFilter struct {
	UserA        uuid.UUID
	UserB        uuid.UUID
	TargetItemID *string
	IsManual     bool
	// NotBefore если не нулевое, запросы, созданные раньше, считаются истекшими
	NotBefore time.Time
}

// RequestFilter параметры выборки запросов пользователя
type RequestFilter struct {
	UserID   uuid.UUID
	Incoming bool
	Outgoing bool
	Status   models.RequestStatus // пусто - все статусы
}

// Tx операции, доступные внутри транзакции.
// Update* и Delete* проверяют Version переданной записи и возвращают ErrConflict при расхождении.
// При успешном Update* версия записи увеличивается.
type Tx interface {
	// Пользователи (внешний справочник)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByHandle(ctx context.Context, handle string) (*models.User, error)
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)

	// Запросы на обмен
	InsertRequest(ctx context.Context, r *models.TradeRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.TradeRequest, error)
	UpdateRequest(ctx context.Context, r *models.TradeRequest) error
	DeleteRequest(ctx context.Context, r *models.TradeRequest) error
	HasPendingRequest(ctx context.Context, f PendingFilter) (bool, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]*models.TradeRequest, error)

	// Обмены
	InsertTrade(ctx context.Context, t *models.Trade) error
	GetTrade(ctx context.Context, id uuid.UUID) (*models.Trade, error)
	GetTradeByRoomCode(ctx context.Context, code string) (*models.Trade, error)
	UpdateTrade(ctx context.Context, t *models.Trade) error
	ListTrades(ctx context.Context, userID uuid.UUID, status models.TradeStatus) ([]*models.Trade, error)
	ItemInPendingTrade(ctx context.Context, itemID uuid.UUID) (bool, error)

	// Приглашения в приватные комнаты
	InsertInvite(ctx context.Context, i *models.FriendTradeRoomInvite) error
	GetInvite(ctx context.Context, id uuid.UUID) (*models.FriendTradeRoomInvite, error)
	GetInviteByTrade(ctx context.Context, tradeID uuid.UUID) (*models.FriendTradeRoomInvite, error)
	UpdateInvite(ctx context.Context, i *models.FriendTradeRoomInvite) error
	HasPendingInvite(ctx context.Context, from, to uuid.UUID, symmetric bool) (bool, error)

	// Инвентарь
	GetInventoryItem(ctx context.Context, id uuid.UUID) (*models.InventoryItem, error)
	FindInventoryMatch(ctx context.Context, ownerID uuid.UUID, like *models.InventoryItem) (*models.InventoryItem, error)
	ListInventory(ctx context.Context, ownerID uuid.UUID) ([]*models.InventoryItem, error)
	InsertInventoryItem(ctx context.Context, i *models.InventoryItem) error
	UpdateInventoryItem(ctx context.Context, i *models.InventoryItem) error
	DeleteInventoryItem(ctx context.Context, i *models.InventoryItem) error

	// Уведомления (внешнее хранилище)
	InsertNotification(ctx context.Context, n *models.Notification) error
}
