package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/events"
	"github.com/rajivgeraev/cardtrade-api/internal/metrics"
)

// RoomAuthorizer проверяет, может ли пользователь подписаться на комнату обмена
type RoomAuthorizer interface {
	CanJoinRoom(ctx context.Context, userID uuid.UUID, room string) (bool, error)
}

// Manager представляет центральный менеджер для всех WebSocket соединений.
// Реализует events.Emitter для доставки событий пользователям и комнатам.
type Manager struct {
	mu          sync.RWMutex
	clients     map[uuid.UUID]*Client
	userClients map[uuid.UUID]map[uuid.UUID]bool // userID -> clientID
	roomClients map[string]map[uuid.UUID]bool    // room -> clientID

	rooms RoomAuthorizer
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

var _ events.Emitter = (*Manager)(nil)

// NewManager создает новый экземпляр Manager
func NewManager(rooms RoomAuthorizer, log *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[uuid.UUID]map[uuid.UUID]bool),
		roomClients: make(map[string]map[uuid.UUID]bool),
		rooms:       rooms,
		log:         log.Named("ws"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// AddClient регистрирует нового клиента
func (m *Manager) AddClient(client *Client) {
	m.mu.Lock()
	m.clients[client.ID] = client
	if _, exists := m.userClients[client.UserID]; !exists {
		m.userClients[client.UserID] = make(map[uuid.UUID]bool)
	}
	m.userClients[client.UserID][client.ID] = true
	m.mu.Unlock()

	metrics.WebsocketConnections.Inc()
	m.log.Debug("client connected", zap.Stringer("client_id", client.ID), zap.Stringer("user_id", client.UserID))
}

// RemoveClient удаляет клиента и его подписки на комнаты
func (m *Manager) RemoveClient(clientID uuid.UUID) {
	m.mu.Lock()
	client, exists := m.clients[clientID]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.clients, clientID)

	if clients, ok := m.userClients[client.UserID]; ok {
		delete(clients, clientID)
		// Последнее соединение пользователя
		if len(clients) == 0 {
			delete(m.userClients, client.UserID)
		}
	}
	for room := range client.rooms {
		m.leaveLocked(room, clientID)
	}
	m.mu.Unlock()

	metrics.WebsocketConnections.Dec()
	m.log.Debug("client disconnected", zap.Stringer("client_id", clientID), zap.Stringer("user_id", client.UserID))
}

// JoinRoom подписывает клиента на события комнаты после проверки доступа
func (m *Manager) JoinRoom(ctx context.Context, client *Client, room string) error {
	if m.rooms != nil {
		ok, err := m.rooms.CanJoinRoom(ctx, client.UserID, room)
		if err != nil {
			return err
		}
		if !ok {
			return errRoomForbidden
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[client.ID]; !exists {
		return errClientGone
	}
	if _, exists := m.roomClients[room]; !exists {
		m.roomClients[room] = make(map[uuid.UUID]bool)
	}
	m.roomClients[room][client.ID] = true
	client.rooms[room] = true
	return nil
}

// LeaveRoom отписывает клиента от комнаты
func (m *Manager) LeaveRoom(client *Client, room string) {
	m.mu.Lock()
	m.leaveLocked(room, client.ID)
	delete(client.rooms, room)
	m.mu.Unlock()
}

func (m *Manager) leaveLocked(room string, clientID uuid.UUID) {
	if clients, ok := m.roomClients[room]; ok {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(m.roomClients, room)
		}
	}
}

// Emit отправляет событие всем соединениям пользователя. Офлайн-пользователь не является ошибкой.
func (m *Manager) Emit(_ context.Context, userID uuid.UUID, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("ws", "error").Inc()
		return err
	}
	m.SendToUser(userID, payload)
	return nil
}

// EmitToRoom отправляет событие всем подписчикам комнаты
func (m *Manager) EmitToRoom(_ context.Context, room string, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("ws", "error").Inc()
		return err
	}
	m.SendToRoom(room, payload)
	return nil
}

// SendToUser отправляет готовое сообщение соединениям пользователя на этом узле
func (m *Manager) SendToUser(userID uuid.UUID, payload []byte) {
	m.mu.RLock()
	targets := m.collect(m.userClients[userID])
	m.mu.RUnlock()
	m.deliver(targets, payload)
}

// SendToRoom отправляет готовое сообщение подписчикам комнаты на этом узле
func (m *Manager) SendToRoom(room string, payload []byte) {
	m.mu.RLock()
	targets := m.collect(m.roomClients[room])
	m.mu.RUnlock()
	m.deliver(targets, payload)
}

// collect вызывается под RLock
func (m *Manager) collect(ids map[uuid.UUID]bool) []*Client {
	out := make([]*Client, 0, len(ids))
	for id := range ids {
		if c, ok := m.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) deliver(targets []*Client, payload []byte) {
	if len(targets) == 0 {
		return
	}
	for _, c := range targets {
		if !c.enqueue(payload) {
			// Клиент не успевает читать - закрываем соединение
			m.log.Warn("send buffer full, closing connection", zap.Stringer("client_id", c.ID))
			c.close()
			m.RemoveClient(c.ID)
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues("ws", "ok").Inc()
}

// Online сообщает число активных соединений пользователя
func (m *Manager) Online(userID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.userClients[userID])
}

// Shutdown корректно завершает работу менеджера WebSocket
func (m *Manager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clients = make(map[uuid.UUID]*Client)
	m.userClients = make(map[uuid.UUID]map[uuid.UUID]bool)
	m.roomClients = make(map[string]map[uuid.UUID]bool)
	m.mu.Unlock()

	metrics.WebsocketConnections.Sub(float64(len(clients)))
	for _, client := range clients {
		client.close()
	}
}
