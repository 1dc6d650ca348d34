package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Максимальное время ожидания для pong от клиента
	pongWait = 60 * time.Second

	// Отправлять ping-сообщения клиенту с этим интервалом
	pingPeriod = (pongWait * 9) / 10

	writeWait = 10 * time.Second

	// Клиент присылает только команды подписки
	maxMessageSize = 4 * 1024

	// Размер буфера для отправляемых сообщений
	writeBufferSize = 256
)

var (
	errRoomForbidden = errors.New("room access denied")
	errClientGone    = errors.New("client disconnected")
)

// Команды клиента
const (
	commandJoinRoom  = "join_room"
	commandLeaveRoom = "leave_room"
)

type command struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type reply struct {
	Type  string `json:"type"`
	Room  string `json:"room,omitempty"`
	Error string `json:"error,omitempty"`
}

// Client представляет собой отдельное WebSocket соединение
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID

	conn    *websocket.Conn
	send    chan []byte // Буферизованный канал исходящих сообщений
	manager *Manager

	// rooms изменяется под блокировкой менеджера
	rooms map[string]bool

	closeOnce sync.Once
	closeChan chan struct{}
}

// NewClient создает новый экземпляр Client
func NewClient(userID uuid.UUID, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:        uuid.New(),
		UserID:    userID,
		conn:      conn,
		send:      make(chan []byte, writeBufferSize),
		manager:   manager,
		rooms:     make(map[string]bool),
		closeChan: make(chan struct{}),
	}
}

// Start запускает клиентские горутины для чтения и записи
func (c *Client) Start() {
	c.manager.AddClient(c)

	go c.readPump()
	go c.writePump()
}

func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.closeChan:
		return true
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.conn.Close()
	})
}

// readPump обрабатывает входящие команды от клиента
func (c *Client) readPump() {
	defer func() {
		c.manager.RemoveClient(c.ID)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.log.Debug("unexpected close", zap.Stringer("client_id", c.ID), zap.Error(err))
			}
			return
		}
		c.handleCommand(message)
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.manager.log.Debug("write failed", zap.Stringer("client_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			// Отправляем ping для поддержания соединения
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// handleCommand обрабатывает подписку на комнаты
func (c *Client) handleCommand(message []byte) {
	var cmd command
	if err := json.Unmarshal(message, &cmd); err != nil || cmd.Room == "" {
		c.reply(reply{Type: "error", Error: "invalid command"})
		return
	}

	switch cmd.Type {
	case commandJoinRoom:
		ctx, cancel := context.WithTimeout(c.manager.ctx, 5*time.Second)
		err := c.manager.JoinRoom(ctx, c, cmd.Room)
		cancel()
		if err != nil {
			if !errors.Is(err, errRoomForbidden) {
				c.manager.log.Warn("join room failed", zap.String("room", cmd.Room), zap.Error(err))
			}
			c.reply(reply{Type: "error", Room: cmd.Room, Error: "cannot join room"})
			return
		}
		c.reply(reply{Type: "room_joined", Room: cmd.Room})
	case commandLeaveRoom:
		c.manager.LeaveRoom(c, cmd.Room)
		c.reply(reply{Type: "room_left", Room: cmd.Room})
	default:
		c.reply(reply{Type: "error", Error: "unknown command"})
	}
}

func (c *Client) reply(r reply) {
	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.enqueue(payload)
}
