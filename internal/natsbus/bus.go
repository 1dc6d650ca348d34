package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rajivgeraev/cardtrade-api/internal/config"
	"github.com/rajivgeraev/cardtrade-api/internal/events"
	"github.com/rajivgeraev/cardtrade-api/internal/metrics"
)

const (
	kindUser = "user"
	kindRoom = "room"
)

// LocalSink доставляет сообщения соединениям текущего узла
type LocalSink interface {
	SendToUser(userID uuid.UUID, payload []byte)
	SendToRoom(room string, payload []byte)
}

// envelope сообщение между узлами
type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// Bus публикует события в NATS, чтобы их получили клиенты, подключенные к другим узлам
type Bus struct {
	conn   *nats.Conn
	prefix string
	nodeID string
	log    *zap.Logger
	sub    *nats.Subscription
}

var _ events.Emitter = (*Bus)(nil)

// Connect подключается к NATS
func Connect(cfg config.NATSConfig, log *zap.Logger) (*Bus, error) {
	log = log.Named("nats")
	opts := []nats.Option{
		nats.Name("cardtrade"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		nodeID: uuid.NewString(),
		log:    log,
	}, nil
}

// UserSubject возвращает subject событий пользователя
func UserSubject(prefix string, userID uuid.UUID) string {
	return prefix + "." + kindUser + "." + userID.String()
}

// RoomSubject возвращает subject событий комнаты
func RoomSubject(prefix, room string) string {
	return prefix + "." + kindRoom + "." + room
}

// Emit публикует событие пользователя
func (b *Bus) Emit(_ context.Context, userID uuid.UUID, ev events.Event) error {
	return b.publish(UserSubject(b.prefix, userID), ev)
}

// EmitToRoom публикует событие комнаты
func (b *Bus) EmitToRoom(_ context.Context, room string, ev events.Event) error {
	return b.publish(RoomSubject(b.prefix, room), ev)
}

func (b *Bus) publish(subject string, ev events.Event) error {
	data, err := encode(b.nodeID, ev)
	if err == nil {
		err = b.conn.Publish(subject, data)
	}
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("nats", "error").Inc()
		return err
	}
	metrics.EventsPublishedTotal.WithLabelValues("nats", "ok").Inc()
	return nil
}

// Relay подписывается на события других узлов и передает их локальным соединениям.
// Собственные события узла пропускаются: их уже доставил локальный эмиттер.
func (b *Bus) Relay(sink LocalSink) error {
	sub, err := b.conn.Subscribe(b.prefix+".>", func(msg *nats.Msg) {
		relay(b.prefix, b.nodeID, msg.Subject, msg.Data, sink, b.log)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

// Close отписывается и закрывает соединение, дожидаясь отправки буфера
func (b *Bus) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

func encode(origin string, ev events.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Origin: origin, Event: raw})
}

var errBadSubject = errors.New("unexpected subject")

// parseSubject разбирает subject вида <prefix>.<kind>.<target>
func parseSubject(prefix, subject string) (kind, target string, err error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return "", "", errBadSubject
	}
	kind, target, ok = strings.Cut(rest, ".")
	if !ok || target == "" || (kind != kindUser && kind != kindRoom) {
		return "", "", errBadSubject
	}
	return kind, target, nil
}

func relay(prefix, nodeID, subject string, data []byte, sink LocalSink, log *zap.Logger) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn("malformed message", zap.String("subject", subject), zap.Error(err))
		return
	}
	if env.Origin == nodeID {
		return
	}

	kind, target, err := parseSubject(prefix, subject)
	if err != nil {
		log.Warn("skip message", zap.String("subject", subject), zap.Error(err))
		return
	}

	switch kind {
	case kindUser:
		userID, err := uuid.Parse(target)
		if err != nil {
			log.Warn("bad user id in subject", zap.String("subject", subject))
			return
		}
		sink.SendToUser(userID, env.Event)
	case kindRoom:
		sink.SendToRoom(target, env.Event)
	}
}
