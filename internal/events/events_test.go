package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store/memory"
)

func TestEvent_MarshalJSON(t *testing.T) {
	tradeID := uuid.New()
	ev := New(TradeStatusChanged{TradeID: tradeID, Status: models.TradeStatusRejected})

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "trade_status_changed", decoded.Type)
	assert.Equal(t, tradeID.String(), decoded.Payload["trade_id"])
	assert.Equal(t, "rejected", decoded.Payload["status"])
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &Recorder{}
	failing := &Recorder{Err: errors.New("offline")}
	m := Multi{ok, failing}

	err := m.Emit(context.Background(), uuid.New(), New(RequestRejected{RequestID: uuid.New()}))
	require.Error(t, err)
	assert.Len(t, ok.Deliveries(), 1)
	assert.Len(t, failing.Deliveries(), 1)
}

func TestDispatcher_SwallowsFailures(t *testing.T) {
	rec := &Recorder{Err: errors.New("offline")}
	st := memory.New()
	d := NewDispatcher(rec, StoreNotifier{Store: st}, zaptest.NewLogger(t))

	userID := uuid.New()
	d.ToUser(context.Background(), userID, RequestRejected{RequestID: uuid.New()})
	d.ToRoom(context.Background(), "ROOM1234", TradeCompleted{TradeID: uuid.New()})
	d.Notify(context.Background(), userID, "Запрос отклонен", "test", map[string]string{"k": "v"})

	assert.Equal(t, 1, rec.Count(NameRequestRejected))
	assert.Equal(t, 1, rec.Count(NameTradeCompleted))

	notifications := st.Notifications(userID)
	require.Len(t, notifications, 1)
	assert.JSONEq(t, `{"k":"v"}`, string(notifications[0].Data))
}
