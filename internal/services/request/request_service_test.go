package request

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/config"
	"github.com/rajivgeraev/cardtrade-api/internal/events"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/services/trade"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
	"github.com/rajivgeraev/cardtrade-api/internal/store/memory"
	"github.com/rajivgeraev/cardtrade-api/internal/utils"
	"github.com/rajivgeraev/cardtrade-api/internal/valuation"
)

type fixture struct {
	st     *memory.Store
	rec    *events.Recorder
	trades *trade.TradeService
	svc    *RequestService
	alice  uuid.UUID
	bob    uuid.UUID
}

func newFixture(t *testing.T, pendingTTL time.Duration) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memory.New()
	rec := &events.Recorder{}
	dispatcher := events.NewDispatcher(rec, events.StoreNotifier{Store: st}, log)
	jwtService := utils.NewJWTService("test-secret")

	trades := trade.NewTradeService(st, valuation.RecordValuer{}, dispatcher, jwtService,
		config.TradeConfig{ValueDiffThreshold: 0.25, MaxRetries: 3}, log)
	svc := NewRequestService(st, trades, dispatcher, jwtService, pendingTTL, log)
	trades.SetRequestReleaser(svc)

	f := &fixture{st: st, rec: rec, trades: trades, svc: svc, alice: uuid.New(), bob: uuid.New()}
	st.AddUser(&models.User{ID: f.alice, Handle: "alice", DisplayName: "Alice"})
	st.AddUser(&models.User{ID: f.bob, Handle: "Bob"})
	return f
}

func (f *fixture) addItem(owner uuid.UUID, catalogID string, value int64) uuid.UUID {
	v := decimal.NewFromInt(value)
	item := &models.InventoryItem{
		ID:            uuid.New(),
		OwnerID:       owner,
		CatalogItemID: catalogID,
		Condition:     "mint",
		Bucket:        "default",
		Quantity:      1,
		Tradable:      true,
		MarketValue:   &v,
	}
	f.st.AddInventoryItem(item)
	return item.ID
}

func (f *fixture) request(t *testing.T, id uuid.UUID) (*models.TradeRequest, error) {
	t.Helper()
	var req *models.TradeRequest
	err := f.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.GetRequest(ctx, id)
		return err
	})
	return req, err
}

func strPtr(s string) *string { return &s }

func TestCreateRequest(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	req, err := f.svc.CreateRequest(ctx, CreateRequestParams{
		FromUserID:       f.alice,
		ToUserIdentifier: "@bob",
		TargetItemID:     strPtr("card-b"),
		Note:             "  меняемся?  ",
	})
	require.NoError(t, err)
	assert.Equal(t, f.bob, req.ToUserID)
	assert.Equal(t, "Alice", req.DisplayName)
	assert.Equal(t, "меняемся?", req.Note)
	assert.Equal(t, models.RequestStatusPending, req.Status)

	assert.Equal(t, 1, f.rec.Count(events.NameRequestCreated))
	require.Len(t, f.st.Notifications(f.bob), 1)
	assert.Equal(t, "Новый запрос на обмен", f.st.Notifications(f.bob)[0].Title)
}

func TestCreateRequest_Errors(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", TargetItemID: strPtr("card-b")})
	require.NoError(t, err)

	tests := []struct {
		name string
		p    CreateRequestParams
		kind apperr.Kind
	}{
		{
			name: "unknown user",
			p:    CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "nobody"},
			kind: apperr.KindNotFound,
		},
		{
			name: "unknown id",
			p:    CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: uuid.NewString()},
			kind: apperr.KindNotFound,
		},
		{
			name: "self",
			p:    CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: f.alice.String()},
			kind: apperr.KindSelfTarget,
		},
		{
			name: "empty identifier",
			p:    CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: " "},
			kind: apperr.KindInvalid,
		},
		{
			name: "duplicate same direction",
			p:    CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", TargetItemID: strPtr("card-b")},
			kind: apperr.KindDuplicatePending,
		},
		{
			name: "duplicate reverse direction",
			p:    CreateRequestParams{FromUserID: f.bob, ToUserIdentifier: "alice", TargetItemID: strPtr("card-b")},
			kind: apperr.KindDuplicatePending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateRequest(ctx, tt.p)
			assert.True(t, apperr.IsKind(err, tt.kind), "got %v", err)
		})
	}

	t.Run("different target allowed", func(t *testing.T) {
		_, err := f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", TargetItemID: strPtr("card-c")})
		require.NoError(t, err)
	})
}

func TestCreateRequest_ManualCollidesWithInvite(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	err := f.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertInvite(ctx, &models.FriendTradeRoomInvite{
			ID:         uuid.New(),
			FromUserID: f.bob,
			ToUserID:   f.alice,
			Status:     models.InviteStatusPending,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		})
	})
	require.NoError(t, err)

	_, err = f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", IsManual: true})
	assert.True(t, apperr.IsKind(err, apperr.KindDuplicatePending), "got %v", err)

	// Запрос на предмет приглашению не мешает
	_, err = f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", TargetItemID: strPtr("card-b")})
	require.NoError(t, err)
}

func TestCreateRequest_PendingTTL(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	now := time.Now()
	f.svc.now = func() time.Time { return now.Add(-2 * time.Hour) }
	stale, err := f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", IsManual: true})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return now }
	fresh, err := f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.bob, ToUserIdentifier: "alice", IsManual: true})
	require.NoError(t, err)

	old, err := f.request(t, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, old.Status)
	require.NotNil(t, old.FinishedAt)

	_, err = f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", IsManual: true})
	assert.True(t, apperr.IsKind(err, apperr.KindDuplicatePending), "fresh request %s still blocks", fresh.ID)
}

func TestAcceptRequest_OpensTrade(t *testing.T) {
	tests := []struct {
		name     string
		manual   bool
		target   *string
		wantKind models.TradeKind
	}{
		{name: "item request opens public trade", target: strPtr("card-b"), wantKind: models.TradeKindPublic},
		{name: "manual request opens private trade", manual: true, wantKind: models.TradeKindPrivate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			ctx := context.Background()

			req, err := f.svc.CreateRequest(ctx, CreateRequestParams{
				FromUserID: f.alice, ToUserIdentifier: "bob", TargetItemID: tt.target, IsManual: tt.manual,
			})
			require.NoError(t, err)

			accepted, opened, err := f.svc.AcceptRequest(ctx, req.ID, f.bob)
			require.NoError(t, err)
			assert.Equal(t, models.RequestStatusAccepted, accepted.Status)
			require.NotNil(t, accepted.LinkedTradeID)
			assert.Equal(t, opened.ID, *accepted.LinkedTradeID)

			assert.Equal(t, tt.wantKind, opened.Kind)
			assert.Equal(t, f.alice, opened.InitiatorUserID)
			assert.Equal(t, f.bob, opened.ReceiverUserID)
			assert.Equal(t, tt.target, opened.RequestedItemID)
			require.NotNil(t, opened.OriginRequestID)
			assert.Equal(t, req.ID, *opened.OriginRequestID)
			if tt.manual {
				assert.NotEmpty(t, opened.PrivateRoomCode)
			} else {
				assert.Empty(t, opened.PrivateRoomCode)
			}

			var delivered *events.RequestAccepted
			for _, d := range f.rec.Deliveries() {
				if p, ok := d.Event.Payload.(events.RequestAccepted); ok && d.UserID == f.alice {
					delivered = &p
				}
			}
			require.NotNil(t, delivered)
			assert.Equal(t, opened.RoomKey(), delivered.Room)
			assert.Equal(t, opened.Kind, delivered.TradeKind)
		})
	}
}

func TestAcceptRequest_Errors(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	req, err := f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", IsManual: true})
	require.NoError(t, err)

	_, _, err = f.svc.AcceptRequest(ctx, uuid.New(), f.bob)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, _, err = f.svc.AcceptRequest(ctx, req.ID, f.alice)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	_, err = f.svc.CancelRequest(ctx, req.ID, f.bob)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	_, err = f.svc.RejectRequest(ctx, req.ID, f.bob)
	require.NoError(t, err)

	_, _, err = f.svc.AcceptRequest(ctx, req.ID, f.bob)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))

	trades, err := f.trades.ListTrades(ctx, f.bob, "")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestRejectAndCancel(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", TargetItemID: strPtr("x")})
	require.NoError(t, err)
	rejected, err := f.svc.RejectRequest(ctx, first.ID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, rejected.Status)
	assert.NotNil(t, rejected.FinishedAt)
	assert.Equal(t, 1, f.rec.Count(events.NameRequestRejected))

	second, err := f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", TargetItemID: strPtr("x")})
	require.NoError(t, err, "rejected request no longer blocks")
	cancelled, err := f.svc.CancelRequest(ctx, second.ID, f.alice)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, cancelled.Status)
	assert.Equal(t, 1, f.rec.Count(events.NameRequestRejected), "cancel is silent")

	_, err = f.svc.CancelRequest(ctx, second.ID, f.alice)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))

	incoming, err := f.svc.ListRequests(ctx, f.bob, DirectionIncoming, "")
	require.NoError(t, err)
	assert.Len(t, incoming, 2)
	outgoing, err := f.svc.ListRequests(ctx, f.bob, DirectionOutgoing, "")
	require.NoError(t, err)
	assert.Empty(t, outgoing)
	_, err = f.svc.ListRequests(ctx, f.bob, Direction("sideways"), "")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalid))
}

func TestRequestToCompletedTrade(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	aliceItem := f.addItem(f.alice, "card-a", 100)
	bobItem := f.addItem(f.bob, "card-b", 80)

	req, err := f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", TargetItemID: strPtr("card-b")})
	require.NoError(t, err)
	_, opened, err := f.svc.AcceptRequest(ctx, req.ID, f.bob)
	require.NoError(t, err)

	outcome, err := f.trades.ConfirmSide(ctx, opened.ID, f.alice, aliceItem)
	require.NoError(t, err)
	assert.Equal(t, trade.OutcomeWaitingOnOtherParty, outcome)

	outcome, err = f.trades.ConfirmSide(ctx, opened.ID, f.bob, bobItem)
	require.NoError(t, err)
	assert.Equal(t, trade.OutcomeCompleted, outcome)

	// Исходный запрос освобожден
	_, err = f.request(t, req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Новый запрос на ту же карту снова возможен
	_, err = f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", TargetItemID: strPtr("card-b")})
	require.NoError(t, err)
}

func TestRejectedTradeReleasesRequest(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	req, err := f.svc.CreateRequest(ctx, CreateRequestParams{FromUserID: f.alice, ToUserIdentifier: "bob", IsManual: true})
	require.NoError(t, err)
	_, opened, err := f.svc.AcceptRequest(ctx, req.ID, f.bob)
	require.NoError(t, err)

	_, err = f.trades.SetStatus(ctx, opened.ID, f.bob, models.TradeStatusRejected)
	require.NoError(t, err)

	_, err = f.request(t, req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
