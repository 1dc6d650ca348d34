package trade

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/cardtrade-api/internal/apperr"
	"github.com/rajivgeraev/cardtrade-api/internal/events"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
	"github.com/rajivgeraev/cardtrade-api/internal/store/memory"
)

func TestConfirmSide_CompletesAndTransfers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceItem := f.addItem(f.alice, "card-a", 100)
	bobItem := f.addItem(f.bob, "card-b", 90)
	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})

	outcome, err := f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaitingOnOtherParty, outcome)

	pending := f.trade(t, trade.ID)
	assert.True(t, pending.InitiatorAccepted)
	assert.False(t, pending.ReceiverAccepted)
	assert.Equal(t, models.TradeStatusPending, pending.Status)

	outcome, err = f.svc.ConfirmSide(ctx, trade.ID, f.bob, bobItem)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	done := f.trade(t, trade.ID)
	assert.Equal(t, models.TradeStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// Количество копий сохраняется, владельцы меняются
	assert.Equal(t, 0, f.units(t, f.alice, "card-a"))
	assert.Equal(t, 1, f.units(t, f.bob, "card-a"))
	assert.Equal(t, 1, f.units(t, f.alice, "card-b"))
	assert.Equal(t, 0, f.units(t, f.bob, "card-b"))

	// Полученные копии не выставлены на обмен
	for _, item := range append(f.inventory(t, f.alice), f.inventory(t, f.bob)...) {
		assert.False(t, item.Tradable, "item %s", item.CatalogItemID)
	}

	assert.Equal(t, 1, f.rec.Count(events.NameTradeCompleted))
	assert.Len(t, f.st.Notifications(f.alice), 1)
	assert.Len(t, f.st.Notifications(f.bob), 1)
}

func TestConfirmSide_MergesIntoMatchingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceItem := f.addItem(f.alice, "card-a", 100)
	bobItem := f.addItem(f.bob, "card-b", 100)
	// У Боба уже есть такая же карта
	existing := f.addItem(f.bob, "card-a", 100)

	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})
	_, err := f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
	require.NoError(t, err)
	_, err = f.svc.ConfirmSide(ctx, trade.ID, f.bob, bobItem)
	require.NoError(t, err)

	var merged *models.InventoryItem
	for _, item := range f.inventory(t, f.bob) {
		if item.ID == existing {
			merged = item
		}
	}
	require.NotNil(t, merged)
	assert.Equal(t, 2, merged.Quantity)
	assert.False(t, merged.Tradable)
	assert.Equal(t, 2, f.units(t, f.bob, "card-a"))
}

func TestConfirmSide_AlreadyAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceItem := f.addItem(f.alice, "card-a", 100)
	other := f.addItem(f.alice, "card-c", 100)
	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})

	_, err := f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
	require.NoError(t, err)
	before := f.trade(t, trade.ID)

	_, err = f.svc.ConfirmSide(ctx, trade.ID, f.alice, other)
	assert.True(t, apperr.IsKind(err, apperr.KindAlreadyAccepted))

	_, err = f.svc.SelectItem(ctx, trade.ID, f.alice, other)
	assert.True(t, apperr.IsKind(err, apperr.KindAlreadyAccepted))

	after := f.trade(t, trade.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.InitiatorItems, after.InitiatorItems)
}

func TestConfirmSide_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceItem := f.addItem(f.alice, "card-a", 100)
	bobItem := f.addItem(f.bob, "card-b", 100)
	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})

	t.Run("outsider", func(t *testing.T) {
		_, err := f.svc.ConfirmSide(ctx, trade.ID, uuid.New(), aliceItem)
		assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	})

	t.Run("unknown trade", func(t *testing.T) {
		_, err := f.svc.ConfirmSide(ctx, uuid.New(), f.alice, aliceItem)
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("foreign item", func(t *testing.T) {
		_, err := f.svc.ConfirmSide(ctx, trade.ID, f.alice, bobItem)
		assert.True(t, apperr.IsKind(err, apperr.KindOwnershipViolation))
		assert.False(t, f.trade(t, trade.ID).InitiatorAccepted)
	})

	t.Run("closed trade", func(t *testing.T) {
		_, err := f.svc.SetStatus(ctx, trade.ID, f.bob, models.TradeStatusCancelled)
		require.NoError(t, err)
		_, err = f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))
	})
}

func TestConfirmSide_ValueGuard(t *testing.T) {
	tests := []struct {
		name      string
		aliceVal  int64
		bobVal    int64
		wantError bool
	}{
		{name: "exact threshold passes", aliceVal: 100, bobVal: 75},
		{name: "reversed threshold passes", aliceVal: 75, bobVal: 100},
		{name: "over threshold fails", aliceVal: 100, bobVal: 74, wantError: true},
		{name: "equal values pass", aliceVal: 50, bobVal: 50},
		{name: "zero values pass", aliceVal: 0, bobVal: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			aliceItem := f.addItem(f.alice, "card-a", tt.aliceVal)
			bobItem := f.addItem(f.bob, "card-b", tt.bobVal)
			trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})

			_, err := f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
			require.NoError(t, err)
			outcome, err := f.svc.ConfirmSide(ctx, trade.ID, f.bob, bobItem)

			got := f.trade(t, trade.ID)
			if !tt.wantError {
				require.NoError(t, err)
				assert.Equal(t, OutcomeCompleted, outcome)
				assert.Equal(t, models.TradeStatusCompleted, got.Status)
				return
			}

			require.True(t, apperr.IsKind(err, apperr.KindValueDifferenceTooHigh), "got %v", err)
			var appErr *apperr.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "0.2600", appErr.Details["ratio"])

			assert.Equal(t, models.TradeStatusPending, got.Status)
			assert.False(t, got.InitiatorAccepted)
			assert.False(t, got.ReceiverAccepted)
			// Выбранные предметы сохраняются
			assert.Len(t, got.InitiatorItems, 1)
			assert.Len(t, got.ReceiverItems, 1)
			assert.Equal(t, 1, f.units(t, f.alice, "card-a"))
			assert.Equal(t, 1, f.units(t, f.bob, "card-b"))
		})
	}
}

func TestConfirmSide_RequestedItemMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceItem := f.addItem(f.alice, "card-a", 100)
	bobItem := f.addItem(f.bob, "card-b", 100)
	requested := "card-z"
	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic, RequestedItemID: &requested})

	_, err := f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
	require.NoError(t, err)
	_, err = f.svc.ConfirmSide(ctx, trade.ID, f.bob, bobItem)
	require.True(t, apperr.IsKind(err, apperr.KindRequestedItemMismatch), "got %v", err)

	got := f.trade(t, trade.ID)
	assert.Equal(t, models.TradeStatusPending, got.Status)
	assert.False(t, got.InitiatorAccepted)
	assert.False(t, got.ReceiverAccepted)

	// После смены предмета на запрошенный обмен завершается
	requestedItem := f.addItem(f.bob, "card-z", 100)
	_, err = f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
	require.NoError(t, err)
	outcome, err := f.svc.ConfirmSide(ctx, trade.ID, f.bob, requestedItem)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 1, f.units(t, f.alice, "card-z"))
}

func TestConfirmSide_RequestedItemByRecordID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceItem := f.addItem(f.alice, "card-a", 100)
	bobItem := f.addItem(f.bob, "card-b", 100)
	requested := bobItem.String()
	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic, RequestedItemID: &requested})

	_, err := f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
	require.NoError(t, err)
	outcome, err := f.svc.ConfirmSide(ctx, trade.ID, f.bob, bobItem)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
}

func TestConfirmSide_UntradableItemResetsFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceItem := f.addItem(f.alice, "card-a", 100)
	bobItem := f.addItem(f.bob, "card-b", 100)
	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})

	_, err := f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
	require.NoError(t, err)

	// Алиса снимает карту с обмена в обход сервиса
	err = f.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		item, err := tx.GetInventoryItem(ctx, aliceItem)
		if err != nil {
			return err
		}
		item.Tradable = false
		return tx.UpdateInventoryItem(ctx, item)
	})
	require.NoError(t, err)

	_, err = f.svc.ConfirmSide(ctx, trade.ID, f.bob, bobItem)
	require.True(t, apperr.IsKind(err, apperr.KindOwnershipViolation), "got %v", err)
	assert.True(t, apperr.KindOf(err).Retryable())

	got := f.trade(t, trade.ID)
	assert.False(t, got.InitiatorAccepted)
	assert.False(t, got.ReceiverAccepted)
	assert.Equal(t, models.TradeStatusPending, got.Status)
}

func TestConfirmSide_TransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceItem := f.addItem(f.alice, "card-a", 100)
	bobItem := f.addItem(f.bob, "card-b", 100)
	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})

	_, err := f.svc.ConfirmSide(ctx, trade.ID, f.alice, aliceItem)
	require.NoError(t, err)
	before := f.trade(t, trade.ID)

	// Вторая передача (Боб -> Алиса) падает
	inserts := 0
	f.st.SetFault(func(op string) error {
		if op != "InsertInventoryItem" {
			return nil
		}
		inserts++
		if inserts == 2 {
			return errors.New("disk full")
		}
		return nil
	})

	_, err = f.svc.ConfirmSide(ctx, trade.ID, f.bob, bobItem)
	require.True(t, apperr.IsKind(err, apperr.KindInternal), "got %v", err)
	f.st.SetFault(nil)

	after := f.trade(t, trade.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, models.TradeStatusPending, after.Status)
	assert.True(t, after.InitiatorAccepted)
	assert.False(t, after.ReceiverAccepted)

	assert.Equal(t, 1, f.units(t, f.alice, "card-a"))
	assert.Equal(t, 0, f.units(t, f.bob, "card-a"))
	assert.Equal(t, 1, f.units(t, f.bob, "card-b"))
	assert.Equal(t, 0, f.units(t, f.alice, "card-b"))
	assert.Zero(t, f.rec.Count(events.NameTradeCompleted))
}

func TestConfirmSide_ConcurrentConfirmSettlesOnce(t *testing.T) {
	f := newFixtureWithStore(t, memory.New(), func(inner store.Store) store.Store {
		return newBarrierStore(inner)
	})
	aliceItem := f.addItem(f.alice, "card-a", 100)
	bobItem := f.addItem(f.bob, "card-b", 100)
	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})

	type result struct {
		outcome Outcome
		err     error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i, call := range []struct {
		user uuid.UUID
		item uuid.UUID
	}{{f.alice, aliceItem}, {f.bob, bobItem}} {
		wg.Add(1)
		go func(i int, user, item uuid.UUID) {
			defer wg.Done()
			outcome, err := f.svc.ConfirmSide(context.Background(), trade.ID, user, item)
			results[i] = result{outcome, err}
		}(i, call.user, call.item)
	}
	wg.Wait()

	completed := 0
	for _, r := range results {
		require.NoError(t, r.err)
		if r.outcome == OutcomeCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, f.rec.Count(events.NameTradeCompleted))
	assert.Equal(t, models.TradeStatusCompleted, f.trade(t, trade.ID).Status)

	assert.Equal(t, 1, f.units(t, f.bob, "card-a"))
	assert.Equal(t, 1, f.units(t, f.alice, "card-b"))
	assert.Equal(t, 0, f.units(t, f.alice, "card-a"))
	assert.Equal(t, 0, f.units(t, f.bob, "card-b"))
}

func TestSelectItem_ReplacesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addItem(f.alice, "card-a", 100)
	second := f.addItem(f.alice, "card-c", 100)
	trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})

	_, err := f.svc.SelectItem(ctx, trade.ID, f.alice, first)
	require.NoError(t, err)
	got, err := f.svc.SelectItem(ctx, trade.ID, f.alice, second)
	require.NoError(t, err)

	require.Len(t, got.InitiatorItems, 1)
	assert.Equal(t, second, got.InitiatorItems[0].InventoryItemID)
	assert.False(t, got.InitiatorAccepted)
	assert.Equal(t, 2, f.rec.Count(events.NameTradeUpdated))
}

func TestSetStatus(t *testing.T) {
	t.Run("rejected releases request and notifies observers", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		releaser := &recordingReleaser{}
		observer := &recordingObserver{}
		f.svc.SetRequestReleaser(releaser)
		f.svc.AddObserver(observer)

		requestID := uuid.New()
		trade := f.open(t, OpenParams{Kind: models.TradeKindPrivate, OriginRequestID: &requestID})

		got, err := f.svc.SetStatus(ctx, trade.ID, f.bob, models.TradeStatusRejected)
		require.NoError(t, err)
		assert.Equal(t, models.TradeStatusRejected, got.Status)
		assert.Equal(t, []uuid.UUID{requestID}, releaser.released)
		require.Len(t, observer.trades, 1)
		assert.Equal(t, models.TradeStatusRejected, observer.trades[0].Status)
		// В комнату и второй стороне
		assert.Equal(t, 2, f.rec.Count(events.NameTradeStatusChanged))
		assert.Len(t, f.st.Notifications(f.alice), 1)
	})

	t.Run("cancelled keeps request", func(t *testing.T) {
		f := newFixture(t)
		releaser := &recordingReleaser{}
		f.svc.SetRequestReleaser(releaser)
		requestID := uuid.New()
		trade := f.open(t, OpenParams{Kind: models.TradeKindPublic, OriginRequestID: &requestID})

		_, err := f.svc.SetStatus(context.Background(), trade.ID, f.alice, models.TradeStatusCancelled)
		require.NoError(t, err)
		assert.Empty(t, releaser.released)
	})

	t.Run("status is monotonic", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})

		_, err := f.svc.SetStatus(ctx, trade.ID, f.alice, models.TradeStatusCompleted)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalid))
		_, err = f.svc.SetStatus(ctx, trade.ID, f.alice, models.TradeStatusPending)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalid))

		_, err = f.svc.SetStatus(ctx, trade.ID, f.alice, models.TradeStatusCancelled)
		require.NoError(t, err)
		_, err = f.svc.SetStatus(ctx, trade.ID, f.bob, models.TradeStatusRejected)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))
		assert.Equal(t, models.TradeStatusCancelled, f.trade(t, trade.ID).Status)
	})

	t.Run("outsider forbidden", func(t *testing.T) {
		f := newFixture(t)
		trade := f.open(t, OpenParams{Kind: models.TradeKindPublic})
		_, err := f.svc.SetStatus(context.Background(), trade.ID, uuid.New(), models.TradeStatusCancelled)
		assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	})
}

func TestOpen_PrivateRoomCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private := f.open(t, OpenParams{Kind: models.TradeKindPrivate})
	require.Len(t, private.PrivateRoomCode, roomCodeLength)
	assert.Equal(t, private.PrivateRoomCode, private.RoomKey())

	public := f.open(t, OpenParams{Kind: models.TradeKindPublic})
	assert.Empty(t, public.PrivateRoomCode)
	assert.Equal(t, public.ID.String(), public.RoomKey())

	got, err := f.svc.GetTradeByRoomCode(ctx, private.PrivateRoomCode, f.bob)
	require.NoError(t, err)
	assert.Equal(t, private.ID, got.ID)

	_, err = f.svc.GetTradeByRoomCode(ctx, private.PrivateRoomCode, uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	_, err = f.svc.GetTradeByRoomCode(ctx, "NOPE1234", f.bob)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	trades, err := f.svc.ListTrades(ctx, f.alice, models.TradeStatusPending)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	err = f.st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := f.svc.Open(ctx, tx, OpenParams{InitiatorUserID: f.alice, ReceiverUserID: f.alice})
		return err
	})
	assert.True(t, apperr.IsKind(err, apperr.KindSelfTarget))
}

func TestNewRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := NewRoomCode()
		require.NoError(t, err)
		require.Len(t, code, roomCodeLength)
		for _, r := range code {
			assert.Contains(t, roomCodeAlphabet, string(r))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestCanJoinRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private := f.open(t, OpenParams{Kind: models.TradeKindPrivate})
	public := f.open(t, OpenParams{Kind: models.TradeKindPublic})

	tests := []struct {
		name string
		user uuid.UUID
		room string
		want bool
	}{
		{"private by code", f.bob, private.PrivateRoomCode, true},
		{"public by id", f.alice, public.ID.String(), true},
		{"private by id is not its room", f.alice, private.ID.String(), false},
		{"outsider", uuid.New(), private.PrivateRoomCode, false},
		{"unknown room", f.alice, "NOPE1234", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := f.svc.CanJoinRoom(ctx, tt.user, tt.room)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}
