package trade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rajivgeraev/cardtrade-api/internal/config"
	"github.com/rajivgeraev/cardtrade-api/internal/events"
	"github.com/rajivgeraev/cardtrade-api/internal/models"
	"github.com/rajivgeraev/cardtrade-api/internal/store"
	"github.com/rajivgeraev/cardtrade-api/internal/store/memory"
	"github.com/rajivgeraev/cardtrade-api/internal/utils"
	"github.com/rajivgeraev/cardtrade-api/internal/valuation"
)

type fixture struct {
	st    *memory.Store
	rec   *events.Recorder
	svc   *TradeService
	alice uuid.UUID
	bob   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New(), nil)
}

// newFixtureWithStore позволяет подменить хранилище, которым пользуется сервис
func newFixtureWithStore(t *testing.T, st *memory.Store, wrap func(store.Store) store.Store) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	rec := &events.Recorder{}

	var svcStore store.Store = st
	if wrap != nil {
		svcStore = wrap(st)
	}

	f := &fixture{
		st:    st,
		rec:   rec,
		alice: uuid.New(),
		bob:   uuid.New(),
	}
	f.svc = NewTradeService(
		svcStore,
		valuation.RecordValuer{},
		events.NewDispatcher(rec, events.StoreNotifier{Store: st}, log),
		utils.NewJWTService("test-secret"),
		config.TradeConfig{ValueDiffThreshold: 0.25, MaxRetries: 5},
		log,
	)
	st.AddUser(&models.User{ID: f.alice, Handle: "alice", DisplayName: "Alice"})
	st.AddUser(&models.User{ID: f.bob, Handle: "bob", DisplayName: "Bob"})
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
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	f.st.AddInventoryItem(item)
	return item.ID
}

func (f *fixture) open(t *testing.T, p OpenParams) *models.Trade {
	t.Helper()
	if p.InitiatorUserID == uuid.Nil {
		p.InitiatorUserID = f.alice
		p.ReceiverUserID = f.bob
	}
	var trade *models.Trade
	err := f.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		trade, err = f.svc.Open(ctx, tx, p)
		return err
	})
	require.NoError(t, err)
	return trade
}

func (f *fixture) trade(t *testing.T, id uuid.UUID) *models.Trade {
	t.Helper()
	var trade *models.Trade
	err := f.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		trade, err = tx.GetTrade(ctx, id)
		return err
	})
	require.NoError(t, err)
	return trade
}

func (f *fixture) inventory(t *testing.T, owner uuid.UUID) []*models.InventoryItem {
	t.Helper()
	var items []*models.InventoryItem
	err := f.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		items, err = tx.ListInventory(ctx, owner)
		return err
	})
	require.NoError(t, err)
	return items
}

// units считает копии карты каталога у пользователя
func (f *fixture) units(t *testing.T, owner uuid.UUID, catalogID string) int {
	t.Helper()
	n := 0
	for _, item := range f.inventory(t, owner) {
		if item.CatalogItemID == catalogID {
			n += item.Quantity
		}
	}
	return n
}

type recordingReleaser struct {
	mu       sync.Mutex
	released []uuid.UUID
}

func (r *recordingReleaser) ReleaseForTrade(_ context.Context, _ store.Tx, requestID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, requestID)
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	trades []*models.Trade
}

func (o *recordingObserver) TradeTerminated(_ context.Context, trade *models.Trade) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trades = append(o.trades, trade)
}

// barrierStore задерживает первые два чтения обмена, пока оба не прочитают одну версию
type barrierStore struct {
	store.Store

	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newBarrierStore(inner store.Store) *barrierStore {
	return &barrierStore{Store: inner, release: make(chan struct{})}
}

func (b *barrierStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return b.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &barrierTx{Tx: tx, b: b})
	})
}

func (b *barrierStore) wait() {
	b.mu.Lock()
	b.arrived++
	n := b.arrived
	if n == 2 {
		close(b.release)
	}
	b.mu.Unlock()
	if n <= 2 {
		<-b.release
	}
}

type barrierTx struct {
	store.Tx
	b *barrierStore
}

func (t *barrierTx) GetTrade(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	trade, err := t.Tx.GetTrade(ctx, id)
	t.b.wait()
	return trade, err
}
