package portfolio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"invest-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named in-memory database per test keeps the schema alive across
	// pooled connections without leaking state between tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	// A single connection sidesteps sqlite's shared-cache table locks.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Asset{}, &models.Transaction{}, &models.Position{}))
	return db
}

func newTestService(t *testing.T, allowShort bool) *Service {
	t.Helper()
	return NewService(newTestDB(t), zap.NewNop(), allowShort)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(n int) time.Time {
	return time.Date(2024, time.January, n, 0, 0, 0, 0, time.UTC)
}

func addTrade(t *testing.T, svc *Service, symbol, side, qty, price string, date time.Time) *models.Transaction {
	t.Helper()
	record, err := svc.AddTransaction(context.Background(), TransactionInput{
		Symbol:    symbol,
		Side:      side,
		Quantity:  d(qty),
		UnitPrice: d(price),
		TradeDate: date,
	})
	require.NoError(t, err)
	return record
}

func TestAddTransactionComputesPosition(t *testing.T) {
	svc := newTestService(t, false)

	addTrade(t, svc, "PETR4", "BUY", "10", "10", day(1))
	addTrade(t, svc, "PETR4", "BUY", "10", "20", day(2))
	addTrade(t, svc, "PETR4", "SELL", "15", "30", day(3))

	pos, err := svc.GetPosition(context.Background(), "petr4")
	require.NoError(t, err)

	assert.True(t, pos.Quantity.Equal(d("5")), "quantity: got %s", pos.Quantity)
	assert.True(t, pos.AveragePrice.Equal(d("20")), "average price: got %s", pos.AveragePrice)
	assert.True(t, pos.RealizedPnL.Equal(d("250")), "realized pnl: got %s", pos.RealizedPnL)
	assert.False(t, pos.Closed)
}

func TestFullLiquidationClosesPosition(t *testing.T) {
	svc := newTestService(t, false)

	addTrade(t, svc, "VALE3", "BUY", "10", "10", day(1))
	addTrade(t, svc, "VALE3", "SELL", "10", "15", day(2))

	pos, err := svc.GetPosition(context.Background(), "VALE3")
	require.NoError(t, err)

	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.AveragePrice.IsZero())
	assert.True(t, pos.RealizedPnL.Equal(d("50")))
	assert.True(t, pos.Closed)
}

func TestAddTransactionValidation(t *testing.T) {
	svc := newTestService(t, false)

	testCases := []struct {
		name  string
		input TransactionInput
	}{
		{
			name:  "Zero quantity",
			input: TransactionInput{Symbol: "AAPL", Side: "BUY", Quantity: d("0"), UnitPrice: d("10"), TradeDate: day(1)},
		},
		{
			name:  "Negative price",
			input: TransactionInput{Symbol: "AAPL", Side: "BUY", Quantity: d("1"), UnitPrice: d("-5"), TradeDate: day(1)},
		},
		{
			name:  "Unknown side",
			input: TransactionInput{Symbol: "AAPL", Side: "TRANSFER", Quantity: d("1"), UnitPrice: d("10"), TradeDate: day(1)},
		},
		{
			name:  "Missing trade date",
			input: TransactionInput{Symbol: "AAPL", Side: "BUY", Quantity: d("1"), UnitPrice: d("10")},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AddTransaction(context.Background(), tc.input)
			assert.Error(t, err)
		})
	}

	// Nothing was persisted by the rejected writes.
	var count int64
	require.NoError(t, svc.db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestOversellIsRejectedAtomically(t *testing.T) {
	svc := newTestService(t, false)

	addTrade(t, svc, "ITUB4", "BUY", "5", "10", day(1))

	_, err := svc.AddTransaction(context.Background(), TransactionInput{
		Symbol:    "ITUB4",
		Side:      "SELL",
		Quantity:  d("10"),
		UnitPrice: d("20"),
		TradeDate: day(2),
	})
	require.ErrorIs(t, err, ErrOversell)

	// The rejected sell left neither a log row nor a stale position behind.
	var count int64
	require.NoError(t, svc.db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	pos, err := svc.GetPosition(context.Background(), "ITUB4")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("5")))
	assert.True(t, pos.RealizedPnL.IsZero())
}

func TestOversellAllowedAsShortPosition(t *testing.T) {
	svc := newTestService(t, true)

	addTrade(t, svc, "WINQ24", "BUY", "5", "10", day(1))
	addTrade(t, svc, "WINQ24", "SELL", "10", "20", day(2))

	pos, err := svc.GetPosition(context.Background(), "WINQ24")
	require.NoError(t, err)

	assert.True(t, pos.Quantity.Equal(d("-5")), "quantity: got %s", pos.Quantity)
	assert.True(t, pos.AveragePrice.IsZero())
	assert.True(t, pos.RealizedPnL.Equal(d("50")))
	assert.False(t, pos.Closed)
}

func TestDeleteTransactionRecomputes(t *testing.T) {
	svc := newTestService(t, false)

	first := addTrade(t, svc, "BBDC4", "BUY", "10", "10", day(1))
	addTrade(t, svc, "BBDC4", "BUY", "5", "20", day(2))

	require.NoError(t, svc.DeleteTransaction(context.Background(), first.RefID))

	pos, err := svc.GetPosition(context.Background(), "BBDC4")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("5")))
	assert.True(t, pos.AveragePrice.Equal(d("20")))
}

func TestDeleteUnknownTransaction(t *testing.T) {
	svc := newTestService(t, false)
	err := svc.DeleteTransaction(context.Background(), "no-such-ref")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestDeleteBuyNeededBySellIsRejected(t *testing.T) {
	svc := newTestService(t, false)

	buy := addTrade(t, svc, "MGLU3", "BUY", "10", "10", day(1))
	addTrade(t, svc, "MGLU3", "SELL", "5", "15", day(2))

	// Removing the buy would leave the sell unmatched.
	err := svc.DeleteTransaction(context.Background(), buy.RefID)
	require.ErrorIs(t, err, ErrOversell)

	// The delete rolled back; the full history is still intact.
	rows, err := svc.ListTransactions(context.Background(), "MGLU3")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	pos, err := svc.GetPosition(context.Background(), "MGLU3")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("5")))
}

func TestBackdatedTransactionsReplayInDateOrder(t *testing.T) {
	svc := newTestService(t, false)

	addTrade(t, svc, "ABEV3", "BUY", "10", "10", day(1))
	addTrade(t, svc, "ABEV3", "BUY", "10", "20", day(3))
	addTrade(t, svc, "ABEV3", "SELL", "15", "30", day(4))
	// Recorded last, dated second: consumes the oldest lot first on replay.
	addTrade(t, svc, "ABEV3", "SELL", "5", "20", day(2))

	pos, err := svc.GetPosition(context.Background(), "ABEV3")
	require.NoError(t, err)

	// Replay: BUY 10@10, SELL 5@20 (+50), BUY 10@20, SELL 15@30
	// (5@10 -> +100, 10@20 -> +100). Everything is sold.
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.RealizedPnL.Equal(d("250")), "realized pnl: got %s", pos.RealizedPnL)
	assert.True(t, pos.Closed)
}

func TestGetPositionUnknownAsset(t *testing.T) {
	svc := newTestService(t, false)
	_, err := svc.GetPosition(context.Background(), "GHOST")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestListPositions(t *testing.T) {
	svc := newTestService(t, false)

	addTrade(t, svc, "PETR4", "BUY", "10", "10", day(1))
	addTrade(t, svc, "VALE3", "BUY", "2", "60", day(1))
	addTrade(t, svc, "VALE3", "SELL", "2", "70", day(2))

	views, err := svc.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "PETR4", views[0].Symbol)
	assert.False(t, views[0].Closed)
	assert.Equal(t, "VALE3", views[1].Symbol)
	assert.True(t, views[1].Closed)
	assert.True(t, views[1].RealizedPnL.Equal(d("20")))
}

func TestReconcileAllRepairsCorruptedPosition(t *testing.T) {
	svc := newTestService(t, false)

	addTrade(t, svc, "PETR4", "BUY", "10", "10", day(1))
	addTrade(t, svc, "PETR4", "SELL", "4", "25", day(2))

	// Corrupt the derived row behind the service's back.
	err := svc.db.Model(&models.Position{}).
		Where("1 = 1").
		Updates(map[string]interface{}{"quantity": d("999"), "realized_pnl": d("-1"), "closed": true}).Error
	require.NoError(t, err)

	require.NoError(t, svc.ReconcileAll(context.Background()))

	pos, err := svc.GetPosition(context.Background(), "PETR4")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("6")))
	assert.True(t, pos.RealizedPnL.Equal(d("60")))
	assert.False(t, pos.Closed)
}

func TestReconcileAllIsIdempotent(t *testing.T) {
	svc := newTestService(t, false)

	addTrade(t, svc, "PETR4", "BUY", "3", "11", day(1))

	require.NoError(t, svc.ReconcileAll(context.Background()))
	first, err := svc.GetPosition(context.Background(), "PETR4")
	require.NoError(t, err)

	require.NoError(t, svc.ReconcileAll(context.Background()))
	second, err := svc.GetPosition(context.Background(), "PETR4")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestConcurrentWritesOnOneAssetSerialize(t *testing.T) {
	svc := newTestService(t, false)

	// Seed the asset so every writer contends on the same lock.
	addTrade(t, svc, "PETR4", "BUY", "1", "10", day(1))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.AddTransaction(context.Background(), TransactionInput{
				Symbol:    "PETR4",
				Side:      "BUY",
				Quantity:  d("1"),
				UnitPrice: d("10"),
				TradeDate: day(2 + n),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	pos, err := svc.GetPosition(context.Background(), "PETR4")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("9")), "quantity: got %s", pos.Quantity)
	assert.True(t, pos.AveragePrice.Equal(d("10")))
}
