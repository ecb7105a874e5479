// Package ledger implements FIFO cost-basis accounting over an asset's
// transaction history. Recompute is a pure function: the stored position
// summary is always re-derivable from the transaction log alone.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

var (
	// ErrInvalidQuantity indicates a trade with quantity <= 0.
	ErrInvalidQuantity = errors.New("trade quantity must be positive")
	// ErrInvalidPrice indicates a trade with unit price <= 0.
	ErrInvalidPrice = errors.New("trade unit price must be positive")
	// ErrUnknownSide indicates a trade side other than BUY or SELL.
	ErrUnknownSide = errors.New("trade side must be BUY or SELL")
)

// Trade is the engine's view of one executed transaction. ID is the
// insertion-order key used to break ties between trades on the same date.
type Trade struct {
	ID        uint
	Side      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Date      time.Time
}

// Summary is the derived state of a position after replaying its history.
type Summary struct {
	// Quantity is the net held quantity. Negative only when the history
	// oversells and the caller's policy allows short positions.
	Quantity decimal.Decimal
	// AveragePrice is the weighted average cost of the open lots,
	// zero when no long lots remain.
	AveragePrice decimal.Decimal
	// RealizedPnL is the cumulative gain or loss locked in by sells,
	// matched FIFO against the lots they consumed.
	RealizedPnL decimal.Decimal
	// Invested is the cumulative cost of every buy in the history.
	Invested decimal.Decimal
	// Closed reports whether the position is flat.
	Closed bool
	// Oversold reports whether any sell in the replay exceeded the open
	// lots at that point. The write boundary decides whether that is a
	// short position or a rejected mutation.
	Oversold bool
}

// lot is one purchase batch still (partially) held.
type lot struct {
	remaining decimal.Decimal
	unitCost  decimal.Decimal
}

// Recompute replays trades in chronological order and returns the resulting
// position summary. Trades are sorted internally by date, ties broken by
// ascending ID (insertion order), so callers may pass the slice unordered.
// The input slice is not modified.
func Recompute(trades []Trade) (Summary, error) {
	for i := range trades {
		if err := validate(&trades[i]); err != nil {
			return Summary{}, fmt.Errorf("trade %d (id=%d): %w", i, trades[i].ID, err)
		}
	}

	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var s Summary
	lots := make([]lot, 0, len(sorted))
	head := 0 // front of the FIFO queue; lots[head:] are the open lots

	for _, t := range sorted {
		switch t.Side {
		case SideBuy:
			lots = append(lots, lot{remaining: t.Quantity, unitCost: t.UnitPrice})
			s.Quantity = s.Quantity.Add(t.Quantity)
			s.Invested = s.Invested.Add(t.Quantity.Mul(t.UnitPrice))
		case SideSell:
			remainingToSell := t.Quantity
			for remainingToSell.IsPositive() && head < len(lots) {
				front := &lots[head]
				matched := decimal.Min(remainingToSell, front.remaining)
				s.RealizedPnL = s.RealizedPnL.Add(matched.Mul(t.UnitPrice.Sub(front.unitCost)))
				front.remaining = front.remaining.Sub(matched)
				remainingToSell = remainingToSell.Sub(matched)
				if front.remaining.IsZero() {
					head++
				}
			}
			if remainingToSell.IsPositive() {
				s.Oversold = true
			}
			s.Quantity = s.Quantity.Sub(t.Quantity)
		}
	}

	if s.Quantity.IsPositive() {
		open := decimal.Zero
		for _, l := range lots[head:] {
			open = open.Add(l.remaining.Mul(l.unitCost))
		}
		s.AveragePrice = open.Div(s.Quantity)
	}
	s.Closed = s.Quantity.IsZero()

	return s, nil
}

func validate(t *Trade) error {
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("%w: %q", ErrUnknownSide, t.Side)
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidQuantity, t.Quantity)
	}
	if !t.UnitPrice.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, t.UnitPrice)
	}
	return nil
}
