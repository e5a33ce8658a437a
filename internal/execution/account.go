package execution

import (
	"sync"

	"main/internal/schema"
)

// Ledger owns account and position truth. Everyone else reads copies.
type Ledger struct {
	mu        sync.RWMutex
	account   schema.AccountState
	positions map[string]*schema.Position
}

// NewLedger starts with the given cash balance and no positions.
func NewLedger(cash float64) *Ledger {
	return &Ledger{
		account: schema.AccountState{
			Cash:          cash,
			Equity:        cash,
			NAV:           cash,
			HighWaterMark: cash,
		},
		positions: make(map[string]*schema.Position),
	}
}

// ApplyFill folds a fill into the position with volume-weighted entry
// pricing and updates the account.
func (l *Ledger) ApplyFill(symbol string, side schema.Side, qty, price float64, nowUs int64) schema.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &schema.Position{Symbol: symbol}
		l.positions[symbol] = pos
	}

	signed := qty
	if side == schema.SideSell {
		signed = -qty
	}

	prev := pos.NetSize
	next := prev + signed

	switch {
	case prev == 0 || sameSign(prev, signed):
		// Opening or adding: volume-weighted entry.
		total := abs(prev) + qty
		if total > 0 {
			pos.AvgEntryPrice = (pos.AvgEntryPrice*abs(prev) + price*qty) / total
		}
		if prev == 0 {
			pos.EntryTsUs = nowUs
		}
	case sameSign(prev, next) || next == 0:
		// Reducing: realize pnl on the closed slice, entry unchanged.
		closed := qty
		pnl := (price - pos.AvgEntryPrice) * closed
		if prev < 0 {
			pnl = -pnl
		}
		l.account.Cash += pnl
	default:
		// Flipping through zero: close the old side, open the rest.
		closed := abs(prev)
		pnl := (price - pos.AvgEntryPrice) * closed
		if prev < 0 {
			pnl = -pnl
		}
		l.account.Cash += pnl
		pos.AvgEntryPrice = price
		pos.EntryTsUs = nowUs
	}

	pos.NetSize = next
	pos.CurrentPrice = price
	if next == 0 {
		pos.AvgEntryPrice = 0
		pos.UnrealizedPnL = 0
	}
	l.recalcLocked(price, symbol)
	return *pos
}

// MarkPrice refreshes unrealized pnl and drawdown from the latest
// trade price.
func (l *Ledger) MarkPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recalcLocked(price, symbol)
}

func (l *Ledger) recalcLocked(price float64, symbol string) {
	var unrealized float64
	for sym, pos := range l.positions {
		if sym == symbol && price > 0 {
			pos.CurrentPrice = price
		}
		if pos.NetSize != 0 && pos.CurrentPrice > 0 {
			pos.UnrealizedPnL = (pos.CurrentPrice - pos.AvgEntryPrice) * pos.NetSize
		}
		unrealized += pos.UnrealizedPnL
	}
	l.account.Equity = l.account.Cash + unrealized
	l.account.NAV = l.account.Equity
	if l.account.Equity > l.account.HighWaterMark {
		l.account.HighWaterMark = l.account.Equity
	}
	if l.account.HighWaterMark > 0 {
		l.account.DrawdownPct = (l.account.HighWaterMark - l.account.Equity) / l.account.HighWaterMark
	}
}

// Account returns the account snapshot.
func (l *Ledger) Account() schema.AccountState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account
}

// Position returns the position for a symbol, zero if flat.
func (l *Ledger) Position(symbol string) schema.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[symbol]; ok {
		return *pos
	}
	return schema.Position{Symbol: symbol}
}

// Positions returns copies of all non-flat positions.
func (l *Ledger) Positions() []schema.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schema.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.NetSize != 0 {
			out = append(out, *pos)
		}
	}
	return out
}

// Restore replaces all positions from a snapshot.
func (l *Ledger) Restore(positions []schema.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]*schema.Position, len(positions))
	for i := range positions {
		p := positions[i]
		l.positions[p.Symbol] = &p
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
