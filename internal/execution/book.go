package execution

import (
	"sync"

	"main/internal/schema"
	"main/pkg/exception"
)

// terminalRetention is how many finished orders stay queryable before
// the oldest are dropped. Keeps the book bounded over a long session.
const terminalRetention = 256

// Book tracks live orders through their lifecycle. All transitions go
// through it so a terminal order can never move again. Terminal orders
// are retained for a bounded window and then pruned oldest-first.
type Book struct {
	mu        sync.Mutex
	orders    map[uint64]*schema.Order
	terminals []uint64
	nextID    uint64
}

// NewBook creates an empty order book view.
func NewBook() *Book {
	return &Book{orders: make(map[uint64]*schema.Order), nextID: 1}
}

// Open creates a pending order and returns a copy.
func (b *Book) Open(symbol string, side schema.Side, qty, limitPrice float64, kind schema.OrderKind, nowUs int64) schema.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &schema.Order{
		OrderID:    b.nextID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		LimitPrice: limitPrice,
		Kind:       kind,
		Status:     schema.OrderStatusPending,
		CreatedTs:  nowUs,
	}
	b.nextID++
	b.orders[o.OrderID] = o
	return *o
}

// Transition moves an order to the given status.
func (b *Book) Transition(id uint64, to schema.OrderStatus) (schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return schema.Order{}, exception.ErrOrderUnknown
	}
	if terminal(o.Status) {
		return *o, exception.ErrOrderTerminal
	}
	o.Status = to
	if terminal(to) {
		b.terminals = append(b.terminals, id)
		for len(b.terminals) > terminalRetention {
			delete(b.orders, b.terminals[0])
			b.terminals = b.terminals[1:]
		}
	}
	return *o, nil
}

// Reprice moves an open order's limit price (the one-tick chase).
func (b *Book) Reprice(id uint64, limitPrice float64) (schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return schema.Order{}, exception.ErrOrderUnknown
	}
	if terminal(o.Status) {
		return *o, exception.ErrOrderTerminal
	}
	o.LimitPrice = limitPrice
	return *o, nil
}

// Order returns a copy of the order.
func (b *Book) Order(id uint64) (schema.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return schema.Order{}, false
	}
	return *o, true
}

// Live returns copies of all non-terminal orders.
func (b *Book) Live() []schema.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if !terminal(o.Status) {
			out = append(out, *o)
		}
	}
	return out
}

func terminal(s schema.OrderStatus) bool {
	switch s {
	case schema.OrderStatusFilled, schema.OrderStatusCancelled, schema.OrderStatusRejected:
		return true
	default:
		return false
	}
}
