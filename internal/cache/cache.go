// Package cache implements the kernel's process-wide coherent store of
// instruments, orders, positions, and accounts. It is single-owner: the
// execution layer writes, every other component reads through this facade.
package cache

import (
	"fmt"
	"sort"
	"sync"

	"tradekernel/pkg/types"
)

// Cache is the authoritative in-memory store described in spec §4.3.
type Cache struct {
	mu          sync.RWMutex
	instruments map[types.InstrumentID]types.Instrument
	orders      map[types.ClientOrderID]*types.Order
	positions   map[types.PositionID]*types.Position
	accounts    map[string]*types.Account
	quotes      map[types.InstrumentID]types.QuoteTick
	trades      map[types.InstrumentID]types.TradeTick
	ordersByVenueID map[types.VenueOrderID]types.ClientOrderID
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		instruments:     make(map[types.InstrumentID]types.Instrument),
		orders:          make(map[types.ClientOrderID]*types.Order),
		positions:       make(map[types.PositionID]*types.Position),
		accounts:        make(map[string]*types.Account),
		quotes:          make(map[types.InstrumentID]types.QuoteTick),
		trades:          make(map[types.InstrumentID]types.TradeTick),
		ordersByVenueID: make(map[types.VenueOrderID]types.ClientOrderID),
	}
}

// ————————————————————————————————————————————————————————————————————————
// Instruments
// ————————————————————————————————————————————————————————————————————————

// AddInstrument registers an instrument. Instruments are registered at
// startup and live for the process; re-registration overwrites.
func (c *Cache) AddInstrument(inst types.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[inst.ID] = inst
}

// Instrument returns a registered instrument by id.
func (c *Cache) Instrument(id types.InstrumentID) (types.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instruments[id]
	return inst, ok
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// AddOrder registers a newly created order. The caller owns the pointer;
// the Cache stores it and subsequent mutation must go through UpdateOrder
// so readers observe a consistent view.
func (c *Cache) AddOrder(o *types.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.orders[o.ClientOrderID]; exists {
		return fmt.Errorf("order %s already exists in cache", o.ClientOrderID)
	}
	c.orders[o.ClientOrderID] = o
	if o.VenueOrderID != "" {
		c.ordersByVenueID[o.VenueOrderID] = o.ClientOrderID
	}
	return nil
}

// UpdateOrder applies mutate to the cached order under the cache's lock.
// Returns an error if the order is not known — every event must reference
// an order already in the cache before being applied.
func (c *Cache) UpdateOrder(id types.ClientOrderID, mutate func(*types.Order)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return fmt.Errorf("update order: %s not found in cache", id)
	}
	mutate(o)
	if o.VenueOrderID != "" {
		c.ordersByVenueID[o.VenueOrderID] = id
	}
	return nil
}

// Order returns the order by client order id.
func (c *Cache) Order(id types.ClientOrderID) (*types.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	return o, ok
}

// OrderByVenueID resolves a venue-assigned id back to the client order.
func (c *Cache) OrderByVenueID(id types.VenueOrderID) (*types.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clientID, ok := c.ordersByVenueID[id]
	if !ok {
		return nil, false
	}
	o, ok := c.orders[clientID]
	return o, ok
}

// IsOrderOpen reports whether id names a known, currently open order.
func (c *Cache) IsOrderOpen(id types.ClientOrderID) bool {
	o, ok := c.Order(id)
	return ok && o.IsOpen()
}

// IsOrderClosed reports whether id names a known, terminal order.
func (c *Cache) IsOrderClosed(id types.ClientOrderID) bool {
	o, ok := c.Order(id)
	return ok && o.IsClosed()
}

// IsOrderExists reports whether id names any known order, open or closed.
func (c *Cache) IsOrderExists(id types.ClientOrderID) bool {
	_, ok := c.Order(id)
	return ok
}

// OrdersOpen returns every order currently resting/working, sorted by
// client order id for deterministic iteration.
func (c *Cache) OrdersOpen() []*types.Order {
	return c.filterOrders(func(o *types.Order) bool { return o.IsOpen() })
}

// OrdersClosed returns every order in a terminal status.
func (c *Cache) OrdersClosed() []*types.Order {
	return c.filterOrders(func(o *types.Order) bool { return o.IsClosed() })
}

// Orders returns every known order, optionally filtered to one instrument.
func (c *Cache) Orders(instrumentID *types.InstrumentID) []*types.Order {
	return c.filterOrders(func(o *types.Order) bool {
		return instrumentID == nil || o.InstrumentID == *instrumentID
	})
}

func (c *Cache) filterOrders(pred func(*types.Order) bool) []*types.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Order, 0, len(c.orders))
	for _, o := range c.orders {
		if pred(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientOrderID < out[j].ClientOrderID })
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// AddPosition registers a newly opened position.
func (c *Cache) AddPosition(p *types.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[p.ID] = p
}

// UpdatePosition applies mutate to the cached position under the cache's lock.
func (c *Cache) UpdatePosition(id types.PositionID, mutate func(*types.Position)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[id]
	if !ok {
		return fmt.Errorf("update position: %v not found in cache", id)
	}
	mutate(p)
	return nil
}

// Position returns a position by id.
func (c *Cache) Position(id types.PositionID) (*types.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[id]
	return p, ok
}

// PositionsOpen returns every position not yet flat, sorted by instrument
// symbol then venue position id for deterministic iteration.
func (c *Cache) PositionsOpen() []*types.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Position, 0, len(c.positions))
	for _, p := range c.positions {
		if !p.IsFlat() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.InstrumentID != out[j].ID.InstrumentID {
			return out[i].ID.InstrumentID.String() < out[j].ID.InstrumentID.String()
		}
		return out[i].ID.VenuePosID < out[j].ID.VenuePosID
	})
	return out
}

// PositionForOrder returns the position a given client order id contributed
// fills to, if any order with that id is known and has an assigned position.
func (c *Cache) PositionForOrder(orderID types.ClientOrderID, positionIDForOrder func(*types.Order) types.PositionID) (*types.Position, bool) {
	o, ok := c.Order(orderID)
	if !ok {
		return nil, false
	}
	return c.Position(positionIDForOrder(o))
}

// ————————————————————————————————————————————————————————————————————————
// Accounts
// ————————————————————————————————————————————————————————————————————————

// AddAccount registers an account, live for the process once added.
func (c *Cache) AddAccount(a *types.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[a.ID] = a
}

// UpdateAccount applies mutate to the cached account under the cache's lock.
func (c *Cache) UpdateAccount(id string, mutate func(*types.Account)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.accounts[id]
	if !ok {
		return fmt.Errorf("update account: %s not found in cache", id)
	}
	mutate(a)
	return nil
}

// Account returns an account by id.
func (c *Cache) Account(id string) (*types.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[id]
	return a, ok
}

// ————————————————————————————————————————————————————————————————————————
// Market data (latest-only, used by Risk/Strategy for sanity checks)
// ————————————————————————————————————————————————————————————————————————

// UpdateQuote stores the latest quote for an instrument.
func (c *Cache) UpdateQuote(q types.QuoteTick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.InstrumentID] = q
}

// Quote returns the latest quote for an instrument.
func (c *Cache) Quote(id types.InstrumentID) (types.QuoteTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[id]
	return q, ok
}

// UpdateTrade stores the latest trade for an instrument.
func (c *Cache) UpdateTrade(tr types.TradeTick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades[tr.InstrumentID] = tr
}

// Trade returns the latest trade for an instrument.
func (c *Cache) Trade(id types.InstrumentID) (types.TradeTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tr, ok := c.trades[id]
	return tr, ok
}
