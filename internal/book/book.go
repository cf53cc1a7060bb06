// Package book implements the per-instrument order book and price-time
// priority matcher: resting LIMIT orders, MARKET sweeps against quoted
// liquidity, and trigger evaluation for conditional order types.
package book

import (
	"sort"

	"tradekernel/pkg/types"
)

// RejectReason enumerates the reasons the matcher refuses to rest or fill
// an order outright.
type RejectReason string

const (
	RejectPostOnlyWouldCross  RejectReason = "POST_ONLY_WOULD_CROSS"
	RejectNoLiquidity         RejectReason = "NO_LIQUIDITY"
	RejectMinQuantity         RejectReason = "MIN_QUANTITY"
)

// Fill is a single match produced by the book against one resting or
// incoming order.
type Fill struct {
	ClientOrderID types.ClientOrderID
	Price         types.Price
	Qty           types.Quantity
	LiquiditySide string // "MAKER" for the resting side, "TAKER" for the aggressor
}

// restingOrder is the book's internal L3 record: the live order, whose
// LeavesQty is the remaining quantity still eligible to match.
type restingOrder struct {
	order *types.Order
}

// Book holds one instrument's resting orders and the latest external quote
// used as the reference liquidity for matching and trigger evaluation.
type Book struct {
	Instrument types.Instrument

	bids []*restingOrder // descending price, then acceptance time
	asks []*restingOrder // ascending price, then acceptance time

	conditional map[types.ClientOrderID]*types.Order // dormant until triggered

	lastQuote      types.QuoteTick
	haveLastQuote  bool
	lastTrade      types.TradeTick
	haveLastTrade  bool
	trailingExtreme map[types.ClientOrderID]types.Price
}

// NewBook constructs an empty book for instrument.
func NewBook(instrument types.Instrument) *Book {
	return &Book{
		Instrument:      instrument,
		conditional:     make(map[types.ClientOrderID]*types.Order),
		trailingExtreme: make(map[types.ClientOrderID]types.Price),
	}
}

// BestBid returns the best resting bid price and size, if any.
func (b *Book) BestBid() (types.Price, types.Quantity, bool) {
	if len(b.bids) == 0 {
		return types.Price{}, types.Quantity{}, false
	}
	o := b.bids[0].order
	return *o.Price, o.LeavesQty(), true
}

// BestAsk returns the best resting ask price and size, if any.
func (b *Book) BestAsk() (types.Price, types.Quantity, bool) {
	if len(b.asks) == 0 {
		return types.Price{}, types.Quantity{}, false
	}
	o := b.asks[0].order
	return *o.Price, o.LeavesQty(), true
}

// Submit attempts to match or rest a new order. For MARKET and marketable
// LIMIT orders it matches immediately against the last known quote's
// opposing liquidity (quote-tick-driven matching, appropriate for a
// backtest venue whose depth comes from recorded top-of-book ticks). It
// returns the fills produced and, if the order cannot be accepted as
// submitted, a reject reason.
//
// Conditional order types (STOP_*, *_IF_TOUCHED, TRAILING_STOP) never match
// here — Submit parks them in the dormant set; OnQuoteTick/OnTradeTick
// report them once touched, and the exchange layer promotes them.
func (b *Book) Submit(o *types.Order) ([]Fill, *RejectReason) {
	if o.IsConditional() {
		b.conditional[o.ClientOrderID] = o
		if o.Type == types.OrderTypeTrailingStop {
			b.seedTrailingExtreme(o)
		}
		return nil, nil
	}

	switch o.Type {
	case types.OrderTypeMarket:
		return b.matchMarket(o)
	case types.OrderTypeLimit:
		return b.matchOrRestLimit(o)
	default:
		return nil, nil
	}
}

// Cancel removes a resting or dormant order from the book.
func (b *Book) Cancel(id types.ClientOrderID) {
	delete(b.conditional, id)
	delete(b.trailingExtreme, id)
	b.bids = removeOrder(b.bids, id)
	b.asks = removeOrder(b.asks, id)
}

func removeOrder(list []*restingOrder, id types.ClientOrderID) []*restingOrder {
	out := list[:0]
	for _, r := range list {
		if r.order.ClientOrderID != id {
			out = append(out, r)
		}
	}
	return out
}

// matchMarket fills a MARKET order against the last quote's opposing side.
// IOC/FOK semantics for the unfilled remainder are the caller's
// responsibility (ExecutionEngine/SimulatedExchange), since they depend on
// order.TimeInForce and span beyond book bookkeeping.
func (b *Book) matchMarket(o *types.Order) ([]Fill, *RejectReason) {
	price, size, ok := b.opposingQuote(o.Side)
	if !ok {
		reason := RejectNoLiquidity
		return nil, &reason
	}
	fillQty := minQty(o.LeavesQty(), size)
	if fillQty.IsZero() {
		reason := RejectNoLiquidity
		return nil, &reason
	}
	return []Fill{{ClientOrderID: o.ClientOrderID, Price: price, Qty: fillQty, LiquiditySide: "TAKER"}}, nil
}

// matchOrRestLimit fills a marketable LIMIT order immediately (at the
// order's own limit price, standard price-improvement convention for the
// resting side) or posts it to the book.
func (b *Book) matchOrRestLimit(o *types.Order) ([]Fill, *RejectReason) {
	marketable := b.isMarketable(o)
	if marketable && o.PostOnly {
		reason := RejectPostOnlyWouldCross
		return nil, &reason
	}
	if marketable {
		_, size, ok := b.opposingQuote(o.Side)
		if !ok {
			reason := RejectNoLiquidity
			return nil, &reason
		}
		fillQty := minQty(o.LeavesQty(), size)
		if fillQty.IsZero() {
			reason := RejectNoLiquidity
			return nil, &reason
		}
		return []Fill{{ClientOrderID: o.ClientOrderID, Price: *o.Price, Qty: fillQty, LiquiditySide: "TAKER"}}, nil
	}
	b.rest(o)
	return nil, nil
}

func (b *Book) isMarketable(o *types.Order) bool {
	if !b.haveLastQuote || o.Price == nil {
		return false
	}
	if o.Side == types.OrderSideBuy {
		return o.Price.GreaterThan(b.lastQuote.AskPrice) || o.Price.Equal(b.lastQuote.AskPrice)
	}
	return o.Price.LessThan(b.lastQuote.BidPrice) || o.Price.Equal(b.lastQuote.BidPrice)
}

func (b *Book) rest(o *types.Order) {
	r := &restingOrder{order: o}
	if o.Side == types.OrderSideBuy {
		b.bids = append(b.bids, r)
		sort.SliceStable(b.bids, func(i, j int) bool {
			pi, pj := b.bids[i].order.Price, b.bids[j].order.Price
			if pi.Equal(*pj) {
				return b.bids[i].order.AcceptedAt.Before(b.bids[j].order.AcceptedAt)
			}
			return pi.GreaterThan(*pj)
		})
	} else {
		b.asks = append(b.asks, r)
		sort.SliceStable(b.asks, func(i, j int) bool {
			pi, pj := b.asks[i].order.Price, b.asks[j].order.Price
			if pi.Equal(*pj) {
				return b.asks[i].order.AcceptedAt.Before(b.asks[j].order.AcceptedAt)
			}
			return pi.LessThan(*pj)
		})
	}
}

func (b *Book) opposingQuote(side types.OrderSide) (types.Price, types.Quantity, bool) {
	if !b.haveLastQuote {
		return types.Price{}, types.Quantity{}, false
	}
	if side == types.OrderSideBuy {
		return b.lastQuote.AskPrice, b.lastQuote.AskSize, true
	}
	return b.lastQuote.BidPrice, b.lastQuote.BidSize, true
}

func minQty(a, b types.Quantity) types.Quantity {
	if a.LessThan(b) {
		return a
	}
	return b
}

// ————————————————————————————————————————————————————————————————————————
// Resting-order matching against the book's own liquidity (our quotes
// crossing each other, or an external sweep consuming our resting orders)
// ————————————————————————————————————————————————————————————————————————

// MatchRestingAgainstTrade fills resting LIMIT orders on the book that a
// trade tick's price and side would cross, price-time priority, bounded by
// the trade's reported size. Used when the venue's matcher treats the
// local book as visible liquidity a trade can sweep.
func (b *Book) MatchRestingAgainstTrade(t types.TradeTick) []Fill {
	var fills []Fill
	remaining := t.Size

	// A BUY-aggressed trade sweeps resting asks; a SELL-aggressed trade
	// sweeps resting bids.
	var ladder *[]*restingOrder
	if t.AggressorSide == types.OrderSideBuy {
		ladder = &b.asks
	} else {
		ladder = &b.bids
	}

	kept := (*ladder)[:0]
	for _, r := range *ladder {
		if remaining.IsZero() {
			kept = append(kept, r)
			continue
		}
		crosses := false
		if t.AggressorSide == types.OrderSideBuy {
			crosses = !t.Price.LessThan(*r.order.Price) // trade price >= resting ask
		} else {
			crosses = !t.Price.GreaterThan(*r.order.Price) // trade price <= resting bid
		}
		if !crosses {
			kept = append(kept, r)
			continue
		}
		fillQty := minQty(r.order.LeavesQty(), remaining)
		if fillQty.IsZero() {
			kept = append(kept, r)
			continue
		}
		fills = append(fills, Fill{ClientOrderID: r.order.ClientOrderID, Price: *r.order.Price, Qty: fillQty, LiquiditySide: "MAKER"})
		remaining = remaining.Sub(fillQty)
		if r.order.LeavesQty().Sub(fillQty).IsZero() {
			continue // fully filled, drop from book
		}
		kept = append(kept, r)
	}
	*ladder = kept
	return fills
}

// ————————————————————————————————————————————————————————————————————————
// Trigger evaluation
// ————————————————————————————————————————————————————————————————————————

// OnQuoteTick updates the book's reference quote and returns the client
// order ids of dormant conditional orders whose trigger has now been
// touched, per spec §4.4 (bid/ask-referenced triggers and quote-driven
// trailing stop recompute).
func (b *Book) OnQuoteTick(q types.QuoteTick) []types.ClientOrderID {
	b.lastQuote = q
	b.haveLastQuote = true
	return b.evaluateTriggers(q.BidPrice, q.AskPrice, types.TriggerTypeBidAsk)
}

// OnTradeTick updates the book's reference trade and returns triggered
// conditional order ids referencing last-trade price.
func (b *Book) OnTradeTick(t types.TradeTick) []types.ClientOrderID {
	b.lastTrade = t
	b.haveLastTrade = true
	return b.evaluateTriggers(t.Price, t.Price, types.TriggerTypeLastTrade)
}

func (b *Book) evaluateTriggers(bid, ask types.Price, refType types.TriggerType) []types.ClientOrderID {
	var triggered []types.ClientOrderID
	for id, o := range b.conditional {
		if o.TriggerType != refType && o.TriggerType != "" {
			continue
		}
		ref := ask
		if o.Side == types.OrderSideSell {
			ref = bid
		}

		if o.Type == types.OrderTypeTrailingStop {
			b.updateTrailingExtreme(o, ref)
			trig := b.trailingExtreme[id]
			if o.Side == types.OrderSideSell {
				trig = trig.Sub(types.NewPrice(o.TrailingOffset, trig.Precision()))
			} else {
				trig = trig.Add(types.NewPrice(o.TrailingOffset, trig.Precision()))
			}
			o.TriggerPrice = &trig
		}

		if o.TriggerPrice == nil {
			continue
		}
		touched := false
		if o.Side == types.OrderSideBuy {
			touched = ref.GreaterThan(*o.TriggerPrice) || ref.Equal(*o.TriggerPrice)
		} else {
			touched = ref.LessThan(*o.TriggerPrice) || ref.Equal(*o.TriggerPrice)
		}
		if touched {
			triggered = append(triggered, id)
			delete(b.conditional, id)
		}
	}
	return triggered
}

func (b *Book) seedTrailingExtreme(o *types.Order) {
	if b.haveLastQuote {
		if o.Side == types.OrderSideSell {
			b.trailingExtreme[o.ClientOrderID] = b.lastQuote.BidPrice
		} else {
			b.trailingExtreme[o.ClientOrderID] = b.lastQuote.AskPrice
		}
	}
}

func (b *Book) updateTrailingExtreme(o *types.Order, ref types.Price) {
	cur, ok := b.trailingExtreme[o.ClientOrderID]
	if !ok {
		b.trailingExtreme[o.ClientOrderID] = ref
		return
	}
	if o.Side == types.OrderSideSell && ref.GreaterThan(cur) {
		b.trailingExtreme[o.ClientOrderID] = ref
	} else if o.Side == types.OrderSideBuy && ref.LessThan(cur) {
		b.trailingExtreme[o.ClientOrderID] = ref
	}
}

// ConditionalOrder returns a conditional order by id while it is still
// dormant; an order reported as touched has already left the dormant set.
func (b *Book) ConditionalOrder(id types.ClientOrderID) (*types.Order, bool) {
	o, ok := b.conditional[id]
	return o, ok
}

// MatchTriggered matches a just-triggered conditional order against current
// liquidity, treating STOP_MARKET/MARKET_IF_TOUCHED/triggered TRAILING_STOP
// as an immediate MARKET and STOP_LIMIT/LIMIT_IF_TOUCHED as a marketable-or-
// resting LIMIT at the order's own price.
func (b *Book) MatchTriggered(o *types.Order) ([]Fill, *RejectReason) {
	if o.HasPrice() {
		return b.matchOrRestLimit(o)
	}
	return b.matchMarket(o)
}
