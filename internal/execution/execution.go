// Package execution implements the ExecutionEngine: command routing to the
// venue, application of venue events to the order state machine, and
// position/account bookkeeping, per the lifecycle diagram in the kernel
// design (spec §4.6).
package execution

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/internal/clock"
	"tradekernel/internal/metrics"
	"tradekernel/pkg/types"
)

// Venue is the subset of exchange.Exchange the engine drives commands
// through. A narrow interface so execution can be tested against a fake.
type Venue interface {
	Submit(cmd types.SubmitOrder, arrivalNs int64)
	SubmitList(cmd types.SubmitOrderList, arrivalNs int64)
	Modify(cmd types.ModifyOrder, arrivalNs int64)
	Cancel(cmd types.CancelOrder, arrivalNs int64)
	CancelAll(cmd types.CancelAllOrders, arrivalNs int64)
}

// Engine is the ExecutionEngine described in spec §4.6: it owns the legal
// transitions of the order state machine and is the only component
// permitted to mutate Cache order/position/account records.
type Engine struct {
	cache  *cache.Cache
	bus    *bus.Bus
	venue  Venue
	clock  clock.Clock
	logger *slog.Logger

	oms types.OMSType
}

// New constructs an ExecutionEngine wired to cache, bus, and venue.
func New(c *cache.Cache, b *bus.Bus, venue Venue, clk clock.Clock, oms types.OMSType, logger *slog.Logger) *Engine {
	return &Engine{
		cache:  c,
		bus:    b,
		venue:  venue,
		clock:  clk,
		oms:    oms,
		logger: logger.With("component", "execution"),
	}
}

// ————————————————————————————————————————————————————————————————————————
// Command handling: Strategy/RiskEngine → ExecutionEngine → Venue
// ————————————————————————————————————————————————————————————————————————

// SubmitOrder registers the new order in the cache as SUBMITTED and forwards
// it to the venue.
func (e *Engine) SubmitOrder(cmd types.SubmitOrder) error {
	o := cmd.Order
	o.Status = types.OrderStatusSubmitted
	o.TsInit = e.clock.Now()
	if err := e.cache.AddOrder(o); err != nil {
		return fmt.Errorf("execution: submit order: %w", err)
	}
	e.publish("events.order.submitted", types.OrderSubmitted{
		ClientOrderID: o.ClientOrderID, InstrumentID: o.InstrumentID, TsEvent: e.clock.Now(),
	})
	e.venue.Submit(cmd, e.clock.NowNs())
	metrics.IncOrdersSubmitted(o.InstrumentID.String(), string(o.Side))
	return nil
}

// SubmitOrderList registers every order in the list as SUBMITTED and
// forwards the whole group to the venue atomically.
func (e *Engine) SubmitOrderList(cmd types.SubmitOrderList) error {
	for _, o := range cmd.OrderList.Orders {
		o.Status = types.OrderStatusSubmitted
		o.TsInit = e.clock.Now()
		if err := e.cache.AddOrder(o); err != nil {
			return fmt.Errorf("execution: submit order list: %w", err)
		}
	}
	e.venue.SubmitList(cmd, e.clock.NowNs())
	return nil
}

// ModifyOrder marks the order PENDING_UPDATE and forwards the amendment.
func (e *Engine) ModifyOrder(cmd types.ModifyOrder) error {
	if !e.cache.IsOrderOpen(cmd.ClientOrderID) {
		return fmt.Errorf("execution: modify order: %s is not open", cmd.ClientOrderID)
	}
	if err := e.cache.UpdateOrder(cmd.ClientOrderID, func(o *types.Order) {
		o.Status = types.OrderStatusPendingUpdate
	}); err != nil {
		return err
	}
	e.publish("events.order.pending_update", types.OrderPendingUpdate{
		ClientOrderID: cmd.ClientOrderID, InstrumentID: cmd.InstrumentID, TsEvent: e.clock.Now(),
	})
	e.venue.Modify(cmd, e.clock.NowNs())
	return nil
}

// CancelOrder marks the order PENDING_CANCEL and forwards the cancel.
func (e *Engine) CancelOrder(cmd types.CancelOrder) error {
	if !e.cache.IsOrderOpen(cmd.ClientOrderID) {
		return fmt.Errorf("execution: cancel order: %s is not open", cmd.ClientOrderID)
	}
	if err := e.cache.UpdateOrder(cmd.ClientOrderID, func(o *types.Order) {
		o.Status = types.OrderStatusPendingCancel
	}); err != nil {
		return err
	}
	e.publish("events.order.pending_cancel", types.OrderPendingCancel{
		ClientOrderID: cmd.ClientOrderID, InstrumentID: cmd.InstrumentID, TsEvent: e.clock.Now(),
	})
	e.venue.Cancel(cmd, e.clock.NowNs())
	return nil
}

// CancelAllOrders forwards a blanket cancel to the venue; each order moves
// to CANCELED as its OrderCanceled event arrives.
func (e *Engine) CancelAllOrders(cmd types.CancelAllOrders) {
	e.venue.CancelAll(cmd, e.clock.NowNs())
}

// ————————————————————————————————————————————————————————————————————————
// Event application: Venue → ExecutionEngine → Cache + MessageBus
// ————————————————————————————————————————————————————————————————————————

// OnOrderEvent implements exchange.EventSink. It applies a venue event to
// the cached order's state machine, drops it with a log line if the
// transition is illegal (order unknown or already terminal), and republishes
// the event on the bus for Strategy/Portfolio consumption.
func (e *Engine) OnOrderEvent(instrumentID types.InstrumentID, event any) {
	switch ev := event.(type) {
	case types.OrderAccepted:
		e.apply(ev.ClientOrderID, "events.order.accepted", ev, func(o *types.Order) bool {
			o.VenueOrderID = ev.VenueOrderID
			o.Status = types.OrderStatusAccepted
			o.AcceptedAt = ev.TsEvent
			return true
		})
	case types.OrderRejected:
		e.apply(ev.ClientOrderID, "events.order.rejected", ev, func(o *types.Order) bool {
			o.Status = types.OrderStatusRejected
			return true
		})
		metrics.IncOrdersRejected(instrumentID.String())
	case types.OrderTriggered:
		e.apply(ev.ClientOrderID, "events.order.triggered", ev, func(o *types.Order) bool {
			o.Status = types.OrderStatusTriggered
			return true
		})
	case types.OrderCanceled:
		e.apply(ev.ClientOrderID, "events.order.canceled", ev, func(o *types.Order) bool {
			o.Status = types.OrderStatusCanceled
			return true
		})
	case types.OrderExpired:
		e.apply(ev.ClientOrderID, "events.order.expired", ev, func(o *types.Order) bool {
			o.Status = types.OrderStatusExpired
			return true
		})
	case types.OrderModified:
		e.apply(ev.ClientOrderID, "events.order.modified", ev, func(o *types.Order) bool {
			if ev.Price != nil {
				o.Price = ev.Price
			}
			if ev.TriggerPrice != nil {
				o.TriggerPrice = ev.TriggerPrice
			}
			if ev.Quantity != nil {
				o.Quantity = *ev.Quantity
			}
			return true
		})
	case types.OrderFilled:
		e.applyFill(ev)
	default:
		e.logger.Warn("unhandled venue event type dropped", "instrument", instrumentID, "event", fmt.Sprintf("%T", event))
	}
}

// apply runs mutate against the cached order if it is known and not already
// terminal, and republishes ev on success. Illegal transitions (unknown
// order, or an event arriving after the order already reached a terminal
// status) are logged and dropped per spec §4.6.
func (e *Engine) apply(id types.ClientOrderID, topic string, ev any, mutate func(*types.Order) bool) {
	o, ok := e.cache.Order(id)
	if !ok {
		e.logger.Warn("event for unknown order dropped", "client_order_id", id, "topic", topic)
		return
	}
	if o.IsClosed() {
		e.logger.Warn("event for terminal order dropped", "client_order_id", id, "topic", topic, "status", o.Status)
		return
	}
	err := e.cache.UpdateOrder(id, func(cached *types.Order) {
		mutate(cached)
	})
	if err != nil {
		e.logger.Warn("failed applying event to cached order", "client_order_id", id, "error", err)
		return
	}
	e.publish(topic, ev)
}

func (e *Engine) applyFill(ev types.OrderFilled) {
	o, ok := e.cache.Order(ev.ClientOrderID)
	if !ok {
		e.logger.Warn("fill for unknown order dropped", "client_order_id", ev.ClientOrderID)
		return
	}
	if o.IsClosed() {
		e.logger.Warn("fill for terminal order dropped", "client_order_id", ev.ClientOrderID, "status", o.Status)
		return
	}

	final := ev.IsFinalFill(*o)
	err := e.cache.UpdateOrder(ev.ClientOrderID, func(cached *types.Order) {
		cached.FilledQty = cached.FilledQty.Add(ev.FillQty)
		if final {
			cached.Status = types.OrderStatusFilled
		} else {
			cached.Status = types.OrderStatusPartiallyFilled
		}
	})
	if err != nil {
		e.logger.Warn("failed applying fill to cached order", "client_order_id", ev.ClientOrderID, "error", err)
		return
	}
	e.publish("events.order.filled", ev)
	metrics.IncOrdersFilled(ev.InstrumentID.String(), string(ev.Side))

	e.applyFillToPosition(o, ev)
}

// applyFillToPosition updates (or creates) the position this fill
// contributes to, per the NETTING/HEDGING OMS model, and emits the
// corresponding Position{Opened,Changed,Closed} event.
func (e *Engine) applyFillToPosition(o *types.Order, ev types.OrderFilled) {
	currency := ev.FillPrice.String() // fallback if the instrument was never registered
	if inst, ok := e.cache.Instrument(o.InstrumentID); ok {
		currency = inst.QuoteCurrency
	}

	posID := e.positionIDFor(o)
	pos, ok := e.cache.Position(posID)
	if !ok {
		pos = &types.Position{ID: posID, Side: types.PositionSideFlat, RealizedPnL: types.NewMoney(decimal.Zero, currency)}
		e.cache.AddPosition(pos)
	}

	wasFlat := pos.IsFlat()
	signedFill := ev.FillQty.Decimal()
	if ev.Side == types.OrderSideSell {
		signedFill = signedFill.Neg()
	}
	currentSigned := pos.SignedQty()
	newSigned := currentSigned.Add(signedFill)

	var realized types.Money
	switch {
	case currentSigned.Sign() == 0 || sameSign(currentSigned, signedFill):
		// Opening or adding to the position: blend the average entry price.
		totalQty := currentSigned.Abs().Add(signedFill.Abs())
		if totalQty.IsPositive() {
			blended := pos.AvgEntryPrice.Decimal().Mul(currentSigned.Abs()).
				Add(ev.FillPrice.Decimal().Mul(signedFill.Abs())).Div(totalQty)
			pos.AvgEntryPrice = types.NewPrice(blended, ev.FillPrice.Precision())
		} else {
			pos.AvgEntryPrice = ev.FillPrice
		}
	default:
		// Reducing or flipping the position: realize PnL on the closed portion.
		closedQty := decimal.Min(currentSigned.Abs(), signedFill.Abs())
		pnlPerUnit := ev.FillPrice.Decimal().Sub(pos.AvgEntryPrice.Decimal())
		if currentSigned.IsNegative() {
			pnlPerUnit = pnlPerUnit.Neg()
		}
		realized = types.NewMoney(pnlPerUnit.Mul(closedQty), currency)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		if newSigned.Sign() != 0 && !sameSign(currentSigned, newSigned) {
			// Flipped through flat: the remainder opens fresh at the fill price.
			pos.AvgEntryPrice = ev.FillPrice
		}
	}

	pos.Quantity = types.NewQuantity(newSigned.Abs(), ev.FillQty.Precision())
	switch {
	case newSigned.IsPositive():
		pos.Side = types.PositionSideLong
	case newSigned.IsNegative():
		pos.Side = types.PositionSideShort
	default:
		pos.Side = types.PositionSideFlat
	}

	if err := e.cache.UpdatePosition(posID, func(p *types.Position) {
		*p = *pos
	}); err != nil {
		e.logger.Warn("failed updating position", "position_id", posID, "error", err)
	}

	switch {
	case pos.IsFlat() && !wasFlat:
		pos.ClosedAt = ev.TsEvent
		e.publish("events.position.closed", types.PositionClosed{Position: posID, RealizedPnL: pos.RealizedPnL, TsEvent: ev.TsEvent})
	case wasFlat && !pos.IsFlat():
		pos.OpenedAt = ev.TsEvent
		e.publish("events.position.opened", types.PositionOpened{Position: posID, TsEvent: ev.TsEvent})
	default:
		e.publish("events.position.changed", types.PositionChanged{
			Position: posID, Quantity: pos.Quantity, AvgPrice: pos.AvgEntryPrice, RealizedPnL: pos.RealizedPnL, TsEvent: ev.TsEvent,
		})
	}
}

func sameSign(a, b decimal.Decimal) bool {
	return a.Sign() == b.Sign() || a.Sign() == 0 || b.Sign() == 0
}

// positionIDFor resolves the cache key a fill contributes to: NETTING keys
// by instrument alone; HEDGING keys by the opening order's client order id
// (the order itself, or its ParentOrderID if it is a bracket child).
func (e *Engine) positionIDFor(o *types.Order) types.PositionID {
	if e.oms == types.OMSTypeHedging {
		owner := o.ClientOrderID
		if o.ParentOrderID != "" {
			owner = o.ParentOrderID
		}
		return types.PositionID{InstrumentID: o.InstrumentID, VenuePosID: string(owner)}
	}
	return types.PositionID{InstrumentID: o.InstrumentID, VenuePosID: o.InstrumentID.String()}
}

func (e *Engine) publish(topic string, event any) {
	e.bus.Publish(topic, event)
}

// ExpireGTDOrders scans open orders for ones whose GTD expire time has
// passed as of now and transitions them to EXPIRED. Called once per clock
// tick by the host loop (spec §4.6's EXPIRED edge case).
func (e *Engine) ExpireGTDOrders(now time.Time) {
	for _, o := range e.cache.OrdersOpen() {
		if o.TimeInForce != types.TimeInForceGTD || o.ExpireTime.IsZero() || now.Before(o.ExpireTime) {
			continue
		}
		id := o.ClientOrderID
		instrumentID := o.InstrumentID
		e.apply(id, "events.order.expired", types.OrderExpired{ClientOrderID: id, InstrumentID: instrumentID, TsEvent: now}, func(cached *types.Order) bool {
			cached.Status = types.OrderStatusExpired
			return true
		})
	}
}
