package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Commands
// ————————————————————————————————————————————————————————————————————————
//
// Commands flow from a Strategy (or a host operator) down through the
// RiskEngine to the ExecutionEngine. Each carries the instrument/order ids
// it addresses and nothing more — it is a request, not yet an authorized
// action.

// SubmitOrder asks the execution stack to accept a single new order.
type SubmitOrder struct {
	Order       *Order
	ClientID    string // owning strategy/component id
	CommandID   string
	TsInit      time.Time
}

// SubmitOrderList asks the execution stack to accept an atomic group of
// orders (e.g. a bracket: entry + stop-loss + take-profit).
type SubmitOrderList struct {
	OrderList *OrderList
	ClientID  string
	CommandID string
	TsInit    time.Time
}

// ModifyOrder asks the execution stack to amend a resting order's price
// and/or quantity. Nil fields are left unchanged.
type ModifyOrder struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	Price         *Price
	TriggerPrice  *Price
	Quantity      *Quantity
	ClientID      string
	CommandID     string
	TsInit        time.Time
}

// CancelOrder asks the execution stack to cancel a single resting order.
type CancelOrder struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	ClientID      string
	CommandID     string
	TsInit        time.Time
}

// CancelAllOrders asks the execution stack to cancel every open order for
// an instrument (optionally restricted to one side).
type CancelAllOrders struct {
	InstrumentID InstrumentID
	Side         *OrderSide // nil = both sides
	ClientID     string
	CommandID    string
	TsInit       time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Order events
// ————————————————————————————————————————————————————————————————————————
//
// Events flow up from the SimulatedExchange/venue adapter through the
// ExecutionEngine, which applies each one to the Order state machine in the
// Cache and republishes it on the MessageBus.

// OrderDenied is emitted by the RiskEngine or ExecutionEngine when a command
// fails a pre-trade check before ever reaching a venue.
type OrderDenied struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	Reason        string
	TsEvent       time.Time
}

// OrderSubmitted records that a SubmitOrder command has been sent downstream.
type OrderSubmitted struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	TsEvent       time.Time
}

// OrderAccepted records venue acceptance and assigns the venue-side id.
type OrderAccepted struct {
	ClientOrderID ClientOrderID
	VenueOrderID  VenueOrderID
	InstrumentID  InstrumentID
	TsEvent       time.Time
}

// OrderRejected records venue rejection of a submitted order.
type OrderRejected struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	Reason        string
	TsEvent       time.Time
}

// OrderPendingUpdate marks an in-flight modify request.
type OrderPendingUpdate struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	TsEvent       time.Time
}

// OrderPendingCancel marks an in-flight cancel request.
type OrderPendingCancel struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	TsEvent       time.Time
}

// OrderModified records a venue-confirmed amendment to price/quantity.
type OrderModified struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	Price         *Price
	TriggerPrice  *Price
	Quantity      *Quantity
	TsEvent       time.Time
}

// OrderCanceled records venue-confirmed cancellation.
type OrderCanceled struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	TsEvent       time.Time
}

// OrderTriggered records a conditional order's trigger firing, moving it
// from resting-conditional to working-as-its-underlying-type.
type OrderTriggered struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	TsEvent       time.Time
}

// OrderExpired records a GTD order reaching its expire time unfilled.
type OrderExpired struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	TsEvent       time.Time
}

// OrderFilled records a single fill (partial or final) against an order.
type OrderFilled struct {
	ClientOrderID ClientOrderID
	VenueOrderID  VenueOrderID
	InstrumentID  InstrumentID
	TradeID       string
	Side          OrderSide
	FillQty       Quantity
	FillPrice     Price
	Commission    Money
	LiquiditySide string // "MAKER" or "TAKER"
	PositionID    PositionID
	TsEvent       time.Time
}

// IsFinalFill reports whether the leaves quantity after this fill is zero.
func (f OrderFilled) IsFinalFill(order Order) bool {
	return order.FilledQty.Add(f.FillQty).GreaterThanOrEqual(order.Quantity)
}

// ————————————————————————————————————————————————————————————————————————
// Position events
// ————————————————————————————————————————————————————————————————————————

// PositionOpened is emitted the first time an instrument's net exposure
// moves away from flat.
type PositionOpened struct {
	Position PositionID
	TsEvent  time.Time
}

// PositionChanged is emitted on every fill that alters an open position's
// quantity or average entry price without flattening it.
type PositionChanged struct {
	Position    PositionID
	Quantity    Quantity
	AvgPrice    Price
	RealizedPnL Money
	TsEvent     time.Time
}

// PositionClosed is emitted when a position's quantity returns to zero.
type PositionClosed struct {
	Position    PositionID
	RealizedPnL Money
	TsEvent     time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Account events
// ————————————————————————————————————————————————————————————————————————

// AccountState is a full snapshot published whenever balances change.
type AccountState struct {
	AccountID string
	Balances  []Balance
	TsEvent   time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Risk events
// ————————————————————————————————————————————————————————————————————————

// TradingStateChanged is emitted when the RiskEngine flips between ACTIVE,
// REDUCING, and HALTED trading states.
type TradingStateChanged struct {
	State   TradingState
	Reason  string
	TsEvent time.Time
}

// TradingState enumerates the RiskEngine's global gate.
type TradingState string

const (
	TradingStateActive   TradingState = "ACTIVE"
	TradingStateReducing TradingState = "REDUCING"
	TradingStateHalted   TradingState = "HALTED"
)

// RiskThresholdBreached records which limit a denied command tripped, for
// metrics and audit purposes.
type RiskThresholdBreached struct {
	ClientOrderID ClientOrderID
	InstrumentID  InstrumentID
	LimitName     string
	Limit         decimal.Decimal
	Observed      decimal.Decimal
	TsEvent       time.Time
}
