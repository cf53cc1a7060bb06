// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary of the kernel — instruments, fixed
// precision price/quantity/money values, orders, positions, accounts, order
// book levels, and market data ticks. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// OrderSide represents the direction of an order: BUY or SELL.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// PositionSide classifies a position's net direction.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
	PositionSideFlat  PositionSide = "FLAT"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStopMarket      OrderType = "STOP_MARKET"
	OrderTypeStopLimit       OrderType = "STOP_LIMIT"
	OrderTypeMarketIfTouched OrderType = "MARKET_IF_TOUCHED"
	OrderTypeLimitIfTouched  OrderType = "LIMIT_IF_TOUCHED"
	OrderTypeTrailingStop    OrderType = "TRAILING_STOP"
)

// TimeInForce enumerates supported order durations.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceGTD TimeInForce = "GTD"
	TimeInForceDAY TimeInForce = "DAY"
)

// ContingencyType encodes how sibling orders relate to one another.
type ContingencyType string

const (
	ContingencyNone ContingencyType = "NONE"
	ContingencyOCO  ContingencyType = "OCO" // one-cancels-other
	ContingencyOTO  ContingencyType = "OTO" // one-triggers-other
	ContingencyOUO  ContingencyType = "OUO" // one-updates-other
)

// OrderStatus is the full lifecycle state machine.
type OrderStatus string

const (
	OrderStatusInitialized     OrderStatus = "INITIALIZED"
	OrderStatusDenied          OrderStatus = "DENIED"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusPendingUpdate   OrderStatus = "PENDING_UPDATE"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	OrderStatusTriggered       OrderStatus = "TRIGGERED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
)

// IsTerminal reports whether an order in this status can never transition again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDenied, OrderStatusRejected, OrderStatusExpired,
		OrderStatusCanceled, OrderStatusFilled:
		return true
	default:
		return false
	}
}

// OMSType selects how positions are aggregated per instrument.
type OMSType string

const (
	OMSTypeNetting OMSType = "NETTING"
	OMSTypeHedging OMSType = "HEDGING"
)

// AccountType selects the account's balance/margin model.
type AccountType string

const (
	AccountTypeCash    AccountType = "CASH"
	AccountTypeMargin  AccountType = "MARGIN"
	AccountTypeBetting AccountType = "BETTING"
)

// TriggerType selects which reference feeds a conditional order's trigger check.
type TriggerType string

const (
	TriggerTypeLastTrade TriggerType = "LAST_TRADE"
	TriggerTypeBidAsk    TriggerType = "BID_ASK"
)

// ————————————————————————————————————————————————————————————————————————
// Fixed-precision values
// ————————————————————————————————————————————————————————————————————————
//
// Price, Quantity, and Money wrap decimal.Decimal so arithmetic is exact and
// comparisons total. Each is bound to a precision (number of decimal places)
// fixed by the owning Instrument; values are rounded at construction time,
// never silently truncated later.

// Price is a fixed-precision price bound to an instrument's price precision.
type Price struct {
	d         decimal.Decimal
	precision int32
}

// NewPrice rounds v to precision decimal places and returns a Price.
func NewPrice(v decimal.Decimal, precision int32) Price {
	return Price{d: v.Round(precision), precision: precision}
}

// ParsePrice parses a decimal string at the given precision.
func ParsePrice(s string, precision int32) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("parse price %q: %w", s, err)
	}
	return NewPrice(d, precision), nil
}

func (p Price) Decimal() decimal.Decimal { return p.d }
func (p Price) Precision() int32         { return p.precision }
func (p Price) String() string           { return p.d.StringFixed(p.precision) }
func (p Price) IsZero() bool             { return p.d.IsZero() }
func (p Price) GreaterThan(o Price) bool { return p.d.GreaterThan(o.d) }
func (p Price) LessThan(o Price) bool    { return p.d.LessThan(o.d) }
func (p Price) Equal(o Price) bool       { return p.d.Equal(o.d) }

// Add returns a new Price at the receiver's precision.
func (p Price) Add(o Price) Price { return NewPrice(p.d.Add(o.d), p.precision) }

// Sub returns a new Price at the receiver's precision.
func (p Price) Sub(o Price) Price { return NewPrice(p.d.Sub(o.d), p.precision) }

// Quantity is a fixed-precision order/position size bound to an instrument's
// size precision.
type Quantity struct {
	d         decimal.Decimal
	precision int32
}

// NewQuantity rounds v to precision decimal places and returns a Quantity.
func NewQuantity(v decimal.Decimal, precision int32) Quantity {
	return Quantity{d: v.Round(precision), precision: precision}
}

// ParseQuantity parses a decimal string at the given precision.
func ParseQuantity(s string, precision int32) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return NewQuantity(d, precision), nil
}

func (q Quantity) Decimal() decimal.Decimal          { return q.d }
func (q Quantity) Precision() int32                  { return q.precision }
func (q Quantity) String() string                    { return q.d.StringFixed(q.precision) }
func (q Quantity) IsZero() bool                      { return q.d.IsZero() }
func (q Quantity) IsPositive() bool                  { return q.d.IsPositive() }
func (q Quantity) GreaterThan(o Quantity) bool        { return q.d.GreaterThan(o.d) }
func (q Quantity) GreaterThanOrEqual(o Quantity) bool { return q.d.GreaterThanOrEqual(o.d) }
func (q Quantity) LessThan(o Quantity) bool           { return q.d.LessThan(o.d) }
func (q Quantity) Equal(o Quantity) bool              { return q.d.Equal(o.d) }

// Add returns a new Quantity at the receiver's precision.
func (q Quantity) Add(o Quantity) Quantity { return NewQuantity(q.d.Add(o.d), q.precision) }

// Sub returns a new Quantity at the receiver's precision.
func (q Quantity) Sub(o Quantity) Quantity { return NewQuantity(q.d.Sub(o.d), q.precision) }

// Mul multiplies by a raw decimal factor (e.g. a proportional-reduction ratio)
// and rounds to the quantity's own precision.
func (q Quantity) Mul(factor decimal.Decimal) Quantity {
	return NewQuantity(q.d.Mul(factor), q.precision)
}

// Money is a fixed-precision currency amount.
type Money struct {
	d        decimal.Decimal
	Currency string
}

// NewMoney rounds v to 2 decimal places.
func NewMoney(v decimal.Decimal, currency string) Money {
	return Money{d: v.Round(2), Currency: currency}
}

func (m Money) Decimal() decimal.Decimal { return m.d }
func (m Money) String() string           { return m.d.StringFixed(2) + " " + m.Currency }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }

// Add adds two Money values of the same currency.
func (m Money) Add(o Money) Money { return NewMoney(m.d.Add(o.d), m.Currency) }

// Sub subtracts two Money values of the same currency.
func (m Money) Sub(o Money) Money { return NewMoney(m.d.Sub(o.d), m.Currency) }

// ————————————————————————————————————————————————————————————————————————
// Instrument
// ————————————————————————————————————————————————————————————————————————

// InstrumentID identifies an instrument by (Symbol, Venue), immutable after
// registration.
type InstrumentID struct {
	Symbol string
	Venue  string
}

func (id InstrumentID) String() string { return id.Symbol + "." + id.Venue }

// ParseInstrumentID parses a "SYMBOL.VENUE" string.
func ParseInstrumentID(s string) (InstrumentID, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return InstrumentID{}, fmt.Errorf("invalid instrument id %q, expected SYMBOL.VENUE", s)
	}
	return InstrumentID{Symbol: parts[0], Venue: parts[1]}, nil
}

// Instrument carries everything needed to construct and validate Price and
// Quantity values for one tradeable symbol. Immutable after registration.
type Instrument struct {
	ID             InstrumentID
	PricePrecision int32
	SizePrecision  int32
	TickSize       decimal.Decimal
	LotSize        decimal.Decimal
	MinQuantity    Quantity
	MaxQuantity    Quantity
	QuoteCurrency  string
	BaseCurrency   string
	IsInverse      bool
	IsQuanto       bool
}

// MakePrice rounds v to this instrument's price precision.
func (i Instrument) MakePrice(v decimal.Decimal) Price {
	return NewPrice(v, i.PricePrecision)
}

// MakeQuantity rounds v to this instrument's size precision.
func (i Instrument) MakeQuantity(v decimal.Decimal) Quantity {
	return NewQuantity(v, i.SizePrecision)
}

// RoundDownToLot floors a raw quantity to the nearest lot-size increment.
func (i Instrument) RoundDownToLot(v decimal.Decimal) Quantity {
	if i.LotSize.IsZero() {
		return i.MakeQuantity(v)
	}
	steps := v.Div(i.LotSize).Floor()
	return i.MakeQuantity(steps.Mul(i.LotSize))
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// ClientOrderID is a trader-unique identifier assigned at order-factory time.
type ClientOrderID string

// VenueOrderID is assigned by the venue on acceptance.
type VenueOrderID string

// OrderListID groups orders submitted atomically (e.g. a bracket).
type OrderListID string

// Order is the full order record tracked by the Cache and mutated only by
// the ExecutionEngine applying venue events.
type Order struct {
	ClientOrderID  ClientOrderID
	VenueOrderID   VenueOrderID
	InstrumentID   InstrumentID
	Side           OrderSide
	Type           OrderType
	Quantity       Quantity
	FilledQty      Quantity
	Price          *Price // nil for MARKET
	TriggerPrice   *Price // nil unless conditional
	TriggerType    TriggerType
	TrailingOffset decimal.Decimal // absolute price offset for TRAILING_STOP
	TimeInForce    TimeInForce
	ExpireTime     time.Time
	PostOnly       bool
	ReduceOnly     bool
	DisplayQty     *Quantity
	Contingency    ContingencyType
	LinkedOrderIDs []ClientOrderID
	ParentOrderID  ClientOrderID
	OrderListID    OrderListID
	Tags           []string
	Status         OrderStatus
	AcceptedAt     time.Time
	TsInit         time.Time
}

// LeavesQty returns quantity - filled quantity, per the invariant
// filled + leaves == quantity.
func (o Order) LeavesQty() Quantity {
	return o.Quantity.Sub(o.FilledQty)
}

// IsOpen reports whether the order is resting/working at the venue.
func (o Order) IsOpen() bool {
	switch o.Status {
	case OrderStatusAccepted, OrderStatusPendingUpdate, OrderStatusPendingCancel,
		OrderStatusTriggered, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// IsClosed is the complement of IsOpen over all known statuses (INITIALIZED
// and SUBMITTED are neither open nor closed — they are in flight).
func (o Order) IsClosed() bool {
	return o.Status.IsTerminal()
}

// IsConditional reports whether the order must wait for a trigger before it
// can match (STOP_*, *_IF_TOUCHED, TRAILING_STOP).
func (o Order) IsConditional() bool {
	switch o.Type {
	case OrderTypeStopMarket, OrderTypeStopLimit, OrderTypeMarketIfTouched,
		OrderTypeLimitIfTouched, OrderTypeTrailingStop:
		return true
	default:
		return false
	}
}

// HasPrice reports whether the order carries a limit price component
// (LIMIT, STOP_LIMIT, LIMIT_IF_TOUCHED).
func (o Order) HasPrice() bool {
	switch o.Type {
	case OrderTypeLimit, OrderTypeStopLimit, OrderTypeLimitIfTouched:
		return true
	default:
		return false
	}
}

// OrderList is an ordered collection submitted atomically. For a bracket,
// Orders[0] is the entry and the remainder are OCO-paired children.
type OrderList struct {
	ID     OrderListID
	Orders []*Order
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// PositionID identifies a position by instrument and an opaque venue id
// (NETTING: one per instrument; HEDGING: one per opening client order).
type PositionID struct {
	InstrumentID InstrumentID
	VenuePosID   string
}

// Position tracks net exposure for one instrument (NETTING) or one opening
// order (HEDGING).
type Position struct {
	ID            PositionID
	Side          PositionSide
	Quantity      Quantity // always non-negative; Side carries direction
	AvgEntryPrice Price
	RealizedPnL   Money
	Commissions   Money
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// IsFlat reports whether the position has been fully closed.
func (p Position) IsFlat() bool {
	return p.Side == PositionSideFlat || p.Quantity.IsZero()
}

// SignedQty returns quantity with sign applied per side (+long, -short).
func (p Position) SignedQty() decimal.Decimal {
	if p.Side == PositionSideShort {
		return p.Quantity.Decimal().Neg()
	}
	return p.Quantity.Decimal()
}

// ————————————————————————————————————————————————————————————————————————
// Accounts
// ————————————————————————————————————————————————————————————————————————

// Balance is one currency's free/locked/total split. Invariant:
// free + locked == total.
type Balance struct {
	Currency string
	Free     Money
	Locked   Money
	Total    Money
}

// Account is a single-currency or multi-asset wallet of balances, with
// optional per-instrument margin tracking for MARGIN accounts.
type Account struct {
	ID              string
	Type            AccountType
	BaseCurrency    string // empty = multi-asset
	Balances        map[string]Balance
	InitialMargin   map[InstrumentID]Money
	MaintMargin     map[InstrumentID]Money
	Leverage        map[InstrumentID]decimal.Decimal
	DefaultLeverage decimal.Decimal
	IsFrozen        bool
	AllowCashShorts bool // explicit flag, open-question decision recorded in DESIGN.md
}

// FreeBalance returns the free balance for a currency, or a zero Money value.
func (a Account) FreeBalance(currency string) Money {
	if b, ok := a.Balances[currency]; ok {
		return b.Free
	}
	return NewMoney(decimal.Zero, currency)
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// BookLevel is a single aggregated price level (L2) in an order book.
type BookLevel struct {
	Price Price
	Size  Quantity
}

// BookOrder is a single resting order at L3 granularity, used for
// price-time priority matching.
type BookOrder struct {
	ClientOrderID ClientOrderID
	Price         Price
	Size          Quantity
	Side          OrderSide
	AcceptedAt    time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// QuoteTick is a top-of-book snapshot.
type QuoteTick struct {
	InstrumentID InstrumentID
	BidPrice     Price
	AskPrice     Price
	BidSize      Quantity
	AskSize      Quantity
	TsEvent      time.Time
	TsInit       time.Time
}

// Mid returns the arithmetic midpoint of bid and ask at the tick's price
// precision.
func (q QuoteTick) Mid() Price {
	sum := q.BidPrice.Decimal().Add(q.AskPrice.Decimal())
	return NewPrice(sum.Div(decimal.NewFromInt(2)), q.BidPrice.Precision())
}

// TradeTick is a single executed trade on the venue.
type TradeTick struct {
	InstrumentID  InstrumentID
	Price         Price
	Size          Quantity
	AggressorSide OrderSide
	TradeID       string
	TsEvent       time.Time
	TsInit        time.Time
}

// BarAggregation selects how a Bar's step is measured.
type BarAggregation string

const (
	BarAggregationTick   BarAggregation = "TICK"
	BarAggregationTime   BarAggregation = "TIME"
	BarAggregationVolume BarAggregation = "VOLUME"
)

// PriceType selects which tick field feeds bar construction.
type PriceType string

const (
	PriceTypeBid  PriceType = "BID"
	PriceTypeAsk  PriceType = "ASK"
	PriceTypeMid  PriceType = "MID"
	PriceTypeLast PriceType = "LAST"
)

// BarType keys a bar series by instrument and construction rule.
type BarType struct {
	InstrumentID InstrumentID
	Step         int
	Aggregation  BarAggregation
	PriceType    PriceType
	Source       string // e.g. "INTERNAL" vs an external aggregator name
}

func (bt BarType) String() string {
	return fmt.Sprintf("%s-%d-%s-%s-%s", bt.InstrumentID, bt.Step, bt.Aggregation, bt.PriceType, bt.Source)
}

// Bar is one OHLCV candle for a BarType.
type Bar struct {
	Type    BarType
	Open    Price
	High    Price
	Low     Price
	Close   Price
	Volume  Quantity
	TsEvent time.Time
	TsInit  time.Time
}
