package strategy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradekernel/pkg/types"
)

// OrderFactory constructs orders with auto-generated client order ids, each
// tagged with the owning strategy's id and its order_id_tag so fills and
// events can be traced back to the strategy that created them, per spec
// §4.8's order_factory primitive.
type OrderFactory struct {
	strategyID string
	orderIDTag string
}

// NewOrderFactory returns a factory for one strategy instance.
func NewOrderFactory(strategyID, orderIDTag string) *OrderFactory {
	return &OrderFactory{strategyID: strategyID, orderIDTag: orderIDTag}
}

// nextID generates a client order id of the form
// "<strategyID>-<orderIDTag>-<uuid>".
func (f *OrderFactory) nextID() types.ClientOrderID {
	return types.ClientOrderID(f.strategyID + "-" + f.orderIDTag + "-" + uuid.NewString())
}

// Market builds a MARKET order.
func (f *OrderFactory) Market(instrumentID types.InstrumentID, side types.OrderSide, qty types.Quantity) *types.Order {
	return &types.Order{
		ClientOrderID: f.nextID(),
		InstrumentID:  instrumentID,
		Side:          side,
		Type:          types.OrderTypeMarket,
		Quantity:      qty,
		TimeInForce:   types.TimeInForceIOC,
		Status:        types.OrderStatusInitialized,
		TsInit:        time.Now(),
	}
}

// Limit builds a LIMIT order.
func (f *OrderFactory) Limit(instrumentID types.InstrumentID, side types.OrderSide, qty types.Quantity, price types.Price, postOnly bool) *types.Order {
	return &types.Order{
		ClientOrderID: f.nextID(),
		InstrumentID:  instrumentID,
		Side:          side,
		Type:          types.OrderTypeLimit,
		Quantity:      qty,
		Price:         &price,
		TimeInForce:   types.TimeInForceGTC,
		PostOnly:      postOnly,
		Status:        types.OrderStatusInitialized,
		TsInit:        time.Now(),
	}
}

// StopMarket builds a STOP_MARKET order that triggers off the last trade or
// the bid/ask per triggerType.
func (f *OrderFactory) StopMarket(instrumentID types.InstrumentID, side types.OrderSide, qty types.Quantity, triggerPrice types.Price, triggerType types.TriggerType) *types.Order {
	return &types.Order{
		ClientOrderID: f.nextID(),
		InstrumentID:  instrumentID,
		Side:          side,
		Type:          types.OrderTypeStopMarket,
		Quantity:      qty,
		TriggerPrice:  &triggerPrice,
		TriggerType:   triggerType,
		TimeInForce:   types.TimeInForceGTC,
		ReduceOnly:    true,
		Status:        types.OrderStatusInitialized,
		TsInit:        time.Now(),
	}
}

// TrailingStop builds a TRAILING_STOP order with an absolute offset.
func (f *OrderFactory) TrailingStop(instrumentID types.InstrumentID, side types.OrderSide, qty types.Quantity, offset decimal.Decimal) *types.Order {
	return &types.Order{
		ClientOrderID:  f.nextID(),
		InstrumentID:   instrumentID,
		Side:           side,
		Type:           types.OrderTypeTrailingStop,
		Quantity:       qty,
		TrailingOffset: offset,
		TimeInForce:    types.TimeInForceGTC,
		ReduceOnly:     true,
		Status:         types.OrderStatusInitialized,
		TsInit:         time.Now(),
	}
}

// BracketList assembles an entry order plus its OCO stop-loss/take-profit
// children, contingent on the entry filling (OTO), into the OrderList the
// ExecutionEngine expects for SubmitOrderList.
func (f *OrderFactory) BracketList(listID types.OrderListID, entry *types.Order, stopLoss, takeProfit types.Price) *types.OrderList {
	exitSide := entry.Side.Opposite()

	sl := f.StopMarket(entry.InstrumentID, exitSide, entry.Quantity, stopLoss, types.TriggerTypeLastTrade)
	sl.Contingency = types.ContingencyOCO
	sl.ParentOrderID = entry.ClientOrderID
	sl.OrderListID = listID

	tp := f.Limit(entry.InstrumentID, exitSide, entry.Quantity, takeProfit, false)
	tp.Contingency = types.ContingencyOCO
	tp.ParentOrderID = entry.ClientOrderID
	tp.OrderListID = listID

	sl.LinkedOrderIDs = []types.ClientOrderID{tp.ClientOrderID}
	tp.LinkedOrderIDs = []types.ClientOrderID{sl.ClientOrderID}

	entry.Contingency = types.ContingencyOTO
	entry.OrderListID = listID
	entry.LinkedOrderIDs = []types.ClientOrderID{sl.ClientOrderID, tp.ClientOrderID}

	return &types.OrderList{ID: listID, Orders: []*types.Order{entry, sl, tp}}
}
