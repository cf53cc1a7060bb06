// Package adapters defines the venue-adapter contracts spec §6 names but
// does not re-specify (Data and Exec clients), plus one concrete reference
// implementation of each over REST and WebSocket. Venue adapters are out of
// scope for the kernel itself — the kernel drives commands through whatever
// satisfies these interfaces, be it the simulated exchange or a live client
// built here.
package adapters

import (
	"context"

	"tradekernel/pkg/types"
)

// DataClient is the external-interface contract of spec §6: connect,
// disconnect, and subscribe to the four market data shapes the kernel
// understands. Implementations post received ticks onto their own channels;
// the Node reads from those and republishes onto the MessageBus.
type DataClient interface {
	Connect(ctx context.Context) error
	Disconnect() error

	SubscribeQuoteTicks(ctx context.Context, instruments []types.InstrumentID) error
	SubscribeTradeTicks(ctx context.Context, instruments []types.InstrumentID) error
	SubscribeOrderBook(ctx context.Context, instruments []types.InstrumentID) error
	SubscribeBars(ctx context.Context, barTypes []types.BarType) error

	QuoteTicks() <-chan types.QuoteTick
	TradeTicks() <-chan types.TradeTick
	Bars() <-chan types.Bar
}

// ExecClient is the external-interface contract of spec §6 for order
// routing to a live venue. A live ExecutionEngine drives commands through
// this instead of the simulated Exchange.
type ExecClient interface {
	Connect(ctx context.Context) error
	Disconnect() error

	SubmitOrder(ctx context.Context, order *types.Order) error
	ModifyOrder(ctx context.Context, cmd types.ModifyOrder) error
	CancelOrder(ctx context.Context, cmd types.CancelOrder) error

	GenerateOrderStatusReport(ctx context.Context, instrumentID types.InstrumentID) ([]OrderStatusReport, error)
}

// OrderStatusReport is what a live venue reports back during reconciliation
// (spec §4.6): enough to detect a local/remote divergence and synthesize a
// correcting event, without the kernel ever parsing venue-specific wire
// shapes beyond this.
type OrderStatusReport struct {
	ClientOrderID types.ClientOrderID
	VenueOrderID  types.VenueOrderID
	InstrumentID  types.InstrumentID
	Status        types.OrderStatus
	FilledQty     types.Quantity
	AvgPrice      *types.Price
}
