package cache

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradekernel/pkg/types"
)

func testInstrumentID() types.InstrumentID {
	return types.InstrumentID{Symbol: "ETHUSD", Venue: "SIM"}
}

func testOrder(id types.ClientOrderID) *types.Order {
	return &types.Order{
		ClientOrderID: id,
		InstrumentID:  testInstrumentID(),
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeMarket,
		Quantity:      types.NewQuantity(decimal.NewFromInt(10), 0),
		Status:        types.OrderStatusInitialized,
	}
}

func TestAddOrderDuplicateRejected(t *testing.T) {
	t.Parallel()

	c := New()
	o := testOrder("O-1")
	if err := c.AddOrder(o); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	if err := c.AddOrder(o); err == nil {
		t.Error("expected error re-adding the same client order id")
	}
}

func TestUpdateOrderUnknownErrors(t *testing.T) {
	t.Parallel()

	c := New()
	err := c.UpdateOrder("missing", func(o *types.Order) {})
	if err == nil {
		t.Error("expected error updating an order not in the cache")
	}
}

func TestOrdersOpenClosedPartition(t *testing.T) {
	t.Parallel()

	c := New()
	open := testOrder("O-open")
	open.Status = types.OrderStatusAccepted
	closed := testOrder("O-closed")
	closed.Status = types.OrderStatusFilled

	if err := c.AddOrder(open); err != nil {
		t.Fatal(err)
	}
	if err := c.AddOrder(closed); err != nil {
		t.Fatal(err)
	}

	openSet := c.OrdersOpen()
	closedSet := c.OrdersClosed()

	if len(openSet) != 1 || openSet[0].ClientOrderID != "O-open" {
		t.Errorf("OrdersOpen() = %v", openSet)
	}
	if len(closedSet) != 1 || closedSet[0].ClientOrderID != "O-closed" {
		t.Errorf("OrdersClosed() = %v", closedSet)
	}
	if !c.IsOrderOpen("O-open") || c.IsOrderClosed("O-open") {
		t.Error("O-open should be open, not closed")
	}
	if !c.IsOrderClosed("O-closed") || c.IsOrderOpen("O-closed") {
		t.Error("O-closed should be closed, not open")
	}
}

func TestOrderByVenueIDResolves(t *testing.T) {
	t.Parallel()

	c := New()
	o := testOrder("O-1")
	o.VenueOrderID = "V-1"
	if err := c.AddOrder(o); err != nil {
		t.Fatal(err)
	}

	got, ok := c.OrderByVenueID("V-1")
	if !ok || got.ClientOrderID != "O-1" {
		t.Errorf("OrderByVenueID(V-1) = %v, %v", got, ok)
	}
}

func TestPositionsOpenExcludesFlat(t *testing.T) {
	t.Parallel()

	c := New()
	flat := &types.Position{ID: types.PositionID{InstrumentID: testInstrumentID(), VenuePosID: "P-1"}, Side: types.PositionSideFlat}
	open := &types.Position{
		ID:       types.PositionID{InstrumentID: testInstrumentID(), VenuePosID: "P-2"},
		Side:     types.PositionSideLong,
		Quantity: types.NewQuantity(decimal.NewFromInt(5), 0),
	}
	c.AddPosition(flat)
	c.AddPosition(open)

	got := c.PositionsOpen()
	if len(got) != 1 || got[0].ID.VenuePosID != "P-2" {
		t.Errorf("PositionsOpen() = %v", got)
	}
}

func TestAccountUpdate(t *testing.T) {
	t.Parallel()

	c := New()
	acct := &types.Account{ID: "ACC-1", Type: types.AccountTypeCash, Balances: map[string]types.Balance{}}
	c.AddAccount(acct)

	err := c.UpdateAccount("ACC-1", func(a *types.Account) {
		a.Balances["USD"] = types.Balance{Currency: "USD", Total: types.NewMoney(decimal.NewFromInt(100), "USD")}
	})
	if err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}

	got, _ := c.Account("ACC-1")
	if got.Balances["USD"].Total.String() != "100.00 USD" {
		t.Errorf("balance = %v", got.Balances["USD"].Total)
	}
}
