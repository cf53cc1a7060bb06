package strategy

import (
	"io"
	"log/slog"
	"testing"

	"tradekernel/internal/bus"
	"tradekernel/internal/cache"
	"tradekernel/pkg/types"
)

type fakeRisk struct {
	submitted []types.SubmitOrder
	canceled  []types.CancelOrder
	cancelAll []types.CancelAllOrders
}

func (f *fakeRisk) Submit(cmd types.SubmitOrder) error {
	f.submitted = append(f.submitted, cmd)
	return nil
}
func (f *fakeRisk) Modify(types.ModifyOrder) error { return nil }
func (f *fakeRisk) Cancel(cmd types.CancelOrder) error {
	f.canceled = append(f.canceled, cmd)
	return nil
}
func (f *fakeRisk) CancelAll(cmd types.CancelAllOrders) { f.cancelAll = append(f.cancelAll, cmd) }

type recordingHandler struct {
	BaseHandler
	started   int
	quotes    []types.QuoteTick
	orderEvts []any
}

func (h *recordingHandler) OnStart()                    { h.started++ }
func (h *recordingHandler) OnQuoteTick(q types.QuoteTick) { h.quotes = append(h.quotes, q) }
func (h *recordingHandler) OnOrderEvent(topic string, ev any) {
	h.orderEvts = append(h.orderEvts, ev)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testInstrumentID() types.InstrumentID { return types.InstrumentID{Symbol: "ETHUSD", Venue: "SIM"} }

func newTestStrategy(h Handler) (*Strategy, *cache.Cache, *fakeRisk) {
	c := cache.New()
	b := bus.New(testLogger())
	r := &fakeRisk{}
	s := New("STRAT-1", "001", h, c, b, r, testLogger())
	return s, c, r
}

func TestCommandsQueuedBeforeStart(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	s, _, r := newTestStrategy(h)

	qty, _ := types.ParseQuantity("1", 0)
	o := s.OrderFactory.Market(testInstrumentID(), types.OrderSideBuy, qty)
	if err := s.SubmitOrder(o); err != nil {
		t.Fatalf("SubmitOrder before start: %v", err)
	}
	if len(r.submitted) != 0 {
		t.Fatal("expected command to be queued, not forwarded, before Start")
	}

	s.Start()
	if h.started != 1 {
		t.Errorf("OnStart called %d times, want 1", h.started)
	}
	if len(r.submitted) != 1 {
		t.Fatalf("expected queued command to flush on Start, got %d forwarded", len(r.submitted))
	}
}

func TestCommandsErrorAfterDispose(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	s, _, _ := newTestStrategy(h)
	s.Start()
	s.Dispose()

	qty, _ := types.ParseQuantity("1", 0)
	o := s.OrderFactory.Market(testInstrumentID(), types.OrderSideBuy, qty)
	if err := s.SubmitOrder(o); err == nil {
		t.Error("expected SubmitOrder to error after Dispose")
	}
}

func TestOrderFactoryGeneratesUniqueTaggedIDs(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	s, _, _ := newTestStrategy(h)
	qty, _ := types.ParseQuantity("1", 0)

	o1 := s.OrderFactory.Market(testInstrumentID(), types.OrderSideBuy, qty)
	o2 := s.OrderFactory.Market(testInstrumentID(), types.OrderSideBuy, qty)
	if o1.ClientOrderID == o2.ClientOrderID {
		t.Fatal("expected distinct client order ids")
	}
	if !hasPrefix(string(o1.ClientOrderID), "STRAT-1-001-") {
		t.Errorf("client order id %s missing strategy/tag prefix", o1.ClientOrderID)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func TestIndicatorReceivesUpdatesBeforeHandler(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	s, _, _ := newTestStrategy(h)

	var order []string
	ind := &orderTrackingIndicator{onUpdate: func() {
		order = append(order, "indicator")
		if len(h.quotes) != 0 {
			order = append(order, "handler-first")
		}
	}}
	s.RegisterIndicatorForQuoteTicks(testInstrumentID(), ind)
	// Registering the same indicator twice on the same source must not
	// double-dispatch.
	s.RegisterIndicatorForQuoteTicks(testInstrumentID(), ind)

	s.OnQuoteTick(types.QuoteTick{InstrumentID: testInstrumentID()})

	if ind.updates != 1 {
		t.Errorf("indicator updated %d times, want 1 (dedup same source)", ind.updates)
	}
	if len(h.quotes) != 1 {
		t.Errorf("handler received %d quote ticks, want 1", len(h.quotes))
	}
	if len(order) != 1 || order[0] != "indicator" {
		t.Errorf("dispatch order = %v, want the indicator updated before the handler", order)
	}
}

type orderTrackingIndicator struct {
	updates  int
	onUpdate func()
}

func (i *orderTrackingIndicator) Name() string       { return "test" }
func (i *orderTrackingIndicator) Initialized() bool  { return true }
func (i *orderTrackingIndicator) HandleQuoteTick(types.QuoteTick) {
	i.updates++
	if i.onUpdate != nil {
		i.onUpdate()
	}
}
func (i *orderTrackingIndicator) HandleTradeTick(types.TradeTick) {}
func (i *orderTrackingIndicator) HandleBar(types.Bar)              {}

func TestClosePositionSubmitsOffsettingMarketOrder(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	s, c, r := newTestStrategy(h)
	s.Start()

	qty, _ := types.ParseQuantity("10", 0)
	posID := types.PositionID{InstrumentID: testInstrumentID(), VenuePosID: testInstrumentID().String()}
	c.AddPosition(&types.Position{ID: posID, Side: types.PositionSideLong, Quantity: qty})

	if err := s.ClosePosition(posID); err != nil {
		t.Fatal(err)
	}
	if len(r.submitted) != 1 || r.submitted[0].Order.Side != types.OrderSideSell {
		t.Fatalf("expected a single offsetting SELL, got %+v", r.submitted)
	}
}
