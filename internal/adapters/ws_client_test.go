package adapters

import (
	"encoding/json"
	"testing"
	"time"

	"tradekernel/pkg/types"
)

func TestWSDataClientDispatchRoutesByType(t *testing.T) {
	t.Parallel()

	c := NewWSDataClient(WSConfig{URL: "ws://unused.invalid"}, testLogger())

	quotePayload, _ := json.Marshal(types.QuoteTick{InstrumentID: testInstrumentID(), BidPrice: mustPrice("100.00"), AskPrice: mustPrice("100.10")})
	c.dispatch(wireMessage{Type: "quote_tick", Payload: quotePayload})

	select {
	case q := <-c.QuoteTicks():
		if q.InstrumentID != testInstrumentID() {
			t.Errorf("got instrument %v, want %v", q.InstrumentID, testInstrumentID())
		}
	case <-time.After(time.Second):
		t.Fatal("expected a quote tick on the channel")
	}

	tradePayload, _ := json.Marshal(types.TradeTick{InstrumentID: testInstrumentID(), Price: mustPrice("100.05")})
	c.dispatch(wireMessage{Type: "trade_tick", Payload: tradePayload})

	select {
	case tr := <-c.TradeTicks():
		if tr.InstrumentID != testInstrumentID() {
			t.Errorf("got instrument %v, want %v", tr.InstrumentID, testInstrumentID())
		}
	case <-time.After(time.Second):
		t.Fatal("expected a trade tick on the channel")
	}
}

func TestWSDataClientDispatchDropsMalformedAndUnknown(t *testing.T) {
	t.Parallel()

	c := NewWSDataClient(WSConfig{URL: "ws://unused.invalid"}, testLogger())

	c.dispatch(wireMessage{Type: "quote_tick", Payload: json.RawMessage(`not json`)})
	c.dispatch(wireMessage{Type: "something_else", Payload: json.RawMessage(`{}`)})

	select {
	case <-c.QuoteTicks():
		t.Error("expected no quote tick to be queued")
	default:
	}
}

func TestWSDataClientSubscribeBeforeConnectDoesNotBlock(t *testing.T) {
	t.Parallel()

	c := NewWSDataClient(WSConfig{URL: "ws://unused.invalid"}, testLogger())
	// No connection yet: sendSubscribe must no-op rather than panic or block,
	// since subscriptions are replayed on connect/reconnect instead.
	if err := c.SubscribeQuoteTicks(nil, []types.InstrumentID{testInstrumentID()}); err != nil {
		t.Errorf("SubscribeQuoteTicks before connect: %v", err)
	}
	if err := c.SubscribeBars(nil, []types.BarType{{InstrumentID: testInstrumentID()}}); err != nil {
		t.Errorf("SubscribeBars before connect: %v", err)
	}
}
