package adapters

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradekernel/pkg/types"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testInstrumentID() types.InstrumentID { return types.InstrumentID{Symbol: "ETHUSD", Venue: "SIM"} }

func testOrder() *types.Order {
	price := mustPrice("100.00")
	return &types.Order{
		ClientOrderID: "CID-1",
		InstrumentID:  testInstrumentID(),
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeLimit,
		Quantity:      mustQty("10"),
		Price:         &price,
	}
}

func mustPrice(s string) types.Price { p, _ := types.ParsePrice(s, 2); return p }
func mustQty(s string) types.Quantity { q, _ := types.ParseQuantity(s, 0); return q }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*RESTExecClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewRESTExecClient(RESTConfig{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		OrdersPerSec: 1000,
		OrdersBurst:  1000,
	}, testLogger())
	return c, srv
}

func TestRESTExecClientSubmitOrder(t *testing.T) {
	t.Parallel()

	var gotPath, gotMethod string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	})

	if err := c.SubmitOrder(context.Background(), testOrder()); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/orders" {
		t.Errorf("got %s %s, want POST /orders", gotMethod, gotPath)
	}
}

func TestRESTExecClientSubmitOrderErrorStatus(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	})

	if err := c.SubmitOrder(context.Background(), testOrder()); err == nil {
		t.Error("expected an error for a non-200 response")
	}
}

func TestRESTExecClientModifyAndCancelOrder(t *testing.T) {
	t.Parallel()

	var modifyPath, cancelPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			modifyPath = r.URL.Path
		case http.MethodDelete:
			cancelPath = r.URL.Path
		}
		w.WriteHeader(http.StatusOK)
	})

	price := mustPrice("101.00")
	if err := c.ModifyOrder(context.Background(), types.ModifyOrder{ClientOrderID: "CID-1", Price: &price}); err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if modifyPath != "/orders/CID-1" {
		t.Errorf("modify path = %q, want /orders/CID-1", modifyPath)
	}

	if err := c.CancelOrder(context.Background(), types.CancelOrder{ClientOrderID: "CID-1"}); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelPath != "/orders/CID-1" {
		t.Errorf("cancel path = %q, want /orders/CID-1", cancelPath)
	}
}

func TestRESTExecClientGenerateOrderStatusReport(t *testing.T) {
	t.Parallel()

	want := []OrderStatusReport{
		{ClientOrderID: "CID-1", InstrumentID: testInstrumentID(), Status: types.OrderStatusAccepted, FilledQty: mustQty("0")},
	}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("instrument"); got != testInstrumentID().String() {
			t.Errorf("instrument query param = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(want)
	})

	got, err := c.GenerateOrderStatusReport(context.Background(), testInstrumentID())
	if err != nil {
		t.Fatalf("GenerateOrderStatusReport: %v", err)
	}
	if len(got) != 1 || got[0].ClientOrderID != "CID-1" {
		t.Errorf("got %+v, want one report for CID-1", got)
	}
}

func TestRESTExecClientConnectDisconnectAreNoops(t *testing.T) {
	t.Parallel()

	c := NewRESTExecClient(RESTConfig{BaseURL: "http://unused.invalid", OrdersPerSec: 1, OrdersBurst: 1}, testLogger())
	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("Connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
}
