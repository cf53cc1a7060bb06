// Package exchange implements the SimulatedExchange venue model: a
// LatencyModel-delayed command queue, a FillModel for seeded slippage, and
// OCO/OTO bracket resolution, per-instrument books, and account updates.
package exchange

import (
	"container/heap"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradekernel/internal/book"
	"tradekernel/pkg/types"
)

// Command is the union of venue-facing instructions the exchange accepts.
type Command struct {
	Submit     *types.SubmitOrder
	SubmitList *types.SubmitOrderList
	Modify     *types.ModifyOrder
	Cancel     *types.CancelOrder
	CancelAll  *types.CancelAllOrders
	arrivalNs  int64
	effectiveNs int64
	seq        int
}

// LatencyModel delays command application by a fixed, configured duration
// per command kind; the delay has no random component.
type LatencyModel struct {
	InsertLatency time.Duration
	UpdateLatency time.Duration
	CancelLatency time.Duration
}

func (m LatencyModel) latencyFor(c *Command) time.Duration {
	switch {
	case c.Submit != nil, c.SubmitList != nil:
		return m.InsertLatency
	case c.Modify != nil:
		return m.UpdateLatency
	default:
		return m.CancelLatency
	}
}

// FillModel decides whether a fill slips a tick (ProbSlippage), deterministic
// for a given RandomSeed. ProbFillOnLimit and ProbFillOnStop are held but not
// consulted by the matching path (shouldFill has no caller): every marketable
// quantity fills.
type FillModel struct {
	ProbFillOnLimit float64
	ProbFillOnStop  float64
	ProbSlippage    float64
	RandomSeed      int64

	rng *rand.Rand
}

func (m *FillModel) rand() *rand.Rand {
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(m.RandomSeed))
	}
	return m.rng
}

// shouldFill answers whether a conditional/limit fill opportunity actually
// fills this trial, consulting the relevant probability.
func (m *FillModel) shouldFill(onStop bool) bool {
	p := m.ProbFillOnLimit
	if onStop {
		p = m.ProbFillOnStop
	}
	if p <= 0 {
		return true
	}
	return m.rand().Float64() < p
}

// slips answers whether this fill should slip one tick against the taker.
func (m *FillModel) slips() bool {
	if m.ProbSlippage <= 0 {
		return false
	}
	return m.rand().Float64() < m.ProbSlippage
}

// commandQueue is a min-heap ordered by (effective time, sequence).
type commandQueue []*Command

func (q commandQueue) Len() int { return len(q) }
func (q commandQueue) Less(i, j int) bool {
	if q[i].effectiveNs != q[j].effectiveNs {
		return q[i].effectiveNs < q[j].effectiveNs
	}
	return q[i].seq < q[j].seq
}
func (q commandQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *commandQueue) Push(x any)        { *q = append(*q, x.(*Command)) }
func (q *commandQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// EventSink receives every order/position/account event the exchange
// produces, in generation order. The ExecutionEngine implements this.
type EventSink interface {
	OnOrderEvent(instrumentID types.InstrumentID, event any)
}

// Exchange is the SimulatedExchange described in spec §4.5.
type Exchange struct {
	mu sync.Mutex

	oms          types.OMSType
	accountType  types.AccountType
	baseCurrency string
	isFrozen     bool

	latency LatencyModel
	fill    FillModel

	books    map[types.InstrumentID]*book.Book
	accounts map[string]*types.Account

	// bracket bookkeeping: child order id -> bracket group
	brackets     map[types.OrderListID]*bracketGroup
	childToGroup map[types.ClientOrderID]types.OrderListID
	orders       map[types.ClientOrderID]*types.Order

	queue   commandQueue
	nextSeq int
	nowNs   int64

	sink   EventSink
	logger *slog.Logger
}

type bracketGroup struct {
	entry        types.ClientOrderID
	stopLoss     types.ClientOrderID
	takeProfit   types.ClientOrderID
	positionID   types.PositionID
}

// Config configures a new Exchange instance, mirroring the BacktestEngine
// venue configuration surface from spec §6.
type Config struct {
	OMSType      types.OMSType
	AccountType  types.AccountType
	BaseCurrency string
	IsFrozen     bool
	Latency      LatencyModel
	Fill         FillModel
}

// New constructs an Exchange. logger is tagged component=exchange.
func New(cfg Config, sink EventSink, logger *slog.Logger) *Exchange {
	return &Exchange{
		oms:          cfg.OMSType,
		accountType:  cfg.AccountType,
		baseCurrency: cfg.BaseCurrency,
		isFrozen:     cfg.IsFrozen,
		latency:      cfg.Latency,
		fill:         cfg.Fill,
		books:        make(map[types.InstrumentID]*book.Book),
		accounts:     make(map[string]*types.Account),
		brackets:     make(map[types.OrderListID]*bracketGroup),
		childToGroup: make(map[types.ClientOrderID]types.OrderListID),
		orders:       make(map[types.ClientOrderID]*types.Order),
		sink:         sink,
		logger:       logger.With("component", "exchange"),
	}
}

// RegisterInstrument gives the exchange a book for instrument.
func (e *Exchange) RegisterInstrument(inst types.Instrument) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.books[inst.ID] = book.NewBook(inst)
}

// RegisterAccount adds the account this exchange settles fills against.
func (e *Exchange) RegisterAccount(acct *types.Account) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts[acct.ID] = acct
}

// Submit enqueues a SubmitOrder command, stamping its arrival time and
// latency-adjusted effective time.
func (e *Exchange) Submit(cmd types.SubmitOrder, arrivalNs int64) {
	e.enqueue(&Command{Submit: &cmd, arrivalNs: arrivalNs}, arrivalNs)
}

// SubmitList enqueues a bracket/group submission.
func (e *Exchange) SubmitList(cmd types.SubmitOrderList, arrivalNs int64) {
	e.enqueue(&Command{SubmitList: &cmd, arrivalNs: arrivalNs}, arrivalNs)
}

// Modify enqueues a ModifyOrder command.
func (e *Exchange) Modify(cmd types.ModifyOrder, arrivalNs int64) {
	e.enqueue(&Command{Modify: &cmd, arrivalNs: arrivalNs}, arrivalNs)
}

// Cancel enqueues a CancelOrder command.
func (e *Exchange) Cancel(cmd types.CancelOrder, arrivalNs int64) {
	e.enqueue(&Command{Cancel: &cmd, arrivalNs: arrivalNs}, arrivalNs)
}

// CancelAll enqueues a CancelAllOrders command.
func (e *Exchange) CancelAll(cmd types.CancelAllOrders, arrivalNs int64) {
	e.enqueue(&Command{CancelAll: &cmd, arrivalNs: arrivalNs}, arrivalNs)
}

func (e *Exchange) enqueue(c *Command, arrivalNs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c.seq = e.nextSeq
	e.nextSeq++
	c.effectiveNs = arrivalNs + e.latency.latencyFor(c).Nanoseconds()
	heap.Push(&e.queue, c)
}

// Process advances the venue clock to ts and drains every command whose
// effective time has arrived. It does not evaluate conditional-order
// triggers; those are evaluated as ticks arrive, in OnQuoteTick and
// OnTradeTick.
func (e *Exchange) Process(ts int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nowNs = ts
	for e.queue.Len() > 0 && e.queue[0].effectiveNs <= ts {
		c := heap.Pop(&e.queue).(*Command)
		e.applyCommand(c)
	}
}

// OnQuoteTick feeds a quote to the named instrument's book and promotes any
// conditional orders the quote triggers. Resting LIMIT orders are not
// matched against quotes; only trade ticks (OnTradeTick) sweep them.
func (e *Exchange) OnQuoteTick(q types.QuoteTick) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bk, ok := e.books[q.InstrumentID]
	if !ok {
		return
	}
	triggered := bk.OnQuoteTick(q)
	for _, id := range triggered {
		e.promoteTriggered(bk, id)
	}
}

// OnTradeTick feeds a trade to the named instrument's book, sweeping
// resting orders it crosses and firing last-trade-referenced triggers.
func (e *Exchange) OnTradeTick(t types.TradeTick) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bk, ok := e.books[t.InstrumentID]
	if !ok {
		return
	}
	triggered := bk.OnTradeTick(t)
	for _, id := range triggered {
		e.promoteTriggered(bk, id)
	}
	fills := bk.MatchRestingAgainstTrade(t)
	for _, f := range fills {
		e.applyFill(f, t.InstrumentID)
	}
}

// promoteTriggered moves a just-triggered conditional order from dormant to
// working: it emits OrderTriggered, then matches it against current
// liquidity as its underlying effective type (MARKET or LIMIT).
func (e *Exchange) promoteTriggered(bk *book.Book, id types.ClientOrderID) {
	o := e.orders[id]
	if o == nil {
		return
	}
	o.Status = types.OrderStatusTriggered
	e.sink.OnOrderEvent(o.InstrumentID, types.OrderTriggered{ClientOrderID: o.ClientOrderID, InstrumentID: o.InstrumentID, TsEvent: e.now()})

	fills, reject := bk.MatchTriggered(o)
	if reject != nil {
		o.Status = types.OrderStatusRejected
		e.emitRejected(o, string(*reject))
		e.collapseBracketOnTerminal(o)
		return
	}
	if len(fills) == 0 && o.HasPrice() {
		o.Status = types.OrderStatusAccepted
		e.sink.OnOrderEvent(o.InstrumentID, types.OrderAccepted{ClientOrderID: o.ClientOrderID, InstrumentID: o.InstrumentID, TsEvent: e.now()})
	}
	for _, f := range fills {
		e.applyFill(f, o.InstrumentID)
	}
}

func (e *Exchange) applyCommand(c *Command) {
	switch {
	case c.Submit != nil:
		e.submitOne(c.Submit.Order, "", "")
	case c.SubmitList != nil:
		e.submitBracket(c.SubmitList.OrderList)
	case c.Modify != nil:
		e.modifyOne(*c.Modify)
	case c.Cancel != nil:
		e.cancelOne(c.Cancel.ClientOrderID, c.Cancel.InstrumentID)
	case c.CancelAll != nil:
		e.cancelAllFor(c.CancelAll.InstrumentID, c.CancelAll.Side)
	}
}

func (e *Exchange) submitOne(o *types.Order, listID types.OrderListID, parent types.ClientOrderID) {
	bk, ok := e.books[o.InstrumentID]
	if !ok {
		e.emitRejected(o, "UNKNOWN_INSTRUMENT")
		return
	}
	o.OrderListID = listID
	o.ParentOrderID = parent
	e.orders[o.ClientOrderID] = o

	fills, reject := bk.Submit(o)
	if reject != nil {
		o.Status = types.OrderStatusRejected
		e.emitRejected(o, string(*reject))
		e.collapseBracketOnTerminal(o)
		return
	}
	o.Status = types.OrderStatusAccepted
	e.sink.OnOrderEvent(o.InstrumentID, types.OrderAccepted{
		ClientOrderID: o.ClientOrderID, InstrumentID: o.InstrumentID, TsEvent: e.now(),
	})
	for _, f := range fills {
		e.applyFill(f, o.InstrumentID)
	}
}

// submitBracket implements the OCO/OTO wiring from spec §4.5: the entry
// submits normally; both children are parked SUBMITTED (held) regardless of
// book state until the entry fills.
func (e *Exchange) submitBracket(list *types.OrderList) {
	if len(list.Orders) != 3 {
		e.logger.Error("bracket order list must have exactly 3 orders", "list_id", list.ID)
		return
	}
	entry, sl, tp := list.Orders[0], list.Orders[1], list.Orders[2]
	entry.Contingency = types.ContingencyOTO
	sl.Contingency = types.ContingencyOCO
	tp.Contingency = types.ContingencyOCO
	sl.LinkedOrderIDs = []types.ClientOrderID{tp.ClientOrderID}
	tp.LinkedOrderIDs = []types.ClientOrderID{sl.ClientOrderID}

	grp := &bracketGroup{entry: entry.ClientOrderID, stopLoss: sl.ClientOrderID, takeProfit: tp.ClientOrderID}
	e.brackets[list.ID] = grp
	e.childToGroup[sl.ClientOrderID] = list.ID
	e.childToGroup[tp.ClientOrderID] = list.ID
	e.childToGroup[entry.ClientOrderID] = list.ID

	sl.Status = types.OrderStatusSubmitted
	tp.Status = types.OrderStatusSubmitted
	e.orders[sl.ClientOrderID] = sl
	e.orders[tp.ClientOrderID] = tp
	e.sink.OnOrderEvent(sl.InstrumentID, types.OrderSubmitted{ClientOrderID: sl.ClientOrderID, InstrumentID: sl.InstrumentID, TsEvent: e.now()})
	e.sink.OnOrderEvent(tp.InstrumentID, types.OrderSubmitted{ClientOrderID: tp.ClientOrderID, InstrumentID: tp.InstrumentID, TsEvent: e.now()})

	e.submitOne(entry, list.ID, "")
}

// collapseBracketOnTerminal rejects/cancels an entry's children when the
// entry itself terminates without filling.
func (e *Exchange) collapseBracketOnTerminal(entry *types.Order) {
	listID, ok := e.childToGroup[entry.ClientOrderID]
	if !ok {
		return
	}
	grp := e.brackets[listID]
	if grp == nil || grp.entry != entry.ClientOrderID {
		return
	}
	for _, childID := range []types.ClientOrderID{grp.stopLoss, grp.takeProfit} {
		child, ok := e.orders[childID]
		if !ok || child.IsClosed() {
			continue
		}
		if entry.Status == types.OrderStatusRejected {
			child.Status = types.OrderStatusRejected
			e.emitRejected(child, "PARENT_REJECTED")
		} else {
			child.Status = types.OrderStatusCanceled
			e.sink.OnOrderEvent(child.InstrumentID, types.OrderCanceled{ClientOrderID: child.ClientOrderID, InstrumentID: child.InstrumentID, TsEvent: e.now()})
		}
	}
}

// activateBracketChildren promotes SUBMITTED children to ACCEPTED and posts
// them to the book once the entry fills.
func (e *Exchange) activateBracketChildren(entryID types.ClientOrderID) {
	listID, ok := e.childToGroup[entryID]
	if !ok {
		return
	}
	grp := e.brackets[listID]
	if grp == nil {
		return
	}
	for _, childID := range []types.ClientOrderID{grp.stopLoss, grp.takeProfit} {
		child := e.orders[childID]
		if child == nil || child.Status != types.OrderStatusSubmitted {
			continue
		}
		bk := e.books[child.InstrumentID]
		fills, reject := bk.Submit(child)
		if reject != nil {
			child.Status = types.OrderStatusRejected
			e.emitRejected(child, string(*reject))
			continue
		}
		child.Status = types.OrderStatusAccepted
		e.sink.OnOrderEvent(child.InstrumentID, types.OrderAccepted{ClientOrderID: child.ClientOrderID, InstrumentID: child.InstrumentID, TsEvent: e.now()})
		for _, f := range fills {
			e.applyFill(f, child.InstrumentID)
		}
	}
}

// resolveOCOOnFill cancels the OCO peer when a child is fully filled or
// canceled and, when a child is only partially filled, sets the peer's
// quantity to the child's remaining open quantity instead.
func (e *Exchange) resolveOCOOnFill(filledID types.ClientOrderID) {
	listID, ok := e.childToGroup[filledID]
	if !ok {
		return
	}
	grp := e.brackets[listID]
	if grp == nil {
		return
	}
	var peerID types.ClientOrderID
	switch filledID {
	case grp.stopLoss:
		peerID = grp.takeProfit
	case grp.takeProfit:
		peerID = grp.stopLoss
	default:
		return
	}
	filled := e.orders[filledID]
	peer := e.orders[peerID]
	if peer == nil || peer.IsClosed() {
		return
	}
	if filled.LeavesQty().IsZero() || filled.Status == types.OrderStatusCanceled {
		bk := e.books[peer.InstrumentID]
		bk.Cancel(peer.ClientOrderID)
		peer.Status = types.OrderStatusCanceled
		e.sink.OnOrderEvent(peer.InstrumentID, types.OrderCanceled{ClientOrderID: peer.ClientOrderID, InstrumentID: peer.InstrumentID, TsEvent: e.now()})
		return
	}
	// Partial fill of filledID leaves an open position; shrink peer to match.
	e.reduceOCOPeerQuantity(peer, filled.LeavesQty())
}

// reduceOCOPeerQuantity sets the peer's quantity to newOpenQty at the peer's
// own quantity precision and reports the change as OrderModified.
func (e *Exchange) reduceOCOPeerQuantity(peer *types.Order, newOpenQty types.Quantity) {
	peer.Quantity = types.NewQuantity(newOpenQty.Decimal(), peer.Quantity.Precision())
	e.sink.OnOrderEvent(peer.InstrumentID, types.OrderModified{
		ClientOrderID: peer.ClientOrderID, InstrumentID: peer.InstrumentID,
		Quantity: &peer.Quantity, TsEvent: e.now(),
	})
}

func (e *Exchange) applyFill(f book.Fill, instrumentID types.InstrumentID) {
	o := e.orders[f.ClientOrderID]
	if o == nil {
		e.logger.Warn("fill for unknown order dropped", "client_order_id", f.ClientOrderID)
		return
	}
	price := f.Price
	if e.fill.slips() {
		price = slipOneTick(price, o.Side)
	}

	o.FilledQty = o.FilledQty.Add(f.Qty)
	if o.FilledQty.GreaterThanOrEqual(o.Quantity) {
		o.Status = types.OrderStatusFilled
	} else {
		o.Status = types.OrderStatusPartiallyFilled
	}

	e.sink.OnOrderEvent(instrumentID, types.OrderFilled{
		ClientOrderID: o.ClientOrderID, VenueOrderID: o.VenueOrderID, InstrumentID: instrumentID,
		Side: o.Side, FillQty: f.Qty, FillPrice: price, LiquiditySide: f.LiquiditySide, TsEvent: e.now(),
	})

	if o.Status == types.OrderStatusFilled {
		e.activateBracketChildren(o.ClientOrderID)
	}
	e.resolveOCOOnFill(o.ClientOrderID)
}

func slipOneTick(p types.Price, side types.OrderSide) types.Price {
	tick := decimal.New(1, -p.Precision())
	if side == types.OrderSideBuy {
		return p.Add(types.NewPrice(tick, p.Precision()))
	}
	return p.Sub(types.NewPrice(tick, p.Precision()))
}

func (e *Exchange) modifyOne(cmd types.ModifyOrder) {
	o := e.orders[cmd.ClientOrderID]
	if o == nil || o.IsClosed() {
		e.logger.Warn("modify on unknown or terminal order dropped", "client_order_id", cmd.ClientOrderID)
		return
	}
	bk := e.books[o.InstrumentID]
	bk.Cancel(o.ClientOrderID)
	if cmd.Price != nil {
		o.Price = cmd.Price
	}
	if cmd.Quantity != nil {
		o.Quantity = *cmd.Quantity
	}
	fills, reject := bk.Submit(o)
	if reject != nil {
		o.Status = types.OrderStatusRejected
		e.emitRejected(o, string(*reject))
		return
	}
	e.sink.OnOrderEvent(o.InstrumentID, types.OrderModified{
		ClientOrderID: o.ClientOrderID, InstrumentID: o.InstrumentID,
		Price: o.Price, Quantity: &o.Quantity, TsEvent: e.now(),
	})
	for _, f := range fills {
		e.applyFill(f, o.InstrumentID)
	}
	// Keep the OCO peer's quantity synced if this was a manual child resize.
	if listID, ok := e.childToGroup[o.ClientOrderID]; ok {
		if grp := e.brackets[listID]; grp != nil && cmd.Quantity != nil {
			peerID := grp.stopLoss
			if o.ClientOrderID == grp.stopLoss {
				peerID = grp.takeProfit
			}
			if peer := e.orders[peerID]; peer != nil && !peer.IsClosed() {
				e.reduceOCOPeerQuantity(peer, *cmd.Quantity)
			}
		}
	}
}

func (e *Exchange) cancelOne(id types.ClientOrderID, instrumentID types.InstrumentID) {
	o := e.orders[id]
	if o == nil || o.IsClosed() {
		e.logger.Warn("cancel on unknown or terminal order dropped", "client_order_id", id)
		return
	}
	bk := e.books[instrumentID]
	bk.Cancel(id)
	o.Status = types.OrderStatusCanceled
	e.sink.OnOrderEvent(instrumentID, types.OrderCanceled{ClientOrderID: id, InstrumentID: instrumentID, TsEvent: e.now()})
	e.resolveOCOOnFill(id) // a user-initiated cancel of one child also collapses its peer
	e.collapseBracketOnTerminal(o)
}

func (e *Exchange) cancelAllFor(instrumentID types.InstrumentID, side *types.OrderSide) {
	for id, o := range e.orders {
		if o.InstrumentID != instrumentID || o.IsClosed() {
			continue
		}
		if side != nil && o.Side != *side {
			continue
		}
		e.cancelOne(id, instrumentID)
	}
}

// ClosePosition cancels both OCO peers tied to a bracket once its position
// is flattened by any means (spec §4.5 "position fully closed").
func (e *Exchange) ClosePosition(entryID types.ClientOrderID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	listID, ok := e.childToGroup[entryID]
	if !ok {
		return
	}
	grp := e.brackets[listID]
	if grp == nil {
		return
	}
	for _, childID := range []types.ClientOrderID{grp.stopLoss, grp.takeProfit} {
		child := e.orders[childID]
		if child == nil || child.IsClosed() {
			continue
		}
		bk := e.books[child.InstrumentID]
		bk.Cancel(childID)
		child.Status = types.OrderStatusCanceled
		e.sink.OnOrderEvent(child.InstrumentID, types.OrderCanceled{ClientOrderID: childID, InstrumentID: child.InstrumentID, TsEvent: e.now()})
	}
}

// ReduceOpenQuantity shrinks both OCO peers of entryID to newOpenQty when
// the position is reduced by an external order rather than a child fill.
func (e *Exchange) ReduceOpenQuantity(entryID types.ClientOrderID, newOpenQty types.Quantity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	listID, ok := e.childToGroup[entryID]
	if !ok {
		return
	}
	grp := e.brackets[listID]
	if grp == nil {
		return
	}
	for _, childID := range []types.ClientOrderID{grp.stopLoss, grp.takeProfit} {
		if child := e.orders[childID]; child != nil && !child.IsClosed() {
			e.reduceOCOPeerQuantity(child, newOpenQty)
		}
	}
}

func (e *Exchange) emitRejected(o *types.Order, reason string) {
	e.sink.OnOrderEvent(o.InstrumentID, types.OrderRejected{ClientOrderID: o.ClientOrderID, InstrumentID: o.InstrumentID, Reason: reason, TsEvent: e.now()})
}

func (e *Exchange) now() time.Time { return time.Unix(0, e.nowNs).UTC() }

// OpenOrders returns every order this exchange currently has resting, for
// test/reporting inspection.
func (e *Exchange) OpenOrders() []*types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*types.Order
	for _, o := range e.orders {
		if o.IsOpen() {
			out = append(out, o)
		}
	}
	return out
}

// DebitCredit updates one currency balance of an account per call: it
// applies delta, deducts commission, and for CASH accounts rejects draws
// past the free balance.
func (e *Exchange) DebitCredit(accountID string, currency string, delta types.Money, commission types.Money) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.accounts[accountID]
	if acct == nil {
		return fmt.Errorf("unknown account %s", accountID)
	}
	bal := acct.Balances[currency]
	if bal.Currency == "" {
		bal.Currency = currency
		bal.Free = types.NewMoney(decimal.Zero, currency)
		bal.Locked = types.NewMoney(decimal.Zero, currency)
		bal.Total = types.NewMoney(decimal.Zero, currency)
	}
	newFree := types.NewMoney(bal.Free.Decimal().Add(delta.Decimal()).Sub(commission.Decimal()), currency)
	if e.accountType == types.AccountTypeCash && newFree.IsNegative() && !acct.AllowCashShorts {
		return fmt.Errorf("insufficient balance: %w", errInsufficientBalance)
	}
	bal.Free = newFree
	bal.Total = types.NewMoney(bal.Free.Decimal().Add(bal.Locked.Decimal()), currency)
	acct.Balances[currency] = bal
	return nil
}

var errInsufficientBalance = fmt.Errorf("INSUFFICIENT_BALANCE")
