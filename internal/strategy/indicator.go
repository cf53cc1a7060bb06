package strategy

import "tradekernel/pkg/types"

// Indicator is updated on whichever market-data sources it is registered
// for. Initialized flips true once the indicator has seen enough data to
// produce a meaningful value (e.g. an EMA after its period's worth of bars),
// mirroring the original's warm-up contract.
type Indicator interface {
	Name() string
	Initialized() bool
	HandleQuoteTick(types.QuoteTick)
	HandleTradeTick(types.TradeTick)
	HandleBar(types.Bar)
}

// indicatorRegistry fans registered market-data sources out to indicators,
// deduplicating an indicator registered twice on the same source while still
// feeding it from every distinct source it is registered on, per spec §4.8.
type indicatorRegistry struct {
	quoteTick map[types.InstrumentID][]Indicator
	tradeTick map[types.InstrumentID][]Indicator
	bar       map[types.BarType][]Indicator
}

func newIndicatorRegistry() *indicatorRegistry {
	return &indicatorRegistry{
		quoteTick: make(map[types.InstrumentID][]Indicator),
		tradeTick: make(map[types.InstrumentID][]Indicator),
		bar:       make(map[types.BarType][]Indicator),
	}
}

func registerOnce(list []Indicator, ind Indicator) []Indicator {
	for _, existing := range list {
		if existing == ind {
			return list
		}
	}
	return append(list, ind)
}

// registerForQuoteTicks subscribes ind to an instrument's quote tick stream.
func (r *indicatorRegistry) registerForQuoteTicks(id types.InstrumentID, ind Indicator) {
	r.quoteTick[id] = registerOnce(r.quoteTick[id], ind)
}

// registerForTradeTicks subscribes ind to an instrument's trade tick stream.
func (r *indicatorRegistry) registerForTradeTicks(id types.InstrumentID, ind Indicator) {
	r.tradeTick[id] = registerOnce(r.tradeTick[id], ind)
}

// registerForBars subscribes ind to a bar series.
func (r *indicatorRegistry) registerForBars(bt types.BarType, ind Indicator) {
	r.bar[bt] = registerOnce(r.bar[bt], ind)
}

// dispatchQuoteTick updates every indicator registered for q's instrument.
// Called before the strategy's own OnQuoteTick hook, per spec §4.8's
// pre-dispatch ordering.
func (r *indicatorRegistry) dispatchQuoteTick(q types.QuoteTick) {
	for _, ind := range r.quoteTick[q.InstrumentID] {
		ind.HandleQuoteTick(q)
	}
}

func (r *indicatorRegistry) dispatchTradeTick(tr types.TradeTick) {
	for _, ind := range r.tradeTick[tr.InstrumentID] {
		ind.HandleTradeTick(tr)
	}
}

func (r *indicatorRegistry) dispatchBar(b types.Bar) {
	for _, ind := range r.bar[b.Type] {
		ind.HandleBar(b)
	}
}
