package synthetic

import (
	"time"

	"stradfeed/internal/application/port"
	"stradfeed/internal/domain"
)

// recentDepth 每条腿保留的最近 tick 数（诊断用）
const recentDepth = 5

// legSlot holds the latest known value for one leg. Writes come only from the
// pipeline worker that owns the parent synthetic symbol.
type legSlot struct {
	price  float64
	volume int64
	ts     time.Time
	has    bool // at least one positive price observed

	recent [recentDepth]port.Tick
	rn     int // total ticks recorded
}

func (s *legSlot) record(tk port.Tick) bool {
	s.recent[s.rn%recentDepth] = tk
	s.rn++

	s.volume = tk.Volume
	s.ts = tk.Ts

	// A zero or negative price fails readiness and never replaces a real price:
	// last known good price persists until replaced.
	if tk.Price <= 0 {
		return false
	}
	s.price = tk.Price
	s.has = true
	return true
}

func (s *legSlot) recentTicks() []port.Tick {
	n := s.rn
	if n > recentDepth {
		n = recentDepth
	}
	out := make([]port.Tick, 0, n)
	// oldest first
	start := s.rn - n
	for i := start; i < s.rn; i++ {
		out = append(out, s.recent[i%recentDepth])
	}
	return out
}

// straddleState 单个合成标的的两腿状态，仅由所属 worker 写入
type straddleState struct {
	def Definition
	a   legSlot
	b   legSlot
}

func newStraddleState(def Definition) *straddleState {
	return &straddleState{def: def}
}

// Result is one combined print ready for fan-out.
type Result struct {
	Synthetic string
	Price     float64
	Volume    int64
	LegAPrice float64
	LegBPrice float64
	Ts        time.Time
}

// UpdateLegAndCheckReady updates the one leg slot matching legSymbol and, when
// both legs have delivered at least one price, returns the combined print.
// Combined price is the sum of the last leg prices (a straddle premium);
// combined volume is the larger leg volume. Must only be called by the
// pipeline worker that owns the synthetic symbol.
func (t *Table) UpdateLegAndCheckReady(synthetic, legSymbol string, tk port.Tick) (updated, ready bool, res Result) {
	st := t.states[normalizeSymbol(synthetic)]
	if st == nil {
		return false, false, Result{}
	}

	leg := normalizeSymbol(legSymbol)
	switch leg {
	case st.def.LegA:
		st.a.record(tk)
	case st.def.LegB:
		st.b.record(tk)
	default:
		return false, false, Result{}
	}

	if !(st.a.has && st.b.has) {
		return true, false, Result{}
	}

	res = Result{
		Synthetic: st.def.Synthetic,
		Price:     domain.CombinePremium(st.a.price, st.b.price),
		Volume:    domain.CombineVolume(st.a.volume, st.b.volume),
		LegAPrice: st.a.price,
		LegBPrice: st.b.price,
		Ts:        tk.Ts,
	}
	return true, true, res
}

// RecentTicks returns the diagnostic ring for one leg of a synthetic symbol,
// oldest first. Same ownership rule as UpdateLegAndCheckReady.
func (t *Table) RecentTicks(synthetic, legSymbol string) []port.Tick {
	st := t.states[normalizeSymbol(synthetic)]
	if st == nil {
		return nil
	}
	switch normalizeSymbol(legSymbol) {
	case st.def.LegA:
		return st.a.recentTicks()
	case st.def.LegB:
		return st.b.recentTicks()
	}
	return nil
}

// LegFreshness 返回两腿最近一次更新时间（下游展示每腿新鲜度）
func (t *Table) LegFreshness(synthetic string) (legA, legB time.Time, ok bool) {
	st := t.states[normalizeSymbol(synthetic)]
	if st == nil {
		return time.Time{}, time.Time{}, false
	}
	return st.a.ts, st.b.ts, true
}
