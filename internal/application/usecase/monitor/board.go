package monitor

import (
	"strings"
	"sync"
	"time"

	"stradfeed/internal/application/synthetic"
	"stradfeed/internal/domain"
)

// SynthDisplay 单个合成标的的展示状态
type SynthDisplay struct {
	Price      domain.PriceState
	Volume     int64
	LegAPrice  float64
	LegBPrice  float64
	LastUpdate time.Time
}

// Board 合成标的价格看板（展示层状态，与流水线内部状态分离）
type Board struct {
	mu     sync.Mutex
	order  []string
	synths map[string]*SynthDisplay
}

func NewBoard(synthetics []string) *Board {
	order := make([]string, 0, len(synthetics))
	synths := make(map[string]*SynthDisplay, len(synthetics))
	for _, s := range synthetics {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		order = append(order, u)
		synths[u] = &SynthDisplay{}
	}
	return &Board{order: order, synths: synths}
}

func (b *Board) Symbols() []string {
	return b.order
}

// Apply 应用一条合成价格，返回展示是否需要刷新
func (b *Board) Apply(res synthetic.Result) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.synths[res.Synthetic]
	if st == nil {
		return false
	}

	changed := st.Price.Update(res.Price)
	st.Volume = res.Volume
	st.LegAPrice = res.LegAPrice
	st.LegBPrice = res.LegBPrice
	st.LastUpdate = res.Ts
	return changed
}

func (b *Board) Snapshot() map[string]SynthDisplay {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]SynthDisplay, len(b.synths))
	for k, v := range b.synths {
		out[k] = *v
	}
	return out
}
