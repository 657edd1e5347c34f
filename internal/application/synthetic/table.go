package synthetic

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// Definition 合成标的定义：synthetic = legA + legB（跨式组合）
type Definition struct {
	Synthetic string
	LegA      string
	LegB      string
}

// Table is one immutable generation of the leg/synthetic mapping plus the
// per-synthetic state keyspace. A reload builds a whole new Table; readers
// therefore never observe a mix of old and new definitions.
type Table struct {
	defs     map[string]Definition
	legIndex map[string][]string // leg symbol -> synthetic symbols that include it
	states   map[string]*straddleState
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NewTable builds a table from configuration-derived definitions.
func NewTable(defs []Definition) (*Table, error) {
	if len(defs) == 0 {
		return nil, errors.New("no straddle definitions")
	}

	t := &Table{
		defs:     make(map[string]Definition, len(defs)),
		legIndex: make(map[string][]string),
		states:   make(map[string]*straddleState, len(defs)),
	}

	for _, d := range defs {
		def := Definition{
			Synthetic: normalizeSymbol(d.Synthetic),
			LegA:      normalizeSymbol(d.LegA),
			LegB:      normalizeSymbol(d.LegB),
		}
		if def.Synthetic == "" || def.LegA == "" || def.LegB == "" {
			return nil, fmt.Errorf("incomplete straddle definition: %+v", d)
		}
		if def.LegA == def.LegB {
			return nil, fmt.Errorf("straddle %s has identical legs %s", def.Synthetic, def.LegA)
		}
		if _, dup := t.defs[def.Synthetic]; dup {
			return nil, fmt.Errorf("duplicate synthetic symbol: %s", def.Synthetic)
		}

		t.defs[def.Synthetic] = def
		t.legIndex[def.LegA] = append(t.legIndex[def.LegA], def.Synthetic)
		t.legIndex[def.LegB] = append(t.legIndex[def.LegB], def.Synthetic)
		t.states[def.Synthetic] = newStraddleState(def)
	}

	return t, nil
}

// IsLeg is the fast reject used before queueing a tick for combination.
func (t *Table) IsLeg(symbol string) bool {
	_, ok := t.legIndex[normalizeSymbol(symbol)]
	return ok
}

// SyntheticsFor returns the synthetic symbols a leg contributes to.
// Typically one; overlapping straddles in config give more.
func (t *Table) SyntheticsFor(leg string) []string {
	return t.legIndex[normalizeSymbol(leg)]
}

// Definitions returns the definitions keyed by synthetic symbol.
func (t *Table) Definitions() map[string]Definition {
	out := make(map[string]Definition, len(t.defs))
	for k, v := range t.defs {
		out[k] = v
	}
	return out
}

// Synthetics lists all synthetic symbols in this generation.
func (t *Table) Synthetics() []string {
	out := make([]string, 0, len(t.defs))
	for k := range t.defs {
		out = append(out, k)
	}
	return out
}

// Store 持有当前 Table，整表原子替换支持热加载
type Store struct {
	tbl atomic.Pointer[Table]
}

func NewStore(defs []Definition) (*Store, error) {
	t, err := NewTable(defs)
	if err != nil {
		return nil, err
	}
	s := &Store{}
	s.tbl.Store(t)
	return s, nil
}

// Current returns the live table generation. Callers must keep using the same
// pointer for one logical operation rather than re-reading it mid-way.
func (s *Store) Current() *Table {
	return s.tbl.Load()
}

// Reload swaps in a fresh table built from the new definitions. State for
// every synthetic starts empty in the new generation; in-flight ticks routed
// against the old generation keep updating the old (now unreachable) states.
func (s *Store) Reload(defs []Definition) error {
	t, err := NewTable(defs)
	if err != nil {
		return err
	}
	s.tbl.Store(t)
	return nil
}
