package subscription

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stradfeed/internal/application/port"
)

// Callback 行情回调，publisher 协程同步调用
type Callback func(kind port.TickKind, price float64, volume int64, ts time.Time, auxVolume int64)

// Registration is one subscriber registered under a symbol. The host platform
// reuses the same instrument handle for unrelated logical subscribers, so the
// handle is never used for dedup; the ID is the only removal key.
type Registration struct {
	ID           string
	Handle       any
	Callback     Callback
	RegisteredAt time.Time
}

type entry struct {
	mu   sync.Mutex
	regs []Registration

	// cached metadata, set on first registration
	isIndex bool
	handle  any
}

// Registry 按顶层 symbol 维护多个独立订阅者回调
// 不同 symbol 的操作互不竞争（外层锁仅保护 map，列表操作走 entry 级锁）
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	idsMu sync.Mutex
	ids   map[string]string // registration id -> symbol
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		ids:     make(map[string]string),
	}
}

// indexSymbols 指数类标的（无期权后缀、无成交量的指数行情）
var indexSymbols = map[string]struct{}{
	"NIFTY":      {},
	"BANKNIFTY":  {},
	"FINNIFTY":   {},
	"GIFT NIFTY": {},
	"SENSEX":     {},
	"INDIA VIX":  {},
}

func isIndexSymbol(symbol string) bool {
	_, ok := indexSymbols[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}

func (r *Registry) getOrCreate(symbol string) *entry {
	r.mu.RLock()
	e := r.entries[symbol]
	r.mu.RUnlock()
	if e != nil {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.entries[symbol]; e == nil {
		e = &entry{isIndex: isIndexSymbol(symbol)}
		r.entries[symbol] = e
	}
	return e
}

// AddCallback always inserts a new registration. It never merges with an
// existing registration for the same handle: registration is additive.
func (r *Registry) AddCallback(symbol string, handle any, cb Callback) string {
	id := uuid.NewString()
	e := r.getOrCreate(symbol)

	e.mu.Lock()
	if e.handle == nil {
		e.handle = handle
	}
	e.regs = append(e.regs, Registration{
		ID:           id,
		Handle:       handle,
		Callback:     cb,
		RegisteredAt: time.Now(),
	})
	count := len(e.regs)
	e.mu.Unlock()

	r.idsMu.Lock()
	r.ids[id] = symbol
	r.idsMu.Unlock()

	log.Debug().Str("symbol", symbol).Str("id", id).Int("count", count).Msg("callback registered")
	return id
}

// RemoveByID removes exactly one registration. Removing an unknown or already
// removed id returns false and is not an error.
func (r *Registry) RemoveByID(id string) bool {
	r.idsMu.Lock()
	symbol, ok := r.ids[id]
	if ok {
		delete(r.ids, id)
	}
	r.idsMu.Unlock()
	if !ok {
		return false
	}

	r.mu.RLock()
	e := r.entries[symbol]
	r.mu.RUnlock()
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.regs {
		if e.regs[i].ID == id {
			e.regs = append(e.regs[:i], e.regs[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAllForKey removes every registration under a symbol. Only used at full
// teardown; per-consumer unsubscribe deliberately never calls this (or RemoveByID).
func (r *Registry) RemoveAllForKey(symbol string) int {
	r.mu.RLock()
	e := r.entries[symbol]
	r.mu.RUnlock()
	if e == nil {
		return 0
	}

	e.mu.Lock()
	removed := e.regs
	e.regs = nil
	e.mu.Unlock()

	r.idsMu.Lock()
	for _, reg := range removed {
		delete(r.ids, reg.ID)
	}
	r.idsMu.Unlock()

	return len(removed)
}

// Snapshot returns a point-in-time copy safe to iterate without any lock held.
func (r *Registry) Snapshot(symbol string) []Registration {
	r.mu.RLock()
	e := r.entries[symbol]
	r.mu.RUnlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Registration, len(e.regs))
	copy(out, e.regs)
	return out
}

func (r *Registry) Count(symbol string) int {
	r.mu.RLock()
	e := r.entries[symbol]
	r.mu.RUnlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.regs)
}

func (r *Registry) HasAny(symbol string) bool {
	return r.Count(symbol) > 0
}

// IsIndex reports the cached index-symbol flag for a symbol entry.
func (r *Registry) IsIndex(symbol string) bool {
	r.mu.RLock()
	e := r.entries[symbol]
	r.mu.RUnlock()
	if e == nil {
		return isIndexSymbol(symbol)
	}
	return e.isIndex
}

// Publish fans one update out to every registration under the symbol.
// Copy-then-iterate: a slow or reentrant callback can never stall a concurrent
// add/remove, and every callback in the snapshot fires exactly once.
func (r *Registry) Publish(symbol string, kind port.TickKind, price float64, volume int64, ts time.Time, auxVolume int64) int {
	regs := r.Snapshot(symbol)
	for _, reg := range regs {
		reg.Callback(kind, price, volume, ts, auxVolume)
	}
	return len(regs)
}

// Close clears all entries. Called on adapter shutdown only.
func (r *Registry) Close() {
	r.mu.Lock()
	n := len(r.entries)
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	r.idsMu.Lock()
	r.ids = make(map[string]string)
	r.idsMu.Unlock()

	log.Info().Int("symbols", n).Msg("subscription registry cleared")
}
