package kite

import (
	"strings"
	"sync"
)

// InstrumentMap 双向映射 symbol <-> Kite instrument token
// 映射表来自配置（原始来源是 Kite 的 instruments dump），稳态只读
type InstrumentMap struct {
	mu       sync.RWMutex
	bySymbol map[string]uint32
	byToken  map[uint32]string
}

func NewInstrumentMap(tokens map[string]uint32) *InstrumentMap {
	m := &InstrumentMap{
		bySymbol: make(map[string]uint32, len(tokens)),
		byToken:  make(map[uint32]string, len(tokens)),
	}
	for symbol, token := range tokens {
		u := strings.ToUpper(strings.TrimSpace(symbol))
		if u == "" || token == 0 {
			continue
		}
		m.bySymbol[u] = token
		m.byToken[token] = u
	}
	return m
}

func (m *InstrumentMap) Token(symbol string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return token, ok
}

func (m *InstrumentMap) Symbol(token uint32) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbol, ok := m.byToken[token]
	return symbol, ok
}

// Tokens resolves the subset of symbols that have a known instrument token.
func (m *InstrumentMap) Tokens(symbols []string) []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint32, 0, len(symbols))
	for _, s := range symbols {
		if token, ok := m.bySymbol[strings.ToUpper(strings.TrimSpace(s))]; ok {
			out = append(out, token)
		}
	}
	return out
}

func (m *InstrumentMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySymbol)
}
