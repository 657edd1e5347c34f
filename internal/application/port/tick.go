package port

import "time"

// TickKind 行情类型
type TickKind int

const (
	KindLast TickKind = iota
	KindBid
	KindAsk
	KindQuote
	KindTrade
)

func (k TickKind) String() string {
	switch k {
	case KindLast:
		return "LAST"
	case KindBid:
		return "BID"
	case KindAsk:
		return "ASK"
	case KindQuote:
		return "QUOTE"
	case KindTrade:
		return "TRADE"
	default:
		return "UNKNOWN"
	}
}

// Tick 单个标的的一次行情更新，构造后不可变
type Tick struct {
	Symbol   string    // "NIFTY24000CE"
	Kind     TickKind  // Last/Bid/Ask/Quote/Trade
	Price    float64   // last traded price
	Volume   int64     // cumulative traded volume
	Ts       time.Time // exchange/feed timestamp
	BidPrice float64   // optional, 0 when absent
	AskPrice float64   // optional, 0 when absent
}
