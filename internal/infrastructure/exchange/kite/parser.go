package kite

import (
	"encoding/binary"
	"time"

	"stradfeed/internal/application/port"
)

// Kite 二进制行情帧：big-endian
//   [int16 packet count] 然后每个 packet 前缀 [int16 length]
// packet 布局（字节）:
//   LTP 模式   8:  token(4) ltp(4)
//   指数 quote 28: token(4) ltp(4) high(4) low(4) open(4) close(4) change(4)
//   指数 full  32: 同上 + exchange ts(4)
//   quote 模式 44: token(4) ltp(4) last_qty(4) avg_price(4) volume(4)
//                  buy_qty(4) sell_qty(4) open(4) high(4) low(4) close(4)
//   full 模式 184: quote 字段 + last_trade_ts / OI / exchange ts + 5 档深度
const (
	packetLenLTP       = 8
	packetLenIndex     = 28
	packetLenIndexFull = 32
	packetLenQuote     = 44
	packetLenFull      = 184

	depthOffset = 64 // full 模式深度区起点
	priceDiv    = 100.0
)

// splitFrame slices one binary websocket frame into raw packets.
// A 1-byte frame is the server heartbeat and yields nothing.
func splitFrame(b []byte) [][]byte {
	if len(b) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(b[0:2]))
	packets := make([][]byte, 0, count)

	off := 2
	for i := 0; i < count; i++ {
		if off+2 > len(b) {
			break
		}
		plen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if off+plen > len(b) {
			break
		}
		packets = append(packets, b[off:off+plen])
		off += plen
	}
	return packets
}

func u32(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off : off+4])
}

func price(b []byte, off int) float64 {
	return float64(int32(u32(b, off))) / priceDiv
}

// parsePacket decodes one packet into a Tick, resolving the instrument token
// to its symbol. Unknown tokens and undersized packets are skipped.
func parsePacket(b []byte, instruments *InstrumentMap, now time.Time) (port.Tick, bool) {
	if len(b) < packetLenLTP {
		return port.Tick{}, false
	}
	symbol, ok := instruments.Symbol(u32(b, 0))
	if !ok {
		return port.Tick{}, false
	}

	tk := port.Tick{
		Symbol: symbol,
		Price:  price(b, 4),
		Ts:     now,
	}

	switch {
	case len(b) == packetLenLTP:
		tk.Kind = port.KindLast

	case len(b) == packetLenIndex || len(b) == packetLenIndexFull:
		// index packets carry OHLC but no volume
		tk.Kind = port.KindLast

	case len(b) >= packetLenQuote:
		tk.Kind = port.KindQuote
		tk.Volume = int64(u32(b, 16))
		if len(b) >= packetLenFull {
			// best bid = first buy depth entry, best ask = first sell entry
			tk.BidPrice = price(b, depthOffset+4)
			tk.AskPrice = price(b, depthOffset+5*12+4)
		}

	default:
		return port.Tick{}, false
	}

	return tk, true
}
