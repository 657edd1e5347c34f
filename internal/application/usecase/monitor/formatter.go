package monitor

import (
	"fmt"
	"strings"

	"stradfeed/internal/domain"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

type Formatter struct{}

func NewFormatter() *Formatter {
	return &Formatter{}
}

type RenderMode int

const (
	RenderLive RenderMode = iota
	RenderSnapshot
)

func (f *Formatter) Render(b *Board, mode RenderMode) string {
	snap := b.Snapshot()
	symbols := b.Symbols()

	var sb strings.Builder
	if mode == RenderLive {
		sb.WriteString("\r")
	}

	sb.WriteString(colorize("[STRAD] ", ansiDim))

	for i, sym := range symbols {
		if i > 0 {
			sb.WriteString(colorize("  ||  ", ansiDim))
		}
		ss := snap[sym]

		px := "--"
		col := ansiYellow
		if ss.Price.HasValue {
			px = fmt.Sprintf("%.2f", ss.Price.Number)
			switch ss.Price.Direction {
			case domain.DirectionUp:
				col = ansiGreen
			case domain.DirectionDown:
				col = ansiRed
			default:
				col = ansiYellow
			}
		}

		legs := "A:-- B:--"
		if ss.Price.HasValue {
			legs = fmt.Sprintf("A:%.2f B:%.2f", ss.LegAPrice, ss.LegBPrice)
		}

		sb.WriteString(sym)
		sb.WriteString(" ")
		sb.WriteString(colorize(px, col))
		sb.WriteString(" ")
		sb.WriteString(colorize(legs, ansiDim))
	}

	if mode == RenderLive {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}
