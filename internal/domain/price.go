package domain

// Direction represents the price movement direction
type Direction int

const (
	DirectionSame Direction = 0
	DirectionUp   Direction = +1
	DirectionDown Direction = -1
)

// PriceState holds the state of a single price point
type PriceState struct {
	Number    float64
	HasValue  bool
	Direction Direction
}

// Update updates the price state with a new price value
func (ps *PriceState) Update(price float64) bool {
	if !ps.HasValue {
		ps.HasValue = true
		ps.Number = price
		ps.Direction = DirectionSame
		return true
	}

	if price == ps.Number {
		ps.Direction = DirectionSame
		return false
	}

	if price > ps.Number {
		ps.Direction = DirectionUp
	} else {
		ps.Direction = DirectionDown
	}
	ps.Number = price
	return true
}
