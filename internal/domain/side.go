package domain

// Side of an order leg.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the opposing side, used for neutralization orders.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}
