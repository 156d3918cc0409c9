package mapper

import "github.com/lucasb-eyer/go-colorful"

// RandomColor returns a random #rrggbb color for a new series.
func RandomColor() string {
	return colorful.FastHappyColor().Hex()
}
