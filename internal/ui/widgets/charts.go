package widgets

import (
	"fmt"
	"math"
	"strings"
)

var blocks = []rune("▁▂▃▄▅▆▇█")

// Spark renders vals scaled against max, sampled evenly to width cells.
// Values at or above max draw as a full block.
func Spark(vals []float64, max float64, width int) string {
	if len(vals) == 0 || width <= 0 || max <= 0 {
		return ""
	}
	if len(vals) < width {
		width = len(vals)
	}
	step := float64(len(vals)) / float64(width)
	var b strings.Builder
	for i := 0; i < width; i++ {
		idx := int(math.Min(float64(len(vals)-1), math.Floor(float64(i)*step)))
		v := clamp01(vals[idx] / max)
		level := int(math.Round(v * float64(len(blocks)-1)))
		if level < 0 {
			level = 0
		}
		if level > len(blocks)-1 {
			level = len(blocks) - 1
		}
		b.WriteRune(blocks[level])
	}
	return b.String()
}

// SparkPercent is Spark over values in 0..100.
func SparkPercent(vals []float64, width int) string {
	return Spark(vals, 100, width)
}

func Bar(v float64, width int) string {
	if width <= 0 {
		return ""
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	v = clamp01(v)

	fill := int(math.Round(v * float64(width)))

	if v > 0 && fill == 0 {
		fill = 1
	}
	if fill > width {
		fill = width
	}

	return strings.Repeat("█", fill) + strings.Repeat(" ", width-fill)
}

// Gauge draws a bar for pct (0..100) followed by the value at two decimals.
func Gauge(pct float64, width int) string {
	return fmt.Sprintf("[%s] %6.2f%%", Bar(pct/100, width), pct)
}

// RangeBar draws pct on a 0..scale axis with the [lo, hi] band marked by
// '┊' where the bar does not cover it.
func RangeBar(pct, lo, hi, scale float64, width int) string {
	if width <= 0 || scale <= 0 {
		return ""
	}
	cells := []rune(Bar(pct/scale, width))
	for _, mark := range []float64{lo, hi} {
		i := int(math.Round(mark / scale * float64(width)))
		if i >= width {
			i = width - 1
		}
		if i >= 0 && cells[i] == ' ' {
			cells[i] = '┊'
		}
	}
	return string(cells)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
